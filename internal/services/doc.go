// Package services provides the service registry shared by the HTTP API and
// the MCP server.
//
// The registry hands out the hub's components (ceremony orchestrator,
// council, field tracker, scheduler, wisdom archive, event bus) and the
// inbox that accepts chat messages from outside the transport.
package services
