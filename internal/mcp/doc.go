// Package mcp exposes the council hub as MCP tools over stdio.
//
// Tools consult the oracle and the full council, start and list ceremonies,
// read the field, and search the wisdom archive. A tool_search tool lets
// clients discover tools by name, description or keyword.
package mcp
