package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/councild/internal/services"
)

// Server is an MCP server over the hub's components.
type Server struct {
	mcp          *mcp.Server
	registry     services.Registry
	toolRegistry *ToolRegistry
	metrics      *toolMetrics
	logger       *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "councild")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "councild",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server and registers every tool.
func NewServer(cfg *Config, registry services.Registry) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if registry.Council() == nil {
		return nil, fmt.Errorf("council is required")
	}
	if registry.Ceremonies() == nil {
		return nil, fmt.Errorf("ceremony orchestrator is required")
	}
	if registry.Field() == nil {
		return nil, fmt.Errorf("field tracker is required")
	}
	// archive is optional; wisdom_search reports it as disabled

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		registry:     registry,
		toolRegistry: NewToolRegistry(),
		metrics:      newToolMetrics(otel.Meter(instrumentationName), cfg.Logger),
		logger:       cfg.Logger.Named("mcp"),
	}

	s.registerTools()
	return s, nil
}

// Run serves the MCP protocol on stdio until ctx is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport", zap.Int("tools", s.toolRegistry.Count()))
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Tools returns the tool registry.
func (s *Server) Tools() *ToolRegistry {
	return s.toolRegistry
}
