package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates an MCP server with the smoke test tool registered on reg.
func NewServer(version string, reg *Registry, h *Handler, log *slog.Logger) (*server.MCPServer, error) {
	s := server.NewMCPServer(
		"triflow-smoke",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	res, err := Register(reg, s, h)
	if err != nil {
		log.Error("tool registration failed", "tool", ToolName, "error", err)
		return nil, err
	}
	log.Info("tool registration", "tool", ToolName, "result", res.String())
	return s, nil
}
