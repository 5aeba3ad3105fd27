// Package mcpserver exposes the analysis service as MCP tools, so LLM
// agents can pay for and consume risk analyses directly.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("rugdetector", "2.0.0")
	client := NewDetectorClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolCheckContract, h.HandleCheckContract)
	s.AddTool(ToolVerifyProof, h.HandleVerifyProof)
	s.AddTool(ToolGetPaymentInfo, h.HandleGetPaymentInfo)

	return s
}
