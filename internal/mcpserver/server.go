package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all guardian tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("upi-guardian", "1.0.0")
	client := NewGuardianClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolAnalyzeMessage, h.HandleAnalyzeMessage)
	s.AddTool(ToolAnalyzeTransaction, h.HandleAnalyzeTransaction)
	s.AddTool(ToolAskGuardian, h.HandleAskGuardian)
	s.AddTool(ToolListTrustedBanks, h.HandleListTrustedBanks)
	s.AddTool(ToolAssessmentHistory, h.HandleAssessmentHistory)

	return s
}
