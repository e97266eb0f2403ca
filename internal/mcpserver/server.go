package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all DealDesk tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("dealdesk", "1.0.0")
	client := NewDealDeskClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolGetDeal, h.HandleGetDeal)
	s.AddTool(ToolListDeals, h.HandleListDeals)
	s.AddTool(ToolGetDispute, h.HandleGetDispute)
	s.AddTool(ToolListOpenDisputes, h.HandleListOpenDisputes)
	s.AddTool(ToolGetReputation, h.HandleGetReputation)

	return s
}
