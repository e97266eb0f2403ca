package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the DealDesk MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetDeal = mcp.NewTool("get_deal",
	mcp.WithDescription(
		"Fetch one of your P2P deals by id. "+
			"Shows status, amounts, the on-chain escrow link, expiry, and ratings."),
	mcp.WithString("deal_id",
		mcp.Required(),
		mcp.Description("The deal id (e.g. 'deal_a1b2c3')")),
)

var ToolListDeals = mcp.NewTool("list_deals",
	mcp.WithDescription(
		"List your deals on DealDesk, newest first. "+
			"Optionally filter by status to find deals needing action."),
	mcp.WithString("status",
		mcp.Description("Filter by status"),
		mcp.Enum("initiated", "funded", "payment_sent", "completed", "disputed", "cancelled", "expired")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of deals to return (default 20)")),
)

var ToolGetDispute = mcp.NewTool("get_dispute",
	mcp.WithDescription(
		"Fetch a dispute by id. Shows who opened it, the reason, the "+
			"arbitrator's decision if made, and the on-chain payout status."),
	mcp.WithString("dispute_id",
		mcp.Required(),
		mcp.Description("The dispute id (e.g. 'dispute_a1b2c3')")),
)

var ToolListOpenDisputes = mcp.NewTool("list_open_disputes",
	mcp.WithDescription(
		"List disputes awaiting arbitration, oldest first."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of disputes to return (default 20)")),
)

var ToolGetReputation = mcp.NewTool("get_reputation",
	mcp.WithDescription(
		"Get the reputation score and tier for any trader on DealDesk. "+
			"Shows completed deal count, positive ratings, and trust tier "+
			"(new/emerging/established/trusted/elite)."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The trader's user id")),
)
