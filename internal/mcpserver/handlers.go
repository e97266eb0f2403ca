package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *DealDeskClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *DealDeskClient) *Handlers {
	return &Handlers{client: client}
}

// HandleGetDeal fetches one deal.
func (h *Handlers) HandleGetDeal(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dealID := req.GetString("deal_id", "")
	if dealID == "" {
		return mcp.NewToolResultError("deal_id is required"), nil
	}

	raw, err := h.client.GetDeal(ctx, dealID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get deal: %v", err)), nil
	}

	text, err := formatDeal(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse deal: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListDeals lists the trader's deals.
func (h *Handlers) HandleListDeals(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := req.GetString("status", "")
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListDeals(ctx, status, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list deals: %v", err)), nil
	}

	text, err := formatDealList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse deals: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetDispute fetches one dispute.
func (h *Handlers) HandleGetDispute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	disputeID := req.GetString("dispute_id", "")
	if disputeID == "" {
		return mcp.NewToolResultError("dispute_id is required"), nil
	}

	raw, err := h.client.GetDispute(ctx, disputeID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get dispute: %v", err)), nil
	}

	text, err := formatDispute(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse dispute: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListOpenDisputes lists the arbitration queue.
func (h *Handlers) HandleListOpenDisputes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListOpenDisputes(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list disputes: %v", err)), nil
	}

	text, err := formatDisputeList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse disputes: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetReputation returns the reputation score for a trader.
func (h *Handlers) HandleGetReputation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	raw, err := h.client.GetReputation(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get reputation: %v", err)), nil
	}

	text, err := formatReputation(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse reputation: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// -----------------------------------------------------------------------------
// Formatting
// -----------------------------------------------------------------------------

type dealView struct {
	ID            string  `json:"id"`
	BuyerID       string  `json:"buyerId"`
	SellerID      string  `json:"sellerId"`
	Amount        string  `json:"amount"`
	Price         string  `json:"price"`
	TotalFiat     string  `json:"totalFiat"`
	Status        string  `json:"status"`
	OnChainDealID *uint64 `json:"onChainDealId"`
	LastTxHash    string  `json:"lastTxHash"`
	ExpiresAt     string  `json:"expiresAt"`
}

func formatDeal(raw json.RawMessage) (string, error) {
	var resp struct {
		Deal dealView `json:"deal"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	return dealLine(resp.Deal, true), nil
}

func formatDealList(raw json.RawMessage) (string, error) {
	var resp struct {
		Deals []dealView `json:"deals"`
		Count int        `json:"count"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Count == 0 {
		return "No deals found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d deal(s):\n\n", resp.Count)
	for _, d := range resp.Deals {
		sb.WriteString(dealLine(d, false))
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func dealLine(d dealView, detailed bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Deal %s [%s]\n", d.ID, d.Status)
	fmt.Fprintf(&sb, "  %s crypto @ %s = %s INR\n", d.Amount, d.Price, d.TotalFiat)
	fmt.Fprintf(&sb, "  Buyer: %s  Seller: %s\n", d.BuyerID, d.SellerID)
	if detailed {
		if d.OnChainDealID != nil {
			fmt.Fprintf(&sb, "  Escrow: on-chain deal #%d\n", *d.OnChainDealID)
		} else {
			sb.WriteString("  Escrow: not yet funded\n")
		}
		if d.LastTxHash != "" {
			fmt.Fprintf(&sb, "  Last tx: %s\n", d.LastTxHash)
		}
		if d.ExpiresAt != "" {
			fmt.Fprintf(&sb, "  Expires: %s\n", d.ExpiresAt)
		}
	}
	return sb.String()
}

type disputeView struct {
	ID               string `json:"id"`
	DealID           string `json:"dealId"`
	OpenedBy         string `json:"openedBy"`
	Reason           string `json:"reason"`
	Status           string `json:"status"`
	Winner           string `json:"winner"`
	Notes            string `json:"notes"`
	ResolutionTxHash string `json:"resolutionTxHash"`
}

func formatDispute(raw json.RawMessage) (string, error) {
	var resp struct {
		Dispute disputeView `json:"dispute"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	return disputeLine(resp.Dispute), nil
}

func formatDisputeList(raw json.RawMessage) (string, error) {
	var resp struct {
		Disputes []disputeView `json:"disputes"`
		Count    int           `json:"count"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Count == 0 {
		return "No open disputes.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d open dispute(s):\n\n", resp.Count)
	for _, dp := range resp.Disputes {
		sb.WriteString(disputeLine(dp))
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func disputeLine(dp disputeView) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Dispute %s [%s] on deal %s\n", dp.ID, dp.Status, dp.DealID)
	fmt.Fprintf(&sb, "  Opened by: %s\n", dp.OpenedBy)
	fmt.Fprintf(&sb, "  Reason: %s\n", dp.Reason)
	if dp.Winner != "" {
		fmt.Fprintf(&sb, "  Decision: favor %s", dp.Winner)
		if dp.Notes != "" {
			fmt.Fprintf(&sb, " (%s)", dp.Notes)
		}
		sb.WriteString("\n")
	}
	if dp.ResolutionTxHash != "" {
		fmt.Fprintf(&sb, "  Payout tx: %s\n", dp.ResolutionTxHash)
	}
	return sb.String()
}

func formatReputation(raw json.RawMessage) (string, error) {
	var resp struct {
		Reputation struct {
			UserID         string `json:"userId"`
			Score          int    `json:"score"`
			Tier           string `json:"tier"`
			CompletedDeals int    `json:"completedDeals"`
			PositiveDeals  int    `json:"positiveDeals"`
		} `json:"reputation"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	r := resp.Reputation
	var sb strings.Builder
	fmt.Fprintf(&sb, "Trader %s\n", r.UserID)
	fmt.Fprintf(&sb, "  Score: %d/100 (%s)\n", r.Score, r.Tier)
	fmt.Fprintf(&sb, "  Completed deals: %d (%d rated positive)\n", r.CompletedDeals, r.PositiveDeals)
	return sb.String(), nil
}

func formatJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
