package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/shopspring/decimal"

	"github.com/mbd888/guardian/internal/guardian"
	"github.com/mbd888/guardian/internal/orchestrator"
	"github.com/mbd888/guardian/internal/registry"
	"github.com/mbd888/guardian/internal/risk"
	"github.com/mbd888/guardian/internal/validation"
)

const defaultHistoryLimit = 10

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *GuardianClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *GuardianClient) *Handlers {
	return &Handlers{client: client}
}

// HandleAnalyzeMessage scores a message for scam markers.
func (h *Handlers) HandleAnalyzeMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := req.GetString("text", "")
	if strings.TrimSpace(text) == "" {
		return mcp.NewToolResultError("text is required"), nil
	}
	deep := req.GetBool("deep", false)

	raw, err := h.client.AnalyzeMessage(ctx, guardian.MessageRequest{
		MessageID: req.GetString("message_id", ""),
		Text:      text,
	}, deep)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to analyze message: %v", err)), nil
	}

	var res guardian.MessageResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessment: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString(formatAssessment(res.Assessment))
	if res.Aggregate != nil {
		sb.WriteString("\n")
		sb.WriteString(formatAggregate(*res.Aggregate))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleAnalyzeTransaction scores a payment.
func (h *Handlers) HandleAnalyzeTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawAmount := strings.TrimSpace(req.GetString("amount", ""))
	if rawAmount == "" {
		return mcp.NewToolResultError("amount is required"), nil
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(rawAmount, ",", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("amount must be a number, got %q", rawAmount)), nil
	}

	entityID := req.GetString("entity_id", "")
	if errs := validation.Validate(
		validation.ValidAmount("amount", &amount),
		validation.ValidEntity("entity_id", entityID),
	); len(errs) > 0 {
		return mcp.NewToolResultError(errs.Error()), nil
	}

	raw, err := h.client.AnalyzeTransaction(ctx, guardian.TransactionRequest{
		EntityID: entityID,
		Transaction: risk.TransactionInput{
			Amount:    &amount,
			Timestamp: req.GetString("timestamp", ""),
			Location:  req.GetString("location", ""),
			Merchant:  req.GetString("merchant", ""),
			Notes:     req.GetString("notes", ""),
		},
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to analyze transaction: %v", err)), nil
	}

	var res guardian.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessment: %v", err)), nil
	}
	return mcp.NewToolResultText(formatAssessment(res.Assessment)), nil
}

// HandleAskGuardian runs a free-form query through every analyzer.
func (h *Handlers) HandleAskGuardian(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	var qctx map[string]any
	if raw := req.GetArguments()["context"]; raw != nil {
		if m, ok := raw.(map[string]any); ok {
			qctx = m
		}
	}

	raw, err := h.client.Ask(ctx, query, qctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to run analysis: %v", err)), nil
	}

	var resp orchestrator.AggregateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse verdict: %v", err)), nil
	}
	return mcp.NewToolResultText(formatAggregate(resp)), nil
}

// HandleListTrustedBanks lists the bank registry.
func (h *Handlers) HandleListTrustedBanks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListBanks(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list banks: %v", err)), nil
	}

	var resp struct {
		Banks []registry.Entry `json:"banks"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse banks: %v", err)), nil
	}
	if len(resp.Banks) == 0 {
		return mcp.NewToolResultText("No trusted banks configured."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Trusted banks (%d):\n\n", len(resp.Banks))
	for i, b := range resp.Banks {
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, b.Name, b.CanonicalDomain)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleAssessmentHistory lists recent assessments for an entity.
func (h *Handlers) HandleAssessmentHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entityID := req.GetString("entity_id", "")
	if entityID != "" && !validation.IsValidEntityID(entityID) {
		return mcp.NewToolResultError("entity_id is not a valid account identifier"), nil
	}
	limit := req.GetInt("limit", defaultHistoryLimit)

	raw, err := h.client.History(ctx, entityID, limit, req.GetString("cursor", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get history: %v", err)), nil
	}

	var resp struct {
		EntityID    string                `json:"entity_id"`
		Assessments []risk.RiskAssessment `json:"assessments"`
		NextCursor  string                `json:"next_cursor"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse history: %v", err)), nil
	}
	if len(resp.Assessments) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No assessments recorded for %s.", resp.EntityID)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Recent assessments for %s:\n\n", resp.EntityID)
	for i, a := range resp.Assessments {
		fmt.Fprintf(&sb, "%d. [%s] %s %s score %d (%s)\n",
			i+1, a.EvaluatedAt.Format("2006-01-02 15:04"), a.Kind, a.SubjectID, a.Score, a.Level)
	}
	if resp.NextCursor != "" {
		fmt.Fprintf(&sb, "\nMore available, pass cursor %q.\n", resp.NextCursor)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// --- formatting ---

func formatAssessment(a risk.RiskAssessment) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Risk Assessment (%s %s):\n", a.Kind, a.SubjectID)
	fmt.Fprintf(&sb, "  Score: %d/100\n", a.Score)
	fmt.Fprintf(&sb, "  Level: %s\n", a.Level)
	if a.SafeToProceed {
		sb.WriteString("  Safe to proceed: YES\n")
	} else {
		sb.WriteString("  Safe to proceed: NO\n")
	}
	sb.WriteString("  Signals:\n")
	for _, s := range a.Signals {
		fmt.Fprintf(&sb, "    - %s\n", s)
	}
	return sb.String()
}

func formatAggregate(resp orchestrator.AggregateResponse) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Verdict: %s\n", resp.Verdict)
	fmt.Fprintf(&sb, "%s\n", resp.Summary)
	for _, d := range resp.Details {
		fmt.Fprintf(&sb, "\n%s: %s (confidence %.2f)\n", d.AnalyzerName, d.Verdict, d.Confidence)
		if d.Analysis != "" {
			fmt.Fprintf(&sb, "  %s\n", indent(d.Analysis))
		}
	}
	return sb.String()
}

func indent(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "\n", "\n  ")
}
