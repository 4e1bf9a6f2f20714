package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the guardian MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolAnalyzeMessage = mcp.NewTool("analyze_message",
	mcp.WithDescription(
		"Check an SMS, chat or email for UPI scam markers: urgency and reward keywords, "+
			"links that are not a trusted bank's official domain, large rupee amounts, and bank names "+
			"paired with a mismatched link. Returns a risk score (0-100), level (LOW/MEDIUM/HIGH), "+
			"and whether it is safe to proceed."),
	mcp.WithString("text",
		mcp.Required(),
		mcp.Description("The full message text, including any links")),
	mcp.WithString("message_id",
		mcp.Description("Optional identifier for the message (e.g. the SMS ID)")),
	mcp.WithBoolean("deep",
		mcp.Description("Also ask every analyzer, including the generative ones, and include their combined verdict")),
)

var ToolAnalyzeTransaction = mcp.NewTool("analyze_transaction",
	mcp.WithDescription(
		"Score a UPI payment for fraud. The payment is added to the entity's recent history, so "+
			"bursts of payments and repeated identical amounts are detected across calls."),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount in rupees (e.g. '45000' or '250.75')")),
	mcp.WithString("merchant",
		mcp.Description("Merchant or payee name")),
	mcp.WithString("location",
		mcp.Description("Where the payment was made (city, or 'Abroad')")),
	mcp.WithString("notes",
		mcp.Description("Free-text payment notes or remarks")),
	mcp.WithString("timestamp",
		mcp.Description("ISO 8601 time of the payment. Defaults to now.")),
	mcp.WithString("entity_id",
		mcp.Description("Account or VPA whose history this payment belongs to (e.g. 'alice@okhdfc')")),
)

var ToolAskGuardian = mcp.NewTool("ask_guardian",
	mcp.WithDescription(
		"Ask every fraud and scam analyzer about a free-form situation and get a combined verdict "+
			"(SAFE, SUSPICIOUS, DANGER, or UNKNOWN) with each analyzer's reasoning."),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("Describe the message, payment, or request you want checked")),
	mcp.WithObject("context",
		mcp.Description("Optional extra facts, e.g. {\"sender\": \"VM-HDFCBK\", \"channel\": \"sms\"}")),
)

var ToolListTrustedBanks = mcp.NewTool("list_trusted_banks",
	mcp.WithDescription(
		"List the banks whose official domains are trusted. Links to any other domain are treated as suspicious."),
)

var ToolAssessmentHistory = mcp.NewTool("assessment_history",
	mcp.WithDescription(
		"Show recent risk assessments recorded for an account, most recent first."),
	mcp.WithString("entity_id",
		mcp.Description("Account or VPA to look up. Defaults to the configured entity.")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of assessments to return (default 10)")),
	mcp.WithString("cursor",
		mcp.Description("Cursor from a previous call, to fetch the next page")),
)
