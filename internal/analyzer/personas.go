package analyzer

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/mbd888/guardian/internal/circuitbreaker"
	"github.com/mbd888/guardian/internal/risk"
)

// Default analyzer names, as reported in agent_details.
const (
	FraudAgentName         = "FraudAgent"
	ScamAgentName          = "ScamAgent"
	HeuristicScamAgentName = "HeuristicScamAgent"
)

const fraudPersona = "You are a financial fraud detection expert specialising in UPI payments in India. " +
	"Analyze the following transaction or query for potential fraud indicators: unusually large or round amounts, " +
	"bursts of payments, unknown merchants or locations, and requests to share credentials."

const scamPersona = "You are a social engineering and scam detection expert. " +
	"Analyze the following message or scenario for patterns of scams (e.g., phishing, lottery fraud, distress scams, " +
	"fake bank alerts and links that impersonate a bank)."

const fewShot = `Examples:

1. Message: "Your account XXXX1234 has been credited with ₹5,000 on 07-Dec-2025. Thank you for banking with HDFC Bank."
Output: {"confidence": 0.9, "analysis": "Routine credit alert with no link or request.", "verdict": "SAFE"}

2. Message: "Urgent: Verify your account XXXX1234 by clicking http://bank-secure.xyz"
Output: {"confidence": 0.7, "analysis": "Urgency and an unregistered link asking for verification.", "verdict": "SUSPICIOUS"}

3. Message: "Your account XXXX1234 has been debited with ₹50,000. Click here to verify immediately: http://fakebank.link OTP:123456"
Output: {"confidence": 0.95, "analysis": "Fake debit alert with an unregistered link, a large amount and an OTP.", "verdict": "DANGER"}

4. Message: "Congratulations! You won a reward of ₹10,000. Redeem now: http://fake-rewards.link Enter your account and OTP."
Output: {"confidence": 0.9, "analysis": "Reward scam asking for account details and OTP via an unregistered link.", "verdict": "DANGER"}`

const responseContract = `Respond with JSON ONLY, with the following keys:
- "confidence": float (0.0 to 1.0)
- "analysis": string (explanation)
- "verdict": string ("SAFE", "SUSPICIOUS", "DANGER")`

func buildPrompt(persona, query string, qctx map[string]any) string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\n")
	b.WriteString(fewShot)
	b.WriteString("\n\nQuery: ")
	b.WriteString(query)
	if len(qctx) > 0 {
		// encoding/json sorts map keys, so the prompt is stable.
		if ctxJSON, err := json.Marshal(qctx); err == nil {
			b.WriteString("\nContext: ")
			b.Write(ctxJSON)
		}
	}
	b.WriteString("\n\n")
	b.WriteString(responseContract)
	return b.String()
}

// NewFraudAgent returns the fraud-expert generative analyzer.
func NewFraudAgent(cfg GenerativeConfig, breaker *circuitbreaker.Breaker, fallback Analyzer, logger *slog.Logger) *Generative {
	return NewGenerative(FraudAgentName, fraudPersona, cfg, breaker, fallback, logger)
}

// NewScamAgent returns the social-engineering generative analyzer.
func NewScamAgent(cfg GenerativeConfig, breaker *circuitbreaker.Breaker, fallback Analyzer, logger *slog.Logger) *Generative {
	return NewGenerative(ScamAgentName, scamPersona, cfg, breaker, fallback, logger)
}

// NewHeuristicScamAgent returns the local rule-based analyzer.
func NewHeuristicScamAgent(scorer *risk.ScamScorer) *Local {
	return NewLocal(HeuristicScamAgentName, scorer)
}

// Defaults builds the standard analyzer set: FraudAgent, ScamAgent and
// HeuristicScamAgent, in that order. Both generative analyzers fall back to
// the heuristic one.
func Defaults(cfg GenerativeConfig, scorer *risk.ScamScorer, breaker *circuitbreaker.Breaker, logger *slog.Logger) []Analyzer {
	local := NewHeuristicScamAgent(scorer)
	return []Analyzer{
		NewFraudAgent(cfg, breaker, local, logger),
		NewScamAgent(cfg, breaker, local, logger),
		local,
	}
}
