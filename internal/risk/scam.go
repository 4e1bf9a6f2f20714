package risk

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mbd888/guardian/internal/registry"
)

var (
	linkPattern = regexp.MustCompile(`https?://\S+`)
	// ₹ / Rs / Rs. / INR followed by digits with optional separators and paise.
	amountPattern = regexp.MustCompile(`(?i)(?:₹|\bRs\.?|\bINR)\s?\d[\d,]*(?:\.\d+)?`)
	amountDigits  = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
)

// ScamRules parameterizes the message rules.
type ScamRules struct {
	Keywords      []string
	KeywordWeight int

	UnregisteredLinkWeight int

	LargeAmount       decimal.Decimal
	LargeAmountWeight int

	BankMismatchWeight int
}

// DefaultScamRules returns the production rule set.
func DefaultScamRules() ScamRules {
	return ScamRules{
		Keywords: []string{
			"click here", "verify", "urgent", "password", "otp",
			"redeem", "reward", "win", "prize", "congratulations",
		},
		KeywordWeight:          15,
		UnregisteredLinkWeight: 25,
		LargeAmount:            decimal.NewFromInt(10000),
		LargeAmountWeight:      20,
		BankMismatchWeight:     15,
	}
}

// AmountToken is a currency amount found in text.
type AmountToken struct {
	Raw   string
	Value decimal.Decimal
}

// ScamScorer scores free text for scam markers against a trusted bank
// registry. It is pure: the same text and registry give the same result.
type ScamScorer struct {
	registry *registry.Registry
	rules    ScamRules
	logger   *slog.Logger
}

// NewScamScorer creates a scorer backed by reg.
func NewScamScorer(reg *registry.Registry, logger *slog.Logger) *ScamScorer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ScamScorer{registry: reg, rules: DefaultScamRules(), logger: logger}
}

// WithRules overrides the rule set.
func (s *ScamScorer) WithRules(r ScamRules) *ScamScorer {
	s.rules = r
	return s
}

// Registry returns the registry links are checked against.
func (s *ScamScorer) Registry() *registry.Registry { return s.registry }

// Score evaluates text. Any internal failure yields the fail-open assessment.
func (s *ScamScorer) Score(ctx context.Context, text string) RiskAssessment {
	a, err := s.scoreMessage(text)
	if err != nil {
		s.logger.WarnContext(ctx, "message scoring failed, returning fail-open assessment", "error", err)
		return Fallback(KindMessage, "")
	}
	return a
}

func (s *ScamScorer) scoreMessage(text string) (a RiskAssessment, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in scam rules: %v", r)
		}
	}()

	if s.registry == nil {
		return RiskAssessment{}, fmt.Errorf("no bank registry configured")
	}

	r := s.rules
	lower := strings.ToLower(text)
	var signals []Signal

	for _, kw := range r.Keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			signals = append(signals, Signal{
				Description: "Keyword detected: " + kw,
				Weight:      r.KeywordWeight,
			})
		}
	}

	links := ExtractLinks(text)
	unregistered := 0
	for _, link := range links {
		if s.registry.IsTrustedHost(linkHost(link)) {
			signals = append(signals, Signal{Description: "Valid bank link detected: " + link})
			continue
		}
		// Only the first unregistered link carries weight.
		weight := 0
		if unregistered == 0 {
			weight = r.UnregisteredLinkWeight
		}
		unregistered++
		signals = append(signals, Signal{
			Description: "Suspicious or unregistered link detected: " + link,
			Weight:      weight,
		})
	}

	for _, amt := range ExtractAmounts(text) {
		if amt.Value.GreaterThan(r.LargeAmount) {
			signals = append(signals, Signal{
				Description: "Large transaction detected: " + amt.Raw,
				Weight:      r.LargeAmountWeight,
			})
		}
	}

	for _, bank := range s.registry.Entries() {
		if !strings.Contains(lower, strings.ToLower(bank.Name)) {
			continue
		}
		for _, link := range links {
			if !strings.Contains(strings.ToLower(link), bank.CanonicalDomain) {
				signals = append(signals, Signal{
					Description: fmt.Sprintf("Bank mentioned: %s, but link does not match official URL.", bank.Name),
					Weight:      r.BankMismatchWeight,
				})
			}
		}
	}

	return assess(KindMessage, "", signals), nil
}

// ExtractLinks returns every http(s) link in text, in order of appearance.
func ExtractLinks(text string) []string {
	return linkPattern.FindAllString(text, -1)
}

// ExtractAmounts returns the currency amounts in text. Tokens whose digits
// do not parse are skipped.
func ExtractAmounts(text string) []AmountToken {
	var out []AmountToken
	for _, raw := range amountPattern.FindAllString(text, -1) {
		digits := strings.ReplaceAll(amountDigits.FindString(raw), ",", "")
		v, err := decimal.NewFromString(digits)
		if err != nil {
			continue
		}
		out = append(out, AmountToken{Raw: raw, Value: v})
	}
	return out
}

// linkHost returns the lowercased host of a link, or "" if it cannot be parsed.
func linkHost(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
