package risk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FraudRules parameterizes the transaction rules.
type FraudRules struct {
	HighValue       decimal.Decimal
	HighValueWeight int

	RapidCount  int
	RapidSpan   time.Duration
	RapidWeight int

	UnusualMerchants []string
	MerchantWeight   int

	SuspiciousLocations []string
	LocationWeight      int

	RoundFloor  decimal.Decimal
	RoundUnit   decimal.Decimal
	RoundWeight int

	RepeatCount  int
	RepeatWeight int

	NoteKeywords  []string
	KeywordWeight int
}

// DefaultFraudRules returns the production rule set.
func DefaultFraudRules() FraudRules {
	return FraudRules{
		HighValue:       decimal.NewFromInt(20000),
		HighValueWeight: 40,

		RapidCount:  3,
		RapidSpan:   5 * time.Minute,
		RapidWeight: 20,

		UnusualMerchants: []string{"Unknown Merchant", "Random Shop", "Suspicious Store"},
		MerchantWeight:   20,

		SuspiciousLocations: []string{"Abroad", "Unknown City"},
		LocationWeight:      20,

		RoundFloor:  decimal.NewFromInt(5000),
		RoundUnit:   decimal.NewFromInt(1000),
		RoundWeight: 10,

		RepeatCount:  5,
		RepeatWeight: 15,

		NoteKeywords:  []string{"verify", "urgent", "password", "otp", "click here"},
		KeywordWeight: 10,
	}
}

// FraudScorer scores a transaction against its entity's recent window.
// It holds no state of its own.
type FraudScorer struct {
	rules  FraudRules
	logger *slog.Logger
}

// NewFraudScorer creates a scorer with the default rules.
func NewFraudScorer(logger *slog.Logger) *FraudScorer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FraudScorer{rules: DefaultFraudRules(), logger: logger}
}

// WithRules overrides the rule set.
func (f *FraudScorer) WithRules(r FraudRules) *FraudScorer {
	f.rules = r
	return f
}

// Score evaluates tx. window is the entity's history with tx already
// appended as its last element. Any internal failure yields the fail-open
// assessment.
func (f *FraudScorer) Score(ctx context.Context, tx Transaction, window []Transaction) RiskAssessment {
	a, err := f.scoreTransaction(tx, window)
	if err != nil {
		f.logger.WarnContext(ctx, "transaction scoring failed, returning fail-open assessment",
			"tx_id", tx.ID, "error", err)
		return Fallback(KindTransaction, tx.ID)
	}
	return a
}

func (f *FraudScorer) scoreTransaction(tx Transaction, window []Transaction) (a RiskAssessment, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in fraud rules: %v", r)
		}
	}()

	if len(window) == 0 || !sameTransaction(window[len(window)-1], tx) {
		return RiskAssessment{}, ErrWindowMismatch
	}

	r := f.rules
	var signals []Signal

	if tx.Amount.GreaterThan(r.HighValue) {
		signals = append(signals, Signal{
			Description: fmt.Sprintf("High-value transaction: ₹%s", tx.Amount.String()),
			Weight:      r.HighValueWeight,
		})
	}

	if rapid(window, r.RapidCount, r.RapidSpan) {
		signals = append(signals, Signal{
			Description: fmt.Sprintf("Multiple transactions within %d minutes", int(r.RapidSpan.Minutes())),
			Weight:      r.RapidWeight,
		})
	}

	if containsExact(r.UnusualMerchants, tx.Merchant) {
		signals = append(signals, Signal{
			Description: "Unusual merchant: " + tx.Merchant,
			Weight:      r.MerchantWeight,
		})
	}

	if containsExact(r.SuspiciousLocations, tx.Location) {
		signals = append(signals, Signal{
			Description: "Suspicious location: " + tx.Location,
			Weight:      r.LocationWeight,
		})
	}

	if tx.Amount.GreaterThan(r.RoundFloor) && tx.Amount.Mod(r.RoundUnit).IsZero() {
		signals = append(signals, Signal{
			Description: "Round-number transaction amount",
			Weight:      r.RoundWeight,
		})
	}

	if repeated(window, r.RepeatCount) {
		signals = append(signals, Signal{
			Description: "Repeated identical amounts detected",
			Weight:      r.RepeatWeight,
		})
	}

	notes := strings.ToLower(tx.Notes)
	for _, kw := range r.NoteKeywords {
		if strings.Contains(notes, strings.ToLower(kw)) {
			signals = append(signals, Signal{
				Description: "Suspicious keyword in notes: " + kw,
				Weight:      r.KeywordWeight,
			})
		}
	}

	return assess(KindTransaction, tx.ID, signals), nil
}

// rapid reports whether the last n transactions all fall inside span.
// Timestamps may arrive out of order, so the spread is max minus min.
func rapid(window []Transaction, n int, span time.Duration) bool {
	if n < 2 || len(window) < n {
		return false
	}
	last := window[len(window)-n:]
	earliest, latest := last[0].Timestamp, last[0].Timestamp
	for _, tx := range last[1:] {
		if tx.Timestamp.Before(earliest) {
			earliest = tx.Timestamp
		}
		if tx.Timestamp.After(latest) {
			latest = tx.Timestamp
		}
	}
	return latest.Sub(earliest) < span
}

// repeated reports whether the last n amounts are identical.
func repeated(window []Transaction, n int) bool {
	if n < 2 || len(window) < n {
		return false
	}
	last := window[len(window)-n:]
	for _, tx := range last[1:] {
		if !tx.Amount.Equal(last[0].Amount) {
			return false
		}
	}
	return true
}

func containsExact(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
