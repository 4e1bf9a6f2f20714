package risk

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/guardian/internal/idgen"
)

var (
	ErrInvalidAmount  = errors.New("risk: amount must be present and non-negative")
	ErrWindowMismatch = errors.New("risk: history window does not end with the scored transaction")
)

// Transaction is a validated UPI payment. Build one with NewTransaction.
type Transaction struct {
	ID        string          `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
	Location  string          `json:"location"`
	Merchant  string          `json:"merchant"`
	Notes     string          `json:"notes"`
}

// TransactionInput is the raw, unvalidated form received from callers.
type TransactionInput struct {
	ID        string           `json:"id"`
	Amount    *decimal.Decimal `json:"amount"`
	Timestamp string           `json:"timestamp"`
	Location  string           `json:"location"`
	Merchant  string           `json:"merchant"`
	Notes     string           `json:"notes"`
}

// timestampLayouts covers RFC 3339 and the ISO 8601 variants payment apps
// emit without a zone.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// NewTransaction validates in. A missing or negative amount fails with
// ErrInvalidAmount. A missing or malformed timestamp is replaced by now.
func NewTransaction(in TransactionInput, now time.Time) (Transaction, error) {
	if in.Amount == nil {
		return Transaction{}, fmt.Errorf("%w: missing", ErrInvalidAmount)
	}
	if in.Amount.IsNegative() {
		return Transaction{}, fmt.Errorf("%w: got %s", ErrInvalidAmount, in.Amount.String())
	}

	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = idgen.WithPrefix("tx_")
	}

	ts, ok := ParseTimestamp(in.Timestamp)
	if !ok {
		ts = now
	}

	return Transaction{
		ID:        id,
		Amount:    *in.Amount,
		Timestamp: ts,
		Location:  strings.TrimSpace(in.Location),
		Merchant:  strings.TrimSpace(in.Merchant),
		Notes:     in.Notes,
	}, nil
}

// ParseTimestamp parses an ISO 8601 timestamp. Zone-less values are UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// sameTransaction compares identity fields. Transactions hold a decimal, so
// they are not comparable with ==.
func sameTransaction(a, b Transaction) bool {
	return a.ID == b.ID && a.Amount.Equal(b.Amount) && a.Timestamp.Equal(b.Timestamp)
}
