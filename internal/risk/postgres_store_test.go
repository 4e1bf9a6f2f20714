package risk

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/guardian/internal/pagination"
	"github.com/mbd888/guardian/internal/testutil"
)

func TestPostgresStore_RecordAndList(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	older := &RiskAssessment{
		ID: "risk_a", EntityID: "user-1", SubjectID: "tx-1", Kind: KindTransaction,
		Score: 80, Level: LevelHigh, Signals: []string{"High-value transaction: ₹45000"},
		EvaluatedAt: time.Now().Add(-time.Minute).UTC().Truncate(time.Microsecond),
	}
	newer := &RiskAssessment{
		ID: "risk_b", EntityID: "user-1", SubjectID: "msg-1", Kind: KindMessage,
		Score: 0, Level: LevelLow, Signals: []string{NoIssuesSignal}, SafeToProceed: true,
		EvaluatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	for _, a := range []*RiskAssessment{older, newer} {
		if err := store.Record(ctx, a); err != nil {
			t.Fatalf("Record(%s): %v", a.ID, err)
		}
	}

	got, err := store.ListByEntity(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("ListByEntity: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 assessments, got %d", len(got))
	}
	if got[0].ID != "risk_b" || got[1].ID != "risk_a" {
		t.Errorf("expected most recent first, got %s then %s", got[0].ID, got[1].ID)
	}
	if got[1].Level != LevelHigh || got[1].Score != 80 || got[1].Signals[0] != older.Signals[0] {
		t.Errorf("round trip mismatch: %+v", got[1])
	}
	if !got[0].SafeToProceed {
		t.Error("expected safe_to_proceed to round trip")
	}

	got, err = store.ListByEntity(ctx, "user-1", 1)
	if err != nil || len(got) != 1 {
		t.Fatalf("limit not applied: %d, %v", len(got), err)
	}

	got, err = store.ListByEntity(ctx, "user-1", 10, WithCursor(pagination.Encode(newer.EvaluatedAt, newer.ID)))
	if err != nil {
		t.Fatalf("ListByEntity with cursor: %v", err)
	}
	if len(got) != 1 || got[0].ID != "risk_a" {
		t.Errorf("expected only risk_a after cursor, got %d items", len(got))
	}
}
