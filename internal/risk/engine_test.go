package risk

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/guardian/internal/registry"
)

func newTestEngine(t *testing.T, store Store) *Engine {
	t.Helper()
	reg, err := registry.Default()
	require.NoError(t, err)
	return NewEngine(reg, store, nil).WithClock(func() time.Time { return baseTime })
}

func TestEngine_WindowsArePerEntity(t *testing.T) {
	engine := newTestEngine(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tx := mustTx(t, fmt.Sprintf("alice-%d", i), 100, baseTime.Add(time.Duration(i)*time.Minute), "", "", "")
		engine.ScoreTransaction(ctx, "alice", tx)
	}
	// bob's first transaction lands in the same minutes but a separate window
	bob := engine.ScoreTransaction(ctx, "bob", mustTx(t, "bob-0", 100, baseTime, "", "", ""))
	assert.Equal(t, 0, bob.Score)

	alice := engine.ScoreTransaction(ctx, "alice", mustTx(t, "alice-3", 100, baseTime.Add(3*time.Minute), "", "", ""))
	assert.Contains(t, alice.Signals, "Multiple transactions within 5 minutes")

	assert.Len(t, engine.Window("alice"), 4)
	assert.Len(t, engine.Window("bob"), 1)
	assert.Equal(t, 2, engine.TrackedEntities())
}

func TestEngine_WindowIsBounded(t *testing.T) {
	engine := newTestEngine(t, nil).WithHistorySize(5)
	for i := 0; i < 12; i++ {
		engine.ScoreTransaction(context.Background(), "u", mustTx(t, fmt.Sprintf("t%d", i), 10, baseTime.Add(time.Duration(i)*time.Hour), "", "", ""))
	}
	window := engine.Window("u")
	require.Len(t, window, 5)
	assert.Equal(t, "t7", window[0].ID)
	assert.Equal(t, "t11", window[4].ID)
}

func TestEngine_DefaultEntity(t *testing.T) {
	engine := newTestEngine(t, nil)
	a := engine.ScoreTransaction(context.Background(), "", mustTx(t, "t", 10, baseTime, "", "", ""))
	assert.Equal(t, DefaultEntityID, a.EntityID)
	assert.Len(t, engine.Window(DefaultEntityID), 1)
}

func TestEngine_StampsAssessments(t *testing.T) {
	engine := newTestEngine(t, nil)
	a := engine.ScoreMessage(context.Background(), "user-1", "", "hello")

	assert.True(t, strings.HasPrefix(a.ID, "risk_"))
	assert.True(t, strings.HasPrefix(a.SubjectID, "msg_"))
	assert.Equal(t, "user-1", a.EntityID)
	assert.Equal(t, baseTime, a.EvaluatedAt)
}

func TestEngine_RecordsAuditTrail(t *testing.T) {
	store := NewMemoryStore()
	engine := newTestEngine(t, store)
	ctx := context.Background()

	tick := 0
	engine.WithClock(func() time.Time {
		tick++
		return baseTime.Add(time.Duration(tick) * time.Second)
	})

	// Writes are asynchronous; only wait once all of them are queued.
	first := engine.ScoreTransaction(ctx, "user-1", mustTx(t, "t1", 45000, baseTime, "Unknown Merchant", "", ""))
	var want []string
	for i := 0; i < 5; i++ {
		a := engine.ScoreMessage(ctx, "user-1", fmt.Sprintf("m%d", i), "click here http://fakebank.link")
		want = append([]string{a.ID}, want...)
	}
	want = append(want, first.ID)
	engine.Wait()

	got, err := engine.Assessments(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 6)
	assert.Equal(t, want, ids(got), "most recent first")
	assert.Equal(t, KindMessage, got[0].Kind)
	assert.Equal(t, KindTransaction, got[5].Kind)

	got, err = engine.Assessments(ctx, "user-1", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, want[0], got[0].ID)
}

func TestEngine_RuleOverrides(t *testing.T) {
	fraud := DefaultFraudRules()
	fraud.HighValue = decimal.NewFromInt(1000)
	scam := DefaultScamRules()
	scam.Keywords = []string{"lottery"}
	scam.KeywordWeight = 50

	engine := newTestEngine(t, nil).WithFraudRules(fraud).WithScamRules(scam)
	ctx := context.Background()

	tx := engine.ScoreTransaction(ctx, "user-1", mustTx(t, "t1", 4999, baseTime, "", "", ""))
	assert.Equal(t, 40, tx.Score)
	assert.Equal(t, LevelMedium, tx.Level)

	msg := engine.ScoreMessage(ctx, "user-1", "m1", "You won the lottery")
	assert.Equal(t, 50, msg.Score)
	assert.Equal(t, LevelMedium, msg.Level)

	// Default keywords no longer count.
	msg = engine.ScoreMessage(ctx, "user-1", "m2", "urgent: verify your account")
	assert.Equal(t, 0, msg.Score)
}

func TestEngine_NoStore(t *testing.T) {
	engine := newTestEngine(t, nil)
	got, err := engine.Assessments(context.Background(), "anyone", 10)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestEngine_ConcurrentEntities(t *testing.T) {
	engine := newTestEngine(t, NewMemoryStore())

	var wg sync.WaitGroup
	for e := 0; e < 10; e++ {
		wg.Add(1)
		go func(e int) {
			defer wg.Done()
			entity := fmt.Sprintf("entity-%d", e)
			for i := 0; i < 50; i++ {
				tx := mustTx(t, fmt.Sprintf("%s-%d", entity, i), 100, baseTime.Add(time.Duration(i)*time.Hour), "", "", "")
				a := engine.ScoreTransaction(context.Background(), entity, tx)
				if a.IsFallback() {
					t.Errorf("unexpected fallback for %s", tx.ID)
				}
			}
		}(e)
	}
	wg.Wait()
	engine.Wait()

	for e := 0; e < 10; e++ {
		assert.Len(t, engine.Window(fmt.Sprintf("entity-%d", e)), 5)
	}
}

func TestMemoryStore_CopiesOnReadAndWrite(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := &RiskAssessment{ID: "r1", EntityID: "e", Signals: []string{"x"}}
	require.NoError(t, store.Record(ctx, a))
	a.Signals[0] = "mutated"

	got, err := store.ListByEntity(ctx, "e", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].Signals[0])

	got[0].Signals[0] = "mutated again"
	again, _ := store.ListByEntity(ctx, "e", 10)
	assert.Equal(t, "x", again[0].Signals[0])

	none, err := store.ListByEntity(ctx, "missing", 10)
	assert.NoError(t, err)
	assert.Nil(t, none)
}
