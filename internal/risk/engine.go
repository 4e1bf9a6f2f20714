package risk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/guardian/internal/history"
	"github.com/mbd888/guardian/internal/idgen"
	"github.com/mbd888/guardian/internal/metrics"
	"github.com/mbd888/guardian/internal/registry"
)

// DefaultEntityID scopes transactions submitted without an entity.
const DefaultEntityID = "default"

// Engine scores transactions using in-memory sliding windows per entity and
// messages against the bank registry. Every assessment is recorded to the
// audit store in the background.
type Engine struct {
	history *history.Store[Transaction]
	fraud   *FraudScorer
	scam    *ScamScorer
	store   Store
	logger  *slog.Logger
	now     func() time.Time

	pending sync.WaitGroup
}

// NewEngine creates a risk scoring engine. store may be nil to skip the
// audit trail.
func NewEngine(reg *registry.Registry, store Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		history: history.New[Transaction](history.DefaultSize),
		fraud:   NewFraudScorer(logger),
		scam:    NewScamScorer(reg, logger),
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
}

// WithHistorySize overrides the per-entity window size. Call before use.
func (e *Engine) WithHistorySize(n int) *Engine {
	e.history = history.New[Transaction](n)
	return e
}

// WithFraudRules overrides the transaction rules.
func (e *Engine) WithFraudRules(r FraudRules) *Engine {
	e.fraud.WithRules(r)
	return e
}

// WithScamRules overrides the message rules.
func (e *Engine) WithScamRules(r ScamRules) *Engine {
	e.scam.WithRules(r)
	return e
}

// WithClock overrides the time source used to stamp assessments.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time { return e.now() }

// Scam returns the message scorer.
func (e *Engine) Scam() *ScamScorer { return e.scam }

// Registry returns the trusted bank registry.
func (e *Engine) Registry() *registry.Registry { return e.scam.Registry() }

// ScoreTransaction appends tx to the entity's window and scores it against
// the resulting snapshot.
func (e *Engine) ScoreTransaction(ctx context.Context, entityID string, tx Transaction) RiskAssessment {
	if entityID == "" {
		entityID = DefaultEntityID
	}
	window := e.history.Append(entityID, tx)
	metrics.TrackedEntities.Set(float64(e.history.Entities()))
	a := e.fraud.Score(ctx, tx, window)
	return e.finish(a, entityID)
}

// ScoreMessage scores free text. subjectID labels the assessment and may be
// empty.
func (e *Engine) ScoreMessage(ctx context.Context, entityID, subjectID, text string) RiskAssessment {
	if entityID == "" {
		entityID = DefaultEntityID
	}
	a := e.scam.Score(ctx, text)
	if subjectID == "" {
		subjectID = idgen.WithPrefix("msg_")
	}
	a.SubjectID = subjectID
	return e.finish(a, entityID)
}

// Window returns a copy of the entity's transaction window.
func (e *Engine) Window(entityID string) []Transaction {
	return e.history.Window(entityID)
}

// ResetWindow forgets the entity's recent transactions, e.g. after a
// disputed rapid-payment flag. It reports whether a window existed.
func (e *Engine) ResetWindow(entityID string) bool {
	ok := e.history.Reset(entityID)
	metrics.TrackedEntities.Set(float64(e.history.Entities()))
	return ok
}

// TrackedEntities returns the number of entities with a live window.
func (e *Engine) TrackedEntities() int {
	return e.history.Entities()
}

// Assessments lists recorded assessments for an entity, most recent first.
func (e *Engine) Assessments(ctx context.Context, entityID string, limit int, opts ...ListOption) ([]*RiskAssessment, error) {
	if e.store == nil {
		return nil, nil
	}
	return e.store.ListByEntity(ctx, entityID, limit, opts...)
}

// Wait blocks until background audit writes finish.
func (e *Engine) Wait() {
	e.pending.Wait()
}

func (e *Engine) finish(a RiskAssessment, entityID string) RiskAssessment {
	a.ID = idgen.WithPrefix("risk_")
	a.EntityID = entityID
	a.EvaluatedAt = e.now()

	metrics.AssessmentsTotal.WithLabelValues(string(a.Kind), string(a.Level)).Inc()
	if a.IsFallback() {
		metrics.ScoringFallbacksTotal.WithLabelValues(string(a.Kind)).Inc()
	}

	// Persist asynchronously (best-effort audit trail)
	if e.store != nil {
		rec := a
		rec.Signals = append([]string(nil), a.Signals...)
		e.pending.Add(1)
		go func() {
			defer e.pending.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.store.Record(ctx, &rec); err != nil {
				e.logger.Warn("failed to record risk assessment", "id", rec.ID, "error", err)
			}
		}()
	}
	return a
}
