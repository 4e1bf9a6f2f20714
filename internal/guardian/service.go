// Package guardian is the service layer of the UPI Guardian API: it scores
// transactions and messages, runs orchestrated queries, and turns every
// assessment into a notification.
package guardian

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mbd888/guardian/internal/logging"
	"github.com/mbd888/guardian/internal/notify"
	"github.com/mbd888/guardian/internal/orchestrator"
	"github.com/mbd888/guardian/internal/pagination"
	"github.com/mbd888/guardian/internal/registry"
	"github.com/mbd888/guardian/internal/risk"
	"github.com/mbd888/guardian/internal/syncutil"
	"github.com/mbd888/guardian/internal/traces"
)

// ErrDeepUnavailable is returned when deep analysis is requested but no
// orchestrator is configured.
var ErrDeepUnavailable = errors.New("guardian: deep analysis is not configured")

// TransactionRequest is the body of POST /v1/transactions/analyze.
type TransactionRequest struct {
	EntityID    string                `json:"entity_id"`
	Transaction risk.TransactionInput `json:"transaction"`
}

// MessageRequest is the body of POST /v1/messages/analyze.
type MessageRequest struct {
	EntityID  string `json:"entity_id"`
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

// QueryRequest is the body of POST /analyze.
type QueryRequest struct {
	EntityID string         `json:"entity_id"`
	Query    string         `json:"query"`
	Context  map[string]any `json:"context"`
}

// BatchRequest is the body of POST /v1/batch.
type BatchRequest struct {
	EntityID     string                  `json:"entity_id"`
	Transactions []risk.TransactionInput `json:"transactions"`
	Messages     []string                `json:"messages"`
}

// Result pairs an assessment with its rendered alert.
type Result struct {
	Assessment   risk.RiskAssessment `json:"assessment"`
	Notification string              `json:"notification"`
}

// MessageResult adds the orchestrated verdict for deep analysis.
type MessageResult struct {
	Result
	Aggregate *orchestrator.AggregateResponse `json:"aggregate,omitempty"`
}

// BatchItemError reports a batch entry that could not be scored.
type BatchItemError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// BatchResult holds per-item results in request order.
type BatchResult struct {
	Transactions []Result         `json:"transactions_analysis"`
	Messages     []Result         `json:"messages_analysis"`
	Errors       []BatchItemError `json:"errors,omitempty"`
}

// Service coordinates scoring, orchestration and notification.
type Service struct {
	engine   *risk.Engine
	orch     *orchestrator.Orchestrator
	notifier *notify.Notifier
	logger   *slog.Logger

	// entityLocks keeps a batch's transactions contiguous in the window.
	entityLocks *syncutil.KeyedMutex
}

// NewService creates the service. orch and notifier may be nil.
func NewService(engine *risk.Engine, orch *orchestrator.Orchestrator, notifier *notify.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		engine:      engine,
		orch:        orch,
		notifier:    notifier,
		logger:      logger,
		entityLocks: syncutil.NewKeyedMutex(),
	}
}

// Engine returns the underlying risk engine.
func (s *Service) Engine() *risk.Engine { return s.engine }

// AnalyzeTransaction validates and scores one transaction against the
// entity's window.
func (s *Service) AnalyzeTransaction(ctx context.Context, entityID string, in risk.TransactionInput) (*Result, error) {
	entityID = entityOrDefault(entityID)
	unlock, err := s.entityLocks.Lock(ctx, entityID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.scoreTransaction(ctx, entityID, in)
}

// scoreTransaction requires the entity lock.
func (s *Service) scoreTransaction(ctx context.Context, entityID string, in risk.TransactionInput) (*Result, error) {
	ctx = logging.WithEntityID(logging.Ensure(ctx, s.logger), entityID)

	ctx, span := traces.StartSpan(ctx, "guardian.transaction",
		traces.EntityID(entityID), traces.Kind(string(risk.KindTransaction)))
	defer span.End()

	tx, err := risk.NewTransaction(in, s.engine.Now())
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}

	a := s.engine.ScoreTransaction(ctx, entityID, tx)
	span.SetAttributes(traces.Score(a.Score), traces.Level(string(a.Level)))
	logging.L(ctx).Info("transaction assessed", "subject", a.SubjectID, "score", a.Score, "level", a.Level)

	return &Result{Assessment: a, Notification: s.notifier.Notify(a)}, nil
}

// AnalyzeMessage scores free text with the heuristic scorer. With deep set,
// the orchestrated verdict is attached as well.
func (s *Service) AnalyzeMessage(ctx context.Context, entityID, messageID, text string, deep bool) (*MessageResult, error) {
	entityID = entityOrDefault(entityID)
	ctx = logging.WithEntityID(logging.Ensure(ctx, s.logger), entityID)

	ctx, span := traces.StartSpan(ctx, "guardian.message",
		traces.EntityID(entityID), traces.Kind(string(risk.KindMessage)))
	defer span.End()

	a := s.engine.ScoreMessage(ctx, entityID, messageID, text)
	span.SetAttributes(traces.Score(a.Score), traces.Level(string(a.Level)))
	logging.L(ctx).Info("message assessed", "subject", a.SubjectID, "score", a.Score, "level", a.Level)

	res := &MessageResult{Result: Result{Assessment: a, Notification: s.notifier.Notify(a)}}
	if !deep {
		return res, nil
	}

	agg, err := s.query(ctx, entityID, text, nil)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	res.Aggregate = &agg
	return res, nil
}

// Query runs the orchestrator over a free-form question.
func (s *Service) Query(ctx context.Context, entityID, query string, qctx map[string]any) (orchestrator.AggregateResponse, error) {
	entityID = entityOrDefault(entityID)
	ctx = logging.WithEntityID(logging.Ensure(ctx, s.logger), entityID)
	return s.query(ctx, entityID, query, qctx)
}

func (s *Service) query(ctx context.Context, entityID, query string, qctx map[string]any) (orchestrator.AggregateResponse, error) {
	if s.orch == nil {
		return orchestrator.AggregateResponse{}, ErrDeepUnavailable
	}
	resp, err := s.orch.Process(ctx, query, qctx)
	if err != nil {
		return orchestrator.AggregateResponse{}, err
	}
	logging.L(ctx).Info("query orchestrated", "verdict", resp.Verdict, "analyzers", len(resp.Details))
	s.notifier.Verdict(entityID, resp)
	return resp, nil
}

// AnalyzeBatch scores transactions in request order (order matters for the
// window), then messages. The entity is locked for the transaction phase so
// concurrent requests cannot interleave with the batch. Invalid transactions
// are reported per index and do not stop the batch.
func (s *Service) AnalyzeBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	out := &BatchResult{
		Transactions: make([]Result, 0, len(req.Transactions)),
		Messages:     make([]Result, 0, len(req.Messages)),
	}

	if err := s.scoreBatchTransactions(ctx, req, out); err != nil {
		return nil, err
	}

	for _, text := range req.Messages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := s.AnalyzeMessage(ctx, req.EntityID, "", text, false)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, res.Result)
	}
	return out, nil
}

func (s *Service) scoreBatchTransactions(ctx context.Context, req BatchRequest, out *BatchResult) error {
	if len(req.Transactions) == 0 {
		return nil
	}
	entityID := entityOrDefault(req.EntityID)
	unlock, err := s.entityLocks.Lock(ctx, entityID)
	if err != nil {
		return err
	}
	defer unlock()

	for i, in := range req.Transactions {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := s.scoreTransaction(ctx, entityID, in)
		if err != nil {
			out.Errors = append(out.Errors, BatchItemError{Index: i, Message: err.Error()})
			continue
		}
		out.Transactions = append(out.Transactions, *res)
	}
	return nil
}

// History lists recorded assessments for an entity, most recent first,
// starting after cursor when it is set.
func (s *Service) History(ctx context.Context, entityID string, limit int, cursor string) (pagination.Page[*risk.RiskAssessment], error) {
	var opts []risk.ListOption
	if cursor != "" {
		opts = append(opts, risk.WithCursor(cursor))
	}
	items, err := s.engine.Assessments(ctx, entityOrDefault(entityID), limit+1, opts...)
	if err != nil {
		return pagination.Page[*risk.RiskAssessment]{}, err
	}
	return pagination.Paginate(items, limit, func(a *risk.RiskAssessment) (time.Time, string) {
		return a.EvaluatedAt, a.ID
	}), nil
}

// Registry returns the trusted banks in name order.
func (s *Service) Registry() []registry.Entry {
	reg := s.engine.Registry()
	if reg == nil {
		return nil
	}
	return reg.Entries()
}

func entityOrDefault(id string) string {
	if id == "" {
		return risk.DefaultEntityID
	}
	return id
}
