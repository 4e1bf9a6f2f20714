package risk

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/guardian/internal/pagination"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu          sync.RWMutex
	assessments map[string][]*RiskAssessment // entityID → assessments, oldest first
}

// NewMemoryStore creates an in-memory risk assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assessments: make(map[string][]*RiskAssessment),
	}
}

func (s *MemoryStore) Record(ctx context.Context, assessment *RiskAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Writes may land out of order; keep the slice sorted.
	a := cloneAssessment(assessment)
	all := s.assessments[a.EntityID]
	i, _ := slices.BinarySearchFunc(all, a, func(x, t *RiskAssessment) int {
		return compareKey(x, t.EvaluatedAt, t.ID)
	})
	s.assessments[a.EntityID] = slices.Insert(all, i, a)
	return nil
}

func (s *MemoryStore) ListByEntity(ctx context.Context, entityID string, limit int, opts ...ListOption) ([]*RiskAssessment, error) {
	o := applyListOpts(opts)

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.assessments[entityID]
	if len(all) == 0 {
		return nil, nil
	}

	// Most recent first. A cursor resumes strictly before its
	// (timestamp, ID) position, whether or not that assessment is still held.
	end := len(all) - 1
	if o.cursor != nil {
		i, _ := slices.BinarySearchFunc(all, o.cursor, func(x *RiskAssessment, c *pagination.Cursor) int {
			return compareKey(x, c.CreatedAt, c.ID)
		})
		end = i - 1
	}

	var result []*RiskAssessment
	for i := end; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, cloneAssessment(all[i]))
	}
	return result, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// compareKey orders assessments by (EvaluatedAt, ID), matching the
// Postgres listing.
func compareKey(a *RiskAssessment, at time.Time, id string) int {
	if c := a.EvaluatedAt.Compare(at); c != 0 {
		return c
	}
	return strings.Compare(a.ID, id)
}

func cloneAssessment(a *RiskAssessment) *RiskAssessment {
	c := *a
	c.Signals = append([]string(nil), a.Signals...)
	return &c
}
