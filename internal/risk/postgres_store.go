package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore persists risk assessments in PostgreSQL. The schema lives
// in migrations/ and is applied with cmd/migrate.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed risk assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Record(ctx context.Context, assessment *RiskAssessment) error {
	signalsJSON, err := json.Marshal(assessment.Signals)
	if err != nil {
		return fmt.Errorf("failed to marshal signals: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments (id, entity_id, subject_id, kind, score, level, safe_to_proceed, signals, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		assessment.ID,
		assessment.EntityID,
		assessment.SubjectID,
		string(assessment.Kind),
		assessment.Score,
		string(assessment.Level),
		assessment.SafeToProceed,
		signalsJSON,
		assessment.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record risk assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByEntity(ctx context.Context, entityID string, limit int, opts ...ListOption) ([]*RiskAssessment, error) {
	o := applyListOpts(opts)

	var (
		rows *sql.Rows
		err  error
	)
	if o.cursor != nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, entity_id, subject_id, kind, score, level, safe_to_proceed, signals, evaluated_at
			FROM risk_assessments
			WHERE entity_id = $1 AND (evaluated_at, id) < ($2, $3)
			ORDER BY evaluated_at DESC, id DESC
			LIMIT $4
		`, entityID, o.cursor.CreatedAt, o.cursor.ID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, entity_id, subject_id, kind, score, level, safe_to_proceed, signals, evaluated_at
			FROM risk_assessments
			WHERE entity_id = $1
			ORDER BY evaluated_at DESC, id DESC
			LIMIT $2
		`, entityID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list risk assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*RiskAssessment
	for rows.Next() {
		var a RiskAssessment
		var kind, level string
		var signalsJSON []byte
		var evaluatedAt time.Time

		if err := rows.Scan(&a.ID, &a.EntityID, &a.SubjectID, &kind, &a.Score, &level, &a.SafeToProceed, &signalsJSON, &evaluatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan risk assessment: %w", err)
		}
		a.Kind = Kind(kind)
		a.Level = Level(level)
		a.EvaluatedAt = evaluatedAt
		if err := json.Unmarshal(signalsJSON, &a.Signals); err != nil {
			a.Signals = nil
		}
		result = append(result, &a)
	}
	return result, rows.Err()
}
