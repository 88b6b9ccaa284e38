package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/futuresbot/internal/domain"
)

// AdmissionStore implements domain.AdmissionStore backed by PostgreSQL.
type AdmissionStore struct {
	client *Client
}

// NewAdmissionStore creates an AdmissionStore using the given client.
func NewAdmissionStore(client *Client) *AdmissionStore {
	return &AdmissionStore{client: client}
}

var _ domain.AdmissionStore = (*AdmissionStore)(nil)

const admissionColumns = `id, signal_id, symbol, strategy, outcome, reason,
	confidence, threshold, current_price, reference_price, size_multiplier, decided_at`

// Create inserts one admission decision record.
func (s *AdmissionStore) Create(ctx context.Context, d domain.AdmissionDecision) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO admission_decisions (` + admissionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.client.Pool().Exec(ctx, query,
		d.ID, d.SignalID, d.Symbol, d.Strategy, string(d.Outcome), d.Reason,
		d.Confidence, d.Threshold, d.CurrentPrice, d.ReferencePrice, d.SizeMultiplier, d.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert admission decision: %w", err)
	}
	return nil
}

// ListRecent returns the most recent admission decisions, newest first.
func (s *AdmissionStore) ListRecent(ctx context.Context, limit int) ([]domain.AdmissionDecision, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + admissionColumns + ` FROM admission_decisions
		ORDER BY decided_at DESC LIMIT $1`

	rows, err := s.client.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent admissions: %w", err)
	}
	defer rows.Close()

	return collectAdmissions(rows)
}

// ListBefore returns all decisions made before the given time, oldest first.
func (s *AdmissionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.AdmissionDecision, error) {
	query := `SELECT ` + admissionColumns + ` FROM admission_decisions
		WHERE decided_at < $1 ORDER BY decided_at ASC`

	rows, err := s.client.Pool().Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list admissions before: %w", err)
	}
	defer rows.Close()

	return collectAdmissions(rows)
}

// DeleteBefore removes decisions made before the given time, returning how
// many rows were deleted.
func (s *AdmissionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.client.Pool().Exec(ctx,
		"DELETE FROM admission_decisions WHERE decided_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete admissions before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectAdmissions(rows pgx.Rows) ([]domain.AdmissionDecision, error) {
	var out []domain.AdmissionDecision
	for rows.Next() {
		var (
			d       domain.AdmissionDecision
			outcome string
		)
		err := rows.Scan(
			&d.ID, &d.SignalID, &d.Symbol, &d.Strategy, &outcome, &d.Reason,
			&d.Confidence, &d.Threshold, &d.CurrentPrice, &d.ReferencePrice, &d.SizeMultiplier, &d.DecidedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan admission decision: %w", err)
		}
		d.Outcome = domain.AdmissionOutcome(outcome)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate admission decisions: %w", err)
	}
	return out, nil
}
