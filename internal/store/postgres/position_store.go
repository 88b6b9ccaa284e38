package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/futuresbot/internal/domain"
)

// PositionStore implements domain.PositionStore backed by PostgreSQL.
type PositionStore struct {
	client *Client
}

// NewPositionStore creates a PositionStore using the given client.
func NewPositionStore(client *Client) *PositionStore {
	return &PositionStore{client: client}
}

var _ domain.PositionStore = (*PositionStore)(nil)

const positionColumns = `id, symbol, side, strategy, signal_id,
	entry_price, exit_price, quantity, margin, leverage,
	entry_fee, exit_fee, realized_pnl, close_reason, floor_activated,
	opened_at, closed_at`

// Create inserts one closed-position record. Inserting the same ID twice
// returns domain.ErrAlreadyExists.
func (s *PositionStore) Create(ctx context.Context, pos domain.Position) error {
	if pos.ID == "" {
		pos.ID = uuid.NewString()
	}

	query := `
		INSERT INTO positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := s.client.Pool().Exec(ctx, query,
		pos.ID, pos.Symbol, string(pos.Side), pos.Strategy, pos.SignalID,
		pos.EntryPrice, pos.ExitPrice, pos.Quantity, pos.Margin, pos.Leverage,
		pos.EntryFee, pos.ExitFee, pos.RealizedPnL, string(pos.CloseReason), pos.FloorActivated,
		pos.OpenedAt, pos.ClosedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return fmt.Errorf("postgres: position %s: %w", pos.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert position: %w", err)
	}
	return nil
}

// GetByID fetches one closed-position record by ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`

	row := s.client.Pool().QueryRow(ctx, query, id)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: get position: %w", err)
	}
	return pos, nil
}

// ListClosed returns closed positions most recent first, honoring pagination
// and time bounds from opts.
func (s *PositionStore) ListClosed(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	var (
		conds []string
		args  []any
	)
	if opts.Since != nil {
		args = append(args, *opts.Since)
		conds = append(conds, fmt.Sprintf("closed_at >= $%d", len(args)))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		conds = append(conds, fmt.Sprintf("closed_at < $%d", len(args)))
	}

	query := `SELECT ` + positionColumns + ` FROM positions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY closed_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.client.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// ListBefore returns all positions closed before the given time, oldest first.
// Used by the archiver to select rows past retention.
func (s *PositionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions
		WHERE closed_at < $1 ORDER BY closed_at ASC`

	rows, err := s.client.Pool().Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions before: %w", err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// SymbolStats aggregates win/loss counts for one symbol since the given time.
func (s *PositionStore) SymbolStats(ctx context.Context, symbol string, since time.Time) (domain.SymbolRecord, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE realized_pnl > 0),
			COUNT(*) FILTER (WHERE realized_pnl <= 0)
		FROM positions
		WHERE symbol = $1 AND closed_at >= $2`

	rec := domain.SymbolRecord{Symbol: symbol}
	err := s.client.Pool().QueryRow(ctx, query, symbol, since).Scan(&rec.Wins, &rec.Losses)
	if err != nil {
		return domain.SymbolRecord{}, fmt.Errorf("postgres: symbol stats %s: %w", symbol, err)
	}
	return rec, nil
}

// DeleteBefore removes positions closed before the given time, returning how
// many rows were deleted. Called by the archiver after a successful upload.
func (s *PositionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.client.Pool().Exec(ctx,
		"DELETE FROM positions WHERE closed_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete positions before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		pos         domain.Position
		side        string
		closeReason string
	)
	err := row.Scan(
		&pos.ID, &pos.Symbol, &side, &pos.Strategy, &pos.SignalID,
		&pos.EntryPrice, &pos.ExitPrice, &pos.Quantity, &pos.Margin, &pos.Leverage,
		&pos.EntryFee, &pos.ExitFee, &pos.RealizedPnL, &closeReason, &pos.FloorActivated,
		&pos.OpenedAt, &pos.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	pos.Side = domain.Side(side)
	pos.CloseReason = domain.CloseReason(closeReason)
	pos.State = domain.PositionClosed
	return pos, nil
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	var out []domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate positions: %w", err)
	}
	return out, nil
}
