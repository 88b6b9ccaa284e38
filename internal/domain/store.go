package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SymbolRecord summarises historical outcomes for one symbol, used to raise
// the confidence threshold for symbols with a poor win rate.
type SymbolRecord struct {
	Symbol string
	Wins   int
	Losses int
}

// WinRate returns wins/(wins+losses), or 1 when there is no history so a new
// symbol is never penalised.
func (r SymbolRecord) WinRate() float64 {
	total := r.Wins + r.Losses
	if total == 0 {
		return 1
	}
	return float64(r.Wins) / float64(total)
}

// PositionStore persists one durable record per closed position for
// downstream learning and reporting.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListClosed(ctx context.Context, opts ListOpts) ([]Position, error)
	ListBefore(ctx context.Context, before time.Time) ([]Position, error)
	SymbolStats(ctx context.Context, symbol string, since time.Time) (SymbolRecord, error)
}

// AdmissionStore persists one durable record per admission decision for
// auditability.
type AdmissionStore interface {
	Create(ctx context.Context, d AdmissionDecision) error
	ListRecent(ctx context.Context, limit int) ([]AdmissionDecision, error)
	ListBefore(ctx context.Context, before time.Time) ([]AdmissionDecision, error)
}

// PriceCache caches the latest observed price per symbol.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
}

// CooldownCache records per-symbol loss markers with an expiry equal to the
// cooldown window.
type CooldownCache interface {
	MarkLoss(ctx context.Context, symbol string, ttl time.Duration) error
	// LastLoss returns the time of the most recent loss inside the cooldown
	// window, or ErrNotFound when the symbol is not cooling down.
	LastLoss(ctx context.Context, symbol string) (time.Time, error)
}

// EventBus publishes engine events (position opened/closed, breaker tripped)
// and consumes the inbound signal stream.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream, lastID string, count int) ([]StreamMessage, error)
}

// StreamMessage is one durable message read from the event bus.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// BlobWriter uploads a blob to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver moves aged records from the primary store to object storage.
type Archiver interface {
	ArchivePositions(ctx context.Context, before time.Time) (int64, error)
	ArchiveAdmissions(ctx context.Context, before time.Time) (int64, error)
}
