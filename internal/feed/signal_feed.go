package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/futuresbot/internal/domain"
)

// signalEvent is the JSON shape producers append to the signal stream.
type signalEvent struct {
	ID              string  `json:"id"`
	Symbol          string  `json:"symbol"`
	Side            string  `json:"side"`
	Confidence      float64 `json:"confidence"`
	Strategy        string  `json:"strategy"`
	Source          string  `json:"source"`
	ReferencePrice  float64 `json:"reference_price"`
	SuggestedProfit float64 `json:"suggested_profit"`
	SuggestedStop   float64 `json:"suggested_stop"`
	Tradable        bool    `json:"tradable"`
	RealData        bool    `json:"real_data"`
	GeneratedAt     string  `json:"generated_at"`
}

// SignalFeed consumes candidate signals from the durable stream and delivers
// them on a channel for the executor. Malformed entries are logged and
// skipped; they never stall the stream cursor.
type SignalFeed struct {
	bus    domain.EventBus
	stream string
	out    chan domain.Signal
	logger *slog.Logger

	lastID string
}

// NewSignalFeed creates a feed reading from the named stream.
func NewSignalFeed(bus domain.EventBus, stream string, buffer int, logger *slog.Logger) *SignalFeed {
	if buffer <= 0 {
		buffer = 64
	}
	return &SignalFeed{
		bus:    bus,
		stream: stream,
		out:    make(chan domain.Signal, buffer),
		logger: logger.With(slog.String("component", "signal_feed")),
		lastID: "$",
	}
}

// Signals returns the delivery channel. It is closed when Run returns.
func (f *SignalFeed) Signals() <-chan domain.Signal {
	return f.out
}

// Run polls the stream until ctx is cancelled.
func (f *SignalFeed) Run(ctx context.Context) error {
	f.logger.Info("signal feed started", slog.String("stream", f.stream))
	defer func() {
		close(f.out)
		f.logger.Info("signal feed stopped")
	}()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	// Start from the tail so restarts do not replay stale candidates.
	if f.lastID == "$" {
		f.lastID = "0"
		if msgs, err := f.bus.StreamRead(ctx, f.stream, "0", 0); err == nil && len(msgs) > 0 {
			f.lastID = msgs[len(msgs)-1].ID
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		msgs, err := f.bus.StreamRead(ctx, f.stream, f.lastID, 32)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn("signal stream read failed", slog.String("error", err.Error()))
			continue
		}

		for _, msg := range msgs {
			f.lastID = msg.ID
			sig, err := decodeSignal(msg.Payload)
			if err != nil {
				f.logger.Warn("signal dropped",
					slog.String("stream_id", msg.ID),
					slog.String("error", err.Error()))
				continue
			}
			select {
			case f.out <- sig:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func decodeSignal(payload []byte) (domain.Signal, error) {
	var ev signalEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return domain.Signal{}, err
	}

	id := strings.TrimSpace(ev.ID)
	if id == "" {
		// Producers should assign IDs; ingest assigns one otherwise so
		// distinct ID-less candidates never collapse into one dedup key.
		id = uuid.NewString()
	}

	sig := domain.Signal{
		ID:              id,
		Symbol:          strings.ToUpper(strings.TrimSpace(ev.Symbol)),
		Side:            domain.Side(strings.ToUpper(strings.TrimSpace(ev.Side))),
		Confidence:      ev.Confidence,
		Strategy:        ev.Strategy,
		Source:          ev.Source,
		ReferencePrice:  ev.ReferencePrice,
		SuggestedProfit: ev.SuggestedProfit,
		SuggestedStop:   ev.SuggestedStop,
		Tradable:        ev.Tradable,
		RealData:        ev.RealData,
	}
	// A missing or unparseable timestamp stays zero. Stamping ingest time
	// here would let an arbitrarily stale replay through the freshness
	// check; the admission pipeline rejects the zero as missing_fields.
	if ev.GeneratedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, ev.GeneratedAt); err == nil {
			sig.GeneratedAt = t
		}
	}
	return sig, nil
}
