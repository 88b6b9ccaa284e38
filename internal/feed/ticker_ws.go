// Package feed supplies the engine with market prices and inbound signals.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/futuresbot/internal/domain"
)

// TickerWSFeed connects to the futures mark-price WebSocket stream for the
// configured symbols and writes each update into the price cache. It
// reconnects with backoff on disconnect.
type TickerWSFeed struct {
	wsURL     string
	symbols   []string
	cache     domain.PriceCache
	ttl       time.Duration
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewTickerWSFeed creates a feed for the given symbols. wsURL is the stream
// root, e.g. "wss://fstream.binance.com/stream".
func NewTickerWSFeed(wsURL string, symbols []string, cache domain.PriceCache, ttl time.Duration, logger *slog.Logger) *TickerWSFeed {
	return &TickerWSFeed{
		wsURL:   wsURL,
		symbols: symbols,
		cache:   cache,
		ttl:     ttl,
		logger:  logger.With(slog.String("component", "ticker_ws_feed")),
		done:    make(chan struct{}),
	}
}

// Run connects and consumes mark-price updates until ctx is cancelled.
func (f *TickerWSFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to subscribe, exiting")
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("ticker ws disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

// combinedStreamMsg is the multiplexed stream envelope.
type combinedStreamMsg struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// markPriceUpdate is the markPriceUpdate event payload. Price arrives as a
// string like every venue numeric.
type markPriceUpdate struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Price  string `json:"p"`
}

func (f *TickerWSFeed) runConnection(ctx context.Context) error {
	streams := make([]string, 0, len(f.symbols))
	for _, s := range f.symbols {
		streams = append(streams, strings.ToLower(s)+"@markPrice@1s")
	}
	url := f.wsURL + "?streams=" + strings.Join(streams, "/")

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("feed: dial ticker ws: %w", err)
	}
	defer conn.Close()

	f.logger.Info("ticker ws subscribed", slog.Int("symbols", len(f.symbols)))

	// Close the socket when ctx ends so ReadMessage unblocks.
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		}
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: read ticker ws: %w", err)
		}
		if err := f.handleMessage(ctx, data); err != nil {
			f.logger.Debug("ticker message dropped",
				slog.String("error", err.Error()),
				slog.Int("payload_len", len(data)))
		}
	}
}

func (f *TickerWSFeed) handleMessage(ctx context.Context, data []byte) error {
	var envelope combinedStreamMsg
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	payload := envelope.Data
	if len(payload) == 0 {
		payload = data // single-stream endpoints omit the envelope
	}

	var update markPriceUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		return err
	}
	if update.Symbol == "" || update.Price == "" {
		return nil
	}

	price, err := strconv.ParseFloat(update.Price, 64)
	if err != nil || price <= 0 {
		return fmt.Errorf("feed: bad mark price %q for %s", update.Price, update.Symbol)
	}

	return f.cache.SetPrice(ctx, update.Symbol, price, time.Now().UTC())
}

// Close stops the feed.
func (f *TickerWSFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
