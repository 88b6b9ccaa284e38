// Package executor runs the admission loop: it pulls candidate signals,
// feeds them through the admission pipeline, sizes the survivors, opens
// positions through the exchange gateway, and registers them with the
// monitor.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/futuresbot/internal/admission"
	"github.com/alanyoungcy/futuresbot/internal/domain"
	"github.com/alanyoungcy/futuresbot/internal/exitrule"
	"github.com/alanyoungcy/futuresbot/internal/metrics"
	"github.com/alanyoungcy/futuresbot/internal/monitor"
	"github.com/alanyoungcy/futuresbot/internal/notify"
	"github.com/alanyoungcy/futuresbot/internal/sizing"
)

// Thresholds are the exit parameters stamped onto every opened position.
type Thresholds struct {
	TakeProfitUSD    float64
	FloorActivateUSD float64
	FloorLockUSD     float64
	StopLossUSD      float64
	MinGapFraction   float64
	FeeRate          float64
}

// Config holds the executor loop parameters.
type Config struct {
	Mode              string // "paper" or "live", a metrics label
	AdmissionInterval time.Duration
	Thresholds        Thresholds
}

// Executor reads signals from a channel on a fixed admission cadence and
// converts accepted ones into registered positions.
type Executor struct {
	cfg      Config
	signalCh <-chan domain.Signal
	pipeline *admission.Pipeline
	sizer    *sizing.Sizer
	gateway  domain.ExchangeGateway
	prices   domain.PriceFeed
	registry *monitor.Registry
	notifier *notify.Notifier
	metrics  *metrics.Metrics
	dedup    *Dedup
	logger   *slog.Logger
}

// New creates an Executor. notifier and m may be nil.
func New(
	cfg Config,
	signalCh <-chan domain.Signal,
	pipeline *admission.Pipeline,
	sizer *sizing.Sizer,
	gateway domain.ExchangeGateway,
	prices domain.PriceFeed,
	registry *monitor.Registry,
	notifier *notify.Notifier,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Executor {
	if cfg.AdmissionInterval <= 0 {
		cfg.AdmissionInterval = 20 * time.Second
	}
	return &Executor{
		cfg:      cfg,
		signalCh: signalCh,
		pipeline: pipeline,
		sizer:    sizer,
		gateway:  gateway,
		prices:   prices,
		registry: registry,
		notifier: notifier,
		metrics:  m,
		dedup:    NewDedup(2 * time.Minute),
		logger:   logger.With(slog.String("component", "executor")),
	}
}

// Run processes signals until the context is cancelled. Signals accumulate
// in the channel buffer between admission ticks; stale ones fall out at the
// freshness stage.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started",
		slog.String("mode", e.cfg.Mode),
		slog.Duration("admission_interval", e.cfg.AdmissionInterval))
	defer e.logger.Info("executor stopped")

	ticker := time.NewTicker(e.cfg.AdmissionInterval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(30 * time.Second)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			e.drainPending(ctx)

		case <-cleanupTicker.C:
			e.dedup.Cleanup()
		}
	}
}

// drainPending processes everything currently buffered, without blocking on
// an empty channel.
func (e *Executor) drainPending(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-e.signalCh:
			if !ok {
				return
			}
			if e.metrics != nil {
				e.metrics.SignalsConsumed.Inc()
			}
			e.process(ctx, sig)
		default:
			return
		}
	}
}

// process handles one candidate end to end.
func (e *Executor) process(ctx context.Context, sig domain.Signal) {
	log := e.logger.With(
		slog.String("signal_id", sig.ID),
		slog.String("symbol", sig.Symbol),
		slog.String("side", string(sig.Side)),
	)

	if e.dedup.IsDuplicate(sig.ID) {
		log.Debug("signal deduplicated, skipping")
		return
	}

	decision, token := e.pipeline.Admit(ctx, sig)
	if !decision.Accepted() {
		return
	}

	pos, err := e.open(ctx, sig, decision)
	if err != nil {
		// open fails only before the venue accepts the order, so the
		// reservation is the only thing to unwind.
		e.registry.Release(token)
		log.Error("open failed", slog.String("error", err.Error()))
		if e.metrics != nil {
			e.metrics.ExchangeErrors.WithLabelValues("open").Inc()
		}
		return
	}

	if err := e.registry.Register(token, pos); err != nil {
		// The reservation vanished or the ID collided; the venue position
		// is real, so registering failure is a serious inconsistency.
		log.Error("register failed after fill", slog.String("error", err.Error()))
		return
	}

	if e.metrics != nil {
		e.metrics.OrdersSubmitted.WithLabelValues(e.cfg.Mode, string(sig.Side)).Inc()
		e.metrics.OpenPositions.Set(float64(e.registry.Account().OpenPositions))
	}
	if e.notifier != nil {
		e.notifier.PositionOpened(ctx, *pos)
	}

	log.Info("position opened",
		slog.String("position_id", pos.ID),
		slog.Float64("entry", pos.EntryPrice),
		slog.Float64("quantity", pos.Quantity),
		slog.Float64("stop_price", pos.StopLossPrice))
}

// open sizes the order, submits it, resolves the entry price, and builds the
// Position with its exit thresholds. It returns an error only while nothing
// has filled; once the venue accepts the order it always returns a Position
// to register.
func (e *Executor) open(ctx context.Context, sig domain.Signal, decision domain.AdmissionDecision) (*domain.Position, error) {
	sz, err := e.sizer.Size(ctx, sig.Symbol, decision.SizeMultiplier)
	if err != nil {
		return nil, fmt.Errorf("executor: size: %w", err)
	}

	result, err := e.gateway.SubmitOrder(ctx, domain.OrderRequest{
		Symbol:        sig.Symbol,
		Side:          sig.Side,
		Type:          domain.OrderTypeMarket,
		Quantity:      sz.Quantity,
		ClientOrderID: "fb-" + sig.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("executor: submit: %w", err)
	}
	if !result.Accepted {
		return nil, fmt.Errorf("executor: order rejected: %s", result.Message)
	}

	// The order is filled from here on. The venue position is real, so no
	// path below may return an error: a stop the derivation cannot price is
	// replaced by the conservative fallback, never by dropping the position.
	entry := e.resolveEntryPrice(ctx, sig, sz, result)

	th := e.cfg.Thresholds
	stopPrice, err := exitrule.DeriveStopPrice(
		sig.Side, entry, sz.Quantity, th.FeeRate, th.StopLossUSD,
		sz.Info.TickSize, th.MinGapFraction,
	)
	if err == nil {
		err = exitrule.ValidateStopPrice(sig.Side, entry, stopPrice, sz.Info.TickSize, th.MinGapFraction)
	}
	if err != nil {
		stopPrice = exitrule.FallbackStopPrice(sig.Side, entry)
		e.logger.Error("stop derivation failed after fill, using fallback stop",
			slog.String("signal_id", sig.ID),
			slog.String("symbol", sig.Symbol),
			slog.Float64("stop_price", stopPrice),
			slog.String("error", err.Error()))
	}

	now := time.Now().UTC()
	return &domain.Position{
		ID:       uuid.NewString(),
		Symbol:   sig.Symbol,
		Side:     sig.Side,
		Strategy: sig.Strategy,
		SignalID: sig.ID,

		EntryPrice: entry,
		Quantity:   sz.Quantity,
		Margin:     sz.Margin,
		Leverage:   sz.Leverage,

		TakeProfitUSD:     th.TakeProfitUSD,
		FloorActivateUSD:  th.FloorActivateUSD,
		FloorLockUSD:      th.FloorLockUSD,
		StopLossPrice:     stopPrice,
		TargetLossUSD:     th.StopLossUSD,
		InvalidationLevel: sig.SuggestedStop,

		State:    domain.PositionOpen,
		OpenedAt: now,
		EntryFee: entry * sz.Quantity * th.FeeRate,
	}, nil
}

// resolveEntryPrice walks the fallback chain until a positive price emerges:
// the fill's average price, the order's own quoted price, the mean of the
// individual fill lines, a fresh ticker read, and finally the signal's
// reference price. The stored entry price is never zero.
func (e *Executor) resolveEntryPrice(ctx context.Context, sig domain.Signal, sz sizing.Sizing, result domain.OrderResult) float64 {
	if result.AvgFillPrice > 0 {
		return result.AvgFillPrice
	}
	if result.QuotedPrice > 0 {
		return result.QuotedPrice
	}
	if len(result.FillPrices) > 0 {
		sum, n := 0.0, 0
		for _, p := range result.FillPrices {
			if p > 0 {
				sum += p
				n++
			}
		}
		if n > 0 {
			return sum / float64(n)
		}
	}
	if price, err := e.prices.LastPrice(ctx, sig.Symbol); err == nil && price > 0 {
		e.logger.Warn("entry price from ticker fallback",
			slog.String("signal_id", sig.ID),
			slog.Float64("price", price))
		return price
	}
	if sig.ReferencePrice > 0 {
		e.logger.Warn("entry price from signal reference fallback",
			slog.String("signal_id", sig.ID),
			slog.Float64("price", sig.ReferencePrice))
		return sig.ReferencePrice
	}
	// The sizing price is the last resort; it was positive or sizing would
	// have failed.
	return sz.Price
}
