package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/futuresbot/internal/domain"
	"github.com/alanyoungcy/futuresbot/internal/exitrule"
	"github.com/alanyoungcy/futuresbot/internal/metrics"
	"github.com/alanyoungcy/futuresbot/internal/notify"
)

// Supervisor receives closed-position outcomes.
type Supervisor interface {
	RecordOutcome(pos domain.Position)
}

// Config holds the monitoring loop parameters.
type Config struct {
	Mode           string
	TickInterval   time.Duration
	GracePeriod    time.Duration
	CallTimeout    time.Duration
	CooldownWindow time.Duration
	FeeRate        float64
}

// Monitor drives the exit-rule engine and exchange reconciliation for every
// active position on a fixed tick. One position's slow venue call cannot
// stall the others: each position ticks in its own goroutine under a bounded
// timeout, and a timed-out call skips the tick rather than closing anything.
type Monitor struct {
	cfg      Config
	registry *Registry
	gateway  domain.ExchangeGateway
	prices   domain.PriceFeed
	rules    *exitrule.Engine
	store    domain.PositionStore // nil in paper mode without a database
	cooldown domain.CooldownCache
	safety   Supervisor
	notifier *notify.Notifier
	bus      domain.EventBus
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Monitor. store, cooldown, safety, notifier, bus, and m may
// each be nil.
func New(
	cfg Config,
	registry *Registry,
	gateway domain.ExchangeGateway,
	prices domain.PriceFeed,
	rules *exitrule.Engine,
	store domain.PositionStore,
	cooldown domain.CooldownCache,
	safety Supervisor,
	notifier *notify.Notifier,
	bus domain.EventBus,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Monitor {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 2 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	return &Monitor{
		cfg:      cfg,
		registry: registry,
		gateway:  gateway,
		prices:   prices,
		rules:    rules,
		store:    store,
		cooldown: cooldown,
		safety:   safety,
		notifier: notifier,
		bus:      bus,
		metrics:  m,
		logger:   logger.With(slog.String("component", "monitor")),
	}
}

// Run ticks until ctx is cancelled. Cancellation between ticks is immediate;
// in-flight venue calls drain within the call timeout.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitor started", slog.Duration("tick_interval", m.cfg.TickInterval))
	defer m.logger.Info("monitor stopped")

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick evaluates every active position concurrently. Evaluation across
// positions is unordered; no position's outcome depends on another's within
// the same tick.
func (m *Monitor) tick(ctx context.Context) {
	active := m.registry.Active()
	if len(active) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, pos := range active {
		pos := pos
		g.Go(func() error {
			m.tickPosition(gctx, pos.ID)
			return nil
		})
	}
	_ = g.Wait()

	if m.metrics != nil {
		acct := m.registry.Account()
		m.metrics.OpenPositions.Set(float64(acct.OpenPositions))
		m.metrics.BalanceUSD.Set(acct.Balance)
		m.metrics.DailyPnLUSD.Set(acct.DailyRealizedPnL)
	}
}

// tickPosition runs one tick for one position. Panics and errors here are
// isolated; a failing position never halts monitoring of the others.
func (m *Monitor) tickPosition(ctx context.Context, id string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("tick panic isolated",
				slog.String("position_id", id),
				slog.Any("panic", r))
		}
	}()

	pos, ok := m.registry.Get(id)
	if !ok || pos.State != domain.PositionOpen {
		m.skip("terminal")
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	price, err := m.prices.LastPrice(callCtx, pos.Symbol)
	if err != nil || price <= 0 {
		// No price, no decision. Skip the tick for this position only.
		m.skip("no_price")
		return
	}

	// Evaluate against a snapshot; the latch, if armed, is persisted on the
	// authoritative copy below.
	verdict := m.rules.Evaluate(&pos, price)
	if verdict.FloorArmed {
		m.registry.ArmFloor(id)
	}
	m.registry.UpdateTick(id, price, verdict.PnL)

	if verdict.Close {
		m.closeByRule(ctx, id, verdict.Reason, price)
		return
	}

	m.reconcile(ctx, id, pos, price)
}

// closeByRule performs one rule-triggered close. The OPEN -> CLOSING
// transition happens before the venue call, so a concurrent exchange-flat
// detection for the same position loses the race and backs off.
func (m *Monitor) closeByRule(ctx context.Context, id string, reason domain.CloseReason, price float64) {
	pos, err := m.registry.BeginClose(id, reason)
	if err != nil {
		if !errors.Is(err, domain.ErrPositionTerminal) {
			m.logger.Warn("begin close failed", slog.String("position_id", id), slog.String("error", err.Error()))
		}
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	result, err := m.gateway.SubmitOrder(callCtx, domain.OrderRequest{
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Type:       domain.OrderTypeMarket,
		Quantity:   pos.Quantity,
		ReduceOnly: true,
	})
	cancel()

	exitPrice := price
	if err != nil {
		// The close order failed; the position is still CLOSING and will
		// be settled by exchange reconciliation or a later retry. Finalize
		// locally at the observed price so accounting never dangles.
		m.logger.Error("close order failed, finalizing at observed price",
			slog.String("position_id", id),
			slog.String("error", err.Error()))
		if m.metrics != nil {
			m.metrics.ExchangeErrors.WithLabelValues("close").Inc()
		}
	} else {
		exitPrice = resolveExitPrice(result, price)
	}

	m.finalize(ctx, pos.ID, exitPrice, reason)
}

// reconcile compares the local view with the venue's. An error or ambiguous
// read counts as "still open": falsely closing a live position is worse than
// one extra tick.
func (m *Monitor) reconcile(ctx context.Context, id string, pos domain.Position, price float64) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	snap, err := m.gateway.GetPosition(callCtx, pos.Symbol)
	cancel()
	if err != nil {
		m.skip("ambiguous_read")
		m.logger.Debug("position snapshot failed, treating as open",
			slog.String("position_id", id),
			slog.String("error", err.Error()))
		return
	}

	if !snap.Flat() {
		m.registry.MarkSeenOpen(id, snap.FetchedAt)
		return
	}

	// The venue reports flat. Only trust that as a completed exchange-side
	// close if the position was previously confirmed open and the grace
	// period has elapsed; otherwise it is reporting lag.
	if !pos.FirstSeenOpen || time.Since(pos.OpenedAt) < m.cfg.GracePeriod {
		return
	}

	closing, err := m.registry.BeginClose(id, domain.CloseExchangeFlat)
	if err != nil {
		return
	}

	exitPrice := snap.MarkPrice
	if exitPrice <= 0 {
		exitPrice = price
	}
	m.finalize(ctx, closing.ID, exitPrice, domain.CloseExchangeFlat)
}

// finalize completes a close exactly once: settles the account, persists the
// record, feeds the breaker, marks the cooldown, and fans out notifications.
func (m *Monitor) finalize(ctx context.Context, id string, exitPrice float64, reason domain.CloseReason) {
	snapshot, ok := m.registry.Get(id)
	if !ok {
		return
	}

	entryFee := snapshot.EntryFee
	if entryFee == 0 {
		entryFee = snapshot.EntryPrice * snapshot.Quantity * m.cfg.FeeRate
	}
	exitFee := exitPrice * snapshot.Quantity * m.cfg.FeeRate
	realized := snapshot.GrossPnLAt(exitPrice) - entryFee - exitFee

	closed, err := m.registry.Finalize(id, exitPrice, realized, entryFee, exitFee)
	if err != nil {
		if !errors.Is(err, domain.ErrPositionTerminal) {
			m.logger.Warn("finalize failed", slog.String("position_id", id), slog.String("error", err.Error()))
		}
		return
	}

	m.logger.Info("position closed",
		slog.String("position_id", closed.ID),
		slog.String("symbol", closed.Symbol),
		slog.String("reason", string(reason)),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("realized_pnl", realized))

	if m.metrics != nil {
		m.metrics.ExitReasons.WithLabelValues(string(reason), string(closed.Side)).Inc()
	}
	if m.safety != nil {
		m.safety.RecordOutcome(closed)
	}
	if closed.RealizedPnL <= 0 && m.cooldown != nil && m.cfg.CooldownWindow > 0 {
		if err := m.cooldown.MarkLoss(ctx, closed.Symbol, m.cfg.CooldownWindow); err != nil {
			m.logger.Warn("cooldown mark failed", slog.String("symbol", closed.Symbol), slog.String("error", err.Error()))
		}
	}
	if m.store != nil {
		if err := m.store.Create(ctx, closed); err != nil {
			m.logger.Error("closed position persist failed",
				slog.String("position_id", closed.ID),
				slog.String("error", err.Error()))
		}
	}
	if m.notifier != nil {
		m.notifier.PositionClosed(ctx, closed)
	}
	m.publish(ctx, closed)
}

// publish emits the close event on the bus for downstream consumers.
func (m *Monitor) publish(ctx context.Context, pos domain.Position) {
	if m.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":        "position_closed",
		"position_id":  pos.ID,
		"symbol":       pos.Symbol,
		"side":         string(pos.Side),
		"reason":       string(pos.CloseReason),
		"entry_price":  pos.EntryPrice,
		"exit_price":   pos.ExitPrice,
		"realized_pnl": pos.RealizedPnL,
		"closed_at":    pos.ClosedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, "positions", payload); err != nil {
		m.logger.Debug("position event publish failed", slog.String("error", err.Error()))
	}
}

func (m *Monitor) skip(cause string) {
	if m.metrics != nil {
		m.metrics.MonitorSkips.WithLabelValues(cause).Inc()
	}
}

// resolveExitPrice prefers the close order's own fill price over the last
// observed ticker price.
func resolveExitPrice(result domain.OrderResult, observed float64) float64 {
	if result.AvgFillPrice > 0 {
		return result.AvgFillPrice
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
	if result.QuotedPrice > 0 {
		return result.QuotedPrice
	}
	return observed
}
