// Package admission implements the staged filter that decides whether a
// candidate signal becomes a position.
package admission

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/futuresbot/internal/advisor"
	"github.com/alanyoungcy/futuresbot/internal/domain"
	"github.com/alanyoungcy/futuresbot/internal/metrics"
	"github.com/alanyoungcy/futuresbot/internal/monitor"
)

// Config holds the pipeline thresholds.
type Config struct {
	MinConfidence  float64
	MaxSignalAge   time.Duration
	MaxPriceDrift  float64 // fractional, e.g. 0.005
	CooldownWindow time.Duration
	// CooldownOverride admits a cooling-down symbol anyway when the signal
	// confidence reaches it.
	CooldownOverride float64

	// Dynamic threshold: symbols whose win rate over WinRateLookback falls
	// below PoorWinRate need ConfidencePenalty more confidence.
	PoorWinRate       float64
	ConfidencePenalty float64
	WinRateLookback   time.Duration

	// RequiredMargin is the margin one position consumes, used for the
	// capital stage before exact sizing runs.
	RequiredMargin float64
}

// AdvisorClient is the optional external recommendation gate.
type AdvisorClient interface {
	Advise(ctx context.Context, sig domain.Signal, currentPrice float64) advisor.Recommendation
}

// Breaker is the admission-gating face of the safety supervisor.
type Breaker interface {
	Paused() bool
}

// Pipeline runs the admission stages in order, short-circuiting on the first
// failure. Every decision is counted and durably recorded.
type Pipeline struct {
	cfg      Config
	prices   domain.PriceFeed
	registry *monitor.Registry
	cooldown domain.CooldownCache
	history  domain.PositionStore
	advisor  AdvisorClient // nil when disabled
	breaker  Breaker
	store    domain.AdmissionStore // nil in tests
	stats    *Stats
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Pipeline. advisorClient and store may be nil.
func New(
	cfg Config,
	prices domain.PriceFeed,
	registry *monitor.Registry,
	cooldown domain.CooldownCache,
	history domain.PositionStore,
	advisorClient AdvisorClient,
	breaker Breaker,
	store domain.AdmissionStore,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		prices:   prices,
		registry: registry,
		cooldown: cooldown,
		history:  history,
		advisor:  advisorClient,
		breaker:  breaker,
		store:    store,
		stats:    NewStats(),
		metrics:  m,
		logger:   logger.With(slog.String("component", "admission")),
	}
}

// Stats exposes the pipeline counters.
func (p *Pipeline) Stats() *Stats {
	return p.stats
}

// Admit runs the signal through every stage. On acceptance the returned
// token holds a registry reservation (slot + margin) that the caller must
// convert with Register or drop with Release.
func (p *Pipeline) Admit(ctx context.Context, sig domain.Signal) (domain.AdmissionDecision, string) {
	d := domain.AdmissionDecision{
		ID:             uuid.NewString(),
		SignalID:       sig.ID,
		Symbol:         sig.Symbol,
		Strategy:       sig.Strategy,
		Confidence:     sig.Confidence,
		ReferencePrice: sig.ReferencePrice,
		SizeMultiplier: 1,
		DecidedAt:      time.Now().UTC(),
	}

	token := p.run(ctx, sig, &d)
	p.record(ctx, d)
	return d, token
}

// run executes the stages and returns the reservation token on acceptance.
func (p *Pipeline) run(ctx context.Context, sig domain.Signal, d *domain.AdmissionDecision) string {
	// 1. Structural validation.
	if !sig.Complete() {
		p.finish(d, domain.AdmissionRejected, domain.ReasonMissingFields)
		return ""
	}

	// 2. Tradability and source checks.
	if !sig.Tradable {
		p.finish(d, domain.AdmissionRejected, domain.ReasonNotTradable)
		return ""
	}
	if !sig.RealData {
		p.finish(d, domain.AdmissionRejected, domain.ReasonNotRealData)
		return ""
	}

	// 3. Freshness.
	if p.cfg.MaxSignalAge > 0 && sig.Age(time.Now()) > p.cfg.MaxSignalAge {
		p.finish(d, domain.AdmissionSkipped, domain.ReasonStaleSignal)
		return ""
	}

	// 4. Price drift. A price fetch failure is transient, so it skips the
	// signal rather than rejecting it.
	current, err := p.prices.LastPrice(ctx, sig.Symbol)
	if err != nil || current <= 0 {
		p.finish(d, domain.AdmissionSkipped, domain.ReasonPriceDrift)
		return ""
	}
	d.CurrentPrice = current
	drift := math.Abs(current-sig.ReferencePrice) / sig.ReferencePrice
	if p.cfg.MaxPriceDrift > 0 && drift > p.cfg.MaxPriceDrift {
		p.finish(d, domain.AdmissionSkipped, domain.ReasonPriceDrift)
		return ""
	}

	// 5. Confidence, against a threshold raised for poor performers.
	threshold := p.effectiveThreshold(ctx, sig.Symbol)
	d.Threshold = threshold
	if sig.Confidence < threshold {
		p.finish(d, domain.AdmissionRejected, domain.ReasonLowConfidence)
		return ""
	}

	// 6. Advisory gate. Unreachable or failing advisors admit unchanged.
	if p.advisor != nil {
		rec := p.advisor.Advise(ctx, sig, current)
		if !rec.Approve {
			p.finish(d, domain.AdmissionRejected, domain.ReasonAdvisorVeto)
			return ""
		}
		d.SizeMultiplier = rec.SizeMultiplier
	}

	// 7. Symbol cooldown, overridable by high confidence.
	if p.cooldown != nil {
		if _, err := p.cooldown.LastLoss(ctx, sig.Symbol); err == nil {
			if sig.Confidence < p.cfg.CooldownOverride {
				p.finish(d, domain.AdmissionSkipped, domain.ReasonSymbolCooldown)
				return ""
			}
		} else if !errors.Is(err, domain.ErrNotFound) {
			p.logger.Warn("cooldown lookup failed",
				slog.String("symbol", sig.Symbol),
				slog.String("error", err.Error()))
		}
	}

	// 8-9. Concentration, capacity, and capital: one atomic reservation so
	// two concurrent admissions cannot both take the last slot or the last
	// margin dollar.
	token := uuid.NewString()
	margin := p.cfg.RequiredMargin * d.SizeMultiplier
	if err := p.registry.Reserve(token, sig.Symbol, margin); err != nil {
		switch {
		case errors.Is(err, domain.ErrMaxPositions):
			p.finish(d, domain.AdmissionRejected, domain.ReasonMaxPositions)
		case errors.Is(err, domain.ErrMaxPerSymbol):
			// A cap of one means "one position per symbol, ever open at a
			// time"; report it as the symbol already existing. Higher caps
			// report the cap itself.
			if p.registry.MaxPerSymbol() == 1 {
				p.finish(d, domain.AdmissionRejected, domain.ReasonSymbolExists)
			} else {
				p.finish(d, domain.AdmissionRejected, domain.ReasonMaxPositionsPerSymbol)
			}
		case errors.Is(err, domain.ErrInsufficientFree):
			p.finish(d, domain.AdmissionRejected, domain.ReasonInsufficientCapital)
		default:
			p.finish(d, domain.AdmissionRejected, domain.ReasonInsufficientCapital)
		}
		return ""
	}

	// 10. Circuit breaker.
	if p.breaker != nil && p.breaker.Paused() {
		p.registry.Release(token)
		p.finish(d, domain.AdmissionRejected, domain.ReasonEnginePaused)
		return ""
	}

	p.finish(d, domain.AdmissionAccepted, domain.ReasonAccepted)
	return token
}

// effectiveThreshold raises the base confidence floor for symbols with a
// poor historical win rate. History lookup failures fall back to the base.
func (p *Pipeline) effectiveThreshold(ctx context.Context, symbol string) float64 {
	threshold := p.cfg.MinConfidence
	if p.history == nil || p.cfg.ConfidencePenalty <= 0 || p.cfg.WinRateLookback <= 0 {
		return threshold
	}

	since := time.Now().Add(-p.cfg.WinRateLookback)
	rec, err := p.history.SymbolStats(ctx, symbol, since)
	if err != nil {
		p.logger.Debug("symbol stats lookup failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()))
		return threshold
	}
	if rec.Wins+rec.Losses > 0 && rec.WinRate() < p.cfg.PoorWinRate {
		threshold += p.cfg.ConfidencePenalty
	}
	return threshold
}

func (p *Pipeline) finish(d *domain.AdmissionDecision, outcome domain.AdmissionOutcome, reason string) {
	d.Outcome = outcome
	d.Reason = reason
	p.stats.Count(outcome, reason)
	if p.metrics != nil {
		p.metrics.AdmissionDecisions.WithLabelValues(string(outcome), reason).Inc()
	}
}

// record persists the decision for auditability, best-effort.
func (p *Pipeline) record(ctx context.Context, d domain.AdmissionDecision) {
	level := slog.LevelInfo
	if d.Outcome != domain.AdmissionAccepted {
		level = slog.LevelDebug
	}
	p.logger.Log(ctx, level, "admission decision",
		slog.String("signal_id", d.SignalID),
		slog.String("symbol", d.Symbol),
		slog.String("outcome", string(d.Outcome)),
		slog.String("reason", d.Reason),
		slog.Float64("confidence", d.Confidence),
		slog.Float64("threshold", d.Threshold))

	if p.store == nil {
		return
	}
	if err := p.store.Create(ctx, d); err != nil {
		p.logger.Warn("admission record persist failed",
			slog.String("signal_id", d.SignalID),
			slog.String("error", err.Error()))
	}
}
