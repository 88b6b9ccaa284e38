package admission

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/futuresbot/internal/advisor"
	"github.com/alanyoungcy/futuresbot/internal/domain"
	"github.com/alanyoungcy/futuresbot/internal/monitor"
)

type fakePrices struct {
	price float64
	err   error
}

func (f fakePrices) LastPrice(ctx context.Context, symbol string) (float64, error) {
	return f.price, f.err
}

func (f fakePrices) FillPrice(ctx context.Context, symbol string, side domain.Side) (float64, error) {
	return f.price, f.err
}

type fakeCooldown struct {
	lossAt time.Time
	found  bool
}

func (f fakeCooldown) MarkLoss(ctx context.Context, symbol string, ttl time.Duration) error {
	return nil
}

func (f fakeCooldown) LastLoss(ctx context.Context, symbol string) (time.Time, error) {
	if !f.found {
		return time.Time{}, domain.ErrNotFound
	}
	return f.lossAt, nil
}

type fakeHistory struct {
	domain.PositionStore
	rec domain.SymbolRecord
	err error
}

func (f fakeHistory) SymbolStats(ctx context.Context, symbol string, since time.Time) (domain.SymbolRecord, error) {
	return f.rec, f.err
}

type fakeAdvisor struct {
	rec advisor.Recommendation
}

func (f fakeAdvisor) Advise(ctx context.Context, sig domain.Signal, currentPrice float64) advisor.Recommendation {
	return f.rec
}

type fakeBreaker bool

func (f fakeBreaker) Paused() bool { return bool(f) }

func goodSignal() domain.Signal {
	return domain.Signal{
		ID:             "sig-1",
		Symbol:         "BTCUSDT",
		Side:           domain.SideLong,
		Confidence:     0.8,
		Strategy:       "trend",
		ReferencePrice: 50_000,
		Tradable:       true,
		RealData:       true,
		GeneratedAt:    time.Now(),
	}
}

type pipelineOpts struct {
	cfg      Config
	prices   fakePrices
	registry *monitor.Registry
	cooldown fakeCooldown
	history  domain.PositionStore
	advisor  AdvisorClient
	breaker  Breaker
}

func newTestPipeline(opts pipelineOpts) *Pipeline {
	if opts.registry == nil {
		opts.registry = monitor.NewRegistry(10_000, 5, 1)
	}
	if opts.cfg.MinConfidence == 0 {
		opts.cfg = Config{
			MinConfidence:    0.65,
			MaxSignalAge:     90 * time.Second,
			MaxPriceDrift:    0.005,
			CooldownWindow:   30 * time.Minute,
			CooldownOverride: 0.85,
			RequiredMargin:   200,
		}
	}
	if opts.prices.price == 0 && opts.prices.err == nil {
		opts.prices = fakePrices{price: 50_000}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(opts.cfg, opts.prices, opts.registry, opts.cooldown,
		opts.history, opts.advisor, opts.breaker, nil, nil, logger)
}

func TestAdmitAccepts(t *testing.T) {
	p := newTestPipeline(pipelineOpts{})

	d, token := p.Admit(context.Background(), goodSignal())
	if !d.Accepted() {
		t.Fatalf("decision = %+v, want accepted", d)
	}
	if token == "" {
		t.Fatal("accepted admission must return a reservation token")
	}
	if d.CurrentPrice != 50_000 || d.SizeMultiplier != 1 {
		t.Fatalf("unexpected decision fields: %+v", d)
	}
}

func TestAdmitMissingFields(t *testing.T) {
	p := newTestPipeline(pipelineOpts{})

	sig := goodSignal()
	sig.ReferencePrice = 0
	d, token := p.Admit(context.Background(), sig)
	if d.Outcome != domain.AdmissionRejected || d.Reason != domain.ReasonMissingFields {
		t.Fatalf("decision = %+v, want missing_fields rejection", d)
	}
	if token != "" {
		t.Fatal("rejection must not hold a reservation")
	}
}

func TestAdmitNotTradable(t *testing.T) {
	p := newTestPipeline(pipelineOpts{})

	sig := goodSignal()
	sig.Tradable = false
	d, _ := p.Admit(context.Background(), sig)
	if d.Reason != domain.ReasonNotTradable {
		t.Fatalf("reason = %s, want not_tradable", d.Reason)
	}

	sig = goodSignal()
	sig.RealData = false
	d, _ = p.Admit(context.Background(), sig)
	if d.Reason != domain.ReasonNotRealData {
		t.Fatalf("reason = %s, want not_real_data", d.Reason)
	}
}

func TestAdmitStaleSignal(t *testing.T) {
	p := newTestPipeline(pipelineOpts{})

	sig := goodSignal()
	sig.GeneratedAt = time.Now().Add(-2 * time.Minute)
	d, _ := p.Admit(context.Background(), sig)
	if d.Outcome != domain.AdmissionSkipped || d.Reason != domain.ReasonStaleSignal {
		t.Fatalf("decision = %+v, want stale_signal skip", d)
	}
}

func TestAdmitPriceDrift(t *testing.T) {
	// Reference 50000, current 50500: 1% drift exceeds the 0.5% bound.
	p := newTestPipeline(pipelineOpts{prices: fakePrices{price: 50_500}})

	d, _ := p.Admit(context.Background(), goodSignal())
	if d.Outcome != domain.AdmissionSkipped || d.Reason != domain.ReasonPriceDrift {
		t.Fatalf("decision = %+v, want price_drift skip", d)
	}
}

func TestAdmitPriceFetchFailureSkips(t *testing.T) {
	p := newTestPipeline(pipelineOpts{prices: fakePrices{err: domain.ErrNoPrice}})

	d, _ := p.Admit(context.Background(), goodSignal())
	if d.Outcome != domain.AdmissionSkipped || d.Reason != domain.ReasonPriceDrift {
		t.Fatalf("transient price failure must skip, got %+v", d)
	}
}

func TestAdmitLowConfidence(t *testing.T) {
	p := newTestPipeline(pipelineOpts{})

	sig := goodSignal()
	sig.Confidence = 0.5
	d, _ := p.Admit(context.Background(), sig)
	if d.Outcome != domain.AdmissionRejected || d.Reason != domain.ReasonLowConfidence {
		t.Fatalf("decision = %+v, want low_confidence rejection", d)
	}
	if d.Threshold != 0.65 {
		t.Fatalf("threshold = %v, want base 0.65", d.Threshold)
	}
}

func TestAdmitRaisedThresholdForPoorPerformer(t *testing.T) {
	p := newTestPipeline(pipelineOpts{
		cfg: Config{
			MinConfidence:     0.65,
			PoorWinRate:       0.4,
			ConfidencePenalty: 0.1,
			WinRateLookback:   24 * time.Hour,
			RequiredMargin:    200,
		},
		history: fakeHistory{rec: domain.SymbolRecord{Symbol: "BTCUSDT", Wins: 1, Losses: 4}},
	})

	// 0.7 clears the base threshold but not the raised 0.75.
	sig := goodSignal()
	sig.Confidence = 0.7
	d, _ := p.Admit(context.Background(), sig)
	if d.Reason != domain.ReasonLowConfidence {
		t.Fatalf("reason = %s, want low_confidence under raised threshold", d.Reason)
	}
	if math.Abs(d.Threshold-0.75) > 1e-9 {
		t.Fatalf("threshold = %v, want 0.75", d.Threshold)
	}
}

func TestAdmitHistoryFailureFallsBackToBase(t *testing.T) {
	p := newTestPipeline(pipelineOpts{
		cfg: Config{
			MinConfidence:     0.65,
			PoorWinRate:       0.4,
			ConfidencePenalty: 0.1,
			WinRateLookback:   24 * time.Hour,
			RequiredMargin:    200,
		},
		history: fakeHistory{err: domain.ErrContextDone},
	})

	sig := goodSignal()
	sig.Confidence = 0.7
	d, token := p.Admit(context.Background(), sig)
	if !d.Accepted() || token == "" {
		t.Fatalf("stats failure must fall back to the base threshold, got %+v", d)
	}
}

func TestAdmitAdvisorVeto(t *testing.T) {
	p := newTestPipeline(pipelineOpts{
		advisor: fakeAdvisor{rec: advisor.Recommendation{Approve: false, Reason: "regime"}},
	})

	d, _ := p.Admit(context.Background(), goodSignal())
	if d.Outcome != domain.AdmissionRejected || d.Reason != domain.ReasonAdvisorVeto {
		t.Fatalf("decision = %+v, want advisor_veto rejection", d)
	}
}

func TestAdmitAdvisorScalesSize(t *testing.T) {
	p := newTestPipeline(pipelineOpts{
		advisor: fakeAdvisor{rec: advisor.Recommendation{Approve: true, SizeMultiplier: 0.5}},
	})

	d, token := p.Admit(context.Background(), goodSignal())
	if !d.Accepted() || token == "" {
		t.Fatalf("decision = %+v, want acceptance", d)
	}
	if d.SizeMultiplier != 0.5 {
		t.Fatalf("size multiplier = %v, want 0.5", d.SizeMultiplier)
	}
}

func TestAdmitSymbolCooldown(t *testing.T) {
	p := newTestPipeline(pipelineOpts{
		cooldown: fakeCooldown{found: true, lossAt: time.Now().Add(-5 * time.Minute)},
	})

	d, _ := p.Admit(context.Background(), goodSignal())
	if d.Outcome != domain.AdmissionSkipped || d.Reason != domain.ReasonSymbolCooldown {
		t.Fatalf("decision = %+v, want symbol_cooldown skip", d)
	}
}

func TestAdmitCooldownOverride(t *testing.T) {
	p := newTestPipeline(pipelineOpts{
		cooldown: fakeCooldown{found: true, lossAt: time.Now().Add(-5 * time.Minute)},
	})

	sig := goodSignal()
	sig.Confidence = 0.9 // above the 0.85 override
	d, token := p.Admit(context.Background(), sig)
	if !d.Accepted() || token == "" {
		t.Fatalf("high confidence must override the cooldown, got %+v", d)
	}
}

func TestAdmitSymbolExists(t *testing.T) {
	registry := monitor.NewRegistry(10_000, 5, 1)
	if err := registry.Reserve("held", "BTCUSDT", 200); err != nil {
		t.Fatalf("seed reserve: %v", err)
	}
	p := newTestPipeline(pipelineOpts{registry: registry})

	d, _ := p.Admit(context.Background(), goodSignal())
	if d.Outcome != domain.AdmissionRejected || d.Reason != domain.ReasonSymbolExists {
		t.Fatalf("decision = %+v, want symbol_exists rejection", d)
	}
}

func TestAdmitPerSymbolCap(t *testing.T) {
	registry := monitor.NewRegistry(10_000, 5, 2)
	for _, token := range []string{"held-1", "held-2"} {
		if err := registry.Reserve(token, "BTCUSDT", 200); err != nil {
			t.Fatalf("seed reserve %s: %v", token, err)
		}
	}
	p := newTestPipeline(pipelineOpts{registry: registry})

	sig := goodSignal()
	sig.Confidence = 0.99
	d, _ := p.Admit(context.Background(), sig)
	if d.Outcome != domain.AdmissionRejected || d.Reason != domain.ReasonMaxPositionsPerSymbol {
		t.Fatalf("decision = %+v, want max_positions_per_symbol rejection", d)
	}
}

func TestAdmitMaxPositions(t *testing.T) {
	registry := monitor.NewRegistry(10_000, 1, 1)
	if err := registry.Reserve("held", "ETHUSDT", 200); err != nil {
		t.Fatalf("seed reserve: %v", err)
	}
	p := newTestPipeline(pipelineOpts{registry: registry})

	d, _ := p.Admit(context.Background(), goodSignal())
	if d.Reason != domain.ReasonMaxPositions {
		t.Fatalf("reason = %s, want max_positions", d.Reason)
	}
}

func TestAdmitInsufficientCapital(t *testing.T) {
	registry := monitor.NewRegistry(100, 5, 1)
	p := newTestPipeline(pipelineOpts{registry: registry})

	d, _ := p.Admit(context.Background(), goodSignal())
	if d.Reason != domain.ReasonInsufficientCapital {
		t.Fatalf("reason = %s, want insufficient_capital", d.Reason)
	}
}

func TestAdmitEnginePaused(t *testing.T) {
	registry := monitor.NewRegistry(10_000, 5, 1)
	p := newTestPipeline(pipelineOpts{registry: registry, breaker: fakeBreaker(true)})

	d, token := p.Admit(context.Background(), goodSignal())
	if d.Reason != domain.ReasonEnginePaused || token != "" {
		t.Fatalf("decision = %+v, want engine_paused rejection", d)
	}
	// The reservation taken before the breaker check must be released.
	if err := registry.Reserve("after", "BTCUSDT", 200); err != nil {
		t.Fatalf("slot still held after paused rejection: %v", err)
	}
}

func TestAdmitCountsStats(t *testing.T) {
	p := newTestPipeline(pipelineOpts{})

	p.Admit(context.Background(), goodSignal())
	sig := goodSignal()
	sig.Confidence = 0.1
	p.Admit(context.Background(), sig)

	snap := p.Stats().Snapshot(5)
	if snap.Accepted != 1 || snap.Rejected != 1 {
		t.Fatalf("stats = %+v, want 1 accepted / 1 rejected", snap)
	}
}
