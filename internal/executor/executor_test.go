package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/alanyoungcy/futuresbot/internal/domain"
	"github.com/alanyoungcy/futuresbot/internal/sizing"
)

// fillGateway confirms every market order and can start failing GetSymbolInfo
// after a fixed number of calls.
type fillGateway struct {
	infoCalls    int
	infoErrAfter int // fail calls beyond this count; 0 = never fail
	result       domain.OrderResult
}

func (g *fillGateway) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	return g.result, nil
}

func (g *fillGateway) GetPosition(ctx context.Context, symbol string) (domain.PositionSnapshot, error) {
	return domain.PositionSnapshot{Symbol: symbol}, nil
}

func (g *fillGateway) GetBalance(ctx context.Context) (domain.AccountBalance, error) {
	return domain.AccountBalance{}, nil
}

func (g *fillGateway) GetSymbolInfo(ctx context.Context, symbol string) (domain.SymbolInfo, error) {
	g.infoCalls++
	if g.infoErrAfter > 0 && g.infoCalls > g.infoErrAfter {
		return domain.SymbolInfo{}, errors.New("exchange info timeout")
	}
	return domain.SymbolInfo{Symbol: symbol, StepSize: 0.001, TickSize: 0.1, MinNotional: 5}, nil
}

func (g *fillGateway) LastPrice(ctx context.Context, symbol string) (float64, error) {
	return 50_000, nil
}

type tickerStub struct {
	price float64
	err   error
}

func (s tickerStub) LastPrice(ctx context.Context, symbol string) (float64, error) {
	return s.price, s.err
}

func (s tickerStub) FillPrice(ctx context.Context, symbol string, side domain.Side) (float64, error) {
	return s.price, s.err
}

func testExecutor(prices domain.PriceFeed) *Executor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{Mode: "paper"}, nil, nil, nil, nil, prices, nil, nil, nil, logger)
}

func TestResolveEntryPriceChain(t *testing.T) {
	sig := domain.Signal{ID: "sig-1", Symbol: "BTCUSDT", ReferencePrice: 49_990}
	sz := sizing.Sizing{Price: 49_980}

	tests := []struct {
		name   string
		result domain.OrderResult
		prices domain.PriceFeed
		want   float64
	}{
		{
			name:   "avg_fill_wins",
			result: domain.OrderResult{AvgFillPrice: 50_001, QuotedPrice: 50_002},
			prices: tickerStub{price: 50_003},
			want:   50_001,
		},
		{
			name:   "quoted_over_fill_lines",
			result: domain.OrderResult{QuotedPrice: 50_002, FillPrices: []float64{50_004}},
			prices: tickerStub{price: 50_003},
			want:   50_002,
		},
		{
			name:   "fill_lines_mean",
			result: domain.OrderResult{FillPrices: []float64{50_000, 50_004}},
			prices: tickerStub{price: 50_003},
			want:   50_002,
		},
		{
			name:   "ticker_fallback",
			result: domain.OrderResult{},
			prices: tickerStub{price: 50_003},
			want:   50_003,
		},
		{
			name:   "reference_fallback",
			result: domain.OrderResult{},
			prices: tickerStub{err: domain.ErrNoPrice},
			want:   49_990,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testExecutor(tt.prices)
			got := e.resolveEntryPrice(context.Background(), sig, sz, tt.result)
			if got != tt.want {
				t.Fatalf("resolveEntryPrice = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolveEntryPriceLastResort(t *testing.T) {
	sig := domain.Signal{ID: "sig-1", Symbol: "BTCUSDT"}
	sz := sizing.Sizing{Price: 49_980}
	e := testExecutor(tickerStub{err: domain.ErrNoPrice})

	got := e.resolveEntryPrice(context.Background(), sig, sz, domain.OrderResult{})
	if got != 49_980 {
		t.Fatalf("resolveEntryPrice = %v, want the sizing price 49980", got)
	}
	if got <= 0 {
		t.Fatal("entry price must never be zero")
	}
}

func openExecutor(gw *fillGateway, th Thresholds) *Executor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	prices := tickerStub{price: 50_000}
	sizer := sizing.New(sizing.ModeMargin, 200, 10, gw, prices)
	return New(Config{Mode: "paper", Thresholds: th}, nil, nil, sizer, gw, prices, nil, nil, nil, logger)
}

func TestOpenSurvivesSymbolInfoOutageAfterFill(t *testing.T) {
	gw := &fillGateway{
		infoErrAfter: 1, // sizing's lookup succeeds, anything later times out
		result:       domain.OrderResult{OrderID: "1", Accepted: true, AvgFillPrice: 50_000},
	}
	th := Thresholds{TakeProfitUSD: 20, FloorActivateUSD: 8, FloorLockUSD: 3, StopLossUSD: 10, MinGapFraction: 0.0005, FeeRate: 0.0004}
	e := openExecutor(gw, th)

	sig := domain.Signal{ID: "sig-1", Symbol: "BTCUSDT", Side: domain.SideLong}
	pos, err := e.open(context.Background(), sig, domain.AdmissionDecision{SizeMultiplier: 1})
	if err != nil {
		t.Fatalf("open after a confirmed fill must not error: %v", err)
	}
	if gw.infoCalls != 1 {
		t.Fatalf("GetSymbolInfo called %d times, want 1 (sizing only, never after the fill)", gw.infoCalls)
	}
	if pos.EntryPrice != 50_000 {
		t.Fatalf("entry = %v, want 50000", pos.EntryPrice)
	}
	if pos.StopLossPrice <= 0 || pos.StopLossPrice >= pos.EntryPrice {
		t.Fatalf("long stop %v must sit below entry %v", pos.StopLossPrice, pos.EntryPrice)
	}
}

func TestOpenFallbackStopWhenDerivationFails(t *testing.T) {
	gw := &fillGateway{
		result: domain.OrderResult{OrderID: "1", Accepted: true, AvgFillPrice: 50_000},
	}
	// A zero loss target cannot be derived; the filled position still gets
	// the conservative percentage stop instead of being dropped.
	th := Thresholds{TakeProfitUSD: 20, StopLossUSD: 0, MinGapFraction: 0.0005, FeeRate: 0.0004}
	e := openExecutor(gw, th)

	sig := domain.Signal{ID: "sig-2", Symbol: "BTCUSDT", Side: domain.SideLong}
	pos, err := e.open(context.Background(), sig, domain.AdmissionDecision{SizeMultiplier: 1})
	if err != nil {
		t.Fatalf("a filled order must always produce a position, got: %v", err)
	}
	want := 50_000 * 0.98
	if math.Abs(pos.StopLossPrice-want) > 1e-9 {
		t.Fatalf("stop = %v, want fallback %v", pos.StopLossPrice, want)
	}
}
