package paper

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/futuresbot/internal/domain"
)

type staticPrices float64

func (p staticPrices) LastPrice(ctx context.Context, symbol string) (float64, error) {
	return float64(p), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func marketOpen(side domain.Side, qty float64) domain.OrderRequest {
	return domain.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     side,
		Type:     domain.OrderTypeMarket,
		Quantity: qty,
	}
}

func TestSubmitOrderFillsAtLastPrice(t *testing.T) {
	g := New(Config{StartingBalance: 10_000}, staticPrices(50_000), testLogger())

	res, err := g.SubmitOrder(context.Background(), marketOpen(domain.SideLong, 0.04))
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if !res.Accepted {
		t.Fatalf("order rejected: %s", res.Message)
	}
	if res.AvgFillPrice != 50_000 || res.QuotedPrice != 50_000 {
		t.Fatalf("fill = %v quoted = %v, want 50000", res.AvgFillPrice, res.QuotedPrice)
	}
	if res.FilledQuantity != 0.04 {
		t.Fatalf("filled quantity = %v, want 0.04", res.FilledQuantity)
	}
}

func TestSubmitOrderAppliesSlippage(t *testing.T) {
	g := New(Config{StartingBalance: 10_000, SlippageBps: 2}, staticPrices(50_000), testLogger())

	// A long open buys through the spread.
	res, err := g.SubmitOrder(context.Background(), marketOpen(domain.SideLong, 0.04))
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	want := 50_000 * (1 + 0.0002)
	if math.Abs(res.AvgFillPrice-want) > 1e-6 {
		t.Fatalf("long fill = %v, want %v", res.AvgFillPrice, want)
	}

	// A short open sells into it.
	res, err = g.SubmitOrder(context.Background(), domain.OrderRequest{
		Symbol: "ETHUSDT", Side: domain.SideShort, Type: domain.OrderTypeMarket, Quantity: 1,
	})
	if err != nil {
		t.Fatalf("SubmitOrder short: %v", err)
	}
	want = 50_000 * (1 - 0.0002)
	if math.Abs(res.AvgFillPrice-want) > 1e-6 {
		t.Fatalf("short fill = %v, want %v", res.AvgFillPrice, want)
	}
}

func TestSubmitOrderSuppressedFillPrice(t *testing.T) {
	// The resolution chain downstream needs QuotedPrice when the venue does
	// not price the fill immediately.
	g := New(Config{StartingBalance: 10_000, SuppressFillPrice: true}, staticPrices(50_000), testLogger())

	res, err := g.SubmitOrder(context.Background(), marketOpen(domain.SideLong, 0.04))
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if res.AvgFillPrice != 0 {
		t.Fatalf("avg fill = %v, want suppressed 0", res.AvgFillPrice)
	}
	if res.QuotedPrice != 50_000 {
		t.Fatalf("quoted = %v, want 50000 for resolution fallback", res.QuotedPrice)
	}
}

func TestSubmitOrderRejectsDuplicateOpen(t *testing.T) {
	g := New(Config{StartingBalance: 10_000}, staticPrices(50_000), testLogger())

	if _, err := g.SubmitOrder(context.Background(), marketOpen(domain.SideLong, 0.04)); err != nil {
		t.Fatalf("first open: %v", err)
	}
	res, err := g.SubmitOrder(context.Background(), marketOpen(domain.SideLong, 0.04))
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	if res.Accepted {
		t.Fatal("duplicate open must be rejected")
	}
}

func TestSubmitOrderRejectsReduceWithoutPosition(t *testing.T) {
	g := New(Config{StartingBalance: 10_000}, staticPrices(50_000), testLogger())

	res, err := g.SubmitOrder(context.Background(), domain.OrderRequest{
		Symbol:     "BTCUSDT",
		Side:       domain.SideLong,
		Type:       domain.OrderTypeMarket,
		Quantity:   0.04,
		ReduceOnly: true,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if res.Accepted {
		t.Fatal("reduce-only without a position must be rejected")
	}
}

func TestReduceSettlesBalance(t *testing.T) {
	g := New(Config{StartingBalance: 10_000}, &pricesSeq{prices: []float64{50_000, 50_500}}, testLogger())

	if _, err := g.SubmitOrder(context.Background(), marketOpen(domain.SideLong, 0.04)); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := g.SubmitOrder(context.Background(), domain.OrderRequest{
		Symbol:     "BTCUSDT",
		Side:       domain.SideLong,
		Type:       domain.OrderTypeMarket,
		Quantity:   0.04,
		ReduceOnly: true,
	}); err != nil {
		t.Fatalf("close: %v", err)
	}

	bal, err := g.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	// +500 a coin on 0.04 = +20 gross, no fees configured.
	if math.Abs(bal.Total-10_020) > 1e-6 {
		t.Fatalf("balance = %v, want 10020", bal.Total)
	}

	snap, err := g.GetPosition(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if !snap.Flat() {
		t.Fatalf("position should be flat after full reduce, got %+v", snap)
	}
}

// pricesSeq returns each price once, then repeats the last.
type pricesSeq struct {
	prices []float64
	next   int
}

func (p *pricesSeq) LastPrice(ctx context.Context, symbol string) (float64, error) {
	i := p.next
	if i >= len(p.prices) {
		i = len(p.prices) - 1
	} else {
		p.next++
	}
	return p.prices[i], nil
}

func TestGetPositionPropagationLag(t *testing.T) {
	g := New(Config{StartingBalance: 10_000, PropagationLag: 50 * time.Millisecond},
		staticPrices(50_000), testLogger())

	if _, err := g.SubmitOrder(context.Background(), marketOpen(domain.SideLong, 0.04)); err != nil {
		t.Fatalf("open: %v", err)
	}

	// Inside the lag window the venue claims flat, exactly the condition
	// the grace period in reconciliation exists for.
	snap, err := g.GetPosition(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if !snap.Flat() {
		t.Fatalf("snapshot within propagation lag must be flat, got %+v", snap)
	}

	time.Sleep(60 * time.Millisecond)
	snap, err = g.GetPosition(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetPosition after lag: %v", err)
	}
	if snap.Flat() || snap.Amount != 0.04 {
		t.Fatalf("snapshot after lag should show the position, got %+v", snap)
	}
}

func TestGetSymbolInfoDefaults(t *testing.T) {
	g := New(Config{StartingBalance: 10_000}, staticPrices(50_000), testLogger())

	info, err := g.GetSymbolInfo(context.Background(), "DOGEUSDT")
	if err != nil {
		t.Fatalf("GetSymbolInfo: %v", err)
	}
	if info.StepSize != 0.001 || info.TickSize != 0.01 || info.MinNotional != 5 {
		t.Fatalf("unexpected defaults: %+v", info)
	}

	g = New(Config{
		StartingBalance: 10_000,
		Symbols: map[string]domain.SymbolInfo{
			"BTCUSDT": {Symbol: "BTCUSDT", StepSize: 0.001, TickSize: 0.1, MinNotional: 100},
		},
	}, staticPrices(50_000), testLogger())
	info, _ = g.GetSymbolInfo(context.Background(), "BTCUSDT")
	if info.TickSize != 0.1 || info.MinNotional != 100 {
		t.Fatalf("configured constraints not honored: %+v", info)
	}
}
