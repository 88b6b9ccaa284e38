package sizing

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/alanyoungcy/futuresbot/internal/domain"
)

type fakeInfo struct {
	info domain.SymbolInfo
	err  error
}

func (f fakeInfo) GetSymbolInfo(ctx context.Context, symbol string) (domain.SymbolInfo, error) {
	return f.info, f.err
}

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

func btcInfo() fakeInfo {
	return fakeInfo{info: domain.SymbolInfo{
		Symbol:      "BTCUSDT",
		StepSize:    0.001,
		TickSize:    0.1,
		MinNotional: 5,
	}}
}

func TestSizeMarginMode(t *testing.T) {
	// 200 margin at 10x = 2000 notional; at 50000 that is exactly 0.04.
	s := New(ModeMargin, 200, 10, btcInfo(), fakePrices{price: 50_000})

	got, err := s.Size(context.Background(), "BTCUSDT", 1)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if got.Quantity != 0.04 {
		t.Fatalf("quantity = %v, want 0.04", got.Quantity)
	}
	if got.Notional != 2000 {
		t.Fatalf("notional = %v, want 2000", got.Notional)
	}
	if got.Margin != 200 {
		t.Fatalf("margin = %v, want 200", got.Margin)
	}
	if got.Leverage != 10 {
		t.Fatalf("leverage = %v, want 10", got.Leverage)
	}
}

func TestSizeNotionalMode(t *testing.T) {
	// Capital is the notional itself: 2000 at 50000 = 0.04, margin 200.
	s := New(ModeNotional, 2000, 10, btcInfo(), fakePrices{price: 50_000})

	got, err := s.Size(context.Background(), "BTCUSDT", 1)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if got.Quantity != 0.04 {
		t.Fatalf("quantity = %v, want 0.04", got.Quantity)
	}
	if got.Margin != 200 {
		t.Fatalf("margin = %v, want 200", got.Margin)
	}
}

func TestSizeStepRoundsDown(t *testing.T) {
	// 2000 / 51234 = 0.03903...; step 0.001 floors to 0.039 exactly.
	s := New(ModeMargin, 200, 10, btcInfo(), fakePrices{price: 51_234})

	got, err := s.Size(context.Background(), "BTCUSDT", 1)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if got.Quantity != 0.039 {
		t.Fatalf("quantity = %v, want 0.039", got.Quantity)
	}
	if got.Notional >= 2000 {
		t.Fatalf("rounded-down notional %v must not exceed the target", got.Notional)
	}
	if math.Abs(got.Margin-got.Notional/10) > 1e-9 {
		t.Fatalf("margin %v inconsistent with notional %v", got.Margin, got.Notional)
	}
}

func TestSizeMultiplierScales(t *testing.T) {
	s := New(ModeMargin, 200, 10, btcInfo(), fakePrices{price: 50_000})

	got, err := s.Size(context.Background(), "BTCUSDT", 0.5)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if got.Quantity != 0.02 {
		t.Fatalf("quantity = %v, want 0.02 at half size", got.Quantity)
	}

	// Non-positive multipliers fall back to full size.
	got, err = s.Size(context.Background(), "BTCUSDT", 0)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if got.Quantity != 0.04 {
		t.Fatalf("quantity = %v, want 0.04 with zero multiplier", got.Quantity)
	}
}

func TestSizeBelowMinNotional(t *testing.T) {
	info := fakeInfo{info: domain.SymbolInfo{StepSize: 0.001, TickSize: 0.1, MinNotional: 5000}}
	s := New(ModeMargin, 200, 10, info, fakePrices{price: 50_000})

	_, err := s.Size(context.Background(), "BTCUSDT", 1)
	if !errors.Is(err, domain.ErrBelowMinNotional) {
		t.Fatalf("err = %v, want ErrBelowMinNotional", err)
	}
}

func TestSizeQuantityRoundsToZero(t *testing.T) {
	// A whole-coin step with a small budget floors to zero.
	info := fakeInfo{info: domain.SymbolInfo{StepSize: 1, TickSize: 0.1, MinNotional: 5}}
	s := New(ModeMargin, 200, 10, info, fakePrices{price: 50_000})

	_, err := s.Size(context.Background(), "BTCUSDT", 1)
	if !errors.Is(err, domain.ErrBelowMinNotional) {
		t.Fatalf("err = %v, want ErrBelowMinNotional", err)
	}
}

func TestSizeNoPrice(t *testing.T) {
	s := New(ModeMargin, 200, 10, btcInfo(), fakePrices{err: domain.ErrNoPrice})
	if _, err := s.Size(context.Background(), "BTCUSDT", 1); !errors.Is(err, domain.ErrNoPrice) {
		t.Fatalf("err = %v, want ErrNoPrice", err)
	}
}

func TestRoundToTick(t *testing.T) {
	if got := RoundToTick(49_789.96, 0.1); got != 49_790 {
		t.Fatalf("RoundToTick = %v, want 49790", got)
	}
	if got := RoundToTick(123.456, 0); got != 123.456 {
		t.Fatalf("zero tick must pass through, got %v", got)
	}
}
