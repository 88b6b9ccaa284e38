// Package sizing converts an admitted signal into a venue-valid order
// quantity and margin allocation.
package sizing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/futuresbot/internal/domain"
)

// Mode selects how the configured capital figure is interpreted.
type Mode string

const (
	// ModeMargin treats capital as margin; notional = capital * leverage.
	ModeMargin Mode = "margin"
	// ModeNotional treats capital as the notional itself; margin =
	// capital / leverage.
	ModeNotional Mode = "notional"
)

// SymbolInfoSource provides venue trading constraints, typically the gateway
// behind a startup-populated cache.
type SymbolInfoSource interface {
	GetSymbolInfo(ctx context.Context, symbol string) (domain.SymbolInfo, error)
}

// Sizing is the resolved order size for one admitted signal. Info carries
// the venue constraints sizing was computed against, so callers that need
// the tick size after the order fills do not make a second venue call.
type Sizing struct {
	Quantity float64 // step-rounded venue quantity
	Margin   float64 // quote-currency margin the position consumes
	Notional float64 // quantity * price after rounding
	Price    float64 // the price sizing was computed at
	Leverage int
	Info     domain.SymbolInfo
}

// Sizer computes order quantities from capital configuration and venue
// constraints.
type Sizer struct {
	mode     Mode
	capital  float64
	leverage int
	info     SymbolInfoSource
	prices   domain.PriceFeed
}

// New creates a Sizer.
func New(mode Mode, capitalPerPosition float64, leverage int, info SymbolInfoSource, prices domain.PriceFeed) *Sizer {
	if leverage < 1 {
		leverage = 1
	}
	return &Sizer{
		mode:     mode,
		capital:  capitalPerPosition,
		leverage: leverage,
		info:     info,
		prices:   prices,
	}
}

// Size computes the order size for symbol at the current price, scaled by
// multiplier (the advisor's size adjustment; 1 when unused). The raw quantity
// is rounded DOWN to the symbol's step size so the venue never rejects for
// precision, and the rounded notional must still clear the venue minimum.
func (s *Sizer) Size(ctx context.Context, symbol string, multiplier float64) (Sizing, error) {
	if multiplier <= 0 {
		multiplier = 1
	}

	price, err := s.prices.LastPrice(ctx, symbol)
	if err != nil {
		return Sizing{}, fmt.Errorf("sizing: %s: %w", symbol, err)
	}
	if price <= 0 {
		return Sizing{}, fmt.Errorf("sizing: %s: %w", symbol, domain.ErrNoPrice)
	}

	info, err := s.info.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return Sizing{}, fmt.Errorf("sizing: %s constraints: %w", symbol, err)
	}

	capital := s.capital * multiplier

	var notional float64
	switch s.mode {
	case ModeNotional:
		notional = capital
	default:
		notional = capital * float64(s.leverage)
	}

	qty := roundToStep(notional/price, info.StepSize)
	if qty <= 0 {
		return Sizing{}, fmt.Errorf("sizing: %s quantity rounds to zero at price %.8g: %w",
			symbol, price, domain.ErrBelowMinNotional)
	}

	roundedNotional := qty * price
	if info.MinNotional > 0 && roundedNotional < info.MinNotional {
		return Sizing{}, fmt.Errorf("sizing: %s notional %.2f below venue minimum %.2f: %w",
			symbol, roundedNotional, info.MinNotional, domain.ErrBelowMinNotional)
	}

	return Sizing{
		Quantity: qty,
		Margin:   roundedNotional / float64(s.leverage),
		Notional: roundedNotional,
		Price:    price,
		Leverage: s.leverage,
		Info:     info,
	}, nil
}

// roundToStep rounds quantity down to an integer multiple of step using
// decimal arithmetic, avoiding the float drift that produces quantities like
// 0.040000000000000001.
func roundToStep(quantity, step float64) float64 {
	if step <= 0 {
		return quantity
	}
	q := decimal.NewFromFloat(quantity)
	st := decimal.NewFromFloat(step)
	steps := q.Div(st).Floor()
	out, _ := steps.Mul(st).Float64()
	return out
}

// RoundToTick rounds a price to the nearest tick, used when deriving stop
// prices that must be venue-acceptable.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	out, _ := p.Div(t).Round(0).Mul(t).Float64()
	return out
}
