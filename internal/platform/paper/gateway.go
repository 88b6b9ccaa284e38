// Package paper implements a simulated exchange gateway for paper trading.
// Fills execute at the last observed price plus configurable slippage, and
// position snapshots honor a propagation lag so the reconciliation path sees
// the same just-opened-but-flat window a real venue exhibits.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/futuresbot/internal/domain"
)

// PriceSource provides the simulated execution price.
type PriceSource interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// Config holds simulation parameters.
type Config struct {
	StartingBalance float64
	FeeRate         float64 // taker fee rate applied per fill
	SlippageBps     float64 // adverse slippage applied to market fills
	PropagationLag  time.Duration

	// SuppressFillPrice makes SubmitOrder report a zero average fill price,
	// exercising the downstream entry-price resolution chain.
	SuppressFillPrice bool

	// Symbols carries per-symbol trading constraints; missing symbols get
	// defaults suitable for USDT-margined majors.
	Symbols map[string]domain.SymbolInfo
}

type simPosition struct {
	amount     float64 // signed; >0 long, <0 short
	entryPrice float64
	openedAt   time.Time
}

// Gateway is the simulated venue.
type Gateway struct {
	cfg    Config
	prices PriceSource
	logger *slog.Logger

	mu        sync.Mutex
	balance   float64
	positions map[string]*simPosition
}

// New creates a paper gateway with the given starting balance.
func New(cfg Config, prices PriceSource, logger *slog.Logger) *Gateway {
	if cfg.StartingBalance <= 0 {
		cfg.StartingBalance = 10_000
	}
	return &Gateway{
		cfg:       cfg,
		prices:    prices,
		logger:    logger.With(slog.String("component", "paper_gateway")),
		balance:   cfg.StartingBalance,
		positions: make(map[string]*simPosition),
	}
}

var _ domain.ExchangeGateway = (*Gateway)(nil)

// SubmitOrder fills market orders immediately at the last price adjusted for
// slippage. The returned result always carries a non-zero QuotedPrice so the
// entry-price resolution chain has a fallback even when SuppressFillPrice
// hides the average fill.
func (g *Gateway) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	last, err := g.prices.LastPrice(ctx, req.Symbol)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("paper: price for %s: %w", req.Symbol, err)
	}
	if last <= 0 {
		return domain.OrderResult{}, fmt.Errorf("paper: price for %s: %w", req.Symbol, domain.ErrNoPrice)
	}

	fill := g.slip(last, req.Side, req.ReduceOnly)

	g.mu.Lock()
	defer g.mu.Unlock()

	fee := fill * req.Quantity * g.cfg.FeeRate
	now := time.Now().UTC()

	if req.ReduceOnly {
		pos, ok := g.positions[req.Symbol]
		if !ok || pos.amount == 0 {
			return domain.OrderResult{
				OrderID:  uuid.NewString(),
				Accepted: false,
				Message:  "REJECTED: no position to reduce",
			}, nil
		}
		qty := math.Min(req.Quantity, math.Abs(pos.amount))
		pnl := (fill - pos.entryPrice) * qty
		if pos.amount < 0 {
			pnl = -pnl
		}
		g.balance += pnl - fee

		remaining := math.Abs(pos.amount) - qty
		if remaining <= 0 {
			delete(g.positions, req.Symbol)
		} else if pos.amount > 0 {
			pos.amount = remaining
		} else {
			pos.amount = -remaining
		}

		return g.result(fill, qty), nil
	}

	if _, exists := g.positions[req.Symbol]; exists {
		return domain.OrderResult{
			OrderID:  uuid.NewString(),
			Accepted: false,
			Message:  "REJECTED: position already open",
		}, nil
	}

	g.balance -= fee
	amount := req.Quantity
	if req.Side == domain.SideShort {
		amount = -req.Quantity
	}
	g.positions[req.Symbol] = &simPosition{
		amount:     amount,
		entryPrice: fill,
		openedAt:   now,
	}

	g.logger.Info("paper fill",
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.Float64("price", fill),
		slog.Float64("quantity", req.Quantity))

	return g.result(fill, req.Quantity), nil
}

func (g *Gateway) result(fill, qty float64) domain.OrderResult {
	res := domain.OrderResult{
		OrderID:        uuid.NewString(),
		Accepted:       true,
		AvgFillPrice:   fill,
		FilledQuantity: qty,
		QuotedPrice:    fill,
		Message:        "FILLED",
	}
	if g.cfg.SuppressFillPrice {
		res.AvgFillPrice = 0
		res.FillPrices = nil
	}
	return res
}

// slip applies adverse slippage: opens pay through the spread, closes give it
// back.
func (g *Gateway) slip(price float64, side domain.Side, reduceOnly bool) float64 {
	bps := g.cfg.SlippageBps / 10_000
	buying := side == domain.SideLong
	if reduceOnly {
		buying = !buying
	}
	if buying {
		return price * (1 + bps)
	}
	return price * (1 - bps)
}

// GetPosition reports the simulated position. Within PropagationLag of the
// open the snapshot reports flat, mimicking venue propagation delay.
func (g *Gateway) GetPosition(ctx context.Context, symbol string) (domain.PositionSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := domain.PositionSnapshot{
		Symbol:    symbol,
		FetchedAt: time.Now().UTC(),
	}

	pos, ok := g.positions[symbol]
	if !ok {
		return snap, nil
	}
	if g.cfg.PropagationLag > 0 && time.Since(pos.openedAt) < g.cfg.PropagationLag {
		return snap, nil
	}

	mark := pos.entryPrice
	if last, err := g.prices.LastPrice(ctx, symbol); err == nil && last > 0 {
		mark = last
	}

	pnl := (mark - pos.entryPrice) * math.Abs(pos.amount)
	if pos.amount < 0 {
		pnl = -pnl
	}

	snap.Amount = pos.amount
	snap.EntryPrice = pos.entryPrice
	snap.MarkPrice = mark
	snap.UnrealizedPnL = pnl
	return snap, nil
}

// GetBalance returns the simulated wallet balance.
func (g *Gateway) GetBalance(ctx context.Context) (domain.AccountBalance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return domain.AccountBalance{
		Asset:     "USDT",
		Total:     g.balance,
		Available: g.balance,
	}, nil
}

// GetSymbolInfo returns configured constraints, or permissive defaults.
func (g *Gateway) GetSymbolInfo(ctx context.Context, symbol string) (domain.SymbolInfo, error) {
	if info, ok := g.cfg.Symbols[symbol]; ok {
		return info, nil
	}
	return domain.SymbolInfo{
		Symbol:      symbol,
		StepSize:    0.001,
		TickSize:    0.01,
		MinNotional: 5,
	}, nil
}

// LastPrice proxies the configured price source.
func (g *Gateway) LastPrice(ctx context.Context, symbol string) (float64, error) {
	return g.prices.LastPrice(ctx, symbol)
}
