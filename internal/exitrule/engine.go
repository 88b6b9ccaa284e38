// Package exitrule implements the layered exit state machine evaluated once
// per monitoring tick per open position.
package exitrule

import (
	"github.com/alanyoungcy/futuresbot/internal/domain"
)

// Verdict is the outcome of one evaluation. At most one rule fires per tick.
type Verdict struct {
	Close  bool
	Reason domain.CloseReason
	// FloorArmed reports that this evaluation armed the floor latch, so
	// the caller can persist it on the authoritative copy.
	FloorArmed bool
	// PnL is the net unrealized P&L the verdict was computed from.
	PnL float64
}

// Engine evaluates the exit hierarchy: take-profit, then floor protection,
// then stop-loss, then trend invalidation. First match wins; the rest are
// skipped for the tick.
type Engine struct {
	feeRate float64
}

// NewEngine creates an Engine using the venue taker fee rate for net P&L.
func NewEngine(feeRate float64) *Engine {
	return &Engine{feeRate: feeRate}
}

// Evaluate runs the hierarchy against pos at price. It mutates only the
// FloorActivated latch on pos; state transitions belong to the monitor.
//
// Rule order is a strict priority: a tick where both take-profit and
// stop-loss hold closes with reason take_profit. While the floor latch is
// set, stop-loss is never evaluated: the position is guaranteed profitable
// territory and the floor supersedes the loss bound.
func (e *Engine) Evaluate(pos *domain.Position, price float64) Verdict {
	pnl := pos.NetPnLAt(price, e.feeRate)
	v := Verdict{PnL: pnl}

	// 1. Take-profit.
	if pos.TakeProfitUSD > 0 && pnl >= pos.TakeProfitUSD {
		v.Close = true
		v.Reason = domain.CloseTakeProfit
		return v
	}

	// 2. Floor protection. The latch arms once P&L has ever reached the
	// activation threshold and is never reset. Activation and lock are
	// distinct thresholds (lock < activation) so a single tick cannot arm
	// the floor and close on it simultaneously.
	if pos.FloorActivateUSD > 0 && pnl >= pos.FloorActivateUSD && !pos.FloorActivated {
		pos.FloorActivated = true
		v.FloorArmed = true
	}
	if pos.FloorActivated {
		if pnl <= pos.FloorLockUSD {
			v.Close = true
			v.Reason = domain.CloseFloorProtection
		}
		return v
	}

	// 3. Stop-loss, only while the floor has never armed.
	if pos.StopLossPrice > 0 && stopCrossed(pos.Side, price, pos.StopLossPrice) {
		v.Close = true
		v.Reason = domain.CloseStopLoss
		return v
	}

	// 4. Trend invalidation, the optional structural exit.
	if pos.InvalidationLevel > 0 && levelBroken(pos.Side, price, pos.InvalidationLevel) {
		v.Close = true
		v.Reason = domain.CloseTrendInvalidation
	}
	return v
}

// stopCrossed reports whether price has crossed the stop on the losing side.
func stopCrossed(side domain.Side, price, stop float64) bool {
	if side == domain.SideLong {
		return price <= stop
	}
	return price >= stop
}

// levelBroken reports whether price has broken through the structural level
// against the position.
func levelBroken(side domain.Side, price, level float64) bool {
	if side == domain.SideLong {
		return price < level
	}
	return price > level
}
