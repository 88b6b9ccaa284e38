package domain

import "time"

// PositionState tracks the lifecycle of a position. Transitions are strictly
// forward: OPENING -> OPEN -> CLOSING -> CLOSED. A position in CLOSING or
// CLOSED is terminal for every observer except the monitor goroutine that won
// the transition.
type PositionState string

const (
	PositionOpening PositionState = "opening"
	PositionOpen    PositionState = "open"
	PositionClosing PositionState = "closing"
	PositionClosed  PositionState = "closed"
)

// CloseReason identifies which exit rule (or external event) closed a position.
type CloseReason string

const (
	CloseTakeProfit        CloseReason = "take_profit"
	CloseFloorProtection   CloseReason = "floor_protection"
	CloseStopLoss          CloseReason = "stop_loss"
	CloseTrendInvalidation CloseReason = "trend_invalidation"
	CloseExchangeFlat      CloseReason = "exchange_closed"
	CloseManual            CloseReason = "manual"
)

// Position is a risk-bounded exchange position. It is created jointly by the
// sizer and the gateway (the order must be confirmed before the position is
// OPEN) and is owned exclusively by the monitor thereafter.
type Position struct {
	ID       string
	Symbol   string
	Side     Side
	Strategy string
	SignalID string

	// EntryPrice is always > 0; entry-price resolution never stores the raw
	// zero a market-fill response may report.
	EntryPrice float64
	Quantity   float64
	Margin     float64 // allocated margin in quote currency
	Leverage   int

	// Exit thresholds, fixed at open time.
	TakeProfitUSD     float64 // close when net unrealized P&L reaches this
	FloorActivateUSD  float64 // arm the floor once P&L has ever reached this
	FloorLockUSD      float64 // once armed, close when P&L falls back to this
	StopLossPrice     float64 // fee-derived price realizing the target loss
	TargetLossUSD     float64 // the bounded net loss the stop price realizes
	InvalidationLevel float64 // structural level from the signal; 0 = none

	// FloorActivated is a one-way latch: once true it is never reset, and
	// stop-loss is no longer evaluated for this position.
	FloorActivated bool

	// Exchange reconciliation bookkeeping. FirstSeenOpen is set the first
	// time the venue reports a non-zero amount for this position;
	// ExchangeVerifiedAt records when that happened.
	FirstSeenOpen      bool
	ExchangeVerifiedAt time.Time

	State    PositionState
	OpenedAt time.Time

	// Live display fields, refreshed each monitoring tick.
	CurrentPrice  float64
	UnrealizedPnL float64

	// Set on close.
	CloseReason CloseReason
	ExitPrice   float64
	RealizedPnL float64
	EntryFee    float64
	ExitFee     float64
	ClosedAt    time.Time
}

// Notional returns the position size in quote-currency terms.
func (p *Position) Notional() float64 {
	return p.Margin * float64(p.Leverage)
}

// GrossPnLAt returns the side-aware gross (pre-fee) unrealized P&L at price.
func (p *Position) GrossPnLAt(price float64) float64 {
	if p.Side == SideLong {
		return (price - p.EntryPrice) * p.Quantity
	}
	return (p.EntryPrice - price) * p.Quantity
}

// NetPnLAt returns the unrealized P&L at price after entry and estimated exit
// fees, both quoted at their respective prices.
func (p *Position) NetPnLAt(price, feeRate float64) float64 {
	entryFee := p.EntryPrice * p.Quantity * feeRate
	exitFee := price * p.Quantity * feeRate
	return p.GrossPnLAt(price) - entryFee - exitFee
}

// HoldingTime returns how long the position has been (or was) held.
func (p *Position) HoldingTime(now time.Time) time.Duration {
	if p.State == PositionClosed && !p.ClosedAt.IsZero() {
		return p.ClosedAt.Sub(p.OpenedAt)
	}
	return now.Sub(p.OpenedAt)
}
