package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/futuresbot/internal/domain"
)

// Event types operators can filter on in the notify configuration.
const (
	EventPositionOpened = "position_opened"
	EventPositionClosed = "position_closed"
	EventBreakerTripped = "breaker_tripped"
	EventEngineStarted  = "engine_started"
	EventEngineStopped  = "engine_stopped"
)

// PositionOpened announces a newly opened position.
func (n *Notifier) PositionOpened(ctx context.Context, pos domain.Position) {
	title := fmt.Sprintf("Opened %s %s", pos.Side, pos.Symbol)
	msg := fmt.Sprintf(
		"entry %.6g, qty %.6g, margin %.2f @ %dx\nTP $%.2f | floor $%.2f/$%.2f | stop %.6g",
		pos.EntryPrice, pos.Quantity, pos.Margin, pos.Leverage,
		pos.TakeProfitUSD, pos.FloorActivateUSD, pos.FloorLockUSD, pos.StopLossPrice,
	)
	if err := n.Notify(ctx, EventPositionOpened, title, msg); err != nil {
		n.logger.Warn("position opened notification failed")
	}
}

// PositionClosed announces a finalized close with its reason and P&L.
func (n *Notifier) PositionClosed(ctx context.Context, pos domain.Position) {
	title := fmt.Sprintf("Closed %s %s: %+.2f USD", pos.Side, pos.Symbol, pos.RealizedPnL)
	msg := fmt.Sprintf(
		"reason %s\nentry %.6g -> exit %.6g, held %s",
		pos.CloseReason, pos.EntryPrice, pos.ExitPrice,
		pos.HoldingTime(time.Now()).Round(time.Second),
	)
	if err := n.Notify(ctx, EventPositionClosed, title, msg); err != nil {
		n.logger.Warn("position closed notification failed")
	}
}

// BreakerTripped announces that the safety breaker paused admissions.
func (n *Notifier) BreakerTripped(ctx context.Context, cause string) {
	title := "Trading paused"
	msg := fmt.Sprintf("circuit breaker tripped: %s", cause)
	if err := n.Notify(ctx, EventBreakerTripped, title, msg); err != nil {
		n.logger.Warn("breaker notification failed")
	}
}
