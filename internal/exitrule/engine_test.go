package exitrule

import (
	"testing"

	"github.com/alanyoungcy/futuresbot/internal/domain"
)

func longPosition() *domain.Position {
	return &domain.Position{
		Symbol:           "BTCUSDT",
		Side:             domain.SideLong,
		EntryPrice:       50_000,
		Quantity:         0.04,
		TakeProfitUSD:    20,
		FloorActivateUSD: 8,
		FloorLockUSD:     3,
		StopLossPrice:    49_740,
		State:            domain.PositionOpen,
	}
}

func TestEvaluateTakeProfit(t *testing.T) {
	e := NewEngine(0.0004)
	pos := longPosition()

	// 50_600: gross = 24, fees ~= 1.61, net ~= 22.4 >= 20.
	v := e.Evaluate(pos, 50_600)
	if !v.Close || v.Reason != domain.CloseTakeProfit {
		t.Fatalf("want take_profit close, got %+v", v)
	}
}

func TestEvaluateTakeProfitBeatsStopLoss(t *testing.T) {
	// Degenerate thresholds where one price satisfies both rules: the
	// hierarchy must report take-profit.
	e := NewEngine(0)
	pos := longPosition()
	pos.TakeProfitUSD = 1
	pos.StopLossPrice = 51_000

	v := e.Evaluate(pos, 50_100)
	if !v.Close || v.Reason != domain.CloseTakeProfit {
		t.Fatalf("want take_profit to win the tick, got %+v", v)
	}
}

func TestEvaluateFloorLatch(t *testing.T) {
	e := NewEngine(0)
	pos := longPosition()

	// Below activation: nothing fires.
	v := e.Evaluate(pos, 50_100) // pnl = 4
	if v.Close || v.FloorArmed || pos.FloorActivated {
		t.Fatalf("floor must not arm at pnl 4, got %+v", v)
	}

	// Crossing activation arms the latch without closing.
	v = e.Evaluate(pos, 50_250) // pnl = 10
	if v.Close {
		t.Fatalf("arming tick must not close, got %+v", v)
	}
	if !v.FloorArmed || !pos.FloorActivated {
		t.Fatal("floor latch should have armed")
	}

	// P&L dips but stays above the lock: hold.
	v = e.Evaluate(pos, 50_125) // pnl = 5
	if v.Close {
		t.Fatalf("pnl above lock must hold, got %+v", v)
	}

	// P&L falls to the lock: close with floor_protection.
	v = e.Evaluate(pos, 50_050) // pnl = 2
	if !v.Close || v.Reason != domain.CloseFloorProtection {
		t.Fatalf("want floor_protection close, got %+v", v)
	}
}

func TestEvaluateFloorSupersedesStopLoss(t *testing.T) {
	e := NewEngine(0)
	pos := longPosition()
	pos.FloorActivated = true

	// Price below the stop while the floor is armed: the floor rule owns
	// the exit and reports floor_protection, never stop_loss.
	v := e.Evaluate(pos, 49_000)
	if !v.Close || v.Reason != domain.CloseFloorProtection {
		t.Fatalf("want floor_protection while latched, got %+v", v)
	}
}

func TestEvaluateFloorLatchIsOneWay(t *testing.T) {
	e := NewEngine(0)
	pos := longPosition()
	pos.FloorLockUSD = -100 // keep the floor from closing in this test

	e.Evaluate(pos, 50_250) // arms
	if !pos.FloorActivated {
		t.Fatal("latch should be armed")
	}
	v := e.Evaluate(pos, 50_001) // pnl ~ 0, far below activation
	if !pos.FloorActivated {
		t.Fatal("latch must never reset")
	}
	if v.FloorArmed {
		t.Fatal("FloorArmed must only report the arming tick")
	}
}

func TestEvaluateStopLoss(t *testing.T) {
	e := NewEngine(0.0004)

	t.Run("long", func(t *testing.T) {
		pos := longPosition()
		v := e.Evaluate(pos, 49_700)
		if !v.Close || v.Reason != domain.CloseStopLoss {
			t.Fatalf("want stop_loss close, got %+v", v)
		}
	})

	t.Run("short", func(t *testing.T) {
		pos := longPosition()
		pos.Side = domain.SideShort
		pos.StopLossPrice = 50_260
		v := e.Evaluate(pos, 50_300)
		if !v.Close || v.Reason != domain.CloseStopLoss {
			t.Fatalf("want stop_loss close, got %+v", v)
		}
	})

	t.Run("exact_touch", func(t *testing.T) {
		pos := longPosition()
		v := e.Evaluate(pos, pos.StopLossPrice)
		if !v.Close || v.Reason != domain.CloseStopLoss {
			t.Fatalf("stop must fire on exact touch, got %+v", v)
		}
	})
}

func TestEvaluateTrendInvalidation(t *testing.T) {
	e := NewEngine(0)
	pos := longPosition()
	pos.StopLossPrice = 49_000 // below the structural level
	pos.InvalidationLevel = 49_500

	// At the level exactly: hold. The break must be strict.
	v := e.Evaluate(pos, 49_500)
	if v.Close {
		t.Fatalf("exact level touch must hold, got %+v", v)
	}

	v = e.Evaluate(pos, 49_499)
	if !v.Close || v.Reason != domain.CloseTrendInvalidation {
		t.Fatalf("want trend_invalidation close, got %+v", v)
	}
}

func TestEvaluateNoRules(t *testing.T) {
	e := NewEngine(0.0004)
	pos := longPosition()
	v := e.Evaluate(pos, 50_100)
	if v.Close {
		t.Fatalf("quiet tick must hold, got %+v", v)
	}
	if v.PnL == 0 {
		t.Fatal("verdict should carry the computed pnl")
	}
}
