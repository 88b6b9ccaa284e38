package monitor

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/futuresbot/internal/domain"
)

func testPosition(id, symbol string) *domain.Position {
	return &domain.Position{
		ID:         id,
		Symbol:     symbol,
		Side:       domain.SideLong,
		EntryPrice: 50_000,
		Quantity:   0.04,
		Margin:     200,
		Leverage:   10,
		State:      domain.PositionOpen,
		OpenedAt:   time.Now().UTC(),
	}
}

func mustReserveAndRegister(t *testing.T, r *Registry, token string, pos *domain.Position) {
	t.Helper()
	if err := r.Reserve(token, pos.Symbol, pos.Margin); err != nil {
		t.Fatalf("Reserve(%s): %v", token, err)
	}
	if err := r.Register(token, pos); err != nil {
		t.Fatalf("Register(%s): %v", token, err)
	}
}

func TestReserveCaps(t *testing.T) {
	r := NewRegistry(10_000, 2, 1)

	if err := r.Reserve("t1", "BTCUSDT", 200); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	// Per-symbol cap counts the reservation before any position exists.
	if err := r.Reserve("t2", "BTCUSDT", 200); !errors.Is(err, domain.ErrMaxPerSymbol) {
		t.Fatalf("err = %v, want ErrMaxPerSymbol", err)
	}
	if err := r.Reserve("t3", "ETHUSDT", 200); err != nil {
		t.Fatalf("second symbol reserve: %v", err)
	}
	// Global cap: two slots held.
	if err := r.Reserve("t4", "SOLUSDT", 200); !errors.Is(err, domain.ErrMaxPositions) {
		t.Fatalf("err = %v, want ErrMaxPositions", err)
	}

	// Releasing frees the slot again.
	r.Release("t3")
	if err := r.Reserve("t5", "SOLUSDT", 200); err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
}

func TestReserveInsufficientCapital(t *testing.T) {
	r := NewRegistry(300, 10, 10)

	if err := r.Reserve("t1", "BTCUSDT", 200); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	// 100 free left; the held margin counts against the balance.
	if err := r.Reserve("t2", "ETHUSDT", 200); !errors.Is(err, domain.ErrInsufficientFree) {
		t.Fatalf("err = %v, want ErrInsufficientFree", err)
	}
}

func TestReserveConcurrentLastSlot(t *testing.T) {
	r := NewRegistry(10_000, 1, 10)

	const attempts = 32
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.Reserve(fmt.Sprintf("t%d", i), "BTCUSDT", 10)
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("%d reservations won the last slot, want exactly 1", won)
	}
}

func TestRegisterRequiresReservation(t *testing.T) {
	r := NewRegistry(10_000, 5, 5)
	if err := r.Register("ghost", testPosition("p1", "BTCUSDT")); err == nil {
		t.Fatal("register without reservation must fail")
	}
}

func TestBeginCloseIsIdempotent(t *testing.T) {
	r := NewRegistry(10_000, 5, 5)
	mustReserveAndRegister(t, r, "t1", testPosition("p1", "BTCUSDT"))

	pos, err := r.BeginClose("p1", domain.CloseStopLoss)
	if err != nil {
		t.Fatalf("first BeginClose: %v", err)
	}
	if pos.State != domain.PositionClosing || pos.CloseReason != domain.CloseStopLoss {
		t.Fatalf("unexpected state after BeginClose: %+v", pos)
	}

	// The racing second closer loses and must not override the reason.
	if _, err := r.BeginClose("p1", domain.CloseExchangeFlat); !errors.Is(err, domain.ErrPositionTerminal) {
		t.Fatalf("err = %v, want ErrPositionTerminal", err)
	}
	if got, _ := r.Get("p1"); got.CloseReason != domain.CloseStopLoss {
		t.Fatalf("close reason overwritten to %s", got.CloseReason)
	}
}

func TestBeginCloseConcurrent(t *testing.T) {
	r := NewRegistry(10_000, 5, 5)
	mustReserveAndRegister(t, r, "t1", testPosition("p1", "BTCUSDT"))

	const closers = 16
	var wg sync.WaitGroup
	wins := make(chan domain.CloseReason, closers)
	for i := 0; i < closers; i++ {
		reason := domain.CloseStopLoss
		if i%2 == 1 {
			reason = domain.CloseExchangeFlat
		}
		wg.Add(1)
		go func(reason domain.CloseReason) {
			defer wg.Done()
			if _, err := r.BeginClose("p1", reason); err == nil {
				wins <- reason
			}
		}(reason)
	}
	wg.Wait()
	close(wins)

	var winners []domain.CloseReason
	for reason := range wins {
		winners = append(winners, reason)
	}
	if len(winners) != 1 {
		t.Fatalf("BeginClose succeeded %d times, want exactly 1", len(winners))
	}
	if got, _ := r.Get("p1"); got.CloseReason != winners[0] {
		t.Fatalf("close reason = %s, winner was %s", got.CloseReason, winners[0])
	}
}

func TestFinalizeSettlesAccount(t *testing.T) {
	r := NewRegistry(10_000, 5, 5)
	mustReserveAndRegister(t, r, "t1", testPosition("p1", "BTCUSDT"))

	if _, err := r.BeginClose("p1", domain.CloseTakeProfit); err != nil {
		t.Fatalf("BeginClose: %v", err)
	}
	closed, err := r.Finalize("p1", 50_600, 22.39, 0.8, 0.81)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if closed.State != domain.PositionClosed || closed.ExitPrice != 50_600 {
		t.Fatalf("unexpected closed position: %+v", closed)
	}

	acct := r.Account()
	if acct.OpenPositions != 0 || acct.MarginInUse != 0 {
		t.Fatalf("account not settled: %+v", acct)
	}
	if math.Abs(acct.Balance-10_022.39) > 1e-9 {
		t.Fatalf("balance = %v, want 10022.39", acct.Balance)
	}
	if acct.DailyRealizedPnL != 22.39 {
		t.Fatalf("daily pnl = %v, want 22.39", acct.DailyRealizedPnL)
	}
	if acct.ConsecutiveLosses != 0 {
		t.Fatalf("win must reset the loss streak, got %d", acct.ConsecutiveLosses)
	}
	if _, ok := r.Get("p1"); ok {
		t.Fatal("closed position still active")
	}
}

func TestFinalizeRequiresClosing(t *testing.T) {
	r := NewRegistry(10_000, 5, 5)
	mustReserveAndRegister(t, r, "t1", testPosition("p1", "BTCUSDT"))

	if _, err := r.Finalize("p1", 50_000, 0, 0, 0); !errors.Is(err, domain.ErrPositionTerminal) {
		t.Fatalf("err = %v, want ErrPositionTerminal for OPEN position", err)
	}
}

func TestFinalizeLossStreak(t *testing.T) {
	r := NewRegistry(10_000, 5, 5)

	for i, pnl := range []float64{-5, 0, -3} {
		id := fmt.Sprintf("p%d", i)
		mustReserveAndRegister(t, r, "t"+id, testPosition(id, "BTCUSDT"))
		if _, err := r.BeginClose(id, domain.CloseStopLoss); err != nil {
			t.Fatalf("BeginClose(%s): %v", id, err)
		}
		if _, err := r.Finalize(id, 49_000, pnl, 0.8, 0.78); err != nil {
			t.Fatalf("Finalize(%s): %v", id, err)
		}
	}

	// Break-even trades extend the streak; only a win resets it.
	if got := r.Account().ConsecutiveLosses; got != 3 {
		t.Fatalf("consecutive losses = %d, want 3", got)
	}
}

func TestMarkSeenOpenOnce(t *testing.T) {
	r := NewRegistry(10_000, 5, 5)
	mustReserveAndRegister(t, r, "t1", testPosition("p1", "BTCUSDT"))

	first := time.Now().Add(-time.Minute)
	r.MarkSeenOpen("p1", first)
	r.MarkSeenOpen("p1", time.Now())

	pos, _ := r.Get("p1")
	if !pos.FirstSeenOpen {
		t.Fatal("FirstSeenOpen not set")
	}
	if !pos.ExchangeVerifiedAt.Equal(first) {
		t.Fatalf("verification time overwritten: %v", pos.ExchangeVerifiedAt)
	}
}

func TestArmFloorIsOneWay(t *testing.T) {
	r := NewRegistry(10_000, 5, 5)
	mustReserveAndRegister(t, r, "t1", testPosition("p1", "BTCUSDT"))

	r.ArmFloor("p1")
	pos, _ := r.Get("p1")
	if !pos.FloorActivated {
		t.Fatal("floor not armed")
	}
}
