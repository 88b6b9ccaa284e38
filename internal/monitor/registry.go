// Package monitor contains the position registry and the polling loop that
// drives exit evaluation and exchange reconciliation.
package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/futuresbot/internal/domain"
)

// Registry owns the account counters and the active-position set. Every
// read-modify-write crosses a single mutex so concurrent admission and
// closure can never over-admit past the caps or double-book margin.
type Registry struct {
	maxPositions int
	maxPerSymbol int

	mu      sync.Mutex
	account domain.Account
	active  map[string]*domain.Position // keyed by position ID
	// reserved tracks admissions that passed Reserve but have not yet
	// registered an open position, so their slots and margin are held.
	reserved map[string]reservation
}

type reservation struct {
	symbol string
	margin float64
}

// NewRegistry creates a Registry with the given starting balance and caps.
func NewRegistry(startingBalance float64, maxPositions, maxPerSymbol int) *Registry {
	return &Registry{
		maxPositions: maxPositions,
		maxPerSymbol: maxPerSymbol,
		account: domain.Account{
			Balance:      startingBalance,
			OpenBySymbol: make(map[string]int),
		},
		active:   make(map[string]*domain.Position),
		reserved: make(map[string]reservation),
	}
}

// SetBalance overwrites the balance from a venue snapshot.
func (r *Registry) SetBalance(balance float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.account.Balance = balance
}

// Reserve atomically checks the caps and free capital for one prospective
// position and, on success, holds a slot and the margin under the given
// token until Register or Release. The check and the increment are one
// critical section; two concurrent admissions cannot both claim a last slot.
func (r *Registry) Reserve(token, symbol string, margin float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxPositions > 0 && r.openCountLocked() >= r.maxPositions {
		return domain.ErrMaxPositions
	}
	if r.maxPerSymbol > 0 && r.symbolCountLocked(symbol) >= r.maxPerSymbol {
		return domain.ErrMaxPerSymbol
	}
	if margin > r.freeBalanceLocked() {
		return domain.ErrInsufficientFree
	}

	r.reserved[token] = reservation{symbol: symbol, margin: margin}
	return nil
}

// Release drops a reservation whose open attempt failed.
func (r *Registry) Release(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reserved, token)
}

// Register converts a reservation into an active position after the venue
// confirmed the order.
func (r *Registry) Register(token string, pos *domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.reserved[token]; !ok {
		return fmt.Errorf("monitor: register without reservation %s", token)
	}
	delete(r.reserved, token)

	if _, exists := r.active[pos.ID]; exists {
		return fmt.Errorf("monitor: position %s: %w", pos.ID, domain.ErrAlreadyExists)
	}

	r.active[pos.ID] = pos
	r.account.MarginInUse += pos.Margin
	r.account.OpenPositions++
	r.account.OpenBySymbol[pos.Symbol]++
	return nil
}

// HasSymbol reports whether any active or reserved position exists for
// symbol.
func (r *Registry) HasSymbol(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.symbolCountLocked(symbol) > 0
}

// MaxPerSymbol returns the configured per-symbol position cap.
func (r *Registry) MaxPerSymbol() int {
	return r.maxPerSymbol
}

// BeginClose performs the OPEN -> CLOSING transition. Exactly one caller
// wins; every later caller sees ErrPositionTerminal and must not touch the
// position again. This is what makes a rule-triggered close racing an
// exchange-flat detection converge on one close record.
func (r *Registry) BeginClose(id string, reason domain.CloseReason) (*domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.active[id]
	if !ok {
		return nil, fmt.Errorf("monitor: position %s: %w", id, domain.ErrNotFound)
	}
	if pos.State == domain.PositionClosing || pos.State == domain.PositionClosed {
		return nil, domain.ErrPositionTerminal
	}

	pos.State = domain.PositionClosing
	pos.CloseReason = reason
	return pos, nil
}

// Finalize completes a close begun with BeginClose: records the exit,
// removes the position from the active set, and settles the account.
func (r *Registry) Finalize(id string, exitPrice, realizedPnL, entryFee, exitFee float64) (domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.active[id]
	if !ok {
		return domain.Position{}, fmt.Errorf("monitor: position %s: %w", id, domain.ErrNotFound)
	}
	if pos.State != domain.PositionClosing {
		return domain.Position{}, domain.ErrPositionTerminal
	}

	pos.State = domain.PositionClosed
	pos.ExitPrice = exitPrice
	pos.RealizedPnL = realizedPnL
	pos.EntryFee = entryFee
	pos.ExitFee = exitFee
	pos.ClosedAt = time.Now().UTC()

	delete(r.active, id)
	r.account.MarginInUse -= pos.Margin
	r.account.OpenPositions--
	r.account.OpenBySymbol[pos.Symbol]--
	if r.account.OpenBySymbol[pos.Symbol] <= 0 {
		delete(r.account.OpenBySymbol, pos.Symbol)
	}
	r.account.Balance += realizedPnL
	r.account.DailyRealizedPnL += realizedPnL
	if realizedPnL > 0 {
		r.account.ConsecutiveLosses = 0
	} else {
		r.account.ConsecutiveLosses++
	}

	return *pos, nil
}

// ArmFloor sets the one-way floor latch. It is never cleared.
func (r *Registry) ArmFloor(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pos, ok := r.active[id]; ok {
		pos.FloorActivated = true
	}
}

// MarkSeenOpen records the first venue confirmation that the position exists.
func (r *Registry) MarkSeenOpen(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pos, ok := r.active[id]; ok && !pos.FirstSeenOpen {
		pos.FirstSeenOpen = true
		pos.ExchangeVerifiedAt = at
	}
}

// UpdateTick refreshes the live display fields for one position.
func (r *Registry) UpdateTick(id string, price, unrealizedPnL float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pos, ok := r.active[id]; ok {
		pos.CurrentPrice = price
		pos.UnrealizedPnL = unrealizedPnL
	}
}

// Active returns a snapshot of the active positions.
func (r *Registry) Active() []domain.Position {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Position, 0, len(r.active))
	for _, pos := range r.active {
		out = append(out, *pos)
	}
	return out
}

// Get returns a copy of one active position.
func (r *Registry) Get(id string) (domain.Position, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.active[id]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Account returns a snapshot of the account counters.
func (r *Registry) Account() domain.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.account.Clone()
}

// ResetDaily zeroes the daily realized P&L counter.
func (r *Registry) ResetDaily() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.account.DailyRealizedPnL = 0
}

func (r *Registry) openCountLocked() int {
	return len(r.active) + len(r.reserved)
}

func (r *Registry) symbolCountLocked(symbol string) int {
	n := 0
	for _, pos := range r.active {
		if pos.Symbol == symbol {
			n++
		}
	}
	for _, res := range r.reserved {
		if res.symbol == symbol {
			n++
		}
	}
	return n
}

func (r *Registry) freeBalanceLocked() float64 {
	free := r.account.Balance - r.account.MarginInUse
	for _, res := range r.reserved {
		free -= res.margin
	}
	return free
}
