package domain

// Account is the engine's process-wide view of trading capital and exposure.
// It is mutated only under the position registry's lock; callers outside the
// registry only ever see copies.
type Account struct {
	Balance           float64 // total account balance in quote currency
	MarginInUse       float64 // margin allocated to open positions
	OpenPositions     int
	OpenBySymbol      map[string]int
	DailyRealizedPnL  float64
	ConsecutiveLosses int
	EmergencyStop     bool
}

// FreeBalance returns balance not allocated as margin.
func (a Account) FreeBalance() float64 {
	free := a.Balance - a.MarginInUse
	if free < 0 {
		return 0
	}
	return free
}

// OpenFor returns the number of open positions for a symbol.
func (a Account) OpenFor(symbol string) int {
	if a.OpenBySymbol == nil {
		return 0
	}
	return a.OpenBySymbol[symbol]
}

// Clone returns a deep copy safe to hand outside the registry lock.
func (a Account) Clone() Account {
	out := a
	out.OpenBySymbol = make(map[string]int, len(a.OpenBySymbol))
	for k, v := range a.OpenBySymbol {
		out.OpenBySymbol[k] = v
	}
	return out
}
