package domain

import "time"

// Side is the direction of a candidate trade or an open position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the other direction.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Valid reports whether the side is one of the two known directions.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// Signal is an externally produced trade candidate. It is immutable once
// admitted and consumed exactly once.
type Signal struct {
	ID              string // UUID assigned by the producer (or on ingest)
	Symbol          string
	Side            Side
	Confidence      float64 // model confidence in [0,1]
	Strategy        string  // producing strategy tag
	Source          string  // origin tag, e.g. "scanner", "replay"
	ReferencePrice  float64 // price the producer saw when generating
	SuggestedProfit float64 // producer's profit target in quote currency, advisory
	SuggestedStop   float64 // producer's structural stop level (price), advisory
	Tradable        bool    // producer flagged the symbol as tradable
	RealData        bool    // backed by real (non-synthetic) market data
	GeneratedAt     time.Time
}

// Age returns how long ago the signal was generated.
func (s Signal) Age(now time.Time) time.Duration {
	return now.Sub(s.GeneratedAt)
}

// Complete reports whether every field required for admission is present.
// Confidence zero is allowed; a zero reference price or timestamp is not.
func (s Signal) Complete() bool {
	return s.Symbol != "" &&
		s.Side.Valid() &&
		s.ReferencePrice > 0 &&
		!s.GeneratedAt.IsZero() &&
		s.Confidence >= 0 && s.Confidence <= 1
}
