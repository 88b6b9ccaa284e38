package exitrule

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/futuresbot/internal/domain"
)

const (
	// convergenceTolUSD is the acceptable gap between the realized loss at
	// the derived stop and the target loss.
	convergenceTolUSD = 0.005
	// maxIterations bounds the fixed-point loop.
	maxIterations = 25
	// fallbackMovePct is the conservative adverse move used when the
	// iteration fails to converge.
	fallbackMovePct = 0.02
)

// DeriveStopPrice solves for the exit price at which closing the position
// realizes exactly targetLoss net of fees, with fees charged on both the
// entry and exit notionals at their respective prices.
//
// The exit fee depends on the exit price being solved for, so the price is
// found by fixed-point iteration: estimate the exit fee from the current
// price guess, recompute the price, repeat until the realized loss is within
// tolerance. A fixed percentage move cannot bound the dollar loss across
// assets of different price levels; this derivation can. On non-convergence
// the stop falls back to a 2% adverse move.
//
// The returned price is clamped to a minimum gap from entry, the larger of
// the venue tick size and minGapFraction of entry, then aligned to the tick
// grid away from entry so rounding can never place the stop at entry. The
// alignment widens the gap, so the realized loss at the returned price can
// exceed targetLoss by up to the convergence tolerance plus one tick of
// notional (tickSize * quantity); on fine-tick symbols that is well under a
// cent, on coarse-tick symbols callers should expect the full tick.
func DeriveStopPrice(side domain.Side, entry, quantity, feeRate, targetLoss, tickSize, minGapFraction float64) (float64, error) {
	if entry <= 0 || quantity <= 0 {
		return 0, fmt.Errorf("exitrule: derive stop: entry %.8g quantity %.8g invalid", entry, quantity)
	}
	if targetLoss <= 0 {
		return 0, fmt.Errorf("exitrule: derive stop: target loss %.4f must be positive", targetLoss)
	}

	entryFee := entry * quantity * feeRate

	price := entry
	converged := false
	for i := 0; i < maxIterations; i++ {
		exitFee := price * quantity * feeRate
		// Solve gross(entry, p) - entryFee - exitFee = -targetLoss for p.
		move := (targetLoss - entryFee - exitFee) / quantity
		var next float64
		if side == domain.SideLong {
			next = entry - move
		} else {
			next = entry + move
		}
		if next <= 0 {
			break
		}
		price = next

		achieved := grossAt(side, entry, price, quantity) - entryFee - price*quantity*feeRate
		if math.Abs(achieved+targetLoss) <= convergenceTolUSD {
			converged = true
			break
		}
	}

	if !converged || price <= 0 {
		price = FallbackStopPrice(side, entry)
	}

	price = clampGap(side, entry, price, minGap(entry, tickSize, minGapFraction))
	price = alignToTick(side, price, tickSize)
	if price <= 0 {
		return 0, fmt.Errorf("exitrule: derive stop: result %.8g not positive", price)
	}
	return price, nil
}

// FallbackStopPrice returns the conservative fixed-percentage stop used when
// the fee-aware derivation cannot produce a price. It does not bound the
// dollar loss, but a filled position must always carry some stop.
func FallbackStopPrice(side domain.Side, entry float64) float64 {
	if side == domain.SideLong {
		return entry * (1 - fallbackMovePct)
	}
	return entry * (1 + fallbackMovePct)
}

// ValidateStopPrice checks the side-aware placement of a stop relative to
// entry: strictly below entry for a long, strictly above for a short, by at
// least the minimum gap.
func ValidateStopPrice(side domain.Side, entry, stop, tickSize, minGapFraction float64) error {
	gap := minGap(entry, tickSize, minGapFraction)
	if side == domain.SideLong {
		if stop >= entry-gap/2 {
			return fmt.Errorf("exitrule: long stop %.8g too close to entry %.8g (min gap %.8g)", stop, entry, gap)
		}
		return nil
	}
	if stop <= entry+gap/2 {
		return fmt.Errorf("exitrule: short stop %.8g too close to entry %.8g (min gap %.8g)", stop, entry, gap)
	}
	return nil
}

func grossAt(side domain.Side, entry, price, quantity float64) float64 {
	if side == domain.SideLong {
		return (price - entry) * quantity
	}
	return (entry - price) * quantity
}

// minGap returns the enforced minimum distance between entry and stop.
func minGap(entry, tickSize, minGapFraction float64) float64 {
	gap := entry * minGapFraction
	if tickSize > gap {
		gap = tickSize
	}
	return gap
}

// clampGap pushes the stop at least gap away from entry on the losing side.
func clampGap(side domain.Side, entry, price, gap float64) float64 {
	if side == domain.SideLong {
		return math.Min(price, entry-gap)
	}
	return math.Max(price, entry+gap)
}

// alignToTick snaps the stop to the venue tick grid, rounding away from
// entry so the alignment never shrinks the gap.
func alignToTick(side domain.Side, price, tickSize float64) float64 {
	if tickSize <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tickSize)
	steps := p.Div(t)
	if side == domain.SideLong {
		steps = steps.Floor()
	} else {
		steps = steps.Ceil()
	}
	out, _ := steps.Mul(t).Float64()
	return out
}
