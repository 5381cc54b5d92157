package pipeline

import (
	"math"

	"github.com/tradeveda/tradeveda/internal/store"
)

const (
	defaultAllocation = 0.05
	minAllocation     = 0.02
	maxAllocation     = 0.15
	kellyLookback     = 30
	kellyMinTrades    = 5
)

// Allocation computes the half-Kelly capital fraction from recent
// closed trades in the symbol. With fewer than five trades the flat
// default applies; otherwise the Kelly criterion over the last thirty,
// halved and clamped to [2%, 15%].
func Allocation(trades []*store.ClosedTrade) float64 {
	if len(trades) < kellyMinTrades {
		return defaultAllocation
	}
	if len(trades) > kellyLookback {
		trades = trades[:kellyLookback]
	}

	var wins int
	var winSum, lossSum float64
	for _, t := range trades {
		if t.Pnl > 0 {
			wins++
			winSum += t.Pnl
		} else if t.Pnl < 0 {
			lossSum += -t.Pnl
		}
	}

	p := float64(wins) / float64(len(trades))

	// All-loss history clamps to the floor without dividing by zero.
	if wins == 0 {
		return minAllocation
	}

	var kelly float64
	if lossSum == 0 {
		// No losing trades yet: Kelly reduces to the win rate.
		kelly = p
	} else {
		avgWin := winSum / float64(wins)
		avgLoss := lossSum / float64(len(trades)-wins)
		b := avgWin / avgLoss
		kelly = p - (1-p)/b
	}

	return clampAllocation(kelly / 2)
}

// Quantity converts an allocation into a whole-share quantity, never
// below one share.
func Quantity(nav, allocation, ltp float64) int64 {
	if ltp <= 0 || nav <= 0 {
		return 1
	}
	qty := int64(math.Floor(nav * allocation / ltp))
	if qty < 1 {
		return 1
	}
	return qty
}

func clampAllocation(v float64) float64 {
	if v < minAllocation {
		return minAllocation
	}
	if v > maxAllocation {
		return maxAllocation
	}
	return v
}
