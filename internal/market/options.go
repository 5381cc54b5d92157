package market

import "sort"

// DeriveChainAggregates fills the computed fields of an options chain:
// total OI per side, put-call ratio, and the max-pain strike.
func DeriveChainAggregates(chain *OptionsChain) {
	if chain == nil || len(chain.Strikes) == 0 {
		return
	}

	sort.Slice(chain.Strikes, func(i, j int) bool {
		return chain.Strikes[i].Strike < chain.Strikes[j].Strike
	})

	chain.TotalCallOI = 0
	chain.TotalPutOI = 0
	for _, row := range chain.Strikes {
		chain.TotalCallOI += row.CE.OI
		chain.TotalPutOI += row.PE.OI
	}

	if chain.TotalCallOI > 0 {
		chain.PCR = float64(chain.TotalPutOI) / float64(chain.TotalCallOI)
	} else {
		chain.PCR = 0
	}

	chain.MaxPain = maxPainStrike(chain.Strikes)
}

// maxPainStrike finds the expiry price that minimizes the total payout
// owed by option writers. In-the-money calls pay (S - K), in-the-money
// puts pay (K - S), each weighted by open interest.
func maxPainStrike(strikes []StrikeRow) float64 {
	if len(strikes) == 0 {
		return 0
	}

	best := strikes[0].Strike
	bestPain := -1.0

	for _, candidate := range strikes {
		s := candidate.Strike
		pain := 0.0
		for _, row := range strikes {
			if row.Strike < s {
				pain += float64(row.CE.OI) * (s - row.Strike)
			}
			if row.Strike > s {
				pain += float64(row.PE.OI) * (row.Strike - s)
			}
		}
		if bestPain < 0 || pain < bestPain {
			bestPain = pain
			best = s
		}
	}

	return best
}
