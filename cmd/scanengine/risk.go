package main

import (
	"fmt"
	"math"
	"sort"
)

// tradingDaysPerYear annualizes per-bar statistics
const tradingDaysPerYear = 252

// riskRequest is the risk command payload
type riskRequest struct {
	Returns        []float64 `json:"returns"`
	InitialCapital float64   `json:"initial_capital"`
}

// riskReport is the risk command response payload
type riskReport struct {
	SharpeRatio        float64 `json:"sharpe_ratio"`
	SortinoRatio       float64 `json:"sortino_ratio"`
	VaR95              float64 `json:"var_95"`
	MaxDrawdownPercent float64 `json:"max_drawdown_percent"`
	Volatility         float64 `json:"volatility"`
}

// runRisk computes portfolio risk statistics from a returns series
func runRisk(req riskRequest) (*riskReport, error) {
	if len(req.Returns) == 0 {
		return nil, fmt.Errorf("risk requires a non-empty returns series")
	}
	if req.InitialCapital <= 0 {
		req.InitialCapital = 100000
	}

	mean := meanOf(req.Returns)
	std := stdDev(req.Returns, mean)
	downside := downsideDev(req.Returns)

	report := &riskReport{
		Volatility: round4(std * math.Sqrt(tradingDaysPerYear)),
		VaR95:      round4(percentile(req.Returns, 0.05)),
	}

	if std > 0 {
		report.SharpeRatio = round4(mean / std * math.Sqrt(tradingDaysPerYear))
	}
	if downside > 0 {
		report.SortinoRatio = round4(mean / downside * math.Sqrt(tradingDaysPerYear))
	}

	// Max drawdown over the compounded equity curve.
	equity := req.InitialCapital
	peak := equity
	maxDD := 0.0
	for _, r := range req.Returns {
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	report.MaxDrawdownPercent = round2(maxDD * 100)

	return report, nil
}

// backtestRequest is the backtest command payload: replay a candle
// series through the scanner and report the hypothetical hit rate.
type backtestRequest struct {
	Symbol         string   `json:"symbol"`
	Candles        []candle `json:"candles"`
	Aggressiveness string   `json:"aggressiveness"`
	LookaheadBars  int      `json:"lookahead_bars"`
}

// backtestResult summarizes a walk through the series
type backtestResult struct {
	Symbol       string  `json:"symbol"`
	SignalsFired int     `json:"signals_fired"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	HitRate      float64 `json:"hit_rate"`
}

// runBacktest replays the scanner over expanding windows of the series
// and scores each signal against the close lookahead bars later.
func runBacktest(req backtestRequest) (*backtestResult, error) {
	if len(req.Candles) < minBars*2 {
		return nil, fmt.Errorf("backtest requires at least %d candles", minBars*2)
	}

	lookahead := req.LookaheadBars
	if lookahead <= 0 {
		lookahead = 5
	}
	floor := confidenceFloor(req.Aggressiveness)

	result := &backtestResult{Symbol: req.Symbol}

	for end := minBars; end+lookahead < len(req.Candles); end++ {
		sig, ok := scanSymbol(req.Symbol, req.Candles[:end], floor)
		if !ok {
			continue
		}

		result.SignalsFired++
		future := req.Candles[end+lookahead-1].Close
		entry := req.Candles[end-1].Close

		won := (sig.Direction == "BUY" && future > entry) ||
			(sig.Direction == "SELL" && future < entry)
		if won {
			result.Wins++
		} else {
			result.Losses++
		}
	}

	if result.SignalsFired > 0 {
		result.HitRate = round4(float64(result.Wins) / float64(result.SignalsFired))
	}

	return result, nil
}

func meanOf(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(values)-1))
}

// downsideDev is the deviation of negative returns only, the Sortino
// denominator.
func downsideDev(values []float64) float64 {
	var sq float64
	var count int
	for _, v := range values {
		if v < 0 {
			sq += v * v
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sq / float64(count))
}

// percentile returns the q-quantile of the series (q in [0,1])
func percentile(values []float64, q float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	idx := int(math.Floor(q * float64(len(sorted)-1)))
	return sorted[idx]
}
