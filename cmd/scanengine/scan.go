package main

import (
	"fmt"
	"math"
	"strings"
)

// minBars is the minimum candle count required to scan a symbol
const minBars = 26

// candle is one OHLCV bar in wire format
type candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// symbolCandles pairs a symbol with its bar series
type symbolCandles struct {
	Symbol  string   `json:"symbol"`
	Candles []candle `json:"candles"`
}

// scanRequest is the scan command payload
type scanRequest struct {
	Symbols        []symbolCandles `json:"symbols"`
	Aggressiveness string          `json:"aggressiveness"`
}

// signal is one deterministic scan result
type signal struct {
	Symbol     string             `json:"symbol"`
	Direction  string             `json:"direction"`
	Confidence float64            `json:"confidence"`
	Entry      float64            `json:"entry"`
	StopLoss   float64            `json:"stop_loss"`
	Target     float64            `json:"target"`
	Indicators map[string]float64 `json:"indicators"`
	Votes      map[string]int     `json:"votes"`
}

// scanResult is the scan command response payload
type scanResult struct {
	Signals []signal `json:"signals"`
}

// confidenceFloor maps aggressiveness to the minimum confidence a
// candidate needs before it is emitted.
func confidenceFloor(aggressiveness string) float64 {
	switch strings.ToLower(aggressiveness) {
	case "high":
		return 0.50
	case "low":
		return 0.70
	default: // medium
		return 0.60
	}
}

// runScan evaluates every symbol series and returns the signals that
// clear the aggressiveness floor. The computation is fully deterministic.
func runScan(req scanRequest) (*scanResult, error) {
	if len(req.Symbols) == 0 {
		return nil, fmt.Errorf("scan requires at least one symbol")
	}

	floor := confidenceFloor(req.Aggressiveness)
	result := &scanResult{Signals: []signal{}}

	for _, sc := range req.Symbols {
		if len(sc.Candles) < minBars {
			continue
		}
		if sig, ok := scanSymbol(sc.Symbol, sc.Candles, floor); ok {
			result.Signals = append(result.Signals, sig)
		}
	}

	return result, nil
}

// scanSymbol computes indicators and votes for one series
func scanSymbol(symbol string, candles []candle, floor float64) (signal, bool) {
	n := len(candles)
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, c := range candles {
		high[i] = c.High
		low[i] = c.Low
		closes[i] = c.Close
		volumes[i] = c.Volume
	}

	lastClose := closes[n-1]

	ema9 := emaLast(closes, 9)
	ema21 := emaLast(closes, 21)
	rsi14 := rsiLast(closes, 14)
	macdHist, macdPrev := macdHistogram(closes)
	bbLower, _, bbUpper := bollingerBands(closes, 20)
	atr := atrLast(high, low, closes, 14)
	adx := adxLast(high, low, closes, 14)
	st := superTrend(high, low, closes, 10, 3.0)
	vw := vwap(high, low, closes, volumes)

	votes := map[string]int{
		"ema_cross":  voteSign(ema9 - ema21),
		"macd":       macdVote(macdHist, macdPrev),
		"supertrend": voteSign(lastClose - st),
		"bollinger":  bollingerVote(lastClose, bbLower, bbUpper),
		"rsi":        rsiVote(rsi14),
		"vwap":       voteSign(lastClose - vw),
		"volume":     volumeVote(volumes),
	}

	var sum, cast int
	for _, v := range votes {
		sum += v
		if v != 0 {
			cast++
		}
	}
	if sum == 0 || cast == 0 {
		return signal{}, false
	}

	direction := "BUY"
	if sum < 0 {
		direction = "SELL"
	}

	// Confidence is the fraction of cast votes agreeing with the
	// majority direction, nudged up when ADX confirms a real trend.
	agree := 0
	for _, v := range votes {
		if (direction == "BUY" && v > 0) || (direction == "SELL" && v < 0) {
			agree++
		}
	}
	confidence := float64(agree) / float64(cast)
	if adx >= 25 {
		confidence = math.Min(1.0, confidence+0.05)
	}
	confidence = math.Round(confidence*100) / 100

	if confidence < floor {
		return signal{}, false
	}

	entry := lastClose
	var stop, target float64
	if direction == "BUY" {
		stop = entry - 1.5*atr
		target = entry + 2.5*atr
	} else {
		stop = entry + 1.5*atr
		target = entry - 2.5*atr
	}

	return signal{
		Symbol:     symbol,
		Direction:  direction,
		Confidence: confidence,
		Entry:      round2(entry),
		StopLoss:   round2(stop),
		Target:     round2(target),
		Indicators: map[string]float64{
			"ema_9":          round2(ema9),
			"ema_21":         round2(ema21),
			"rsi_14":         round2(rsi14),
			"macd_histogram": round4(macdHist),
			"supertrend":     round2(st),
			"vwap":           round2(vw),
			"adx":            round2(adx),
			"atr":            round4(atr),
			"close":          round2(lastClose),
		},
		Votes: votes,
	}, true
}

// voteSign collapses a signed distance into a ternary vote
func voteSign(delta float64) int {
	switch {
	case delta > 0:
		return 1
	case delta < 0:
		return -1
	default:
		return 0
	}
}

// macdVote is bullish when the histogram is positive or rising
func macdVote(hist, prev float64) int {
	switch {
	case hist > 0:
		return 1
	case hist < 0 && hist > prev:
		return 0 // negative but recovering
	case hist < 0:
		return -1
	default:
		return 0
	}
}

// bollingerVote is mean-reverting: oversold near the lower band is
// bullish, overbought near the upper band is bearish.
func bollingerVote(close, lower, upper float64) int {
	if lower == 0 && upper == 0 {
		return 0
	}
	switch {
	case close <= lower:
		return 1
	case close >= upper:
		return -1
	default:
		return 0
	}
}

// rsiVote flags exhaustion at the classic 30/70 levels
func rsiVote(rsi float64) int {
	switch {
	case rsi == 0:
		return 0
	case rsi < 30:
		return 1
	case rsi > 70:
		return -1
	default:
		return 0
	}
}

// volumeVote confirms participation when the last bar's volume runs
// ahead of its 20-bar average.
func volumeVote(volumes []float64) int {
	n := len(volumes)
	window := 20
	if n < window+1 {
		return 0
	}

	var sum float64
	for _, v := range volumes[n-window-1 : n-1] {
		sum += v
	}
	avg := sum / float64(window)
	if avg > 0 && volumes[n-1] > 1.2*avg {
		return 1
	}
	return 0
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
