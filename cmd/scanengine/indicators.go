package main

import (
	"math"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
)

// sliceToChan feeds a closed buffered channel, the input shape the
// cinar/indicator v2 streaming API expects.
func sliceToChan(values []float64) chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

// drain collects a result channel back into a slice
func drain(ch <-chan float64) []float64 {
	var out []float64
	for v := range ch {
		out = append(out, v)
	}
	return out
}

// emaLast returns the most recent EMA value for the period
func emaLast(closes []float64, period int) float64 {
	if len(closes) < period {
		return 0
	}
	ema := trend.NewEmaWithPeriod[float64](period)
	values := drain(ema.Compute(sliceToChan(closes)))
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

// rsiLast returns the most recent RSI value for the period
func rsiLast(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 0
	}
	rsi := momentum.NewRsiWithPeriod[float64](period)
	values := drain(rsi.Compute(sliceToChan(closes)))
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

// macdHistogram returns the last and previous MACD histogram values
func macdHistogram(closes []float64) (last, prev float64) {
	if len(closes) < 26+9 {
		return 0, 0
	}

	macd := trend.NewMacdWithPeriod[float64](12, 26, 9)
	macdChan, signalChan := macd.Compute(sliceToChan(closes))

	// Drain both channels in lockstep; the streaming indicators emit
	// paired values.
	var hist []float64
	for {
		m, mok := <-macdChan
		s, sok := <-signalChan
		if !mok || !sok {
			break
		}
		hist = append(hist, m-s)
	}

	if len(hist) == 0 {
		return 0, 0
	}
	last = hist[len(hist)-1]
	if len(hist) >= 2 {
		prev = hist[len(hist)-2]
	}
	return last, prev
}

// bollingerBands returns the latest lower/middle/upper band values
func bollingerBands(closes []float64, period int) (lower, middle, upper float64) {
	if len(closes) < period {
		return 0, 0, 0
	}

	bb := volatility.NewBollingerBandsWithPeriod[float64](period)
	lowerChan, middleChan, upperChan := bb.Compute(sliceToChan(closes))

	var lowers, middles, uppers []float64
	for {
		l, lok := <-lowerChan
		m, mok := <-middleChan
		u, uok := <-upperChan
		if !lok || !mok || !uok {
			break
		}
		lowers = append(lowers, l)
		middles = append(middles, m)
		uppers = append(uppers, u)
	}

	if len(lowers) == 0 {
		return 0, 0, 0
	}
	n := len(lowers) - 1
	return lowers[n], middles[n], uppers[n]
}

// atrLast computes the Average True Range with Wilder smoothing
func atrLast(high, low, closes []float64, period int) float64 {
	n := len(closes)
	if n < period+1 {
		return 0
	}

	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		tr[i] = math.Max(high[i]-low[i],
			math.Max(math.Abs(high[i]-closes[i-1]),
				math.Abs(low[i]-closes[i-1])))
	}

	smoothed := smoothWilder(tr, period)
	return smoothed[n-1]
}

// adxLast computes the Average Directional Index with Wilder smoothing
func adxLast(high, low, closes []float64, period int) float64 {
	n := len(closes)
	if n < period*2 {
		return 0
	}

	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)

	for i := 1; i < n; i++ {
		tr[i] = math.Max(high[i]-low[i],
			math.Max(math.Abs(high[i]-closes[i-1]),
				math.Abs(low[i]-closes[i-1])))

		upMove := high[i] - high[i-1]
		downMove := low[i-1] - low[i]

		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
	}

	smoothTR := smoothWilder(tr, period)
	smoothPlusDM := smoothWilder(plusDM, period)
	smoothMinusDM := smoothWilder(minusDM, period)

	dx := make([]float64, n)
	for i := period; i < n; i++ {
		if smoothTR[i] == 0 {
			continue
		}
		plusDI := 100 * smoothPlusDM[i] / smoothTR[i]
		minusDI := 100 * smoothMinusDM[i] / smoothTR[i]

		if diSum := plusDI + minusDI; diSum != 0 {
			dx[i] = 100 * math.Abs(plusDI-minusDI) / diSum
		}
	}

	adx := smoothWilder(dx, period)
	return adx[n-1]
}

// smoothWilder applies Wilder's smoothing method
func smoothWilder(data []float64, period int) []float64 {
	n := len(data)
	result := make([]float64, n)
	if n < period {
		return result
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	result[period-1] = sum / float64(period)

	for i := period; i < n; i++ {
		result[i] = (result[i-1]*float64(period-1) + data[i]) / float64(period)
	}

	return result
}

// superTrend computes the final SuperTrend line value using the standard
// (period, multiplier) band construction over ATR.
func superTrend(high, low, closes []float64, period int, multiplier float64) float64 {
	n := len(closes)
	if n < period+1 {
		return 0
	}

	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		tr[i] = math.Max(high[i]-low[i],
			math.Max(math.Abs(high[i]-closes[i-1]),
				math.Abs(low[i]-closes[i-1])))
	}
	atr := smoothWilder(tr, period)

	upper := make([]float64, n)
	lower := make([]float64, n)
	st := make([]float64, n)
	uptrend := make([]bool, n)

	for i := period; i < n; i++ {
		mid := (high[i] + low[i]) / 2
		basicUpper := mid + multiplier*atr[i]
		basicLower := mid - multiplier*atr[i]

		if i == period {
			upper[i] = basicUpper
			lower[i] = basicLower
			uptrend[i] = closes[i] > mid
		} else {
			if basicUpper < upper[i-1] || closes[i-1] > upper[i-1] {
				upper[i] = basicUpper
			} else {
				upper[i] = upper[i-1]
			}
			if basicLower > lower[i-1] || closes[i-1] < lower[i-1] {
				lower[i] = basicLower
			} else {
				lower[i] = lower[i-1]
			}

			uptrend[i] = uptrend[i-1]
			if uptrend[i-1] && closes[i] < lower[i] {
				uptrend[i] = false
			} else if !uptrend[i-1] && closes[i] > upper[i] {
				uptrend[i] = true
			}
		}

		if uptrend[i] {
			st[i] = lower[i]
		} else {
			st[i] = upper[i]
		}
	}

	return st[n-1]
}

// vwap computes the volume-weighted average price over the series
func vwap(high, low, closes, volumes []float64) float64 {
	var pv, vol float64
	for i := range closes {
		typical := (high[i] + low[i] + closes[i]) / 3
		pv += typical * volumes[i]
		vol += volumes[i]
	}
	if vol == 0 {
		return 0
	}
	return pv / vol
}
