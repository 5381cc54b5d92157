package main

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeTrendingCandles builds a steadily rising series with a volume
// spike on the final bar.
func makeTrendingCandles(n int, start, step float64) []candle {
	candles := make([]candle, n)
	price := start
	span := math.Abs(step)
	for i := 0; i < n; i++ {
		open, close := price, price+step
		candles[i] = candle{
			Timestamp: int64(1700000000 + i*300),
			Open:      open,
			High:      math.Max(open, close) + span*0.5,
			Low:       math.Min(open, close) - span*0.5,
			Close:     close,
			Volume:    100000,
		}
		price += step
	}
	candles[n-1].Volume = 250000
	return candles
}

func TestRunEndToEnd(t *testing.T) {
	payload := scanRequest{
		Symbols: []symbolCandles{
			{Symbol: "RELIANCE", Candles: makeTrendingCandles(60, 2500, 5)},
		},
		Aggressiveness: "high",
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	input, err := json.Marshal(map[string]interface{}{"command": "scan", "data": json.RawMessage(data)})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, run(bytes.NewReader(input), &out))

	var resp struct {
		Success bool       `json:"success"`
		Data    scanResult `json:"data"`
		Error   string     `json:"error"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.True(t, resp.Success, "error: %s", resp.Error)
	require.Len(t, resp.Data.Signals, 1)

	sig := resp.Data.Signals[0]
	assert.Equal(t, "RELIANCE", sig.Symbol)
	assert.Equal(t, "BUY", sig.Direction)
	assert.GreaterOrEqual(t, sig.Confidence, 0.5)
	assert.Less(t, sig.StopLoss, sig.Entry)
	assert.Greater(t, sig.Target, sig.Entry)
}

func TestRunUnknownCommand(t *testing.T) {
	input := []byte(`{"command":"frobnicate","data":{}}`)

	var out bytes.Buffer
	require.NoError(t, run(bytes.NewReader(input), &out))

	var resp response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "unknown command")
}

func TestRunInvalidJSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(strings.NewReader("garbage"), &out))

	var resp response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.False(t, resp.Success)
}

func TestScanSkipsShortSeries(t *testing.T) {
	result, err := runScan(scanRequest{
		Symbols: []symbolCandles{
			{Symbol: "TCS", Candles: makeTrendingCandles(minBars-1, 3500, 2)},
		},
		Aggressiveness: "medium",
	})
	require.NoError(t, err)
	assert.Empty(t, result.Signals)
}

func TestScanDeterminism(t *testing.T) {
	req := scanRequest{
		Symbols: []symbolCandles{
			{Symbol: "INFY", Candles: makeTrendingCandles(80, 1500, 3)},
		},
		Aggressiveness: "high",
	}

	first, err := runScan(req)
	require.NoError(t, err)
	second, err := runScan(req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestScanDowntrendSells(t *testing.T) {
	result, err := runScan(scanRequest{
		Symbols: []symbolCandles{
			{Symbol: "ITC", Candles: makeTrendingCandles(60, 500, -2)},
		},
		Aggressiveness: "high",
	})
	require.NoError(t, err)
	require.Len(t, result.Signals, 1)
	assert.Equal(t, "SELL", result.Signals[0].Direction)
}

func TestConfidenceFloor(t *testing.T) {
	assert.InDelta(t, 0.50, confidenceFloor("high"), 1e-9)
	assert.InDelta(t, 0.60, confidenceFloor("medium"), 1e-9)
	assert.InDelta(t, 0.60, confidenceFloor(""), 1e-9)
	assert.InDelta(t, 0.70, confidenceFloor("low"), 1e-9)
}

func TestRunRisk(t *testing.T) {
	report, err := runRisk(riskRequest{
		Returns:        []float64{0.01, -0.02, 0.015, -0.005, 0.008, -0.01, 0.02},
		InitialCapital: 1000000,
	})
	require.NoError(t, err)

	assert.Greater(t, report.Volatility, 0.0)
	assert.Greater(t, report.MaxDrawdownPercent, 0.0)
	assert.LessOrEqual(t, report.VaR95, 0.0)
	assert.False(t, math.IsNaN(report.SharpeRatio))
	assert.False(t, math.IsNaN(report.SortinoRatio))
}

func TestRunRiskEmptySeries(t *testing.T) {
	_, err := runRisk(riskRequest{})
	assert.Error(t, err)
}

func TestRunBacktest(t *testing.T) {
	result, err := runBacktest(backtestRequest{
		Symbol:         "RELIANCE",
		Candles:        makeTrendingCandles(120, 2500, 4),
		Aggressiveness: "high",
		LookaheadBars:  5,
	})
	require.NoError(t, err)
	assert.Greater(t, result.SignalsFired, 0)
	// A monotone uptrend should score BUY signals as wins.
	assert.Equal(t, result.SignalsFired, result.Wins+result.Losses)
	assert.Greater(t, result.HitRate, 0.5)
}

func TestWilderSmoothing(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	smoothed := smoothWilder(data, 4)

	// First smoothed value is the simple average of the first period.
	assert.InDelta(t, 2.5, smoothed[3], 1e-9)
	// Subsequent values blend prior smooth with the new observation.
	assert.InDelta(t, (2.5*3+5)/4, smoothed[4], 1e-9)
}

func TestVoteHelpers(t *testing.T) {
	assert.Equal(t, 1, voteSign(0.5))
	assert.Equal(t, -1, voteSign(-0.5))
	assert.Equal(t, 0, voteSign(0))

	assert.Equal(t, 1, rsiVote(25))
	assert.Equal(t, -1, rsiVote(75))
	assert.Equal(t, 0, rsiVote(50))
	assert.Equal(t, 0, rsiVote(0))

	assert.Equal(t, 1, bollingerVote(95, 96, 110))
	assert.Equal(t, -1, bollingerVote(111, 96, 110))
	assert.Equal(t, 0, bollingerVote(100, 96, 110))
}
