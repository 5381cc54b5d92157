package pipeline

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeveda/tradeveda/internal/engine"
)

func sampleSignal() engine.Signal {
	return engine.Signal{
		Symbol:     "RELIANCE",
		Direction:  "BUY",
		Confidence: 0.72,
		Entry:      2500,
		StopLoss:   2450,
		Target:     2600,
		Indicators: map[string]float64{
			"adx":    28,
			"rsi_14": 62,
		},
		Votes: map[string]int{
			"ema_cross":  1,
			"macd":       1,
			"supertrend": 1,
			"bollinger":  0,
			"rsi":        0,
			"vwap":       1,
			"volume":     1,
		},
	}
}

func TestDeriveGatesAllInRange(t *testing.T) {
	gates := DeriveGates(sampleSignal(), 13.5, 0)

	for name, v := range map[string]int{
		"trend": gates.Trend, "momentum": gates.Momentum, "volatility": gates.Volatility,
		"volume": gates.Volume, "options_flow": gates.OptionsFlow, "global_macro": gates.GlobalMacro,
		"fii_dii": gates.FIIDII, "sentiment": gates.Sentiment, "risk": gates.Risk,
	} {
		assert.GreaterOrEqual(t, v, 0, name)
		assert.LessOrEqual(t, v, 100, name)
	}
}

func TestDeriveGatesSpotValues(t *testing.T) {
	gates := DeriveGates(sampleSignal(), 13.5, 0)

	// G5 = round(0.72*50) + 20 = 56, G7 = 36 + 25 = 61.
	assert.Equal(t, 56, gates.OptionsFlow)
	assert.Equal(t, 61, gates.FIIDII)
	// VIX 13.5 sits in the 12-16 tier.
	assert.Equal(t, 70, gates.GlobalMacro)
	// All five cast votes agree with the BUY: 80 + 10.
	assert.Equal(t, 90, gates.Sentiment)
	// G9 = round(0.72*80) + min(20, round(2.0*8)) = 58 + 16.
	assert.Equal(t, 74, gates.Risk)
}

func TestDeriveGatesSellAlignment(t *testing.T) {
	sig := sampleSignal()
	sig.Direction = "SELL"
	// All bullish votes now oppose the trade; sentiment collapses.
	gates := DeriveGates(sig, 13.5, 0)
	assert.Equal(t, 10, gates.Sentiment)
}

func TestDeriveGatesZeroVIX(t *testing.T) {
	gates := DeriveGates(sampleSignal(), 0, 0)
	assert.Equal(t, 50, gates.GlobalMacro)
}

func TestDeriveGatesOptionsFlowFromPCR(t *testing.T) {
	sig := sampleSignal()

	// Put-heavy OI lifts longs: 50 + (1.4-1)*100 = 90.
	gates := DeriveGates(sig, 13.5, 1.4)
	assert.Equal(t, 90, gates.OptionsFlow)

	// The same OI reading works against shorts: 50 - 40 = 10.
	sig.Direction = "SELL"
	gates = DeriveGates(sig, 13.5, 1.4)
	assert.Equal(t, 10, gates.OptionsFlow)

	// Call-heavy OI below parity flips the signs.
	sig.Direction = "BUY"
	gates = DeriveGates(sig, 13.5, 0.6)
	assert.Equal(t, 10, gates.OptionsFlow)

	// No OI reading keeps the confidence proxy: round(0.72*50) + 20.
	gates = DeriveGates(sig, 13.5, 0)
	assert.Equal(t, 56, gates.OptionsFlow)
}

func TestGatesComplete(t *testing.T) {
	full := make(map[string]int, len(gateKeys))
	for _, k := range gateKeys {
		full[k] = 50
	}
	assert.True(t, gatesComplete(full))

	delete(full, "g5_options_flow")
	assert.False(t, gatesComplete(full))

	assert.False(t, gatesComplete(nil))
	assert.False(t, gatesComplete(map[string]int{}))
}

func TestGatesFromLLMClamps(t *testing.T) {
	gates := GatesFromLLM(map[string]int{
		"g1_trend":    150,
		"g2_momentum": -20,
		"g9_risk":     77,
	})
	assert.Equal(t, 100, gates.Trend)
	assert.Equal(t, 0, gates.Momentum)
	assert.Equal(t, 77, gates.Risk)
	assert.Equal(t, 0, gates.Sentiment, "missing keys come up zero")
}

func TestGateMapCarriesAllNineKeys(t *testing.T) {
	sig := sampleSignal()
	m := DeriveGates(sig, 13.5, 0).Map("engine", sig.Indicators, sig.Votes)

	for _, key := range []string{
		"g1_trend", "g2_momentum", "g3_volatility", "g4_volume", "g5_options_flow",
		"g6_global_macro", "g7_fii_dii", "g8_sentiment", "g9_risk",
	} {
		v, ok := m[key]
		require.True(t, ok, key)
		iv, ok := v.(int)
		require.True(t, ok, key)
		assert.GreaterOrEqual(t, iv, 0)
		assert.LessOrEqual(t, iv, 100)
	}
	assert.Equal(t, "engine", m["source"])
	assert.NotNil(t, m["indicators"])
	assert.NotNil(t, m["votes"])
}

func TestGateMapOmitsEmptyProvenance(t *testing.T) {
	m := GateScores{}.Map("", nil, nil)
	assert.Len(t, m, 9)
}

func TestDeriveGatesProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	buildSignal := func(conf, adx, rsi float64, emaVote, stVote, macdVote int, entry float64, sell bool) engine.Signal {
		direction := "BUY"
		stop, target := entry*0.98, entry*1.03
		if sell {
			direction = "SELL"
			stop, target = entry*1.02, entry*0.97
		}
		return engine.Signal{
			Symbol:     "X",
			Direction:  direction,
			Confidence: conf,
			Entry:      entry,
			StopLoss:   stop,
			Target:     target,
			Indicators: map[string]float64{"adx": adx, "rsi_14": rsi},
			Votes: map[string]int{
				"ema_cross":  emaVote,
				"supertrend": stVote,
				"macd":       macdVote,
			},
		}
	}

	properties.Property("every gate is in [0,100]", prop.ForAll(
		func(conf, adx, rsi float64, emaVote, stVote, macdVote int, entry, vix, pcr float64, sell bool) bool {
			g := DeriveGates(buildSignal(conf, adx, rsi, emaVote, stVote, macdVote, entry, sell), vix, pcr)
			for _, v := range []int{g.Trend, g.Momentum, g.Volatility, g.Volume, g.OptionsFlow, g.GlobalMacro, g.FIIDII, g.Sentiment, g.Risk} {
				if v < 0 || v > 100 {
					return false
				}
			}
			return true
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 60),
		gen.Float64Range(0, 100),
		gen.IntRange(-1, 1),
		gen.IntRange(-1, 1),
		gen.IntRange(-1, 1),
		gen.Float64Range(1, 10000),
		gen.Float64Range(0, 40),
		gen.Float64Range(0, 3),
		gen.Bool(),
	))

	properties.Property("derivation is deterministic", prop.ForAll(
		func(conf, adx, rsi float64, emaVote, stVote, macdVote int, entry, vix, pcr float64, sell bool) bool {
			sig := buildSignal(conf, adx, rsi, emaVote, stVote, macdVote, entry, sell)
			return DeriveGates(sig, vix, pcr) == DeriveGates(sig, vix, pcr)
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 60),
		gen.Float64Range(0, 100),
		gen.IntRange(-1, 1),
		gen.IntRange(-1, 1),
		gen.IntRange(-1, 1),
		gen.Float64Range(1, 10000),
		gen.Float64Range(0, 40),
		gen.Float64Range(0, 3),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
