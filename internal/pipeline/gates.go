package pipeline

import (
	"math"

	"github.com/tradeveda/tradeveda/internal/engine"
)

// GateScores is the nine-gate score vector attached to every signal.
// Each gate is an integer in [0,100].
type GateScores struct {
	Trend       int // G1: ADX plus EMA-cross and SuperTrend votes
	Momentum    int // G2: RSI distance from 50 plus MACD vote
	Volatility  int // G3: bounded inverse of VIX plus Bollinger vote
	Volume      int // G4: confidence-weighted plus volume vote
	OptionsFlow int // G5: OI flow when available, else confidence proxy
	GlobalMacro int // G6: VIX-tiered constant
	FIIDII      int // G7: breadth proxy, else confidence proxy
	Sentiment   int // G8: fraction of agreeing votes
	Risk        int // G9: confidence plus risk-reward bonus
}

// gate key names as persisted in the gate_scores JSONB column
const (
	gateKeyTrend       = "g1_trend"
	gateKeyMomentum    = "g2_momentum"
	gateKeyVolatility  = "g3_volatility"
	gateKeyVolume      = "g4_volume"
	gateKeyOptionsFlow = "g5_options_flow"
	gateKeyGlobalMacro = "g6_global_macro"
	gateKeyFIIDII      = "g7_fii_dii"
	gateKeySentiment   = "g8_sentiment"
	gateKeyRisk        = "g9_risk"
)

var gateKeys = []string{
	gateKeyTrend, gateKeyMomentum, gateKeyVolatility, gateKeyVolume,
	gateKeyOptionsFlow, gateKeyGlobalMacro, gateKeyFIIDII,
	gateKeySentiment, gateKeyRisk,
}

// gatesComplete reports whether an LLM-supplied vector carries every
// gate key. Partial vectors are discarded in favour of DeriveGates.
func gatesComplete(values map[string]int) bool {
	if len(values) == 0 {
		return false
	}
	for _, key := range gateKeys {
		if _, ok := values[key]; !ok {
			return false
		}
	}
	return true
}

// DeriveGates computes the deterministic gate vector from an engine
// signal, the current VIX level and the symbol's put-call ratio. A zero
// VIX or PCR means that reading is unavailable and the neutral
// constants apply.
func DeriveGates(sig engine.Signal, vix, pcr float64) GateScores {
	dir := 1.0
	if sig.Direction == "SELL" {
		dir = -1.0
	}

	// aligned maps a ternary vote to +1/-1 relative to the signal's own
	// direction: a vote that agrees with the trade helps the gate.
	aligned := func(name string) float64 {
		return float64(sig.Votes[name]) * dir
	}

	adx := sig.Indicators["adx"]
	rsi := sig.Indicators["rsi_14"]

	g1 := clampGate(math.Round(1.2*adx) + 15*aligned("ema_cross") + 15*aligned("supertrend") + 20)

	g2 := clampGate(math.Round(2*math.Abs(rsi-50)) + 20*aligned("macd") + 20)

	g3base := 50.0
	if vix > 0 {
		g3base = 100 - 3*vix
	}
	g3 := clampGate(g3base + 15*aligned("bollinger"))

	g4 := clampGate(math.Round(sig.Confidence*60) + 20*aligned("volume"))

	// Put-heavy OI (PCR above 1) is contrarian-bullish, so it helps
	// longs and hurts shorts. Without OI data fall back to confidence.
	g5 := clampGate(math.Round(sig.Confidence*50) + 20)
	if pcr > 0 {
		g5 = clampGate(math.Round(50 + dir*(pcr-1)*100))
	}

	g6 := clampGate(float64(vixTier(vix)))

	g7 := clampGate(math.Round(sig.Confidence*50) + 25)

	g8 := clampGate(math.Round(agreeFraction(sig.Votes, dir)*80) + 10)

	g9 := clampGate(math.Round(sig.Confidence*80) + float64(riskRewardBonus(sig.Entry, sig.StopLoss, sig.Target)))

	return GateScores{
		Trend:       g1,
		Momentum:    g2,
		Volatility:  g3,
		Volume:      g4,
		OptionsFlow: g5,
		GlobalMacro: g6,
		FIIDII:      g7,
		Sentiment:   g8,
		Risk:        g9,
	}
}

// GatesFromLLM builds a gate vector from LLM-supplied values, clamping
// each to [0,100]. Missing keys come up zero; callers should prefer
// DeriveGates when the LLM vector is incomplete.
func GatesFromLLM(values map[string]int) GateScores {
	at := func(key string) int {
		return clampGate(float64(values[key]))
	}
	return GateScores{
		Trend:       at(gateKeyTrend),
		Momentum:    at(gateKeyMomentum),
		Volatility:  at(gateKeyVolatility),
		Volume:      at(gateKeyVolume),
		OptionsFlow: at(gateKeyOptionsFlow),
		GlobalMacro: at(gateKeyGlobalMacro),
		FIIDII:      at(gateKeyFIIDII),
		Sentiment:   at(gateKeySentiment),
		Risk:        at(gateKeyRisk),
	}
}

// Map serializes the vector plus provenance for the gate_scores column.
// Every persisted signal carries all nine keys.
func (g GateScores) Map(source string, indicators map[string]float64, votes map[string]int) map[string]interface{} {
	m := map[string]interface{}{
		gateKeyTrend:       g.Trend,
		gateKeyMomentum:    g.Momentum,
		gateKeyVolatility:  g.Volatility,
		gateKeyVolume:      g.Volume,
		gateKeyOptionsFlow: g.OptionsFlow,
		gateKeyGlobalMacro: g.GlobalMacro,
		gateKeyFIIDII:      g.FIIDII,
		gateKeySentiment:   g.Sentiment,
		gateKeyRisk:        g.Risk,
	}
	if source != "" {
		m["source"] = source
	}
	if len(indicators) > 0 {
		m["indicators"] = indicators
	}
	if len(votes) > 0 {
		m["votes"] = votes
	}
	return m
}

// vixTier maps the VIX level to the macro-regime constant
func vixTier(vix float64) int {
	switch {
	case vix <= 0:
		return 50 // unavailable
	case vix < 12:
		return 85
	case vix < 16:
		return 70
	case vix < 20:
		return 55
	case vix < 25:
		return 40
	default:
		return 25
	}
}

// agreeFraction is the share of cast votes pointing with the trade
func agreeFraction(votes map[string]int, dir float64) float64 {
	var cast, agree int
	for _, v := range votes {
		if v == 0 {
			continue
		}
		cast++
		if float64(v)*dir > 0 {
			agree++
		}
	}
	if cast == 0 {
		return 0
	}
	return float64(agree) / float64(cast)
}

// riskRewardBonus rewards wide targets over tight stops, capped at 20
func riskRewardBonus(entry, stop, target float64) int {
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return 0
	}
	rr := math.Abs(target-entry) / risk
	bonus := int(math.Round(rr * 8))
	if bonus > 20 {
		bonus = 20
	}
	return bonus
}

func clampGate(v float64) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(v)
}
