// Package engine invokes the out-of-process scan engine over stdin/stdout
// JSON. Each invocation spawns one process, bounded by a counting semaphore.
package engine

import "encoding/json"

// Commands understood by the scan engine binary
const (
	CommandScan            = "scan"
	CommandBacktest        = "backtest"
	CommandSignals         = "signals"
	CommandRisk            = "risk"
	CommandGreeks          = "greeks"
	CommandAdvancedSignals = "advanced_signals"
	CommandIVSurface       = "iv_surface"
	CommandOptimize        = "optimize"
	CommandWalkForward     = "walk_forward"
)

// Request is the single JSON object written to the engine's stdin
type Request struct {
	Command string      `json:"command"`
	Data    interface{} `json:"data"`
}

// Response is the envelope the engine writes to stdout
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error,omitempty"`
}

// CandleBar is one OHLCV bar in engine wire format
type CandleBar struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// SymbolCandles pairs a symbol with its bar series
type SymbolCandles struct {
	Symbol  string      `json:"symbol"`
	Candles []CandleBar `json:"candles"`
}

// ScanRequest is the payload for the scan command
type ScanRequest struct {
	Symbols        []SymbolCandles `json:"symbols"`
	Aggressiveness string          `json:"aggressiveness"` // high, medium, low
}

// Signal is one deterministic engine signal
type Signal struct {
	Symbol     string             `json:"symbol"`
	Direction  string             `json:"direction"` // BUY or SELL
	Confidence float64            `json:"confidence"`
	Entry      float64            `json:"entry"`
	StopLoss   float64            `json:"stop_loss"`
	Target     float64            `json:"target"`
	Indicators map[string]float64 `json:"indicators"`
	Votes      map[string]int     `json:"votes"` // +1 bullish, -1 bearish, 0 neutral
}

// ScanResult is the scan command response payload
type ScanResult struct {
	Signals []Signal `json:"signals"`
}

// RiskRequest is the payload for the risk command
type RiskRequest struct {
	Returns        []float64 `json:"returns"`
	InitialCapital float64   `json:"initial_capital"`
}

// RiskReport carries portfolio risk statistics from a returns series
type RiskReport struct {
	SharpeRatio        float64 `json:"sharpe_ratio"`
	SortinoRatio       float64 `json:"sortino_ratio"`
	VaR95              float64 `json:"var_95"`
	MaxDrawdownPercent float64 `json:"max_drawdown_percent"`
	Volatility         float64 `json:"volatility"`
}
