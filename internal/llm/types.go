// Package llm provides the JSON-mode LLM client used to validate
// deterministic signals, generate fallback signals when the scan engine
// is unavailable, and summarize market briefings. All calls run through
// a circuit breaker so a flaky gateway never stalls the pipeline.
package llm

// Status reports the circuit breaker state. The pipeline treats an open
// circuit the same as an LLM failure: validation passes through and
// fallback generation is skipped.
type Status struct {
	CircuitOpen bool   `json:"circuitOpen"`
	State       string `json:"state"`
	Failures    uint32 `json:"failures"`
}

// ValidationResult is the JSON shape expected from a validate prompt.
// Gates is optional; when the model scores all nine gates itself the
// pipeline prefers its vector over the derived one.
type ValidationResult struct {
	Approve bool           `json:"approve"`
	Reason  string         `json:"reason"`
	Gates   map[string]int `json:"gates,omitempty"`
}

// SymbolQuote is one quote line in a fallback or briefing prompt
type SymbolQuote struct {
	Symbol        string  `json:"symbol"`
	LTP           float64 `json:"ltp"`
	ChangePercent float64 `json:"changePercent"`
}

// PositionSummary is one open position line in a fallback prompt
type PositionSummary struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Quantity      int64   `json:"quantity"`
	UnrealizedPnl float64 `json:"unrealizedPnl"`
}

// OptionsSummary is one options-chain digest line in an F&O fallback
// prompt.
type OptionsSummary struct {
	Symbol      string  `json:"symbol"`
	Spot        float64 `json:"spot"`
	PCR         float64 `json:"pcr"`
	MaxPain     float64 `json:"maxPain"`
	TotalCallOI int64   `json:"totalCallOI"`
	TotalPutOI  int64   `json:"totalPutOI"`
}

// FallbackContext carries the market picture handed to the LLM when the
// native engine produced nothing. Options is populated only for F&O
// roles.
type FallbackContext struct {
	Role         string
	Mode         string
	Quotes       []SymbolQuote
	RecentCloses map[string][]float64
	Positions    []PositionSummary
	Options      []OptionsSummary
	MaxSignals   int
}

// FallbackSignal is one LLM-proposed signal. Only BUY and SELL survive
// parsing; HOLD proposals are dropped. Gates is optional, as on
// ValidationResult.
type FallbackSignal struct {
	Symbol     string         `json:"symbol"`
	SignalType string         `json:"signal_type"`
	Confidence float64        `json:"confidence"`
	Entry      float64        `json:"entry"`
	StopLoss   float64        `json:"stop_loss"`
	Target     float64        `json:"target"`
	Rationale  string         `json:"rationale"`
	Gates      map[string]int `json:"gates,omitempty"`
}

// fallbackEnvelope is the JSON shape expected from a fallback prompt
type fallbackEnvelope struct {
	Signals []FallbackSignal `json:"signals"`
}

// IndexLine is one index row in a briefing prompt
type IndexLine struct {
	Name          string  `json:"name"`
	Value         float64 `json:"value"`
	ChangePercent float64 `json:"changePercent"`
}

// BriefingContext carries the market snapshot summarized into a briefing
type BriefingContext struct {
	Indices   []IndexLine
	VIX       float64
	VIXChange float64
	Gainers   []SymbolQuote
	Losers    []SymbolQuote
	Headlines []string
}

// briefingEnvelope is the JSON shape expected from a briefing prompt
type briefingEnvelope struct {
	Briefing string `json:"briefing"`
}
