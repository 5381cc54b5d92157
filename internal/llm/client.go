package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/tradeveda/tradeveda/internal/metrics"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// reaching the gateway.
var ErrCircuitOpen = errors.New("llm circuit breaker is open")

// Config contains LLM client settings
type Config struct {
	BaseURL       string
	APIKey        string
	Model         string
	Temperature   float64
	MaxTokens     int
	Timeout       time.Duration
	MinConfidence float64 // floor applied to fallback signals
	MaxSignals    int     // hard cap on fallback signals per call
	Prompts       *Registry
}

// Client talks to an OpenAI-compatible gateway in JSON mode
type Client struct {
	api           *openai.Client
	model         string
	temperature   float32
	maxTokens     int
	timeout       time.Duration
	minConfidence float64
	maxSignals    int
	prompts       *Registry
	breaker       *gobreaker.CircuitBreaker
}

// NewClient creates a new LLM client with its circuit breaker
func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = 0.6
	}
	if cfg.MaxSignals == 0 {
		cfg.MaxSignals = 5
	}
	if cfg.Prompts == nil {
		cfg.Prompts = DefaultRegistry()
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "llm",
		Interval: 10 * time.Second,
		Timeout:  60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetLLMCircuitOpen(to == gobreaker.StateOpen)
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("LLM circuit breaker state changed")
		},
	})

	return &Client{
		api:           openai.NewClientWithConfig(apiCfg),
		model:         cfg.Model,
		temperature:   float32(cfg.Temperature),
		maxTokens:     cfg.MaxTokens,
		timeout:       cfg.Timeout,
		minConfidence: cfg.MinConfidence,
		maxSignals:    cfg.MaxSignals,
		prompts:       cfg.Prompts,
		breaker:       breaker,
	}
}

// Status reports the breaker state for health endpoints and the pipeline
func (c *Client) Status() Status {
	state := c.breaker.State()
	return Status{
		CircuitOpen: state == gobreaker.StateOpen,
		State:       state.String(),
		Failures:    c.breaker.Counts().TotalFailures,
	}
}

// Complete sends one system+user exchange and returns the raw content.
// Every call runs through the circuit breaker.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Temperature: c.temperature,
			MaxTokens:   c.maxTokens,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("llm returned no choices")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", ErrCircuitOpen
		}
		return "", fmt.Errorf("llm completion failed: %w", err)
	}

	log.Debug().
		Str("model", c.model).
		Dur("duration", time.Since(start)).
		Msg("LLM completion succeeded")

	return result.(string), nil
}

// ValidateSignal asks the LLM to approve or reject one deterministic
// signal. The caller maps errors to pass-through and rejections to a
// confidence penalty.
func (c *Client) ValidateSignal(ctx context.Context, role string, review SignalReview) (ValidationResult, error) {
	start := time.Now()
	content, err := c.Complete(ctx, c.prompts.System(role), buildValidatePrompt(review))
	metrics.RecordLLMCall(metrics.LLMCallValidate, float64(time.Since(start).Milliseconds()), err)
	if err != nil {
		return ValidationResult{}, err
	}

	var result ValidationResult
	if err := json.Unmarshal(extractJSON(content), &result); err != nil {
		return ValidationResult{}, fmt.Errorf("failed to parse validation response: %w", err)
	}
	return result, nil
}

// SignalReview is the deterministic signal handed to ValidateSignal
type SignalReview struct {
	Symbol     string
	SignalType string
	Confidence float64
	Entry      float64
	StopLoss   float64
	Target     float64
	Indicators map[string]float64
	Votes      map[string]int
}

// GenerateSignals asks the LLM to propose signals directly from quotes
// and recent closes. Used only when the native engine failed or found
// nothing. Proposals below the confidence floor or beyond the cap are
// dropped.
func (c *Client) GenerateSignals(ctx context.Context, fc FallbackContext) ([]FallbackSignal, error) {
	if fc.MaxSignals <= 0 || fc.MaxSignals > c.maxSignals {
		fc.MaxSignals = c.maxSignals
	}

	start := time.Now()
	content, err := c.Complete(ctx, c.prompts.System(fc.Role), buildFallbackPrompt(fc))
	metrics.RecordLLMCall(metrics.LLMCallFallback, float64(time.Since(start).Milliseconds()), err)
	if err != nil {
		return nil, err
	}

	var envelope fallbackEnvelope
	if err := json.Unmarshal(extractJSON(content), &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse fallback response: %w", err)
	}

	signals := make([]FallbackSignal, 0, len(envelope.Signals))
	for _, sig := range envelope.Signals {
		sig.SignalType = strings.ToUpper(strings.TrimSpace(sig.SignalType))
		if sig.SignalType != "BUY" && sig.SignalType != "SELL" {
			continue
		}
		if sig.Symbol == "" || sig.Confidence < c.minConfidence {
			continue
		}
		if sig.Confidence > 1 {
			sig.Confidence = 1
		}
		signals = append(signals, sig)
		if len(signals) >= fc.MaxSignals {
			break
		}
	}

	log.Debug().
		Int("proposed", len(envelope.Signals)).
		Int("accepted", len(signals)).
		Msg("LLM fallback signals parsed")

	return signals, nil
}

// GenerateBriefing summarizes a market snapshot into a short briefing
func (c *Client) GenerateBriefing(ctx context.Context, bc BriefingContext) (string, error) {
	start := time.Now()
	content, err := c.Complete(ctx, c.prompts.Briefing(), buildBriefingPrompt(bc))
	metrics.RecordLLMCall(metrics.LLMCallBriefing, float64(time.Since(start).Milliseconds()), err)
	if err != nil {
		return "", err
	}

	var envelope briefingEnvelope
	if err := json.Unmarshal(extractJSON(content), &envelope); err != nil {
		return "", fmt.Errorf("failed to parse briefing response: %w", err)
	}
	if envelope.Briefing == "" {
		return "", fmt.Errorf("briefing response was empty")
	}
	return envelope.Briefing, nil
}

func buildValidatePrompt(review SignalReview) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review this signal for %s.\n\n", review.Symbol)
	fmt.Fprintf(&b, "Type: %s\nConfidence: %.2f\nEntry: %.2f\nStop loss: %.2f\nTarget: %.2f\n",
		review.SignalType, review.Confidence, review.Entry, review.StopLoss, review.Target)

	if len(review.Indicators) > 0 {
		b.WriteString("\nIndicators:\n")
		for _, k := range sortedKeys(review.Indicators) {
			fmt.Fprintf(&b, "  %s: %.4f\n", k, review.Indicators[k])
		}
	}
	if len(review.Votes) > 0 {
		b.WriteString("\nVotes:\n")
		for _, k := range sortedVoteKeys(review.Votes) {
			fmt.Fprintf(&b, "  %s: %+d\n", k, review.Votes[k])
		}
	}

	b.WriteString("\nRespond with JSON: {\"approve\": true|false, \"reason\": \"one sentence\"}.\n")
	b.WriteString(gatesInstruction)
	return b.String()
}

// gatesInstruction asks for the optional nine-gate vector. Partial
// vectors are ignored downstream, so all-or-nothing is the contract.
const gatesInstruction = "You may also include \"gates\": an object scoring " +
	"g1_trend, g2_momentum, g3_volatility, g4_volume, g5_options_flow, " +
	"g6_global_macro, g7_fii_dii, g8_sentiment and g9_risk, each 0-100. " +
	"Include all nine or omit the object."

func buildFallbackPrompt(fc FallbackContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The indicator engine produced no signals. Propose up to %d trade signals from the data below.\n\n", fc.MaxSignals)

	if len(fc.Quotes) > 0 {
		b.WriteString("Quotes:\n")
		for _, q := range fc.Quotes {
			fmt.Fprintf(&b, "  %s: %.2f (%+.2f%%)\n", q.Symbol, q.LTP, q.ChangePercent)
		}
	}
	if len(fc.RecentCloses) > 0 {
		b.WriteString("\nRecent closes (oldest first):\n")
		symbols := make([]string, 0, len(fc.RecentCloses))
		for s := range fc.RecentCloses {
			symbols = append(symbols, s)
		}
		sort.Strings(symbols)
		for _, s := range symbols {
			fmt.Fprintf(&b, "  %s: %s\n", s, formatCloses(fc.RecentCloses[s]))
		}
	}
	if len(fc.Positions) > 0 {
		b.WriteString("\nOpen positions:\n")
		for _, p := range fc.Positions {
			fmt.Fprintf(&b, "  %s %s x%d (unrealized %.2f)\n", p.Side, p.Symbol, p.Quantity, p.UnrealizedPnl)
		}
	}
	if len(fc.Options) > 0 {
		b.WriteString("\nOptions chains:\n")
		for _, o := range fc.Options {
			fmt.Fprintf(&b, "  %s: spot %.2f, PCR %.2f, max pain %.2f, call OI %d, put OI %d\n",
				o.Symbol, o.Spot, o.PCR, o.MaxPain, o.TotalCallOI, o.TotalPutOI)
		}
	}

	b.WriteString("\nRespond with JSON: {\"signals\": [{\"symbol\", \"signal_type\" (BUY|SELL), \"confidence\" (0-1), \"entry\", \"stop_loss\", \"target\", \"rationale\"}]}.\n")
	b.WriteString("Per signal: " + gatesInstruction + "\n")
	b.WriteString("Only propose trades you would take. An empty signals array is a valid answer.")
	return b.String()
}

func buildBriefingPrompt(bc BriefingContext) string {
	var b strings.Builder
	b.WriteString("Summarize the Indian market snapshot below into a concise pre-market briefing.\n\n")

	if len(bc.Indices) > 0 {
		b.WriteString("Indices:\n")
		for _, idx := range bc.Indices {
			fmt.Fprintf(&b, "  %s: %.2f (%+.2f%%)\n", idx.Name, idx.Value, idx.ChangePercent)
		}
	}
	if bc.VIX > 0 {
		fmt.Fprintf(&b, "\nIndia VIX: %.2f (%+.2f%%)\n", bc.VIX, bc.VIXChange)
	}
	if len(bc.Gainers) > 0 {
		b.WriteString("\nTop gainers:\n")
		for _, q := range bc.Gainers {
			fmt.Fprintf(&b, "  %s: %.2f (%+.2f%%)\n", q.Symbol, q.LTP, q.ChangePercent)
		}
	}
	if len(bc.Losers) > 0 {
		b.WriteString("\nTop losers:\n")
		for _, q := range bc.Losers {
			fmt.Fprintf(&b, "  %s: %.2f (%+.2f%%)\n", q.Symbol, q.LTP, q.ChangePercent)
		}
	}
	if len(bc.Headlines) > 0 {
		b.WriteString("\nHeadlines:\n")
		for _, h := range bc.Headlines {
			fmt.Fprintf(&b, "  - %s\n", h)
		}
	}

	b.WriteString("\nRespond with JSON: {\"briefing\": \"3-5 sentence summary covering direction, volatility and notable movers\"}")
	return b.String()
}

// extractJSON tolerates models that wrap JSON in markdown fences or
// surrounding prose despite JSON mode.
func extractJSON(content string) []byte {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
		content = strings.TrimSpace(content)
	}

	start := strings.IndexAny(content, "{[")
	end := strings.LastIndexAny(content, "}]")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	return []byte(content)
}

func formatCloses(closes []float64) string {
	// Keep prompts small: last 10 closes are enough context.
	if len(closes) > 10 {
		closes = closes[len(closes)-10:]
	}
	parts := make([]string, len(closes))
	for i, v := range closes {
		parts[i] = fmt.Sprintf("%.2f", v)
	}
	return strings.Join(parts, ", ")
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedVoteKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
