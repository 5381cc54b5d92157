package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tradeveda/tradeveda/internal/engine"
	"github.com/tradeveda/tradeveda/internal/llm"
	"github.com/tradeveda/tradeveda/internal/market"
	"github.com/tradeveda/tradeveda/internal/metrics"
	"github.com/tradeveda/tradeveda/internal/portfolio"
	"github.com/tradeveda/tradeveda/internal/store"
)

const (
	candleInterval   = "5m"
	candleLookback   = 48 * time.Hour
	candleKeepLast   = 50
	minCandleBars    = 26
	dedupWindow      = time.Hour
	maxDrawdownLimit = 10.0 // percent, agent risk gate
	taskHintWindow   = 15 * time.Minute
)

// Store is the persistence surface the pipeline needs
type Store interface {
	GetBot(ctx context.Context, botID uuid.UUID) (*store.Bot, error)
	UpdateBotStatus(ctx context.Context, botID uuid.UUID, status store.BotStatus) error
	RecordBotAction(ctx context.Context, botID uuid.UUID, action string) error
	ApplyTradeToBot(ctx context.Context, botID uuid.UUID, netPnl float64, won bool) error

	InsertSignal(ctx context.Context, sig *store.Signal) error
	FindRecentPendingSignal(ctx context.Context, userID, symbol string, sigType store.SignalType, window time.Duration) (*store.Signal, error)
	RefreshSignal(ctx context.Context, signalID uuid.UUID, score float64, rationale string, gates map[string]interface{}) error
	MarkSignalExecuted(ctx context.Context, signalID uuid.UUID) error
	SetSignalOutcome(ctx context.Context, signalID uuid.UUID, outcome store.OutcomeTag) error
	CountSignalsSince(ctx context.Context, userID string, since time.Time) (int, error)
	CountExecutedSince(ctx context.Context, userID string, since time.Time) (int, error)

	InsertMessage(ctx context.Context, msg *store.Message) error
	RecentTaskSymbols(ctx context.Context, botID uuid.UUID, since time.Time) ([]string, error)

	RecordTrade(ctx context.Context, t *store.ClosedTrade) error
	RecentClosedTrades(ctx context.Context, userID, symbol string, limit int) ([]*store.ClosedTrade, error)

	GetAgentConfig(ctx context.Context, userID string) (*store.AgentConfig, error)
	SetAgentPaused(ctx context.Context, userID string, paused bool, reason string) error
}

// MarketData is the market surface the pipeline needs
type MarketData interface {
	GetQuote(ctx context.Context, symbol, exchange string) *market.Quote
	GetHistory(ctx context.Context, symbol, interval string, from, to time.Time, exchange string) ([]market.Candle, error)
	GetVIX(ctx context.Context) *market.VIXQuote
	GetTopMovers(ctx context.Context, count int) *market.Movers
	GetOptionsChain(ctx context.Context, symbol string) (*market.OptionsChain, error)
}

// Scanner is the native scan engine surface
type Scanner interface {
	Available() bool
	Scan(ctx context.Context, req engine.ScanRequest) (*engine.ScanResult, error)
	Risk(ctx context.Context, returns []float64, initialCapital float64) (*engine.RiskReport, error)
}

// Advisor is the LLM surface; nil-safe via the available flag
type Advisor interface {
	Status() llm.Status
	ValidateSignal(ctx context.Context, role string, review llm.SignalReview) (llm.ValidationResult, error)
	GenerateSignals(ctx context.Context, fc llm.FallbackContext) ([]llm.FallbackSignal, error)
}

// Book is the paper portfolio surface
type Book interface {
	ExecuteOrder(userID string, order portfolio.Order) (*portfolio.Fill, error)
	ListOpenPositions(userID string) []portfolio.Position
	NAV(userID string, marks map[string]float64) float64
}

// BotStopper stops a bot's scheduler timer. The scheduler implements it;
// the pipeline calls it on auto-pause.
type BotStopper interface {
	StopBot(botID uuid.UUID)
}

// Publisher fans signal and trade events out to subscribers. Optional.
type Publisher interface {
	PublishSignal(userID string, sig *store.Signal)
	PublishTrade(userID string, trade *store.ClosedTrade)
	PublishBotStatus(botID uuid.UUID, status string)
}

// Notifier pushes operator alerts for policy events. Optional.
type Notifier interface {
	StrategyPaused(ctx context.Context, strategyID string, accuracy float64, window int)
	DailyCapReached(ctx context.Context, userID, cap string, limit int)
}

// Config tunes the pipeline
type Config struct {
	MaxCandleSymbols     int
	RollingWindow        int
	AutoPauseAccuracy    float64
	AutoExecuteThreshold float64
	LLMRejectPenalty     float64
	SignalTTL            time.Duration
}

// Pipeline runs decision cycles for bots, the agent, and market scans
type Pipeline struct {
	store    Store
	market   MarketData
	engine   Scanner
	llm      Advisor
	book     Book
	tracker  *Tracker
	stopper  BotStopper
	events   Publisher
	notifier Notifier
	cfg      Config
}

// New creates a pipeline. llm, stopper and events may be nil.
func New(st Store, md MarketData, sc Scanner, adv Advisor, book Book, cfg Config) *Pipeline {
	if cfg.MaxCandleSymbols <= 0 {
		cfg.MaxCandleSymbols = 8
	}
	if cfg.AutoExecuteThreshold <= 0 {
		cfg.AutoExecuteThreshold = 0.65
	}
	if cfg.LLMRejectPenalty <= 0 {
		cfg.LLMRejectPenalty = 0.8
	}
	if cfg.SignalTTL <= 0 {
		cfg.SignalTTL = 24 * time.Hour
	}

	return &Pipeline{
		store:   st,
		market:  md,
		engine:  sc,
		llm:     adv,
		book:    book,
		tracker: NewTracker(cfg.RollingWindow, cfg.AutoPauseAccuracy),
		cfg:     cfg,
	}
}

// SetBotStopper wires the scheduler in after construction
func (p *Pipeline) SetBotStopper(stopper BotStopper) {
	p.stopper = stopper
}

// SetPublisher wires the event publisher in after construction
func (p *Pipeline) SetPublisher(events Publisher) {
	p.events = events
}

// SetNotifier wires the alert sink in after construction
func (p *Pipeline) SetNotifier(notifier Notifier) {
	p.notifier = notifier
}

// Tracker exposes rolling accuracy read-only
func (p *Pipeline) Tracker() *Tracker {
	return p.tracker
}

// cycleKind distinguishes the three cycle entry points
type cycleKind int

const (
	cycleBot cycleKind = iota
	cycleAgent
	cycleMarketScan
)

// cycleInput is everything a cycle core run needs
type cycleInput struct {
	kind       cycleKind
	userID     string
	bot        *store.Bot
	role       Role
	mode       store.AgentMode
	symbols    []string
	strategyID string
	execBudget int // remaining auto-executions this cycle; -1 unlimited
}

// candidate is one proposed trade flowing through the stage machine.
// llmGates carries a model-supplied gate vector; a complete vector
// replaces the derived one at persist time.
type candidate struct {
	engine.Signal
	llmGates map[string]int
}

// cycleReport summarizes what a cycle did
type cycleReport struct {
	SymbolsScanned int
	Signals        []*store.Signal
	Executed       int
	Source         string // engine or llm
	Notes          []string
}

// RunBotCycle runs one decision cycle for a bot. Errors never propagate
// to the scheduler; they land in the bot's last_action.
func (p *Pipeline) RunBotCycle(ctx context.Context, botID uuid.UUID) {
	start := time.Now()
	defer func() {
		metrics.RecordCycle(metrics.CycleKindBot, float64(time.Since(start).Milliseconds()))
	}()

	bot, err := p.store.GetBot(ctx, botID)
	if err != nil {
		log.Error().Err(err).Str("bot_id", botID.String()).Msg("Bot cycle aborted: load failed")
		if errors.Is(err, store.ErrNotFound) {
			p.stopBotTimer(botID)
		}
		return
	}
	// A bot that is no longer RUNNING cancels its own timer instead of
	// burning a cycle.
	if bot.Status != store.BotStatusRunning {
		log.Debug().Str("bot_id", botID.String()).Str("status", string(bot.Status)).Msg("Bot cycle self-cancelled")
		p.stopBotTimer(botID)
		return
	}
	if p.signalSourcesDown() {
		log.Warn().Str("bot_id", botID.String()).Msg("Bot cycle skipped: no signal source available")
		return
	}

	symbols := bot.SymbolList()
	if len(symbols) == 0 {
		symbols = defaultBotSymbols
	}
	if hints, herr := p.store.RecentTaskSymbols(ctx, botID, time.Now().Add(-taskHintWindow)); herr != nil {
		log.Warn().Err(herr).Str("bot_id", botID.String()).Msg("Task hint lookup failed")
	} else if len(hints) > 0 {
		symbols = prependSymbols(hints, symbols)
	}

	input := cycleInput{
		kind:       cycleBot,
		userID:     bot.UserID,
		bot:        bot,
		role:       Role(bot.Role),
		symbols:    symbols,
		strategyID: strategyIDFor(bot),
		execBudget: -1,
	}

	report, err := p.runCycle(ctx, input)

	action := summarizeCycle(report, err)
	if recErr := p.store.RecordBotAction(ctx, botID, action); recErr != nil {
		log.Error().Err(recErr).Str("bot_id", botID.String()).Msg("Failed to record bot action")
	}

	p.writeCycleMessage(ctx, bot.UserID, &botID, report, err)
}

// prependSymbols puts task-hinted symbols ahead of the bot's configured
// list, deduplicated. The candle stage still applies the symbol cap, so
// hints displace the tail of the configured list.
func prependSymbols(hints, symbols []string) []string {
	seen := make(map[string]bool, len(hints)+len(symbols))
	out := make([]string, 0, len(hints)+len(symbols))
	for _, s := range append(append([]string{}, hints...), symbols...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// defaultBotSymbols backs bots created without an assignment
var defaultBotSymbols = []string{"RELIANCE", "TCS", "INFY", "HDFCBANK", "ITC"}

// signalSourcesDown reports that neither the native engine nor the LLM
// can produce signals. Cycles bail out early with no side effects.
func (p *Pipeline) signalSourcesDown() bool {
	engineUp := p.engine != nil && p.engine.Available()
	llmUp := p.llm != nil && !p.llm.Status().CircuitOpen
	return !engineUp && !llmUp
}

// stopBotTimer cancels a bot's scheduler entry, if a scheduler is wired
func (p *Pipeline) stopBotTimer(botID uuid.UUID) {
	if p.stopper != nil {
		p.stopper.StopBot(botID)
	}
}

// RunAgentCycle runs one decision cycle for the user's autonomous agent
func (p *Pipeline) RunAgentCycle(ctx context.Context, userID string) {
	start := time.Now()
	defer func() {
		metrics.RecordCycle(metrics.CycleKindAgent, float64(time.Since(start).Milliseconds()))
	}()

	cfg, err := p.store.GetAgentConfig(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Agent cycle aborted: config load failed")
		return
	}
	if !cfg.Enabled || cfg.Paused {
		log.Debug().Str("user_id", userID).Bool("paused", cfg.Paused).Msg("Agent cycle skipped")
		return
	}
	if p.signalSourcesDown() {
		log.Warn().Str("user_id", userID).Msg("Agent cycle skipped: no signal source available")
		return
	}

	// Daily signal cap: at the limit the cycle logs policy and stops.
	since := startOfDay(time.Now())
	count, err := p.store.CountSignalsSince(ctx, userID, since)
	if err == nil && cfg.MaxDailySignals > 0 && count >= cfg.MaxDailySignals {
		p.insertMessage(ctx, userID, nil, store.MessageTypeInfo,
			fmt.Sprintf("Agent: daily signal cap reached (%d), standing down until tomorrow", cfg.MaxDailySignals), nil)
		if p.notifier != nil {
			p.notifier.DailyCapReached(ctx, userID, "signal", cfg.MaxDailySignals)
		}
		return
	}

	execBudget := -1
	if cfg.MaxDailyTrades > 0 {
		executed, err := p.store.CountExecutedSince(ctx, userID, since)
		if err != nil {
			executed = cfg.MaxDailyTrades // fail closed
		}
		execBudget = cfg.MaxDailyTrades - executed
		if execBudget < 0 {
			execBudget = 0
		}
	}

	// The agent watches what it holds; the watchlist only seeds an
	// empty book.
	symbols := positionSymbols(p.book.ListOpenPositions(userID))
	if len(symbols) == 0 {
		symbols = cfg.WatchlistSymbols()
	}

	input := cycleInput{
		kind:       cycleAgent,
		userID:     userID,
		role:       Role(store.BotRoleStrategist),
		mode:       cfg.Mode,
		symbols:    symbols,
		strategyID: "agent:" + userID,
		execBudget: execBudget,
	}

	report, err := p.runCycle(ctx, input)
	p.writeCycleMessage(ctx, userID, nil, report, err)
}

// ScanSummary is the market-scan result surfaced to the API
type ScanSummary struct {
	SymbolsScanned int             `json:"symbolsScanned"`
	SignalsFound   int             `json:"signalsFound"`
	Signals        []*store.Signal `json:"signals"`
	GeneratedAt    time.Time       `json:"generatedAt"`
}

// RunMarketScan sweeps the equity catalogue for opportunities. Signals
// persist as PENDING; a market scan never executes.
func (p *Pipeline) RunMarketScan(ctx context.Context, userID string) (*ScanSummary, error) {
	start := time.Now()
	defer func() {
		metrics.RecordCycle(metrics.CycleKindScan, float64(time.Since(start).Milliseconds()))
	}()

	if p.signalSourcesDown() {
		return nil, fmt.Errorf("market scan unavailable: no signal source")
	}

	// Scan where the action is: today's gainers and losers, with the
	// full catalogue as a fallback when movers are unavailable.
	symbols := moverSymbols(p.market.GetTopMovers(ctx, p.cfg.MaxCandleSymbols))
	if len(symbols) == 0 {
		symbols = market.EquitySymbols()
	}

	input := cycleInput{
		kind:       cycleMarketScan,
		userID:     userID,
		role:       Role(store.BotRoleScanner),
		symbols:    symbols,
		strategyID: "market-scan",
		execBudget: 0,
	}

	report, err := p.runCycle(ctx, input)
	if err != nil {
		return nil, err
	}

	p.writeCycleMessage(ctx, userID, nil, report, nil)

	return &ScanSummary{
		SymbolsScanned: report.SymbolsScanned,
		SignalsFound:   len(report.Signals),
		Signals:        report.Signals,
		GeneratedAt:    time.Now(),
	}, nil
}

// positionSymbols dedupes the symbols of a user's open positions
func positionSymbols(positions []portfolio.Position) []string {
	seen := make(map[string]bool, len(positions))
	out := make([]string, 0, len(positions))
	for _, pos := range positions {
		if pos.Symbol == "" || seen[pos.Symbol] {
			continue
		}
		seen[pos.Symbol] = true
		out = append(out, pos.Symbol)
	}
	return out
}

// moverSymbols flattens gainers and losers into one deduped list
func moverSymbols(movers *market.Movers) []string {
	if movers == nil {
		return nil
	}
	seen := make(map[string]bool, len(movers.Gainers)+len(movers.Losers))
	out := make([]string, 0, len(movers.Gainers)+len(movers.Losers))
	for _, q := range append(append([]market.Quote{}, movers.Gainers...), movers.Losers...) {
		if q.Symbol == "" || seen[q.Symbol] {
			continue
		}
		seen[q.Symbol] = true
		out = append(out, q.Symbol)
	}
	return out
}

// runCycle is the shared stage machine
func (p *Pipeline) runCycle(ctx context.Context, input cycleInput) (*cycleReport, error) {
	report := &cycleReport{}

	symbols := input.symbols
	if len(symbols) == 0 {
		report.Notes = append(report.Notes, "no symbols assigned")
		return report, nil
	}
	if len(symbols) > p.cfg.MaxCandleSymbols {
		symbols = symbols[:p.cfg.MaxCandleSymbols]
	}

	// Stage 1: candles and quotes per symbol.
	series, quotes := p.fetchMarketData(ctx, symbols)
	report.SymbolsScanned = len(series)

	// Stages 2-4: native scan, falling through to the LLM.
	candidates, source := p.collectCandidates(ctx, input, series, quotes)
	report.Source = source
	if len(candidates) == 0 {
		report.Notes = append(report.Notes, "no signals found")
		return report, nil
	}

	// Stage 5: LLM validation with the soft rejection penalty.
	if source == "engine" && !input.role.SkipLLMValidation() {
		candidates = p.validateCandidates(ctx, input, candidates, report)
	}

	vix := 0.0
	if v := p.market.GetVIX(ctx); v != nil {
		vix = v.Value
	}

	// Stage 6: agent-only portfolio risk gate.
	if input.kind == cycleAgent && p.portfolioTooRisky(ctx, input.userID) {
		report.Notes = append(report.Notes, "risk gate: drawdown above limit, signals dropped")
		return report, nil
	}

	pcrs := p.fetchPCRs(ctx, input.role, candidates)

	execBudget := input.execBudget
	for _, cand := range candidates {
		sig, executed, err := p.persistAndMaybeExecute(ctx, input, cand, vix, pcrs[cand.Symbol], quotes, &execBudget)
		if err != nil {
			report.Notes = append(report.Notes, truncate(err.Error(), 80))
			continue
		}
		if sig != nil {
			report.Signals = append(report.Signals, sig)
		}
		if executed {
			report.Executed++
		}
	}

	return report, nil
}

// fetchMarketData pulls candles and quotes for every symbol, keeping
// the most recent bars and dropping series too short to scan.
func (p *Pipeline) fetchMarketData(ctx context.Context, symbols []string) (map[string][]market.Candle, map[string]*market.Quote) {
	series := make(map[string][]market.Candle, len(symbols))
	quotes := make(map[string]*market.Quote, len(symbols))
	now := time.Now()

	for _, symbol := range symbols {
		exchange := market.ResolveExchange(symbol, "")
		quotes[symbol] = p.market.GetQuote(ctx, symbol, exchange)

		candles, err := p.market.GetHistory(ctx, symbol, candleInterval, now.Add(-candleLookback), now, exchange)
		if err != nil {
			log.Debug().Err(err).Str("symbol", symbol).Msg("Candle fetch failed")
			continue
		}
		if len(candles) > candleKeepLast {
			candles = candles[len(candles)-candleKeepLast:]
		}
		if len(candles) < minCandleBars {
			continue
		}
		series[symbol] = candles
	}

	return series, quotes
}

// collectCandidates runs the native engine and falls back to the LLM
// when the engine is absent, fails, or finds nothing.
func (p *Pipeline) collectCandidates(ctx context.Context, input cycleInput, series map[string][]market.Candle, quotes map[string]*market.Quote) ([]candidate, string) {
	if len(series) == 0 {
		return nil, ""
	}

	if p.engine != nil && p.engine.Available() {
		req := engine.ScanRequest{Aggressiveness: input.role.Aggressiveness(input.mode)}
		for _, symbol := range sortedSymbols(series) {
			req.Symbols = append(req.Symbols, engine.SymbolCandles{
				Symbol:  symbol,
				Candles: toEngineBars(series[symbol]),
			})
		}

		result, err := p.engine.Scan(ctx, req)
		if err != nil {
			log.Warn().Err(err).Msg("Native scan failed, falling through to LLM")
		} else if len(result.Signals) > 0 {
			candidates := make([]candidate, len(result.Signals))
			for i, sig := range result.Signals {
				candidates[i] = candidate{Signal: sig}
			}
			return candidates, "engine"
		}
	}

	return p.llmFallback(ctx, input, series, quotes), "llm"
}

// llmFallback asks the LLM for signals directly from market context
func (p *Pipeline) llmFallback(ctx context.Context, input cycleInput, series map[string][]market.Candle, quotes map[string]*market.Quote) []candidate {
	if p.llm == nil || p.llm.Status().CircuitOpen {
		return nil
	}

	fc := llm.FallbackContext{
		Role:         string(input.role),
		Mode:         string(input.mode),
		RecentCloses: make(map[string][]float64, len(series)),
	}
	for _, symbol := range sortedSymbols(series) {
		candles := series[symbol]
		closes := make([]float64, len(candles))
		for i, c := range candles {
			closes[i] = c.Close
		}
		fc.RecentCloses[symbol] = closes

		if q := quotes[symbol]; q.Valid() {
			fc.Quotes = append(fc.Quotes, llm.SymbolQuote{
				Symbol:        symbol,
				LTP:           q.LTP,
				ChangePercent: q.ChangePercent,
			})
		}
	}
	for _, pos := range p.book.ListOpenPositions(input.userID) {
		fc.Positions = append(fc.Positions, llm.PositionSummary{
			Symbol:        pos.Symbol,
			Side:          string(pos.Side),
			Quantity:      pos.Quantity,
			UnrealizedPnl: 0,
		})
	}

	// F&O roles reason over options flow, so their prompts carry a
	// chain digest per symbol that has one.
	if input.role.UsesOptionsContext() {
		for _, symbol := range sortedSymbols(series) {
			chain, err := p.market.GetOptionsChain(ctx, symbol)
			if err != nil || chain == nil {
				continue
			}
			fc.Options = append(fc.Options, llm.OptionsSummary{
				Symbol:      chain.Symbol,
				Spot:        chain.Spot,
				PCR:         chain.PCR,
				MaxPain:     chain.MaxPain,
				TotalCallOI: chain.TotalCallOI,
				TotalPutOI:  chain.TotalPutOI,
			})
		}
	}

	proposals, err := p.llm.GenerateSignals(ctx, fc)
	if err != nil {
		log.Warn().Err(err).Msg("LLM fallback failed, cycle continues without signals")
		return nil
	}

	candidates := make([]candidate, 0, len(proposals))
	for _, prop := range proposals {
		candidates = append(candidates, candidate{
			Signal: engine.Signal{
				Symbol:     prop.Symbol,
				Direction:  prop.SignalType,
				Confidence: prop.Confidence,
				Entry:      prop.Entry,
				StopLoss:   prop.StopLoss,
				Target:     prop.Target,
			},
			llmGates: prop.Gates,
		})
	}
	return candidates
}

// validateCandidates runs the soft LLM gate over engine signals.
// Rejection scales confidence by the penalty; an LLM failure approves.
func (p *Pipeline) validateCandidates(ctx context.Context, input cycleInput, candidates []candidate, report *cycleReport) []candidate {
	if p.llm == nil || p.llm.Status().CircuitOpen {
		return candidates
	}

	out := make([]candidate, 0, len(candidates))
	for _, cand := range candidates {
		result, err := p.llm.ValidateSignal(ctx, string(input.role), llm.SignalReview{
			Symbol:     cand.Symbol,
			SignalType: cand.Direction,
			Confidence: cand.Confidence,
			Entry:      cand.Entry,
			StopLoss:   cand.StopLoss,
			Target:     cand.Target,
			Indicators: cand.Indicators,
			Votes:      cand.Votes,
		})
		if err != nil {
			// LLM failure defaults to approved.
			log.Debug().Err(err).Str("symbol", cand.Symbol).Msg("LLM validation failed, approving")
		} else {
			if !result.Approve {
				cand.Confidence *= p.cfg.LLMRejectPenalty
				report.Notes = append(report.Notes,
					fmt.Sprintf("%s %s soft-rejected: %s", cand.Symbol, cand.Direction, truncate(result.Reason, 60)))
			}
			if len(result.Gates) > 0 {
				cand.llmGates = result.Gates
			}
		}
		out = append(out, cand)
	}
	return out
}

// portfolioTooRisky computes the drawdown gate from recent trade returns
func (p *Pipeline) portfolioTooRisky(ctx context.Context, userID string) bool {
	if p.engine == nil || !p.engine.Available() {
		return false
	}

	trades, err := p.store.RecentClosedTrades(ctx, userID, "", 50)
	if err != nil || len(trades) < 5 {
		return false
	}

	nav := p.book.NAV(userID, nil)
	if nav <= 0 {
		return false
	}

	returns := make([]float64, len(trades))
	for i, t := range trades {
		returns[len(trades)-1-i] = t.Pnl / nav // oldest first
	}

	report, err := p.engine.Risk(ctx, returns, nav)
	if err != nil {
		return false
	}
	return report.MaxDrawdownPercent > maxDrawdownLimit
}

// fetchPCRs pulls the put-call ratio per candidate symbol for roles
// that read options flow. Other roles derive G5 from confidence.
func (p *Pipeline) fetchPCRs(ctx context.Context, role Role, candidates []candidate) map[string]float64 {
	if !role.UsesOptionsContext() {
		return nil
	}
	pcrs := make(map[string]float64, len(candidates))
	for _, cand := range candidates {
		if _, ok := pcrs[cand.Symbol]; ok {
			continue
		}
		chain, err := p.market.GetOptionsChain(ctx, cand.Symbol)
		if err != nil || chain == nil {
			continue
		}
		pcrs[cand.Symbol] = chain.PCR
	}
	return pcrs
}

// persistAndMaybeExecute runs stages 7-13 for one candidate
func (p *Pipeline) persistAndMaybeExecute(ctx context.Context, input cycleInput, cand candidate, vix, pcr float64, quotes map[string]*market.Quote, execBudget *int) (*store.Signal, bool, error) {
	sigType := store.SignalType(cand.Direction)
	if sigType != store.SignalTypeBuy && sigType != store.SignalTypeSell {
		return nil, false, fmt.Errorf("invalid direction %q for %s", cand.Direction, cand.Symbol)
	}

	exchange := market.ResolveExchange(cand.Symbol, "")
	source := "engine"
	if len(cand.Indicators) == 0 {
		source = "llm"
	}

	// A complete model-supplied gate vector wins over the derived one.
	gates := DeriveGates(cand.Signal, vix, pcr)
	gateSource := source
	if gatesComplete(cand.llmGates) {
		gates = GatesFromLLM(cand.llmGates)
		gateSource = "llm"
	}
	gateMap := gates.Map(gateSource, cand.Indicators, cand.Votes)
	rationale := buildRationale(cand.Signal, source)

	// Dedup: an identical PENDING signal inside the window coalesces to
	// an in-place update, nothing new is inserted or executed.
	if existing, err := p.store.FindRecentPendingSignal(ctx, input.userID, cand.Symbol, sigType, dedupWindow); err == nil {
		if err := p.store.RefreshSignal(ctx, existing.ID, cand.Confidence, rationale, gateMap); err != nil {
			return nil, false, err
		}
		metrics.SignalsCoalesced.Inc()
		log.Debug().Str("symbol", cand.Symbol).Str("signal_id", existing.ID.String()).Msg("Duplicate signal coalesced")
		return nil, false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	threshold := input.role.AutoExecuteThreshold()
	if p.cfg.AutoExecuteThreshold > 0 {
		threshold = p.cfg.AutoExecuteThreshold
	}

	shouldExecute := false
	switch input.kind {
	case cycleBot:
		shouldExecute = input.role.AutoExecutes() && cand.Confidence >= threshold
	case cycleAgent:
		shouldExecute = input.mode == store.AgentModeAutonomous && cand.Confidence >= threshold
	case cycleMarketScan:
		// Never executes; below-threshold finds are not persisted.
		if cand.Confidence < threshold {
			return nil, false, nil
		}
	}
	if shouldExecute && *execBudget == 0 {
		shouldExecute = false
	}

	sig := &store.Signal{
		UserID:         input.userID,
		Symbol:         cand.Symbol,
		Exchange:       exchange,
		SignalType:     sigType,
		CompositeScore: cand.Confidence,
		GateScores:     gateMap,
		Rationale:      rationale,
		Status:         store.SignalStatusPending,
		EntryPrice:     cand.Entry,
		StopLoss:       cand.StopLoss,
		Target:         cand.Target,
		ExpiresAt:      time.Now().Add(p.cfg.SignalTTL),
	}
	if input.strategyID != "" {
		sig.StrategyID = &input.strategyID
	}

	if err := p.store.InsertSignal(ctx, sig); err != nil {
		return nil, false, err
	}
	metrics.RecordSignal(source, string(sigType))
	if p.events != nil {
		p.events.PublishSignal(input.userID, sig)
	}

	if !shouldExecute {
		p.writeSignalMessage(ctx, input, sig, false)
		return sig, false, nil
	}

	if err := p.ExecuteSignal(ctx, input.userID, sig, input.bot); err != nil {
		p.writeSignalMessage(ctx, input, sig, false)
		return sig, false, err
	}
	if *execBudget > 0 {
		*execBudget--
	}
	p.writeSignalMessage(ctx, input, sig, true)
	return sig, true, nil
}

// ExecuteSignal sizes and fills a signal against the paper book, then
// marks it executed and records any closed round-trip. Shared between
// cycle auto-execution and the approval API.
func (p *Pipeline) ExecuteSignal(ctx context.Context, userID string, sig *store.Signal, bot *store.Bot) error {
	exchange := market.ResolveExchange(sig.Symbol, sig.Exchange)
	quote := p.market.GetQuote(ctx, sig.Symbol, exchange)
	ltp := sig.EntryPrice
	if quote.Valid() {
		ltp = quote.LTP
	}
	if ltp <= 0 {
		return fmt.Errorf("cannot execute %s: no usable price", sig.Symbol)
	}

	// Half-Kelly sizing over the user's recent history in this symbol.
	trades, err := p.store.RecentClosedTrades(ctx, userID, sig.Symbol, kellyLookback)
	if err != nil {
		trades = nil
	}
	alloc := Allocation(trades)
	nav := p.book.NAV(userID, map[string]float64{sig.Symbol: ltp})
	qty := Quantity(nav, alloc, ltp)

	fill, err := p.book.ExecuteOrder(userID, portfolio.Order{
		Symbol:   sig.Symbol,
		Exchange: exchange,
		Side:     string(sig.SignalType),
		Quantity: qty,
		LTP:      ltp,
	})
	if err != nil {
		return fmt.Errorf("order failed for %s: %w", sig.Symbol, err)
	}

	if err := p.store.MarkSignalExecuted(ctx, sig.ID); err != nil {
		return err
	}
	sig.Status = store.SignalStatusExecuted
	now := time.Now()
	sig.ExecutedAt = &now
	metrics.SignalsExecuted.Inc()

	log.Info().
		Str("user_id", userID).
		Str("symbol", sig.Symbol).
		Str("side", string(sig.SignalType)).
		Int64("quantity", fill.Quantity).
		Float64("allocation", alloc).
		Msg("Signal executed")

	if fill.Trade != nil {
		p.settleClosedTrade(ctx, userID, sig, bot, fill.Trade)
	}

	return nil
}

// settleClosedTrade persists a round-trip, tags outcomes, updates the
// rolling window, and fires auto-pause when accuracy collapses.
func (p *Pipeline) settleClosedTrade(ctx context.Context, userID string, sig *store.Signal, bot *store.Bot, trade *portfolio.Trade) {
	outcome := ClassifyOutcome(trade.NetPnl)
	metrics.RecordTradeClosed(string(outcome))

	closed := &store.ClosedTrade{
		UserID:     userID,
		SignalID:   &sig.ID,
		Symbol:     trade.Symbol,
		Exchange:   trade.Exchange,
		Side:       sig.SignalType,
		Quantity:   int(trade.Quantity),
		EntryPrice: trade.EntryPrice,
		ExitPrice:  trade.ExitPrice,
		Pnl:        trade.NetPnl,
		Fees:       trade.Fees,
		Outcome:    outcome,
		OpenedAt:   trade.OpenedAt,
		ClosedAt:   trade.ClosedAt,
	}
	if bot != nil {
		closed.BotID = &bot.ID
	}

	if err := p.store.RecordTrade(ctx, closed); err != nil {
		log.Error().Err(err).Str("symbol", trade.Symbol).Msg("Failed to record closed trade")
	}
	if err := p.store.SetSignalOutcome(ctx, sig.ID, outcome); err != nil {
		log.Error().Err(err).Str("signal_id", sig.ID.String()).Msg("Failed to set signal outcome")
	}
	if bot != nil {
		if err := p.store.ApplyTradeToBot(ctx, bot.ID, trade.NetPnl, outcome == store.OutcomeWin); err != nil {
			log.Error().Err(err).Str("bot_id", bot.ID.String()).Msg("Failed to apply trade to bot")
		}
	}
	if p.events != nil {
		p.events.PublishTrade(userID, closed)
	}

	strategyID := "agent:" + userID
	if bot != nil {
		strategyID = strategyIDFor(bot)
	}

	acc, shouldPause := p.tracker.Record(strategyID, outcome)
	if shouldPause {
		p.autoPause(ctx, userID, bot, strategyID, acc)
	}
}

// autoPause idles the strategy after a losing streak
func (p *Pipeline) autoPause(ctx context.Context, userID string, bot *store.Bot, strategyID string, acc Accuracy) {
	metrics.StrategiesPaused.Inc()
	reason := fmt.Sprintf("Strategy %s auto-paused: accuracy %.0f%% over last %d trades", strategyID, acc.Accuracy*100, acc.Size)

	if bot != nil {
		if err := p.store.UpdateBotStatus(ctx, bot.ID, store.BotStatusIdle); err != nil {
			log.Error().Err(err).Str("bot_id", bot.ID.String()).Msg("Failed to idle bot on auto-pause")
		}
		if p.stopper != nil {
			p.stopper.StopBot(bot.ID)
		}
		if p.events != nil {
			p.events.PublishBotStatus(bot.ID, string(store.BotStatusIdle))
		}
	} else {
		if err := p.store.SetAgentPaused(ctx, userID, true, reason); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to pause agent on auto-pause")
		}
	}

	var botID *uuid.UUID
	if bot != nil {
		botID = &bot.ID
	}
	p.insertMessage(ctx, userID, botID, store.MessageTypeAlert, reason, map[string]interface{}{
		"strategy_id": strategyID,
		"accuracy":    acc.Accuracy,
		"window":      acc.Size,
	})
	if p.notifier != nil {
		p.notifier.StrategyPaused(ctx, strategyID, acc.Accuracy, acc.Size)
	}

	log.Warn().Str("strategy_id", strategyID).Float64("accuracy", acc.Accuracy).Msg("Strategy auto-paused")
}

// writeSignalMessage emits the per-signal feed entry
func (p *Pipeline) writeSignalMessage(ctx context.Context, input cycleInput, sig *store.Signal, executed bool) {
	msgType := store.MessageTypeTradeRequest
	verb := "pending approval"
	if executed {
		msgType = store.MessageTypeSignal
		verb = "executed"
	}
	if input.kind == cycleMarketScan {
		msgType = store.MessageTypeSignal
		verb = "found by market scan"
	}

	var botID *uuid.UUID
	if input.bot != nil {
		botID = &input.bot.ID
	}

	content := fmt.Sprintf("%s %s @ %.2f (score %.2f) %s", sig.SignalType, sig.Symbol, sig.EntryPrice, sig.CompositeScore, verb)
	p.insertMessage(ctx, input.userID, botID, msgType, content, map[string]interface{}{
		"signal_id": sig.ID.String(),
		"symbol":    sig.Symbol,
		"score":     sig.CompositeScore,
	})
}

// writeCycleMessage emits the one-per-cycle summary entry
func (p *Pipeline) writeCycleMessage(ctx context.Context, userID string, botID *uuid.UUID, report *cycleReport, err error) {
	msgType := store.MessageTypeInfo
	var content string

	switch {
	case err != nil:
		msgType = store.MessageTypeAlert
		content = fmt.Sprintf("Cycle failed: %s", truncate(err.Error(), 150))
	case report == nil || report.SymbolsScanned == 0:
		content = "Cycle completed: no scannable symbols"
	case len(report.Signals) == 0:
		content = fmt.Sprintf("Cycle completed: scanned %d symbols, no signals", report.SymbolsScanned)
	default:
		msgType = store.MessageTypeSignal
		content = fmt.Sprintf("Cycle completed: scanned %d symbols, %d signals (%s), %d executed",
			report.SymbolsScanned, len(report.Signals), report.Source, report.Executed)
	}

	p.insertMessage(ctx, userID, botID, msgType, content, nil)
}

func (p *Pipeline) insertMessage(ctx context.Context, userID string, botID *uuid.UUID, msgType store.MessageType, content string, metadata map[string]interface{}) {
	msg := &store.Message{
		UserID:   userID,
		BotID:    botID,
		Type:     msgType,
		Content:  content,
		Metadata: metadata,
	}
	if err := p.store.InsertMessage(ctx, msg); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to insert message")
	}
}

// strategyIDFor keys a bot's rolling window by its identity and strategy
func strategyIDFor(bot *store.Bot) string {
	if bot.Strategy != "" {
		return bot.Strategy
	}
	return "bot:" + bot.ID.String()
}

// buildRationale renders a short human-readable explanation
func buildRationale(cand engine.Signal, source string) string {
	if source == "llm" {
		return fmt.Sprintf("LLM fallback: %s %s at %.2f, confidence %.2f", cand.Direction, cand.Symbol, cand.Entry, cand.Confidence)
	}

	var agreeing []string
	dir := 1
	if cand.Direction == "SELL" {
		dir = -1
	}
	for _, name := range []string{"ema_cross", "macd", "supertrend", "bollinger", "rsi", "vwap", "volume"} {
		if cand.Votes[name]*dir > 0 {
			agreeing = append(agreeing, name)
		}
	}
	return fmt.Sprintf("%s %s: %s aligned, confidence %.2f", cand.Direction, cand.Symbol, strings.Join(agreeing, ", "), cand.Confidence)
}

// summarizeCycle builds the bot's last_action string
func summarizeCycle(report *cycleReport, err error) string {
	if err != nil {
		return truncate("cycle error: "+err.Error(), 200)
	}
	if report == nil || report.SymbolsScanned == 0 {
		return "cycle: no scannable symbols"
	}
	return truncate(fmt.Sprintf("cycle: %d symbols, %d signals, %d executed",
		report.SymbolsScanned, len(report.Signals), report.Executed), 200)
}

// toEngineBars converts market candles to the engine wire shape
func toEngineBars(candles []market.Candle) []engine.CandleBar {
	bars := make([]engine.CandleBar, len(candles))
	for i, c := range candles {
		bars[i] = engine.CandleBar{
			Timestamp: c.Timestamp.Unix(),
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		}
	}
	return bars
}

// sortedSymbols keeps engine requests and prompts deterministic
func sortedSymbols(series map[string][]market.Candle) []string {
	symbols := make([]string, 0, len(series))
	for s := range series {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// startOfDay truncates to local midnight, the daily-cap boundary
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
