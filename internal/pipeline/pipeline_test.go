package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeveda/tradeveda/internal/engine"
	"github.com/tradeveda/tradeveda/internal/llm"
	"github.com/tradeveda/tradeveda/internal/market"
	"github.com/tradeveda/tradeveda/internal/portfolio"
	"github.com/tradeveda/tradeveda/internal/store"
)

// fakeStore is an in-memory Store for cycle tests
type fakeStore struct {
	bots          map[uuid.UUID]*store.Bot
	signals       []*store.Signal
	messages      []*store.Message
	trades        []*store.ClosedTrade
	recentTrades  []*store.ClosedTrade
	agentCfg      *store.AgentConfig
	signalsToday  int
	executedToday int
	pending       *store.Signal
	refreshed     int
	actions       []string
	botStatus     map[uuid.UUID]store.BotStatus
	agentPaused   bool
	pausedReason  string
	taskSymbols   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		bots:      make(map[uuid.UUID]*store.Bot),
		botStatus: make(map[uuid.UUID]store.BotStatus),
	}
}

func (f *fakeStore) GetBot(_ context.Context, botID uuid.UUID) (*store.Bot, error) {
	bot, ok := f.bots[botID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return bot, nil
}

func (f *fakeStore) UpdateBotStatus(_ context.Context, botID uuid.UUID, status store.BotStatus) error {
	f.botStatus[botID] = status
	return nil
}

func (f *fakeStore) RecordBotAction(_ context.Context, _ uuid.UUID, action string) error {
	f.actions = append(f.actions, action)
	return nil
}

func (f *fakeStore) ApplyTradeToBot(_ context.Context, _ uuid.UUID, _ float64, _ bool) error {
	return nil
}

func (f *fakeStore) InsertSignal(_ context.Context, sig *store.Signal) error {
	if sig.ID == uuid.Nil {
		sig.ID = uuid.New()
	}
	f.signals = append(f.signals, sig)
	return nil
}

func (f *fakeStore) FindRecentPendingSignal(_ context.Context, _, symbol string, sigType store.SignalType, _ time.Duration) (*store.Signal, error) {
	if f.pending != nil && f.pending.Symbol == symbol && f.pending.SignalType == sigType {
		return f.pending, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) RefreshSignal(_ context.Context, _ uuid.UUID, _ float64, _ string, _ map[string]interface{}) error {
	f.refreshed++
	return nil
}

func (f *fakeStore) MarkSignalExecuted(_ context.Context, signalID uuid.UUID) error {
	for _, sig := range f.signals {
		if sig.ID == signalID {
			sig.Status = store.SignalStatusExecuted
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeStore) SetSignalOutcome(_ context.Context, signalID uuid.UUID, outcome store.OutcomeTag) error {
	for _, sig := range f.signals {
		if sig.ID == signalID {
			sig.Outcome = &outcome
		}
	}
	return nil
}

func (f *fakeStore) CountSignalsSince(_ context.Context, _ string, _ time.Time) (int, error) {
	return f.signalsToday, nil
}

func (f *fakeStore) CountExecutedSince(_ context.Context, _ string, _ time.Time) (int, error) {
	return f.executedToday, nil
}

func (f *fakeStore) InsertMessage(_ context.Context, msg *store.Message) error {
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeStore) RecentTaskSymbols(_ context.Context, _ uuid.UUID, _ time.Time) ([]string, error) {
	return f.taskSymbols, nil
}

func (f *fakeStore) RecordTrade(_ context.Context, t *store.ClosedTrade) error {
	f.trades = append(f.trades, t)
	return nil
}

func (f *fakeStore) RecentClosedTrades(_ context.Context, _, _ string, _ int) ([]*store.ClosedTrade, error) {
	return f.recentTrades, nil
}

func (f *fakeStore) GetAgentConfig(_ context.Context, userID string) (*store.AgentConfig, error) {
	if f.agentCfg != nil {
		return f.agentCfg, nil
	}
	return store.DefaultAgentConfig(userID), nil
}

func (f *fakeStore) SetAgentPaused(_ context.Context, _ string, paused bool, reason string) error {
	f.agentPaused = paused
	f.pausedReason = reason
	return nil
}

func (f *fakeStore) messagesOfType(t store.MessageType) []*store.Message {
	var out []*store.Message
	for _, m := range f.messages {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// fakeMarket serves canned candles, quotes, movers and chains
type fakeMarket struct {
	candles map[string][]market.Candle
	quotes  map[string]*market.Quote
	vix     float64
	movers  *market.Movers
	chains  map[string]*market.OptionsChain
}

func (f *fakeMarket) GetQuote(_ context.Context, symbol, exchange string) *market.Quote {
	if q, ok := f.quotes[symbol]; ok {
		return q
	}
	return &market.Quote{Symbol: symbol, Exchange: exchange}
}

func (f *fakeMarket) GetHistory(_ context.Context, symbol, _ string, _, _ time.Time, _ string) ([]market.Candle, error) {
	candles, ok := f.candles[symbol]
	if !ok {
		return nil, market.ErrNoData
	}
	return candles, nil
}

func (f *fakeMarket) GetVIX(_ context.Context) *market.VIXQuote {
	if f.vix == 0 {
		return nil
	}
	return &market.VIXQuote{Value: f.vix}
}

func (f *fakeMarket) GetTopMovers(_ context.Context, _ int) *market.Movers {
	return f.movers
}

func (f *fakeMarket) GetOptionsChain(_ context.Context, symbol string) (*market.OptionsChain, error) {
	if chain, ok := f.chains[symbol]; ok {
		return chain, nil
	}
	return nil, market.ErrNoData
}

// fakeScanner is a canned native engine
type fakeScanner struct {
	available  bool
	signals    []engine.Signal
	scanErr    error
	riskReport *engine.RiskReport
	scanned    int
	lastReq    engine.ScanRequest
}

func (f *fakeScanner) Available() bool { return f.available }

func (f *fakeScanner) Scan(_ context.Context, req engine.ScanRequest) (*engine.ScanResult, error) {
	f.scanned++
	f.lastReq = req
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	return &engine.ScanResult{Signals: f.signals}, nil
}

func (f *fakeScanner) requestedSymbols() []string {
	out := make([]string, 0, len(f.lastReq.Symbols))
	for _, sc := range f.lastReq.Symbols {
		out = append(out, sc.Symbol)
	}
	return out
}

func (f *fakeScanner) Risk(_ context.Context, _ []float64, _ float64) (*engine.RiskReport, error) {
	if f.riskReport == nil {
		return nil, engine.ErrEngineUnavailable
	}
	return f.riskReport, nil
}

// fakeAdvisor is a canned LLM
type fakeAdvisor struct {
	circuitOpen bool
	approve     bool
	reason      string
	gates       map[string]int
	validateErr error
	fallback    []llm.FallbackSignal
	fallbackErr error
	validated   int
	lastFC      llm.FallbackContext
}

func (f *fakeAdvisor) Status() llm.Status {
	return llm.Status{CircuitOpen: f.circuitOpen}
}

func (f *fakeAdvisor) ValidateSignal(_ context.Context, _ string, _ llm.SignalReview) (llm.ValidationResult, error) {
	f.validated++
	if f.validateErr != nil {
		return llm.ValidationResult{}, f.validateErr
	}
	return llm.ValidationResult{Approve: f.approve, Reason: f.reason, Gates: f.gates}, nil
}

func (f *fakeAdvisor) GenerateSignals(_ context.Context, fc llm.FallbackContext) ([]llm.FallbackSignal, error) {
	f.lastFC = fc
	return f.fallback, f.fallbackErr
}

// fakeStopper records StopBot calls
type fakeStopper struct {
	stopped []uuid.UUID
}

func (f *fakeStopper) StopBot(botID uuid.UUID) {
	f.stopped = append(f.stopped, botID)
}

func trendCandles(n int) []market.Candle {
	candles := make([]market.Candle, n)
	price := 2500.0
	ts := time.Now().Add(-time.Duration(n) * 5 * time.Minute)
	for i := 0; i < n; i++ {
		candles[i] = market.Candle{
			Timestamp: ts.Add(time.Duration(i) * 5 * time.Minute),
			Open:      price,
			High:      price + 5,
			Low:       price - 2,
			Close:     price + 4,
			Volume:    100000,
		}
		price += 4
	}
	return candles
}

func buySignal(symbol string, confidence float64) engine.Signal {
	return engine.Signal{
		Symbol:     symbol,
		Direction:  "BUY",
		Confidence: confidence,
		Entry:      2500,
		StopLoss:   2450,
		Target:     2600,
		Indicators: map[string]float64{"adx": 30, "rsi_14": 60},
		Votes:      map[string]int{"ema_cross": 1, "macd": 1, "supertrend": 1},
	}
}

type testRig struct {
	store   *fakeStore
	market  *fakeMarket
	scanner *fakeScanner
	advisor *fakeAdvisor
	book    *portfolio.Engine
	pipe    *Pipeline
}

func newRig() *testRig {
	rig := &testRig{
		store: newFakeStore(),
		market: &fakeMarket{
			candles: map[string][]market.Candle{"RELIANCE": trendCandles(40)},
			quotes:  map[string]*market.Quote{"RELIANCE": {Symbol: "RELIANCE", Exchange: "NSE", LTP: 2500, ChangePercent: 1.1}},
			vix:     13.5,
		},
		scanner: &fakeScanner{available: true, signals: []engine.Signal{buySignal("RELIANCE", 0.78)}},
		advisor: &fakeAdvisor{approve: true},
		book:    portfolio.NewEngine(portfolio.Config{InitialCapital: 1000000}),
	}
	rig.pipe = New(rig.store, rig.market, rig.scanner, rig.advisor, rig.book, Config{})
	return rig
}

func (r *testRig) addBot(role store.BotRole) *store.Bot {
	bot := &store.Bot{
		ID:      uuid.New(),
		UserID:  "user-1",
		Name:    "test bot",
		Role:    role,
		Status:  store.BotStatusRunning,
		Symbols: "RELIANCE",
	}
	r.store.bots[bot.ID] = bot
	return bot
}

func TestRunBotCycleExecutorExecutes(t *testing.T) {
	rig := newRig()
	bot := rig.addBot(store.BotRoleExecutor)

	rig.pipe.RunBotCycle(context.Background(), bot.ID)

	require.Len(t, rig.store.signals, 1)
	sig := rig.store.signals[0]
	assert.Equal(t, store.SignalStatusExecuted, sig.Status)
	assert.Equal(t, store.SignalTypeBuy, sig.SignalType)
	assert.Equal(t, "NSE", sig.Exchange)

	// EXECUTOR skips LLM validation entirely.
	assert.Zero(t, rig.advisor.validated)

	// The fill landed on the paper book.
	pos, ok := rig.book.GetPosition("user-1", "RELIANCE")
	require.True(t, ok)
	assert.Equal(t, portfolio.SideLong, pos.Side)

	// One cycle summary plus one per-signal message, and a last action.
	assert.GreaterOrEqual(t, len(rig.store.messages), 2)
	require.Len(t, rig.store.actions, 1)
	assert.Contains(t, rig.store.actions[0], "1 executed")
}

func TestRunBotCycleGateCompleteness(t *testing.T) {
	rig := newRig()
	bot := rig.addBot(store.BotRoleExecutor)

	rig.pipe.RunBotCycle(context.Background(), bot.ID)

	require.Len(t, rig.store.signals, 1)
	gates := rig.store.signals[0].GateScores
	for _, key := range []string{
		"g1_trend", "g2_momentum", "g3_volatility", "g4_volume", "g5_options_flow",
		"g6_global_macro", "g7_fii_dii", "g8_sentiment", "g9_risk",
	} {
		assert.Contains(t, gates, key)
	}
	assert.Equal(t, "engine", gates["source"])
}

func TestRunBotCycleAnalystStaysPending(t *testing.T) {
	rig := newRig()
	bot := rig.addBot(store.BotRoleAnalyst)

	rig.pipe.RunBotCycle(context.Background(), bot.ID)

	require.Len(t, rig.store.signals, 1)
	assert.Equal(t, store.SignalStatusPending, rig.store.signals[0].Status)
	assert.Equal(t, 1, rig.advisor.validated)
	assert.Empty(t, rig.book.ListOpenPositions("user-1"))
	assert.NotEmpty(t, rig.store.messagesOfType(store.MessageTypeTradeRequest))
}

func TestValidationRejectionAppliesSoftPenalty(t *testing.T) {
	rig := newRig()
	rig.advisor.approve = false
	rig.advisor.reason = "stop inside noise"
	bot := rig.addBot(store.BotRoleAnalyst)

	rig.pipe.RunBotCycle(context.Background(), bot.ID)

	require.Len(t, rig.store.signals, 1)
	assert.InDelta(t, 0.78*0.8, rig.store.signals[0].CompositeScore, 1e-9)
}

func TestValidationFailureDefaultsToApproved(t *testing.T) {
	rig := newRig()
	rig.advisor.validateErr = assert.AnError
	bot := rig.addBot(store.BotRoleAnalyst)

	rig.pipe.RunBotCycle(context.Background(), bot.ID)

	require.Len(t, rig.store.signals, 1)
	assert.InDelta(t, 0.78, rig.store.signals[0].CompositeScore, 1e-9)
}

func TestDuplicateSignalCoalesces(t *testing.T) {
	rig := newRig()
	bot := rig.addBot(store.BotRoleExecutor)
	rig.store.pending = &store.Signal{
		ID:         uuid.New(),
		Symbol:     "RELIANCE",
		SignalType: store.SignalTypeBuy,
		Status:     store.SignalStatusPending,
	}

	rig.pipe.RunBotCycle(context.Background(), bot.ID)

	assert.Equal(t, 1, rig.store.refreshed)
	assert.Empty(t, rig.store.signals, "duplicate must not insert")
	assert.Empty(t, rig.book.ListOpenPositions("user-1"), "duplicate must not execute")
}

func TestEngineFailureFallsThroughToLLM(t *testing.T) {
	rig := newRig()
	rig.scanner.scanErr = assert.AnError
	rig.advisor.fallback = []llm.FallbackSignal{
		{Symbol: "RELIANCE", SignalType: "BUY", Confidence: 0.7, Entry: 2500, StopLoss: 2460, Target: 2580},
	}
	bot := rig.addBot(store.BotRoleAnalyst)

	rig.pipe.RunBotCycle(context.Background(), bot.ID)

	require.Len(t, rig.store.signals, 1)
	assert.Equal(t, "llm", rig.store.signals[0].GateScores["source"])
	// Fallback signals are not re-validated by the LLM.
	assert.Zero(t, rig.advisor.validated)
}

func TestBothSourcesDownBotCycleHasNoSideEffects(t *testing.T) {
	rig := newRig()
	rig.scanner.available = false
	rig.advisor.circuitOpen = true
	bot := rig.addBot(store.BotRoleAnalyst)

	rig.pipe.RunBotCycle(context.Background(), bot.ID)

	assert.Empty(t, rig.store.signals)
	assert.Empty(t, rig.store.messages, "an unscannable cycle leaves no feed entries")
	assert.Empty(t, rig.store.actions)
}

func TestBothSourcesDownAgentCycleHasNoSideEffects(t *testing.T) {
	rig := newRig()
	rig.scanner.available = false
	rig.advisor.circuitOpen = true
	cfg := store.DefaultAgentConfig("user-1")
	cfg.Enabled = true
	cfg.MaxDailySignals = 1
	rig.store.agentCfg = cfg
	rig.store.signalsToday = 1 // the cap message must not fire either

	rig.pipe.RunAgentCycle(context.Background(), "user-1")

	assert.Empty(t, rig.store.signals)
	assert.Empty(t, rig.store.messages)
}

func TestBothSourcesDownMarketScanErrors(t *testing.T) {
	rig := newRig()
	rig.scanner.available = false
	rig.advisor.circuitOpen = true

	summary, err := rig.pipe.RunMarketScan(context.Background(), "user-1")
	assert.Error(t, err)
	assert.Nil(t, summary)
	assert.Empty(t, rig.store.messages)
}

func TestCircuitOpenWithEngineUpStillScans(t *testing.T) {
	rig := newRig()
	rig.advisor.circuitOpen = true
	bot := rig.addBot(store.BotRoleAnalyst)

	rig.pipe.RunBotCycle(context.Background(), bot.ID)

	require.Len(t, rig.store.signals, 1)
	assert.Zero(t, rig.advisor.validated, "open circuit skips validation")
}

func TestAgentCycleDisabledSkips(t *testing.T) {
	rig := newRig()
	rig.store.agentCfg = store.DefaultAgentConfig("user-1") // disabled by default

	rig.pipe.RunAgentCycle(context.Background(), "user-1")

	assert.Empty(t, rig.store.signals)
	assert.Empty(t, rig.store.messages)
}

func TestAgentCycleDailyCap(t *testing.T) {
	rig := newRig()
	cfg := store.DefaultAgentConfig("user-1")
	cfg.Enabled = true
	cfg.MaxDailySignals = 10
	rig.store.agentCfg = cfg
	rig.store.signalsToday = 10

	rig.pipe.RunAgentCycle(context.Background(), "user-1")

	assert.Empty(t, rig.store.signals)
	require.Len(t, rig.store.messages, 1)
	assert.Contains(t, rig.store.messages[0].Content, "daily signal cap")
}

func TestAgentAdvisoryNeverExecutes(t *testing.T) {
	rig := newRig()
	cfg := store.DefaultAgentConfig("user-1")
	cfg.Enabled = true
	cfg.Mode = store.AgentModeAdvisory
	cfg.Watchlist = "RELIANCE"
	rig.store.agentCfg = cfg

	rig.pipe.RunAgentCycle(context.Background(), "user-1")

	require.Len(t, rig.store.signals, 1)
	assert.Equal(t, store.SignalStatusPending, rig.store.signals[0].Status)
	assert.Empty(t, rig.book.ListOpenPositions("user-1"))
}

func TestAgentAutonomousExecutes(t *testing.T) {
	rig := newRig()
	cfg := store.DefaultAgentConfig("user-1")
	cfg.Enabled = true
	cfg.Mode = store.AgentModeAutonomous
	cfg.Watchlist = "RELIANCE"
	rig.store.agentCfg = cfg

	rig.pipe.RunAgentCycle(context.Background(), "user-1")

	require.Len(t, rig.store.signals, 1)
	assert.Equal(t, store.SignalStatusExecuted, rig.store.signals[0].Status)
	assert.NotEmpty(t, rig.book.ListOpenPositions("user-1"))
}

func TestAgentTradeBudgetExhausted(t *testing.T) {
	rig := newRig()
	cfg := store.DefaultAgentConfig("user-1")
	cfg.Enabled = true
	cfg.Mode = store.AgentModeAutonomous
	cfg.Watchlist = "RELIANCE"
	cfg.MaxDailyTrades = 5
	rig.store.agentCfg = cfg
	rig.store.executedToday = 5

	rig.pipe.RunAgentCycle(context.Background(), "user-1")

	require.Len(t, rig.store.signals, 1)
	assert.Equal(t, store.SignalStatusPending, rig.store.signals[0].Status, "budget exhausted downgrades to pending")
}

func TestAgentRiskGateDropsSignals(t *testing.T) {
	rig := newRig()
	cfg := store.DefaultAgentConfig("user-1")
	cfg.Enabled = true
	cfg.Mode = store.AgentModeAutonomous
	cfg.Watchlist = "RELIANCE"
	rig.store.agentCfg = cfg
	rig.store.recentTrades = tradesWithPnl(-100, -200, -150, -300, -250, -100)
	rig.scanner.riskReport = &engine.RiskReport{MaxDrawdownPercent: 14.2}

	rig.pipe.RunAgentCycle(context.Background(), "user-1")

	assert.Empty(t, rig.store.signals, "drawdown above 10% drops all signals")
}

func TestMarketScanNeverExecutes(t *testing.T) {
	rig := newRig()
	// The scan sweeps the equity catalogue alphabetically; seed the
	// first symbol so at least one series is scannable.
	rig.market.candles["ADANIENT"] = trendCandles(40)
	rig.market.quotes["ADANIENT"] = &market.Quote{Symbol: "ADANIENT", Exchange: "NSE", LTP: 3100}
	rig.scanner.signals = []engine.Signal{buySignal("ADANIENT", 0.8)}

	summary, err := rig.pipe.RunMarketScan(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Positive(t, summary.SymbolsScanned)
	require.Len(t, summary.Signals, 1)
	assert.Equal(t, store.SignalStatusPending, summary.Signals[0].Status)
	assert.Empty(t, rig.book.ListOpenPositions("user-1"))
}

func TestMarketScanFiltersBelowThreshold(t *testing.T) {
	rig := newRig()
	rig.market.candles["ADANIENT"] = trendCandles(40)
	rig.scanner.signals = []engine.Signal{buySignal("ADANIENT", 0.60)}

	summary, err := rig.pipe.RunMarketScan(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Empty(t, summary.Signals)
	assert.Empty(t, rig.store.signals)
}

func TestAutoPauseOnLossStreak(t *testing.T) {
	rig := newRig()
	stopper := &fakeStopper{}
	rig.pipe.SetBotStopper(stopper)

	bot := rig.addBot(store.BotRoleExecutor)
	bot.Strategy = "momo-v1"

	// Four prior losses; the next closing loss trips the pause.
	rig.pipe.Tracker().Seed("momo-v1", []store.OutcomeTag{
		store.OutcomeLoss, store.OutcomeLoss, store.OutcomeLoss, store.OutcomeLoss,
	})

	// Open a long well above market so the SELL close realizes a loss.
	_, err := rig.book.ExecuteOrder("user-1", portfolio.Order{Symbol: "RELIANCE", Side: "BUY", Quantity: 10, LTP: 2600})
	require.NoError(t, err)

	sell := buySignal("RELIANCE", 0.9)
	sell.Direction = "SELL"
	sell.Entry = 2500
	sell.StopLoss = 2550
	sell.Target = 2400
	rig.scanner.signals = []engine.Signal{sell}

	rig.pipe.RunBotCycle(context.Background(), bot.ID)

	assert.Equal(t, store.BotStatusIdle, rig.store.botStatus[bot.ID])
	require.Len(t, stopper.stopped, 1)
	assert.Equal(t, bot.ID, stopper.stopped[0])

	alerts := rig.store.messagesOfType(store.MessageTypeAlert)
	require.NotEmpty(t, alerts)
	assert.Contains(t, alerts[0].Content, "momo-v1")
	assert.Contains(t, alerts[0].Content, "auto-paused")

	// The closed trade was recorded with a LOSS outcome.
	require.Len(t, rig.store.trades, 1)
	assert.Equal(t, store.OutcomeLoss, rig.store.trades[0].Outcome)
}

func TestEmptyBotSymbolsUseDefaultSet(t *testing.T) {
	rig := newRig()
	bot := rig.addBot(store.BotRoleExecutor)
	bot.Symbols = ""

	// RELIANCE sits in the default set and has a scannable series.
	rig.pipe.RunBotCycle(context.Background(), bot.ID)

	require.Len(t, rig.store.signals, 1)
	assert.Equal(t, "RELIANCE", rig.store.signals[0].Symbol)
}

func TestCycleWithNoScannableSymbols(t *testing.T) {
	rig := newRig()
	rig.market.candles = map[string][]market.Candle{}
	bot := rig.addBot(store.BotRoleExecutor)
	bot.Symbols = ""

	rig.pipe.RunBotCycle(context.Background(), bot.ID)

	assert.Empty(t, rig.store.signals)
	require.Len(t, rig.store.actions, 1)
	assert.Contains(t, rig.store.actions[0], "no scannable symbols")
}

func TestIdleBotCycleSelfCancels(t *testing.T) {
	rig := newRig()
	stopper := &fakeStopper{}
	rig.pipe.SetBotStopper(stopper)
	bot := rig.addBot(store.BotRoleExecutor)
	bot.Status = store.BotStatusIdle

	rig.pipe.RunBotCycle(context.Background(), bot.ID)

	require.Len(t, stopper.stopped, 1)
	assert.Equal(t, bot.ID, stopper.stopped[0])
	assert.Empty(t, rig.store.signals)
	assert.Empty(t, rig.store.messages)
	assert.Empty(t, rig.store.actions)
	assert.Zero(t, rig.scanner.scanned)
}

func TestDeletedBotCycleSelfCancels(t *testing.T) {
	rig := newRig()
	stopper := &fakeStopper{}
	rig.pipe.SetBotStopper(stopper)

	ghost := uuid.New()
	rig.pipe.RunBotCycle(context.Background(), ghost)

	require.Len(t, stopper.stopped, 1)
	assert.Equal(t, ghost, stopper.stopped[0])
}

func TestCycleCapsCandleSymbols(t *testing.T) {
	rig := newRig()
	for _, s := range []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"} {
		rig.market.candles[s] = trendCandles(40)
	}
	bot := rig.addBot(store.BotRoleAnalyst)
	bot.Symbols = "A,B,C,D,E,F,G,H,I,J"

	rig.pipe.RunBotCycle(context.Background(), bot.ID)

	// Default cap of 8 symbols per cycle.
	assert.Contains(t, rig.store.actions[0], "8 symbols")
}

func TestShortSeriesSkipped(t *testing.T) {
	rig := newRig()
	rig.market.candles["RELIANCE"] = trendCandles(20) // below the 26-bar floor
	bot := rig.addBot(store.BotRoleExecutor)

	rig.pipe.RunBotCycle(context.Background(), bot.ID)

	assert.Zero(t, rig.scanner.scanned, "nothing scannable reaches the engine")
	assert.Empty(t, rig.store.signals)
}

func TestTaskHintsLeadSymbolOrder(t *testing.T) {
	got := prependSymbols([]string{"HDFCBANK", "TCS"}, []string{"RELIANCE", "TCS", "INFY"})
	assert.Equal(t, []string{"HDFCBANK", "TCS", "RELIANCE", "INFY"}, got)

	got = prependSymbols(nil, []string{"RELIANCE", ""})
	assert.Equal(t, []string{"RELIANCE"}, got)
}

func TestAgentScansOpenPositionsFirst(t *testing.T) {
	rig := newRig()
	cfg := store.DefaultAgentConfig("user-1")
	cfg.Enabled = true
	cfg.Watchlist = "RELIANCE"
	rig.store.agentCfg = cfg
	rig.market.candles["TCS"] = trendCandles(40)

	_, err := rig.book.ExecuteOrder("user-1", portfolio.Order{Symbol: "TCS", Side: "BUY", Quantity: 10, LTP: 3000})
	require.NoError(t, err)

	rig.pipe.RunAgentCycle(context.Background(), "user-1")

	// With an open position the watchlist is ignored.
	assert.Equal(t, []string{"TCS"}, rig.scanner.requestedSymbols())
}

func TestAgentEmptyBookFallsBackToWatchlist(t *testing.T) {
	rig := newRig()
	cfg := store.DefaultAgentConfig("user-1")
	cfg.Enabled = true
	cfg.Watchlist = "RELIANCE"
	rig.store.agentCfg = cfg

	rig.pipe.RunAgentCycle(context.Background(), "user-1")

	assert.Equal(t, []string{"RELIANCE"}, rig.scanner.requestedSymbols())
}

func TestMarketScanSweepsTopMovers(t *testing.T) {
	rig := newRig()
	for _, s := range []string{"ADANIENT", "ZEEL"} {
		rig.market.candles[s] = trendCandles(40)
	}
	rig.market.movers = &market.Movers{
		Gainers: []market.Quote{{Symbol: "ADANIENT"}, {Symbol: "RELIANCE"}},
		Losers:  []market.Quote{{Symbol: "RELIANCE"}, {Symbol: "ZEEL"}},
	}

	_, err := rig.pipe.RunMarketScan(context.Background(), "user-1")
	require.NoError(t, err)

	// Gainers and losers union, deduped; RELIANCE appears once.
	assert.ElementsMatch(t, []string{"ADANIENT", "RELIANCE", "ZEEL"}, rig.scanner.requestedSymbols())
}

func fullGates(v int) map[string]int {
	m := make(map[string]int, len(gateKeys))
	for _, k := range gateKeys {
		m[k] = v
	}
	return m
}

func TestFallbackSignalGatesArePreferred(t *testing.T) {
	rig := newRig()
	rig.scanner.available = false
	rig.advisor.fallback = []llm.FallbackSignal{
		{Symbol: "RELIANCE", SignalType: "BUY", Confidence: 0.7, Entry: 2500, StopLoss: 2460, Target: 2580, Gates: fullGates(77)},
	}
	bot := rig.addBot(store.BotRoleAnalyst)

	rig.pipe.RunBotCycle(context.Background(), bot.ID)

	require.Len(t, rig.store.signals, 1)
	gates := rig.store.signals[0].GateScores
	assert.Equal(t, 77, gates["g1_trend"])
	assert.Equal(t, 77, gates["g9_risk"])
	assert.Equal(t, "llm", gates["source"])
}

func TestIncompleteGateVectorFallsBackToDerived(t *testing.T) {
	rig := newRig()
	rig.scanner.available = false
	rig.advisor.fallback = []llm.FallbackSignal{
		{Symbol: "RELIANCE", SignalType: "BUY", Confidence: 0.7, Entry: 2500, StopLoss: 2460, Target: 2580,
			Gates: map[string]int{"g1_trend": 90}},
	}
	bot := rig.addBot(store.BotRoleAnalyst)

	rig.pipe.RunBotCycle(context.Background(), bot.ID)

	require.Len(t, rig.store.signals, 1)
	// Without indicators the derived trend gate is the base 20, not the
	// partial vector's 90.
	assert.Equal(t, 20, rig.store.signals[0].GateScores["g1_trend"])
}

func TestValidationGatesOverrideDerived(t *testing.T) {
	rig := newRig()
	rig.advisor.gates = fullGates(64)
	bot := rig.addBot(store.BotRoleAnalyst)

	rig.pipe.RunBotCycle(context.Background(), bot.ID)

	require.Len(t, rig.store.signals, 1)
	gates := rig.store.signals[0].GateScores
	assert.Equal(t, 64, gates["g2_momentum"])
	assert.Equal(t, "llm", gates["source"])
}

func TestFnoFallbackCarriesOptionsContext(t *testing.T) {
	rig := newRig()
	rig.scanner.available = false
	rig.market.chains = map[string]*market.OptionsChain{
		"RELIANCE": {Symbol: "RELIANCE", Spot: 2500, PCR: 1.32, MaxPain: 2480, TotalCallOI: 100000, TotalPutOI: 132000},
	}
	bot := rig.addBot(store.BotRoleFnoStrategist)

	rig.pipe.RunBotCycle(context.Background(), bot.ID)

	require.Len(t, rig.advisor.lastFC.Options, 1)
	assert.Equal(t, "RELIANCE", rig.advisor.lastFC.Options[0].Symbol)
	assert.InDelta(t, 1.32, rig.advisor.lastFC.Options[0].PCR, 1e-9)
}

func TestNonFnoFallbackOmitsOptionsContext(t *testing.T) {
	rig := newRig()
	rig.scanner.available = false
	rig.market.chains = map[string]*market.OptionsChain{
		"RELIANCE": {Symbol: "RELIANCE", PCR: 1.32},
	}
	bot := rig.addBot(store.BotRoleAnalyst)

	rig.pipe.RunBotCycle(context.Background(), bot.ID)

	assert.Empty(t, rig.advisor.lastFC.Options)
}

func TestFnoCycleDerivesOptionsFlowGateFromPCR(t *testing.T) {
	rig := newRig()
	rig.market.chains = map[string]*market.OptionsChain{
		"RELIANCE": {Symbol: "RELIANCE", PCR: 1.4},
	}
	bot := rig.addBot(store.BotRoleFnoStrategist)

	rig.pipe.RunBotCycle(context.Background(), bot.ID)

	require.Len(t, rig.store.signals, 1)
	// BUY with put-heavy OI: 50 + (1.4-1)*100 = 90.
	assert.Equal(t, 90, rig.store.signals[0].GateScores["g5_options_flow"])
}

func TestTaskHintedSymbolIsScanned(t *testing.T) {
	rig := newRig()
	rig.market.candles["HDFCBANK"] = trendCandles(40)
	bot := rig.addBot(store.BotRoleAnalyst)
	bot.Symbols = ""
	rig.store.taskSymbols = []string{"HDFCBANK"}

	rig.pipe.RunBotCycle(context.Background(), bot.ID)

	assert.Positive(t, rig.scanner.scanned, "hinted symbol reaches the engine")
}
