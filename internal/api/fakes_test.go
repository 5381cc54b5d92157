package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tradeveda/tradeveda/internal/briefing"
	"github.com/tradeveda/tradeveda/internal/market"
	"github.com/tradeveda/tradeveda/internal/pipeline"
	"github.com/tradeveda/tradeveda/internal/portfolio"
	"github.com/tradeveda/tradeveda/internal/scheduler"
	"github.com/tradeveda/tradeveda/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeStore is an in-memory Store for handler tests
type fakeStore struct {
	mu       sync.Mutex
	bots     map[uuid.UUID]*store.Bot
	messages []*store.Message
	signals  map[uuid.UUID]*store.Signal
	agents   map[string]*store.AgentConfig

	tradeStats    *store.TradeStats
	signalsToday  int
	executedToday int

	failWith error // when set, every method returns this error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		bots:       make(map[uuid.UUID]*store.Bot),
		signals:    make(map[uuid.UUID]*store.Signal),
		agents:     make(map[string]*store.AgentConfig),
		tradeStats: &store.TradeStats{},
	}
}

func (f *fakeStore) CreateBot(_ context.Context, bot *store.Bot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	if bot.ID == uuid.Nil {
		bot.ID = uuid.New()
	}
	now := time.Now()
	bot.CreatedAt, bot.UpdatedAt = now, now
	if bot.Status == "" {
		bot.Status = store.BotStatusIdle
	}
	clone := *bot
	f.bots[bot.ID] = &clone
	return nil
}

func (f *fakeStore) GetBot(_ context.Context, botID uuid.UUID) (*store.Bot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	bot, ok := f.bots[botID]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *bot
	return &clone, nil
}

func (f *fakeStore) ListBots(_ context.Context, userID string) ([]*store.Bot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []*store.Bot
	for _, bot := range f.bots {
		if bot.UserID == userID {
			clone := *bot
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeStore) UpdateBot(_ context.Context, bot *store.Bot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	if _, ok := f.bots[bot.ID]; !ok {
		return store.ErrNotFound
	}
	clone := *bot
	f.bots[bot.ID] = &clone
	return nil
}

func (f *fakeStore) DeleteBot(_ context.Context, botID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	if _, ok := f.bots[botID]; !ok {
		return store.ErrNotFound
	}
	delete(f.bots, botID)
	return nil
}

func (f *fakeStore) UpdateBotStatus(_ context.Context, botID uuid.UUID, status store.BotStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	bot, ok := f.bots[botID]
	if !ok {
		return store.ErrNotFound
	}
	bot.Status = status
	return nil
}

func (f *fakeStore) InsertMessage(_ context.Context, msg *store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	clone := *msg
	f.messages = append(f.messages, &clone)
	return nil
}

func (f *fakeStore) ListMessages(_ context.Context, userID string, limit, offset int) ([]*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	var matched []*store.Message
	for _, msg := range f.messages {
		if msg.UserID == userID {
			matched = append(matched, msg)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]*store.Message, len(matched))
	for i, msg := range matched {
		clone := *msg
		out[i] = &clone
	}
	return out, nil
}

func (f *fakeStore) GetSignal(_ context.Context, signalID uuid.UUID) (*store.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	sig, ok := f.signals[signalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *sig
	return &clone, nil
}

func (f *fakeStore) ListSignals(_ context.Context, userID string, status store.SignalStatus, limit, offset int) ([]*store.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	var matched []*store.Signal
	for _, sig := range f.signals {
		if sig.UserID != userID {
			continue
		}
		if status != "" && sig.Status != status {
			continue
		}
		clone := *sig
		matched = append(matched, &clone)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (f *fakeStore) MarkSignalRejected(_ context.Context, signalID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	sig, ok := f.signals[signalID]
	if !ok {
		return store.ErrNotFound
	}
	if sig.Status != store.SignalStatusPending {
		return store.ErrSignalNotPending
	}
	sig.Status = store.SignalStatusRejected
	return nil
}

func (f *fakeStore) CountSignalsSince(_ context.Context, _ string, _ time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return 0, f.failWith
	}
	return f.signalsToday, nil
}

func (f *fakeStore) CountExecutedSince(_ context.Context, _ string, _ time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return 0, f.failWith
	}
	return f.executedToday, nil
}

func (f *fakeStore) GetAgentConfig(_ context.Context, userID string) (*store.AgentConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	if cfg, ok := f.agents[userID]; ok {
		clone := *cfg
		return &clone, nil
	}
	return store.DefaultAgentConfig(userID), nil
}

func (f *fakeStore) UpsertAgentConfig(_ context.Context, cfg *store.AgentConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	clone := *cfg
	f.agents[cfg.UserID] = &clone
	return nil
}

func (f *fakeStore) GetTradeStats(_ context.Context, _ string) (*store.TradeStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	clone := *f.tradeStats
	return &clone, nil
}

// fakeSched records scheduler calls
type fakeSched struct {
	mu          sync.Mutex
	runningBots map[uuid.UUID]bool
	agents      map[string]bool
	scanRunning bool
}

func newFakeSched() *fakeSched {
	return &fakeSched{
		runningBots: make(map[uuid.UUID]bool),
		agents:      make(map[string]bool),
	}
}

func (f *fakeSched) StartBot(botID uuid.UUID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runningBots[botID] = true
	return nil
}

func (f *fakeSched) StopBot(botID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.runningBots, botID)
}

func (f *fakeSched) IsBotRunning(botID uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runningBots[botID]
}

func (f *fakeSched) StartAgent(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agents[userID] = true
}

func (f *fakeSched) StopAgent(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.agents, userID)
}

func (f *fakeSched) IsAgentRunning(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.agents[userID]
}

func (f *fakeSched) StartMarketScan(_ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanRunning = true
}

func (f *fakeSched) StopMarketScan() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanRunning = false
}

func (f *fakeSched) Status() scheduler.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := scheduler.Status{
		MarketScanRunning: f.scanRunning,
		TickInterval:      180 * time.Second,
		SignalInterval:    300 * time.Second,
		ScanInterval:      600 * time.Second,
	}
	for id := range f.runningBots {
		status.RunningBots = append(status.RunningBots, scheduler.BotStatus{BotID: id})
	}
	for userID := range f.agents {
		status.ActiveAgents = append(status.ActiveAgents, userID)
	}
	return status
}

// fakeMarket serves canned market data
type fakeMarket struct {
	quote      *market.Quote
	candles    []market.Candle
	historyErr error
	results    []market.SearchResult
	indices    []market.IndexQuote
	vix        *market.VIXQuote
	movers     *market.Movers
	chain      *market.OptionsChain
	chainErr   error
}

func (f *fakeMarket) GetQuote(_ context.Context, symbol, exchange string) *market.Quote {
	if f.quote != nil {
		return f.quote
	}
	return &market.Quote{Symbol: symbol, Exchange: exchange}
}

func (f *fakeMarket) GetHistory(_ context.Context, _, _ string, _, _ time.Time, _ string) ([]market.Candle, error) {
	return f.candles, f.historyErr
}

func (f *fakeMarket) Search(_ context.Context, _ string, _ int, _ string) []market.SearchResult {
	return f.results
}

func (f *fakeMarket) GetIndices(_ context.Context) []market.IndexQuote {
	return f.indices
}

func (f *fakeMarket) GetVIX(_ context.Context) *market.VIXQuote {
	if f.vix != nil {
		return f.vix
	}
	return &market.VIXQuote{}
}

func (f *fakeMarket) GetTopMovers(_ context.Context, _ int) *market.Movers {
	if f.movers != nil {
		return f.movers
	}
	return &market.Movers{}
}

func (f *fakeMarket) GetOptionsChain(_ context.Context, _ string) (*market.OptionsChain, error) {
	return f.chain, f.chainErr
}

// fakeExecutor records execution calls
type fakeExecutor struct {
	mu     sync.Mutex
	calls  int
	lastID uuid.UUID
	err    error
	store  *fakeStore
}

func (f *fakeExecutor) ExecuteSignal(_ context.Context, _ string, sig *store.Signal, _ *store.Bot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastID = sig.ID
	if f.err != nil {
		return f.err
	}
	now := time.Now()
	sig.Status = store.SignalStatusExecuted
	sig.ExecutedAt = &now
	if f.store != nil {
		f.store.mu.Lock()
		if stored, ok := f.store.signals[sig.ID]; ok {
			stored.Status = store.SignalStatusExecuted
			stored.ExecutedAt = &now
		}
		f.store.mu.Unlock()
	}
	return nil
}

// fakeBook serves a canned portfolio snapshot
type fakeBook struct {
	summary   portfolio.Summary
	positions []portfolio.Position
}

func (f *fakeBook) Summary(_ string, _ map[string]float64) portfolio.Summary {
	return f.summary
}

func (f *fakeBook) ListOpenPositions(_ string) []portfolio.Position {
	return f.positions
}

// fakeBriefer serves a canned briefing
type fakeBriefer struct {
	brief *briefing.Briefing
	err   error
}

func (f *fakeBriefer) Get(_ context.Context) (*briefing.Briefing, error) {
	return f.brief, f.err
}

// fakeAccuracy serves a canned rolling-accuracy snapshot
type fakeAccuracy struct {
	snapshot []pipeline.Accuracy
}

func (f *fakeAccuracy) Snapshot() []pipeline.Accuracy {
	return f.snapshot
}

// fakeEngine reports configurable availability
type fakeEngine struct {
	available bool
}

func (f *fakeEngine) Available() bool { return f.available }

// fixture bundles a server with its fakes
type fixture struct {
	server   *Server
	store    *fakeStore
	sched    *fakeSched
	market   *fakeMarket
	executor *fakeExecutor
	book     *fakeBook
	briefer  *fakeBriefer
	accuracy *fakeAccuracy
	engine   *fakeEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := newFakeStore()
	f := &fixture{
		store:    st,
		sched:    newFakeSched(),
		market:   &fakeMarket{},
		executor: &fakeExecutor{store: st},
		book:     &fakeBook{},
		briefer:  &fakeBriefer{brief: &briefing.Briefing{Text: "calm open"}},
		accuracy: &fakeAccuracy{},
		engine:   &fakeEngine{available: true},
	}

	f.server = NewServer(Config{
		Host:      "127.0.0.1",
		Port:      0,
		Store:     f.store,
		Scheduler: f.sched,
		Market:    f.market,
		Executor:  f.executor,
		Book:      f.book,
		Briefing:  f.briefer,
		Accuracy:  f.accuracy,
		Engine:    f.engine,
	})
	return f
}

// do runs one request through the router
func (f *fixture) do(t *testing.T, method, path string, body interface{}, headers ...map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, hdr := range headers {
		for k, v := range hdr {
			req.Header.Set(k, v)
		}
	}

	rec := httptest.NewRecorder()
	f.server.router.ServeHTTP(rec, req)
	return rec
}

// decode unmarshals a JSON response body
func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// seedSignal inserts a signal directly into the fake store
func (f *fixture) seedSignal(userID string, status store.SignalStatus) *store.Signal {
	sig := &store.Signal{
		ID:             uuid.New(),
		UserID:         userID,
		Symbol:         "RELIANCE",
		Exchange:       "NSE",
		SignalType:     store.SignalTypeBuy,
		CompositeScore: 0.72,
		Status:         status,
		EntryPrice:     2985.0,
		StopLoss:       2940.0,
		Target:         3075.0,
		CreatedAt:      time.Now(),
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}
	f.store.mu.Lock()
	f.store.signals[sig.ID] = sig
	f.store.mu.Unlock()
	return sig
}
