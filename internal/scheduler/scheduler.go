// Package scheduler owns the timers that drive decision cycles: one per
// running bot, one per enabled agent, and a singleton market scan. It
// enforces the concurrent-bot cap with oldest-first eviction, staggers
// bot start times, and guarantees at most one in-flight cycle per timer.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tradeveda/tradeveda/internal/pipeline"
)

// CycleRunner is the pipeline surface the scheduler drives
type CycleRunner interface {
	RunBotCycle(ctx context.Context, botID uuid.UUID)
	RunAgentCycle(ctx context.Context, userID string)
	RunMarketScan(ctx context.Context, userID string) (*pipeline.ScanSummary, error)
}

// Config tunes the scheduler cadences
type Config struct {
	TickInterval       time.Duration // bot cycles
	SignalInterval     time.Duration // agent cycles
	MarketScanInterval time.Duration
	MaxConcurrentBots  int
}

// entry is one scheduled timer
type entry struct {
	cancel       context.CancelFunc
	registeredAt time.Time
	userID       string
}

// BotStatus is one running bot in a status snapshot
type BotStatus struct {
	BotID        uuid.UUID `json:"botId"`
	UserID       string    `json:"userId"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Status is a point-in-time scheduler snapshot
type Status struct {
	RunningBots       []BotStatus   `json:"runningBots"`
	ActiveAgents      []string      `json:"activeAgents"`
	MarketScanRunning bool          `json:"marketScanRunning"`
	TickInterval      time.Duration `json:"tickInterval"`
	SignalInterval    time.Duration `json:"signalInterval"`
	ScanInterval      time.Duration `json:"scanInterval"`
}

// Scheduler drives the pipeline on timers
type Scheduler struct {
	mu       sync.Mutex
	runner   CycleRunner
	bots     map[uuid.UUID]*entry
	agents   map[string]*entry
	scan     *entry
	inflight map[string]bool
	lastScan *pipeline.ScanSummary
	wg       sync.WaitGroup

	tickInterval   time.Duration
	signalInterval time.Duration
	scanInterval   time.Duration
	maxBots        int
}

// New creates a scheduler
func New(runner CycleRunner, cfg Config) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 180 * time.Second
	}
	if cfg.SignalInterval <= 0 {
		cfg.SignalInterval = 300 * time.Second
	}
	if cfg.MarketScanInterval <= 0 {
		cfg.MarketScanInterval = 600 * time.Second
	}
	if cfg.MaxConcurrentBots <= 0 {
		cfg.MaxConcurrentBots = 3
	}

	return &Scheduler{
		runner:         runner,
		bots:           make(map[uuid.UUID]*entry),
		agents:         make(map[string]*entry),
		inflight:       make(map[string]bool),
		tickInterval:   cfg.TickInterval,
		signalInterval: cfg.SignalInterval,
		scanInterval:   cfg.MarketScanInterval,
		maxBots:        cfg.MaxConcurrentBots,
	}
}

// StartBot schedules cycles for a bot. At the concurrency cap the
// longest-running bot is evicted first. The first cycle is staggered by
// rank so freshly started bots do not stampede the market stack.
func (s *Scheduler) StartBot(botID uuid.UUID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Registering a bot that is already scheduled is a no-op.
	if _, ok := s.bots[botID]; ok {
		log.Debug().Str("bot_id", botID.String()).Msg("Bot already scheduled")
		return nil
	}

	if len(s.bots) >= s.maxBots {
		s.evictOldestLocked()
	}

	rank := len(s.bots)
	delay := time.Duration(rank)*(s.tickInterval/6) + s.tickInterval/18
	s.startBotLocked(botID, userID, delay)

	log.Info().
		Str("bot_id", botID.String()).
		Str("user_id", userID).
		Dur("initial_delay", delay).
		Msg("Bot scheduled")

	return nil
}

// startBotLocked registers the timer goroutine. Callers hold s.mu.
func (s *Scheduler) startBotLocked(botID uuid.UUID, userID string, delay time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.bots[botID] = &entry{cancel: cancel, registeredAt: time.Now(), userID: userID}

	key := "bot:" + botID.String()
	s.runLoop(ctx, key, delay, s.tickInterval, func(runCtx context.Context) {
		s.runner.RunBotCycle(runCtx, botID)
	})
}

// evictOldestLocked cancels the earliest-registered bot. Callers hold s.mu.
func (s *Scheduler) evictOldestLocked() {
	var oldest uuid.UUID
	var oldestAt time.Time
	for id, e := range s.bots {
		if oldestAt.IsZero() || e.registeredAt.Before(oldestAt) {
			oldest, oldestAt = id, e.registeredAt
		}
	}
	if e, ok := s.bots[oldest]; ok {
		e.cancel()
		delete(s.bots, oldest)
		log.Warn().Str("bot_id", oldest.String()).Msg("Bot evicted: concurrency cap reached")
	}
}

// StopBot cancels a bot's timer. Safe to call for unknown bots; also
// serves as the pipeline's auto-pause hook.
func (s *Scheduler) StopBot(botID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.bots[botID]; ok {
		e.cancel()
		delete(s.bots, botID)
		log.Info().Str("bot_id", botID.String()).Msg("Bot unscheduled")
	}
}

// IsBotRunning reports whether the bot has an active timer
func (s *Scheduler) IsBotRunning(botID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.bots[botID]
	return ok
}

// Running returns the number of scheduled bots
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bots)
}

// StartAgent schedules the user's agent cycles
func (s *Scheduler) StartAgent(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[userID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.agents[userID] = &entry{cancel: cancel, registeredAt: time.Now(), userID: userID}

	delay := s.signalInterval / 15
	s.runLoop(ctx, "agent:"+userID, delay, s.signalInterval, func(runCtx context.Context) {
		s.runner.RunAgentCycle(runCtx, userID)
	})

	log.Info().Str("user_id", userID).Msg("Agent scheduled")
}

// StopAgent cancels the user's agent timer
func (s *Scheduler) StopAgent(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.agents[userID]; ok {
		e.cancel()
		delete(s.agents, userID)
		log.Info().Str("user_id", userID).Msg("Agent unscheduled")
	}
}

// IsAgentRunning reports whether the user's agent has an active timer
func (s *Scheduler) IsAgentRunning(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.agents[userID]
	return ok
}

// StartMarketScan schedules the singleton market sweep. A second call
// is a no-op while one is scheduled.
func (s *Scheduler) StartMarketScan(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scan != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.scan = &entry{cancel: cancel, registeredAt: time.Now(), userID: userID}

	delay := s.scanInterval / 20
	s.runLoop(ctx, "scan", delay, s.scanInterval, func(runCtx context.Context) {
		summary, err := s.runner.RunMarketScan(runCtx, userID)
		if err != nil {
			log.Error().Err(err).Msg("Market scan failed")
			return
		}
		s.mu.Lock()
		s.lastScan = summary
		s.mu.Unlock()
	})

	log.Info().Str("user_id", userID).Msg("Market scan scheduled")
}

// StopMarketScan cancels the market sweep timer
func (s *Scheduler) StopMarketScan() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scan != nil {
		s.scan.cancel()
		s.scan = nil
	}
}

// LastScan returns the most recent market scan summary, if any
func (s *Scheduler) LastScan() *pipeline.ScanSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastScan
}

// runLoop spawns the timer goroutine: initial delay, then a steady
// ticker. The in-flight set guarantees one running cycle per key even
// when a cycle overruns its interval.
func (s *Scheduler) runLoop(ctx context.Context, key string, delay, interval time.Duration, run func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		fire := func() {
			if !s.tryAcquire(key) {
				log.Debug().Str("key", key).Msg("Cycle still in flight, tick skipped")
				return
			}
			defer s.release(key)
			run(ctx)
		}

		fire()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fire()
			}
		}
	}()
}

func (s *Scheduler) tryAcquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[key] {
		return false
	}
	s.inflight[key] = true
	return true
}

func (s *Scheduler) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, key)
}

// SetTickInterval rebinds every bot timer to a new cadence. In-flight
// state carries over; running cycles are not interrupted.
func (s *Scheduler) SetTickInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tickInterval = interval

	rebind := make(map[uuid.UUID]string, len(s.bots))
	for id, e := range s.bots {
		e.cancel()
		rebind[id] = e.userID
	}
	for id, userID := range rebind {
		s.startBotLocked(id, userID, interval/18)
	}

	log.Info().Dur("interval", interval).Int("bots", len(rebind)).Msg("Tick interval changed")
}

// SetMarketScanInterval rebinds the market scan timer
func (s *Scheduler) SetMarketScanInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}

	s.mu.Lock()
	userID := ""
	if s.scan != nil {
		userID = s.scan.userID
		s.scan.cancel()
		s.scan = nil
	}
	s.scanInterval = interval
	s.mu.Unlock()

	if userID != "" {
		s.StartMarketScan(userID)
	}
}

// Status returns a snapshot for the API
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		MarketScanRunning: s.scan != nil,
		TickInterval:      s.tickInterval,
		SignalInterval:    s.signalInterval,
		ScanInterval:      s.scanInterval,
	}
	for id, e := range s.bots {
		status.RunningBots = append(status.RunningBots, BotStatus{
			BotID:        id,
			UserID:       e.userID,
			RegisteredAt: e.registeredAt,
		})
	}
	for userID := range s.agents {
		status.ActiveAgents = append(status.ActiveAgents, userID)
	}
	return status
}

// StopAll cancels every timer and waits for goroutines to drain
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	for id, e := range s.bots {
		e.cancel()
		delete(s.bots, id)
	}
	for userID, e := range s.agents {
		e.cancel()
		delete(s.agents, userID)
	}
	if s.scan != nil {
		s.scan.cancel()
		s.scan = nil
	}
	s.mu.Unlock()

	s.wg.Wait()
	log.Info().Msg("Scheduler stopped")
}
