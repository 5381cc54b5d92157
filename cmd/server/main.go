// Command server runs the trading platform: REST API, cycle scheduler,
// signal pipeline, market data stack, paper portfolio, and metrics.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tradeveda/tradeveda/internal/alerts"
	"github.com/tradeveda/tradeveda/internal/api"
	"github.com/tradeveda/tradeveda/internal/briefing"
	"github.com/tradeveda/tradeveda/internal/config"
	"github.com/tradeveda/tradeveda/internal/engine"
	"github.com/tradeveda/tradeveda/internal/events"
	"github.com/tradeveda/tradeveda/internal/jobs"
	"github.com/tradeveda/tradeveda/internal/llm"
	"github.com/tradeveda/tradeveda/internal/market"
	"github.com/tradeveda/tradeveda/internal/metrics"
	"github.com/tradeveda/tradeveda/internal/pipeline"
	"github.com/tradeveda/tradeveda/internal/portfolio"
	"github.com/tradeveda/tradeveda/internal/scheduler"
	"github.com/tradeveda/tradeveda/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.InitLoggerWithFile(cfg.App.LogLevel, cfg.App.LogFormat, cfg.App.LogFile)

	log.Info().
		Str("version", cfg.App.Version).
		Str("environment", cfg.App.Environment).
		Msg("Starting TradeVeda server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Persistence
	st, err := store.New(ctx, cfg.Database.GetDSN(), cfg.Database.PoolSize)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer st.Close()

	// Redis backs the market cache and the job queue; the platform runs
	// degraded without it.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Msg("Redis unreachable, running without cache and job queue")
		redisClient = nil
	}
	pingCancel()

	// Market data stack
	marketSvc := buildMarketService(cfg, redisClient)

	// Native scan engine
	engineClient := engine.NewClient(engine.Config{
		Binary:        cfg.Engine.Binary,
		Timeout:       cfg.Engine.EngineTimeout(),
		MaxInputBytes: cfg.Engine.MaxInputBytes,
		MaxConcurrent: cfg.Engine.MaxConcurrent,
	})
	if !engineClient.Available() {
		log.Warn().Str("binary", cfg.Engine.Binary).Msg("Scan engine binary not found, cycles fall back to LLM")
	}

	// LLM advisor (optional)
	llmClient := buildLLMClient(cfg)

	// Paper portfolio
	book := portfolio.NewEngine(portfolio.Config{
		InitialCapital: cfg.Paper.InitialCapital,
		FeeBPS:         cfg.Paper.FeeBPS,
		SlippageBPS:    cfg.Paper.SlippageBPS,
	})

	// Signal pipeline
	var advisor pipeline.Advisor
	if llmClient != nil {
		advisor = llmClient
	}
	pipe := pipeline.New(st, marketSvc, engineClient, advisor, book, pipeline.Config{
		MaxCandleSymbols:     cfg.Pipeline.MaxCandleSymbols,
		RollingWindow:        cfg.Pipeline.RollingWindow,
		AutoPauseAccuracy:    cfg.Pipeline.AutoPauseAccuracy,
		AutoExecuteThreshold: cfg.Pipeline.AutoExecuteThreshold,
		LLMRejectPenalty:     cfg.Pipeline.LLMRejectPenalty,
		SignalTTL:            time.Duration(cfg.Pipeline.SignalTTLHours) * time.Hour,
	})

	// Scheduler, wired back into the pipeline for auto-pause
	sched := scheduler.New(pipe, scheduler.Config{
		TickInterval:       cfg.Scheduler.TickInterval(),
		SignalInterval:     cfg.Scheduler.SignalInterval(),
		MarketScanInterval: cfg.Scheduler.MarketScanInterval(),
		MaxConcurrentBots:  cfg.Scheduler.MaxConcurrentBots,
	})
	pipe.SetBotStopper(sched)
	defer sched.StopAll()

	// Event bus (optional)
	natsURL := ""
	if cfg.NATS.Enabled {
		natsURL = cfg.NATS.URL
	}
	publisher, err := events.Connect(natsURL)
	if err != nil {
		log.Warn().Err(err).Msg("NATS unreachable, events disabled")
	} else if publisher != nil {
		pipe.SetPublisher(publisher)
		defer publisher.Close()
	}

	// Alerts
	alertManager := buildAlertManager(cfg)
	pipe.SetNotifier(alertManager)

	// Pre-market briefing
	var summarizer briefing.Summarizer
	if llmClient != nil {
		summarizer = llmClient
	}
	briefSvc := briefing.New(marketSvc, summarizer)

	// Background jobs over Redis
	var queue *jobs.Queue
	if redisClient != nil {
		queue = jobs.New(redisClient)
		queue.Handle("expire_signals", func(jobCtx context.Context, _ []byte) error {
			expired, err := st.ExpireStaleSignals(jobCtx)
			if err != nil {
				return err
			}
			if expired > 0 {
				log.Info().Int64("expired", expired).Msg("Stale signals expired")
			}
			return nil
		})
		queue.Handle("news_fetch", func(_ context.Context, payload []byte) error {
			var job struct {
				Headlines []string `json:"headlines"`
			}
			if err := json.Unmarshal(payload, &job); err != nil {
				return err
			}
			briefSvc.SetHeadlines(job.Headlines)
			return nil
		})
		queue.AddRepeatingJob("expire_signals", nil, 10*time.Minute)
		queue.StartWorker(ctx)
		defer queue.Stop()
	}

	// Metrics endpoint and slow-gauge refresh
	var metricsServer *metrics.Server
	var updater *metrics.Updater
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Port)
		metricsServer.Start()

		updater = metrics.NewUpdater(func() metrics.Snapshot {
			status := sched.Status()
			return metrics.Snapshot{
				RunningBots:   len(status.RunningBots),
				ActiveAgents:  len(status.ActiveAgents),
				OpenPositions: len(book.ListOpenPositions(api.DefaultUserID)),
				NAV:           book.NAV(api.DefaultUserID, nil),
			}
		}, 15*time.Second)
		go updater.Start(ctx)
		defer updater.Stop()
	}

	// REST API
	apiServer := api.NewServer(api.Config{
		Host:           cfg.API.Host,
		Port:           cfg.API.Port,
		APIKey:         cfg.API.APIKey,
		AllowedOrigins: cfg.API.AllowedOrigins,
		Store:          st,
		Scheduler:      sched,
		Market:         marketSvc,
		Executor:       pipe,
		Book:           book,
		Briefing:       briefSvc,
		Accuracy:       pipe.Tracker(),
		Engine:         engineClient,
	})

	// Bots marked RUNNING before a restart resume their timers.
	reconcileRunningBots(ctx, st, sched)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- apiServer.Start()
	}()

	select {
	case err := <-serverErrors:
		log.Error().Err(err).Msg("API server error")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	}

	log.Info().Msg("Shutting down")
	// In-progress cycles get the same window to drain before the
	// deferred StopAll cancels them.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to stop API server gracefully")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to stop metrics server gracefully")
		}
	}

	log.Info().Msg("Server stopped")
}

// buildMarketService assembles the tiered market data stack
func buildMarketService(cfg *config.Config, redisClient *redis.Client) *market.Service {
	cache := market.NewCache(redisClient, market.CacheTTLs{
		Quote:   time.Duration(cfg.Market.CacheTTLQuote) * time.Second,
		History: time.Duration(cfg.Market.CacheTTLHistory) * time.Second,
		Indices: time.Duration(cfg.Market.CacheTTLIndices) * time.Second,
		Search:  time.Duration(cfg.Market.CacheTTLSearch) * time.Second,
		Options: time.Duration(cfg.Market.CacheTTLOptions) * time.Second,
	})

	fetchTimeout := cfg.Market.FetchTimeout()
	chart := market.NewChartProvider(cfg.Market.ChartBaseURL, fetchTimeout)
	nse := market.NewNSEProvider(cfg.Market.NSEBaseURL, fetchTimeout, int64(cfg.Market.NSEMaxConcurrent))

	var kite *market.KiteProvider
	if cfg.Broker.Enabled {
		var err error
		kite, err = market.NewKiteProvider(os.Getenv("TRADEVEDA_BROKER_CREDENTIALS"), cfg.Broker.CredentialSecret)
		if err != nil {
			log.Warn().Err(err).Msg("Broker tier disabled: credential setup failed")
			kite = nil
		}
	}

	sim := market.NewSimulatedProvider()
	return market.NewService(cache, chart, nse, kite, sim, fetchTimeout)
}

// buildLLMClient creates the advisor, or nil when no key is configured
func buildLLMClient(cfg *config.Config) *llm.Client {
	if cfg.LLM.APIKey == "" {
		log.Warn().Msg("No LLM API key configured, validation and fallback disabled")
		return nil
	}

	prompts, err := llm.LoadRegistry(cfg.LLM.PromptsFile)
	if err != nil {
		log.Warn().Err(err).Str("file", cfg.LLM.PromptsFile).Msg("Prompt file unavailable, using built-in prompts")
		prompts = nil
	}

	return llm.NewClient(llm.Config{
		BaseURL:       cfg.LLM.BaseURL,
		APIKey:        cfg.LLM.APIKey,
		Model:         cfg.LLM.Model,
		Temperature:   cfg.LLM.Temperature,
		MaxTokens:     cfg.LLM.MaxTokens,
		Timeout:       cfg.LLM.GetTimeout(),
		MinConfidence: cfg.Pipeline.FallbackMinConfidence,
		Prompts:       prompts,
	})
}

// buildAlertManager wires the alert channels
func buildAlertManager(cfg *config.Config) *alerts.Manager {
	alerters := []alerts.Alerter{alerts.NewLogAlerter()}

	if cfg.Telegram.Enabled {
		tg, err := alerts.NewTelegramAlerter(cfg.Telegram.BotToken, []int64{cfg.Telegram.ChatID})
		if err != nil {
			log.Warn().Err(err).Msg("Telegram alerter disabled")
		} else {
			alerters = append(alerters, tg)
		}
	}

	return alerts.NewManager(alerters...)
}

// reconcileRunningBots reschedules bots that were RUNNING at shutdown
func reconcileRunningBots(ctx context.Context, st *store.Store, sched *scheduler.Scheduler) {
	bots, err := st.ListRunningBots(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list running bots for reconcile")
		return
	}

	for _, bot := range bots {
		if err := sched.StartBot(bot.ID, bot.UserID); err != nil {
			log.Warn().Err(err).Str("bot_id", bot.ID.String()).Msg("Failed to reschedule bot")
			continue
		}
		log.Info().Str("bot_id", bot.ID.String()).Str("name", bot.Name).Msg("Bot rescheduled after restart")
	}
}
