// Package api exposes the REST and websocket surface consumed by the
// UI: bot management, agent control, signal approval, market data reads
// and operational snapshots.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tradeveda/tradeveda/internal/briefing"
	"github.com/tradeveda/tradeveda/internal/market"
	"github.com/tradeveda/tradeveda/internal/metrics"
	"github.com/tradeveda/tradeveda/internal/pipeline"
	"github.com/tradeveda/tradeveda/internal/portfolio"
	"github.com/tradeveda/tradeveda/internal/scheduler"
	"github.com/tradeveda/tradeveda/internal/store"
)

// DefaultUserID is the account every unauthenticated request maps to.
// Multi-tenant callers send X-User-ID instead.
const DefaultUserID = "default"

// Store is the persistence surface the handlers use
type Store interface {
	CreateBot(ctx context.Context, bot *store.Bot) error
	GetBot(ctx context.Context, botID uuid.UUID) (*store.Bot, error)
	ListBots(ctx context.Context, userID string) ([]*store.Bot, error)
	UpdateBot(ctx context.Context, bot *store.Bot) error
	DeleteBot(ctx context.Context, botID uuid.UUID) error
	UpdateBotStatus(ctx context.Context, botID uuid.UUID, status store.BotStatus) error

	InsertMessage(ctx context.Context, msg *store.Message) error
	ListMessages(ctx context.Context, userID string, limit, offset int) ([]*store.Message, error)

	GetSignal(ctx context.Context, signalID uuid.UUID) (*store.Signal, error)
	ListSignals(ctx context.Context, userID string, status store.SignalStatus, limit, offset int) ([]*store.Signal, error)
	MarkSignalRejected(ctx context.Context, signalID uuid.UUID) error
	CountSignalsSince(ctx context.Context, userID string, since time.Time) (int, error)
	CountExecutedSince(ctx context.Context, userID string, since time.Time) (int, error)

	GetAgentConfig(ctx context.Context, userID string) (*store.AgentConfig, error)
	UpsertAgentConfig(ctx context.Context, cfg *store.AgentConfig) error

	GetTradeStats(ctx context.Context, userID string) (*store.TradeStats, error)
}

// Sched is the scheduler surface the handlers use
type Sched interface {
	StartBot(botID uuid.UUID, userID string) error
	StopBot(botID uuid.UUID)
	IsBotRunning(botID uuid.UUID) bool
	StartAgent(userID string)
	StopAgent(userID string)
	IsAgentRunning(userID string) bool
	StartMarketScan(userID string)
	StopMarketScan()
	Status() scheduler.Status
}

// MarketData is the quote stack surface the handlers use
type MarketData interface {
	GetQuote(ctx context.Context, symbol, exchange string) *market.Quote
	GetHistory(ctx context.Context, symbol, interval string, from, to time.Time, exchange string) ([]market.Candle, error)
	Search(ctx context.Context, query string, limit int, exchange string) []market.SearchResult
	GetIndices(ctx context.Context) []market.IndexQuote
	GetVIX(ctx context.Context) *market.VIXQuote
	GetTopMovers(ctx context.Context, count int) *market.Movers
	GetOptionsChain(ctx context.Context, symbol string) (*market.OptionsChain, error)
}

// Executor fills approved signals against the paper book
type Executor interface {
	ExecuteSignal(ctx context.Context, userID string, sig *store.Signal, bot *store.Bot) error
}

// Book is the paper portfolio surface the handlers use
type Book interface {
	Summary(userID string, marks map[string]float64) portfolio.Summary
	ListOpenPositions(userID string) []portfolio.Position
}

// Briefer serves the cached pre-market briefing
type Briefer interface {
	Get(ctx context.Context) (*briefing.Briefing, error)
}

// AccuracyReader exposes the rolling-accuracy map
type AccuracyReader interface {
	Snapshot() []pipeline.Accuracy
}

// EngineProbe reports native scan engine availability
type EngineProbe interface {
	Available() bool
}

// Config contains server configuration
type Config struct {
	Host           string
	Port           int
	APIKey         string // empty disables auth
	AllowedOrigins []string

	Store     Store
	Scheduler Sched
	Market    MarketData
	Executor  Executor
	Book      Book
	Briefing  Briefer
	Accuracy  AccuracyReader
	Engine    EngineProbe
}

// Server is the REST API server
type Server struct {
	router *gin.Engine
	addr   string
	apiKey string
	server *http.Server

	store     Store
	scheduler Sched
	market    MarketData
	executor  Executor
	book      Book
	briefing  Briefer
	accuracy  AccuracyReader
	engine    EngineProbe

	startMu        sync.Mutex
	agentStartedAt map[string]time.Time

	// wsPoll overrides the websocket poll cadence; zero means default.
	wsPoll time.Duration
}

// NewServer creates the API server with routes mounted
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(MetricsMiddleware())

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key", "X-User-ID"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{
		router:         router,
		addr:           fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		apiKey:         cfg.APIKey,
		store:          cfg.Store,
		scheduler:      cfg.Scheduler,
		market:         cfg.Market,
		executor:       cfg.Executor,
		book:           cfg.Book,
		briefing:       cfg.Briefing,
		accuracy:       cfg.Accuracy,
		engine:         cfg.Engine,
		agentStartedAt: make(map[string]time.Time),
	}

	s.setupRoutes()
	return s
}

// Router exposes the gin engine for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the HTTP server until Stop is called
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping API server")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}
	return nil
}

// LoggerMiddleware logs every request with latency and status
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method

		logEvent := log.Info().
			Str("method", method).
			Str("path", path).
			Str("query", query).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("client_ip", clientIP)

		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}

		logEvent.Msg("API request")
	}
}

// MetricsMiddleware records request counts and latency per route
// template, so path parameters do not explode label cardinality.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordAPIRequest(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
			float64(time.Since(start).Milliseconds()),
		)
	}
}

// apiKeyMiddleware rejects requests without the configured key. A server
// with no key configured runs open.
func (s *Server) apiKeyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.apiKey == "" {
			c.Next()
			return
		}
		if c.GetHeader("X-API-Key") != s.apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("unauthorized", "missing or invalid API key"))
			return
		}
		c.Next()
	}
}

// userID resolves the account for a request
func userID(c *gin.Context) string {
	if id := c.GetHeader("X-User-ID"); id != "" {
		return id
	}
	return DefaultUserID
}
