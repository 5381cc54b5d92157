package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tradeveda/tradeveda/internal/portfolio"
	"github.com/tradeveda/tradeveda/internal/store"
)

var istZone = time.FixedZone("IST", 5*3600+30*60)

// startOfTradingDay returns midnight IST for the current day
func startOfTradingDay(now time.Time) time.Time {
	ist := now.In(istZone)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), 0, 0, 0, 0, istZone)
}

// agentStatusView matches the shape the UI polls
type agentStatusView struct {
	IsActive     bool    `json:"isActive"`
	Mode         string  `json:"mode"`
	Paused       bool    `json:"paused"`
	PausedReason *string `json:"pausedReason,omitempty"`
	TodaySignals int     `json:"todaySignals"`
	TodayTrades  int     `json:"todayTrades"`
	Uptime       float64 `json:"uptime"` // seconds
	RustEngine   bool    `json:"rustEngine"`
}

func (s *Server) handleAgentStatus(c *gin.Context) {
	uid := userID(c)
	ctx := c.Request.Context()

	cfg, err := s.store.GetAgentConfig(ctx, uid)
	if err != nil {
		respondStoreError(c, err)
		return
	}

	since := startOfTradingDay(time.Now())
	todaySignals, err := s.store.CountSignalsSince(ctx, uid, since)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	todayTrades, err := s.store.CountExecutedSince(ctx, uid, since)
	if err != nil {
		respondStoreError(c, err)
		return
	}

	status := agentStatusView{
		IsActive:     s.scheduler.IsAgentRunning(uid),
		Mode:         string(cfg.Mode),
		Paused:       cfg.Paused,
		PausedReason: cfg.PausedReason,
		TodaySignals: todaySignals,
		TodayTrades:  todayTrades,
		RustEngine:   s.engine != nil && s.engine.Available(),
	}

	s.startMu.Lock()
	if startedAt, ok := s.agentStartedAt[uid]; ok && status.IsActive {
		status.Uptime = time.Since(startedAt).Seconds()
	}
	s.startMu.Unlock()

	s.reconcileBots(ctx, uid)

	c.JSON(http.StatusOK, status)
}

// reconcileBots re-registers bots marked RUNNING that lost their timers,
// typically after a server restart.
func (s *Server) reconcileBots(ctx context.Context, uid string) {
	bots, err := s.store.ListBots(ctx, uid)
	if err != nil {
		log.Warn().Err(err).Str("user_id", uid).Msg("Bot reconciliation skipped")
		return
	}
	for _, bot := range bots {
		if bot.Status != store.BotStatusRunning || s.scheduler.IsBotRunning(bot.ID) {
			continue
		}
		if err := s.scheduler.StartBot(bot.ID, bot.UserID); err != nil {
			log.Warn().Err(err).Str("bot_id", bot.ID.String()).Msg("Bot reconciliation failed")
			continue
		}
		log.Info().Str("bot_id", bot.ID.String()).Msg("Rescheduled running bot")
	}
}

func (s *Server) handleAgentStart(c *gin.Context) {
	uid := userID(c)
	ctx := c.Request.Context()

	cfg, err := s.store.GetAgentConfig(ctx, uid)
	if err != nil {
		respondStoreError(c, err)
		return
	}

	cfg.Enabled = true
	cfg.Paused = false
	cfg.PausedReason = nil
	if err := s.store.UpsertAgentConfig(ctx, cfg); err != nil {
		respondStoreError(c, err)
		return
	}

	s.scheduler.StartAgent(uid)
	s.scheduler.StartMarketScan(uid)

	s.startMu.Lock()
	if _, ok := s.agentStartedAt[uid]; !ok {
		s.agentStartedAt[uid] = time.Now()
	}
	s.startMu.Unlock()

	log.Info().Str("user_id", uid).Msg("Agent started via API")
	c.JSON(http.StatusOK, gin.H{"isActive": true, "mode": string(cfg.Mode)})
}

func (s *Server) handleAgentStop(c *gin.Context) {
	uid := userID(c)
	ctx := c.Request.Context()

	s.scheduler.StopAgent(uid)
	s.scheduler.StopMarketScan()

	s.startMu.Lock()
	delete(s.agentStartedAt, uid)
	s.startMu.Unlock()

	cfg, err := s.store.GetAgentConfig(ctx, uid)
	if err == nil {
		cfg.Enabled = false
		if err := s.store.UpsertAgentConfig(ctx, cfg); err != nil {
			log.Warn().Err(err).Str("user_id", uid).Msg("Failed to persist agent disable")
		}
	}

	log.Info().Str("user_id", uid).Msg("Agent stopped via API")
	c.JSON(http.StatusOK, gin.H{"isActive": false})
}

// signalView is the wire shape for a signal
type signalView struct {
	ID             uuid.UUID              `json:"id"`
	Symbol         string                 `json:"symbol"`
	Exchange       string                 `json:"exchange"`
	SignalType     string                 `json:"signalType"`
	CompositeScore float64                `json:"compositeScore"`
	GateScores     map[string]interface{} `json:"gateScores"`
	Rationale      string                 `json:"rationale"`
	Status         string                 `json:"status"`
	StrategyID     *string                `json:"strategyId,omitempty"`
	EntryPrice     float64                `json:"entryPrice"`
	StopLoss       float64                `json:"stopLoss"`
	Target         float64                `json:"target"`
	Outcome        *store.OutcomeTag      `json:"outcome,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	ExecutedAt     *time.Time             `json:"executedAt,omitempty"`
	ExpiresAt      time.Time              `json:"expiresAt"`
}

func signalToView(sig *store.Signal) signalView {
	return signalView{
		ID:             sig.ID,
		Symbol:         sig.Symbol,
		Exchange:       sig.Exchange,
		SignalType:     string(sig.SignalType),
		CompositeScore: sig.CompositeScore,
		GateScores:     sig.GateScores,
		Rationale:      sig.Rationale,
		Status:         string(sig.Status),
		StrategyID:     sig.StrategyID,
		EntryPrice:     sig.EntryPrice,
		StopLoss:       sig.StopLoss,
		Target:         sig.Target,
		Outcome:        sig.Outcome,
		CreatedAt:      sig.CreatedAt,
		ExecutedAt:     sig.ExecutedAt,
		ExpiresAt:      sig.ExpiresAt,
	}
}

func (s *Server) handleListSignals(c *gin.Context) {
	limit, offset := pagination(c, 50)

	var status store.SignalStatus
	if raw := c.Query("status"); raw != "" {
		switch store.SignalStatus(raw) {
		case store.SignalStatusPending, store.SignalStatusExecuted,
			store.SignalStatusRejected, store.SignalStatusExpired:
			status = store.SignalStatus(raw)
		default:
			respondError(c, http.StatusBadRequest, "invalid signal status", raw)
			return
		}
	}

	signals, err := s.store.ListSignals(c.Request.Context(), userID(c), status, limit, offset)
	if err != nil {
		respondStoreError(c, err)
		return
	}

	views := make([]signalView, 0, len(signals))
	for _, sig := range signals {
		views = append(views, signalToView(sig))
	}
	c.JSON(http.StatusOK, gin.H{"signals": views, "limit": limit, "offset": offset})
}

// signalIDParam parses the :id path parameter
func signalIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid signal id", c.Param("id"))
		return uuid.Nil, false
	}
	return id, true
}

// handleExecuteSignal approves a PENDING signal and fills it against the
// paper book. Only PENDING signals may execute.
func (s *Server) handleExecuteSignal(c *gin.Context) {
	id, ok := signalIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	sig, err := s.store.GetSignal(ctx, id)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	if sig.Status != store.SignalStatusPending {
		respondError(c, http.StatusConflict, "signal is not pending", string(sig.Status))
		return
	}

	if err := s.executor.ExecuteSignal(ctx, sig.UserID, sig, nil); err != nil {
		switch {
		case errors.Is(err, portfolio.ErrInsufficientFunds):
			respondError(c, http.StatusBadRequest, "insufficient funds", err.Error())
		case errors.Is(err, store.ErrSignalNotPending):
			respondError(c, http.StatusConflict, "signal is not pending")
		default:
			respondError(c, http.StatusInternalServerError, "execution failed", err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, signalToView(sig))
}

func (s *Server) handleRejectSignal(c *gin.Context) {
	id, ok := signalIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	sig, err := s.store.GetSignal(ctx, id)
	if err != nil {
		respondStoreError(c, err)
		return
	}

	if err := s.store.MarkSignalRejected(ctx, sig.ID); err != nil {
		respondStoreError(c, err)
		return
	}

	sig.Status = store.SignalStatusRejected
	c.JSON(http.StatusOK, signalToView(sig))
}

func (s *Server) handleBriefing(c *gin.Context) {
	brief, err := s.briefing.Get(c.Request.Context())
	if err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, brief)
}
