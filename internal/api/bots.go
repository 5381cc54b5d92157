package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tradeveda/tradeveda/internal/store"
)

// botView is the wire shape for a bot
type botView struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Role         string     `json:"role"`
	Status       string     `json:"status"`
	Symbols      []string   `json:"symbols"`
	Strategy     string     `json:"strategy"`
	MaxCapital   float64    `json:"maxCapital"`
	UsedCapital  float64    `json:"usedCapital"`
	TotalTrades  int        `json:"totalTrades"`
	TotalPnl     float64    `json:"totalPnl"`
	WinRate      float64    `json:"winRate"`
	IsScheduled  bool       `json:"isScheduled"`
	LastAction   *string    `json:"lastAction,omitempty"`
	LastActionAt *time.Time `json:"lastActionAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (s *Server) botToView(bot *store.Bot) botView {
	return botView{
		ID:           bot.ID,
		Name:         bot.Name,
		Role:         string(bot.Role),
		Status:       string(bot.Status),
		Symbols:      bot.SymbolList(),
		Strategy:     bot.Strategy,
		MaxCapital:   bot.MaxCapital,
		UsedCapital:  bot.UsedCapital,
		TotalTrades:  bot.TotalTrades,
		TotalPnl:     bot.TotalPnl,
		WinRate:      bot.WinRate,
		IsScheduled:  s.scheduler.IsBotRunning(bot.ID),
		LastAction:   bot.LastAction,
		LastActionAt: bot.LastActionAt,
		CreatedAt:    bot.CreatedAt,
		UpdatedAt:    bot.UpdatedAt,
	}
}

// botRequest is the create/update payload
type botRequest struct {
	Name       string   `json:"name" binding:"required"`
	Role       string   `json:"role" binding:"required"`
	Symbols    []string `json:"symbols"`
	Strategy   string   `json:"strategy"`
	MaxCapital float64  `json:"maxCapital"`
}

// botIDParam parses the :id path parameter
func botIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid bot id", c.Param("id"))
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleCreateBot(c *gin.Context) {
	var req botRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !store.ValidBotRole(req.Role) {
		respondError(c, http.StatusBadRequest, "invalid bot role", req.Role)
		return
	}

	bot := &store.Bot{
		UserID:     userID(c),
		Name:       req.Name,
		Role:       store.BotRole(strings.ToUpper(req.Role)),
		Symbols:    strings.Join(req.Symbols, ","),
		Strategy:   req.Strategy,
		MaxCapital: req.MaxCapital,
	}

	if err := s.store.CreateBot(c.Request.Context(), bot); err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s.botToView(bot))
}

func (s *Server) handleListBots(c *gin.Context) {
	bots, err := s.store.ListBots(c.Request.Context(), userID(c))
	if err != nil {
		respondStoreError(c, err)
		return
	}

	views := make([]botView, 0, len(bots))
	for _, bot := range bots {
		views = append(views, s.botToView(bot))
	}
	c.JSON(http.StatusOK, gin.H{"bots": views})
}

func (s *Server) handleUpdateBot(c *gin.Context) {
	id, ok := botIDParam(c)
	if !ok {
		return
	}

	var req botRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !store.ValidBotRole(req.Role) {
		respondError(c, http.StatusBadRequest, "invalid bot role", req.Role)
		return
	}

	bot, err := s.store.GetBot(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, err)
		return
	}

	bot.Name = req.Name
	bot.Role = store.BotRole(strings.ToUpper(req.Role))
	bot.Symbols = strings.Join(req.Symbols, ",")
	bot.Strategy = req.Strategy
	bot.MaxCapital = req.MaxCapital

	if err := s.store.UpdateBot(c.Request.Context(), bot); err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.botToView(bot))
}

func (s *Server) handleDeleteBot(c *gin.Context) {
	id, ok := botIDParam(c)
	if !ok {
		return
	}

	// A deleted bot must not keep firing cycles.
	s.scheduler.StopBot(id)

	if err := s.store.DeleteBot(c.Request.Context(), id); err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (s *Server) handleStartBot(c *gin.Context) {
	id, ok := botIDParam(c)
	if !ok {
		return
	}

	bot, err := s.store.GetBot(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, err)
		return
	}

	// Starting an already-running bot is a no-op in the scheduler.
	if err := s.scheduler.StartBot(bot.ID, bot.UserID); err != nil {
		respondError(c, http.StatusInternalServerError, "failed to schedule bot", err.Error())
		return
	}
	if err := s.store.UpdateBotStatus(c.Request.Context(), bot.ID, store.BotStatusRunning); err != nil {
		respondStoreError(c, err)
		return
	}

	bot.Status = store.BotStatusRunning
	c.JSON(http.StatusOK, s.botToView(bot))
}

func (s *Server) handleStopBot(c *gin.Context) {
	id, ok := botIDParam(c)
	if !ok {
		return
	}

	bot, err := s.store.GetBot(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, err)
		return
	}

	s.scheduler.StopBot(bot.ID)
	if err := s.store.UpdateBotStatus(c.Request.Context(), bot.ID, store.BotStatusIdle); err != nil {
		respondStoreError(c, err)
		return
	}

	bot.Status = store.BotStatusIdle
	c.JSON(http.StatusOK, s.botToView(bot))
}

// handleBotTask enqueues a one-shot task message for the bot
func (s *Server) handleBotTask(c *gin.Context) {
	id, ok := botIDParam(c)
	if !ok {
		return
	}

	var req struct {
		Task   string `json:"task" binding:"required"`
		Symbol string `json:"symbol"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	bot, err := s.store.GetBot(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, err)
		return
	}

	metadata := map[string]interface{}{
		"task": req.Task,
	}
	if sym := strings.ToUpper(strings.TrimSpace(req.Symbol)); sym != "" {
		metadata["symbol"] = sym
	}
	msg := &store.Message{
		UserID:   bot.UserID,
		BotID:    &bot.ID,
		Type:     store.MessageTypeTradeRequest,
		Content:  "Task queued: " + req.Task,
		Metadata: metadata,
	}
	if err := s.store.InsertMessage(c.Request.Context(), msg); err != nil {
		respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"messageId": msg.ID})
}

// messageView is the wire shape for a feed message
type messageView struct {
	ID        uuid.UUID              `json:"id"`
	BotID     *uuid.UUID             `json:"botId,omitempty"`
	Type      string                 `json:"type"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

func messageToView(msg *store.Message) messageView {
	return messageView{
		ID:        msg.ID,
		BotID:     msg.BotID,
		Type:      string(msg.Type),
		Content:   msg.Content,
		Metadata:  msg.Metadata,
		CreatedAt: msg.CreatedAt,
	}
}

func (s *Server) handleListMessages(c *gin.Context) {
	limit, offset := pagination(c, 50)

	messages, err := s.store.ListMessages(c.Request.Context(), userID(c), limit, offset)
	if err != nil {
		respondStoreError(c, err)
		return
	}

	views := make([]messageView, 0, len(messages))
	for _, msg := range messages {
		views = append(views, messageToView(msg))
	}
	c.JSON(http.StatusOK, gin.H{"messages": views, "limit": limit, "offset": offset})
}
