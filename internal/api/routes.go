package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// setupRoutes mounts the full route table
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws/messages", s.handleMessageStream)

	v1 := s.router.Group("/api/v1")
	v1.Use(s.apiKeyMiddleware())
	{
		bots := v1.Group("/bots")
		{
			bots.POST("", s.handleCreateBot)
			bots.GET("", s.handleListBots)
			bots.GET("/messages", s.handleListMessages)
			bots.PUT("/:id", s.handleUpdateBot)
			bots.DELETE("/:id", s.handleDeleteBot)
			bots.POST("/:id/start", s.handleStartBot)
			bots.POST("/:id/stop", s.handleStopBot)
			bots.POST("/:id/task", s.handleBotTask)
		}

		agent := v1.Group("/agent")
		{
			agent.GET("/status", s.handleAgentStatus)
			agent.POST("/start", s.handleAgentStart)
			agent.POST("/stop", s.handleAgentStop)
			agent.GET("/signals", s.handleListSignals)
			agent.POST("/signals/:id/execute", s.handleExecuteSignal)
			agent.POST("/signals/:id/reject", s.handleRejectSignal)
			agent.GET("/briefing/premarket", s.handleBriefing)
		}

		mkt := v1.Group("/market")
		{
			mkt.GET("/quote", s.handleQuote)
			mkt.GET("/history", s.handleHistory)
			mkt.GET("/search", s.handleSearch)
			mkt.GET("/indices", s.handleIndices)
			mkt.GET("/vix", s.handleVIX)
			mkt.GET("/movers", s.handleMovers)
			mkt.GET("/options/:symbol", s.handleOptionsChain)
		}

		v1.GET("/scheduler/status", s.handleSchedulerStatus)
		v1.GET("/portfolio", s.handlePortfolio)
		v1.GET("/accuracy", s.handleAccuracy)
	}
}

// handleHealth is the liveness probe
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
