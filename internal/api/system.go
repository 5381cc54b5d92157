package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tradeveda/tradeveda/internal/pipeline"
	"github.com/tradeveda/tradeveda/internal/store"
)

func (s *Server) handleSchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.scheduler.Status())
}

// handlePortfolio returns the paper account marked to live quotes, plus
// aggregate closed-trade statistics.
func (s *Server) handlePortfolio(c *gin.Context) {
	uid := userID(c)
	ctx := c.Request.Context()

	marks := make(map[string]float64)
	for _, pos := range s.book.ListOpenPositions(uid) {
		quote := s.market.GetQuote(ctx, pos.Symbol, pos.Exchange)
		if quote.Valid() {
			marks[pos.Symbol] = quote.LTP
		}
	}

	summary := s.book.Summary(uid, marks)

	stats, err := s.store.GetTradeStats(ctx, uid)
	if err != nil {
		stats = &store.TradeStats{}
	}

	c.JSON(http.StatusOK, gin.H{
		"cash":          summary.Cash,
		"nav":           summary.NAV,
		"unrealizedPnl": summary.UnrealizedPnl,
		"realizedPnl":   summary.RealizedPnl,
		"positions":     summary.Positions,
		"stats": gin.H{
			"totalTrades": stats.TotalTrades,
			"wins":        stats.Wins,
			"losses":      stats.Losses,
			"breakevens":  stats.Breakevens,
			"totalPnl":    stats.TotalPnl,
			"avgWin":      stats.AvgWin,
			"avgLoss":     stats.AvgLoss,
		},
	})
}

func (s *Server) handleAccuracy(c *gin.Context) {
	snapshot := s.accuracy.Snapshot()
	if snapshot == nil {
		snapshot = []pipeline.Accuracy{}
	}
	c.JSON(http.StatusOK, gin.H{"strategies": snapshot})
}
