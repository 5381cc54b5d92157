package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tradeveda/tradeveda/internal/market"
)

// parseTimeParam accepts unix seconds or RFC3339
func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("missing time parameter")
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	return time.Parse(time.RFC3339, raw)
}

// respondMarketError maps market-stack failures; provider timeouts
// surface 504 so the UI can distinguish them from bad requests.
func respondMarketError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusGatewayTimeout, "market data timeout", err.Error())
	case errors.Is(err, market.ErrNoData):
		respondError(c, http.StatusNotFound, "no market data", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "market data error", err.Error())
	}
}

func (s *Server) handleQuote(c *gin.Context) {
	symbol := strings.TrimSpace(c.Query("symbol"))
	if symbol == "" {
		respondError(c, http.StatusBadRequest, "symbol is required")
		return
	}

	quote := s.market.GetQuote(c.Request.Context(), symbol, c.Query("exchange"))
	c.JSON(http.StatusOK, quote)
}

func (s *Server) handleHistory(c *gin.Context) {
	symbol := strings.TrimSpace(c.Query("symbol"))
	if symbol == "" {
		respondError(c, http.StatusBadRequest, "symbol is required")
		return
	}

	interval := c.DefaultQuery("interval", "5m")

	to := time.Now()
	from := to.Add(-48 * time.Hour)
	if raw := c.Query("from"); raw != "" {
		t, err := parseTimeParam(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid from timestamp", raw)
			return
		}
		from = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := parseTimeParam(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid to timestamp", raw)
			return
		}
		to = t
	}
	if !from.Before(to) {
		respondError(c, http.StatusBadRequest, "from must precede to")
		return
	}

	candles, err := s.market.GetHistory(c.Request.Context(), symbol, interval, from, to, c.Query("exchange"))
	if err != nil {
		respondMarketError(c, err)
		return
	}
	if candles == nil {
		candles = []market.Candle{}
	}
	c.JSON(http.StatusOK, gin.H{"symbol": strings.ToUpper(symbol), "interval": interval, "candles": candles})
}

func (s *Server) handleSearch(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		respondError(c, http.StatusBadRequest, "q is required")
		return
	}

	limit, _ := pagination(c, 10)
	results := s.market.Search(c.Request.Context(), query, limit, c.Query("exchange"))
	if results == nil {
		results = []market.SearchResult{}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) handleIndices(c *gin.Context) {
	indices := s.market.GetIndices(c.Request.Context())
	if indices == nil {
		indices = []market.IndexQuote{}
	}
	c.JSON(http.StatusOK, gin.H{"indices": indices})
}

func (s *Server) handleVIX(c *gin.Context) {
	c.JSON(http.StatusOK, s.market.GetVIX(c.Request.Context()))
}

func (s *Server) handleMovers(c *gin.Context) {
	count := 5
	if raw := c.Query("count"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 20 {
			count = v
		}
	}
	c.JSON(http.StatusOK, s.market.GetTopMovers(c.Request.Context(), count))
}

func (s *Server) handleOptionsChain(c *gin.Context) {
	symbol := strings.TrimSpace(c.Param("symbol"))
	if symbol == "" {
		respondError(c, http.StatusBadRequest, "symbol is required")
		return
	}

	chain, err := s.market.GetOptionsChain(c.Request.Context(), symbol)
	if err != nil {
		respondMarketError(c, err)
		return
	}
	c.JSON(http.StatusOK, chain)
}
