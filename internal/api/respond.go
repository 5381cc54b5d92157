package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tradeveda/tradeveda/internal/store"
)

// errorBody builds the error envelope. detail is optional.
func errorBody(msg string, detail ...string) gin.H {
	body := gin.H{"error": msg}
	if len(detail) > 0 && detail[0] != "" {
		body["detail"] = detail[0]
	}
	return body
}

// respondError writes the envelope with the given status
func respondError(c *gin.Context, status int, msg string, detail ...string) {
	c.JSON(status, errorBody(msg, detail...))
}

// respondStoreError maps persistence errors to HTTP statuses
func respondStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(c, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrSignalNotPending):
		respondError(c, http.StatusConflict, "signal is not pending")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusGatewayTimeout, "upstream timeout", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "internal error", err.Error())
	}
}

// pagination parses limit/offset query params with sane caps
func pagination(c *gin.Context, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > 200 {
		limit = 200
	}
	if raw := c.Query("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}
