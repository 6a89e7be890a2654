package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const healthTimeout = 2 * time.Second

// GET /healthz
//
// Reports dependency checks and, when a queue is configured, its job counts.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	body := gin.H{}
	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if h.queue != nil {
		counts, err := h.queue.Counts(ctx)
		if err != nil {
			failed["queue"] = err.Error()
		} else {
			body["queue"] = counts
		}
	}

	if len(failed) > 0 {
		body["status"] = "unavailable"
		body["failed"] = failed
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	body["status"] = "ok"
	c.JSON(http.StatusOK, body)
}
