package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/set-night/billingd/internal/domain"
)

// POST /billing/generate-pendings
func (h *Handler) GeneratePendings(c *gin.Context) {
	res, err := h.pendings.GeneratePendings(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /billing/pendings
func (h *Handler) ListPendings(c *gin.Context) {
	items, err := h.pendings.ListPending(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// POST /billing/batch
func (h *Handler) CreateBatch(c *gin.Context) {
	var req domain.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.batches.CreateBatch(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

// GET /billing/batch/:id/erp-export
func (h *Handler) ExportBatch(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		h.fail(c, fmt.Errorf("%w: invalid batch id %q", domain.ErrValidation, c.Param("id")))
		return
	}

	res, err := h.exports.ExportBatch(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /billing/jobs/:id
func (h *Handler) JobStatus(c *gin.Context) {
	res, err := h.batches.JobStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
