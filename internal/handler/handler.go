package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/set-night/billingd/internal/domain"
	"github.com/set-night/billingd/internal/middleware"
	"github.com/set-night/billingd/internal/queue"
	"github.com/set-night/billingd/internal/service"
)

type PendingService interface {
	GeneratePendings(ctx context.Context) (domain.GenerateResult, error)
	ListPending(ctx context.Context) ([]domain.OpenPending, error)
}

type BatchService interface {
	CreateBatch(ctx context.Context, req domain.BatchRequest) (domain.BatchAccepted, error)
	JobStatus(ctx context.Context, jobID string) (service.JobStatus, error)
}

type ExportService interface {
	ExportBatch(ctx context.Context, batchID int64) (*domain.ERPExport, error)
}

type QueueStats interface {
	Counts(ctx context.Context) (map[queue.State]int64, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Handler holds all dependencies needed by the HTTP handlers.
type Handler struct {
	pendings PendingService
	batches  BatchService
	exports  ExportService
	checks   map[string]HealthCheck
	queue    QueueStats
	logger   *slog.Logger
}

// Deps contains all dependencies required to construct a Handler.
type Deps struct {
	Pendings PendingService
	Batches  BatchService
	Exports  ExportService
	Checks   map[string]HealthCheck
	Queue    QueueStats
	Logger   *slog.Logger
}

// New creates a new Handler from the provided dependencies.
func New(deps Deps) *Handler {
	return &Handler{
		pendings: deps.Pendings,
		batches:  deps.Batches,
		exports:  deps.Exports,
		checks:   deps.Checks,
		queue:    deps.Queue,
		logger:   deps.Logger,
	}
}

// NewRouter builds the gin engine with the standard middleware chain and all
// routes registered.
func NewRouter(h *Handler, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Logging(logger),
		middleware.Recover(logger),
	)
	h.Register(r)
	return r
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.Health)

	billing := r.Group("/billing")
	billing.POST("/generate-pendings", h.GeneratePendings)
	billing.GET("/pendings", h.ListPendings)
	billing.POST("/batch", h.CreateBatch)
	billing.GET("/batch/:id/erp-export", h.ExportBatch)
	billing.GET("/jobs/:id", h.JobStatus)
}

// fail maps domain errors to HTTP statuses. Unexpected errors are logged and
// answered with a generic body.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrBatchNotFound), errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrPendingsUnavailable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed",
			"method", c.Request.Method,
			"route", c.FullPath(),
			"request_id", middleware.GetRequestID(c),
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
