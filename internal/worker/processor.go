package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/set-night/billingd/internal/domain"
	"github.com/set-night/billingd/internal/events"
	"github.com/set-night/billingd/internal/queue"
)

const publishTimeout = 5 * time.Second

type BatchEngine interface {
	ProcessBatch(ctx context.Context, req domain.BatchRequest) (domain.BatchResult, error)
}

type EventPublisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

type Alerter interface {
	LogError(err error, context string)
	LogJobFailed(jobID string, req domain.BatchRequest, attempts int, err error)
	LogBatchProcessed(jobID string, req domain.BatchRequest, res domain.BatchResult)
}

// BatchProcessor runs queued batch jobs through the invoicing engine.
type BatchProcessor struct {
	engine            BatchEngine
	events            EventPublisher
	alerts            Alerter
	failFastConflicts bool
	logger            *slog.Logger
	now               func() time.Time
}

func NewBatchProcessor(engine BatchEngine, pub EventPublisher, alerts Alerter, failFastConflicts bool, logger *slog.Logger) *BatchProcessor {
	return &BatchProcessor{
		engine:            engine,
		events:            pub,
		alerts:            alerts,
		failFastConflicts: failFastConflicts,
		logger:            logger,
		now:               time.Now,
	}
}

// Handle is the queue.Handler for batch jobs. Engine errors are returned to
// the queue so its retry policy applies. Payloads that can never succeed are
// marked permanent.
func (p *BatchProcessor) Handle(ctx context.Context, job *queue.Job) (any, error) {
	var req domain.BatchRequest
	if err := job.Decode(&req); err != nil {
		p.logger.Error("invalid batch job payload", "job_id", job.ID, "error", err)
		return nil, queue.Permanent(err)
	}

	p.logger.Info("processing batch job",
		"job_id", job.ID,
		"attempt", job.AttemptsMade+1,
		"receipt_book", req.ReceiptBook,
		"pendings", len(req.PendingIDs),
	)

	res, err := p.engine.ProcessBatch(ctx, req)
	if err != nil {
		p.logger.Error("batch job failed", "job_id", job.ID, "attempt", job.AttemptsMade+1, "error", err)
		switch {
		case errors.Is(err, domain.ErrValidation):
			return nil, queue.Permanent(err)
		case p.failFastConflicts && errors.Is(err, domain.ErrPendingsUnavailable):
			return nil, queue.Permanent(err)
		}
		return nil, err
	}

	p.logger.Info("batch committed",
		"job_id", job.ID,
		"batch_id", res.BatchID,
		"invoices", res.InvoicesGenerated,
	)
	return res, nil
}

// OnCompleted is the queue completion hook. It runs only once the job is
// recorded as completed, so a job that lost its lock is never announced.
func (p *BatchProcessor) OnCompleted(job *queue.Job, result any) {
	res, ok := result.(domain.BatchResult)
	if !ok {
		p.logger.Error("unexpected batch job result", "job_id", job.ID, "type", fmt.Sprintf("%T", result))
		return
	}

	var req domain.BatchRequest
	_ = job.Decode(&req)

	p.logger.Info("batch job completed",
		"job_id", job.ID,
		"batch_id", res.BatchID,
		"invoices", res.InvoicesGenerated,
	)

	p.publish(context.Background(), events.BatchProcessed, events.BatchProcessedData{
		JobID:             job.ID,
		BatchID:           res.BatchID,
		InvoicesGenerated: res.InvoicesGenerated,
		ReceiptBook:       req.ReceiptBook,
		IssueDate:         req.IssueDate,
	})
	p.alerts.LogBatchProcessed(job.ID, req, res)
}

// OnError is the queue hook for jobs whose outcome could not be recorded.
// A job that lost its lock after committing runs again and ends in a
// conflict.
func (p *BatchProcessor) OnError(job *queue.Job, err error) {
	p.alerts.LogError(err, fmt.Sprintf("batch job %s outcome not recorded", job.ID))
}

// OnFailed is the queue failure hook. Only the final failure of a job is
// announced.
func (p *BatchProcessor) OnFailed(job *queue.Job, err error, willRetry bool) {
	if willRetry {
		p.logger.Warn("batch job retry scheduled",
			"job_id", job.ID,
			"attempts_made", job.AttemptsMade,
			"max_attempts", job.Opts.Attempts,
			"backoff", job.Opts.Backoff.Delay,
		)
		return
	}

	var req domain.BatchRequest
	_ = job.Decode(&req)

	p.logger.Error("batch job failed permanently",
		"job_id", job.ID,
		"attempts_made", job.AttemptsMade,
		"receipt_book", req.ReceiptBook,
		"error", err,
	)

	p.publish(context.Background(), events.BatchFailed, events.BatchFailedData{
		JobID:        job.ID,
		ReceiptBook:  req.ReceiptBook,
		PendingIDs:   req.PendingIDs,
		AttemptsMade: job.AttemptsMade,
		Reason:       err.Error(),
	})
	p.alerts.LogJobFailed(job.ID, req, job.AttemptsMade, err)
}

// publish is best effort. The batch is already committed, so a broker
// outage must not fail the job.
func (p *BatchProcessor) publish(ctx context.Context, event string, data any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := p.events.PublishJSON(ctx, event, events.NewEnvelope(event, data, p.now())); err != nil {
		p.logger.Warn("publish event", "event", event, "error", err)
	}
}
