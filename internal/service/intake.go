package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/set-night/billingd/internal/config"
	"github.com/set-night/billingd/internal/domain"
	"github.com/set-night/billingd/internal/queue"
)

type JobQueue interface {
	Add(ctx context.Context, name string, data any, opts queue.JobOptions) (*queue.Job, error)
	Get(ctx context.Context, id string) (*queue.Job, error)
}

// JobStatus is the externally visible state of a processing job.
type JobStatus struct {
	JobID        string              `json:"jobId"`
	State        queue.State         `json:"state"`
	AttemptsMade int                 `json:"attemptsMade"`
	FailedReason string              `json:"failedReason,omitempty"`
	Result       *domain.BatchResult `json:"result,omitempty"`
}

// BatchService accepts batch requests and hands them to the queue without
// touching pendings or invoices.
type BatchService struct {
	queue  JobQueue
	opts   queue.JobOptions
	logger *slog.Logger
}

func NewBatchService(q JobQueue, cfg *config.Config, logger *slog.Logger) *BatchService {
	return &BatchService{
		queue: q,
		opts: queue.JobOptions{
			Attempts:         cfg.JobAttempts,
			Backoff:          queue.Backoff{Type: queue.BackoffFixed, Delay: cfg.JobBackoff},
			RemoveOnComplete: true,
		},
		logger: logger,
	}
}

func (s *BatchService) CreateBatch(ctx context.Context, req domain.BatchRequest) (domain.BatchAccepted, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return domain.BatchAccepted{}, err
	}

	job, err := s.queue.Add(ctx, config.ProcessBatchJob, req, s.opts)
	if err != nil {
		return domain.BatchAccepted{}, fmt.Errorf("enqueue batch: %w", err)
	}

	s.logger.Info("batch queued",
		"job_id", job.ID,
		"receipt_book", req.ReceiptBook,
		"pendings", len(req.PendingIDs),
	)

	return domain.BatchAccepted{
		Message: "Batch processing started (Async)",
		JobID:   job.ID,
		Status:  "QUEUED",
		Info:    "Check logs or query batch status later",
	}, nil
}

// JobStatus reports the queue state of a job. Jobs are removed once they
// complete, so a finished job is reported as domain.ErrJobNotFound.
func (s *BatchService) JobStatus(ctx context.Context, jobID string) (JobStatus, error) {
	job, err := s.queue.Get(ctx, jobID)
	if errors.Is(err, queue.ErrJobNotFound) {
		return JobStatus{}, domain.ErrJobNotFound
	}
	if err != nil {
		return JobStatus{}, fmt.Errorf("get job: %w", err)
	}

	status := JobStatus{
		JobID:        job.ID,
		State:        job.State,
		AttemptsMade: job.AttemptsMade,
		FailedReason: job.FailedReason,
	}
	if job.State == queue.StateCompleted && len(job.ReturnValue) > 0 {
		var res domain.BatchResult
		if err := json.Unmarshal(job.ReturnValue, &res); err == nil {
			status.Result = &res
		}
	}
	return status, nil
}
