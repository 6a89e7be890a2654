package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Handler processes one job. The returned value is stored as the job result.
type Handler func(ctx context.Context, job *Job) (any, error)

type WorkerOptions struct {
	Concurrency     int
	LockDuration    time.Duration
	StalledInterval time.Duration
	PromoteInterval time.Duration
	BlockTimeout    time.Duration
	MaxStalledCount int

	OnCompleted func(job *Job, result any)
	OnFailed    func(job *Job, err error, willRetry bool)
	// OnError is called when the outcome of a finished job could not be
	// recorded, for example after its lock was lost.
	OnError func(job *Job, err error)
}

func (o *WorkerOptions) setDefaults() {
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.LockDuration <= 0 {
		o.LockDuration = 30 * time.Second
	}
	if o.StalledInterval <= 0 {
		o.StalledInterval = 30 * time.Second
	}
	if o.PromoteInterval <= 0 {
		o.PromoteInterval = time.Second
	}
	if o.BlockTimeout < time.Second {
		o.BlockTimeout = time.Second
	}
	if o.MaxStalledCount < 1 {
		o.MaxStalledCount = 1
	}
}

// Worker consumes jobs from a Queue with a fixed number of slots. Each slot
// processes one job at a time.
type Worker struct {
	q       *Queue
	handler Handler
	opts    WorkerOptions
	logger  *slog.Logger
}

func NewWorker(q *Queue, handler Handler, opts WorkerOptions, logger *slog.Logger) *Worker {
	opts.setDefaults()
	return &Worker{
		q:       q,
		handler: handler,
		opts:    opts,
		logger:  logger.With("queue", q.Name()),
	}
}

// Run blocks until ctx is cancelled. Jobs already running when ctx is
// cancelled are allowed to finish.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		w.maintain(ctx)
		return nil
	})
	for slot := range w.opts.Concurrency {
		g.Go(func() error {
			w.loop(ctx, slot)
			return nil
		})
	}

	w.logger.Info("worker started", "concurrency", w.opts.Concurrency)
	err := g.Wait()
	w.logger.Info("worker stopped")
	return err
}

func (w *Worker) loop(ctx context.Context, slot int) {
	for ctx.Err() == nil {
		job, err := w.q.take(ctx, w.opts.BlockTimeout, w.opts.LockDuration)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("take job", "slot", slot, "error", err)
			sleep(ctx, time.Second)
			continue
		}
		if job == nil {
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.keepLock(jobCtx, job)
	}()

	result, err := w.run(jobCtx, job)
	cancel()
	wg.Wait()

	finishCtx := context.WithoutCancel(ctx)
	if err != nil {
		willRetry, ferr := w.q.fail(finishCtx, job, err)
		if ferr != nil {
			w.logger.Error("record job failure", "job_id", job.ID, "error", ferr)
			w.reportError(job, ferr)
			return
		}
		if w.opts.OnFailed != nil {
			w.opts.OnFailed(job, err, willRetry)
		}
		return
	}

	if cerr := w.q.complete(finishCtx, job, result); cerr != nil {
		w.logger.Error("record job completion", "job_id", job.ID, "error", cerr)
		w.reportError(job, cerr)
		return
	}
	if w.opts.OnCompleted != nil {
		w.opts.OnCompleted(job, result)
	}
}

func (w *Worker) reportError(job *Job, err error) {
	if w.opts.OnError != nil {
		w.opts.OnError(job, err)
	}
}

func (w *Worker) run(ctx context.Context, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic recovered in job handler",
				"job_id", job.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler(ctx, job)
}

// keepLock renews the job lock until ctx is done.
func (w *Worker) keepLock(ctx context.Context, job *Job) {
	ticker := time.NewTicker(w.opts.LockDuration / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.q.extendLock(ctx, job, w.opts.LockDuration); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				w.logger.Warn("extend job lock", "job_id", job.ID, "error", err)
			}
		}
	}
}

func (w *Worker) maintain(ctx context.Context) {
	promote := time.NewTicker(w.opts.PromoteInterval)
	defer promote.Stop()
	stalled := time.NewTicker(w.opts.StalledInterval)
	defer stalled.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-promote.C:
			if _, err := w.q.promote(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("promote delayed jobs", "error", err)
			}
		case <-stalled.C:
			w.recoverStalled(ctx)
		}
	}
}

func (w *Worker) recoverStalled(ctx context.Context) {
	n, failed, err := w.q.recoverStalled(ctx, w.opts.MaxStalledCount)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("recover stalled jobs", "error", err)
		}
		return
	}
	if n > 0 {
		w.logger.Warn("stalled jobs moved back to wait", "count", n)
	}

	for _, id := range failed {
		w.logger.Error("stalled job failed", "job_id", id, "max_stalled", w.opts.MaxStalledCount)
		if w.opts.OnFailed == nil {
			continue
		}
		job, err := w.q.Get(ctx, id)
		if err != nil {
			w.logger.Error("load stalled job", "job_id", id, "error", err)
			continue
		}
		w.opts.OnFailed(job, ErrStalled, false)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
