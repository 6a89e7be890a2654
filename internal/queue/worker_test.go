package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func runWorker(t *testing.T, w *Worker) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("worker did not stop")
		}
	})
	return cancel
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorkerProcessesJobs(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	const total = 5
	for i := range total {
		if _, err := q.Add(ctx, "job", map[string]int{"n": i}, JobOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	var (
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	completed := make(chan string, total)

	w := NewWorker(q, func(ctx context.Context, job *Job) (any, error) {
		mu.Lock()
		seen[job.ID] = true
		mu.Unlock()
		return map[string]string{"id": job.ID}, nil
	}, WorkerOptions{
		Concurrency: 2,
		OnCompleted: func(job *Job, _ any) { completed <- job.ID },
	}, discardLogger())
	runWorker(t, w)

	for range total {
		select {
		case <-completed:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != total {
		t.Errorf("processed %d distinct jobs, want %d", len(seen), total)
	}
}

func TestWorkerRetriesFailedJob(t *testing.T) {
	q, _, _ := newTestQueue(t)
	q.now = time.Now
	ctx := context.Background()

	if _, err := q.Add(ctx, "job", nil, JobOptions{Attempts: 2}); err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	type failure struct {
		willRetry bool
		err       error
	}
	failures := make(chan failure, 2)

	w := NewWorker(q, func(ctx context.Context, job *Job) (any, error) {
		calls.Add(1)
		return nil, errors.New("database unavailable")
	}, WorkerOptions{
		PromoteInterval: 20 * time.Millisecond,
		OnFailed: func(job *Job, err error, willRetry bool) {
			failures <- failure{willRetry: willRetry, err: err}
		},
	}, discardLogger())
	runWorker(t, w)

	for i, wantRetry := range []bool{true, false} {
		select {
		case f := <-failures:
			if f.willRetry != wantRetry {
				t.Errorf("failure %d willRetry = %v, want %v", i, f.willRetry, wantRetry)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for failure %d", i)
		}
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("handler called %d times, want 2", n)
	}
}

func TestWorkerRecoversPanic(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Add(ctx, "job", nil, JobOptions{Attempts: 1})
	if err != nil {
		t.Fatal(err)
	}

	failed := make(chan error, 1)
	w := NewWorker(q, func(ctx context.Context, job *Job) (any, error) {
		panic("nil map")
	}, WorkerOptions{
		OnFailed: func(_ *Job, err error, _ bool) { failed <- err },
	}, discardLogger())
	runWorker(t, w)

	select {
	case err := <-failed:
		if err == nil {
			t.Fatal("expected panic error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for failure")
	}

	got, err := q.Get(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != StateFailed {
		t.Errorf("State = %q, want failed", got.State)
	}
}

func TestWorkerFailsJobThatKeepsStalling(t *testing.T) {
	q, mr, _ := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Add(ctx, "job", nil, JobOptions{Attempts: 3}); err != nil {
		t.Fatal(err)
	}
	// A worker took the job, already stalled once before, and died.
	takeNow(t, q)
	mr.HSet(q.jobKey("1"), "stalled_count", "1")
	mr.FastForward(time.Minute)

	type failure struct {
		id        string
		err       error
		willRetry bool
	}
	failures := make(chan failure, 1)

	var calls atomic.Int32
	w := NewWorker(q, func(ctx context.Context, job *Job) (any, error) {
		calls.Add(1)
		return nil, nil
	}, WorkerOptions{
		StalledInterval: 20 * time.Millisecond,
		MaxStalledCount: 1,
		OnFailed: func(job *Job, err error, willRetry bool) {
			failures <- failure{id: job.ID, err: err, willRetry: willRetry}
		},
	}, discardLogger())
	runWorker(t, w)

	select {
	case f := <-failures:
		if f.id != "1" || !errors.Is(f.err, ErrStalled) || f.willRetry {
			t.Errorf("failure = %+v", f)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stalled failure")
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("handler called %d times for a job that exceeded its stall limit", n)
	}
}

func TestWorkerReportsLostLock(t *testing.T) {
	q, mr, _ := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Add(ctx, "job", nil, JobOptions{}); err != nil {
		t.Fatal(err)
	}

	errs := make(chan error, 1)
	var completed atomic.Int32
	w := NewWorker(q, func(ctx context.Context, job *Job) (any, error) {
		mr.Del(q.lockKey(job.ID))
		return "done", nil
	}, WorkerOptions{
		OnCompleted: func(*Job, any) { completed.Add(1) },
		OnError:     func(_ *Job, err error) { errs <- err },
	}, discardLogger())
	runWorker(t, w)

	select {
	case err := <-errs:
		if !errors.Is(err, ErrLockLost) {
			t.Errorf("error = %v, want ErrLockLost", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for lost lock report")
	}
	if n := completed.Load(); n != 0 {
		t.Errorf("OnCompleted called %d times after lock loss", n)
	}
}
