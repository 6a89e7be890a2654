package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/set-night/billingd/internal/domain"
	"github.com/set-night/billingd/internal/events"
	"github.com/set-night/billingd/internal/queue"
)

type fakeEngine struct {
	res    domain.BatchResult
	err    error
	reqs   []domain.BatchRequest
	onCall func()
}

func (f *fakeEngine) ProcessBatch(_ context.Context, req domain.BatchRequest) (domain.BatchResult, error) {
	f.reqs = append(f.reqs, req)
	if f.onCall != nil {
		f.onCall()
	}
	return f.res, f.err
}

type published struct {
	key string
	env events.Envelope
}

type recordingPublisher struct {
	msgs []published
	err  error
}

func (r *recordingPublisher) PublishJSON(_ context.Context, key string, v any) error {
	r.msgs = append(r.msgs, published{key: key, env: v.(events.Envelope)})
	return r.err
}

type recordingAlerter struct {
	mu        sync.Mutex
	processed []string
	failed    []string
	errors    []string
}

func (r *recordingAlerter) LogError(err error, context string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, context+": "+err.Error())
}

func (r *recordingAlerter) LogJobFailed(jobID string, _ domain.BatchRequest, _ int, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, jobID)
}

func (r *recordingAlerter) LogBatchProcessed(jobID string, _ domain.BatchRequest, _ domain.BatchResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed = append(r.processed, jobID)
}

func newJob(t *testing.T, data any) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	return &queue.Job{ID: "3", Data: raw, Opts: queue.JobOptions{Attempts: 3}}
}

var request = domain.BatchRequest{
	PendingIDs:  []int64{1, 2},
	ReceiptBook: "0001",
	IssueDate:   domain.Date{Year: 2025, Month: time.January, Day: 1},
}

func newTestProcessor(engine BatchEngine, failFast bool) (*BatchProcessor, *recordingPublisher, *recordingAlerter) {
	pub := &recordingPublisher{}
	alerts := &recordingAlerter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewBatchProcessor(engine, pub, alerts, failFast, logger), pub, alerts
}

func TestHandleSuccess(t *testing.T) {
	engine := &fakeEngine{res: domain.BatchResult{BatchID: 8, InvoicesGenerated: 2}}
	p, pub, alerts := newTestProcessor(engine, false)

	got, err := p.Handle(context.Background(), newJob(t, request))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got != engine.res {
		t.Errorf("result = %v, want %v", got, engine.res)
	}
	if len(engine.reqs) != 1 || engine.reqs[0].ReceiptBook != "0001" || engine.reqs[0].IssueDate != request.IssueDate {
		t.Errorf("engine got %+v", engine.reqs)
	}
	if len(pub.msgs) != 0 || len(alerts.processed) != 0 {
		t.Error("batch announced before the job was recorded as completed")
	}
}

func TestOnCompleted(t *testing.T) {
	p, pub, alerts := newTestProcessor(&fakeEngine{}, false)

	p.OnCompleted(newJob(t, request), domain.BatchResult{BatchID: 8, InvoicesGenerated: 2})

	if len(pub.msgs) != 1 || pub.msgs[0].key != events.BatchProcessed {
		t.Fatalf("published = %+v", pub.msgs)
	}
	data := pub.msgs[0].env.Data.(events.BatchProcessedData)
	if data.BatchID != 8 || data.JobID != "3" || data.ReceiptBook != "0001" {
		t.Errorf("event data = %+v", data)
	}
	if len(alerts.processed) != 1 {
		t.Errorf("batch alerts = %v", alerts.processed)
	}
}

func TestOnCompletedPublishFailureStillAlerts(t *testing.T) {
	p, pub, alerts := newTestProcessor(&fakeEngine{}, false)
	pub.err = errors.New("channel closed")

	p.OnCompleted(newJob(t, request), domain.BatchResult{BatchID: 8, InvoicesGenerated: 2})

	if len(alerts.processed) != 1 {
		t.Errorf("batch alerts = %v", alerts.processed)
	}
}

func TestOnError(t *testing.T) {
	p, _, alerts := newTestProcessor(&fakeEngine{}, false)

	p.OnError(newJob(t, request), queue.ErrLockLost)

	if len(alerts.errors) != 1 || !strings.Contains(alerts.errors[0], "batch job 3") {
		t.Errorf("error alerts = %v", alerts.errors)
	}
}

func TestLostLockIsNotAnnounced(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	q := queue.New(rdb, "test")

	job, err := q.Add(context.Background(), "process-batch", request, queue.JobOptions{Attempts: 3})
	if err != nil {
		t.Fatal(err)
	}

	engine := &fakeEngine{
		res:    domain.BatchResult{BatchID: 8, InvoicesGenerated: 2},
		onCall: func() { mr.Del("billing:test:lock:" + job.ID) },
	}
	p, pub, alerts := newTestProcessor(engine, false)

	reported := make(chan struct{}, 1)
	w := queue.NewWorker(q, p.Handle, queue.WorkerOptions{
		OnCompleted: p.OnCompleted,
		OnFailed:    p.OnFailed,
		OnError: func(job *queue.Job, err error) {
			p.OnError(job, err)
			reported <- struct{}{}
		},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-reported:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for lost lock report")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(pub.msgs) != 0 {
		t.Errorf("published = %+v", pub.msgs)
	}
	alerts.mu.Lock()
	defer alerts.mu.Unlock()
	if len(alerts.processed) != 0 || len(alerts.errors) != 1 {
		t.Errorf("alerts processed=%v errors=%v", alerts.processed, alerts.errors)
	}
}

func TestHandleErrors(t *testing.T) {
	conflict := fmt.Errorf("%w: requested 2, available 1", domain.ErrPendingsUnavailable)

	tests := []struct {
		name          string
		engineErr     error
		failFast      bool
		wantPermanent bool
	}{
		{"transient", errors.New("connection refused"), false, false},
		{"conflict retried by default", conflict, false, false},
		{"conflict fail fast", conflict, true, true},
		{"transient with fail fast", errors.New("connection refused"), true, false},
		{"validation", fmt.Errorf("%w: receiptBook is required", domain.ErrValidation), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, pub, alerts := newTestProcessor(&fakeEngine{err: tt.engineErr}, tt.failFast)

			_, err := p.Handle(context.Background(), newJob(t, request))
			if !errors.Is(err, tt.engineErr) {
				t.Fatalf("error = %v, want wrapped %v", err, tt.engineErr)
			}
			if got := queue.IsPermanent(err); got != tt.wantPermanent {
				t.Errorf("permanent = %v, want %v", got, tt.wantPermanent)
			}
			if len(pub.msgs) != 0 || len(alerts.processed) != 0 {
				t.Error("failed job announced as processed")
			}
		})
	}
}

func TestHandleInvalidPayload(t *testing.T) {
	engine := &fakeEngine{}
	p, _, _ := newTestProcessor(engine, false)

	job := &queue.Job{ID: "1", Data: json.RawMessage(`{"pendingIds":"nope"}`)}
	_, err := p.Handle(context.Background(), job)
	if !queue.IsPermanent(err) {
		t.Errorf("error = %v, want permanent", err)
	}
	if len(engine.reqs) != 0 {
		t.Error("engine called with invalid payload")
	}
}

func TestOnFailed(t *testing.T) {
	p, pub, alerts := newTestProcessor(&fakeEngine{}, false)
	job := newJob(t, request)
	cause := errors.New("conflict")

	job.AttemptsMade = 1
	p.OnFailed(job, cause, true)
	if len(alerts.failed) != 0 || len(pub.msgs) != 0 {
		t.Fatal("retryable failure announced")
	}

	job.AttemptsMade = 3
	p.OnFailed(job, cause, false)
	if len(alerts.failed) != 1 {
		t.Errorf("failure alerts = %v", alerts.failed)
	}
	if len(pub.msgs) != 1 || pub.msgs[0].key != events.BatchFailed {
		t.Fatalf("published = %+v", pub.msgs)
	}
	data := pub.msgs[0].env.Data.(events.BatchFailedData)
	if data.AttemptsMade != 3 || data.Reason != "conflict" || data.ReceiptBook != "0001" {
		t.Errorf("event data = %+v", data)
	}
}
