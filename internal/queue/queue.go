package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrLockLost    = errors.New("job lock lost")
	ErrStalled     = errors.New("job stalled more than allowable limit")
)

const promoteBatch = 100

// Queue is a durable FIFO job queue kept in Redis. Jobs are delivered at
// least once: a job whose worker dies is handed out again after its lock
// expires.
type Queue struct {
	rdb    redis.UniversalClient
	name   string
	prefix string
	now    func() time.Time
}

func New(rdb redis.UniversalClient, name string) *Queue {
	return &Queue{
		rdb:    rdb,
		name:   name,
		prefix: "billing:" + name + ":",
		now:    time.Now,
	}
}

func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) key(k string) string      { return q.prefix + k }
func (q *Queue) jobKey(id string) string  { return q.prefix + "job:" + id }
func (q *Queue) lockKey(id string) string { return q.prefix + "lock:" + id }

// Add stores a new job and appends it to the wait list.
func (q *Queue) Add(ctx context.Context, name string, data any, opts JobOptions) (*Job, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal job data: %w", err)
	}
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Backoff.Type == "" {
		opts.Backoff.Type = BackoffFixed
	}

	n, err := q.rdb.Incr(ctx, q.key("id")).Result()
	if err != nil {
		return nil, fmt.Errorf("allocate job id: %w", err)
	}

	job := &Job{
		ID:        strconv.FormatInt(n, 10),
		Name:      name,
		Data:      payload,
		Opts:      opts,
		State:     StateWaiting,
		CreatedAt: time.UnixMilli(q.now().UnixMilli()),
	}

	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobKey(job.ID), job.fields())
		pipe.LPush(ctx, q.key("wait"), job.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store job %s: %w", job.ID, err)
	}
	return job, nil
}

// Get returns the current state of a job. Jobs removed on completion are
// reported as ErrJobNotFound.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	h, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if len(h) == 0 {
		return nil, ErrJobNotFound
	}
	return parseJob(id, h), nil
}

// Counts returns the number of jobs per state. Completed jobs removed on
// completion are not counted.
func (q *Queue) Counts(ctx context.Context) (map[State]int64, error) {
	pipe := q.rdb.Pipeline()
	wait := pipe.LLen(ctx, q.key("wait"))
	active := pipe.LLen(ctx, q.key("active"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	completed := pipe.ZCard(ctx, q.key("completed"))
	failed := pipe.ZCard(ctx, q.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	return map[State]int64{
		StateWaiting:   wait.Val(),
		StateActive:    active.Val(),
		StateDelayed:   delayed.Val(),
		StateCompleted: completed.Val(),
		StateFailed:    failed.Val(),
	}, nil
}

// take moves the oldest waiting job to the active list and locks it. It
// returns a nil job when nothing arrived within timeout.
func (q *Queue) take(ctx context.Context, timeout, lockDuration time.Duration) (*Job, error) {
	id, err := q.rdb.BLMove(ctx, q.key("wait"), q.key("active"), "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("move job to active: %w", err)
	}

	token := uuid.NewString()
	if err := q.rdb.Set(ctx, q.lockKey(id), token, lockDuration).Err(); err != nil {
		return nil, fmt.Errorf("lock job %s: %w", id, err)
	}

	h, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	if len(h) == 0 {
		q.rdb.LRem(ctx, q.key("active"), 0, id)
		q.rdb.Del(ctx, q.lockKey(id))
		return nil, nil
	}

	now := q.now().UnixMilli()
	if err := q.rdb.HSet(ctx, q.jobKey(id), "state", string(StateActive), "processed_at", now).Err(); err != nil {
		return nil, fmt.Errorf("mark job %s active: %w", id, err)
	}

	job := parseJob(id, h)
	job.State = StateActive
	job.ProcessedAt = time.UnixMilli(now)
	job.token = token
	return job, nil
}

func (q *Queue) complete(ctx context.Context, job *Job, result any) error {
	value, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal job %s result: %w", job.ID, err)
	}

	remove := "0"
	if job.Opts.RemoveOnComplete {
		remove = "1"
	}
	now := q.now().UnixMilli()

	res, err := completeScript.Run(ctx, q.rdb,
		[]string{q.jobKey(job.ID), q.lockKey(job.ID), q.key("active"), q.key("completed")},
		job.ID, job.token, string(value), now, remove,
	).Int()
	if err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	if res < 0 {
		return ErrLockLost
	}

	job.State = StateCompleted
	job.ReturnValue = value
	job.FinishedAt = time.UnixMilli(now)
	return nil
}

// fail records a failed attempt and reports whether a retry was scheduled.
func (q *Queue) fail(ctx context.Context, job *Job, cause error) (bool, error) {
	permanent := "0"
	if IsPermanent(cause) {
		permanent = "1"
	}
	now := q.now().UnixMilli()

	res, err := failScript.Run(ctx, q.rdb,
		[]string{q.jobKey(job.ID), q.lockKey(job.ID), q.key("active"), q.key("delayed"), q.key("failed")},
		job.ID, job.token, cause.Error(), now, permanent,
	).Int()
	if err != nil {
		return false, fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	if res < 0 {
		return false, ErrLockLost
	}

	job.AttemptsMade++
	job.FailedReason = cause.Error()
	if res == 1 {
		job.State = StateDelayed
		return true, nil
	}
	job.State = StateFailed
	job.FinishedAt = time.UnixMilli(now)
	return false, nil
}

// promote moves delayed jobs whose backoff has elapsed back to the wait list.
func (q *Queue) promote(ctx context.Context) (int, error) {
	n, err := promoteScript.Run(ctx, q.rdb,
		[]string{q.key("delayed"), q.key("wait")},
		q.now().UnixMilli(), promoteBatch, q.prefix+"job:",
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed jobs: %w", err)
	}
	return n, nil
}

// recoverStalled moves jobs abandoned by a dead worker back to the wait list.
// Jobs that stalled more than maxStalled times are failed with ErrStalled and
// their ids returned.
func (q *Queue) recoverStalled(ctx context.Context, maxStalled int) (int, []string, error) {
	vals, err := recoverStalledScript.Run(ctx, q.rdb,
		[]string{q.key("active"), q.key("stalled"), q.key("wait"), q.key("failed")},
		q.prefix+"lock:", q.prefix+"job:", maxStalled, q.now().UnixMilli(), ErrStalled.Error(),
	).Slice()
	if err != nil {
		return 0, nil, fmt.Errorf("recover stalled jobs: %w", err)
	}
	if len(vals) == 0 {
		return 0, nil, nil
	}

	recovered, _ := vals[0].(int64)
	failed := make([]string, 0, len(vals)-1)
	for _, v := range vals[1:] {
		if id, ok := v.(string); ok {
			failed = append(failed, id)
		}
	}
	return int(recovered), failed, nil
}

func (q *Queue) extendLock(ctx context.Context, job *Job, ttl time.Duration) error {
	ok, err := extendLockScript.Run(ctx, q.rdb, []string{q.lockKey(job.ID)}, job.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend lock of job %s: %w", job.ID, err)
	}
	if ok == 0 {
		return ErrLockLost
	}
	return nil
}
