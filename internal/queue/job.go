package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// Backoff is the delay before a failed job is retried. Exponential backoff
// doubles Delay after every failed attempt.
type Backoff struct {
	Type  BackoffType
	Delay time.Duration
}

type JobOptions struct {
	Attempts         int
	Backoff          Backoff
	RemoveOnComplete bool
}

// Job is a unit of work stored in Redis.
type Job struct {
	ID           string
	Name         string
	Data         json.RawMessage
	Opts         JobOptions
	AttemptsMade int
	StalledCount int
	State        State
	FailedReason string
	ReturnValue  json.RawMessage
	CreatedAt    time.Time
	ProcessedAt  time.Time
	FinishedAt   time.Time

	token string
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Data, v); err != nil {
		return fmt.Errorf("decode job %s payload: %w", j.ID, err)
	}
	return nil
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The job goes straight to the
// failed state regardless of its remaining attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

func (j *Job) fields() map[string]any {
	removeOnComplete := "0"
	if j.Opts.RemoveOnComplete {
		removeOnComplete = "1"
	}
	return map[string]any{
		"name":               j.Name,
		"data":               string(j.Data),
		"attempts":           j.Opts.Attempts,
		"backoff_type":       string(j.Opts.Backoff.Type),
		"backoff_delay":      j.Opts.Backoff.Delay.Milliseconds(),
		"remove_on_complete": removeOnComplete,
		"attempts_made":      j.AttemptsMade,
		"state":              string(j.State),
		"created_at":         j.CreatedAt.UnixMilli(),
	}
}

func parseJob(id string, h map[string]string) *Job {
	j := &Job{
		ID:           id,
		Name:         h["name"],
		Data:         json.RawMessage(h["data"]),
		State:        State(h["state"]),
		FailedReason: h["failed_reason"],
		CreatedAt:    parseMillis(h["created_at"]),
		ProcessedAt:  parseMillis(h["processed_at"]),
		FinishedAt:   parseMillis(h["finished_at"]),
	}
	j.Opts.Attempts, _ = strconv.Atoi(h["attempts"])
	j.Opts.Backoff.Type = BackoffType(h["backoff_type"])
	if ms, err := strconv.ParseInt(h["backoff_delay"], 10, 64); err == nil {
		j.Opts.Backoff.Delay = time.Duration(ms) * time.Millisecond
	}
	j.Opts.RemoveOnComplete = h["remove_on_complete"] == "1"
	j.AttemptsMade, _ = strconv.Atoi(h["attempts_made"])
	j.StalledCount, _ = strconv.Atoi(h["stalled_count"])
	if v, ok := h["return_value"]; ok {
		j.ReturnValue = json.RawMessage(v)
	}
	return j
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
