package queue

import (
	"encoding/json"
	"strconv"
	"time"
)

// State is the externally visible lifecycle of a job.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateStalled   State = "stalled"
	StateUnknown   State = "unknown"

	// stateDelayed is internal: a failed attempt waiting for its backoff.
	// JobState reports it as waiting.
	stateDelayed State = "delayed"
)

// IsTerminal reports whether the queue will never run the job again.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateStalled
}

// Job is one unit of queued work. It is owned by the queue and is never a
// durable source of truth; durable state lives on the asset rows.
type Job struct {
	ID          string
	Queue       string
	Payload     json.RawMessage
	State       State
	Progress    int
	Attempts    int
	MaxAttempts int
	Backoff     time.Duration
	DedupeKey   string
	Error       string
	Result      json.RawMessage
	Heartbeat   time.Time
	CreatedAt   time.Time
}

// UnmarshalPayload decodes the job payload into v.
func (j *Job) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(j.Payload, v)
}

// UnmarshalResult decodes the job result into v.
func (j *Job) UnmarshalResult(v interface{}) error {
	if len(j.Result) == 0 {
		return nil
	}
	return json.Unmarshal(j.Result, v)
}

func (j *Job) toHash() map[string]interface{} {
	return map[string]interface{}{
		"id":           j.ID,
		"queue":        j.Queue,
		"payload":      string(j.Payload),
		"state":        string(j.State),
		"progress":     j.Progress,
		"attempts":     j.Attempts,
		"max_attempts": j.MaxAttempts,
		"backoff_ms":   j.Backoff.Milliseconds(),
		"dedupe":       j.DedupeKey,
		"error":        j.Error,
		"result":       string(j.Result),
		"heartbeat_ms": j.Heartbeat.UnixMilli(),
		"created_ms":   j.CreatedAt.UnixMilli(),
	}
}

func jobFromHash(fields map[string]string) *Job {
	j := &Job{
		ID:        fields["id"],
		Queue:     fields["queue"],
		Payload:   json.RawMessage(fields["payload"]),
		State:     State(fields["state"]),
		DedupeKey: fields["dedupe"],
		Error:     fields["error"],
	}
	if v := fields["result"]; v != "" {
		j.Result = json.RawMessage(v)
	}
	j.Progress, _ = strconv.Atoi(fields["progress"])
	j.Attempts, _ = strconv.Atoi(fields["attempts"])
	j.MaxAttempts, _ = strconv.Atoi(fields["max_attempts"])
	if ms, err := strconv.ParseInt(fields["backoff_ms"], 10, 64); err == nil {
		j.Backoff = time.Duration(ms) * time.Millisecond
	}
	if ms, err := strconv.ParseInt(fields["heartbeat_ms"], 10, 64); err == nil {
		j.Heartbeat = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(fields["created_ms"], 10, 64); err == nil {
		j.CreatedAt = time.UnixMilli(ms)
	}
	return j
}
