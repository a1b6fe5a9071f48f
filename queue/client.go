package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/funmusicplace/mirlo-sub003/logger"
)

// ErrJobNotFound is returned when a job id is unknown to the queue.
var ErrJobNotFound = errors.New("queue: job not found")

// terminalJobTTL keeps finished job hashes around for status polling before
// Redis expires them.
const terminalJobTTL = 24 * time.Hour

// Options tune a single enqueue call.
type Options struct {
	// MaxAttempts bounds retries of a failing job. Zero uses the client default.
	MaxAttempts int
	// Backoff is the base delay before the first retry; it doubles per attempt.
	Backoff time.Duration
	// DedupeKey makes the enqueue idempotent: while a job carrying the same
	// key is waiting or active, Enqueue returns its id instead of adding a
	// duplicate. Callers key it by asset id.
	DedupeKey string
}

// EventHandler receives a job on a terminal event.
type EventHandler func(job *Job)

type eventKind string

const (
	eventCompleted eventKind = "completed"
	eventFailed    eventKind = "failed"
	eventStalled   eventKind = "stalled"
)

type eventKey struct {
	queue string
	kind  eventKind
}

// Client is the durable job queue over Redis. Named queues are FIFO with
// at-least-once delivery; a crashed worker's jobs surface through the stall
// sweeper rather than being silently retried.
type Client struct {
	rdb *redis.Client

	defaultMaxAttempts int
	defaultBackoff     time.Duration

	mu       sync.RWMutex
	handlers map[eventKey][]EventHandler
}

// NewClient creates a queue client with retry defaults.
func NewClient(rdb *redis.Client, maxAttempts int, backoff time.Duration) *Client {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = 10 * time.Second
	}
	return &Client{
		rdb:                rdb,
		defaultMaxAttempts: maxAttempts,
		defaultBackoff:     backoff,
		handlers:           make(map[eventKey][]EventHandler),
	}
}

func waitingKey(queue string) string { return "mq:" + queue + ":waiting" }
func activeKey(queue string) string  { return "mq:" + queue + ":active" }
func delayedKey(queue string) string { return "mq:" + queue + ":delayed" }
func jobKey(id string) string        { return "mq:job:" + id }
func dedupeKey(queue, key string) string {
	return "mq:dedupe:" + queue + ":" + key
}

// Enqueue adds a job to the named queue and returns its id.
func (c *Client) Enqueue(ctx context.Context, queueName string, payload interface{}, opts ...Options) (string, error) {
	var opt Options
	if len(opts) > 0 {
		opt = opts[0]
	}
	if opt.MaxAttempts <= 0 {
		opt.MaxAttempts = c.defaultMaxAttempts
	}
	if opt.Backoff <= 0 {
		opt.Backoff = c.defaultBackoff
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload for queue %s: %w", queueName, err)
	}

	job := &Job{
		ID:          uuid.NewString(),
		Queue:       queueName,
		Payload:     raw,
		State:       StateWaiting,
		Attempts:    0,
		MaxAttempts: opt.MaxAttempts,
		Backoff:     opt.Backoff,
		DedupeKey:   opt.DedupeKey,
		Heartbeat:   time.Now(),
		CreatedAt:   time.Now(),
	}

	if opt.DedupeKey != "" {
		existing, err := c.claimDedupe(ctx, queueName, opt.DedupeKey, job.ID)
		if err != nil {
			return "", err
		}
		if existing != "" {
			return existing, nil
		}
	}

	// Hash write and list push are one transaction: a hash without a list
	// entry would be an unreachable job that still satisfies dedupe lookups.
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(job.ID), job.toHash())
	pipe.LPush(ctx, waitingKey(queueName), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		c.releaseDedupe(ctx, job)
		return "", fmt.Errorf("failed to enqueue job %s on %s: %w", job.ID, queueName, err)
	}

	logger.Debug("job enqueued",
		logger.String("queue", queueName),
		logger.String("jobId", job.ID))
	return job.ID, nil
}

// claimDedupe returns the id of a live duplicate, or claims the key for jobID
// and returns "".
func (c *Client) claimDedupe(ctx context.Context, queueName, key, jobID string) (string, error) {
	dk := dedupeKey(queueName, key)
	set, err := c.rdb.SetNX(ctx, dk, jobID, 0).Result()
	if err != nil {
		return "", fmt.Errorf("failed to claim dedupe key: %w", err)
	}
	if set {
		return "", nil
	}
	existingID, err := c.rdb.Get(ctx, dk).Result()
	if err != nil && err != redis.Nil {
		return "", fmt.Errorf("failed to read dedupe key: %w", err)
	}
	if existingID != "" {
		state, stateErr := c.JobState(ctx, existingID)
		if stateErr == nil && (state == StateWaiting || state == StateActive) {
			return existingID, nil
		}
	}
	// Stale claim from a finished or vanished job; take it over.
	if err := c.rdb.Set(ctx, dk, jobID, 0).Err(); err != nil {
		return "", fmt.Errorf("failed to overwrite dedupe key: %w", err)
	}
	return "", nil
}

// releaseDedupeScript deletes the dedupe key only while it still belongs to
// the finishing job; a newer job may have taken the key over in the meantime.
var releaseDedupeScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (c *Client) releaseDedupe(ctx context.Context, job *Job) {
	if job.DedupeKey == "" {
		return
	}
	err := releaseDedupeScript.Run(ctx, c.rdb, []string{dedupeKey(job.Queue, job.DedupeKey)}, job.ID).Err()
	if err != nil && err != redis.Nil {
		logger.Warn("failed to release dedupe key",
			logger.String("jobId", job.ID), logger.ErrorField(err))
	}
}

// GetJob loads a job by id.
func (c *Client) GetJob(ctx context.Context, jobID string) (*Job, error) {
	fields, err := c.rdb.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	return jobFromHash(fields), nil
}

// JobState reports the lifecycle state of a job. Unknown ids report
// StateUnknown rather than an error so callers can poll safely.
func (c *Client) JobState(ctx context.Context, jobID string) (State, error) {
	state, err := c.rdb.HGet(ctx, jobKey(jobID), "state").Result()
	if err == redis.Nil {
		return StateUnknown, nil
	}
	if err != nil {
		return StateUnknown, fmt.Errorf("failed to read state of job %s: %w", jobID, err)
	}
	if State(state) == stateDelayed {
		return StateWaiting, nil
	}
	return State(state), nil
}

// JobProgress reports the last recorded progress of a job, 0-100.
func (c *Client) JobProgress(ctx context.Context, jobID string) (int, error) {
	v, err := c.rdb.HGet(ctx, jobKey(jobID), "progress").Result()
	if err == redis.Nil {
		return 0, ErrJobNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read progress of job %s: %w", jobID, err)
	}
	progress, _ := strconv.Atoi(v)
	return progress, nil
}

// SetProgress records job progress, clamped to 0-100.
func (c *Client) SetProgress(ctx context.Context, jobID string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if err := c.rdb.HSet(ctx, jobKey(jobID), "progress", progress).Err(); err != nil {
		return fmt.Errorf("failed to set progress of job %s: %w", jobID, err)
	}
	return nil
}

// OnCompleted registers a handler for successful terminal completion.
func (c *Client) OnCompleted(queueName string, fn EventHandler) {
	c.register(eventKey{queueName, eventCompleted}, fn)
}

// OnFailed registers a handler for jobs whose attempts are exhausted.
func (c *Client) OnFailed(queueName string, fn EventHandler) {
	c.register(eventKey{queueName, eventFailed}, fn)
}

// OnStalled registers a handler for jobs whose worker stopped heartbeating.
func (c *Client) OnStalled(queueName string, fn EventHandler) {
	c.register(eventKey{queueName, eventStalled}, fn)
}

func (c *Client) register(key eventKey, fn EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[key] = append(c.handlers[key], fn)
}

func (c *Client) dispatch(kind eventKind, job *Job) {
	c.mu.RLock()
	handlers := c.handlers[eventKey{job.Queue, kind}]
	c.mu.RUnlock()
	for _, fn := range handlers {
		fn(job)
	}
}

// finalize writes a terminal state, releases the dedupe claim, schedules hash
// expiry and dispatches the matching event.
func (c *Client) finalize(ctx context.Context, job *Job, kind eventKind) {
	c.rdb.HSet(ctx, jobKey(job.ID), map[string]interface{}{
		"state":  string(job.State),
		"error":  job.Error,
		"result": string(job.Result),
	})
	c.rdb.Expire(ctx, jobKey(job.ID), terminalJobTTL)
	c.releaseDedupe(ctx, job)
	c.dispatch(kind, job)
}

// retryLater moves a failed attempt to the delayed set with exponential
// backoff.
func (c *Client) retryLater(ctx context.Context, job *Job) error {
	delay := job.Backoff << (job.Attempts - 1)
	readyAt := time.Now().Add(delay)
	if err := c.rdb.HSet(ctx, jobKey(job.ID), map[string]interface{}{
		"state":    string(stateDelayed),
		"attempts": job.Attempts,
		"error":    job.Error,
	}).Err(); err != nil {
		return err
	}
	return c.rdb.ZAdd(ctx, delayedKey(job.Queue), redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: job.ID,
	}).Err()
}

// RunSweeper periodically promotes due delayed jobs and reaps stalled active
// jobs for one queue. Blocks until ctx is done.
func (c *Client) RunSweeper(ctx context.Context, queueName string, stallTimeout, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.promoteDelayed(ctx, queueName); err != nil && ctx.Err() == nil {
				logger.Warn("delayed promotion failed",
					logger.String("queue", queueName), logger.ErrorField(err))
			}
			if err := c.SweepStalled(ctx, queueName, stallTimeout); err != nil && ctx.Err() == nil {
				logger.Warn("stall sweep failed",
					logger.String("queue", queueName), logger.ErrorField(err))
			}
		}
	}
}

func (c *Client) promoteDelayed(ctx context.Context, queueName string) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ids, err := c.rdb.ZRangeByScore(ctx, delayedKey(queueName), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := c.rdb.ZRem(ctx, delayedKey(queueName), id).Err(); err != nil {
			return err
		}
		if err := c.rdb.HSet(ctx, jobKey(id), "state", string(StateWaiting)).Err(); err != nil {
			return err
		}
		if err := c.rdb.LPush(ctx, waitingKey(queueName), id).Err(); err != nil {
			return err
		}
	}
	return nil
}

// SweepStalled marks active jobs with an expired heartbeat as stalled. A
// stalled job is terminal: the dead attempt's partial state cannot be trusted,
// so it is never retried automatically.
func (c *Client) SweepStalled(ctx context.Context, queueName string, stallTimeout time.Duration) error {
	ids, err := c.rdb.LRange(ctx, activeKey(queueName), 0, -1).Result()
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-stallTimeout)
	for _, id := range ids {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			if errors.Is(err, ErrJobNotFound) {
				c.rdb.LRem(ctx, activeKey(queueName), 1, id)
				continue
			}
			return err
		}
		if job.Heartbeat.After(cutoff) {
			continue
		}
		if err := c.rdb.LRem(ctx, activeKey(queueName), 1, id).Err(); err != nil {
			return err
		}
		job.State = StateStalled
		job.Error = "worker heartbeat expired"
		logger.Error("job stalled",
			logger.String("queue", queueName),
			logger.String("jobId", id))
		c.finalize(ctx, job, eventStalled)
	}
	return nil
}

// heartbeat refreshes the liveness timestamp of an active job.
func (c *Client) heartbeat(ctx context.Context, jobID string) error {
	return c.rdb.HSet(ctx, jobKey(jobID), "heartbeat_ms", time.Now().UnixMilli()).Err()
}
