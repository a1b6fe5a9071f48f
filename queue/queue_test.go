package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	AssetID string `json:"assetId"`
}

func newTestClient(t *testing.T) (*Client, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewClient(rdb, 3, 10*time.Second), rdb
}

func TestEnqueueAndComplete(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	var completed []*Job
	client.OnCompleted("convert-audio", func(job *Job) {
		completed = append(completed, job)
	})

	jobID, err := client.Enqueue(ctx, "convert-audio", testPayload{AssetID: "a1"})
	require.NoError(t, err)

	state, err := client.JobState(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, state)

	worker := NewWorker(client, "convert-audio", func(ctx context.Context, job *Job) (interface{}, error) {
		var p testPayload
		require.NoError(t, job.UnmarshalPayload(&p))
		assert.Equal(t, "a1", p.AssetID)
		return map[string]string{"ok": "yes"}, nil
	}, time.Second)

	processed, err := worker.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	state, err = client.JobState(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state)

	require.Len(t, completed, 1)
	assert.Equal(t, jobID, completed[0].ID)
	assert.JSONEq(t, `{"ok":"yes"}`, string(completed[0].Result))
	assert.Equal(t, 100, completed[0].Progress)
}

func TestRetryThenFail(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	var failed []*Job
	client.OnFailed("convert-audio", func(job *Job) {
		failed = append(failed, job)
	})

	jobID, err := client.Enqueue(ctx, "convert-audio", testPayload{AssetID: "a2"}, Options{
		MaxAttempts: 2,
		Backoff:     time.Millisecond,
	})
	require.NoError(t, err)

	attempts := 0
	worker := NewWorker(client, "convert-audio", func(ctx context.Context, job *Job) (interface{}, error) {
		attempts++
		return nil, errors.New("encoder exploded")
	}, time.Second)

	// First attempt fails and is scheduled for retry, not terminal.
	processed, err := worker.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Empty(t, failed)

	state, err := client.JobState(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, state)

	// Promote the delayed retry once its backoff elapses.
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, client.promoteDelayed(ctx, "convert-audio"))

	processed, err = worker.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	assert.Equal(t, 2, attempts)
	state, err = client.JobState(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, state)
	require.Len(t, failed, 1)
	assert.Equal(t, "encoder exploded", failed[0].Error)
}

func TestDedupeKeyIdempotence(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	first, err := client.Enqueue(ctx, "convert-audio", testPayload{AssetID: "a3"}, Options{DedupeKey: "a3"})
	require.NoError(t, err)

	// Re-enqueueing for the same asset while the job is live returns the
	// existing id instead of creating a duplicate.
	second, err := client.Enqueue(ctx, "convert-audio", testPayload{AssetID: "a3"}, Options{DedupeKey: "a3"})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	worker := NewWorker(client, "convert-audio", func(ctx context.Context, job *Job) (interface{}, error) {
		return nil, nil
	}, time.Second)
	processed, err := worker.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	// Queue drained: exactly one job existed.
	processed, err = worker.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, processed)

	// After the job resolves, the asset may be enqueued again.
	third, err := client.Enqueue(ctx, "convert-audio", testPayload{AssetID: "a3"}, Options{DedupeKey: "a3"})
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestStallSweep(t *testing.T) {
	ctx := context.Background()
	client, rdb := newTestClient(t)

	var stalled []*Job
	client.OnStalled("convert-audio", func(job *Job) {
		stalled = append(stalled, job)
	})

	jobID, err := client.Enqueue(ctx, "convert-audio", testPayload{AssetID: "a4"})
	require.NoError(t, err)

	// Simulate a worker that claimed the job and died: active entry with an
	// ancient heartbeat.
	require.NoError(t, rdb.LMove(ctx, waitingKey("convert-audio"), activeKey("convert-audio"), "RIGHT", "LEFT").Err())
	require.NoError(t, rdb.HSet(ctx, jobKey(jobID), map[string]interface{}{
		"state":        string(StateActive),
		"heartbeat_ms": time.Now().Add(-time.Hour).UnixMilli(),
	}).Err())

	require.NoError(t, client.SweepStalled(ctx, "convert-audio", time.Minute))

	state, err := client.JobState(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StateStalled, state)
	require.Len(t, stalled, 1)
	assert.Equal(t, jobID, stalled[0].ID)

	// A live heartbeat is left alone.
	jobID2, err := client.Enqueue(ctx, "convert-audio", testPayload{AssetID: "a5"})
	require.NoError(t, err)
	require.NoError(t, rdb.LMove(ctx, waitingKey("convert-audio"), activeKey("convert-audio"), "RIGHT", "LEFT").Err())
	require.NoError(t, client.SweepStalled(ctx, "convert-audio", time.Minute))
	state, err = client.JobState(ctx, jobID2)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, state)
	assert.Len(t, stalled, 1)
}

func TestLateHandlerDoesNotOverwriteStalled(t *testing.T) {
	ctx := context.Background()
	client, rdb := newTestClient(t)

	var events []string
	client.OnStalled("convert-audio", func(job *Job) { events = append(events, "stalled") })
	client.OnCompleted("convert-audio", func(job *Job) { events = append(events, "completed") })

	jobID, err := client.Enqueue(ctx, "convert-audio", testPayload{AssetID: "a7"})
	require.NoError(t, err)

	// The handler simulates a long pause: its heartbeat expires and the
	// sweeper reaps the job mid-run, then the handler returns success anyway.
	worker := NewWorker(client, "convert-audio", func(ctx context.Context, job *Job) (interface{}, error) {
		require.NoError(t, rdb.HSet(ctx, jobKey(job.ID), "heartbeat_ms",
			time.Now().Add(-time.Hour).UnixMilli()).Err())
		require.NoError(t, client.SweepStalled(ctx, "convert-audio", time.Minute))
		return map[string]string{"ok": "yes"}, nil
	}, time.Hour)

	processed, err := worker.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	// The stalled state is terminal; the late success is discarded and no
	// completed event fires.
	state, err := client.JobState(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StateStalled, state)
	assert.Equal(t, []string{"stalled"}, events)
}

func TestEnqueueFailureLeavesNoOrphanedJob(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	client := NewClient(rdb, 3, 10*time.Second)

	mr.SetError("LOADING Redis is loading the dataset in memory")
	_, err := client.Enqueue(ctx, "convert-audio", testPayload{AssetID: "a8"})
	require.Error(t, err)
	mr.SetError("")

	// No half-written job hash survives a failed enqueue.
	assert.Empty(t, mr.Keys())

	jobID, err := client.Enqueue(ctx, "convert-audio", testPayload{AssetID: "a8"})
	require.NoError(t, err)
	state, err := client.JobState(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, state)
}

func TestReleaseDedupeKeepsNewerClaim(t *testing.T) {
	ctx := context.Background()
	client, rdb := newTestClient(t)

	// A newer job has taken the dedupe key over while job-1 was finishing.
	require.NoError(t, rdb.Set(ctx, dedupeKey("convert-audio", "a9"), "job-2", 0).Err())

	old := &Job{ID: "job-1", Queue: "convert-audio", DedupeKey: "a9"}
	client.releaseDedupe(ctx, old)
	val, err := rdb.Get(ctx, dedupeKey("convert-audio", "a9")).Result()
	require.NoError(t, err)
	assert.Equal(t, "job-2", val)

	// The owning job still releases its own claim.
	current := &Job{ID: "job-2", Queue: "convert-audio", DedupeKey: "a9"}
	client.releaseDedupe(ctx, current)
	err = rdb.Get(ctx, dedupeKey("convert-audio", "a9")).Err()
	assert.Equal(t, redis.Nil, err)
}

func TestJobStateUnknown(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	state, err := client.JobState(ctx, "no-such-job")
	require.NoError(t, err)
	assert.Equal(t, StateUnknown, state)
}

func TestSetProgressClamped(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	jobID, err := client.Enqueue(ctx, "generate-album", testPayload{AssetID: "a6"})
	require.NoError(t, err)

	require.NoError(t, client.SetProgress(ctx, jobID, 150))
	job, err := client.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, 100, job.Progress)

	require.NoError(t, client.SetProgress(ctx, jobID, -5))
	job, err = client.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, 0, job.Progress)
}

func TestJobRoundTripThroughHash(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)
	job := &Job{
		ID:          "j1",
		Queue:       "optimize-image",
		Payload:     json.RawMessage(`{"imageId":"i1"}`),
		State:       StateWaiting,
		Progress:    42,
		Attempts:    1,
		MaxAttempts: 3,
		Backoff:     10 * time.Second,
		DedupeKey:   "i1",
		Heartbeat:   now,
		CreatedAt:   now,
	}

	// Redis hands every hash field back as a string; mimic that exactly.
	fields := make(map[string]string)
	for k, v := range job.toHash() {
		fields[k] = fmt.Sprint(v)
	}

	got := jobFromHash(fields)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, job.Queue, got.Queue)
	assert.Equal(t, job.State, got.State)
	assert.Equal(t, job.Progress, got.Progress)
	assert.Equal(t, job.MaxAttempts, got.MaxAttempts)
	assert.Equal(t, job.Backoff, got.Backoff)
	assert.Equal(t, job.DedupeKey, got.DedupeKey)
	assert.JSONEq(t, string(job.Payload), string(got.Payload))
}
