package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/funmusicplace/mirlo-sub003/logger"
)

// Handler processes one job and returns its result. A non-nil error schedules
// a retry until the job's attempts are exhausted.
type Handler func(ctx context.Context, job *Job) (interface{}, error)

// Worker consumes one named queue, one job at a time. Run several instances
// against the same queue to scale horizontally; the queue distributes load.
type Worker struct {
	client  *Client
	queue   string
	handler Handler

	heartbeatPeriod time.Duration
	blockTimeout    time.Duration
}

// NewWorker binds a handler to a named queue.
func NewWorker(client *Client, queueName string, handler Handler, heartbeatPeriod time.Duration) *Worker {
	if heartbeatPeriod <= 0 {
		heartbeatPeriod = 15 * time.Second
	}
	return &Worker{
		client:          client,
		queue:           queueName,
		handler:         handler,
		heartbeatPeriod: heartbeatPeriod,
		blockTimeout:    2 * time.Second,
	}
}

// Run blocks, processing jobs until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	logger.Info("worker started", logger.String("queue", w.queue))
	for {
		if ctx.Err() != nil {
			logger.Info("worker stopped", logger.String("queue", w.queue))
			return
		}
		jobID, err := w.client.rdb.BLMove(ctx,
			waitingKey(w.queue), activeKey(w.queue),
			"RIGHT", "LEFT", w.blockTimeout).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Error("failed to fetch job",
				logger.String("queue", w.queue), logger.ErrorField(err))
			time.Sleep(time.Second)
			continue
		}
		w.process(ctx, jobID)
	}
}

// ProcessOne pops and runs a single waiting job. Returns false when the queue
// was empty. Used by tests and by one-shot commands.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	jobID, err := w.client.rdb.LMove(ctx,
		waitingKey(w.queue), activeKey(w.queue), "RIGHT", "LEFT").Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to fetch job: %w", err)
	}
	w.process(ctx, jobID)
	return true, nil
}

func (w *Worker) process(ctx context.Context, jobID string) {
	job, err := w.client.GetJob(ctx, jobID)
	if err != nil {
		logger.Error("failed to load active job",
			logger.String("queue", w.queue),
			logger.String("jobId", jobID),
			logger.ErrorField(err))
		w.client.rdb.LRem(ctx, activeKey(w.queue), 1, jobID)
		return
	}

	job.Attempts++
	job.State = StateActive
	w.client.rdb.HSet(ctx, jobKey(jobID), map[string]interface{}{
		"state":        string(StateActive),
		"attempts":     job.Attempts,
		"heartbeat_ms": time.Now().UnixMilli(),
	})

	// Keep the heartbeat fresh while the handler runs so the stall sweeper
	// leaves this job alone.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(w.heartbeatPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := w.client.heartbeat(hbCtx, jobID); err != nil && hbCtx.Err() == nil {
					logger.Warn("heartbeat update failed",
						logger.String("jobId", jobID), logger.ErrorField(err))
				}
			}
		}
	}()

	started := time.Now()
	result, handlerErr := w.handler(ctx, job)
	stopHeartbeat()

	removed, ackErr := w.client.rdb.LRem(ctx, activeKey(w.queue), 1, jobID).Result()
	if ackErr != nil {
		logger.Warn("failed to ack active job",
			logger.String("queue", w.queue),
			logger.String("jobId", jobID),
			logger.ErrorField(ackErr))
	} else if removed == 0 {
		// The stall sweeper reaped this job while the handler ran. Its
		// terminal stalled state stands; a late handler return must not
		// overwrite it or dispatch a second terminal event.
		logger.Warn("job finished after being reaped as stalled, discarding outcome",
			logger.String("queue", w.queue),
			logger.String("jobId", jobID))
		return
	}

	if handlerErr != nil {
		job.Error = handlerErr.Error()
		if job.Attempts < job.MaxAttempts {
			logger.Warn("job attempt failed, retrying",
				logger.String("queue", w.queue),
				logger.String("jobId", jobID),
				logger.Int("attempt", job.Attempts),
				logger.ErrorField(handlerErr))
			if err := w.client.retryLater(ctx, job); err != nil {
				logger.Error("failed to schedule retry",
					logger.String("jobId", jobID), logger.ErrorField(err))
			}
			return
		}
		job.State = StateFailed
		logger.Error("job failed",
			logger.String("queue", w.queue),
			logger.String("jobId", jobID),
			logger.Int("attempts", job.Attempts),
			logger.Duration("elapsed", time.Since(started)),
			logger.ErrorField(handlerErr))
		w.client.finalize(ctx, job, eventFailed)
		return
	}

	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			logger.Error("failed to marshal job result",
				logger.String("jobId", jobID), logger.ErrorField(err))
		} else {
			job.Result = raw
		}
	}
	job.State = StateCompleted
	job.Error = ""
	w.client.SetProgress(ctx, jobID, 100)
	job.Progress = 100
	logger.Info("job completed",
		logger.String("queue", w.queue),
		logger.String("jobId", jobID),
		logger.Duration("elapsed", time.Since(started)))
	w.client.finalize(ctx, job, eventCompleted)
}
