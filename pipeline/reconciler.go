package pipeline

import (
	"context"
	"time"

	"github.com/funmusicplace/mirlo-sub003/logger"
	"github.com/funmusicplace/mirlo-sub003/model"
	"github.com/funmusicplace/mirlo-sub003/queue"
	"github.com/funmusicplace/mirlo-sub003/repository"
)

// reconcileTimeout bounds the database work done per terminal event.
const reconcileTimeout = 10 * time.Second

// JobQueue is the queue surface the reconciler and the enqueue API need.
// queue.Client satisfies it; tests substitute a fake.
type JobQueue interface {
	Enqueue(ctx context.Context, queueName string, payload interface{}, opts ...queue.Options) (string, error)
	OnCompleted(queueName string, fn queue.EventHandler)
	OnFailed(queueName string, fn queue.EventHandler)
	OnStalled(queueName string, fn queue.EventHandler)
}

// Reconciler translates terminal job events into asset state transitions and
// chains dependent pipeline stages. It is the only component that moves an
// asset out of STARTED.
type Reconciler struct {
	queue  JobQueue
	tracks repository.TrackAudioRepository
	images repository.ImageRepository
}

// NewReconciler wires a reconciler against the queue and the asset
// repositories.
func NewReconciler(q JobQueue, tracks repository.TrackAudioRepository, images repository.ImageRepository) *Reconciler {
	return &Reconciler{queue: q, tracks: tracks, images: images}
}

// Register subscribes the reconciler to every terminal event it owns.
func (r *Reconciler) Register() {
	r.queue.OnCompleted(model.QueueConvertAudio, r.onConvertCompleted)
	r.queue.OnFailed(model.QueueConvertAudio, r.onConvertTerminalError)
	r.queue.OnStalled(model.QueueConvertAudio, r.onConvertTerminalError)

	r.queue.OnCompleted(model.QueueOptimizeImage, r.onImageCompleted)
	r.queue.OnFailed(model.QueueOptimizeImage, r.onImageTerminalError)
	r.queue.OnStalled(model.QueueOptimizeImage, r.onImageTerminalError)

	// Album archives are regenerable on demand, so packaging failures carry
	// no durable asset state; they are only logged here.
	r.queue.OnFailed(model.QueueGenerateAlbum, r.onAlbumFailure)
	r.queue.OnStalled(model.QueueGenerateAlbum, r.onAlbumFailure)
}

func (r *Reconciler) onConvertCompleted(job *queue.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	var p model.ConvertAudioPayload
	if err := job.UnmarshalPayload(&p); err != nil {
		logger.Error("failed to decode convert-audio payload",
			logger.String("jobId", job.ID), logger.ErrorField(err))
		return
	}

	var result model.ConvertAudioResult
	if err := job.UnmarshalResult(&result); err != nil {
		logger.Error("failed to decode convert-audio result",
			logger.String("jobId", job.ID), logger.ErrorField(err))
		return
	}

	if err := r.tracks.MarkSuccess(ctx, p.AssetID, result.DurationSeconds); err != nil {
		logger.Error("failed to mark audio success",
			logger.String("assetId", p.AssetID), logger.ErrorField(err))
		return
	}
	logger.Info("audio asset finalized",
		logger.String("assetId", p.AssetID),
		logger.Any("durationSeconds", result.DurationSeconds))

	r.chainNext(ctx, job)
}

func (r *Reconciler) onConvertTerminalError(job *queue.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	var p model.ConvertAudioPayload
	if err := job.UnmarshalPayload(&p); err != nil {
		logger.Error("failed to decode convert-audio payload",
			logger.String("jobId", job.ID), logger.ErrorField(err))
		return
	}

	if err := r.tracks.MarkError(ctx, p.AssetID); err != nil {
		logger.Error("failed to mark audio error",
			logger.String("assetId", p.AssetID), logger.ErrorField(err))
		return
	}
	logger.Warn("audio asset marked error",
		logger.String("assetId", p.AssetID),
		logger.String("state", string(job.State)),
		logger.String("reason", job.Error))
}

func (r *Reconciler) onImageCompleted(job *queue.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	var p model.OptimizeImagePayload
	if err := job.UnmarshalPayload(&p); err != nil {
		logger.Error("failed to decode optimize-image payload",
			logger.String("jobId", job.ID), logger.ErrorField(err))
		return
	}

	if err := r.images.MarkSuccess(ctx, p.ImageID); err != nil {
		logger.Error("failed to mark image success",
			logger.String("imageId", p.ImageID), logger.ErrorField(err))
		return
	}
	logger.Info("image asset finalized", logger.String("imageId", p.ImageID))
}

func (r *Reconciler) onImageTerminalError(job *queue.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	var p model.OptimizeImagePayload
	if err := job.UnmarshalPayload(&p); err != nil {
		logger.Error("failed to decode optimize-image payload",
			logger.String("jobId", job.ID), logger.ErrorField(err))
		return
	}

	if err := r.images.MarkError(ctx, p.ImageID); err != nil {
		logger.Error("failed to mark image error",
			logger.String("imageId", p.ImageID), logger.ErrorField(err))
		return
	}
	logger.Warn("image asset marked error",
		logger.String("imageId", p.ImageID),
		logger.String("state", string(job.State)),
		logger.String("reason", job.Error))
}

func (r *Reconciler) onAlbumFailure(job *queue.Job) {
	logger.Warn("album packaging did not finish",
		logger.String("jobId", job.ID),
		logger.String("state", string(job.State)),
		logger.String("reason", job.Error))
}

// chainNext enqueues the declared follow-up stage of a completed job, if any.
func (r *Reconciler) chainNext(ctx context.Context, job *queue.Job) {
	next, ok := stageChain[job.Queue]
	if !ok {
		return
	}
	payload, err := next.payload(job)
	if err != nil {
		logger.Error("failed to build follow-up payload",
			logger.String("jobId", job.ID), logger.ErrorField(err))
		return
	}
	jobID, err := r.queue.Enqueue(ctx, next.queue, payload)
	if err != nil {
		logger.Error("failed to enqueue follow-up stage",
			logger.String("queue", next.queue), logger.ErrorField(err))
		return
	}
	logger.Info("follow-up stage enqueued",
		logger.String("queue", next.queue),
		logger.String("jobId", jobID))
}
