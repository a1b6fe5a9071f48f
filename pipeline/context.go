package pipeline

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/funmusicplace/mirlo-sub003/config"
	"github.com/funmusicplace/mirlo-sub003/core/archive"
	"github.com/funmusicplace/mirlo-sub003/core/audio"
	"github.com/funmusicplace/mirlo-sub003/core/cleanup"
	"github.com/funmusicplace/mirlo-sub003/core/image"
	"github.com/funmusicplace/mirlo-sub003/core/verify"
	"github.com/funmusicplace/mirlo-sub003/logger"
	"github.com/funmusicplace/mirlo-sub003/model"
	"github.com/funmusicplace/mirlo-sub003/queue"
	"github.com/funmusicplace/mirlo-sub003/repository"
	"github.com/funmusicplace/mirlo-sub003/storage"
)

// Pipeline owns every long-running piece of the media pipeline: one worker
// per queue, the per-queue sweepers and the reconciler.
type Pipeline struct {
	cfg    *config.Config
	Queue  *queue.Client
	Store  storage.ObjectStore
	Tracks repository.TrackAudioRepository
	Images repository.ImageRepository

	workers []*queue.Worker
}

// New builds the full pipeline from its infrastructure handles. Nothing runs
// until Run is called.
func New(cfg *config.Config, rdb *redis.Client, store storage.ObjectStore,
	tracks repository.TrackAudioRepository, images repository.ImageRepository) *Pipeline {

	q := queue.NewClient(rdb, cfg.JobMaxAttempts, cfg.JobBackoff)
	encoder := audio.NewFFmpegEncoder(cfg.FFmpegPath)
	fingerprint := verify.NewFingerprintClient(cfg.FingerprintAPIURL, cfg.FingerprintAPIToken)

	transcode := audio.NewTranscodeWorker(store, encoder, cfg)
	optimize := image.NewOptimizeWorker(store, images)
	pack := archive.NewPackageWorker(store, encoder, cfg, func(ctx context.Context, jobID string, progress int) {
		if err := q.SetProgress(ctx, jobID, progress); err != nil {
			logger.Warn("failed to report packaging progress",
				logger.String("jobId", jobID), logger.ErrorField(err))
		}
	})
	verifier := verify.NewVerifyWorker(store, fingerprint)
	cleaner := cleanup.NewCleanupWorker(store, cfg.CleanupRetention)

	p := &Pipeline{
		cfg:    cfg,
		Queue:  q,
		Store:  store,
		Tracks: tracks,
		Images: images,
	}
	p.workers = []*queue.Worker{
		queue.NewWorker(q, model.QueueConvertAudio, transcode.Handle, cfg.HeartbeatPeriod),
		queue.NewWorker(q, model.QueueVerifyAudio, verifier.Handle, cfg.HeartbeatPeriod),
		queue.NewWorker(q, model.QueueOptimizeImage, optimize.Handle, cfg.HeartbeatPeriod),
		queue.NewWorker(q, model.QueueGenerateAlbum, pack.Handle, cfg.HeartbeatPeriod),
		queue.NewWorker(q, model.QueueCleanup, cleaner.Handle, cfg.HeartbeatPeriod),
	}

	NewReconciler(q, tracks, images).Register()
	return p
}

// Run starts every worker and sweeper and blocks until ctx is done and all of
// them have returned.
func (p *Pipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *queue.Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}
	for _, queueName := range model.AllQueues() {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			p.Queue.RunSweeper(ctx, name, p.cfg.StallTimeout, p.cfg.SweepPeriod)
		}(queueName)
	}
	logger.Info("pipeline running",
		logger.Int("workers", len(p.workers)),
		logger.Duration("stallTimeout", p.cfg.StallTimeout))
	wg.Wait()
}

// EnqueueTranscode registers the audio asset row and enqueues transcoding.
// The dedupe key keeps a double upload of the same asset from racing itself.
func (p *Pipeline) EnqueueTranscode(ctx context.Context, payload model.ConvertAudioPayload) (string, error) {
	return p.Queue.Enqueue(ctx, model.QueueConvertAudio, payload, queue.Options{
		DedupeKey: payload.AssetID,
	})
}

// EnqueueOptimizeImage enqueues the variant ladder build for an image.
func (p *Pipeline) EnqueueOptimizeImage(ctx context.Context, payload model.OptimizeImagePayload) (string, error) {
	return p.Queue.Enqueue(ctx, model.QueueOptimizeImage, payload, queue.Options{
		DedupeKey: payload.ImageID,
	})
}

// EnqueueGenerateAlbum enqueues packaging of a collection into one archive
// per requested format.
func (p *Pipeline) EnqueueGenerateAlbum(ctx context.Context, payload model.GenerateAlbumPayload) (string, error) {
	return p.Queue.Enqueue(ctx, model.QueueGenerateAlbum, payload)
}

// EnqueueCleanup enqueues a storage or temp-dir sweep.
func (p *Pipeline) EnqueueCleanup(ctx context.Context, payload model.CleanupPayload) (string, error) {
	return p.Queue.Enqueue(ctx, model.QueueCleanup, payload)
}
