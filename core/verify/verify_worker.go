package verify

import (
	"context"
	"time"

	"github.com/funmusicplace/mirlo-sub003/logger"
	"github.com/funmusicplace/mirlo-sub003/model"
	"github.com/funmusicplace/mirlo-sub003/queue"
	"github.com/funmusicplace/mirlo-sub003/storage"
)

// presignTTL is how long the recognition service gets to fetch the audio.
const presignTTL = 30 * time.Minute

// VerifyWorker consumes verify-audio jobs: it hands the finalized audio to the
// external fingerprinting service for provenance checks. The stage is
// advisory: its failures are logged and never surface as job errors, so they
// can never flip an asset's uploadState or block availability.
type VerifyWorker struct {
	store  storage.ObjectStore
	client *FingerprintClient
}

// NewVerifyWorker wires a verification worker.
func NewVerifyWorker(store storage.ObjectStore, client *FingerprintClient) *VerifyWorker {
	return &VerifyWorker{store: store, client: client}
}

// Handle processes one verify-audio job. It always returns a nil error.
func (w *VerifyWorker) Handle(ctx context.Context, job *queue.Job) (interface{}, error) {
	var p model.VerifyAudioPayload
	if err := job.UnmarshalPayload(&p); err != nil {
		logger.Warn("invalid verify-audio payload", logger.ErrorField(err))
		return nil, nil
	}

	if !w.client.Enabled() {
		logger.Debug("fingerprinting disabled, skipping verification",
			logger.String("assetId", p.AssetID))
		return nil, nil
	}

	key := p.AssetID + "/original" + p.FileExtension
	audioURL, err := w.store.PresignGet(ctx, storage.BucketFinalAudio, key, presignTTL)
	if err != nil {
		logger.Warn("failed to presign audio for verification",
			logger.String("assetId", p.AssetID), logger.ErrorField(err))
		return nil, nil
	}

	result, err := w.client.Recognize(ctx, audioURL, DefaultSampling)
	if err != nil {
		logger.Warn("audio verification failed",
			logger.String("assetId", p.AssetID), logger.ErrorField(err))
		return nil, nil
	}

	if result.Recognized() {
		logger.Info("audio matched a known recording",
			logger.String("assetId", p.AssetID),
			logger.String("match", string(result.Result)))
	} else {
		logger.Info("audio not recognized",
			logger.String("assetId", p.AssetID))
	}
	return nil, nil
}
