package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/funmusicplace/mirlo-sub003/config"
	"github.com/funmusicplace/mirlo-sub003/logger"
	"github.com/funmusicplace/mirlo-sub003/model"
	"github.com/funmusicplace/mirlo-sub003/queue"
	"github.com/funmusicplace/mirlo-sub003/storage"
)

// TranscodeWorker consumes convert-audio jobs: it pulls the uploaded source
// from the incoming bucket, produces the full segmented stream plus a trimmed
// preview, uploads the result tree to the final audio bucket and removes the
// staging object. Nothing is uploaded when the encoder fails.
type TranscodeWorker struct {
	store   storage.ObjectStore
	encoder Encoder
	cfg     *config.Config
}

// NewTranscodeWorker wires a transcode worker.
func NewTranscodeWorker(store storage.ObjectStore, encoder Encoder, cfg *config.Config) *TranscodeWorker {
	return &TranscodeWorker{store: store, encoder: encoder, cfg: cfg}
}

// Handle processes one convert-audio job.
func (w *TranscodeWorker) Handle(ctx context.Context, job *queue.Job) (interface{}, error) {
	var p model.ConvertAudioPayload
	if err := job.UnmarshalPayload(&p); err != nil {
		return nil, fmt.Errorf("invalid convert-audio payload: %w", err)
	}
	if p.AssetID == "" {
		return nil, fmt.Errorf("convert-audio payload missing asset id")
	}

	// Temp dir keyed by asset id: a retry of the same asset reuses and
	// overwrites the same path instead of duplicating work on disk.
	workDir := filepath.Join(w.cfg.TempDir, model.QueueConvertAudio, p.AssetID)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn("failed to remove work directory",
				logger.String("dir", workDir), logger.ErrorField(err))
		}
	}()

	outDir := filepath.Join(workDir, "out")
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	// The original is kept next to the stream outputs so album packaging can
	// fetch it from the final bucket later.
	original := filepath.Join(outDir, "original"+p.FileExtension)
	if err := w.store.DownloadToFile(ctx, storage.BucketIncomingAudio, p.AssetID, original); err != nil {
		return nil, fmt.Errorf("failed to fetch source audio %s: %w", p.AssetID, err)
	}

	full, err := w.encoder.TranscodeHLS(ctx, original, outDir, HLSParams{
		PlaylistName:   "playlist.m3u8",
		SegmentPattern: "segment-%03d.ts",
		SegmentSeconds: w.cfg.HLSSegmentSeconds,
		Bitrate:        w.cfg.AudioBitrate,
		SampleRate:     w.cfg.AudioSampleRate,
		Channels:       w.cfg.AudioChannels,
	})
	if err != nil {
		return nil, err
	}

	if _, err := w.encoder.TranscodeHLS(ctx, original, outDir, HLSParams{
		PlaylistName:   "preview.m3u8",
		SegmentPattern: "preview-%03d.ts",
		SegmentSeconds: w.cfg.HLSSegmentSeconds,
		Bitrate:        w.cfg.AudioBitrate,
		SampleRate:     w.cfg.AudioSampleRate,
		Channels:       w.cfg.AudioChannels,
		MaxSeconds:     w.cfg.PreviewSeconds,
	}); err != nil {
		return nil, err
	}

	// Upload only after both encodes produced a logically complete result.
	if err := w.store.UploadDir(ctx, storage.BucketFinalAudio, p.AssetID, outDir); err != nil {
		return nil, fmt.Errorf("failed to upload transcoded audio %s: %w", p.AssetID, err)
	}

	if err := w.store.RemoveObject(ctx, storage.BucketIncomingAudio, p.AssetID); err != nil {
		// The final artifacts are in place; an orphaned staging object is
		// recoverable by the cleanup worker.
		logger.Warn("failed to remove incoming audio object",
			logger.String("assetId", p.AssetID), logger.ErrorField(err))
	}

	logger.Info("audio transcoded",
		logger.String("assetId", p.AssetID),
		logger.Any("durationSeconds", full.DurationSeconds))

	return model.ConvertAudioResult{DurationSeconds: full.DurationSeconds}, nil
}
