package image

import (
	"bytes"
	"context"
	"fmt"
	stdimage "image"
	"image/jpeg"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/funmusicplace/mirlo-sub003/logger"
	"github.com/funmusicplace/mirlo-sub003/model"
	"github.com/funmusicplace/mirlo-sub003/queue"
	"github.com/funmusicplace/mirlo-sub003/repository"
	"github.com/funmusicplace/mirlo-sub003/storage"
)

// OptimizeWorker consumes optimize-image jobs: it decodes the uploaded image,
// produces every variant of the kind's preset in every target encoding,
// uploads them and persists the whole URL list in one update. If any single
// variant fails the job rejects and nothing is persisted, so an asset can
// never end up with a partial size ladder.
type OptimizeWorker struct {
	store storage.ObjectStore
	repo  repository.ImageRepository
}

// NewOptimizeWorker wires an image optimization worker.
func NewOptimizeWorker(store storage.ObjectStore, repo repository.ImageRepository) *OptimizeWorker {
	return &OptimizeWorker{store: store, repo: repo}
}

// Handle processes one optimize-image job.
func (w *OptimizeWorker) Handle(ctx context.Context, job *queue.Job) (interface{}, error) {
	var p model.OptimizeImagePayload
	if err := job.UnmarshalPayload(&p); err != nil {
		return nil, fmt.Errorf("invalid optimize-image payload: %w", err)
	}
	if p.ImageID == "" {
		return nil, fmt.Errorf("optimize-image payload missing image id")
	}

	preset, err := PresetFor(p.Kind)
	if err != nil {
		return nil, err
	}

	incomingBucket := storage.IncomingBucketForImage(string(p.Kind))
	finalBucket := storage.FinalBucketForImage(string(p.Kind))

	obj, err := w.store.GetObject(ctx, incomingBucket, p.ImageID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch source image %s: %w", p.ImageID, err)
	}
	src, err := imaging.Decode(obj, imaging.AutoOrientation(true))
	obj.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", p.ImageID, err)
	}

	// Produce and upload every variant before touching the database.
	var urls []string
	for _, variant := range preset.Variants {
		resized := resizeVariant(src, variant)
		for _, format := range preset.Formats {
			encoded, err := encode(resized, format)
			if err != nil {
				return nil, fmt.Errorf("failed to encode %s variant x%d as %s: %w",
					p.ImageID, variant.Width, format.Encoding, err)
			}
			key := VariantKey(p.ImageID, variant, format.Encoding)
			if err := w.store.PutObject(ctx, finalBucket, key,
				bytes.NewReader(encoded), int64(len(encoded)), format.Encoding.ContentType()); err != nil {
				return nil, fmt.Errorf("failed to upload %s variant %s: %w", p.ImageID, key, err)
			}
			urls = append(urls, w.store.ObjectURL(finalBucket, key))
		}
	}

	// One update with the full URL set; the reconciler flips the state.
	if err := w.repo.SetURLs(ctx, p.ImageID, urls); err != nil {
		return nil, err
	}

	if err := w.store.RemoveObject(ctx, incomingBucket, p.ImageID); err != nil {
		logger.Warn("failed to remove incoming image object",
			logger.String("imageId", p.ImageID), logger.ErrorField(err))
	}

	logger.Info("image optimized",
		logger.String("imageId", p.ImageID),
		logger.String("preset", preset.Name),
		logger.Int("variants", len(urls)))
	return nil, nil
}

// resizeVariant scales a source image down to a variant's box. The source is
// never upscaled past its original dimensions.
func resizeVariant(src stdimage.Image, v Variant) stdimage.Image {
	bounds := src.Bounds()
	if v.Height > 0 {
		width, height := v.Width, v.Height
		if width > bounds.Dx() || height > bounds.Dy() {
			width, height = clampBox(bounds.Dx(), bounds.Dy(), width, height)
		}
		return imaging.Fill(src, width, height, imaging.Center, imaging.Lanczos)
	}
	width := v.Width
	if width > bounds.Dx() {
		width = bounds.Dx()
	}
	return imaging.Resize(src, width, 0, imaging.Lanczos)
}

// clampBox shrinks a target box to fit inside the source dimensions while
// keeping the box's aspect ratio.
func clampBox(srcW, srcH, boxW, boxH int) (int, int) {
	scaleW := float64(srcW) / float64(boxW)
	scaleH := float64(srcH) / float64(boxH)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	if scale >= 1 {
		return boxW, boxH
	}
	w := int(float64(boxW) * scale)
	h := int(float64(boxH) * scale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

func encode(img stdimage.Image, format FormatOptions) ([]byte, error) {
	var buf bytes.Buffer
	switch format.Encoding {
	case EncodingJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: format.Quality}); err != nil {
			return nil, err
		}
	case EncodingWebP:
		if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(format.Quality)}); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported encoding %q", format.Encoding)
	}
	return buf.Bytes(), nil
}
