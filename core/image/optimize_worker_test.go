package image

import (
	"bytes"
	"context"
	"encoding/json"
	stdimage "image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funmusicplace/mirlo-sub003/model"
	"github.com/funmusicplace/mirlo-sub003/queue"
	"github.com/funmusicplace/mirlo-sub003/storage"
)

type fakeImageRepo struct {
	urls      map[string][]string
	setCalled int
}

func newFakeImageRepo() *fakeImageRepo {
	return &fakeImageRepo{urls: make(map[string][]string)}
}

func (f *fakeImageRepo) Create(ctx context.Context, image *model.Image) error { return nil }
func (f *fakeImageRepo) GetByID(ctx context.Context, id string) (*model.Image, error) {
	return nil, nil
}
func (f *fakeImageRepo) SetURLs(ctx context.Context, id string, urls []string) error {
	f.setCalled++
	f.urls[id] = urls
	return nil
}
func (f *fakeImageRepo) MarkSuccess(ctx context.Context, id string) error      { return nil }
func (f *fakeImageRepo) MarkError(ctx context.Context, id string) error        { return nil }
func (f *fakeImageRepo) ResetForReupload(ctx context.Context, id string) error { return nil }
func (f *fakeImageRepo) Delete(ctx context.Context, id string) error           { return nil }

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func optimizeJob(t *testing.T, imageID string, kind model.ImageKind) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(model.OptimizeImagePayload{ImageID: imageID, Kind: kind})
	require.NoError(t, err)
	return &queue.Job{ID: "j1", Queue: model.QueueOptimizeImage, Payload: raw}
}

func TestOptimizeCoverProducesFullLadder(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	store.Put(storage.BucketIncomingCovers, "img-1", pngBytes(t, 2000, 2000))
	repo := newFakeImageRepo()

	worker := NewOptimizeWorker(store, repo)
	_, err := worker.Handle(ctx, optimizeJob(t, "img-1", model.ImageKindCover))
	require.NoError(t, err)

	// 6 widths x 2 encodings, persisted in a single update.
	require.Equal(t, 1, repo.setCalled)
	assert.Len(t, repo.urls["img-1"], 12)

	assert.True(t, store.Exists(storage.BucketFinalCovers, "img-1-x120.webp"))
	assert.True(t, store.Exists(storage.BucketFinalCovers, "img-1-x120.jpg"))
	assert.True(t, store.Exists(storage.BucketFinalCovers, "img-1-x1500.webp"))
	assert.True(t, store.Exists(storage.BucketFinalCovers, "img-1-x1500.jpg"))

	// Incoming object deleted after success.
	assert.False(t, store.Exists(storage.BucketIncomingCovers, "img-1"))
}

func TestOptimizeNeverUpscales(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	// Source smaller than most ladder steps.
	store.Put(storage.BucketIncomingCovers, "img-2", pngBytes(t, 200, 200))
	repo := newFakeImageRepo()

	worker := NewOptimizeWorker(store, repo)
	_, err := worker.Handle(ctx, optimizeJob(t, "img-2", model.ImageKindCover))
	require.NoError(t, err)

	// The x600 variant exists under its ladder name but was not upscaled
	// past the 200px original.
	data, ok := store.Get(storage.BucketFinalCovers, "img-2-x600.jpg")
	require.True(t, ok)
	decoded, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 200, decoded.Bounds().Dx())
}

func TestOptimizeVariantFailureIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	store.Put(storage.BucketIncomingCovers, "img-3", pngBytes(t, 1600, 1600))
	// One upload in the middle of the batch fails.
	store.FailPutKeys = map[string]bool{"img-3-x600.webp": true}
	repo := newFakeImageRepo()

	worker := NewOptimizeWorker(store, repo)
	_, err := worker.Handle(ctx, optimizeJob(t, "img-3", model.ImageKindCover))
	require.Error(t, err)

	// No URL list persisted and the incoming object is retained for retry.
	assert.Zero(t, repo.setCalled)
	assert.True(t, store.Exists(storage.BucketIncomingCovers, "img-3"))
}

func TestOptimizeBannerCropsToBox(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	store.Put(storage.BucketIncomingImages, "img-4", pngBytes(t, 3000, 2000))
	repo := newFakeImageRepo()

	worker := NewOptimizeWorker(store, repo)
	_, err := worker.Handle(ctx, optimizeJob(t, "img-4", model.ImageKindBanner))
	require.NoError(t, err)

	data, ok := store.Get(storage.BucketFinalImages, "img-4-x1250.jpg")
	require.True(t, ok)
	decoded, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 1250, decoded.Bounds().Dx())
	assert.Equal(t, 577, decoded.Bounds().Dy())
}

func TestOptimizeUnknownKindRejected(t *testing.T) {
	ctx := context.Background()
	worker := NewOptimizeWorker(storage.NewMemStore(), newFakeImageRepo())
	_, err := worker.Handle(ctx, optimizeJob(t, "img-5", model.ImageKind("poster")))
	require.Error(t, err)
}

func TestPresetForEveryKind(t *testing.T) {
	for _, kind := range []model.ImageKind{model.ImageKindCover, model.ImageKindAvatar, model.ImageKindBanner} {
		preset, err := PresetFor(kind)
		require.NoError(t, err)
		assert.NotEmpty(t, preset.Variants)
		assert.Len(t, preset.Formats, 2)
	}
}

func TestVariantKey(t *testing.T) {
	key := VariantKey("abc", Variant{Width: 300}, EncodingWebP)
	assert.Equal(t, "abc-x300.webp", key)
	key = VariantKey("abc", Variant{Width: 625, Height: 289}, EncodingJPEG)
	assert.Equal(t, "abc-x625.jpg", key)
}
