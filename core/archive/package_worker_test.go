package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funmusicplace/mirlo-sub003/config"
	"github.com/funmusicplace/mirlo-sub003/core/audio"
	"github.com/funmusicplace/mirlo-sub003/model"
	"github.com/funmusicplace/mirlo-sub003/queue"
	"github.com/funmusicplace/mirlo-sub003/storage"
)

// fakeFormatEncoder records tags per output and writes a stub output file.
type fakeFormatEncoder struct {
	failOnTitle string
	tagsByFile  map[string]map[string]string
}

func newFakeFormatEncoder() *fakeFormatEncoder {
	return &fakeFormatEncoder{tagsByFile: make(map[string]map[string]string)}
}

func (f *fakeFormatEncoder) TranscodeHLS(ctx context.Context, inputPath, outputDir string, p audio.HLSParams) (*audio.EncodeResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeFormatEncoder) TranscodeFormat(ctx context.Context, inputPath, outputPath string, p audio.FormatParams) (*audio.EncodeResult, error) {
	if f.failOnTitle != "" && p.Tags["title"] == f.failOnTitle {
		return nil, errors.New("encoder error event")
	}
	if err := os.WriteFile(outputPath, []byte("encoded:"+p.Tags["title"]), 0644); err != nil {
		return nil, err
	}
	f.tagsByFile[filepath.Base(outputPath)] = p.Tags
	return &audio.EncodeResult{Outputs: []string{outputPath}}, nil
}

func albumPayload(format string) model.GenerateAlbumPayload {
	return model.GenerateAlbumPayload{
		CollectionID: 7,
		Title:        "First Light",
		ArtistName:   "The Harbor",
		Format:       format,
		Tracks: []model.AlbumTrack{
			{AssetID: "t2", FileExtension: ".wav", Title: "Second", Order: 2, Genre: "ambient"},
			{AssetID: "t1", FileExtension: ".wav", Title: "First", Order: 1, Artists: []string{"The Harbor", "Guest"}},
			{AssetID: "t3", FileExtension: ".wav", Title: "Third", Order: 3},
		},
	}
}

func albumJob(t *testing.T, p model.GenerateAlbumPayload) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return &queue.Job{ID: "job-album", Queue: model.QueueGenerateAlbum, Payload: raw}
}

func seedOriginals(store *storage.MemStore, ids ...string) {
	for _, id := range ids {
		store.Put(storage.BucketFinalAudio, id+"/original.wav", []byte("wav-bytes-"+id))
	}
}

func TestPackageAlbumMP3(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	seedOriginals(store, "t1", "t2", "t3")
	enc := newFakeFormatEncoder()
	cfg := &config.Config{TempDir: t.TempDir()}

	var progress []int
	worker := NewPackageWorker(store, enc, cfg, func(ctx context.Context, jobID string, p int) {
		progress = append(progress, p)
	})

	result, err := worker.Handle(ctx, albumJob(t, albumPayload("320.mp3")))
	require.NoError(t, err)

	res, ok := result.(model.GenerateAlbumResult)
	require.True(t, ok)
	assert.Equal(t, "7/320.mp3.zip", res.ArchiveKey)

	// Archive contains exactly three files named and ordered by track.
	data, found := store.Get(storage.BucketFormatArchives, "7/320.mp3.zip")
	require.True(t, found)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"01 - First.320.mp3", "02 - Second.320.mp3", "03 - Third.320.mp3"}, names)

	// Tags carry track number, album title and contributing artists.
	tags := enc.tagsByFile["01 - First.320.mp3"]
	require.NotNil(t, tags)
	assert.Equal(t, "1", tags["track"])
	assert.Equal(t, "First Light", tags["album"])
	assert.Equal(t, "The Harbor", tags["album_artist"])
	assert.Equal(t, "The Harbor, Guest", tags["artist"])
	tags = enc.tagsByFile["02 - Second.320.mp3"]
	require.NotNil(t, tags)
	assert.Equal(t, "ambient", tags["genre"])

	// Temp dir no longer exists after completion.
	_, statErr := os.Stat(filepath.Join(cfg.TempDir, model.QueueGenerateAlbum, "7-320.mp3"))
	assert.True(t, os.IsNotExist(statErr))

	// Progress grew from the start offset toward 90.
	require.NotEmpty(t, progress)
	assert.Equal(t, 10, progress[0])
	assert.Equal(t, 90, progress[len(progress)-1])
}

func TestPackageAlbumLosslessFilenames(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	seedOriginals(store, "t1", "t2", "t3")
	worker := NewPackageWorker(store, newFakeFormatEncoder(), &config.Config{TempDir: t.TempDir()}, nil)

	result, err := worker.Handle(ctx, albumJob(t, albumPayload("flac")))
	require.NoError(t, err)
	res := result.(model.GenerateAlbumResult)
	assert.Equal(t, "7/flac.zip", res.ArchiveKey)

	data, found := store.Get(storage.BucketFormatArchives, "7/flac.zip")
	require.True(t, found)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	for _, f := range zr.File {
		// No bitrate suffix on lossless filenames.
		assert.Regexp(t, `^\d{2} - .+\.flac$`, f.Name)
	}
}

func TestPackageAlbumTrackFailureAborts(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	seedOriginals(store, "t1", "t2", "t3")
	enc := newFakeFormatEncoder()
	enc.failOnTitle = "Second"
	cfg := &config.Config{TempDir: t.TempDir()}
	worker := NewPackageWorker(store, enc, cfg, nil)

	_, err := worker.Handle(ctx, albumJob(t, albumPayload("320.mp3")))
	require.Error(t, err)

	// No partial archive uploaded; temp dir removed on the error path.
	keys, listErr := store.ListObjects(ctx, storage.BucketFormatArchives, "7/")
	require.NoError(t, listErr)
	assert.Empty(t, keys)
	_, statErr := os.Stat(filepath.Join(cfg.TempDir, model.QueueGenerateAlbum, "7-320.mp3"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestPackageAlbumRejectsBadFormat(t *testing.T) {
	worker := NewPackageWorker(storage.NewMemStore(), newFakeFormatEncoder(), &config.Config{TempDir: t.TempDir()}, nil)
	p := albumPayload("mp3")
	_, err := worker.Handle(context.Background(), albumJob(t, p))
	require.Error(t, err)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a-b", sanitizeFilename("a/b"))
	assert.Equal(t, "whats this", sanitizeFilename(`what*s this?`))
	assert.Equal(t, "untitled", sanitizeFilename("   "))
}
