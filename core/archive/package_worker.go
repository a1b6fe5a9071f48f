package archive

import (
	"archive/zip"
	"compress/flate"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/funmusicplace/mirlo-sub003/config"
	"github.com/funmusicplace/mirlo-sub003/core/audio"
	"github.com/funmusicplace/mirlo-sub003/logger"
	"github.com/funmusicplace/mirlo-sub003/model"
	"github.com/funmusicplace/mirlo-sub003/queue"
	"github.com/funmusicplace/mirlo-sub003/storage"
)

// Progress grows from a fixed offset toward ~90% as tracks complete; the
// remainder covers archiving and upload.
const (
	progressStart     = 10
	progressEncodeEnd = 90
)

// PackageWorker consumes generate-album jobs: every track of a collection is
// transcoded to the requested distributable format with embedded tags, the
// results are streamed into one zip archive and the archive is uploaded to the
// format-archive bucket. Any track-level encoder error aborts the whole job,
// since a partial archive would silently omit tracks.
type PackageWorker struct {
	store    storage.ObjectStore
	encoder  audio.Encoder
	cfg      *config.Config
	progress func(ctx context.Context, jobID string, progress int)
}

// NewPackageWorker wires an album packaging worker. setProgress reports job
// progress back to the queue; pass queue.Client.SetProgress in production.
func NewPackageWorker(store storage.ObjectStore, encoder audio.Encoder, cfg *config.Config, setProgress func(ctx context.Context, jobID string, progress int)) *PackageWorker {
	if setProgress == nil {
		setProgress = func(context.Context, string, int) {}
	}
	return &PackageWorker{store: store, encoder: encoder, cfg: cfg, progress: setProgress}
}

// ArchiveKey builds the object key an album archive is stored under, scoped
// to the collection and format.
func ArchiveKey(collectionID int64, spec model.FormatSpec) string {
	return fmt.Sprintf("%d/%s.zip", collectionID, spec.String())
}

// Handle processes one generate-album job.
func (w *PackageWorker) Handle(ctx context.Context, job *queue.Job) (interface{}, error) {
	var p model.GenerateAlbumPayload
	if err := job.UnmarshalPayload(&p); err != nil {
		return nil, fmt.Errorf("invalid generate-album payload: %w", err)
	}
	if len(p.Tracks) == 0 {
		return nil, fmt.Errorf("generate-album payload has no tracks")
	}

	spec, err := model.ParseFormatSpec(p.Format)
	if err != nil {
		return nil, err
	}

	workDir := filepath.Join(w.cfg.TempDir, model.QueueGenerateAlbum,
		fmt.Sprintf("%d-%s", p.CollectionID, spec.String()))
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	// Temp dir removal must run on the error path too.
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn("failed to remove work directory",
				logger.String("dir", workDir), logger.ErrorField(err))
		}
	}()

	tracks := make([]model.AlbumTrack, len(p.Tracks))
	copy(tracks, p.Tracks)
	sort.Slice(tracks, func(i, j int) bool { return tracks[i].Order < tracks[j].Order })

	w.progress(ctx, job.ID, progressStart)

	var outputs []string
	for i, track := range tracks {
		output, err := w.encodeTrack(ctx, workDir, p, track, spec)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, output)
		span := progressEncodeEnd - progressStart
		w.progress(ctx, job.ID, progressStart+span*(i+1)/len(tracks))
	}

	archivePath := filepath.Join(workDir, "album.zip")
	if err := writeZip(archivePath, outputs); err != nil {
		return nil, fmt.Errorf("failed to build archive: %w", err)
	}

	key := ArchiveKey(p.CollectionID, spec)
	if err := w.store.UploadFile(ctx, storage.BucketFormatArchives, key, archivePath, "application/zip"); err != nil {
		return nil, fmt.Errorf("failed to upload archive %s: %w", key, err)
	}

	logger.Info("album packaged",
		logger.Int64("collectionId", p.CollectionID),
		logger.String("format", spec.String()),
		logger.Int("tracks", len(tracks)))
	return model.GenerateAlbumResult{ArchiveKey: key}, nil
}

// encodeTrack downloads one original, transcodes it with tags and deletes the
// local original to bound disk usage.
func (w *PackageWorker) encodeTrack(ctx context.Context, workDir string, p model.GenerateAlbumPayload, track model.AlbumTrack, spec model.FormatSpec) (string, error) {
	sourceKey := track.AssetID + "/original" + track.FileExtension
	source := filepath.Join(workDir, "source"+track.FileExtension)
	if err := w.store.DownloadToFile(ctx, storage.BucketFinalAudio, sourceKey, source); err != nil {
		return "", fmt.Errorf("failed to fetch track %s: %w", track.AssetID, err)
	}

	base := fmt.Sprintf("%02d - %s", track.Order, sanitizeFilename(track.Title))
	output := filepath.Join(workDir, spec.Filename(base))

	tags := map[string]string{
		"title":        track.Title,
		"album":        p.Title,
		"album_artist": p.ArtistName,
		"track":        strconv.Itoa(track.Order),
	}
	if len(track.Artists) > 0 {
		tags["artist"] = strings.Join(track.Artists, ", ")
	}
	if track.Genre != "" {
		tags["genre"] = track.Genre
	}

	if _, err := w.encoder.TranscodeFormat(ctx, source, output, audio.FormatParams{
		Spec: spec,
		Tags: tags,
	}); err != nil {
		return "", err
	}

	if err := os.Remove(source); err != nil {
		logger.Warn("failed to remove local original",
			logger.String("assetId", track.AssetID), logger.ErrorField(err))
	}
	return output, nil
}

// writeZip streams every file into a single archive at maximum compression.
func writeZip(archivePath string, files []string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})

	for _, path := range files {
		if err := addZipEntry(zw, path); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

func addZipEntry(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	entry, err := zw.Create(filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, f)
	return err
}

// sanitizeFilename strips characters that break zip entries or filesystems.
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-", "\\", "-", ":", "-", "*", "", "?", "",
		"\"", "", "<", "", ">", "", "|", "",
	)
	cleaned := strings.TrimSpace(replacer.Replace(name))
	if cleaned == "" {
		return "untitled"
	}
	return cleaned
}
