package audio

import (
	"context"

	"github.com/funmusicplace/mirlo-sub003/model"
)

// EncodeResult is what an encoder invocation produced. DurationSeconds is nil
// when the encoder reported no duration; it is never defaulted to zero.
type EncodeResult struct {
	DurationSeconds *float64
	Outputs         []string
}

// HLSParams controls a segmented streaming encode.
type HLSParams struct {
	PlaylistName   string // e.g. "playlist.m3u8"
	SegmentPattern string // e.g. "segment-%03d.ts"
	SegmentSeconds int
	Bitrate        string // e.g. "192k"
	SampleRate     int
	Channels       int
	// MaxSeconds trims the encode to a preview clip when > 0.
	MaxSeconds int
}

// FormatParams controls a single-file distributable encode.
type FormatParams struct {
	Spec model.FormatSpec
	// Tags are embedded as metadata key/value pairs (title, album,
	// album_artist, track, artist, genre).
	Tags map[string]string
}

// Encoder wraps the external encoding process.
type Encoder interface {
	// TranscodeHLS produces a segment manifest plus numbered segments in
	// outputDir.
	TranscodeHLS(ctx context.Context, inputPath, outputDir string, p HLSParams) (*EncodeResult, error)
	// TranscodeFormat produces one tagged output file.
	TranscodeFormat(ctx context.Context, inputPath, outputPath string, p FormatParams) (*EncodeResult, error)
}
