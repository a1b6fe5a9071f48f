package audio

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/funmusicplace/mirlo-sub003/logger"
)

// FFmpegEncoder implements Encoder by invoking the external ffmpeg binary.
type FFmpegEncoder struct {
	ffmpegPath string
}

// NewFFmpegEncoder creates an encoder around the given ffmpeg binary path.
func NewFFmpegEncoder(ffmpegPath string) *FFmpegEncoder {
	return &FFmpegEncoder{ffmpegPath: ffmpegPath}
}

// TranscodeHLS transcodes an audio file into an HLS playlist plus numbered
// segments. The returned duration comes from the encoder's progress stream.
func (e *FFmpegEncoder) TranscodeHLS(ctx context.Context, inputPath, outputDir string, p HLSParams) (*EncodeResult, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}

	playlist := filepath.Join(outputDir, p.PlaylistName)
	segments := filepath.Join(outputDir, p.SegmentPattern)

	args := []string{"-y", "-i", inputPath}
	if p.MaxSeconds > 0 {
		args = append(args, "-t", strconv.Itoa(p.MaxSeconds))
	}
	args = append(args,
		"-c:a", "aac",
		"-b:a", p.Bitrate,
		"-ar", strconv.Itoa(p.SampleRate),
		"-ac", strconv.Itoa(p.Channels),
		"-hls_time", strconv.Itoa(p.SegmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_list_size", "0",
		"-hls_segment_filename", segments,
		"-f", "hls",
	)
	args = append(args, "-progress", "pipe:1", "-nostats", playlist)

	duration, err := e.run(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("hls transcode of %s failed: %w", inputPath, err)
	}

	return &EncodeResult{
		DurationSeconds: duration,
		Outputs:         []string{playlist},
	}, nil
}

// TranscodeFormat transcodes an audio file into one distributable container
// with embedded metadata tags.
func (e *FFmpegEncoder) TranscodeFormat(ctx context.Context, inputPath, outputPath string, p FormatParams) (*EncodeResult, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	args := []string{"-y", "-i", inputPath, "-c:a", p.Spec.Codec()}
	if bitrate := p.Spec.BitrateArg(); bitrate != "" {
		args = append(args, "-b:a", bitrate)
	}
	for key, value := range p.Tags {
		args = append(args, "-metadata", key+"="+value)
	}
	args = append(args, "-progress", "pipe:1", "-nostats", outputPath)

	duration, err := e.run(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("format transcode of %s failed: %w", inputPath, err)
	}

	return &EncodeResult{
		DurationSeconds: duration,
		Outputs:         []string{outputPath},
	}, nil
}

// run executes ffmpeg, consuming its progress stream, and returns the final
// reported media time as duration in seconds (nil when none was reported).
func (e *FFmpegEncoder) run(ctx context.Context, args []string) (*float64, error) {
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}

	logger.Debug("executing ffmpeg", logger.String("args", strings.Join(args, " ")))

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	duration := consumeProgress(stdout)

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("ffmpeg execution failed: %w\nFFmpeg Error: %s", err, stderr.String())
	}
	return duration, nil
}

// consumeProgress reads ffmpeg's key=value progress stream and keeps the
// latest media timestamp seen.
func consumeProgress(r io.Reader) *float64 {
	var latest *float64
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if secs, ok := parseProgressLine(scanner.Text()); ok {
			latest = &secs
		}
	}
	return latest
}

// parseProgressLine extracts seconds from an "out_time=HH:MM:SS.micro"
// progress line.
func parseProgressLine(line string) (float64, bool) {
	key, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found || key != "out_time" {
		return 0, false
	}
	return parseClock(value)
}

// parseClock converts "HH:MM:SS.fraction" into total seconds.
func parseClock(value string) (float64, bool) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err1 := strconv.Atoi(parts[0])
	minutes, err2 := strconv.Atoi(parts[1])
	seconds, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	if hours < 0 || minutes < 0 || seconds < 0 {
		return 0, false
	}
	return float64(hours)*3600 + float64(minutes)*60 + seconds, true
}
