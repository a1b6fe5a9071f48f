package model

import (
	"fmt"
	"strconv"
	"strings"
)

// AudioContainer is a distributable download container.
type AudioContainer string

const (
	ContainerWAV  AudioContainer = "wav"
	ContainerFLAC AudioContainer = "flac"
	ContainerOpus AudioContainer = "opus"
	ContainerMP3  AudioContainer = "mp3"
)

// FormatSpec describes one requested distributable format for album
// packaging. MP3 always carries a bitrate; lossless and opus formats never do.
type FormatSpec struct {
	Container AudioContainer
	// Bitrate in kbit/s, only meaningful for mp3.
	Bitrate int
}

// ParseFormatSpec parses a requested format string such as "320.mp3",
// "128.mp3", "flac", "wav" or "opus".
func ParseFormatSpec(s string) (FormatSpec, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return FormatSpec{}, fmt.Errorf("empty format")
	}

	if rate, rest, found := strings.Cut(s, "."); found {
		if AudioContainer(rest) != ContainerMP3 {
			return FormatSpec{}, fmt.Errorf("bitrate is only valid for mp3, got %q", s)
		}
		bitrate, err := strconv.Atoi(rate)
		if err != nil || bitrate <= 0 {
			return FormatSpec{}, fmt.Errorf("invalid bitrate in format %q", s)
		}
		return FormatSpec{Container: ContainerMP3, Bitrate: bitrate}, nil
	}

	switch AudioContainer(s) {
	case ContainerWAV, ContainerFLAC, ContainerOpus:
		return FormatSpec{Container: AudioContainer(s)}, nil
	case ContainerMP3:
		return FormatSpec{}, fmt.Errorf("mp3 format requires a bitrate, e.g. \"320.mp3\"")
	default:
		return FormatSpec{}, fmt.Errorf("unsupported format %q", s)
	}
}

// String returns the canonical request string for the format.
func (f FormatSpec) String() string {
	if f.Container == ContainerMP3 {
		return fmt.Sprintf("%d.%s", f.Bitrate, f.Container)
	}
	return string(f.Container)
}

// Filename builds the derived output filename for a track. Only mp3 output
// ever carries a bitrate suffix, so two mp3 archives at different bitrates
// never contain identically named files.
func (f FormatSpec) Filename(base string) string {
	if f.Container == ContainerMP3 {
		return fmt.Sprintf("%s.%d.%s", base, f.Bitrate, f.Container)
	}
	return base + "." + string(f.Container)
}

// Codec returns the ffmpeg codec name for the container.
func (f FormatSpec) Codec() string {
	switch f.Container {
	case ContainerWAV:
		return "pcm_s16le"
	case ContainerFLAC:
		return "flac"
	case ContainerOpus:
		return "libopus"
	case ContainerMP3:
		return "libmp3lame"
	default:
		return ""
	}
}

// BitrateArg returns the "-b:a" value, empty when the format carries none.
func (f FormatSpec) BitrateArg() string {
	if f.Container == ContainerMP3 && f.Bitrate > 0 {
		return fmt.Sprintf("%dk", f.Bitrate)
	}
	return ""
}
