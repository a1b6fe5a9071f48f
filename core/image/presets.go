package image

import (
	"fmt"

	"github.com/funmusicplace/mirlo-sub003/model"
)

// Encoding is a target output encoding for image variants.
type Encoding string

const (
	EncodingWebP Encoding = "webp"
	EncodingJPEG Encoding = "jpeg"
)

// Extension returns the filename extension for the encoding.
func (e Encoding) Extension() string {
	switch e {
	case EncodingWebP:
		return "webp"
	case EncodingJPEG:
		return "jpg"
	default:
		return string(e)
	}
}

// ContentType returns the mime type for the encoding.
func (e Encoding) ContentType() string {
	switch e {
	case EncodingWebP:
		return "image/webp"
	case EncodingJPEG:
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

// Variant is one resized derivative of a source image. A zero Height means
// "scale to Width preserving aspect ratio"; a non-zero Height crops to the
// exact Width×Height box.
type Variant struct {
	Width  int
	Height int
}

// FormatOptions are the per-encoding encoder settings. This is a closed set
// of explicit fields, not an open-ended option bag.
type FormatOptions struct {
	Encoding Encoding
	// Quality 1-100 for both jpeg and webp.
	Quality int
}

// Preset pairs a variant ladder with the encodings to produce. Presets are a
// fixed enumeration per image kind; callers never merge ad-hoc options.
type Preset struct {
	Name     string
	Variants []Variant
	Formats  []FormatOptions
}

var (
	artworkPreset = Preset{
		Name: "artwork",
		Variants: []Variant{
			{Width: 120}, {Width: 300}, {Width: 600},
			{Width: 960}, {Width: 1200}, {Width: 1500},
		},
		Formats: []FormatOptions{
			{Encoding: EncodingWebP, Quality: 80},
			{Encoding: EncodingJPEG, Quality: 85},
		},
	}

	avatarPreset = Preset{
		Name: "avatar",
		Variants: []Variant{
			{Width: 60}, {Width: 120}, {Width: 300}, {Width: 600},
		},
		Formats: []FormatOptions{
			{Encoding: EncodingWebP, Quality: 80},
			{Encoding: EncodingJPEG, Quality: 85},
		},
	}

	bannerPreset = Preset{
		Name: "banner",
		Variants: []Variant{
			{Width: 625, Height: 289},
			{Width: 1250, Height: 577},
			{Width: 2500, Height: 1156},
		},
		Formats: []FormatOptions{
			{Encoding: EncodingWebP, Quality: 80},
			{Encoding: EncodingJPEG, Quality: 85},
		},
	}
)

// PresetFor resolves the optimization preset for an image kind.
func PresetFor(kind model.ImageKind) (Preset, error) {
	switch kind {
	case model.ImageKindCover:
		return artworkPreset, nil
	case model.ImageKindAvatar:
		return avatarPreset, nil
	case model.ImageKindBanner:
		return bannerPreset, nil
	default:
		return Preset{}, fmt.Errorf("no preset for image kind %q", kind)
	}
}

// VariantKey builds the object key for one produced variant: the destination
// key suffixed by the variant's width.
func VariantKey(destKey string, v Variant, enc Encoding) string {
	return fmt.Sprintf("%s-x%d.%s", destKey, v.Width, enc.Extension())
}
