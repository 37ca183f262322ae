// Package codec decodes uploaded images, reports their metadata and
// re-encodes them to a normalized format and quality.
package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	_ "golang.org/x/image/webp" // webp decode registration

	"github.com/Muizzyranking/shopifyte-api/internal/models"
)

// DefaultQuality is applied when the caller passes a quality outside 1-100.
const DefaultQuality = 85

// pngCompressionLevel is fixed; quality does not apply to png output.
const pngCompressionLevel = png.DefaultCompression

// Info describes a decodable image without loading its pixels.
type Info struct {
	Format    models.ImageFormat
	Width     int
	Height    int
	ColorMode string
}

// Probe reads enough of data to report format, dimensions and color mode.
// Undecodable or empty input fails with ErrInvalidImage; a decodable format
// outside the supported set fails with ErrUnsupportedFormat.
func Probe(data []byte) (Info, error) {
	const op = "codec.Probe"

	if len(data) == 0 {
		return Info{}, fmt.Errorf("%s: empty input: %w", op, models.ErrInvalidImage)
	}
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("%s: %v: %w", op, err, models.ErrInvalidImage)
	}
	format, ok := models.ParseFormat(name)
	if !ok {
		return Info{}, fmt.Errorf("%s: %q: %w", op, name, models.ErrUnsupportedFormat)
	}
	return Info{
		Format:    format,
		Width:     cfg.Width,
		Height:    cfg.Height,
		ColorMode: colorMode(cfg.ColorModel),
	}, nil
}

// Decode decodes data into pixels plus its detected format.
func Decode(data []byte) (image.Image, models.ImageFormat, error) {
	const op = "codec.Decode"

	if len(data) == 0 {
		return nil, "", fmt.Errorf("%s: empty input: %w", op, models.ErrInvalidImage)
	}
	img, name, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%s: %v: %w", op, err, models.ErrInvalidImage)
	}
	format, ok := models.ParseFormat(name)
	if !ok {
		return nil, "", fmt.Errorf("%s: %q: %w", op, name, models.ErrUnsupportedFormat)
	}
	return img, format, nil
}

// Encode re-encodes img to format. Quality applies to jpeg and webp only;
// png uses a fixed compression level and gif ignores it. Images carrying
// transparency are flattened onto an opaque white background before jpeg
// encoding, since jpeg has no alpha channel.
func Encode(img image.Image, format models.ImageFormat, quality int) ([]byte, error) {
	const op = "codec.Encode"

	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}

	var buf bytes.Buffer
	switch format {
	case models.FormatJPEG:
		if hasTransparency(img) {
			img = flattenOnWhite(img)
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	case models.FormatPNG:
		enc := png.Encoder{CompressionLevel: pngCompressionLevel}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	case models.FormatWebP:
		opts, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(quality))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := webp.Encode(&buf, img, opts); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	case models.FormatGIF:
		if err := gif.Encode(&buf, img, nil); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	default:
		return nil, fmt.Errorf("%s: %q: %w", op, format, models.ErrUnsupportedFormat)
	}
	return buf.Bytes(), nil
}

// Resize downscales img proportionally so it fits within maxWidth x
// maxHeight. It never upscales. A zero bound is unconstrained; when both
// bounds are zero the image is returned unchanged.
func Resize(img image.Image, maxWidth, maxHeight int) image.Image {
	if maxWidth <= 0 && maxHeight <= 0 {
		return img
	}

	b := img.Bounds()
	if maxWidth <= 0 || maxWidth > b.Dx() {
		maxWidth = b.Dx()
	}
	if maxHeight <= 0 || maxHeight > b.Dy() {
		maxHeight = b.Dy()
	}
	if maxWidth >= b.Dx() && maxHeight >= b.Dy() {
		return img
	}
	return imaging.Fit(img, maxWidth, maxHeight, imaging.Lanczos)
}

// hasTransparency reports whether img may carry non-opaque pixels. Paletted
// images are flattened unconditionally since jpeg cannot represent them
// directly; everything else is asked through Opaque().
func hasTransparency(img image.Image) bool {
	if _, ok := img.ColorModel().(color.Palette); ok {
		return true
	}
	return !isOpaque(img)
}

func isOpaque(img image.Image) bool {
	type opaquer interface{ Opaque() bool }
	if o, ok := img.(opaquer); ok {
		return o.Opaque()
	}
	// Types without an Opaque method are assumed opaque.
	return true
}

func flattenOnWhite(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

func colorMode(m color.Model) string {
	switch m {
	case color.RGBAModel, color.RGBA64Model, color.NRGBAModel, color.NRGBA64Model:
		return "rgba"
	case color.YCbCrModel, color.CMYKModel:
		return "rgb"
	case color.GrayModel, color.Gray16Model:
		return "gray"
	}
	if _, ok := m.(color.Palette); ok {
		return "palette"
	}
	return "unknown"
}
