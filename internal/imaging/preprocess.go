/**
 * Image preprocessing for OCR
 *
 * Normalizes a photographed homework page before extraction: bounds the
 * dimensions, boosts contrast and brightness, and re-encodes in the
 * original format. The input asset is never mutated.
 */

package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	apperrors "github.com/nathan927/full-ai-nathan/internal/errors"
)

const (
	// MaxAssetSize is the largest accepted upload, inclusive.
	MaxAssetSize = 10 * 1024 * 1024

	defaultMaxWidth  = 1920
	defaultMaxHeight = 1080

	contrastBoost   = 1.20
	brightnessBoost = 1.10
	jpegQuality     = 90
)

// Asset is a raw image as received from the caller.
type Asset struct {
	Data     []byte
	MimeType string
	Size     int64
	Name     string
}

// Processed is a normalized image ready for OCR. It carries the bounded
// dimensions so providers can report DPI-independent bounding boxes.
type Processed struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

// Preprocessor bounds and enhances images ahead of extraction.
type Preprocessor struct {
	maxWidth  int
	maxHeight int
}

// NewPreprocessor creates a preprocessor with the given dimension bounds.
// Non-positive bounds fall back to 1920x1080.
func NewPreprocessor(maxWidth, maxHeight int) *Preprocessor {
	if maxWidth <= 0 {
		maxWidth = defaultMaxWidth
	}
	if maxHeight <= 0 {
		maxHeight = defaultMaxHeight
	}
	return &Preprocessor{maxWidth: maxWidth, maxHeight: maxHeight}
}

// ValidateAsset enforces the boundary rules: the MIME type must be an image
// type and the payload must not exceed MaxAssetSize. An asset exactly at the
// limit is accepted.
func ValidateAsset(asset *Asset) error {
	if asset == nil || len(asset.Data) == 0 {
		return apperrors.NewInvalidInputError("image data is required")
	}
	mimeType := asset.MimeType
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = SniffMimeType(asset.Data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return apperrors.NewInvalidInputError(fmt.Sprintf("expected an image file, got %q", asset.MimeType))
	}
	size := asset.Size
	if size == 0 {
		size = int64(len(asset.Data))
	}
	if size > MaxAssetSize {
		return apperrors.NewFileTooLargeError(size, MaxAssetSize)
	}
	return nil
}

// Preprocess decodes, bounds, enhances and re-encodes the asset. The caller
// is expected to have run ValidateAsset first; decode failures are fatal and
// never retried.
func (p *Preprocessor) Preprocess(asset *Asset) (*Processed, error) {
	src, format, err := image.Decode(bytes.NewReader(asset.Data))
	if err != nil {
		return nil, apperrors.NewDecodeFailedError(asset.MimeType, err)
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if width > p.maxWidth || height > p.maxHeight {
		ratioW := float64(p.maxWidth) / float64(width)
		ratioH := float64(p.maxHeight) / float64(height)
		ratio := ratioW
		if ratioH < ratio {
			ratio = ratioH
		}
		width = int(float64(width) * ratio)
		height = int(float64(height) * ratio)
		if width < 1 {
			width = 1
		}
		if height < 1 {
			height = 1
		}

		scaled := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), src, bounds, draw.Over, nil)
		src = scaled
	}

	enhanced := enhance(src)

	mimeType := asset.MimeType
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = formatToMime(format)
	}

	var buf bytes.Buffer
	switch mimeType {
	case "image/png":
		err = png.Encode(&buf, enhanced)
	default:
		// JPEG and everything else (webp uploads are re-encoded as JPEG
		// since the stdlib has no webp encoder).
		mimeType = "image/jpeg"
		err = jpeg.Encode(&buf, enhanced, &jpeg.Options{Quality: jpegQuality})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode preprocessed image: %w", err)
	}

	return &Processed{
		Data:     buf.Bytes(),
		MimeType: mimeType,
		Width:    width,
		Height:   height,
	}, nil
}

// enhance applies a fixed +20% contrast and +10% brightness boost.
func enhance(src image.Image) *image.RGBA {
	bounds := src.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := src.At(x, y).RGBA()
			ox := x - bounds.Min.X
			oy := y - bounds.Min.Y
			i := out.PixOffset(ox, oy)
			out.Pix[i+0] = adjustChannel(uint8(r >> 8))
			out.Pix[i+1] = adjustChannel(uint8(g >> 8))
			out.Pix[i+2] = adjustChannel(uint8(b >> 8))
			out.Pix[i+3] = uint8(a >> 8)
		}
	}
	return out
}

// adjustChannel scales one 8-bit channel: contrast pivots around mid-gray,
// brightness is a straight multiplier, both clamped to [0, 255].
func adjustChannel(v uint8) uint8 {
	f := (float64(v)-128)*contrastBoost + 128
	f *= brightnessBoost
	if f < 0 {
		return 0
	}
	if f > 255 {
		return 255
	}
	return uint8(f + 0.5)
}

func formatToMime(format string) string {
	switch format {
	case "png":
		return "image/png"
	case "jpeg":
		return "image/jpeg"
	default:
		return "image/" + format
	}
}
