package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	apperrors "github.com/nathan927/full-ai-nathan/internal/errors"
)

// encodePNG renders a width x height gradient and returns PNG bytes.
func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestValidateAssetAcceptsSizeAtLimit(t *testing.T) {
	asset := &Asset{
		Data:     encodePNG(t, 4, 4),
		MimeType: "image/png",
		Size:     MaxAssetSize, // exactly at the limit
	}
	if err := ValidateAsset(asset); err != nil {
		t.Fatalf("asset at size limit should be accepted, got %v", err)
	}
}

func TestValidateAssetRejectsSizeOverLimit(t *testing.T) {
	asset := &Asset{
		Data:     encodePNG(t, 4, 4),
		MimeType: "image/png",
		Size:     MaxAssetSize + 1,
	}
	err := ValidateAsset(asset)
	if err == nil {
		t.Fatal("asset one byte over the limit should be rejected")
	}
	if !apperrors.Is(err, apperrors.ErrorFileTooLarge) {
		t.Errorf("expected FILE_TOO_LARGE, got %v", err)
	}
}

func TestValidateAssetRejectsNonImage(t *testing.T) {
	asset := &Asset{
		Data:     []byte("%PDF-1.4 not an image"),
		MimeType: "application/pdf",
	}
	err := ValidateAsset(asset)
	if err == nil {
		t.Fatal("non-image MIME type should be rejected")
	}
	if !apperrors.Is(err, apperrors.ErrorInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}

func TestValidateAssetRejectsEmptyData(t *testing.T) {
	err := ValidateAsset(&Asset{MimeType: "image/png"})
	if !apperrors.Is(err, apperrors.ErrorInvalidInput) {
		t.Errorf("expected INVALID_INPUT for empty data, got %v", err)
	}
}

func TestValidateAssetSniffsGenericMimeType(t *testing.T) {
	asset := &Asset{
		Data:     encodePNG(t, 4, 4),
		MimeType: "application/octet-stream",
	}
	if err := ValidateAsset(asset); err != nil {
		t.Fatalf("octet-stream with PNG magic bytes should pass validation, got %v", err)
	}
}

func TestPreprocessDownscalesWithinBounds(t *testing.T) {
	p := NewPreprocessor(1920, 1080)
	asset := &Asset{
		Data:     encodePNG(t, 3840, 2160),
		MimeType: "image/png",
	}

	processed, err := p.Preprocess(asset)
	if err != nil {
		t.Fatalf("Preprocess failed: %v", err)
	}
	if processed.Width != 1920 || processed.Height != 1080 {
		t.Errorf("expected 1920x1080, got %dx%d", processed.Width, processed.Height)
	}
	if processed.MimeType != "image/png" {
		t.Errorf("expected image/png output, got %s", processed.MimeType)
	}

	decoded, _, err := image.Decode(bytes.NewReader(processed.Data))
	if err != nil {
		t.Fatalf("output did not round-trip decode: %v", err)
	}
	b := decoded.Bounds()
	if b.Dx() != 1920 || b.Dy() != 1080 {
		t.Errorf("encoded output is %dx%d, want 1920x1080", b.Dx(), b.Dy())
	}
}

func TestPreprocessPreservesAspectRatio(t *testing.T) {
	p := NewPreprocessor(1920, 1080)
	// Portrait photo: the height bound dominates.
	asset := &Asset{
		Data:     encodePNG(t, 1500, 2160),
		MimeType: "image/png",
	}

	processed, err := p.Preprocess(asset)
	if err != nil {
		t.Fatalf("Preprocess failed: %v", err)
	}
	if processed.Height != 1080 {
		t.Errorf("expected height clamped to 1080, got %d", processed.Height)
	}
	if processed.Width != 750 { // 1500 * (1080/2160)
		t.Errorf("expected width 750, got %d", processed.Width)
	}
}

func TestPreprocessKeepsSmallImages(t *testing.T) {
	p := NewPreprocessor(1920, 1080)
	asset := &Asset{
		Data:     encodePNG(t, 100, 80),
		MimeType: "image/png",
	}

	processed, err := p.Preprocess(asset)
	if err != nil {
		t.Fatalf("Preprocess failed: %v", err)
	}
	if processed.Width != 100 || processed.Height != 80 {
		t.Errorf("small image should keep its dimensions, got %dx%d", processed.Width, processed.Height)
	}
}

func TestPreprocessDecodeFailure(t *testing.T) {
	p := NewPreprocessor(1920, 1080)
	asset := &Asset{
		Data:     []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0xDE, 0xAD},
		MimeType: "image/png",
	}

	_, err := p.Preprocess(asset)
	if err == nil {
		t.Fatal("truncated PNG should fail to decode")
	}
	if !apperrors.Is(err, apperrors.ErrorDecodeFailed) {
		t.Errorf("expected DECODE_FAILED, got %v", err)
	}
}

func TestAdjustChannel(t *testing.T) {
	cases := []struct {
		in   uint8
		want uint8
	}{
		{0, 0},     // darkened below zero, clamped
		{128, 141}, // mid-gray gets only the brightness boost
		{255, 255}, // clamped at white
	}
	for _, tc := range cases {
		if got := adjustChannel(tc.in); got != tc.want {
			t.Errorf("adjustChannel(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestSniffMimeType(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "image/jpeg"},
		{"gif", []byte("GIF89a trailer"), "image/gif"},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "image/webp"},
		{"bmp", []byte("BM\x00\x00"), "image/bmp"},
		{"unknown", []byte("hello world"), ""},
		{"too short", []byte{0xFF}, ""},
	}
	for _, tc := range cases {
		if got := SniffMimeType(tc.data); got != tc.want {
			t.Errorf("%s: SniffMimeType = %q, want %q", tc.name, got, tc.want)
		}
	}
}
