package decoder

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	apperrors "github.com/Skryldev/image-ingest/errors"
)

func encodePNG(t *testing.T, w, h int, alpha uint8) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 10, G: 20, B: 30, A: alpha})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestImaging_DecodePNG(t *testing.T) {
	out, err := NewPNG().Decode(context.Background(), bytes.NewReader(encodePNG(t, 12, 7, 128)))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Meta.Width != 12 || out.Meta.Height != 7 || !out.Meta.HasAlpha {
		t.Errorf("meta = %+v", out.Meta)
	}
}

func TestImaging_PixelBudget(t *testing.T) {
	data := encodePNG(t, 10, 10, 255)

	_, err := NewPNG().WithMaxPixels(50).Decode(context.Background(), bytes.NewReader(data))
	if !errors.Is(err, apperrors.ErrInvalidDimensions) {
		t.Fatalf("expected ErrInvalidDimensions, got %v", err)
	}
	if _, err := NewPNG().WithMaxPixels(100).Decode(context.Background(), bytes.NewReader(data)); err != nil {
		t.Fatalf("exact budget should pass: %v", err)
	}
}

func TestImaging_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewJPEG().Decode(ctx, bytes.NewReader([]byte{0xFF, 0xD8}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWebP_RejectsGarbage(t *testing.T) {
	_, err := NewWebP().Decode(context.Background(), bytes.NewReader([]byte("RIFF\x00\x00\x00\x00WEBPjunk")))
	if !apperrors.IsCategory(err, apperrors.CategoryOptimization) {
		t.Fatalf("expected optimization error, got %v", err)
	}
	if !NewWebP().CanDecode("webp") || NewWebP().CanDecode("png") {
		t.Error("CanDecode mismatch")
	}
}
