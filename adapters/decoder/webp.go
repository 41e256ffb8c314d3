package decoder

import (
	"bytes"
	"context"
	"io"

	"golang.org/x/image/webp"

	"github.com/Skryldev/image-ingest/core"
	apperrors "github.com/Skryldev/image-ingest/errors"
)

// WebP decodes lossy and lossless WebP with golang.org/x/image/webp. There is
// no pure-Go WebP encoder, so this format is input-only for the imaging
// engine.
type WebP struct {
	maxPixels int
}

// NewWebP returns a WebP decoder with the default pixel budget.
func NewWebP() *WebP { return &WebP{maxPixels: DefaultMaxPixels} }

// WithMaxPixels overrides the pixel budget; n <= 0 disables it.
func (w *WebP) WithMaxPixels(n int) *WebP {
	w.maxPixels = n
	return w
}

func (w *WebP) CanDecode(format core.Format) bool { return format == core.FormatWebP }

func (w *WebP) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	const op = "webp.decode"
	data, err := readAll(ctx, op, r)
	if err != nil {
		return nil, err
	}
	if err := checkPixels(op, data, w.maxPixels, webp.DecodeConfig); err != nil {
		return nil, err
	}

	img, err := webp.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryOptimization, op, err)
	}
	return wrap(img, core.FormatWebP), nil
}
