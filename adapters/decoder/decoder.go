// Package decoder provides format-specific image decoders.
package decoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"

	"github.com/Skryldev/image-ingest/core"
	apperrors "github.com/Skryldev/image-ingest/errors"
)

// DefaultMaxPixels bounds width*height before any pixel buffer is allocated.
const DefaultMaxPixels = 40_000_000

// Imaging decodes JPEG, PNG and GIF through disintegration/imaging. EXIF
// orientation is applied so the pixel buffer is always upright.
type Imaging struct {
	format    core.Format
	maxPixels int
}

// NewJPEG returns a JPEG decoder.
func NewJPEG() *Imaging { return &Imaging{format: core.FormatJPEG, maxPixels: DefaultMaxPixels} }

// NewPNG returns a PNG decoder.
func NewPNG() *Imaging { return &Imaging{format: core.FormatPNG, maxPixels: DefaultMaxPixels} }

// NewGIF returns a decoder for the first frame of a GIF.
func NewGIF() *Imaging { return &Imaging{format: core.FormatGIF, maxPixels: DefaultMaxPixels} }

// WithMaxPixels overrides the pixel budget; n <= 0 disables it.
func (d *Imaging) WithMaxPixels(n int) *Imaging {
	d.maxPixels = n
	return d
}

func (d *Imaging) CanDecode(format core.Format) bool { return format == d.format }

func (d *Imaging) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	op := fmt.Sprintf("%s.decode", d.format)
	data, err := readAll(ctx, op, r)
	if err != nil {
		return nil, err
	}
	if err := checkPixels(op, data, d.maxPixels, stdConfig); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryOptimization, op, err)
	}
	return wrap(img, d.format), nil
}

func readAll(ctx context.Context, op string, r io.Reader) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryOptimization, op, err)
	}
	if br, ok := r.(*bytes.Reader); ok {
		data := make([]byte, br.Len())
		_, err := io.ReadFull(br, data)
		return data, apperrors.Wrap(apperrors.CategoryOptimization, op, err)
	}
	data, err := io.ReadAll(r)
	return data, apperrors.Wrap(apperrors.CategoryOptimization, op, err)
}

// checkPixels reads only the header to reject decompression bombs.
func checkPixels(op string, data []byte, max int, decodeConfig func(io.Reader) (image.Config, error)) error {
	if max <= 0 {
		return nil
	}
	cfg, err := decodeConfig(bytes.NewReader(data))
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryOptimization, op, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > max {
		return apperrors.New(apperrors.CategoryOptimization, op,
			fmt.Errorf("%w: %dx%d exceeds %d pixels", apperrors.ErrInvalidDimensions, cfg.Width, cfg.Height, max))
	}
	return nil
}

func stdConfig(r io.Reader) (image.Config, error) {
	cfg, _, err := image.DecodeConfig(r)
	return cfg, err
}

func wrap(img image.Image, f core.Format) *core.ImageData {
	b := img.Bounds()
	return &core.ImageData{
		Image:  img,
		Format: f,
		Meta: core.Metadata{
			Width:    b.Dx(),
			Height:   b.Dy(),
			Format:   f,
			HasAlpha: hasAlpha(img),
		},
	}
}

func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return false
}
