// Package encoder provides format-specific image encoders.
package encoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"

	"github.com/Skryldev/image-ingest/core"
	apperrors "github.com/Skryldev/image-ingest/errors"
)

// Imaging encodes through disintegration/imaging. It covers JPEG, PNG and
// GIF; WebP output needs the vips engine.
type Imaging struct {
	format         core.Format
	DefaultQuality int // used when EncodeOptions.Quality == 0
}

// NewJPEG returns a JPEG encoder.
func NewJPEG(defaultQuality int) *Imaging {
	if defaultQuality <= 0 {
		defaultQuality = 85
	}
	return &Imaging{format: core.FormatJPEG, DefaultQuality: defaultQuality}
}

// NewPNG returns a PNG encoder.
func NewPNG() *Imaging { return &Imaging{format: core.FormatPNG} }

// NewGIF returns a single-frame GIF encoder.
func NewGIF() *Imaging { return &Imaging{format: core.FormatGIF} }

func (e *Imaging) CanEncode(format core.Format) bool { return format == e.format }

func (e *Imaging) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	op := fmt.Sprintf("%s.encode", e.format)
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryOptimization, op, err)
	}

	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.CategoryOptimization, op, apperrors.ErrEmptyInput)
	}

	var (
		buf  bytes.Buffer
		err  error
		eopt []imaging.EncodeOption
	)
	switch e.format {
	case core.FormatJPEG:
		quality := opts.Quality
		if quality <= 0 {
			quality = e.DefaultQuality
		}
		err = imaging.Encode(&buf, src, imaging.JPEG, imaging.JPEGQuality(quality))
	case core.FormatPNG:
		level := png.DefaultCompression
		if opts.Lossless || opts.Quality >= 90 {
			level = png.BestCompression
		}
		eopt = append(eopt, imaging.PNGCompressionLevel(level))
		err = imaging.Encode(&buf, src, imaging.PNG, eopt...)
	case core.FormatGIF:
		err = imaging.Encode(&buf, src, imaging.GIF, imaging.GIFNumColors(256))
	default:
		return nil, apperrors.New(apperrors.CategoryOptimization, op, apperrors.ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryOptimization, op, err)
	}
	return buf.Bytes(), nil
}
