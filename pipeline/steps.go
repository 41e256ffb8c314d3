package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/Skryldev/image-ingest/core"
	apperrors "github.com/Skryldev/image-ingest/errors"
	"github.com/Skryldev/image-ingest/utils"
)

// ── Decode ────────────────────────────────────────────────────────────────────

// DecodeStep decodes raw bytes in img.Data into an image.Image.
type DecodeStep struct {
	Registry core.Registry
}

func (s *DecodeStep) Name() string { return "decode" }

func (s *DecodeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if img.Image != nil {
		return img, nil // already decoded
	}
	if len(img.Data) == 0 {
		return nil, apperrors.New(apperrors.CategoryOptimization, s.Name(), apperrors.ErrEmptyInput)
	}
	dec, ok := s.Registry.DecoderFor(img.Format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryOptimization, s.Name(),
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, img.Format))
	}

	decoded, err := dec.Decode(ctx, bytes.NewReader(img.Data))
	if err != nil {
		return nil, err
	}
	decoded.Data = img.Data
	return decoded, nil
}

// ── Resize ────────────────────────────────────────────────────────────────────

// ResizeStep scales the image down to MaxWidth, preserving aspect ratio.
// Narrower images pass through untouched.
type ResizeStep struct {
	MaxWidth int
	// Filter controls quality vs speed.  Defaults to imaging.Lanczos.
	Filter *imaging.ResampleFilter
}

func (s *ResizeStep) Name() string { return "resize" }

func (s *ResizeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryOptimization, s.Name(), err)
	}

	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.CategoryOptimization, s.Name(), apperrors.ErrEmptyInput)
	}

	b := src.Bounds()
	dstW, dstH := utils.ScaleToWidth(b.Dx(), b.Dy(), s.MaxWidth)
	if dstW <= 0 || dstH <= 0 {
		return nil, apperrors.New(apperrors.CategoryOptimization, s.Name(), apperrors.ErrInvalidDimensions)
	}
	if dstW == b.Dx() && dstH == b.Dy() {
		out := *img
		out.Meta.Width, out.Meta.Height = dstW, dstH
		return &out, nil
	}

	filter := imaging.Lanczos
	if s.Filter != nil {
		filter = *s.Filter
	}

	out := *img
	out.Image = imaging.Resize(src, dstW, dstH, filter)
	out.Meta.Width = dstW
	out.Meta.Height = dstH
	return &out, nil
}

// ── Format conversion ─────────────────────────────────────────────────────────

// FormatStep sets the output format for the encode step. FormatOriginal keeps
// the decoded source format.
type FormatStep struct {
	Format core.Format
}

func (s *FormatStep) Name() string { return "format" }

func (s *FormatStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	if s.Format == core.FormatOriginal || s.Format == "" {
		return img, nil
	}
	out := *img
	out.Format = s.Format
	out.Meta.Format = s.Format
	return &out, nil
}

// ── Flatten ───────────────────────────────────────────────────────────────────

// FlattenStep composites transparent images onto a solid background when the
// output format cannot carry alpha.
type FlattenStep struct {
	Background color.Color // defaults to white
}

func (s *FlattenStep) Name() string { return "flatten" }

func (s *FlattenStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	if img.Format != core.FormatJPEG || !img.Meta.HasAlpha {
		return img, nil
	}
	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.CategoryOptimization, s.Name(), apperrors.ErrEmptyInput)
	}
	bg := s.Background
	if bg == nil {
		bg = color.White
	}
	b := src.Bounds()
	dst := imaging.New(b.Dx(), b.Dy(), bg)
	dst = imaging.Overlay(dst, src, image.Pt(0, 0), 1.0)

	out := *img
	out.Image = dst
	out.Meta.HasAlpha = false
	return &out, nil
}

// ── Quality ───────────────────────────────────────────────────────────────────

// QualityStep records the desired encode quality for EncodeStep.
type QualityStep struct {
	Quality int
}

func (s *QualityStep) Name() string { return "quality" }

func (s *QualityStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	out := *img
	out.Encode.Quality = s.Quality
	return &out, nil
}

// ── Encode ────────────────────────────────────────────────────────────────────

// EncodeStep serialises the image.Image into encoded bytes using the registry.
type EncodeStep struct {
	Registry    core.Registry
	BaseOptions core.EncodeOptions
}

func (s *EncodeStep) Name() string { return "encode" }

func (s *EncodeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	enc, ok := s.Registry.EncoderFor(img.Format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryOptimization, s.Name(),
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, img.Format))
	}

	opts := s.BaseOptions
	if img.Encode.Quality > 0 {
		opts.Quality = img.Encode.Quality
	}
	opts.Lossless = opts.Lossless || img.Encode.Lossless

	data, err := enc.Encode(ctx, img, opts)
	if err != nil {
		return nil, err
	}

	out := *img
	out.Data = data
	return &out, nil
}
