//go:build vips

package vips

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/image-ingest/core"
	apperrors "github.com/Skryldev/image-ingest/errors"
	"github.com/Skryldev/image-ingest/optimize"
)

// Name is the engine's registration name.
const Name = "vips"

func init() {
	optimize.RegisterEngine(Name, func(o optimize.EngineOptions) (core.Engine, error) {
		e := New(Config{DefaultQuality: o.DefaultQuality, MaxWorkers: o.Concurrency})
		if startErr != nil {
			return nil, startErr
		}
		return e, nil
	})
}

// Config configures the libvips backend.
type Config struct {
	DefaultQuality int
	MaxCacheSize   int
	MaxWorkers     int
	ReportLeaks    bool
}

var (
	startOnce sync.Once
	startErr  error
)

// Engine is a libvips-powered core.Engine. Safe for concurrent use.
type Engine struct {
	cfg Config
}

// New initialises libvips (once per process) and returns an Engine.
func New(cfg Config) *Engine {
	if cfg.DefaultQuality <= 0 {
		cfg.DefaultQuality = 85
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	startOnce.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				startErr = fmt.Errorf("%w: libvips startup: %v", apperrors.ErrEngineUnavailable, r)
			}
		}()
		govips.Startup(&govips.Config{
			ConcurrencyLevel: cfg.MaxWorkers,
			MaxCacheSize:     cfg.MaxCacheSize,
			ReportLeaks:      cfg.ReportLeaks,
		})
	})
	return &Engine{cfg: cfg}
}

func (e *Engine) Name() string { return Name }

func (e *Engine) CanEncode(f core.Format) bool {
	switch f {
	case core.FormatJPEG, core.FormatPNG, core.FormatWebP:
		return true
	}
	return false
}

// Decode loads data and applies EXIF orientation. The returned Image holds a
// *Image whose reference is released by a finalizer.
func (e *Engine) Decode(ctx context.Context, data []byte) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryOptimization, "vips.decode", err)
	}
	ref, err := govips.NewImageFromBuffer(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryOptimization, "vips.decode", err)
	}
	runtime.SetFinalizer(ref, func(r *govips.ImageRef) { r.Close() })
	if err := ref.AutoRotate(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryOptimization, "vips.auto_rotate", err)
	}

	format := formatOf(ref.Format())
	return &core.ImageData{
		Data:   data,
		Format: format,
		Image:  &Image{ref: ref},
		Meta: core.Metadata{
			Width:    ref.Width(),
			Height:   ref.Height(),
			Format:   format,
			HasAlpha: ref.HasAlpha(),
		},
	}, nil
}

// Render copies the decoded image, shrinks it to width and exports it. src is
// left untouched so the next size spec starts from full resolution.
func (e *Engine) Render(ctx context.Context, src *core.ImageData, width int, format core.Format, opts core.EncodeOptions) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryOptimization, "vips.render", err)
	}
	vi, ok := src.Image.(*Image)
	if !ok || vi == nil {
		return nil, apperrors.New(apperrors.CategoryOptimization, "vips.render",
			fmt.Errorf("image must be decoded with the vips engine first"))
	}

	ref, err := vi.ref.Copy()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryOptimization, "vips.copy", err)
	}
	defer ref.Close()

	if width > 0 && ref.Width() > width {
		if err := ref.Resize(float64(width)/float64(ref.Width()), govips.KernelLanczos3); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryOptimization, "vips.resize", err)
		}
	}

	quality := opts.Quality
	if quality <= 0 {
		quality = e.cfg.DefaultQuality
	}

	var buf []byte
	switch format {
	case core.FormatJPEG:
		if ref.HasAlpha() {
			if err := ref.Flatten(&govips.Color{R: 255, G: 255, B: 255}); err != nil {
				return nil, apperrors.Wrap(apperrors.CategoryOptimization, "vips.flatten", err)
			}
		}
		ep := govips.NewJpegExportParams()
		ep.Quality = quality
		ep.StripMetadata = true
		buf, _, err = ref.ExportJpeg(ep)
	case core.FormatPNG:
		ep := govips.NewPngExportParams()
		ep.StripMetadata = true
		buf, _, err = ref.ExportPng(ep)
	case core.FormatWebP:
		ep := govips.NewWebpExportParams()
		ep.Quality = quality
		ep.Lossless = opts.Lossless
		ep.StripMetadata = true
		buf, _, err = ref.ExportWebp(ep)
	default:
		return nil, apperrors.New(apperrors.CategoryOptimization, "vips.encode",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, format))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryOptimization, "vips.encode."+string(format), err)
	}

	return &core.ImageData{
		Data:   buf,
		Format: format,
		Meta: core.Metadata{
			Width:    ref.Width(),
			Height:   ref.Height(),
			Format:   format,
			HasAlpha: ref.HasAlpha(),
		},
	}, nil
}

// Close is a no-op; libvips stays up for the life of the process.
func (e *Engine) Close() {}

// Image wraps a *govips.ImageRef for storage in core.ImageData.Image.
type Image struct {
	ref *govips.ImageRef
}

func (v *Image) Width() int            { return v.ref.Width() }
func (v *Image) Height() int           { return v.ref.Height() }
func (v *Image) Ref() *govips.ImageRef { return v.ref }

func formatOf(f govips.ImageType) core.Format {
	switch f {
	case govips.ImageTypeJPEG:
		return core.FormatJPEG
	case govips.ImageTypePNG:
		return core.FormatPNG
	case govips.ImageTypeGIF:
		return core.FormatGIF
	case govips.ImageTypeWEBP:
		return core.FormatWebP
	default:
		return core.FormatUnknown
	}
}

var _ core.Engine = (*Engine)(nil)
