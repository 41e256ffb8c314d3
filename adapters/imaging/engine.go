// Package imaging is the pure-Go image engine built on
// github.com/disintegration/imaging. It decodes JPEG, PNG, GIF and WebP and
// encodes JPEG, PNG and GIF; it is always available.
package imaging

import (
	"context"
	"fmt"

	"github.com/Skryldev/image-ingest/adapters/decoder"
	"github.com/Skryldev/image-ingest/adapters/encoder"
	"github.com/Skryldev/image-ingest/core"
	apperrors "github.com/Skryldev/image-ingest/errors"
	"github.com/Skryldev/image-ingest/optimize"
	"github.com/Skryldev/image-ingest/pipeline"
	"github.com/Skryldev/image-ingest/utils"
)

// Name is the engine's registration name.
const Name = "imaging"

func init() {
	optimize.RegisterEngine(Name, func(o optimize.EngineOptions) (core.Engine, error) {
		return New(o), nil
	})
}

// NewRegistry returns a registry with every codec this engine supports.
func NewRegistry(defaultQuality int) *core.DefaultRegistry {
	reg := core.NewRegistry()
	reg.RegisterDecoder(core.FormatJPEG, decoder.NewJPEG())
	reg.RegisterDecoder(core.FormatPNG, decoder.NewPNG())
	reg.RegisterDecoder(core.FormatGIF, decoder.NewGIF())
	reg.RegisterDecoder(core.FormatWebP, decoder.NewWebP())
	reg.RegisterEncoder(core.FormatJPEG, encoder.NewJPEG(defaultQuality))
	reg.RegisterEncoder(core.FormatPNG, encoder.NewPNG())
	reg.RegisterEncoder(core.FormatGIF, encoder.NewGIF())
	return reg
}

// Engine runs decode and render pipelines over a codec registry.
type Engine struct {
	reg    *core.DefaultRegistry
	base   *pipeline.Pipeline // hooks only; steps are added per call
	logger core.Logger
}

// New returns an Engine. Hooks in o observe every pipeline step.
func New(o optimize.EngineOptions) *Engine {
	logger := o.Logger
	if logger == nil {
		logger = core.NopLogger{}
	}
	return &Engine{
		reg:    NewRegistry(o.DefaultQuality),
		base:   pipeline.New().AddHook(o.Hooks...),
		logger: logger,
	}
}

func (e *Engine) Name() string { return Name }

// Registry exposes the codec registry so callers can add formats.
func (e *Engine) Registry() *core.DefaultRegistry { return e.reg }

func (e *Engine) CanEncode(f core.Format) bool {
	_, ok := e.reg.EncoderFor(f)
	return ok
}

func (e *Engine) Decode(ctx context.Context, data []byte) (*core.ImageData, error) {
	format := core.Format(utils.DetectFormat(data))
	if format == core.FormatUnknown {
		return nil, apperrors.New(apperrors.CategoryOptimization, "imaging.decode", apperrors.ErrUnsupportedFormat)
	}
	out, trace, err := e.base.Then(&pipeline.DecodeStep{Registry: e.reg}).Run(ctx, &core.ImageData{Data: data, Format: format})
	if err != nil {
		return nil, err
	}
	e.logger.Debug("imaging.decode",
		"format", string(format),
		"width", out.Meta.Width,
		"height", out.Meta.Height,
		"elapsed_ms", trace.Total().Milliseconds(),
	)
	return out, nil
}

func (e *Engine) Render(ctx context.Context, src *core.ImageData, width int, format core.Format, opts core.EncodeOptions) (*core.ImageData, error) {
	if !e.CanEncode(format) {
		return nil, apperrors.New(apperrors.CategoryOptimization, "imaging.render",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, format))
	}
	out, trace, err := e.base.Then(
		&pipeline.ResizeStep{MaxWidth: width},
		&pipeline.FormatStep{Format: format},
		&pipeline.FlattenStep{},
		&pipeline.QualityStep{Quality: opts.Quality},
		&pipeline.EncodeStep{Registry: e.reg, BaseOptions: opts},
	).Run(ctx, src)
	if err != nil {
		return nil, err
	}
	slowest := trace.Slowest()
	e.logger.Debug("imaging.render",
		"width", out.Meta.Width,
		"height", out.Meta.Height,
		"format", string(out.Format),
		"bytes", len(out.Data),
		"elapsed_ms", trace.Total().Milliseconds(),
		"slowest_step", slowest.Step,
	)
	return out, nil
}

// Close is a no-op; the engine holds no external resources.
func (e *Engine) Close() {}

var _ core.Engine = (*Engine)(nil)
