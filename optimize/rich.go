package optimize

import (
	"context"
	"fmt"
	"sync"

	"github.com/Skryldev/image-ingest/core"
	apperrors "github.com/Skryldev/image-ingest/errors"
	"github.com/Skryldev/image-ingest/utils"
)

// Rich decodes each file once and renders one variant per size spec.
// Files run concurrently under the request's limiter; the size specs of a
// single file run sequentially inside its slot.
type Rich struct {
	engine core.Engine
	logger core.Logger
}

// NewRich wraps engine in a Strategy.
func NewRich(engine core.Engine, logger core.Logger) *Rich {
	if logger == nil {
		logger = core.NopLogger{}
	}
	return &Rich{engine: engine, logger: logger}
}

func (r *Rich) Name() string { return "rich:" + r.engine.Name() }

// Engine returns the backing engine.
func (r *Rich) Engine() core.Engine { return r.engine }

func (r *Rich) OptimizeBatch(ctx context.Context, files []core.RawFile, profile core.Profile, limiter *core.Limiter) []core.FileResult {
	results := make([]core.FileResult, len(files))
	var wg sync.WaitGroup
	for i := range files {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f := files[i]
			results[i].Filename = f.Filename
			err := limiter.Do(ctx, func() error {
				variants, err := r.optimizeFile(ctx, f, profile)
				results[i].Variants = variants
				return err
			})
			if err != nil {
				results[i].Variants = nil
				results[i].Err = apperrors.Wrap(apperrors.CategoryOptimization, "optimize", err)
			}
		}(i)
	}
	wg.Wait()
	return results
}

func (r *Rich) optimizeFile(ctx context.Context, f core.RawFile, profile core.Profile) (variants []core.Variant, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s: engine panic: %v", f.Filename, p)
			variants = nil
		}
	}()

	src, err := r.engine.Decode(ctx, f.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Filename, err)
	}
	if src.Meta.Width <= 0 || src.Meta.Height <= 0 {
		return nil, fmt.Errorf("%s: %w", f.Filename, apperrors.ErrInvalidDimensions)
	}

	opts := core.EncodeOptions{Quality: profile.Quality}
	variants = make([]core.Variant, 0, len(profile.SizeSpecs))
	for _, spec := range profile.SizeSpecs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		format := r.outputFormat(profile.TargetFormat, src)
		out, err := r.engine.Render(ctx, src, spec.MaxWidth, format, opts)
		if err != nil {
			return nil, fmt.Errorf("%s (%s): %w", f.Filename, spec.Suffix, err)
		}
		if out.Format != format {
			format = out.Format
		}
		variants = append(variants, core.Variant{
			SourceFilename: f.Filename,
			Filename:       utils.VariantName(f.Filename, spec.Suffix, format.Extension()),
			Bytes:          out.Data,
			Format:         format,
			Width:          out.Meta.Width,
			Height:         out.Meta.Height,
			ByteSize:       int64(len(out.Data)),
			Suffix:         spec.Suffix,
		})
	}
	return variants, nil
}

// outputFormat resolves the profile's target against what the engine can
// write. Unsupported targets become PNG for images with transparency and
// JPEG otherwise.
func (r *Rich) outputFormat(target core.Format, src *core.ImageData) core.Format {
	if target == core.FormatOriginal || target == "" {
		target = src.Meta.Format
	}
	if r.engine.CanEncode(target) {
		return target
	}
	if src.Meta.HasAlpha && r.engine.CanEncode(core.FormatPNG) {
		return core.FormatPNG
	}
	return core.FormatJPEG
}
