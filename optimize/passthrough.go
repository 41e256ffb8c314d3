package optimize

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/Skryldev/image-ingest/core"
	"github.com/Skryldev/image-ingest/utils"
)

// Nominal dimensions reported for variants that were never decoded.
const (
	PassthroughWidth  = 800
	PassthroughHeight = 600
)

// Passthrough stores every upload unchanged as a single "original" variant.
type Passthrough struct{}

// NewPassthrough returns the fallback strategy.
func NewPassthrough() *Passthrough { return &Passthrough{} }

func (*Passthrough) Name() string { return "passthrough" }

func (*Passthrough) OptimizeBatch(ctx context.Context, files []core.RawFile, _ core.Profile, _ *core.Limiter) []core.FileResult {
	results := make([]core.FileResult, len(files))
	for i, f := range files {
		results[i].Filename = f.Filename
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		format, ext := formatFromName(f.Filename, f.Format)
		results[i].Variants = []core.Variant{{
			SourceFilename: f.Filename,
			Filename:       utils.VariantName(f.Filename, "original", ext),
			Bytes:          f.Bytes,
			Format:         format,
			Width:          PassthroughWidth,
			Height:         PassthroughHeight,
			ByteSize:       int64(len(f.Bytes)),
			Suffix:         "original",
		}}
	}
	return results
}

// formatFromName infers the format from the file extension, falling back to
// the sniffed format when the extension is missing or unknown.
func formatFromName(name string, sniffed core.Format) (core.Format, string) {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".jpg", ".jpeg":
		return core.FormatJPEG, ext
	case ".png":
		return core.FormatPNG, ext
	case ".gif":
		return core.FormatGIF, ext
	case ".webp":
		return core.FormatWebP, ext
	}
	if sniffed != "" && sniffed != core.FormatUnknown {
		return sniffed, sniffed.Extension()
	}
	return core.FormatUnknown, ".bin"
}
