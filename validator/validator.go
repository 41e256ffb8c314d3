// Package validator classifies uploads by magic bytes, size and (optionally)
// file extension. It never decodes pixel data.
package validator

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Skryldev/image-ingest/config"
	"github.com/Skryldev/image-ingest/core"
	apperrors "github.com/Skryldev/image-ingest/errors"
	"github.com/Skryldev/image-ingest/utils"
)

// Magic is a side-effect-free core.Validator.
type Magic struct {
	maxBytes   int64
	strict     bool
	allowedExt map[string]struct{}
}

// New builds a validator from cfg's size limit and extension allow-list.
// The allow-list only applies when cfg.StrictExtensions is set.
func New(cfg config.Config) *Magic {
	m := &Magic{
		maxBytes:   cfg.MaxFileBytes,
		strict:     cfg.StrictExtensions,
		allowedExt: make(map[string]struct{}, len(cfg.AllowedExtensions)),
	}
	for _, ext := range cfg.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		m.allowedExt[ext] = struct{}{}
	}
	return m
}

// Validate inspects f. Checks run cheapest first: size, extension, signature.
func (m *Magic) Validate(f core.RawFile) core.ValidationOutcome {
	size := int64(len(f.Bytes))
	if f.DeclaredSize > size {
		size = f.DeclaredSize
	}
	if size == 0 {
		return invalid(apperrors.ErrEmptyInput, "file is empty")
	}
	if m.maxBytes > 0 && size > m.maxBytes {
		return invalid(apperrors.ErrFileTooLarge, fmt.Sprintf("%d bytes exceeds the %d byte limit", size, m.maxBytes))
	}
	if m.strict {
		ext := strings.ToLower(filepath.Ext(f.Filename))
		if _, ok := m.allowedExt[ext]; !ok {
			if ext == "" {
				ext = "(none)"
			}
			return invalid(apperrors.ErrExtensionNotAllowed, fmt.Sprintf("extension %s is not allowed", ext))
		}
	}
	format := core.Format(utils.DetectFormat(f.Bytes))
	if format == core.FormatUnknown {
		return invalid(apperrors.ErrUnsupportedFormat, "not a JPEG, PNG, GIF or WebP image")
	}
	return core.ValidationOutcome{Valid: true, Format: format}
}

func invalid(cause error, reason string) core.ValidationOutcome {
	return core.ValidationOutcome{Format: core.FormatUnknown, Reason: reason, Cause: cause}
}

var _ core.Validator = (*Magic)(nil)
