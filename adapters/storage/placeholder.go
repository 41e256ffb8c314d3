package storage

import (
	"context"

	"github.com/Skryldev/image-ingest/core"
)

// Placeholder is the last link of a fail-open chain. It performs no I/O and
// always returns the same fixed path.
type Placeholder struct {
	path string
}

// NewPlaceholder returns a provider answering with p.
func NewPlaceholder(p string) *Placeholder {
	if p == "" {
		p = "/placeholder-image.svg"
	}
	return &Placeholder{path: p}
}

func (p *Placeholder) Name() string               { return "placeholder" }
func (p *Placeholder) Target() core.StorageTarget { return core.TargetPlaceholder }
func (p *Placeholder) Configured() bool           { return true }

func (p *Placeholder) Put(context.Context, core.StorageKey, []byte, string) (string, error) {
	return p.path, nil
}

func (p *Placeholder) Delete(context.Context, core.StorageKey) error { return nil }

var _ core.StorageProvider = (*Placeholder)(nil)
