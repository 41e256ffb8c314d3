package core

import (
	"sort"
	"sync"
)

type codecPair struct {
	dec Decoder
	enc Encoder
}

// DefaultRegistry is the Registry used by the pure-Go engine. It is filled
// once when the engine is built and then only read, per render.
type DefaultRegistry struct {
	mu     sync.RWMutex
	codecs map[Format]codecPair
}

// NewRegistry returns an empty DefaultRegistry.
func NewRegistry() *DefaultRegistry {
	return &DefaultRegistry{codecs: make(map[Format]codecPair)}
}

func (r *DefaultRegistry) RegisterDecoder(f Format, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.codecs[f]
	c.dec = d
	r.codecs[f] = c
}

func (r *DefaultRegistry) RegisterEncoder(f Format, e Encoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.codecs[f]
	c.enc = e
	r.codecs[f] = c
}

func (r *DefaultRegistry) DecoderFor(f Format) (Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.codecs[f]
	return c.dec, c.dec != nil
}

func (r *DefaultRegistry) EncoderFor(f Format) (Encoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.codecs[f]
	return c.enc, c.enc != nil
}

// EncodableFormats lists the formats with a registered encoder, sorted.
func (r *DefaultRegistry) EncodableFormats() []Format {
	r.mu.RLock()
	out := make([]Format, 0, len(r.codecs))
	for f, c := range r.codecs {
		if c.enc != nil {
			out = append(out, f)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
