package core

import (
	"context"
	"io"
	"time"
)

// Decoder converts encoded bytes into an in-memory ImageData.
// Implementations live in adapters/decoder/.
type Decoder interface {
	Decode(ctx context.Context, r io.Reader) (*ImageData, error)
	CanDecode(format Format) bool
}

// Encoder serialises an ImageData to bytes in a target format.
// Implementations live in adapters/encoder/.
type Encoder interface {
	Encode(ctx context.Context, img *ImageData, opts EncodeOptions) ([]byte, error)
	CanEncode(format Format) bool
}

// EncodeOptions carries format-specific encoding parameters.
type EncodeOptions struct {
	Quality  int  // 1-100; 0 = use encoder default
	Lossless bool // WebP / PNG lossless mode
}

// Registry maps Format values to Decoder/Encoder implementations.
type Registry interface {
	DecoderFor(format Format) (Decoder, bool)
	EncoderFor(format Format) (Encoder, bool)
	RegisterDecoder(format Format, d Decoder)
	RegisterEncoder(format Format, e Encoder)
}

// Step is a single transformation in an engine pipeline.
type Step interface {
	Name() string
	Execute(ctx context.Context, img *ImageData) (*ImageData, error)
}

// Engine is a rich image backend able to decode, resize and re-encode.
type Engine interface {
	Name() string
	Decode(ctx context.Context, data []byte) (*ImageData, error)
	// Render scales src to at most width pixels wide and encodes it as format.
	// src must not be mutated.
	Render(ctx context.Context, src *ImageData, width int, format Format, opts EncodeOptions) (*ImageData, error)
	CanEncode(format Format) bool
	Close()
}

// Strategy turns validated files into variants.
type Strategy interface {
	Name() string
	// OptimizeBatch returns one FileResult per input, aligned by index.
	// Per-file failures are reported in FileResult.Err.
	OptimizeBatch(ctx context.Context, files []RawFile, profile Profile, limiter *Limiter) []FileResult
}

// Validator classifies raw bytes as a supported image.
type Validator interface {
	Validate(file RawFile) ValidationOutcome
}

// StorageProvider is one link in a fallback chain.
type StorageProvider interface {
	Name() string
	Target() StorageTarget
	// Configured reports whether the provider has what it needs to attempt a
	// write. Unconfigured providers are skipped without any I/O.
	Configured() bool
	Put(ctx context.Context, key StorageKey, data []byte, contentType string) (location string, err error)
	Delete(ctx context.Context, key StorageKey) error
}

// Router resolves and executes storage plans.
type Router interface {
	Plan(dctx DeploymentContext) StoragePlan
	Persist(ctx context.Context, plan StoragePlan, v Variant, uploadType string) (PersistedReference, error)
	Discard(ctx context.Context, plan StoragePlan, refs []PersistedReference)
}

// EventPublisher announces completed batches.
type EventPublisher interface {
	PublishBatch(ctx context.Context, evt BatchEvent) error
}

// MetricsCollector receives performance observations from the pipeline.
type MetricsCollector interface {
	RecordProcessingTime(stage string, d time.Duration)
	RecordBytes(direction string, n int64)
	RecordError(stage string, category string)
	RecordStorage(provider string, outcome string)
	RecordUpload(outcome string)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordProcessingTime(string, time.Duration) {}
func (NopMetrics) RecordBytes(string, int64)                  {}
func (NopMetrics) RecordError(string, string)                 {}
func (NopMetrics) RecordStorage(string, string)               {}
func (NopMetrics) RecordUpload(string)                        {}
