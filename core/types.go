package core

import (
	"context"
	"io"
	"time"
)

// Format identifies an image codec.
type Format string

const (
	FormatJPEG     Format = "jpeg"
	FormatPNG      Format = "png"
	FormatGIF      Format = "gif"
	FormatWebP     Format = "webp"
	FormatOriginal Format = "original" // keep the source format
	FormatUnknown  Format = "unknown"
)

// Extension returns the canonical file extension (with dot) for f.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatPNG:
		return ".png"
	case FormatGIF:
		return ".gif"
	case FormatWebP:
		return ".webp"
	}
	return ".bin"
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatGIF:
		return "image/gif"
	case FormatWebP:
		return "image/webp"
	}
	return "application/octet-stream"
}

// Metadata holds decoded image information.
type Metadata struct {
	Width    int
	Height   int
	Format   Format
	HasAlpha bool
}

// ImageData is the in-memory representation passed between engine steps.
// Data holds encoded bytes; Image holds the decoded pixel buffer when needed.
type ImageData struct {
	Data   []byte
	Format Format

	// Decoded pixel buffer. The concrete type depends on the engine
	// (image.Image for the pure-Go engine, a vips reference for libvips).
	Image interface{}

	Meta Metadata

	// Encode parameters consumed by the encode step.
	Encode EncodeOptions
}

// Source is one inbound file before it has been buffered.
type Source struct {
	Name        string
	Size        int64 // declared size; -1 if unknown
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// RawFile is a buffered inbound file. It is owned by a single request.
type RawFile struct {
	Filename     string
	Bytes        []byte
	DeclaredSize int64
	Format       Format // detected from magic bytes
}

// ValidationOutcome is the result of inspecting a RawFile.
type ValidationOutcome struct {
	Valid  bool
	Format Format
	Reason string
	Cause  error // sentinel from the errors package when !Valid
}

// SizeSpec is one output width in a profile.
type SizeSpec struct {
	MaxWidth int
	Suffix   string
}

// Profile is a resolved optimization level.
type Profile struct {
	Name         string
	Quality      int // 0-100
	TargetFormat Format
	SizeSpecs    []SizeSpec
}

// Variant is one rendition of a source image.
type Variant struct {
	SourceFilename string
	Filename       string // suffixed, not yet unique
	Bytes          []byte
	Format         Format
	Width          int
	Height         int
	ByteSize       int64
	Suffix         string
}

// FileResult is the outcome of optimizing one source file. Exactly one of
// Variants and Err is meaningful.
type FileResult struct {
	Filename string
	Variants []Variant
	Err      error
}

// StorageTarget identifies the active provider chain.
type StorageTarget string

const (
	TargetLocal          StorageTarget = "local"
	TargetCloudPrimary   StorageTarget = "cloud-primary"
	TargetCloudSecondary StorageTarget = "cloud-secondary"
	TargetPlaceholder    StorageTarget = "placeholder"
)

// DeploymentContext carries the environment facts the storage router needs.
// It is resolved once and passed down rather than re-read per call.
type DeploymentContext struct {
	Ephemeral  bool
	StrictMode bool
	Signal     string // env marker or override that decided Ephemeral
}

// StoragePlan is the immutable per-request provider chain.
type StoragePlan struct {
	Target StorageTarget
	Chain  []StorageProvider
	Strict bool
}

// StorageKey identifies a stored object.
type StorageKey struct {
	Bucket string // upload type
	Path   string // unique file name
}

// PersistedReference points at one stored variant.
type PersistedReference struct {
	Filename string
	Location string
	Target   StorageTarget
	Key      StorageKey
}

// FileFailure reports a file that could not be optimized.
type FileFailure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// Stats summarises a batch. OriginalBytes covers every file; the ratio is
// computed over ProcessedOriginalBytes, the files that produced variants.
type Stats struct {
	OriginalBytes          int64
	ProcessedOriginalBytes int64
	OptimizedBytes         int64
	ElapsedMs              int64
	FileCount              int
	VariantCount           int
	CompressionRatio       int
	AvgTimePerImageMs      int64
}

// UploadOutcome is returned to the caller and then discarded.
type UploadOutcome struct {
	ReferencePaths []string
	Failures       []FileFailure
	Target         StorageTarget
	Stats          Stats
}

// Request is one inbound batch.
type Request struct {
	Sources    []Source
	UploadType string
	Level      string
}

// Stage names the coarse phases of a batch.
type Stage string

const (
	StageValidate  Stage = "validate"
	StageOptimize  Stage = "optimize"
	StagePersist   Stage = "persist"
	StageAggregate Stage = "aggregate"
)

// BatchEvent is published after a successful batch.
type BatchEvent struct {
	ID         string        `json:"id"`
	UploadType string        `json:"type"`
	Images     []string      `json:"images"`
	Target     StorageTarget `json:"target"`
	Files      int           `json:"files"`
	Variants   int           `json:"variants"`
	ElapsedMs  int64         `json:"processing_time_ms"`
	HappenedAt int64         `json:"happened_at"`
}

// Hook is an optional observer invoked around engine steps.
type Hook interface {
	BeforeStep(ctx context.Context, stepName string, img *ImageData)
	AfterStep(ctx context.Context, stepName string, img *ImageData, d time.Duration, err error)
}
