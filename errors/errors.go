package errors

import (
	"errors"
	"fmt"
)

// Category classifies error types for targeted handling and monitoring.
type Category string

const (
	CategoryValidation   Category = "validation"
	CategoryBatch        Category = "batch"
	CategoryOptimization Category = "optimization"
	CategoryStorage      Category = "storage"
	CategoryAggregate    Category = "aggregate"
	CategoryConfig       Category = "config"
	CategoryTransient    Category = "transient"
)

// ProcessingError is the structured error type used throughout the module.
type ProcessingError struct {
	Category  Category
	Op        string // operation name
	Err       error
	Retryable bool
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// New creates a non-retryable ProcessingError.
func New(category Category, op string, err error) *ProcessingError {
	return &ProcessingError{Category: category, Op: op, Err: err}
}

// Transient creates a retryable ProcessingError.
func Transient(op string, err error) *ProcessingError {
	return &ProcessingError{Category: CategoryTransient, Op: op, Err: err, Retryable: true}
}

// Wrap wraps an existing error with context. A nil err stays nil.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(category, op, err)
}

// IsRetryable reports whether err represents a transient failure.
func IsRetryable(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// IsCategory reports whether the outermost ProcessingError in err's chain
// belongs to the given category.
func IsCategory(err error, cat Category) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category == cat
	}
	return false
}

// CategoryOf returns the category of the outermost ProcessingError, or
// CategoryAggregate for anything unclassified.
func CategoryOf(err error) Category {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return CategoryAggregate
}

// Sentinel errors for common failure modes.
var (
	ErrUnsupportedFormat     = errors.New("unsupported image format")
	ErrFileTooLarge          = errors.New("file exceeds size limit")
	ErrExtensionNotAllowed   = errors.New("file extension not allowed")
	ErrInvalidDimensions     = errors.New("invalid dimensions")
	ErrEmptyInput            = errors.New("empty input")
	ErrNoFiles               = errors.New("no files provided")
	ErrTooManyFiles          = errors.New("too many files")
	ErrPayloadTooLarge       = errors.New("payload too large")
	ErrNoVariants            = errors.New("no image could be processed")
	ErrEngineUnavailable     = errors.New("optimization engine unavailable")
	ErrProviderNotConfigured = errors.New("storage provider not configured")
	ErrStorageExhausted      = errors.New("all storage providers failed")
)
