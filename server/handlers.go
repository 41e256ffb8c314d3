package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/Skryldev/image-ingest/core"
	apperrors "github.com/Skryldev/image-ingest/errors"
)

// Form field names accepted by POST /api/upload.
const (
	FieldImages       = "images"
	FieldType         = "type"
	FieldOptimization = "optimization"
)

// UploadStats mirrors core.Stats in the response envelope.
type UploadStats struct {
	OriginalFiles     int   `json:"originalFiles"`
	OptimizedVariants int   `json:"optimizedVariants"`
	ProcessingTime    int64 `json:"processingTime"`
	OriginalSize      int64 `json:"originalSize"`
	ProcessedSize     int64 `json:"processedSize"` // originals that produced variants
	OptimizedSize     int64 `json:"optimizedSize"`
	CompressionRatio  int   `json:"compressionRatio"`
	AvgTimePerImage   int64 `json:"avgTimePerImage"`
}

// UploadResponse is the success envelope.
type UploadResponse struct {
	Success  bool               `json:"success"`
	Images   []string           `json:"images"`
	Message  string             `json:"message"`
	Target   core.StorageTarget `json:"target"`
	Failures []core.FileFailure `json:"failures,omitempty"`
	Stats    UploadStats        `json:"stats"`
}

// ErrorResponse is the failure envelope. Details is only populated outside
// production.
type ErrorResponse struct {
	Success        bool   `json:"success"`
	Error          string `json:"error"`
	Message        string `json:"message"`
	ProcessingTime int64  `json:"processingTime"`
	Details        string `json:"details,omitempty"`
}

// Handler serves the upload API.
type Handler struct {
	svc        Service
	logger     core.Logger
	timeout    time.Duration
	production bool
}

// Upload handles POST /api/upload.
func (h *Handler) Upload(c fiber.Ctx) error {
	start := time.Now()

	form, err := c.MultipartForm()
	if err != nil {
		return h.fail(c, start, apperrors.New(apperrors.CategoryBatch, "upload.form",
			fmt.Errorf("%w: expected multipart form with %q files", apperrors.ErrNoFiles, FieldImages)))
	}

	req := core.Request{
		Sources:    sources(form.File[FieldImages]),
		UploadType: c.FormValue(FieldType),
		Level:      c.FormValue(FieldOptimization),
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout(h.timeout))
	defer cancel()

	out, err := h.svc.Upload(ctx, req)
	if err != nil {
		return h.fail(c, start, err)
	}

	return c.JSON(UploadResponse{
		Success:  true,
		Images:   out.ReferencePaths,
		Message:  fmt.Sprintf("Uploaded %d variants from %d images", out.Stats.VariantCount, out.Stats.FileCount),
		Target:   out.Target,
		Failures: out.Failures,
		Stats: UploadStats{
			OriginalFiles:     out.Stats.FileCount,
			OptimizedVariants: out.Stats.VariantCount,
			ProcessingTime:    out.Stats.ElapsedMs,
			OriginalSize:      out.Stats.OriginalBytes,
			ProcessedSize:     out.Stats.ProcessedOriginalBytes,
			OptimizedSize:     out.Stats.OptimizedBytes,
			CompressionRatio:  out.Stats.CompressionRatio,
			AvgTimePerImage:   out.Stats.AvgTimePerImageMs,
		},
	})
}

// Health handles GET /api/health.
func (h *Handler) Health(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"status":  h.svc.Status(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) fail(c fiber.Ctx, start time.Time, err error) error {
	code, title := StatusFor(err)
	resp := ErrorResponse{
		Success:        false,
		Error:          title,
		Message:        publicMessage(err, code, h.production),
		ProcessingTime: time.Since(start).Milliseconds(),
	}
	if !h.production {
		resp.Details = err.Error()
	}
	if code >= fiber.StatusInternalServerError {
		h.logger.Error("upload.failed", "error", err.Error(), "elapsed_ms", resp.ProcessingTime)
	} else {
		h.logger.Info("upload.rejected", "error", err.Error(), "status", code)
	}
	return c.Status(code).JSON(resp)
}

// StatusFor maps an error to an HTTP status and a short title.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrPayloadTooLarge):
		return fiber.StatusRequestEntityTooLarge, "Payload too large"
	case apperrors.IsCategory(err, apperrors.CategoryValidation):
		return fiber.StatusBadRequest, "Validation failed"
	case apperrors.IsCategory(err, apperrors.CategoryBatch):
		return fiber.StatusBadRequest, "Invalid batch"
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusInternalServerError, "Request timed out"
	}
	return fiber.StatusInternalServerError, "Upload failed"
}

// publicMessage keeps client-caused errors verbatim and hides the internals
// of server-side failures in production.
func publicMessage(err error, code int, production bool) string {
	if code < fiber.StatusInternalServerError || !production {
		var pe *apperrors.ProcessingError
		if errors.As(err, &pe) && pe.Err != nil {
			return pe.Err.Error()
		}
		return err.Error()
	}
	return "The images could not be processed. Please try again."
}

func sources(headers []*multipart.FileHeader) []core.Source {
	out := make([]core.Source, 0, len(headers))
	for _, fh := range headers {
		fh := fh
		out = append(out, core.Source{
			Name:        fh.Filename,
			Size:        fh.Size,
			ContentType: fh.Header.Get("Content-Type"),
			Open: func() (io.ReadCloser, error) {
				return fh.Open()
			},
		})
	}
	return out
}
