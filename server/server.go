// Package server exposes the ingest pipeline over HTTP using fiber.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/Skryldev/image-ingest/config"
	"github.com/Skryldev/image-ingest/core"
	"github.com/Skryldev/image-ingest/optimize"
)

// multipartOverhead is added to the aggregate file limit to size the request
// body limit; boundaries and form fields are not counted as file bytes.
const multipartOverhead = 1 << 20

// Service is what the HTTP layer needs from the pipeline.
type Service interface {
	Upload(ctx context.Context, req core.Request) (core.UploadOutcome, error)
	Status() Status
}

// Status is reported by GET /api/health.
type Status struct {
	Version    string               `json:"version"`
	Strategy   string               `json:"strategy"`
	Probe      optimize.ProbeReport `json:"probe"`
	Levels     []string             `json:"levels"`
	Deployment string               `json:"deployment"`
	Signal     string               `json:"signal"`
	Strict     bool                 `json:"strict"`
	Target     core.StorageTarget   `json:"target"`
	Chain      []string             `json:"chain"`
	Processed  int64                `json:"processed"`
	Errors     int64                `json:"errors"`
}

// Option customises the app.
type Option func(*options)

type options struct {
	logger  core.Logger
	metrics http.Handler
	logHTTP bool
}

// WithLogger sets the logger used for request failures.
func WithLogger(l core.Logger) Option { return func(o *options) { o.logger = l } }

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option { return func(o *options) { o.metrics = h } }

// WithAccessLog enables the fiber access log middleware.
func WithAccessLog() Option { return func(o *options) { o.logHTTP = true } }

// New builds the fiber app.
func New(svc Service, cfg config.Config, opts ...Option) *fiber.App {
	o := options{logger: core.NopLogger{}}
	for _, fn := range opts {
		fn(&o)
	}

	h := &Handler{
		svc:        svc,
		logger:     o.logger,
		timeout:    cfg.RequestTimeout,
		production: cfg.Production(),
	}

	app := fiber.New(fiber.Config{
		ServerHeader: "image-ingest",
		AppName:      "Image Ingest API",
		BodyLimit:    int(cfg.MaxTotalBytes) + multipartOverhead,
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
		ErrorHandler: func(c fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "Internal Server Error"
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				message = e.Message
			}
			return c.Status(code).JSON(ErrorResponse{
				Success: false,
				Error:   http.StatusText(code),
				Message: message,
			})
		},
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "HEAD", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
	}))
	if o.logHTTP {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}))
	}

	api := app.Group("/api")
	api.Post("/upload", h.Upload)
	api.Get("/health", h.Health)

	if o.metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(o.metrics))
	}

	app.Get("/", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"service": "Image Ingest API",
			"status":  "running",
			"endpoints": []string{
				"POST /api/upload",
				"GET  /api/health",
				"GET  /metrics",
			},
		})
	})
	return app
}

// requestTimeout falls back to one minute when unset.
func requestTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Minute
	}
	return d
}
