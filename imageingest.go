// Package imageingest wires the validator, optimization strategy, storage
// router and observability into a ready-to-serve upload Service.
package imageingest

import (
	"context"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	// Engines register themselves with the optimize package. The vips
	// import registers nothing unless built with -tags vips.
	_ "github.com/Skryldev/image-ingest/adapters/imaging"
	_ "github.com/Skryldev/image-ingest/adapters/vips"

	"github.com/Skryldev/image-ingest/adapters/storage"
	"github.com/Skryldev/image-ingest/config"
	"github.com/Skryldev/image-ingest/core"
	apperrors "github.com/Skryldev/image-ingest/errors"
	"github.com/Skryldev/image-ingest/events"
	"github.com/Skryldev/image-ingest/hooks"
	"github.com/Skryldev/image-ingest/optimize"
	"github.com/Skryldev/image-ingest/router"
	"github.com/Skryldev/image-ingest/server"
	"github.com/Skryldev/image-ingest/validator"
)

// Version is reported in health output and trace resources.
const Version = "0.4.0"

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Option customises New.
type Option func(*options)

type options struct {
	logger    core.Logger
	registry  *prometheus.Registry
	getenv    func(string) string
	providers *router.Providers
}

// WithLogger attaches a structured logger.
func WithLogger(l core.Logger) Option { return func(o *options) { o.logger = l } }

// WithRegistry exports metrics through reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option { return func(o *options) { o.registry = reg } }

// WithGetenv overrides os.Getenv for deployment detection.
func WithGetenv(fn func(string) string) Option { return func(o *options) { o.getenv = fn } }

// WithProviders replaces the storage providers built from config.
func WithProviders(p router.Providers) Option { return func(o *options) { o.providers = &p } }

// Service is the primary entry point.
type Service struct {
	cfg       config.Config
	logger    core.Logger
	processor *core.Processor
	router    *router.Router
	probe     optimize.ProbeReport
	memory    *hooks.InMemoryMetrics
	registry  *prometheus.Registry
	bus       *events.Client
	strategy  core.Strategy
}

// New validates cfg, probes the optimization engines once and connects the
// storage providers. Missing cloud credentials are not an error; the
// corresponding providers are simply skipped at write time.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Service, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "imageingest.new", err)
	}
	o := options{logger: core.NopLogger{}, getenv: os.Getenv}
	for _, fn := range opts {
		fn(&o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
		o.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	prom, err := hooks.NewPrometheus("imageingest", o.registry)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "imageingest.metrics", err)
	}
	memory := hooks.NewInMemoryMetrics()
	metrics := hooks.Multi{memory, prom}

	s := &Service{
		cfg:      cfg,
		logger:   o.logger,
		memory:   memory,
		registry: o.registry,
	}

	strategy, report := optimize.Probe(ctx, cfg.Engines, optimize.EngineOptions{
		Concurrency: cfg.Concurrency,
		Hooks:       []core.Hook{hooks.NewLoggingHook(o.logger), hooks.NewMetricsHook(metrics)},
		Logger:      o.logger,
	})
	s.strategy, s.probe = strategy, report

	providers := o.providers
	if providers == nil {
		p, err := s.dialProviders(ctx)
		if err != nil {
			s.Close()
			return nil, err
		}
		providers = &p
	}

	dctx := router.DetectContext(cfg, o.getenv)
	s.router = router.New(cfg, *providers, router.WithLogger(o.logger), router.WithMetrics(metrics))

	s.processor = core.New(cfg, dctx, validator.New(cfg), strategy, s.router, optimize.ResolveProfile)
	s.processor.SetLogger(o.logger)
	s.processor.SetMetrics(metrics)
	if s.bus != nil {
		s.processor.SetPublisher(events.NewPublisher(s.bus.Conn(), cfg.NATS.EventSubject))
	}

	plan := s.router.Plan(dctx)
	o.logger.Info("image ingest ready",
		"strategy", strategy.Name(),
		"ephemeral", dctx.Ephemeral,
		"signal", dctx.Signal,
		"strict", dctx.StrictMode,
		"target", plan.Target,
		"chain", chainNames(plan),
	)
	return s, nil
}

// dialProviders builds one provider per target. The NATS connection, when
// configured, is shared with the event publisher.
func (s *Service) dialProviders(ctx context.Context) (router.Providers, error) {
	p := router.Providers{
		Local:       storage.NewLocal(s.cfg.Local),
		Placeholder: storage.NewPlaceholder(s.cfg.PlaceholderPath),
	}

	primary, err := storage.DialS3(ctx, s.cfg.Cloud)
	if err != nil {
		return p, err
	}
	p.CloudPrimary = primary

	secondary := storage.NewNATSObjects(nil, s.cfg.NATS)
	if s.cfg.NATS.URL != "" {
		bus, err := events.Connect(s.cfg.NATS.URL)
		if err != nil {
			s.logger.Warn("nats unavailable, secondary storage and events disabled",
				"url", s.cfg.NATS.URL, "error", err)
		} else {
			s.bus = bus
			store, err := storage.OpenObjectStore(ctx, bus.Conn(), s.cfg.NATS.ObjectBucket)
			if err != nil {
				s.logger.Warn("nats object store unavailable", "bucket", s.cfg.NATS.ObjectBucket, "error", err)
			} else {
				secondary = storage.NewNATSObjects(store, s.cfg.NATS)
			}
		}
	}
	p.CloudSecondary = secondary
	return p, nil
}

// Upload runs one batch through the pipeline.
func (s *Service) Upload(ctx context.Context, req core.Request) (core.UploadOutcome, error) {
	out, err := s.processor.Ingest(ctx, req)
	if err != nil {
		return core.UploadOutcome{}, err
	}
	return *out, nil
}

// Status reports the selected strategy and storage plan.
func (s *Service) Status() server.Status {
	dctx := s.processor.Deployment()
	plan := s.router.Plan(dctx)
	mode := string(config.DeploymentPersistent)
	if dctx.Ephemeral {
		mode = string(config.DeploymentEphemeral)
	}
	return server.Status{
		Version:    Version,
		Strategy:   s.strategy.Name(),
		Probe:      s.probe,
		Levels:     optimize.Levels(),
		Deployment: mode,
		Signal:     dctx.Signal,
		Strict:     dctx.StrictMode,
		Target:     plan.Target,
		Chain:      chainNames(plan),
		Processed:  s.processor.ProcessedCount(),
		Errors:     s.processor.ErrorCount(),
	}
}

// Metrics returns a snapshot of the in-process counters.
func (s *Service) Metrics() hooks.MetricsSnapshot { return s.memory.Snapshot() }

// MetricsHandler serves the Prometheus exposition format.
func (s *Service) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Close releases the engine and drains the NATS connection.
func (s *Service) Close() {
	if r, ok := s.strategy.(*optimize.Rich); ok {
		r.Engine().Close()
	}
	if s.bus != nil {
		s.bus.Close()
	}
}

func chainNames(plan core.StoragePlan) []string {
	names := make([]string, 0, len(plan.Chain))
	for _, p := range plan.Chain {
		if p.Configured() {
			names = append(names, p.Name())
		}
	}
	return names
}

var _ server.Service = (*Service)(nil)
