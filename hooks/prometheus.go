package hooks

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Skryldev/image-ingest/core"
)

// Prometheus exports pipeline metrics.
type Prometheus struct {
	uploads  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	bytes    *prometheus.CounterVec
	storage  *prometheus.CounterVec
	errors   *prometheus.CounterVec
}

// NewPrometheus registers the collectors on reg (the default registerer when
// nil). Registering twice reuses the existing collectors.
func NewPrometheus(namespace string, reg prometheus.Registerer) (*Prometheus, error) {
	if namespace == "" {
		namespace = "imageingest"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prometheus{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload requests by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Latency of batch stages and engine steps.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Original (in) and optimized (out) bytes.",
		}, []string{"direction"}),
		storage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_attempts_total",
			Help:      "Storage provider attempts by outcome.",
		}, []string{"provider", "outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by stage and category.",
		}, []string{"stage", "category"}),
	}

	var err error
	if p.uploads, err = registerCounter(reg, p.uploads); err != nil {
		return nil, err
	}
	if p.bytes, err = registerCounter(reg, p.bytes); err != nil {
		return nil, err
	}
	if p.storage, err = registerCounter(reg, p.storage); err != nil {
		return nil, err
	}
	if p.errors, err = registerCounter(reg, p.errors); err != nil {
		return nil, err
	}
	if err := reg.Register(p.duration); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register stage duration: %w", err)
		}
		existing, ok := are.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil, fmt.Errorf("register stage duration: %w", err)
		}
		p.duration = existing
	}
	return p, nil
}

func registerCounter(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, fmt.Errorf("register metric: %w", err)
		}
		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("register metric: %w", err)
		}
		return existing, nil
	}
	return c, nil
}

func (p *Prometheus) RecordProcessingTime(stage string, d time.Duration) {
	p.duration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *Prometheus) RecordBytes(direction string, n int64) {
	p.bytes.WithLabelValues(direction).Add(float64(n))
}

func (p *Prometheus) RecordError(stage, category string) {
	p.errors.WithLabelValues(stage, category).Inc()
}

func (p *Prometheus) RecordStorage(provider, outcome string) {
	p.storage.WithLabelValues(provider, outcome).Inc()
}

func (p *Prometheus) RecordUpload(outcome string) {
	p.uploads.WithLabelValues(outcome).Inc()
}

var _ core.MetricsCollector = (*Prometheus)(nil)
