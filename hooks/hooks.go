// Package hooks provides production-ready Hook, Logger and MetricsCollector
// implementations.
package hooks

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skryldev/image-ingest/core"
)

// ── Structured logger adapter ─────────────────────────────────────────────────

// SlogLogger wraps the standard library slog.Logger to satisfy core.Logger.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger creates a logger backed by slog.
func NewSlogLogger(l *slog.Logger) *SlogLogger { return &SlogLogger{log: l} }

// NewLogger builds a slog logger writing to w: JSON in production, text
// otherwise.
func NewLogger(w io.Writer, level string, production bool) *SlogLogger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if production {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return NewSlogLogger(slog.New(h))
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
// Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func (s *SlogLogger) Debug(msg string, fields ...interface{}) { s.log.Debug(msg, fields...) }
func (s *SlogLogger) Info(msg string, fields ...interface{})  { s.log.Info(msg, fields...) }
func (s *SlogLogger) Warn(msg string, fields ...interface{})  { s.log.Warn(msg, fields...) }
func (s *SlogLogger) Error(msg string, fields ...interface{}) { s.log.Error(msg, fields...) }

// ── Logging hook ──────────────────────────────────────────────────────────────

// LoggingHook logs before/after each engine step.
type LoggingHook struct {
	logger core.Logger
}

// NewLoggingHook creates a LoggingHook.
func NewLoggingHook(l core.Logger) *LoggingHook { return &LoggingHook{logger: l} }

func (h *LoggingHook) BeforeStep(_ context.Context, stepName string, img *core.ImageData) {
	h.logger.Debug("pipeline.step.start",
		"step", stepName,
		"format", img.Format,
		"width", img.Meta.Width,
		"height", img.Meta.Height,
	)
}

func (h *LoggingHook) AfterStep(_ context.Context, stepName string, img *core.ImageData, d time.Duration, err error) {
	if err != nil {
		h.logger.Warn("pipeline.step.error",
			"step", stepName,
			"duration_ms", d.Milliseconds(),
			"error", err.Error(),
		)
		return
	}
	fields := []interface{}{"step", stepName, "duration_ms", d.Milliseconds()}
	if img != nil {
		fields = append(fields, "width", img.Meta.Width, "height", img.Meta.Height, "format", img.Format, "bytes", len(img.Data))
	}
	h.logger.Debug("pipeline.step.done", fields...)
}

// ── In-memory metrics collector ───────────────────────────────────────────────

// InMemoryMetrics accumulates metrics; safe for concurrent use.
type InMemoryMetrics struct {
	mu sync.RWMutex

	stageDurationsMs map[string]int64 // cumulative ms per stage or step
	stageCalls       map[string]int64
	stageErrors      map[string]int64
	storage          map[string]int64 // "provider/outcome"
	uploads          map[string]int64

	bytesIn  int64
	bytesOut int64
}

// NewInMemoryMetrics creates an empty metrics store.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		stageDurationsMs: make(map[string]int64),
		stageCalls:       make(map[string]int64),
		stageErrors:      make(map[string]int64),
		storage:          make(map[string]int64),
		uploads:          make(map[string]int64),
	}
}

func (m *InMemoryMetrics) RecordProcessingTime(stage string, d time.Duration) {
	m.mu.Lock()
	m.stageDurationsMs[stage] += d.Milliseconds()
	m.stageCalls[stage]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordBytes(direction string, n int64) {
	switch direction {
	case "in":
		atomic.AddInt64(&m.bytesIn, n)
	case "out":
		atomic.AddInt64(&m.bytesOut, n)
	}
}

func (m *InMemoryMetrics) RecordError(stage string, _ string) {
	m.mu.Lock()
	m.stageErrors[stage]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordStorage(provider, outcome string) {
	m.mu.Lock()
	m.storage[provider+"/"+outcome]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordUpload(outcome string) {
	m.mu.Lock()
	m.uploads[outcome]++
	m.mu.Unlock()
}

// Snapshot returns a copy of current metrics.
func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MetricsSnapshot{
		StageDurationsMs: copyMap(m.stageDurationsMs),
		StageCalls:       copyMap(m.stageCalls),
		StageErrors:      copyMap(m.stageErrors),
		Storage:          copyMap(m.storage),
		Uploads:          copyMap(m.uploads),
		BytesIn:          atomic.LoadInt64(&m.bytesIn),
		BytesOut:         atomic.LoadInt64(&m.bytesOut),
	}
}

func copyMap(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// MetricsSnapshot is an immutable point-in-time copy of metrics.
type MetricsSnapshot struct {
	StageDurationsMs map[string]int64 `json:"stage_durations_ms"`
	StageCalls       map[string]int64 `json:"stage_calls"`
	StageErrors      map[string]int64 `json:"stage_errors"`
	Storage          map[string]int64 `json:"storage"`
	Uploads          map[string]int64 `json:"uploads"`
	BytesIn          int64            `json:"bytes_in"`
	BytesOut         int64            `json:"bytes_out"`
}

// ── Fan-out ───────────────────────────────────────────────────────────────────

// Multi forwards every observation to each collector.
type Multi []core.MetricsCollector

func (m Multi) RecordProcessingTime(stage string, d time.Duration) {
	for _, c := range m {
		c.RecordProcessingTime(stage, d)
	}
}

func (m Multi) RecordBytes(direction string, n int64) {
	for _, c := range m {
		c.RecordBytes(direction, n)
	}
}

func (m Multi) RecordError(stage, category string) {
	for _, c := range m {
		c.RecordError(stage, category)
	}
}

func (m Multi) RecordStorage(provider, outcome string) {
	for _, c := range m {
		c.RecordStorage(provider, outcome)
	}
}

func (m Multi) RecordUpload(outcome string) {
	for _, c := range m {
		c.RecordUpload(outcome)
	}
}

// ── Metrics hook ──────────────────────────────────────────────────────────────

// MetricsHook feeds engine step events into a MetricsCollector. Step names
// are prefixed with "step." so they do not mix with batch stages.
type MetricsHook struct {
	collector core.MetricsCollector
}

// NewMetricsHook creates a MetricsHook.
func NewMetricsHook(c core.MetricsCollector) *MetricsHook { return &MetricsHook{collector: c} }

func (h *MetricsHook) BeforeStep(_ context.Context, _ string, _ *core.ImageData) {}

func (h *MetricsHook) AfterStep(_ context.Context, stepName string, _ *core.ImageData, d time.Duration, err error) {
	h.collector.RecordProcessingTime("step."+stepName, d)
	if err != nil {
		h.collector.RecordError("step."+stepName, "optimization")
	}
}

var (
	_ core.Logger           = (*SlogLogger)(nil)
	_ core.Hook             = (*LoggingHook)(nil)
	_ core.Hook             = (*MetricsHook)(nil)
	_ core.MetricsCollector = (*InMemoryMetrics)(nil)
	_ core.MetricsCollector = Multi(nil)
)
