package core

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Skryldev/image-ingest/config"
	apperrors "github.com/Skryldev/image-ingest/errors"
	"github.com/Skryldev/image-ingest/utils"
)

// ProfileResolver maps a requested optimization level to a Profile. ok is
// false when the level was unknown and a fallback was returned.
type ProfileResolver func(level string) (p Profile, ok bool)

// Processor is the central orchestrator. It is safe for concurrent use; all
// per-request state lives on the stack of Ingest.
type Processor struct {
	cfg       config.Config
	dctx      DeploymentContext
	validator Validator
	strategy  Strategy
	router    Router
	profiles  ProfileResolver
	publisher EventPublisher
	logger    Logger
	metrics   MetricsCollector
	tracer    trace.Tracer

	// Atomic counters for lightweight internal metrics.
	processedCount int64
	errorCount     int64
}

// New creates a Processor. dctx is resolved once by the caller and reused for
// every request.
func New(cfg config.Config, dctx DeploymentContext, v Validator, s Strategy, r Router, profiles ProfileResolver) *Processor {
	return &Processor{
		cfg:       cfg,
		dctx:      dctx,
		validator: v,
		strategy:  s,
		router:    r,
		profiles:  profiles,
		logger:    NopLogger{},
		metrics:   NopMetrics{},
		tracer:    otel.Tracer("github.com/Skryldev/image-ingest/core"),
	}
}

// SetLogger attaches a structured logger.
func (p *Processor) SetLogger(l Logger) {
	if l != nil {
		p.logger = l
	}
}

// SetMetrics attaches a metrics collector.
func (p *Processor) SetMetrics(m MetricsCollector) {
	if m != nil {
		p.metrics = m
	}
}

// SetTracer overrides the global OpenTelemetry tracer.
func (p *Processor) SetTracer(t trace.Tracer) {
	if t != nil {
		p.tracer = t
	}
}

// SetPublisher attaches a batch event publisher. Publish failures are logged
// and never fail the request.
func (p *Processor) SetPublisher(pub EventPublisher) { p.publisher = pub }

// Strategy returns the optimization strategy chosen at startup.
func (p *Processor) Strategy() Strategy { return p.strategy }

// Deployment returns the resolved deployment context.
func (p *Processor) Deployment() DeploymentContext { return p.dctx }

// Ingest validates, optimizes and persists one batch.
func (p *Processor) Ingest(ctx context.Context, req Request) (out *UploadOutcome, err error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "imageingest.ingest",
		trace.WithAttributes(attribute.Int("imageingest.files", len(req.Sources))))
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.New(apperrors.CategoryAggregate, "ingest", fmt.Errorf("panic: %v", r))
			out = nil
		}
		defer span.End()
		if err != nil {
			atomic.AddInt64(&p.errorCount, 1)
			p.metrics.RecordUpload("error")
			p.metrics.RecordError("ingest", string(apperrors.CategoryOf(err)))
			span.RecordError(err)
			span.SetStatus(codes.Error, string(apperrors.CategoryOf(err)))
			return
		}
		atomic.AddInt64(&p.processedCount, 1)
		p.metrics.RecordUpload("success")
		span.SetAttributes(
			attribute.Int("imageingest.variants", out.Stats.VariantCount),
			attribute.String("imageingest.target", string(out.Target)),
		)
	}()

	if err := p.checkBatch(req.Sources); err != nil {
		return nil, err
	}

	uploadType := utils.SanitizeSegment(req.UploadType, p.cfg.DefaultUploadType)
	span.SetAttributes(attribute.String("imageingest.type", uploadType))
	level := req.Level
	if level == "" {
		level = p.cfg.DefaultLevel
	}
	profile, known := p.profiles(level)
	if !known {
		p.logger.Warn("unknown optimization level, using fallback",
			"requested", level, "profile", profile.Name)
	}
	limiter := NewLimiter(p.cfg.Concurrency)

	// --- 1. Buffer and validate ---------------------------------------------
	var files []RawFile
	if err := p.stage(ctx, StageValidate, func(ctx context.Context) error {
		var e error
		files, e = p.bufferAndValidate(ctx, req.Sources)
		return e
	}); err != nil {
		return nil, err
	}

	// --- 2. Optimize ----------------------------------------------------------
	var results []FileResult
	if err := p.stage(ctx, StageOptimize, func(ctx context.Context) error {
		results = p.strategy.OptimizeBatch(ctx, files, profile, limiter)
		if err := ctx.Err(); err != nil {
			return apperrors.Wrap(apperrors.CategoryAggregate, "optimize", err)
		}
		for _, r := range results {
			if r.Err == nil && len(r.Variants) > 0 {
				return nil
			}
		}
		for _, r := range results {
			if r.Err != nil {
				p.logger.Warn("file optimization failed", "file", r.Filename, "error", r.Err)
			}
		}
		return apperrors.New(apperrors.CategoryOptimization, "optimize", apperrors.ErrNoVariants)
	}); err != nil {
		return nil, err
	}

	// --- 3. Persist -----------------------------------------------------------
	plan := p.router.Plan(p.dctx)
	var refs [][]PersistedReference
	if err := p.stage(ctx, StagePersist, func(ctx context.Context) error {
		var e error
		refs, e = p.persist(ctx, plan, results, uploadType, limiter)
		return e
	}); err != nil {
		return nil, err
	}

	// --- 4. Aggregate ---------------------------------------------------------
	outcomes := make([]FileOutcome, len(files))
	for i, f := range files {
		outcomes[i] = FileOutcome{
			Filename:      f.Filename,
			OriginalBytes: int64(len(f.Bytes)),
			Variants:      results[i].Variants,
			References:    refs[i],
			Err:           results[i].Err,
		}
		if results[i].Err != nil {
			p.logger.Warn("file optimization failed", "file", f.Filename, "error", results[i].Err)
		}
	}
	var agg UploadOutcome
	_ = p.stage(ctx, StageAggregate, func(ctx context.Context) error {
		agg = Aggregate(outcomes, plan.Target, start)
		return nil
	})
	p.metrics.RecordBytes("in", agg.Stats.OriginalBytes)
	p.metrics.RecordBytes("out", agg.Stats.OptimizedBytes)

	p.logger.Info("batch processed",
		"type", uploadType,
		"profile", profile.Name,
		"strategy", p.strategy.Name(),
		"target", string(plan.Target),
		"files", agg.Stats.FileCount,
		"variants", agg.Stats.VariantCount,
		"failures", len(agg.Failures),
		"ratio", agg.Stats.CompressionRatio,
		"elapsed_ms", agg.Stats.ElapsedMs,
	)
	p.publish(ctx, uploadType, agg)
	return &agg, nil
}

// checkBatch enforces the count and declared-size limits before any file is
// read.
func (p *Processor) checkBatch(sources []Source) error {
	if len(sources) == 0 {
		return apperrors.New(apperrors.CategoryBatch, "check", apperrors.ErrNoFiles)
	}
	if p.cfg.MaxFiles > 0 && len(sources) > p.cfg.MaxFiles {
		return apperrors.New(apperrors.CategoryBatch, "check",
			fmt.Errorf("%w: %d files, maximum is %d", apperrors.ErrTooManyFiles, len(sources), p.cfg.MaxFiles))
	}
	var total int64
	for _, s := range sources {
		if s.Size > 0 {
			total += s.Size
		}
	}
	if p.cfg.MaxTotalBytes > 0 && total > p.cfg.MaxTotalBytes {
		return apperrors.New(apperrors.CategoryBatch, "check",
			fmt.Errorf("%w: %d bytes, maximum is %d", apperrors.ErrPayloadTooLarge, total, p.cfg.MaxTotalBytes))
	}
	return nil
}

// bufferAndValidate reads every source concurrently and aborts on the first
// invalid file.
func (p *Processor) bufferAndValidate(ctx context.Context, sources []Source) ([]RawFile, error) {
	files := make([]RawFile, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency())

	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			raw, err := p.buffer(gctx, src)
			if err != nil {
				return err
			}
			res := p.validator.Validate(raw)
			if !res.Valid {
				cause := res.Cause
				if cause == nil {
					cause = apperrors.ErrUnsupportedFormat
				}
				return apperrors.New(apperrors.CategoryValidation, "validate",
					fmt.Errorf("%s: %s: %w", src.Name, res.Reason, cause))
			}
			raw.Format = res.Format
			files[i] = raw
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total int64
	for _, f := range files {
		total += int64(len(f.Bytes))
	}
	if p.cfg.MaxTotalBytes > 0 && total > p.cfg.MaxTotalBytes {
		return nil, apperrors.New(apperrors.CategoryBatch, "check",
			fmt.Errorf("%w: %d bytes, maximum is %d", apperrors.ErrPayloadTooLarge, total, p.cfg.MaxTotalBytes))
	}
	return files, nil
}

func (p *Processor) buffer(ctx context.Context, src Source) (RawFile, error) {
	if src.Open == nil {
		return RawFile{}, apperrors.New(apperrors.CategoryValidation, "buffer",
			fmt.Errorf("%s: %w", src.Name, apperrors.ErrEmptyInput))
	}
	rc, err := src.Open()
	if err != nil {
		return RawFile{}, apperrors.Wrap(apperrors.CategoryValidation, "buffer", err)
	}
	defer rc.Close()

	data, err := utils.ReadLimited(ctx, rc, p.cfg.MaxFileBytes)
	switch {
	case errors.Is(err, utils.ErrLimitExceeded):
		return RawFile{}, apperrors.New(apperrors.CategoryValidation, "buffer",
			fmt.Errorf("%s: %w", src.Name, apperrors.ErrFileTooLarge))
	case err != nil:
		return RawFile{}, apperrors.Wrap(apperrors.CategoryAggregate, "buffer", err)
	}
	return RawFile{Filename: src.Name, Bytes: data, DeclaredSize: src.Size}, nil
}

// persist writes every variant through the router. Slots are filled by index
// so output order matches input order regardless of completion order.
func (p *Processor) persist(ctx context.Context, plan StoragePlan, results []FileResult, uploadType string, limiter *Limiter) ([][]PersistedReference, error) {
	refs := make([][]PersistedReference, len(results))
	for i, r := range results {
		if r.Err == nil {
			refs[i] = make([]PersistedReference, len(r.Variants))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range results {
		if r.Err != nil {
			continue
		}
		for j, v := range r.Variants {
			i, j, v := i, j, v
			g.Go(func() error {
				return limiter.Do(gctx, func() (err error) {
					defer func() {
						if r := recover(); r != nil {
							err = apperrors.New(apperrors.CategoryStorage, "persist",
								fmt.Errorf("%s: provider panic: %v", v.Filename, r))
						}
					}()
					ref, err := p.router.Persist(gctx, plan, v, uploadType)
					if err != nil {
						return err
					}
					refs[i][j] = ref
					return nil
				})
			})
		}
	}
	if err := g.Wait(); err != nil {
		if plan.Strict {
			p.discard(ctx, plan, refs)
		}
		if apperrors.CategoryOf(err) == apperrors.CategoryAggregate {
			err = apperrors.Wrap(apperrors.CategoryStorage, "persist", err)
		}
		return nil, err
	}
	return refs, nil
}

// discard removes whatever was written before a strict-mode failure. It runs
// on a detached context so cancellation of the request does not skip cleanup.
func (p *Processor) discard(ctx context.Context, plan StoragePlan, refs [][]PersistedReference) {
	var written []PersistedReference
	for _, file := range refs {
		for _, ref := range file {
			if ref.Location != "" {
				written = append(written, ref)
			}
		}
	}
	if len(written) == 0 {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	p.router.Discard(cctx, plan, written)
	p.logger.Warn("discarded partial batch", "count", len(written))
}

func (p *Processor) publish(ctx context.Context, uploadType string, agg UploadOutcome) {
	if p.publisher == nil {
		return
	}
	evt := BatchEvent{
		ID:         uuid.NewString(),
		UploadType: uploadType,
		Images:     agg.ReferencePaths,
		Target:     agg.Target,
		Files:      agg.Stats.FileCount,
		Variants:   agg.Stats.VariantCount,
		ElapsedMs:  agg.Stats.ElapsedMs,
		HappenedAt: time.Now().UnixMilli(),
	}
	if err := p.publisher.PublishBatch(ctx, evt); err != nil {
		p.logger.Warn("batch event not published", "id", evt.ID, "error", err)
	}
}

// stage checks for cancellation, runs fn inside a span and records its
// duration.
func (p *Processor) stage(ctx context.Context, s Stage, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryAggregate, string(s), err)
	}
	ctx, span := p.tracer.Start(ctx, "imageingest."+string(s))
	defer span.End()

	t := time.Now()
	err := fn(ctx)
	p.metrics.RecordProcessingTime(string(s), time.Since(t))
	if err != nil {
		p.metrics.RecordError(string(s), string(apperrors.CategoryOf(err)))
		p.logger.Debug("stage failed", "stage", string(s), "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.CategoryOf(err)))
	}
	return err
}

func (p *Processor) concurrency() int {
	if p.cfg.Concurrency < 1 {
		return 1
	}
	return p.cfg.Concurrency
}

// ProcessedCount returns the number of batches that completed successfully.
func (p *Processor) ProcessedCount() int64 { return atomic.LoadInt64(&p.processedCount) }

// ErrorCount returns the number of batches that failed.
func (p *Processor) ErrorCount() int64 { return atomic.LoadInt64(&p.errorCount) }
