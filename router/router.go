// Package router decides where variants are written and walks the provider
// fallback chain.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Skryldev/image-ingest/config"
	"github.com/Skryldev/image-ingest/core"
	apperrors "github.com/Skryldev/image-ingest/errors"
	"github.com/Skryldev/image-ingest/utils"
)

// Providers holds one provider per storage target. Nil entries are treated
// as unconfigured.
type Providers struct {
	Local          core.StorageProvider
	CloudPrimary   core.StorageProvider
	CloudSecondary core.StorageProvider
	Placeholder    core.StorageProvider
}

// Router is the default core.Router. It holds no per-request state.
type Router struct {
	providers  Providers
	maxRetries int
	retryDelay time.Duration
	logger     core.Logger
	metrics    core.MetricsCollector
	now        func() time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l core.Logger) Option { return func(r *Router) { r.logger = l } }

// WithMetrics sets the metrics collector.
func WithMetrics(m core.MetricsCollector) Option { return func(r *Router) { r.metrics = m } }

// WithClock overrides time.Now for naming.
func WithClock(now func() time.Time) Option { return func(r *Router) { r.now = now } }

// New returns a Router using cfg's retry policy. Negative retry settings are
// treated as zero: every configured provider gets at least one attempt.
func New(cfg config.Config, p Providers, opts ...Option) *Router {
	r := &Router{
		providers:  p,
		maxRetries: max(cfg.MaxRetries, 0),
		retryDelay: max(cfg.RetryDelay, 0),
		logger:     core.NopLogger{},
		metrics:    core.NopMetrics{},
		now:        time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Plan builds the provider chain for one request. Persistent deployments
// write locally. Ephemeral deployments try the cloud providers in order and,
// unless strict, end with the placeholder.
func (r *Router) Plan(dctx core.DeploymentContext) core.StoragePlan {
	plan := core.StoragePlan{Strict: dctx.StrictMode}
	if !dctx.Ephemeral {
		plan.Target = core.TargetLocal
		plan.Chain = compact(r.providers.Local)
		return plan
	}

	plan.Chain = compact(r.providers.CloudPrimary, r.providers.CloudSecondary)
	if !dctx.StrictMode {
		plan.Chain = append(plan.Chain, compact(r.providers.Placeholder)...)
	}
	plan.Target = core.TargetCloudPrimary
	for _, p := range plan.Chain {
		if p.Configured() {
			plan.Target = p.Target()
			break
		}
	}
	return plan
}

// Persist writes v through the first provider in plan that succeeds.
// Unconfigured providers are skipped without I/O; retryable failures are
// retried in place before moving on.
func (r *Router) Persist(ctx context.Context, plan core.StoragePlan, v core.Variant, uploadType string) (core.PersistedReference, error) {
	var errs []error
	for _, p := range plan.Chain {
		if !p.Configured() {
			r.metrics.RecordStorage(p.Name(), "skipped")
			continue
		}
		ref, err := r.tryProvider(ctx, p, v, uploadType)
		if err == nil {
			if p.Target() == core.TargetPlaceholder && len(errs) > 0 {
				r.logger.Warn("variant degraded to placeholder", "file", v.Filename)
			}
			return ref, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return core.PersistedReference{}, apperrors.Wrap(apperrors.CategoryStorage, "persist", ctxErr)
		}
		r.logger.Warn("storage provider failed", "provider", p.Name(), "file", v.Filename, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}

	if len(errs) == 0 {
		return core.PersistedReference{}, apperrors.New(apperrors.CategoryStorage, "persist",
			fmt.Errorf("%w: no provider configured for %s", apperrors.ErrStorageExhausted, plan.Target))
	}
	return core.PersistedReference{}, apperrors.New(apperrors.CategoryStorage, "persist",
		fmt.Errorf("%w: %w", apperrors.ErrStorageExhausted, errors.Join(errs...)))
}

func (r *Router) tryProvider(ctx context.Context, p core.StorageProvider, v core.Variant, uploadType string) (core.PersistedReference, error) {
	var err error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return core.PersistedReference{}, ctx.Err()
			case <-time.After(r.retryDelay):
			}
		}
		// A fresh name per attempt so a collision is never retried verbatim.
		key := core.StorageKey{Bucket: uploadType, Path: utils.UniqueName(v.Filename, r.now())}
		var loc string
		loc, err = p.Put(ctx, key, v.Bytes, v.Format.ContentType())
		if err == nil {
			r.metrics.RecordStorage(p.Name(), "ok")
			return core.PersistedReference{
				Filename: v.Filename,
				Location: loc,
				Target:   p.Target(),
				Key:      key,
			}, nil
		}
		if !apperrors.IsRetryable(err) {
			break
		}
		r.metrics.RecordStorage(p.Name(), "retry")
	}
	r.metrics.RecordStorage(p.Name(), "error")
	return core.PersistedReference{}, err
}

// Discard best-effort deletes refs written under plan.
func (r *Router) Discard(ctx context.Context, plan core.StoragePlan, refs []core.PersistedReference) {
	for _, ref := range refs {
		p := providerFor(plan, ref.Target)
		if p == nil {
			continue
		}
		if err := p.Delete(ctx, ref.Key); err != nil {
			r.logger.Error("discard failed", "provider", p.Name(), "location", ref.Location, "error", err)
			continue
		}
		r.metrics.RecordStorage(p.Name(), "discarded")
	}
}

func providerFor(plan core.StoragePlan, t core.StorageTarget) core.StorageProvider {
	for _, p := range plan.Chain {
		if p.Target() == t {
			return p
		}
	}
	return nil
}

func compact(ps ...core.StorageProvider) []core.StorageProvider {
	out := make([]core.StorageProvider, 0, len(ps))
	for _, p := range ps {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

var _ core.Router = (*Router)(nil)
