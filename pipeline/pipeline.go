// Package pipeline runs an engine's decode or render steps in order,
// reporting each one to the registered hooks.
package pipeline

import (
	"context"
	"time"

	"github.com/Skryldev/image-ingest/core"
	apperrors "github.com/Skryldev/image-ingest/errors"
)

// Timing is the observed cost of one step.
type Timing struct {
	Step     string
	Duration time.Duration
}

// Trace lists step timings in execution order.
type Trace []Timing

// Total sums the step durations.
func (t Trace) Total() time.Duration {
	var d time.Duration
	for _, s := range t {
		d += s.Duration
	}
	return d
}

// Slowest returns the step that took longest, or a zero Timing for an empty
// trace.
func (t Trace) Slowest() Timing {
	var max Timing
	for _, s := range t {
		if s.Duration > max.Duration {
			max = s
		}
	}
	return max
}

// Pipeline is an immutable-once-built list of steps. Then derives a new
// pipeline, so a template holding only hooks can be shared by goroutines.
type Pipeline struct {
	steps []core.Step
	hooks []core.Hook
}

// New returns an empty Pipeline.
func New() *Pipeline { return &Pipeline{} }

// AddHook registers observers in place. Call it while building a template,
// before the pipeline is shared.
func (p *Pipeline) AddHook(h ...core.Hook) *Pipeline {
	p.hooks = append(p.hooks, h...)
	return p
}

// Then returns a copy of p with steps appended. p is not modified.
func (p *Pipeline) Then(steps ...core.Step) *Pipeline {
	cp := &Pipeline{
		steps: make([]core.Step, 0, len(p.steps)+len(steps)),
		hooks: p.hooks[:len(p.hooks):len(p.hooks)],
	}
	cp.steps = append(append(cp.steps, p.steps...), steps...)
	return cp
}

// Run feeds img through every step. The input is never mutated by the
// built-in steps; each returns a shallow copy.
func (p *Pipeline) Run(ctx context.Context, img *core.ImageData) (*core.ImageData, Trace, error) {
	trace := make(Trace, 0, len(p.steps))
	current := img
	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, trace, apperrors.Wrap(apperrors.CategoryOptimization, step.Name(), err)
		}
		next, t, err := p.exec(ctx, step, current)
		trace = append(trace, t)
		if err != nil {
			return nil, trace, err
		}
		current = next
	}
	return current, trace, nil
}

// exec runs one step with the hooks around it.
func (p *Pipeline) exec(ctx context.Context, step core.Step, img *core.ImageData) (*core.ImageData, Timing, error) {
	name := step.Name()
	for _, h := range p.hooks {
		h.BeforeStep(ctx, name, img)
	}

	start := time.Now()
	out, err := step.Execute(ctx, img)
	t := Timing{Step: name, Duration: time.Since(start)}

	for _, h := range p.hooks {
		h.AfterStep(ctx, name, out, t.Duration, err)
	}
	return out, t, err
}
