package core_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Skryldev/image-ingest/config"
	"github.com/Skryldev/image-ingest/core"
	apperrors "github.com/Skryldev/image-ingest/errors"
)

// ── fakes ─────────────────────────────────────────────────────────────────────

type nameValidator struct{}

func (nameValidator) Validate(f core.RawFile) core.ValidationOutcome {
	if strings.HasPrefix(f.Filename, "bad") {
		return core.ValidationOutcome{Reason: "not an image", Cause: apperrors.ErrUnsupportedFormat}
	}
	return core.ValidationOutcome{Valid: true, Format: core.FormatPNG}
}

type twoVariantStrategy struct{}

func (twoVariantStrategy) Name() string { return "fake" }

func (twoVariantStrategy) OptimizeBatch(ctx context.Context, files []core.RawFile, profile core.Profile, l *core.Limiter) []core.FileResult {
	out := make([]core.FileResult, len(files))
	for i, f := range files {
		out[i].Filename = f.Filename
		if strings.HasPrefix(f.Filename, "fail") {
			out[i].Err = errors.New("corrupt")
			continue
		}
		for _, s := range []string{"thumb", "large"} {
			out[i].Variants = append(out[i].Variants, core.Variant{
				SourceFilename: f.Filename,
				Filename:       f.Filename + "-" + s,
				Bytes:          []byte("xx"),
				Format:         core.FormatWebP,
				ByteSize:       2,
				Suffix:         s,
			})
		}
	}
	return out
}

type memRouter struct {
	mu        sync.Mutex
	failOn    string
	panicOn   string
	strict    bool
	stored    map[string]bool
	discarded []core.PersistedReference
}

func newMemRouter() *memRouter { return &memRouter{stored: map[string]bool{}} }

func (r *memRouter) Plan(core.DeploymentContext) core.StoragePlan {
	return core.StoragePlan{Target: core.TargetLocal, Strict: r.strict}
}

func (r *memRouter) Persist(ctx context.Context, _ core.StoragePlan, v core.Variant, uploadType string) (core.PersistedReference, error) {
	if r.panicOn != "" && strings.HasPrefix(v.Filename, r.panicOn) {
		panic("bucket handle is nil")
	}
	if r.failOn != "" && strings.HasPrefix(v.Filename, r.failOn) {
		// Give the other writes a chance to land first.
		time.Sleep(20 * time.Millisecond)
		return core.PersistedReference{}, apperrors.New(apperrors.CategoryStorage, "persist", apperrors.ErrStorageExhausted)
	}
	loc := "/uploads/" + uploadType + "/" + v.Filename
	r.mu.Lock()
	r.stored[loc] = true
	r.mu.Unlock()
	return core.PersistedReference{Filename: v.Filename, Location: loc, Target: core.TargetLocal}, nil
}

func (r *memRouter) Discard(_ context.Context, _ core.StoragePlan, refs []core.PersistedReference) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ref := range refs {
		delete(r.stored, ref.Location)
	}
	r.discarded = append(r.discarded, refs...)
}

type recordingPublisher struct {
	events []core.BatchEvent
	err    error
}

func (p *recordingPublisher) PublishBatch(_ context.Context, e core.BatchEvent) error {
	p.events = append(p.events, e)
	return p.err
}

func fixedProfile(level string) (core.Profile, bool) {
	return core.Profile{Name: "balanced", Quality: 80, TargetFormat: core.FormatWebP}, level == "balanced"
}

func source(name string, data []byte) core.Source {
	return core.Source{
		Name: name,
		Size: int64(len(data)),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

func newTestProcessor(r core.Router) *core.Processor {
	cfg := config.Default()
	cfg.MaxFileBytes = 1024
	cfg.MaxTotalBytes = 4096
	return core.New(cfg, core.DeploymentContext{}, nameValidator{}, twoVariantStrategy{}, r, fixedProfile)
}

// ── tests ─────────────────────────────────────────────────────────────────────

func TestIngest_OrderedReferences(t *testing.T) {
	r := newMemRouter()
	p := newTestProcessor(r)
	pub := &recordingPublisher{}
	p.SetPublisher(pub)

	out, err := p.Ingest(context.Background(), core.Request{
		Sources:    []core.Source{source("a", []byte("aaaa")), source("b", []byte("bbbb"))},
		UploadType: "Gallery",
		Level:      "balanced",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	want := []string{
		"/uploads/gallery/a-thumb", "/uploads/gallery/a-large",
		"/uploads/gallery/b-thumb", "/uploads/gallery/b-large",
	}
	if fmt.Sprint(out.ReferencePaths) != fmt.Sprint(want) {
		t.Fatalf("refs = %v; want %v", out.ReferencePaths, want)
	}
	if out.Stats.FileCount != 2 || out.Stats.VariantCount != 4 {
		t.Errorf("stats = %+v", out.Stats)
	}
	if out.Stats.OriginalBytes != 8 || out.Stats.OptimizedBytes != 8 {
		t.Errorf("bytes = %d/%d", out.Stats.OriginalBytes, out.Stats.OptimizedBytes)
	}
	if len(pub.events) != 1 || pub.events[0].UploadType != "gallery" || pub.events[0].Variants != 4 {
		t.Errorf("events = %+v", pub.events)
	}
	if p.ProcessedCount() != 1 {
		t.Errorf("ProcessedCount = %d", p.ProcessedCount())
	}
}

func TestIngest_BatchLimits(t *testing.T) {
	p := newTestProcessor(newMemRouter())
	ctx := context.Background()

	_, err := p.Ingest(ctx, core.Request{})
	if !apperrors.IsCategory(err, apperrors.CategoryBatch) || !errors.Is(err, apperrors.ErrNoFiles) {
		t.Errorf("empty batch: %v", err)
	}

	many := make([]core.Source, 11)
	for i := range many {
		many[i] = source(fmt.Sprintf("f%d", i), []byte("x"))
	}
	out, err := p.Ingest(ctx, core.Request{Sources: many[:10]})
	if err != nil || len(out.ReferencePaths) != 20 {
		t.Errorf("10 files: err=%v", err)
	}
	_, err = p.Ingest(ctx, core.Request{Sources: many})
	if !errors.Is(err, apperrors.ErrTooManyFiles) {
		t.Errorf("11 files: %v", err)
	}

	big := make([]core.Source, 5)
	for i := range big {
		big[i] = source(fmt.Sprintf("f%d", i), make([]byte, 1000))
	}
	_, err = p.Ingest(ctx, core.Request{Sources: big})
	if !errors.Is(err, apperrors.ErrPayloadTooLarge) {
		t.Errorf("oversized batch: %v", err)
	}
	if p.ErrorCount() != 3 {
		t.Errorf("ErrorCount = %d", p.ErrorCount())
	}
}

func TestIngest_InvalidFileAbortsBatch(t *testing.T) {
	r := newMemRouter()
	p := newTestProcessor(r)

	_, err := p.Ingest(context.Background(), core.Request{
		Sources: []core.Source{source("good", []byte("ok")), source("bad.txt", []byte("no"))},
	})
	if !apperrors.IsCategory(err, apperrors.CategoryValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "bad.txt") {
		t.Errorf("error should name the file: %v", err)
	}
	if len(r.stored) != 0 {
		t.Errorf("nothing should be persisted, got %d", len(r.stored))
	}
}

func TestIngest_FileTooLarge(t *testing.T) {
	p := newTestProcessor(newMemRouter())
	src := source("huge", make([]byte, 2048))
	src.Size = -1 // undeclared; caught while buffering

	_, err := p.Ingest(context.Background(), core.Request{Sources: []core.Source{src}})
	if !errors.Is(err, apperrors.ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestIngest_PartialOptimizationFailure(t *testing.T) {
	p := newTestProcessor(newMemRouter())

	out, err := p.Ingest(context.Background(), core.Request{
		Sources: []core.Source{source("fail-1", []byte("zz")), source("ok", []byte("zz"))},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(out.ReferencePaths) != 2 {
		t.Errorf("refs = %v", out.ReferencePaths)
	}
	if len(out.Failures) != 1 || out.Failures[0].Filename != "fail-1" {
		t.Errorf("failures = %+v", out.Failures)
	}
}

func TestIngest_AllFilesFailOptimization(t *testing.T) {
	p := newTestProcessor(newMemRouter())

	_, err := p.Ingest(context.Background(), core.Request{
		Sources: []core.Source{source("fail-1", []byte("zz"))},
	})
	if !errors.Is(err, apperrors.ErrNoVariants) {
		t.Fatalf("expected ErrNoVariants, got %v", err)
	}
}

func TestIngest_StrictStorageDiscardsPartialWrites(t *testing.T) {
	r := newMemRouter()
	r.strict = true
	r.failOn = "b"
	p := newTestProcessor(r)

	_, err := p.Ingest(context.Background(), core.Request{
		Sources: []core.Source{source("a", []byte("aa")), source("b", []byte("bb"))},
	})
	if !apperrors.IsCategory(err, apperrors.CategoryStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if len(r.stored) != 0 {
		t.Errorf("strict failure left %d objects behind", len(r.stored))
	}
	if len(r.discarded) == 0 {
		t.Error("expected Discard to be called")
	}
}

func TestIngest_ProviderPanicBecomesStorageError(t *testing.T) {
	r := newMemRouter()
	r.strict = true
	r.panicOn = "b"
	p := newTestProcessor(r)

	_, err := p.Ingest(context.Background(), core.Request{
		Sources: []core.Source{source("a", []byte("aa")), source("b", []byte("bb"))},
	})
	if !apperrors.IsCategory(err, apperrors.CategoryStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if !strings.Contains(err.Error(), "provider panic") || !strings.Contains(err.Error(), "b-") {
		t.Errorf("error should name the panicking variant: %v", err)
	}
	if p.ErrorCount() != 1 {
		t.Errorf("ErrorCount = %d", p.ErrorCount())
	}
}

func TestIngest_PublishErrorIsNotFatal(t *testing.T) {
	p := newTestProcessor(newMemRouter())
	p.SetPublisher(&recordingPublisher{err: errors.New("nats down")})

	if _, err := p.Ingest(context.Background(), core.Request{
		Sources: []core.Source{source("a", []byte("aa"))},
	}); err != nil {
		t.Fatalf("publish failure leaked: %v", err)
	}
}

func TestIngest_CancelledContext(t *testing.T) {
	p := newTestProcessor(newMemRouter())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Ingest(ctx, core.Request{Sources: []core.Source{source("a", []byte("aa"))}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestIngest_TracesStages(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	p := newTestProcessor(newMemRouter())
	p.SetTracer(tp.Tracer("test"))

	if _, err := p.Ingest(context.Background(), core.Request{
		Sources: []core.Source{source("a", []byte("aa"))},
	}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := p.Ingest(context.Background(), core.Request{}); err == nil {
		t.Fatal("expected empty batch to fail")
	}

	var names []string
	var failed int
	for _, s := range rec.Ended() {
		names = append(names, s.Name())
		if s.Status().Code == codes.Error {
			failed++
		}
	}
	want := "[imageingest.validate imageingest.optimize imageingest.persist imageingest.aggregate imageingest.ingest imageingest.ingest]"
	if fmt.Sprint(names) != want {
		t.Errorf("spans = %v", names)
	}
	if failed != 1 {
		t.Errorf("failed spans = %d; want 1", failed)
	}
}
