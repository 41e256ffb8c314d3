package imageingest_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	imageingest "github.com/Skryldev/image-ingest"
	"github.com/Skryldev/image-ingest/config"
	"github.com/Skryldev/image-ingest/core"
	apperrors "github.com/Skryldev/image-ingest/errors"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

func newBluePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 50, G: 50, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func source(name string, data []byte) core.Source {
	return core.Source{
		Name: name,
		Size: int64(len(data)),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

func noEnv(string) string { return "" }

func newService(t *testing.T, mutate func(*config.Config)) (*imageingest.Service, config.Config) {
	t.Helper()
	cfg := imageingest.DefaultConfig()
	cfg.Engines = []string{"imaging"}
	cfg.Deployment = config.DeploymentPersistent
	cfg.Local.RootDir = t.TempDir()
	cfg.RetryDelay = 0
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := imageingest.New(context.Background(), cfg,
		imageingest.WithGetenv(noEnv),
		imageingest.WithRegistry(prometheus.NewRegistry()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc, cfg
}

// ── End-to-end ────────────────────────────────────────────────────────────────

func TestUpload_PersistentBalanced(t *testing.T) {
	svc, cfg := newService(t, nil)

	out, err := svc.Upload(context.Background(), core.Request{
		Sources: []core.Source{source("Blue Square.png", newBluePNG(t, 100, 100))},
		Level:   "balanced",
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if out.Target != core.TargetLocal {
		t.Errorf("target = %s", out.Target)
	}
	if len(out.ReferencePaths) != 3 {
		t.Fatalf("want 3 variants (thumb, medium, large), got %v", out.ReferencePaths)
	}

	seen := map[string]bool{}
	for i, ref := range out.ReferencePaths {
		if !strings.HasPrefix(ref, "/uploads/products/") {
			t.Errorf("ref %q not under /uploads/products/", ref)
		}
		if seen[ref] {
			t.Errorf("duplicate ref %q", ref)
		}
		seen[ref] = true

		suffix := []string{"-thumb.", "-medium.", "-large."}[i]
		if !strings.Contains(ref, "blue-square"+suffix) {
			t.Errorf("ref %q missing %q", ref, suffix)
		}
		if _, err := os.Stat(filepath.Join(cfg.Local.RootDir, "products", filepath.Base(ref))); err != nil {
			t.Errorf("variant not on disk: %v", err)
		}
	}
	if out.Stats.FileCount != 1 || out.Stats.VariantCount != 3 {
		t.Errorf("stats = %+v", out.Stats)
	}

	m := svc.Metrics()
	if m.Uploads["success"] != 1 || m.Storage["local/ok"] != 3 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestUpload_TooManyFiles(t *testing.T) {
	svc, _ := newService(t, nil)
	img := newBluePNG(t, 8, 8)
	sources := make([]core.Source, 11)
	for i := range sources {
		sources[i] = source(fmt.Sprintf("f%d.png", i), img)
	}

	_, err := svc.Upload(context.Background(), core.Request{Sources: sources})
	if !apperrors.IsCategory(err, apperrors.CategoryBatch) || !errors.Is(err, apperrors.ErrTooManyFiles) {
		t.Fatalf("expected too-many-files batch error, got %v", err)
	}
}

func TestUpload_MaxFilesAccepted(t *testing.T) {
	svc, cfg := newService(t, nil)
	img := newBluePNG(t, 8, 8)
	sources := make([]core.Source, cfg.MaxFiles)
	for i := range sources {
		sources[i] = source(fmt.Sprintf("f%d.png", i), img)
	}

	out, err := svc.Upload(context.Background(), core.Request{Sources: sources, Level: "balanced"})
	if err != nil {
		t.Fatalf("Upload of %d files: %v", cfg.MaxFiles, err)
	}
	if cfg.MaxFiles != 10 || len(out.ReferencePaths) != 30 || out.Stats.FileCount != 10 {
		t.Errorf("files=%d refs=%d", out.Stats.FileCount, len(out.ReferencePaths))
	}
	for i := 0; i < cfg.MaxFiles; i++ {
		if ref := out.ReferencePaths[i*3]; !strings.Contains(ref, fmt.Sprintf("-f%d-thumb.", i)) {
			t.Errorf("ref %d = %q out of order", i*3, ref)
		}
	}
}

func TestUpload_FailedFileDoesNotInflateRatio(t *testing.T) {
	svc, _ := newService(t, nil)
	small := newBluePNG(t, 8, 8)
	truncated := newBluePNG(t, 400, 400)
	truncated = truncated[:len(truncated)/2]

	out, err := svc.Upload(context.Background(), core.Request{
		Sources: []core.Source{source("small.png", small), source("broken.png", truncated)},
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(out.Failures) != 1 || out.Failures[0].Filename != "broken.png" {
		t.Fatalf("failures = %+v", out.Failures)
	}
	s := out.Stats
	if s.OriginalBytes != int64(len(small)+len(truncated)) || s.ProcessedOriginalBytes != int64(len(small)) {
		t.Errorf("bytes = %d/%d", s.OriginalBytes, s.ProcessedOriginalBytes)
	}
	if want := core.CompressionRatio(int64(len(small)), s.OptimizedBytes); s.CompressionRatio != want {
		t.Errorf("ratio = %d; want %d", s.CompressionRatio, want)
	}
}

func TestUpload_RejectsNonImage(t *testing.T) {
	svc, cfg := newService(t, nil)

	_, err := svc.Upload(context.Background(), core.Request{
		Sources: []core.Source{
			source("ok.png", newBluePNG(t, 8, 8)),
			source("notes.png", []byte("just some text")),
		},
	})
	if !apperrors.IsCategory(err, apperrors.CategoryValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if entries, _ := os.ReadDir(filepath.Join(cfg.Local.RootDir, "products")); len(entries) != 0 {
		t.Errorf("rejected batch wrote %d files", len(entries))
	}
}

func TestUpload_EphemeralFailOpen(t *testing.T) {
	svc, _ := newService(t, func(c *config.Config) {
		c.Deployment = config.DeploymentEphemeral
	})

	out, err := svc.Upload(context.Background(), core.Request{
		Sources: []core.Source{source("a.png", newBluePNG(t, 40, 40))},
		Level:   "fast",
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if out.Target != core.TargetPlaceholder {
		t.Errorf("target = %s", out.Target)
	}
	if len(out.ReferencePaths) != 2 {
		t.Fatalf("fast profile has two sizes, got %v", out.ReferencePaths)
	}
	for _, ref := range out.ReferencePaths {
		if ref != "/placeholder-image.svg" {
			t.Errorf("ref = %q; want placeholder", ref)
		}
	}
}

func TestUpload_EphemeralStrict(t *testing.T) {
	svc, _ := newService(t, func(c *config.Config) {
		c.Deployment = config.DeploymentEphemeral
		c.StrictStorage = true
	})

	_, err := svc.Upload(context.Background(), core.Request{
		Sources: []core.Source{source("a.png", newBluePNG(t, 40, 40))},
	})
	if !errors.Is(err, apperrors.ErrStorageExhausted) {
		t.Fatalf("expected ErrStorageExhausted, got %v", err)
	}
	if svc.Status().Errors != 1 {
		t.Errorf("error count = %d", svc.Status().Errors)
	}
}

func TestUpload_PassthroughWhenEnginesDisabled(t *testing.T) {
	svc, _ := newService(t, func(c *config.Config) { c.Engines = []string{"none"} })

	raw := newBluePNG(t, 30, 30)
	out, err := svc.Upload(context.Background(), core.Request{
		Sources: []core.Source{source("logo.png", raw)},
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(out.ReferencePaths) != 1 || !strings.HasSuffix(out.ReferencePaths[0], "-logo-original.png") {
		t.Fatalf("refs = %v", out.ReferencePaths)
	}
	if out.Stats.OriginalBytes != int64(len(raw)) || out.Stats.OptimizedBytes != int64(len(raw)) {
		t.Errorf("passthrough should store bytes unchanged: %+v", out.Stats)
	}
	if svc.Status().Strategy != "passthrough" {
		t.Errorf("strategy = %s", svc.Status().Strategy)
	}
}

func TestStatus(t *testing.T) {
	svc, _ := newService(t, nil)
	st := svc.Status()
	if st.Strategy != "rich:imaging" || st.Probe.Engine != "imaging" {
		t.Errorf("status = %+v", st)
	}
	if st.Deployment != "persistent" || st.Target != core.TargetLocal {
		t.Errorf("status = %+v", st)
	}
	if len(st.Chain) != 1 || st.Chain[0] != "local" {
		t.Errorf("chain = %v", st.Chain)
	}
	if fmt.Sprint(st.Levels) != "[fast balanced quality]" || st.Version != imageingest.Version {
		t.Errorf("levels = %v version = %q", st.Levels, st.Version)
	}
	if !strings.Contains(fmt.Sprint(st.Probe.Registered), "imaging") {
		t.Errorf("registered engines = %v", st.Probe.Registered)
	}
}

func TestMetricsHandler(t *testing.T) {
	svc, _ := newService(t, nil)
	if _, err := svc.Upload(context.Background(), core.Request{
		Sources: []core.Source{source("a.png", newBluePNG(t, 20, 20))},
	}); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	rec := httptest.NewRecorder()
	svc.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`imageingest_uploads_total{outcome="success"} 1`,
		`imageingest_storage_attempts_total{outcome="ok",provider="local"} 3`,
		"imageingest_stage_duration_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := imageingest.DefaultConfig()
	cfg.MaxFiles = 0
	_, err := imageingest.New(context.Background(), cfg, imageingest.WithGetenv(noEnv))
	if !apperrors.IsCategory(err, apperrors.CategoryConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}
