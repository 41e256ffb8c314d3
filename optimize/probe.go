package optimize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"time"

	"github.com/Skryldev/image-ingest/core"
	apperrors "github.com/Skryldev/image-ingest/errors"
)

// EngineNone disables the rich strategy when it appears in the probe list.
const EngineNone = "none"

// ProbeAttempt records why an engine was or was not selected.
type ProbeAttempt struct {
	Engine string `json:"engine"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// ProbeReport summarises the startup capability probe.
type ProbeReport struct {
	Strategy string         `json:"strategy"`
	Engine   string         `json:"engine,omitempty"`
	Attempts []ProbeAttempt `json:"attempts"`
	// Registered lists every engine compiled into this binary.
	Registered []string `json:"registered"`
}

// Probe tries each named engine in order and returns a Rich strategy for
// the first one that can decode and re-encode a tiny image. When none
// qualifies it returns Passthrough. The result is meant to be computed once
// per process.
func Probe(ctx context.Context, names []string, opts EngineOptions) (core.Strategy, ProbeReport) {
	logger := opts.Logger
	if logger == nil {
		logger = core.NopLogger{}
	}
	report := ProbeReport{Attempts: []ProbeAttempt{}, Registered: Engines()}

	for _, name := range names {
		if name == EngineNone {
			report.Attempts = append(report.Attempts, ProbeAttempt{Engine: name, Reason: "rich strategy disabled"})
			break
		}
		factory, ok := lookupEngine(name)
		if !ok {
			err := fmt.Errorf("%w: %s not compiled in", apperrors.ErrEngineUnavailable, name)
			report.Attempts = append(report.Attempts, ProbeAttempt{Engine: name, Reason: err.Error()})
			logger.Debug("engine skipped", "engine", name, "registered", report.Registered)
			continue
		}
		engine, err := factory(opts)
		if err != nil {
			if !errors.Is(err, apperrors.ErrEngineUnavailable) {
				err = fmt.Errorf("%w: %v", apperrors.ErrEngineUnavailable, err)
			}
			report.Attempts = append(report.Attempts, ProbeAttempt{Engine: name, Reason: err.Error()})
			logger.Warn("engine unavailable", "engine", name, "error", err)
			continue
		}
		if err := selfTest(ctx, engine); err != nil {
			engine.Close()
			report.Attempts = append(report.Attempts, ProbeAttempt{Engine: name, Reason: err.Error()})
			logger.Warn("engine failed self-test", "engine", name, "error", err)
			continue
		}
		report.Attempts = append(report.Attempts, ProbeAttempt{Engine: name, OK: true})
		report.Engine = name
		s := NewRich(engine, opts.Logger)
		report.Strategy = s.Name()
		logger.Info("optimization strategy selected", "strategy", s.Name(), "engine", name)
		return s, report
	}

	s := NewPassthrough()
	report.Strategy = s.Name()
	logger.Warn("no image engine available, originals will be stored unchanged")
	return s, report
}

// selfTest round-trips a 1x1 PNG through the engine.
func selfTest(ctx context.Context, e core.Engine) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := probeImage()
	if err != nil {
		return err
	}
	src, err := e.Decode(ctx, data)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	out, err := e.Render(ctx, src, 1, core.FormatPNG, core.EncodeOptions{Quality: 80})
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if len(out.Data) == 0 || out.Meta.Width != 1 || out.Meta.Height != 1 {
		return fmt.Errorf("render: unexpected output %dx%d (%d bytes)", out.Meta.Width, out.Meta.Height, len(out.Data))
	}
	return nil
}

func probeImage() ([]byte, error) {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
