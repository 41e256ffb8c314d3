//go:build !vips

package imageingest_test

import (
	"strings"
	"testing"

	"github.com/Skryldev/image-ingest/config"
	apperrors "github.com/Skryldev/image-ingest/errors"
)

func TestDefaultEngines_FallBackToImagingWithoutVips(t *testing.T) {
	svc, _ := newService(t, func(c *config.Config) { c.Engines = []string{"vips", "imaging"} })
	st := svc.Status()

	if st.Strategy != "rich:imaging" {
		t.Fatalf("strategy = %s", st.Strategy)
	}
	for _, name := range st.Probe.Registered {
		if name == "vips" {
			t.Errorf("vips registered without the build tag: %v", st.Probe.Registered)
		}
	}
	if len(st.Probe.Attempts) != 2 || st.Probe.Attempts[0].Engine != "vips" ||
		!strings.HasPrefix(st.Probe.Attempts[0].Reason, apperrors.ErrEngineUnavailable.Error()) {
		t.Errorf("attempts = %+v", st.Probe.Attempts)
	}
}
