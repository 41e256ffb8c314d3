package router

import (
	"strings"

	"github.com/Skryldev/image-ingest/config"
	"github.com/Skryldev/image-ingest/core"
)

// DetectContext resolves the deployment context from cfg and the process
// environment. An explicit DEPLOYMENT_MODE wins; in auto mode the presence
// of any configured marker variable means the filesystem is ephemeral.
func DetectContext(cfg config.Config, getenv func(string) string) core.DeploymentContext {
	dctx := core.DeploymentContext{StrictMode: cfg.StrictStorage}
	switch cfg.Deployment {
	case config.DeploymentEphemeral:
		dctx.Ephemeral = true
		dctx.Signal = "DEPLOYMENT_MODE=ephemeral"
		return dctx
	case config.DeploymentPersistent:
		dctx.Signal = "DEPLOYMENT_MODE=persistent"
		return dctx
	}
	for _, marker := range cfg.EphemeralMarker {
		if strings.TrimSpace(getenv(marker)) != "" {
			dctx.Ephemeral = true
			dctx.Signal = marker
			return dctx
		}
	}
	dctx.Signal = "default"
	return dctx
}
