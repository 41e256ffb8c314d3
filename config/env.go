package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads an optional .env file and overlays environment variables on top
// of Default(). Malformed values are reported rather than silently ignored.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from the given lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	c := Default()
	p := envParser{getenv: getenv}

	c.Port = p.str("PORT", c.Port)
	c.AppEnv = p.str("APP_ENV", c.AppEnv)
	c.LogLevel = strings.ToLower(p.str("LOG_LEVEL", c.LogLevel))
	c.RequestTimeout = p.duration("REQUEST_TIMEOUT", c.RequestTimeout)

	c.MaxFiles = p.int("MAX_FILES", c.MaxFiles)
	c.MaxFileBytes = p.int64("MAX_FILE_SIZE", c.MaxFileBytes)
	c.MaxTotalBytes = p.int64("MAX_TOTAL_SIZE", c.MaxTotalBytes)
	c.Concurrency = p.int("CONCURRENCY", c.Concurrency)

	c.DefaultUploadType = p.str("DEFAULT_UPLOAD_TYPE", c.DefaultUploadType)
	c.DefaultLevel = p.str("DEFAULT_OPTIMIZATION", c.DefaultLevel)
	c.Engines = p.list("OPTIMIZER_ENGINES", c.Engines)
	c.StrictExtensions = p.bool("STRICT_EXTENSIONS", c.StrictExtensions)

	c.Deployment = DeploymentMode(strings.ToLower(p.str("DEPLOYMENT_MODE", string(c.Deployment))))
	c.StrictStorage = p.bool("STORAGE_STRICT", c.StrictStorage)
	c.PlaceholderPath = p.str("PLACEHOLDER_PATH", c.PlaceholderPath)
	c.MaxRetries = p.int("STORAGE_MAX_RETRIES", c.MaxRetries)
	c.RetryDelay = p.duration("STORAGE_RETRY_DELAY", c.RetryDelay)

	c.Local.RootDir = p.str("UPLOAD_DIR", c.Local.RootDir)
	c.Local.URLPrefix = p.str("UPLOAD_URL_PREFIX", c.Local.URLPrefix)

	c.Cloud.AccountID = p.str("CLOUD_ACCOUNT_ID", "")
	c.Cloud.AccessKeyID = p.str("CLOUD_ACCESS_KEY", "")
	c.Cloud.SecretAccessKey = p.str("CLOUD_SECRET_KEY", "")
	c.Cloud.Bucket = p.str("CLOUD_BUCKET", c.Cloud.Bucket)
	c.Cloud.Region = p.str("CLOUD_REGION", c.Cloud.Region)
	c.Cloud.Endpoint = p.str("CLOUD_ENDPOINT", c.Cloud.Endpoint)
	c.Cloud.PublicBaseURL = p.str("CLOUD_PUBLIC_URL", c.Cloud.PublicBaseURL)
	c.Cloud.UsePathStyle = p.bool("CLOUD_PATH_STYLE", c.Cloud.UsePathStyle)

	c.NATS.URL = p.str("NATS_URL", "")
	c.NATS.ObjectBucket = p.str("NATS_OBJECT_BUCKET", c.NATS.ObjectBucket)
	c.NATS.PublicBaseURL = p.str("NATS_PUBLIC_URL", c.NATS.PublicBaseURL)
	c.NATS.EventSubject = p.str("NATS_EVENT_SUBJECT", c.NATS.EventSubject)

	c.Tracing.Endpoint = p.str("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	c.Tracing.Insecure = p.bool("OTEL_EXPORTER_OTLP_INSECURE", c.Tracing.Insecure)
	c.Tracing.SampleRate = p.float("OTEL_TRACES_SAMPLE_RATE", c.Tracing.SampleRate)
	c.Tracing.ServiceName = p.str("OTEL_SERVICE_NAME", c.Tracing.ServiceName)

	if p.err != nil {
		return Config{}, p.err
	}
	if err := Validate(c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// envParser records the first malformed value it encounters.
type envParser struct {
	getenv func(string) string
	err    error
}

func (p *envParser) fail(key, value, kind string) {
	if p.err == nil {
		p.err = fmt.Errorf("config: invalid %s value for %s: %q", kind, key, value)
	}
}

func (p *envParser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *envParser) int(key string, def int) int {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, "integer")
		return def
	}
	return n
}

func (p *envParser) int64(key string, def int64) int64 {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(key, v, "int64")
		return def
	}
	return n
}

func (p *envParser) float(key string, def float64) float64 {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, "float")
		return def
	}
	return f
}

func (p *envParser) bool(key string, def bool) bool {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, "boolean")
		return def
	}
	return b
}

func (p *envParser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, "duration")
		return def
	}
	return d
}

func (p *envParser) list(key string, def []string) []string {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
