package config

import (
	"errors"
	"strings"
	"time"
)

// DeploymentMode forces or auto-detects the storage context.
type DeploymentMode string

const (
	DeploymentAuto       DeploymentMode = "auto"
	DeploymentPersistent DeploymentMode = "persistent"
	DeploymentEphemeral  DeploymentMode = "ephemeral"
)

// Config is the top-level configuration struct. All fields have safe defaults
// so callers can start with Default() and override only what they need.
type Config struct {
	// Server.
	Port           string
	AppEnv         string // "production" hides error details
	LogLevel       string // "debug", "info", "warn", "error"
	RequestTimeout time.Duration

	// Batch limits.
	MaxFiles      int
	MaxFileBytes  int64
	MaxTotalBytes int64
	Concurrency   int // bound for buffering, optimization and persistence

	// Request defaults.
	DefaultUploadType string
	DefaultLevel      string

	// Optimization engines in probe order; "none" disables the rich strategy.
	Engines []string

	// Validation.
	StrictExtensions  bool
	AllowedExtensions []string

	// Storage.
	Deployment      DeploymentMode
	EphemeralMarker []string // env vars whose presence signals an ephemeral runtime
	StrictStorage   bool     // fail the request instead of degrading to a placeholder
	PlaceholderPath string
	MaxRetries      int
	RetryDelay      time.Duration
	Local           LocalConfig
	Cloud           CloudConfig
	NATS            NATSConfig

	Tracing TracingConfig
}

// LocalConfig configures the local filesystem storage adapter.
type LocalConfig struct {
	RootDir     string
	URLPrefix   string
	Permissions uint32 // default 0644
}

// CloudConfig configures the S3-compatible primary cloud provider. AccountID,
// AccessKeyID and SecretAccessKey must all be set for the provider to be used.
type CloudConfig struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	Endpoint        string // optional; derived from AccountID when empty
	PublicBaseURL   string
	UsePathStyle    bool
}

// Configured reports whether all three credentials are present.
func (c CloudConfig) Configured() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// NATSConfig configures the secondary object store and the event publisher.
type NATSConfig struct {
	URL           string
	ObjectBucket  string
	PublicBaseURL string
	EventSubject  string
}

// TracingConfig configures OpenTelemetry export. An empty Endpoint leaves
// the global no-op tracer in place.
type TracingConfig struct {
	Endpoint    string // OTLP/HTTP host:port
	Insecure    bool
	SampleRate  float64 // 0 < rate <= 1
	ServiceName string
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		Port:              "3000",
		AppEnv:            "development",
		LogLevel:          "info",
		RequestTimeout:    60 * time.Second,
		MaxFiles:          10,
		MaxFileBytes:      20 << 20,
		MaxTotalBytes:     100 << 20,
		Concurrency:       4,
		DefaultUploadType: "products",
		DefaultLevel:      "balanced",
		Engines:           []string{"vips", "imaging"},
		AllowedExtensions: []string{".jpg", ".jpeg", ".png", ".gif", ".webp"},
		Deployment:        DeploymentAuto,
		EphemeralMarker:   []string{"VERCEL", "AWS_LAMBDA_FUNCTION_NAME", "NETLIFY", "K_SERVICE", "FUNCTION_TARGET"},
		PlaceholderPath:   "/placeholder-image.svg",
		MaxRetries:        2,
		RetryDelay:        200 * time.Millisecond,
		Local: LocalConfig{
			RootDir:     "./public/uploads",
			URLPrefix:   "/uploads",
			Permissions: 0o644,
		},
		Cloud: CloudConfig{
			Bucket: "uploads",
			Region: "auto",
		},
		NATS: NATSConfig{
			ObjectBucket: "uploads",
			EventSubject: "images.uploaded",
		},
		Tracing: TracingConfig{
			SampleRate:  1,
			ServiceName: "image-ingest",
		},
	}
}

// Production reports whether error details should be hidden from clients.
func (c Config) Production() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.MaxFiles <= 0 {
		return errors.New("config: MaxFiles must be positive")
	}
	if c.MaxFileBytes <= 0 {
		return errors.New("config: MaxFileBytes must be positive")
	}
	if c.MaxTotalBytes < c.MaxFileBytes {
		return errors.New("config: MaxTotalBytes must be at least MaxFileBytes")
	}
	if c.Concurrency <= 0 {
		return errors.New("config: Concurrency must be positive")
	}
	if c.DefaultUploadType == "" {
		return errors.New("config: DefaultUploadType must not be empty")
	}
	switch c.Deployment {
	case DeploymentAuto, DeploymentPersistent, DeploymentEphemeral:
	default:
		return errors.New("config: Deployment must be auto, persistent or ephemeral")
	}
	if c.MaxRetries < 0 {
		return errors.New("config: MaxRetries must not be negative")
	}
	if c.Local.RootDir == "" {
		return errors.New("config: Local.RootDir must not be empty")
	}
	if c.PlaceholderPath == "" {
		return errors.New("config: PlaceholderPath must not be empty")
	}
	if c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1 {
		return errors.New("config: Tracing.SampleRate must be in (0, 1]")
	}
	return nil
}
