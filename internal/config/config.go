package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/jo-hoe/morphportal/internal/common"
)

// DefaultDemoImageURL is the sample image used by quick-pick when the request names none.
const DefaultDemoImageURL = "https://cdn.poehali.dev/files/Screenshot_20251226-225103_YouTube.jpg"

// Config is the root configuration loaded from YAML.
type Config struct {
	Server        ServerConfig        `yaml:"server" envPrefix:"SERVER_"`
	Transform     TransformConfig     `yaml:"transform" envPrefix:"TRANSFORM_"`
	Gallery       GalleryConfig       `yaml:"gallery" envPrefix:"GALLERY_"`
	Notifications NotificationsConfig `yaml:"notifications" envPrefix:"NOTIFICATIONS_"`
	Effects       EffectsConfig       `yaml:"effects" envPrefix:"EFFECTS_"`
}

// ServerConfig holds HTTP server and runtime settings.
type ServerConfig struct {
	Addr          string        `yaml:"address" env:"ADDRESS"`
	ReadTimeout   time.Duration `yaml:"readTimeout" env:"READ_TIMEOUT"`
	WriteTimeout  time.Duration `yaml:"writeTimeout" env:"WRITE_TIMEOUT"`
	IdleTimeout   time.Duration `yaml:"idleTimeout" env:"IDLE_TIMEOUT"`
	MaxUploadSize ByteSize      `yaml:"maxUploadSize" env:"MAX_UPLOAD_SIZE"`
	APIKey        string        `yaml:"apiKey" env:"API_KEY"`               // optional static API key header (X-API-Key)
	ShutdownGrace time.Duration `yaml:"shutdownGrace" env:"SHUTDOWN_GRACE"` // time to wait for the worker before forced stop
	LogLevel      string        `yaml:"logLevel" env:"LOG_LEVEL"`           // debug|info|warn|error
	LogFormat     string        `yaml:"logFormat" env:"LOG_FORMAT"`         // text|json|pretty
}

// TransformConfig controls the simulated transformation pipeline.
type TransformConfig struct {
	Delay          time.Duration `yaml:"delay" env:"DELAY"`                   // work duration once in progress
	QuickPickDelay time.Duration `yaml:"quickPickDelay" env:"QUICK_PICK_DELAY"` // pre-delay before a quick-pick enters progress
	DemoImageURL   string        `yaml:"demoImageUrl" env:"DEMO_IMAGE_URL"`
	QueueCapacity  int           `yaml:"queueCapacity" env:"QUEUE_CAPACITY"`
	Provider       string        `yaml:"provider" env:"PROVIDER"` // "mock"
	Mock           MockSettings  `yaml:"mock" envPrefix:"MOCK_"`
}

// MockSettings config for the mock transformer.
type MockSettings struct {
	Delay          time.Duration `yaml:"delay" env:"DELAY"`
	Fail           bool          `yaml:"fail" env:"FAIL"`
	FailureMessage string        `yaml:"failureMessage" env:"FAILURE_MESSAGE"`
}

// GalleryConfig selects the gallery backend. Both backends live only as long as the process.
type GalleryConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"` // memory|sqlite
}

// NotificationsConfig holds toast texts and the optional webhook.
type NotificationsConfig struct {
	Title              string        `yaml:"title" env:"TITLE"`
	Description        string        `yaml:"description" env:"DESCRIPTION"`
	FailureTitle       string        `yaml:"failureTitle" env:"FAILURE_TITLE"`
	CancelTitle        string        `yaml:"cancelTitle" env:"CANCEL_TITLE"`
	Duration           time.Duration `yaml:"duration" env:"DURATION"`
	CallbackURL        string        `yaml:"callbackUrl" env:"CALLBACK_URL"`
	CallbackRetries    int           `yaml:"callbackRetries" env:"CALLBACK_RETRIES"`
	CallbackBackoff    time.Duration `yaml:"callbackBackoff" env:"CALLBACK_BACKOFF"`
	SubscriberCapacity int           `yaml:"subscriberCapacity" env:"SUBSCRIBER_CAPACITY"`
}

// EffectsConfig tunes the particle emitter.
type EffectsConfig struct {
	Disabled     bool          `yaml:"disabled" env:"DISABLED"`
	Interval     time.Duration `yaml:"interval" env:"INTERVAL"`
	Lifetime     time.Duration `yaml:"lifetime" env:"LIFETIME"`
	MaxParticles int           `yaml:"maxParticles" env:"MAX_PARTICLES"`
}

// ByteSize represents a size in bytes that unmarshals from strings like "10Mi", "20MB", "512KiB", "1024".
type ByteSize uint64

// UnmarshalYAML implements yaml unmarshalling for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return b.UnmarshalText([]byte(value.Value))
	}
	return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
}

// UnmarshalText lets environment overrides use the same notation as YAML.
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

// String renders the size in IEC units.
func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// ParseByteSize parses a string like "10Mi", "20MB", "512KiB", "1024" into bytes.
func ParseByteSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return v, nil
}

// Load reads YAML config from path, expands environment variables, applies
// MORPHPORTAL_* overrides and validates it.
// If path is empty, it will attempt to read from env var MORPHPORTAL_CONFIG, then default to "config.yaml".
// A missing default file is not an error; the defaults are used instead.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		if p := os.Getenv(common.EnvConfigPath); p != "" {
			path = p
			explicit = true
		} else {
			path = "config.yaml"
		}
	}

	var cfg Config
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - reading sanitized config file path is expected
	switch {
	case err == nil:
		// Expand environment variables in file content.
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// defaults only
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: common.EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 2 * time.Minute
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.MaxUploadSize == 0 {
		cfg.Server.MaxUploadSize = ByteSize(10 * 1024 * 1024) // 10 MiB default
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 15 * time.Second
	}
	if strings.TrimSpace(cfg.Server.LogLevel) == "" {
		cfg.Server.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.Server.LogFormat) == "" {
		cfg.Server.LogFormat = "text"
	}

	// Transform defaults
	if cfg.Transform.Delay == 0 {
		cfg.Transform.Delay = 3 * time.Second
	}
	if cfg.Transform.QuickPickDelay == 0 {
		cfg.Transform.QuickPickDelay = 500 * time.Millisecond
	}
	if strings.TrimSpace(cfg.Transform.DemoImageURL) == "" {
		cfg.Transform.DemoImageURL = DefaultDemoImageURL
	}
	if cfg.Transform.QueueCapacity <= 0 {
		cfg.Transform.QueueCapacity = common.DefaultQueueCapacity
	}
	if cfg.Transform.Provider == "" {
		cfg.Transform.Provider = "mock"
	}
	if cfg.Transform.Mock.FailureMessage == "" {
		cfg.Transform.Mock.FailureMessage = "transformation rejected"
	}

	if cfg.Gallery.Backend == "" {
		cfg.Gallery.Backend = "memory"
	}

	// Notification defaults
	if cfg.Notifications.Title == "" {
		cfg.Notifications.Title = "✨ Transformation complete"
	}
	if cfg.Notifications.Description == "" {
		cfg.Notifications.Description = "You have moved into this body!"
	}
	if cfg.Notifications.FailureTitle == "" {
		cfg.Notifications.FailureTitle = "Transformation failed"
	}
	if cfg.Notifications.CancelTitle == "" {
		cfg.Notifications.CancelTitle = "Transformation cancelled"
	}
	if cfg.Notifications.Duration == 0 {
		cfg.Notifications.Duration = 5 * time.Second
	}
	if cfg.Notifications.CallbackRetries == 0 {
		cfg.Notifications.CallbackRetries = 3
	}
	if cfg.Notifications.CallbackBackoff == 0 {
		cfg.Notifications.CallbackBackoff = 2 * time.Second
	}
	if cfg.Notifications.SubscriberCapacity <= 0 {
		cfg.Notifications.SubscriberCapacity = 16
	}

	// Effects defaults
	if cfg.Effects.Interval == 0 {
		cfg.Effects.Interval = 300 * time.Millisecond
	}
	if cfg.Effects.Lifetime == 0 {
		cfg.Effects.Lifetime = 7 * time.Second
	}
	if cfg.Effects.MaxParticles <= 0 {
		cfg.Effects.MaxParticles = 64
	}
}

func validate(cfg *Config) error {
	switch strings.ToLower(cfg.Server.LogFormat) {
	case "text", "json", "pretty":
	default:
		return fmt.Errorf("server.logFormat %q is not one of text|json|pretty", cfg.Server.LogFormat)
	}
	if cfg.Transform.Delay < 0 || cfg.Transform.QuickPickDelay < 0 {
		return errors.New("transform delays must not be negative")
	}
	if !strings.EqualFold(cfg.Transform.Provider, "mock") {
		return fmt.Errorf("unsupported transform provider %q", cfg.Transform.Provider)
	}
	if err := validateHTTPURL(cfg.Transform.DemoImageURL); err != nil {
		return fmt.Errorf("transform.demoImageUrl: %w", err)
	}
	switch strings.ToLower(cfg.Gallery.Backend) {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unsupported gallery backend %q", cfg.Gallery.Backend)
	}
	if cb := strings.TrimSpace(cfg.Notifications.CallbackURL); cb != "" {
		if err := validateHTTPURL(cb); err != nil {
			return fmt.Errorf("notifications.callbackUrl: %w", err)
		}
	}
	if cfg.Notifications.Duration <= 0 {
		return errors.New("notifications.duration must be positive")
	}
	if cfg.Notifications.CallbackRetries < 0 {
		return errors.New("notifications.callbackRetries must not be negative")
	}
	if !cfg.Effects.Disabled && cfg.Effects.Interval < 0 {
		return errors.New("effects.interval must not be negative")
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.ParseRequestURI(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q not allowed", u.Scheme)
	}
	return nil
}
