package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "ESCROW_MIRROR_"

type NodeConfig struct {
	URL       string        `yaml:"url"`
	AuthToken string        `yaml:"authToken"`
	Timeout   time.Duration `yaml:"timeout"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type AuthConfig struct {
	Enabled    bool          `yaml:"enabled"`
	HMACSecret string        `yaml:"hmacSecret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	ScopeClaim string        `yaml:"scopeClaim"`
	ClockSkew  time.Duration `yaml:"clockSkew"`
}

type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requestsPerMinute"`
	Burst             int     `yaml:"burst"`
}

type ObservabilityConfig struct {
	ServiceName   string `yaml:"serviceName"`
	Metrics       bool   `yaml:"metrics"`
	Tracing       bool   `yaml:"tracing"`
	LogRequests   bool   `yaml:"logRequests"`
	MetricsPrefix string `yaml:"metricsPrefix"`
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	OTLPHeaders   string `yaml:"otlpHeaders"`
}

type LogConfig struct {
	Env  string `yaml:"env"`
	File string `yaml:"file"`
}

// GasBuffers are decimal amounts in major units added to the value of built
// transactions.
type GasBuffers struct {
	Fund    string `yaml:"fund"`
	Default string `yaml:"default"`
}

type Config struct {
	ListenAddress string              `yaml:"listen"`
	Network       string              `yaml:"network"`
	ReadTimeout   time.Duration       `yaml:"readTimeout"`
	WriteTimeout  time.Duration       `yaml:"writeTimeout"`
	IdleTimeout   time.Duration       `yaml:"idleTimeout"`
	PollInterval  time.Duration       `yaml:"pollInterval"`
	Node          NodeConfig          `yaml:"node"`
	Database      DatabaseConfig      `yaml:"database"`
	Auth          AuthConfig          `yaml:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rateLimit"`
	Observability ObservabilityConfig `yaml:"observability"`
	Log           LogConfig           `yaml:"log"`
	GasBuffers    GasBuffers          `yaml:"gasBuffers"`
	// PreviewAudit persists every served fee preview.
	PreviewAudit  bool                `yaml:"previewAudit"`
}

func defaults() Config {
	return Config{
		ListenAddress: ":8090",
		Network:       "nervix-local",
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   120 * time.Second,
		PollInterval:  5 * time.Second,
		Node: NodeConfig{
			URL:     "http://127.0.0.1:8545",
			Timeout: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "escrow-mirror.db",
		},
		Auth: AuthConfig{
			Enabled:    true,
			ScopeClaim: "scope",
			ClockSkew:  2 * time.Minute,
		},
		RateLimit: RateLimitConfig{RequestsPerMinute: 600, Burst: 50},
		Observability: ObservabilityConfig{
			ServiceName:   "escrow-mirror",
			Metrics:       true,
			LogRequests:   true,
			MetricsPrefix: "escrow_mirror",
		},
		Log:        LogConfig{Env: "dev"},
		GasBuffers: GasBuffers{Fund: "0.015", Default: "0.05"},
	}
}

// Load reads the YAML file at path (optional) and then applies ESCROW_MIRROR_*
// environment overrides.
func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(envPrefix + name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", envPrefix, name, err)
		}
		*dst = parsed
		return nil
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(envPrefix + name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", envPrefix, name, err)
		}
		*dst = parsed
		return nil
	}

	str("LISTEN", &cfg.ListenAddress)
	str("NETWORK", &cfg.Network)
	str("NODE_URL", &cfg.Node.URL)
	str("NODE_TOKEN", &cfg.Node.AuthToken)
	str("DB_DRIVER", &cfg.Database.Driver)
	str("DB_DSN", &cfg.Database.DSN)
	str("JWT_SECRET", &cfg.Auth.HMACSecret)
	str("JWT_ISSUER", &cfg.Auth.Issuer)
	str("JWT_AUDIENCE", &cfg.Auth.Audience)
	str("LOG_ENV", &cfg.Log.Env)
	str("LOG_FILE", &cfg.Log.File)
	str("OTLP_ENDPOINT", &cfg.Observability.OTLPEndpoint)
	str("OTLP_HEADERS", &cfg.Observability.OTLPHeaders)
	str("GAS_BUFFER_FUND", &cfg.GasBuffers.Fund)
	str("GAS_BUFFER_DEFAULT", &cfg.GasBuffers.Default)
	for name, dst := range map[string]*time.Duration{
		"NODE_TIMEOUT":  &cfg.Node.Timeout,
		"POLL_INTERVAL": &cfg.PollInterval,
	} {
		if err := dur(name, dst); err != nil {
			return err
		}
	}
	for name, dst := range map[string]*bool{
		"AUTH_ENABLED": &cfg.Auth.Enabled,
		"TRACING":      &cfg.Observability.Tracing,
	} {
		if err := boolean(name, dst); err != nil {
			return err
		}
	}
	return nil
}

var ErrAuthSecretMissing = errors.New("auth.hmacSecret is required when auth is enabled")

func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	parsed, err := url.Parse(cfg.Node.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("node.url %q must be an absolute URL", cfg.Node.URL)
	}
	if cfg.Node.Timeout <= 0 {
		return fmt.Errorf("node.timeout must be positive")
	}
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("pollInterval must be positive")
	}
	switch strings.ToLower(cfg.Database.Driver) {
	case "sqlite", "postgres":
		cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)
	default:
		return fmt.Errorf("unsupported database.driver %q", cfg.Database.Driver)
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return ErrAuthSecretMissing
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rateLimit values must not be negative")
	}
	return nil
}
