package config

// RPC configures the JSON-RPC listener.
type RPC struct {
	AuthToken          string `toml:"AuthToken"`
	ReadTimeoutSeconds int    `toml:"ReadTimeoutSeconds"`
	MaxBodyBytes       int64  `toml:"MaxBodyBytes"`
	// RateLimitPerSecond caps submissions per client address; zero disables.
	RateLimitPerSecond float64 `toml:"RateLimitPerSecond"`
	RateLimitBurst     int     `toml:"RateLimitBurst"`
	// AllowedOrigins lists browser origins granted CORS access; "*" allows any.
	AllowedOrigins []string `toml:"AllowedOrigins"`
}

// Log configures structured logging and optional file rotation.
type Log struct {
	Env        string `toml:"Env"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Telemetry configures OTLP export. An empty endpoint disables export.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Headers  string `toml:"Headers"` // key=value,key2=value2
	Insecure bool   `toml:"Insecure"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}
