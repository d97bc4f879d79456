package config

import (
	"fmt"
	"strings"
)

// ValidateConfig rejects configurations the daemon cannot start with.
func ValidateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config: nil")
	}
	if strings.TrimSpace(c.GenesisFile) == "" && c.Genesis == nil {
		return fmt.Errorf("genesis: set GenesisFile or a [Genesis] table")
	}
	if c.RPC.RateLimitPerSecond < 0 {
		return fmt.Errorf("rpc: RateLimitPerSecond must be >= 0")
	}
	if c.Telemetry.Endpoint == "" && (c.Telemetry.Metrics || c.Telemetry.Traces) {
		return fmt.Errorf("telemetry: Endpoint required when Metrics or Traces is enabled")
	}
	return nil
}
