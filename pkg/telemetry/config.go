// ABOUTME: Telemetry configuration with defaults, environment overrides and validation

package telemetry

import (
	"fmt"
	"os"
	"strconv"
)

// Config controls how the telemetry provider identifies itself.
type Config struct {
	// ServiceName is used as the instrumentation scope name
	ServiceName string `json:"service_name"`

	// ServiceVersion is reported as the instrumentation version
	ServiceVersion string `json:"service_version"`

	// Enabled controls whether telemetry is active
	Enabled bool `json:"enabled"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "heapkv",
		ServiceVersion: "development",
		Enabled:        true,
	}
}

// LoadFromEnv overrides fields from HEAPKV_TELEMETRY_* environment variables.
func (c *Config) LoadFromEnv() {
	if val := os.Getenv("HEAPKV_TELEMETRY_SERVICE_NAME"); val != "" {
		c.ServiceName = val
	}

	if val := os.Getenv("HEAPKV_TELEMETRY_SERVICE_VERSION"); val != "" {
		c.ServiceVersion = val
	}

	if val := os.Getenv("HEAPKV_TELEMETRY_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Enabled = enabled
		}
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name cannot be empty")
	}

	if c.ServiceVersion == "" {
		return fmt.Errorf("service_version cannot be empty")
	}

	return nil
}
