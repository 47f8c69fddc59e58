// Package config provides configuration parsing and validation for
// icmpforge. A configuration file is optional; command-line flags override
// whatever it sets.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete responder configuration.
type Config struct {
	Responder ResponderConfig `yaml:"responder"`
	Log       LogConfig       `yaml:"log"`
	Health    HealthConfig    `yaml:"health"`
}

// ResponderConfig controls the raw sockets and the capture loop.
type ResponderConfig struct {
	BindAddress    string        `yaml:"bind_address"`    // IPv4 address the receive socket binds to
	ReceiveTimeout time.Duration `yaml:"receive_timeout"` // how often the loop checks for shutdown
	ReceiveBuffer  int           `yaml:"receive_buffer"`  // SO_RCVBUF hint
	ReadBuffer     int           `yaml:"read_buffer"`     // per-datagram read buffer
}

// LogConfig controls logging.
type LogConfig struct {
	Level     string `yaml:"level"`      // debug, info, warn, error
	Format    string `yaml:"format"`     // text, json
	ErrorRate int    `yaml:"error_rate"` // per-datagram error lines per second, 0 = unlimited
}

// HealthConfig controls the optional HTTP health and metrics server.
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Responder: ResponderConfig{
			BindAddress:    "127.0.0.1",
			ReceiveTimeout: time.Second,
			ReceiveBuffer:  2048,
			ReadBuffer:     65535,
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "text",
			ErrorRate: 10,
		},
		Health: HealthConfig{
			Enabled:      false,
			Address:      "127.0.0.1:9115",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes on top of the defaults.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Save writes the configuration as YAML to path, preceded by header,
// creating the parent directory if needed.
func (c *Config) Save(path, header string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(header), data...), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their
// values. ${VAR:-default} falls back to default; unknown variables are
// left as written.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			if val, ok := os.LookupEnv(name[:idx]); ok {
				return val
			}
			return name[idx+2:]
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if _, err := ParseBindAddress(c.Responder.BindAddress); err != nil {
		errs = append(errs, fmt.Sprintf("responder.bind_address: %v", err))
	}
	if c.Responder.ReceiveTimeout <= 0 {
		errs = append(errs, "responder.receive_timeout must be positive")
	}
	if c.Responder.ReceiveBuffer < 256 {
		errs = append(errs, "responder.receive_buffer must be at least 256")
	}
	if c.Responder.ReadBuffer < 48 || c.Responder.ReadBuffer > 65535 {
		errs = append(errs, "responder.read_buffer must be between 48 and 65535")
	}

	if !IsValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !IsValidLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be text or json)", c.Log.Format))
	}
	if c.Log.ErrorRate < 0 {
		errs = append(errs, "log.error_rate must not be negative")
	}

	if c.Health.Enabled && c.Health.Address == "" {
		errs = append(errs, "health.address is required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// ParseBindAddress parses s as an IPv4 address.
func ParseBindAddress(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid IPv4 address %q", s)
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("%s is not an IPv4 address", addr)
	}
	return addr, nil
}

// IsValidLogLevel reports whether level is one of debug, info, warn, error.
func IsValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

// IsValidLogFormat reports whether format is text or json.
func IsValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

// String returns the configuration as YAML.
func (c *Config) String() string {
	data, _ := c.Marshal()
	return string(data)
}
