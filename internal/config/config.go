// Package config loads the YAML configuration shared by the node and
// client binaries, following the shape of the teacher's
// pkg/config/config.go.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete node or client configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Security      SecurityConfig      `yaml:"security"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds listen/dial and framing settings.
type ServerConfig struct {
	ListenAddr       string        `yaml:"listen_addr"`        // node: address to accept connections on
	DialAddr         string        `yaml:"dial_addr"`          // client: node address to connect to
	MaxBodyLength    uint32        `yaml:"max_body_length"`    // 4.A receive buffer growth cap
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// SecurityConfig holds authentication settings.
type SecurityConfig struct {
	CredentialsFile string `yaml:"credentials_file"` // node: full name->key map, hot-reloaded (4.E)
	KeyFile         string `yaml:"key_file"`          // client: its own single name:key line, same grammar
	ClientName      string `yaml:"client_name"`       // client: name presented at handshake
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	OutputFile string `yaml:"output_file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// ObservabilityConfig holds the metrics endpoint settings.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr"` // empty disables the /metrics endpoint
}

// Load reads and parses a YAML config file, applying defaults for any
// zero-valued field.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.setDefaults()
	return &c, nil
}

func (c *Config) setDefaults() {
	if c.Server.MaxBodyLength == 0 {
		c.Server.MaxBodyLength = 16 * 1024 * 1024
	}
	if c.Server.HandshakeTimeout == 0 {
		c.Server.HandshakeTimeout = 10 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 10
	}
}
