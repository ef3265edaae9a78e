package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the complete backend configuration
type Config struct {
	Server      ServerConfig     `yaml:"server"`
	Broker      BrokerConfig     `yaml:"broker"`
	Database    DatabaseConfig   `yaml:"database"`
	Shelf       ShelfConfig      `yaml:"shelf"`
	Logging     LoggingConfig    `yaml:"logging"`
	Credentials CredentialConfig `yaml:"credentials"`
}

// ServerConfig contains HTTP API server settings
type ServerConfig struct {
	Address string `yaml:"address" env:"LATTIS_API_ADDR"`
	Timeout string `yaml:"timeout"`
}

// BrokerConfig contains message broker connection settings
type BrokerConfig struct {
	SubEndpoint string `yaml:"sub_endpoint" env:"LATTIS_BROKER_SUB"`
	PubEndpoint string `yaml:"pub_endpoint" env:"LATTIS_BROKER_PUB"`
	Reconnect   string `yaml:"reconnect"`
	QueueSize   int    `yaml:"queue_size"`
	ClientID    string `yaml:"client_id"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path    string `yaml:"path" env:"LATTIS_DB_PATH"`
	Timeout string `yaml:"timeout"`
}

// ShelfConfig contains the physical shelf grid dimensions
type ShelfConfig struct {
	Floors  int `yaml:"floors"`
	Columns int `yaml:"columns"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level   string `yaml:"level" env:"LATTIS_LOG_LEVEL"`
	Console bool   `yaml:"console"`
}

// CredentialConfig contains shelf credential artifact settings
type CredentialConfig struct {
	Dir       string `yaml:"dir" env:"LATTIS_CREDENTIAL_DIR"`
	SecretKey string `yaml:"secret_key" env:"LATTIS_CREDENTIAL_SECRET"`
	Issuer    string `yaml:"issuer"`
}

// Load loads configuration from a YAML file, then applies environment
// variable overrides on top.
func Load(filepath string) (*Config, error) {
	config := NewDefault()

	if filepath != "" {
		data, err := os.ReadFile(filepath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("failed to parse environment overrides: %w", err)
	}

	config.setDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Save saves configuration to a YAML file
func Save(config *Config, filepath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// NewDefault creates a default configuration
func NewDefault() *Config {
	return &Config{
		Server: ServerConfig{
			Address: ":8080",
			Timeout: "15s",
		},
		Broker: BrokerConfig{
			SubEndpoint: "tcp://localhost:5556",
			PubEndpoint: "tcp://localhost:5557",
			Reconnect:   "1s",
			QueueSize:   256,
			ClientID:    "lattis-backend",
		},
		Database: DatabaseConfig{
			Path:    "lattis.db",
			Timeout: "5s",
		},
		Shelf: ShelfConfig{
			Floors:  3,
			Columns: 5,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: false,
		},
		Credentials: CredentialConfig{
			Dir:    "credentials",
			Issuer: "lattis",
		},
	}
}

// setDefaults ensures all required fields have default values
func (c *Config) setDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.Timeout == "" {
		c.Server.Timeout = "15s"
	}

	if c.Broker.SubEndpoint == "" {
		c.Broker.SubEndpoint = "tcp://localhost:5556"
	}
	if c.Broker.PubEndpoint == "" {
		c.Broker.PubEndpoint = "tcp://localhost:5557"
	}
	if c.Broker.Reconnect == "" {
		c.Broker.Reconnect = "1s"
	}
	if c.Broker.QueueSize == 0 {
		c.Broker.QueueSize = 256
	}
	if c.Broker.ClientID == "" {
		c.Broker.ClientID = "lattis-backend"
	}

	if c.Database.Path == "" {
		c.Database.Path = "lattis.db"
	}
	if c.Database.Timeout == "" {
		c.Database.Timeout = "5s"
	}

	if c.Shelf.Floors == 0 {
		c.Shelf.Floors = 3
	}
	if c.Shelf.Columns == 0 {
		c.Shelf.Columns = 5
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Credentials.Dir == "" {
		c.Credentials.Dir = "credentials"
	}
	if c.Credentials.Issuer == "" {
		c.Credentials.Issuer = "lattis"
	}
}

// validate checks if the configuration values are valid
func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.Server.Timeout); err != nil {
		return fmt.Errorf("invalid server timeout format: %w", err)
	}
	if _, err := time.ParseDuration(c.Broker.Reconnect); err != nil {
		return fmt.Errorf("invalid broker reconnect format: %w", err)
	}
	if _, err := time.ParseDuration(c.Database.Timeout); err != nil {
		return fmt.Errorf("invalid database timeout format: %w", err)
	}

	if c.Shelf.Floors <= 0 || c.Shelf.Columns <= 0 {
		return fmt.Errorf("shelf grid must have positive floors and columns")
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal", "panic"}
	levelValid := false
	for _, level := range validLevels {
		if c.Logging.Level == level {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("invalid logging level: %s (must be one of: %v)", c.Logging.Level, validLevels)
	}

	return nil
}

// GetServerTimeout returns the server timeout as a time.Duration
func (c *Config) GetServerTimeout() time.Duration {
	duration, _ := time.ParseDuration(c.Server.Timeout)
	return duration
}

// GetReconnectInterval returns the broker reconnect interval as a time.Duration
func (c *Config) GetReconnectInterval() time.Duration {
	duration, _ := time.ParseDuration(c.Broker.Reconnect)
	return duration
}
