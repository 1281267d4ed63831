// Package config provides configuration management for the go-mediola application.
package config

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Poll interval bounds in seconds.
const (
	MinPollIntervalSeconds = 5
	MaxPollIntervalSeconds = 300
)

// Config holds all application configuration.
type Config struct {
	// General settings
	LogLevel string `mapstructure:"log_level"`

	// Mediola gateway settings
	Gateway struct {
		Host                  string   `mapstructure:"host"`
		Username              string   `mapstructure:"username"`
		Password              string   `mapstructure:"password"`
		PollIntervalSeconds   int      `mapstructure:"poll_interval_seconds"`
		RequestTimeoutSeconds int      `mapstructure:"request_timeout_seconds"`
		DeviceTypes           []string `mapstructure:"device_types"`
	} `mapstructure:"gateway"`

	// HTTP API settings
	API struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`
	} `mapstructure:"api"`

	// MQTT settings
	MQTT struct {
		Enabled  bool   `mapstructure:"enabled"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		Topic    string `mapstructure:"topic"`
		Retain   bool   `mapstructure:"retain"`

		// Home Assistant Auto-Discovery settings
		HomeAssistantAutoDiscovery struct {
			Enabled         bool   `mapstructure:"enabled"`
			DiscoveryPrefix string `mapstructure:"discovery_prefix"`
		} `mapstructure:"homeassistant_autodiscovery"`
	} `mapstructure:"mqtt"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{
		LogLevel: "info",
	}

	// Default gateway settings
	cfg.Gateway.PollIntervalSeconds = 15
	cfg.Gateway.RequestTimeoutSeconds = 10
	cfg.Gateway.DeviceTypes = []string{"WR", "ER"}

	// Default API settings
	cfg.API.Enabled = true
	cfg.API.Host = "0.0.0.0"
	cfg.API.Port = 8080

	// Default MQTT settings
	cfg.MQTT.Enabled = true
	cfg.MQTT.Host = "localhost"
	cfg.MQTT.Port = 1883
	cfg.MQTT.Topic = "home/shutters"
	cfg.MQTT.Retain = true

	// Default Home Assistant Auto-Discovery settings
	cfg.MQTT.HomeAssistantAutoDiscovery.Enabled = false
	cfg.MQTT.HomeAssistantAutoDiscovery.DiscoveryPrefix = "homeassistant"

	return cfg
}

// Load reads the configuration from a file and environment variables.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Set up Viper
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Override with specific config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		// Config file not found, use defaults
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			fmt.Println("No configuration file found, using defaults")
		} else {
			// Other errors (like invalid YAML) should be returned
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	// Bind environment variables
	v.SetEnvPrefix("MEDIOLA")
	v.AutomaticEnv()

	// Unmarshal config
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for values the gateway cannot work with.
func (c *Config) Validate() error {
	if c.Gateway.Host == "" {
		return errors.New("gateway host must be configured")
	}

	if c.Gateway.PollIntervalSeconds < MinPollIntervalSeconds || c.Gateway.PollIntervalSeconds > MaxPollIntervalSeconds {
		return fmt.Errorf("poll interval %ds out of range [%d,%d]",
			c.Gateway.PollIntervalSeconds, MinPollIntervalSeconds, MaxPollIntervalSeconds)
	}

	// A hung request must not outlive the poll cycle that issued it.
	if c.Gateway.RequestTimeoutSeconds <= 0 || c.Gateway.RequestTimeoutSeconds >= c.Gateway.PollIntervalSeconds {
		return fmt.Errorf("request timeout %ds must be positive and shorter than the poll interval %ds",
			c.Gateway.RequestTimeoutSeconds, c.Gateway.PollIntervalSeconds)
	}

	if len(c.Gateway.DeviceTypes) == 0 {
		return errors.New("at least one gateway device type must be configured")
	}

	return nil
}

// Print displays the current configuration.
func (c *Config) Print() {
	logger := log.With().Str("component", "config").Logger()
	logger.Info().Msg("go-mediola Configuration:")
	logger.Info().Msg("-----------------------------")
	logger.Info().Str("log_level", c.LogLevel).Msg("Log Level")

	logger.Info().
		Str("host", c.Gateway.Host).
		Str("username", c.Gateway.Username).
		Int("poll_interval_seconds", c.Gateway.PollIntervalSeconds).
		Int("request_timeout_seconds", c.Gateway.RequestTimeoutSeconds).
		Strs("device_types", c.Gateway.DeviceTypes).
		Msg("Gateway")

	logger.Info().Bool("enabled", c.API.Enabled).Msg("API Enabled")
	if c.API.Enabled {
		logger.Info().
			Str("host", c.API.Host).
			Int("port", c.API.Port).
			Msg("API Server")
	}

	logger.Info().Bool("enabled", c.MQTT.Enabled).Msg("MQTT Enabled")
	if c.MQTT.Enabled {
		logger.Info().
			Str("host", c.MQTT.Host).
			Int("port", c.MQTT.Port).
			Str("topic", c.MQTT.Topic).
			Bool("retain", c.MQTT.Retain).
			Bool("homeassistant_autodiscovery_enabled", c.MQTT.HomeAssistantAutoDiscovery.Enabled).
			Msg("MQTT Configuration")
	}

	logger.Info().Msg("-----------------------------")
}
