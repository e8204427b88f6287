package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the panel configuration
type Config struct {
	// Appliance endpoints
	ChannelURL   string `mapstructure:"channel_url"`   // push-event websocket endpoint
	CommandURL   string `mapstructure:"command_url"`   // REST command/status endpoint
	InventoryURL string `mapstructure:"inventory_url"` // REST inventory/catalog provider

	// Authentication service
	AuthURL      string `mapstructure:"auth_url"`
	AuthUsername string `mapstructure:"auth_username"`
	AuthPassword string `mapstructure:"auth_password"`

	// Local API
	ListenAddr string `mapstructure:"listen_addr"`
	APIToken   string `mapstructure:"api_token"` // guards command endpoints when set

	// Record archive
	DatabasePath string `mapstructure:"database_path"`

	// Live view tuning
	RecordLimit     int `mapstructure:"record_limit"`      // bound on the in-memory record list
	DedupWindowMS   int `mapstructure:"dedup_window_ms"`   // per-tag duplicate-read window
	SensorDwellMS   int `mapstructure:"sensor_dwell_ms"`   // presence decay on the dashboard view
	TagClearMS      int `mapstructure:"tag_clear_ms"`      // ephemeral tag-detected decay
	ActivityClearMS int `mapstructure:"activity_clear_ms"` // channel-level sensor pulse decay

	// Channel reconnection
	ReconnectInitialMS int `mapstructure:"reconnect_initial_ms"`
	ReconnectMaxMS     int `mapstructure:"reconnect_max_ms"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		ChannelURL:         "ws://localhost:5000/ws",
		CommandURL:         "http://localhost:5000/api",
		InventoryURL:       "http://localhost:5174/api",
		AuthURL:            "",
		AuthUsername:       "Admin",
		AuthPassword:       "",
		ListenAddr:         ":8090",
		APIToken:           "",
		DatabasePath:       "./panel.db",
		RecordLimit:        500,
		DedupWindowMS:      5000,
		SensorDwellMS:      3000,
		TagClearMS:         3000,
		ActivityClearMS:    2000,
		ReconnectInitialMS: 1000,
		ReconnectMaxMS:     5000,
		LogLevel:           "info",
		LogFile:            "",
	}
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()

	setDefaults(v, cfg)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/rfid-door-panel")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".rfid-door-panel"))
		}
	}

	v.SetEnvPrefix("PANEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("channel_url", cfg.ChannelURL)
	v.SetDefault("command_url", cfg.CommandURL)
	v.SetDefault("inventory_url", cfg.InventoryURL)
	v.SetDefault("auth_url", cfg.AuthURL)
	v.SetDefault("auth_username", cfg.AuthUsername)
	v.SetDefault("auth_password", cfg.AuthPassword)
	v.SetDefault("listen_addr", cfg.ListenAddr)
	v.SetDefault("api_token", cfg.APIToken)
	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("record_limit", cfg.RecordLimit)
	v.SetDefault("dedup_window_ms", cfg.DedupWindowMS)
	v.SetDefault("sensor_dwell_ms", cfg.SensorDwellMS)
	v.SetDefault("tag_clear_ms", cfg.TagClearMS)
	v.SetDefault("activity_clear_ms", cfg.ActivityClearMS)
	v.SetDefault("reconnect_initial_ms", cfg.ReconnectInitialMS)
	v.SetDefault("reconnect_max_ms", cfg.ReconnectMaxMS)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_file", cfg.LogFile)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ChannelURL == "" {
		return fmt.Errorf("channel_url is required")
	}

	if c.CommandURL == "" {
		return fmt.Errorf("command_url is required")
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}

	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}

	if c.RecordLimit <= 0 {
		return fmt.Errorf("record_limit must be positive")
	}

	if c.DedupWindowMS < 0 {
		return fmt.Errorf("dedup_window_ms must not be negative")
	}

	if c.SensorDwellMS <= 0 || c.TagClearMS <= 0 || c.ActivityClearMS <= 0 {
		return fmt.Errorf("sensor_dwell_ms, tag_clear_ms and activity_clear_ms must be positive")
	}

	if c.ReconnectInitialMS <= 0 || c.ReconnectMaxMS < c.ReconnectInitialMS {
		return fmt.Errorf("reconnect_initial_ms must be positive and no greater than reconnect_max_ms")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}

	return nil
}
