package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	Log      LogConfig      `yaml:"log"`
	Presence PresenceConfig `yaml:"presence"`
	APNS     APNSConfig     `yaml:"apns"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// PresenceConfig holds broadcast lifecycle configuration
type PresenceConfig struct {
	TTLMinutes          int     `yaml:"ttl_minutes"`           // broadcast lifetime, default 10
	SweepSpec           string  `yaml:"sweep_spec"`            // cron spec for the expiry sweep
	SnapshotRefreshSecs int     `yaml:"snapshot_refresh_secs"` // live view snapshot refresh interval
	DefaultRadiusMiles  float64 `yaml:"default_radius_miles"`  // nearby default
}

// APNSConfig holds Apple push configuration. Push is disabled when KeyPath
// is empty.
type APNSConfig struct {
	KeyPath string `yaml:"key_path"`
	KeyID   string `yaml:"key_id"`
	TeamID  string `yaml:"team_id"`
	Topic   string `yaml:"topic"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Presence.TTLMinutes <= 0 {
		cfg.Presence.TTLMinutes = 10
	}
	if cfg.Presence.SweepSpec == "" {
		cfg.Presence.SweepSpec = "@every 1m"
	}
	if cfg.Presence.SnapshotRefreshSecs <= 0 {
		cfg.Presence.SnapshotRefreshSecs = 60
	}
	if cfg.Presence.DefaultRadiusMiles <= 0 {
		cfg.Presence.DefaultRadiusMiles = 5
	}

	return &cfg, nil
}

// TTL returns the broadcast lifetime as a duration.
func (c *PresenceConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
