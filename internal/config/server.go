package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds the relay server's runtime configuration, loaded
// from an optional YAML file and then overridden by environment
// variables (environment wins).
type ServerConfig struct {
	Host                     string            `yaml:"host"`
	Port                     int               `yaml:"port"`
	StatsRefreshInterval     time.Duration     `yaml:"statsRefreshInterval"`
	AccessControlAllowOrigin string            `yaml:"accessControlAllowOrigin"`
	IPSource                 string            `yaml:"ipSource"`
	AppMode                  string            `yaml:"appMode"`
	AuthTokens               map[string]string `yaml:"authTokens"`
	LogLevel                 string            `yaml:"logLevel"`

	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	PingInterval      time.Duration `yaml:"pingInterval"`
	AuthTimeout       time.Duration `yaml:"authTimeout"`
	QueueCapacity     int           `yaml:"queueCapacity"`
}

// DefaultServerConfig returns the baseline settings matching §5/§6 of
// the specification before any file or environment override is
// applied.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:                     "0.0.0.0",
		Port:                     8080,
		StatsRefreshInterval:     10 * time.Second,
		AccessControlAllowOrigin: "*",
		IPSource:                 "direct",
		AppMode:                  "development",
		AuthTokens:               map[string]string{},
		LogLevel:                 "info",
		HeartbeatInterval:        15 * time.Second,
		PingInterval:             30 * time.Second,
		AuthTimeout:              10 * time.Second,
		QueueCapacity:            2048,
	}
}

// LoadServerConfig reads configPath (if non-empty) as a YAML overlay on
// top of the defaults, then applies environment variable overrides.
func LoadServerConfig(configPath string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	if configPath != "" {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, err
		}
	}

	cfg.Host = GetEnv("HOST", cfg.Host)
	cfg.Port = GetEnvInt("PORT", cfg.Port)
	cfg.StatsRefreshInterval = GetEnvDuration("STATS_REFRESH_INTERVAL", cfg.StatsRefreshInterval)
	cfg.AccessControlAllowOrigin = GetEnv("ACCESS_CONTROL_ALLOW_ORIGIN", cfg.AccessControlAllowOrigin)
	cfg.IPSource = GetEnv("IP_SOURCE", cfg.IPSource)
	cfg.AppMode = GetEnv("APP_MODE", cfg.AppMode)
	cfg.LogLevel = GetEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.HeartbeatInterval = GetEnvDuration("HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	cfg.PingInterval = GetEnvDuration("PING_INTERVAL", cfg.PingInterval)
	cfg.AuthTimeout = GetEnvDuration("AUTH_TIMEOUT", cfg.AuthTimeout)
	cfg.QueueCapacity = GetEnvInt("QUEUE_CAPACITY", cfg.QueueCapacity)

	if raw := os.Getenv("AUTH_TOKENS"); raw != "" {
		for token, agentID := range ParseTokenMap(raw) {
			cfg.AuthTokens[token] = agentID
		}
	}

	return cfg, nil
}

func (c ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
