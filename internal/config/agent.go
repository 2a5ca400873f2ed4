package config

import (
	"os"
	"os/user"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SSHAuthMethod selects how the agent authenticates itself to the
// local sshd when it dials out to fulfill a tunnel.
type SSHAuthMethod string

const (
	SSHAuthPassword SSHAuthMethod = "password"
	SSHAuthKey      SSHAuthMethod = "key"
)

// AgentConfig holds the agent's runtime configuration, loaded from an
// optional YAML file (the same format the teacher's "start" command
// accepts) and then overridden by environment variables.
type AgentConfig struct {
	ServerHost    string        `yaml:"serverHost"`
	ServerPort    int           `yaml:"serverPort"`
	PATToken      string        `yaml:"patToken"`
	PingInterval  time.Duration `yaml:"pingInterval"`
	SSHHost       string        `yaml:"sshHost"`
	SSHPort       int           `yaml:"sshPort"`
	SSHAuthMethod SSHAuthMethod `yaml:"sshAuthMethod"`
	LogLevel      string        `yaml:"logLevel"`
}

func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		ServerHost:    "127.0.0.1",
		ServerPort:    8080,
		PingInterval:  30 * time.Second,
		SSHHost:       "127.0.0.1",
		SSHPort:       22,
		SSHAuthMethod: SSHAuthPassword,
		LogLevel:      "info",
	}
}

func LoadAgentConfig(configPath string) (AgentConfig, error) {
	cfg := DefaultAgentConfig()

	if configPath != "" {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, err
		}
	}

	cfg.ServerHost = GetEnv("SERVER_HOST", cfg.ServerHost)
	cfg.ServerPort = GetEnvInt("SERVER_PORT", cfg.ServerPort)
	cfg.PATToken = GetEnv("PAT_TOKEN", cfg.PATToken)
	cfg.PingInterval = GetEnvDuration("PING_INTERVAL", cfg.PingInterval)
	cfg.SSHHost = GetEnv("SSH_HOST", cfg.SSHHost)
	cfg.SSHPort = GetEnvInt("SSH_PORT", cfg.SSHPort)
	cfg.LogLevel = GetEnv("LOG_LEVEL", cfg.LogLevel)
	if v := GetEnv("SSH_AUTH_METHOD", string(cfg.SSHAuthMethod)); v != "" {
		cfg.SSHAuthMethod = SSHAuthMethod(v)
	}

	return cfg, nil
}

// SaveAgentConfig writes cfg as YAML to path, creating its parent
// directory if needed. Used by the agent's "login" command to persist
// a PAT token without requiring the caller to hand-edit YAML.
func SaveAgentConfig(path string, cfg AgentConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

// DefaultConfigPath mirrors the teacher's XDG-then-home-dir fallback,
// renamed for this project.
func DefaultConfigPath() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "tunnelforge", "agent.yaml"), nil
	}
	usr, err := user.Current()
	if err != nil {
		return "", err
	}
	return filepath.Join(usr.HomeDir, ".config", "tunnelforge", "agent.yaml"), nil
}
