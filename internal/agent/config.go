package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config represents the agent's runtime configuration.
type Config struct {
	AgentID    string `yaml:"agent_id"`
	Type       string `yaml:"type"` // "robot" or "sim"
	MQTTBroker string `yaml:"mqtt_broker"`

	// TreePath is the tree document loaded at startup and on reload_tree.
	TreePath            string `yaml:"tree_path"`
	TickHz              int    `yaml:"tick_hz"`
	RestartWhenComplete bool   `yaml:"restart_when_complete"`
	HeartbeatSec        int    `yaml:"heartbeat_sec"`
	// PublishUpdates also replicates per-tick post_on_update events.
	PublishUpdates bool   `yaml:"publish_updates"`
	MetricsAddr    string `yaml:"metrics_addr"`
	LogLevel       string `yaml:"log_level"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("config file %s not found", path)
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.AgentID == "" {
		c.AgentID = "unit-" + uuid.NewString()[:8]
	}
	if c.Type == "" {
		c.Type = "robot"
	}
	if c.TickHz <= 0 {
		c.TickHz = 10
	}
	if c.HeartbeatSec <= 0 {
		c.HeartbeatSec = 10
	}
}

func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickHz)
}

func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSec) * time.Second
}

// SlogLevel parses LogLevel, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
