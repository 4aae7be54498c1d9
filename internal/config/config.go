// Package config defines the orchestrator configuration and its loading via
// viper. Values resolve in the usual order: explicit config file, environment
// variables with the ORC_ prefix, then built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the full orchestrator configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Agents  AgentsConfig  `mapstructure:"agents"`
	Paths   PathsConfig   `mapstructure:"paths"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// AgentConfig describes how to run one agent role.
type AgentConfig struct {
	Command string        `mapstructure:"command"`
	Args    []string      `mapstructure:"args"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AgentsConfig holds the per-role agent commands.
type AgentsConfig struct {
	// Name is the label recorded in session transcripts.
	Name        string      `mapstructure:"name"`
	Generator   AgentConfig `mapstructure:"generator"`
	Implementer AgentConfig `mapstructure:"implementer"`
	Reviewer    AgentConfig `mapstructure:"reviewer"`
}

// PathsConfig locates on-disk state.
type PathsConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	// Dir receives orchestrator.log; empty means stderr.
	Dir string `mapstructure:"dir"`
}

// SessionsDir is where session documents live.
func (p PathsConfig) SessionsDir() string { return filepath.Join(p.DataDir, "sessions") }

// QueueDir is where the queue document lives.
func (p PathsConfig) QueueDir() string { return filepath.Join(p.DataDir, "queue") }

// SetDefaults registers every default on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:7777")

	v.SetDefault("agents.name", "claude")
	v.SetDefault("agents.generator.command", "claude")
	v.SetDefault("agents.generator.args", []string{"-p"})
	v.SetDefault("agents.generator.timeout", 10*time.Minute)
	v.SetDefault("agents.implementer.command", "claude")
	v.SetDefault("agents.implementer.args", []string{"-p", "--permission-mode", "acceptEdits"})
	v.SetDefault("agents.implementer.timeout", 10*time.Minute)
	v.SetDefault("agents.reviewer.command", "claude")
	v.SetDefault("agents.reviewer.args", []string{"-p"})
	v.SetDefault("agents.reviewer.timeout", 5*time.Minute)

	v.SetDefault("paths.data_dir", defaultDataDir())
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.dir", "")
}

// Load unmarshals the viper instance into a Config.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse configuration: %w", err)
	}
	if cfg.Paths.DataDir == "" {
		return Config{}, fmt.Errorf("paths.data_dir must not be empty")
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading any sources.
func Default() Config {
	cfg, _ := Load(viper.New())
	return cfg
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".orchestrator"
	}
	return filepath.Join(home, ".orchestrator")
}
