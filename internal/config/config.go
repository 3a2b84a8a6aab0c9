// Package config loads the craftvisor TOML configuration through viper and
// reads the server's own property files.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/craftvisor/internal/alert"
	"github.com/loykin/craftvisor/internal/console"
	"github.com/loykin/craftvisor/internal/env"
	"github.com/loykin/craftvisor/internal/logger"
	"github.com/loykin/craftvisor/internal/state"
	apitls "github.com/loykin/craftvisor/internal/tls"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. CRAFTVISOR_SERVER_JAR.
const EnvPrefix = "CRAFTVISOR"

// Config is the top-level TOML structure.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Monitor   MonitorConfig    `mapstructure:"monitor"`
	Alerts    alert.Thresholds `mapstructure:"alerts"`
	Console   ConsoleConfig    `mapstructure:"console"`
	Log       logger.Config    `mapstructure:"log"`
	API       APIConfig        `mapstructure:"api"`
	History   HistoryConfig    `mapstructure:"history"`
	Schedules []ScheduleConfig `mapstructure:"schedules"`
}

type ServerConfig struct {
	Name           string        `mapstructure:"name"`
	JavaPath       string        `mapstructure:"java_path"`
	Jar            string        `mapstructure:"jar"`
	WorkDir        string        `mapstructure:"work_dir"`
	Args           []string      `mapstructure:"args"`
	Env            []string      `mapstructure:"env"`
	EnvFiles       []string      `mapstructure:"env_files"`
	UseOSEnv       bool          `mapstructure:"use_os_env"`
	StopTimeout    time.Duration `mapstructure:"stop_timeout"`
	StopCommand    string        `mapstructure:"stop_command"`
	PropertiesFile string        `mapstructure:"properties_file"`
	EULAFile       string        `mapstructure:"eula_file"`
	LockFile       string        `mapstructure:"lock_file"`
}

type MonitorConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	EventInterval   time.Duration `mapstructure:"event_interval"`
	HistorySize     int           `mapstructure:"history_size"`
	PersistInterval time.Duration `mapstructure:"persist_interval"`
	MetricsDir      string        `mapstructure:"metrics_dir"`
}

type ConsoleConfig struct {
	Backlog  int                     `mapstructure:"backlog"`
	LogFile  string                  `mapstructure:"log_file"`
	Patterns []console.PatternConfig `mapstructure:"patterns"`
}

type APIConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Listen   string        `mapstructure:"listen"`
	BasePath string        `mapstructure:"base_path"`
	TLS      apitls.Config `mapstructure:"tls"`
}

type HistoryConfig struct {
	// Sinks are DSNs understood by history/factory.
	Sinks []string `mapstructure:"sinks"`
}

// ScheduleConfig is one [[schedules]] entry.
type ScheduleConfig struct {
	Name    string `mapstructure:"name"`
	Cron    string `mapstructure:"cron"`
	Action  string `mapstructure:"action"`
	Command string `mapstructure:"command"`
}

func setDefaults(v *viper.Viper) {
	th := alert.DefaultThresholds()
	v.SetDefault("server.name", "minecraft")
	v.SetDefault("server.java_path", "java")
	v.SetDefault("server.jar", "server.jar")
	v.SetDefault("server.stop_timeout", state.DefaultStopTimeout)
	v.SetDefault("server.stop_command", "stop")
	v.SetDefault("monitor.interval", time.Second)
	v.SetDefault("monitor.history_size", 3600)
	v.SetDefault("monitor.persist_interval", 300*time.Second)
	v.SetDefault("alerts.cpu_percent", th.CPUPercent)
	v.SetDefault("alerts.memory_percent", th.MemoryPercent)
	v.SetDefault("alerts.player_count", th.PlayerCount)
	v.SetDefault("alerts.cooldown", th.Cooldown)
	v.SetDefault("console.backlog", console.DefaultBacklog)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "color")
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", "127.0.0.1:8765")
	v.SetDefault("api.base_path", "/api")
}

// Load reads path (TOML) on top of the defaults. An empty path yields the
// defaults plus environment overrides. Relative server paths are resolved
// against the config file's directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	base := ""
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		base = filepath.Dir(path)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.resolvePaths(base)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) || base == "" {
			return p
		}
		return filepath.Join(base, p)
	}
	s := &c.Server
	s.Jar = abs(s.Jar)
	s.WorkDir = abs(s.WorkDir)
	if s.WorkDir == "" && s.Jar != "" {
		s.WorkDir = filepath.Dir(s.Jar)
	}
	if s.PropertiesFile == "" && s.WorkDir != "" {
		s.PropertiesFile = filepath.Join(s.WorkDir, "server.properties")
	}
	if s.EULAFile == "" && s.WorkDir != "" {
		s.EULAFile = filepath.Join(s.WorkDir, "eula.txt")
	}
	if s.LockFile == "" && s.WorkDir != "" {
		s.LockFile = filepath.Join(s.WorkDir, ".craftvisor.lock")
	}
	s.LockFile = abs(s.LockFile)
	s.PropertiesFile = abs(s.PropertiesFile)
	s.EULAFile = abs(s.EULAFile)
	for i, f := range s.EnvFiles {
		s.EnvFiles[i] = abs(f)
	}
	for i, d := range c.History.Sinks {
		// bare paths are SQLite files
		if !strings.Contains(d, "://") && d != ":memory:" {
			c.History.Sinks[i] = abs(d)
		}
	}
	c.Console.LogFile = abs(c.Console.LogFile)
	c.Monitor.MetricsDir = abs(c.Monitor.MetricsDir)
	c.Log.File = abs(c.Log.File)
	c.API.TLS.CertFile = abs(c.API.TLS.CertFile)
	c.API.TLS.KeyFile = abs(c.API.TLS.KeyFile)
	c.API.TLS.Dir = abs(c.API.TLS.Dir)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Jar == "" {
		return fmt.Errorf("server.jar is required")
	}
	if c.Server.StopTimeout < 0 {
		return fmt.Errorf("server.stop_timeout must not be negative")
	}
	if err := c.Alerts.Validate(); err != nil {
		return fmt.Errorf("alerts: %w", err)
	}
	if _, err := console.NewClassifier(c.Console.Patterns); err != nil {
		return fmt.Errorf("console.patterns: %w", err)
	}
	seen := map[string]bool{}
	for i, s := range c.Schedules {
		if s.Name == "" {
			return fmt.Errorf("schedules[%d]: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("schedules[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
		if s.Cron == "" {
			return fmt.Errorf("schedule %s: cron is required", s.Name)
		}
	}
	return nil
}

// Launch builds the launch configuration, merging the environment: OS env
// (when enabled) first, then env files in order, then the inline env list.
func (c *Config) Launch() (state.Launch, error) {
	vars, err := c.Server.mergedEnv()
	if err != nil {
		return state.Launch{}, err
	}
	return state.Launch{
		JavaPath:    c.Server.JavaPath,
		JarPath:     c.Server.Jar,
		WorkDir:     c.Server.WorkDir,
		Args:        append([]string(nil), c.Server.Args...),
		Env:         vars,
		StopTimeout: c.Server.StopTimeout,
	}, nil
}

func (s ServerConfig) mergedEnv() ([]string, error) {
	if !s.UseOSEnv && len(s.EnvFiles) == 0 && len(s.Env) == 0 {
		return nil, nil
	}
	e := env.New()
	if s.UseOSEnv {
		e.FromOS()
	}
	for _, p := range s.EnvFiles {
		if err := e.LoadFile(p); err != nil {
			return nil, fmt.Errorf("env file: %w", err)
		}
	}
	return e.SetPairs(s.Env).Environ(), nil
}
