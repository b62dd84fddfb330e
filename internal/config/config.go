// Package config handles configuration loading and management for conductor.
// It supports a YAML file, XDG config paths, and CONDUCTOR_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// CONDUCTOR_SCHEDULER_MAX_CONCURRENT_TASKS.
const EnvPrefix = "CONDUCTOR"

// Config holds all configuration for conductor.
type Config struct {
	Server    ServerConfig        `mapstructure:"server"`
	Logger    LoggerConfig        `mapstructure:"logger"`
	Scheduler SchedulerConfig     `mapstructure:"scheduler"`
	Retry     RetryConfig         `mapstructure:"retry"`
	Registry  RegistryConfig      `mapstructure:"registry"`
	Matching  MatchingConfig      `mapstructure:"matching"`
	Tools     map[string][]string `mapstructure:"tools"`
	Dispatch  DispatchConfig      `mapstructure:"dispatch"`
	State     StateConfig         `mapstructure:"state"`
	Events    EventsConfig        `mapstructure:"events"`
	TUI       TUIConfig           `mapstructure:"tui"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggerConfig configures the zap logger.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// SchedulerConfig holds scheduler loop settings.
type SchedulerConfig struct {
	TickInterval       time.Duration `mapstructure:"tick_interval"`
	MaxConcurrentTasks int           `mapstructure:"max_concurrent_tasks"`
	TaskTimeout        time.Duration `mapstructure:"task_timeout"`
	NoAgentRetryDelay  time.Duration `mapstructure:"no_agent_retry_delay"`
	// CountAssignedAsActive includes assigned (not yet started) tasks in the
	// concurrency ceiling.
	CountAssignedAsActive bool `mapstructure:"count_assigned_as_active"`
}

// RetryConfig bounds automatic retries.
type RetryConfig struct {
	MaxAttempts int      `mapstructure:"max_attempts"`
	Priorities  []string `mapstructure:"priorities"`
}

// RegistryConfig holds agent directory settings.
type RegistryConfig struct {
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	StrictCapacity      bool          `mapstructure:"strict_capacity"`
}

// MatchRuleConfig is one step of the agent matching policy.
type MatchRuleConfig struct {
	PreferredType string   `mapstructure:"preferred_type" yaml:"preferred_type,omitempty"`
	MaxLoad       *float64 `mapstructure:"max_load" yaml:"max_load,omitempty"`
}

// MatchingConfig lists the ordered matching rules.
type MatchingConfig struct {
	Rules []MatchRuleConfig `mapstructure:"rules"`
}

// BreakerConfig tunes the dispatch circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32        `mapstructure:"max_requests"`
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
}

// RedisConfig configures the Redis Streams transport.
type RedisConfig struct {
	URL             string        `mapstructure:"url"`
	Prefix          string        `mapstructure:"prefix"`
	SendTimeout     time.Duration `mapstructure:"send_timeout"`
	ConnectAttempts uint          `mapstructure:"connect_attempts"`
}

// DispatchConfig selects and tunes the dispatch channel.
type DispatchConfig struct {
	// Driver is "local" (in-process) or "redis".
	Driver    string        `mapstructure:"driver"`
	InboxSize int           `mapstructure:"inbox_size"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Burst     int           `mapstructure:"burst"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
	Redis     RedisConfig   `mapstructure:"redis"`
}

// StateConfig configures the SQLite audit store.
type StateConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

// EventsConfig sizes the event fan-out buffers.
type EventsConfig struct {
	Buffer int `mapstructure:"buffer"`
}

// TUIConfig holds dashboard settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Loader owns a viper instance so the configuration can be re-read and watched.
type Loader struct {
	v  *viper.Viper
	mu sync.Mutex
}

// NewLoader reads configuration from path, or from conductor.yaml in the
// working directory, ./configs, or the XDG config dir when path is empty.
// A missing file is not an error; defaults and environment still apply.
func NewLoader(path string) (*Loader, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("conductor")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath(getUserConfigDir())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	return &Loader{v: v}, nil
}

// Config decodes the current settings.
func (l *Loader) Config() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Dispatch.Redis.URL = os.ExpandEnv(cfg.Dispatch.Redis.URL)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigFile returns the file the settings were read from, if any.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// AllSettings returns the merged settings as a nested map.
func (l *Loader) AllSettings() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.v.AllSettings()
}

// Watch re-decodes the configuration whenever the backing file changes and
// passes the result to fn. It is a no-op when no file was loaded.
func (l *Loader) Watch(fn func(*Config, error)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		fn(l.Config())
	})
	l.v.WatchConfig()
}

// Load loads configuration from path (see NewLoader).
func Load(path string) (*Config, error) {
	l, err := NewLoader(path)
	if err != nil {
		return nil, err
	}
	return l.Config()
}

// Default returns a Config holding only built-in defaults.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	return cfg
}

// Validate checks settings that would make the engine misbehave.
func (c *Config) Validate() error {
	if c.Scheduler.MaxConcurrentTasks < 1 {
		return fmt.Errorf("scheduler.max_concurrent_tasks must be at least 1, got %d", c.Scheduler.MaxConcurrentTasks)
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive")
	}
	if c.Scheduler.TaskTimeout <= 0 {
		return fmt.Errorf("scheduler.task_timeout must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	switch c.Dispatch.Driver {
	case "local", "redis":
	default:
		return fmt.Errorf("dispatch.driver must be local or redis, got %q", c.Dispatch.Driver)
	}
	for i, r := range c.Matching.Rules {
		if r.MaxLoad != nil && *r.MaxLoad < 0 {
			return fmt.Errorf("matching.rules[%d].max_load must not be negative", i)
		}
	}
	return nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("scheduler.tick_interval", "1s")
	v.SetDefault("scheduler.max_concurrent_tasks", 10)
	v.SetDefault("scheduler.task_timeout", "5m")
	v.SetDefault("scheduler.no_agent_retry_delay", "5s")
	v.SetDefault("scheduler.count_assigned_as_active", true)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.priorities", []string{"high", "urgent"})

	v.SetDefault("registry.health_check_interval", "90s")
	v.SetDefault("registry.sweep_interval", "30s")
	v.SetDefault("registry.strict_capacity", false)

	v.SetDefault("matching.rules", []map[string]any{
		{"preferred_type": "specialist", "max_load": 0.8},
		{"preferred_type": "coordinator", "max_load": 0.9},
		{},
	})

	v.SetDefault("tools", DefaultTools())

	v.SetDefault("dispatch.driver", "local")
	v.SetDefault("dispatch.inbox_size", 64)
	v.SetDefault("dispatch.rate_limit", 100.0)
	v.SetDefault("dispatch.burst", 20)
	v.SetDefault("dispatch.breaker.max_requests", 3)
	v.SetDefault("dispatch.breaker.interval", "5s")
	v.SetDefault("dispatch.breaker.timeout", "30s")
	v.SetDefault("dispatch.breaker.consecutive_failures", 5)
	v.SetDefault("dispatch.redis.url", "redis://localhost:6379/0")
	v.SetDefault("dispatch.redis.prefix", "conductor")
	v.SetDefault("dispatch.redis.send_timeout", "2s")
	v.SetDefault("dispatch.redis.connect_attempts", 5)

	v.SetDefault("state.enabled", true)
	v.SetDefault("state.db_path", DefaultDBPath())

	v.SetDefault("events.buffer", 256)

	v.SetDefault("tui.refresh_rate", "1s")
}

// DefaultTools is the built-in capability to tool mapping.
func DefaultTools() map[string][]string {
	return map[string][]string{
		"base_operations":   {"shell", "filesystem"},
		"data_query":        {"sql", "search"},
		"data_analysis":     {"sql", "python"},
		"web_research":      {"http", "search"},
		"code_generation":   {"filesystem", "compiler"},
		"notification":      {"email", "webhook"},
		"workflow_planning": {"planner"},
	}
}

// DefaultDBPath returns the XDG data path for the audit database.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".", "conductor.db")
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "conductor", "conductor.db")
}

// getUserConfigDir returns the XDG config directory for conductor.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "conductor")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "conductor")
	}
	return filepath.Join(home, ".config", "conductor")
}
