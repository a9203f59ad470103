// Package config loads and validates jarvis configuration.
//
// Values are resolved in order of increasing priority: built-in defaults, an
// optional YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Veraticus/jarvis/internal/identity"
)

const (
	// DefaultConfigFile is read when JARVIS_CONFIG_FILE is not set. It may be absent.
	DefaultConfigFile = "jarvis.yaml"

	// minSessionWindow keeps generated conversation IDs unique at second granularity.
	minSessionWindow = time.Second
)

// Environment variable names.
const (
	EnvConfigFile        = "JARVIS_CONFIG_FILE"
	EnvDiscordToken      = "DISCORD_BOT_TOKEN"
	EnvDiscordChannel    = "DISCORD_CHANNEL_ID"
	EnvCommandPrefix     = "COMMAND_PREFIX"
	EnvHomeAssistantURL  = "HOME_ASSISTANT_URL"
	EnvHomeAssistantTok  = "HOME_ASSISTANT_TOKEN"
	EnvAgentID           = "AGENT_ID"
	EnvBackendTimeout    = "HOME_ASSISTANT_TIMEOUT"
	EnvUserMapping       = "USER_MAPPING"
	EnvSessionWindow     = "SESSION_WINDOW"
	EnvSessionPrefix     = "SESSION_PREFIX"
	EnvWorkers           = "WORKERS"
	EnvQueueSize         = "QUEUE_SIZE"
	EnvRateLimitCapacity = "RATE_LIMIT_CAPACITY"
	EnvRateLimitPeriod   = "RATE_LIMIT_PERIOD"
	EnvStatusAddr        = "STATUS_ADDR"
	EnvLogLevel          = "LOG_LEVEL"
	EnvLogFormat         = "LOG_FORMAT"
)

// LookupFunc retrieves the value of an environment variable.
type LookupFunc func(key string) (string, bool)

// Config is the complete runtime configuration.
type Config struct {
	UserMapping   identity.Mapping    `yaml:"user_mapping"`
	Discord       DiscordConfig       `yaml:"discord"`
	HomeAssistant HomeAssistantConfig `yaml:"home_assistant"`
	Session       SessionConfig       `yaml:"session"`
	Status        StatusConfig        `yaml:"status"`
	Log           LogConfig           `yaml:"log"`
	Dispatch      DispatchConfig      `yaml:"dispatch"`
}

// DiscordConfig configures the chat connection.
type DiscordConfig struct {
	Token         string `yaml:"token"`
	ChannelID     string `yaml:"channel_id"`
	CommandPrefix string `yaml:"command_prefix"`
}

// HomeAssistantConfig configures the conversation API.
type HomeAssistantConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	AgentID string        `yaml:"agent_id"`
	Timeout time.Duration `yaml:"timeout"`
}

// SessionConfig configures conversation continuity.
type SessionConfig struct {
	Prefix string        `yaml:"prefix"`
	Window time.Duration `yaml:"window"`
}

// DispatchConfig configures message processing.
type DispatchConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Workers   int             `yaml:"workers"`
	QueueSize int             `yaml:"queue_size"`
}

// RateLimitConfig configures per-author throttling. Capacity 0 disables it.
type RateLimitConfig struct {
	Capacity int           `yaml:"capacity"`
	Period   time.Duration `yaml:"period"`
}

// StatusConfig configures the status HTTP server. An empty Addr disables it.
type StatusConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		UserMapping: identity.Mapping{},
		Discord: DiscordConfig{
			CommandPrefix: "!",
		},
		HomeAssistant: HomeAssistantConfig{
			AgentID: "ollama",
			Timeout: 10 * time.Second,
		},
		Session: SessionConfig{
			Prefix: "discord",
			Window: time.Hour,
		},
		Dispatch: DispatchConfig{
			Workers:   1,
			QueueSize: 100,
			RateLimit: RateLimitConfig{
				Period: time.Minute,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ConfigError reports every problem found while loading configuration.
type ConfigError struct {
	Problems []string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// IsConfigError checks if an error is a configuration error.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// problems accumulates configuration errors.
type problems []string

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return &ConfigError{Problems: p}
}

// LoadFromEnv loads configuration using the process environment.
func LoadFromEnv(logger *slog.Logger) (*Config, error) {
	return Load(os.LookupEnv, logger)
}

// Load resolves configuration from defaults, the YAML file and lookup, then
// validates it. Any failure is returned as a *ConfigError. A malformed user
// mapping is logged and replaced by an empty mapping.
func Load(lookup LookupFunc, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := Default()
	var errs problems

	path, explicit := lookup(EnvConfigFile)
	if path == "" {
		path, explicit = DefaultConfigFile, false
	}
	if err := cfg.mergeFile(path); err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist) && !explicit:
			logger.Debug("no config file, using defaults and environment", slog.String("path", path))
		default:
			errs.addf("config file %s: %v", path, err)
		}
	} else {
		logger.Info("loaded config file", slog.String("path", path))
	}

	cfg.applyEnv(lookup, &errs, logger)

	if len(errs) > 0 {
		return nil, errs.err()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeFile decodes the YAML file at path over the current values.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from the operator
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse: %w", err)
	}
	if c.UserMapping == nil {
		c.UserMapping = identity.Mapping{}
	}
	return nil
}

// applyEnv overrides values with environment variables that are set.
func (c *Config) applyEnv(lookup LookupFunc, errs *problems, logger *slog.Logger) {
	setString(lookup, EnvDiscordToken, &c.Discord.Token)
	setString(lookup, EnvDiscordChannel, &c.Discord.ChannelID)
	setString(lookup, EnvCommandPrefix, &c.Discord.CommandPrefix)
	setString(lookup, EnvHomeAssistantURL, &c.HomeAssistant.URL)
	setString(lookup, EnvHomeAssistantTok, &c.HomeAssistant.Token)
	setString(lookup, EnvAgentID, &c.HomeAssistant.AgentID)
	setString(lookup, EnvSessionPrefix, &c.Session.Prefix)
	setString(lookup, EnvStatusAddr, &c.Status.Addr)
	setString(lookup, EnvLogLevel, &c.Log.Level)
	setString(lookup, EnvLogFormat, &c.Log.Format)

	setDuration(lookup, EnvBackendTimeout, &c.HomeAssistant.Timeout, errs)
	setDuration(lookup, EnvSessionWindow, &c.Session.Window, errs)
	setDuration(lookup, EnvRateLimitPeriod, &c.Dispatch.RateLimit.Period, errs)

	setInt(lookup, EnvWorkers, &c.Dispatch.Workers, errs)
	setInt(lookup, EnvQueueSize, &c.Dispatch.QueueSize, errs)
	setInt(lookup, EnvRateLimitCapacity, &c.Dispatch.RateLimit.Capacity, errs)

	if raw, ok := lookup(EnvUserMapping); ok && raw != "" {
		mapping, err := identity.ParseMapping(raw)
		if err != nil {
			logger.Warn("ignoring user mapping", slog.String("env", EnvUserMapping), slog.Any("error", err))
		}
		c.UserMapping = mapping
	}
}

// Validate checks that the configuration is complete and consistent.
func (c *Config) Validate() error {
	var errs problems

	if c.Discord.Token == "" {
		errs.addf("%s is required", EnvDiscordToken)
	}
	if c.Discord.ChannelID != "" {
		if _, err := strconv.ParseUint(c.Discord.ChannelID, 10, 64); err != nil {
			errs.addf("%s must be a numeric channel ID, got %q", EnvDiscordChannel, c.Discord.ChannelID)
		}
	}
	if c.Discord.CommandPrefix == "" {
		errs.addf("%s cannot be empty", EnvCommandPrefix)
	}

	if c.HomeAssistant.URL == "" {
		errs.addf("%s is required", EnvHomeAssistantURL)
	} else if u, err := url.Parse(c.HomeAssistant.URL); err != nil ||
		(u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs.addf("%s must be an absolute http(s) URL, got %q", EnvHomeAssistantURL, c.HomeAssistant.URL)
	}
	if c.HomeAssistant.AgentID == "" {
		errs.addf("%s cannot be empty", EnvAgentID)
	}
	if c.HomeAssistant.Timeout <= 0 {
		errs.addf("%s must be positive", EnvBackendTimeout)
	}

	if c.Session.Window < minSessionWindow {
		errs.addf("%s must be at least %s", EnvSessionWindow, minSessionWindow)
	}
	if c.Session.Prefix == "" {
		errs.addf("%s cannot be empty", EnvSessionPrefix)
	}

	if c.Dispatch.Workers < 1 {
		errs.addf("%s must be at least 1", EnvWorkers)
	}
	if c.Dispatch.QueueSize < 1 {
		errs.addf("%s must be at least 1", EnvQueueSize)
	}
	if c.Dispatch.RateLimit.Capacity < 0 {
		errs.addf("%s cannot be negative", EnvRateLimitCapacity)
	}
	if c.Dispatch.RateLimit.Period <= 0 {
		errs.addf("%s must be positive", EnvRateLimitPeriod)
	}

	if _, err := c.Log.level(); err != nil {
		errs.addf("%s: %v", EnvLogLevel, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs.addf("%s must be text or json, got %q", EnvLogFormat, c.Log.Format)
	}

	return errs.err()
}

// NewLogger builds a logger writing to w according to the log settings.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := l.level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (l LogConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown level %q", l.Level)
	}
	return level, nil
}

func setString(lookup LookupFunc, key string, dst *string) {
	if v, ok := lookup(key); ok && v != "" {
		*dst = v
	}
}

func setDuration(lookup LookupFunc, key string, dst *time.Duration, errs *problems) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		errs.addf("%s: invalid duration %q", key, v)
		return
	}
	*dst = d
}

func setInt(lookup LookupFunc, key string, dst *int, errs *problems) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		errs.addf("%s: invalid integer %q", key, v)
		return
	}
	*dst = n
}
