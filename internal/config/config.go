package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete agentdash configuration
type Config struct {
	Store         StoreConfig         `mapstructure:"store"`
	Continuation  ContinuationConfig  `mapstructure:"continuation"`
	Review        ReviewConfig        `mapstructure:"review"`
	Agent         AgentConfig         `mapstructure:"agent"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// StoreConfig controls where session state lives on disk
type StoreConfig struct {
	// Dir holds sessions.json, sessions.lock, pending_prompts.json and debug.log.
	// A leading "~/" is expanded to the user's home directory.
	Dir string `mapstructure:"dir"`
}

// ContinuationConfig controls automatic follow-up behavior
type ContinuationConfig struct {
	// TimeoutMinutes is how long a busy session may go without activity before
	// the sweep forces it back to idle (default: 15)
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
	// MaxLoopIterations bounds how many loop prompts are sent before the loop
	// is disabled (default: 50)
	MaxLoopIterations int `mapstructure:"max_loop_iterations"`
	// SweepIntervalSeconds is how often `agentdash watch` runs the timeout sweep
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
	// CompletionPhrases are matched case-insensitively against agent responses
	// while a loop is running; any match ends the loop
	CompletionPhrases []string `mapstructure:"completion_phrases"`
	// LoopPrompts is the named prompt catalog
	LoopPrompts []LoopPrompt `mapstructure:"loop_prompts"`
	// LoopPromptsFile optionally points at a YAML or JSON file mapping prompt
	// names to prompts. Entries there override LoopPrompts by name.
	LoopPromptsFile string `mapstructure:"loop_prompts_file"`
}

// ReviewConfig controls the review cycle defaults applied to new sessions
type ReviewConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// MaxIterations bounds the number of review passes (default: 3)
	MaxIterations int `mapstructure:"max_iterations"`
}

// AgentConfig controls how agent processes are launched
type AgentConfig struct {
	// Binary is the agent CLI invoked to resume or start conversations (default: "auggie")
	Binary string `mapstructure:"binary"`
}

// NotificationsConfig controls desktop notifications for turn and loop completion
type NotificationsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Sound   bool `mapstructure:"sound"`
	// Command is the notifier executable (default: "terminal-notifier")
	Command string `mapstructure:"command"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the size at which debug.log is rotated (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated log files kept (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated log files
	Compress bool `mapstructure:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Dir: "~/.augment/dashboard",
		},
		Continuation: ContinuationConfig{
			TimeoutMinutes:       15,
			MaxLoopIterations:    50,
			SweepIntervalSeconds: 60,
			CompletionPhrases:    DefaultCompletionPhrases(),
			LoopPrompts:          DefaultLoopPrompts(),
		},
		Review: ReviewConfig{
			Enabled:       false,
			MaxIterations: 3,
		},
		Agent: AgentConfig{
			Binary: "auggie",
		},
		Notifications: NotificationsConfig{
			Enabled: true,
			Sound:   true,
			Command: "terminal-notifier",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// DefaultCompletionPhrases returns the generic phrases that signal an agent
// considers its goal met.
func DefaultCompletionPhrases() []string {
	return []string{
		"goal has been achieved",
		"goal is complete",
		"task is complete",
		"task has been completed",
		"all tasks are complete",
		"all done",
		"work is complete",
		"objective has been met",
		"successfully completed",
		"nothing left to do",
		"no further action needed",
		"no further actions needed",
		"finished all",
		"completed all",
	}
}

// Timeout returns the inactivity timeout as a time.Duration
func (c *ContinuationConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// SweepInterval returns the sweep period as a time.Duration
func (c *ContinuationConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// ResolvedDir returns the store directory with "~" expanded.
func (s *StoreConfig) ResolvedDir() string {
	return expandHome(s.Dir)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Store defaults
	viper.SetDefault("store.dir", defaults.Store.Dir)

	// Continuation defaults
	viper.SetDefault("continuation.timeout_minutes", defaults.Continuation.TimeoutMinutes)
	viper.SetDefault("continuation.max_loop_iterations", defaults.Continuation.MaxLoopIterations)
	viper.SetDefault("continuation.sweep_interval_seconds", defaults.Continuation.SweepIntervalSeconds)
	viper.SetDefault("continuation.completion_phrases", defaults.Continuation.CompletionPhrases)
	viper.SetDefault("continuation.loop_prompts", defaults.Continuation.LoopPrompts)
	viper.SetDefault("continuation.loop_prompts_file", defaults.Continuation.LoopPromptsFile)

	// Review defaults
	viper.SetDefault("review.enabled", defaults.Review.Enabled)
	viper.SetDefault("review.max_iterations", defaults.Review.MaxIterations)

	// Agent defaults
	viper.SetDefault("agent.binary", defaults.Agent.Binary)

	// Notification defaults
	viper.SetDefault("notifications.enabled", defaults.Notifications.Enabled)
	viper.SetDefault("notifications.sound", defaults.Notifications.Sound)
	viper.SetDefault("notifications.command", defaults.Notifications.Command)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when the
// loaded configuration is unusable. Hooks must never fail the agent because
// of a bad config file.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "agentdash")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentdash"
	}
	return filepath.Join(home, ".config", "agentdash")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
