package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/agentdash/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View agentdash configuration",
		Long: `View agentdash configuration.

Without arguments, displays the effective configuration.`,
		RunE: runConfigShow,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show current configuration",
			RunE:  runConfigShow,
		},
		&cobra.Command{
			Use:   "init",
			Short: "Create a default config file",
			Long:  `Create a default config file at ~/.config/agentdash/config.yaml with all available options.`,
			RunE:  runConfigInit,
		},
		&cobra.Command{
			Use:   "path",
			Short: "Show the config file path",
			RunE:  runConfigPath,
		},
	)
	return cmd
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	data, err := yaml.Marshal(configView(cfg))
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

// configView mirrors the config file layout, which uses mapstructure names.
func configView(cfg *config.Config) map[string]any {
	return map[string]any{
		"store": map[string]any{"dir": cfg.Store.Dir},
		"continuation": map[string]any{
			"timeout_minutes":        cfg.Continuation.TimeoutMinutes,
			"max_loop_iterations":    cfg.Continuation.MaxLoopIterations,
			"sweep_interval_seconds": cfg.Continuation.SweepIntervalSeconds,
			"completion_phrases":     cfg.Continuation.CompletionPhrases,
			"loop_prompts":           cfg.Continuation.LoopPrompts,
			"loop_prompts_file":      cfg.Continuation.LoopPromptsFile,
		},
		"review": map[string]any{
			"enabled":        cfg.Review.Enabled,
			"max_iterations": cfg.Review.MaxIterations,
		},
		"agent": map[string]any{"binary": cfg.Agent.Binary},
		"notifications": map[string]any{
			"enabled": cfg.Notifications.Enabled,
			"sound":   cfg.Notifications.Sound,
			"command": cfg.Notifications.Command,
		},
		"logging": map[string]any{
			"level":       cfg.Logging.Level,
			"max_size_mb": cfg.Logging.MaxSizeMB,
			"max_backups": cfg.Logging.MaxBackups,
			"compress":    cfg.Logging.Compress,
		},
	}
}

const configTemplate = `# agentdash configuration

# Where sessions.json, sessions.lock, pending_prompts.json and debug.log live.
# Hooks and operator commands must agree on this directory.
store:
  dir: ~/.augment/dashboard

continuation:
  # Busy sessions with no activity for this long are reset to idle
  timeout_minutes: 15
  # Loop prompts sent before a running loop is stopped
  max_loop_iterations: 50
  # How often 'agentdash watch' runs the timeout sweep
  sweep_interval_seconds: 60
  # Extra loop prompts, merged over the built-in catalog by name.
  # Either a mapping of name to prompt, or name to {prompt, end_condition}.
  # loop_prompts_file: ~/.config/agentdash/prompts.yaml

# Review cycle defaults for new sessions
review:
  enabled: false
  max_iterations: 3

agent:
  # CLI used to resume or start agent conversations
  binary: auggie

notifications:
  enabled: true
  sound: true
  command: terminal-notifier

logging:
  # debug, info, warn, error
  level: info
  max_size_mb: 10
  max_backups: 3
  compress: false
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s", configFile)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created config file at %s\n", configFile)
	fmt.Fprintln(out, "Edit this file to customize agentdash's behavior.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	fmt.Fprintln(out, "\nSearch path:")
	fmt.Fprintf(out, "  %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintln(out, "\nEnvironment variables: AGENTDASH_* (e.g., AGENTDASH_CONTINUATION_TIMEOUT_MINUTES)")
	return nil
}
