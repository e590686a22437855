// Package cmd implements the agentdash command line: the hook entry points
// the agent calls, operator commands over the session store, and the
// long-running watch loop.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/agentdash/internal/agent"
	"github.com/Iron-Ham/agentdash/internal/config"
	"github.com/Iron-Ham/agentdash/internal/continuation"
	"github.com/Iron-Ham/agentdash/internal/event"
	"github.com/Iron-Ham/agentdash/internal/logging"
	"github.com/Iron-Ham/agentdash/internal/notify"
	"github.com/Iron-Ham/agentdash/internal/session"
)

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentdash",
		Short: "Lifecycle coordinator for coding-agent sessions",
		Long: `agentdash tracks coding-agent sessions through their lifecycle and
automates what happens between turns: review cycles, quality loops,
queued messages, and recovery of sessions that went quiet.

The agent reports progress through 'agentdash hook'; everything else is
for operators.`,
		SilenceUsage: true,
	}
	// Accept --store_dir for --store-dir, matching the config key spelling.
	root.SetGlobalNormalizationFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	root.PersistentFlags().StringP("config", "c", "", "config file (default is $XDG_CONFIG_HOME/agentdash/config.yaml)")
	root.PersistentFlags().String("store-dir", "", "session store directory (overrides store.dir)")
	_ = viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("store.dir", root.PersistentFlags().Lookup("store-dir"))

	root.AddCommand(
		newHookCmd(),
		newSessionsCmd(),
		newLoopCmd(),
		newQueueCmd(),
		newMessageCmd(),
		newEventCmd(),
		newNewCmd(),
		newSweepCmd(),
		newWatchCmd(),
		newConfigCmd(),
		newLogsCmd(),
	)
	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("AGENTDASH")
	// e.g. AGENTDASH_CONTINUATION_TIMEOUT_MINUTES for continuation.timeout_minutes
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// newSpawner builds the agent launcher. Tests replace it.
var newSpawner = func(cfg *config.Config, logger *logging.Logger) continuation.Spawner {
	return agent.NewProcessSpawner(cfg.Agent.Binary, logger)
}

// app is the wiring shared by every command that touches the store.
type app struct {
	cfg    *config.Config
	store  *session.Store
	engine *continuation.Engine
	bus    *event.Bus
	logger *logging.Logger
}

// loadApp loads and validates the configuration, then wires the app.
func loadApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return newApp(cfg)
}

func newApp(cfg *config.Config) (*app, error) {
	dir := cfg.Store.ResolvedDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	logger, err := logging.NewLoggerWithRotation(dir, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return nil, err
	}

	store, err := session.NewStore(dir, session.WithLogger(logger))
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	opts, err := continuation.OptionsFromConfig(cfg)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	bus := event.NewBus(logger)
	var notifier notify.Notifier = notify.NewBusNotifier(bus)
	if cfg.Notifications.Enabled {
		notifier = notify.Multi{
			notify.NewCommandNotifier(cfg.Notifications.Command, cfg.Notifications.Sound, logger),
			notifier,
		}
	}

	engine := continuation.New(store, newSpawner(cfg, logger), opts,
		continuation.WithNotifier(notifier),
		continuation.WithBus(bus),
		continuation.WithLogger(logger),
	)

	return &app{cfg: cfg, store: store, engine: engine, bus: bus, logger: logger}, nil
}

func (a *app) Close() error {
	return a.logger.Close()
}

// withApp runs fn with a freshly wired app and closes it afterwards.
func withApp(fn func(a *app) error) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(a)
}

func sessionNotFound(id string) error {
	return fmt.Errorf("session %s not found", id)
}
