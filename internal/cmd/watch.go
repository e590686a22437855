package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/agentdash/internal/continuation"
	"github.com/Iron-Ham/agentdash/internal/event"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the timeout sweep and queued-message delivery until interrupted",
		Long: `Run the timeout sweep and queued-message delivery until interrupted.

The sweep runs every continuation.sweep_interval_seconds. Independently,
the store is watched so that a queued message is sent as soon as its
session goes idle, whichever process made it idle.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withApp(func(a *app) error {
				return runWatch(ctx, cmd, a)
			})
		},
	}
}

func runWatch(ctx context.Context, cmd *cobra.Command, a *app) error {
	out := cmd.OutOrStdout()
	id := a.bus.SubscribeAll(func(e event.Event) {
		switch ev := e.(type) {
		case event.SessionResetEvent:
			fmt.Fprintf(out, "reset %s after %d minutes (was: %s)\n", ev.SessionID, ev.IdleMinutes, ev.PreviousState)
		case event.MessageSpawnedEvent:
			fmt.Fprintf(out, "sent %s message to %s\n", ev.Source, ev.SessionID)
		case event.LoopCompleteEvent:
			fmt.Fprintf(out, "loop complete for %s: %s\n", ev.SessionID, ev.Message)
		}
	})
	defer a.bus.Unsubscribe(id)

	watcher, err := continuation.NewWatcher(a.engine)
	if err != nil {
		return fmt.Errorf("failed to watch store: %w", err)
	}
	sweeper := continuation.NewSweeper(a.engine, a.cfg.Continuation.SweepInterval())

	fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", a.store.Dir())
	a.logger.Info("watch started", "store", a.store.Dir())

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(sweeper.Run)
	p.Go(watcher.Run)
	err = p.Wait()

	a.logger.Info("watch stopped")
	return err
}
