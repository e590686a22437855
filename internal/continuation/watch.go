package continuation

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/agentdash/internal/session"
)

// Sweeper runs the timeout sweep on a fixed interval.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
}

// NewSweeper returns a sweeper for engine. A non-positive interval means
// one minute.
func NewSweeper(engine *Engine, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{engine: engine, interval: interval}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	resets, err := s.engine.SweepTimeouts(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.engine.logger.Warn("timeout sweep failed", "error", err)
		}
		return
	}
	if len(resets) > 0 {
		s.engine.logger.Info("timeout sweep reset sessions", "count", len(resets))
	}
}

// debounceInterval absorbs the burst of events produced by one atomic
// replace of the sessions file.
const debounceInterval = 50 * time.Millisecond

// Watcher sends queued messages for sessions that become idle, whichever
// process made them idle. It watches the store directory and re-examines
// the store after each debounced change to the sessions file.
type Watcher struct {
	engine  *Engine
	watcher *fsnotify.Watcher
	// changed is signalled after each processed batch; tests use it.
	changed chan struct{}
}

// NewWatcher creates a watcher over the engine's store directory.
func NewWatcher(engine *Engine) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(engine.store.Dir()); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return &Watcher{engine: engine, watcher: fw}, nil
}

// Run processes file events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.watcher.Close() }()

	debounce := time.NewTimer(debounceInterval)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != session.SessionsFileName {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = true
			debounce.Reset(debounceInterval)

		case <-debounce.C:
			if !pending {
				continue
			}
			pending = false
			w.process(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.engine.logger.Warn("store watcher error", "error", err)
		}
	}
}

func (w *Watcher) process(ctx context.Context) {
	promoted, err := w.engine.ProcessAllQueued(ctx)
	if err != nil && ctx.Err() == nil {
		w.engine.logger.Warn("queued message processing failed", "error", err)
	}
	if len(promoted) > 0 {
		w.engine.logger.Info("sent queued messages", "sessions", promoted)
	}
	if w.changed != nil {
		select {
		case w.changed <- struct{}{}:
		default:
		}
	}
}
