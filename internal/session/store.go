package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Iron-Ham/agentdash/internal/errors"
	"github.com/Iron-Ham/agentdash/internal/logging"
)

const (
	// SessionsFileName is the canonical collection file inside the store directory.
	SessionsFileName = "sessions.json"
	// LockFileName is the zero-length marker whose flock guards the collection.
	LockFileName = "sessions.lock"
)

// ErrSkipWrite may be returned by an Update callback to end the operation
// without persisting anything. The caller receives the session as read and a
// nil error.
var ErrSkipWrite = errors.New("skip write")

// Store is the durable mapping from session ID to Session, shared by every
// process on the host through sessions.json and sessions.lock.
//
// Reads take a shared lock and writes an exclusive one, both over the entire
// collection. Every write reads the whole file, mutates it, and replaces it
// with a temp-file-and-rename so a crash never leaves a torn file behind.
// A missing or unparsable file reads as an empty collection.
type Store struct {
	dir    string
	path   string
	lock   *fileLock
	now    func() time.Time
	logger *logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for last_activity updates.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the store's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore opens the store rooted at dir, creating the directory if needed.
func NewStore(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.NewSessionError("failed to create store directory", err)
	}
	s := &Store{
		dir:    dir,
		path:   filepath.Join(dir, SessionsFileName),
		lock:   newFileLock(filepath.Join(dir, LockFileName)),
		now:    time.Now,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("store")
	return s, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the path of the canonical sessions file.
func (s *Store) Path() string { return s.path }

// Now returns the store's current time.
func (s *Store) Now() time.Time { return s.now() }

// collection is the decoded file. Records that fail to decode are kept as
// raw JSON and written back untouched.
type collection struct {
	sessions map[string]*Session
	opaque   map[string]json.RawMessage
}

func (s *Store) read() *collection {
	c := &collection{sessions: make(map[string]*Session)}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("sessions file unreadable, treating as empty", "error", err)
		}
		return c
	}
	if len(data) == 0 {
		return c
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("sessions file malformed, treating as empty", "error", err)
		return c
	}

	for id, rec := range raw {
		var sess Session
		if err := json.Unmarshal(rec, &sess); err != nil {
			s.logger.Warn("skipping undecodable session record", "session_id", id, "error", err)
			if c.opaque == nil {
				c.opaque = make(map[string]json.RawMessage)
			}
			c.opaque[id] = rec
			continue
		}
		c.sessions[id] = &sess
	}
	return c
}

func (s *Store) write(c *collection) error {
	out := make(map[string]any, len(c.sessions)+len(c.opaque))
	for id, rec := range c.opaque {
		out[id] = rec
	}
	for id, sess := range c.sessions {
		out[id] = sess
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return errors.NewSessionError("failed to encode sessions", err)
	}
	if err := atomicWriteFile(s.path, data, 0644); err != nil {
		return errors.NewSessionError("failed to write sessions", errors.Join(errors.ErrPersistFailed, err))
	}
	return nil
}

// view runs fn against the collection under a shared lock.
func (s *Store) view(ctx context.Context, fn func(*collection)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	held, err := s.lock.acquire(false)
	if err != nil {
		return errors.NewSessionError("failed to acquire shared lock", errors.Join(errors.ErrLockFailed, err))
	}
	defer func() {
		if err := held.release(); err != nil {
			s.logger.Warn("failed to release shared lock", "error", err)
		}
	}()

	fn(s.read())
	return nil
}

// mutate runs fn against the collection under an exclusive lock and writes
// the result back when fn reports a change.
func (s *Store) mutate(ctx context.Context, fn func(*collection) (bool, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	held, err := s.lock.acquire(true)
	if err != nil {
		return errors.NewSessionError("failed to acquire exclusive lock", errors.Join(errors.ErrLockFailed, err))
	}
	defer func() {
		if err := held.release(); err != nil {
			s.logger.Warn("failed to release exclusive lock", "error", err)
		}
	}()

	c := s.read()
	changed, err := fn(c)
	if err != nil || !changed {
		return err
	}
	return s.write(c)
}

// Get returns the session with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*Session, bool, error) {
	var found *Session
	err := s.view(ctx, func(c *collection) {
		found = c.sessions[id]
	})
	return found, found != nil, err
}

// GetAll returns every session, most recently active first. Sessions with
// equal activity times are ordered by ID.
func (s *Store) GetAll(ctx context.Context) ([]*Session, error) {
	var all []*Session
	err := s.view(ctx, func(c *collection) {
		all = make([]*Session, 0, len(c.sessions))
		for _, sess := range c.sessions {
			all = append(all, sess)
		}
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i].LastActivity, all[j].LastActivity
		if a.Equal(b) {
			return all[i].ID < all[j].ID
		}
		return a.After(b)
	})
	return all, nil
}

// Upsert inserts or replaces a session keyed by its ID.
func (s *Store) Upsert(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" {
		return errors.NewValidationError("session must have an id").WithField("session_id")
	}
	if !sess.State.Valid() {
		return errors.NewSessionError("refusing to store invalid state", fmt.Errorf("%w: %q", errors.ErrInvalidState, sess.State)).
			WithSessionID(sess.ID)
	}
	stored := sess.Clone()
	return s.mutate(ctx, func(c *collection) (bool, error) {
		c.sessions[stored.ID] = stored
		delete(c.opaque, stored.ID)
		return true, nil
	})
}

// Update applies fn to the stored session under the exclusive lock and
// persists the result. The boolean is false when no session has that ID, in
// which case fn is not called. If fn returns ErrSkipWrite the session is
// returned unchanged; any other error aborts the write and is returned.
func (s *Store) Update(ctx context.Context, id string, fn func(*Session) error) (*Session, bool, error) {
	var (
		result *Session
		found  bool
	)
	err := s.mutate(ctx, func(c *collection) (bool, error) {
		sess, ok := c.sessions[id]
		if !ok {
			return false, nil
		}
		found = true
		return s.apply(c, sess, fn, &result)
	})
	if err != nil {
		return nil, found, err
	}
	return result, found, nil
}

// UpdateOrCreate is like Update but first inserts create() when no session
// has the given ID. A newly created session is persisted even if fn returns
// ErrSkipWrite.
func (s *Store) UpdateOrCreate(ctx context.Context, id string, create func() *Session, fn func(*Session) error) (*Session, bool, error) {
	var (
		result  *Session
		created bool
	)
	err := s.mutate(ctx, func(c *collection) (bool, error) {
		sess, ok := c.sessions[id]
		if !ok {
			sess = create()
			sess.ID = id
			c.sessions[id] = sess
			delete(c.opaque, id)
			created = true
		}
		changed, err := s.apply(c, sess, fn, &result)
		return changed || (created && err == nil), err
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

func (s *Store) apply(c *collection, sess *Session, fn func(*Session) error, result **Session) (bool, error) {
	working := sess.Clone()
	if err := fn(working); err != nil {
		if errors.Is(err, ErrSkipWrite) {
			*result = sess
			return false, nil
		}
		return false, err
	}
	if !working.State.Valid() {
		return false, errors.NewSessionError("refusing to store invalid state",
			fmt.Errorf("%w: %q", errors.ErrInvalidState, working.State)).WithSessionID(sess.ID)
	}
	working.ID = sess.ID
	c.sessions[sess.ID] = working
	*result = working
	return true, nil
}

// UpdateAll applies fn to every session under one exclusive lock. fn reports
// whether it changed the session; changed sessions are persisted together
// and returned.
func (s *Store) UpdateAll(ctx context.Context, fn func(*Session) (bool, error)) ([]*Session, error) {
	var changed []*Session
	err := s.mutate(ctx, func(c *collection) (bool, error) {
		ids := make([]string, 0, len(c.sessions))
		for id := range c.sessions {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			working := c.sessions[id].Clone()
			ok, err := fn(working)
			if err != nil {
				return false, err
			}
			if ok {
				c.sessions[id] = working
				changed = append(changed, working)
			}
		}
		return len(changed) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// UpdateStatus refreshes last_activity and, when task is non-empty, the
// current task. Status is derived from the lifecycle state and cannot be set
// on its own, so status must agree with the stored state's projection;
// otherwise ErrStatusConflict is returned and nothing is written.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status, task string) (*Session, bool, error) {
	return s.Update(ctx, id, func(sess *Session) error {
		if sess.Status() != status {
			return errors.NewSessionError(
				fmt.Sprintf("status %q requested but state %q projects to %q", status, sess.State, sess.Status()),
				errors.ErrStatusConflict,
			).WithSessionID(id)
		}
		sess.LastActivity = s.now()
		if task != "" {
			sess.CurrentTask = task
		}
		return nil
	})
}

// AppendMessage adds msg to the session's log and refreshes last_activity.
func (s *Store) AppendMessage(ctx context.Context, id string, msg Message) (bool, error) {
	_, ok, err := s.Update(ctx, id, func(sess *Session) error {
		sess.Messages = append(sess.Messages, msg)
		sess.LastActivity = s.now()
		return nil
	})
	return ok, err
}

// AppendDashboardMessage queues text for injection at the agent's next
// session start. It does not count as session activity.
func (s *Store) AppendDashboardMessage(ctx context.Context, id string, text string) (bool, error) {
	_, ok, err := s.Update(ctx, id, func(sess *Session) error {
		sess.PendingDashboardMessages = append(sess.PendingDashboardMessages, text)
		return nil
	})
	return ok, err
}

// TakeDashboardMessages returns and clears the pending dashboard messages.
// An unknown ID yields an empty result.
func (s *Store) TakeDashboardMessages(ctx context.Context, id string) ([]string, error) {
	var taken []string
	_, _, err := s.Update(ctx, id, func(sess *Session) error {
		if len(sess.PendingDashboardMessages) == 0 {
			return ErrSkipWrite
		}
		taken = sess.PendingDashboardMessages
		sess.PendingDashboardMessages = []string{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return taken, nil
}

// UpdatePID records the agent process ID and refreshes last_activity.
func (s *Store) UpdatePID(ctx context.Context, id string, pid int) (bool, error) {
	_, ok, err := s.Update(ctx, id, func(sess *Session) error {
		sess.AgentPID = &pid
		sess.LastActivity = s.now()
		return nil
	})
	return ok, err
}

// Delete removes the session. The boolean reports whether it existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	var existed bool
	err := s.mutate(ctx, func(c *collection) (bool, error) {
		_, inSessions := c.sessions[id]
		_, inOpaque := c.opaque[id]
		existed = inSessions || inOpaque
		delete(c.sessions, id)
		delete(c.opaque, id)
		return existed, nil
	})
	return existed, err
}

// atomicWriteFile writes data to a file atomically by writing to a temporary
// file first, then renaming. This ensures the target file is never in a
// partially-written state.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return errors.Wrap(err, "failed to write temp file")
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return errors.Wrap(err, "failed to sync temp file")
	}
	if err := tmpFile.Close(); err != nil {
		return errors.Wrap(err, "failed to close temp file")
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return errors.Wrap(err, "failed to set permissions")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrap(err, "failed to rename temp file")
	}

	success = true
	return nil
}
