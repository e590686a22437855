package session

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/agentdash/internal/errors"
)

// fileLock provides cross-process reader/writer exclusion over the whole
// session collection using flock(2) on a zero-length marker file. Every
// process touching the store, hooks included, must go through it.
//
// flock locks belong to the open file description, so two goroutines of one
// process opening the file separately would still exclude each other. The
// in-process RWMutex keeps that behavior without depending on it, and lets
// readers within one process share the lock cheaply.
type fileLock struct {
	path string
	mu   sync.RWMutex
}

func newFileLock(path string) *fileLock {
	return &fileLock{path: path}
}

// lockedFile is a held flock; release drops it and closes the descriptor.
type lockedFile struct {
	file   *os.File
	unlock func()
}

// acquire blocks until the lock is held in the requested mode.
func (l *fileLock) acquire(exclusive bool) (*lockedFile, error) {
	how := unix.LOCK_SH
	unlock := l.mu.RUnlock
	if exclusive {
		how = unix.LOCK_EX
		l.mu.Lock()
		unlock = l.mu.Unlock
	} else {
		l.mu.RLock()
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		unlock()
		return nil, errors.Wrapf(err, "open lock file %s", l.path)
	}

	for {
		err = unix.Flock(int(f.Fd()), how)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		_ = f.Close()
		unlock()
		return nil, errors.Wrap(err, "flock")
	}

	return &lockedFile{file: f, unlock: unlock}, nil
}

func (lf *lockedFile) release() error {
	err := unix.Flock(int(lf.file.Fd()), unix.LOCK_UN)
	if closeErr := lf.file.Close(); err == nil {
		err = closeErr
	}
	lf.unlock()
	if err != nil {
		return errors.Wrap(err, "funlock")
	}
	return nil
}
