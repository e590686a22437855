package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/Iron-Ham/agentdash/internal/errors"
)

// PendingPromptsFileName holds initial prompts for sessions that have been
// requested but whose agent has not yet reported in.
const PendingPromptsFileName = "pending_prompts.json"

func (s *Store) pendingPath() string {
	return filepath.Join(s.dir, PendingPromptsFileName)
}

func (s *Store) readPending() map[string]string {
	prompts := make(map[string]string)
	data, err := os.ReadFile(s.pendingPath())
	if err != nil || len(data) == 0 {
		return prompts
	}
	if err := json.Unmarshal(data, &prompts); err != nil {
		s.logger.Warn("pending prompts file malformed, treating as empty", "error", err)
		return make(map[string]string)
	}
	return prompts
}

// withPending runs fn over the pending prompts under the store's exclusive
// lock, writing the map back when fn reports a change.
func (s *Store) withPending(ctx context.Context, fn func(map[string]string) bool) error {
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

	prompts := s.readPending()
	if !fn(prompts) {
		return nil
	}
	data, err := json.MarshalIndent(prompts, "", "  ")
	if err != nil {
		return errors.NewSessionError("failed to encode pending prompts", err)
	}
	if err := atomicWriteFile(s.pendingPath(), data, 0644); err != nil {
		return errors.NewSessionError("failed to write pending prompts", errors.Join(errors.ErrPersistFailed, err))
	}
	return nil
}

// SetPendingPrompt records the prompt that the next session started in
// workspaceRoot should open with, replacing any earlier one.
func (s *Store) SetPendingPrompt(ctx context.Context, workspaceRoot, prompt string) error {
	if workspaceRoot == "" {
		return errors.NewValidationError("workspace root required").WithField("workspace_root")
	}
	return s.withPending(ctx, func(m map[string]string) bool {
		m[workspaceRoot] = prompt
		return true
	})
}

// TakePendingPrompt returns and clears the pending prompt for
// workspaceRoot. It returns "" when there is none.
func (s *Store) TakePendingPrompt(ctx context.Context, workspaceRoot string) (string, error) {
	var prompt string
	err := s.withPending(ctx, func(m map[string]string) bool {
		p, ok := m[workspaceRoot]
		if !ok {
			return false
		}
		prompt = p
		delete(m, workspaceRoot)
		return true
	})
	return prompt, err
}
