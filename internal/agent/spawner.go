// Package agent launches agent CLI processes that resume or start
// conversations on the continuation engine's behalf.
package agent

import (
	"context"
	"os/exec"
	"syscall"

	"github.com/Iron-Ham/agentdash/internal/errors"
	"github.com/Iron-Ham/agentdash/internal/logging"
)

// DefaultBinary is the agent CLI used when none is configured.
const DefaultBinary = "auggie"

var execLookPath = exec.LookPath

// ProcessSpawner starts detached agent processes. Spawned processes run in
// their own session with no stdio attached and are never waited on by the
// caller; a background goroutine reaps them.
type ProcessSpawner struct {
	binary string
	logger *logging.Logger
}

// NewProcessSpawner returns a spawner for binary (DefaultBinary when empty).
func NewProcessSpawner(binary string, logger *logging.Logger) *ProcessSpawner {
	if binary == "" {
		binary = DefaultBinary
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &ProcessSpawner{binary: binary, logger: logger.WithComponent("spawner")}
}

// Spawn resumes conversationID in workspaceRoot with message as the next
// user input.
func (p *ProcessSpawner) Spawn(ctx context.Context, conversationID, workspaceRoot, message string) error {
	if conversationID == "" {
		return errors.NewSpawnError("conversation id required", errors.ErrInvalidInput).WithWorkspace(workspaceRoot)
	}
	err := p.start(ctx, workspaceRoot, "--resume", conversationID, "--print", message)
	var se *errors.SpawnError
	if errors.As(err, &se) {
		return se.WithConversation(conversationID)
	}
	return err
}

// SpawnNew starts a fresh conversation in workspaceRoot.
func (p *ProcessSpawner) SpawnNew(ctx context.Context, workspaceRoot, prompt string) error {
	return p.start(ctx, workspaceRoot, "--print", prompt)
}

func (p *ProcessSpawner) start(ctx context.Context, workspaceRoot string, args ...string) error {
	if workspaceRoot == "" {
		return errors.NewSpawnError("workspace root required", errors.ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return errors.NewSpawnError("spawn cancelled", err).WithWorkspace(workspaceRoot)
	}

	path, err := execLookPath(p.binary)
	if err != nil {
		p.logger.Warn("agent binary not found", "binary", p.binary)
		return errors.NewSpawnError(p.binary+" not found in PATH", errors.ErrAgentNotInstalled).
			WithWorkspace(workspaceRoot).
			WithRetryable(false)
	}

	cmd := command(path, workspaceRoot, args...)
	if err := cmd.Start(); err != nil {
		return errors.NewSpawnError("failed to start agent", err).WithWorkspace(workspaceRoot)
	}

	pid := cmd.Process.Pid
	p.logger.Info("spawned agent", "pid", pid, "workspace", workspaceRoot, "args", args[:len(args)-1])
	go func() {
		if err := cmd.Wait(); err != nil {
			p.logger.Warn("agent exited with error", "pid", pid, "error", err)
			return
		}
		p.logger.Debug("agent exited", "pid", pid)
	}()
	return nil
}

// command builds the detached process. The context is deliberately not
// attached: the agent must outlive the caller.
func command(path, dir string, args ...string) *exec.Cmd {
	cmd := exec.Command(path, args...)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	return cmd
}
