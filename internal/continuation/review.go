package continuation

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/agentdash/internal/lifecycle"
	"github.com/Iron-Ham/agentdash/internal/session"
)

// ReviewCompleteMarker is the reply that ends a review cycle before its
// pass limit.
const ReviewCompleteMarker = "REVIEW_COMPLETE: No issues found."

// reviewFilesShown caps the file list in a review prompt.
const reviewFilesShown = 20

// reviewPrompt asks the agent to review its own unreviewed changes.
func reviewPrompt(s *session.Session) string {
	files := s.UnreviewedFiles()
	if len(files) == 0 {
		files = s.FilesChanged
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Review pass %d of %d. Review the changes you just made", s.ReviewIteration, s.MaxReviewIterations)
	if len(files) > 0 {
		sb.WriteString(" to:")
		for i, f := range files {
			if i == reviewFilesShown {
				fmt.Fprintf(&sb, "\n- ... and %d more", len(files)-reviewFilesShown)
				break
			}
			sb.WriteString("\n- ")
			sb.WriteString(f)
		}
		sb.WriteString("\n\n")
	} else {
		sb.WriteString(". ")
	}
	sb.WriteString("Look for bugs, missing tests and unhandled errors, then fix what you find.")
	if c := strings.TrimSpace(s.ReviewConstraints); c != "" {
		sb.WriteString("\n\nConstraints: ")
		sb.WriteString(c)
	}
	fmt.Fprintf(&sb, "\n\nIf nothing needs to change, respond with exactly: '%s'", ReviewCompleteMarker)
	return sb.String()
}

// reviewStep starts the next review pass on a session waiting for one and
// returns the prompt to send.
func (e *Engine) reviewStep(s *session.Session) string {
	if s.State != session.StateReviewPending {
		return ""
	}
	if res := e.transition(s, lifecycle.EventSpawnReviewer); !res.Success {
		return ""
	}
	return reviewPrompt(s)
}

// markSent records that a follow-up prompt reached the agent: ev moves
// the session from its prompting state to active.
func (e *Engine) markSent(ctx context.Context, id string, ev lifecycle.Event) {
	_, _, err := e.store.Update(ctx, id, func(s *session.Session) error {
		if res := e.transition(s, ev); !res.Success {
			return session.ErrSkipWrite
		}
		s.LastActivity = e.store.Now()
		return nil
	})
	if err != nil {
		e.logger.WithSession(id).Warn("failed to record sent prompt", "event", string(ev), "error", err)
	}
}

// finishReview sends a review prompt decided under the store lock. A
// failed spawn leaves the session under review for the sweep to recover.
func (e *Engine) finishReview(ctx context.Context, s *session.Session, prompt string) bool {
	if prompt == "" || !e.spawn(ctx, s, prompt, "review") {
		return false
	}
	e.markSent(ctx, s.ID, lifecycle.EventFeedbackSent)
	return true
}

// resume brings a session to active so a new turn or agent start can be
// recorded against it. Settled states are forced idle first; a pending
// follow-up prompt is taken as delivered. It returns the last transition.
func (e *Engine) resume(s *session.Session) lifecycle.Result {
	switch s.State {
	case session.StateUnderReview:
		return e.transition(s, lifecycle.EventFeedbackSent)
	case session.StateLoopPrompting:
		return e.transition(s, lifecycle.EventPromptSent)
	case session.StateTurnComplete, session.StateReviewPending, session.StateReadyForLoop:
		e.transition(s, lifecycle.EventForceIdle)
	}
	return e.transition(s, lifecycle.EventSessionStart)
}
