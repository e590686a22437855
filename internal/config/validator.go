package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "continuation.timeout_minutes")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateStore()...)
	errors = append(errors, c.validateContinuation()...)
	errors = append(errors, c.validateReview()...)
	errors = append(errors, c.validateAgent()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateStore() []ValidationError {
	if strings.TrimSpace(c.Store.Dir) == "" {
		return []ValidationError{{
			Field:   "store.dir",
			Value:   c.Store.Dir,
			Message: "must not be empty",
		}}
	}
	return nil
}

func (c *Config) validateContinuation() []ValidationError {
	var errors []ValidationError
	cc := c.Continuation

	if cc.TimeoutMinutes <= 0 {
		errors = append(errors, ValidationError{
			Field:   "continuation.timeout_minutes",
			Value:   cc.TimeoutMinutes,
			Message: "must be positive",
		})
	}

	if cc.MaxLoopIterations <= 0 {
		errors = append(errors, ValidationError{
			Field:   "continuation.max_loop_iterations",
			Value:   cc.MaxLoopIterations,
			Message: "must be positive",
		})
	}

	if cc.SweepIntervalSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "continuation.sweep_interval_seconds",
			Value:   cc.SweepIntervalSeconds,
			Message: "must be positive",
		})
	}

	for i, phrase := range cc.CompletionPhrases {
		if strings.TrimSpace(phrase) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("continuation.completion_phrases[%d]", i),
				Value:   phrase,
				Message: "must not be blank",
			})
		}
	}

	seen := make(map[string]bool, len(cc.LoopPrompts))
	for i, p := range cc.LoopPrompts {
		field := fmt.Sprintf("continuation.loop_prompts[%d]", i)
		if strings.TrimSpace(p.Name) == "" {
			errors = append(errors, ValidationError{Field: field + ".name", Value: p.Name, Message: "must not be empty"})
			continue
		}
		key := strings.ToLower(p.Name)
		if seen[key] {
			errors = append(errors, ValidationError{Field: field + ".name", Value: p.Name, Message: "duplicate prompt name"})
		}
		seen[key] = true
		if strings.TrimSpace(p.Prompt) == "" {
			errors = append(errors, ValidationError{Field: field + ".prompt", Value: p.Prompt, Message: "must not be empty"})
		}
	}

	return errors
}

func (c *Config) validateReview() []ValidationError {
	if c.Review.MaxIterations < 1 {
		return []ValidationError{{
			Field:   "review.max_iterations",
			Value:   c.Review.MaxIterations,
			Message: "must be at least 1",
		}}
	}
	return nil
}

func (c *Config) validateAgent() []ValidationError {
	if strings.TrimSpace(c.Agent.Binary) == "" {
		return []ValidationError{{
			Field:   "agent.binary",
			Value:   c.Agent.Binary,
			Message: "must not be empty",
		}}
	}
	return nil
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative",
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
