package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoopPrompt is a named instruction re-sent to the agent on every loop
// iteration. EndCondition, when non-empty, is the exact text whose
// appearance in a response ends the loop.
type LoopPrompt struct {
	Name         string `mapstructure:"name" yaml:"name" json:"name"`
	Prompt       string `mapstructure:"prompt" yaml:"prompt" json:"prompt"`
	EndCondition string `mapstructure:"end_condition" yaml:"end_condition" json:"end_condition"`
}

// FallbackLoopPrompt is used when a session's selected prompt name is not in
// the catalog.
var FallbackLoopPrompt = LoopPrompt{
	Name:         "default",
	Prompt:       "Continue working. When done, say 'LOOP_COMPLETE: Task finished.'",
	EndCondition: "LOOP_COMPLETE: Task finished.",
}

const completionSuffix = " When you have absolutely completed every requirement, including ones you think don't matter, respond with exactly: '%s'"

func builtin(name, body, end string) LoopPrompt {
	return LoopPrompt{Name: name, Prompt: body + fmt.Sprintf(completionSuffix, end), EndCondition: end}
}

// DefaultLoopPrompts returns the built-in prompt catalog.
func DefaultLoopPrompts() []LoopPrompt {
	return []LoopPrompt{
		builtin("TDD Quality",
			"Continue working on this task using TDD. Write tests first, then implement code to pass them. Verify code quality with mfcqi (target score >= 0.8).",
			"LOOP_COMPLETE: TDD quality goals achieved."),
		builtin("Code Review",
			"Review the code you just wrote. Look for bugs, security issues, performance problems, and style violations. Fix any issues you find.",
			"LOOP_COMPLETE: Code review finished."),
		builtin("Refactor",
			"Analyze the code you just wrote for opportunities to improve. Look for: duplicated code, overly complex logic, poor naming, violation of SOLID principles. Refactor where beneficial.",
			"LOOP_COMPLETE: Refactoring finished."),
		builtin("Documentation",
			"Review the code you just wrote for documentation quality. Add or improve: doc comments for all public functions and types, inline comments for complex logic, and precise parameter and return descriptions.",
			"LOOP_COMPLETE: Documentation complete."),
		builtin("Test Coverage",
			"Analyze test coverage for the code you just wrote. Write additional tests for: edge cases, error conditions, boundary values, integration scenarios. Aim for 100% coverage.",
			"LOOP_COMPLETE: Test coverage achieved."),
	}
}

// Catalog is an ordered, name-addressable set of loop prompts.
// Names are matched case-insensitively.
type Catalog struct {
	prompts []LoopPrompt
}

// NewCatalog builds a catalog. Later entries replace earlier ones with the
// same name, keeping the original position.
func NewCatalog(prompts ...LoopPrompt) *Catalog {
	c := &Catalog{}
	for _, p := range prompts {
		c.put(p)
	}
	return c
}

func (c *Catalog) put(p LoopPrompt) {
	for i := range c.prompts {
		if strings.EqualFold(c.prompts[i].Name, p.Name) {
			c.prompts[i] = p
			return
		}
	}
	c.prompts = append(c.prompts, p)
}

// Lookup returns the prompt registered under name.
func (c *Catalog) Lookup(name string) (LoopPrompt, bool) {
	for _, p := range c.prompts {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return LoopPrompt{}, false
}

// Resolve returns the prompt for name, or FallbackLoopPrompt.
func (c *Catalog) Resolve(name string) LoopPrompt {
	if p, ok := c.Lookup(name); ok {
		return p
	}
	return FallbackLoopPrompt
}

// Names returns the prompt names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.prompts))
	for i, p := range c.prompts {
		names[i] = p.Name
	}
	return names
}

// Prompts returns a copy of the catalog entries.
func (c *Catalog) Prompts() []LoopPrompt {
	return append([]LoopPrompt(nil), c.prompts...)
}

// Catalog builds the loop prompt catalog from LoopPrompts and, if set,
// LoopPromptsFile.
func (c *ContinuationConfig) Catalog() (*Catalog, error) {
	catalog := NewCatalog(c.LoopPrompts...)
	if c.LoopPromptsFile == "" {
		return catalog, nil
	}

	fromFile, err := LoadPromptFile(expandHome(c.LoopPromptsFile))
	if err != nil {
		return nil, err
	}
	for _, p := range fromFile {
		catalog.put(p)
	}
	return catalog, nil
}

// LoadPromptFile reads a prompt catalog file. The file is a YAML (or JSON)
// mapping of name to either {prompt, end_condition} or, in the legacy form,
// a bare prompt string with no end condition.
func LoadPromptFile(path string) ([]LoopPrompt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read loop prompts file: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse loop prompts file: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("loop prompts file %s: expected a mapping of name to prompt", path)
	}

	var prompts []LoopPrompt
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		value := root.Content[i+1]

		switch value.Kind {
		case yaml.ScalarNode:
			prompts = append(prompts, LoopPrompt{Name: name, Prompt: value.Value})
		case yaml.MappingNode:
			var p LoopPrompt
			if err := value.Decode(&p); err != nil {
				return nil, fmt.Errorf("loop prompt %q: %w", name, err)
			}
			p.Name = name
			prompts = append(prompts, p)
		default:
			return nil, fmt.Errorf("loop prompt %q: unsupported value", name)
		}
	}
	return prompts, nil
}
