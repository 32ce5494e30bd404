package errors

import (
	"fmt"
	"strings"
)

// ParseError represents a catalog or profile document that could not be
// decoded, with optional line metadata when the decoder reports one.
type ParseError struct {
	Path    string
	Line    int
	Message string
	Err     error
}

// NewParseError constructs a ParseError.
func NewParseError(path string, line int, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ParseError{Path: path, Line: line, Message: message, Err: err}
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}

	if e.Line > 0 {
		return fmt.Sprintf("parse error: %s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error: %s: %s", e.Path, e.Message)
}

// Unwrap exposes the underlying error.
func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ConfigError captures configuration problems found before any action runs.
// Issues accumulate so a single failed run reports every missing or invalid
// parameter, not just the first.
type ConfigError struct {
	Issues []ConfigIssue
	Err    error
}

// ConfigIssue is a single field-level configuration problem.
type ConfigIssue struct {
	Field   string
	Message string
}

// NewConfigError constructs a ConfigError from one issue.
func NewConfigError(field, message string, err error) error {
	return &ConfigError{Issues: []ConfigIssue{{Field: field, Message: message}}, Err: err}
}

// NewConfigErrors constructs a ConfigError aggregating multiple issues.
// Returns nil when the slice is empty.
func NewConfigErrors(issues []ConfigIssue) error {
	if len(issues) == 0 {
		return nil
	}
	return &ConfigError{Issues: issues}
}

func (e *ConfigError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "config error"
	}

	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		if issue.Field != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", issue.Field, issue.Message))
		} else {
			parts = append(parts, issue.Message)
		}
	}
	if len(parts) == 1 {
		return "config error: " + parts[0]
	}
	return fmt.Sprintf("config error (%d issues): %s", len(parts), strings.Join(parts, "; "))
}

// Unwrap exposes the underlying error.
func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CycleError reports a dependency cycle in the action catalog. Members holds
// the identifiers participating in the cycle, in traversal order.
type CycleError struct {
	Members []string
}

// NewCycleError constructs a CycleError naming the cycle's members.
func NewCycleError(members []string) error {
	return &CycleError{Members: append([]string(nil), members...)}
}

func (e *CycleError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Members) == 0 {
		return "dependency cycle detected"
	}
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Members, " -> "))
}

// ProbeError indicates the probe itself failed to query host state. The
// executor treats it as Absent with a warning rather than aborting the run.
type ProbeError struct {
	ActionID string
	Err      error
}

// NewProbeError constructs a ProbeError.
func NewProbeError(actionID string, err error) error {
	return &ProbeError{ActionID: actionID, Err: err}
}

func (e *ProbeError) Error() string {
	if e == nil {
		return ""
	}
	if e.ActionID != "" {
		return fmt.Sprintf("probe error on action %s: %v", e.ActionID, e.Err)
	}
	return fmt.Sprintf("probe error: %v", e.Err)
}

// Unwrap exposes the root error.
func (e *ProbeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ActionError represents a runtime failure while applying an action. Timeouts
// surface as an ActionError wrapping context.DeadlineExceeded.
type ActionError struct {
	ActionID string
	Err      error
}

// NewActionError constructs an ActionError.
func NewActionError(actionID string, err error) error {
	return &ActionError{ActionID: actionID, Err: err}
}

func (e *ActionError) Error() string {
	if e == nil {
		return ""
	}
	if e.ActionID != "" {
		return fmt.Sprintf("action error on %s: %v", e.ActionID, e.Err)
	}
	return fmt.Sprintf("action error: %v", e.Err)
}

// Unwrap exposes the root error.
func (e *ActionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RegistryError indicates issues with action type registration or lookup.
type RegistryError struct {
	ActionType string
	Message    string
	Err        error
}

// NewRegistryError constructs a RegistryError for the given action type.
func NewRegistryError(actionType string, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &RegistryError{ActionType: actionType, Message: message, Err: err}
}

func (e *RegistryError) Error() string {
	if e == nil {
		return ""
	}
	if e.ActionType != "" {
		return fmt.Sprintf("registry error [%s]: %s", e.ActionType, e.Message)
	}
	return fmt.Sprintf("registry error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *RegistryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
