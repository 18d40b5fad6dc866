package workflow

import (
	"fmt"
	"strings"
)

// ValidationError reports missing or malformed input at creation/update
// time. Missing lists every violated field, not just the first.
type ValidationError struct {
	Missing []string
	Reason  string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("validation failed: missing required fields: %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// StateViolationError reports an illegal workflow transition, such as a
// direct move to a done-type stage, a missing or self reviewer, or a
// send-back without a sufficient reason.
type StateViolationError struct {
	Reason string
}

func (e *StateViolationError) Error() string {
	return fmt.Sprintf("state violation: %s", e.Reason)
}

// LockViolationError reports a field mutation attempted while the issue
// is locked under review. Only the workflow state and the reviewer may
// change while locked.
type LockViolationError struct {
	Fields []Field
}

func (e *LockViolationError) Error() string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = string(f)
	}
	return fmt.Sprintf("issue is locked under review; cannot change: %s", strings.Join(names, ", "))
}

// AuthorizationError reports an actor lacking the role or relationship an
// action requires.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("not authorized: %s", e.Reason)
}

// StructuralIntegrityError reports a parent/child cycle.
type StructuralIntegrityError struct {
	Reason string
}

func (e *StructuralIntegrityError) Error() string {
	return fmt.Sprintf("structural integrity: %s", e.Reason)
}
