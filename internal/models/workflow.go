package models

import "time"

// WorkflowType is the semantic category of a workflow state. Transition
// rules key on the type, never on the specific state id, so teams can
// name and multiply stages freely within a type.
type WorkflowType string

const (
	WorkflowBacklog   WorkflowType = "backlog"
	WorkflowUnstarted WorkflowType = "unstarted"
	WorkflowStarted   WorkflowType = "started"
	WorkflowReview    WorkflowType = "review"
	WorkflowCompleted WorkflowType = "completed"
	WorkflowCanceled  WorkflowType = "canceled"
)

// ValidWorkflowType reports whether t is one of the known state types.
func ValidWorkflowType(t WorkflowType) bool {
	switch t {
	case WorkflowBacklog, WorkflowUnstarted, WorkflowStarted, WorkflowReview, WorkflowCompleted, WorkflowCanceled:
		return true
	}
	return false
}

// WorkflowState is a named pipeline stage belonging to a team.
type WorkflowState struct {
	ID        string       `json:"id"`
	TeamID    string       `json:"teamId"`
	Name      string       `json:"name"`
	Type      WorkflowType `json:"type"`
	Position  int          `json:"position"`
	CreatedAt time.Time    `json:"createdAt"`
}
