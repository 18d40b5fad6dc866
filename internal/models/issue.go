package models

import "time"

// IssuePriority represents the urgency of an issue.
type IssuePriority string

const (
	IssuePriorityNone   IssuePriority = "none"
	IssuePriorityLow    IssuePriority = "low"
	IssuePriorityMedium IssuePriority = "medium"
	IssuePriorityHigh   IssuePriority = "high"
	IssuePriorityUrgent IssuePriority = "urgent"
)

// ValidPriority reports whether p is one of the known priority values.
func ValidPriority(p IssuePriority) bool {
	switch p {
	case IssuePriorityNone, IssuePriorityLow, IssuePriorityMedium, IssuePriorityHigh, IssuePriorityUrgent:
		return true
	}
	return false
}

// IssueDifficulty is the S/M/L sizing tier of an issue. Empty means unsized.
type IssueDifficulty string

const (
	DifficultySmall  IssueDifficulty = "S"
	DifficultyMedium IssueDifficulty = "M"
	DifficultyLarge  IssueDifficulty = "L"
)

// ValidDifficulty reports whether d is empty or one of the known tiers.
func ValidDifficulty(d IssueDifficulty) bool {
	switch d {
	case "", DifficultySmall, DifficultyMedium, DifficultyLarge:
		return true
	}
	return false
}

// Assignee is a user assigned to an issue, with the display name cached
// at assignment time so listings don't need a directory lookup.
type Assignee struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// Issue is the unit of tracked work. Issues belong to a team, carry a
// team-scoped display number, and move through the team's workflow states.
type Issue struct {
	ID     string `json:"id"`
	TeamID string `json:"teamId"`
	Number int    `json:"number"`

	Title       string          `json:"title"`
	Description string          `json:"description"`
	Priority    IssuePriority   `json:"priority"`
	Difficulty  IssueDifficulty `json:"difficulty,omitempty"`
	DueDate     *time.Time      `json:"dueDate,omitempty"`

	Assignees []Assignee `json:"assignees"`
	ParentID  string     `json:"parentId,omitempty"`

	StateID      string     `json:"stateId"`
	ReviewerID   string     `json:"reviewerId,omitempty"`
	ReviewerName string     `json:"reviewerName,omitempty"`
	ReviewedAt   *time.Time `json:"reviewedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`

	ProjectID string   `json:"projectId,omitempty"`
	LabelIDs  []string `json:"labelIds,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PrimaryAssignee returns the first assignee, or nil when unassigned.
// The assignee list is the single source of truth; this accessor exists
// for consumers that still expect a single-assignee view.
func (i *Issue) PrimaryAssignee() *Assignee {
	if len(i.Assignees) == 0 {
		return nil
	}
	return &i.Assignees[0]
}

// HasAssignee reports whether userID is in the issue's assignee set.
func (i *Issue) HasAssignee(userID string) bool {
	for _, a := range i.Assignees {
		if a.UserID == userID {
			return true
		}
	}
	return false
}
