package models

import "time"

// ActivityAction is the kind of mutation an activity record documents.
type ActivityAction string

const (
	ActivityCreated       ActivityAction = "created"
	ActivityUpdated       ActivityAction = "updated"
	ActivityStatusChanged ActivityAction = "status_changed"
	ActivityAssigned      ActivityAction = "assigned"
	ActivityReassigned    ActivityAction = "reassigned"
	ActivitySentToReview  ActivityAction = "sent_to_review"
	ActivityApproved      ActivityAction = "approved"
	ActivitySentBack      ActivityAction = "sent_back"
	ActivityParentChanged ActivityAction = "parent_changed"
	ActivityLabelsChanged ActivityAction = "labels_changed"
)

// Metadata keys used by review-related activities.
const (
	MetaReviewer = "reviewer"
	MetaReason   = "reason"
)

// IssueActivity is one append-only record of an accepted issue mutation.
// Records are written in the same transaction as the mutation they document
// and are never updated or individually deleted afterward.
type IssueActivity struct {
	ID        string            `json:"id"`
	IssueID   string            `json:"issueId"`
	ActorID   string            `json:"actorId"`
	ActorName string            `json:"actorName"`
	Action    ActivityAction    `json:"action"`
	Field     string            `json:"field,omitempty"`
	OldValue  string            `json:"oldValue,omitempty"`
	NewValue  string            `json:"newValue,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}
