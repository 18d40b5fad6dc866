package workflow

import (
	"time"

	"github.com/gatekit/trk/internal/models"
)

// Field tags one kind of issue change. The set is closed: the review lock
// is checked against these tags, so a field the engine doesn't know about
// can never slip past the lock.
type Field string

const (
	FieldTitle       Field = "title"
	FieldDescription Field = "description"
	FieldPriority    Field = "priority"
	FieldDifficulty  Field = "difficulty"
	FieldDueDate     Field = "due_date"
	FieldAssignees   Field = "assignees"
	FieldLabels      Field = "labels"
	FieldParent      Field = "parent"
	FieldProject     Field = "project"
	FieldState       Field = "state"
	FieldReviewer    Field = "reviewer"
)

// lockAllowed is the permitted field set while an issue sits in a
// review-type stage: the review decision itself and reviewer handoff.
var lockAllowed = map[Field]bool{
	FieldState:    true,
	FieldReviewer: true,
}

// Patch is a structured set of requested issue changes. Nil pointers mean
// "leave unchanged"; the Remove flags clear optional values explicitly.
type Patch struct {
	Title       *string
	Description *string
	Priority    *models.IssuePriority
	Difficulty  *models.IssueDifficulty

	DueDate       *time.Time
	RemoveDueDate bool

	Assignees *[]string // ordered user ids
	Labels    *[]string // label ids

	ParentID     *string
	RemoveParent bool

	ProjectID     *string
	RemoveProject bool

	StateID    *string
	ReviewerID *string

	// Reason accompanies a send-back decision (review -> unstarted/started).
	Reason string
}

// Fields returns the tags of all fields the patch touches, in a fixed
// order.
func (p *Patch) Fields() []Field {
	var fields []Field
	if p.Title != nil {
		fields = append(fields, FieldTitle)
	}
	if p.Description != nil {
		fields = append(fields, FieldDescription)
	}
	if p.Priority != nil {
		fields = append(fields, FieldPriority)
	}
	if p.Difficulty != nil {
		fields = append(fields, FieldDifficulty)
	}
	if p.DueDate != nil || p.RemoveDueDate {
		fields = append(fields, FieldDueDate)
	}
	if p.Assignees != nil {
		fields = append(fields, FieldAssignees)
	}
	if p.Labels != nil {
		fields = append(fields, FieldLabels)
	}
	if p.ParentID != nil || p.RemoveParent {
		fields = append(fields, FieldParent)
	}
	if p.ProjectID != nil || p.RemoveProject {
		fields = append(fields, FieldProject)
	}
	if p.StateID != nil {
		fields = append(fields, FieldState)
	}
	if p.ReviewerID != nil {
		fields = append(fields, FieldReviewer)
	}
	return fields
}

// Empty reports whether the patch requests no changes at all.
func (p *Patch) Empty() bool {
	return len(p.Fields()) == 0
}
