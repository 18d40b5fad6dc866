// Package workflow implements the review-gated issue state machine: every
// issue must pass through a review-type stage before it can reach a
// done-type stage, issues are locked while under review, and every
// accepted mutation writes an activity record in the same transaction.
package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gatekit/trk/internal/directory"
	"github.com/gatekit/trk/internal/models"
	"github.com/gatekit/trk/internal/store"
)

// minReasonLen is the minimum length of a send-back rejection reason.
const minReasonLen = 10

// Engine validates and applies all issue mutations.
type Engine struct {
	store store.Store
	dir   directory.Resolver
	now   func() time.Time
}

// NewEngine creates a workflow engine over the given store and directory.
func NewEngine(s store.Store, dir directory.Resolver) *Engine {
	return &Engine{store: s, dir: dir, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock replaces the time source, for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// resolveActor loads the acting user and their role in the team. A
// non-member actor is an authorization failure.
func (e *Engine) resolveActor(ctx context.Context, teamID, actorID string) (*models.User, models.Role, error) {
	user, err := e.dir.ResolveUser(ctx, actorID)
	if err != nil {
		return nil, models.RoleNone, err
	}
	role, err := e.dir.RoleOf(ctx, teamID, actorID)
	if err != nil {
		return nil, models.RoleNone, err
	}
	if role == models.RoleNone {
		return nil, models.RoleNone, &AuthorizationError{Reason: fmt.Sprintf("user %s is not a member of the team", actorID)}
	}
	return user, role, nil
}

func (e *Engine) teamStates(ctx context.Context, teamID string) ([]*models.WorkflowState, map[string]*models.WorkflowState, error) {
	states, err := e.store.ListWorkflowStates(ctx, teamID)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[string]*models.WorkflowState, len(states))
	for _, st := range states {
		byID[st.ID] = st
	}
	return states, byID, nil
}

// firstStateOfType returns the lowest-position state with any of the given
// types, or nil. The states slice is already position-ordered.
func firstStateOfType(states []*models.WorkflowState, types ...models.WorkflowType) *models.WorkflowState {
	for _, typ := range types {
		for _, st := range states {
			if st.Type == typ {
				return st
			}
		}
	}
	return nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func assigneeNames(as []models.Assignee) string {
	names := make([]string, len(as))
	for i, a := range as {
		names[i] = a.Name
	}
	return strings.Join(names, ", ")
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func sameStringSlice(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// CreateIssueInput carries the fields for issue creation. Strict enables
// the full mandatory-field validation of the guided creation path.
type CreateIssueInput struct {
	Title       string
	Description string
	Priority    models.IssuePriority
	Difficulty  models.IssueDifficulty
	DueDate     *time.Time
	StateID     string
	Assignees   []string
	Labels      []string
	ParentID    string
	ProjectID   string
	Strict      bool
}

// CreateIssue validates the input, allocates a team-scoped number, and
// inserts the issue together with its creation activity record.
func (e *Engine) CreateIssue(ctx context.Context, teamID string, in CreateIssueInput, actorID string) (*models.Issue, error) {
	actor, _, err := e.resolveActor(ctx, teamID, actorID)
	if err != nil {
		return nil, err
	}

	if in.Strict {
		var missing []string
		if strings.TrimSpace(in.Title) == "" {
			missing = append(missing, string(FieldTitle))
		}
		if in.StateID == "" {
			missing = append(missing, string(FieldState))
		}
		if len(in.Assignees) == 0 {
			missing = append(missing, string(FieldAssignees))
		}
		if in.DueDate == nil {
			missing = append(missing, string(FieldDueDate))
		}
		if len(in.Labels) == 0 {
			missing = append(missing, string(FieldLabels))
		}
		if in.Difficulty == "" {
			missing = append(missing, string(FieldDifficulty))
		}
		if len(missing) > 0 {
			return nil, &ValidationError{Missing: missing}
		}
	} else if strings.TrimSpace(in.Title) == "" {
		return nil, &ValidationError{Missing: []string{string(FieldTitle)}}
	}

	if in.Priority == "" {
		in.Priority = models.IssuePriorityNone
	}
	if !models.ValidPriority(in.Priority) {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown priority %q", in.Priority)}
	}
	if !models.ValidDifficulty(in.Difficulty) {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown difficulty %q", in.Difficulty)}
	}

	stateID := in.StateID
	if stateID == "" {
		team, err := e.store.GetTeam(ctx, teamID)
		if err != nil {
			return nil, err
		}
		stateID = team.DefaultStateID
	}
	if stateID == "" {
		return nil, &ValidationError{Reason: "team has no default workflow state; specify one"}
	}
	state, err := e.store.GetWorkflowState(ctx, stateID)
	if err != nil {
		return nil, err
	}
	if state.TeamID != teamID {
		return nil, fmt.Errorf("workflow state %s: %w", stateID, store.ErrNotFound)
	}
	switch state.Type {
	case models.WorkflowReview, models.WorkflowCompleted:
		return nil, &StateViolationError{Reason: fmt.Sprintf("issues cannot be created directly in a %s-type stage", state.Type)}
	}

	assignees, err := e.resolveAssignees(ctx, in.Assignees)
	if err != nil {
		return nil, err
	}

	if in.ParentID != "" {
		if _, err := e.store.GetIssue(ctx, teamID, in.ParentID); err != nil {
			return nil, err
		}
	}
	if in.ProjectID != "" {
		if _, err := e.store.GetProject(ctx, teamID, in.ProjectID); err != nil {
			return nil, err
		}
	}
	if len(in.Labels) > 0 {
		labels, err := e.teamLabels(ctx, teamID)
		if err != nil {
			return nil, err
		}
		if err := validateLabels(labels, in.ProjectID, in.Labels); err != nil {
			return nil, err
		}
	}

	issue := &models.Issue{
		TeamID:      teamID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Priority:    in.Priority,
		Difficulty:  in.Difficulty,
		DueDate:     in.DueDate,
		Assignees:   assignees,
		ParentID:    in.ParentID,
		StateID:     state.ID,
		ProjectID:   in.ProjectID,
		LabelIDs:    in.Labels,
	}

	created := &models.IssueActivity{
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Action:    models.ActivityCreated,
		NewValue:  issue.Title,
		CreatedAt: e.now(),
	}
	if err := e.store.CreateIssue(ctx, issue, []*models.IssueActivity{created}); err != nil {
		return nil, err
	}
	return issue, nil
}

func (e *Engine) resolveAssignees(ctx context.Context, userIDs []string) ([]models.Assignee, error) {
	var assignees []models.Assignee
	for _, id := range userIDs {
		user, err := e.dir.ResolveUser(ctx, id)
		if err != nil {
			return nil, err
		}
		assignees = append(assignees, models.Assignee{UserID: user.ID, Name: user.Name})
	}
	return assignees, nil
}

// teamLabels loads all of a team's labels keyed by id. Label checks and
// activity naming work from this map so nothing inside a store mutation
// callback needs another connection.
func (e *Engine) teamLabels(ctx context.Context, teamID string) (map[string]*models.Label, error) {
	all, err := e.store.ListLabels(ctx, teamID, "")
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Label, len(all))
	for _, l := range all {
		byID[l.ID] = l
	}
	return byID, nil
}

// validateLabels checks that every label exists and belongs to projectID.
func validateLabels(labels map[string]*models.Label, projectID string, labelIDs []string) error {
	if len(labelIDs) == 0 {
		return nil
	}
	if projectID == "" {
		return &ValidationError{Reason: "an issue without a project cannot hold labels"}
	}
	for _, id := range labelIDs {
		label := labels[id]
		if label == nil {
			return fmt.Errorf("label %s: %w", id, store.ErrNotFound)
		}
		if label.ProjectID != projectID {
			return &ValidationError{Reason: fmt.Sprintf("label %q belongs to a different project", label.Name)}
		}
	}
	return nil
}

// labelNames resolves label ids to a display string for activity records.
func labelNames(labels map[string]*models.Label, labelIDs []string) string {
	names := make([]string, 0, len(labelIDs))
	for _, id := range labelIDs {
		if label := labels[id]; label != nil {
			names = append(names, label.Name)
		}
	}
	return strings.Join(names, ", ")
}

// UpdateIssue applies a structured patch under the workflow rules: the
// review lock, the review gate, reviewer validation, parent cycle checks,
// and label/project consistency. Every accepted change appends activity
// records in the same transaction as the write.
func (e *Engine) UpdateIssue(ctx context.Context, teamID, issueID, actorID string, patch Patch) (*models.Issue, error) {
	actor, role, err := e.resolveActor(ctx, teamID, actorID)
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return e.store.GetIssue(ctx, teamID, issueID)
	}

	_, statesByID, err := e.teamStates(ctx, teamID)
	if err != nil {
		return nil, err
	}

	// Resolve everything that needs lookups before entering the
	// transaction; the lock and transition checks themselves run against
	// the row as read inside it.
	var newAssignees []models.Assignee
	if patch.Assignees != nil {
		newAssignees, err = e.resolveAssignees(ctx, *patch.Assignees)
		if err != nil {
			return nil, err
		}
	}

	var reviewer *models.User
	var reviewerIsMember bool
	if patch.ReviewerID != nil && *patch.ReviewerID != "" {
		reviewer, err = e.dir.ResolveUser(ctx, *patch.ReviewerID)
		if err != nil {
			return nil, err
		}
		reviewerRole, err := e.dir.RoleOf(ctx, teamID, reviewer.ID)
		if err != nil {
			return nil, err
		}
		reviewerIsMember = reviewerRole != models.RoleNone
	}

	var newState *models.WorkflowState
	if patch.StateID != nil {
		newState = statesByID[*patch.StateID]
		if newState == nil {
			return nil, fmt.Errorf("workflow state %s: %w", *patch.StateID, store.ErrNotFound)
		}
	}

	var parents map[string]string
	if patch.ParentID != nil && *patch.ParentID != "" {
		if _, err := e.store.GetIssue(ctx, teamID, *patch.ParentID); err != nil {
			return nil, err
		}
		parents, err = e.store.ListIssueParents(ctx, teamID)
		if err != nil {
			return nil, err
		}
	}

	if patch.ProjectID != nil && *patch.ProjectID != "" {
		if _, err := e.store.GetProject(ctx, teamID, *patch.ProjectID); err != nil {
			return nil, err
		}
	}

	var labels map[string]*models.Label
	if patch.Labels != nil || patch.ProjectID != nil || patch.RemoveProject {
		labels, err = e.teamLabels(ctx, teamID)
		if err != nil {
			return nil, err
		}
	}

	return e.store.MutateIssue(ctx, teamID, issueID, func(m *store.IssueMutation) error {
		cur := m.Issue()
		curState := statesByID[cur.StateID]
		if curState == nil {
			return fmt.Errorf("issue %s references unknown workflow state %s", cur.ID, cur.StateID)
		}

		changed := e.effectiveChanges(cur, patch, newAssignees)
		if len(changed) == 0 {
			return nil
		}

		// Review lock: while the issue sits in a review-type stage, only
		// the review decision and reviewer handoff may change. Checked
		// against the stage as read in this transaction.
		if curState.Type == models.WorkflowReview {
			var blocked []Field
			for _, f := range changed {
				if !lockAllowed[f] {
					blocked = append(blocked, f)
				}
			}
			if len(blocked) > 0 {
				return &LockViolationError{Fields: blocked}
			}
		}

		for _, f := range changed {
			switch f {
			case FieldTitle:
				e.logUpdate(m, actor, f, cur.Title, *patch.Title)
				cur.Title = *patch.Title
			case FieldDescription:
				e.logUpdate(m, actor, f, cur.Description, *patch.Description)
				cur.Description = *patch.Description
			case FieldPriority:
				if !models.ValidPriority(*patch.Priority) {
					return &ValidationError{Reason: fmt.Sprintf("unknown priority %q", *patch.Priority)}
				}
				e.logUpdate(m, actor, f, string(cur.Priority), string(*patch.Priority))
				cur.Priority = *patch.Priority
			case FieldDifficulty:
				if !models.ValidDifficulty(*patch.Difficulty) {
					return &ValidationError{Reason: fmt.Sprintf("unknown difficulty %q", *patch.Difficulty)}
				}
				e.logUpdate(m, actor, f, string(cur.Difficulty), string(*patch.Difficulty))
				cur.Difficulty = *patch.Difficulty
			case FieldDueDate:
				var next *time.Time
				if !patch.RemoveDueDate {
					next = patch.DueDate
				}
				e.logUpdate(m, actor, f, formatDate(cur.DueDate), formatDate(next))
				cur.DueDate = next
			case FieldAssignees:
				m.Append(&models.IssueActivity{
					ActorID:   actor.ID,
					ActorName: actor.Name,
					Action:    models.ActivityAssigned,
					Field:     string(FieldAssignees),
					OldValue:  assigneeNames(cur.Assignees),
					NewValue:  assigneeNames(newAssignees),
					CreatedAt: e.now(),
				})
				cur.Assignees = newAssignees
			case FieldParent:
				next := ""
				if !patch.RemoveParent {
					next = *patch.ParentID
				}
				if next != "" {
					if err := checkParentCycle(cur.ID, next, parents); err != nil {
						return err
					}
				}
				m.Append(&models.IssueActivity{
					ActorID:   actor.ID,
					ActorName: actor.Name,
					Action:    models.ActivityParentChanged,
					Field:     string(FieldParent),
					OldValue:  cur.ParentID,
					NewValue:  next,
					CreatedAt: e.now(),
				})
				cur.ParentID = next
			case FieldProject:
				next := ""
				if !patch.RemoveProject {
					next = *patch.ProjectID
				}
				e.logUpdate(m, actor, f, cur.ProjectID, next)
				cur.ProjectID = next
				// Moving between projects reallocates the display number
				// at the team's current maximum; the old number is not
				// preserved.
				n, err := m.NextNumber()
				if err != nil {
					return err
				}
				cur.Number = n
				// Labels are project-scoped; a project change drops them
				// unless the patch supplies a replacement set.
				if patch.Labels == nil && len(cur.LabelIDs) > 0 {
					m.Append(&models.IssueActivity{
						ActorID:   actor.ID,
						ActorName: actor.Name,
						Action:    models.ActivityLabelsChanged,
						Field:     string(FieldLabels),
						OldValue:  labelNames(labels, cur.LabelIDs),
						NewValue:  "",
						CreatedAt: e.now(),
					})
					cur.LabelIDs = nil
				}
			case FieldLabels:
				if err := validateLabels(labels, effectiveProject(cur, patch), *patch.Labels); err != nil {
					return err
				}
				m.Append(&models.IssueActivity{
					ActorID:   actor.ID,
					ActorName: actor.Name,
					Action:    models.ActivityLabelsChanged,
					Field:     string(FieldLabels),
					OldValue:  labelNames(labels, cur.LabelIDs),
					NewValue:  labelNames(labels, *patch.Labels),
					CreatedAt: e.now(),
				})
				cur.LabelIDs = *patch.Labels
			case FieldState:
				if err := e.applyTransition(m, cur, curState, newState, patch, actor, role, reviewer, reviewerIsMember); err != nil {
					return err
				}
				curState = newState
			case FieldReviewer:
				if err := e.reassignReviewer(m, cur, curState, actor, reviewer, reviewerIsMember); err != nil {
					return err
				}
			}
		}

		// Invariants: completedAt is non-nil only while in a done-type
		// stage; reviewer fields are set only while in a review-type stage.
		finalState := statesByID[cur.StateID]
		if finalState.Type != models.WorkflowCompleted {
			cur.CompletedAt = nil
		}
		if finalState.Type != models.WorkflowReview {
			cur.ReviewerID = ""
			cur.ReviewerName = ""
		}
		return nil
	})
}

// effectiveChanges filters the patch down to fields that actually differ
// from the issue's current values, so no-op edits produce no writes and
// no activity noise.
func (e *Engine) effectiveChanges(cur *models.Issue, patch Patch, newAssignees []models.Assignee) []Field {
	var changed []Field
	for _, f := range patch.Fields() {
		switch f {
		case FieldTitle:
			if *patch.Title != cur.Title {
				changed = append(changed, f)
			}
		case FieldDescription:
			if *patch.Description != cur.Description {
				changed = append(changed, f)
			}
		case FieldPriority:
			if *patch.Priority != cur.Priority {
				changed = append(changed, f)
			}
		case FieldDifficulty:
			if *patch.Difficulty != cur.Difficulty {
				changed = append(changed, f)
			}
		case FieldDueDate:
			var next *time.Time
			if !patch.RemoveDueDate {
				next = patch.DueDate
			}
			if !sameTime(cur.DueDate, next) {
				changed = append(changed, f)
			}
		case FieldAssignees:
			curIDs := make([]string, len(cur.Assignees))
			for i, a := range cur.Assignees {
				curIDs[i] = a.UserID
			}
			newIDs := make([]string, len(newAssignees))
			for i, a := range newAssignees {
				newIDs[i] = a.UserID
			}
			if !sameStringSlice(curIDs, newIDs) {
				changed = append(changed, f)
			}
		case FieldLabels:
			if !sameStringSet(cur.LabelIDs, *patch.Labels) {
				changed = append(changed, f)
			}
		case FieldParent:
			next := ""
			if !patch.RemoveParent {
				next = *patch.ParentID
			}
			if next != cur.ParentID {
				changed = append(changed, f)
			}
		case FieldProject:
			next := ""
			if !patch.RemoveProject {
				next = *patch.ProjectID
			}
			if next != cur.ProjectID {
				changed = append(changed, f)
			}
		case FieldState:
			if *patch.StateID != cur.StateID {
				changed = append(changed, f)
			}
		case FieldReviewer:
			// A reviewer accompanying a state change into review is
			// consumed by the transition, not treated as a reassignment.
			if patch.StateID != nil && *patch.StateID != cur.StateID {
				continue
			}
			if *patch.ReviewerID != cur.ReviewerID {
				changed = append(changed, f)
			}
		}
	}
	return changed
}

func effectiveProject(cur *models.Issue, patch Patch) string {
	if patch.RemoveProject {
		return ""
	}
	if patch.ProjectID != nil {
		return *patch.ProjectID
	}
	return cur.ProjectID
}

func (e *Engine) logUpdate(m *store.IssueMutation, actor *models.User, field Field, oldVal, newVal string) {
	m.Append(&models.IssueActivity{
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Action:    models.ActivityUpdated,
		Field:     string(field),
		OldValue:  oldVal,
		NewValue:  newVal,
		CreatedAt: e.now(),
	})
}

// applyTransition moves the issue between workflow stages, enforcing the
// review gate and recording the matching activity kind.
func (e *Engine) applyTransition(m *store.IssueMutation, cur *models.Issue, from, to *models.WorkflowState, patch Patch, actor *models.User, role models.Role, reviewer *models.User, reviewerIsMember bool) error {
	now := e.now()

	// The gate: done-type stages are reachable from review only.
	if to.Type == models.WorkflowCompleted && from.Type != models.WorkflowReview {
		return &StateViolationError{Reason: fmt.Sprintf("cannot move %q to %q: a done stage is only reachable from review", from.Name, to.Name)}
	}

	switch {
	case from.Type != models.WorkflowReview && to.Type == models.WorkflowReview:
		// Entering review requires a valid, non-assignee reviewer.
		if reviewer == nil {
			return &StateViolationError{Reason: "a reviewer is required to send an issue to review"}
		}
		if !reviewerIsMember {
			return &StateViolationError{Reason: fmt.Sprintf("reviewer %s is not a member of the team", reviewer.ID)}
		}
		if cur.HasAssignee(reviewer.ID) {
			return &StateViolationError{Reason: "an assignee cannot review their own issue"}
		}
		cur.ReviewerID = reviewer.ID
		cur.ReviewerName = reviewer.Name
		cur.ReviewedAt = &now
		cur.CompletedAt = nil
		m.Append(&models.IssueActivity{
			ActorID:   actor.ID,
			ActorName: actor.Name,
			Action:    models.ActivitySentToReview,
			Field:     string(FieldState),
			OldValue:  from.Name,
			NewValue:  to.Name,
			Metadata:  map[string]string{models.MetaReviewer: reviewer.Name},
			CreatedAt: now,
		})

	case from.Type == models.WorkflowReview && to.Type != models.WorkflowReview:
		// A review decision: only the recorded reviewer or an elevated
		// role may take it, whatever the direction.
		if !role.Elevated() && actor.ID != cur.ReviewerID {
			return &AuthorizationError{Reason: "only the assigned reviewer or a team owner/admin can decide a review"}
		}
		switch to.Type {
		case models.WorkflowCompleted:
			cur.CompletedAt = &now
			m.Append(&models.IssueActivity{
				ActorID:   actor.ID,
				ActorName: actor.Name,
				Action:    models.ActivityApproved,
				Field:     string(FieldState),
				OldValue:  from.Name,
				NewValue:  to.Name,
				CreatedAt: now,
			})
		case models.WorkflowUnstarted, models.WorkflowStarted:
			reason := strings.TrimSpace(patch.Reason)
			if len(reason) < minReasonLen {
				return &StateViolationError{Reason: fmt.Sprintf("sending an issue back requires a reason of at least %d characters", minReasonLen)}
			}
			m.Append(&models.IssueActivity{
				ActorID:   actor.ID,
				ActorName: actor.Name,
				Action:    models.ActivitySentBack,
				Field:     string(FieldState),
				OldValue:  from.Name,
				NewValue:  to.Name,
				Metadata:  map[string]string{models.MetaReason: reason},
				CreatedAt: now,
			})
		default:
			m.Append(&models.IssueActivity{
				ActorID:   actor.ID,
				ActorName: actor.Name,
				Action:    models.ActivityStatusChanged,
				Field:     string(FieldState),
				OldValue:  from.Name,
				NewValue:  to.Name,
				CreatedAt: now,
			})
		}
		cur.ReviewerID = ""
		cur.ReviewerName = ""

	default:
		// Including review -> review (renamed stage of the same type),
		// which keeps the reviewer in place.
		if from.Type == models.WorkflowCompleted {
			cur.CompletedAt = nil
		}
		m.Append(&models.IssueActivity{
			ActorID:   actor.ID,
			ActorName: actor.Name,
			Action:    models.ActivityStatusChanged,
			Field:     string(FieldState),
			OldValue:  from.Name,
			NewValue:  to.Name,
			CreatedAt: now,
		})
	}

	cur.StateID = to.ID
	return nil
}

// reassignReviewer hands the review to a different reviewer without
// leaving the review stage. No reason is required.
func (e *Engine) reassignReviewer(m *store.IssueMutation, cur *models.Issue, curState *models.WorkflowState, actor *models.User, reviewer *models.User, reviewerIsMember bool) error {
	if curState.Type != models.WorkflowReview {
		return &StateViolationError{Reason: "a reviewer can only be assigned while the issue is in review"}
	}
	if reviewer == nil {
		return &StateViolationError{Reason: "a reviewer is required"}
	}
	if !reviewerIsMember {
		return &StateViolationError{Reason: fmt.Sprintf("reviewer %s is not a member of the team", reviewer.ID)}
	}
	if cur.HasAssignee(reviewer.ID) {
		return &StateViolationError{Reason: "an assignee cannot review their own issue"}
	}
	m.Append(&models.IssueActivity{
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Action:    models.ActivityReassigned,
		Field:     string(FieldReviewer),
		OldValue:  cur.ReviewerName,
		NewValue:  reviewer.Name,
		Metadata:  map[string]string{models.MetaReviewer: reviewer.Name},
		CreatedAt: e.now(),
	})
	cur.ReviewerID = reviewer.ID
	cur.ReviewerName = reviewer.Name
	return nil
}

// checkParentCycle rejects self-parenting and ancestor cycles using the
// preloaded id -> parent adjacency for the team.
func checkParentCycle(issueID, newParentID string, parents map[string]string) error {
	if newParentID == issueID {
		return &StructuralIntegrityError{Reason: "an issue cannot be its own parent"}
	}
	seen := make(map[string]bool)
	for cur := newParentID; cur != ""; cur = parents[cur] {
		if cur == issueID {
			return &StructuralIntegrityError{Reason: "setting this parent would create a cycle"}
		}
		if seen[cur] {
			// Pre-existing cycle in stored data; refuse to extend it.
			return &StructuralIntegrityError{Reason: "parent chain already contains a cycle"}
		}
		seen[cur] = true
	}
	return nil
}

// Decision is a review outcome.
type Decision string

const (
	DecisionApprove  Decision = "approve"
	DecisionSendBack Decision = "send_back"
	DecisionReassign Decision = "reassign"
)

// DecisionInput carries the optional parameters of a review decision.
type DecisionInput struct {
	TargetStateID string
	ReviewerID    string
	Reason        string
}

// ReviewDecision performs an approve, send-back, or reviewer reassignment
// on an issue under review. Target stages default to the team's first
// done-type stage (approve) or first started/unstarted-type stage
// (send back).
func (e *Engine) ReviewDecision(ctx context.Context, teamID, issueID, actorID string, decision Decision, in DecisionInput) (*models.Issue, error) {
	states, statesByID, err := e.teamStates(ctx, teamID)
	if err != nil {
		return nil, err
	}

	var patch Patch
	switch decision {
	case DecisionApprove:
		target := firstStateOfType(states, models.WorkflowCompleted)
		if in.TargetStateID != "" {
			target = statesByID[in.TargetStateID]
			if target == nil {
				return nil, fmt.Errorf("workflow state %s: %w", in.TargetStateID, store.ErrNotFound)
			}
		}
		if target == nil {
			return nil, &StateViolationError{Reason: "team has no done-type stage to approve into"}
		}
		if target.Type != models.WorkflowCompleted {
			return nil, &StateViolationError{Reason: fmt.Sprintf("approve target %q is not a done-type stage", target.Name)}
		}
		patch.StateID = &target.ID

	case DecisionSendBack:
		target := firstStateOfType(states, models.WorkflowStarted, models.WorkflowUnstarted)
		if in.TargetStateID != "" {
			target = statesByID[in.TargetStateID]
			if target == nil {
				return nil, fmt.Errorf("workflow state %s: %w", in.TargetStateID, store.ErrNotFound)
			}
		}
		if target == nil {
			return nil, &StateViolationError{Reason: "team has no stage to send the issue back to"}
		}
		if target.Type != models.WorkflowStarted && target.Type != models.WorkflowUnstarted {
			return nil, &StateViolationError{Reason: fmt.Sprintf("send-back target %q is not a todo/in-progress stage", target.Name)}
		}
		patch.StateID = &target.ID
		patch.Reason = in.Reason

	case DecisionReassign:
		if in.ReviewerID == "" {
			return nil, &ValidationError{Missing: []string{string(FieldReviewer)}}
		}
		patch.ReviewerID = &in.ReviewerID

	default:
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown review decision %q", decision)}
	}

	return e.UpdateIssue(ctx, teamID, issueID, actorID, patch)
}

// DeleteIssue removes an issue. Only owners and admins may delete;
// developers get an authorization error.
func (e *Engine) DeleteIssue(ctx context.Context, teamID, issueID, actorID string) error {
	_, role, err := e.resolveActor(ctx, teamID, actorID)
	if err != nil {
		return err
	}
	if !role.Elevated() {
		return &AuthorizationError{Reason: "only a team owner or admin can delete issues"}
	}
	return e.store.DeleteIssue(ctx, teamID, issueID)
}
