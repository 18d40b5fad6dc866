package workflow

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekit/trk/internal/directory"
	"github.com/gatekit/trk/internal/models"
	"github.com/gatekit/trk/internal/store"
)

// fixture is a team with the default stage set and four members: an
// owner, two developers, and a dedicated reviewer.
type fixture struct {
	store  *store.SQLiteStore
	eng    *Engine
	team   *models.Team
	stages map[models.WorkflowType]*models.WorkflowState

	owner    *models.User
	dev      *models.User
	dev2     *models.User
	reviewer *models.User
	outsider *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		store:  s,
		eng:    NewEngine(s, directory.NewStoreResolver(s)),
		stages: make(map[models.WorkflowType]*models.WorkflowState),
	}

	f.team = &models.Team{Name: "Platform", Key: "PLT"}
	require.NoError(t, s.CreateTeam(ctx, f.team))

	for i, def := range []struct {
		name string
		typ  models.WorkflowType
	}{
		{"Backlog", models.WorkflowBacklog},
		{"Todo", models.WorkflowUnstarted},
		{"In Progress", models.WorkflowStarted},
		{"Review", models.WorkflowReview},
		{"Done", models.WorkflowCompleted},
		{"Canceled", models.WorkflowCanceled},
	} {
		st := &models.WorkflowState{TeamID: f.team.ID, Name: def.name, Type: def.typ, Position: i}
		require.NoError(t, s.CreateWorkflowState(ctx, st))
		f.stages[def.typ] = st
	}
	f.team.DefaultStateID = f.stages[models.WorkflowUnstarted].ID
	require.NoError(t, s.UpdateTeam(ctx, f.team))

	f.owner = f.addMember(t, "Olive", models.RoleOwner)
	f.dev = f.addMember(t, "Ana", models.RoleDeveloper)
	f.dev2 = f.addMember(t, "Ben", models.RoleDeveloper)
	f.reviewer = f.addMember(t, "Rita", models.RoleDeveloper)

	f.outsider = &models.User{Name: "Zed"}
	require.NoError(t, s.CreateUser(ctx, f.outsider))

	return f
}

func (f *fixture) addMember(t *testing.T, name string, role models.Role) *models.User {
	t.Helper()
	ctx := context.Background()
	u := &models.User{Name: name}
	require.NoError(t, f.store.CreateUser(ctx, u))
	require.NoError(t, f.store.UpsertTeamMember(ctx, &models.TeamMember{TeamID: f.team.ID, UserID: u.ID, Role: role}))
	return u
}

// newIssue creates a plain issue assigned to Ana in the default stage.
func (f *fixture) newIssue(t *testing.T, title string) *models.Issue {
	t.Helper()
	issue, err := f.eng.CreateIssue(context.Background(), f.team.ID, CreateIssueInput{
		Title:     title,
		Assignees: []string{f.dev.ID},
	}, f.dev.ID)
	require.NoError(t, err)
	return issue
}

// toReview moves an issue into the review stage with Rita as reviewer.
func (f *fixture) toReview(t *testing.T, issueID string) *models.Issue {
	t.Helper()
	issue, err := f.eng.UpdateIssue(context.Background(), f.team.ID, issueID, f.dev.ID, Patch{
		StateID:    &f.stages[models.WorkflowReview].ID,
		ReviewerID: &f.reviewer.ID,
	})
	require.NoError(t, err)
	return issue
}

func (f *fixture) activity(t *testing.T, issueID string) []*models.IssueActivity {
	t.Helper()
	page, err := f.store.ListIssueActivity(context.Background(), issueID, "", 100)
	require.NoError(t, err)
	return page.Items
}

// --- Creation ---

func TestCreateIssue_DefaultsToTeamStage(t *testing.T) {
	f := newFixture(t)

	issue := f.newIssue(t, "wire the adapter")
	assert.Equal(t, 1, issue.Number)
	assert.Equal(t, f.stages[models.WorkflowUnstarted].ID, issue.StateID)
	assert.Equal(t, models.IssuePriorityNone, issue.Priority)

	acts := f.activity(t, issue.ID)
	require.Len(t, acts, 1)
	assert.Equal(t, models.ActivityCreated, acts[0].Action)
	assert.Equal(t, "Ana", acts[0].ActorName)
}

func TestCreateIssue_StrictListsEveryMissingField(t *testing.T) {
	f := newFixture(t)

	_, err := f.eng.CreateIssue(context.Background(), f.team.ID, CreateIssueInput{Strict: true}, f.dev.ID)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t,
		[]string{"title", "state", "assignees", "due_date", "labels", "difficulty"},
		verr.Missing,
	)
}

func TestCreateIssue_StrictAcceptsCompleteInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := &models.Project{TeamID: f.team.ID, Name: "Billing"}
	require.NoError(t, f.store.CreateProject(ctx, p))
	l := &models.Label{TeamID: f.team.ID, ProjectID: p.ID, Name: "backend"}
	require.NoError(t, f.store.CreateLabel(ctx, l))

	due := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	issue, err := f.eng.CreateIssue(ctx, f.team.ID, CreateIssueInput{
		Title:      "migrate invoices",
		Difficulty: models.DifficultyMedium,
		DueDate:    &due,
		StateID:    f.stages[models.WorkflowStarted].ID,
		Assignees:  []string{f.dev.ID, f.dev2.ID},
		ProjectID:  p.ID,
		Labels:     []string{l.ID},
		Strict:     true,
	}, f.dev.ID)
	require.NoError(t, err)
	require.Len(t, issue.Assignees, 2)
	assert.Equal(t, "Ana", issue.Assignees[0].Name)
	assert.Equal(t, "Ana", issue.PrimaryAssignee().Name)
}

func TestCreateIssue_RejectsReviewAndDoneStages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, typ := range []models.WorkflowType{models.WorkflowReview, models.WorkflowCompleted} {
		_, err := f.eng.CreateIssue(ctx, f.team.ID, CreateIssueInput{
			Title:   "shortcut",
			StateID: f.stages[typ].ID,
		}, f.dev.ID)
		var serr *StateViolationError
		assert.ErrorAs(t, err, &serr, "stage type %s", typ)
	}
}

func TestCreateIssue_NonMemberActorRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.eng.CreateIssue(context.Background(), f.team.ID, CreateIssueInput{Title: "nope"}, f.outsider.ID)

	var aerr *AuthorizationError
	assert.ErrorAs(t, err, &aerr)
}

// --- Plain updates ---

func TestUpdateIssue_LogsOneActivityPerField(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.newIssue(t, "before")

	title := "after"
	prio := models.IssuePriorityHigh
	updated, err := f.eng.UpdateIssue(ctx, f.team.ID, issue.ID, f.dev.ID, Patch{
		Title:    &title,
		Priority: &prio,
	})
	require.NoError(t, err)
	assert.Equal(t, "after", updated.Title)
	assert.Equal(t, models.IssuePriorityHigh, updated.Priority)

	acts := f.activity(t, issue.ID)
	require.Len(t, acts, 3) // created + title + priority
	assert.Equal(t, "priority", acts[0].Field, "newest first")
	assert.Equal(t, "title", acts[1].Field)
	assert.Equal(t, "before", acts[1].OldValue)
	assert.Equal(t, "after", acts[1].NewValue)
}

func TestUpdateIssue_NoOpWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.newIssue(t, "same")

	title := "same"
	_, err := f.eng.UpdateIssue(ctx, f.team.ID, issue.ID, f.dev.ID, Patch{Title: &title})
	require.NoError(t, err)

	acts := f.activity(t, issue.ID)
	assert.Len(t, acts, 1, "only the creation record")
}

func TestUpdateIssue_AssigneeChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.newIssue(t, "handoff")

	_, err := f.eng.UpdateIssue(ctx, f.team.ID, issue.ID, f.dev.ID, Patch{
		Assignees: &[]string{f.dev2.ID, f.dev.ID},
	})
	require.NoError(t, err)

	got, err := f.store.GetIssue(ctx, f.team.ID, issue.ID)
	require.NoError(t, err)
	require.Len(t, got.Assignees, 2)
	assert.Equal(t, "Ben", got.PrimaryAssignee().Name)

	acts := f.activity(t, issue.ID)
	require.Len(t, acts, 2)
	assert.Equal(t, models.ActivityAssigned, acts[0].Action)
	assert.Equal(t, "Ana", acts[0].OldValue)
	assert.Equal(t, "Ben, Ana", acts[0].NewValue)
}

// --- Review gate ---

func TestUpdateIssue_DoneOnlyReachableFromReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.newIssue(t, "shortcut")

	_, err := f.eng.UpdateIssue(ctx, f.team.ID, issue.ID, f.dev.ID, Patch{
		StateID: &f.stages[models.WorkflowCompleted].ID,
	})
	var serr *StateViolationError
	require.ErrorAs(t, err, &serr)

	got, err := f.store.GetIssue(ctx, f.team.ID, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, f.stages[models.WorkflowUnstarted].ID, got.StateID, "rejected transition must not persist")
}

func TestUpdateIssue_SendToReview(t *testing.T) {
	f := newFixture(t)
	issue := f.newIssue(t, "ready")

	updated := f.toReview(t, issue.ID)
	assert.Equal(t, f.stages[models.WorkflowReview].ID, updated.StateID)
	assert.Equal(t, f.reviewer.ID, updated.ReviewerID)
	assert.Equal(t, "Rita", updated.ReviewerName)
	require.NotNil(t, updated.ReviewedAt)
	assert.Nil(t, updated.CompletedAt)

	acts := f.activity(t, issue.ID)
	require.Len(t, acts, 2)
	assert.Equal(t, models.ActivitySentToReview, acts[0].Action)
	assert.Equal(t, "Rita", acts[0].Metadata[models.MetaReviewer])
	assert.Equal(t, "Todo", acts[0].OldValue)
	assert.Equal(t, "Review", acts[0].NewValue)
}

func TestUpdateIssue_SendToReviewRequiresReviewer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.newIssue(t, "no reviewer")

	_, err := f.eng.UpdateIssue(ctx, f.team.ID, issue.ID, f.dev.ID, Patch{
		StateID: &f.stages[models.WorkflowReview].ID,
	})
	var serr *StateViolationError
	assert.ErrorAs(t, err, &serr)
}

func TestUpdateIssue_AssigneeCannotReviewOwnIssue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.newIssue(t, "self review")

	_, err := f.eng.UpdateIssue(ctx, f.team.ID, issue.ID, f.dev.ID, Patch{
		StateID:    &f.stages[models.WorkflowReview].ID,
		ReviewerID: &f.dev.ID,
	})
	var serr *StateViolationError
	assert.ErrorAs(t, err, &serr)
}

func TestUpdateIssue_NonMemberReviewerRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.newIssue(t, "outside reviewer")

	_, err := f.eng.UpdateIssue(ctx, f.team.ID, issue.ID, f.dev.ID, Patch{
		StateID:    &f.stages[models.WorkflowReview].ID,
		ReviewerID: &f.outsider.ID,
	})
	var serr *StateViolationError
	assert.ErrorAs(t, err, &serr)
}

// --- Review lock ---

func TestUpdateIssue_LockedWhileInReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.newIssue(t, "locked")
	f.toReview(t, issue.ID)

	title := "sneaky edit"
	prio := models.IssuePriorityUrgent
	_, err := f.eng.UpdateIssue(ctx, f.team.ID, issue.ID, f.owner.ID, Patch{
		Title:    &title,
		Priority: &prio,
	})

	var lerr *LockViolationError
	require.ErrorAs(t, err, &lerr, "no owner escape hatch")
	assert.ElementsMatch(t, []Field{FieldTitle, FieldPriority}, lerr.Fields)

	got, err := f.store.GetIssue(ctx, f.team.ID, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, "locked", got.Title)
}

// --- Review decisions ---

func TestReviewDecision_ApproveByReviewer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.newIssue(t, "approve me")
	f.toReview(t, issue.ID)

	updated, err := f.eng.ReviewDecision(ctx, f.team.ID, issue.ID, f.reviewer.ID, DecisionApprove, DecisionInput{})
	require.NoError(t, err)

	assert.Equal(t, f.stages[models.WorkflowCompleted].ID, updated.StateID)
	require.NotNil(t, updated.CompletedAt)
	assert.NotNil(t, updated.ReviewedAt, "review timestamp survives approval")
	assert.Empty(t, updated.ReviewerID)
	assert.Empty(t, updated.ReviewerName)

	acts := f.activity(t, issue.ID)
	assert.Equal(t, models.ActivityApproved, acts[0].Action)
}

func TestReviewDecision_DeveloperCannotDecide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.newIssue(t, "not yours")
	f.toReview(t, issue.ID)

	// Ben is a developer and not the reviewer
	_, err := f.eng.ReviewDecision(ctx, f.team.ID, issue.ID, f.dev2.ID, DecisionApprove, DecisionInput{})
	var aerr *AuthorizationError
	require.ErrorAs(t, err, &aerr)

	// The owner can decide without being the reviewer
	_, err = f.eng.ReviewDecision(ctx, f.team.ID, issue.ID, f.owner.ID, DecisionApprove, DecisionInput{})
	assert.NoError(t, err)
}

func TestReviewDecision_SendBackRequiresReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.newIssue(t, "needs work")
	f.toReview(t, issue.ID)

	for _, reason := range []string{"", "too short", "         padded      "} {
		_, err := f.eng.ReviewDecision(ctx, f.team.ID, issue.ID, f.reviewer.ID, DecisionSendBack, DecisionInput{Reason: reason})
		var serr *StateViolationError
		assert.ErrorAs(t, err, &serr, "reason %q", reason)
	}

	updated, err := f.eng.ReviewDecision(ctx, f.team.ID, issue.ID, f.reviewer.ID, DecisionSendBack, DecisionInput{
		Reason: "missing integration tests for the failure path",
	})
	require.NoError(t, err)
	assert.Equal(t, f.stages[models.WorkflowStarted].ID, updated.StateID, "defaults to the first in-progress stage")
	assert.Empty(t, updated.ReviewerID)
	assert.NotNil(t, updated.ReviewedAt, "review timestamp is never cleared")

	acts := f.activity(t, issue.ID)
	assert.Equal(t, models.ActivitySentBack, acts[0].Action)
	assert.Equal(t, "missing integration tests for the failure path", acts[0].Metadata[models.MetaReason])
}

func TestReviewDecision_Reassign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.newIssue(t, "handoff review")
	f.toReview(t, issue.ID)

	updated, err := f.eng.ReviewDecision(ctx, f.team.ID, issue.ID, f.reviewer.ID, DecisionReassign, DecisionInput{
		ReviewerID: f.dev2.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, f.stages[models.WorkflowReview].ID, updated.StateID, "stays in review")
	assert.Equal(t, f.dev2.ID, updated.ReviewerID)
	assert.Equal(t, "Ben", updated.ReviewerName)

	acts := f.activity(t, issue.ID)
	assert.Equal(t, models.ActivityReassigned, acts[0].Action)
	assert.Equal(t, "Rita", acts[0].OldValue)
	assert.Equal(t, "Ben", acts[0].NewValue)
}

func TestReviewDecision_ReassignToAssigneeRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.newIssue(t, "conflict of interest")
	f.toReview(t, issue.ID)

	_, err := f.eng.ReviewDecision(ctx, f.team.ID, issue.ID, f.reviewer.ID, DecisionReassign, DecisionInput{
		ReviewerID: f.dev.ID,
	})
	var serr *StateViolationError
	assert.ErrorAs(t, err, &serr)
}

func TestReviewDecision_UnknownTargetStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.newIssue(t, "bad target")
	f.toReview(t, issue.ID)

	_, err := f.eng.ReviewDecision(ctx, f.team.ID, issue.ID, f.reviewer.ID, DecisionApprove, DecisionInput{
		TargetStateID: "no-such-stage",
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.eng.ReviewDecision(ctx, f.team.ID, issue.ID, f.reviewer.ID, DecisionSendBack, DecisionInput{
		TargetStateID: "no-such-stage",
		Reason:        "the wrong branch was reviewed entirely",
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateIssue_CancelFromReviewClearsReviewer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.newIssue(t, "abandoned")
	f.toReview(t, issue.ID)

	updated, err := f.eng.UpdateIssue(ctx, f.team.ID, issue.ID, f.owner.ID, Patch{
		StateID: &f.stages[models.WorkflowCanceled].ID,
	})
	require.NoError(t, err)
	assert.Empty(t, updated.ReviewerID)
	assert.Nil(t, updated.CompletedAt)
	assert.NotNil(t, updated.ReviewedAt)

	acts := f.activity(t, issue.ID)
	assert.Equal(t, models.ActivityStatusChanged, acts[0].Action)
}

func TestUpdateIssue_ReviewerChangeOutsideReviewRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.newIssue(t, "not in review")

	_, err := f.eng.UpdateIssue(ctx, f.team.ID, issue.ID, f.dev.ID, Patch{
		ReviewerID: &f.reviewer.ID,
	})
	var serr *StateViolationError
	assert.ErrorAs(t, err, &serr)
}

// --- Hierarchy ---

func TestUpdateIssue_ParentCycleRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.newIssue(t, "a")
	b := f.newIssue(t, "b")

	_, err := f.eng.UpdateIssue(ctx, f.team.ID, a.ID, f.dev.ID, Patch{ParentID: &b.ID})
	require.NoError(t, err)

	_, err = f.eng.UpdateIssue(ctx, f.team.ID, b.ID, f.dev.ID, Patch{ParentID: &a.ID})
	var ierr *StructuralIntegrityError
	assert.ErrorAs(t, err, &ierr)

	_, err = f.eng.UpdateIssue(ctx, f.team.ID, a.ID, f.dev.ID, Patch{ParentID: &a.ID})
	assert.ErrorAs(t, err, &ierr, "self-parent")
}

// --- Projects and labels ---

func TestUpdateIssue_ProjectMoveRenumbersAndDropsLabels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p1 := &models.Project{TeamID: f.team.ID, Name: "Billing"}
	require.NoError(t, f.store.CreateProject(ctx, p1))
	p2 := &models.Project{TeamID: f.team.ID, Name: "Onboarding"}
	require.NoError(t, f.store.CreateProject(ctx, p2))
	l := &models.Label{TeamID: f.team.ID, ProjectID: p1.ID, Name: "backend"}
	require.NoError(t, f.store.CreateLabel(ctx, l))

	issue, err := f.eng.CreateIssue(ctx, f.team.ID, CreateIssueInput{
		Title:     "movable",
		Assignees: []string{f.dev.ID},
		ProjectID: p1.ID,
		Labels:    []string{l.ID},
	}, f.dev.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, issue.Number)

	f.newIssue(t, "number 2")

	updated, err := f.eng.UpdateIssue(ctx, f.team.ID, issue.ID, f.dev.ID, Patch{ProjectID: &p2.ID})
	require.NoError(t, err)
	assert.Equal(t, p2.ID, updated.ProjectID)
	assert.Equal(t, 3, updated.Number, "reallocated past the team maximum")
	assert.Empty(t, updated.LabelIDs, "labels are project-scoped")
}

func TestUpdateIssue_LabelFromOtherProjectRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p1 := &models.Project{TeamID: f.team.ID, Name: "Billing"}
	require.NoError(t, f.store.CreateProject(ctx, p1))
	p2 := &models.Project{TeamID: f.team.ID, Name: "Onboarding"}
	require.NoError(t, f.store.CreateProject(ctx, p2))
	l2 := &models.Label{TeamID: f.team.ID, ProjectID: p2.ID, Name: "frontend"}
	require.NoError(t, f.store.CreateLabel(ctx, l2))

	issue, err := f.eng.CreateIssue(ctx, f.team.ID, CreateIssueInput{
		Title:     "labeled",
		Assignees: []string{f.dev.ID},
		ProjectID: p1.ID,
	}, f.dev.ID)
	require.NoError(t, err)

	_, err = f.eng.UpdateIssue(ctx, f.team.ID, issue.ID, f.dev.ID, Patch{Labels: &[]string{l2.ID}})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

// --- Deletion ---

func TestDeleteIssue_RequiresElevatedRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issue := f.newIssue(t, "deletable")

	err := f.eng.DeleteIssue(ctx, f.team.ID, issue.ID, f.dev.ID)
	var aerr *AuthorizationError
	require.ErrorAs(t, err, &aerr)

	require.NoError(t, f.eng.DeleteIssue(ctx, f.team.ID, issue.ID, f.owner.ID))

	_, err = f.store.GetIssue(ctx, f.team.ID, issue.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
