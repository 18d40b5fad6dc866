package store

import (
	"context"

	"github.com/gatekit/trk/internal/models"
)

// IssueListFilter specifies filters for listing issues.
type IssueListFilter struct {
	TeamID     string
	ProjectID  string
	StateIDs   []string
	AssigneeID string
}

// ActivityPage is one page of an issue's activity log, newest first.
type ActivityPage struct {
	Items      []*models.IssueActivity
	HasMore    bool
	NextCursor string
}

// IssueMutation is the handle passed to MutateIssue callbacks. The wrapped
// issue was loaded inside the surrounding transaction; changes made to it,
// together with any appended activity records, are persisted atomically
// when the callback returns nil.
type IssueMutation struct {
	issue      *models.Issue
	nextNumber func() (int, error)
	activities []*models.IssueActivity
}

// Issue returns the issue as read inside the current transaction.
func (m *IssueMutation) Issue() *models.Issue { return m.issue }

// NextNumber allocates the next team-scoped issue number within the
// current transaction (used when an issue moves between projects).
func (m *IssueMutation) NextNumber() (int, error) { return m.nextNumber() }

// Append queues an activity record for insertion with the mutation.
func (m *IssueMutation) Append(a *models.IssueActivity) {
	m.activities = append(m.activities, a)
}

// Store defines the persistence interface for trk.
type Store interface {
	// Teams
	CreateTeam(ctx context.Context, t *models.Team) error
	GetTeam(ctx context.Context, id string) (*models.Team, error)
	GetTeamByKey(ctx context.Context, key string) (*models.Team, error)
	ListTeams(ctx context.Context) ([]*models.Team, error)
	UpdateTeam(ctx context.Context, t *models.Team) error

	// Users and membership
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	UpsertTeamMember(ctx context.Context, m *models.TeamMember) error
	GetTeamMember(ctx context.Context, teamID, userID string) (*models.TeamMember, error)
	ListTeamMembers(ctx context.Context, teamID string) ([]*models.TeamMember, error)

	// Workflow states
	CreateWorkflowState(ctx context.Context, st *models.WorkflowState) error
	GetWorkflowState(ctx context.Context, id string) (*models.WorkflowState, error)
	ListWorkflowStates(ctx context.Context, teamID string) ([]*models.WorkflowState, error)

	// Projects and labels
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, teamID, id string) (*models.Project, error)
	GetProjectByName(ctx context.Context, teamID, name string) (*models.Project, error)
	ListProjects(ctx context.Context, teamID string) ([]*models.Project, error)
	DuplicateProject(ctx context.Context, teamID, projectID, newName string) (*models.Project, error)
	CreateLabel(ctx context.Context, l *models.Label) error
	GetLabel(ctx context.Context, teamID, id string) (*models.Label, error)
	ListLabels(ctx context.Context, teamID, projectID string) ([]*models.Label, error)

	// Issues. CreateIssue allocates the team-scoped number inside the same
	// transaction as the insert; MutateIssue re-reads the issue inside a
	// transaction so callbacks validate against current state, not a stale
	// read. Both persist the supplied activity records atomically with the
	// issue change.
	CreateIssue(ctx context.Context, issue *models.Issue, acts []*models.IssueActivity) error
	GetIssue(ctx context.Context, teamID, id string) (*models.Issue, error)
	GetIssueByNumber(ctx context.Context, teamID string, number int) (*models.Issue, error)
	ListIssues(ctx context.Context, filter IssueListFilter) ([]*models.Issue, error)
	MutateIssue(ctx context.Context, teamID, id string, fn func(m *IssueMutation) error) (*models.Issue, error)
	DeleteIssue(ctx context.Context, teamID, id string) error
	ListIssueParents(ctx context.Context, teamID string) (map[string]string, error)

	// Activity log
	ListIssueActivity(ctx context.Context, issueID, cursor string, limit int) (*ActivityPage, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
