package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gatekit/trk/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is wrapped by all lookup failures so callers can classify
// them with errors.Is without string matching.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// which also makes the read-then-write transactions below (number
	// allocation, review-lock re-checks) effectively serializable.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// ulidMu guards a single monotonic entropy source so ids generated within
// the same millisecond still sort in generation order (the activity log
// cursor relies on id ordering).
var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// newULID generates a new monotonic ULID string.
func newULID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Teams ---

func (s *SQLiteStore) CreateTeam(ctx context.Context, t *models.Team) error {
	if t.ID == "" {
		t.ID = newULID()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO teams (id, name, key, default_state_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Key, t.DefaultStateID, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create team: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTeam(ctx context.Context, id string) (*models.Team, error) {
	return s.getTeamBy(ctx, "id", id)
}

func (s *SQLiteStore) GetTeamByKey(ctx context.Context, key string) (*models.Team, error) {
	return s.getTeamBy(ctx, "key", key)
}

func (s *SQLiteStore) getTeamBy(ctx context.Context, col, val string) (*models.Team, error) {
	t := &models.Team{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, key, default_state_id, created_at, updated_at FROM teams WHERE `+col+` = ?`, val,
	).Scan(&t.ID, &t.Name, &t.Key, &t.DefaultStateID, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("team %s: %w", val, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get team: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTeams(ctx context.Context) ([]*models.Team, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, key, default_state_id, created_at, updated_at FROM teams ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var teams []*models.Team
	for rows.Next() {
		t := &models.Team{}
		if err := rows.Scan(&t.ID, &t.Name, &t.Key, &t.DefaultStateID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

func (s *SQLiteStore) UpdateTeam(ctx context.Context, t *models.Team) error {
	t.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE teams SET name=?, key=?, default_state_id=?, updated_at=? WHERE id=?`,
		t.Name, t.Key, t.DefaultStateID, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update team: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("team %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

// --- Users and membership ---

func (s *SQLiteStore) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = newULID()
	}
	u.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, created_at) VALUES (?, ?, ?)`,
		u.ID, u.Name, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	u := &models.User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) UpsertTeamMember(ctx context.Context, m *models.TeamMember) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO team_members (team_id, user_id, role, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (team_id, user_id) DO UPDATE SET role = excluded.role`,
		m.TeamID, m.UserID, string(m.Role), m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert team member: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTeamMember(ctx context.Context, teamID, userID string) (*models.TeamMember, error) {
	m := &models.TeamMember{}
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT team_id, user_id, role, created_at FROM team_members WHERE team_id = ? AND user_id = ?`,
		teamID, userID,
	).Scan(&m.TeamID, &m.UserID, &role, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("team member %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get team member: %w", err)
	}
	m.Role = models.Role(role)
	return m, nil
}

func (s *SQLiteStore) ListTeamMembers(ctx context.Context, teamID string) ([]*models.TeamMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT team_id, user_id, role, created_at FROM team_members WHERE team_id = ? ORDER BY user_id`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var members []*models.TeamMember
	for rows.Next() {
		m := &models.TeamMember{}
		var role string
		if err := rows.Scan(&m.TeamID, &m.UserID, &role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		m.Role = models.Role(role)
		members = append(members, m)
	}
	return members, rows.Err()
}

// --- Workflow states ---

func (s *SQLiteStore) CreateWorkflowState(ctx context.Context, st *models.WorkflowState) error {
	if st.ID == "" {
		st.ID = newULID()
	}
	st.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_states (id, team_id, name, type, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		st.ID, st.TeamID, st.Name, string(st.Type), st.Position, st.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create workflow state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetWorkflowState(ctx context.Context, id string) (*models.WorkflowState, error) {
	st := &models.WorkflowState{}
	var typ string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, team_id, name, type, position, created_at FROM workflow_states WHERE id = ?`, id,
	).Scan(&st.ID, &st.TeamID, &st.Name, &typ, &st.Position, &st.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow state %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow state: %w", err)
	}
	st.Type = models.WorkflowType(typ)
	return st, nil
}

func (s *SQLiteStore) ListWorkflowStates(ctx context.Context, teamID string) ([]*models.WorkflowState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, team_id, name, type, position, created_at FROM workflow_states
		WHERE team_id = ? ORDER BY position, name`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list workflow states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var states []*models.WorkflowState
	for rows.Next() {
		st := &models.WorkflowState{}
		var typ string
		if err := rows.Scan(&st.ID, &st.TeamID, &st.Name, &typ, &st.Position, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow state: %w", err)
		}
		st.Type = models.WorkflowType(typ)
		states = append(states, st)
	}
	return states, rows.Err()
}

// --- Projects ---

func (s *SQLiteStore) CreateProject(ctx context.Context, p *models.Project) error {
	if p.ID == "" {
		p.ID = newULID()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, team_id, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.TeamID, p.Name, p.Description, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, teamID, id string) (*models.Project, error) {
	return s.getProjectBy(ctx, teamID, "id", id)
}

func (s *SQLiteStore) GetProjectByName(ctx context.Context, teamID, name string) (*models.Project, error) {
	return s.getProjectBy(ctx, teamID, "name", name)
}

func (s *SQLiteStore) getProjectBy(ctx context.Context, teamID, col, val string) (*models.Project, error) {
	p := &models.Project{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, team_id, name, description, created_at, updated_at FROM projects
		WHERE team_id = ? AND `+col+` = ?`, teamID, val,
	).Scan(&p.ID, &p.TeamID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", val, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context, teamID string) ([]*models.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, team_id, name, description, created_at, updated_at FROM projects
		WHERE team_id = ? ORDER BY name`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*models.Project
	for rows.Next() {
		p := &models.Project{}
		if err := rows.Scan(&p.ID, &p.TeamID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// --- Labels ---

func (s *SQLiteStore) CreateLabel(ctx context.Context, l *models.Label) error {
	if l.ID == "" {
		l.ID = newULID()
	}
	l.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO labels (id, team_id, project_id, name, color, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID, l.TeamID, l.ProjectID, l.Name, l.Color, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create label: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLabel(ctx context.Context, teamID, id string) (*models.Label, error) {
	l := &models.Label{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, team_id, project_id, name, color, created_at FROM labels
		WHERE team_id = ? AND id = ?`, teamID, id,
	).Scan(&l.ID, &l.TeamID, &l.ProjectID, &l.Name, &l.Color, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("label %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get label: %w", err)
	}
	return l, nil
}

func (s *SQLiteStore) ListLabels(ctx context.Context, teamID, projectID string) ([]*models.Label, error) {
	query := `SELECT id, team_id, project_id, name, color, created_at FROM labels WHERE team_id = ?`
	args := []any{teamID}
	if projectID != "" {
		query += " AND project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var labels []*models.Label
	for rows.Next() {
		l := &models.Label{}
		if err := rows.Scan(&l.ID, &l.TeamID, &l.ProjectID, &l.Name, &l.Color, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// --- Issues ---

const issueColumns = `id, team_id, number, title, description, priority, difficulty, due_date,
	parent_id, state_id, reviewer_id, reviewer_name, reviewed_at, completed_at, project_id,
	created_at, updated_at`

func nextIssueNumber(ctx context.Context, q querier, teamID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(number), 0) + 1 FROM issues WHERE team_id = ?`, teamID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("allocate issue number: %w", err)
	}
	return n, nil
}

func scanIssueRow(scan func(dest ...any) error) (*models.Issue, error) {
	issue := &models.Issue{}
	var priority, difficulty string
	var dueDate, reviewedAt, completedAt sql.NullTime
	var parentID, projectID sql.NullString

	err := scan(&issue.ID, &issue.TeamID, &issue.Number, &issue.Title, &issue.Description,
		&priority, &difficulty, &dueDate,
		&parentID, &issue.StateID, &issue.ReviewerID, &issue.ReviewerName,
		&reviewedAt, &completedAt, &projectID,
		&issue.CreatedAt, &issue.UpdatedAt)
	if err != nil {
		return nil, err
	}

	issue.Priority = models.IssuePriority(priority)
	issue.Difficulty = models.IssueDifficulty(difficulty)
	if dueDate.Valid {
		issue.DueDate = &dueDate.Time
	}
	if reviewedAt.Valid {
		issue.ReviewedAt = &reviewedAt.Time
	}
	if completedAt.Valid {
		issue.CompletedAt = &completedAt.Time
	}
	issue.ParentID = parentID.String
	issue.ProjectID = projectID.String
	return issue, nil
}

// nullable converts "" to NULL for optional foreign keys.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func getIssueTx(ctx context.Context, q querier, teamID, id string) (*models.Issue, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE team_id = ? AND id = ?`, teamID, id)
	issue, err := scanIssueRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("issue %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get issue: %w", err)
	}
	if err := loadIssueRelations(ctx, q, []*models.Issue{issue}); err != nil {
		return nil, err
	}
	return issue, nil
}

// loadIssueRelations fills Assignees and LabelIDs for the given issues.
func loadIssueRelations(ctx context.Context, q querier, issues []*models.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	byID := make(map[string]*models.Issue, len(issues))
	placeholders := make([]string, len(issues))
	args := make([]any, len(issues))
	for i, iss := range issues {
		byID[iss.ID] = iss
		placeholders[i] = "?"
		args[i] = iss.ID
	}
	in := strings.Join(placeholders, ",")

	rows, err := q.QueryContext(ctx,
		`SELECT issue_id, user_id, name FROM issue_assignees
		WHERE issue_id IN (`+in+`) ORDER BY issue_id, position`, args...)
	if err != nil {
		return fmt.Errorf("load assignees: %w", err)
	}
	for rows.Next() {
		var issueID string
		var a models.Assignee
		if err := rows.Scan(&issueID, &a.UserID, &a.Name); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan assignee: %w", err)
		}
		if iss := byID[issueID]; iss != nil {
			iss.Assignees = append(iss.Assignees, a)
		}
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.QueryContext(ctx,
		`SELECT il.issue_id, il.label_id FROM issue_labels il
		JOIN labels l ON l.id = il.label_id
		WHERE il.issue_id IN (`+in+`) ORDER BY l.name`, args...)
	if err != nil {
		return fmt.Errorf("load issue labels: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var issueID, labelID string
		if err := rows.Scan(&issueID, &labelID); err != nil {
			return fmt.Errorf("scan issue label: %w", err)
		}
		if iss := byID[issueID]; iss != nil {
			iss.LabelIDs = append(iss.LabelIDs, labelID)
		}
	}
	return rows.Err()
}

func saveIssueRelations(ctx context.Context, q querier, issue *models.Issue) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM issue_assignees WHERE issue_id = ?`, issue.ID); err != nil {
		return fmt.Errorf("clear assignees: %w", err)
	}
	for pos, a := range issue.Assignees {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO issue_assignees (issue_id, user_id, name, position) VALUES (?, ?, ?, ?)`,
			issue.ID, a.UserID, a.Name, pos); err != nil {
			return fmt.Errorf("insert assignee: %w", err)
		}
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM issue_labels WHERE issue_id = ?`, issue.ID); err != nil {
		return fmt.Errorf("clear issue labels: %w", err)
	}
	for _, labelID := range issue.LabelIDs {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO issue_labels (issue_id, label_id) VALUES (?, ?)`,
			issue.ID, labelID); err != nil {
			return fmt.Errorf("insert issue label: %w", err)
		}
	}
	return nil
}

func insertActivity(ctx context.Context, q querier, a *models.IssueActivity) error {
	if a.ID == "" {
		a.ID = newULID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	meta := "{}"
	if len(a.Metadata) > 0 {
		data, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("marshal activity metadata: %w", err)
		}
		meta = string(data)
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO issue_activities (id, issue_id, actor_id, actor_name, action, field, old_value, new_value, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.IssueID, a.ActorID, a.ActorName, string(a.Action),
		a.Field, a.OldValue, a.NewValue, meta, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateIssue(ctx context.Context, issue *models.Issue, acts []*models.IssueActivity) error {
	if issue.ID == "" {
		issue.ID = newULID()
	}
	now := time.Now().UTC()
	issue.CreatedAt = now
	issue.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// The max read and the insert share the transaction so two concurrent
	// creations can never allocate the same number.
	number, err := nextIssueNumber(ctx, tx, issue.TeamID)
	if err != nil {
		return err
	}
	issue.Number = number

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO issues (`+issueColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		issue.ID, issue.TeamID, issue.Number, issue.Title, issue.Description,
		string(issue.Priority), string(issue.Difficulty), issue.DueDate,
		nullable(issue.ParentID), issue.StateID, issue.ReviewerID, issue.ReviewerName,
		issue.ReviewedAt, issue.CompletedAt, nullable(issue.ProjectID),
		issue.CreatedAt, issue.UpdatedAt,
	); err != nil {
		return fmt.Errorf("create issue: %w", err)
	}

	if err := saveIssueRelations(ctx, tx, issue); err != nil {
		return err
	}
	for _, a := range acts {
		a.IssueID = issue.ID
		if err := insertActivity(ctx, tx, a); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetIssue(ctx context.Context, teamID, id string) (*models.Issue, error) {
	return getIssueTx(ctx, s.db, teamID, id)
}

func (s *SQLiteStore) GetIssueByNumber(ctx context.Context, teamID string, number int) (*models.Issue, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE team_id = ? AND number = ?`, teamID, number)
	issue, err := scanIssueRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("issue #%d: %w", number, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get issue by number: %w", err)
	}
	if err := loadIssueRelations(ctx, s.db, []*models.Issue{issue}); err != nil {
		return nil, err
	}
	return issue, nil
}

func (s *SQLiteStore) ListIssues(ctx context.Context, filter IssueListFilter) ([]*models.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues`
	var conditions []string
	var args []any

	if filter.TeamID != "" {
		conditions = append(conditions, "team_id = ?")
		args = append(args, filter.TeamID)
	}
	if filter.ProjectID != "" {
		conditions = append(conditions, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if len(filter.StateIDs) > 0 {
		placeholders := make([]string, len(filter.StateIDs))
		for i, id := range filter.StateIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		conditions = append(conditions, "state_id IN ("+strings.Join(placeholders, ",")+")")
	}
	if filter.AssigneeID != "" {
		conditions = append(conditions, "id IN (SELECT issue_id FROM issue_assignees WHERE user_id = ?)")
		args = append(args, filter.AssigneeID)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY number"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var issues []*models.Issue
	for rows.Next() {
		issue, err := scanIssueRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := loadIssueRelations(ctx, s.db, issues); err != nil {
		return nil, err
	}
	return issues, nil
}

func (s *SQLiteStore) MutateIssue(ctx context.Context, teamID, id string, fn func(m *IssueMutation) error) (*models.Issue, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	issue, err := getIssueTx(ctx, tx, teamID, id)
	if err != nil {
		return nil, err
	}

	mut := &IssueMutation{
		issue: issue,
		nextNumber: func() (int, error) {
			return nextIssueNumber(ctx, tx, teamID)
		},
	}
	// Callback errors pass through unwrapped so typed workflow errors
	// survive to the API boundary.
	if err := fn(mut); err != nil {
		return nil, err
	}

	issue.UpdatedAt = time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`UPDATE issues SET number=?, title=?, description=?, priority=?, difficulty=?, due_date=?,
		parent_id=?, state_id=?, reviewer_id=?, reviewer_name=?, reviewed_at=?, completed_at=?,
		project_id=?, updated_at=? WHERE id=?`,
		issue.Number, issue.Title, issue.Description, string(issue.Priority), string(issue.Difficulty), issue.DueDate,
		nullable(issue.ParentID), issue.StateID, issue.ReviewerID, issue.ReviewerName,
		issue.ReviewedAt, issue.CompletedAt,
		nullable(issue.ProjectID), issue.UpdatedAt, issue.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update issue: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("issue %s: %w", id, ErrNotFound)
	}

	if err := saveIssueRelations(ctx, tx, issue); err != nil {
		return nil, err
	}
	for _, a := range mut.activities {
		a.IssueID = issue.ID
		if err := insertActivity(ctx, tx, a); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return issue, nil
}

func (s *SQLiteStore) DeleteIssue(ctx context.Context, teamID, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM issues WHERE team_id = ? AND id = ?", teamID, id)
	if err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("issue %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListIssueParents returns the id -> parent-id adjacency for a whole team
// in one query, so cycle checks walk memory instead of the database.
func (s *SQLiteStore) ListIssueParents(ctx context.Context, teamID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(parent_id, '') FROM issues WHERE team_id = ?`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list issue parents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	parents := make(map[string]string)
	for rows.Next() {
		var id, parentID string
		if err := rows.Scan(&id, &parentID); err != nil {
			return nil, fmt.Errorf("scan issue parent: %w", err)
		}
		parents[id] = parentID
	}
	return parents, rows.Err()
}

// --- Activity log ---

func (s *SQLiteStore) ListIssueActivity(ctx context.Context, issueID, cursor string, limit int) (*ActivityPage, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, issue_id, actor_id, actor_name, action, field, old_value, new_value, metadata, created_at
		FROM issue_activities WHERE issue_id = ?`
	args := []any{issueID}
	if cursor != "" {
		// ULIDs sort in creation order, so the id doubles as the cursor.
		query += " AND id < ?"
		args = append(args, cursor)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issue activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*models.IssueActivity
	for rows.Next() {
		a := &models.IssueActivity{}
		var action, meta string
		if err := rows.Scan(&a.ID, &a.IssueID, &a.ActorID, &a.ActorName, &action,
			&a.Field, &a.OldValue, &a.NewValue, &meta, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.Action = models.ActivityAction(action)
		if meta != "" && meta != "{}" {
			_ = json.Unmarshal([]byte(meta), &a.Metadata)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	page := &ActivityPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.HasMore = true
		page.NextCursor = page.Items[limit-1].ID
	}
	return page, nil
}

// --- Project duplication ---

// DuplicateProject clones a project with all of its issues, assignee and
// label links, and activity history in a single transaction. A failure
// anywhere rolls the whole copy back. Callers should allow an extended
// context deadline; large projects create many rows sequentially.
func (s *SQLiteStore) DuplicateProject(ctx context.Context, teamID, projectID, newName string) (*models.Project, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	src := &models.Project{}
	err = tx.QueryRowContext(ctx,
		`SELECT id, team_id, name, description, created_at, updated_at FROM projects
		WHERE team_id = ? AND id = ?`, teamID, projectID,
	).Scan(&src.ID, &src.TeamID, &src.Name, &src.Description, &src.CreatedAt, &src.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}

	now := time.Now().UTC()
	dst := &models.Project{
		ID:          newULID(),
		TeamID:      teamID,
		Name:        newName,
		Description: src.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO projects (id, team_id, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		dst.ID, dst.TeamID, dst.Name, dst.Description, dst.CreatedAt, dst.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("create project copy: %w", err)
	}

	// Clone labels, keeping an old->new id map for issue links.
	labelMap := make(map[string]string)
	labelRows, err := tx.QueryContext(ctx,
		`SELECT id, name, color FROM labels WHERE project_id = ? ORDER BY name`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	type labelCopy struct{ oldID, name, color string }
	var labelCopies []labelCopy
	for labelRows.Next() {
		var lc labelCopy
		if err := labelRows.Scan(&lc.oldID, &lc.name, &lc.color); err != nil {
			_ = labelRows.Close()
			return nil, fmt.Errorf("scan label: %w", err)
		}
		labelCopies = append(labelCopies, lc)
	}
	_ = labelRows.Close()
	if err := labelRows.Err(); err != nil {
		return nil, err
	}
	for _, lc := range labelCopies {
		newID := newULID()
		labelMap[lc.oldID] = newID
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO labels (id, team_id, project_id, name, color, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			newID, teamID, dst.ID, lc.name, lc.color, now,
		); err != nil {
			return nil, fmt.Errorf("copy label: %w", err)
		}
	}

	// Load source issues ordered by number so copies keep relative order.
	issueRows, err := tx.QueryContext(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE team_id = ? AND project_id = ? ORDER BY number`,
		teamID, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project issues: %w", err)
	}
	var srcIssues []*models.Issue
	for issueRows.Next() {
		issue, err := scanIssueRow(issueRows.Scan)
		if err != nil {
			_ = issueRows.Close()
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		srcIssues = append(srcIssues, issue)
	}
	_ = issueRows.Close()
	if err := issueRows.Err(); err != nil {
		return nil, err
	}

	number, err := nextIssueNumber(ctx, tx, teamID)
	if err != nil {
		return nil, err
	}

	issueMap := make(map[string]string, len(srcIssues))
	for _, src := range srcIssues {
		issueMap[src.ID] = newULID()
	}

	for _, srcIssue := range srcIssues {
		newID := issueMap[srcIssue.ID]
		parentID := srcIssue.ParentID
		if mapped, ok := issueMap[parentID]; ok {
			parentID = mapped
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO issues (`+issueColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			newID, teamID, number, srcIssue.Title, srcIssue.Description,
			string(srcIssue.Priority), string(srcIssue.Difficulty), srcIssue.DueDate,
			nullable(parentID), srcIssue.StateID, srcIssue.ReviewerID, srcIssue.ReviewerName,
			srcIssue.ReviewedAt, srcIssue.CompletedAt, dst.ID,
			now, now,
		); err != nil {
			return nil, fmt.Errorf("copy issue #%d: %w", srcIssue.Number, err)
		}
		number++

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO issue_assignees (issue_id, user_id, name, position)
			SELECT ?, user_id, name, position FROM issue_assignees WHERE issue_id = ?`,
			newID, srcIssue.ID,
		); err != nil {
			return nil, fmt.Errorf("copy assignees: %w", err)
		}

		linkRows, err := tx.QueryContext(ctx,
			`SELECT label_id FROM issue_labels WHERE issue_id = ?`, srcIssue.ID)
		if err != nil {
			return nil, fmt.Errorf("list issue labels: %w", err)
		}
		var oldLabelIDs []string
		for linkRows.Next() {
			var labelID string
			if err := linkRows.Scan(&labelID); err != nil {
				_ = linkRows.Close()
				return nil, fmt.Errorf("scan issue label: %w", err)
			}
			oldLabelIDs = append(oldLabelIDs, labelID)
		}
		_ = linkRows.Close()
		if err := linkRows.Err(); err != nil {
			return nil, err
		}
		for _, oldLabelID := range oldLabelIDs {
			if newLabelID, ok := labelMap[oldLabelID]; ok {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO issue_labels (issue_id, label_id) VALUES (?, ?)`,
					newID, newLabelID,
				); err != nil {
					return nil, fmt.Errorf("copy issue label: %w", err)
				}
			}
		}

		actRows, err := tx.QueryContext(ctx,
			`SELECT actor_id, actor_name, action, field, old_value, new_value, metadata, created_at
			FROM issue_activities WHERE issue_id = ? ORDER BY id`, srcIssue.ID)
		if err != nil {
			return nil, fmt.Errorf("list issue activity: %w", err)
		}
		type actCopy struct {
			actorID, actorName, action, field, oldVal, newVal, meta string
			createdAt                                               time.Time
		}
		var actCopies []actCopy
		for actRows.Next() {
			var ac actCopy
			if err := actRows.Scan(&ac.actorID, &ac.actorName, &ac.action, &ac.field,
				&ac.oldVal, &ac.newVal, &ac.meta, &ac.createdAt); err != nil {
				_ = actRows.Close()
				return nil, fmt.Errorf("scan activity: %w", err)
			}
			actCopies = append(actCopies, ac)
		}
		_ = actRows.Close()
		if err := actRows.Err(); err != nil {
			return nil, err
		}
		for _, ac := range actCopies {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO issue_activities (id, issue_id, actor_id, actor_name, action, field, old_value, new_value, metadata, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				newULID(), newID, ac.actorID, ac.actorName, ac.action, ac.field,
				ac.oldVal, ac.newVal, ac.meta, ac.createdAt,
			); err != nil {
				return nil, fmt.Errorf("copy activity: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return dst, nil
}
