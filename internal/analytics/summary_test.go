package analytics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekit/trk/internal/models"
	"github.com/gatekit/trk/internal/store"
)

type fixture struct {
	store *store.SQLiteStore
	agg   *Aggregator
	team  *models.Team
	todo  *models.WorkflowState
	done  *models.WorkflowState
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { s.Close() })

	f := &fixture{store: s, agg: NewAggregator(s)}

	f.team = &models.Team{Name: "Platform", Key: "PLT"}
	require.NoError(t, s.CreateTeam(ctx, f.team))
	f.todo = &models.WorkflowState{TeamID: f.team.ID, Name: "Todo", Type: models.WorkflowUnstarted, Position: 1}
	require.NoError(t, s.CreateWorkflowState(ctx, f.todo))
	f.done = &models.WorkflowState{TeamID: f.team.ID, Name: "Done", Type: models.WorkflowCompleted, Position: 5}
	require.NoError(t, s.CreateWorkflowState(ctx, f.done))
	return f
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func at(y int, m time.Month, d, hour int) *time.Time {
	t := time.Date(y, m, d, hour, 0, 0, 0, time.UTC)
	return &t
}

// closed inserts an issue directly into the done stage with the given
// review/completion timestamps, bypassing the engine: the aggregator only
// looks at persisted state.
func (f *fixture) closed(t *testing.T, title string, diff models.IssueDifficulty, due, reviewedAt, completedAt *time.Time, assignees ...models.Assignee) *models.Issue {
	t.Helper()
	issue := &models.Issue{
		TeamID:      f.team.ID,
		Title:       title,
		Priority:    models.IssuePriorityNone,
		Difficulty:  diff,
		DueDate:     due,
		StateID:     f.done.ID,
		ReviewedAt:  reviewedAt,
		CompletedAt: completedAt,
		Assignees:   assignees,
	}
	require.NoError(t, f.store.CreateIssue(context.Background(), issue, nil))
	return issue
}

func TestSummarize_EmptyWithoutDoneStage(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	defer s.Close()

	team := &models.Team{Name: "Stageless", Key: "STG"}
	require.NoError(t, s.CreateTeam(ctx, team))

	rows, err := NewAggregator(s).Summarize(ctx, team.ID, "", "")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSummarize_UsesReviewedAtNotCompletedAt(t *testing.T) {
	f := newFixture(t)
	ana := models.Assignee{UserID: "u1", Name: "Ana"}

	// Handed to review on the 9th, approved on the 12th, due the 10th:
	// counts as on time because reviewer delay is not the assignee's.
	f.closed(t, "m-issue", models.DifficultyMedium,
		date(2025, 1, 10), date(2025, 1, 9), date(2025, 1, 12), ana)

	rows, err := f.agg.Summarize(context.Background(), f.team.ID, "", "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].MClosed)
	assert.Equal(t, 1, rows[0].TotalClosed)
	assert.Equal(t, 1, rows[0].OnTimeClosed)
	assert.Equal(t, 0, rows[0].DelayedClosed)
}

func TestSummarize_DateOnlyComparison(t *testing.T) {
	f := newFixture(t)
	ana := models.Assignee{UserID: "u1", Name: "Ana"}

	// Reviewed at 23:00 on the due date itself: still on time.
	f.closed(t, "late evening", models.DifficultySmall,
		date(2025, 2, 10), at(2025, 2, 10, 23), at(2025, 2, 11, 1), ana)
	// Reviewed at 00:30 the day after: delayed.
	f.closed(t, "just missed", models.DifficultySmall,
		date(2025, 2, 10), at(2025, 2, 11, 0), nil, ana)

	rows, err := f.agg.Summarize(context.Background(), f.team.ID, "", "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].OnTimeClosed)
	assert.Equal(t, 1, rows[0].DelayedClosed)
}

func TestSummarize_EachAssigneeCountsFully(t *testing.T) {
	f := newFixture(t)

	f.closed(t, "pair work", models.DifficultySmall,
		date(2025, 3, 1), date(2025, 2, 28), nil,
		models.Assignee{UserID: "u1", Name: "Ana"},
		models.Assignee{UserID: "u2", Name: "Ben"})

	rows, err := f.agg.Summarize(context.Background(), f.team.ID, "", "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, 1, row.SClosed, "%s gets full credit, not half", row.Name)
		assert.Equal(t, 1, row.TotalClosed)
	}
}

func TestSummarize_LegacyIssueFallsBackToCompletedAt(t *testing.T) {
	f := newFixture(t)
	ana := models.Assignee{UserID: "u1", Name: "Ana"}

	// Pre-review-gate record: no reviewedAt at all.
	f.closed(t, "legacy", models.DifficultyLarge,
		date(2025, 4, 10), nil, date(2025, 4, 12), ana)

	rows, err := f.agg.Summarize(context.Background(), f.team.ID, "", "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].LClosed)
	assert.Equal(t, 1, rows[0].TotalClosed)
	assert.Equal(t, 1, rows[0].DelayedClosed, "completedAt past the due date")
}

func TestSummarize_LegacyIssueFallsBackToUpdatedAt(t *testing.T) {
	f := newFixture(t)
	ana := models.Assignee{UserID: "u1", Name: "Ana"}

	// Oldest record shape: neither reviewedAt nor completedAt. The last
	// modification time stands in for delivery, and it is long past this
	// due date.
	f.closed(t, "ancient", models.DifficultySmall,
		date(2000, 1, 1), nil, nil, ana)

	rows, err := f.agg.Summarize(context.Background(), f.team.ID, "", "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].SClosed)
	assert.Equal(t, 1, rows[0].TotalClosed)
	assert.Equal(t, 0, rows[0].OnTimeClosed)
	assert.Equal(t, 1, rows[0].DelayedClosed)
}

func TestSummarize_NoDueDateHasNoTimelinessSignal(t *testing.T) {
	f := newFixture(t)
	ana := models.Assignee{UserID: "u1", Name: "Ana"}

	f.closed(t, "undated", models.DifficultySmall, nil, date(2025, 5, 1), nil, ana)

	rows, err := f.agg.Summarize(context.Background(), f.team.ID, "", "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].TotalClosed)
	assert.Equal(t, 0, rows[0].OnTimeClosed)
	assert.Equal(t, 0, rows[0].DelayedClosed)
}

func TestSummarize_UnsizedIssueCountsOnlyTowardTotal(t *testing.T) {
	f := newFixture(t)
	ana := models.Assignee{UserID: "u1", Name: "Ana"}

	f.closed(t, "unsized", "", date(2025, 5, 10), date(2025, 5, 9), nil, ana)

	rows, err := f.agg.Summarize(context.Background(), f.team.ID, "", "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 0, rows[0].SClosed+rows[0].MClosed+rows[0].LClosed)
	assert.Equal(t, 1, rows[0].TotalClosed)
}

func TestSummarize_IgnoresOpenIssues(t *testing.T) {
	f := newFixture(t)
	ana := models.Assignee{UserID: "u1", Name: "Ana"}

	open := &models.Issue{
		TeamID: f.team.ID, Title: "in flight", Priority: models.IssuePriorityNone,
		StateID: f.todo.ID, Assignees: []models.Assignee{ana},
	}
	require.NoError(t, f.store.CreateIssue(context.Background(), open, nil))

	rows, err := f.agg.Summarize(context.Background(), f.team.ID, "", "")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSummarize_SortsByTotalDescending(t *testing.T) {
	f := newFixture(t)
	ana := models.Assignee{UserID: "u1", Name: "Ana"}
	ben := models.Assignee{UserID: "u2", Name: "Ben"}

	f.closed(t, "one", models.DifficultySmall, nil, date(2025, 6, 1), nil, ben)
	f.closed(t, "two", models.DifficultySmall, nil, date(2025, 6, 2), nil, ana)
	f.closed(t, "three", models.DifficultySmall, nil, date(2025, 6, 3), nil, ana)

	rows, err := f.agg.Summarize(context.Background(), f.team.ID, "", "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Ana", rows[0].Name)
	assert.Equal(t, 2, rows[0].TotalClosed)
	assert.Equal(t, "Ben", rows[1].Name)
}

func TestSummarize_UserAndProjectFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ana := models.Assignee{UserID: "u1", Name: "Ana"}
	ben := models.Assignee{UserID: "u2", Name: "Ben"}

	p := &models.Project{TeamID: f.team.ID, Name: "Billing"}
	require.NoError(t, f.store.CreateProject(ctx, p))

	inProject := f.closed(t, "in project", models.DifficultySmall, nil, date(2025, 7, 1), nil, ana, ben)
	_, err := f.store.MutateIssue(ctx, f.team.ID, inProject.ID, func(m *store.IssueMutation) error {
		m.Issue().ProjectID = p.ID
		return nil
	})
	require.NoError(t, err)
	f.closed(t, "outside", models.DifficultySmall, nil, date(2025, 7, 2), nil, ana)

	rows, err := f.agg.Summarize(ctx, f.team.ID, p.ID, "")
	require.NoError(t, err)
	require.Len(t, rows, 2, "only the project issue, both assignees")
	for _, row := range rows {
		assert.Equal(t, 1, row.TotalClosed)
	}

	rows, err = f.agg.Summarize(ctx, f.team.ID, "", "u2")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ben", rows[0].Name)
	assert.Equal(t, 1, rows[0].TotalClosed)
}
