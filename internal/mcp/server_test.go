package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekit/trk/internal/analytics"
	"github.com/gatekit/trk/internal/directory"
	"github.com/gatekit/trk/internal/models"
	"github.com/gatekit/trk/internal/store"
	"github.com/gatekit/trk/internal/workflow"
)

type fixture struct {
	srv   *Server
	store *store.SQLiteStore
	team  *models.Team

	owner    *models.User
	dev      *models.User
	reviewer *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { s.Close() })

	team := &models.Team{Name: "Platform", Key: "PLT"}
	require.NoError(t, s.CreateTeam(ctx, team))

	stages := []struct {
		name string
		typ  models.WorkflowType
	}{
		{"Todo", models.WorkflowUnstarted},
		{"In Progress", models.WorkflowStarted},
		{"Review", models.WorkflowReview},
		{"Done", models.WorkflowCompleted},
	}
	for i, st := range stages {
		ws := &models.WorkflowState{TeamID: team.ID, Name: st.name, Type: st.typ, Position: i + 1}
		require.NoError(t, s.CreateWorkflowState(ctx, ws))
		if st.name == "Todo" {
			team.DefaultStateID = ws.ID
		}
	}
	require.NoError(t, s.UpdateTeam(ctx, team))

	f := &fixture{store: s, team: team}
	f.owner = f.addMember(t, "Olive", models.RoleOwner)
	f.dev = f.addMember(t, "Ana", models.RoleDeveloper)
	f.reviewer = f.addMember(t, "Rita", models.RoleDeveloper)

	eng := workflow.NewEngine(s, directory.NewStoreResolver(s))
	f.srv = NewServer(s, eng, analytics.NewAggregator(s))
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

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	err := json.Unmarshal([]byte(text), target)
	require.NoError(t, err, "failed to parse result JSON: %s", text)
}

// createIssue creates an issue through the tool handler and returns its key.
func (f *fixture) createIssue(t *testing.T, args map[string]any) issueOut {
	t.Helper()
	base := map[string]any{
		"team":  "PLT",
		"actor": f.dev.ID,
	}
	for k, v := range args {
		base[k] = v
	}
	result, err := f.srv.handleCreateIssue(context.Background(), callToolReq("trk_create_issue", base))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var out issueOut
	resultJSON(t, result, &out)
	return out
}

// toReview moves an issue into the Review stage with Rita as reviewer.
func (f *fixture) toReview(t *testing.T, key string) {
	t.Helper()
	result, err := f.srv.handleUpdateIssue(context.Background(), callToolReq("trk_update_issue", map[string]any{
		"team":     "PLT",
		"actor":    f.dev.ID,
		"issue":    key,
		"state":    "Review",
		"reviewer": f.reviewer.ID,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
}

func TestMCPIntegration_ListTools(t *testing.T) {
	f := newFixture(t)

	mcpSrv := f.srv.MCPServer()
	require.NotNil(t, mcpSrv)

	ctx := context.Background()
	reqJSON := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)
	respMsg := mcpSrv.HandleMessage(ctx, reqJSON)
	require.NotNil(t, respMsg)

	respBytes, err := json.Marshal(respMsg)
	require.NoError(t, err)

	var rpcResp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpcResp))

	toolNames := make(map[string]bool)
	for _, tool := range rpcResp.Result.Tools {
		toolNames[tool.Name] = true
	}

	expectedTools := []string{
		"trk_list_issues",
		"trk_create_issue",
		"trk_update_issue",
		"trk_review_decision",
		"trk_issue_activity",
		"trk_closure_summary",
	}
	for _, name := range expectedTools {
		assert.True(t, toolNames[name], "expected tool %q to be registered", name)
	}
}

func TestHandleCreateIssue_Defaults(t *testing.T) {
	f := newFixture(t)

	out := f.createIssue(t, map[string]any{"title": "Fix login timeout"})

	assert.Equal(t, "PLT-1", out.Key)
	assert.Equal(t, "Fix login timeout", out.Title)
	assert.Equal(t, "Todo", out.State, "defaults to the team's default state")
	assert.Equal(t, "none", out.Priority)
}

func TestHandleCreateIssue_FullInput(t *testing.T) {
	f := newFixture(t)

	out := f.createIssue(t, map[string]any{
		"title":      "Add caching",
		"priority":   "high",
		"difficulty": "M",
		"due_date":   "2026-04-01",
		"state":      "In Progress",
		"assignees":  f.dev.ID + ", " + f.owner.ID,
	})

	assert.Equal(t, "In Progress", out.State)
	assert.Equal(t, "high", out.Priority)
	assert.Equal(t, "M", out.Difficulty)
	assert.Equal(t, "2026-04-01", out.DueDate)
	assert.Equal(t, []string{"Ana", "Olive"}, out.Assignees)
}

func TestHandleCreateIssue_MissingTitle(t *testing.T) {
	f := newFixture(t)

	result, err := f.srv.handleCreateIssue(context.Background(), callToolReq("trk_create_issue", map[string]any{
		"team":  "PLT",
		"actor": f.dev.ID,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError, "should error when title is missing")
}

func TestHandleCreateIssue_InvalidDueDate(t *testing.T) {
	f := newFixture(t)

	result, err := f.srv.handleCreateIssue(context.Background(), callToolReq("trk_create_issue", map[string]any{
		"team":     "PLT",
		"actor":    f.dev.ID,
		"title":    "Bad date",
		"due_date": "04/01/2026",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "YYYY-MM-DD")
}

func TestHandleCreateIssue_ReviewStageRejected(t *testing.T) {
	f := newFixture(t)

	result, err := f.srv.handleCreateIssue(context.Background(), callToolReq("trk_create_issue", map[string]any{
		"team":  "PLT",
		"actor": f.dev.ID,
		"title": "Skip the queue",
		"state": "Review",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError, "issues cannot be created directly in review")
}

func TestHandleListIssues(t *testing.T) {
	f := newFixture(t)

	f.createIssue(t, map[string]any{"title": "First issue"})
	f.createIssue(t, map[string]any{"title": "Second issue", "state": "In Progress"})

	result, err := f.srv.handleListIssues(context.Background(), callToolReq("trk_list_issues", map[string]any{
		"team": "PLT",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var all []issueOut
	resultJSON(t, result, &all)
	assert.Len(t, all, 2)

	// State filter by name
	result, err = f.srv.handleListIssues(context.Background(), callToolReq("trk_list_issues", map[string]any{
		"team":  "PLT",
		"state": "In Progress",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var filtered []issueOut
	resultJSON(t, result, &filtered)
	require.Len(t, filtered, 1)
	assert.Equal(t, "Second issue", filtered[0].Title)
}

func TestHandleListIssues_UnknownTeam(t *testing.T) {
	f := newFixture(t)

	result, err := f.srv.handleListIssues(context.Background(), callToolReq("trk_list_issues", map[string]any{
		"team": "NOPE",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleUpdateIssue_ByKey(t *testing.T) {
	f := newFixture(t)

	out := f.createIssue(t, map[string]any{"title": "Old title"})

	result, err := f.srv.handleUpdateIssue(context.Background(), callToolReq("trk_update_issue", map[string]any{
		"team":  "PLT",
		"actor": f.dev.ID,
		"issue": out.Key,
		"title": "New title",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var updated issueOut
	resultJSON(t, result, &updated)
	assert.Equal(t, "New title", updated.Title)
	assert.Equal(t, out.ID, updated.ID)
}

func TestHandleUpdateIssue_NoFields(t *testing.T) {
	f := newFixture(t)

	out := f.createIssue(t, map[string]any{"title": "Untouched"})

	result, err := f.srv.handleUpdateIssue(context.Background(), callToolReq("trk_update_issue", map[string]any{
		"team":  "PLT",
		"actor": f.dev.ID,
		"issue": out.Key,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError, "should error when no fields are provided")
}

func TestHandleUpdateIssue_LockedInReview(t *testing.T) {
	f := newFixture(t)

	out := f.createIssue(t, map[string]any{"title": "Under review", "assignees": f.dev.ID})
	f.toReview(t, out.Key)

	result, err := f.srv.handleUpdateIssue(context.Background(), callToolReq("trk_update_issue", map[string]any{
		"team":  "PLT",
		"actor": f.dev.ID,
		"issue": out.Key,
		"title": "Sneaky edit",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError, "edits are locked while the issue is in review")
}

func TestHandleReviewDecision_Approve(t *testing.T) {
	f := newFixture(t)

	out := f.createIssue(t, map[string]any{"title": "Ship it", "assignees": f.dev.ID})
	f.toReview(t, out.Key)

	result, err := f.srv.handleReviewDecision(context.Background(), callToolReq("trk_review_decision", map[string]any{
		"team":     "PLT",
		"actor":    f.reviewer.ID,
		"issue":    out.Key,
		"decision": "approve",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var approved issueOut
	resultJSON(t, result, &approved)
	assert.Equal(t, "Done", approved.State)
	assert.NotEmpty(t, approved.CompletedAt)
	assert.Empty(t, approved.Reviewer, "reviewer is cleared on leaving review")
}

func TestHandleReviewDecision_SendBackRequiresReason(t *testing.T) {
	f := newFixture(t)

	out := f.createIssue(t, map[string]any{"title": "Needs work", "assignees": f.dev.ID})
	f.toReview(t, out.Key)

	result, err := f.srv.handleReviewDecision(context.Background(), callToolReq("trk_review_decision", map[string]any{
		"team":     "PLT",
		"actor":    f.reviewer.ID,
		"issue":    out.Key,
		"decision": "send_back",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError, "send_back without a reason must fail")

	result, err = f.srv.handleReviewDecision(context.Background(), callToolReq("trk_review_decision", map[string]any{
		"team":     "PLT",
		"actor":    f.reviewer.ID,
		"issue":    out.Key,
		"decision": "send_back",
		"reason":   "tests are missing for the error path",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var sentBack issueOut
	resultJSON(t, result, &sentBack)
	assert.Equal(t, "In Progress", sentBack.State, "defaults to the first started stage")
}

func TestHandleReviewDecision_NonReviewerRejected(t *testing.T) {
	f := newFixture(t)

	out := f.createIssue(t, map[string]any{"title": "Not yours", "assignees": f.dev.ID})
	f.toReview(t, out.Key)

	result, err := f.srv.handleReviewDecision(context.Background(), callToolReq("trk_review_decision", map[string]any{
		"team":     "PLT",
		"actor":    f.dev.ID,
		"issue":    out.Key,
		"decision": "approve",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError, "a developer who is not the reviewer cannot approve")
}

func TestHandleIssueActivity(t *testing.T) {
	f := newFixture(t)

	out := f.createIssue(t, map[string]any{"title": "Busy issue"})
	for _, title := range []string{"v1", "v2"} {
		result, err := f.srv.handleUpdateIssue(context.Background(), callToolReq("trk_update_issue", map[string]any{
			"team":  "PLT",
			"actor": f.dev.ID,
			"issue": out.Key,
			"title": title,
		}))
		require.NoError(t, err)
		require.False(t, result.IsError)
	}

	result, err := f.srv.handleIssueActivity(context.Background(), callToolReq("trk_issue_activity", map[string]any{
		"team":  "PLT",
		"issue": out.Key,
		"limit": 2,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var page struct {
		Items []struct {
			Action   string `json:"action"`
			NewValue string `json:"new_value"`
		} `json:"items"`
		HasMore    bool   `json:"has_more"`
		NextCursor string `json:"next_cursor"`
	}
	resultJSON(t, result, &page)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "v2", page.Items[0].NewValue, "newest first")
	assert.True(t, page.HasMore)
	assert.NotEmpty(t, page.NextCursor)
}

func TestHandleClosureSummary(t *testing.T) {
	f := newFixture(t)

	out := f.createIssue(t, map[string]any{
		"title":      "Closed work",
		"difficulty": "M",
		"assignees":  f.dev.ID,
	})
	f.toReview(t, out.Key)

	result, err := f.srv.handleReviewDecision(context.Background(), callToolReq("trk_review_decision", map[string]any{
		"team":     "PLT",
		"actor":    f.reviewer.ID,
		"issue":    out.Key,
		"decision": "approve",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	result, err = f.srv.handleClosureSummary(context.Background(), callToolReq("trk_closure_summary", map[string]any{
		"team": "PLT",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var rows []struct {
		Name    string `json:"name"`
		MClosed int    `json:"m_closed"`
		Total   int    `json:"total_closed"`
	}
	resultJSON(t, result, &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ana", rows[0].Name)
	assert.Equal(t, 1, rows[0].MClosed)
	assert.Equal(t, 1, rows[0].Total)
}
