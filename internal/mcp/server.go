package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gatekit/trk/internal/analytics"
	"github.com/gatekit/trk/internal/models"
	"github.com/gatekit/trk/internal/store"
	"github.com/gatekit/trk/internal/workflow"
)

// Server wraps the trk data layer and exposes it as MCP tools. Every
// mutating tool requires an "actor" argument naming the acting user;
// workflow rules are enforced the same way as for the HTTP API.
type Server struct {
	store store.Store
	eng   *workflow.Engine
	agg   *analytics.Aggregator
}

// NewServer creates the MCP server wrapper with all required dependencies.
func NewServer(s store.Store, eng *workflow.Engine, agg *analytics.Aggregator) *Server {
	return &Server{store: s, eng: eng, agg: agg}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("trk", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.listIssuesTool())
	srv.AddTool(s.createIssueTool())
	srv.AddTool(s.updateIssueTool())
	srv.AddTool(s.reviewDecisionTool())
	srv.AddTool(s.issueActivityTool())
	srv.AddTool(s.closureSummaryTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// issueOut is the JSON shape shared by all issue-returning tools.
type issueOut struct {
	ID          string   `json:"id"`
	Number      int      `json:"number"`
	Key         string   `json:"key"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	State       string   `json:"state"`
	StateType   string   `json:"state_type"`
	Priority    string   `json:"priority"`
	Difficulty  string   `json:"difficulty,omitempty"`
	DueDate     string   `json:"due_date,omitempty"`
	Assignees   []string `json:"assignees"`
	Reviewer    string   `json:"reviewer,omitempty"`
	ProjectID   string   `json:"project_id,omitempty"`
	ParentID    string   `json:"parent_id,omitempty"`
	CompletedAt string   `json:"completed_at,omitempty"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

func toIssueOut(team *models.Team, issue *models.Issue, statesByID map[string]*models.WorkflowState) issueOut {
	out := issueOut{
		ID:          issue.ID,
		Number:      issue.Number,
		Key:         fmt.Sprintf("%s-%d", team.Key, issue.Number),
		Title:       issue.Title,
		Description: issue.Description,
		Priority:    string(issue.Priority),
		Difficulty:  string(issue.Difficulty),
		Reviewer:    issue.ReviewerName,
		ProjectID:   issue.ProjectID,
		ParentID:    issue.ParentID,
		CreatedAt:   issue.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   issue.UpdatedAt.Format(time.RFC3339),
	}
	if st := statesByID[issue.StateID]; st != nil {
		out.State = st.Name
		out.StateType = string(st.Type)
	}
	if issue.DueDate != nil {
		out.DueDate = issue.DueDate.Format("2006-01-02")
	}
	if issue.CompletedAt != nil {
		out.CompletedAt = issue.CompletedAt.Format(time.RFC3339)
	}
	out.Assignees = make([]string, len(issue.Assignees))
	for i, a := range issue.Assignees {
		out.Assignees[i] = a.Name
	}
	return out
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// trk_list_issues
func (s *Server) listIssuesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trk_list_issues",
		mcp.WithDescription("List a team's issues, optionally filtered by project, workflow state, and/or assignee. Returns a JSON array of issues with key (e.g. ENG-42), title, state, priority, difficulty, assignees, and reviewer."),
		mcp.WithString("team", mcp.Required(), mcp.Description("Team key (e.g. ENG) or team ID")),
		mcp.WithString("project", mcp.Description("Project name to filter by")),
		mcp.WithString("state", mcp.Description("Workflow state name to filter by (e.g. In Progress)")),
		mcp.WithString("assignee", mcp.Description("Assignee user ID to filter by")),
	)
	return tool, s.handleListIssues
}

func (s *Server) handleListIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	teamRef, err := request.RequireString("team")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: team"), nil
	}
	team, err := s.resolveTeam(ctx, teamRef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("team not found: %s", teamRef)), nil
	}

	filter := store.IssueListFilter{
		TeamID:     team.ID,
		AssigneeID: request.GetString("assignee", ""),
	}

	if projectName := request.GetString("project", ""); projectName != "" {
		p, err := s.store.GetProjectByName(ctx, team.ID, projectName)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", projectName)), nil
		}
		filter.ProjectID = p.ID
	}

	states, statesByID, err := s.teamStates(ctx, team.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list workflow states: %v", err)), nil
	}
	if stateName := request.GetString("state", ""); stateName != "" {
		st := stateByName(states, stateName)
		if st == nil {
			return mcp.NewToolResultError(fmt.Sprintf("workflow state not found: %s", stateName)), nil
		}
		filter.StateIDs = []string{st.ID}
	}

	issues, err := s.store.ListIssues(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list issues: %v", err)), nil
	}

	out := make([]issueOut, len(issues))
	for i, issue := range issues {
		out[i] = toIssueOut(team, issue, statesByID)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal issues: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// trk_create_issue
func (s *Server) createIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trk_create_issue",
		mcp.WithDescription("Create a new issue for a team. The issue starts in the given workflow state or the team's default state; issues can never be created directly in a review or done stage. Returns the created issue as JSON."),
		mcp.WithString("team", mcp.Required(), mcp.Description("Team key or team ID")),
		mcp.WithString("actor", mcp.Required(), mcp.Description("Acting user ID (must be a team member)")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Issue title")),
		mcp.WithString("description", mcp.Description("Issue description")),
		mcp.WithString("priority", mcp.Description("Priority: none, low, medium, high, urgent (default: none)")),
		mcp.WithString("difficulty", mcp.Description("Size tier: S, M, or L")),
		mcp.WithString("due_date", mcp.Description("Due date as YYYY-MM-DD")),
		mcp.WithString("state", mcp.Description("Workflow state name (default: team's default state)")),
		mcp.WithString("assignees", mcp.Description("Comma-separated assignee user IDs; the first is the primary assignee")),
		mcp.WithString("project", mcp.Description("Project name")),
	)
	return tool, s.handleCreateIssue
}

func (s *Server) handleCreateIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	teamRef, err := request.RequireString("team")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: team"), nil
	}
	actorID, err := request.RequireString("actor")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: actor"), nil
	}
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}

	team, err := s.resolveTeam(ctx, teamRef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("team not found: %s", teamRef)), nil
	}

	in := workflow.CreateIssueInput{
		Title:       title,
		Description: request.GetString("description", ""),
		Priority:    models.IssuePriority(request.GetString("priority", "")),
		Difficulty:  models.IssueDifficulty(request.GetString("difficulty", "")),
		Assignees:   splitList(request.GetString("assignees", "")),
	}

	if due := request.GetString("due_date", ""); due != "" {
		t, err := time.Parse("2006-01-02", due)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid due_date %q: use YYYY-MM-DD", due)), nil
		}
		in.DueDate = &t
	}

	states, statesByID, err := s.teamStates(ctx, team.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list workflow states: %v", err)), nil
	}
	if stateName := request.GetString("state", ""); stateName != "" {
		st := stateByName(states, stateName)
		if st == nil {
			return mcp.NewToolResultError(fmt.Sprintf("workflow state not found: %s", stateName)), nil
		}
		in.StateID = st.ID
	}

	if projectName := request.GetString("project", ""); projectName != "" {
		p, err := s.store.GetProjectByName(ctx, team.ID, projectName)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", projectName)), nil
		}
		in.ProjectID = p.ID
	}

	issue, err := s.eng.CreateIssue(ctx, team.ID, in, actorID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create issue: %v", err)), nil
	}

	data, err := json.Marshal(toIssueOut(team, issue, statesByID))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal issue: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// trk_update_issue
func (s *Server) updateIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trk_update_issue",
		mcp.WithDescription("Update an existing issue. Provide the issue key or ID and at least one field to change. While an issue is in a review stage only state and reviewer changes are allowed; done stages are only reachable from review via trk_review_decision. Returns the updated issue as JSON."),
		mcp.WithString("team", mcp.Required(), mcp.Description("Team key or team ID")),
		mcp.WithString("actor", mcp.Required(), mcp.Description("Acting user ID (must be a team member)")),
		mcp.WithString("issue", mcp.Required(), mcp.Description("Issue key (e.g. ENG-42), number, or full ID")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("description", mcp.Description("New description")),
		mcp.WithString("priority", mcp.Description("New priority: none, low, medium, high, urgent")),
		mcp.WithString("difficulty", mcp.Description("New size tier: S, M, or L")),
		mcp.WithString("due_date", mcp.Description("New due date as YYYY-MM-DD")),
		mcp.WithString("state", mcp.Description("Target workflow state name. Moving into a review stage also requires reviewer")),
		mcp.WithString("reviewer", mcp.Description("Reviewer user ID (required when moving into a review stage)")),
		mcp.WithString("assignees", mcp.Description("Comma-separated assignee user IDs, replacing the current set")),
	)
	return tool, s.handleUpdateIssue
}

func (s *Server) handleUpdateIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	teamRef, err := request.RequireString("team")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: team"), nil
	}
	actorID, err := request.RequireString("actor")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: actor"), nil
	}
	issueRef, err := request.RequireString("issue")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue"), nil
	}

	team, err := s.resolveTeam(ctx, teamRef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("team not found: %s", teamRef)), nil
	}
	issue, err := s.findIssue(ctx, team.ID, issueRef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("issue not found: %s", issueRef)), nil
	}

	states, statesByID, err := s.teamStates(ctx, team.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list workflow states: %v", err)), nil
	}

	var patch workflow.Patch
	if title := request.GetString("title", ""); title != "" {
		patch.Title = &title
	}
	if desc := request.GetString("description", ""); desc != "" {
		patch.Description = &desc
	}
	if priority := request.GetString("priority", ""); priority != "" {
		p := models.IssuePriority(priority)
		patch.Priority = &p
	}
	if difficulty := request.GetString("difficulty", ""); difficulty != "" {
		d := models.IssueDifficulty(difficulty)
		patch.Difficulty = &d
	}
	if due := request.GetString("due_date", ""); due != "" {
		t, err := time.Parse("2006-01-02", due)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid due_date %q: use YYYY-MM-DD", due)), nil
		}
		patch.DueDate = &t
	}
	if stateName := request.GetString("state", ""); stateName != "" {
		st := stateByName(states, stateName)
		if st == nil {
			return mcp.NewToolResultError(fmt.Sprintf("workflow state not found: %s", stateName)), nil
		}
		patch.StateID = &st.ID
	}
	if reviewerID := request.GetString("reviewer", ""); reviewerID != "" {
		patch.ReviewerID = &reviewerID
	}
	if assignees := request.GetString("assignees", ""); assignees != "" {
		ids := splitList(assignees)
		patch.Assignees = &ids
	}

	if patch.Empty() {
		return mcp.NewToolResultError("no fields provided to update; specify at least one of: title, description, priority, difficulty, due_date, state, reviewer, assignees"), nil
	}

	updated, err := s.eng.UpdateIssue(ctx, team.ID, issue.ID, actorID, patch)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update issue: %v", err)), nil
	}

	data, err := json.Marshal(toIssueOut(team, updated, statesByID))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal issue: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// trk_review_decision
func (s *Server) reviewDecisionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trk_review_decision",
		mcp.WithDescription("Decide a review on an issue currently in a review stage. Decisions: approve (moves to the done stage), send_back (returns to a todo/in-progress stage; requires a reason of at least 10 characters), reassign (hands the review to another reviewer). Only the assigned reviewer or a team owner/admin may approve or send back."),
		mcp.WithString("team", mcp.Required(), mcp.Description("Team key or team ID")),
		mcp.WithString("actor", mcp.Required(), mcp.Description("Acting user ID")),
		mcp.WithString("issue", mcp.Required(), mcp.Description("Issue key (e.g. ENG-42), number, or full ID")),
		mcp.WithString("decision", mcp.Required(), mcp.Description("One of: approve, send_back, reassign")),
		mcp.WithString("reason", mcp.Description("Rejection reason (required for send_back, minimum 10 characters)")),
		mcp.WithString("reviewer", mcp.Description("New reviewer user ID (required for reassign)")),
		mcp.WithString("target_state", mcp.Description("Target workflow state name (defaults to the team's first matching stage)")),
	)
	return tool, s.handleReviewDecision
}

func (s *Server) handleReviewDecision(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	teamRef, err := request.RequireString("team")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: team"), nil
	}
	actorID, err := request.RequireString("actor")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: actor"), nil
	}
	issueRef, err := request.RequireString("issue")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue"), nil
	}
	decision, err := request.RequireString("decision")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: decision"), nil
	}

	team, err := s.resolveTeam(ctx, teamRef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("team not found: %s", teamRef)), nil
	}
	issue, err := s.findIssue(ctx, team.ID, issueRef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("issue not found: %s", issueRef)), nil
	}

	states, statesByID, err := s.teamStates(ctx, team.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list workflow states: %v", err)), nil
	}

	in := workflow.DecisionInput{
		ReviewerID: request.GetString("reviewer", ""),
		Reason:     request.GetString("reason", ""),
	}
	if stateName := request.GetString("target_state", ""); stateName != "" {
		st := stateByName(states, stateName)
		if st == nil {
			return mcp.NewToolResultError(fmt.Sprintf("workflow state not found: %s", stateName)), nil
		}
		in.TargetStateID = st.ID
	}

	updated, err := s.eng.ReviewDecision(ctx, team.ID, issue.ID, actorID, workflow.Decision(decision), in)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("review decision failed: %v", err)), nil
	}

	data, err := json.Marshal(toIssueOut(team, updated, statesByID))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal issue: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// trk_issue_activity
func (s *Server) issueActivityTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trk_issue_activity",
		mcp.WithDescription("Read an issue's append-only activity log, newest first. Returns a JSON object with items, has_more, and next_cursor for pagination."),
		mcp.WithString("team", mcp.Required(), mcp.Description("Team key or team ID")),
		mcp.WithString("issue", mcp.Required(), mcp.Description("Issue key (e.g. ENG-42), number, or full ID")),
		mcp.WithNumber("limit", mcp.Description("Page size, 1-200 (default: 50)")),
		mcp.WithString("cursor", mcp.Description("Opaque cursor from a previous page")),
	)
	return tool, s.handleIssueActivity
}

func (s *Server) handleIssueActivity(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	teamRef, err := request.RequireString("team")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: team"), nil
	}
	issueRef, err := request.RequireString("issue")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue"), nil
	}

	team, err := s.resolveTeam(ctx, teamRef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("team not found: %s", teamRef)), nil
	}
	issue, err := s.findIssue(ctx, team.ID, issueRef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("issue not found: %s", issueRef)), nil
	}

	limit := request.GetInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	cursor := request.GetString("cursor", "")

	page, err := s.store.ListIssueActivity(ctx, issue.ID, cursor, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list activity: %v", err)), nil
	}

	type activityOut struct {
		Actor     string            `json:"actor"`
		Action    string            `json:"action"`
		Field     string            `json:"field,omitempty"`
		OldValue  string            `json:"old_value,omitempty"`
		NewValue  string            `json:"new_value,omitempty"`
		Metadata  map[string]string `json:"metadata,omitempty"`
		CreatedAt string            `json:"created_at"`
	}

	items := make([]activityOut, len(page.Items))
	for i, a := range page.Items {
		items[i] = activityOut{
			Actor:     a.ActorName,
			Action:    string(a.Action),
			Field:     a.Field,
			OldValue:  a.OldValue,
			NewValue:  a.NewValue,
			Metadata:  a.Metadata,
			CreatedAt: a.CreatedAt.Format(time.RFC3339),
		}
	}

	result := map[string]any{
		"items":       items,
		"has_more":    page.HasMore,
		"next_cursor": page.NextCursor,
	}
	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal activity: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// trk_closure_summary
func (s *Server) closureSummaryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trk_closure_summary",
		mcp.WithDescription("Per-assignee closure summary over the team's done issues: counts by size tier (S/M/L), total closed, and on-time vs delayed against due dates. Computed from current issue state on every call."),
		mcp.WithString("team", mcp.Required(), mcp.Description("Team key or team ID")),
		mcp.WithString("project", mcp.Description("Project name to filter by")),
		mcp.WithString("user", mcp.Description("User ID to filter by")),
	)
	return tool, s.handleClosureSummary
}

func (s *Server) handleClosureSummary(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	teamRef, err := request.RequireString("team")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: team"), nil
	}
	team, err := s.resolveTeam(ctx, teamRef)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("team not found: %s", teamRef)), nil
	}

	projectID := ""
	if projectName := request.GetString("project", ""); projectName != "" {
		p, err := s.store.GetProjectByName(ctx, team.ID, projectName)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", projectName)), nil
		}
		projectID = p.ID
	}

	rows, err := s.agg.Summarize(ctx, team.ID, projectID, request.GetString("user", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to compute summary: %v", err)), nil
	}

	type summaryOut struct {
		UserID  string `json:"user_id"`
		Name    string `json:"name"`
		SClosed int    `json:"s_closed"`
		MClosed int    `json:"m_closed"`
		LClosed int    `json:"l_closed"`
		Total   int    `json:"total_closed"`
		OnTime  int    `json:"on_time"`
		Delayed int    `json:"delayed"`
	}

	out := make([]summaryOut, len(rows))
	for i, r := range rows {
		out[i] = summaryOut{
			UserID:  r.UserID,
			Name:    r.Name,
			SClosed: r.SClosed,
			MClosed: r.MClosed,
			LClosed: r.LClosed,
			Total:   r.TotalClosed,
			OnTime:  r.OnTimeClosed,
			Delayed: r.DelayedClosed,
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal summary: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// resolveTeam tries to find a team by key first, then by ID.
func (s *Server) resolveTeam(ctx context.Context, ref string) (*models.Team, error) {
	if t, err := s.store.GetTeamByKey(ctx, strings.ToUpper(ref)); err == nil {
		return t, nil
	}
	if t, err := s.store.GetTeam(ctx, ref); err == nil {
		return t, nil
	}
	return nil, fmt.Errorf("team not found: %s", ref)
}

// findIssue resolves an issue by key (ENG-42), bare number, or full ID.
func (s *Server) findIssue(ctx context.Context, teamID, ref string) (*models.Issue, error) {
	numPart := ref
	if idx := strings.LastIndex(ref, "-"); idx >= 0 {
		numPart = ref[idx+1:]
	}
	if n, err := strconv.Atoi(numPart); err == nil {
		return s.store.GetIssueByNumber(ctx, teamID, n)
	}
	return s.store.GetIssue(ctx, teamID, ref)
}

func (s *Server) teamStates(ctx context.Context, teamID string) ([]*models.WorkflowState, map[string]*models.WorkflowState, error) {
	states, err := s.store.ListWorkflowStates(ctx, teamID)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[string]*models.WorkflowState, len(states))
	for _, st := range states {
		byID[st.ID] = st
	}
	return states, byID, nil
}

// stateByName matches a workflow state by name, case-insensitively.
func stateByName(states []*models.WorkflowState, name string) *models.WorkflowState {
	for _, st := range states {
		if strings.EqualFold(st.Name, name) {
			return st
		}
	}
	return nil
}

// splitList parses a comma-separated argument into trimmed, non-empty parts.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
