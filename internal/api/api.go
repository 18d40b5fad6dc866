// Package api exposes the issue workflow over HTTP/JSON. The acting user
// is taken from the X-Actor-ID header; authentication is left to whatever
// sits in front of the server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gatekit/trk/internal/analytics"
	"github.com/gatekit/trk/internal/directory"
	"github.com/gatekit/trk/internal/llm"
	"github.com/gatekit/trk/internal/models"
	"github.com/gatekit/trk/internal/store"
	"github.com/gatekit/trk/internal/workflow"
)

// duplicateTimeout bounds project duplication, which copies a project's
// full issue tree row by row in one transaction.
const duplicateTimeout = 60 * time.Second

// Server provides the REST API handlers.
type Server struct {
	store store.Store
	eng   *workflow.Engine
	agg   *analytics.Aggregator
	teams *directory.TeamCache
	llm   *llm.Client
}

// NewServer creates a new API server.
// The llmClient may be nil if no API key is configured.
func NewServer(s store.Store, eng *workflow.Engine, llmClient *llm.Client) *Server {
	return &Server{
		store: s,
		eng:   eng,
		agg:   analytics.NewAggregator(s),
		teams: directory.NewTeamCache(s, 5*time.Minute, 256),
		llm:   llmClient,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/users", s.createUser)
	mux.HandleFunc("GET /api/v1/teams", s.listTeams)
	mux.HandleFunc("POST /api/v1/teams", s.createTeam)
	mux.HandleFunc("GET /api/v1/teams/{team}", s.getTeam)
	mux.HandleFunc("POST /api/v1/teams/{team}/members", s.upsertMember)
	mux.HandleFunc("GET /api/v1/teams/{team}/members", s.listMembers)
	mux.HandleFunc("GET /api/v1/teams/{team}/states", s.listStates)
	mux.HandleFunc("POST /api/v1/teams/{team}/states", s.createState)

	mux.HandleFunc("GET /api/v1/teams/{team}/projects", s.listProjects)
	mux.HandleFunc("POST /api/v1/teams/{team}/projects", s.createProject)
	mux.HandleFunc("POST /api/v1/teams/{team}/projects/{id}/duplicate", s.duplicateProject)
	mux.HandleFunc("GET /api/v1/teams/{team}/labels", s.listLabels)
	mux.HandleFunc("POST /api/v1/teams/{team}/labels", s.createLabel)

	mux.HandleFunc("GET /api/v1/teams/{team}/issues", s.listIssues)
	mux.HandleFunc("POST /api/v1/teams/{team}/issues", s.createIssue)
	mux.HandleFunc("GET /api/v1/teams/{team}/issues/{id}", s.getIssue)
	mux.HandleFunc("PATCH /api/v1/teams/{team}/issues/{id}", s.updateIssue)
	mux.HandleFunc("DELETE /api/v1/teams/{team}/issues/{id}", s.deleteIssue)
	mux.HandleFunc("POST /api/v1/teams/{team}/issues/{id}/review", s.reviewDecision)
	mux.HandleFunc("GET /api/v1/teams/{team}/issues/{id}/activity", s.listActivity)
	mux.HandleFunc("POST /api/v1/teams/{team}/issues/{id}/enrich", s.enrichIssue)

	mux.HandleFunc("GET /api/v1/teams/{team}/summary", s.closureSummary)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Actor-ID")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the workflow error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		verr *workflow.ValidationError
		aerr *workflow.AuthorizationError
		serr *workflow.StateViolationError
		ierr *workflow.StructuralIntegrityError
		lerr *workflow.LockViolationError
	)
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &aerr):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &serr), errors.As(err, &ierr):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &lerr):
		writeError(w, http.StatusLocked, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// actor extracts the acting user id from the request header.
func actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get("X-Actor-ID")
	if id == "" {
		writeError(w, http.StatusBadRequest, "X-Actor-ID header is required")
		return "", false
	}
	return id, true
}

// team validates the {team} path segment against the existence cache.
func (s *Server) team(w http.ResponseWriter, r *http.Request) (string, bool) {
	teamID := r.PathValue("team")
	exists, err := s.teams.Exists(r.Context(), teamID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return "", false
	}
	if !exists {
		writeError(w, http.StatusNotFound, fmt.Sprintf("team %s not found", teamID))
		return "", false
	}
	return teamID, true
}

func parseDate(s string) (*time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return &t, nil
}

// --- Users, teams, membership ---

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var u models.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if u.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := s.store.CreateUser(r.Context(), &u); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) listTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := s.store.ListTeams(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, teams)
}

func (s *Server) createTeam(w http.ResponseWriter, r *http.Request) {
	var t models.Team
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if t.Name == "" || t.Key == "" {
		writeError(w, http.StatusBadRequest, "name and key are required")
		return
	}
	if err := s.store.CreateTeam(r.Context(), &t); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.teams.Invalidate(t.ID)
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) getTeam(w http.ResponseWriter, r *http.Request) {
	team, err := s.store.GetTeam(r.Context(), r.PathValue("team"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (s *Server) upsertMember(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.team(w, r)
	if !ok {
		return
	}
	var req struct {
		UserID string `json:"userId"`
		Role   string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	role := models.Role(req.Role)
	if role != models.RoleOwner && role != models.RoleAdmin && role != models.RoleDeveloper {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid role %q", req.Role))
		return
	}
	if _, err := s.store.GetUser(r.Context(), req.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	m := &models.TeamMember{TeamID: teamID, UserID: req.UserID, Role: role}
	if err := s.store.UpsertTeamMember(r.Context(), m); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.team(w, r)
	if !ok {
		return
	}
	members, err := s.store.ListTeamMembers(r.Context(), teamID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// --- Workflow states ---

func (s *Server) listStates(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.team(w, r)
	if !ok {
		return
	}
	states, err := s.store.ListWorkflowStates(r.Context(), teamID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) createState(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.team(w, r)
	if !ok {
		return
	}
	var st models.WorkflowState
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if st.Name == "" || !models.ValidWorkflowType(st.Type) {
		writeError(w, http.StatusBadRequest, "name and a valid type are required")
		return
	}
	st.TeamID = teamID
	if err := s.store.CreateWorkflowState(r.Context(), &st); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// --- Projects and labels ---

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.team(w, r)
	if !ok {
		return
	}
	projects, err := s.store.ListProjects(r.Context(), teamID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.team(w, r)
	if !ok {
		return
	}
	var p models.Project
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if p.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	p.TeamID = teamID
	if err := s.store.CreateProject(r.Context(), &p); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) duplicateProject(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.team(w, r)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), duplicateTimeout)
	defer cancel()
	dup, err := s.store.DuplicateProject(ctx, teamID, r.PathValue("id"), req.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dup)
}

func (s *Server) listLabels(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.team(w, r)
	if !ok {
		return
	}
	labels, err := s.store.ListLabels(r.Context(), teamID, r.URL.Query().Get("projectId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, labels)
}

func (s *Server) createLabel(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.team(w, r)
	if !ok {
		return
	}
	var l models.Label
	if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if l.Name == "" || l.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "name and projectId are required")
		return
	}
	if _, err := s.store.GetProject(r.Context(), teamID, l.ProjectID); err != nil {
		writeDomainError(w, err)
		return
	}
	l.TeamID = teamID
	if err := s.store.CreateLabel(r.Context(), &l); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

// --- Issues ---

func (s *Server) listIssues(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.team(w, r)
	if !ok {
		return
	}
	filter := store.IssueListFilter{
		TeamID:     teamID,
		ProjectID:  r.URL.Query().Get("projectId"),
		AssigneeID: r.URL.Query().Get("assigneeId"),
	}
	if stateID := r.URL.Query().Get("stateId"); stateID != "" {
		filter.StateIDs = []string{stateID}
	}
	issues, err := s.store.ListIssues(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if issues == nil {
		issues = []*models.Issue{}
	}
	writeJSON(w, http.StatusOK, issues)
}

type createIssueRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	Difficulty  string   `json:"difficulty"`
	DueDate     string   `json:"dueDate"`
	StateID     string   `json:"stateId"`
	Assignees   []string `json:"assignees"`
	Labels      []string `json:"labels"`
	ParentID    string   `json:"parentId"`
	ProjectID   string   `json:"projectId"`
	Strict      bool     `json:"strict"`
}

func (s *Server) createIssue(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.team(w, r)
	if !ok {
		return
	}
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	var req createIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	in := workflow.CreateIssueInput{
		Title:       req.Title,
		Description: req.Description,
		Priority:    models.IssuePriority(req.Priority),
		Difficulty:  models.IssueDifficulty(req.Difficulty),
		StateID:     req.StateID,
		Assignees:   req.Assignees,
		Labels:      req.Labels,
		ParentID:    req.ParentID,
		ProjectID:   req.ProjectID,
		Strict:      req.Strict,
	}
	if req.DueDate != "" {
		due, err := parseDate(req.DueDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		in.DueDate = due
	}

	issue, err := s.eng.CreateIssue(r.Context(), teamID, in, actorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, issue)
}

func (s *Server) getIssue(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.team(w, r)
	if !ok {
		return
	}
	issue, err := s.store.GetIssue(r.Context(), teamID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// issuePatchRequest distinguishes "absent" from "set to empty": nil
// pointers leave a field alone, while an empty string clears the optional
// dueDate/parentId/projectId fields.
type issuePatchRequest struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Priority    *string   `json:"priority"`
	Difficulty  *string   `json:"difficulty"`
	DueDate     *string   `json:"dueDate"`
	Assignees   *[]string `json:"assignees"`
	Labels      *[]string `json:"labels"`
	ParentID    *string   `json:"parentId"`
	ProjectID   *string   `json:"projectId"`
	StateID     *string   `json:"stateId"`
	ReviewerID  *string   `json:"reviewerId"`
	Reason      string    `json:"reason"`
}

func (r *issuePatchRequest) toPatch() (workflow.Patch, error) {
	patch := workflow.Patch{
		Title:       r.Title,
		Description: r.Description,
		Assignees:   r.Assignees,
		Labels:      r.Labels,
		StateID:     r.StateID,
		ReviewerID:  r.ReviewerID,
		Reason:      r.Reason,
	}
	if r.Priority != nil {
		p := models.IssuePriority(*r.Priority)
		patch.Priority = &p
	}
	if r.Difficulty != nil {
		d := models.IssueDifficulty(*r.Difficulty)
		patch.Difficulty = &d
	}
	if r.DueDate != nil {
		if *r.DueDate == "" {
			patch.RemoveDueDate = true
		} else {
			due, err := parseDate(*r.DueDate)
			if err != nil {
				return patch, err
			}
			patch.DueDate = due
		}
	}
	if r.ParentID != nil {
		if *r.ParentID == "" {
			patch.RemoveParent = true
		} else {
			patch.ParentID = r.ParentID
		}
	}
	if r.ProjectID != nil {
		if *r.ProjectID == "" {
			patch.RemoveProject = true
		} else {
			patch.ProjectID = r.ProjectID
		}
	}
	return patch, nil
}

func (s *Server) updateIssue(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.team(w, r)
	if !ok {
		return
	}
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	var req issuePatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	issue, err := s.eng.UpdateIssue(r.Context(), teamID, r.PathValue("id"), actorID, patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) deleteIssue(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.team(w, r)
	if !ok {
		return
	}
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	if err := s.eng.DeleteIssue(r.Context(), teamID, r.PathValue("id"), actorID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Review ---

func (s *Server) reviewDecision(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.team(w, r)
	if !ok {
		return
	}
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	var req struct {
		Decision      string `json:"decision"`
		TargetStateID string `json:"targetStateId"`
		ReviewerID    string `json:"reviewerId"`
		Reason        string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	issue, err := s.eng.ReviewDecision(r.Context(), teamID, r.PathValue("id"), actorID,
		workflow.Decision(req.Decision), workflow.DecisionInput{
			TargetStateID: req.TargetStateID,
			ReviewerID:    req.ReviewerID,
			Reason:        req.Reason,
		})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// --- Activity ---

func (s *Server) listActivity(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.team(w, r)
	if !ok {
		return
	}
	// The issue must exist and belong to the team before its log is read.
	issue, err := s.store.GetIssue(r.Context(), teamID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	page, err := s.store.ListIssueActivity(r.Context(), issue.ID, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if page.Items == nil {
		page.Items = []*models.IssueActivity{}
	}
	writeJSON(w, http.StatusOK, page)
}

// --- Closure summary ---

func (s *Server) closureSummary(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.team(w, r)
	if !ok {
		return
	}
	rows, err := s.agg.Summarize(r.Context(), teamID,
		r.URL.Query().Get("projectId"), r.URL.Query().Get("userId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []*models.AepUserSummary{}
	}
	writeJSON(w, http.StatusOK, rows)
}

// --- Enrichment ---

func (s *Server) enrichIssue(w http.ResponseWriter, r *http.Request) {
	if s.llm == nil {
		writeError(w, http.StatusServiceUnavailable, "LLM not configured (set ANTHROPIC_API_KEY)")
		return
	}
	teamID, ok := s.team(w, r)
	if !ok {
		return
	}
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	issue, err := s.store.GetIssue(r.Context(), teamID, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	draft, err := s.llm.DraftDescription(r.Context(), issue.Title, issue.Description)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("LLM enrichment failed: %v", err))
		return
	}
	if draft == "" {
		writeJSON(w, http.StatusOK, issue)
		return
	}

	updated, err := s.eng.UpdateIssue(r.Context(), teamID, issue.ID, actorID, workflow.Patch{
		Description: &draft,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
