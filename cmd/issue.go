package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gatekit/trk/internal/llm"
	"github.com/gatekit/trk/internal/models"
	"github.com/gatekit/trk/internal/output"
	"github.com/gatekit/trk/internal/store"
	"github.com/gatekit/trk/internal/workflow"
)

// clearValue clears an optional field in 'trk issue update', e.g. --due none.
const clearValue = "none"

var (
	issueTitle      string
	issueDesc       string
	issuePriority   string
	issueDifficulty string
	issueDue        string
	issueState      string
	issueReviewer   string
	issueAssignees  []string
	issueLabels     []string
	issueParent     string
	issueProject    string
	issueStrict     bool
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Manage the current team's issues",
	Long:  "Track issues through the team's review-gated workflow.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun()
	},
}

var issueAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new issue",
	Long: `Add a new issue to the current team.

With --strict, every workflow field is mandatory (title, stage,
assignees, due date, labels, difficulty) and all missing fields are
reported at once.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueAddRun()
	},
}

var issueListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun()
	},
}

var issueShowCmd = &cobra.Command{
	Use:   "show <issue>",
	Short: "Show issue details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueShowRun(args[0])
	},
}

var issueUpdateCmd = &cobra.Command{
	Use:   "update <issue>",
	Short: "Update an issue",
	Long: `Update an issue. While an issue is in review only the review decision
and reviewer handoff are allowed; use 'trk review' for those.

Optional fields are cleared with the value 'none', e.g. --due none.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueUpdateRun(args[0])
	},
}

var issueDeleteCmd = &cobra.Command{
	Use:   "delete <issue>",
	Short: "Delete an issue (owners and admins only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueDeleteRun(args[0])
	},
}

var issueEnrichCmd = &cobra.Command{
	Use:   "enrich <issue>",
	Short: "Draft a description for the issue with the configured LLM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueEnrichRun(args[0])
	},
}

func init() {
	issueAddCmd.Flags().StringVar(&issueTitle, "title", "", "Issue title (required)")
	issueAddCmd.Flags().StringVar(&issueDesc, "desc", "", "Issue description")
	issueAddCmd.Flags().StringVar(&issuePriority, "priority", "", "Priority: none, low, medium, high, urgent")
	issueAddCmd.Flags().StringVar(&issueDifficulty, "difficulty", "", "Size tier: S, M, L")
	issueAddCmd.Flags().StringVar(&issueDue, "due", "", "Due date as YYYY-MM-DD")
	issueAddCmd.Flags().StringVar(&issueState, "state", "", "Starting stage name (default: team default)")
	issueAddCmd.Flags().StringSliceVar(&issueAssignees, "assignee", nil, "Assignee user ID (repeatable; first is primary)")
	issueAddCmd.Flags().StringSliceVar(&issueLabels, "label", nil, "Label name or ID (repeatable, requires --project)")
	issueAddCmd.Flags().StringVar(&issueParent, "parent", "", "Parent issue key or ID")
	issueAddCmd.Flags().StringVar(&issueProject, "project", "", "Project name or ID")
	issueAddCmd.Flags().BoolVar(&issueStrict, "strict", false, "Require all workflow fields")

	issueListCmd.Flags().StringVar(&issueState, "state", "", "Filter by stage name")
	issueListCmd.Flags().StringVar(&issueProject, "project", "", "Filter by project")
	issueListCmd.Flags().StringSliceVar(&issueAssignees, "assignee", nil, "Filter by assignee user ID")

	issueUpdateCmd.Flags().StringVar(&issueTitle, "title", "", "New title")
	issueUpdateCmd.Flags().StringVar(&issueDesc, "desc", "", "New description")
	issueUpdateCmd.Flags().StringVar(&issuePriority, "priority", "", "New priority")
	issueUpdateCmd.Flags().StringVar(&issueDifficulty, "difficulty", "", "New size tier")
	issueUpdateCmd.Flags().StringVar(&issueDue, "due", "", "New due date as YYYY-MM-DD, or 'none' to clear")
	issueUpdateCmd.Flags().StringVar(&issueState, "state", "", "Target stage name")
	issueUpdateCmd.Flags().StringVar(&issueReviewer, "reviewer", "", "Reviewer user ID (required when moving into review)")
	issueUpdateCmd.Flags().StringSliceVar(&issueAssignees, "assignee", nil, "Replacement assignee user ID (repeatable)")
	issueUpdateCmd.Flags().StringSliceVar(&issueLabels, "label", nil, "Replacement label name or ID (repeatable)")
	issueUpdateCmd.Flags().StringVar(&issueParent, "parent", "", "New parent issue key or ID, or 'none' to clear")
	issueUpdateCmd.Flags().StringVar(&issueProject, "project", "", "New project name or ID, or 'none' to clear")

	issueCmd.AddCommand(issueAddCmd)
	issueCmd.AddCommand(issueListCmd)
	issueCmd.AddCommand(issueShowCmd)
	issueCmd.AddCommand(issueUpdateCmd)
	issueCmd.AddCommand(issueDeleteCmd)
	issueCmd.AddCommand(issueEnrichCmd)
	rootCmd.AddCommand(issueCmd)
}

func issueAddRun() error {
	eng, s, err := getEngine()
	if err != nil {
		return err
	}
	ctx := context.Background()

	team, err := currentTeam(ctx, s)
	if err != nil {
		return err
	}
	actor, err := currentActor()
	if err != nil {
		return err
	}

	in := workflow.CreateIssueInput{
		Title:       issueTitle,
		Description: issueDesc,
		Priority:    models.IssuePriority(issuePriority),
		Difficulty:  models.IssueDifficulty(issueDifficulty),
		Assignees:   issueAssignees,
		Strict:      issueStrict,
	}

	if issueDue != "" {
		due, err := parseDueDate(issueDue)
		if err != nil {
			return err
		}
		in.DueDate = due
	}
	if issueState != "" {
		st, err := resolveStage(ctx, s, team.ID, issueState)
		if err != nil {
			return err
		}
		in.StateID = st.ID
	}
	if issueProject != "" {
		p, err := resolveProject(ctx, s, team.ID, issueProject)
		if err != nil {
			return err
		}
		in.ProjectID = p.ID
	}
	if len(issueLabels) > 0 {
		ids, err := resolveLabels(ctx, s, team.ID, in.ProjectID, issueLabels)
		if err != nil {
			return err
		}
		in.Labels = ids
	}
	if issueParent != "" {
		parent, err := findIssue(ctx, s, team.ID, issueParent)
		if err != nil {
			return err
		}
		in.ParentID = parent.ID
	}

	issue, err := eng.CreateIssue(ctx, team.ID, in, actor)
	if err != nil {
		return err
	}

	ui.Success("Created issue %s: %s", output.Cyan(issueKey(team, issue)), issue.Title)
	return nil
}

func issueListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	team, err := currentTeam(ctx, s)
	if err != nil {
		return err
	}

	filter := store.IssueListFilter{TeamID: team.ID}
	if len(issueAssignees) > 0 {
		filter.AssigneeID = issueAssignees[0]
	}
	if issueProject != "" {
		p, err := resolveProject(ctx, s, team.ID, issueProject)
		if err != nil {
			return err
		}
		filter.ProjectID = p.ID
	}

	states, err := s.ListWorkflowStates(ctx, team.ID)
	if err != nil {
		return err
	}
	statesByID := make(map[string]*models.WorkflowState, len(states))
	for _, st := range states {
		statesByID[st.ID] = st
	}
	if issueState != "" {
		st := stageByName(states, issueState)
		if st == nil {
			return fmt.Errorf("stage not found: %s", issueState)
		}
		filter.StateIDs = []string{st.ID}
	}

	issues, err := s.ListIssues(ctx, filter)
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		ui.Info("No issues found.")
		return nil
	}

	table := ui.Table([]string{"Key", "Title", "Stage", "Priority", "Size", "Assignees", "Reviewer", "Due"})
	for _, issue := range issues {
		stage := ""
		if st := statesByID[issue.StateID]; st != nil {
			stage = output.StageColor(st.Name, string(st.Type))
		}
		names := make([]string, len(issue.Assignees))
		for i, a := range issue.Assignees {
			names[i] = a.Name
		}
		due := ""
		if issue.DueDate != nil {
			due = issue.DueDate.Format("2006-01-02")
		}
		_ = table.Append([]string{
			issueKey(team, issue),
			issue.Title,
			stage,
			output.PriorityColor(string(issue.Priority)),
			string(issue.Difficulty),
			strings.Join(names, ", "),
			issue.ReviewerName,
			due,
		})
	}
	_ = table.Render()
	return nil
}

func issueShowRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	team, err := currentTeam(ctx, s)
	if err != nil {
		return err
	}
	issue, err := findIssue(ctx, s, team.ID, ref)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(issueKey(team, issue)), issue.Title)
	if st, err := s.GetWorkflowState(ctx, issue.StateID); err == nil {
		fmt.Fprintf(ui.Out, "  Stage:      %s\n", output.StageColor(st.Name, string(st.Type)))
	}
	fmt.Fprintf(ui.Out, "  Priority:   %s\n", output.PriorityColor(string(issue.Priority)))
	if issue.Difficulty != "" {
		fmt.Fprintf(ui.Out, "  Size:       %s\n", issue.Difficulty)
	}
	if issue.DueDate != nil {
		fmt.Fprintf(ui.Out, "  Due:        %s\n", issue.DueDate.Format("2006-01-02"))
	}
	if len(issue.Assignees) > 0 {
		names := make([]string, len(issue.Assignees))
		for i, a := range issue.Assignees {
			names[i] = a.Name
		}
		fmt.Fprintf(ui.Out, "  Assignees:  %s\n", strings.Join(names, ", "))
	}
	if issue.ReviewerName != "" {
		fmt.Fprintf(ui.Out, "  Reviewer:   %s\n", issue.ReviewerName)
	}
	if issue.ReviewedAt != nil {
		fmt.Fprintf(ui.Out, "  Reviewed:   %s\n", issue.ReviewedAt.Format(time.RFC3339))
	}
	if issue.CompletedAt != nil {
		fmt.Fprintf(ui.Out, "  Completed:  %s\n", issue.CompletedAt.Format(time.RFC3339))
	}
	if issue.ProjectID != "" {
		if p, err := s.GetProject(ctx, team.ID, issue.ProjectID); err == nil {
			fmt.Fprintf(ui.Out, "  Project:    %s\n", p.Name)
		}
	}
	if issue.ParentID != "" {
		if parent, err := s.GetIssue(ctx, team.ID, issue.ParentID); err == nil {
			fmt.Fprintf(ui.Out, "  Parent:     %s %s\n", issueKey(team, parent), parent.Title)
		}
	}
	if issue.Description != "" {
		fmt.Fprintf(ui.Out, "  Desc:       %s\n", issue.Description)
	}
	fmt.Fprintf(ui.Out, "  Created:    %s\n", issue.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(ui.Out, "  Full ID:    %s\n", issue.ID)
	return nil
}

func issueUpdateRun(ref string) error {
	eng, s, err := getEngine()
	if err != nil {
		return err
	}
	ctx := context.Background()

	team, err := currentTeam(ctx, s)
	if err != nil {
		return err
	}
	actor, err := currentActor()
	if err != nil {
		return err
	}
	issue, err := findIssue(ctx, s, team.ID, ref)
	if err != nil {
		return err
	}

	var patch workflow.Patch
	if issueTitle != "" {
		patch.Title = &issueTitle
	}
	if issueDesc != "" {
		patch.Description = &issueDesc
	}
	if issuePriority != "" {
		p := models.IssuePriority(issuePriority)
		patch.Priority = &p
	}
	if issueDifficulty != "" {
		d := models.IssueDifficulty(issueDifficulty)
		patch.Difficulty = &d
	}
	if issueDue != "" {
		if issueDue == clearValue {
			patch.RemoveDueDate = true
		} else {
			due, err := parseDueDate(issueDue)
			if err != nil {
				return err
			}
			patch.DueDate = due
		}
	}
	if issueState != "" {
		st, err := resolveStage(ctx, s, team.ID, issueState)
		if err != nil {
			return err
		}
		patch.StateID = &st.ID
	}
	if issueReviewer != "" {
		patch.ReviewerID = &issueReviewer
	}
	if len(issueAssignees) > 0 {
		patch.Assignees = &issueAssignees
	}
	if issueProject != "" {
		if issueProject == clearValue {
			patch.RemoveProject = true
		} else {
			p, err := resolveProject(ctx, s, team.ID, issueProject)
			if err != nil {
				return err
			}
			patch.ProjectID = &p.ID
		}
	}
	if len(issueLabels) > 0 {
		projectID := issue.ProjectID
		if patch.ProjectID != nil {
			projectID = *patch.ProjectID
		}
		ids, err := resolveLabels(ctx, s, team.ID, projectID, issueLabels)
		if err != nil {
			return err
		}
		patch.Labels = &ids
	}
	if issueParent != "" {
		if issueParent == clearValue {
			patch.RemoveParent = true
		} else {
			parent, err := findIssue(ctx, s, team.ID, issueParent)
			if err != nil {
				return err
			}
			patch.ParentID = &parent.ID
		}
	}

	if patch.Empty() {
		return fmt.Errorf("no updates specified (see 'trk issue update --help' for the available flags)")
	}

	updated, err := eng.UpdateIssue(ctx, team.ID, issue.ID, actor, patch)
	if err != nil {
		return err
	}

	ui.Success("Updated issue %s", output.Cyan(issueKey(team, updated)))
	return nil
}

func issueDeleteRun(ref string) error {
	eng, s, err := getEngine()
	if err != nil {
		return err
	}
	ctx := context.Background()

	team, err := currentTeam(ctx, s)
	if err != nil {
		return err
	}
	actor, err := currentActor()
	if err != nil {
		return err
	}
	issue, err := findIssue(ctx, s, team.ID, ref)
	if err != nil {
		return err
	}

	if err := eng.DeleteIssue(ctx, team.ID, issue.ID, actor); err != nil {
		return err
	}

	ui.Success("Deleted issue %s: %s", output.Cyan(issueKey(team, issue)), issue.Title)
	return nil
}

func issueEnrichRun(ref string) error {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		return fmt.Errorf("no Anthropic API key configured (set anthropic.api_key or TRK_ANTHROPIC_API_KEY)")
	}

	eng, s, err := getEngine()
	if err != nil {
		return err
	}
	ctx := context.Background()

	team, err := currentTeam(ctx, s)
	if err != nil {
		return err
	}
	actor, err := currentActor()
	if err != nil {
		return err
	}
	issue, err := findIssue(ctx, s, team.ID, ref)
	if err != nil {
		return err
	}

	client := llm.NewClient(apiKey, viper.GetString("anthropic.model"))
	ui.VerboseLog("Drafting description for %s", issueKey(team, issue))

	draft, err := client.DraftDescription(ctx, issue.Title, issue.Description)
	if err != nil {
		return fmt.Errorf("draft description: %w", err)
	}

	if _, err := eng.UpdateIssue(ctx, team.ID, issue.ID, actor, workflow.Patch{Description: &draft}); err != nil {
		return err
	}

	ui.Success("Updated description for %s", output.Cyan(issueKey(team, issue)))
	fmt.Fprintln(ui.Out)
	fmt.Fprintln(ui.Out, draft)
	return nil
}

// issueKey renders the team-scoped display key, e.g. ENG-42.
func issueKey(team *models.Team, issue *models.Issue) string {
	return fmt.Sprintf("%s-%d", team.Key, issue.Number)
}

// findIssue resolves an issue by key (ENG-42), bare number, or full ID.
func findIssue(ctx context.Context, s store.Store, teamID, ref string) (*models.Issue, error) {
	numPart := ref
	if idx := strings.LastIndex(ref, "-"); idx >= 0 {
		numPart = ref[idx+1:]
	}
	if n, err := strconv.Atoi(numPart); err == nil {
		return s.GetIssueByNumber(ctx, teamID, n)
	}
	return s.GetIssue(ctx, teamID, ref)
}

// resolveStage finds a team workflow stage by name, case-insensitively.
func resolveStage(ctx context.Context, s store.Store, teamID, name string) (*models.WorkflowState, error) {
	states, err := s.ListWorkflowStates(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if st := stageByName(states, name); st != nil {
		return st, nil
	}
	return nil, fmt.Errorf("stage not found: %s", name)
}

func stageByName(states []*models.WorkflowState, name string) *models.WorkflowState {
	for _, st := range states {
		if strings.EqualFold(st.Name, name) {
			return st
		}
	}
	return nil
}

func parseDueDate(s string) (*time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("invalid due date %q: use YYYY-MM-DD", s)
	}
	return &t, nil
}
