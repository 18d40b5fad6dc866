package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gatekit/trk/internal/models"
	"github.com/gatekit/trk/internal/output"
	"github.com/gatekit/trk/internal/store"
	"github.com/gatekit/trk/internal/workflow"
)

var (
	reviewReviewer string
	reviewReason   string
	reviewStage    string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Request and decide issue reviews",
	Long: `Send issues to review and record review decisions.

Approving moves the issue to the done stage; sending back returns it to
a todo/in-progress stage and requires a reason. Only the assigned
reviewer or a team owner/admin may decide a review.`,
}

var reviewRequestCmd = &cobra.Command{
	Use:   "request <issue>",
	Short: "Send an issue to review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewRequestRun(args[0])
	},
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <issue>",
	Short: "Approve a review, moving the issue to done",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewDecisionRun(args[0], workflow.DecisionApprove)
	},
}

var reviewSendBackCmd = &cobra.Command{
	Use:   "send-back <issue>",
	Short: "Send an issue back for more work",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewDecisionRun(args[0], workflow.DecisionSendBack)
	},
}

var reviewReassignCmd = &cobra.Command{
	Use:   "reassign <issue>",
	Short: "Hand the review to a different reviewer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewDecisionRun(args[0], workflow.DecisionReassign)
	},
}

func init() {
	reviewRequestCmd.Flags().StringVar(&reviewReviewer, "reviewer", "", "Reviewer user ID (required)")
	reviewRequestCmd.Flags().StringVar(&reviewStage, "stage", "", "Review stage name (default: the team's first review stage)")
	_ = reviewRequestCmd.MarkFlagRequired("reviewer")

	reviewApproveCmd.Flags().StringVar(&reviewStage, "stage", "", "Done stage name (default: the team's first done stage)")

	reviewSendBackCmd.Flags().StringVar(&reviewReason, "reason", "", "Why the issue needs more work, at least 10 characters (required)")
	reviewSendBackCmd.Flags().StringVar(&reviewStage, "stage", "", "Target stage name (default: the team's first in-progress stage)")
	_ = reviewSendBackCmd.MarkFlagRequired("reason")

	reviewReassignCmd.Flags().StringVar(&reviewReviewer, "reviewer", "", "New reviewer user ID (required)")
	_ = reviewReassignCmd.MarkFlagRequired("reviewer")

	reviewCmd.AddCommand(reviewRequestCmd)
	reviewCmd.AddCommand(reviewApproveCmd)
	reviewCmd.AddCommand(reviewSendBackCmd)
	reviewCmd.AddCommand(reviewReassignCmd)
	rootCmd.AddCommand(reviewCmd)
}

func reviewRequestRun(ref string) error {
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

	stage, err := reviewStageOrDefault(ctx, s, team.ID)
	if err != nil {
		return err
	}

	patch := workflow.Patch{StateID: &stage.ID, ReviewerID: &reviewReviewer}
	updated, err := eng.UpdateIssue(ctx, team.ID, issue.ID, actor, patch)
	if err != nil {
		return err
	}

	ui.Success("Sent %s to %s for review by %s",
		output.Cyan(issueKey(team, updated)), stage.Name, updated.ReviewerName)
	return nil
}

func reviewDecisionRun(ref string, decision workflow.Decision) error {
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

	in := workflow.DecisionInput{
		ReviewerID: reviewReviewer,
		Reason:     reviewReason,
	}
	if reviewStage != "" {
		st, err := resolveStage(ctx, s, team.ID, reviewStage)
		if err != nil {
			return err
		}
		in.TargetStateID = st.ID
	}

	updated, err := eng.ReviewDecision(ctx, team.ID, issue.ID, actor, decision, in)
	if err != nil {
		return err
	}

	key := output.Cyan(issueKey(team, updated))
	switch decision {
	case workflow.DecisionApprove:
		ui.Success("Approved %s: %s", key, updated.Title)
	case workflow.DecisionSendBack:
		ui.Success("Sent %s back: %s", key, reviewReason)
	case workflow.DecisionReassign:
		ui.Success("Reassigned review of %s to %s", key, updated.ReviewerName)
	}
	return nil
}

// reviewStageOrDefault resolves --stage or falls back to the team's first
// review-type stage.
func reviewStageOrDefault(ctx context.Context, s store.Store, teamID string) (*models.WorkflowState, error) {
	if reviewStage != "" {
		return resolveStage(ctx, s, teamID, reviewStage)
	}
	states, err := s.ListWorkflowStates(ctx, teamID)
	if err != nil {
		return nil, err
	}
	for _, st := range states {
		if st.Type == models.WorkflowReview {
			return st, nil
		}
	}
	return nil, fmt.Errorf("team has no review stage")
}
