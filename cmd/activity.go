package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatekit/trk/internal/models"
	"github.com/gatekit/trk/internal/output"
)

var (
	activityLimit  int
	activityCursor string
)

var activityCmd = &cobra.Command{
	Use:   "activity <issue>",
	Short: "Show an issue's activity log, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return activityRun(args[0])
	},
}

func init() {
	activityCmd.Flags().IntVar(&activityLimit, "limit", 50, "Page size (1-200)")
	activityCmd.Flags().StringVar(&activityCursor, "cursor", "", "Continue from a previous page's cursor")
	rootCmd.AddCommand(activityCmd)
}

func activityRun(ref string) error {
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

	page, err := s.ListIssueActivity(ctx, issue.ID, activityCursor, activityLimit)
	if err != nil {
		return err
	}
	if len(page.Items) == 0 {
		ui.Info("No activity recorded.")
		return nil
	}

	fmt.Fprintf(ui.Out, "%s  %s\n\n", output.Cyan(issueKey(team, issue)), issue.Title)
	for _, a := range page.Items {
		fmt.Fprintf(ui.Out, "  %s  %-16s %s\n",
			a.CreatedAt.Format(time.RFC3339), a.Action, describeActivity(a))
	}
	if page.HasMore {
		fmt.Fprintln(ui.Out)
		ui.Info("More entries: --cursor %s", page.NextCursor)
	}
	return nil
}

// describeActivity renders one activity record as a human-readable line.
func describeActivity(a *models.IssueActivity) string {
	switch a.Action {
	case models.ActivityCreated:
		return fmt.Sprintf("%s created %q", a.ActorName, a.NewValue)
	case models.ActivitySentToReview:
		return fmt.Sprintf("%s sent to %s for review by %s", a.ActorName, a.NewValue, a.Metadata[models.MetaReviewer])
	case models.ActivityApproved:
		return fmt.Sprintf("%s approved, moved to %s", a.ActorName, a.NewValue)
	case models.ActivitySentBack:
		return fmt.Sprintf("%s sent back to %s: %s", a.ActorName, a.NewValue, a.Metadata[models.MetaReason])
	case models.ActivityReassigned:
		return fmt.Sprintf("%s reassigned review from %s to %s", a.ActorName, a.OldValue, a.NewValue)
	case models.ActivityAssigned:
		return fmt.Sprintf("%s changed assignees: %s -> %s", a.ActorName, a.OldValue, a.NewValue)
	default:
		if a.Field != "" {
			return fmt.Sprintf("%s changed %s: %s -> %s", a.ActorName, a.Field, a.OldValue, a.NewValue)
		}
		return a.ActorName
	}
}
