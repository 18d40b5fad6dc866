package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	summaryProject string
	summaryUser    string
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Per-assignee closure summary for the current team",
	Long: `Show how many issues each assignee has closed, broken down by size
tier (S/M/L) and by timeliness against due dates. Computed from current
issue state; the issue that reaches the done stage credits every
assignee in full.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return summaryRun()
	},
}

func init() {
	summaryCmd.Flags().StringVar(&summaryProject, "project", "", "Filter by project")
	summaryCmd.Flags().StringVar(&summaryUser, "user", "", "Filter by user ID")
	rootCmd.AddCommand(summaryCmd)
}

func summaryRun() error {
	agg, s, err := getAggregator()
	if err != nil {
		return err
	}
	ctx := context.Background()

	team, err := currentTeam(ctx, s)
	if err != nil {
		return err
	}

	projectID := ""
	if summaryProject != "" {
		p, err := resolveProject(ctx, s, team.ID, summaryProject)
		if err != nil {
			return err
		}
		projectID = p.ID
	}

	rows, err := agg.Summarize(ctx, team.ID, projectID, summaryUser)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		ui.Info("No closed issues yet.")
		return nil
	}

	table := ui.Table([]string{"Name", "S", "M", "L", "Total", "On time", "Delayed"})
	for _, r := range rows {
		_ = table.Append([]string{
			r.Name,
			fmt.Sprintf("%d", r.SClosed),
			fmt.Sprintf("%d", r.MClosed),
			fmt.Sprintf("%d", r.LClosed),
			fmt.Sprintf("%d", r.TotalClosed),
			fmt.Sprintf("%d", r.OnTimeClosed),
			fmt.Sprintf("%d", r.DelayedClosed),
		})
	}
	_ = table.Render()
	return nil
}
