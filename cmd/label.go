package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gatekit/trk/internal/models"
	"github.com/gatekit/trk/internal/output"
	"github.com/gatekit/trk/internal/store"
)

var (
	labelProject string
	labelColor   string
)

var labelCmd = &cobra.Command{
	Use:   "label",
	Short: "Manage project-scoped labels",
	RunE: func(cmd *cobra.Command, args []string) error {
		return labelListRun()
	},
}

var labelAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a label to a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return labelAddRun(args[0])
	},
}

var labelListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List labels",
	RunE: func(cmd *cobra.Command, args []string) error {
		return labelListRun()
	},
}

func init() {
	labelAddCmd.Flags().StringVar(&labelProject, "project", "", "Project the label belongs to (required)")
	labelAddCmd.Flags().StringVar(&labelColor, "color", "", "Display color, e.g. #ff8800")
	_ = labelAddCmd.MarkFlagRequired("project")

	labelListCmd.Flags().StringVar(&labelProject, "project", "", "Filter by project")

	labelCmd.AddCommand(labelAddCmd)
	labelCmd.AddCommand(labelListCmd)
	rootCmd.AddCommand(labelCmd)
}

func labelAddRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	team, err := currentTeam(ctx, s)
	if err != nil {
		return err
	}
	p, err := resolveProject(ctx, s, team.ID, labelProject)
	if err != nil {
		return err
	}

	l := &models.Label{TeamID: team.ID, ProjectID: p.ID, Name: name, Color: labelColor}
	if err := s.CreateLabel(ctx, l); err != nil {
		return fmt.Errorf("create label: %w", err)
	}

	ui.Success("Created label %s in %s", output.Cyan(l.Name), p.Name)
	return nil
}

func labelListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	team, err := currentTeam(ctx, s)
	if err != nil {
		return err
	}

	projectID := ""
	if labelProject != "" {
		p, err := resolveProject(ctx, s, team.ID, labelProject)
		if err != nil {
			return err
		}
		projectID = p.ID
	}

	labels, err := s.ListLabels(ctx, team.ID, projectID)
	if err != nil {
		return err
	}
	if len(labels) == 0 {
		ui.Info("No labels found.")
		return nil
	}

	projectNames := make(map[string]string)
	table := ui.Table([]string{"Name", "Project", "Color", "ID"})
	for _, l := range labels {
		projName := projectNames[l.ProjectID]
		if projName == "" {
			if p, err := s.GetProject(ctx, team.ID, l.ProjectID); err == nil {
				projName = p.Name
				projectNames[l.ProjectID] = projName
			}
		}
		_ = table.Append([]string{l.Name, projName, l.Color, l.ID})
	}
	_ = table.Render()
	return nil
}

// resolveLabels maps label names or IDs to label IDs within a project.
func resolveLabels(ctx context.Context, s store.Store, teamID, projectID string, refs []string) ([]string, error) {
	labels, err := s.ListLabels(ctx, teamID, projectID)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]string, len(labels))
	byID := make(map[string]bool, len(labels))
	for _, l := range labels {
		byName[l.Name] = l.ID
		byID[l.ID] = true
	}

	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		switch {
		case byID[ref]:
			ids = append(ids, ref)
		case byName[ref] != "":
			ids = append(ids, byName[ref])
		default:
			return nil, fmt.Errorf("label not found in project: %s", ref)
		}
	}
	return ids, nil
}
