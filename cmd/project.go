package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatekit/trk/internal/models"
	"github.com/gatekit/trk/internal/output"
	"github.com/gatekit/trk/internal/store"
)

var projectDesc string

// projectDuplicateTimeout bounds project duplication, which copies the
// project's full issue tree in one transaction.
const projectDuplicateTimeout = 60 * time.Second

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage the current team's projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectListRun()
	},
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectCreateRun(args[0])
	},
}

var projectListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectListRun()
	},
}

var projectDuplicateCmd = &cobra.Command{
	Use:   "duplicate <project> <new-name>",
	Short: "Duplicate a project with its issues, labels, and history",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectDuplicateRun(args[0], args[1])
	},
}

func init() {
	projectCreateCmd.Flags().StringVar(&projectDesc, "desc", "", "Project description")

	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectDuplicateCmd)
	rootCmd.AddCommand(projectCmd)
}

func projectCreateRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	team, err := currentTeam(ctx, s)
	if err != nil {
		return err
	}

	p := &models.Project{TeamID: team.ID, Name: name, Description: projectDesc}
	if err := s.CreateProject(ctx, p); err != nil {
		return fmt.Errorf("create project: %w", err)
	}

	ui.Success("Created project %s: %s", output.Cyan(p.ID), p.Name)
	return nil
}

func projectListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	team, err := currentTeam(ctx, s)
	if err != nil {
		return err
	}

	projects, err := s.ListProjects(ctx, team.ID)
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		ui.Info("No projects in %s yet.", team.Key)
		return nil
	}

	table := ui.Table([]string{"Name", "Description", "ID"})
	for _, p := range projects {
		_ = table.Append([]string{p.Name, p.Description, p.ID})
	}
	_ = table.Render()
	return nil
}

func projectDuplicateRun(ref, newName string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	team, err := currentTeam(ctx, s)
	if err != nil {
		return err
	}
	p, err := resolveProject(ctx, s, team.ID, ref)
	if err != nil {
		return err
	}

	dupCtx, cancel := context.WithTimeout(ctx, projectDuplicateTimeout)
	defer cancel()

	dup, err := s.DuplicateProject(dupCtx, team.ID, p.ID, newName)
	if err != nil {
		return fmt.Errorf("duplicate project: %w", err)
	}

	ui.Success("Duplicated %s as %s (%s)", p.Name, dup.Name, output.Cyan(dup.ID))
	return nil
}

// resolveProject finds a team project by name first, then by ID.
func resolveProject(ctx context.Context, s store.Store, teamID, ref string) (*models.Project, error) {
	if p, err := s.GetProjectByName(ctx, teamID, ref); err == nil {
		return p, nil
	}
	if p, err := s.GetProject(ctx, teamID, ref); err == nil {
		return p, nil
	}
	return nil, fmt.Errorf("project not found: %s", ref)
}
