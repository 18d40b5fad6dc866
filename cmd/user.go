package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gatekit/trk/internal/models"
	"github.com/gatekit/trk/internal/output"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage directory users",
}

var userAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a user to the directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return userAddRun(args[0])
	},
}

var userShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Show a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return userShowRun(args[0])
	},
}

func init() {
	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userShowCmd)
	rootCmd.AddCommand(userCmd)
}

func userAddRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	u := &models.User{Name: name}
	if err := s.CreateUser(ctx, u); err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	ui.Success("Created user %s: %s", output.Cyan(u.ID), u.Name)
	ui.Info("Add them to a team with: trk team member add %s --role developer", u.ID)
	return nil
}

func userShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	u, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(u.ID), u.Name)
	fmt.Fprintf(ui.Out, "  Created: %s\n", u.CreatedAt.Format("2006-01-02"))
	return nil
}
