package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gatekit/trk/internal/models"
	"github.com/gatekit/trk/internal/output"
)

var (
	teamKey       string
	memberRole    string
	stageType     string
	stagePosition int
)

var teamCmd = &cobra.Command{
	Use:   "team",
	Short: "Manage teams, workflow stages, and members",
	RunE: func(cmd *cobra.Command, args []string) error {
		return teamListRun()
	},
}

var teamCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a team with the default workflow stages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return teamCreateRun(args[0])
	},
}

var teamListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List teams",
	RunE: func(cmd *cobra.Command, args []string) error {
		return teamListRun()
	},
}

var teamShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current team's stages and members",
	RunE: func(cmd *cobra.Command, args []string) error {
		return teamShowRun()
	},
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Manage the current team's workflow stages",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stateListRun()
	},
}

var stateAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a workflow stage to the current team",
	Long: `Add a workflow stage. The --type flag determines how issues move
through the stage: backlog, unstarted, started, review, completed, or
canceled. Transition rules depend on the type, so a team can have several
stages of the same type (for example two review stages).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return stateAddRun(args[0])
	},
}

var stateListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List the current team's workflow stages",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stateListRun()
	},
}

var memberCmd = &cobra.Command{
	Use:   "member",
	Short: "Manage team membership",
	RunE: func(cmd *cobra.Command, args []string) error {
		return memberListRun()
	},
}

var memberAddCmd = &cobra.Command{
	Use:   "add <user-id>",
	Short: "Add a user to the current team (or change their role)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return memberAddRun(args[0])
	},
}

var memberListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List the current team's members",
	RunE: func(cmd *cobra.Command, args []string) error {
		return memberListRun()
	},
}

func init() {
	teamCreateCmd.Flags().StringVar(&teamKey, "key", "", "Short uppercase key used in issue numbers, e.g. ENG (required)")
	_ = teamCreateCmd.MarkFlagRequired("key")

	memberAddCmd.Flags().StringVar(&memberRole, "role", "developer", "Role: owner, admin, developer")

	stateAddCmd.Flags().StringVar(&stageType, "type", "", "Stage type: backlog, unstarted, started, review, completed, canceled (required)")
	stateAddCmd.Flags().IntVar(&stagePosition, "position", 0, "Position in the pipeline (0 appends after existing stages)")
	_ = stateAddCmd.MarkFlagRequired("type")

	stateCmd.AddCommand(stateAddCmd)
	stateCmd.AddCommand(stateListCmd)
	memberCmd.AddCommand(memberAddCmd)
	memberCmd.AddCommand(memberListCmd)
	teamCmd.AddCommand(teamCreateCmd)
	teamCmd.AddCommand(teamListCmd)
	teamCmd.AddCommand(teamShowCmd)
	teamCmd.AddCommand(stateCmd)
	teamCmd.AddCommand(memberCmd)
	rootCmd.AddCommand(teamCmd)
}

// defaultStages is the workflow every new team starts with. Teams can be
// extended with additional stages later; transition rules key on the stage
// type, not the name.
var defaultStages = []struct {
	Name string
	Type models.WorkflowType
}{
	{"Backlog", models.WorkflowBacklog},
	{"Todo", models.WorkflowUnstarted},
	{"In Progress", models.WorkflowStarted},
	{"Review", models.WorkflowReview},
	{"Done", models.WorkflowCompleted},
	{"Canceled", models.WorkflowCanceled},
}

func teamCreateRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	team := &models.Team{Name: name, Key: strings.ToUpper(teamKey)}
	if err := s.CreateTeam(ctx, team); err != nil {
		return fmt.Errorf("create team: %w", err)
	}

	for i, stage := range defaultStages {
		ws := &models.WorkflowState{
			TeamID:   team.ID,
			Name:     stage.Name,
			Type:     stage.Type,
			Position: i + 1,
		}
		if err := s.CreateWorkflowState(ctx, ws); err != nil {
			return fmt.Errorf("create stage %q: %w", stage.Name, err)
		}
		if stage.Type == models.WorkflowUnstarted {
			team.DefaultStateID = ws.ID
		}
	}
	if err := s.UpdateTeam(ctx, team); err != nil {
		return fmt.Errorf("set default stage: %w", err)
	}

	ui.Success("Created team %s (%s) with %d stages", name, output.Cyan(team.Key), len(defaultStages))
	ui.Info("New issues default to the %s stage", output.Cyan("Todo"))
	return nil
}

func teamListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	teams, err := s.ListTeams(ctx)
	if err != nil {
		return err
	}
	if len(teams) == 0 {
		ui.Info("No teams yet. Create one with: trk team create <name> --key <KEY>")
		return nil
	}

	table := ui.Table([]string{"Key", "Name", "ID"})
	for _, t := range teams {
		_ = table.Append([]string{output.Cyan(t.Key), t.Name, t.ID})
	}
	_ = table.Render()
	return nil
}

func teamShowRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	team, err := currentTeam(ctx, s)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  %s\n\n", output.Cyan(team.Key), team.Name)

	states, err := s.ListWorkflowStates(ctx, team.ID)
	if err != nil {
		return err
	}
	fmt.Fprintln(ui.Out, "Stages:")
	for _, st := range states {
		marker := " "
		if st.ID == team.DefaultStateID {
			marker = "*"
		}
		fmt.Fprintf(ui.Out, "  %s %-14s %s\n", marker, output.StageColor(st.Name, string(st.Type)), st.Type)
	}

	members, err := s.ListTeamMembers(ctx, team.ID)
	if err != nil {
		return err
	}
	fmt.Fprintln(ui.Out)
	fmt.Fprintln(ui.Out, "Members:")
	for _, m := range members {
		name := m.UserID
		if u, err := s.GetUser(ctx, m.UserID); err == nil {
			name = fmt.Sprintf("%s (%s)", u.Name, u.ID)
		}
		fmt.Fprintf(ui.Out, "  %-10s %s\n", m.Role, name)
	}
	return nil
}

func stateAddRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	team, err := currentTeam(ctx, s)
	if err != nil {
		return err
	}

	wt := models.WorkflowType(stageType)
	if !models.ValidWorkflowType(wt) {
		return fmt.Errorf("invalid stage type %q (must be backlog, unstarted, started, review, completed, or canceled)", stageType)
	}

	position := stagePosition
	if position == 0 {
		existing, err := s.ListWorkflowStates(ctx, team.ID)
		if err != nil {
			return err
		}
		for _, st := range existing {
			if st.Position >= position {
				position = st.Position + 1
			}
		}
	}

	ws := &models.WorkflowState{
		TeamID:   team.ID,
		Name:     name,
		Type:     wt,
		Position: position,
	}
	if err := s.CreateWorkflowState(ctx, ws); err != nil {
		return fmt.Errorf("create stage: %w", err)
	}

	ui.Success("Added stage %s (%s) at position %d", output.StageColor(name, string(wt)), wt, position)
	return nil
}

func stateListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	team, err := currentTeam(ctx, s)
	if err != nil {
		return err
	}

	states, err := s.ListWorkflowStates(ctx, team.ID)
	if err != nil {
		return err
	}

	table := ui.Table([]string{"Stage", "Type", "Position", "Default"})
	for _, st := range states {
		def := ""
		if st.ID == team.DefaultStateID {
			def = "*"
		}
		_ = table.Append([]string{
			output.StageColor(st.Name, string(st.Type)),
			string(st.Type),
			fmt.Sprintf("%d", st.Position),
			def,
		})
	}
	_ = table.Render()
	return nil
}

func memberAddRun(userID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	team, err := currentTeam(ctx, s)
	if err != nil {
		return err
	}

	role := models.Role(memberRole)
	switch role {
	case models.RoleOwner, models.RoleAdmin, models.RoleDeveloper:
	default:
		return fmt.Errorf("invalid role %q (must be owner, admin, or developer)", memberRole)
	}

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("user %s: %w", userID, err)
	}

	if err := s.UpsertTeamMember(ctx, &models.TeamMember{TeamID: team.ID, UserID: user.ID, Role: role}); err != nil {
		return fmt.Errorf("add member: %w", err)
	}

	ui.Success("Added %s to %s as %s", user.Name, team.Key, role)
	return nil
}

func memberListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	team, err := currentTeam(ctx, s)
	if err != nil {
		return err
	}

	members, err := s.ListTeamMembers(ctx, team.ID)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		ui.Info("No members in %s yet.", team.Key)
		return nil
	}

	table := ui.Table([]string{"Role", "Name", "User ID"})
	for _, m := range members {
		name := ""
		if u, err := s.GetUser(ctx, m.UserID); err == nil {
			name = u.Name
		}
		_ = table.Append([]string{string(m.Role), name, m.UserID})
	}
	_ = table.Render()
	return nil
}
