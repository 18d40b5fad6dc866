package cmd

import (
	"github.com/spf13/cobra"

	"github.com/gatekit/trk/internal/analytics"
	"github.com/gatekit/trk/internal/directory"
	"github.com/gatekit/trk/internal/mcp"
	"github.com/gatekit/trk/internal/workflow"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for Claude Code integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets Claude Code work with trk issues natively. Configure in
Claude Code with:

  {
    "mcpServers": {
      "trk": { "command": "trk", "args": ["mcp"] }
    }
  }

Available tools: trk_list_issues, trk_create_issue, trk_update_issue,
trk_review_decision, trk_issue_activity, trk_closure_summary`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}

		eng := workflow.NewEngine(s, directory.NewStoreResolver(s))
		srv := mcp.NewServer(s, eng, analytics.NewAggregator(s))
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
