package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gatekit/trk/internal/analytics"
	"github.com/gatekit/trk/internal/directory"
	"github.com/gatekit/trk/internal/models"
	"github.com/gatekit/trk/internal/output"
	"github.com/gatekit/trk/internal/store"
	"github.com/gatekit/trk/internal/workflow"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	asActor string
	asTeam  string
)

var rootCmd = &cobra.Command{
	Use:   "trk",
	Short: "trk - review-gated issue tracking for teams",
	Long: `trk tracks a team's issues through a review-gated workflow.
Every issue must pass through review before it can be marked done,
issues are locked while under review, and every accepted change is
recorded in an append-only activity log.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if viper.GetString("team") == "" && asTeam == "" {
			return cmd.Help()
		}
		return issueListRun()
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringVar(&asActor, "as", "", "Acting user ID (default: the configured actor)")
	rootCmd.PersistentFlags().StringVar(&asTeam, "team", "", "Team key (default: the configured team)")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/trk/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "trk")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TRK")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "trk")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "trk.db"))
	viper.SetDefault("actor", "")
	viper.SetDefault("team", "")
	viper.SetDefault("serve.port", 8080)
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	// The store is initialized lazily so config/version commands can run
	// without a database.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getEngine builds a workflow engine over the shared store.
func getEngine() (*workflow.Engine, store.Store, error) {
	s, err := getStore()
	if err != nil {
		return nil, nil, err
	}
	return workflow.NewEngine(s, directory.NewStoreResolver(s)), s, nil
}

// getAggregator builds a closure analytics aggregator over the shared store.
func getAggregator() (*analytics.Aggregator, store.Store, error) {
	s, err := getStore()
	if err != nil {
		return nil, nil, err
	}
	return analytics.NewAggregator(s), s, nil
}

// currentActor returns the acting user ID from --as or the configured actor.
func currentActor() (string, error) {
	if asActor != "" {
		return asActor, nil
	}
	if actor := viper.GetString("actor"); actor != "" {
		return actor, nil
	}
	return "", fmt.Errorf("no acting user: pass --as <user-id> or set 'actor' in the config")
}

// currentTeam resolves the working team from --team or the configured key.
func currentTeam(ctx context.Context, s store.Store) (*models.Team, error) {
	ref := asTeam
	if ref == "" {
		ref = viper.GetString("team")
	}
	if ref == "" {
		return nil, fmt.Errorf("no team selected: pass --team <key> or set 'team' in the config")
	}
	if t, err := s.GetTeamByKey(ctx, strings.ToUpper(ref)); err == nil {
		return t, nil
	}
	if t, err := s.GetTeam(ctx, ref); err == nil {
		return t, nil
	}
	return nil, fmt.Errorf("team not found: %s", ref)
}
