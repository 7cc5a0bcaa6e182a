package cli

import (
	"context"
	"io"

	"github.com/coder/quartz"
	"github.com/spf13/cobra"

	"github.com/voicetel/ticketboard/internal/logging"
)

// BuildInfo is stamped into the binary at build time via ldflags.
type BuildInfo struct {
	Version   string
	GitCommit string
	BuildDate string
	GoVersion string
}

func (b BuildInfo) logInfo() logging.BuildInfo {
	return logging.BuildInfo{Version: b.Version, Commit: b.GitCommit, BuildDate: b.BuildDate}
}

var (
	rootCmd = &cobra.Command{
		Use:           "ticketboard",
		Short:         "Jira ticket statistics dashboard",
		Long:          "ticketboard copies the issues of a Jira project into a SQL database and serves daily open/new/closed counts.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	build BuildInfo

	configFile string
	verbose    bool
	logFormat  string

	// nil logs to stdout
	logOutput io.Writer
	clock     quartz.Clock = quartz.NewReal()

	serveHandler      = handleServe
	syncHandler       = handleSync
	initDBHandler     = handleInitDB
	checkHandler      = handleCheckConnections
	statsHandler      = handleStats
	cleanupHandler    = handleCleanup
	versionHandler    = handleVersion
	initConfigHandler = handleInitConfig
)

func Execute(ctx context.Context, info BuildInfo) error {
	build = info
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a JSON or YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text or json)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(initDBCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initConfigCmd)
}

var serveOpts serveOptions

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard, optionally syncing on a schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveHandler(cmd.Context(), serveOpts)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize tickets from Jira once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return syncHandler(cmd.Context(), cmd.OutOrStdout())
	},
}

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return initDBHandler(cmd.Context(), cmd.OutOrStdout())
	},
}

var checkCmd = &cobra.Command{
	Use:   "check-connections",
	Short: "Test the database, Jira and Slack connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkHandler(cmd.Context(), cmd.OutOrStdout())
	},
}

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ticket and sync statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return statsHandler(cmd.Context(), cmd.OutOrStdout(), statsJSON)
	},
}

var cleanupOpts cleanupOptions

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune old sync history",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cleanupHandler(cmd.Context(), cmd.OutOrStdout(), cleanupOpts)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		return versionHandler(cmd.OutOrStdout())
	},
}

var initConfigForce bool

var initConfigCmd = &cobra.Command{
	Use:   "init-config <path>",
	Short: "Write a config file with the default settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return initConfigHandler(cmd.OutOrStdout(), args[0], initConfigForce)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveOpts.Addr, "addr", "", "Listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveOpts.Schedule, "schedule", "", "Cron schedule for background syncs (overrides config)")

	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output JSON")

	cleanupCmd.Flags().IntVar(&cleanupOpts.RetentionDays, "retention-days", 0, "Days of sync history to keep (overrides config)")
	cleanupCmd.Flags().BoolVar(&cleanupOpts.Vacuum, "vacuum", false, "Reclaim space after pruning")

	initConfigCmd.Flags().BoolVar(&initConfigForce, "force", false, "Overwrite an existing file")
}
