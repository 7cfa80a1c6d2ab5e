package cli

import (
	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X github.com/neboloop/wplace-painter/cmd/wpaint.Version=..."
var (
	Version = "dev"
	Commit  = "dev"
)

// Shared CLI flags (used across multiple command files)
var (
	dataDir    string
	verbose    bool
	userFlag   string
	colorFlags []string
)

// SetupRootCmd configures the root command with all subcommands and flags
func SetupRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wpaint",
		Short: "wpaint - template painter for wplace.live",
		Long: `wpaint paints a template image onto the wplace.live canvas through a real browser.

Just type 'wpaint' to start painting for every configured user. When the
configuration is missing or invalid the editor opens instead.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) { teardown() },
		RunE:              runPaint,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default: $WPAINT_DATA_DIR or ./data)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add commands
	rootCmd.AddCommand(RunCmd())
	rootCmd.AddCommand(ConfigCmd())
	rootCmd.AddCommand(DiffCmd())
	rootCmd.AddCommand(PreviewCmd())
	rootCmd.AddCommand(CoordsCmd())
	rootCmd.AddCommand(VersionCmd())

	return rootCmd
}
