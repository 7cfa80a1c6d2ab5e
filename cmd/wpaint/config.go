package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/neboloop/wplace-painter/internal/config"
	"github.com/neboloop/wplace-painter/internal/defaults"
)

// ConfigCmd creates the config command
func ConfigCmd() *cobra.Command {
	var resetAssets bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Edit users, templates and credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			if resetAssets {
				return resetDefaults(cmd.OutOrStdout(), defaults.DataDir())
			}

			path := defaults.ConfigPath()
			cfg, err := config.Load(path)
			if err != nil {
				cfg = draftConfig(path)
			}
			saved, err := openEditor(cfg, path)
			if err != nil {
				return err
			}
			if saved {
				fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&resetAssets, "reset-assets", false, "restore the bundled page scripts in the data directory")
	return cmd
}

// resetDefaults overwrites the bundled files under dir and lists them.
func resetDefaults(w io.Writer, dir string) error {
	files, err := defaults.ListDefaults()
	if err != nil {
		return err
	}
	if err := defaults.Reset(dir); err != nil {
		return err
	}
	for _, f := range files {
		fmt.Fprintf(w, "restored %s\n", f)
	}
	return nil
}
