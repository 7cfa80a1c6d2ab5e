package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neboloop/wplace-painter/internal/updater"
)

// VersionCmd creates the version command
func VersionCmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "wpaint %s (%s)\n", Version, Commit)
			if !check {
				return nil
			}
			if !updater.Known(Commit) {
				fmt.Fprintln(cmd.OutOrStdout(), "development build, update check skipped")
				return nil
			}
			res, err := (&updater.Checker{}).Check(cmd.Context(), Commit)
			if err != nil {
				return err
			}
			if res.Available {
				updater.LogNotify(res)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "up to date")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "check for a newer build")
	return cmd
}
