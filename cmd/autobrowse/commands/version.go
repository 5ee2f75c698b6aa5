package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/autobrowse/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	// Runs without loading configuration so a broken config file does not
	// hide the version.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE: func(cmd *cobra.Command, _ []string) error {
		short, _ := cmd.Flags().GetBool("short")
		if short {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return nil
		}
		format, _ := cmd.Flags().GetString("output")
		if format == "" || format == "text" {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
			return nil
		}
		w, err := newWriter(cmd)
		if err != nil {
			return err
		}
		if err := w.Write(version.Get()); err != nil {
			return err
		}
		return w.Close()
	},
}

func init() {
	versionCmd.Flags().Bool("short", false, "print only the version number")
	rootCmd.AddCommand(versionCmd)
	rootCmd.Version = version.String()
}
