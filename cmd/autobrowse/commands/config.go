package commands

import (
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after merging defaults, the config file,
AUTOBROWSE_* environment variables and command-line flags.

The YAML output is a valid .autobrowse.yaml.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// Text mode has no table for a config, so default to YAML.
		if !cmd.Flags().Changed("output") {
			_ = cmd.Flags().Set("output", "yaml")
		}
		w, err := newWriter(cmd)
		if err != nil {
			return err
		}
		if err := w.Write(appConfig); err != nil {
			return err
		}
		return w.Close()
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
