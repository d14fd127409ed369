package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/csegrab/internal/output"
	"github.com/jmylchreest/csegrab/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, _ := cmd.Flags().GetString("format")
		if format == "" {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Full())
			return err
		}
		w, err := output.NewWriter(cmd.OutOrStdout(), output.Format(format))
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
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().StringP("format", "o", "", "output format: json, yaml (default: text)")
}
