// Package commands implements the CLI commands for csegrab.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/csegrab/internal/config"
	"github.com/jmylchreest/csegrab/internal/logger"
	"github.com/jmylchreest/csegrab/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "csegrab",
	Short: "Download the CSE trade summary as a timestamped CSV",
	Long: `csegrab drives a headless browser through the Colombo Stock Exchange
trade summary page, exports the full table as CSV and saves it under a
name taken from the page's "as of" timestamp.

Files are never overwritten: a second download for the same timestamp
is saved with a _001, _002, ... suffix.

Examples:
  # Download into ./downloads
  csegrab fetch

  # Save elsewhere, check connectivity first, print a JSON report
  csegrab fetch -d data/cse --preflight --format json

  # Attach to a browser started with --remote-debugging-port=9222
  csegrab fetch --remote-url http://127.0.0.1:9222

Settings can also come from CSEGRAB_* environment variables or a
.csegrab.yaml file in $HOME or the working directory.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config file (default $HOME/.csegrab.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "only log errors")
	rootCmd.PersistentFlags().Bool("log-json", false, "log as JSON")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("log_json", rootCmd.PersistentFlags().Lookup("log-json"))
}

func initConfig() {
	config.Setup(viper.GetViper(), viper.GetString("config"))
	if err := config.ReadFile(viper.GetViper()); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}

func initLogger() {
	logger.Init(logger.Options{
		Debug: viper.GetBool("debug"),
		Quiet: viper.GetBool("quiet"),
		JSON:  viper.GetBool("log_json"),
	})
	if f := viper.ConfigFileUsed(); f != "" {
		logger.Debug("config file loaded", "path", f)
	}
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		logError("%v", err)
	}
	return err
}

// logError prints an error message to stderr.
func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// logInfo prints an info message to stderr (unless quiet mode).
func logInfo(format string, args ...any) {
	if !viper.GetBool("quiet") {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
