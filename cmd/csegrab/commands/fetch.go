package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/csegrab/internal/config"
	"github.com/jmylchreest/csegrab/internal/logger"
	"github.com/jmylchreest/csegrab/internal/output"
	"github.com/jmylchreest/csegrab/internal/preflight"
	"github.com/jmylchreest/csegrab/pkg/acquire"
	"github.com/jmylchreest/csegrab/pkg/browser"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the current trade summary",
	Long: `Open the trade summary page, show all rows, export the table as CSV
and save it as <prefix>_<YYYY-MM-DD_HH-MM-SS>.csv in the output directory.

The timestamp comes from the page's "as of" label; when the label cannot
be read the current time is used and the run still succeeds.

Exit status is 0 when the file was saved and 1 otherwise.`,
	Args: cobra.NoArgs,
	RunE: runFetch,
}

// flag name -> config key
var fetchBindings = map[string]string{
	"url":               "url",
	"output-dir":        "output_dir",
	"prefix":            "prefix",
	"unattended":        "unattended",
	"headless":          "headless",
	"browser-path":      "browser_path",
	"remote-url":        "remote_url",
	"user-agent":        "user_agent",
	"stealth":           "stealth",
	"preflight":         "preflight",
	"debug-screenshot":  "debug_screenshot",
	"settle-quiet":      "settle_quiet",
	"page-load-timeout": "timeouts.page_load",
	"candidate-timeout": "timeouts.candidate",
	"settle-timeout":    "timeouts.settle",
	"menu-timeout":      "timeouts.menu",
	"download-timeout":  "timeouts.download",
	"preflight-timeout": "timeouts.preflight",
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	flags := fetchCmd.Flags()

	// Target and output
	flags.StringP("url", "u", acquire.DefaultURL, "trade summary page URL")
	flags.StringP("output-dir", "d", "downloads", "directory the CSV is saved in")
	flags.String("prefix", "cse_trade_summary", "file name prefix")

	// Browser
	flags.Bool("unattended", false, "force unattended mode (headless, CI provisioning order); default detects CI")
	flags.Bool("headless", false, "run the browser headless in interactive mode too")
	flags.String("browser-path", "", "path to a Chrome or Chromium executable")
	flags.String("remote-url", "", "DevTools URL of an already running browser")
	flags.String("user-agent", "", "override the browser user agent")
	flags.Bool("stealth", true, "hide automation fingerprints")
	flags.Bool("preflight", false, "check the page is reachable before starting a browser")
	flags.Bool("debug-screenshot", false, "save a screenshot into the output directory on failure")

	// Timing
	flags.Int("settle-quiet", acquire.DefaultSettleQuiet, "unchanged row counts needed before the table counts as loaded")
	flags.Duration("page-load-timeout", 30*time.Second, "page load timeout")
	flags.Duration("candidate-timeout", 2*time.Second, "wait per element candidate")
	flags.Duration("settle-timeout", 15*time.Second, "max wait for the table to finish loading")
	flags.Duration("menu-timeout", 5*time.Second, "max wait for the export menu")
	flags.Duration("download-timeout", 60*time.Second, "max wait for the download")
	flags.Duration("preflight-timeout", preflight.DefaultTimeout, "preflight request timeout")

	// Report
	flags.String("format", "text", "report format: text, json, jsonl, yaml")
	flags.StringP("output", "o", "", "write the report to this file (jsonl appends)")

	for flag, key := range fetchBindings {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}
}

func runFetch(cmd *cobra.Command, _ []string) error {
	initLogger()

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if format, _ := cmd.Flags().GetString("format"); format != "text" {
		if _, err := output.NewWriter(io.Discard, output.Format(format)); err != nil {
			return err
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Debug("fetch command starting",
		"url", cfg.URL,
		"output_dir", cfg.OutputDir,
		"environment", cfg.Environment().String())

	if cfg.Preflight {
		probe := preflight.Probe{Timeout: cfg.Timeouts.Preflight}
		if _, err := probe.Check(ctx, cfg.URL); err != nil {
			logInfo("Check your internet connection and that %s is up.", cfg.URL)
			return err
		}
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	h, err := browser.NewProvisioner(cfg.Browser()).Acquire(ctx, cfg.Environment())
	if err != nil {
		printProvisioningHelp(err)
		return err
	}

	sess := acquire.NewSession(h.Tab(), h, cfg.OutputDir)
	defer sess.Close()

	res, runErr := cfg.Sequencer().Run(ctx, sess)
	if err := writeReport(cmd, res); err != nil {
		logger.Error("failed to write report", "error", err)
		if runErr == nil {
			return err
		}
	}
	return runErr
}

func printProvisioningHelp(err error) {
	var perr *browser.ProvisioningError
	if !errors.As(err, &perr) {
		return
	}
	logInfo("No browser could be started. Tried:")
	for _, a := range perr.Attempts {
		logInfo("  %-10s %v", a.Strategy, a.Err)
	}
	logInfo("Install Google Chrome or Chromium, or set --browser-path / CSEGRAB_BROWSER_PATH,")
	logInfo("or point --remote-url at a browser started with --remote-debugging-port.")
}

func writeReport(cmd *cobra.Command, res acquire.Result) error {
	format, _ := cmd.Flags().GetString("format")
	path, _ := cmd.Flags().GetString("output")

	var w io.Writer = cmd.OutOrStdout()
	if path != "" {
		flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if output.Format(format).Appends() {
			flag = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		}
		f, err := os.OpenFile(path, flag, 0o644)
		if err != nil {
			return fmt.Errorf("open report file: %w", err)
		}
		defer f.Close()
		w = f
	}

	report := output.NewReport(res, time.Now())
	if format == "text" {
		return writeText(w, report)
	}

	ow, err := output.NewWriter(w, output.Format(format))
	if err != nil {
		return err
	}
	if err := ow.Write(report); err != nil {
		return err
	}
	return ow.Close()
}

func writeText(w io.Writer, r output.Report) error {
	var err error
	p := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(w, format+"\n", args...)
		}
	}

	if r.File != nil {
		p("Saved %s (%s)", r.File.Name, r.File.Size)
		p("  Path:   %s", r.File.Path)
		if r.File.Suffixed {
			p("  Note:   a file for this timestamp already existed; suffix added")
		}
		if !r.File.Renamed {
			p("  Note:   could not rename, kept %s", r.File.Downloaded)
		}
	} else {
		p("Download failed: %s", r.Error)
	}
	if r.AsOf.Value != "" {
		src := "page"
		if r.AsOf.Recovered {
			src = "clock, " + r.AsOf.Reason
		}
		p("  As of:  %s (%s)", r.AsOf.Value, src)
	}
	for _, warning := range r.Warnings {
		p("  Warn:   %s", warning)
	}
	p("  Took:   %s", time.Duration(r.DurationMs)*time.Millisecond)
	return err
}
