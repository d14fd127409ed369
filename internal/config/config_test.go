package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/jmylchreest/csegrab/pkg/acquire"
	"github.com/jmylchreest/csegrab/pkg/browser"
)

func load(t *testing.T, file string) (Config, error) {
	t.Helper()
	v := viper.New()
	Setup(v, file)
	if err := ReadFile(v); err != nil {
		return Config{}, err
	}
	return Load(v)
}

// --- Load Tests ---

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CI", "")
	t.Setenv("GITHUB_ACTIONS", "")
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := load(t, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.URL != acquire.DefaultURL {
		t.Errorf("URL = %q", cfg.URL)
	}
	if cfg.OutputDir != "downloads" {
		t.Errorf("OutputDir = %q", cfg.OutputDir)
	}
	if cfg.Prefix != "cse_trade_summary" {
		t.Errorf("Prefix = %q", cfg.Prefix)
	}
	if cfg.Unattended {
		t.Error("Unattended should default to false outside CI")
	}
	if !cfg.Stealth {
		t.Error("Stealth should default to true")
	}
	if cfg.Timeouts.Download != 60*time.Second {
		t.Errorf("Timeouts.Download = %v", cfg.Timeouts.Download)
	}
	if cfg.SettleQuiet != acquire.DefaultSettleQuiet {
		t.Errorf("SettleQuiet = %d", cfg.SettleQuiet)
	}
}

func TestLoadDetectsCI(t *testing.T) {
	t.Setenv("CI", "true")
	t.Chdir(t.TempDir())

	cfg, err := load(t, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Unattended || cfg.Environment() != browser.Unattended {
		t.Error("expected unattended under CI")
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CSEGRAB_OUTPUT_DIR", "/tmp/cse")
	t.Setenv("CSEGRAB_PREFIX", "cse")
	t.Setenv("CSEGRAB_TIMEOUTS_DOWNLOAD", "2m")
	t.Setenv("CSEGRAB_UNATTENDED", "true")

	cfg, err := load(t, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OutputDir != "/tmp/cse" || cfg.Prefix != "cse" {
		t.Errorf("OutputDir = %q, Prefix = %q", cfg.OutputDir, cfg.Prefix)
	}
	if cfg.Timeouts.Download != 2*time.Minute {
		t.Errorf("Timeouts.Download = %v", cfg.Timeouts.Download)
	}
	if !cfg.Unattended {
		t.Error("Unattended not overridden")
	}
}

func TestLoadFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "csegrab.yaml")
	data := `
output_dir: data/cse
headless: true
remote_url: ws://127.0.0.1:9222/devtools/browser/abc
settle_quiet: 5
timeouts:
  page_load: 45s
  settle: 20s
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := load(t, path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OutputDir != "data/cse" || !cfg.Headless || cfg.SettleQuiet != 5 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Timeouts.PageLoad != 45*time.Second || cfg.Timeouts.Settle != 20*time.Second {
		t.Errorf("Timeouts = %+v", cfg.Timeouts)
	}
	if cfg.Timeouts.Menu != acquire.DefaultTimeouts().Menu {
		t.Errorf("unset timeout lost its default: %v", cfg.Timeouts.Menu)
	}
}

func TestReadFileMissingExplicitFile(t *testing.T) {
	v := viper.New()
	Setup(v, filepath.Join(t.TempDir(), "missing.yaml"))
	if err := ReadFile(v); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

// --- Validate Tests ---

func validConfig() Config {
	return Config{
		URL:         acquire.DefaultURL,
		OutputDir:   "downloads",
		Prefix:      "cse_trade_summary",
		SettleQuiet: 3,
		Timeouts: Timeouts{
			PageLoad:     time.Second,
			Candidate:    time.Second,
			Settle:       time.Second,
			SettlePoll:   100 * time.Millisecond,
			Menu:         time.Second,
			Download:     time.Second,
			DownloadPoll: 100 * time.Millisecond,
			Preflight:    time.Second,
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad url", func(c *Config) { c.URL = "not a url" }, "URL must be a URL"},
		{"empty output dir", func(c *Config) { c.OutputDir = "" }, "OutputDir is required"},
		{"prefix with slash", func(c *Config) { c.Prefix = "a/b" }, "Prefix must not contain"},
		{"bad remote url", func(c *Config) { c.RemoteURL = "::" }, "RemoteURL must be a URL"},
		{"zero timeout", func(c *Config) { c.Timeouts.Download = 0 }, "Timeouts.Download"},
		{"poll longer than settle", func(c *Config) { c.Timeouts.SettlePoll = time.Minute }, "Timeouts.SettlePoll must not exceed Settle"},
		{"settle quiet zero", func(c *Config) { c.SettleQuiet = 0 }, "SettleQuiet"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantMsg == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

// --- Mapping Tests ---

func TestBrowserMapping(t *testing.T) {
	cfg := validConfig()
	cfg.Headless = true
	cfg.BrowserPath = "/opt/chrome"
	cfg.UserAgent = "custom"

	b := cfg.Browser()
	if b.DownloadDir != "downloads" || !b.Headless || b.BrowserPath != "/opt/chrome" || b.UserAgent != "custom" {
		t.Errorf("Browser() = %+v", b)
	}
	if b.StartTimeout == 0 {
		t.Error("StartTimeout should keep its default")
	}
}

func TestSequencerMapping(t *testing.T) {
	cfg := validConfig()
	cfg.Prefix = "cse"
	cfg.DebugScreenshot = true

	q := cfg.Sequencer()
	if q.URL != cfg.URL || q.SettleQuiet != 3 || !q.DebugScreenshot {
		t.Errorf("Sequencer() = %+v", q)
	}
	if got := q.Namer.DesiredName("2025-07-31_14-47-42"); got != "cse_2025-07-31_14-47-42.csv" {
		t.Errorf("DesiredName() = %q", got)
	}
	if q.Timeouts.Download != time.Second {
		t.Errorf("Timeouts.Download = %v", q.Timeouts.Download)
	}
}
