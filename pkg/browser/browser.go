// Package browser provisions a controlled Chrome instance for unattended
// downloads and exposes the tab as a scriptable page.
//
// Provisioning tries a fixed, environment-dependent list of strategies
// (remote DevTools endpoint, executable on PATH, known install location,
// managed download) and returns the first live browser.
package browser

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ErrProvisioning is wrapped by every ProvisioningError.
var ErrProvisioning = errors.New("no browser could be started")

// errNotConfigured marks a strategy that has nothing to try.
var errNotConfigured = errors.New("not configured")

// EnvironmentKind distinguishes unattended (CI) from interactive runs.
type EnvironmentKind int

const (
	Interactive EnvironmentKind = iota
	Unattended
)

func (k EnvironmentKind) String() string {
	if k == Unattended {
		return "unattended"
	}
	return "interactive"
}

// DetectEnvironment reports Unattended when a CI marker variable is set.
func DetectEnvironment() EnvironmentKind {
	for _, name := range []string{"CI", "GITHUB_ACTIONS"} {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" && v != "0" && !strings.EqualFold(v, "false") {
			return Unattended
		}
	}
	return Interactive
}

// Config controls how the browser is launched.
type Config struct {
	DownloadDir string
	// Headless forces headless rendering even for interactive runs.
	Headless     bool
	BrowserPath  string
	RemoteURL    string
	UserAgent    string
	Stealth      bool
	WindowWidth  int
	WindowHeight int
	StartTimeout time.Duration
}

// Chrome user agent sent instead of the HeadlessChrome default.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DownloadDir:  "downloads",
		UserAgent:    defaultUserAgent,
		Stealth:      true,
		WindowWidth:  1920,
		WindowHeight: 1080,
		StartTimeout: 45 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DownloadDir == "" {
		c.DownloadDir = d.DownloadDir
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		c.WindowWidth, c.WindowHeight = d.WindowWidth, d.WindowHeight
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = d.StartTimeout
	}
	return c
}

// headless reports whether the browser should render without a display.
func (c Config) headless(kind EnvironmentKind) bool {
	return c.Headless || kind == Unattended
}

// Attempt records one strategy failure.
type Attempt struct {
	Strategy string
	Err      error
}

// ProvisioningError carries every strategy failure in attempt order.
type ProvisioningError struct {
	Kind     EnvironmentKind
	Attempts []Attempt
}

func (e *ProvisioningError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Strategy, a.Err))
	}
	return fmt.Sprintf("%s (%s): %s", ErrProvisioning, e.Kind, strings.Join(parts, "; "))
}

// Unwrap exposes ErrProvisioning and every underlying cause to errors.Is/As.
func (e *ProvisioningError) Unwrap() []error {
	errs := []error{ErrProvisioning}
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}
