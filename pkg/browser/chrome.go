package browser

import (
	"os"
	"os/exec"

	"github.com/jmylchreest/csegrab/internal/logger"
)

// Executable names looked up on PATH, most specific first.
var pathBinaryNames = []string{
	"google-chrome-stable",
	"google-chrome",
	"chromium",
	"chromium-browser",
	"chrome",
	"chrome-headless-shell",
}

// Well-known installation locations checked after an explicit browser_path.
var knownBinaryPaths = []string{
	// Linux
	"/usr/bin/google-chrome-stable",
	"/usr/bin/google-chrome",
	"/opt/google/chrome/chrome",
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/snap/bin/chromium",
	// macOS
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
	// Windows
	`C:\Program Files\Google\Chrome\Application\chrome.exe`,
	`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
}

// lookPathBinary returns the first browser executable found on PATH.
func lookPathBinary(names []string) (string, bool) {
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			logger.Debug("found browser on PATH", "name", name, "path", path)
			return path, true
		}
	}
	return "", false
}

// firstExisting returns the first candidate that is a regular file.
func firstExisting(candidates []string) (string, bool) {
	for _, p := range candidates {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err == nil && !info.IsDir() {
			logger.Debug("found browser at known path", "path", p)
			return p, true
		}
	}
	return "", false
}
