package browser

import (
	"context"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// stealthScript hides the most common automation fingerprints before any
// page script runs. The trade summary page serves a reduced table to
// clients it believes are automated.
const stealthScript = `
(function() {
    'use strict';
    Object.defineProperty(navigator, 'webdriver', { get: () => undefined, configurable: true });
    try { delete Object.getPrototypeOf(navigator).webdriver; } catch (e) {}

    Object.defineProperty(navigator, 'languages', {
        get: () => Object.freeze(['en-US', 'en']),
        configurable: true
    });

    if (navigator.plugins.length === 0) {
        Object.defineProperty(navigator, 'plugins', {
            get: () => [{ name: 'Chrome PDF Viewer', filename: 'internal-pdf-viewer' }],
            configurable: true
        });
    }

    if (!window.chrome) {
        Object.defineProperty(window, 'chrome', { value: {}, writable: true, configurable: false });
    }
    if (!window.chrome.runtime) {
        window.chrome.runtime = { connect: function() {}, sendMessage: function() {} };
    }

    if (navigator.hardwareConcurrency === 0) {
        Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => 4, configurable: true });
    }
})();
`

// ExecAllocatorOptions returns the Chrome flags for kind: headless when
// unattended, fixed window, automation switches removed.
func ExecAllocatorOptions(cfg Config, kind EnvironmentKind) []chromedp.ExecAllocatorOption {
	cfg = cfg.withDefaults()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.headless(kind)),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("lang", "en-US,en"),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if kind == Unattended {
		// Containers in CI rarely provide the namespaces the sandbox needs.
		opts = append(opts, chromedp.NoSandbox)
	}
	return opts
}

// stealthActions inject the fingerprint script and the user-agent override.
// The override matters for remote browsers, whose command line we do not
// control.
func stealthActions(cfg Config) chromedp.Tasks {
	return chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetUserAgentOverride(cfg.UserAgent).
				WithAcceptLanguage("en-US,en;q=0.9").
				Do(ctx)
		}),
	}
}
