package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"github.com/jmylchreest/csegrab/internal/logger"
)

// Handle owns one live browser tab. Close terminates the browser (or, for
// remote browsers, the tab) and is safe to call more than once.
type Handle struct {
	strategy string
	ctx      context.Context
	cancel   context.CancelFunc
	tab      *Tab

	closeOnce sync.Once
}

// NewHandle wraps an already started chromedp context. It is used by
// strategies and by callers that manage their own allocator.
func NewHandle(strategy string, ctx context.Context, cancel context.CancelFunc) *Handle {
	return &Handle{
		strategy: strategy,
		ctx:      ctx,
		cancel:   cancel,
		tab:      &Tab{ctx: ctx, nodes: make(map[int64]*cdp.Node)},
	}
}

// Strategy names the provisioning strategy that produced the handle.
func (h *Handle) Strategy() string { return h.strategy }

// Context is the chromedp tab context.
func (h *Handle) Context() context.Context { return h.ctx }

// Tab returns the scriptable page.
func (h *Handle) Tab() *Tab { return h.tab }

// Close releases the browser.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		if h.cancel != nil {
			h.cancel()
		}
		logger.Debug("browser released", "strategy", h.strategy)
	})
	return nil
}

// Provisioner acquires browsers according to an ordered strategy list.
type Provisioner struct {
	Config Config
	// Order overrides DefaultOrder when set.
	Order func(EnvironmentKind) []Strategy

	// start turns an allocator into a live handle; replaced in tests.
	start func(alloc context.Context, cancel context.CancelFunc, name string, cfg Config) (*Handle, error)
}

// NewProvisioner creates a provisioner with the default strategy order.
func NewProvisioner(cfg Config) *Provisioner {
	return &Provisioner{Config: cfg}
}

// Acquire tries each strategy for kind in order and returns the first live
// browser. Every failure, including a panic inside a strategy, is recorded
// and the next strategy is tried.
func (p *Provisioner) Acquire(ctx context.Context, kind EnvironmentKind) (*Handle, error) {
	cfg := p.Config.withDefaults()

	dir, err := filepath.Abs(cfg.DownloadDir)
	if err != nil {
		return nil, fmt.Errorf("%w: download dir: %v", ErrProvisioning, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create download dir: %v", ErrProvisioning, err)
	}
	cfg.DownloadDir = dir

	order := DefaultOrder
	if p.Order != nil {
		order = p.Order
	}

	perr := &ProvisioningError{Kind: kind}
	for _, s := range order(kind) {
		if err := ctx.Err(); err != nil {
			perr.Attempts = append(perr.Attempts, Attempt{Strategy: s.Name(), Err: err})
			break
		}
		h, err := p.try(ctx, s, cfg, kind)
		if err == nil {
			logger.Info("browser started",
				"strategy", s.Name(),
				"environment", kind.String(),
				"headless", cfg.headless(kind),
				"download_dir", dir)
			return h, nil
		}
		logger.Debug("browser strategy failed", "strategy", s.Name(), "error", err)
		perr.Attempts = append(perr.Attempts, Attempt{Strategy: s.Name(), Err: err})
	}
	return nil, perr
}

func (p *Provisioner) try(ctx context.Context, s Strategy, cfg Config, kind EnvironmentKind) (h *Handle, err error) {
	var cancel context.CancelFunc
	defer func() {
		if r := recover(); r != nil {
			if cancel != nil {
				cancel()
			}
			h, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	var alloc context.Context
	alloc, cancel, err = s.Allocate(ctx, cfg, kind)
	if err != nil {
		return nil, err
	}
	start := p.start
	if start == nil {
		start = startBrowser
	}
	h, err = start(alloc, cancel, s.Name(), cfg)
	if err != nil {
		cancel()
		return nil, err
	}
	return h, nil
}

// startBrowser creates the tab, applies download and stealth settings, and
// bounds the whole startup by cfg.StartTimeout. The first Run must not use a
// deadline context: chromedp ties the browser's lifetime to it.
func startBrowser(alloc context.Context, cancelAlloc context.CancelFunc, name string, cfg Config) (*Handle, error) {
	tabCtx, cancelTab := chromedp.NewContext(alloc,
		chromedp.WithLogf(logger.Printf),
		chromedp.WithErrorf(logger.Printf),
	)
	cancel := func() {
		cancelTab()
		cancelAlloc()
	}

	setup := chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			return cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
				WithDownloadPath(cfg.DownloadDir).
				WithEventsEnabled(true).
				Do(ctx)
		}),
	}
	if cfg.Stealth {
		setup = append(setup, stealthActions(cfg))
	}

	errc := make(chan error, 1)
	go func() { errc <- chromedp.Run(tabCtx, setup...) }()

	select {
	case err := <-errc:
		if err != nil {
			cancel()
			return nil, fmt.Errorf("start browser: %w", err)
		}
	case <-time.After(cfg.StartTimeout):
		cancel()
		return nil, fmt.Errorf("start browser: timed out after %s", cfg.StartTimeout)
	}

	return NewHandle(name, tabCtx, cancel), nil
}
