package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
	"github.com/go-rod/rod/lib/launcher"
)

// Strategy produces a chromedp allocator for one way of obtaining a browser.
type Strategy interface {
	Name() string
	Allocate(parent context.Context, cfg Config, kind EnvironmentKind) (context.Context, context.CancelFunc, error)
}

// Strategy names.
const (
	StrategyRemote    = "remote"
	StrategyPath      = "path"
	StrategyKnownPath = "known-path"
	StrategyManaged   = "managed"
)

// DefaultOrder returns the provisioning order for kind. Unattended runs
// prefer a pre-installed binary and fall back to a managed download before
// guessing install locations; interactive runs prefer the user's own
// installation.
func DefaultOrder(kind EnvironmentKind) []Strategy {
	if kind == Unattended {
		return []Strategy{RemoteStrategy{}, PathStrategy{}, ManagedStrategy{}, KnownPathStrategy{}}
	}
	return []Strategy{RemoteStrategy{}, KnownPathStrategy{}, PathStrategy{}, ManagedStrategy{}}
}

// RemoteStrategy attaches to an already running browser's DevTools endpoint.
type RemoteStrategy struct{}

func (RemoteStrategy) Name() string { return StrategyRemote }

func (RemoteStrategy) Allocate(parent context.Context, cfg Config, _ EnvironmentKind) (context.Context, context.CancelFunc, error) {
	if cfg.RemoteURL == "" {
		return nil, nil, fmt.Errorf("remote url %w", errNotConfigured)
	}
	ctx, cancel := chromedp.NewRemoteAllocator(parent, cfg.RemoteURL)
	return ctx, cancel, nil
}

// PathStrategy launches the first browser executable found on PATH.
type PathStrategy struct{}

func (PathStrategy) Name() string { return StrategyPath }

func (PathStrategy) Allocate(parent context.Context, cfg Config, kind EnvironmentKind) (context.Context, context.CancelFunc, error) {
	path, ok := lookPathBinary(pathBinaryNames)
	if !ok {
		return nil, nil, fmt.Errorf("no browser executable on PATH")
	}
	return execAllocator(parent, cfg, kind, path)
}

// KnownPathStrategy launches the configured browser_path, then the first
// well-known installation location that exists.
type KnownPathStrategy struct{}

func (KnownPathStrategy) Name() string { return StrategyKnownPath }

func (KnownPathStrategy) Allocate(parent context.Context, cfg Config, kind EnvironmentKind) (context.Context, context.CancelFunc, error) {
	candidates := append([]string{cfg.BrowserPath}, knownBinaryPaths...)
	path, ok := firstExisting(candidates)
	if !ok {
		return nil, nil, fmt.Errorf("no browser at configured or known install paths")
	}
	return execAllocator(parent, cfg, kind, path)
}

// ManagedStrategy downloads (once, into the user cache) a browser build
// pinned by the launcher library and launches it.
type ManagedStrategy struct{}

func (ManagedStrategy) Name() string { return StrategyManaged }

func (ManagedStrategy) Allocate(parent context.Context, cfg Config, kind EnvironmentKind) (context.Context, context.CancelFunc, error) {
	b := launcher.NewBrowser()
	b.Context = parent
	path, err := b.Get()
	if err != nil {
		return nil, nil, fmt.Errorf("fetch managed browser: %w", err)
	}
	return execAllocator(parent, cfg, kind, path)
}

func execAllocator(parent context.Context, cfg Config, kind EnvironmentKind, path string) (context.Context, context.CancelFunc, error) {
	opts := ExecAllocatorOptions(cfg, kind)
	opts = append(opts, chromedp.ExecPath(path))
	ctx, cancel := chromedp.NewExecAllocator(parent, opts...)
	return ctx, cancel, nil
}
