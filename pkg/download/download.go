// Package download detects a file written into a directory by an external
// process (the browser) by polling the directory against a baseline listing.
package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/csegrab/internal/logger"
)

// ErrDownloadTimeout is returned when no stable new file appears in time.
var ErrDownloadTimeout = errors.New("download did not complete within timeout")

// TransientSuffixes mark files a browser is still writing. Chrome uses
// .crdownload, Firefox .part; .tmp and .download show up in some builds.
var TransientSuffixes = []string{".crdownload", ".tmp", ".part", ".download"}

// State is the observed lifecycle state of an artifact.
type State int

const (
	Absent State = iota
	InProgress
	Complete
)

func (s State) String() string {
	switch s {
	case InProgress:
		return "in-progress"
	case Complete:
		return "complete"
	default:
		return "absent"
	}
}

// Artifact is a file produced by the browser's download action.
type Artifact struct {
	Path    string
	Name    string
	// Size as of the scan that first reported the file.
	Size    int64
	ModTime time.Time
	State   State
}

// HumanSize renders the artifact size for logs and reports.
func (a Artifact) HumanSize() string {
	return humanize.Bytes(uint64(a.Size))
}

// Listing is a snapshot of the names in a directory.
type Listing map[string]struct{}

// Has reports whether name was present when the listing was taken.
func (l Listing) Has(name string) bool {
	_, ok := l[name]
	return ok
}

// Snapshot lists the entries of dir. A missing directory yields an empty
// listing.
func Snapshot(dir string) (Listing, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Listing{}, nil
		}
		return nil, fmt.Errorf("snapshot %s: %w", dir, err)
	}
	l := make(Listing, len(entries))
	for _, e := range entries {
		l[e.Name()] = struct{}{}
	}
	return l, nil
}

// IsTransient reports whether name carries an in-progress marker suffix.
func IsTransient(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range TransientSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

// DefaultInterval is the polling period used when Watcher.Interval is zero.
const DefaultInterval = 500 * time.Millisecond

// Watcher polls one directory.
type Watcher struct {
	Dir      string
	Interval time.Duration
}

// WaitForArtifact polls until a stable entry absent from baseline appears,
// and returns the most recently modified one. It returns as soon as one
// tick sees a stable candidate.
func (w Watcher) WaitForArtifact(ctx context.Context, baseline Listing, timeout time.Duration) (Artifact, error) {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []string
	for {
		a, inProgress, err := w.scan(baseline)
		if err != nil {
			return Artifact{}, err
		}
		if a.State == Complete {
			logger.Debug("download detected", "name", a.Name, "size", a.HumanSize())
			return a, nil
		}
		if len(inProgress) > 0 && !slices.Equal(inProgress, pending) {
			logger.Debug("download in progress", "files", inProgress)
		}
		pending = inProgress

		select {
		case <-ctx.Done():
			if err := parent.Err(); err != nil {
				return Artifact{}, fmt.Errorf("waiting for download: %w", err)
			}
			if len(pending) > 0 {
				return Artifact{}, fmt.Errorf("%w after %s (still in progress: %s)",
					ErrDownloadTimeout, timeout, strings.Join(pending, ", "))
			}
			return Artifact{}, fmt.Errorf("%w after %s", ErrDownloadTimeout, timeout)
		case <-ticker.C:
		}
	}
}

// scan computes current - baseline once. Directories never count.
func (w Watcher) scan(baseline Listing) (Artifact, []string, error) {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Artifact{}, nil, nil
		}
		return Artifact{}, nil, fmt.Errorf("scan %s: %w", w.Dir, err)
	}

	var (
		best       Artifact
		inProgress []string
	)
	for _, e := range entries {
		name := e.Name()
		if baseline.Has(name) || e.IsDir() {
			continue
		}
		if IsTransient(name) {
			inProgress = append(inProgress, name)
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Renamed or removed between ReadDir and Info; the next tick
			// sees the new name.
			continue
		}
		if best.State != Complete || info.ModTime().After(best.ModTime) {
			best = Artifact{
				Path:    filepath.Join(w.Dir, name),
				Name:    name,
				Size:    info.Size(),
				ModTime: info.ModTime(),
				State:   Complete,
			}
		}
	}
	sort.Strings(inProgress)
	return best, inProgress, nil
}
