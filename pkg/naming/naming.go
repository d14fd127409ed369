// Package naming moves a downloaded artifact to its final, collision-free
// name in the output directory.
package naming

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/jmylchreest/csegrab/internal/logger"
)

const (
	// DefaultPrefix is the fixed file name prefix of finalized exports.
	DefaultPrefix = "cse_trade_summary"

	// DefaultExtension is appended to every finalized name.
	DefaultExtension = ".csv"

	// MaxAttempts caps the _NNN counter suffix.
	MaxAttempts = 999

	// exhaustedLayout is the date-time part of the suffix used once the
	// counter is exhausted; microseconds are appended separately.
	exhaustedLayout = "20060102_150405"
)

// Result describes where the artifact ended up.
type Result struct {
	// Path is the final location. On rename failure it is the original
	// artifact path.
	Path string
	// Desired is the unsuffixed target name.
	Desired string
	// Attempts counts suffixed names that were already taken.
	Attempts int
	// Exhausted is set when the counter cap was reached and the
	// microsecond suffix was used.
	Exhausted bool
	// RenameErr holds the rename failure, if any. It is never fatal.
	RenameErr error
}

// Renamed reports whether the artifact was moved.
func (r Result) Renamed() bool {
	return r.RenameErr == nil
}

// Namer computes final names. The zero value uses DefaultPrefix.
type Namer struct {
	Prefix    string
	Extension string
	// Now supplies the instant for the exhausted-counter suffix.
	Now func() time.Time
	// rename is swapped out in tests to simulate cross-device failures.
	rename func(oldpath, newpath string) error
}

// DesiredName returns "<prefix>_<canonical><ext>".
func (n Namer) DesiredName(canonical string) string {
	return n.prefix() + "_" + canonical + n.ext()
}

// Finalize renames artifact into dir under a name derived from canonical.
// It never overwrites an existing file.
func (n Namer) Finalize(artifact, canonical, dir string) Result {
	desired := n.DesiredName(canonical)
	res := Result{Desired: desired}

	target, attempts, exhausted := n.freeName(artifact, canonical, dir)
	res.Attempts = attempts
	res.Exhausted = exhausted
	if exhausted {
		logger.Recovered("naming", "collision suffixes exhausted",
			"desired", desired, "attempts", attempts, "target", filepath.Base(target))
	}

	if target == artifact {
		res.Path = target
		return res
	}

	rename := n.rename
	if rename == nil {
		rename = os.Rename
	}
	if err := rename(artifact, target); err != nil {
		res.Path = artifact
		res.RenameErr = fmt.Errorf("rename %s: %w", filepath.Base(artifact), err)
		logger.Warn("could not rename downloaded file, keeping original name",
			"artifact", artifact, "target", target, "error", err)
		return res
	}

	res.Path = target
	logger.Debug("artifact finalized", "path", target, "attempts", attempts)
	return res
}

// freeName finds the first unused candidate. The artifact's own path counts
// as free so that finalizing an already-named file is a no-op.
func (n Namer) freeName(artifact, canonical, dir string) (string, int, bool) {
	stem := n.prefix() + "_" + canonical
	ext := n.ext()

	candidate := filepath.Join(dir, stem+ext)
	if n.available(candidate, artifact) {
		return candidate, 0, false
	}

	for i := 1; i <= MaxAttempts; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%03d%s", stem, i, ext))
		if n.available(candidate, artifact) {
			return candidate, i, false
		}
	}

	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	return filepath.Join(dir, stem+"_"+exhaustedSuffix(now())+ext), MaxAttempts, true
}

func exhaustedSuffix(t time.Time) string {
	return fmt.Sprintf("%s_%06d", t.Format(exhaustedLayout), t.Nanosecond()/int(time.Microsecond))
}

func (n Namer) available(candidate, artifact string) bool {
	if sameFile(candidate, artifact) {
		return true
	}
	_, err := os.Lstat(candidate)
	return errors.Is(err, fs.ErrNotExist)
}

func sameFile(a, b string) bool {
	ca, errA := filepath.Abs(a)
	cb, errB := filepath.Abs(b)
	return errA == nil && errB == nil && ca == cb
}

func (n Namer) prefix() string {
	if n.Prefix == "" {
		return DefaultPrefix
	}
	return n.Prefix
}

func (n Namer) ext() string {
	if n.Extension == "" {
		return DefaultExtension
	}
	return n.Extension
}
