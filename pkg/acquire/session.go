// Package acquire drives one trade-summary acquisition: load the page,
// expand the table, capture the "as of" timestamp, export the CSV, wait for
// the download and give it its final name.
package acquire

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/csegrab/internal/logger"
	"github.com/jmylchreest/csegrab/pkg/download"
	"github.com/jmylchreest/csegrab/pkg/locator"
	"github.com/jmylchreest/csegrab/pkg/naming"
	"github.com/jmylchreest/csegrab/pkg/timestamp"
)

// State is the sequencer position of a session.
type State int

const (
	NotStarted State = iota
	Loaded
	ResultSetExpanded
	TimestampCaptured
	ExportTriggered
	Done
	Failed
)

var stateNames = [...]string{
	NotStarted:        "not_started",
	Loaded:            "loaded",
	ResultSetExpanded: "result_set_expanded",
	TimestampCaptured: "timestamp_captured",
	ExportTriggered:   "export_triggered",
	Done:              "done",
	Failed:            "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}

// Driver is the live page surface the sequencer scripts. *browser.Tab
// implements it.
type Driver interface {
	locator.Page
	Navigate(ctx context.Context, url string) error
	SelectValue(ctx context.Context, el locator.Element, value string) error
	Activate(ctx context.Context, el locator.Element) error
	ReadText(ctx context.Context, el locator.Element) (string, error)
	CountRows(ctx context.Context, selector string) (int, error)
	HTML(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// Session owns one browser and one output directory for a single run.
// It is not safe for concurrent use and is never reused.
type Session struct {
	ID        string
	OutputDir string
	StartedAt time.Time

	State     State
	Timestamp timestamp.Result
	Artifact  download.Artifact
	Naming    naming.Result
	Err       error

	driver    Driver
	closer    io.Closer
	closeOnce sync.Once
	closeErr  error
}

// NewSession creates a session around driver. closer releases the browser
// and may be nil.
func NewSession(driver Driver, closer io.Closer, outputDir string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		OutputDir: outputDir,
		StartedAt: time.Now(),
		driver:    driver,
		closer:    closer,
	}
}

// Driver returns the page driver.
func (s *Session) Driver() Driver { return s.driver }

// Elapsed is the time since the session started.
func (s *Session) Elapsed() time.Duration { return time.Since(s.StartedAt) }

// Close releases the browser. It runs once; later calls return the first
// result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.closer != nil {
			s.closeErr = s.closer.Close()
		}
		logger.Debug("session closed", "session", s.ID, "state", s.State.String(), "elapsed", s.Elapsed())
	})
	return s.closeErr
}

func (s *Session) advance(to State) {
	logger.Debug("session state", "session", s.ID, "from", s.State.String(), "to", to.String())
	s.State = to
}

// fail moves the session to Failed, keeping whatever was captured so far.
func (s *Session) fail(err error) {
	logger.Debug("session failed", "session", s.ID, "state", s.State.String(), "error", err)
	s.State = Failed
	s.Err = err
}
