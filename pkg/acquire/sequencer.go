package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmylchreest/csegrab/internal/logger"
	"github.com/jmylchreest/csegrab/pkg/download"
	"github.com/jmylchreest/csegrab/pkg/locator"
	"github.com/jmylchreest/csegrab/pkg/naming"
	"github.com/jmylchreest/csegrab/pkg/timestamp"
)

// ErrExportControlNotFound is returned when neither the export menu nor any
// export action could be located.
var ErrExportControlNotFound = errors.New("export control not found")

// Timeouts bounds each step of the sequence.
type Timeouts struct {
	PageLoad     time.Duration
	Candidate    time.Duration
	Settle       time.Duration
	SettlePoll   time.Duration
	Menu         time.Duration
	Download     time.Duration
	DownloadPoll time.Duration
}

// DefaultTimeouts returns the timeouts used for the live site.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		PageLoad:     30 * time.Second,
		Candidate:    2 * time.Second,
		Settle:       15 * time.Second,
		SettlePoll:   500 * time.Millisecond,
		Menu:         5 * time.Second,
		Download:     60 * time.Second,
		DownloadPoll: download.DefaultInterval,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	set := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	set(&t.PageLoad, d.PageLoad)
	set(&t.Candidate, d.Candidate)
	set(&t.Settle, d.Settle)
	set(&t.SettlePoll, d.SettlePoll)
	set(&t.Menu, d.Menu)
	set(&t.Download, d.Download)
	set(&t.DownloadPoll, d.DownloadPoll)
	return t
}

// DefaultSettleQuiet is the number of consecutive unchanged row counts that
// mark the table as settled.
const DefaultSettleQuiet = 3

// Sequencer scripts the trade summary page.
type Sequencer struct {
	URL       string
	Selectors Selectors
	Timeouts  Timeouts
	// SettleQuiet is the number of consecutive polls with an unchanged row
	// count after which the table is considered fully rendered.
	SettleQuiet int
	Extractor   timestamp.Extractor
	Namer       naming.Namer
	// DebugScreenshot saves a PNG of the page into the output directory
	// when a run fails.
	DebugScreenshot bool
}

// NewSequencer returns a sequencer for the live site with default
// selectors and timeouts.
func NewSequencer() *Sequencer {
	return &Sequencer{
		URL:         DefaultURL,
		Selectors:   DefaultSelectors(),
		Timeouts:    DefaultTimeouts(),
		SettleQuiet: DefaultSettleQuiet,
	}
}

// Result summarises a finished session.
type Result struct {
	OK        bool
	SessionID string
	URL       string
	State     State
	Timestamp timestamp.Result
	Artifact  download.Artifact
	Naming    naming.Result
	// Path is where the downloaded file ended up.
	Path     string
	Warnings []string
	Err      error
	Duration time.Duration
}

// run carries per-invocation state.
type run struct {
	seq      *Sequencer
	sess     *Session
	log      *slog.Logger
	resolver locator.Resolver
	timeouts Timeouts
	baseline download.Listing
	warnings []string
}

// Run executes the full sequence against sess and always closes it. The
// returned error is nil exactly when Result.OK is true.
func (q *Sequencer) Run(ctx context.Context, sess *Session) (res Result, err error) {
	timeouts := q.Timeouts.withDefaults()
	r := &run{
		seq:      q,
		sess:     sess,
		log:      logger.With("session", sess.ID),
		resolver: locator.Resolver{CandidateTimeout: timeouts.Candidate},
		timeouts: timeouts,
	}

	defer func() {
		if p := recover(); p != nil {
			r.fail(ctx, fmt.Errorf("panic in %s: %v", sess.State, p))
		}
		if cerr := sess.Close(); cerr != nil {
			r.warn("browser teardown failed", "error", cerr)
		}
		res = r.result()
		err = sess.Err
	}()

	steps := []struct {
		to State
		fn func(context.Context) error
	}{
		{Loaded, r.load},
		{ResultSetExpanded, r.expand},
		{TimestampCaptured, r.captureTimestamp},
		{ExportTriggered, r.triggerExport},
		{Done, r.collect},
	}
	for _, step := range steps {
		if serr := step.fn(ctx); serr != nil {
			r.fail(ctx, serr)
			return
		}
		sess.advance(step.to)
	}

	r.log.Info("trade summary saved",
		"path", sess.Naming.Path,
		"size", sess.Artifact.HumanSize(),
		"as_of", sess.Timestamp.Value,
		"elapsed", sess.Elapsed().Round(time.Millisecond))
	return
}

func (r *run) result() Result {
	s := r.sess
	return Result{
		OK:        s.State == Done && s.Err == nil,
		SessionID: s.ID,
		URL:       r.seq.url(),
		State:     s.State,
		Timestamp: s.Timestamp,
		Artifact:  s.Artifact,
		Naming:    s.Naming,
		Path:      s.Naming.Path,
		Warnings:  r.warnings,
		Err:       s.Err,
		Duration:  s.Elapsed(),
	}
}

func (q *Sequencer) url() string {
	if q.URL == "" {
		return DefaultURL
	}
	return q.URL
}

func (q *Sequencer) selectors() Selectors {
	if q.Selectors.PageLength.Target == "" {
		return DefaultSelectors()
	}
	return q.Selectors
}

// warn records a non-fatal condition.
func (r *run) warn(msg string, args ...any) {
	r.warnings = append(r.warnings, msg)
	r.log.Warn(msg, args...)
}

func (r *run) fail(ctx context.Context, err error) {
	r.log.Error("acquisition failed", "state", r.sess.State.String(), "error", err)
	if r.seq.DebugScreenshot {
		r.saveScreenshot(ctx)
	}
	r.sess.fail(err)
}

func (r *run) saveScreenshot(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	buf, err := r.sess.Driver().Screenshot(ctx)
	if err != nil {
		r.log.Debug("debug screenshot failed", "error", err)
		return
	}
	path := filepath.Join(r.sess.OutputDir, "csegrab_debug_"+r.sess.ID+".png")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		r.log.Debug("debug screenshot not written", "error", err)
		return
	}
	r.log.Info("debug screenshot saved", "path", path)
}

// load navigates and waits for the page-length control, which only exists
// once the table script has run.
func (r *run) load(ctx context.Context) error {
	url := r.seq.url()
	r.log.Info("loading trade summary", "url", url)

	navCtx, cancel := context.WithTimeout(ctx, r.timeouts.PageLoad)
	err := r.sess.Driver().Navigate(navCtx, url)
	cancel()
	if err != nil {
		return err
	}

	// The page-length budget is shared by its candidates.
	strategy := r.seq.selectors().PageLength
	strategy.Wait = r.timeouts.PageLoad / time.Duration(max(1, len(strategy.Candidates)))
	if _, err := r.resolver.Resolve(ctx, strategy, r.sess.Driver()); err != nil {
		return fmt.Errorf("page did not load: %w", err)
	}
	return nil
}

// expand shows every row and waits for the table to stop growing.
func (r *run) expand(ctx context.Context) error {
	d := r.sess.Driver()
	sel := r.seq.selectors()

	el, err := r.resolver.Resolve(ctx, sel.PageLength, d)
	if err != nil {
		return err
	}
	if err := d.SelectValue(ctx, el, AllRowsValue); err != nil {
		return fmt.Errorf("show all rows: %w", err)
	}

	rows, settled := r.settle(ctx, sel.Rows)
	if !settled {
		r.warn("table did not settle before timeout", "rows", rows, "timeout", r.timeouts.Settle)
		return ctx.Err()
	}
	r.log.Debug("table settled", "rows", rows)
	return nil
}

// settle polls the row count until it is unchanged for SettleQuiet polls.
func (r *run) settle(ctx context.Context, selector string) (int, bool) {
	quiet := r.seq.SettleQuiet
	if quiet <= 0 {
		quiet = DefaultSettleQuiet
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Settle)
	defer cancel()

	ticker := time.NewTicker(r.timeouts.SettlePoll)
	defer ticker.Stop()

	last, unchanged := -1, 0
	for {
		n, err := r.sess.Driver().CountRows(ctx, selector)
		switch {
		case err != nil:
			unchanged = 0
		case n == last:
			unchanged++
		default:
			last, unchanged = n, 0
		}
		if unchanged >= quiet {
			return last, true
		}
		select {
		case <-ctx.Done():
			return last, false
		case <-ticker.C:
		}
	}
}

// captureTimestamp reads the "as of" label. It never fails on a missing or
// malformed label; the extractor falls back to the clock.
func (r *run) captureTimestamp(ctx context.Context) error {
	d := r.sess.Driver()
	sel := r.seq.selectors()

	raw, ok := r.readLabel(ctx, d, sel.Label)
	if !ok {
		html, err := d.HTML(ctx)
		if err == nil {
			raw, ok = LabelFromHTML(html, sel.LabelCSS)
		}
		if ok {
			logger.Recovered("timestamp", "label read from page snapshot", "session", r.sess.ID)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	res := r.seq.Extractor.Extract(raw)
	r.sess.Timestamp = res
	if res.Recovered {
		r.warnings = append(r.warnings, "timestamp taken from clock: "+res.Reason)
		logger.Recovered("timestamp", res.Reason, "session", r.sess.ID, "value", res.Value)
	} else {
		r.log.Info("page timestamp captured", "label", res.Raw, "value", res.Value)
	}
	return nil
}

func (r *run) readLabel(ctx context.Context, d Driver, s locator.Strategy) (string, bool) {
	el, err := r.resolver.Resolve(ctx, s, d)
	if err != nil {
		r.log.Debug("label not found on live page", "error", err)
		return "", false
	}
	text, err := d.ReadText(ctx, el)
	if err != nil || text == "" {
		text = el.Text
	}
	return text, text != ""
}

// triggerExport opens the export menu, records the download baseline and
// activates the CSV action.
func (r *run) triggerExport(ctx context.Context) error {
	d := r.sess.Driver()
	sel := r.seq.selectors()

	menu := sel.MenuTrigger
	menu.Wait = r.timeouts.Menu
	trigger, err := r.resolver.Resolve(ctx, menu, d)
	if err != nil {
		return exportNotFound(err)
	}
	if err := d.Activate(ctx, trigger); err != nil {
		return fmt.Errorf("open export menu: %w", err)
	}

	baseline, err := download.Snapshot(r.sess.OutputDir)
	if err != nil {
		return err
	}
	r.baseline = baseline

	action, err := r.resolver.Resolve(ctx, sel.CSVAction, d)
	if err != nil {
		return exportNotFound(err)
	}
	if sel.CSVAction.Fallback != nil && action.Candidate == *sel.CSVAction.Fallback {
		r.warn("csv action not found, using first export action", "text", action.Text)
	}
	if err := d.Activate(ctx, action); err != nil {
		return fmt.Errorf("activate export: %w", err)
	}
	r.log.Info("export triggered", "candidate", action.Candidate.Name)
	return nil
}

func exportNotFound(err error) error {
	if errors.Is(err, locator.ErrElementNotFound) {
		return fmt.Errorf("%w: %w", ErrExportControlNotFound, err)
	}
	return err
}

// collect waits for the file and renames it.
func (r *run) collect(ctx context.Context) error {
	w := download.Watcher{Dir: r.sess.OutputDir, Interval: r.timeouts.DownloadPoll}
	a, err := w.WaitForArtifact(ctx, r.baseline, r.timeouts.Download)
	if err != nil {
		return err
	}
	r.sess.Artifact = a

	nr := r.seq.Namer.Finalize(a.Path, r.sess.Timestamp.Value, r.sess.OutputDir)
	r.sess.Naming = nr
	if nr.Exhausted {
		r.warn("collision suffixes exhausted", "path", nr.Path)
	}
	if nr.RenameErr != nil {
		r.warn("downloaded file kept its original name", "error", nr.RenameErr)
	}
	return nil
}
