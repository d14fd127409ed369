// Package timestamp turns the page's human-readable "as of" label into a
// canonical, sortable, filesystem-safe string.
package timestamp

import (
	"regexp"
	"strings"
	"time"
)

const (
	// LabelLayout is the date-time layout that follows the marker phrase,
	// e.g. "Jul 31, 2025, 2:47:42 PM".
	LabelLayout = "Jan 2, 2006, 3:04:05 PM"

	// CanonicalLayout renders instants as YYYY-MM-DD_HH-MM-SS.
	CanonicalLayout = "2006-01-02_15-04-05"
)

// Reasons reported on Result when the fallback clock value is used.
const (
	ReasonMarkerMissing = "marker phrase not found"
	ReasonParseFailed   = "date-time did not match layout"
)

var (
	markerPattern   = regexp.MustCompile(`(?i)\bAS\s+OF\s+(.+?)\s*$`)
	meridiemPattern = regexp.MustCompile(`(?i)\b(am|pm)\b`)
)

// Result is the outcome of one extraction. Recovered is set when Value was
// derived from the wall clock rather than from the label.
type Result struct {
	Raw       string
	Time      time.Time
	Value     string
	Recovered bool
	Reason    string
}

// Extractor parses "as of" labels. The zero value is ready to use.
type Extractor struct {
	// Now supplies the fallback instant. Defaults to time.Now.
	Now func() time.Time
	// Location is applied to parsed label times. Defaults to time.Local.
	Location *time.Location
}

// Extract never fails: when the marker is absent or the remainder does not
// parse, the current time is rendered instead and Recovered is set.
func (e Extractor) Extract(raw string) Result {
	res := Result{Raw: raw}

	text := strings.Join(strings.Fields(raw), " ")
	m := markerPattern.FindStringSubmatch(text)
	if m == nil {
		return e.fallback(res, ReasonMarkerMissing)
	}

	candidate := meridiemPattern.ReplaceAllStringFunc(m[1], strings.ToUpper)
	loc := e.Location
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(LabelLayout, candidate, loc)
	if err != nil {
		return e.fallback(res, ReasonParseFailed)
	}

	res.Time = t
	res.Value = Canonical(t)
	return res
}

func (e Extractor) fallback(res Result, reason string) Result {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	t := now()
	res.Time = t
	res.Value = Canonical(t)
	res.Recovered = true
	res.Reason = reason
	return res
}

// Canonical renders t in CanonicalLayout.
func Canonical(t time.Time) string {
	return t.Format(CanonicalLayout)
}
