package output

import (
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/csegrab/internal/version"
	"github.com/jmylchreest/csegrab/pkg/acquire"
)

// Report is the machine-readable summary of one run.
type Report struct {
	Session    string   `json:"session" yaml:"session"`
	OK         bool     `json:"ok" yaml:"ok"`
	State      string   `json:"state" yaml:"state"`
	URL        string   `json:"url" yaml:"url"`
	AsOf       AsOf     `json:"as_of" yaml:"as_of"`
	File       *File    `json:"file,omitempty" yaml:"file,omitempty"`
	Warnings   []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Error      string   `json:"error,omitempty" yaml:"error,omitempty"`
	DurationMs int64    `json:"duration_ms" yaml:"duration_ms"`
	FinishedAt string   `json:"finished_at" yaml:"finished_at"`
	Version    string   `json:"version" yaml:"version"`
}

// AsOf is the page timestamp.
type AsOf struct {
	Label     string `json:"label,omitempty" yaml:"label,omitempty"`
	Value     string `json:"value,omitempty" yaml:"value,omitempty"`
	Recovered bool   `json:"recovered" yaml:"recovered"`
	Reason    string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// File describes the saved download.
type File struct {
	Name       string `json:"name" yaml:"name"`
	Path       string `json:"path" yaml:"path"`
	Downloaded string `json:"downloaded_as" yaml:"downloaded_as"`
	Bytes      int64  `json:"bytes" yaml:"bytes"`
	Size       string `json:"size" yaml:"size"`
	Renamed    bool   `json:"renamed" yaml:"renamed"`
	Suffixed   bool   `json:"suffixed,omitempty" yaml:"suffixed,omitempty"`
}

// NewReport builds the report for a finished run. finished is normally
// time.Now().
func NewReport(res acquire.Result, finished time.Time) Report {
	r := Report{
		Session:    res.SessionID,
		OK:         res.OK,
		State:      res.State.String(),
		URL:        res.URL,
		Warnings:   res.Warnings,
		DurationMs: res.Duration.Milliseconds(),
		FinishedAt: finished.UTC().Format(time.RFC3339),
		Version:    version.String(),
		AsOf: AsOf{
			Label:     res.Timestamp.Raw,
			Value:     res.Timestamp.Value,
			Recovered: res.Timestamp.Recovered,
			Reason:    res.Timestamp.Reason,
		},
	}
	if res.Err != nil {
		r.Error = res.Err.Error()
	}
	if res.Path != "" {
		r.File = &File{
			Name:       filepath.Base(res.Path),
			Path:       absolute(res.Path),
			Downloaded: res.Artifact.Name,
			Bytes:      res.Artifact.Size,
			Size:       humanize.Bytes(uint64(max(res.Artifact.Size, 0))),
			Renamed:    res.Naming.RenameErr == nil,
			Suffixed:   res.Naming.Attempts > 0 || res.Naming.Exhausted,
		}
	}
	return r
}

func absolute(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
