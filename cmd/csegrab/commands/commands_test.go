package commands

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/jmylchreest/csegrab/internal/output"
)

// --- Text Report Tests ---

func TestWriteText_Success(t *testing.T) {
	buf := &bytes.Buffer{}
	r := output.Report{
		OK:         true,
		State:      "done",
		AsOf:       output.AsOf{Value: "2025-07-31_14-47-42"},
		File:       &output.File{Name: "cse_trade_summary_2025-07-31_14-47-42_001.csv", Path: "/data/x.csv", Size: "2.0 kB", Renamed: true, Suffixed: true},
		DurationMs: 1500,
	}
	if err := writeText(buf, r); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{
		"Saved cse_trade_summary_2025-07-31_14-47-42_001.csv (2.0 kB)",
		"suffix added",
		"As of:  2025-07-31_14-47-42 (page)",
		"Took:   1.5s",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteText_Failure(t *testing.T) {
	buf := &bytes.Buffer{}
	r := output.Report{
		State: "failed",
		Error: "export control not found",
		AsOf:  output.AsOf{Value: "2025-08-01_09-30-15", Recovered: true, Reason: "marker_missing"},
	}
	if err := writeText(buf, r); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "Download failed: export control not found") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "(clock, marker_missing)") {
		t.Errorf("expected clock source:\n%s", out)
	}
}

// --- Version Command Tests ---

func TestVersionCommandJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"version", "-o", "json"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	var info map[string]any
	if err := json.Unmarshal(buf.Bytes(), &info); err != nil {
		t.Fatalf("invalid JSON %q: %v", buf.String(), err)
	}
	if _, ok := info["go_version"]; !ok {
		t.Errorf("missing go_version: %v", info)
	}
}

func TestFetchFlagsBound(t *testing.T) {
	for flag := range fetchBindings {
		if fetchCmd.Flags().Lookup(flag) == nil {
			t.Errorf("binding for undefined flag %q", flag)
		}
	}
}
