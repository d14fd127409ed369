package naming

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const canonical = "2025-07-31_14-47-42"

// writeFile creates dir/name with the given content.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

// --- DesiredName Tests ---

func TestDesiredName_Default(t *testing.T) {
	got := Namer{}.DesiredName(canonical)
	if got != "cse_trade_summary_2025-07-31_14-47-42.csv" {
		t.Errorf("unexpected desired name %q", got)
	}
}

func TestDesiredName_CustomPrefix(t *testing.T) {
	got := Namer{Prefix: "market", Extension: ".txt"}.DesiredName("x")
	if got != "market_x.txt" {
		t.Errorf("unexpected desired name %q", got)
	}
}

// --- Finalize Tests ---

func TestFinalize_FreeName(t *testing.T) {
	dir := t.TempDir()
	artifact := writeFile(t, dir, "Trade Summary.csv", "a,b\n")

	res := Namer{}.Finalize(artifact, canonical, dir)

	want := filepath.Join(dir, "cse_trade_summary_2025-07-31_14-47-42.csv")
	if res.Path != want {
		t.Fatalf("expected %s, got %s", want, res.Path)
	}
	if !res.Renamed() || res.Attempts != 0 || res.Exhausted {
		t.Errorf("unexpected result %+v", res)
	}
	if readFile(t, want) != "a,b\n" {
		t.Error("content not preserved by rename")
	}
	if _, err := os.Stat(artifact); !os.IsNotExist(err) {
		t.Error("original artifact should be gone after rename")
	}
}

func TestFinalize_DesiredExists_UsesFirstSuffix(t *testing.T) {
	dir := t.TempDir()
	existing := writeFile(t, dir, "cse_trade_summary_2025-07-31_14-47-42.csv", "old")
	artifact := writeFile(t, dir, "download.csv", "new")

	res := Namer{}.Finalize(artifact, canonical, dir)

	if filepath.Base(res.Path) != "cse_trade_summary_2025-07-31_14-47-42_001.csv" {
		t.Fatalf("unexpected final name %s", filepath.Base(res.Path))
	}
	if res.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", res.Attempts)
	}
	if readFile(t, existing) != "old" {
		t.Error("existing file must not be overwritten")
	}
	if readFile(t, res.Path) != "new" {
		t.Error("new content missing")
	}
}

func TestFinalize_RepeatedCallsAreInjective(t *testing.T) {
	dir := t.TempDir()
	n := Namer{}

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		artifact := writeFile(t, dir, fmt.Sprintf("dl-%d.csv", i), fmt.Sprintf("run %d", i))
		res := n.Finalize(artifact, canonical, dir)
		if !res.Renamed() {
			t.Fatalf("run %d: unexpected rename error %v", i, res.RenameErr)
		}
		if seen[res.Path] {
			t.Fatalf("run %d: reused name %s", i, res.Path)
		}
		seen[res.Path] = true
		if readFile(t, res.Path) != fmt.Sprintf("run %d", i) {
			t.Errorf("run %d: content mismatch", i)
		}
	}

	for _, name := range []string{
		"cse_trade_summary_2025-07-31_14-47-42.csv",
		"cse_trade_summary_2025-07-31_14-47-42_001.csv",
		"cse_trade_summary_2025-07-31_14-47-42_002.csv",
		"cse_trade_summary_2025-07-31_14-47-42_003.csv",
		"cse_trade_summary_2025-07-31_14-47-42_004.csv",
	} {
		if !seen[filepath.Join(dir, name)] {
			t.Errorf("expected %s to be produced", name)
		}
	}
}

func TestFinalize_ThirdCallAfterTwoSuffixes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "cse_trade_summary_2025-07-31_14-47-42.csv", "0")
	writeFile(t, dir, "cse_trade_summary_2025-07-31_14-47-42_001.csv", "1")
	writeFile(t, dir, "cse_trade_summary_2025-07-31_14-47-42_002.csv", "2")
	artifact := writeFile(t, dir, "x.csv", "3")

	res := Namer{}.Finalize(artifact, canonical, dir)
	if filepath.Base(res.Path) != "cse_trade_summary_2025-07-31_14-47-42_003.csv" {
		t.Errorf("expected _003, got %s", filepath.Base(res.Path))
	}
}

func TestFinalize_CounterExhausted_UsesMicrosecondSuffix(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "cse_trade_summary_"+canonical+".csv", "")
	for i := 1; i <= MaxAttempts; i++ {
		writeFile(t, dir, fmt.Sprintf("cse_trade_summary_%s_%03d.csv", canonical, i), "")
	}
	artifact := writeFile(t, dir, "late.csv", "late")

	now := time.Date(2025, 8, 1, 9, 30, 15, 123456789, time.UTC)
	res := Namer{Now: func() time.Time { return now }}.Finalize(artifact, canonical, dir)

	if !res.Exhausted {
		t.Fatal("expected Exhausted to be set")
	}
	want := "cse_trade_summary_2025-07-31_14-47-42_20250801_093015_123456.csv"
	if filepath.Base(res.Path) != want {
		t.Errorf("expected %s, got %s", want, filepath.Base(res.Path))
	}
	if readFile(t, res.Path) != "late" {
		t.Error("content mismatch after exhausted rename")
	}
}

func TestFinalize_RenameFailure_KeepsOriginal(t *testing.T) {
	dir := t.TempDir()
	artifact := writeFile(t, dir, "download.csv", "data")

	n := Namer{rename: func(_, _ string) error {
		return errors.New("invalid cross-device link")
	}}
	res := n.Finalize(artifact, canonical, dir)

	if res.Renamed() {
		t.Fatal("expected rename failure to be reported")
	}
	if res.Path != artifact {
		t.Errorf("expected original path %s, got %s", artifact, res.Path)
	}
	if !strings.Contains(res.RenameErr.Error(), "cross-device") {
		t.Errorf("unexpected error %v", res.RenameErr)
	}
	if readFile(t, artifact) != "data" {
		t.Error("artifact must be kept on rename failure")
	}
}

func TestFinalize_AlreadyNamed_NoOp(t *testing.T) {
	dir := t.TempDir()
	artifact := writeFile(t, dir, "cse_trade_summary_"+canonical+".csv", "same")

	res := Namer{}.Finalize(artifact, canonical, dir)
	if res.Path != artifact || res.Attempts != 0 {
		t.Errorf("expected no-op finalize, got %+v", res)
	}
}
