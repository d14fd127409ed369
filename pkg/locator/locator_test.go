package locator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakePage answers lookups from a table keyed by candidate name. Entries in
// appearAfter become visible only after that many lookups of the candidate.
type fakePage struct {
	mu          sync.Mutex
	visible     map[string]Element
	appearAfter map[string]int
	failing     map[string]error
	calls       map[string]int
	order       []string
}

func newFakePage() *fakePage {
	return &fakePage{
		visible:     make(map[string]Element),
		appearAfter: make(map[string]int),
		failing:     make(map[string]error),
		calls:       make(map[string]int),
	}
}

func (p *fakePage) Lookup(_ context.Context, c Candidate) (Element, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[c.Name]++
	p.order = append(p.order, c.Name)
	if err, ok := p.failing[c.Name]; ok {
		return Element{}, false, err
	}
	el, ok := p.visible[c.Name]
	if !ok {
		return Element{}, false, nil
	}
	if p.calls[c.Name] <= p.appearAfter[c.Name] {
		return Element{}, false, nil
	}
	return el, true, nil
}

func fastResolver() Resolver {
	return Resolver{CandidateTimeout: 30 * time.Millisecond, PollInterval: 5 * time.Millisecond}
}

func strategyABC() Strategy {
	return Strategy{
		Target: "csv export",
		Candidates: []Candidate{
			XPath("A", "//a[text()='Export CSV']"),
			XPath("B", "//a[contains(text(),'CSV')]"),
			XPath("C", "//a[contains(text(),'csv')]"),
		},
	}
}

// --- Resolve Tests ---

func TestResolve_EarlierCandidateWins(t *testing.T) {
	p := newFakePage()
	p.visible["B"] = Element{ID: 2, Text: "CSV"}
	p.visible["C"] = Element{ID: 3, Text: "Export CSV file"}

	el, err := fastResolver().Resolve(context.Background(), strategyABC(), p)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if el.Candidate.Name != "B" || el.ID != 2 {
		t.Errorf("expected element from B, got %+v", el)
	}
	if p.calls["C"] != 0 {
		t.Errorf("C should never be evaluated once B matched, got %d calls", p.calls["C"])
	}
}

func TestResolve_PollsCandidateUntilVisible(t *testing.T) {
	p := newFakePage()
	p.visible["A"] = Element{ID: 1}
	p.appearAfter["A"] = 3
	p.visible["B"] = Element{ID: 2}

	el, err := fastResolver().Resolve(context.Background(), strategyABC(), p)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if el.Candidate.Name != "A" {
		t.Errorf("expected A after polling, got %s", el.Candidate.Name)
	}
	if p.calls["A"] != 4 {
		t.Errorf("expected 4 lookups of A, got %d", p.calls["A"])
	}
}

func TestResolve_EachCandidateExhaustsBeforeNext(t *testing.T) {
	p := newFakePage()
	p.visible["C"] = Element{ID: 3}

	if _, err := fastResolver().Resolve(context.Background(), strategyABC(), p); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if p.calls["A"] < 2 || p.calls["B"] < 2 {
		t.Errorf("expected A and B to be polled repeatedly, got A=%d B=%d", p.calls["A"], p.calls["B"])
	}
	// Order must be A..., B..., C.
	seen := strings.Join(p.order, "")
	if strings.Index(seen, "B") < strings.LastIndex(seen, "A") || strings.Index(seen, "C") < strings.LastIndex(seen, "B") {
		t.Errorf("candidates evaluated out of order: %s", seen)
	}
}

func TestResolve_FallbackAfterCandidates(t *testing.T) {
	p := newFakePage()
	p.visible["any menu item"] = Element{ID: 9, Text: "Excel"}

	s := strategyABC()
	fb := XPath("any menu item", "//div[contains(@class,'dropdown-menu')]//a")
	s.Fallback = &fb

	el, err := fastResolver().Resolve(context.Background(), s, p)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if el.Candidate.Name != "any menu item" {
		t.Errorf("expected fallback candidate, got %s", el.Candidate.Name)
	}
	for _, name := range []string{"A", "B", "C"} {
		if p.calls[name] == 0 {
			t.Errorf("candidate %s should be tried before the fallback", name)
		}
	}
}

func TestResolve_FallbackNotUsedWhenCandidateMatches(t *testing.T) {
	p := newFakePage()
	p.visible["C"] = Element{ID: 3}
	p.visible["fb"] = Element{ID: 9}

	s := strategyABC()
	fb := CSS("fb", ".dropdown-menu a")
	s.Fallback = &fb

	el, err := fastResolver().Resolve(context.Background(), s, p)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if el.Candidate.Name != "C" || p.calls["fb"] != 0 {
		t.Errorf("expected C without touching fallback, got %s (fb calls %d)", el.Candidate.Name, p.calls["fb"])
	}
}

func TestResolve_NotFound(t *testing.T) {
	p := newFakePage()
	s := strategyABC()
	fb := CSS("fb", ".dropdown-menu a")
	s.Fallback = &fb

	_, err := fastResolver().Resolve(context.Background(), s, p)
	if !errors.Is(err, ErrElementNotFound) {
		t.Fatalf("expected ErrElementNotFound, got %v", err)
	}
	var nf *ElementNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected *ElementNotFoundError, got %T", err)
	}
	if nf.Target != "csv export" || strings.Join(nf.Tried, ",") != "A,B,C,fb" {
		t.Errorf("unexpected error details %+v", nf)
	}
}

func TestResolve_LookupErrorsCountAsNoMatch(t *testing.T) {
	p := newFakePage()
	p.failing["A"] = errors.New("node detached")
	p.visible["B"] = Element{ID: 2}

	el, err := fastResolver().Resolve(context.Background(), strategyABC(), p)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if el.Candidate.Name != "B" {
		t.Errorf("expected B, got %s", el.Candidate.Name)
	}
}

func TestResolve_ContextCancelled(t *testing.T) {
	p := newFakePage()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Resolver{CandidateTimeout: time.Second}.Resolve(ctx, strategyABC(), p)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if p.calls["B"] != 0 {
		t.Error("resolver should stop at the first candidate once cancelled")
	}
}

func TestResolve_StrategyWaitOverridesDefault(t *testing.T) {
	p := newFakePage()
	p.visible["A"] = Element{ID: 1}
	p.appearAfter["A"] = 8

	s := strategyABC()
	s.Wait = time.Second

	el, err := Resolver{CandidateTimeout: time.Millisecond, PollInterval: 2 * time.Millisecond}.Resolve(context.Background(), s, p)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if el.Candidate.Name != "A" {
		t.Errorf("expected A with extended wait, got %s", el.Candidate.Name)
	}
}

func TestResolve_DoesNotMutateCandidates(t *testing.T) {
	p := newFakePage()
	s := strategyABC()
	s.Candidates = s.Candidates[:2:3]
	fb := CSS("fb", "a")
	s.Fallback = &fb

	_, _ = fastResolver().Resolve(context.Background(), s, p)
	full := s.Candidates[:3]
	if full[2].Name != "C" {
		t.Errorf("fallback must not be appended into the caller's backing array, got %s", full[2].Name)
	}
}

// --- Candidate Tests ---

func TestCandidate_String(t *testing.T) {
	c := CSS("page length", "select[name=x]")
	if c.String() != "page length(css select[name=x])" {
		t.Errorf("unexpected String() %q", c.String())
	}
}
