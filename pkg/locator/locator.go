// Package locator resolves an abstract UI target to a concrete, visible
// element using a ranked list of candidate queries.
//
// A Strategy is a priority list: the first candidate that yields a visible,
// interactable element wins, even when a later candidate would be a closer
// match. Each candidate is polled for a bounded time before the resolver
// moves on, and an optional catch-all Fallback is tried last.
package locator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmylchreest/csegrab/internal/logger"
)

// ErrElementNotFound is wrapped by every ElementNotFoundError.
var ErrElementNotFound = errors.New("element not found")

// Kind selects the query language of a Candidate.
type Kind int

const (
	ByCSS Kind = iota
	ByXPath
)

func (k Kind) String() string {
	if k == ByXPath {
		return "xpath"
	}
	return "css"
}

// Candidate is one independently testable match predicate.
type Candidate struct {
	Name string
	Kind Kind
	Expr string
}

// CSS builds a CSS selector candidate.
func CSS(name, expr string) Candidate {
	return Candidate{Name: name, Kind: ByCSS, Expr: expr}
}

// XPath builds an XPath candidate.
func XPath(name, expr string) Candidate {
	return Candidate{Name: name, Kind: ByXPath, Expr: expr}
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s(%s %s)", c.Name, c.Kind, c.Expr)
}

// Strategy is the ordered fallback chain for one logical target.
type Strategy struct {
	Target     string
	Candidates []Candidate
	// Fallback is tried only after every candidate has exhausted its wait.
	Fallback *Candidate
	// Wait overrides the resolver's per-candidate timeout when non-zero.
	Wait time.Duration
}

// Element is a matched, visible element. ID is an opaque page-specific
// handle (a DOM node id for the Chrome page).
type Element struct {
	Candidate Candidate
	ID        int64
	Text      string
}

// Page is a live document that can evaluate candidates.
type Page interface {
	// Lookup returns the first element matching c that is currently
	// visible and interactable. ok is false when nothing qualifies.
	Lookup(ctx context.Context, c Candidate) (el Element, ok bool, err error)
}

// ElementNotFoundError reports which candidates were tried for a target.
type ElementNotFoundError struct {
	Target string
	Tried  []string
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s (tried %s)", ErrElementNotFound, e.Target, strings.Join(e.Tried, ", "))
}

func (e *ElementNotFoundError) Unwrap() error {
	return ErrElementNotFound
}

// Default resolver timings.
const (
	DefaultCandidateTimeout = 2 * time.Second
	DefaultPollInterval     = 100 * time.Millisecond
)

// Resolver evaluates strategies against a page.
type Resolver struct {
	CandidateTimeout time.Duration
	PollInterval     time.Duration
}

// Resolve walks s.Candidates in order, polling each up to its timeout, then
// s.Fallback. Lookup errors count as no match.
func (r Resolver) Resolve(ctx context.Context, s Strategy, p Page) (Element, error) {
	wait := s.Wait
	if wait <= 0 {
		wait = r.CandidateTimeout
	}
	if wait <= 0 {
		wait = DefaultCandidateTimeout
	}

	chain := s.Candidates
	if s.Fallback != nil {
		chain = append(chain[:len(chain):len(chain)], *s.Fallback)
	}

	tried := make([]string, 0, len(chain))
	for i, c := range chain {
		el, ok, err := r.poll(ctx, c, p, wait)
		if err != nil {
			return Element{}, err
		}
		if ok {
			el.Candidate = c
			logger.Debug("locator resolved",
				"target", s.Target,
				"candidate", c.Name,
				"rank", i,
				"fallback", s.Fallback != nil && i == len(chain)-1)
			return el, nil
		}
		tried = append(tried, c.Name)
		logger.Debug("locator candidate exhausted", "target", s.Target, "candidate", c.Name, "wait", wait)
	}
	return Element{}, &ElementNotFoundError{Target: s.Target, Tried: tried}
}

// poll looks c up at least once and until wait elapses. It only returns an
// error when ctx is done.
func (r Resolver) poll(ctx context.Context, c Candidate, p Page, wait time.Duration) (Element, bool, error) {
	interval := r.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	deadline := time.Now().Add(wait)

	for {
		el, ok, err := p.Lookup(ctx, c)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Element{}, false, ctxErr
			}
			logger.Debug("locator lookup failed", "candidate", c.Name, "error", err)
		} else if ok {
			return el, true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Element{}, false, nil
		}
		select {
		case <-ctx.Done():
			return Element{}, false, ctx.Err()
		case <-time.After(min(interval, remaining)):
		}
	}
}
