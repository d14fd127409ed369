package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/jmylchreest/csegrab/pkg/locator"
)

// Tab is the live page of a Handle. It implements locator.Page and the
// interaction surface used by the acquisition sequencer.
type Tab struct {
	ctx context.Context

	mu    sync.Mutex
	nodes map[int64]*cdp.Node
}

// nodeState is what the page reports about a candidate node.
type nodeState struct {
	Visible bool   `json:"visible"`
	Enabled bool   `json:"enabled"`
	Text    string `json:"text"`
}

const inspectNodeJS = `function() {
	const r = this.getBoundingClientRect();
	const s = window.getComputedStyle(this);
	const visible = r.width > 0 && r.height > 0 &&
		s.visibility !== 'hidden' && s.display !== 'none' && s.opacity !== '0';
	return {
		visible: visible,
		enabled: !this.disabled && this.getAttribute('aria-disabled') !== 'true',
		text: (this.innerText || this.textContent || '').trim()
	};
}`

const clickNodeJS = `function() {
	this.scrollIntoView({block: 'center'});
	this.click();
	return true;
}`

const selectValueJS = `function(value) {
	const opt = Array.from(this.options || []).find(o => o.value === value || o.text.trim() === value);
	if (!opt) {
		return this.value;
	}
	this.value = opt.value;
	this.dispatchEvent(new Event('input', {bubbles: true}));
	this.dispatchEvent(new Event('change', {bubbles: true}));
	return this.value;
}`

const readTextJS = `function() {
	return (this.innerText || this.textContent || '').trim();
}`

// run executes actions against the tab, bounded by ctx.
func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	tctx, cancel := t.bind(ctx)
	defer cancel()
	return chromedp.Run(tctx, actions...)
}

// bind derives a context carrying the tab's chromedp target that also ends
// with ctx. Cancelling it never closes the tab.
func (t *Tab) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	tctx, cancel := context.WithCancel(t.ctx)
	stop := context.AfterFunc(ctx, cancel)
	if dl, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		tctx, cancelDeadline = context.WithDeadline(tctx, dl)
		return tctx, func() {
			stop()
			cancelDeadline()
			cancel()
		}
	}
	return tctx, func() {
		stop()
		cancel()
	}
}

// Navigate loads url and waits for the document body.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	if err := t.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Lookup returns the first node matching c that is visible and enabled.
func (t *Tab) Lookup(ctx context.Context, c locator.Candidate) (locator.Element, bool, error) {
	by := chromedp.ByQueryAll
	if c.Kind == locator.ByXPath {
		by = chromedp.BySearch
	}

	var found locator.Element
	var ok bool
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var nodes []*cdp.Node
		if err := chromedp.Nodes(c.Expr, &nodes, by, chromedp.AtLeast(0)).Do(ctx); err != nil {
			return err
		}
		for _, n := range nodes {
			var st nodeState
			if err := callOnNode(ctx, n, inspectNodeJS, &st); err != nil {
				continue
			}
			if !st.Visible || !st.Enabled {
				continue
			}
			t.remember(n)
			found = locator.Element{ID: int64(n.NodeID), Text: st.Text}
			ok = true
			return nil
		}
		return nil
	}))
	if err != nil {
		return locator.Element{}, false, err
	}
	return found, ok, nil
}

// Activate clicks el by script, which also works for elements covered by
// overlays or rendered off-screen.
func (t *Tab) Activate(ctx context.Context, el locator.Element) error {
	n, err := t.node(el)
	if err != nil {
		return err
	}
	var res bool
	return t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return callOnNode(ctx, n, clickNodeJS, &res)
	}))
}

// SelectValue picks the option of the select el whose value or label is
// value, fires the change event and verifies the selection took.
func (t *Tab) SelectValue(ctx context.Context, el locator.Element, value string) error {
	n, err := t.node(el)
	if err != nil {
		return err
	}
	var got string
	if err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return callOnNode(ctx, n, selectValueJS, &got, value)
	})); err != nil {
		return err
	}
	if got != value {
		return fmt.Errorf("select %q: option not applied (value is %q)", value, got)
	}
	return nil
}

// ReadText returns the trimmed rendered text of el.
func (t *Tab) ReadText(ctx context.Context, el locator.Element) (string, error) {
	n, err := t.node(el)
	if err != nil {
		return "", err
	}
	var text string
	err = t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return callOnNode(ctx, n, readTextJS, &text)
	}))
	return text, err
}

// CountRows returns how many elements currently match the CSS selector.
func (t *Tab) CountRows(ctx context.Context, selector string) (int, error) {
	var n int
	expr := fmt.Sprintf(`document.querySelectorAll(%q).length`, selector)
	if err := t.run(ctx, chromedp.Evaluate(expr, &n)); err != nil {
		return 0, err
	}
	return n, nil
}

// HTML returns the serialised document.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	var html string
	if err := t.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// Screenshot captures the full page as PNG.
func (t *Tab) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := t.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

// callOnNode runs fn with this bound to n and decodes the result into res.
func callOnNode(ctx context.Context, n *cdp.Node, fn string, res any, args ...any) error {
	obj, err := dom.ResolveNode().WithBackendNodeID(n.BackendNodeID).Do(ctx)
	if err != nil {
		return err
	}
	// released on a best effort basis; fails once the page has navigated
	defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()

	return chromedp.CallFunctionOn(fn, res,
		func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
			return p.WithObjectID(obj.ObjectID)
		},
		args...,
	).Do(ctx)
}

func (t *Tab) remember(n *cdp.Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[int64(n.NodeID)] = n
}

func (t *Tab) node(el locator.Element) (*cdp.Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[el.ID]
	if !ok {
		return nil, fmt.Errorf("%w: node %d is not from this tab", locator.ErrElementNotFound, el.ID)
	}
	return n, nil
}
