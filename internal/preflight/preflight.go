// Package preflight checks that the trade summary page is reachable over
// plain HTTP before a browser is started.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/jmylchreest/csegrab/internal/logger"
	"github.com/jmylchreest/csegrab/internal/version"
	"github.com/jmylchreest/csegrab/pkg/acquire"
)

// ErrUnreachable is returned when the page cannot be fetched or answers
// with an error status.
var ErrUnreachable = errors.New("trade summary page unreachable")

// DefaultTimeout bounds the probe request.
const DefaultTimeout = 15 * time.Second

// Result describes what the probe saw.
type Result struct {
	URL        string
	StatusCode int
	Title      string
	// Label is the "as of" text if the server rendered it. The live page
	// renders it client-side, so an empty Label is not a failure.
	Label    string
	Bytes    int
	Duration time.Duration
}

// Probe issues one GET request.
type Probe struct {
	UserAgent string
	Timeout   time.Duration
}

// Check fetches url and reports ErrUnreachable on transport errors and
// non-2xx answers.
func (p Probe) Check(ctx context.Context, url string) (Result, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ua := p.UserAgent
	if ua == "" {
		ua = "Mozilla/5.0 (compatible; " + version.UserAgentComment() + ")"
	}

	res := Result{URL: url}
	start := time.Now()

	c := colly.NewCollector(
		colly.UserAgent(ua),
		colly.StdlibContext(ctx),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(timeout)

	var fetchErr error
	c.OnHTML("title", func(e *colly.HTMLElement) {
		if res.Title == "" {
			res.Title = strings.TrimSpace(e.Text)
		}
	})
	c.OnResponse(func(r *colly.Response) {
		res.StatusCode = r.StatusCode
		res.Bytes = len(r.Body)
		if label, ok := acquire.LabelFromHTML(string(r.Body), acquire.DefaultSelectors().LabelCSS); ok {
			res.Label = label
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			res.StatusCode = r.StatusCode
		}
		fetchErr = err
	})

	logger.Debug("preflight request", "url", url, "timeout", timeout)
	visitErr := c.Visit(url)
	res.Duration = time.Since(start)

	if fetchErr == nil {
		fetchErr = visitErr
	}
	if fetchErr != nil {
		if res.StatusCode != 0 {
			return res, fmt.Errorf("%w: %s answered %d %s", ErrUnreachable, url, res.StatusCode, http.StatusText(res.StatusCode))
		}
		return res, fmt.Errorf("%w: %v", ErrUnreachable, fetchErr)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return res, fmt.Errorf("%w: %s answered %d %s", ErrUnreachable, url, res.StatusCode, http.StatusText(res.StatusCode))
	}

	logger.Info("preflight ok",
		"url", url,
		"status", res.StatusCode,
		"title", res.Title,
		"elapsed", res.Duration.Round(time.Millisecond))
	return res, nil
}
