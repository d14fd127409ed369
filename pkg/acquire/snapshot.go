package acquire

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const labelMarker = "AS OF"

// LabelFromHTML finds the "as of" label in a serialised document. It tries
// css first, then the innermost element whose text carries the marker.
func LabelFromHTML(html, css string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}

	if css != "" {
		if text := strings.TrimSpace(doc.Find(css).First().Text()); text != "" {
			return text, true
		}
	}

	var label string
	doc.Find("body *").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !hasMarker(s) {
			return true
		}
		if s.Find("*").FilterFunction(func(_ int, c *goquery.Selection) bool {
			return hasMarker(c)
		}).Length() > 0 {
			return true
		}
		label = strings.TrimSpace(s.Text())
		return false
	})
	return label, label != ""
}

func hasMarker(s *goquery.Selection) bool {
	if goquery.NodeName(s) == "script" || goquery.NodeName(s) == "style" {
		return false
	}
	return strings.Contains(strings.ToUpper(s.Text()), labelMarker)
}
