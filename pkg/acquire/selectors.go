package acquire

import (
	"github.com/jmylchreest/csegrab/pkg/locator"
)

// DefaultURL is the trade summary page.
const DefaultURL = "https://www.cse.lk/pages/trade-summary/trade-summary.component.html"

// AllRowsValue is the page-length option that shows every row.
const AllRowsValue = "-1"

// Selectors groups the locator strategies for each page target.
type Selectors struct {
	PageLength  locator.Strategy
	Label       locator.Strategy
	MenuTrigger locator.Strategy
	CSVAction   locator.Strategy
	// Rows counts table rows while waiting for the table to settle.
	Rows string
	// LabelCSS is tried against the HTML snapshot when the live label
	// lookup fails.
	LabelCSS string
}

var exportMenuFallback = locator.XPath("any-menu-action", "//div[contains(@class, 'dropdown-menu')]//a")

// DefaultSelectors returns the strategies for the trade summary page.
func DefaultSelectors() Selectors {
	return Selectors{
		PageLength: locator.Strategy{
			Target: "page-length control",
			Candidates: []locator.Candidate{
				locator.CSS("by-name", "select[name=DataTables_Table_0_length]"),
				locator.CSS("by-suffix", "select[name$='_length']"),
				locator.CSS("in-length-wrapper", ".dataTables_length select"),
			},
		},
		Label: locator.Strategy{
			Target: "as-of label",
			Candidates: []locator.Candidate{
				locator.CSS("by-class", ".updated-time"),
				locator.XPath("by-text", "//*[contains(translate(text(), 'asof', 'ASOF'), 'AS OF')]"),
			},
		},
		MenuTrigger: locator.Strategy{
			Target: "export menu trigger",
			Candidates: []locator.Candidate{
				locator.CSS("by-id", "#dropdownMenu2"),
				locator.CSS("by-toggle", "[data-toggle=dropdown], [data-bs-toggle=dropdown]"),
				locator.XPath("by-text", "//button[contains(., 'Download') or contains(., 'Export')]"),
			},
		},
		CSVAction: locator.Strategy{
			Target: "csv export action",
			Candidates: []locator.Candidate{
				locator.XPath("link-text", "//a[contains(text(), 'CSV')]"),
				locator.XPath("link-text-lower", "//a[contains(text(), 'csv')]"),
				locator.XPath("link-class", "//a[contains(@class, 'csv')]"),
				locator.XPath("button-text", "//button[contains(text(), 'CSV')]"),
				locator.XPath("button-text-lower", "//button[contains(text(), 'csv')]"),
				locator.XPath("list-item", "//li[contains(text(), 'CSV')]//a"),
				locator.XPath("menu-link-text", "//div[contains(@class, 'dropdown-menu')]//a[contains(text(), 'CSV')]"),
			},
			Fallback: &exportMenuFallback,
		},
		Rows:     "table.dataTable tbody tr, #DataTables_Table_0 tbody tr",
		LabelCSS: ".updated-time",
	}
}
