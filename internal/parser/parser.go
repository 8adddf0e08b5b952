// Package parser locates the price table in a rendered document and turns
// its rows into records.
package parser

import (
	"context"
	"strings"
)

// CellSelector matches the data cells of a row, for both <table> markup and
// ARIA grid renderings.
const CellSelector = `td, [role="cell"], [role="gridcell"]`

// RawRow is the cell text of one rendered row, untrimmed.
type RawRow []string

// Document is a loaded page that selectors can be evaluated against. It may
// be a parsed tree in this process or a live page in a browser.
type Document interface {
	// Count returns how many elements match selector.
	Count(ctx context.Context, selector string) (int, error)

	// Rows returns the cell texts of every element matching selector,
	// in document order.
	Rows(ctx context.Context, selector string) ([]RawRow, error)
}

// IsXPath reports whether selector is an XPath expression rather than CSS.
func IsXPath(selector string) bool {
	s := strings.TrimSpace(selector)
	return strings.HasPrefix(s, "/") || strings.HasPrefix(s, "(")
}
