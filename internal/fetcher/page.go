package fetcher

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"

	"github.com/IshaanNene/marketgrab/internal/parser"
)

const countJS = `(sel, xpath) => {
	if (xpath) {
		return document.evaluate(sel, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null).snapshotLength;
	}
	return document.querySelectorAll(sel).length;
}`

const rowsJS = `(sel, xpath, cells) => {
	let rows = [];
	if (xpath) {
		const r = document.evaluate(sel, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		for (let i = 0; i < r.snapshotLength; i++) {
			const n = r.snapshotItem(i);
			if (n.nodeType === Node.ELEMENT_NODE) rows.push(n);
		}
	} else {
		rows = Array.from(document.querySelectorAll(sel));
	}
	return rows.map(row => Array.from(row.querySelectorAll(cells)).map(c => c.textContent || ""));
}`

// PageDocument evaluates selectors inside a live page. Invalid selectors
// surface as evaluation errors.
type PageDocument struct {
	page *rod.Page
}

// NewPageDocument wraps an already loaded page.
func NewPageDocument(page *rod.Page) *PageDocument {
	return &PageDocument{page: page}
}

// Count returns the number of nodes matching selector.
func (d *PageDocument) Count(ctx context.Context, selector string) (int, error) {
	res, err := d.page.Context(ctx).Eval(countJS, selector, parser.IsXPath(selector))
	if err != nil {
		return 0, fmt.Errorf("count %q: %w", selector, err)
	}
	return res.Value.Int(), nil
}

// Rows returns the cell texts of every row matching selector.
func (d *PageDocument) Rows(ctx context.Context, selector string) ([]parser.RawRow, error) {
	res, err := d.page.Context(ctx).Eval(rowsJS, selector, parser.IsXPath(selector), parser.CellSelector)
	if err != nil {
		return nil, fmt.Errorf("rows %q: %w", selector, err)
	}
	var cells [][]string
	if err := res.Value.Unmarshal(&cells); err != nil {
		return nil, fmt.Errorf("decode rows %q: %w", selector, err)
	}
	rows := make([]parser.RawRow, len(cells))
	for i, c := range cells {
		rows[i] = parser.RawRow(c)
	}
	return rows, nil
}
