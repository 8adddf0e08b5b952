package parser

import (
	"bytes"
	"context"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// HTMLDocument is a Document backed by a parsed HTML tree. CSS selectors go
// through goquery, XPath selectors through htmlquery, over the same nodes.
type HTMLDocument struct {
	root *html.Node
	doc  *goquery.Document
}

// NewHTMLDocument parses body once for both selector engines.
func NewHTMLDocument(body []byte) (*HTMLDocument, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &HTMLDocument{
		root: root,
		doc:  goquery.NewDocumentFromNode(root),
	}, nil
}

// Count implements Document.
func (d *HTMLDocument) Count(_ context.Context, selector string) (int, error) {
	sel, err := d.find(selector)
	if err != nil {
		return 0, err
	}
	return sel.Length(), nil
}

// Rows implements Document.
func (d *HTMLDocument) Rows(_ context.Context, selector string) ([]RawRow, error) {
	sel, err := d.find(selector)
	if err != nil {
		return nil, err
	}

	rows := make([]RawRow, 0, sel.Length())
	sel.Each(func(_ int, row *goquery.Selection) {
		cells := row.Find(CellSelector)
		raw := make(RawRow, 0, cells.Length())
		cells.Each(func(_ int, c *goquery.Selection) {
			raw = append(raw, c.Text())
		})
		rows = append(rows, raw)
	})
	return rows, nil
}

func (d *HTMLDocument) find(selector string) (*goquery.Selection, error) {
	if IsXPath(selector) {
		nodes, err := htmlquery.QueryAll(d.root, selector)
		if err != nil {
			return nil, fmt.Errorf("invalid xpath %q: %w", selector, err)
		}
		return d.doc.FindNodes(nodes...), nil
	}

	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid css selector %q: %w", selector, err)
	}
	return d.doc.FindMatcher(m), nil
}
