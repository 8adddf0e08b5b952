// Package source builds the report URL for a reference date.
package source

import (
	"fmt"
	"net/url"
	"time"

	"github.com/IshaanNene/marketgrab/internal/config"
)

// DateLayout is the ISO-8601 calendar date format of the date parameter.
const DateLayout = "2006-01-02"

// Builder derives report URLs from a reference instant.
type Builder struct {
	base      *url.URL
	dateParam string
	dayOffset int
	params    map[string]string
}

// NewBuilder validates the base URL once so that URL never fails.
func NewBuilder(cfg config.SourceConfig) (*Builder, error) {
	if err := config.ValidateURL(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("source base url: %w", err)
	}
	u, _ := url.Parse(cfg.BaseURL)
	dateParam := cfg.DateParam
	if dateParam == "" {
		dateParam = "date"
	}
	params := make(map[string]string, len(cfg.Params))
	for k, v := range cfg.Params {
		params[k] = v
	}
	return &Builder{
		base:      u,
		dateParam: dateParam,
		dayOffset: cfg.DayOffset,
		params:    params,
	}, nil
}

// ReportDate returns the UTC calendar date the report covers.
func (b *Builder) ReportDate(ref time.Time) string {
	return ref.UTC().AddDate(0, 0, b.dayOffset).Format(DateLayout)
}

// URL returns the report URL for ref. Query parameters already present on
// the base URL are kept; the static params and the date override them.
func (b *Builder) URL(ref time.Time) string {
	u := *b.base
	q := u.Query()
	for k, v := range b.params {
		q.Set(k, v)
	}
	q.Set(b.dateParam, b.ReportDate(ref))
	u.RawQuery = q.Encode()
	return u.String()
}
