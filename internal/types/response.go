package types

import (
	"net/http"
	"time"
)

// Navigation is the metadata of the main document response after loading
// the report page.
type Navigation struct {
	// URL is the requested URL.
	URL string

	// FinalURL is the URL after any redirects.
	FinalURL string

	// StatusCode is the HTTP status of the main document, 0 if unknown.
	StatusCode int

	// Headers are the main document response headers, when available.
	Headers http.Header

	// Duration is how long the navigation took.
	Duration time.Duration

	// FetchedAt is when the navigation finished.
	FetchedAt time.Time
}

// IsSuccess returns true if the response status is 2xx.
func (n *Navigation) IsSuccess() bool {
	return n.StatusCode >= 200 && n.StatusCode < 300
}

// IsForbidden returns true if the server answered 403.
func (n *Navigation) IsForbidden() bool {
	return n.StatusCode == http.StatusForbidden
}
