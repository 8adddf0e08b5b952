package extract

import (
	"context"
	"time"

	"github.com/IshaanNene/marketgrab/internal/parser"
	"github.com/IshaanNene/marketgrab/internal/types"
)

// Session is a loaded page the policy can interrogate. Implementations own
// the browser or connection; the policy only reads from them.
type Session interface {
	// Navigate loads url. Errors should be *types.NavigationError so the
	// policy can tell an unreachable host from a slow one.
	Navigate(ctx context.Context, url string, timeout time.Duration) (*types.Navigation, error)

	// Content returns the current serialized document.
	Content(ctx context.Context) (string, error)

	// WaitIdle blocks until the document has settled or timeout elapses.
	WaitIdle(ctx context.Context, timeout time.Duration) error

	// Document returns a queryable view of the current document.
	Document(ctx context.Context) (parser.Document, error)
}
