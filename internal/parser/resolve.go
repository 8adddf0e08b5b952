package parser

import (
	"context"
	"fmt"

	"github.com/IshaanNene/marketgrab/internal/types"
)

// Resolve returns the first candidate that matches at least one element.
// Candidates are probed strictly in order and probing stops at the first
// match. A probe error counts as no match for that candidate.
func Resolve(ctx context.Context, doc Document, candidates []string) (string, error) {
	var lastErr error
	for _, sel := range candidates {
		n, err := doc.Count(ctx, sel)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			continue
		}
		if n > 0 {
			return sel, nil
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("%w (last probe error: %v)", types.ErrSelectorNotFound, lastErr)
	}
	return "", types.ErrSelectorNotFound
}
