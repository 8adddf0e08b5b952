package fetcher

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/go-rod/rod"

	"github.com/IshaanNene/marketgrab/internal/types"
)

// Chromium net error codes that mean the host could not be contacted.
var unreachableReasons = []string{
	"ERR_NAME_NOT_RESOLVED",
	"ERR_NAME_RESOLUTION_FAILED",
	"ERR_CONNECTION_REFUSED",
	"ERR_ADDRESS_UNREACHABLE",
	"ERR_ADDRESS_INVALID",
	"ERR_INTERNET_DISCONNECTED",
	"ERR_NETWORK_CHANGED",
	"ERR_CONNECTION_TIMED_OUT",
	"ERR_PROXY_CONNECTION_FAILED",
	"ERR_TUNNEL_CONNECTION_FAILED",
}

// navigationError classifies a failed navigation so the extraction policy
// can decide between giving up and navigating again.
func navigationError(url string, err error) *types.NavigationError {
	ne := &types.NavigationError{URL: url, Err: err}

	var rodErr *rod.NavigationError
	switch {
	case errors.As(err, &rodErr):
		ne.Unreachable = isUnreachableReason(rodErr.Reason)
		ne.Transient = !ne.Unreachable
	case errors.Is(err, errRedirectLimit):
		ne.Transient = true
	case isUnreachable(err):
		ne.Unreachable = true
	case isTimeout(err):
		ne.Timeout = true
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		ne.Transient = true
	default:
		ne.Unreachable = true
	}
	return ne
}

func isUnreachableReason(reason string) bool {
	for _, r := range unreachableReasons {
		if strings.Contains(reason, r) {
			return true
		}
	}
	return false
}

// isUnreachable reports DNS failures and refused or unroutable connections.
func isUnreachable(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return !dnsErr.IsTimeout
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
