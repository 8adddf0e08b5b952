package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/IshaanNene/marketgrab/internal/config"
	"github.com/IshaanNene/marketgrab/internal/extract"
	"github.com/IshaanNene/marketgrab/internal/types"
)

// Browser tests need a local Chromium; set MARKETGRAB_BROWSER=1 to run them.
func newBrowser(t *testing.T) *BrowserSession {
	t.Helper()
	if testing.Short() || os.Getenv("MARKETGRAB_BROWSER") == "" {
		t.Skip("set MARKETGRAB_BROWSER=1 to run browser tests")
	}
	cfg := config.DefaultConfig().Browser
	cfg.QuietPeriod = 200 * time.Millisecond
	bs, err := NewBrowserSession(context.Background(), cfg, testLogger)
	if err != nil {
		t.Fatalf("browser: %v", err)
	}
	t.Cleanup(func() { _ = bs.Close() })
	return bs
}

// Rows are appended by script after load, as on the live report page.
const scriptedHTML = `<html><body>
<table id="price-report"><tbody></tbody></table>
<script>
setTimeout(() => {
	const body = document.querySelector("#price-report tbody");
	body.innerHTML = "<tr><td>Wheat</td><td>Red</td><td>45.23</td><td>48.75</td><td>47.50</td><td>46.82</td></tr>";
}, 100);
</script>
</body></html>`

func TestBrowserSessionPolicy(t *testing.T) {
	bs := newBrowser(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/denied":
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, "<h1>nope</h1>")
		case "/scripted":
			fmt.Fprint(w, scriptedHTML)
		default:
			fmt.Fprint(w, reportHTML)
		}
	}))
	defer srv.Close()

	cfg := config.DefaultConfig().Extract
	cfg.RetryBackoff = 100 * time.Millisecond
	cfg.ReadyTimeout = 10 * time.Second
	policy := extract.NewPolicy(cfg, testLogger)
	ctx := context.Background()

	res, err := policy.Run(ctx, bs, srv.URL+"/report")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Records) != 6 || res.Navigation.StatusCode != 200 {
		t.Errorf("got %d records, status %d", len(res.Records), res.Navigation.StatusCode)
	}

	res, err = policy.Run(ctx, bs, srv.URL+"/scripted")
	if err != nil {
		t.Fatalf("scripted run: %v", err)
	}
	if len(res.Records) != 1 || res.Records[0].Low != "45.23" {
		t.Errorf("scripted rows: %+v", res.Records)
	}

	_, err = policy.Run(ctx, bs, srv.URL+"/denied")
	var ee *types.ExtractionError
	if !errors.As(err, &ee) || ee.Kind != types.AccessDenied || ee.StatusCode != 403 {
		t.Errorf("expected access denied with 403, got %v", err)
	}
}

func TestBrowserSessionXPathAndInvalidSelectors(t *testing.T) {
	bs := newBrowser(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, reportHTML)
	}))
	defer srv.Close()

	ctx := context.Background()
	if _, err := bs.Navigate(ctx, srv.URL, 10*time.Second); err != nil {
		t.Fatal(err)
	}
	doc, err := bs.Document(ctx)
	if err != nil {
		t.Fatal(err)
	}

	rows, err := doc.Rows(ctx, "//table[@id='price-report']//tbody/tr")
	if err != nil || len(rows) != 6 || len(rows[0]) != 6 {
		t.Fatalf("xpath rows: %v, %v", rows, err)
	}
	if _, err := doc.Count(ctx, "tr[["); err == nil {
		t.Error("expected error for invalid css selector")
	}
}

func TestBrowserSessionUnreachable(t *testing.T) {
	bs := newBrowser(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := bs.Navigate(context.Background(), url, 10*time.Second)
	var ne *types.NavigationError
	if !errors.As(err, &ne) || !ne.Unreachable {
		t.Errorf("expected unreachable navigation, got %v", err)
	}
}

func TestBrowserSessionFailedNavigationsReleaseEvents(t *testing.T) {
	bs := newBrowser(t)
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	ctx := context.Background()
	_, _ = bs.Navigate(ctx, deadURL, 10*time.Second)
	time.Sleep(100 * time.Millisecond)
	baseline := runtime.NumGoroutine()

	for i := 0; i < 10; i++ {
		if _, err := bs.Navigate(ctx, deadURL, 10*time.Second); err == nil {
			t.Fatal("expected navigation to a closed port to fail")
		}
	}
	time.Sleep(100 * time.Millisecond)
	if grown := runtime.NumGoroutine() - baseline; grown >= 10 {
		t.Errorf("goroutines grew by %d over 10 failed navigations", grown)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>ok</body></html>")
	}))
	defer srv.Close()
	nav, err := bs.Navigate(ctx, srv.URL, 10*time.Second)
	if err != nil || nav.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after failures, got %v, %v", nav, err)
	}
}
