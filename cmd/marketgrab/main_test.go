package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/IshaanNene/marketgrab/internal/types"
)

const reportHTML = `<html><body><table id="price-report"><tbody>
<tr><td>Wheat</td><td>Red</td><td>45.23</td><td>48.75</td><td>47.50</td><td>46.82</td></tr>
<tr><td>Corn</td><td>Yellow</td><td>32.10</td><td>34.05</td><td>33.40</td><td>33.12</td></tr>
</tbody></table></body></html>`

func resetFlags() {
	cfgFile, verbose = "", false
	refDate, outputPath, outputType, baseURL, remoteURL = "", "", "", "", ""
	static, stealth, skipOnFail = false, false, false
	maxAttempts, backoff = 0, ""
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags()
	t.Cleanup(resetFlags)

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func quietConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "marketgrab.yaml")
	yaml := "logging:\n  level: error\n  output: " + filepath.Join(t.TempDir(), "marketgrab.log") + "\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestURLCommand(t *testing.T) {
	out, _, err := execute(t, "url", "--date", "2026-01-01", "--base-url", "https://prices.test/daily")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "https://prices.test/daily?") || !strings.Contains(out, "date=2025-12-31") {
		t.Errorf("unexpected url output %q", out)
	}

	if _, _, err := execute(t, "url", "--date", "01/01/2026"); err == nil {
		t.Error("expected error for malformed --date")
	}
}

func TestFetchCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/blocked" {
			http.Error(w, "Access Denied", http.StatusForbidden)
			return
		}
		fmt.Fprint(w, reportHTML)
	}))
	defer srv.Close()

	cfg := quietConfig(t)
	out := filepath.Join(t.TempDir(), "prices.csv")

	stdout, _, err := execute(t, "fetch", "-c", cfg, "--static", "--base-url", srv.URL+"/report", "-o", out, "--date", "2026-01-01")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(stdout, "Report 2025-12-31: 2 records") {
		t.Errorf("unexpected summary %q", stdout)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "Low,High,Last,Weight Avg\n45.23,48.75,47.50,46.82\n") {
		t.Errorf("unexpected csv %q", data)
	}

	blockedOut := filepath.Join(t.TempDir(), "blocked.csv")
	_, _, err = execute(t, "fetch", "-c", cfg, "--static", "--base-url", srv.URL+"/blocked", "-o", blockedOut)
	if !errors.Is(err, types.ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
	if exitCode(err) != 1 {
		t.Errorf("expected exit code 1, got %d", exitCode(err))
	}

	_, stderr, err := execute(t, "fetch", "-c", cfg, "--static", "--base-url", srv.URL+"/blocked", "-o", blockedOut, "--skip-on-fail")
	if err != nil {
		t.Fatalf("--skip-on-fail should swallow access denial, got %v", err)
	}
	if !strings.Contains(stderr, "report skipped") {
		t.Errorf("expected a warning, got %q", stderr)
	}
	if _, err := os.Stat(blockedOut); !os.IsNotExist(err) {
		t.Errorf("blocked fetch must not write output, stat err %v", err)
	}
}

func TestFetchRejectsBadBackoff(t *testing.T) {
	_, _, err := execute(t, "fetch", "-c", quietConfig(t), "--static", "--backoff", "soon")
	if err == nil || !strings.Contains(err.Error(), "--backoff") {
		t.Errorf("expected backoff error, got %v", err)
	}
}

func TestExitCode(t *testing.T) {
	cancelled := &types.ExtractionError{Kind: types.Cancelled, Err: context.Canceled}
	if got := exitCode(cancelled); got != 130 {
		t.Errorf("cancelled: got %d", got)
	}
	if got := exitCode(nil); got != 0 {
		t.Errorf("nil: got %d", got)
	}
}
