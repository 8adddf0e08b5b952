package types

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestColumnMapMaxIndex(t *testing.T) {
	cm := ColumnMap{Low: 7, High: 1, Last: 3, WeightAvg: 2}
	if got := cm.MaxIndex(); got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
	if got := DefaultColumnMap().MaxIndex(); got != 5 {
		t.Errorf("expected default max index 5, got %d", got)
	}
	if err := (ColumnMap{Low: -1}).Validate(); err == nil {
		t.Error("expected negative column to fail validation")
	}
}

func TestExtractionErrorMatching(t *testing.T) {
	err := fmt.Errorf("job: %w", &ExtractionError{
		Kind:     RetryExhausted,
		State:    "validate",
		Attempts: 3,
		URL:      "https://example.com",
		Err:      ErrEmptyResult,
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Error("expected errors.Is to match ErrRetryExhausted")
	}
	if !errors.Is(err, ErrEmptyResult) {
		t.Error("expected errors.Is to reach the last cause")
	}
	if errors.Is(err, ErrAccessDenied) {
		t.Error("retry exhaustion must not match ErrAccessDenied")
	}
	if !strings.Contains(err.Error(), "3 attempts") {
		t.Errorf("expected message to name the attempt count, got %q", err.Error())
	}

	var ee *ExtractionError
	if !errors.As(err, &ee) || ee.Attempts != 3 {
		t.Fatalf("expected ExtractionError with 3 attempts, got %#v", ee)
	}
}

func TestSkippable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&ExtractionError{Kind: AccessDenied, StatusCode: 403}, true},
		{&ExtractionError{Kind: Unreachable}, true},
		{&ExtractionError{Kind: RetryExhausted}, true},
		{&ExtractionError{Kind: Cancelled, Err: context.Canceled}, false},
		{&StorageError{Backend: "csv", Err: ErrEmptySinkInput}, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := Skippable(tt.err); got != tt.want {
			t.Errorf("Skippable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRecordComplete(t *testing.T) {
	r := Record{Low: "1", High: "2", Last: "3", WeightAvg: "4"}
	if !r.Complete() {
		t.Error("expected complete record")
	}
	r.Last = ""
	if r.Complete() {
		t.Error("expected incomplete record")
	}
	if len(Header) != len(r.Values()) {
		t.Errorf("header and values disagree: %d vs %d", len(Header), len(r.Values()))
	}
}
