package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/except-pass/telltale/pkg/diagnostic"
	"github.com/except-pass/telltale/pkg/truthtable"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveCallOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome string
	}{
		{name: "ok", err: nil, outcome: "ok"},
		{name: "unknown input", err: &diagnostic.UnknownInputError{Kind: "observation", Name: "x"}, outcome: "unknown_input"},
		{name: "invalid state", err: &diagnostic.InvalidStateError{Observation: "x", State: "yes"}, outcome: "unknown_input"},
		{name: "other error", err: errors.New("boom"), outcome: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := diagnosticCalls.WithLabelValues("test_"+tt.name, tt.outcome)
			before := testutil.ToFloat64(counter)
			ObserveCall("test_"+tt.name, time.Now(), 0, tt.err)
			if got := testutil.ToFloat64(counter); got != before+1 {
				t.Fatalf("expected %v, got %v", before+1, got)
			}
		})
	}
}

func TestObserveCallWarnings(t *testing.T) {
	counter := configurationWarnings.WithLabelValues("test_warnings")
	before := testutil.ToFloat64(counter)
	ObserveCall("test_warnings", time.Now(), 3, nil)
	if got := testutil.ToFloat64(counter); got != before+3 {
		t.Fatalf("expected %v, got %v", before+3, got)
	}
}

func TestObserveRun(t *testing.T) {
	surprises := truthTableCases.WithLabelValues(string(truthtable.StatusSurprise))
	failed := truthTableRuns.WithLabelValues(ModeSync, "failed")
	beforeSurprises := testutil.ToFloat64(surprises)
	beforeFailed := testutil.ToFloat64(failed)

	ObserveRun(ModeAsync, time.Now(), &truthtable.Summary{Total: 4, Verified: 2, Surprises: 2}, nil)
	ObserveRun(ModeSync, time.Now(), nil, errors.New("boom"))

	if got := testutil.ToFloat64(surprises); got != beforeSurprises+2 {
		t.Fatalf("expected %v surprises, got %v", beforeSurprises+2, got)
	}
	if got := testutil.ToFloat64(failed); got != beforeFailed+1 {
		t.Fatalf("expected %v failed runs, got %v", beforeFailed+1, got)
	}
}

func TestRunStarted(t *testing.T) {
	before := testutil.ToFloat64(activeRuns)
	done := RunStarted()
	if got := testutil.ToFloat64(activeRuns); got != before+1 {
		t.Fatalf("expected %v, got %v", before+1, got)
	}
	done()
	if got := testutil.ToFloat64(activeRuns); got != before {
		t.Fatalf("expected %v, got %v", before, got)
	}
}

func TestHandler(t *testing.T) {
	ObserveCall("diagnose", time.Now(), 0, nil)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "telltale_engine_calls_total") {
		t.Fatalf("expected engine counter in output")
	}
}
