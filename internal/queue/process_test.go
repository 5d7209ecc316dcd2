package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/except-pass/telltale/pkg/leaselock"
	"github.com/except-pass/telltale/pkg/loader"
	"github.com/except-pass/telltale/pkg/store"
	"github.com/except-pass/telltale/pkg/store/memory"
	"github.com/except-pass/telltale/pkg/truthtable"
)

type fakeReports struct {
	reports map[string]string
	err     error
}

func (f *fakeReports) PutReport(ctx context.Context, graphID, runID string, format truthtable.Format, report []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	key := graphID + "/" + runID + "." + string(format)
	f.reports[key] = string(report)
	return key, nil
}

func setupProcessor(t *testing.T) (*Processor, *memory.MemoryStorage, *fakeChannel, *fakeReports) {
	t.Helper()
	s := memory.NewMemoryStorage()
	doc, err := loader.Example("speaker")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.SaveGraph(context.Background(), doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ch := newFakeChannel()
	reports := &fakeReports{reports: map[string]string{}}
	p := &Processor{
		Store:       s,
		Locker:      leaselock.NewLocal(),
		Reports:     reports,
		Events:      ch,
		Parallelism: 2,
	}
	return p, s, ch, reports
}

func queueRun(t *testing.T, s store.GraphStorage, run *store.Run) []byte {
	t.Helper()
	if err := s.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, err := json.Marshal(TruthTableJob{RunID: run.ID, GraphID: run.GraphID, Options: run.Options, Format: run.Format})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return body
}

func TestProcessTruthTableMessage(t *testing.T) {
	ctx := context.Background()
	p, s, ch, reports := setupProcessor(t)

	body := queueRun(t, s, &store.Run{
		ID:      "r1",
		GraphID: "speaker",
		Status:  store.RunQueued,
		Options: truthtable.GenerateOptions{
			VaryObservations:  []string{"No Music"},
			FixedSensorValues: map[string]float64{"battery_voltage": 3.5, "switch_status": 1},
		},
		Format: truthtable.FormatCSV,
	})

	if err := p.ProcessTruthTableMessage(ctx, body); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	run, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != store.RunCompleted || run.FinishedAt == nil {
		t.Fatalf("expected completed run, got %+v", run)
	}
	if run.Summary == nil || run.Summary.Total != 2 || len(run.Results) != 2 {
		t.Fatalf("expected 2 cases, got %+v", run.Summary)
	}
	if run.Summary.Verified != 1 {
		t.Fatalf("expected the dead-battery expectation verified, got %+v", run.Summary)
	}
	if run.ReportKey != "speaker/r1.csv" || !strings.Contains(reports.reports[run.ReportKey], "No Music") {
		t.Fatalf("expected csv report stored, got %q", run.ReportKey)
	}

	if len(ch.published) != 1 || ch.published[0].key != CompletedTopic {
		t.Fatalf("expected one completion event, got %+v", ch.published)
	}
}

func TestProcessTruthTableMessageSkipsFinishedRun(t *testing.T) {
	ctx := context.Background()
	p, s, ch, _ := setupProcessor(t)
	body := queueRun(t, s, &store.Run{ID: "r1", GraphID: "speaker", Status: store.RunCompleted})

	if err := p.ProcessTruthTableMessage(ctx, body); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(ch.published) != 0 {
		t.Fatalf("expected no events for a finished run")
	}
}

func TestProcessTruthTableMessagePermanentFailures(t *testing.T) {
	tests := []struct {
		name    string
		options truthtable.GenerateOptions
		errText string
	}{
		{
			name:    "unknown observation",
			options: truthtable.GenerateOptions{VaryObservations: []string{"Smoke"}},
			errText: "Smoke",
		},
		{
			name:    "too many cases",
			options: truthtable.GenerateOptions{MaxCases: 1},
			errText: "cases",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			p, s, ch, _ := setupProcessor(t)
			body := queueRun(t, s, &store.Run{ID: "r1", GraphID: "speaker", Status: store.RunQueued, Options: tt.options})

			if err := p.ProcessTruthTableMessage(ctx, body); err != nil {
				t.Fatalf("expected failure to be recorded, got %v", err)
			}
			run, _ := s.GetRun(ctx, "r1")
			if run.Status != store.RunFailed || !strings.Contains(run.Error, tt.errText) {
				t.Fatalf("expected failed run mentioning %q, got %+v", tt.errText, run)
			}
			if len(ch.published) != 1 {
				t.Fatalf("expected a completion event for the failed run")
			}
		})
	}
}

func TestProcessTruthTableMessageRetriesUploadFailure(t *testing.T) {
	ctx := context.Background()
	p, s, _, reports := setupProcessor(t)
	reports.err = errors.New("bucket unavailable")
	body := queueRun(t, s, &store.Run{ID: "r1", GraphID: "speaker", Status: store.RunQueued, Format: truthtable.FormatText})

	if err := p.ProcessTruthTableMessage(ctx, body); !errors.Is(err, reports.err) {
		t.Fatalf("expected upload error, got %v", err)
	}
	run, _ := s.GetRun(ctx, "r1")
	if run.Status != store.RunRunning {
		t.Fatalf("expected run left running for the retry, got %s", run.Status)
	}
}

func TestProcessTruthTableMessageBusyGraph(t *testing.T) {
	ctx := context.Background()
	p, s, _, _ := setupProcessor(t)
	body := queueRun(t, s, &store.Run{ID: "r1", GraphID: "speaker", Status: store.RunQueued})

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = p.Locker.WithRunLease(ctx, leaselock.Run{GraphID: "speaker", ID: "r0"}, leaselock.Options{}, func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	err := p.ProcessTruthTableMessage(ctx, body)
	var busy *leaselock.BusyError
	if !errors.As(err, &busy) || !errors.Is(err, leaselock.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if busy.HeldBy != "r0" {
		t.Fatalf("expected graph held by r0, got %q", busy.HeldBy)
	}
}

func TestProcessTruthTableMessageIgnoresJunk(t *testing.T) {
	p, _, _, _ := setupProcessor(t)
	if err := p.ProcessTruthTableMessage(context.Background(), []byte("not json")); err != nil {
		t.Fatalf("expected malformed job to be dropped, got %v", err)
	}
	if err := p.ProcessTruthTableMessage(context.Background(), []byte(`{"run_id":"missing"}`)); err != nil {
		t.Fatalf("expected unknown run to be skipped, got %v", err)
	}
}

func TestFail(t *testing.T) {
	ctx := context.Background()
	p, s, _, _ := setupProcessor(t)
	body := queueRun(t, s, &store.Run{ID: "r1", GraphID: "speaker", Status: store.RunRunning})

	if err := p.Fail(ctx, body, errors.New("retries exhausted")); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	run, _ := s.GetRun(ctx, "r1")
	if run.Status != store.RunFailed || run.Error != "retries exhausted" {
		t.Fatalf("expected failed run, got %+v", run)
	}
}
