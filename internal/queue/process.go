package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/except-pass/telltale/internal/metrics"
	"github.com/except-pass/telltale/pkg/common"
	"github.com/except-pass/telltale/pkg/leaselock"
	"github.com/except-pass/telltale/pkg/logger"
	"github.com/except-pass/telltale/pkg/store"
	"github.com/except-pass/telltale/pkg/truthtable"
)

// ReportStore persists rendered reports and returns their key.
type ReportStore interface {
	PutReport(ctx context.Context, graphID, runID string, format truthtable.Format, report []byte) (string, error)
}

// Processor executes truth-table jobs taken off the queue.
type Processor struct {
	Store  store.GraphStorage
	Locker leaselock.Locker
	// Reports is optional; without it only the results are stored.
	Reports ReportStore
	// Events is optional; without it no completion event is published.
	Events Channel

	Parallelism int
	// MaxCases caps the product size of every job when positive.
	MaxCases int
	Lease    leaselock.Options
}

// DefaultLease does not wait for a busy graph: the message goes through
// the retry queue instead.
var DefaultLease = leaselock.Options{
	TTL:        2 * time.Minute,
	RenewEvery: 30 * time.Second,
}

// ProcessTruthTableMessage runs the job in body while holding the graph's
// run lease. Jobs that can never succeed mark the run failed and return
// nil. Any returned error means the message should be retried.
func (p *Processor) ProcessTruthTableMessage(ctx context.Context, body []byte) error {
	var job TruthTableJob
	if err := json.Unmarshal(body, &job); err != nil {
		logger.Error("[Queue] Dropping malformed truth-table job", "err", err)
		return nil
	}

	run, err := p.Store.GetRun(ctx, job.RunID)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("[Queue] Run no longer exists, skipping", "run_id", job.RunID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", job.RunID, err)
	}
	if run.Status == store.RunCompleted || run.Status == store.RunFailed {
		logger.Info("[Queue] Run already finished, skipping", "run_id", run.ID, "status", run.Status)
		return nil
	}

	lease := p.Lease
	if lease.TTL == 0 {
		lease = DefaultLease
	}
	owner := leaselock.Run{GraphID: run.GraphID, ID: run.ID}
	return p.Locker.WithRunLease(ctx, owner, lease, func(ctx context.Context) error {
		return p.execute(ctx, run)
	})
}

// Fail marks the run in body failed. It is called once a message has been
// dead-lettered.
func (p *Processor) Fail(ctx context.Context, body []byte, cause error) error {
	var job TruthTableJob
	if err := json.Unmarshal(body, &job); err != nil {
		return nil
	}
	run, err := p.Store.GetRun(ctx, job.RunID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	return p.finish(ctx, run, cause)
}

func (p *Processor) execute(ctx context.Context, run *store.Run) error {
	start := time.Now()
	done := metrics.RunStarted()
	defer done()

	logger.Info("[Queue] Running truth table", "run_id", run.ID, "graph_id", run.GraphID)

	run.Status = store.RunRunning
	if err := p.Store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("failed to mark run running: %w", err)
	}

	table, err := store.LoadTable(ctx, p.Store, run.GraphID, p.Parallelism)
	if err != nil {
		if permanent(err) {
			metrics.ObserveRun(metrics.ModeAsync, start, nil, err)
			return p.finish(ctx, run, err)
		}
		return err
	}

	opts := run.Options
	if p.MaxCases > 0 && (opts.MaxCases <= 0 || opts.MaxCases > p.MaxCases) {
		opts.MaxCases = p.MaxCases
	}
	cases, err := table.Generate(opts)
	if err != nil {
		metrics.ObserveRun(metrics.ModeAsync, start, nil, err)
		return p.finish(ctx, run, err)
	}

	results, err := table.Run(ctx, cases)
	if err != nil {
		return fmt.Errorf("truth-table run interrupted: %w", err)
	}
	summary := truthtable.Summarize(results)
	run.Summary = &summary
	run.Results = results

	if p.Reports != nil {
		report, err := truthtable.Render(results, run.Format, false)
		if err != nil {
			metrics.ObserveRun(metrics.ModeAsync, start, nil, err)
			return p.finish(ctx, run, err)
		}
		key, err := p.Reports.PutReport(ctx, run.GraphID, run.ID, run.Format, []byte(report))
		if err != nil {
			return err
		}
		run.ReportKey = key
	}

	metrics.ObserveRun(metrics.ModeAsync, start, &summary, nil)
	return p.finish(ctx, run, nil)
}

// finish stores the final state of a run and announces it.
func (p *Processor) finish(ctx context.Context, run *store.Run, cause error) error {
	now := time.Now().UTC()
	run.FinishedAt = &now
	run.Status = store.RunCompleted
	if cause != nil {
		run.Status = store.RunFailed
		run.Error = cause.Error()
		logger.Error("[Queue] Truth-table run failed", "run_id", run.ID, "graph_id", run.GraphID, "err", cause)
	} else {
		logger.Info("[Queue] Truth-table run completed", "run_id", run.ID, "graph_id", run.GraphID, "cases", run.Summary.Total, "surprises", run.Summary.Surprises)
	}

	if err := p.Store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("failed to store run %s: %w", run.ID, err)
	}

	if p.Events != nil {
		if err := PublishCompleted(ctx, p.Events, run); err != nil {
			logger.Warn("[Queue] Failed to publish completion event", "run_id", run.ID, "err", err)
		}
	}
	return nil
}

// permanent reports errors a retry cannot fix.
func permanent(err error) bool {
	var ambiguous *truthtable.AmbiguousExpectationError
	var graphErr *common.GraphError
	return errors.Is(err, store.ErrNotFound) || errors.As(err, &ambiguous) || errors.As(err, &graphErr)
}
