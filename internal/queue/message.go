package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/except-pass/telltale/pkg/store"
	"github.com/except-pass/telltale/pkg/truthtable"
)

// TruthTableJob asks a worker to execute a queued run.
type TruthTableJob struct {
	RunID   string                     `json:"run_id"`
	GraphID string                     `json:"graph_id"`
	Options truthtable.GenerateOptions `json:"options"`
	Format  truthtable.Format          `json:"format"`
}

// CompletedEvent is published on CompletedTopic when a run finishes.
type CompletedEvent struct {
	RunID     string              `json:"run_id"`
	GraphID   string              `json:"graph_id"`
	Status    store.RunStatus     `json:"status"`
	Summary   *truthtable.Summary `json:"summary,omitempty"`
	ReportKey string              `json:"report_key,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// PublishTruthTableJob queues a run for the worker.
func PublishTruthTableJob(ctx context.Context, ch Channel, run *store.Run) error {
	data, err := json.Marshal(TruthTableJob{
		RunID:   run.ID,
		GraphID: run.GraphID,
		Options: run.Options,
		Format:  run.Format,
	})
	if err != nil {
		return fmt.Errorf("failed to encode truth-table job: %w", err)
	}
	return PublishFIFO(ctx, ch, TruthTableQueue, data)
}

// PublishCompleted announces a finished run.
func PublishCompleted(ctx context.Context, ch Channel, run *store.Run) error {
	data, err := json.Marshal(CompletedEvent{
		RunID:     run.ID,
		GraphID:   run.GraphID,
		Status:    run.Status,
		Summary:   run.Summary,
		ReportKey: run.ReportKey,
		Error:     run.Error,
	})
	if err != nil {
		return fmt.Errorf("failed to encode completion event: %w", err)
	}
	return PublishTopic(ctx, ch, CompletedTopic, data)
}
