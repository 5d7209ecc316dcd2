package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/except-pass/telltale/pkg/common"
	"github.com/except-pass/telltale/pkg/diagnostic"
	"github.com/except-pass/telltale/pkg/loader"
	"github.com/except-pass/telltale/pkg/truthtable"
)

// ErrNotFound is returned when a graph or run does not exist.
var ErrNotFound = errors.New("not found")

// GraphSummary describes a stored graph without its content.
type GraphSummary struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	FailureModes  int       `json:"failure_modes"`
	Observations  int       `json:"observations"`
	Sensors       int       `json:"sensors"`
	Relationships int       `json:"relationships"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RunStatus is the lifecycle state of a truth-table run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run records one truth-table run over a stored graph.
type Run struct {
	ID         string                     `json:"id"`
	GraphID    string                     `json:"graph_id"`
	Status     RunStatus                  `json:"status"`
	Options    truthtable.GenerateOptions `json:"options"`
	Format     truthtable.Format          `json:"format,omitempty"`
	Summary    *truthtable.Summary        `json:"summary,omitempty"`
	Results    []truthtable.CaseResult    `json:"results,omitempty"`
	ReportKey  string                     `json:"report_key,omitempty"`
	Error      string                     `json:"error,omitempty"`
	CreatedAt  time.Time                  `json:"created_at"`
	FinishedAt *time.Time                 `json:"finished_at,omitempty"`
}

// GraphStorage persists graph snapshots, their expectations and the runs
// made against them.
type GraphStorage interface {
	// SaveGraph builds the document, assigns missing ids and stores it with
	// its inline expectations. A document carrying the id of an existing
	// graph replaces the graph and its expectations.
	SaveGraph(ctx context.Context, doc *loader.GraphDocument) (*common.Graph, error)
	GetGraph(ctx context.Context, id string) (*common.Graph, error)
	ListGraphs(ctx context.Context) ([]GraphSummary, error)
	DeleteGraph(ctx context.Context, id string) error

	// AddExpectations appends registrations for a graph. Callers validate
	// them against an ExpectationSet first.
	AddExpectations(ctx context.Context, graphID string, list []truthtable.Expectation) error
	GetExpectations(ctx context.Context, graphID string) ([]truthtable.Expectation, error)

	CreateRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
}

// Summarize counts the contents of a snapshot.
func Summarize(g *common.Graph, name, description string) GraphSummary {
	s := GraphSummary{ID: g.ID, Name: name, Description: description}
	for _, e := range g.Entities {
		switch e.Kind {
		case common.KindFailureMode:
			s.FailureModes++
		case common.KindObservation:
			s.Observations++
		case common.KindSensorReading:
			s.Sensors++
		}
	}
	s.Relationships = len(g.Relationships)
	return s
}

// PrepareDocument builds a document and returns the snapshot together with
// the normalised document to persist. Inline expectations are returned
// separately and dropped from the stored document.
func PrepareDocument(doc *loader.GraphDocument) (*common.Graph, *loader.GraphDocument, []truthtable.Expectation, error) {
	g, err := doc.Build()
	if err != nil {
		return nil, nil, nil, err
	}
	expectations, err := loader.ToExpectations(doc.Expectations)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := truthtable.NewExpectationSet().RegisterAll(expectations); err != nil {
		return nil, nil, nil, err
	}
	stored := loader.FromGraph(g)
	stored.Name = doc.Name
	stored.Description = doc.Description
	if stored.Name == "" {
		stored.Name = g.ID
	}
	return g, stored, expectations, nil
}

// LoadTable loads a stored snapshot with its expectations and returns a
// truth table ready to run.
func LoadTable(ctx context.Context, s GraphStorage, graphID string, parallelism int) (*truthtable.Table, error) {
	g, err := s.GetGraph(ctx, graphID)
	if err != nil {
		return nil, err
	}
	list, err := s.GetExpectations(ctx, graphID)
	if err != nil {
		return nil, fmt.Errorf("failed to load expectations: %w", err)
	}
	set := truthtable.NewExpectationSet()
	if err := set.RegisterAll(list); err != nil {
		return nil, err
	}
	return truthtable.New(diagnostic.NewEngine(g), truthtable.Options{
		Parallelism:  parallelism,
		Expectations: set,
	}), nil
}
