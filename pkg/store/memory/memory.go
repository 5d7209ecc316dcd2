package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/except-pass/telltale/pkg/common"
	"github.com/except-pass/telltale/pkg/loader"
	"github.com/except-pass/telltale/pkg/store"
	"github.com/except-pass/telltale/pkg/truthtable"
)

type graphRecord struct {
	graph        *common.Graph
	summary      store.GraphSummary
	expectations []truthtable.Expectation
}

// MemoryStorage keeps graphs and runs in process memory. It is used by
// the CLI and by servers started without a database.
type MemoryStorage struct {
	mu     sync.RWMutex
	graphs map[string]*graphRecord
	runs   map[string]store.Run
	now    func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		graphs: make(map[string]*graphRecord),
		runs:   make(map[string]store.Run),
		now:    time.Now,
	}
}

func (s *MemoryStorage) SaveGraph(ctx context.Context, doc *loader.GraphDocument) (*common.Graph, error) {
	g, stored, expectations, err := store.PrepareDocument(doc)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	summary := store.Summarize(g, stored.Name, stored.Description)
	summary.CreatedAt, summary.UpdatedAt = now, now
	if prev, ok := s.graphs[g.ID]; ok {
		summary.CreatedAt = prev.summary.CreatedAt
	}
	s.graphs[g.ID] = &graphRecord{graph: g, summary: summary, expectations: expectations}
	return g, nil
}

func (s *MemoryStorage) GetGraph(ctx context.Context, id string) (*common.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.graphs[id]
	if !ok {
		return nil, fmt.Errorf("graph %q: %w", id, store.ErrNotFound)
	}
	return rec.graph, nil
}

func (s *MemoryStorage) ListGraphs(ctx context.Context) ([]store.GraphSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.GraphSummary, 0, len(s.graphs))
	for _, rec := range s.graphs {
		out = append(out, rec.summary)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStorage) DeleteGraph(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphs[id]; !ok {
		return fmt.Errorf("graph %q: %w", id, store.ErrNotFound)
	}
	delete(s.graphs, id)
	for runID, r := range s.runs {
		if r.GraphID == id {
			delete(s.runs, runID)
		}
	}
	return nil
}

func (s *MemoryStorage) AddExpectations(ctx context.Context, graphID string, list []truthtable.Expectation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.graphs[graphID]
	if !ok {
		return fmt.Errorf("graph %q: %w", graphID, store.ErrNotFound)
	}
	rec.expectations = append(rec.expectations, list...)
	return nil
}

func (s *MemoryStorage) GetExpectations(ctx context.Context, graphID string) ([]truthtable.Expectation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.graphs[graphID]
	if !ok {
		return nil, fmt.Errorf("graph %q: %w", graphID, store.ErrNotFound)
	}
	return slices.Clone(rec.expectations), nil
}

func (s *MemoryStorage) CreateRun(ctx context.Context, run *store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphs[run.GraphID]; !ok {
		return fmt.Errorf("graph %q: %w", run.GraphID, store.ErrNotFound)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now()
	}
	s.runs[run.ID] = *run
	return nil
}

func (s *MemoryStorage) UpdateRun(ctx context.Context, run *store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return fmt.Errorf("run %q: %w", run.ID, store.ErrNotFound)
	}
	s.runs[run.ID] = *run
	return nil
}

func (s *MemoryStorage) GetRun(ctx context.Context, id string) (*store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %q: %w", id, store.ErrNotFound)
	}
	return &r, nil
}
