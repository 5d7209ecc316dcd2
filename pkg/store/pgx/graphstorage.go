package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/except-pass/telltale/pkg/common"
	"github.com/except-pass/telltale/pkg/loader"
	"github.com/except-pass/telltale/pkg/logger"
	"github.com/except-pass/telltale/pkg/store"
	"github.com/except-pass/telltale/pkg/truthtable"
	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBStorage implements store.GraphStorage on PostgreSQL. Graph
// documents, expectations and run results are kept as JSONB.
type GraphDBStorage struct {
	conn pgxIConn
}

// NewGraphDBStorageWithConnection creates a GraphDBStorage on an existing
// connection or pool.
func NewGraphDBStorageWithConnection(conn pgxIConn) *GraphDBStorage {
	return &GraphDBStorage{conn: conn}
}

func (s *GraphDBStorage) SaveGraph(ctx context.Context, doc *loader.GraphDocument) (*common.Graph, error) {
	g, stored, expectations, err := store.PrepareDocument(doc)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to encode graph document: %w", err)
	}
	summary := store.Summarize(g, stored.Name, stored.Description)

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, upsertGraphSQL,
		g.ID, summary.Name, summary.Description, body,
		summary.FailureModes, summary.Observations, summary.Sensors, summary.Relationships,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save graph %s: %w", g.ID, err)
	}
	if _, err := tx.Exec(ctx, deleteExpectationsSQL, g.ID); err != nil {
		return nil, fmt.Errorf("failed to reset expectations of %s: %w", g.ID, err)
	}
	if err := insertExpectations(ctx, tx, g.ID, expectations); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	logger.Debug("[Store] Saved graph", "graph_id", g.ID, "entities", len(g.Entities), "relationships", len(g.Relationships), "expectations", len(expectations))
	return g, nil
}

func (s *GraphDBStorage) GetGraph(ctx context.Context, id string) (*common.Graph, error) {
	var body []byte
	err := s.conn.QueryRow(ctx, getGraphSQL, id).Scan(&body)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return nil, fmt.Errorf("graph %q: %w", id, store.ErrNotFound)
		}
		return nil, err
	}
	var doc loader.GraphDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode graph %s: %w", id, err)
	}
	return doc.Build()
}

func (s *GraphDBStorage) ListGraphs(ctx context.Context) ([]store.GraphSummary, error) {
	rows, err := s.conn.Query(ctx, listGraphsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []store.GraphSummary{}
	for rows.Next() {
		var gs store.GraphSummary
		if err := rows.Scan(
			&gs.ID, &gs.Name, &gs.Description,
			&gs.FailureModes, &gs.Observations, &gs.Sensors, &gs.Relationships,
			&gs.CreatedAt, &gs.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, gs)
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) DeleteGraph(ctx context.Context, id string) error {
	tag, err := s.conn.Exec(ctx, deleteGraphSQL, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("graph %q: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *GraphDBStorage) AddExpectations(ctx context.Context, graphID string, list []truthtable.Expectation) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, graphExistsSQL, graphID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("graph %q: %w", graphID, store.ErrNotFound)
	}
	if err := insertExpectations(ctx, tx, graphID, list); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertExpectations(ctx context.Context, tx pgxv5.Tx, graphID string, list []truthtable.Expectation) error {
	if len(list) == 0 {
		return nil
	}
	batch := &pgxv5.Batch{}
	for _, e := range list {
		inputs, err := json.Marshal(e.Inputs)
		if err != nil {
			return err
		}
		expected, err := json.Marshal(e.Expected)
		if err != nil {
			return err
		}
		batch.Queue(insertExpectationSQL, graphID, e.Inputs.Key(), inputs, expected)
	}
	br := tx.SendBatch(ctx, batch)
	for range list {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to insert expectation: %w", err)
		}
	}
	return br.Close()
}

func (s *GraphDBStorage) GetExpectations(ctx context.Context, graphID string) ([]truthtable.Expectation, error) {
	var exists bool
	if err := s.conn.QueryRow(ctx, graphExistsSQL, graphID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("graph %q: %w", graphID, store.ErrNotFound)
	}

	rows, err := s.conn.Query(ctx, getExpectationsSQL, graphID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []truthtable.Expectation{}
	for rows.Next() {
		var inputs, expected []byte
		if err := rows.Scan(&inputs, &expected); err != nil {
			return nil, err
		}
		var e truthtable.Expectation
		if err := json.Unmarshal(inputs, &e.Inputs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(expected, &e.Expected); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *GraphDBStorage) CreateRun(ctx context.Context, run *store.Run) error {
	options, err := json.Marshal(run.Options)
	if err != nil {
		return err
	}
	err = s.conn.QueryRow(ctx, insertRunSQL, run.ID, run.GraphID, string(run.Status), options, string(run.Format)).
		Scan(&run.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("graph %q: %w", run.GraphID, store.ErrNotFound)
		}
		return err
	}
	return nil
}

func (s *GraphDBStorage) UpdateRun(ctx context.Context, run *store.Run) error {
	var summary, results []byte
	var err error
	if run.Summary != nil {
		if summary, err = json.Marshal(run.Summary); err != nil {
			return err
		}
	}
	if run.Results != nil {
		if results, err = json.Marshal(run.Results); err != nil {
			return err
		}
	}
	tag, err := s.conn.Exec(ctx, updateRunSQL,
		run.ID, string(run.Status), summary, results, run.ReportKey, run.Error, run.FinishedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %q: %w", run.ID, store.ErrNotFound)
	}
	return nil
}

func (s *GraphDBStorage) GetRun(ctx context.Context, id string) (*store.Run, error) {
	var (
		run                       store.Run
		status, format            string
		options, summary, results []byte
	)
	err := s.conn.QueryRow(ctx, getRunSQL, id).Scan(
		&run.ID, &run.GraphID, &status, &options, &format, &summary, &results,
		&run.ReportKey, &run.Error, &run.CreatedAt, &run.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return nil, fmt.Errorf("run %q: %w", id, store.ErrNotFound)
		}
		return nil, err
	}
	run.Status = store.RunStatus(status)
	run.Format = truthtable.Format(format)
	if len(options) > 0 {
		if err := json.Unmarshal(options, &run.Options); err != nil {
			return nil, err
		}
	}
	if len(summary) > 0 {
		run.Summary = &truthtable.Summary{}
		if err := json.Unmarshal(summary, run.Summary); err != nil {
			return nil, err
		}
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &run.Results); err != nil {
			return nil, err
		}
	}
	return &run, nil
}
