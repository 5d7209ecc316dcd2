package routes

import (
	"errors"
	"net/http"
	"time"

	"github.com/except-pass/telltale/internal/metrics"
	"github.com/except-pass/telltale/internal/queue"
	"github.com/except-pass/telltale/internal/server/middleware"
	"github.com/except-pass/telltale/pkg/logger"
	"github.com/except-pass/telltale/pkg/store"
	"github.com/except-pass/telltale/pkg/truthtable"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type truthTableBody struct {
	GraphID string `param:"id" validate:"required"`
	truthtable.GenerateOptions
	// Format is json (the default) or a rendering: text, csv, html, table.
	Format        string `json:"format"`
	OnlySurprises bool   `json:"only_surprises"`
}

func bindTruthTable(c echo.Context) (*truthTableBody, truthtable.Format, error) {
	data := new(truthTableBody)
	if err := c.Bind(data); err != nil {
		return nil, "", errors.New("invalid request body")
	}
	if err := c.Validate(data); err != nil {
		return nil, "", errors.New("invalid request params")
	}
	if data.Format == "" || data.Format == "json" {
		return data, "", nil
	}
	format, err := truthtable.ParseFormat(data.Format)
	if err != nil {
		return nil, "", err
	}
	return data, format, nil
}

// capOptions applies the server-wide case limit.
func capOptions(opts truthtable.GenerateOptions, limit int) truthtable.GenerateOptions {
	if limit > 0 && (opts.MaxCases <= 0 || opts.MaxCases > limit) {
		opts.MaxCases = limit
	}
	return opts
}

// RunTruthTableHandler generates and runs a truth table while the client
// waits. Runs are admitted through the server-wide semaphore; when it is
// exhausted the request is refused with 429.
func RunTruthTableHandler(c echo.Context) error {
	type truthTableResponse struct {
		Summary truthtable.Summary      `json:"summary"`
		Results []truthtable.CaseResult `json:"results"`
	}

	data, format, err := bindTruthTable(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	app := middleware.GetApp(c)
	ctx := c.Request().Context()
	table, err := store.LoadTable(ctx, app.Store, data.GraphID, app.Parallelism)
	if err != nil {
		return respondError(c, err)
	}
	cases, err := table.Generate(capOptions(data.GenerateOptions, app.MaxCases))
	if err != nil {
		return badRequest(c, err.Error())
	}

	if app.Runs != nil {
		if !app.Runs.TryAcquire(1) {
			return c.JSON(http.StatusTooManyRequests, errorResponse{Error: "Too many truth-table runs in progress"})
		}
		defer app.Runs.Release(1)
	}

	start := time.Now()
	done := metrics.RunStarted()
	results, err := table.Run(ctx, cases)
	done()
	if err != nil {
		metrics.ObserveRun(metrics.ModeSync, start, nil, err)
		logger.Warn("[Server] Truth-table run aborted", "graph_id", data.GraphID, "err", err)
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "Truth-table run aborted"})
	}
	summary := truthtable.Summarize(results)
	metrics.ObserveRun(metrics.ModeSync, start, &summary, nil)

	if format == "" {
		if data.OnlySurprises {
			results = onlySurprises(results)
		}
		return c.JSON(http.StatusOK, truthTableResponse{Summary: summary, Results: results})
	}

	report, err := truthtable.Render(results, format, data.OnlySurprises)
	if err != nil {
		return respondError(c, err)
	}
	return c.Blob(http.StatusOK, format.ContentType(), []byte(report))
}

func onlySurprises(results []truthtable.CaseResult) []truthtable.CaseResult {
	out := []truthtable.CaseResult{}
	for _, r := range results {
		if r.Surprise {
			out = append(out, r)
		}
	}
	return out
}

// QueueTruthTableHandler records a queued run and hands it to the worker.
func QueueTruthTableHandler(c echo.Context) error {
	data, format, err := bindTruthTable(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if format == "" {
		format = truthtable.FormatText
	}

	app := middleware.GetApp(c)
	if app.Queue == nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "Job queue is not configured"})
	}

	ctx := c.Request().Context()
	table, err := store.LoadTable(ctx, app.Store, data.GraphID, app.Parallelism)
	if err != nil {
		return respondError(c, err)
	}
	opts := capOptions(data.GenerateOptions, app.MaxCases)
	// Reject bad options now rather than in the worker.
	if _, err := table.Generate(opts); err != nil {
		return badRequest(c, err.Error())
	}

	id, err := gonanoid.New()
	if err != nil {
		return respondError(c, err)
	}
	run := &store.Run{
		ID:      id,
		GraphID: data.GraphID,
		Status:  store.RunQueued,
		Options: opts,
		Format:  format,
	}
	if err := app.Store.CreateRun(ctx, run); err != nil {
		return respondError(c, err)
	}
	if err := queue.PublishTruthTableJob(ctx, app.Queue, run); err != nil {
		logger.Error("[Server] Failed to queue truth-table job", "run_id", run.ID, "err", err)
		run.Status = store.RunFailed
		run.Error = "failed to queue job"
		_ = app.Store.UpdateRun(ctx, run)
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "Failed to queue job"})
	}

	logger.Info("[Server] Queued truth-table run", "run_id", run.ID, "graph_id", run.GraphID)
	return c.JSON(http.StatusAccepted, run)
}
