package routes

import (
	"net/http"

	"github.com/except-pass/telltale/internal/server/middleware"
	"github.com/except-pass/telltale/pkg/truthtable"

	"github.com/labstack/echo/v4"
)

type runParams struct {
	RunID string `param:"id" validate:"required"`
}

func GetRunHandler(c echo.Context) error {
	params := new(runParams)
	if err := c.Bind(params); err != nil {
		return badRequest(c, "Invalid request params")
	}
	if err := c.Validate(params); err != nil {
		return badRequest(c, "Invalid request params")
	}

	app := middleware.GetApp(c)
	run, err := app.Store.GetRun(c.Request().Context(), params.RunID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// GetRunReportHandler streams the rendered report of a completed run.
func GetRunReportHandler(c echo.Context) error {
	params := new(runParams)
	if err := c.Bind(params); err != nil {
		return badRequest(c, "Invalid request params")
	}
	if err := c.Validate(params); err != nil {
		return badRequest(c, "Invalid request params")
	}

	app := middleware.GetApp(c)
	ctx := c.Request().Context()
	run, err := app.Store.GetRun(ctx, params.RunID)
	if err != nil {
		return respondError(c, err)
	}
	if app.Reports == nil || run.ReportKey == "" {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "Run has no stored report"})
	}

	report, err := app.Reports.GetReport(ctx, run.ReportKey)
	if err != nil {
		return respondError(c, err)
	}
	format := run.Format
	if format == "" {
		format = truthtable.FormatText
	}
	return c.Blob(http.StatusOK, format.ContentType(), report)
}
