package routes

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/except-pass/telltale/internal/server/middleware"
	"github.com/except-pass/telltale/pkg/loader"
	"github.com/except-pass/telltale/pkg/logger"
	"github.com/except-pass/telltale/pkg/store"

	"github.com/labstack/echo/v4"
)

type graphParams struct {
	GraphID string `param:"id" validate:"required"`
}

func bindGraphParams(c echo.Context) (*graphParams, error) {
	params := new(graphParams)
	// Path only: handlers read the body themselves.
	if err := (&echo.DefaultBinder{}).BindPathParams(c, params); err != nil {
		return nil, err
	}
	if err := c.Validate(params); err != nil {
		return nil, err
	}
	return params, nil
}

// requestFormat picks YAML for yaml content types and JSON otherwise.
func requestFormat(c echo.Context) loader.DocumentFormat {
	if strings.Contains(c.Request().Header.Get(echo.HeaderContentType), "yaml") {
		return loader.FormatYAML
	}
	return loader.FormatJSON
}

func readBody(c echo.Context) ([]byte, error) {
	return io.ReadAll(c.Request().Body)
}

// parseFailure answers a body that could not be decoded.
func parseFailure(c echo.Context, err error) error {
	var docErr *loader.DocumentError
	if errors.As(err, &docErr) {
		return respondError(c, err)
	}
	return badRequest(c, err.Error())
}

func ListGraphsHandler(c echo.Context) error {
	app := middleware.GetApp(c)
	graphs, err := app.Store.ListGraphs(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, graphs)
}

// CreateGraphHandler stores an authoring document, JSON or YAML. A
// document carrying the id of an existing graph replaces it.
func CreateGraphHandler(c echo.Context) error {
	data, err := readBody(c)
	if err != nil {
		return badRequest(c, "Invalid request body")
	}
	doc, err := loader.ParseDocument(data, requestFormat(c))
	if err != nil {
		return parseFailure(c, err)
	}

	app := middleware.GetApp(c)
	g, err := app.Store.SaveGraph(c.Request().Context(), doc)
	if err != nil {
		return respondError(c, err)
	}

	name := doc.Name
	if name == "" {
		name = g.ID
	}
	logger.Info("[Server] Stored graph", "graph_id", g.ID, "relationships", len(g.Relationships))
	return c.JSON(http.StatusCreated, store.Summarize(g, name, doc.Description))
}

// GetGraphHandler returns a stored graph in its authoring form.
func GetGraphHandler(c echo.Context) error {
	params, err := bindGraphParams(c)
	if err != nil {
		return badRequest(c, "Invalid request params")
	}

	app := middleware.GetApp(c)
	ctx := c.Request().Context()
	g, err := app.Store.GetGraph(ctx, params.GraphID)
	if err != nil {
		return respondError(c, err)
	}
	expectations, err := app.Store.GetExpectations(ctx, params.GraphID)
	if err != nil {
		return respondError(c, err)
	}

	doc := loader.FromGraph(g)
	doc.Expectations = loader.FromExpectations(expectations)
	return c.JSON(http.StatusOK, doc)
}

func DeleteGraphHandler(c echo.Context) error {
	params, err := bindGraphParams(c)
	if err != nil {
		return badRequest(c, "Invalid request params")
	}

	app := middleware.GetApp(c)
	if err := app.Store.DeleteGraph(c.Request().Context(), params.GraphID); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
