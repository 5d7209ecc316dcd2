package routes

import (
	"net/http"

	"github.com/except-pass/telltale/internal/server/middleware"
	"github.com/except-pass/telltale/pkg/loader"
	"github.com/except-pass/telltale/pkg/logger"
	"github.com/except-pass/telltale/pkg/truthtable"

	"github.com/labstack/echo/v4"
)

func GetExpectationsHandler(c echo.Context) error {
	params, err := bindGraphParams(c)
	if err != nil {
		return badRequest(c, "Invalid request params")
	}

	app := middleware.GetApp(c)
	ctx := c.Request().Context()
	if _, err := app.Store.GetGraph(ctx, params.GraphID); err != nil {
		return respondError(c, err)
	}
	list, err := app.Store.GetExpectations(ctx, params.GraphID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, loader.ExpectationsDocument{
		GraphID:      params.GraphID,
		Expectations: loader.FromExpectations(list),
	})
}

// AddExpectationsHandler registers expected outcomes for a graph. The body
// is an expectation document or a bare list of entries. A vector that is
// already registered with a different expected set is rejected with 422.
func AddExpectationsHandler(c echo.Context) error {
	type addExpectationsResponse struct {
		Registered int `json:"registered"`
		Total      int `json:"total"`
	}

	params, err := bindGraphParams(c)
	if err != nil {
		return badRequest(c, "Invalid request params")
	}
	data, err := readBody(c)
	if err != nil {
		return badRequest(c, "Invalid request body")
	}
	doc, err := loader.ParseExpectations(data, requestFormat(c))
	if err != nil {
		return parseFailure(c, err)
	}
	list, err := loader.ToExpectations(doc.Expectations)
	if err != nil {
		return badRequest(c, err.Error())
	}

	app := middleware.GetApp(c)
	ctx := c.Request().Context()
	g, err := app.Store.GetGraph(ctx, params.GraphID)
	if err != nil {
		return respondError(c, err)
	}
	if err := truthtable.CheckNames(g, list); err != nil {
		return respondError(c, err)
	}

	existing, err := app.Store.GetExpectations(ctx, params.GraphID)
	if err != nil {
		return respondError(c, err)
	}
	set := truthtable.NewExpectationSet()
	if err := set.RegisterAll(existing); err != nil {
		return respondError(c, err)
	}
	if err := set.RegisterAll(list); err != nil {
		return respondError(c, err)
	}

	if err := app.Store.AddExpectations(ctx, params.GraphID, list); err != nil {
		return respondError(c, err)
	}

	logger.Info("[Server] Registered expectations", "graph_id", params.GraphID, "count", len(list))
	return c.JSON(http.StatusCreated, addExpectationsResponse{
		Registered: len(list),
		Total:      set.Len(),
	})
}
