package routes

import (
	"errors"
	"net/http"

	"github.com/except-pass/telltale/pkg/common"
	"github.com/except-pass/telltale/pkg/diagnostic"
	"github.com/except-pass/telltale/pkg/loader"
	"github.com/except-pass/telltale/pkg/logger"
	"github.com/except-pass/telltale/pkg/store"
	"github.com/except-pass/telltale/pkg/truthtable"

	"github.com/labstack/echo/v4"
)

type errorResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
	Input    any      `json:"input,omitempty"`
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

// respondError maps domain errors onto status codes: unknown graphs and
// runs are 404, unknown input names, invalid observation states and
// conflicting expectations are 422, malformed documents are 400.
func respondError(c echo.Context, err error) error {
	var unknown *diagnostic.UnknownInputError
	var invalid *diagnostic.InvalidStateError
	var ambiguous *truthtable.AmbiguousExpectationError
	var docErr *loader.DocumentError
	var graphErr *common.GraphError

	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.As(err, &unknown):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Input: unknown})
	case errors.As(err, &invalid):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Input: invalid})
	case errors.As(err, &ambiguous):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Input: ambiguous})
	case errors.As(err, &docErr):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid document", Problems: docErr.Problems})
	case errors.As(err, &graphErr):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid graph", Problems: graphErr.Problems})
	}

	logger.Error("[Server] Request failed", "path", c.Path(), "err", err)
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
}
