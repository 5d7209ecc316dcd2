package routes

import (
	"net/http"

	"github.com/except-pass/telltale/pkg/loader"

	"github.com/labstack/echo/v4"
)

// GetSchemaHandler serves the JSON schema of graph documents, or of
// expectation documents with ?kind=expectations.
func GetSchemaHandler(c echo.Context) error {
	if c.QueryParam("kind") == "expectations" {
		return c.JSON(http.StatusOK, loader.ExpectationsSchema())
	}
	return c.JSON(http.StatusOK, loader.Schema())
}
