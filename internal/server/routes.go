package server

import (
	"github.com/except-pass/telltale/internal/metrics"
	"github.com/except-pass/telltale/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	apiRoutes := e.Group("/api")

	apiRoutes.GET("/schema", routes.GetSchemaHandler)

	// Graph routes
	apiRoutes.GET("/graphs", routes.ListGraphsHandler)
	apiRoutes.POST("/graphs", routes.CreateGraphHandler)
	apiRoutes.GET("/graphs/:id", routes.GetGraphHandler)
	apiRoutes.DELETE("/graphs/:id", routes.DeleteGraphHandler)

	// Diagnostic routes
	apiRoutes.POST("/graphs/:id/diagnose", routes.DiagnoseHandler)
	apiRoutes.POST("/graphs/:id/recommend", routes.RecommendHandler)
	apiRoutes.POST("/graphs/:id/explain", routes.ExplainHandler)

	// Truth-table routes
	apiRoutes.GET("/graphs/:id/expectations", routes.GetExpectationsHandler)
	apiRoutes.POST("/graphs/:id/expectations", routes.AddExpectationsHandler)
	apiRoutes.POST("/graphs/:id/truth-table", routes.RunTruthTableHandler)
	apiRoutes.POST("/graphs/:id/truth-table/jobs", routes.QueueTruthTableHandler)
	apiRoutes.GET("/runs/:id", routes.GetRunHandler)
	apiRoutes.GET("/runs/:id/report", routes.GetRunReportHandler)
}
