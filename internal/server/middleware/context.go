package middleware

import (
	"context"

	"github.com/except-pass/telltale/internal/queue"
	"github.com/except-pass/telltale/pkg/store"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/semaphore"
)

// ReportReader fetches rendered reports by key.
type ReportReader interface {
	GetReport(ctx context.Context, key string) ([]byte, error)
}

// App holds the dependencies shared by every handler.
type App struct {
	Store store.GraphStorage
	// Queue is nil when no broker is configured; async jobs are then
	// refused.
	Queue queue.Channel
	// Reports is nil without object storage.
	Reports ReportReader
	// Runs bounds concurrent synchronous truth-table runs.
	Runs *semaphore.Weighted

	Parallelism int
	MaxCases    int
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}

// GetApp returns the App of a request served behind AppContextMiddleware.
func GetApp(c echo.Context) *App {
	return c.(*AppContext).App
}
