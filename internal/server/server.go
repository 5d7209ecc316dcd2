package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/except-pass/telltale/internal/db"
	"github.com/except-pass/telltale/internal/queue"
	mid "github.com/except-pass/telltale/internal/server/middleware"
	"github.com/except-pass/telltale/internal/storage"
	"github.com/except-pass/telltale/internal/util"
	"github.com/except-pass/telltale/pkg/logger"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/semaphore"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New builds the echo instance serving app.
func New(app *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("16M"))

	RegisterRoutes(e)
	return e
}

// Init wires the server from the environment and serves until SIGINT or
// SIGTERM.
func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := db.Open(ctx)
	if err != nil {
		logger.Fatal("Failed to open graph store", "err", err)
	}
	defer backend.Close()

	app := &mid.App{
		Store:       backend.Store,
		Runs:        semaphore.NewWeighted(int64(max(util.GetEnvInt("MAX_CONCURRENT_RUNS", 4), 1))),
		Parallelism: util.GetEnvInt("TRUTH_TABLE_PARALLEL", 0),
		MaxCases:    util.GetEnvInt("TRUTH_TABLE_MAX_CASES", 100000),
	}

	if util.GetEnv("RABBITMQ_HOST") != "" {
		que, err := queue.Init(ctx)
		if err != nil {
			logger.Fatal("Failed to connect to queue", "err", err)
		}
		defer que.Close()
		ch, err := que.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		if err := queue.SetupQueues(ch, queue.Queues); err != nil {
			logger.Fatal("Failed to set up queues", "err", err)
		}
		app.Queue = ch
	} else {
		logger.Warn("RABBITMQ_HOST not set, async truth-table jobs are disabled")
	}

	client, err := storage.NewS3Client(ctx)
	if err != nil {
		logger.Fatal("Failed to create S3 client", "err", err)
	}
	if client != nil {
		app.Reports = storage.NewReportStore(client, util.GetEnv("AWS_BUCKET"))
	}

	e := New(app)

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port, "persistent", backend.Persistent())
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
