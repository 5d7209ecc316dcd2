package main

import (
	"github.com/except-pass/telltale/internal/server"
	"github.com/except-pass/telltale/internal/util"
	"github.com/except-pass/telltale/pkg/logger"
	"github.com/except-pass/telltale/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
		JSON:  util.GetEnv("LOG_FORMAT") == "json",
	})
	logger.Init(consoleLogger)

	server.Init()
}
