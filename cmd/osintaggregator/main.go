package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"OsintAggregator/internal/app"
	"OsintAggregator/internal/config"
	"OsintAggregator/internal/logging"
)

func main() {
	heal := flag.Bool("heal", false, "run one healing pass over degraded records")
	reportOnly := flag.Bool("report", false, "render report artifacts and exit")
	daemon := flag.Bool("daemon", false, "run collection on the configured schedule")
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if moreThanOne(*heal, *reportOnly, *daemon) {
		fmt.Fprintln(os.Stderr, "-heal, -report and -daemon are mutually exclusive")
		os.Exit(1)
	}

	_ = godotenv.Load()
	if *configPath != "" {
		os.Setenv("OSINT_AGGREGATOR_CONFIG", *configPath)
	}

	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	switch {
	case *heal:
		err = application.RunHealing(ctx)
	case *reportOnly:
		err = application.RunReport(ctx)
	case *daemon:
		err = application.RunDaemon(ctx)
	default:
		err = application.RunCollection(ctx)
	}
	if err != nil {
		logger.Error("run failed", "error", err)
		application.Close()
		os.Exit(1)
	}
}

func moreThanOne(flags ...bool) bool {
	count := 0
	for _, f := range flags {
		if f {
			count++
		}
	}
	return count > 1
}
