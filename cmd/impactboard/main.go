package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/rewired-gh/impactboard/internal/config"
	"github.com/rewired-gh/impactboard/internal/logger"
)

const usage = `Usage: impactboard [--config path] <command> [flags]

Commands:
  records        List normalized events with derived financials
  stats          Per-category attendance and revenue
  quality        Fit the attendance model and show its in-sample quality
  forecast       Forecast attendance for a planned event
  announce       Publish a community announcement
  announcements  List announcements
  history        Show logged forecasts

Run 'impactboard <command> --help' for command flags.
`

var configPath = flag.String("config", "", "Path to configuration file (defaults and environment only when empty)")

func main() {
	flag.CommandLine.SetInterspersed(false)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fmt.Fprintln(os.Stderr, "\nGlobal flags:")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()
	if *configPath != "" {
		logger.Debug("Configuration loaded from %s", *configPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, out: os.Stdout}
	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logger.Error("%s failed: %v", flag.Arg(0), err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logger.Sync()
		os.Exit(1)
	}
}
