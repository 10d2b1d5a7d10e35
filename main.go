package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"playback-observer/internal/catalog"
	"playback-observer/internal/logging"
	"playback-observer/internal/metrics"
	"playback-observer/internal/report"
	"playback-observer/internal/session"
	"playback-observer/internal/startup"
	"playback-observer/internal/store"
)

func main() {
	startTime := time.Now()

	var (
		mode            = flag.String("mode", "debug", "result delivery mode: \"debug\" writes local files, \"runner\" posts to the test runner")
		catalogDir      = flag.String("catalog-dir", "", "load tests.json and test-config.json from a local directory instead of the test runner")
		intensiveScan   = flag.Bool("intensive-scan", false, "try additional image transforms when scanning QR codes")
		ignoreCorrupted = flag.Bool("ignore-corrupted-frames", false, "skip unreadable camera frames instead of aborting")
		calibration     = flag.Bool("calibration", false, "treat the recording as a flash-and-beep calibration clip")
	)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	input := flag.Arg(0)

	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}
	config.IntensiveScan = *intensiveScan
	config.IgnoreCorrupted = *ignoreCorrupted
	config.SystemMode = *mode
	if *mode != "debug" && *mode != "runner" {
		startup.LogFatal("Invalid -mode %q: must be \"debug\" or \"runner\"", *mode)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *calibration {
		if err := session.Calibrate(ctx, config, input); err != nil {
			startup.LogFatal("Calibration failed: %v", err)
		}
		return
	}

	if config.MetricsEnabled {
		metrics.InitializeMetrics()
		metrics.Serve(config.MetricsPort)
	}

	dbStart := time.Now()
	db, err := store.New(ctx, config.DatabasePath)
	if err != nil {
		startup.LogFatal("Failed to initialize database: %v", err)
	}
	defer db.Close()
	logging.Info("Database ready in %s", time.Since(dbStart).Round(time.Millisecond))

	// Prune old session records periodically
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := db.PruneSessions(ctx, 30*24*time.Hour); err != nil {
					logging.Warn("Session prune failed: %v", err)
				} else if n > 0 {
					logging.Debug("Pruned %d old session(s)", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	cat, err := loadCatalog(ctx, config, *catalogDir)
	if err != nil {
		startup.LogFatal("Failed to load test catalog: %v", err)
	}

	reporter := report.NewHandler(config.TestRunnerURL, config.ResultsDir, *mode == "debug")
	analyzer := session.NewAnalyzer(config, cat, db, reporter)

	if err := analyzer.Analyze(ctx, input); err != nil {
		logging.Error("Observation failed: %v", err)
		os.Exit(1)
	}
	logging.Info("Done in %s", time.Since(startTime).Round(time.Millisecond))
}

func loadCatalog(ctx context.Context, config *startup.Config, dir string) (*catalog.Catalog, error) {
	if dir != "" {
		logging.Info("Loading test catalog from %s", dir)
		return catalog.LoadLocal(dir)
	}
	logging.Info("Fetching test catalog from %s", config.TestRunnerURL)
	return catalog.Fetch(ctx, config.TestRunnerURL)
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] <recording file or directory>\n\nFlags:\n", os.Args[0])
	flag.PrintDefaults()
}
