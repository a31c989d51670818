package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"librarium/internal/chaos"
	"librarium/internal/config"
	"librarium/internal/docstore"
	"librarium/internal/server"
	"librarium/internal/telemetry"
)

func main() {
	settings := chaos.DefaultSettings()
	flag.DurationVar(&settings.Duration, "duration", settings.Duration, "observation window per experiment")
	flag.DurationVar(&settings.Interval, "interval", settings.Interval, "metric sampling interval")
	flag.IntVar(&settings.Concurrency, "concurrency", settings.Concurrency, "concurrent borrowers in the race experiment")
	flag.DurationVar(&settings.Latency, "latency", settings.Latency, "latency injected into every store call")
	pause := flag.Duration("pause", 5*time.Second, "pause between experiments")
	report := flag.Bool("json", false, "print the results as JSON")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := telemetry.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	breaker, err := server.OpenStore(ctx, cfg.Store, logger.Named("docstore"))
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer breaker.Close()

	// Faults go under a fresh breaker so injected failures trip it.
	faults := chaos.NewFaultyStore(breaker)
	store := docstore.WithBreaker(faults, docstore.BreakerSettings{
		Name:                "chaos",
		ConsecutiveFailures: cfg.Store.BreakerFailures,
		OpenTimeout:         cfg.Store.BreakerTimeout,
	}, logger.Named("chaos-breaker"))

	app := server.New(store, logger, server.Options{Driver: cfg.Store.Driver})
	target := chaos.Target{
		Catalog: app.Catalog,
		Members: app.Members,
		Loans:   app.Loans,
		Faults:  faults,
		Breaker: store,
	}

	engine := chaos.NewEngine(logger.Named("chaos"))
	engine.Register(chaos.Experiments(target, settings)...)

	results, err := engine.ExecuteGameDay(ctx, chaos.GameDay{
		Name:      "Lending Game Day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
		Pause:     *pause,
	})
	if err != nil {
		logger.Error("game day interrupted", zap.Error(err))
	}

	if *report {
		enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			logger.Fatal("failed to write report", zap.Error(err))
		}
	}

	for _, r := range results {
		if !r.HypothesisHeld {
			os.Exit(1)
		}
	}
}
