package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"engagement_worker/config"
	"engagement_worker/core/port/in"
	"engagement_worker/internal/bootstrap"
	"engagement_worker/pkg/crypto"
	"engagement_worker/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if exists (for local development)
	envErr := godotenv.Load()

	logger.Init(logger.Config{
		Level:   logger.ParseLevel(os.Getenv("LOG_LEVEL")),
		Service: "engagement-worker",
		Console: os.Getenv("LOG_FORMAT") == "console",
	})
	if envErr != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	mode := flag.String("mode", "all", "Run mode: api, worker, all, pipeline, user, seal")
	email := flag.String("email", "", "User email for -mode=user")
	dryRun := flag.Bool("dry-run", true, "Record decisions without queueing sends (pipeline and user modes)")
	secret := flag.String("secret", "", "Value to seal with ENCRYPTION_KEY for -mode=seal")
	flag.Parse()

	if *mode == "seal" {
		os.Exit(runSeal(*secret))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	switch *mode {
	case "api":
		runAPI(cfg)
	case "worker":
		runWorker(cfg)
	case "all":
		runAll(cfg)
	case "pipeline":
		cfg.DryRun = *dryRun
		os.Exit(runPipeline(cfg))
	case "user":
		if *email == "" {
			logger.Fatal("-email is required with -mode=user")
		}
		os.Exit(runUser(cfg, *email, *dryRun))
	default:
		logger.Fatal("Unknown mode: %s", *mode)
	}
}

func runAPI(cfg *config.Config) {
	app, cleanup, err := bootstrap.NewAPI(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize API: %v", err)
	}
	defer cleanup()

	go func() {
		waitForSignal()
		logger.Info("Shutting down API server (timeout: %v)...", cfg.ShutdownTimeout)
		if err := app.ShutdownWithTimeout(cfg.ShutdownTimeout); err != nil {
			logger.Error("Error shutting down: %v", err)
		}
	}()

	addr := ":" + cfg.Port
	logger.Info("Starting API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		logger.Error("Server stopped: %v", err)
	}
}

func runWorker(cfg *config.Config) {
	w, cleanup, err := bootstrap.NewWorker(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize worker: %v", err)
	}
	defer cleanup()

	go func() {
		waitForSignal()
		logger.Info("Shutting down worker...")
		w.Stop()
	}()

	logger.Info("Starting worker...")
	w.Start()
	logger.Info("Worker shut down gracefully")
}

// runAll serves the API and the worker from one set of connections.
func runAll(cfg *config.Config) {
	deps, cleanup, err := bootstrap.NewDependencies(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies: %v", err)
	}
	defer cleanup()

	app := bootstrap.NewAPIWithDeps(cfg, deps)
	w := bootstrap.NewWorkerWithDeps(cfg, deps)

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		w.Start()
	}()

	go func() {
		waitForSignal()
		logger.Info("Shutting down (timeout: %v)...", cfg.ShutdownTimeout)
		if err := app.ShutdownWithTimeout(cfg.ShutdownTimeout); err != nil {
			logger.Error("Error shutting down API: %v", err)
		}
		w.Stop()
	}()

	addr := ":" + cfg.Port
	logger.Info("Starting API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		logger.Error("Server stopped: %v", err)
	}
	<-workerDone
}

func runPipeline(cfg *config.Config) int {
	deps, cleanup, err := bootstrap.NewDependencies(cfg)
	if err != nil {
		logger.Error("Failed to initialize dependencies: %v", err)
		return 1
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := deps.Pipeline.RunDaily(ctx)
	if err != nil {
		logger.WithError(err).Error("Pipeline run failed")
		return 1
	}
	printJSON(summary)
	return 0
}

func runUser(cfg *config.Config, email string, dryRun bool) int {
	deps, cleanup, err := bootstrap.NewDependencies(cfg)
	if err != nil {
		logger.Error("Failed to initialize dependencies: %v", err)
		return 1
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := deps.Pipeline.ProcessUser(ctx, email, in.ProcessOptions{DryRun: &dryRun})
	if err != nil {
		logger.WithError(err).Error("Processing %s failed", email)
		return 1
	}
	printJSON(result)
	return 0
}

// runSeal prints secret sealed for use in the environment.
func runSeal(secret string) int {
	if secret == "" {
		logger.Error("-secret is required with -mode=seal")
		return 2
	}
	enc, err := crypto.NewEncryptor([]byte(os.Getenv("ENCRYPTION_KEY")))
	if err != nil {
		logger.WithError(err).Error("Cannot seal secret")
		return 1
	}
	sealed, err := enc.Seal(secret)
	if err != nil {
		logger.WithError(err).Error("Cannot seal secret")
		return 1
	}
	fmt.Println(sealed)
	return 0
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logger.WithError(err).Error("Failed to encode result")
		return
	}
	fmt.Println(string(out))
}

func waitForSignal() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
}
