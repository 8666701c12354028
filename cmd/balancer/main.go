// Package main is the entry point for the avalb load balancer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/vyrodovalexey/avalb/internal/config"
	"github.com/vyrodovalexey/avalb/internal/gateway"
	"github.com/vyrodovalexey/avalb/internal/observability"
	"github.com/vyrodovalexey/avalb/internal/upstream"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	port        int
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig(flags, logger)
	app := initApplication(cfg, logger)

	run(app, flags.configPath, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("AVALB_CONFIG_PATH", ""),
		"Path to configuration file (optional)")
	port := flag.Int("port", getEnvIntOrDefault("AVALB_PORT", 0),
		"Listen port (overrides config file)")
	logLevel := flag.String("log-level", getEnvOrDefault("AVALB_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("AVALB_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		port:        *port,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("avalb version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// loadConfig loads the configuration file (when given) and layers flag
// overrides on top.
func loadConfig(flags cliFlags, logger observability.Logger) *config.Config {
	logger.Info("starting avalb",
		observability.String("version", version),
		observability.String("config", flags.configPath),
	)

	cfg := config.Default()
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			logger.Fatal("failed to load configuration", observability.Error(err))
		}
		cfg = loaded
	}

	if flags.port != 0 {
		cfg.Listen.Port = flags.port
	}

	if err := config.Validate(cfg); err != nil {
		logger.Fatal("invalid configuration", observability.Error(err))
	}

	logger.Info("configuration loaded",
		observability.String("listen", cfg.Listen.Addr()),
		observability.Int("backends", len(cfg.Backends)),
		observability.Duration("rate_limit_window", cfg.RateLimit.Window.Duration()),
		observability.Int("rate_limit_max_requests", cfg.RateLimit.MaxRequests),
		observability.Duration("health_check_interval", cfg.HealthCheck.Interval.Duration()),
	)

	return cfg
}

// application holds all application components.
type application struct {
	balancer *gateway.Balancer
	monitor  *upstream.Monitor
	metrics  *observability.Metrics
	config   *config.Config
}

// initApplication initializes all application components.
func initApplication(cfg *config.Config, logger observability.Logger) *application {
	metrics := observability.NewMetrics("balancer")

	balancer := gateway.New(
		cfg.RateLimit.Window.Duration(),
		cfg.RateLimit.MaxRequests,
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics),
	)

	for _, raw := range cfg.Backends {
		if err := balancer.AddServer(raw); err != nil {
			logger.Fatal("failed to register backend", observability.Error(err))
		}
	}

	monitor := upstream.NewMonitor(balancer.Registry(),
		upstream.WithMonitorLogger(logger),
		upstream.WithMonitorMetrics(metrics),
		upstream.WithProbeInterval(cfg.HealthCheck.Interval.Duration()),
		upstream.WithMonitorClient(&http.Client{
			Timeout: cfg.HealthCheck.Timeout.Duration(),
		}),
	)

	return &application{
		balancer: balancer,
		monitor:  monitor,
		metrics:  metrics,
		config:   cfg,
	}
}

// run starts the monitor, the listener, and the auxiliary servers, then
// waits for shutdown.
func run(app *application, configPath string, logger observability.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The monitor is started here rather than by the balancer so the two
	// subsystems stay independently testable.
	app.monitor.Start(ctx)

	startMetricsServerIfEnabled(app, logger)
	watcher := startConfigWatcher(app, configPath, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.balancer.Run(app.config.Listen.Addr())
	}()

	waitForShutdown(app, watcher, errCh, logger)
}

// startMetricsServerIfEnabled starts the metrics server if enabled.
func startMetricsServerIfEnabled(app *application, logger observability.Logger) {
	if !app.config.Metrics.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", app.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	addr := fmt.Sprintf(":%d", app.config.Metrics.Port)
	logger.Info("starting metrics server",
		observability.String("address", addr),
	)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", observability.Error(err))
		}
	}()
}

// startConfigWatcher starts the configuration watcher when a config file is
// in use. Reloads only ever add backends: the pool is append-only.
func startConfigWatcher(
	app *application,
	configPath string,
	logger observability.Logger,
) *config.Watcher {
	if configPath == "" {
		return nil
	}

	known := make(map[string]bool, len(app.config.Backends))
	for _, raw := range app.config.Backends {
		known[raw] = true
	}

	watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		for _, raw := range newCfg.Backends {
			if known[raw] {
				continue
			}
			if addErr := app.balancer.AddServer(raw); addErr != nil {
				logger.Error("failed to add backend from reload",
					observability.String("endpoint", raw),
					observability.Error(addErr),
				)
				continue
			}
			known[raw] = true
		}
	}, config.WithWatcherLogger(logger))

	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(context.Background()); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
	}

	return watcher
}

// waitForShutdown waits for a shutdown signal or a fatal listener error and
// performs graceful shutdown.
func waitForShutdown(
	app *application,
	watcher *config.Watcher,
	errCh <-chan error,
	logger observability.Logger,
) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", observability.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listener failed", observability.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}

	if err := app.balancer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to stop listener gracefully", observability.Error(err))
	}

	app.monitor.Stop()

	logger.Info("balancer stopped")
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault returns the environment variable as an int or a default.
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
