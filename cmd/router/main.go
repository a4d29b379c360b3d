package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rpc-router-go/internal/config"
	"rpc-router-go/internal/jupiter"
	"rpc-router-go/internal/logger"
	"rpc-router-go/internal/rpc"
	"rpc-router-go/internal/store"
	"rpc-router-go/internal/swap"
	"rpc-router-go/internal/wallet"
)

const Version = "1.0.0"

// CLI flags
var (
	configFile = flag.String("config", "", "Path to config file")
	envFile    = flag.String("env", "", "Path to .env file")
	network    = flag.String("network", "", "Network to use (mainnet/devnet)")
	strategy   = flag.String("strategy", "", "Provider selection strategy (priority/round_robin/weighted/adaptive)")
	logLevel   = flag.String("log-level", "", "Log level (debug/info/warn/error)")
	dryRun     = flag.Bool("dry-run", false, "Dry run mode (build swaps, never send)")

	enableMetrics = flag.Bool("metrics", false, "Expose Prometheus metrics")
	metricsPort   = flag.Int("metrics-port", 0, "Metrics listen port")
	slotWatch     = flag.Bool("slot-watch", false, "Subscribe to slot notifications per provider")

	// One-shot swap flags; when swap-amount is set the process performs a
	// single swap and exits.
	swapInput  = flag.String("swap-input", config.NativeSOLMint, "Input mint for one-shot swap")
	swapOutput = flag.String("swap-output", config.USDCMint, "Output mint for one-shot swap")
	swapAmount = flag.Uint64("swap-amount", 0, "Input amount in raw units for one-shot swap")
)

// App owns every long-lived component. All wiring happens in NewApp; nothing
// reaches for globals.
type App struct {
	config    *config.Config
	logger    *logger.Logger
	registry  *rpc.Registry
	tracker   *rpc.Tracker
	manager   *rpc.Manager
	rpcClient *rpc.Client
	queue     *rpc.Queue
	scheduler *rpc.Scheduler
	stats     *store.StatsStore
	executor  *swap.Executor

	promRegistry *prometheus.Registry
	slotWatcher  *rpc.SlotWatcher

	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	flag.Parse()

	cfg := loadConfigurationWithOverrides()
	log := initializeLogger(cfg)

	app, err := NewApp(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create application")
	}

	if err := app.Start(); err != nil {
		log.WithError(err).Error("Application failed")
		os.Exit(1)
	}
}

func loadConfigurationWithOverrides() *config.Config {
	cfg, err := config.LoadConfig(*configFile, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	applyCliOverrides(cfg)
	return cfg
}

func applyCliOverrides(cfg *config.Config) {
	if *network != "" {
		cfg.Network = *network
	}
	if *strategy != "" {
		cfg.Selector.Strategy = *strategy
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *dryRun {
		cfg.Swap.DryRun = true
	}
	if *enableMetrics {
		cfg.Advanced.EnableMetrics = true
	}
	if *metricsPort != 0 {
		cfg.Advanced.MetricsPort = *metricsPort
	}
	if *slotWatch {
		cfg.Advanced.EnableSlotWatch = true
	}
}

func initializeLogger(cfg *config.Config) *logger.Logger {
	log, err := logger.NewLogger(logger.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		LogToFile:   cfg.Logging.LogToFile,
		LogFilePath: cfg.Logging.LogFilePath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return log
}

// NewApp wires every component from configuration. Construction fails fast:
// a bad provider table, unresolved credential, or missing wallet key stops
// the process before anything touches the network.
func NewApp(cfg *config.Config, log *logger.Logger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	var promRegistry *prometheus.Registry
	var metrics *rpc.Metrics
	if cfg.Advanced.EnableMetrics {
		promRegistry = prometheus.NewRegistry()
		metrics = rpc.NewMetrics(promRegistry)
	}

	registry, err := rpc.NewRegistry(cfg.Providers, time.Now)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build provider registry: %w", err)
	}

	stats, err := store.NewStatsStore(cfg.Advanced.StatsDir)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open stats store: %w", err)
	}
	if snaps, err := stats.Load(); err != nil {
		log.WithError(err).Warn("Ignoring unreadable provider stats snapshot")
	} else if len(snaps) > 0 {
		registry.RestoreTotals(snaps)
		log.WithField("providers", len(snaps)).Info("Restored provider stats from snapshot")
	}

	tracker := rpc.NewTracker(registry, cfg.Tracker, metrics)
	selector, err := rpc.NewSelector(registry, tracker, cfg.Selector, metrics, time.Now().UnixNano())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build selector: %w", err)
	}

	conns := rpc.NewConnCache(cfg.ConnCache, time.Now, nil)
	results := rpc.NewResultCache(cfg.ResultCache, time.Now)
	manager := rpc.NewManager(cfg.Manager, registry, tracker, selector, conns, results, metrics, log.Logger)
	rpcClient := rpc.NewClient(manager)
	queue := rpc.NewQueue(cfg.Queue, manager, metrics, time.Now)

	scheduler := rpc.NewScheduler(cfg.Queue.DrainInterval, log.Logger, time.Now)
	scheduler.Add("queue_drain", cfg.Queue.DrainInterval, func() { queue.Drain() })
	scheduler.Add("cache_sweep", cfg.Advanced.CacheSweepEvery, func() {
		conns.Sweep()
		results.Sweep()
	})
	scheduler.Add("health_sweep", cfg.Advanced.HealthSweepEvery, tracker.SweepStaleness)
	scheduler.Add("stats_snapshot", cfg.Advanced.StatsInterval, func() {
		snaps := registry.Snapshots()
		if err := stats.Save(snaps); err != nil {
			log.WithError(err).Warn("Failed to persist provider stats")
		}
		for _, s := range snaps {
			log.LogProviderStatus(s.Name, string(s.Health), s.TotalRequests, s.TotalFailures, s.AvgLatencyMs)
		}
	})

	app := &App{
		config:       cfg,
		logger:       log,
		registry:     registry,
		tracker:      tracker,
		manager:      manager,
		rpcClient:    rpcClient,
		queue:        queue,
		scheduler:    scheduler,
		stats:        stats,
		promRegistry: promRegistry,
		ctx:          ctx,
		cancel:       cancel,
	}

	if cfg.Advanced.EnableSlotWatch {
		app.slotWatcher = rpc.NewSlotWatcher(registry, tracker, log.Logger)
	}

	// The wallet is required outside dry-run mode. Key material comes only
	// from the environment variables named in the config.
	w, err := wallet.Load(cfg.Wallet, rpcClient, log.Logger)
	if err != nil {
		if !cfg.Swap.DryRun {
			cancel()
			return nil, fmt.Errorf("failed to load wallet: %w", err)
		}
		log.WithError(err).Warn("No wallet loaded; dry-run continues without swap support")
	}

	if w != nil {
		jup := jupiter.NewClient(jupiter.ClientConfig{
			BaseURL:       cfg.Jupiter.BaseURL,
			Timeout:       cfg.Jupiter.Timeout,
			QuoteTTL:      cfg.Jupiter.QuoteTTL,
			QuoteCacheMax: cfg.Jupiter.QuoteCacheMax,
		}, log.Logger)

		history, err := logger.NewHistoryWriter(cfg.Swap.HistoryDir, log)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create history writer: %w", err)
		}
		app.executor = swap.NewExecutor(jup, w, rpcClient, cfg.Swap, log, history)
	}

	return app, nil
}

// Start runs the service until a signal arrives, or performs the one-shot
// swap when requested. The returned error makes the process exit non-zero.
func (a *App) Start() error {
	defer a.cancel()

	a.logger.LogStartup(Version, a.config.Network, a.config.Selector.Strategy, len(a.config.Providers))

	if err := a.testConnections(); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}

	go a.scheduler.Start(a.ctx)

	if a.slotWatcher != nil {
		a.slotWatcher.Start(a.ctx)
		a.logger.Info("Slot watcher started")
	}

	if a.config.Advanced.EnableMetrics {
		a.startMetricsServer()
	}

	if *swapAmount > 0 {
		return a.runOneShotSwap()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	a.logger.Info("Router started")
	sig := <-sigChan
	a.shutdown(fmt.Sprintf("signal %v", sig))
	return nil
}

// testConnections verifies at least one provider answers before the service
// advertises itself healthy.
func (a *App) testConnections() error {
	ctx, cancel := context.WithTimeout(a.ctx, 10*time.Second)
	defer cancel()

	slot, err := a.rpcClient.GetSlot(ctx)
	if err != nil {
		return fmt.Errorf("no provider reachable: %w", err)
	}

	a.logger.WithField("slot", slot).Info("Connection test passed")
	return nil
}

func (a *App) startMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.promRegistry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", a.config.Advanced.MetricsPort)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			a.logger.WithError(err).Error("Metrics server failed")
		}
	}()
	a.logger.WithField("addr", addr).Info("Metrics server started")
}

func (a *App) runOneShotSwap() error {
	if a.executor == nil {
		return fmt.Errorf("swap requested but no wallet is loaded")
	}

	result, err := a.executor.Execute(a.ctx, *swapInput, *swapOutput, *swapAmount)
	if err != nil {
		return fmt.Errorf("swap failed: %w", err)
	}

	if result.DryRun {
		a.logger.WithFields(map[string]interface{}{
			"in_amount":  result.InAmount,
			"out_amount": result.OutAmount,
			"latency_ms": result.Latency.Milliseconds(),
		}).Info("Dry-run swap completed")
	} else {
		a.logger.WithFields(map[string]interface{}{
			"signature":  result.Signature,
			"in_amount":  result.InAmount,
			"out_amount": result.OutAmount,
			"latency_ms": result.Latency.Milliseconds(),
		}).Info("Swap completed")
	}

	a.shutdown("one-shot swap finished")
	return nil
}

func (a *App) shutdown(reason string) {
	a.logger.LogShutdown(reason)
	a.cancel()

	if err := a.stats.Save(a.registry.Snapshots()); err != nil {
		a.logger.WithError(err).Warn("Failed to persist provider stats on shutdown")
	}
}
