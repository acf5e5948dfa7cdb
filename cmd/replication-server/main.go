// Command replication-server runs the replication control plane: the peer
// registry, the queue ledger and the procedure executor over one shared
// coordination store, plus the peer-change bus and the liveness survey.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tesseradb/replication/pkg/coordstore"
	"github.com/tesseradb/replication/pkg/health"
	"github.com/tesseradb/replication/pkg/logging"
	"github.com/tesseradb/replication/pkg/metrics"
	"github.com/tesseradb/replication/pkg/notify"
	"github.com/tesseradb/replication/pkg/procedure"
	"github.com/tesseradb/replication/pkg/replication"
	"github.com/tesseradb/replication/pkg/server"
)

const (
	healthCheckTimeout    = 5 * time.Second
	systemMetricsInterval = 15 * time.Second
)

func main() {
	configPath := flag.String("config", "replication-server.yaml", "Path to the YAML config file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replication-server: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(cfg.LogLevel))
	logging.SetDefaultLogger(logger)
	m := metrics.DefaultRegistry()

	logger.Info("replication server starting",
		logging.String("server_name", cfg.ServerName),
		logging.String("store", cfg.Store.Driver),
		logging.String("transport", transportName),
		logging.String("http_addr", cfg.HTTP.Addr))

	if err := run(cfg, *configPath, logger, m); err != nil {
		logger.Error("replication server failed", logging.Error(err))
		os.Exit(1)
	}
	logger.Info("replication server exited")
}

// run wires the control plane together and serves until a shutdown
// signal. Components are torn down in reverse start order.
func run(cfg *Config, configPath string, logger logging.Logger, m *metrics.Registry) error {
	ctx := context.Background()

	cleanup := server.NewResourceCleanup(logger)
	defer cleanup.Cleanup()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open coordination store: %w", err)
	}
	cleanup.Add(store, "coordination store")

	registry := replication.NewRegistry(
		replication.NewPeerStorage(store, cfg.BasePath), logger, m)
	if err := registry.Init(ctx); err != nil {
		return fmt.Errorf("failed to load peer registry: %w", err)
	}
	logger.Info("peer registry loaded", logging.Count(registry.Count()))

	ledger := replication.NewQueueLedger(store, cfg.BasePath, logger, m)

	factory := newSocketFactory()

	// The bus pushes this node's peer modifications to subscribed
	// coordinators and pulls theirs into the local registry cache.
	var hooks procedure.Hooks
	if cfg.Bus.Enabled {
		notifier, err := notify.NewPeerChangeNotifier(factory, notify.NotifierConfig{
			Address:    cfg.Bus.PublishAddr,
			BufferSize: cfg.Bus.Buffer,
		}, logger, m)
		if err != nil {
			return fmt.Errorf("failed to create peer change notifier: %w", err)
		}
		if err := notifier.Start(); err != nil {
			return fmt.Errorf("failed to start peer change notifier: %w", err)
		}
		cleanup.AddFunc(notifier.Stop, "peer change notifier")
		hooks = notify.NewBroadcastHooks(nil, notifier)

		for _, addr := range cfg.Bus.SubscribeAddrs {
			listener, err := notify.NewPeerChangeListener(factory, notify.ListenerConfig{
				NotifierAddr: addr,
			}, registry, logger, m)
			if err != nil {
				return fmt.Errorf("failed to create peer change listener for %s: %w", addr, err)
			}
			if err := listener.Start(); err != nil {
				return fmt.Errorf("failed to start peer change listener for %s: %w", addr, err)
			}
			cleanup.AddFunc(listener.Stop, "peer change listener "+addr)
		}
	}

	executor := procedure.NewExecutor(registry, ledger, store, procedure.ExecutorConfig{
		BasePath: cfg.BasePath,
		Hooks:    hooks,
		Retry: procedure.RetryConfig{
			Interval:    duration(cfg.Procedures.RetryInterval),
			MaxInterval: duration(cfg.Procedures.RetryMaxInterval),
			MaxAttempts: cfg.Procedures.RetryMaxAttempts,
		},
		Logger:  logger,
		Metrics: m,
	})
	if _, err := executor.Resume(ctx); err != nil {
		return fmt.Errorf("failed to resume unfinished procedures: %w", err)
	}

	// The watcher catches store writes made by other coordinators, which
	// the bus alone would miss when a notification is dropped.
	watcher := notify.NewStoreWatcher(store, notify.StoreWatcherConfig{
		BasePath: cfg.BasePath,
	}, registry, logger, m)
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("failed to start store watcher: %w", err)
	}
	cleanup.AddFunc(watcher.Stop, "store watcher")

	if cfg.Survey.Enabled {
		self := cfg.Self()
		surveyor, err := notify.NewLivenessSurveyor(factory, notify.SurveyorConfig{
			Address:       cfg.Survey.BindAddr,
			Self:          self,
			SurveyTimeout: duration(cfg.Survey.Timeout),
			Interval:      duration(cfg.Survey.Interval),
			DeadAfter:     duration(cfg.Survey.DeadAfter),
		}, ledger, recoverDeadReplicator(ledger, self), logger, m)
		if err != nil {
			return fmt.Errorf("failed to create liveness surveyor: %w", err)
		}
		if err := surveyor.Start(); err != nil {
			return fmt.Errorf("failed to start liveness surveyor: %w", err)
		}
		cleanup.AddFunc(surveyor.Stop, "liveness surveyor")

		if cfg.Survey.RespondAddr != "" {
			respondent, err := notify.NewLivenessRespondent(factory, notify.RespondentConfig{
				SurveyorAddr: cfg.Survey.RespondAddr,
			}, notify.LedgerStatus{Self: self, Queues: ledger}, logger)
			if err != nil {
				return fmt.Errorf("failed to create liveness respondent: %w", err)
			}
			if err := respondent.Start(); err != nil {
				return fmt.Errorf("failed to start liveness respondent: %w", err)
			}
			cleanup.AddFunc(respondent.Stop, "liveness respondent")
		}
	}

	checker := health.NewChecker()
	registerHealthChecks(checker, cfg, store, registry, ledger, executor)

	startTime := time.Now()
	m.UpdateSystemMetrics(startTime)
	sysStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(systemMetricsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.UpdateSystemMetrics(startTime)
			case <-sysStop:
				return
			}
		}
	}()
	cleanup.AddFunc(func() error { close(sysStop); return nil }, "system metrics")

	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.HTTPHandler())
	mux.HandleFunc("/health/ready", checker.ReadinessHandler())
	mux.HandleFunc("/health/live", checker.LivenessHandler())
	mux.Handle("/metrics", promhttp.HandlerFor(
		m.GetPrometheusRegistry(), promhttp.HandlerOpts{}))

	gs := server.NewGracefulServer(cfg.HTTP.Addr, mux, logger)
	gs.SetConfigReloadFunc(func() error {
		// Only the log level can change at runtime; everything else
		// needs a restart because components capture it at wiring time.
		reloaded, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		logger.SetLevel(logging.ParseLevel(reloaded.LogLevel))
		logger.Info("log level applied", logging.String("log_level", reloaded.LogLevel))
		return nil
	})

	logger.Info("replication server ready")
	return gs.Start()
}

// openStore builds the coordination store named by the config.
func openStore(ctx context.Context, cfg *Config) (coordstore.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return coordstore.NewPGStore(ctx, cfg.Store.DSN)
	default:
		return coordstore.NewMemStore(), nil
	}
}

// recoverDeadReplicator claims every queue of a dead replicator into this
// node. An error keeps the replicator on the surveyor's roster so the
// sweep is retried next round.
func recoverDeadReplicator(ledger *replication.QueueLedger, self replication.ServerName) notify.DeadReplicatorHandler {
	return func(ctx context.Context, dead replication.ServerName) error {
		_, err := ledger.RecoverDeadReplicator(ctx, dead, self)
		return err
	}
}

func registerHealthChecks(
	checker *health.Checker,
	cfg *Config,
	store coordstore.Store,
	registry *replication.Registry,
	ledger *replication.QueueLedger,
	executor *procedure.Executor,
) {
	storeCheck := health.StoreCheck(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
		defer cancel()
		if _, err := store.List(ctx, cfg.BasePath); err != nil && !coordstore.IsNotFound(err) {
			return err
		}
		return nil
	})

	checker.RegisterCheck("coordination_store", storeCheck)
	checker.RegisterCheck("peer_registry", health.RegistryCheck(registry.StateCounts))
	checker.RegisterCheck("queue_ledger", health.LedgerCheck(func() (int, int, error) {
		ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
		defer cancel()
		stats, err := ledger.Stats(ctx)
		if err != nil {
			return 0, 0, err
		}
		return stats.Replicators, stats.Queues, nil
	}))
	checker.RegisterCheck("procedure_backlog", health.ProcedureBacklogCheck(func() (int, error) {
		ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
		defer cancel()
		return executor.Pending(ctx)
	}, cfg.Health.BacklogDegradedAbove))
	checker.RegisterCheck("memory", health.MemoryCheck())

	// Readiness gates on the store; everything else can limp.
	checker.RegisterReadinessCheck("coordination_store", storeCheck)
	checker.RegisterLivenessCheck("alive", func() health.Check {
		return health.SimpleCheck("alive")
	})
}
