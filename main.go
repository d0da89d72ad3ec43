package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"
	sdkworker "go.temporal.io/sdk/worker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/threadline-ai/threadline/go/engine/internal/activities"
	"github.com/threadline-ai/threadline/go/engine/internal/config"
	"github.com/threadline-ai/threadline/go/engine/internal/db"
	"github.com/threadline-ai/threadline/go/engine/internal/health"
	"github.com/threadline-ai/threadline/go/engine/internal/llm"
	"github.com/threadline-ai/threadline/go/engine/internal/loop"
	"github.com/threadline-ai/threadline/go/engine/internal/memory"
	_ "github.com/threadline-ai/threadline/go/engine/internal/metrics"
	"github.com/threadline-ai/threadline/go/engine/internal/policy"
	"github.com/threadline-ai/threadline/go/engine/internal/reconcile"
	"github.com/threadline-ai/threadline/go/engine/internal/registry"
	"github.com/threadline-ai/threadline/go/engine/internal/state"
	"github.com/threadline-ai/threadline/go/engine/internal/statestore"
	"github.com/threadline-ai/threadline/go/engine/internal/tools"
	"github.com/threadline-ai/threadline/go/engine/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Admin endpoints come up first so probes respond while the rest of the
	// process is still connecting.
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())
	healthManager := health.NewManager(logger)
	health.NewHandler(healthManager, logger).RegisterRoutes(adminMux)
	adminPort := config.MetricsPort(8081)
	go func() {
		srv := &http.Server{
			Addr:         ":" + strconv.Itoa(adminPort),
			Handler:      adminMux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		logger.Info("Admin HTTP server listening", zap.Int("port", adminPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin HTTP server failed", zap.Error(err))
		}
	}()

	// State store and directory share one Redis.
	store, err := statestore.NewRedisStore(statestore.RedisOptions{Addr: cfg.Redis.Addr}, logger)
	if err != nil {
		logger.Fatal("Failed to connect state store", zap.Error(err))
	}
	stateManager := state.NewManager(store, cfg.Agent.TeamKey, logger)
	directory := registry.NewDirectory(store, cfg.Agent.TeamKey, logger)

	mem, err := memory.NewManager(cfg.Redis.Addr, logger)
	if err != nil {
		logger.Fatal("Failed to connect short-term memory", zap.Error(err))
	}
	defer mem.Close()
	healthManager.Register(health.CheckerFunc{
		ComponentName: "redis",
		IsCritical:    true,
		Probe:         mem.Ping,
	})

	// Relational audit client is lazy: without DATABASE_URL the worker runs,
	// and persistence fails descriptively on first use.
	dbClient := db.NewClient(logger)
	defer dbClient.Close()
	healthManager.Register(health.CheckerFunc{
		ComponentName: "postgres",
		IsCritical:    false,
		Probe:         dbClient.Ping,
	})

	// Tool policy gate.
	policyCfg := policy.LoadConfig()
	var gate *policy.Engine
	if policyCfg.Enabled {
		gate, err = policy.NewEngine(policyCfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize tool policy engine", zap.Error(err))
		}
		if err := gate.LoadPolicies(); err != nil {
			logger.Fatal("Failed to load tool policies", zap.Error(err))
		}
		if err := gate.WatchForChanges(); err != nil {
			logger.Warn("Tool policy hot reload unavailable", zap.Error(err))
		}
		defer gate.Close()
	}

	toolRegistry := tools.NewRegistry()
	registerBuiltinTools(toolRegistry, logger)

	var limiter *rate.Limiter
	if cfg.Loop.ToolRatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Loop.ToolRatePerSecond), cfg.Loop.ToolRateBurst)
	}

	// Validate the loop policy document up front when one is configured.
	if cfg.Loop.PolicyPath != "" {
		if _, err := loop.LoadPolicyFile(cfg.Loop.PolicyPath); err != nil {
			logger.Fatal("Invalid loop policy document",
				zap.String("path", cfg.Loop.PolicyPath),
				zap.Error(err),
			)
		}
	}

	generator := llm.NewHTTPGenerator()

	stateActs := activities.NewStateActivities(stateManager, mem, logger)
	toolActs := activities.NewToolActivities(toolRegistry, gate, limiter, logger)
	generationActs := activities.NewGenerationActivities(generator, toolRegistry, logger)
	persistenceActs := activities.NewPersistenceActivities(dbClient, logger)

	// Publish this process in the team directory; withdraw on shutdown.
	if err := directory.RegisterAgent(ctx, cfg.Agent.Name, registry.Entry{
		Address:      cfg.Agent.Address,
		Capabilities: append(cfg.Agent.Capabilities, toolRegistry.Names()...),
		Orchestrator: cfg.Agent.Orchestrator,
	}); err != nil {
		logger.Fatal("Failed to register in agent directory", zap.Error(err))
	}
	defer func() {
		if err := directory.DeregisterAgent(context.Background(), cfg.Agent.Name); err != nil {
			logger.Warn("Failed to deregister from agent directory", zap.Error(err))
		}
	}()

	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		logger.Fatal("Failed to connect to Temporal", zap.Error(err))
	}
	defer temporalClient.Close()
	healthManager.Register(health.CheckerFunc{
		ComponentName: "temporal",
		IsCritical:    true,
		Probe: func(ctx context.Context) error {
			_, err := temporalClient.CheckHealth(ctx, &client.CheckHealthRequest{})
			return err
		},
	})

	w := sdkworker.New(temporalClient, cfg.Temporal.TaskQueue, sdkworker.Options{})
	reg := worker.NewRegistry(stateActs, toolActs, generationActs, persistenceActs, logger)
	reg.RegisterWorkflows(w)
	reg.RegisterActivities(w)

	// The reconciler needs the relational store; start it only once the
	// lazy connection succeeds.
	reconcileCtx, stopReconciler := context.WithCancel(ctx)
	defer stopReconciler()
	go func() {
		if err := dbClient.Ping(reconcileCtx); err != nil {
			logger.Warn("Run reconciliation disabled: no relational store", zap.Error(err))
			return
		}
		readDB := sqlx.NewDb(dbClient.DB(), "postgres")
		reconcile.New(readDB, dbClient, temporalClient, logger).Run(reconcileCtx)
	}()

	logger.Info("Starting worker",
		zap.String("task_queue", cfg.Temporal.TaskQueue),
		zap.String("agent", cfg.Agent.Name),
		zap.String("team_key", cfg.Agent.TeamKey),
	)

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(nil) }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal("Worker stopped with error", zap.Error(err))
		}
	case sig := <-stopCh:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
		w.Stop()
	}
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Logging.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Logging.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Logging.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	return zc.Build()
}

// registerBuiltinTools installs the small always-available tool set. Hosting
// deployments extend the registry with their own tools before worker start.
func registerBuiltinTools(r *tools.Registry, logger *zap.Logger) {
	err := r.Register(tools.Func{
		Def: tools.Definition{
			Name:        "get_current_time",
			Description: "Returns the current UTC time in RFC 3339 format.",
			InputSchema: map[string]interface{}{"type": "object"},
		},
		Fn: func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
			return map[string]string{"time": time.Now().UTC().Format(time.RFC3339)}, nil
		},
	})
	if err != nil {
		logger.Warn("Failed to register builtin tool", zap.Error(err))
	}
}
