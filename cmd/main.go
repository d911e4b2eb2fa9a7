package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/apexrad/periscan/internal/adapters/cache"
	"github.com/apexrad/periscan/internal/adapters/http/api"
	"github.com/apexrad/periscan/internal/adapters/repository"
	app "github.com/apexrad/periscan/internal/app"
	"github.com/apexrad/periscan/internal/config"
	"github.com/apexrad/periscan/internal/domain/encoder"
	"github.com/apexrad/periscan/internal/domain/fusion"
	"github.com/apexrad/periscan/internal/domain/kernel"
	"github.com/apexrad/periscan/internal/domain/model"
	"github.com/apexrad/periscan/internal/scheduler"
	"github.com/apexrad/periscan/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second

	cacheSweepSchedule = "@every 5m"
	retentionSchedule  = "@daily"

	hoursPerDay = 24
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Optional .env for local development
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	// Build the assessment service and its adapters.
	svc, err := buildService(ctx, cfg)
	if err != nil {
		log.Error(ctx, "failed to build service", logger.Error(err))
		return
	}
	if err := svc.Start(ctx); err != nil {
		log.Error(ctx, "failed to start service", logger.Error(err))
		return
	}
	defer svc.Stop()

	// Recurring maintenance: cache sweeps, assessment retention.
	sched := scheduler.New()
	registerMaintenanceJobs(ctx, sched, svc, cfg)
	sched.Start()
	defer sched.Stop()

	// HTTP mux and routes.
	mux := http.NewServeMux()
	api.NewServer(svc).Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
			stop()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
}

// buildService assembles the evaluators, fusion engine, cache, and repository
// from configuration.
func buildService(ctx context.Context, cfg *config.Config) (*app.Service, error) {
	log := logger.Get()
	opts := []app.Option{
		app.WithLogger(log.Named("service")),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithMaxListLimit(cfg.MaxListLimit),
		app.WithDefaultPolicy(mustPolicy(cfg.FusionPolicy)),
		app.WithModelVersion(cfg.ModelVersion),
	}

	enc := encoder.New(encoder.WithTargetDim(cfg.QubitBudget))
	sources := 0

	// Classical RBF evaluator, if its reference set is present.
	if refs, err := kernel.LoadReferenceSetFile(filepath.Join(cfg.ModelDir, "svm.json")); err != nil {
		log.Warn(ctx, "classical model unavailable", logger.String("model_dir", cfg.ModelDir), logger.Error(err))
	} else {
		classical := kernel.NewRBFEvaluator(refs, kernel.WithGamma(cfg.KernelGamma))
		opts = append(opts, app.WithSource(classical, enc))
		sources++
	}

	// Quantum fidelity evaluator on the statevector simulator.
	if refs, err := kernel.LoadReferenceSetFile(filepath.Join(cfg.ModelDir, "quantum.json")); err != nil {
		log.Warn(ctx, "quantum model unavailable", logger.String("model_dir", cfg.ModelDir), logger.Error(err))
	} else {
		sim := kernel.NewSimulator(
			kernel.WithSeed(cfg.QuantumSeed),
			kernel.WithMaxQubits(cfg.QubitBudget),
		)
		quantum := kernel.NewQuantumEvaluator(refs, sim,
			kernel.WithShots(cfg.Shots),
			kernel.WithQubitBudget(cfg.QubitBudget),
			kernel.WithBackendTimeout(time.Duration(cfg.QuantumBackendTimeoutMS)*time.Millisecond),
		)
		opts = append(opts, app.WithSource(quantum, enc))
		sources++
		log.Info(ctx, "quantum evaluator ready",
			logger.String("backend", quantum.BackendName()),
			logger.Int("shots", cfg.Shots),
			logger.Int("qubits", cfg.QubitBudget),
		)
	}

	if sources == 0 {
		return nil, fmt.Errorf("no reference sets found under %s", cfg.ModelDir)
	}

	opts = append(opts, app.WithFusion(fusion.New(
		fusion.WithWeights(cfg.Weights()),
		fusion.WithTieBreak(mustKind(cfg.FusionTieBreak)),
	)))

	// Result cache: on-disk badger when a directory is configured, in-memory
	// otherwise.
	var store cache.Store
	if cfg.CacheDir != "" {
		badger, err := cache.NewBadgerStore(cache.BadgerConfig{Dir: cfg.CacheDir})
		if err != nil {
			log.Warn(ctx, "disk cache unavailable, using memory cache", logger.Error(err))
			store = cache.NewMemoryStore()
		} else {
			store = badger
		}
	} else {
		store = cache.NewMemoryStore()
	}
	opts = append(opts, app.WithCache(cache.New(store,
		cache.WithTTL(time.Duration(cfg.CacheTTLSeconds)*time.Second),
	)))

	// Assessment repository: SQLite when a database path is configured.
	if cfg.DatabasePath != "" {
		repo, err := repository.NewSQLiteStore(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, app.WithRepository(repo))
		log.Info(ctx, "using sqlite assessment store", logger.String("path", cfg.DatabasePath))
	} else {
		opts = append(opts, app.WithRepository(repository.NewMemoryStore()))
		log.Info(ctx, "using in-memory assessment store")
	}

	return app.New(opts...), nil
}

// registerMaintenanceJobs wires the recurring cache sweep and, when retention
// is configured, the assessment retention job.
func registerMaintenanceJobs(ctx context.Context, sched *scheduler.Scheduler, svc *app.Service, cfg *config.Config) {
	log := logger.Get()

	if err := sched.Add(cacheSweepSchedule, scheduler.JobFunc{
		JobName: "cache-sweep",
		Fn: func(ctx context.Context) error {
			n := svc.SweepCache(ctx)
			if n > 0 {
				log.Debug(ctx, "cache sweep evicted entries", logger.Int("evicted", n))
			}
			return nil
		},
	}); err != nil {
		log.Error(ctx, "failed to register cache sweep", logger.Error(err))
	}

	if cfg.RetentionDays > 0 {
		retention := time.Duration(cfg.RetentionDays) * hoursPerDay * time.Hour
		if err := sched.Add(retentionSchedule, scheduler.JobFunc{
			JobName: "assessment-retention",
			Fn: func(ctx context.Context) error {
				n, err := svc.TrimAssessments(ctx, time.Now().Add(-retention))
				if err != nil {
					return err
				}
				if n > 0 {
					log.Info(ctx, "retention removed assessments", logger.Int("removed", n))
				}
				return nil
			},
		}); err != nil {
			log.Error(ctx, "failed to register retention job", logger.Error(err))
		}
	}
}

// mustPolicy converts a validated policy string to its domain type. Load has
// already rejected unknown values.
func mustPolicy(s string) model.Policy {
	p, _ := model.ParsePolicy(s)
	return p
}

// mustKind converts a validated kind string to its domain type.
func mustKind(s string) model.Kind {
	k, _ := model.ParseKind(s)
	return k
}
