package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Whamp/pi-brain/config"
	"github.com/Whamp/pi-brain/internal/agent"
	"github.com/Whamp/pi-brain/internal/cluster"
	"github.com/Whamp/pi-brain/internal/database"
	"github.com/Whamp/pi-brain/internal/embedding"
	"github.com/Whamp/pi-brain/internal/nodes"
	"github.com/Whamp/pi-brain/internal/patterns"
	"github.com/Whamp/pi-brain/internal/queue"
	"github.com/Whamp/pi-brain/internal/retry"
	"github.com/Whamp/pi-brain/internal/scheduler"
	"github.com/Whamp/pi-brain/internal/sweepers"
	"github.com/Whamp/pi-brain/internal/telemetry"
	"github.com/Whamp/pi-brain/internal/watcher"
	"github.com/Whamp/pi-brain/internal/worker"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := initLogger(cfg.Logging)

	logger.Info().Msg("Starting analysis daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cleanup, err := telemetry.Init(ctx, telemetry.GetConfigFromEnv())
	if err != nil {
		logger.Warn().Err(err).Msg("Telemetry disabled")
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := cleanup(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("Telemetry shutdown failed")
			}
		}()
	}

	if err := database.Connect(ctx, config.DatabasePath(), cfg.Database.BusyTimeout); err != nil {
		logger.Fatal().Err(err).Msg("Failed to open database")
	}
	defer database.Close()
	logger.Info().Str("path", config.DatabasePath()).Msg("Database connected")

	queueManager := queue.NewManager(database.DB(), logger, queue.Config{
		LeaseDuration: cfg.Queue.LeaseDuration,
		MaxRetries:    cfg.Retry.MaxRetries,
	})

	// A running row at startup is proof of a prior crash; nothing else can
	// legitimately own a lease now.
	if released, err := queueManager.ReleaseAllRunning(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to release interrupted jobs")
	} else if released > 0 {
		logger.Info().Int("released", released).Msg("Released jobs interrupted by previous run")
	}

	nodeStore := nodes.NewStore(database.DB(), logger, cfg.Scheduler.PromptVersion)
	invoker := agent.NewInvoker(cfg.Agent, logger)
	policy := retry.Policy{
		MaxRetries:        cfg.Retry.MaxRetries,
		BaseDelay:         time.Duration(cfg.Retry.BaseDelaySeconds) * time.Second,
		MaxDelay:          time.Duration(cfg.Retry.MaxDelaySeconds) * time.Second,
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
	}

	provider := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		BaseURL:           cfg.Embedding.BaseURL,
		APIKey:            cfg.Embedding.APIKey,
		Model:             cfg.Embedding.Model,
		Dimension:         cfg.Embedding.Dimension,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
	})
	backfiller := embedding.NewBackfiller(database.DB(), provider,
		cfg.Scheduler.BackfillBatchSize, cfg.Scheduler.BackfillLimit)
	clusterEngine := cluster.NewEngine(backfiller, logger, cluster.Config{})
	aggregator := patterns.NewAggregator(database.DB(), logger)

	sched := scheduler.New(cfg.Scheduler, logger, queueManager, nodeStore,
		aggregator, clusterEngine, backfiller)

	sessionWatcher, err := watcher.New(cfg.Watcher.SessionDirs, cfg.Watcher.IdleWindow,
		onSessionIdle(ctx, queueManager, logger), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create session watcher")
	}

	sweeper := sweepers.NewLeaseSweeper(queueManager, logger, cfg.Queue.SweepInterval)

	hooks := worker.Hooks{
		OnNodeCreated: func(job *queue.Job, nodeID string) {
			logger.Debug().Str("job_id", job.ID).Str("node_id", nodeID).Msg("Analysis persisted")
		},
		OnJobFailed: func(job *queue.Job, jobErr queue.JobError) {
			logger.Warn().
				Str("job_id", job.ID).
				Str("session_file", job.SessionFile).
				Str("error", jobErr.Message).
				Msg("Job gave up")
		},
	}

	parallel := cfg.Worker.ParallelWorkers
	if parallel <= 0 {
		parallel = 1
	}

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < parallel; i++ {
		w := worker.New(worker.Config{
			ID:           fmt.Sprintf("worker-%d", i+1),
			PollInterval: cfg.Worker.PollInterval,
			Policy:       policy,
		}, invoker, nodeStore, hooks, logger)
		w.Initialize(queueManager)
		g.Go(func() error { return w.Start(gctx) })
	}

	g.Go(func() error {
		sweeper.Start(gctx)
		return nil
	})

	g.Go(func() error { return sessionWatcher.Start(gctx) })

	sched.Start(gctx)

	if cfg.Metrics.Enabled {
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics.Addr, logger) })
	}

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		logger.Error().Err(err).Msg("Daemon component failed")
	}

	logger.Info().Msg("Daemon exited")
}

// onSessionIdle enqueues an initial analysis job for an idle session file,
// skipping files that already have one in flight.
func onSessionIdle(ctx context.Context, q *queue.Manager, logger *zerolog.Logger) watcher.OnIdleFunc {
	return func(sessionFile string) {
		exists, err := q.HasExistingJob(ctx, sessionFile)
		if err != nil {
			logger.Error().Err(err).Str("session_file", sessionFile).Msg("Dedup check failed")
			return
		}
		if exists {
			logger.Debug().Str("session_file", sessionFile).Msg("Job already queued for session")
			return
		}

		id, err := q.Enqueue(ctx, queue.EnqueueInput{
			Type:        queue.TypeInitial,
			SessionFile: sessionFile,
		})
		if err != nil {
			logger.Error().Err(err).Str("session_file", sessionFile).Msg("Failed to enqueue idle session")
			return
		}
		logger.Info().Str("job_id", id).Str("session_file", sessionFile).Msg("Enqueued idle session")
	}
}

func serveMetrics(ctx context.Context, addr string, logger *zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("Metrics listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics listener: %w", err)
	}
	return nil
}

func initLogger(cfg config.LoggingConfig) *zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsedLevel, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsedLevel
		}
	}

	var output io.Writer = os.Stdout
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, NoColor: cfg.NoColor}
	}

	log := zerolog.New(output).Level(level).With().Timestamp().Logger()
	return &log
}
