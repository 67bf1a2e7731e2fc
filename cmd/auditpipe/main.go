// Package main is the entry point for the audit pipeline process. It wires
// the four background engines (ingest queue, event relay, SLA reconciler,
// retention enforcer) over shared storage and runs them until shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/auditpipe/internal/audit"
	"github.com/onnwee/auditpipe/internal/config"
	"github.com/onnwee/auditpipe/internal/db"
	"github.com/onnwee/auditpipe/internal/health"
	"github.com/onnwee/auditpipe/internal/ingest"
	"github.com/onnwee/auditpipe/internal/jobs"
	"github.com/onnwee/auditpipe/internal/logging"
	"github.com/onnwee/auditpipe/internal/ops"
	"github.com/onnwee/auditpipe/internal/relay"
	"github.com/onnwee/auditpipe/internal/retention"
	"github.com/onnwee/auditpipe/internal/sla"
	"github.com/onnwee/auditpipe/internal/tracing"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Audit Pipeline")
		fmt.Println()
		fmt.Println("Usage: auditpipe [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config:", err)
		}
		os.Exit(1)
	}

	logger := logging.New(cfg.Env)
	slog.SetDefault(logger)

	tp, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "auditpipe",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.TracingOTLPEndpoint,
		SamplingRate: cfg.TracingSamplingRate,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage collaborator: Postgres when configured, in-memory otherwise.
	var recordStore audit.Store
	var caseStore sla.Store
	checkers := map[string]ops.Checker{}
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		recordStore = audit.NewPostgresStore(pool)
		caseStore = sla.NewPostgresStore(pool)
		checkers["db"] = health.NewDBChecker(pool)
	} else {
		logger.Warn("no DATABASE_URL configured, using in-memory storage")
		recordStore = audit.NewMemoryStore()
		caseStore = sla.NewMemoryStore()
	}

	// Event dedup: Redis when configured, in-process otherwise.
	var dedup relay.Deduper
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("failed to parse REDIS_URL", "error", err)
			os.Exit(1)
		}
		client := redis.NewClient(opt)
		defer client.Close()
		dedup = relay.NewRedisDeduper(client, 0)
		checkers["redis"] = health.NewRedisChecker(client)
	} else {
		dedup = relay.NewMemoryDeduper(0)
	}

	registry := prometheus.NewRegistry()
	metrics := jobs.NewMetrics()
	if err := metrics.Register(registry); err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	// Ingest queue: the shared write path for the relay, the reconciler's
	// escalation records, and any embedded callers.
	queue := ingest.NewQueue(recordStore, logger, metrics, ingest.Config{
		Capacity:     cfg.IngestCapacity,
		BatchSize:    cfg.IngestBatchSize,
		BatchAge:     cfg.IngestBatchAge,
		FlushTimeout: cfg.IngestFlushTimeout,
	})
	queue.Start(ctx)

	reconciler := sla.NewReconciler(caseStore, queue, logger, metrics, sla.ReconcilerConfig{
		Interval:   cfg.SlaInterval,
		BatchSize:  cfg.SlaBatchSize,
		RetryDelay: cfg.SlaRetryDelay,
		Thresholds: sla.Thresholds{
			WarnWithin:     cfg.SlaWarnWithin,
			CriticalWithin: cfg.SlaCriticalWithin,
		},
	})
	reconciler.Start(ctx)

	policy := retention.Policy{
		ArchiveAfter: cfg.ArchiveAfter,
		RetainFor:    cfg.RetainFor,
		Destination:  cfg.ArchiveDestination,
		AutoDelete:   cfg.AutoDelete,
		Format:       audit.ExportFormat(cfg.ArchiveFormat),
	}
	if err := policy.Validate(); err != nil {
		logger.Error("invalid retention policy", "error", err)
		os.Exit(1)
	}
	var sink retention.Sink
	if policy.ArchiveEnabled() {
		sink, err = retention.NewS3Sink(retention.S3SinkConfig{
			BucketName:      cfg.ArchiveBucket,
			AccessKeyID:     cfg.ArchiveAccessKeyID,
			SecretAccessKey: cfg.ArchiveSecretAccessKey,
			Endpoint:        cfg.ArchiveEndpoint,
		})
		if err != nil {
			logger.Error("failed to create archive sink", "error", err)
			os.Exit(1)
		}
	}
	enforcer := retention.NewEnforcer(recordStore, sink, policy, logger, metrics, retention.EnforcerConfig{
		Interval:        cfg.RetentionInterval,
		DeleteBatchSize: cfg.DeleteBatchSize,
		PacingDelay:     cfg.DeletePacingDelay,
		RetryDelay:      cfg.RetentionRetryDelay,
	})
	enforcer.Start(ctx)

	if cfg.StreamURL != "" {
		r, err := relay.NewRelay(relay.DefaultStreamConfig(cfg.StreamURL), queue, dedup, logger, metrics)
		if err != nil {
			logger.Error("failed to create event relay", "error", err)
			os.Exit(1)
		}
		go func() {
			// Run blocks until shutdown; the relay reconnects on its own.
			if err := r.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("event relay exited", "error", err)
			}
		}()
	} else {
		logger.Warn("no STREAM_URL configured, event relay disabled")
	}

	server := ops.NewServer(cfg.MetricsAddr, registry, cfg.InternalToken, checkers, logger)
	go func() {
		logger.Info("starting ops server", "addr", cfg.MetricsAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	cancel()

	// Engines finish in-flight work but start nothing new. The queue drains
	// and flushes records already accepted.
	queue.Close()
	reconciler.Stop()
	enforcer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server forced to shutdown", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown failed", "error", err)
	}

	logger.Info("pipeline stopped")
}
