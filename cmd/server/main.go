package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"compliance-core/internal/api"
	"compliance-core/internal/audit"
	"compliance-core/internal/auth"
	"compliance-core/internal/config"
	"compliance-core/internal/database"
	"compliance-core/internal/deletion"
	"compliance-core/internal/encryption"
	"compliance-core/internal/export"
	"compliance-core/internal/metrics"
	"compliance-core/internal/retention"
	"compliance-core/internal/server"
	"compliance-core/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("compliance-core exited with error", err, nil)
	}
}

// run wires the services and blocks until ctx is cancelled
func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	engine, err := encryption.NewEngine(cfg.Encryption, encryption.WithLogger(log), encryption.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("failed to initialise encryption engine: %w", err)
	}
	log.Info("Encryption engine ready", map[string]interface{}{"key_version": engine.KeyInfo().CurrentVersion})

	db, err := database.NewMongoDB(database.ConfigFrom(cfg.Database))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.Close(closeCtx); err != nil {
			log.Warn("Failed to close MongoDB connection", map[string]interface{}{"error": err.Error()})
		}
	}()

	auditRepo := audit.NewMongoRepository(db.Database)
	deletionRepo := deletion.NewMongoRepository(db.Database)
	batchRepo := retention.NewMongoBatchRepository(db.Database)

	indexCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = database.EnsureIndexes(indexCtx, auditRepo, deletionRepo, batchRepo)
	cancel()
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		if redisClient, err = database.NewRedisClient(cfg.Redis); err != nil {
			return err
		}
		defer redisClient.Close()
	}

	auditService := audit.NewService(auditRepo, audit.WithLogger(log), audit.WithMetrics(m))

	registry, err := loadRegistry(cfg.Deletion)
	if err != nil {
		return err
	}

	deletionOpts := []deletion.Option{deletion.WithLogger(log), deletion.WithMetrics(m)}
	retentionOpts := []retention.Option{
		retention.WithPolicy(retention.PolicyFromConfig(cfg.Retention)),
		retention.WithBatchRepository(batchRepo),
		retention.WithLogger(log),
		retention.WithMetrics(m),
	}
	var revocations auth.RevocationStore = auth.NewMemoryRevocationStore()
	if redisClient != nil {
		revocations = auth.NewRedisRevocationStore(redisClient, "")
		deletionOpts = append(deletionOpts, deletion.WithLocker(deletion.NewRedisLocker(redisClient, ""), cfg.Deletion.LockTTL))
		retentionOpts = append(retentionOpts, retention.WithJobStore(retention.NewRedisJobStore(redisClient, "")))
	}

	orchestrator := deletion.NewOrchestrator(registry, deletionRepo, auditService, deletionOpts...)
	storage := retention.NewGridFSStorage(db.Database, cfg.Database.ArchiveBucket)
	retentionService := retention.NewService(auditService, auditRepo, storage, retentionOpts...)
	exportService := export.NewService(auditService, export.WithLogger(log))

	srv := server.New(cfg, log, reg)
	srv.AddHealthCheck("mongodb", db.HealthCheck)
	if redisClient != nil {
		srv.AddHealthCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	srv.AddHealthCheck("encryption", func(ctx context.Context) error {
		value, err := engine.Encrypt("health")
		if err != nil {
			return err
		}
		_, err = engine.Decrypt(value)
		return err
	})

	api.SetupRoutes(srv.Router(), &api.RouterConfig{
		JWT:              auth.NewJWTService(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, cfg.Security.TokenTTL),
		Authorizer:       auth.NewAuthorizer(),
		Revocations:      revocations,
		AuditService:     auditService,
		ExportService:    exportService,
		DeletionService:  orchestrator,
		RetentionService: retentionService,
		Logger:           log,
		AllowedOrigins:   cfg.Security.AllowedOrigins,
	})

	if cfg.Retention.SchedulerEnabled {
		scheduler := retention.NewScheduler(retentionService, cfg.Retention.ArchiveInterval, cfg.Retention.CleanupInterval, log)
		go func() {
			if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Retention scheduler stopped", err, nil)
			}
		}()
	}

	return srv.Run(ctx)
}

// loadRegistry loads the deletion policy file, or the built-in policies when none is configured
func loadRegistry(cfg config.DeletionConfig) (*deletion.Registry, error) {
	registry := deletion.NewRegistry()
	if cfg.PolicyFile != "" {
		if err := registry.LoadFile(cfg.PolicyFile); err != nil {
			return nil, fmt.Errorf("failed to load deletion policies from %s: %w", cfg.PolicyFile, err)
		}
		return registry, nil
	}

	for _, policy := range deletion.DefaultPolicies() {
		if err := registry.Register(policy); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
