// Package app holds the fx wiring shared by the API server and the
// maintenance CLI.
package app

import (
	"context"
	"fmt"
	"time"

	common_models "go-evidence/internal/common/models"
	"go-evidence/internal/config"
	"go-evidence/internal/database"
	"go-evidence/internal/features/audit"
	"go-evidence/internal/features/file"
	"go-evidence/internal/features/lifecycle"
	"go-evidence/internal/features/notification"
	"go-evidence/internal/features/processing"
	"go-evidence/internal/logger"
	"go-evidence/internal/storage"
	"go-evidence/pkg/utils"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const memoryQueueBuffer = 1000

// Core is everything needed to read records, touch blobs and run sweeps.
var Core = fx.Options(
	fx.Provide(
		config.LoadConfig,
		logger.NewLogger,
		logger.NewAuditLogger,
		database.NewDatabase,
		NewBlobManager,

		file.NewFileRepository,
		audit.NewAuditRepository,
		notification.NewNotificationRepository,
		lifecycle.NewSweepRunRepository,

		audit.NewAuditService,
		notification.NewDispatcher,

		// Interface adapters
		func(s audit.AuditService) file.SecurityAuditor { return s },
		func(d *notification.Dispatcher) notification.Notifier { return d },

		lifecycle.NewSweeperOptions,
		lifecycle.NewSweeper,
		lifecycle.NewLifecycleService,
	),
	fx.Invoke(
		func(cfg *config.Config) { utils.SetSecret(cfg.JWTSecret) },
		InitializeIndexes,
	),
)

// Processing adds the upload path and the background workers.
var Processing = fx.Options(
	fx.Provide(
		file.NewConfiguredValidator,
		processing.NewScanner,
		processing.NewPipelineOptions,
		processing.NewPipeline,
		NewQueue,
		file.NewFileService,
	),
)

// NewBlobManager registers the configured backend as the default. The local
// backend is always registered so records written before a backend switch
// stay readable.
func NewBlobManager(cfg *config.Config, log *zap.Logger) (*storage.Manager, error) {
	m := storage.NewManager(storage.ManagerOptions{
		Timeout:      cfg.BlobTimeout,
		ReadAttempts: cfg.BlobReadRetries,
	}, log)

	switch cfg.StorageBackend {
	case config.StorageMemory:
		m.Register(config.StorageMemory, storage.NewMemoryStore())
	case config.StorageS3:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s3Store, err := storage.NewS3Store(ctx, storage.S3Options{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		m.Register(config.StorageS3, s3Store)
	}

	local, err := storage.NewLocalStore(cfg.FSPath)
	if err != nil {
		return nil, err
	}
	m.Register(config.StorageLocal, local)

	log.Info("Blob storage ready",
		zap.String("default", m.Default()),
		zap.String("fs_path", cfg.FSPath),
	)
	return m, nil
}

// NewQueue picks the processing queue and ties its workers to the app
// lifecycle. The redis driver runs the asynq worker in-process.
func NewQueue(lc fx.Lifecycle, cfg *config.Config, pipeline *processing.Pipeline, log *zap.Logger) file.Enqueuer {
	if cfg.QueueDriver == config.QueueRedis {
		q := processing.NewAsynqQueue(cfg, log)
		w := processing.NewAsynqWorker(cfg, pipeline.ProcessFile, log)
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return w.Start()
			},
			OnStop: func(ctx context.Context) error {
				w.Stop()
				return q.Close()
			},
		})
		return q
	}

	q := processing.NewMemoryQueue(pipeline.ProcessFile, cfg.QueueConcurrency, memoryQueueBuffer, log)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Workers outlive the start context.
			q.Start(context.Background())
			return nil
		},
		OnStop: q.Stop,
	})
	return q
}

// InitializeIndexes migrates SQL tables and ensures Mongo indexes before the
// server accepts traffic.
func InitializeIndexes(lc fx.Lifecycle, db *database.Database, files file.FileRepository, runs lifecycle.SweepRunRepository, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()

			if db.SQL != nil {
				if err := db.SQL.WithContext(ctx).AutoMigrate(&common_models.AuditLog{}, &notification.Notification{}); err != nil {
					return fmt.Errorf("migrate audit and notification tables: %w", err)
				}
			}
			if err := files.EnsureIndexes(ctx); err != nil {
				return fmt.Errorf("ensure file indexes: %w", err)
			}
			if err := runs.EnsureIndexes(ctx); err != nil {
				return fmt.Errorf("ensure sweep run indexes: %w", err)
			}
			log.Info("Database schema ready", zap.String("driver", db.Driver))
			return nil
		},
	})
}
