package backend

import (
	"context"
	"fmt"
	"time"

	"lexledger/internal/amqp"
	"lexledger/internal/cache"
	"lexledger/internal/core"
	"lexledger/internal/ledger"
	"lexledger/internal/log"
	"lexledger/internal/receipts/drive"
	"lexledger/internal/receipts/localfs"
	"lexledger/internal/reconcile"
	"lexledger/internal/reports"
	"lexledger/internal/storage"
)

const (
	redisNamespace       = "lexledger:reports"
	cacheCleanupInterval = 10 * time.Minute
)

// Factory builds a Backend from configuration.
type Factory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) *Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Factory{logger: logger.WithComponent(log.ComponentBackend)}
}

// Create opens the database and wires every service on top of it. On
// failure whatever was opened so far is closed again.
func (f *Factory) Create(ctx context.Context, config Config) (_ *Backend, err error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	b := &Backend{}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()

	b.DB, err = storage.Open(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite database: %w", err)
	}
	b.onClose(b.DB.Close)
	f.logger.InfoContext(ctx, "Opened ledger database",
		"db_path", config.SQLiteDBPath, "schema_version", b.DB.SchemaVersion())

	if b.Receipts, err = f.createReceipts(ctx, config); err != nil {
		return nil, err
	}

	// AMQP is optional; a broker that is down at startup only disables events.
	if config.AMQPURL != "" {
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without events", log.FieldError, err)
		} else {
			client.SetLogger(f.logger.WithComponent(log.ComponentAMQP))
			b.Publisher = client
			b.onClose(client.Close)
			f.logger.InfoContext(ctx, "Initialized AMQP client",
				"exchange", config.AMQPExchange, "queue", config.AMQPQueue)
		}
	}

	if b.CacheStore, err = f.createCache(ctx, config, b); err != nil {
		return nil, err
	}

	b.Reports = reports.NewEngine(b.DB, b.CacheStore, f.logger.WithComponent(log.ComponentReports))

	deps := ledger.Deps{
		Receipts: b.Receipts,
		Cache:    b.Reports,
		Logger:   f.logger.WithComponent(log.ComponentLedger),
	}
	checkerDeps := reconcile.Deps{
		Cache:  b.Reports,
		Logger: f.logger.WithComponent(log.ComponentReconcile),
	}
	if b.Publisher != nil {
		deps.Publisher = b.Publisher
		checkerDeps.Publisher = b.Publisher
	}
	b.Ledger = ledger.NewService(b.DB, deps)
	b.Checker = reconcile.NewChecker(b.DB, checkerDeps)

	if config.ReconcileInterval > 0 {
		pcfg := reconcile.DefaultProcessorConfig()
		pcfg.Interval = config.ReconcileInterval
		b.Processor = reconcile.NewProcessor(b.Checker, pcfg)
	}

	f.logger.InfoContext(ctx, "Initialized ledger backend",
		"receipts", config.Receipts.String(),
		"report_cache", config.Cache.String(),
		"amqp_enabled", b.Publisher != nil,
		"reconcile_interval", config.ReconcileInterval.String())
	return b, nil
}

func (f *Factory) createReceipts(ctx context.Context, config Config) (core.ReceiptStore, error) {
	switch config.Receipts {
	case LocalReceipts:
		store, err := localfs.New(config.ReceiptDir)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local receipt store: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized local receipt store", "dir", config.ReceiptDir)
		return store, nil
	case DriveReceipts:
		store, err := drive.New(ctx, drive.Config{
			FolderID:        config.GoogleDriveFolderID,
			CredentialsJSON: config.GoogleServiceAccountJSON,
			CredentialsFile: config.GoogleServiceAccountFile,
			OAuthClientJSON: config.GoogleOAuthClientJSON,
			OAuthClientFile: config.GoogleOAuthClientFile,
			OAuthTokenJSON:  config.GoogleOAuthTokenJSON,
			OAuthTokenFile:  config.GoogleOAuthTokenFile,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google Drive receipt store: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized Google Drive receipt store", "folder_id", config.GoogleDriveFolderID)
		return store, nil
	}
	return nil, nil
}

func (f *Factory) createCache(ctx context.Context, config Config, b *Backend) (cache.Cache[[]byte], error) {
	switch config.Cache {
	case MemoryCache:
		lru := cache.NewLRUCache[[]byte](config.CacheSize, config.CacheTTL)
		manager := cache.NewManager()
		manager.Register(lru)
		manager.StartCleanup(cacheCleanupInterval)
		b.onClose(func() error {
			manager.Stop()
			return nil
		})
		return lru, nil
	case RedisCache:
		rc, err := cache.NewRedisCache(ctx, config.RedisURL, redisNamespace, config.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis report cache: %w", err)
		}
		rc.SetLogger(f.logger)
		b.onClose(rc.Close)
		return rc, nil
	}
	return nil, nil
}
