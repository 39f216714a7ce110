package backend

import (
	"errors"
	"time"

	"lexledger/internal/amqp"
	"lexledger/internal/cache"
	"lexledger/internal/core"
	"lexledger/internal/ledger"
	"lexledger/internal/reconcile"
	"lexledger/internal/reports"
	"lexledger/internal/storage"
)

// Backend bundles the services of a running ledger.
type Backend struct {
	DB         *storage.DB
	Ledger     *ledger.Service
	Reports    *reports.Engine
	Checker    *reconcile.Checker
	Processor  *reconcile.Processor // nil when the periodic check is disabled
	Receipts   core.ReceiptStore    // nil when receipts are disabled
	Publisher  *amqp.Client         // nil when AMQP is disabled or unreachable
	CacheStore cache.Cache[[]byte]  // nil when the report cache is disabled

	cleanup []CleanupFunc
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// Close releases resources in reverse order of creation.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.cleanup) - 1; i >= 0; i-- {
		if err := b.cleanup[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.cleanup = nil
	return errors.Join(errs...)
}

func (b *Backend) onClose(fn CleanupFunc) {
	b.cleanup = append(b.cleanup, fn)
}

// Config holds configuration for backend creation
type Config struct {
	SQLiteDBPath string

	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	Receipts                 ReceiptBackendType
	ReceiptDir               string
	GoogleDriveFolderID      string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	GoogleOAuthClientJSON    string
	GoogleOAuthClientFile    string
	GoogleOAuthTokenJSON     string
	GoogleOAuthTokenFile     string

	Cache     CacheType
	RedisURL  string
	CacheTTL  time.Duration
	CacheSize int

	ReconcileInterval time.Duration
}

// ReceiptBackendType selects where receipts are stored.
type ReceiptBackendType string

const (
	NoReceipts    ReceiptBackendType = "none"
	LocalReceipts ReceiptBackendType = "local"
	DriveReceipts ReceiptBackendType = "drive"
)

// String implements fmt.Stringer
func (t ReceiptBackendType) String() string {
	return string(t)
}

// IsValid returns true if the receipt backend type is valid
func (t ReceiptBackendType) IsValid() bool {
	switch t {
	case NoReceipts, LocalReceipts, DriveReceipts:
		return true
	default:
		return false
	}
}

// CacheType selects the report cache implementation.
type CacheType string

const (
	NoCache     CacheType = "none"
	MemoryCache CacheType = "memory"
	RedisCache  CacheType = "redis"
)

func (t CacheType) String() string {
	return string(t)
}

func (t CacheType) IsValid() bool {
	switch t {
	case NoCache, MemoryCache, RedisCache:
		return true
	default:
		return false
	}
}
