package backend

import (
	"fmt"

	"lexledger/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	cfg := Config{
		SQLiteDBPath: appConfig.SQLiteDBPath,

		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,

		Receipts:                 ReceiptBackendType(appConfig.ReceiptBackend),
		ReceiptDir:               appConfig.ReceiptDir,
		GoogleDriveFolderID:      appConfig.GoogleDriveFolderID,
		GoogleServiceAccountJSON: appConfig.GoogleServiceAccountJSON,
		GoogleServiceAccountFile: appConfig.GoogleServiceAccountFile,
		GoogleOAuthClientJSON:    appConfig.GoogleOAuthClientJSON,
		GoogleOAuthClientFile:    appConfig.GoogleOAuthClientFile,
		GoogleOAuthTokenJSON:     appConfig.GoogleOAuthTokenJSON,
		GoogleOAuthTokenFile:     appConfig.GoogleOAuthTokenFile,

		Cache:     CacheType(appConfig.ReportCache),
		RedisURL:  appConfig.RedisURL,
		CacheTTL:  appConfig.ReportCacheTTL,
		CacheSize: appConfig.ReportCacheSize,

		ReconcileInterval: appConfig.ReconcileInterval,
	}
	return cfg, cfg.Validate()
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if c.SQLiteDBPath == "" {
		return fmt.Errorf("SQLite database path is required")
	}
	if !c.Receipts.IsValid() {
		return fmt.Errorf("invalid receipt backend: %s", c.Receipts)
	}
	if !c.Cache.IsValid() {
		return fmt.Errorf("invalid report cache: %s", c.Cache)
	}

	switch c.Receipts {
	case LocalReceipts:
		if c.ReceiptDir == "" {
			return fmt.Errorf("receipt directory is required for local receipt backend")
		}
	case DriveReceipts:
		if c.GoogleDriveFolderID == "" {
			return fmt.Errorf("Google Drive folder ID is required for drive receipt backend")
		}
		oauth := c.GoogleOAuthClientJSON != "" || c.GoogleOAuthClientFile != ""
		if oauth && c.GoogleOAuthTokenJSON == "" && c.GoogleOAuthTokenFile == "" {
			return fmt.Errorf("an OAuth token is required with OAuth client credentials for drive receipt backend")
		}
		if !oauth && c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
			return fmt.Errorf("either GoogleServiceAccountJSON or GoogleServiceAccountFile must be provided for drive receipt backend")
		}
	}

	switch c.Cache {
	case RedisCache:
		if c.RedisURL == "" {
			return fmt.Errorf("Redis URL is required for redis report cache")
		}
	case MemoryCache:
		if c.CacheSize < 1 {
			return fmt.Errorf("report cache size must be at least 1")
		}
	}
	if c.Cache != NoCache && c.CacheTTL <= 0 {
		return fmt.Errorf("report cache TTL must be positive")
	}

	return nil
}
