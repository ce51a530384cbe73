// Package backup keeps the last known good upstream payload of every table so a
// failed refresh can fall back to it.
package backup

import (
	"context"
	"errors"
	"fmt"

	"github.com/codefordc/housing-insights-loader/internal/config"
)

// ErrNoBackup is returned by Load when no snapshot exists for a table
var ErrNoBackup = errors.New("no backup snapshot")

// Store persists raw dataset snapshots keyed by table identifier
//
//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/codefordc/housing-insights-loader/internal/backup Store
type Store interface {
	// Save replaces the snapshot of a table
	Save(ctx context.Context, table string, data []byte) error

	// Load returns the snapshot of a table, or ErrNoBackup
	Load(ctx context.Context, table string) ([]byte, error)
}

// NewStore builds the store described by cfg. A nil cfg yields a store that
// never has a snapshot, so loaders simply report failure without fallback.
func NewStore(ctx context.Context, cfg *config.BackupConfig) (Store, error) {
	if cfg == nil {
		return NopStore{}, nil
	}

	switch cfg.Type {
	case config.BackupTypeFile:
		return NewFileStore(cfg.Dir)
	case config.BackupTypeS3:
		if cfg.S3 == nil {
			return nil, fmt.Errorf("s3 backup requires an s3 section")
		}
		accessKey, secretKey, err := cfg.S3.GetCredentials()
		if err != nil {
			return nil, err
		}
		return NewS3Store(ctx, S3Options{
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Prefix:    cfg.S3.Prefix,
			UseSSL:    cfg.S3.UseSSL,
			AccessKey: accessKey,
			SecretKey: secretKey,
		})
	default:
		return nil, fmt.Errorf("unsupported backup type: %s", cfg.Type)
	}
}

// NopStore discards snapshots
type NopStore struct{}

// Save does nothing
func (NopStore) Save(context.Context, string, []byte) error { return nil }

// Load always returns ErrNoBackup
func (NopStore) Load(_ context.Context, table string) ([]byte, error) {
	return nil, fmt.Errorf("%w for table %s", ErrNoBackup, table)
}

func objectName(table string) (string, error) {
	if table == "" {
		return "", fmt.Errorf("table name cannot be empty")
	}
	for _, r := range table {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return "", fmt.Errorf("invalid table name %q", table)
		}
	}
	return table + ".json", nil
}
