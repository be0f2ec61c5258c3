// Package storage は商品画像の保存先（ローカルディスク / S3互換）。
package storage

import (
	"context"
	"fmt"

	"storefront/internal/config"
	repo "storefront/internal/repository"
)

// New は STORAGE_DISK に応じた実装を返す。
func New(ctx context.Context, cfg config.Config) (repo.ObjectStorage, error) {
	switch cfg.StorageDisk {
	case "local":
		return NewLocal(cfg.StorageLocalRoot, cfg.StorageURL)
	case "s3":
		return NewS3(ctx, S3Options{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Key:      cfg.S3Key,
			Secret:   cfg.S3Secret,
			Endpoint: cfg.S3Endpoint,
			BaseURL:  cfg.S3URL,
		})
	default:
		return nil, fmt.Errorf("storage: unsupported disk %q", cfg.StorageDisk)
	}
}
