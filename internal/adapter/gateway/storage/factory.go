package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/deerun/internal/app/config"
	"github.com/YoshitsuguKoike/deerun/internal/domain/repository"
)

// Storage backends accepted by the storage.backend setting
const (
	BackendFS = "fs"
	BackendS3 = "s3"
)

// NewArtifactStore creates the artifact store selected by cfg
func NewArtifactStore(ctx context.Context, cfg config.Config, fs afero.Fs) (repository.ArtifactStore, error) {
	switch strings.ToLower(cfg.StorageBackend()) {
	case "", BackendFS:
		return NewFSStore(fs, cfg.Root()), nil
	case BackendS3:
		return NewS3Store(ctx, S3Config{
			BucketName: cfg.StorageBucket(),
			Prefix:     cfg.StoragePrefix(),
			Region:     cfg.StorageRegion(),
		})
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend())
	}
}
