package services

import (
	"context"
	"io"
	"time"

	"github.com/jorektheglitch/simplefiles/internal/models"
	"github.com/jorektheglitch/simplefiles/internal/storage"
)

// StagingArea hands out private hashing sinks for uploads
type StagingArea interface {
	Open() (*storage.StagedFile, error)
}

// ContentStore keeps one immutable blob per content hash
type ContentStore interface {
	Publish(ctx context.Context, staged *storage.StagedFile, hash string, mode storage.PublishMode) (string, error)
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// FileInfoRepository defines the interface for the dedup ledger
type FileInfoRepository interface {
	Upsert(ctx context.Context, info *models.FileInfo) (*models.FileInfo, bool, error)
	GetByHash(ctx context.Context, hash string) (*models.FileInfo, error)
}

// MediaRepository defines the interface for the media catalog
type MediaRepository interface {
	Create(ctx context.Context, media models.Media) (int64, error)
	Resolve(ctx context.Context, id int64) (models.Media, error)
	GetPreview(ctx context.Context, id int64) (*models.Preview, error)
}

// StagingCleaner removes stale staging artifacts
type StagingCleaner interface {
	Sweep(now time.Time, maxAge time.Duration) (int, error)
}
