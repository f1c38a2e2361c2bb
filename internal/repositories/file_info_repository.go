package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jorektheglitch/simplefiles/internal/common"
	"github.com/jorektheglitch/simplefiles/internal/models"
	"go.uber.org/zap"
)

// fileInfoRepository is the dedup ledger: one files_info row per content hash
type fileInfoRepository struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
}

// NewFileInfoRepository creates a new file info repository
func NewFileInfoRepository(db *sql.DB, dialect Dialect, logger *zap.Logger) *fileInfoRepository {
	return &fileInfoRepository{
		db:      db,
		dialect: dialect,
		logger:  logger,
	}
}

// Upsert inserts info unless a row with the same hash exists, and returns the
// row that holds the hash afterwards. reconciled is true when the existing row
// won, either from an earlier upload or a concurrent one.
//
// The statement commits on its own: a published blob stays registered even if
// the media record that follows it fails.
func (r *fileInfoRepository) Upsert(ctx context.Context, info *models.FileInfo) (*models.FileInfo, bool, error) {
	result, err := r.db.ExecContext(ctx, r.dialect.insertIgnoreHash(), info.Hash, info.Location, info.Size)
	if err != nil {
		r.logger.Error("failed to insert file info", zap.String("hash", info.Hash), zap.Error(err))
		return nil, false, fmt.Errorf("failed to insert file info: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if inserted > 0 {
		stored := *info
		return &stored, false, nil
	}

	existing, err := r.GetByHash(ctx, info.Hash)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read reconciled file info: %w", err)
	}
	return existing, true, nil
}

// GetByHash retrieves the file info of hash
func (r *fileInfoRepository) GetByHash(ctx context.Context, hash string) (*models.FileInfo, error) {
	query := r.dialect.Rebind(`
		SELECT hash, location, size
		FROM files_info
		WHERE hash = ?
	`)

	info := &models.FileInfo{}
	err := r.db.QueryRowContext(ctx, query, hash).Scan(&info.Hash, &info.Location, &info.Size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: file info %s", common.ErrNotFound, hash)
	}
	if err != nil {
		r.logger.Error("failed to get file info", zap.String("hash", hash), zap.Error(err))
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	return info, nil
}
