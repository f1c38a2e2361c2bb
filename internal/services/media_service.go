package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jorektheglitch/simplefiles/internal/common"
	"github.com/jorektheglitch/simplefiles/internal/models"
	"github.com/jorektheglitch/simplefiles/internal/storage"
	"go.uber.org/zap"
)

// Content is an opened blob together with its transfer headers.
// The caller must close Body.
type Content struct {
	Body        io.ReadCloser
	Name        string
	ContentType string
	Size        int64
	Hash        string
	LoadedAt    time.Time
}

// MediaService resolves media identities to metadata or content
type MediaService struct {
	medias    MediaRepository
	fileInfos FileInfoRepository
	store     ContentStore
	logger    *zap.Logger
}

// NewMediaService creates a new media service
func NewMediaService(medias MediaRepository, fileInfos FileInfoRepository, store ContentStore, logger *zap.Logger) *MediaService {
	return &MediaService{
		medias:    medias,
		fileInfos: fileInfos,
		store:     store,
		logger:    logger,
	}
}

// GetMetadata returns the rendered attributes of media id
func (s *MediaService) GetMetadata(ctx context.Context, id int64) (map[string]any, error) {
	m, err := s.medias.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	return models.Render(m), nil
}

// GetPreview returns the preview record of id
func (s *MediaService) GetPreview(ctx context.Context, id int64) (map[string]any, error) {
	p, err := s.medias.GetPreview(ctx, id)
	if err != nil {
		return nil, err
	}
	return models.Render(p), nil
}

// GetContent opens the blob of media id
func (s *MediaService) GetContent(ctx context.Context, id int64) (*Content, error) {
	m, err := s.medias.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	base := m.Base()

	info, err := s.fileInfos.GetByHash(ctx, base.FileHash)
	if err != nil {
		s.logger.Error("media references missing file info", zap.Int64("id", id), zap.String("hash", base.FileHash), zap.Error(err))
		return nil, fmt.Errorf("failed to get file info of media %d: %w", id, err)
	}

	body, err := s.store.Open(ctx, info.Location)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			s.logger.Error("blob is missing", zap.Int64("id", id), zap.String("hash", info.Hash))
		}
		return nil, fmt.Errorf("%w: %w", common.ErrStorageIO, err)
	}

	return &Content{
		Body:        body,
		Name:        base.Name,
		ContentType: models.ContentTypeOf(m),
		Size:        info.Size,
		Hash:        info.Hash,
		LoadedAt:    base.LoadedAt,
	}, nil
}
