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

// DefaultChunkSize is the read size used when streaming an upload into staging
const DefaultChunkSize = 1024

// IngestInput is one upload part
type IngestInput struct {
	Name        string
	ContentType string
	Body        io.Reader
	// Attributes are applied when they fit the kind of the upload
	Attributes models.Attributes
}

// IngestResult describes a committed upload
type IngestResult struct {
	ID         int64          `json:"id"`
	Name       string         `json:"name"`
	Kind       models.Kind    `json:"kind"`
	Subtype    models.Subtype `json:"subtype"`
	Hash       string         `json:"hash"`
	Size       int64          `json:"size"`
	Reconciled bool           `json:"reconciled"`
}

// IngestService stores uploads by content hash and catalogs them as media
type IngestService struct {
	staging   StagingArea
	store     ContentStore
	fileInfos FileInfoRepository
	medias    MediaRepository
	chunkSize int
	logger    *zap.Logger
	now       func() time.Time
}

// NewIngestService creates a new ingest service
func NewIngestService(staging StagingArea, store ContentStore, fileInfos FileInfoRepository, medias MediaRepository, chunkSize int, logger *zap.Logger) *IngestService {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &IngestService{
		staging:   staging,
		store:     store,
		fileInfos: fileInfos,
		medias:    medias,
		chunkSize: chunkSize,
		logger:    logger,
		now:       time.Now,
	}
}

// Ingest streams in.Body through a staging file, publishes it under its hash,
// registers the hash and creates the media record.
//
// A failure before the media insert leaves no media row. A failure of the
// media insert keeps the published blob and its file info for later reuse.
func (s *IngestService) Ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("%w: missing filename", common.ErrValidation)
	}
	if in.Body == nil {
		return nil, fmt.Errorf("%w: missing content", common.ErrValidation)
	}
	ct, err := models.ParseContentType(in.ContentType)
	if err != nil {
		return nil, err
	}

	staged, err := s.staging.Open()
	if err != nil {
		s.logger.Error("failed to open staging file", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", common.ErrStorageIO, err)
	}
	defer staged.Release()

	if err := s.stream(ctx, staged, in.Body); err != nil {
		return nil, err
	}
	if err := staged.Close(); err != nil {
		s.logger.Error("failed to close staging file", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", common.ErrStorageIO, err)
	}
	digest, size, err := staged.Sum()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrStorageIO, err)
	}
	hash := digest.String()

	location, err := s.store.Publish(ctx, staged, hash, storage.PublishIdempotent)
	if err != nil {
		s.logger.Error("failed to publish blob", zap.String("hash", hash), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", common.ErrStorageIO, err)
	}

	info, reconciled, err := s.fileInfos.Upsert(ctx, &models.FileInfo{Hash: hash, Location: location, Size: size})
	if err != nil {
		s.logger.Error("failed to register file info", zap.String("hash", hash), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", common.ErrCatalogWrite, err)
	}

	if !ct.Recognized && ct.Kind != models.KindApplication {
		s.logger.Debug("Storing unrecognized subtype verbatim",
			zap.String("kind", string(ct.Kind)),
			zap.String("subtype", string(ct.Subtype)),
		)
	}

	media, err := models.NewMedia(ct.Kind, models.MediaBase{
		Name:     in.Name,
		Subtype:  ct.Subtype,
		LoadedAt: s.now().UTC(),
		FileHash: info.Hash,
		Info:     info,
	}, in.Attributes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrValidation, err)
	}

	id, err := s.medias.Create(ctx, media)
	if err != nil {
		s.logger.Error("failed to create media",
			zap.String("hash", hash),
			zap.String("name", in.Name),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", common.ErrCatalogWrite, err)
	}

	s.logger.Info("Media ingested",
		zap.Int64("id", id),
		zap.String("name", in.Name),
		zap.String("content_type", ct.String()),
		zap.String("hash", hash),
		zap.Int64("size", info.Size),
		zap.Bool("reconciled", reconciled),
	)

	return &IngestResult{
		ID:         id,
		Name:       in.Name,
		Kind:       ct.Kind,
		Subtype:    ct.Subtype,
		Hash:       info.Hash,
		Size:       info.Size,
		Reconciled: reconciled,
	}, nil
}

// stream copies src into dst in chunkSize reads, stopping when ctx is done
func (s *IngestService) stream(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, s.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("upload aborted: %w", err)
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				s.logger.Error("failed to write staging file", zap.Error(err))
				return fmt.Errorf("%w: %w", common.ErrStorageIO, err)
			}
		}
		if errors.Is(readErr, io.EOF) {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("upload aborted: %w", readErr)
		}
	}
}
