package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jorektheglitch/simplefiles/internal/common"
	"github.com/jorektheglitch/simplefiles/internal/models"
	"go.uber.org/zap"
)

// mediaLoader reads the full record of a media whose kind is already known
type mediaLoader func(ctx context.Context, id int64) (models.Media, error)

// mediaRepository is the media catalog. Every media has a row in medias and
// one row in the table of its kind, joined by (id, kind).
type mediaRepository struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
	loaders map[models.Kind]mediaLoader
}

// NewMediaRepository creates a new media repository
func NewMediaRepository(db *sql.DB, dialect Dialect, logger *zap.Logger) *mediaRepository {
	r := &mediaRepository{
		db:      db,
		dialect: dialect,
		logger:  logger,
	}
	r.loaders = map[models.Kind]mediaLoader{
		models.KindApplication: r.loadFile,
		models.KindAudio:       r.loadAudio,
		models.KindImage:       r.loadImage,
		models.KindVideo:       r.loadVideo,
	}
	return r
}

// Create inserts the base row and the kind row of m in one transaction and
// sets the generated id on m.
func (r *mediaRepository) Create(ctx context.Context, m models.Media) (int64, error) {
	base := m.Base()
	if base.LoadedAt.IsZero() {
		base.LoadedAt = time.Now()
	}
	base.LoadedAt = base.LoadedAt.UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := r.dialect.insertID(ctx, tx, `
		INSERT INTO medias (media_type, subtype, name, file_hash, loaded_at)
		VALUES (?, ?, ?, ?, ?)`,
		"media_id",
		string(m.Kind()), string(base.Subtype), base.Name, base.FileHash, base.LoadedAt,
	)
	if err != nil {
		r.logger.Error("failed to insert media", zap.String("hash", base.FileHash), zap.Error(err))
		return 0, fmt.Errorf("failed to insert media: %w", err)
	}

	var query string
	var args []any
	switch v := m.(type) {
	case *models.File:
		query = `INSERT INTO files (file_id, file_type) VALUES (?, ?)`
		args = []any{id, string(models.KindApplication)}
	case *models.Audio:
		query = `
			INSERT INTO audios (audio_id, audio_type, length_ms, artist, album, track)
			VALUES (?, ?, ?, ?, ?, ?)`
		args = []any{id, string(models.KindAudio), nullDurationMillis(v.Duration), nullString(v.Artist), nullString(v.Album), nullString(v.Track)}
	case *models.Image:
		width, height := resolutionArgs(v.Resolution)
		query = `
			INSERT INTO images (image_id, image_type, width, height, preview_id)
			VALUES (?, ?, ?, ?, ?)`
		args = []any{id, string(models.KindImage), width, height, nullInt64(v.PreviewID)}
	case *models.Preview:
		width, height := resolutionArgs(v.Resolution)
		query = `
			INSERT INTO images (image_id, image_type, width, height, preview_id)
			VALUES (?, ?, ?, ?, NULL)`
		args = []any{id, string(models.KindImage), width, height}
	case *models.Video:
		width, height := resolutionArgs(v.Resolution)
		query = `
			INSERT INTO videos (video_id, video_type, width, height, length_ms, preview_id)
			VALUES (?, ?, ?, ?, ?, ?)`
		args = []any{id, string(models.KindVideo), width, height, nullDurationMillis(v.Duration), nullInt64(v.PreviewID)}
	default:
		return 0, fmt.Errorf("unsupported media type %T", m)
	}

	if _, err := tx.ExecContext(ctx, r.dialect.Rebind(query), args...); err != nil {
		r.logger.Error("failed to insert media attributes", zap.String("kind", string(m.Kind())), zap.Error(err))
		return 0, fmt.Errorf("failed to insert %s attributes: %w", m.Kind(), err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	base.ID = id
	return id, nil
}

// GetKind returns the discriminant of media id
func (r *mediaRepository) GetKind(ctx context.Context, id int64) (models.Kind, error) {
	query := r.dialect.Rebind(`SELECT media_type FROM medias WHERE media_id = ?`)

	var kind string
	err := r.db.QueryRowContext(ctx, query, id).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: media %d", common.ErrNotFound, id)
	}
	if err != nil {
		r.logger.Error("failed to get media kind", zap.Int64("id", id), zap.Error(err))
		return "", fmt.Errorf("failed to get media kind: %w", err)
	}

	k := models.Kind(kind)
	if !k.Valid() {
		r.logger.Error("media has unknown kind", zap.Int64("id", id), zap.String("kind", kind))
		return "", fmt.Errorf("media %d has unknown kind %q", id, kind)
	}
	return k, nil
}

// Resolve loads the fully typed record of media id. The kind is read first
// because the shape cannot be known from the id alone.
func (r *mediaRepository) Resolve(ctx context.Context, id int64) (models.Media, error) {
	kind, err := r.GetKind(ctx, id)
	if err != nil {
		return nil, err
	}

	return r.loaders[kind](ctx, id)
}

// GetPreview resolves id and requires it to be an image/webp record
func (r *mediaRepository) GetPreview(ctx context.Context, id int64) (*models.Preview, error) {
	m, err := r.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	img, ok := m.(*models.Image)
	if !ok {
		return nil, fmt.Errorf("%w: media %d is not a preview", common.ErrNotFound, id)
	}
	preview, err := models.NewPreview(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrNotFound, err)
	}
	return preview, nil
}

// baseColumns are selected first by every loader, in scanBase order
const baseColumns = `m.media_id, m.name, m.subtype, m.loaded_at, m.file_hash, fi.location, fi.size`

func baseDest(b *models.MediaBase, info *models.FileInfo) []any {
	return []any{&b.ID, &b.Name, &b.Subtype, scanTime{&b.LoadedAt}, &b.FileHash, &info.Location, &info.Size}
}

// loadRow runs a loader query and maps a missing row to ErrNotFound
func (r *mediaRepository) loadRow(ctx context.Context, kind models.Kind, id int64, query string, dest ...any) error {
	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(query), id).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %d", common.ErrNotFound, kind, id)
	}
	if err != nil {
		r.logger.Error("failed to load media", zap.Int64("id", id), zap.String("kind", string(kind)), zap.Error(err))
		return fmt.Errorf("failed to load %s: %w", kind, err)
	}
	return nil
}

func (r *mediaRepository) loadFile(ctx context.Context, id int64) (models.Media, error) {
	f := &models.File{}
	info := &models.FileInfo{}
	err := r.loadRow(ctx, models.KindApplication, id, `
		SELECT `+baseColumns+`
		FROM medias m
		JOIN files f ON f.file_id = m.media_id AND f.file_type = m.media_type
		JOIN files_info fi ON fi.hash = m.file_hash
		WHERE m.media_id = ?`,
		baseDest(&f.MediaBase, info)...,
	)
	if err != nil {
		return nil, err
	}
	info.Hash = f.FileHash
	f.Info = info
	return f, nil
}

func (r *mediaRepository) loadAudio(ctx context.Context, id int64) (models.Media, error) {
	a := &models.Audio{}
	info := &models.FileInfo{}
	var length sql.NullInt64
	var artist, album, track sql.NullString
	err := r.loadRow(ctx, models.KindAudio, id, `
		SELECT `+baseColumns+`, a.length_ms, a.artist, a.album, a.track
		FROM medias m
		JOIN audios a ON a.audio_id = m.media_id AND a.audio_type = m.media_type
		JOIN files_info fi ON fi.hash = m.file_hash
		WHERE m.media_id = ?`,
		append(baseDest(&a.MediaBase, info), &length, &artist, &album, &track)...,
	)
	if err != nil {
		return nil, err
	}
	info.Hash = a.FileHash
	a.Info = info
	a.Duration = durationFromMillis(length)
	a.Artist = stringFromNull(artist)
	a.Album = stringFromNull(album)
	a.Track = stringFromNull(track)
	return a, nil
}

func (r *mediaRepository) loadImage(ctx context.Context, id int64) (models.Media, error) {
	img := &models.Image{}
	info := &models.FileInfo{}
	var width, height, previewID sql.NullInt64
	err := r.loadRow(ctx, models.KindImage, id, `
		SELECT `+baseColumns+`, i.width, i.height, i.preview_id
		FROM medias m
		JOIN images i ON i.image_id = m.media_id AND i.image_type = m.media_type
		JOIN files_info fi ON fi.hash = m.file_hash
		WHERE m.media_id = ?`,
		append(baseDest(&img.MediaBase, info), &width, &height, &previewID)...,
	)
	if err != nil {
		return nil, err
	}
	info.Hash = img.FileHash
	img.Info = info
	img.Resolution = resolutionFromNull(width, height)
	img.PreviewID = int64FromNull(previewID)
	return img, nil
}

func (r *mediaRepository) loadVideo(ctx context.Context, id int64) (models.Media, error) {
	v := &models.Video{}
	info := &models.FileInfo{}
	var width, height, length, previewID sql.NullInt64
	err := r.loadRow(ctx, models.KindVideo, id, `
		SELECT `+baseColumns+`, v.width, v.height, v.length_ms, v.preview_id
		FROM medias m
		JOIN videos v ON v.video_id = m.media_id AND v.video_type = m.media_type
		JOIN files_info fi ON fi.hash = m.file_hash
		WHERE m.media_id = ?`,
		append(baseDest(&v.MediaBase, info), &width, &height, &length, &previewID)...,
	)
	if err != nil {
		return nil, err
	}
	info.Hash = v.FileHash
	v.Info = info
	v.Resolution = resolutionFromNull(width, height)
	v.Duration = durationFromMillis(length)
	v.PreviewID = int64FromNull(previewID)
	return v, nil
}

func resolutionArgs(res *models.Resolution) (sql.NullInt64, sql.NullInt64) {
	if res == nil {
		return sql.NullInt64{}, sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(res.Width), Valid: true}, sql.NullInt64{Int64: int64(res.Height), Valid: true}
}

func resolutionFromNull(width, height sql.NullInt64) *models.Resolution {
	if !width.Valid || !height.Valid {
		return nil
	}
	return &models.Resolution{Width: int(width.Int64), Height: int(height.Int64)}
}
