package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jorektheglitch/simplefiles/internal/common"
	"github.com/jorektheglitch/simplefiles/internal/models"
	"github.com/jorektheglitch/simplefiles/internal/services"
	"go.uber.org/zap"
)

// DefaultDownloadChunkSize is the write size used when a blob cannot be served with ranges
const DefaultDownloadChunkSize = 64 * 1024

// defaultPartContentType is assumed for file parts that do not declare one
const defaultPartContentType = "application/octet-stream"

// IngestService defines the interface for storing uploads
type IngestService interface {
	// Method Ingest streams one upload into the content store and catalogs it.
	//
	// Malformed content types and missing names are reported as validation errors.
	// A duplicate of already stored content is not an error; the result is marked as reconciled.
	Ingest(ctx context.Context, in services.IngestInput) (*services.IngestResult, error)
}

// MediaService defines the interface for media retrieval
type MediaService interface {
	// Method GetMetadata returns the rendered attributes of a media record.
	//
	// Unknown ids are reported as not found errors.
	GetMetadata(ctx context.Context, id int64) (map[string]any, error)
	// Method GetPreview returns the rendered attributes of a preview record.
	//
	// Ids of records that are not webp images are reported as not found errors.
	GetPreview(ctx context.Context, id int64) (map[string]any, error)
	// Method GetContent opens the stored content of a media record.
	//
	// The caller must close the returned body.
	GetContent(ctx context.Context, id int64) (*services.Content, error)
}

// MediaHandler handles media-related HTTP requests
type MediaHandler struct {
	BaseHandler
	ingestService     IngestService
	mediaService      MediaService
	downloadChunkSize int
}

// NewMediaHandler creates a new media handler
func NewMediaHandler(ingestService IngestService, mediaService MediaService, downloadChunkSize int, logger *zap.Logger) *MediaHandler {
	if downloadChunkSize <= 0 {
		downloadChunkSize = DefaultDownloadChunkSize
	}
	return &MediaHandler{
		BaseHandler:       BaseHandler{Logger: logger},
		ingestService:     ingestService,
		mediaService:      mediaService,
		downloadChunkSize: downloadChunkSize,
	}
}

// RegisterRoutes registers all media handler routes
func (h *MediaHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/media", func(r chi.Router) {
		r.Post("/", h.Upload)
		r.Get("/{id}", h.GetMetadata)
		r.Get("/{id}/preview", h.GetPreview)
		r.Get("/{id}/content", h.Download)
		r.Head("/{id}/content", h.Download)
	})

	// Routes of the first API revision
	r.Post("/api/store", h.Upload)
	r.Get("/api/show", h.Show)
	r.Get("/api/download", h.Download)
	r.Head("/api/download", h.Download)
}

// Upload handles POST /api/v1/media
// @Summary Upload files
// @Description Store one or more files. Every "file" part is stored independently in arrival order.
// @Description Form fields sent before a file part (duration, artist, album, track, width, height) are applied to the following file parts.
// @Tags media
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "File to upload"
// @Param duration formData number false "Duration in seconds (audio, video)"
// @Param artist formData string false "Artist (audio)"
// @Param album formData string false "Album (audio)"
// @Param track formData string false "Track (audio)"
// @Param width formData integer false "Width in pixels (image, video)"
// @Param height formData integer false "Height in pixels (image, video)"
// @Success 201 {array} services.IngestResult
// @Failure 400 {object} map[string]string "Invalid request"
// @Failure 413 {object} map[string]string "Request body too large"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /media [post]
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	reader, err := r.MultipartReader()
	if err != nil {
		h.RespondError(w, http.StatusBadRequest, "multipart/form-data body is required")
		return
	}

	fields := uploadFields{}
	results := []*services.IngestResult{}
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			h.Logger.Info("failed to read multipart body", zap.Error(err))
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				h.RespondError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			h.RespondError(w, http.StatusBadRequest, "failed to parse request")
			return
		}

		if part.FormName() != "file" {
			err = fields.collect(part)
			part.Close()
			if err != nil {
				h.RespondServiceError(w, err, "failed to read form field")
				return
			}
			continue
		}

		result, err := h.ingestPart(r.Context(), part, fields)
		part.Close()
		if err != nil {
			h.RespondServiceError(w, err, "failed to store file")
			return
		}
		results = append(results, result)
	}

	if len(results) == 0 {
		h.RespondError(w, http.StatusBadRequest, "file is required")
		return
	}

	h.RespondJSON(w, http.StatusCreated, results)
}

// ingestPart stores a single file part
func (h *MediaHandler) ingestPart(ctx context.Context, part *multipart.Part, fields uploadFields) (*services.IngestResult, error) {
	name := part.FileName()
	if name == "" {
		return nil, errMissingFilename
	}

	contentType := part.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultPartContentType
	}

	attrs, err := fields.attributes()
	if err != nil {
		return nil, err
	}

	return h.ingestService.Ingest(ctx, services.IngestInput{
		Name:        name,
		ContentType: contentType,
		Body:        part,
		Attributes:  attrs,
	})
}

// GetMetadata handles GET /api/v1/media/{id}
// @Summary Get media metadata
// @Description Retrieve the attributes of a stored media record
// @Tags media
// @Produce json
// @Param id path int true "Media ID"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]string "Invalid ID"
// @Failure 404 {object} map[string]string "Media not found"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /media/{id} [get]
func (h *MediaHandler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	id, ok := h.mediaID(w, r)
	if !ok {
		return
	}
	h.respondMetadata(w, r, id)
}

// Show handles GET /api/show. The id is read from the "id" query parameter,
// or from a JSON body {"id": <int>} when the query has none.
func (h *MediaHandler) Show(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Has("id") {
		h.GetMetadata(w, r)
		return
	}

	var req struct {
		ID *int64 `json:"id"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxFieldSize)).Decode(&req); err != nil || req.ID == nil {
		h.RespondError(w, http.StatusBadRequest, "invalid media id")
		return
	}
	h.respondMetadata(w, r, *req.ID)
}

func (h *MediaHandler) respondMetadata(w http.ResponseWriter, r *http.Request, id int64) {
	metadata, err := h.mediaService.GetMetadata(r.Context(), id)
	if err != nil {
		h.RespondServiceError(w, err, "failed to get metadata")
		return
	}

	h.RespondJSON(w, http.StatusOK, metadata)
}

// GetPreview handles GET /api/v1/media/{id}/preview
// @Summary Get preview metadata
// @Description Retrieve a media record that is a webp preview image
// @Tags media
// @Produce json
// @Param id path int true "Preview ID"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]string "Invalid ID"
// @Failure 404 {object} map[string]string "Preview not found"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /media/{id}/preview [get]
func (h *MediaHandler) GetPreview(w http.ResponseWriter, r *http.Request) {
	id, ok := h.mediaID(w, r)
	if !ok {
		return
	}

	preview, err := h.mediaService.GetPreview(r.Context(), id)
	if err != nil {
		h.RespondServiceError(w, err, "failed to get preview")
		return
	}

	h.RespondJSON(w, http.StatusOK, preview)
}

// Download handles GET /api/v1/media/{id}/content
// @Summary Download media content
// @Description Download the stored bytes of a media record. Range requests are supported by seekable backends.
// @Tags media
// @Produce application/octet-stream
// @Param id path int true "Media ID"
// @Param Range header string false "Range"
// @Success 200 "File content"
// @Success 206 "Partial file content (for range requests)"
// @Failure 400 {object} map[string]string "Invalid ID"
// @Failure 404 {object} map[string]string "Media not found"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /media/{id}/content [get]
func (h *MediaHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := h.mediaID(w, r)
	if !ok {
		return
	}

	content, err := h.mediaService.GetContent(r.Context(), id)
	if err != nil {
		h.RespondServiceError(w, err, "failed to open content")
		return
	}
	defer content.Body.Close()

	w.Header().Set("Content-Type", content.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": content.Name}))
	w.Header().Set("ETag", strconv.Quote(content.Hash))

	if rs, ok := content.Body.(io.ReadSeeker); ok {
		http.ServeContent(w, r, "", content.LoadedAt, rs)
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(content.Size, 10))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if err := h.copyChunks(r.Context(), w, content.Body); err != nil {
		h.Logger.Warn("download interrupted", zap.Int64("id", id), zap.Error(err))
	}
}

// copyChunks writes src to w in downloadChunkSize pieces until EOF or cancellation
func (h *MediaHandler) copyChunks(ctx context.Context, w io.Writer, src io.Reader) error {
	buf := make([]byte, h.downloadChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

// mediaID reads the media id from the path, or from the "id" query
// parameter on the legacy routes. Writes a 400 response when it is malformed.
func (h *MediaHandler) mediaID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	if raw == "" {
		raw = r.URL.Query().Get("id")
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		h.RespondError(w, http.StatusBadRequest, "invalid media id")
		return 0, false
	}
	return id, true
}

var errMissingFilename = fmt.Errorf("%w: file part has no filename", common.ErrValidation)

// maxFieldSize bounds the size of a single non-file form field
const maxFieldSize = 4096

// uploadFields holds the attribute fields seen so far in an upload form
type uploadFields map[string]string

var attributeFields = map[string]bool{
	"duration": true,
	"artist":   true,
	"album":    true,
	"track":    true,
	"width":    true,
	"height":   true,
}

// collect stores the value of an attribute field. Unknown fields are skipped.
func (f uploadFields) collect(part *multipart.Part) error {
	name := part.FormName()
	if !attributeFields[name] {
		_, err := io.Copy(io.Discard, part)
		return err
	}

	value, err := io.ReadAll(io.LimitReader(part, maxFieldSize+1))
	if err != nil {
		return err
	}
	if len(value) > maxFieldSize {
		return fmt.Errorf("%w: field %s is too long", common.ErrValidation, name)
	}
	f[name] = strings.TrimSpace(string(value))
	return nil
}

// attributes converts the collected fields into media attributes
func (f uploadFields) attributes() (models.Attributes, error) {
	var attrs models.Attributes

	if raw, ok := f["duration"]; ok && raw != "" {
		d, err := parseDuration(raw)
		if err != nil {
			return attrs, fmt.Errorf("%w: invalid duration %q", common.ErrValidation, raw)
		}
		attrs.Duration = &d
	}

	for name, dst := range map[string]**string{"artist": &attrs.Artist, "album": &attrs.Album, "track": &attrs.Track} {
		if v, ok := f[name]; ok && v != "" {
			*dst = &v
		}
	}

	width, hasWidth := f["width"]
	height, hasHeight := f["height"]
	if hasWidth || hasHeight {
		w, errW := strconv.Atoi(width)
		hh, errH := strconv.Atoi(height)
		if errW != nil || errH != nil || w < 0 || hh < 0 {
			return attrs, fmt.Errorf("%w: width and height must be non-negative integers", common.ErrValidation)
		}
		attrs.Resolution = &models.Resolution{Width: w, Height: hh}
	}

	return attrs, nil
}

// parseDuration accepts seconds ("12.5") or a Go duration ("1m30s")
func parseDuration(raw string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative duration")
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration")
	}
	return d, nil
}
