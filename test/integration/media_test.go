package integration

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jorektheglitch/simplefiles/internal/config"
	"github.com/jorektheglitch/simplefiles/internal/db"
	"github.com/jorektheglitch/simplefiles/internal/handlers"
	"github.com/jorektheglitch/simplefiles/internal/middlewares"
	"github.com/jorektheglitch/simplefiles/internal/repositories"
	"github.com/jorektheglitch/simplefiles/internal/services"
	"github.com/jorektheglitch/simplefiles/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testMaxUploadSize = 1 << 20

var (
	testDB        *sql.DB
	testRouter    chi.Router
	testLogger    *zap.Logger
	testBlobRoot  string
	testArtifacts string
)

// setupTestRouter creates a test router with all handlers
func setupTestRouter(conn *sql.DB, dialect repositories.Dialect, blobRoot string, logger *zap.Logger) (chi.Router, error) {
	store, err := storage.NewLocalStore(blobRoot)
	if err != nil {
		return nil, err
	}
	staging, err := storage.NewStagingArea(filepath.Join(blobRoot, "tmp"), storage.AlgorithmSHA256)
	if err != nil {
		return nil, err
	}

	fileInfoRepo := repositories.NewFileInfoRepository(conn, dialect, logger)
	mediaRepo := repositories.NewMediaRepository(conn, dialect, logger)
	ingestService := services.NewIngestService(staging, store, fileInfoRepo, mediaRepo, services.DefaultChunkSize, logger)
	mediaService := services.NewMediaService(mediaRepo, fileInfoRepo, store, logger)

	r := chi.NewRouter()
	r.Use(middlewares.RequestIDMiddleware)
	r.Use(middlewares.LoggerMiddleware(logger))
	r.Use(middlewares.RecoveryMiddleware(logger))
	r.Use(middlewares.RequestSizeLimitMiddleware(testMaxUploadSize))
	handlers.NewHealthHandler(conn, logger).RegisterRoutes(r)
	handlers.NewMediaHandler(ingestService, mediaService, 4096, logger).RegisterRoutes(r)

	return r, nil
}

// TestMain sets up and tears down the test environment
func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	// Initialize logger
	var err error
	testLogger, err = zap.NewDevelopment()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	testArtifacts, err = os.MkdirTemp("", "simplefiles-integration-")
	if err != nil {
		panic(fmt.Sprintf("Failed to create test directory: %v", err))
	}

	// Setup test database
	cfg, err := config.LoadTestConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load test config: %v", err))
	}
	if cfg.Database.Driver == "" {
		// Default test database
		cfg.Database.Driver = repositories.DialectSQLite
		cfg.Database.Path = filepath.Join(testArtifacts, "catalog.db")
	}

	ctx := context.Background()
	testDB, err = db.Connect(ctx, cfg.Database.Driver, cfg.DSN())
	if err != nil {
		panic(fmt.Sprintf("Failed to connect to test database: %v", err))
	}
	if err := db.Migrate(testDB, cfg.Database.Driver, testLogger); err != nil {
		panic(fmt.Sprintf("Failed to migrate test database: %v", err))
	}

	// Setup test router
	testBlobRoot = filepath.Join(testArtifacts, "blobs")
	testRouter, err = setupTestRouter(testDB, cfg.Database.Driver, testBlobRoot, testLogger)
	if err != nil {
		panic(fmt.Sprintf("Failed to setup router: %v", err))
	}

	// Run tests
	code := m.Run()

	// Cleanup
	testDB.Close()
	os.RemoveAll(testArtifacts)
	os.Exit(code)
}

type uploadPart struct {
	field       string
	filename    string
	contentType string
	body        []byte
}

func fileUpload(name, contentType string, body []byte) uploadPart {
	return uploadPart{field: "file", filename: name, contentType: contentType, body: body}
}

func formField(name, value string) uploadPart {
	return uploadPart{field: name, body: []byte(value)}
}

func doUpload(t *testing.T, path string, parts ...uploadPart) *httptest.ResponseRecorder {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for _, p := range parts {
		header := textproto.MIMEHeader{}
		disposition := fmt.Sprintf(`form-data; name=%q`, p.field)
		if p.filename != "" {
			disposition += fmt.Sprintf(`; filename=%q`, p.filename)
		}
		header.Set("Content-Disposition", disposition)
		if p.contentType != "" {
			header.Set("Content-Type", p.contentType)
		}
		w, err := mw.CreatePart(header)
		require.NoError(t, err)
		_, err = w.Write(p.body)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	testRouter.ServeHTTP(rec, req)
	return rec
}

func uploadResults(t *testing.T, rec *httptest.ResponseRecorder) []services.IngestResult {
	t.Helper()
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var results []services.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	return results
}

func doGet(t *testing.T, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	testRouter.ServeHTTP(rec, req)
	return rec
}

func metadata(t *testing.T, id int64) map[string]any {
	t.Helper()
	rec := doGet(t, fmt.Sprintf("/api/v1/media/%d", id), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// blobFiles lists published blobs, skipping the staging directory
func blobFiles(t *testing.T) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(testBlobRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == "tmp" {
			return filepath.SkipDir
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	require.NoError(t, err)
	return files
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// uniqueBytes returns n bytes that no other test uploads
func uniqueBytes(t *testing.T, n int) []byte {
	t.Helper()
	seed := []byte(t.Name())
	out := make([]byte, n)
	for i := range out {
		out[i] = seed[i%len(seed)] ^ byte(i*31)
	}
	return out
}

func TestIntegration_UploadAndRetrieve(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}

	png := uniqueBytes(t, 5000)
	raw := uniqueBytes(t, 10)[:7]

	results := uploadResults(t, doUpload(t, "/api/v1/media",
		fileUpload("a.png", "image/png", png),
		fileUpload("b.bin", "", raw),
	))
	require.Len(t, results, 2)

	assert.Equal(t, "a.png", results[0].Name)
	assert.Equal(t, "image", string(results[0].Kind))
	assert.Equal(t, "png", string(results[0].Subtype))
	assert.Equal(t, sha256Hex(png), results[0].Hash)
	assert.Equal(t, int64(len(png)), results[0].Size)

	assert.Equal(t, "application", string(results[1].Kind))
	assert.Equal(t, "octet-stream", string(results[1].Subtype))

	md := metadata(t, results[0].ID)
	assert.Equal(t, "a.png", md["name"])
	assert.Equal(t, "image/png", md["content_type"])
	assert.Equal(t, sha256Hex(png), md["hash"])
	assert.Equal(t, float64(len(png)), md["size"])
	assert.NotContains(t, md, "location")

	rec := doGet(t, fmt.Sprintf("/api/v1/media/%d/content", results[0].ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, png, rec.Body.Bytes())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, fmt.Sprint(len(png)), rec.Header().Get("Content-Length"))
	assert.Equal(t, `attachment; filename=a.png`, rec.Header().Get("Content-Disposition"))

	rec = doGet(t, fmt.Sprintf("/api/v1/media/%d/content", results[0].ID), map[string]string{"Range": "bytes=100-199"})
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, png[100:200], rec.Body.Bytes())
}

func TestIntegration_DuplicateContent(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}

	data := uniqueBytes(t, 2048)
	before := len(blobFiles(t))

	first := uploadResults(t, doUpload(t, "/api/v1/media", fileUpload("one.mp3", "audio/mpeg", data)))
	second := uploadResults(t, doUpload(t, "/api/v1/media", fileUpload("two.ogg", "audio/ogg", data)))

	assert.False(t, first[0].Reconciled)
	assert.True(t, second[0].Reconciled)
	assert.Equal(t, first[0].Hash, second[0].Hash)
	assert.NotEqual(t, first[0].ID, second[0].ID)
	assert.Len(t, blobFiles(t), before+1)

	var infos int
	require.NoError(t, testDB.QueryRow("SELECT COUNT(*) FROM files_info WHERE hash = '"+first[0].Hash+"'").Scan(&infos))
	assert.Equal(t, 1, infos)

	assert.Equal(t, "one.mp3", metadata(t, first[0].ID)["name"])
	assert.Equal(t, "two.ogg", metadata(t, second[0].ID)["name"])
}

func TestIntegration_AudioAttributes(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}

	results := uploadResults(t, doUpload(t, "/api/v1/media",
		formField("duration", "183.5"),
		formField("artist", "Band"),
		formField("album", "Record"),
		fileUpload("song.mp3", "audio/mpeg", uniqueBytes(t, 64)),
	))

	md := metadata(t, results[0].ID)
	assert.Equal(t, "audio", md["kind"])
	assert.Equal(t, 183.5, md["duration"])
	assert.Equal(t, "Band", md["artist"])
	assert.Equal(t, "Record", md["album"])
	assert.NotContains(t, md, "track")
}

func TestIntegration_LegacyRoutes(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}

	data := uniqueBytes(t, 300)
	results := uploadResults(t, doUpload(t, "/api/store", fileUpload("clip.mp4", "video/mp4", data)))
	id := results[0].ID

	rec := doGet(t, fmt.Sprintf("/api/show?id=%d", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"kind":"video"`)

	rec = doGet(t, fmt.Sprintf("/api/download?id=%d", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, data, rec.Body.Bytes())
}

func TestIntegration_Errors(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}

	tests := []struct {
		name           string
		do             func(t *testing.T) *httptest.ResponseRecorder
		expectedStatus int
	}{
		{
			name:           "unknown id",
			do:             func(t *testing.T) *httptest.ResponseRecorder { return doGet(t, "/api/v1/media/999999999", nil) },
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "unknown id content",
			do:             func(t *testing.T) *httptest.ResponseRecorder { return doGet(t, "/api/v1/media/999999999/content", nil) },
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "non-integer id",
			do:             func(t *testing.T) *httptest.ResponseRecorder { return doGet(t, "/api/show?id=abc", nil) },
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "unsupported media type",
			do: func(t *testing.T) *httptest.ResponseRecorder {
				return doUpload(t, "/api/v1/media", fileUpload("a.txt", "text/plain", []byte("x")))
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "missing filename",
			do: func(t *testing.T) *httptest.ResponseRecorder {
				return doUpload(t, "/api/v1/media", uploadPart{field: "file", contentType: "image/png", body: []byte("x")})
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "body too large",
			do: func(t *testing.T) *httptest.ResponseRecorder {
				return doUpload(t, "/api/v1/media", fileUpload("big.bin", "application/octet-stream", bytes.Repeat([]byte("x"), testMaxUploadSize+1)))
			},
			expectedStatus: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.do(t)
			assert.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
		})
	}

	// nothing was left behind by the rejected uploads
	entries, err := os.ReadDir(filepath.Join(testBlobRoot, "tmp"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".part"), "staging file %s left behind", e.Name())
	}
}

func TestIntegration_Health(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}

	for _, path := range []string{"/livez", "/readyz"} {
		rec := doGet(t, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	body, err := io.ReadAll(doGet(t, "/readyz", nil).Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ready"}`, string(body))
}
