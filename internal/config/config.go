// Package config provides configuration for the application
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/jorektheglitch/simplefiles/internal/repositories"
	"github.com/jorektheglitch/simplefiles/internal/storage"
)

// Config holds all configuration for the application
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Server   ServerConfig   `toml:"server"`
	Logging  LoggingConfig  `toml:"logging"`
	CORS     CORSConfig     `toml:"cors"`
	Storage  StorageConfig  `toml:"storage"`
	Transfer TransferConfig `toml:"transfer"`
	Staging  StagingConfig  `toml:"staging"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver   repositories.Dialect `toml:"driver"`
	Host     string               `toml:"host"`
	Port     int                  `toml:"port"`
	User     string               `toml:"user"`
	Password string               `toml:"password"`
	DBName   string               `toml:"name"`
	SSLMode  string               `toml:"sslmode"`
	// Path is the database file of the sqlite driver
	Path string `toml:"path"`
}

// ServerConfig holds server settings
type ServerConfig struct {
	Port               int `toml:"port"`
	RateLimitPerMinute int `toml:"rate_limit_per_minute"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level string `toml:"level"`
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

// StorageConfig selects the content store and the staging area
type StorageConfig struct {
	URI             string            `toml:"uri"`
	AccessKey       string            `toml:"access_key"`
	SecretKey       string            `toml:"secret_key"`
	StagingDir      string            `toml:"staging_dir"`
	DigestAlgorithm storage.Algorithm `toml:"digest_algorithm"`
}

// TransferConfig holds upload and download limits
type TransferConfig struct {
	MaxUploadSize     int64 `toml:"max_upload_size"`
	UploadChunkSize   int   `toml:"upload_chunk_size"`
	DownloadChunkSize int   `toml:"download_chunk_size"`
}

// StagingConfig controls the removal of abandoned staging files
type StagingConfig struct {
	SweepInterval string        `toml:"sweep_interval"`
	MaxAge        time.Duration `toml:"max_age"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:  repositories.DialectSQLite,
			SSLMode: "disable",
			Path:    filepath.Join("data", "simplefiles.db"),
		},
		Server:  ServerConfig{Port: 8080, RateLimitPerMinute: 100},
		Logging: LoggingConfig{Level: "info"},
		CORS:    CORSConfig{AllowedOrigins: []string{"*"}},
		Storage: StorageConfig{
			URI:             "file://data/blobs",
			DigestAlgorithm: storage.AlgorithmSHA256,
		},
		Transfer: TransferConfig{
			MaxUploadSize:     1 << 30,
			UploadChunkSize:   1024,
			DownloadChunkSize: 64 * 1024,
		},
		Staging: StagingConfig{
			SweepInterval: "@every 10m",
			MaxAge:        time.Hour,
		},
	}
}

// Load reads configuration from the .env file and environment variables.
// When CONFIG_FILE is set the TOML file it names is read first.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

// LoadFile reads the TOML file at path (if path is not empty) and then
// applies environment variables on top of it
func LoadFile(path string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides every field whose variable is set
func (c *Config) applyEnv() error {
	if v := os.Getenv("DB_DRIVER"); v != "" {
		c.Database.Driver = repositories.Dialect(v)
	}
	setString("DB_HOST", &c.Database.Host)
	setString("DB_USER", &c.Database.User)
	setString("DB_PASSWORD", &c.Database.Password)
	setString("DB_NAME", &c.Database.DBName)
	setString("DB_SSLMODE", &c.Database.SSLMode)
	setString("DB_PATH", &c.Database.Path)
	setString("LOG_LEVEL", &c.Logging.Level)
	setString("STORAGE_URI", &c.Storage.URI)
	setString("S3_ACCESS_KEY", &c.Storage.AccessKey)
	setString("S3_SECRET_KEY", &c.Storage.SecretKey)
	setString("STAGING_DIR", &c.Storage.StagingDir)
	setString("STAGING_SWEEP_INTERVAL", &c.Staging.SweepInterval)
	if v := os.Getenv("DIGEST_ALGORITHM"); v != "" {
		c.Storage.DigestAlgorithm = storage.Algorithm(v)
	}

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.CORS.AllowedOrigins = splitOrigins(v)
	}

	if err := setInt("DB_PORT", &c.Database.Port); err != nil {
		return err
	}
	if err := setInt("SERVER_PORT", &c.Server.Port); err != nil {
		return err
	}
	if err := setInt("RATE_LIMIT_PER_MINUTE", &c.Server.RateLimitPerMinute); err != nil {
		return err
	}
	if err := setInt("UPLOAD_CHUNK_SIZE", &c.Transfer.UploadChunkSize); err != nil {
		return err
	}
	if err := setInt("DOWNLOAD_CHUNK_SIZE", &c.Transfer.DownloadChunkSize); err != nil {
		return err
	}
	if v := os.Getenv("MAX_UPLOAD_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_UPLOAD_SIZE: %w", err)
		}
		c.Transfer.MaxUploadSize = n
	}
	if v := os.Getenv("STAGING_MAX_AGE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid STAGING_MAX_AGE: %w", err)
		}
		c.Staging.MaxAge = d
	}
	return nil
}

// Validate checks that the configuration is usable and normalizes names
func (c *Config) Validate() error {
	dialect, err := repositories.ParseDialect(string(c.Database.Driver))
	if err != nil {
		return fmt.Errorf("invalid DB_DRIVER: %w", err)
	}
	c.Database.Driver = dialect

	switch dialect {
	case repositories.DialectSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("DB_PATH is required")
		}
	default:
		required := []struct {
			key   string
			value string
		}{
			{"DB_HOST", c.Database.Host},
			{"DB_USER", c.Database.User},
			{"DB_NAME", c.Database.DBName},
		}
		for _, r := range required {
			if r.value == "" {
				return fmt.Errorf("%s is required", r.key)
			}
		}
		if c.Database.Port == 0 {
			return fmt.Errorf("DB_PORT is required")
		}
	}

	alg, err := storage.ParseAlgorithm(string(c.Storage.DigestAlgorithm))
	if err != nil {
		return fmt.Errorf("invalid DIGEST_ALGORITHM: %w", err)
	}
	c.Storage.DigestAlgorithm = alg

	if c.Storage.URI == "" {
		return fmt.Errorf("STORAGE_URI is required")
	}
	if c.Transfer.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive")
	}
	if c.Transfer.UploadChunkSize <= 0 {
		return fmt.Errorf("UPLOAD_CHUNK_SIZE must be positive")
	}
	if c.Transfer.DownloadChunkSize <= 0 {
		return fmt.Errorf("DOWNLOAD_CHUNK_SIZE must be positive")
	}
	if c.Server.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}
	if c.Staging.MaxAge <= 0 {
		return fmt.Errorf("STAGING_MAX_AGE must be positive")
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	return nil
}

// DSN returns the database connection string for the configured driver
func (c *Config) DSN() string {
	switch c.Database.Driver {
	case repositories.DialectMySQL:
		mc := mysql.NewConfig()
		mc.User = c.Database.User
		mc.Passwd = c.Database.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Database.Host, strconv.Itoa(c.Database.Port))
		mc.DBName = c.Database.DBName
		mc.ParseTime = true
		mc.MultiStatements = true
		mc.Params = map[string]string{"charset": "utf8mb4"}
		return mc.FormatDSN()
	case repositories.DialectPostgres:
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(c.Database.User, c.Database.Password),
			Host:   net.JoinHostPort(c.Database.Host, strconv.Itoa(c.Database.Port)),
			Path:   "/" + c.Database.DBName,
		}
		if c.Database.SSLMode != "" {
			u.RawQuery = url.Values{"sslmode": {c.Database.SSLMode}}.Encode()
		}
		return u.String()
	default:
		return SQLiteDSN(c.Database.Path)
	}
}

// SQLiteDSN returns a sqlite DSN for path with foreign keys enforced
func SQLiteDSN(path string) string {
	return "file:" + filepath.ToSlash(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// StagingDir returns the configured staging directory or the default of the store
func (c *Config) StagingDir(u storage.URI) string {
	if c.Storage.StagingDir != "" {
		return c.Storage.StagingDir
	}
	return u.DefaultStagingDir()
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

// splitOrigins parses a comma-separated origin list
func splitOrigins(raw string) []string {
	origins := []string{}
	for _, origin := range strings.Split(raw, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
