package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jorektheglitch/simplefiles/internal/repositories"
	"go.uber.org/zap"
)

// migrationsTable keeps the schema version apart from other tools sharing the database
const migrationsTable = "simplefiles_schema_migrations"

//go:embed migrations
var migrationsFS embed.FS

// Migrations returns the schema migrations of dialect
func Migrations(dialect repositories.Dialect) (fs.FS, error) {
	return fs.Sub(migrationsFS, "migrations/"+string(dialect))
}

// newMigrate builds a migrate instance on an existing connection. The instance
// must not be closed, as that would close db.
func newMigrate(db *sql.DB, dialect repositories.Dialect, logger *zap.Logger) (*migrate.Migrate, error) {
	var (
		driver database.Driver
		err    error
	)
	switch dialect {
	case repositories.DialectMySQL:
		driver, err = mysql.WithInstance(db, &mysql.Config{MigrationsTable: migrationsTable})
	case repositories.DialectSQLite:
		driver, err = sqlite.WithInstance(db, &sqlite.Config{MigrationsTable: migrationsTable})
	case repositories.DialectPostgres:
		driver, err = pgx.WithInstance(db, &pgx.Config{MigrationsTable: migrationsTable})
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	migrations, err := Migrations(dialect)
	if err != nil {
		return nil, err
	}
	source, err := iofs.New(migrations, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to open migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, string(dialect), driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{logger: logger}
	return m, nil
}

// Migrate applies every pending migration
func Migrate(db *sql.DB, dialect repositories.Dialect, logger *zap.Logger) error {
	m, err := newMigrate(db, dialect, logger)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	logger.Info("Database schema is up to date", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// MigrateDown rolls back every migration
func MigrateDown(db *sql.DB, dialect repositories.Dialect, logger *zap.Logger) error {
	m, err := newMigrate(db, dialect, logger)
	if err != nil {
		return err
	}

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	logger.Info("All migrations rolled back")
	return nil
}

// migrateLogger forwards golang-migrate output to zap
type migrateLogger struct {
	logger *zap.Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)), zap.String("component", "migrate"))
}

func (l *migrateLogger) Verbose() bool {
	return false
}
