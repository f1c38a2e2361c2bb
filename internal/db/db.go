// Package db opens the catalog database and applies its schema.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jorektheglitch/simplefiles/internal/repositories"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// driverNames maps a dialect to its database/sql driver
var driverNames = map[repositories.Dialect]string{
	repositories.DialectMySQL:    "mysql",
	repositories.DialectSQLite:   "sqlite",
	repositories.DialectPostgres: "pgx",
}

// Connect opens and pings the catalog database
func Connect(ctx context.Context, dialect repositories.Dialect, dsn string) (*sql.DB, error) {
	driver, ok := driverNames[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == repositories.DialectSQLite {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
