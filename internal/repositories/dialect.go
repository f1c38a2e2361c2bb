package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect selects the SQL flavour of the catalog database
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect accepts the DB_DRIVER spelling of a dialect
func ParseDialect(s string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(strings.TrimSpace(s))); d {
	case DialectMySQL, DialectSQLite, DialectPostgres:
		return d, nil
	case "sqlite3":
		return DialectSQLite, nil
	case "pgx", "postgresql":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", s)
	}
}

// Rebind rewrites ? placeholders as $1, $2, ... for postgres
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// insertIgnoreHash returns an insert into files_info that does nothing when the hash exists
func (d Dialect) insertIgnoreHash() string {
	if d == DialectMySQL {
		return `
		INSERT INTO files_info (hash, location, size)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE hash = hash
	`
	}
	return d.Rebind(`
		INSERT INTO files_info (hash, location, size)
		VALUES (?, ?, ?)
		ON CONFLICT (hash) DO NOTHING
	`)
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// insertID runs an insert and returns the generated key of idColumn
func (d Dialect) insertID(ctx context.Context, q execQuerier, query, idColumn string, args ...any) (int64, error) {
	if d == DialectPostgres {
		var id int64
		err := q.QueryRowContext(ctx, d.Rebind(query)+" RETURNING "+idColumn, args...).Scan(&id)
		return id, err
	}

	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// timeLayouts are the text forms in which drivers may hand back a timestamp
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// scanTime accepts time.Time as well as the text timestamps of sqlite
type scanTime struct {
	t *time.Time
}

// Scan implements sql.Scanner
func (s scanTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*s.t = v.UTC()
		return nil
	case string:
		return s.parse(v)
	case []byte:
		return s.parse(string(v))
	case nil:
		*s.t = time.Time{}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into time", src)
	}
}

func (s scanTime) parse(v string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			*s.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("cannot parse time %q", v)
}

func nullDurationMillis(d *time.Duration) sql.NullInt64 {
	if d == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: d.Milliseconds(), Valid: true}
}

func durationFromMillis(v sql.NullInt64) *time.Duration {
	if !v.Valid {
		return nil
	}
	d := time.Duration(v.Int64) * time.Millisecond
	return &d
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringFromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64FromNull(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}
