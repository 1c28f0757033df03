package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

func (d Dialect) driverName() string {
	if d == DialectSQLite {
		return "sqlite"
	}
	return "pgx"
}

func Open(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dialect == DialectSQLite {
		// one connection: in-memory databases are per connection and sqlite
		// serializes writers anyway
		db.SetMaxOpenConns(1)
	} else {
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetMaxIdleConns(10)
		db.SetMaxOpenConns(20)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (d Dialect) rebind(query string) string {
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
