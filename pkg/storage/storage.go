// Package storage opens the relational store behind the transaction journal. SQLite is the
// default; PostgreSQL serves deployments with several replicas.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // sqlite driver
)

// Dialect tells repositories which placeholder style and DDL to use.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// DB is a database handle that knows its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Wrap pairs an existing handle with its dialect.
func Wrap(db *sql.DB, dialect Dialect) *DB {
	return &DB{DB: db, Dialect: dialect}
}

// Open connects to kind (sqlite or postgres) and checks the connection. An empty sqlite DSN
// puts the database file in the working directory.
func Open(ctx context.Context, kind, dsn string) (*DB, error) {
	dialect := Dialect(kind)
	switch dialect {
	case SQLite:
		if dsn == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return nil, err
			}
			dsn = filepath.Join(cwd, "coffeechain-journal.db")
		}
	case Postgres:
		if dsn == "" {
			return nil, fmt.Errorf("storage: postgres needs a dsn")
		}
	default:
		return nil, fmt.Errorf("storage: unsupported db type %q", kind)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", kind, err)
	}
	if dialect == SQLite {
		// One writer at a time; also keeps ":memory:" databases on a single connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", kind, err)
	}
	return Wrap(db, dialect), nil
}

// Rebind rewrites ? placeholders for the dialect.
func (d *DB) Rebind(query string) string {
	if d.Dialect != Postgres {
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

// EnsureSchema runs the given DDL statements in order.
func (d *DB) EnsureSchema(ctx context.Context, statements ...string) error {
	for _, stmt := range statements {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: ensure schema: %w", err)
		}
	}
	return nil
}
