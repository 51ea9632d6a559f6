// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package shardsql provides read-only access to the per-shard SQLite index
// databases that sit beside each MindRecord shard file.
package shardsql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver
)

// MaxFieldCount caps the number of columns a single index query may
// return. Queries selecting more columns are rejected rather than
// truncated.
const MaxFieldCount = 100

var (
	// ErrOpen indicates the index database could not be opened.
	ErrOpen = errors.New("shardsql: open failed")
	// ErrShardNameMismatch indicates SHARD_NAME does not record the
	// basename of the shard file this database was opened for.
	ErrShardNameMismatch = errors.New("shardsql: shard name mismatch")
	// ErrQuery indicates a SELECT against the index failed.
	ErrQuery = errors.New("shardsql: query failed")
	// ErrTooManyFields indicates a query exceeded MaxFieldCount columns.
	ErrTooManyFields = errors.New("shardsql: too many fields")
)

// DB is one shard's index database, opened read-only.
type DB struct {
	db   *sql.DB
	path string

	closeOnce sync.Once
	closeErr  error
}

// Open opens the index database beside shardPath (shardPath + ".db") in
// read-only mode and verifies its SHARD_NAME table names the shard file.
func Open(ctx context.Context, shardPath string) (*DB, error) {
	dbPath := shardPath + ".db"
	handle, err := sql.Open("sqlite", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpen, dbPath, err)
	}

	d := &DB{db: handle, path: dbPath}
	names, err := d.Query(ctx, "SELECT NAME FROM SHARD_NAME;")
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrOpen, dbPath, err)
	}
	want := filepath.Base(shardPath)
	if len(names) == 0 || len(names[0]) == 0 || names[0][0] != want {
		_ = d.Close()
		return nil, fmt.Errorf("%w: index %s does not name shard %s", ErrShardNameMismatch, dbPath, want)
	}
	return d, nil
}

// Path returns the index database's file path.
func (d *DB) Path() string { return d.path }

// Query runs the statement and returns every row as strings. NULL cells
// become empty strings.
func (d *DB) Query(ctx context.Context, stmt string) ([][]string, error) {
	return d.query(ctx, stmt, nil)
}

// QueryWithCriteria runs a statement containing a :criteria placeholder,
// binding the given value.
func (d *DB) QueryWithCriteria(ctx context.Context, stmt, criteria string) ([][]string, error) {
	return d.query(ctx, stmt, []any{sql.Named("criteria", criteria)})
}

func (d *DB) query(ctx context.Context, stmt string, args []any) ([][]string, error) {
	rows, err := d.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrQuery, stmt, err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: columns: %w", ErrQuery, err)
	}
	if len(cols) > MaxFieldCount {
		return nil, fmt.Errorf("%w: %d columns exceeds %d", ErrTooManyFields, len(cols), MaxFieldCount)
	}

	var out [][]string
	cells := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range cells {
		dest[i] = &cells[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", ErrQuery, err)
		}
		record := make([]string, len(cols))
		for i, c := range cells {
			if c.Valid {
				record[i] = c.String
			}
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	return out, nil
}

// Close closes the database. Safe to call more than once.
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.db.Close()
	})
	return d.closeErr
}
