package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/goplus/llpm/internal/descriptor"
	"github.com/goplus/llpm/mod/module"
)

const dbFile = "packages.db"

// sqliteStore keeps descriptors in a SQLite database. Package files live
// in the same directory layout as the filesystem store.
type sqliteStore struct {
	layout
	db *sql.DB
}

// OpenSQLite opens the SQLite store rooted at dir.
func OpenSQLite(dir string) (Store, error) {
	l, err := newLayout(dir)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", filepath.Join(l.root, dbFile))
	if err != nil {
		return nil, fmt.Errorf("open package db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := initSQLite(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &sqliteStore{layout: l, db: db}, nil
}

func initSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS packages (
  name TEXT NOT NULL,
  version TEXT NOT NULL,
  platform TEXT NOT NULL,
  descriptor TEXT NOT NULL,
  published_at_ns INTEGER NOT NULL,
  PRIMARY KEY(name, version)
);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init package db: %w", err)
		}
	}
	return nil
}

func (s *sqliteStore) Lookup(ctx context.Context, id module.Version) (*descriptor.Descriptor, error) {
	dir, err := s.filesDir(id)
	if err != nil {
		return nil, err
	}
	var data string
	err = s.db.QueryRowContext(ctx,
		`SELECT descriptor FROM packages WHERE name = ? AND version = ?`,
		id.Path, id.Version).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var d descriptor.Descriptor
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	d.Dir = dir
	return &d, nil
}

func (s *sqliteStore) Versions(ctx context.Context, name string) ([]string, error) {
	if _, err := s.packageDir(name); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM packages WHERE name = ?`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sortVersions(versions), nil
}

func (s *sqliteStore) Publish(ctx context.Context, d *descriptor.Descriptor, layoutDir string) (*descriptor.Descriptor, error) {
	id := d.ID()
	if _, err := s.Lookup(ctx, id); err == nil {
		return nil, fmt.Errorf("%s: %w", id, ErrExists)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	dir, err := s.place(id, layoutDir)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO packages (name, version, platform, descriptor, published_at_ns)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(name, version) DO NOTHING`,
		d.Name, d.Version, d.Platform, string(data), time.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("%s: %w", id, ErrExists)
	}
	published := *d
	published.Dir = dir
	return &published, nil
}

func (s *sqliteStore) Lock(ctx context.Context, id module.Version) (func(), error) {
	return s.lock(ctx, id)
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
