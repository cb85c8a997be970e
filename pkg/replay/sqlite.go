// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/stacklok/webguard/pkg/logger"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// SQLiteCache is a Cache persisted in a SQLite database. Expired rows are
// hidden on read and removed by a periodic sweep.
type SQLiteCache struct {
	db  *sql.DB
	now func() time.Time

	stopSweep chan struct{}
	sweepDone chan struct{}
	closeOnce sync.Once
}

// NewSQLiteCache opens path, applies migrations and starts the sweeper.
func NewSQLiteCache(ctx context.Context, path string, sweepInterval time.Duration) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if sweepInterval <= 0 {
		sweepInterval = DefaultCleanupInterval
	}
	c := &SQLiteCache{
		db:        db,
		now:       time.Now,
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	go c.sweepLoop(sweepInterval)
	return c, nil
}

// runMigrations applies all pending database migrations using goose.
func runMigrations(ctx context.Context, db *sql.DB) error {
	// The embedded filesystem has files under "migrations/", so we need
	// to strip that prefix to get a flat filesystem of .sql files.
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create sub filesystem: %w", err)
	}

	provider, err := goose.NewProvider(database.DialectSQLite3, db, migrationFS)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Put implements Cache.
func (c *SQLiteCache) Put(ctx context.Context, key, value string, expiresAt time.Time) error {
	if !expiresAt.After(c.now()) {
		return nil
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO replay_entries (key, value, expires_at) VALUES (?, ?, ?)`,
		key, value, expiresAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to store replay entry: %w", err)
	}
	return nil
}

// Get implements Cache.
func (c *SQLiteCache) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expiresAt int64
	err := c.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM replay_entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read replay entry: %w", err)
	}
	if c.now().UnixNano() >= expiresAt {
		return "", false, nil
	}
	return value, true, nil
}

// Delete implements Cache.
func (c *SQLiteCache) Delete(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM replay_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete replay entry: %w", err)
	}
	return nil
}

// Close stops the sweeper and closes the database.
func (c *SQLiteCache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopSweep)
		<-c.sweepDone
		err = c.db.Close()
	})
	return err
}

func (c *SQLiteCache) sweepLoop(interval time.Duration) {
	defer close(c.sweepDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopSweep:
			return
		case <-ticker.C:
			if err := c.sweep(context.Background()); err != nil {
				logger.Warnw("replay cache sweep failed", "error", err)
			}
		}
	}
}

func (c *SQLiteCache) sweep(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM replay_entries WHERE expires_at <= ?`, c.now().UnixNano())
	return err
}
