package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const (
	schema = `CREATE TABLE IF NOT EXISTS kv (
	name TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at BIGINT NOT NULL
)`
	selectSQL = `SELECT value FROM kv WHERE name = ?`
	upsertSQL = `INSERT INTO kv (name, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	deleteSQL = `DELETE FROM kv WHERE name = ?`
)

// SQLStore keeps values in a single table. The same statements serve
// sqlite and postgres; placeholders are rebound per driver.
type SQLStore struct {
	db *sqlx.DB

	getQ    string
	putQ    string
	deleteQ string
}

// OpenSQLite opens (or creates) a sqlite database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s, err := newSQLStore(ctx, db)
	if err != nil {
		return nil, err
	}
	slog.Info("kvstore: sqlite opened", "path", path)
	return s, nil
}

// OpenPostgres connects through the pgx stdlib driver.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s, err := newSQLStore(ctx, db)
	if err != nil {
		return nil, err
	}
	slog.Info("kvstore: postgres connected", "dsn_len", len(dsn))
	return s, nil
}

func newSQLStore(ctx context.Context, db *sqlx.DB) (*SQLStore, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLStore{
		db:      db,
		getQ:    db.Rebind(selectSQL),
		putQ:    db.Rebind(upsertSQL),
		deleteQ: db.Rebind(deleteSQL),
	}, nil
}

func (s *SQLStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw, s.getQ, key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	return true, decode(key, []byte(raw), dst)
}

func (s *SQLStore) Put(ctx context.Context, key string, v any) error {
	data, err := encode(key, v)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.putQ, key, string(data), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.deleteQ, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }
