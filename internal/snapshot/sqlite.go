package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/stemsi/exstem-session/internal/model"
	_ "modernc.org/sqlite" // driver: sqlite
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS exam_snapshots (
	slot       TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);`

// SQLiteStore keeps the slot as one row of an embedded SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	slot string
}

// OpenSQLiteStore opens (or creates) the database at path and ensures the schema.
func OpenSQLiteStore(ctx context.Context, path, slot string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?mode=rwc&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure snapshot schema: %w", err)
	}
	return &SQLiteStore{db: db, slot: slot}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, sess *model.ExamSession) error {
	raw, err := Encode(sess)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO exam_snapshots (slot, payload, updated_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (slot) DO UPDATE
		 SET payload = excluded.payload, updated_at = excluded.updated_at`,
		s.slot, raw, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (*model.ExamSession, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM exam_snapshots WHERE slot = $1`, s.slot,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	return Decode(raw)
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM exam_snapshots WHERE slot = $1`, s.slot); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
