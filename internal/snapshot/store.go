// Package snapshot keeps the one active exam in a durable local slot so a
// restarted taker can pick it up again. Every backend is best effort: callers
// log failures and carry on in memory.
package snapshot

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/model"
)

// Store is a single-slot snapshot store. Save overwrites unconditionally.
// Load returns (nil, nil) for an empty slot.
type Store interface {
	Save(ctx context.Context, s *model.ExamSession) error
	Load(ctx context.Context) (*model.ExamSession, error)
	Clear(ctx context.Context) error
}

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// Open builds the store selected by cfg.SnapshotDriver. The returned close
// func releases any connection the store owns.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Store, func(), error) {
	noop := func() {}

	switch cfg.SnapshotDriver {
	case DriverMemory:
		return NewMemoryStore(), noop, nil
	case DriverFile, "":
		return NewFileStore(cfg.SnapshotPath), noop, nil
	case DriverRedis:
		rdb, err := database.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			return nil, noop, err
		}
		return NewRedisStore(rdb, cfg.SnapshotKey), func() { rdb.Close() }, nil
	case DriverSQLite:
		st, err := OpenSQLiteStore(ctx, cfg.SnapshotPath, cfg.SnapshotKey)
		if err != nil {
			return nil, noop, err
		}
		return st, func() { st.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unsupported snapshot driver: %s", cfg.SnapshotDriver)
	}
}
