package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSession() *model.ExamSession {
	return &model.ExamSession{
		ExamID: "exam-42",
		Questions: []model.Question{
			{ID: "q1", Text: "Pick one", Options: []model.Option{{ID: "A", Text: "a"}, {ID: "B", Text: "b"}}},
			{ID: "q2", Text: "Pick many", MultiSelect: true, Options: []model.Option{{ID: "A", Text: "a"}, {ID: "C", Text: "c"}}},
		},
		StartedAt:    time.UnixMilli(1_700_000_123_456),
		DurationSec:  1800,
		CurrentIndex: 1,
		Selections: model.Selections{
			"q1": {"A": false, "B": true},
			"q2": {"A": true, "C": true},
		},
		SavedMarks: map[int]bool{0: true},
		Finishing:  true,
	}
}

// newStores returns one instance of every backend, each on a fresh slot.
func newStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	sqliteStore, err := OpenSQLiteStore(context.Background(), filepath.Join(dir, "snap.db"), "exam_state_v1")
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return map[string]Store{
		DriverMemory: NewMemoryStore(),
		DriverFile:   NewFileStore(filepath.Join(dir, "exam_state_v1.json")),
		DriverSQLite: sqliteStore,
		DriverRedis:  NewRedisStore(rdb, "exam_state_v1"),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, st := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			empty, err := st.Load(ctx)
			require.NoError(t, err)
			assert.Nil(t, empty)

			want := sampleSession()
			require.NoError(t, st.Save(ctx, want))

			got, err := st.Load(ctx)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, want.ExamID, got.ExamID)
			assert.Equal(t, want.Questions, got.Questions)
			assert.True(t, want.StartedAt.Equal(got.StartedAt))
			assert.Equal(t, want.DurationSec, got.DurationSec)
			assert.Equal(t, want.CurrentIndex, got.CurrentIndex)
			assert.Equal(t, want.Selections, got.Selections)
			assert.Equal(t, want.SavedMarks, got.SavedMarks)
			assert.True(t, got.Finishing)

			// Last write wins.
			want.CurrentIndex = 0
			require.NoError(t, st.Save(ctx, want))
			got, err = st.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, got.CurrentIndex)

			require.NoError(t, st.Clear(ctx))
			gone, err := st.Load(ctx)
			require.NoError(t, err)
			assert.Nil(t, gone)

			// Clearing an empty slot is fine.
			require.NoError(t, st.Clear(ctx))
		})
	}
}

func TestDecodeRejectsCorruptPayloads(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"garbage", "{not json"},
		{"empty exam id", `{"examId":"","startedAt":1,"durationSec":10}`},
		{"missing startedAt", `{"examId":"x","durationSec":10}`},
		{"negative duration", `{"examId":"x","startedAt":1,"durationSec":-1}`},
		{"two options on single-select", `{"examId":"x","startedAt":1,"durationSec":10,
			"questions":[{"id":"q1","multiSelect":false,"options":[{"id":"A"},{"id":"B"}]}],
			"selectionsByQid":{"q1":{"A":true,"B":true}}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			require.ErrorIs(t, err, ErrRecoveryCorrupt)
		})
	}
}

func TestDecodeClampsIndexAndDropsStrayMarks(t *testing.T) {
	raw := `{"examId":"x","startedAt":1000,"durationSec":60,"currentIdx":9,
		"questions":[{"id":"q1","options":[]},{"id":"q2","options":[]}],
		"savedByIdx":{"1":true,"7":true}}`

	s, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, 1, s.CurrentIndex)
	assert.Equal(t, map[int]bool{1: true}, s.SavedMarks)
	assert.NotNil(t, s.Selections)

	s, err = Decode([]byte(`{"examId":"x","startedAt":1000,"durationSec":60,"currentIdx":-3}`))
	require.NoError(t, err)
	assert.Equal(t, 0, s.CurrentIndex)
}

func TestDecodeDropsUnknownSelections(t *testing.T) {
	raw := `{"examId":"x","startedAt":1000,"durationSec":60,
		"questions":[
			{"id":"q1","multiSelect":false,"options":[{"id":"A"},{"id":"B"}]},
			{"id":"q2","multiSelect":true,"options":[{"id":"A"},{"id":"C"}]}],
		"selectionsByQid":{
			"q1":{"B":true,"Z":true},
			"q2":{"A":true,"C":true},
			"q9":{"A":true}}}`

	s, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, model.Selections{
		"q1": {"B": true},
		"q2": {"A": true, "C": true},
	}, s.Selections)
}

func TestFileStoreCorruptSlotSurfacesAsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slot.json")
	require.NoError(t, os.WriteFile(path, []byte("\x00\x01"), 0o600))

	_, err := NewFileStore(path).Load(context.Background())
	require.ErrorIs(t, err, ErrRecoveryCorrupt)
}

func TestFileStoreUnwritableDirectory(t *testing.T) {
	st := NewFileStore(filepath.Join(t.TempDir(), "missing", "slot.json"))
	require.Error(t, st.Save(context.Background(), sampleSession()))
}

func TestOpenSelectsDriver(t *testing.T) {
	dir := t.TempDir()
	mr := miniredis.RunT(t)

	tests := []struct {
		driver string
		want   any
	}{
		{DriverMemory, &MemoryStore{}},
		{DriverFile, &FileStore{}},
		{"", &FileStore{}},
		{DriverSQLite, &SQLiteStore{}},
		{DriverRedis, &RedisStore{}},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			cfg := &config.Config{
				SnapshotDriver: tt.driver,
				SnapshotPath:   filepath.Join(dir, "slot-"+tt.driver),
				SnapshotKey:    "exam_state_v1",
				RedisURL:       "redis://" + mr.Addr(),
			}
			st, closeStore, err := Open(context.Background(), cfg, zerolog.Nop())
			require.NoError(t, err)
			defer closeStore()
			assert.IsType(t, tt.want, st)

			require.NoError(t, st.Save(context.Background(), sampleSession()))
			got, err := st.Load(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "exam-42", got.ExamID)
		})
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, _, err := Open(context.Background(), &config.Config{SnapshotDriver: "floppy"}, zerolog.Nop())
	assert.Error(t, err)
}
