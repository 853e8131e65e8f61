package history

import (
	"context"
	"errors"
	"path"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates a temporary test database
func setupTestDB(t *testing.T) *sqlx.DB {
	dbPath := path.Join(t.TempDir(), "test_history.db")
	db := sqlx.MustConnect("sqlite3", dbPath)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDBInit(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, DBInit(db))
	// Running it twice must be harmless.
	require.NoError(t, DBInit(db))

	var tableName string
	err := db.Get(&tableName, "SELECT name FROM sqlite_master WHERE type='table' AND name='supervisor_events'")
	require.NoError(t, err)
	assert.Equal(t, "supervisor_events", tableName)
}

func TestJournalRecordAndList(t *testing.T) {
	j, err := NewJournal(setupTestDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, Event{EventType: string(EventPromoted), Path: "app.config.yaml", Timestamp: 1000}))
	require.NoError(t, j.Record(ctx, Event{EventType: string(EventReloadFailed), Error: "bad yaml", Timestamp: 2000}))
	require.NoError(t, j.Record(ctx, Event{EventType: string(EventRestart), InstanceID: "abc", Port: 4000, DurationMS: 12, Timestamp: 3000}))

	events, err := j.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, string(EventRestart), events[0].EventType)
	assert.Equal(t, "abc", events[0].InstanceID)
	assert.Equal(t, 4000, events[0].Port)
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, string(EventReloadFailed), events[1].EventType)
	assert.Equal(t, "bad yaml", events[1].Error)
	assert.Equal(t, time.UnixMilli(3000), events[0].Time())
}

func TestJournalHelpers(t *testing.T) {
	j, err := NewJournal(setupTestDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, j.LogRestart(ctx, "id-1", "node-server", 3000, 150*time.Millisecond))
	require.NoError(t, j.LogRestartFailed(ctx, "bun", 3000, time.Second, errors.New("address in use")))
	require.NoError(t, j.LogReloadFailed(ctx, "vite.config.ts", nil))
	require.NoError(t, j.LogShutdown(ctx, "id-1"))

	events, err := j.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 4)

	byType := make(map[string]Event)
	for _, e := range events {
		byType[e.EventType] = e
	}
	assert.Equal(t, int64(150), byType[string(EventRestart)].DurationMS)
	assert.Equal(t, "address in use", byType[string(EventRestartFailed)].Error)
	assert.Equal(t, "", byType[string(EventReloadFailed)].Error)
	assert.Equal(t, "id-1", byType[string(EventShutdown)].InstanceID)
}

func TestOpenCreatesDirectory(t *testing.T) {
	dbPath := path.Join(t.TempDir(), "nested", "dir", "history.db")
	j, err := Open(dbPath)
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.LogPromoted(context.Background(), "app.config.yaml"))
	events, err := j.List(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestNilJournalDiscards(t *testing.T) {
	var j *Journal
	assert.NoError(t, j.LogRestart(context.Background(), "x", "bun", 1, 0))
	events, err := j.List(context.Background(), 10)
	assert.NoError(t, err)
	assert.Nil(t, events)
	assert.NoError(t, j.Close())
}
