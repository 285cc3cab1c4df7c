package sessionstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &Record{
		SessionID: "sess-1",
		AgentName: "Claude Code",
		Title:     "Fix the build",
		Cwd:       "/home/user/project",
	}
	require.NoError(t, store.Save(ctx, rec))
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "Claude Code", got.AgentName)
	assert.Equal(t, "Fix the build", got.Title)
	assert.Equal(t, "/home/user/project", got.Cwd)
}

func TestSaveUpsertsExistingSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Record{SessionID: "sess-1", AgentName: "Claude Code", Title: "old"}))
	require.NoError(t, store.Save(ctx, &Record{SessionID: "sess-1", AgentName: "Claude Code", Title: "new"}))

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Title)

	records, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestListOrdersByRecency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Record{SessionID: "older", AgentName: "Gemini CLI"}))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, store.Save(ctx, &Record{SessionID: "newer", AgentName: "Gemini CLI"}))

	records, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "newer", records[0].SessionID)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, store.Touch(ctx, "older"))

	records, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "older", records[0].SessionID)
}

func TestListFiltersByAgent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Record{SessionID: "a", AgentName: "Claude Code"}))
	require.NoError(t, store.Save(ctx, &Record{SessionID: "b", AgentName: "Gemini CLI"}))

	records, err := store.List(ctx, "Claude Code")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].SessionID)
}

func TestSetTitle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Record{SessionID: "sess-1", AgentName: "Claude Code"}))
	require.NoError(t, store.SetTitle(ctx, "sess-1", "Refactor the parser"))

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "Refactor the parser", got.Title)
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &Record{SessionID: "sess-1", AgentName: "Claude Code"}))
	require.NoError(t, store.Delete(ctx, "sess-1"))

	_, err := store.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	// Deleting a missing session is not an error.
	require.NoError(t, store.Delete(ctx, "ghost"))
}
