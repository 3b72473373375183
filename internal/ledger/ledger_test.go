package ledger

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T, dir string) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), dir)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() }) //nolint:errcheck // Test cleanup
	return l
}

func TestRegisterUnregister(t *testing.T) {
	l := openTestLedger(t, t.TempDir())
	ctx := context.Background()

	require.NoError(t, l.Register(ctx, "node-a", "broker:443"))

	ok, err := l.IsRegistered(ctx, "node-a")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, l.Unregister(ctx, "node-a"))
	ok, err = l.IsRegistered(ctx, "node-a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Unregister(ctx, "node-a"), "absent node is not an error")
	require.ErrorIs(t, l.Register(ctx, "", "b"), ErrInvalidEntry)
}

func TestRegister_LastWriterWins(t *testing.T) {
	l := openTestLedger(t, t.TempDir())
	ctx := context.Background()

	l.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, l.Register(ctx, "node-a", "old:443"))
	l.now = func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, l.Register(ctx, "node-a", "new:443"))

	entries, err := l.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new:443", entries[0].Broker)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), entries[0].RegisteredAt)
	assert.Equal(t, os.Getpid(), entries[0].PID)
}

func TestEntries_SharedAcrossHandles(t *testing.T) {
	dir := t.TempDir()
	a := openTestLedger(t, dir)
	b := openTestLedger(t, dir)
	ctx := context.Background()

	require.NoError(t, a.Register(ctx, "node-b", "x"))
	require.NoError(t, b.Register(ctx, "node-a", "y"))

	entries, err := a.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "node-a", entries[0].NodeID)
	assert.Equal(t, "node-b", entries[1].NodeID)
}

func TestReconcile(t *testing.T) {
	l := openTestLedger(t, t.TempDir())
	ctx := context.Background()

	keep := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return keep }
	require.NoError(t, l.Register(ctx, "kept", "b1"))
	require.NoError(t, l.Register(ctx, "stale", "b1"))

	l.now = func() time.Time { return keep.Add(time.Hour) }
	require.NoError(t, l.Reconcile(ctx, map[string]string{"kept": "b1", "added": "b2"}))

	entries, err := l.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "added", entries[0].NodeID)
	assert.Equal(t, "b2", entries[0].Broker)
	assert.Equal(t, "kept", entries[1].NodeID)
	assert.Equal(t, keep, entries[1].RegisteredAt, "existing entry untouched")
}

func TestReconcile_EmptyClears(t *testing.T) {
	l := openTestLedger(t, t.TempDir())
	ctx := context.Background()

	require.NoError(t, l.Register(ctx, "a", "b"))
	require.NoError(t, l.Reconcile(ctx, nil))

	entries, err := l.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
