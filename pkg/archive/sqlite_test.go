package archive

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbcoin-labs/core/pkg/eventlog"
)

func newArchive(t *testing.T) *SQLiteArchive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "events.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func sampleEvent(id string, sequence uint64, eventType eventlog.Type, status eventlog.Status) eventlog.Event {
	return eventlog.Event{
		ID:        id,
		Type:      eventType,
		Payload:   map[string]any{"wallet": "w1", "amount": "10"},
		Sequence:  sequence,
		Timestamp: int64(sequence) * 1000,
		Status:    status,
	}
}

func TestRecordAndByType(t *testing.T) {
	a := newArchive(t)
	ctx := context.Background()

	require.NoError(t, a.Record(ctx, sampleEvent("a", 1, eventlog.TypeTokenMint, eventlog.StatusConfirmed)))
	require.NoError(t, a.Record(ctx, sampleEvent("b", 2, eventlog.TypeTokenBurn, eventlog.StatusConfirmed)))
	require.NoError(t, a.Record(ctx, sampleEvent("c", 3, eventlog.TypeTokenMint, eventlog.StatusFailed)))

	mints, err := a.ByType(ctx, eventlog.TypeTokenMint, 10)
	require.NoError(t, err)
	require.Len(t, mints, 2)
	assert.Equal(t, "c", mints[0].ID) // newest first
	assert.Equal(t, "a", mints[1].ID)
	assert.Equal(t, map[string]any{"wallet": "w1", "amount": "10"}, mints[0].Payload)
}

func TestRecordReplacesExistingRow(t *testing.T) {
	a := newArchive(t)
	ctx := context.Background()

	require.NoError(t, a.Record(ctx, sampleEvent("a", 1, eventlog.TypeTokenMint, eventlog.StatusPending)))
	updated := sampleEvent("a", 1, eventlog.TypeTokenMint, eventlog.StatusConfirmed)
	updated.Signature = "deadbeef"
	require.NoError(t, a.Record(ctx, updated))

	rows, err := a.Range(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, eventlog.StatusConfirmed, rows[0].Status)
	assert.Equal(t, "deadbeef", rows[0].Signature)
}

func TestRange(t *testing.T) {
	a := newArchive(t)
	ctx := context.Background()
	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, a.Record(ctx, sampleEvent(string(rune('a'+seq)), seq, eventlog.TypeTokenMint, eventlog.StatusConfirmed)))
	}

	rows, err := a.Range(ctx, 2, 4)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, uint64(2), rows[0].Sequence)
	assert.Equal(t, uint64(4), rows[2].Sequence)
}

func TestCountByStatus(t *testing.T) {
	a := newArchive(t)
	ctx := context.Background()
	require.NoError(t, a.Record(ctx, sampleEvent("a", 1, eventlog.TypeTokenMint, eventlog.StatusConfirmed)))
	require.NoError(t, a.Record(ctx, sampleEvent("b", 2, eventlog.TypeTokenMint, eventlog.StatusConfirmed)))
	require.NoError(t, a.Record(ctx, sampleEvent("c", 3, eventlog.TypeTokenMint, eventlog.StatusFailed)))

	counts, err := a.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[eventlog.StatusConfirmed])
	assert.Equal(t, 1, counts[eventlog.StatusFailed])
}

func TestAttachMirrorsAppends(t *testing.T) {
	a := newArchive(t)
	store, err := eventlog.Open(filepath.Join(t.TempDir(), "event-logs.json"), nil)
	require.NoError(t, err)

	detach := a.Attach(store)
	defer detach()

	event, err := store.Append(eventlog.TypeTokenMint, map[string]any{"wallet": "w1", "amount": "10"}, eventlog.StatusConfirmed)
	require.NoError(t, err)

	rows, err := a.Range(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, event.ID, rows[0].ID)

	detach()
	_, err = store.Append(eventlog.TypeTokenBurn, nil, eventlog.StatusConfirmed)
	require.NoError(t, err)
	rows, err = a.Range(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestAttachArchiveFailureDoesNotFailAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS events").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT OR REPLACE INTO events").
		WillReturnError(errors.New("disk I/O error"))

	a, err := NewSQLiteArchive(db, nil)
	require.NoError(t, err)

	store, err := eventlog.Open(filepath.Join(t.TempDir(), "event-logs.json"), nil)
	require.NoError(t, err)
	detach := a.Attach(store)
	defer detach()

	// The append succeeds even though the archive write errors.
	event, err := store.Append(eventlog.TypeTokenMint, nil, eventlog.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), event.Sequence)
	assert.NoError(t, mock.ExpectationsWereMet())
}
