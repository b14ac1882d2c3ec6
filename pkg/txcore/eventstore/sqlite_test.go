package eventstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracseq/txcore/pkg/txcore/txerr"
	"github.com/tracseq/txcore/pkg/txcore/txevent"
)

type samplePayload struct {
	Barcode string `json:"barcode"`
}

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_AppendAndGetEvents(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	evt := txevent.New("sample.registered", "sample-1", "sample", 1, samplePayload{Barcode: "BC-1"})
	records, err := store.AppendEvents(ctx, "sample-1", "sample", 0, []txevent.Event{evt})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), records[0].SequenceNumber)

	got, err := store.GetEvents(ctx, "sample-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sample.registered", got[0].EventType)

	var decoded samplePayload
	require.NoError(t, got[0].Decode(&decoded))
	assert.Equal(t, "BC-1", decoded.Barcode)

	version, err := store.CurrentVersion(ctx, "sample-1")
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestSQLiteStore_AppendRejectsVersionMismatch(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	evt := txevent.New("sample.registered", "sample-2", "sample", 1, samplePayload{Barcode: "BC-2"})
	_, err := store.AppendEvents(ctx, "sample-2", "sample", 0, []txevent.Event{evt})
	require.NoError(t, err)

	stale := txevent.New("sample.updated", "sample-2", "sample", 2, samplePayload{Barcode: "BC-2"})
	_, err = store.AppendEvents(ctx, "sample-2", "sample", 0, []txevent.Event{stale})
	require.Error(t, err)

	var conflict *txerr.ConcurrencyConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 0, conflict.ExpectedVersion)
	assert.Equal(t, 1, conflict.ActualVersion)
}

func TestSQLiteStore_AppendIsAtomic(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	evt1 := txevent.New("sample.registered", "sample-3", "sample", 1, samplePayload{Barcode: "BC-3"})

	// evt2 repeats event_version 1 instead of carrying 2, so the store
	// rejects it; the whole append must fail and leave nothing persisted.
	evt2 := txevent.New("sample.updated", "sample-3", "sample", 1, samplePayload{Barcode: "BC-3-dup"})

	_, err := store.AppendEvents(ctx, "sample-3", "sample", 0, []txevent.Event{evt1, evt2})
	require.Error(t, err)

	version, err := store.CurrentVersion(ctx, "sample-3")
	require.NoError(t, err)
	assert.Equal(t, 0, version)
}

func TestSQLiteStore_SnapshotRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	err := store.SaveSnapshot(ctx, Snapshot{AggregateID: "sample-4", Version: 3, Data: []byte(`{"state":"ready"}`)})
	require.NoError(t, err)

	snap, err := store.LatestSnapshot(ctx, "sample-4")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 3, snap.Version)
	assert.Equal(t, `{"state":"ready"}`, string(snap.Data))

	none, err := store.LatestSnapshot(ctx, "no-such-aggregate")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSQLiteStore_DispatchesToRegisteredHandlers(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	var handled []string
	store.RegisterHandler(txevent.HandlerFunc(func(_ context.Context, rec txevent.Record) ([]txevent.Record, error) {
		handled = append(handled, rec.EventID)
		return nil, nil
	}))

	evt := txevent.New("sample.registered", "sample-5", "sample", 1, samplePayload{Barcode: "BC-5"})
	records, err := store.AppendEvents(ctx, "sample-5", "sample", 0, []txevent.Event{evt})
	require.NoError(t, err)
	require.Len(t, handled, 1)
	assert.Equal(t, records[0].EventID, handled[0])
}

func TestSQLiteStore_HandlerFailureDoesNotRollBackAppend(t *testing.T) {
	store := newStore(t)
	store.dispatchRetry = txerr.NoRetry
	ctx := context.Background()

	store.RegisterHandler(txevent.HandlerFunc(func(_ context.Context, rec txevent.Record) ([]txevent.Record, error) {
		return nil, errors.New("projection unavailable")
	}))

	evt := txevent.New("sample.registered", "sample-6", "sample", 1, samplePayload{Barcode: "BC-6"})
	records, err := store.AppendEvents(ctx, "sample-6", "sample", 0, []txevent.Event{evt})

	require.Error(t, err)
	var handlerErr *HandlerError
	require.ErrorAs(t, err, &handlerErr)
	require.Len(t, records, 1)

	version, verr := store.CurrentVersion(ctx, "sample-6")
	require.NoError(t, verr)
	assert.Equal(t, 1, version, "append must commit even when dispatch fails")
}

func TestSQLiteStore_GetEventsByTypeOrdersBySequence(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	e1 := txevent.New("sample.registered", "sample-7", "sample", 1, samplePayload{Barcode: "BC-7"})
	e2 := txevent.New("sample.registered", "sample-8", "sample", 1, samplePayload{Barcode: "BC-8"})
	_, err := store.AppendEvents(ctx, "sample-7", "sample", 0, []txevent.Event{e1})
	require.NoError(t, err)
	_, err = store.AppendEvents(ctx, "sample-8", "sample", 0, []txevent.Event{e2})
	require.NoError(t, err)

	all, err := store.GetEventsByType(ctx, "sample.registered", 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[0].SequenceNumber < all[1].SequenceNumber)

	after, err := store.GetEventsByType(ctx, "sample.registered", all[0].SequenceNumber, 10)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, all[1].EventID, after[0].EventID)
}
