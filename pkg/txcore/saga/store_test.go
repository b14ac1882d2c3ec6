package saga

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_CreateGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	exec := NewExecution("saga-1", sampleDef(), nil, "corr-1")

	require.NoError(t, store.Create(ctx, exec))
	require.Error(t, store.Create(ctx, exec))

	got, err := store.Get(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, "saga-1", got.SagaID)

	got.Status = StatusCompleted
	require.NoError(t, store.Update(ctx, got))

	reread, err := store.Get(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, reread.Status)

	require.NoError(t, store.Delete(ctx, "saga-1"))
	_, err = store.Get(ctx, "saga-1")
	assert.ErrorIs(t, err, ErrExecutionNotFound)
}

func TestMemoryStore_UpdateUnknownSagaFails(t *testing.T) {
	store := NewMemoryStore()
	exec := NewExecution("saga-ghost", sampleDef(), nil, "corr-1")
	err := store.Update(context.Background(), exec)
	assert.ErrorIs(t, err, ErrExecutionNotFound)
}

func TestMemoryStore_ListNonTerminalExcludesTerminalSagas(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	running := NewExecution("saga-running", sampleDef(), nil, "corr-1")
	require.NoError(t, store.Create(ctx, running))

	completed := NewExecution("saga-done", sampleDef(), nil, "corr-2")
	completed.Status = StatusCompleted
	require.NoError(t, store.Create(ctx, completed))

	nonTerminal, err := store.ListNonTerminal(ctx)
	require.NoError(t, err)
	require.Len(t, nonTerminal, 1)
	assert.Equal(t, "saga-running", nonTerminal[0].SagaID)
}
