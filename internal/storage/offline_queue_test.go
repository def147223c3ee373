package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfflineQueueStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue", "offline.db")
	ctx := context.Background()

	store, err := OpenOfflineQueue(path)
	require.NoError(t, err)

	data, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, store.Put(ctx, []byte(`[{"a":1}]`)))
	require.NoError(t, store.Put(ctx, []byte(`[{"a":1},{"b":2}]`)))
	require.NoError(t, store.Close())

	reopened, err := OpenOfflineQueue(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	data, err = reopened.Get(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"a":1},{"b":2}]`, string(data))

	require.NoError(t, reopened.Clear(ctx))
	data, err = reopened.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestOpenOfflineQueueRequiresPath(t *testing.T) {
	_, err := OpenOfflineQueue("")
	assert.Error(t, err)
}
