package channels

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/id"
)

func TestSQLiteSyncStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSyncStore(ctx, t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	user := id.UserID("@otcbot:example.org")

	batch, err := store.LoadNextBatch(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, batch)

	require.NoError(t, store.SaveFilterID(ctx, user, "filter1"))
	require.NoError(t, store.SaveNextBatch(ctx, user, "s72594_4483_1934"))
	require.NoError(t, store.SaveNextBatch(ctx, user, "s72595_4483_1934"))

	filter, err := store.LoadFilterID(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "filter1", filter)

	batch, err = store.LoadNextBatch(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "s72595_4483_1934", batch)

	other, err := store.LoadFilterID(ctx, "@someone:example.org")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSQLiteSyncStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested", "store")
	user := id.UserID("@otcbot:example.org")

	store, err := OpenSyncStore(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, store.SaveNextBatch(ctx, user, "token"))
	require.NoError(t, store.Close())

	_, err = os.Stat(filepath.Join(dir, SyncStoreFile))
	require.NoError(t, err)

	store, err = OpenSyncStore(ctx, dir)
	require.NoError(t, err)
	defer store.Close()

	batch, err := store.LoadNextBatch(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "token", batch)
}
