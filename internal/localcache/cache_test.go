package localcache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *SQLiteCache {
	t.Helper()
	cache, err := Open(filepath.Join(t.TempDir(), "device.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestGetAll_EmptyCacheReturnsEmptyList(t *testing.T) {
	cache := openTestCache(t)

	list, err := cache.GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NotNil(t, list)
}

func TestAppend_PreservesInsertionOrder(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Append(ctx, "primera idea"))
	require.NoError(t, cache.Append(ctx, "segunda idea"))
	require.NoError(t, cache.Append(ctx, "primera idea"))

	list, err := cache.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"primera idea", "segunda idea", "primera idea"}, list)
}

func TestRemove_DeletesFirstExactMatchOnly(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Append(ctx, "uno"))
	require.NoError(t, cache.Append(ctx, "dos"))
	require.NoError(t, cache.Append(ctx, "uno"))

	removed, err := cache.Remove(ctx, "uno")
	require.NoError(t, err)
	assert.True(t, removed)

	list, err := cache.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dos", "uno"}, list)

	removed, err = cache.Remove(ctx, "tres")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestClear_KeepsCounters(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Append(ctx, "una idea"))
	require.NoError(t, cache.SetCounter(ctx, KeyDailyCount, 3))
	require.NoError(t, cache.Clear(ctx))

	list, err := cache.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	count, err := cache.GetCounter(ctx, KeyDailyCount)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestCounters_DefaultZeroAndUpsert(t *testing.T) {
	cache := openTestCache(t)
	ctx := context.Background()

	value, err := cache.GetCounter(ctx, KeyLastSave)
	require.NoError(t, err)
	assert.Zero(t, value)

	require.NoError(t, cache.SetCounter(ctx, KeyLastSave, 1700000000000))
	require.NoError(t, cache.SetCounter(ctx, KeyLastSave, 1700000005000))

	value, err = cache.GetCounter(ctx, KeyLastSave)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000005000), value)
}

func TestOpen_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.db")
	ctx := context.Background()

	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Append(ctx, "persistente"))
	require.NoError(t, first.SetCounter(ctx, KeyDailyCountDate, 20260304))
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	list, err := second.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"persistente"}, list)

	day, err := second.GetCounter(ctx, KeyDailyCountDate)
	require.NoError(t, err)
	assert.Equal(t, int64(20260304), day)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}

func TestNamespace_SeparatesListsAndSharesCounters(t *testing.T) {
	cache := openTestCache(t)
	mirror := cache.Namespace(KeyMirror)
	ctx := context.Background()

	require.NoError(t, cache.Append(ctx, "idea de invitado"))
	require.NoError(t, mirror.Append(ctx, "idea respaldada"))
	require.NoError(t, mirror.SetCounter(ctx, KeyDailyCount, 2))

	guest, err := cache.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"idea de invitado"}, guest)

	backup, err := mirror.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"idea respaldada"}, backup)

	count, err := cache.GetCounter(ctx, KeyDailyCount)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.NoError(t, mirror.Clear(ctx))
	guest, err = cache.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, guest, 1)
}
