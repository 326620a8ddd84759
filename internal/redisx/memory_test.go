package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetGetExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "k", "v", time.Second))
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	now = now.Add(time.Second)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemorySetNX(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ok, err := m.SetNX(ctx, "idem", IdemPending, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.SetNX(ctx, "idem", "other", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Del(ctx, "idem"))
	ok, _ = m.SetNX(ctx, "idem", "again", time.Minute)
	assert.True(t, ok)
}

func TestMemoryCountersAndHashes(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	n, err := m.Incr(ctx, KeyCatalogGeneration)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, _ = m.Incr(ctx, KeyCatalogGeneration)
	assert.EqualValues(t, 2, n)

	require.NoError(t, m.HIncrBy(ctx, "h", map[string]int64{"orders": 1, "units": 3}))
	require.NoError(t, m.HIncrBy(ctx, "h", map[string]int64{"units": -1}))
	got, err := m.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"orders": "1", "units": "2"}, got)

	ok, _ := m.Exists(ctx, "h")
	assert.True(t, ok)
	ok, _ = m.Exists(ctx, "nope")
	assert.False(t, ok)
}
