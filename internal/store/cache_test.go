package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teresa-solution/guest-access-service/internal/model"
)

func setupRowCache(t *testing.T) (*RowCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	cache := NewRowCache(NewRedisClient(mr.Addr(), "", 0), time.Hour)
	t.Cleanup(func() { cache.Close() })
	return cache, mr
}

func TestRowCache_ReadThrough(t *testing.T) {
	cache, mr := setupRowCache(t)
	ctx := context.Background()

	var miss model.Organization
	assert.False(t, cache.get(ctx, organizationKey(1), &miss))

	org := &model.Organization{ID: 1, Name: "La Familia", Country: "CO"}
	org.Settings.BoldPayment = &model.BoldPaymentSettings{APIKey: "enc:api"}
	cache.set(ctx, organizationKey(1), org)

	assert.True(t, mr.Exists("organization:1"))
	assert.Equal(t, time.Hour, mr.TTL("organization:1"))

	var hit model.Organization
	require.True(t, cache.get(ctx, organizationKey(1), &hit))
	assert.Equal(t, "La Familia", hit.Name)
	require.NotNil(t, hit.Settings.BoldPayment)
	assert.Equal(t, "enc:api", hit.Settings.BoldPayment.APIKey)
}

func TestRowCache_Invalidate(t *testing.T) {
	cache, mr := setupRowCache(t)
	ctx := context.Background()

	cache.set(ctx, branchKey(3), &model.Branch{ID: 3})
	cache.set(ctx, branchKey(4), &model.Branch{ID: 4})
	cache.invalidate(ctx, branchKey(3))

	assert.False(t, mr.Exists("branch:3"))
	assert.True(t, mr.Exists("branch:4"))
}

func TestRowCache_Expires(t *testing.T) {
	cache, mr := setupRowCache(t)
	ctx := context.Background()

	cache.set(ctx, branchKey(3), &model.Branch{ID: 3})
	mr.FastForward(2 * time.Hour)

	var b model.Branch
	assert.False(t, cache.get(ctx, branchKey(3), &b))
}

func TestRowCache_UnreachableRedisIsAMiss(t *testing.T) {
	cache, mr := setupRowCache(t)
	ctx := context.Background()
	mr.Close()

	assert.NotPanics(t, func() {
		cache.set(ctx, branchKey(3), &model.Branch{ID: 3})
		cache.invalidate(ctx, branchKey(3))
	})
	var b model.Branch
	assert.False(t, cache.get(ctx, branchKey(3), &b))
}

func TestRowCache_NilIsDisabled(t *testing.T) {
	var cache *RowCache
	ctx := context.Background()

	cache.set(ctx, branchKey(3), &model.Branch{ID: 3})
	cache.invalidate(ctx, branchKey(3))
	var b model.Branch
	assert.False(t, cache.get(ctx, branchKey(3), &b))
}

func TestRowCache_CorruptEntryIsAMiss(t *testing.T) {
	cache, mr := setupRowCache(t)
	require.NoError(t, mr.Set("branch:9", "{not json"))

	var b model.Branch
	assert.False(t, cache.get(context.Background(), branchKey(9), &b))
}
