package registry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*ViewCache, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewViewCache(rdb, "set-1", time.Minute), rdb
}

func TestViewCache_PutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)

	entry := CachedViewEntry{FQN: "cbu.create", ObjectType: ObjectVerbContract, Status: StatusActive, GovernanceTier: TierOperational}
	require.NoError(t, cache.Put(ctx, entry))

	got, ok, err := cache.Get(ctx, ObjectVerbContract, "cbu.create")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, entry.FQN, got.FQN)
	require.Equal(t, entry.Status, got.Status)
}

func TestViewCache_MissReturnsFalse(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)

	_, ok, err := cache.Get(ctx, ObjectVerbContract, "does.not.exist")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRebuild_PopulatesCacheFromStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	snap := verbSnapshot("verb.cbu.create", "cbu.create", TierOperational, TrustConvenience)
	snap.SnapshotSetID = "set-1"
	require.NoError(t, store.PutSnapshots(ctx, []Snapshot{snap}))

	cache, _ := newTestCache(t)
	n, err := Rebuild(ctx, store, cache, "set-1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, ok, err := cache.Get(ctx, ObjectVerbContract, "cbu.create")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "cbu.create", got.FQN)
}

func TestBuildFileView_IsContentAddressedAndLoadable(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	snap := verbSnapshot("verb.cbu.create", "cbu.create", TierOperational, TrustConvenience)
	snap.SnapshotSetID = "set-1"
	require.NoError(t, store.PutSnapshots(ctx, []Snapshot{snap}))

	v1, err := BuildFileView(ctx, store, "set-1")
	require.NoError(t, err)
	v2, err := BuildFileView(ctx, store, "set-1")
	require.NoError(t, err)
	require.Equal(t, v1.ContentHash, v2.ContentHash)

	entry, ok := v1.Lookup(ObjectVerbContract, "cbu.create")
	require.True(t, ok)
	require.Equal(t, "cbu.create", entry.FQN)
}
