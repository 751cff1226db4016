package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahack/quotaguard/pkg/models"
)

func TestMemoryStoreCreateAndFind(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.Create(ctx, &models.Identity{ID: "user_abc", MaxGenerations: 2})
	require.NoError(t, err)

	record, err := store.FindByID(ctx, "user_abc")
	require.NoError(t, err)
	assert.Equal(t, "user_abc", record.ID)
	assert.Equal(t, 0, record.GenerationsUsed)
	assert.Equal(t, 2, record.MaxGenerations)
	assert.False(t, record.CreatedAt.IsZero())

	// Duplicate insert is a distinguishable condition, not a generic error.
	err = store.Create(ctx, &models.Identity{ID: "user_abc"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = store.FindByID(ctx, "user_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreFindReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, &models.Identity{ID: "user_abc", MaxGenerations: 2}))

	record, err := store.FindByID(ctx, "user_abc")
	require.NoError(t, err)
	record.GenerationsUsed = 99

	again, err := store.FindByID(ctx, "user_abc")
	require.NoError(t, err)
	assert.Equal(t, 0, again.GenerationsUsed)
}

func TestMemoryStoreIncrementUsage(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, &models.Identity{ID: "user_abc", MaxGenerations: 2}))

	updated, err := store.IncrementUsage(ctx, "user_abc")
	require.NoError(t, err)
	assert.Equal(t, 1, updated.GenerationsUsed)
	require.NotNil(t, updated.LastGenerationAt)

	_, err = store.IncrementUsage(ctx, "user_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, &models.Identity{ID: "user_abc", GenerationsUsed: 3, MaxGenerations: 2}))

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := store.IncrementUsage(ctx, "user_abc")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	record, err := store.FindByID(ctx, "user_abc")
	require.NoError(t, err)
	assert.Equal(t, 3+n, record.GenerationsUsed, "no increment may be lost")
}

func TestMemoryStoreIncrementLinked(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	root := "user_root"
	other := "user_other"
	require.NoError(t, store.Create(ctx, &models.Identity{ID: root, MaxGenerations: 2}))
	require.NoError(t, store.Create(ctx, &models.Identity{ID: "anon_a", LinkedFingerprintID: &root, MaxGenerations: 2}))
	require.NoError(t, store.Create(ctx, &models.Identity{ID: "anon_b", LinkedFingerprintID: &root, MaxGenerations: 2}))
	require.NoError(t, store.Create(ctx, &models.Identity{ID: "anon_c", LinkedFingerprintID: &other, MaxGenerations: 2}))

	require.NoError(t, store.IncrementUsageForAllLinkedTo(ctx, root))

	for _, id := range []string{"anon_a", "anon_b"} {
		record, err := store.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, record.GenerationsUsed, id)
	}

	// Unrelated link and the root itself stay untouched.
	for _, id := range []string{"anon_c", root} {
		record, err := store.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0, record.GenerationsUsed, id)
	}
}

func TestMemoryStoreIncrementLinkedZeroRows(t *testing.T) {
	store := NewMemoryStore()
	assert.NoError(t, store.IncrementUsageForAllLinkedTo(context.Background(), "user_nobody"))
}
