package refcount

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/desertwitch/junknas/internal/chunkstore"
)

func newTestIndex(t *testing.T) (*Index, *chunkstore.Store) {
	t.Helper()

	root := t.TempDir()
	store, err := chunkstore.New([]string{root}, 0)
	require.NoError(t, err)

	return New(root, store), store
}

// Expectation: incrementing from absence creates a refcount of 1.
func Test_Adjust_IncrementFromAbsent(t *testing.T) {
	t.Parallel()

	idx, _ := newTestIndex(t)

	require.NoError(t, idx.Adjust("deadbeef", 1))

	n, err := idx.Get("deadbeef")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

// Expectation: a decrement against an absent record is discarded and
// leaves no refcount file, per the "absence is unknown" rule.
func Test_Adjust_DecrementAgainstAbsent_NoOp(t *testing.T) {
	t.Parallel()

	idx, _ := newTestIndex(t)

	require.NoError(t, idx.Adjust("deadbeef", -1))

	n, err := idx.Get("deadbeef")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

// Expectation: a refcount reaching zero deletes both the ref file and
// the backing chunk.
func Test_Adjust_ReachingZero_DeletesChunkAndChunkRef(t *testing.T) {
	t.Parallel()

	idx, store := newTestIndex(t)

	data := []byte("payload")
	hash := chunkstore.Hash(data)
	require.NoError(t, store.PutIfAbsent(hash, data))

	require.NoError(t, idx.Adjust(hash, 1))
	require.NoError(t, idx.Adjust(hash, -1))

	n, err := idx.Get(hash)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	_, ok := store.Locate(hash)
	require.False(t, ok)
}

// Expectation: a refcount held by two indices remains nonzero when one
// is removed.
func Test_Adjust_DoubleIncrement_SingleDecrementLeavesChunk(t *testing.T) {
	t.Parallel()

	idx, store := newTestIndex(t)

	data := []byte("shared")
	hash := chunkstore.Hash(data)
	require.NoError(t, store.PutIfAbsent(hash, data))

	require.NoError(t, idx.Adjust(hash, 2))
	require.NoError(t, idx.Adjust(hash, -1))

	n, err := idx.Get(hash)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, ok := store.Locate(hash)
	require.True(t, ok)
}

// Expectation: DiffMultisets should produce the correct per-hash delta
// across additions, removals, and index rearrangement.
func Test_DiffMultisets_ComputesPerHashDelta(t *testing.T) {
	t.Parallel()

	old := []string{"a", "b", "b", "c"}
	updated := []string{"b", "c", "c", "d"}

	deltas := DiffMultisets(old, updated)

	require.Equal(t, -1, deltas["a"])
	require.Equal(t, -1, deltas["b"])
	require.Equal(t, 1, deltas["c"])
	require.Equal(t, 1, deltas["d"])
	require.NotContains(t, deltas, "x")
}

// Expectation: diffing a multiset against itself (same hashes,
// rearranged order) should yield no deltas.
func Test_DiffMultisets_SameMultisetDifferentOrder_NoDeltas(t *testing.T) {
	t.Parallel()

	old := []string{"z", "a", "m", "a"}
	updated := []string{"a", "m", "z", "a"}

	deltas := DiffMultisets(old, updated)
	require.Empty(t, deltas)
}

// Expectation: ApplyDiff should drive a full create -> unlink
// refcount lifecycle via the multiset diff.
func Test_ApplyDiff_CreateThenUnlink(t *testing.T) {
	t.Parallel()

	idx, store := newTestIndex(t)

	data := []byte("file contents")
	hash := chunkstore.Hash(data)
	require.NoError(t, store.PutIfAbsent(hash, data))

	require.NoError(t, idx.ApplyDiff(nil, []string{hash}))
	n, err := idx.Get(hash)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, idx.ApplyDiff([]string{hash}, nil))
	n, err = idx.Get(hash)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	_, ok := store.Locate(hash)
	require.False(t, ok)
}
