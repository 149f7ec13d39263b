package chunkstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/desertwitch/junknas/internal/jnkerr"
	"github.com/stretchr/testify/require"
)

// Expectation: PutIfAbsent then ReadAndVerify should round-trip bytes.
func Test_PutIfAbsent_ReadAndVerify_RoundTrip(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s, err := New([]string{root}, 0)
	require.NoError(t, err)

	data := []byte("hello world")
	hash := Hash(data)

	require.NoError(t, s.PutIfAbsent(hash, data))

	out, err := s.ReadAndVerify(hash)
	require.NoError(t, err)
	require.Equal(t, data, out)
}

// Expectation: a second PutIfAbsent of the same hash is a no-op.
func Test_PutIfAbsent_Idempotent(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s, err := New([]string{root}, 0)
	require.NoError(t, err)

	data := []byte("content")
	hash := Hash(data)

	require.NoError(t, s.PutIfAbsent(hash, data))
	usageAfterFirst := s.Usage()

	require.NoError(t, s.PutIfAbsent(hash, data))
	require.Equal(t, usageAfterFirst, s.Usage())
}

// Expectation: writes round-robin across multiple backing roots.
func Test_PutIfAbsent_RoundRobinsAcrossRoots(t *testing.T) {
	t.Parallel()

	rootA, rootB := t.TempDir(), t.TempDir()
	s, err := New([]string{rootA, rootB}, 0)
	require.NoError(t, err)

	h1 := Hash([]byte("one"))
	h2 := Hash([]byte("two"))
	require.NoError(t, s.PutIfAbsent(h1, []byte("one")))
	require.NoError(t, s.PutIfAbsent(h2, []byte("two")))

	_, errA := os.Stat(filepath.Join(rootA, ".jnk", "chunks", "sha256", h1[:2], h1))
	_, errB := os.Stat(filepath.Join(rootB, ".jnk", "chunks", "sha256", h2[:2], h2))
	require.True(t, errA == nil || errB == nil)
}

// Expectation: once quota is exactly filled, a new unique chunk is
// rejected with KindOutOfSpace, but a duplicate chunk still succeeds.
func Test_PutIfAbsent_QuotaExceeded_RejectsNewChunk(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	data := []byte("0123456789")
	s, err := New([]string{root}, int64(len(data)))
	require.NoError(t, err)

	hash := Hash(data)
	require.NoError(t, s.PutIfAbsent(hash, data))

	err = s.PutIfAbsent(Hash([]byte("different-content")), []byte("different-content"))
	require.Error(t, err)
	require.Equal(t, jnkerr.KindOutOfSpace, jnkerr.KindOf(err))

	// Duplicate of the already-stored chunk still succeeds (idempotent).
	require.NoError(t, s.PutIfAbsent(hash, data))
}

// Expectation: ReadAndVerify should fail integrity when the on-disk
// bytes no longer hash to the filename.
func Test_ReadAndVerify_DetectsCorruption(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s, err := New([]string{root}, 0)
	require.NoError(t, err)

	data := []byte("original content")
	hash := Hash(data)
	require.NoError(t, s.PutIfAbsent(hash, data))

	path, ok := s.Locate(hash)
	require.True(t, ok)
	require.NoError(t, os.Chmod(path, 0o644)) //nolint:mnd
	require.NoError(t, os.WriteFile(path, []byte("tampered content!"), 0o644)) //nolint:mnd

	_, err = s.ReadAndVerify(hash)
	require.Error(t, err)
	require.Equal(t, jnkerr.KindIntegrityFault, jnkerr.KindOf(err))
}

// Expectation: Delete removes the chunk from disk and Locate then no
// longer finds it.
func Test_Delete_RemovesChunk(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s, err := New([]string{root}, 0)
	require.NoError(t, err)

	data := []byte("to be deleted")
	hash := Hash(data)
	require.NoError(t, s.PutIfAbsent(hash, data))
	require.NoError(t, s.Delete(hash))

	_, ok := s.Locate(hash)
	require.False(t, ok)
}
