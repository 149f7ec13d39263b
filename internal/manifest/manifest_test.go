package manifest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/desertwitch/junknas/internal/jnkerr"
)

const sampleHash = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

// Expectation: Encode then Parse should round-trip a manifest
// byte-for-byte in meaning.
func Test_EncodeParse_RoundTrip(t *testing.T) {
	t.Parallel()

	m := Manifest{Size: 11, Hashes: []string{sampleHash}}

	parsed, err := Parse(Encode(m))
	require.NoError(t, err)
	require.Equal(t, m, parsed)
}

// Expectation: malformed lines are skipped, not fatal.
func Test_Parse_SkipsMalformedLines(t *testing.T) {
	t.Parallel()

	raw := []byte("size 100\ngarbage line\nchunk notanindex " + sampleHash + "\nchunk 0 " + sampleHash + "\n")

	m, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, int64(100), m.Size)
	require.Equal(t, sampleHash, m.Hashes[0])
}

// Expectation: a missing size line is a corrupt-manifest error.
func Test_Parse_MissingSize_CorruptManifest(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("chunk 0 " + sampleHash + "\n"))
	require.Error(t, err)
	require.Equal(t, jnkerr.KindCorruptManifest, jnkerr.KindOf(err))
}

// Expectation: Save then Load should round-trip through the filesystem.
func Test_SaveLoad_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "file.__jnkmeta")
	m := Manifest{Size: 2097152, Hashes: []string{sampleHash, sampleHash}} //nolint:mnd

	require.NoError(t, Save(path, m))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, m, loaded)
}

// Expectation: loading a manifest that was never created is not-found.
func Test_Load_Missing_NotFound(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.__jnkmeta"))
	require.Error(t, err)
	require.Equal(t, jnkerr.KindNotFound, jnkerr.KindOf(err))
}

// Expectation: NeededChunks computes the ceil(size/chunk) boundary
// case correctly.
func Test_NeededChunks_Boundary(t *testing.T) {
	t.Parallel()

	const mib = 1 << 20

	require.Equal(t, int64(0), NeededChunks(0, mib))
	require.Equal(t, int64(1), NeededChunks(1, mib))
	require.Equal(t, int64(1), NeededChunks(mib, mib))
	require.Equal(t, int64(2), NeededChunks(mib+1, mib))
}

// Expectation: NonSparseHashes preserves duplicate entries (a file
// referencing the same chunk at multiple indices holds it that many
// times in the returned multiset).
func Test_NonSparseHashes_PreservesDuplicates(t *testing.T) {
	t.Parallel()

	m := Manifest{Size: 3 * (1 << 20), Hashes: []string{sampleHash, "", sampleHash}} //nolint:mnd

	out := NonSparseHashes(m)
	require.Equal(t, []string{sampleHash, sampleHash}, out)
}
