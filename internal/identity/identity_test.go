package identity

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Expectation: Generate should produce a public key that is the
// Curve25519 derivation of its private key.
func Test_Generate_DerivationInvariant(t *testing.T) {
	t.Parallel()

	kp, err := Generate()
	require.NoError(t, err)

	derived, err := DerivePublic(kp.Private)
	require.NoError(t, err)
	require.Equal(t, derived, kp.Public)
}

// Expectation: EncodeKey/DecodeKey should round-trip.
func Test_EncodeDecodeKey_RoundTrip(t *testing.T) {
	t.Parallel()

	kp, err := Generate()
	require.NoError(t, err)

	encoded := EncodeKey(kp.Public)
	require.Len(t, encoded, 44) //nolint:mnd

	decoded, err := DecodeKey(encoded)
	require.NoError(t, err)
	require.Equal(t, kp.Public, decoded)
}

// Expectation: DecodeKey should reject the wrong length.
func Test_DecodeKey_WrongLength(t *testing.T) {
	t.Parallel()

	_, err := DecodeKey("dG9vc2hvcnQ=")
	require.Error(t, err)
}

// Expectation: LoadOrGenerate should create a new key on first run and
// reuse it on a subsequent call against the same path.
func Test_LoadOrGenerate_PersistsAndReuses(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "private.key")

	kp1, generated1, err := LoadOrGenerate(path)
	require.NoError(t, err)
	require.True(t, generated1)

	kp2, generated2, err := LoadOrGenerate(path)
	require.NoError(t, err)
	require.False(t, generated2)
	require.Equal(t, kp1, kp2)
}
