// Package identity implements junkNAS node and peer cryptographic
// identity: Curve25519 keypair generation, the base64 on-wire/on-disk
// codec, and key-file persistence.
package identity

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/curve25519"
)

// KeySize is the length in bytes of a Curve25519 scalar or point.
const KeySize = 32

// KeyPair holds a Curve25519 private/public scalar pair.
type KeyPair struct {
	Private [KeySize]byte
	Public  [KeySize]byte
}

// Generate creates a new random Curve25519 keypair.
func Generate() (KeyPair, error) {
	var kp KeyPair

	if _, err := rand.Read(kp.Private[:]); err != nil {
		return KeyPair{}, fmt.Errorf("identity: generating private key: %w", err)
	}
	// Clamp per RFC 7748 so the scalar is a valid Curve25519 private key.
	kp.Private[0] &= 248
	kp.Private[31] &= 127
	kp.Private[31] |= 64

	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("identity: deriving public key: %w", err)
	}
	copy(kp.Public[:], pub)

	return kp, nil
}

// DerivePublic recomputes the public key from a private key, matching
// the config store's invariant that the public key is always the
// derivation of the stored private key.
func DerivePublic(private [KeySize]byte) ([KeySize]byte, error) {
	var pub [KeySize]byte

	out, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return pub, fmt.Errorf("identity: deriving public key: %w", err)
	}
	copy(pub[:], out)

	return pub, nil
}

// EncodeKey base64-encodes a 32-byte key into the 44-char(+'=') form
// used throughout the on-disk and on-wire representations.
func EncodeKey(key [KeySize]byte) string {
	return base64.StdEncoding.EncodeToString(key[:])
}

// DecodeKey parses a base64-encoded 32-byte key.
func DecodeKey(s string) ([KeySize]byte, error) {
	var out [KeySize]byte

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return out, fmt.Errorf("identity: decoding key: %w", err)
	}
	if len(raw) != KeySize {
		return out, fmt.Errorf("identity: key has %d bytes, want %d", len(raw), KeySize)
	}
	copy(out[:], raw)

	return out, nil
}

// KeyFileName is the private-key file name relative to the config directory.
const KeyFileName = "private.key"

// LoadKeyFile reads and trims the base64 private key stored at path.
// A missing file satisfies errors.Is(err, fs.ErrNotExist) so callers
// can fall back to generation.
func LoadKeyFile(path string) ([KeySize]byte, error) {
	raw, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return [KeySize]byte{}, fmt.Errorf("identity: reading key file: %w", err)
	}

	return DecodeKey(string(raw))
}

// SaveKeyFile writes the base64 private key to path with mode 0600,
// creating parent directories as needed.
func SaveKeyFile(path string, private [KeySize]byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:mnd
		return fmt.Errorf("identity: creating key dir: %w", err)
	}

	if err := os.WriteFile(path, []byte(EncodeKey(private)), 0o600); err != nil { //nolint:mnd
		return fmt.Errorf("identity: writing key file: %w", err)
	}

	return nil
}

// LoadOrGenerate loads an existing private key from path, or generates
// and persists a new keypair if the file does not exist. It always
// returns a KeyPair whose Public field is freshly derived from the
// effective private key, per the config store's derivation invariant.
func LoadOrGenerate(path string) (KeyPair, bool, error) {
	if private, err := LoadKeyFile(path); err == nil {
		public, derr := DerivePublic(private)
		if derr != nil {
			return KeyPair{}, false, derr
		}

		return KeyPair{Private: private, Public: public}, false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return KeyPair{}, false, err
	}

	kp, err := Generate()
	if err != nil {
		return KeyPair{}, false, err
	}

	if err := SaveKeyFile(path, kp.Private); err != nil {
		return KeyPair{}, false, err
	}

	return kp, true, nil
}
