package webservice

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Expectation: safeRelPath admits plain relative paths and rejects
// absolute paths, traversal, and junkNAS bookkeeping names.
func Test_SafeRelPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"empty is root", "", "", true},
		{"plain file", "docs/readme.txt", "docs/readme.txt", true},
		{"trailing slash trimmed", "docs/", "docs", true},
		{"absolute rejected", "/etc/passwd", "", false},
		{"traversal rejected", "../secret", "", false},
		{"inner traversal rejected", "a/../b", "", false},
		{"dot component rejected", "a/./b", "", false},
		{"reserved dir rejected", ".jnk/chunks", "", false},
		{"meta suffix rejected", "file.__jnkmeta", "", false},
		{"meta suffix inside rejected", "a/file.__jnkmeta/b", "", false},
		{"backslash rejected", "a\\b", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := safeRelPath(tt.in)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				require.Equal(t, tt.want, got)
			}
		})
	}
}

// Expectation: only 64-char lowercase hex strings pass as chunk hashes.
func Test_ValidChunkHash(t *testing.T) {
	t.Parallel()

	require.True(t, validChunkHash("a3f5c2e8d1b4a6f9c8e7d2b5a4f1c6e9d8b7a2f5c4e1d6b9a8f7c2e5d4b1a6f9"))
	require.False(t, validChunkHash("short"))
	require.False(t, validChunkHash("A3F5C2E8D1B4A6F9C8E7D2B5A4F1C6E9D8B7A2F5C4E1D6B9A8F7C2E5D4B1A6F9"))
	require.False(t, validChunkHash("g3f5c2e8d1b4a6f9c8e7d2b5a4f1c6e9d8b7a2f5c4e1d6b9a8f7c2e5d4b1a6f9"))
}
