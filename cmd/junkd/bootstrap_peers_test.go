package main

import (
	"errors"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/desertwitch/junknas/internal/config"
)

func testConfigPath(t *testing.T) string {
	t.Helper()

	return filepath.Join(t.TempDir(), "config.json")
}

// Expectation: add, edit and delete mutate the persisted bootstrap
// list in place, in index order.
func Test_BootstrapPeers_EditLifecycle(t *testing.T) {
	t.Parallel()

	path := testConfigPath(t)

	require.NoError(t, runBootstrapPeers(path, []string{"add", "192.0.2.1:7380"}))
	require.NoError(t, runBootstrapPeers(path, []string{"add", "192.0.2.2:7380"}))
	require.NoError(t, runBootstrapPeers(path, []string{"edit", "1", "192.0.2.9:7380"}))
	require.NoError(t, runBootstrapPeers(path, []string{"delete", "0"}))

	store := config.New(nil)
	require.NoError(t, store.Init(path))
	require.Equal(t, []string{"192.0.2.9:7380"}, store.BootstrapPeers())
}

// Expectation: malformed invocations are usage errors (exit 2), while
// out-of-range indices are operational errors (exit 1).
func Test_BootstrapPeers_ErrorClasses(t *testing.T) {
	t.Parallel()

	path := testConfigPath(t)

	tests := []struct {
		name  string
		args  []string
		usage bool
	}{
		{"missing subcommand", nil, true},
		{"unknown subcommand", []string{"frobnicate"}, true},
		{"add without endpoint", []string{"add"}, true},
		{"add with bare host", []string{"add", "192.0.2.1"}, true},
		{"add with bad port", []string{"add", "192.0.2.1:notaport"}, true},
		{"delete without index", []string{"delete"}, true},
		{"delete non-numeric", []string{"delete", "x"}, true},
		{"delete out of range", []string{"delete", "42"}, false},
		{"edit out of range", []string{"edit", "42", "192.0.2.1:7380"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := runBootstrapPeers(path, tt.args)
			require.Error(t, err)
			require.Equal(t, tt.usage, errors.Is(err, errUsage))
		})
	}
}

// Expectation: the bootstrap list refuses growth past its bound.
func Test_BootstrapPeers_ListFull(t *testing.T) {
	t.Parallel()

	path := testConfigPath(t)

	for i := range config.MaxBootstrapPeers {
		require.NoError(t, runBootstrapPeers(path, []string{"add", "192.0.2.1:" + strconv.Itoa(7000+i)}))
	}

	err := runBootstrapPeers(path, []string{"add", "192.0.2.1:7999"})
	require.Error(t, err)
	require.False(t, errors.Is(err, errUsage))
}
