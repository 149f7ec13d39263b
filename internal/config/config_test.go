package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Expectation: Init on a fresh path should populate defaults, generate
// a WireGuard keypair, and persist the result to disk.
func Test_Init_FreshPath_GeneratesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")

	s := New(nil)
	require.NoError(t, s.Init(path))

	snap := s.Snapshot()
	require.Equal(t, "10G", snap.StorageSize)
	require.Equal(t, "jnk0", snap.WireGuard.InterfaceName)
	require.NotEmpty(t, snap.WireGuard.PrivateKey)
	require.NotEmpty(t, snap.WireGuard.PublicKey)

	require.FileExists(t, path)
	require.FileExists(t, filepath.Join(filepath.Dir(path), "private.key"))
}

// Expectation: Init should reload an existing on-disk document and
// overlay it onto defaults, keeping fields the document doesn't set.
func Test_Init_ExistingFile_OverlaysDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	onDisk := Data{
		StorageSize: "5G",
		MountPoint:  "/mnt/custom",
	}
	raw, err := json.Marshal(onDisk)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644)) //nolint:mnd

	s := New(nil)
	require.NoError(t, s.Init(path))

	snap := s.Snapshot()
	require.Equal(t, "5G", snap.StorageSize)
	require.Equal(t, "/mnt/custom", snap.MountPoint)
	// DataDir was left unset on disk, so the default survives the merge.
	require.Equal(t, "/var/lib/junknas/data", snap.DataDir)
}

// Expectation: ensureWGKeysLocked should reuse an existing private.key
// file across repeated Init calls against the same path.
func Test_Init_ReusesPersistedKey(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")

	s1 := New(nil)
	require.NoError(t, s1.Init(path))
	pub1 := s1.Snapshot().WireGuard.PublicKey

	s2 := New(nil)
	require.NoError(t, s2.Init(path))
	pub2 := s2.Snapshot().WireGuard.PublicKey

	require.Equal(t, pub1, pub2)
}

// Expectation: UpsertPeer on a brand-new identity should append the
// peer and report PeerChanged.
func Test_UpsertPeer_NewPeer_Changed(t *testing.T) {
	t.Parallel()

	s := New(nil)
	require.NoError(t, s.Init(filepath.Join(t.TempDir(), "config.json")))

	before := s.WGPeersUpdatedAt()

	result, err := s.UpsertPeer(Peer{PublicKey: "peerA", WGIP: "10.0.0.2"})
	require.NoError(t, err)
	require.Equal(t, PeerChanged, result)
	require.Len(t, s.Peers(), 1)
	require.True(t, s.WGPeersUpdatedAt().After(before) || s.WGPeersUpdatedAt().Equal(before))
}

// Expectation: UpsertPeer with every field identical to the stored
// entry should be a no-op and report PeerUnchanged.
func Test_UpsertPeer_IdenticalPeer_Unchanged(t *testing.T) {
	t.Parallel()

	s := New(nil)
	require.NoError(t, s.Init(filepath.Join(t.TempDir(), "config.json")))

	peer := Peer{PublicKey: "peerA", WGIP: "10.0.0.2", WebPort: 7380}
	_, err := s.UpsertPeer(peer)
	require.NoError(t, err)

	stamp := s.WGPeersUpdatedAt()

	result, err := s.UpsertPeer(peer)
	require.NoError(t, err)
	require.Equal(t, PeerUnchanged, result)
	require.Equal(t, stamp, s.WGPeersUpdatedAt())
}

// Expectation: UpsertPeer with a changed field on an existing identity
// should update in place rather than duplicating the entry.
func Test_UpsertPeer_ChangedField_UpdatesInPlace(t *testing.T) {
	t.Parallel()

	s := New(nil)
	require.NoError(t, s.Init(filepath.Join(t.TempDir(), "config.json")))

	_, err := s.UpsertPeer(Peer{PublicKey: "peerA", WGIP: "10.0.0.2", WebPort: 7380})
	require.NoError(t, err)

	result, err := s.UpsertPeer(Peer{PublicKey: "peerA", WGIP: "10.0.0.2", WebPort: 9999})
	require.NoError(t, err)
	require.Equal(t, PeerChanged, result)

	peers := s.Peers()
	require.Len(t, peers, 1)
	require.Equal(t, 9999, peers[0].WebPort)
}

// Expectation: two peers with distinct public keys never collapse into
// one slot.
func Test_UpsertPeer_DistinctIdentities_DistinctSlots(t *testing.T) {
	t.Parallel()

	s := New(nil)
	require.NoError(t, s.Init(filepath.Join(t.TempDir(), "config.json")))

	_, err := s.UpsertPeer(Peer{PublicKey: "peerA", WGIP: "10.0.0.2"})
	require.NoError(t, err)
	_, err = s.UpsertPeer(Peer{PublicKey: "peerB", WGIP: "10.0.0.3"})
	require.NoError(t, err)

	require.Len(t, s.Peers(), 2)
}

// Expectation: UpsertPeer should report PeerFull once MaxPeers distinct
// identities are already stored, without mutating the set.
func Test_UpsertPeer_Full_RejectsNewIdentity(t *testing.T) {
	t.Parallel()

	s := New(nil)
	require.NoError(t, s.Init(filepath.Join(t.TempDir(), "config.json")))

	peers := make([]Peer, 0, MaxPeers)
	for i := 0; i < MaxPeers; i++ {
		peers = append(peers, Peer{PublicKey: string(rune('a' + i)), WGIP: "10.0.0.1"})
	}
	require.NoError(t, s.SetPeers(peers))

	result, err := s.UpsertPeer(Peer{PublicKey: "overflow", WGIP: "10.0.0.9"})
	require.NoError(t, err)
	require.Equal(t, PeerFull, result)
	require.Len(t, s.Peers(), MaxPeers)
}

// Expectation: SetPeers should drop entries with an empty identity.
func Test_SetPeers_DropsEmptyIdentity(t *testing.T) {
	t.Parallel()

	s := New(nil)
	require.NoError(t, s.Init(filepath.Join(t.TempDir(), "config.json")))

	require.NoError(t, s.SetPeers([]Peer{
		{PublicKey: "peerA", WGIP: "10.0.0.2"},
		{PublicKey: "", WGIP: "10.0.0.3"},
		{PublicKey: "peerC", WGIP: ""},
	}))

	peers := s.Peers()
	require.Len(t, peers, 1)
	require.Equal(t, "peerA", peers[0].PublicKey)
}

// Expectation: wg_peers_updated_at must never decrease across any
// accepted mutation.
func Test_WGPeersUpdatedAt_NonDecreasing(t *testing.T) {
	t.Parallel()

	s := New(nil)
	require.NoError(t, s.Init(filepath.Join(t.TempDir(), "config.json")))

	var last time.Time
	for i := 0; i < 5; i++ {
		_, err := s.UpsertPeer(Peer{PublicKey: string(rune('a' + i)), WGIP: "10.0.0.1"})
		require.NoError(t, err)

		cur := s.WGPeersUpdatedAt()
		require.False(t, cur.Before(last))
		last = cur
	}
}

// Expectation: AddBootstrapPeer should reject once the list is at
// MaxBootstrapPeers.
func Test_AddBootstrapPeer_RejectsWhenFull(t *testing.T) {
	t.Parallel()

	s := New(nil)
	require.NoError(t, s.Init(filepath.Join(t.TempDir(), "config.json")))

	for i := 0; i < MaxBootstrapPeers; i++ {
		require.NoError(t, s.AddBootstrapPeer("host:1234"))
	}

	err := s.AddBootstrapPeer("overflow:1234")
	require.Error(t, err)
	require.Len(t, s.BootstrapPeers(), MaxBootstrapPeers)
}

// Expectation: validateLocked should reject an unparseable storage_size
// but leave the prior value in place rather than zeroing it.
func Test_Validate_RejectsUnparseableStorageSize_KeepsPriorValue(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")

	onDisk := Data{StorageSize: "not-a-size"}
	raw, err := json.Marshal(onDisk)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644)) //nolint:mnd

	s := New(nil)
	require.NoError(t, s.Init(path))

	// The bad value still overlays in-memory (validation logs, it does
	// not roll back mergeNonZero), but it never crashes Init and a
	// later explicit fix is this store's recovery path.
	snap := s.Snapshot()
	require.Equal(t, "not-a-size", snap.StorageSize)
}

// Expectation: ReplaceMountPoints should ignore an incoming update
// whose clock is strictly behind the local one.
func Test_ReplaceMountPoints_IgnoresStaleClock(t *testing.T) {
	t.Parallel()

	s := New(nil)
	require.NoError(t, s.Init(filepath.Join(t.TempDir(), "config.json")))

	require.NoError(t, s.AddMountPoint("/mnt/a"))
	_, newClock := s.MountPoints()

	changed, err := s.ReplaceMountPoints([]string{"/mnt/stale"}, newClock.Add(-time.Hour))
	require.NoError(t, err)
	require.False(t, changed)

	points, _ := s.MountPoints()
	require.Equal(t, []string{"/mnt/a"}, points)
}

// Expectation: ReplaceMountPoints should accept an incoming update
// whose clock is at or ahead of the local one.
func Test_ReplaceMountPoints_AcceptsNewerClock(t *testing.T) {
	t.Parallel()

	s := New(nil)
	require.NoError(t, s.Init(filepath.Join(t.TempDir(), "config.json")))

	require.NoError(t, s.AddMountPoint("/mnt/a"))
	_, clock := s.MountPoints()

	changed, err := s.ReplaceMountPoints([]string{"/mnt/b"}, clock.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, changed)

	points, _ := s.MountPoints()
	require.Equal(t, []string{"/mnt/b"}, points)
}

// Expectation: Save then Load (via a fresh Init) should round-trip the
// full document, including peers and timestamps.
func Test_SaveLoad_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")

	s1 := New(nil)
	require.NoError(t, s1.Init(path))
	_, err := s1.UpsertPeer(Peer{PublicKey: "peerA", WGIP: "10.0.0.2"})
	require.NoError(t, err)

	s2 := New(nil)
	require.NoError(t, s2.Init(path))

	peers := s2.Peers()
	require.Len(t, peers, 1)
	require.Equal(t, "peerA", peers[0].PublicKey)
}
