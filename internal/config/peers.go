package config

import (
	"time"
)

// UpsertPeer inserts or updates a peer, identified by PublicKey.
// Returns PeerUnchanged if every field already matched, PeerFull if the
// peer is new and the set is already at MaxPeers, otherwise
// PeerChanged — bumping WGPeersUpdatedAt and saving.
func (s *Store) UpsertPeer(p Peer) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.PublicKey == "" || p.WGIP == "" {
		return UpsertResult(0), ValidationError{Field: "public_key/wg_ip", Reason: "empty peer identity"}
	}

	for i, existing := range s.data.WGPeers {
		if existing.PublicKey == p.PublicKey {
			if existing.Equal(p) {
				return PeerUnchanged, nil
			}

			s.data.WGPeers[i] = p
			s.data.WGPeersUpdatedAt = now()

			return PeerChanged, s.saveLocked()
		}
	}

	if len(s.data.WGPeers) >= MaxPeers {
		return PeerFull, nil
	}

	s.data.WGPeers = append(s.data.WGPeers, p)
	s.data.WGPeersUpdatedAt = now()

	return PeerChanged, s.saveLocked()
}

// SetPeers replaces the whole peer set, dropping entries with an empty
// identity, and bumps WGPeersUpdatedAt.
func (s *Store) SetPeers(peers []Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := make([]Peer, 0, len(peers))
	for _, p := range peers {
		if p.PublicKey == "" || p.WGIP == "" {
			continue
		}
		filtered = append(filtered, p)
	}

	s.data.WGPeers = filtered
	s.data.WGPeersUpdatedAt = now()

	return s.saveLocked()
}

// Peers returns a copy of the current peer set.
func (s *Store) Peers() []Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Peer(nil), s.data.WGPeers...)
}

// WGPeersUpdatedAt returns the current peer-set monotonic clock.
func (s *Store) WGPeersUpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.data.WGPeersUpdatedAt
}

// AddBootstrapPeer appends a "host:port" bootstrap entry, enforcing
// MaxBootstrapPeers.
func (s *Store) AddBootstrapPeer(endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if endpoint == "" {
		return ValidationError{Field: "bootstrap_peer", Reason: "empty endpoint"}
	}
	if len(s.data.BootstrapPeers) >= MaxBootstrapPeers {
		return ValidationError{Field: "bootstrap_peers", Reason: "list full"}
	}

	s.data.BootstrapPeers = append(s.data.BootstrapPeers, endpoint)
	s.data.BootstrapPeersUpdatedAt = now()

	return s.saveLocked()
}

// DeleteBootstrapPeer removes the bootstrap entry at idx.
func (s *Store) DeleteBootstrapPeer(idx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx < 0 || idx >= len(s.data.BootstrapPeers) {
		return ValidationError{Field: "bootstrap_peers", Reason: "index out of range"}
	}

	s.data.BootstrapPeers = append(s.data.BootstrapPeers[:idx], s.data.BootstrapPeers[idx+1:]...)
	s.data.BootstrapPeersUpdatedAt = now()

	return s.saveLocked()
}

// EditBootstrapPeer replaces the bootstrap entry at idx.
func (s *Store) EditBootstrapPeer(idx int, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx < 0 || idx >= len(s.data.BootstrapPeers) {
		return ValidationError{Field: "bootstrap_peers", Reason: "index out of range"}
	}
	if endpoint == "" {
		return ValidationError{Field: "bootstrap_peer", Reason: "empty endpoint"}
	}

	s.data.BootstrapPeers[idx] = endpoint
	s.data.BootstrapPeersUpdatedAt = now()

	return s.saveLocked()
}

// BootstrapPeers returns a copy of the current bootstrap list.
func (s *Store) BootstrapPeers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.data.BootstrapPeers...)
}

// AddMountPoint appends a mount point path, bumping its monotonic clock.
func (s *Store) AddMountPoint(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if path == "" {
		return ValidationError{Field: "mount_point", Reason: "empty path"}
	}

	s.data.DataMountPoints = append(s.data.DataMountPoints, path)
	s.data.DataMountPointsUpdatedAt = now()

	return s.saveLocked()
}

// MountPoints returns a copy of the current mount-point list and the
// monotonic clock it was last updated at.
func (s *Store) MountPoints() ([]string, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.data.DataMountPoints...), s.data.DataMountPointsUpdatedAt
}

// ReplaceMountPoints sets the mount-point list iff incomingUpdatedAt
// is >= the local clock, persisting the change. A tie where the sets
// differ adopts the incoming value; an exact-equal timestamp with an
// identical set is a no-op (nothing to persist).
func (s *Store) ReplaceMountPoints(points []string, incomingUpdatedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if incomingUpdatedAt.Before(s.data.DataMountPointsUpdatedAt) {
		return false, nil
	}

	if incomingUpdatedAt.Equal(s.data.DataMountPointsUpdatedAt) && stringSlicesEqual(points, s.data.DataMountPoints) {
		return false, nil
	}

	s.data.DataMountPoints = append([]string(nil), points...)
	s.data.DataMountPointsUpdatedAt = incomingUpdatedAt

	return true, s.saveLocked()
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// now is the store's monotonic-clock source, isolated so tests can
// observe strictly increasing timestamps without relying on wall-clock
// resolution.
var now = time.Now
