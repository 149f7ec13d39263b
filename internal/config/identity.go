package config

import (
	"github.com/desertwitch/junknas/internal/identity"
	"github.com/desertwitch/junknas/internal/jnkerr"
)

// Path returns the on-disk location this store persists to.
func (s *Store) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.path
}

// SetEndpoint rewrites the advertised overlay endpoint and persists.
func (s *Store) SetEndpoint(endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if endpoint == "" {
		return ValidationError{Field: "wireguard.endpoint", Reason: "empty endpoint"}
	}

	if s.data.WireGuard.Endpoint == endpoint {
		return nil
	}

	s.data.WireGuard.Endpoint = endpoint

	return s.saveLocked()
}

// SetNodeState switches the node's role between "node" and "end".
func (s *Store) SetNodeState(ns NodeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ns != NodeStateNode && ns != NodeStateEnd {
		return ValidationError{Field: "node_state", Reason: "must be node or end"}
	}

	if s.data.NodeState == ns {
		return nil
	}

	s.data.NodeState = ns

	return s.saveLocked()
}

// ReplaceBootstrapPeers swaps the whole bootstrap list, enforcing
// MaxBootstrapPeers and bumping the list's monotonic clock.
func (s *Store) ReplaceBootstrapPeers(endpoints []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(endpoints) > MaxBootstrapPeers {
		return jnkerr.New(jnkerr.KindPeerFull, ValidationError{Field: "bootstrap_peers", Reason: "list full"})
	}

	filtered := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep == "" {
			continue
		}
		filtered = append(filtered, ep)
	}

	s.data.BootstrapPeers = filtered
	s.data.BootstrapPeersUpdatedAt = now()

	return s.saveLocked()
}

// AdoptIdentity replaces this node's WireGuard keypair (and optionally
// its overlay address) with the provided base64 keys, rewriting the
// private-key file to match. The old private key is discarded
// in-process immediately; nothing preserves it for in-flight sessions.
func (s *Store) AdoptIdentity(privateB64, publicB64, wgIP string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	private, err := identity.DecodeKey(privateB64)
	if err != nil {
		return err
	}

	derived, err := identity.DerivePublic(private)
	if err != nil {
		return err
	}

	// The public key in config is always the derivation of the stored
	// private key; a supplied public key that does not match that
	// derivation is rejected with a ValidationError.
	public := identity.EncodeKey(derived)
	if publicB64 != "" && publicB64 != public {
		return ValidationError{Field: "public_key", Reason: "not derived from private key"}
	}

	if err := identity.SaveKeyFile(s.keyFilePathLocked(), private); err != nil {
		return err
	}

	s.data.WireGuard.PrivateKey = privateB64
	s.data.WireGuard.PublicKey = public
	if wgIP != "" {
		s.data.WireGuard.WGIP = wgIP
	}

	return s.saveLocked()
}

// ReplacePeerKey rewrites the public key of the peer stored under
// wgIP, keeping every other field. Returns false if no peer holds that
// overlay address.
func (s *Store) ReplacePeerKey(wgIP, newPublicKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if wgIP == "" || newPublicKey == "" {
		return false, ValidationError{Field: "wg_ip/public_key", Reason: "empty value"}
	}

	for i, p := range s.data.WGPeers {
		if p.WGIP != wgIP {
			continue
		}
		if p.PublicKey == newPublicKey {
			return true, nil
		}

		s.data.WGPeers[i].PublicKey = newPublicKey
		s.data.WGPeersUpdatedAt = now()

		return true, s.saveLocked()
	}

	return false, nil
}
