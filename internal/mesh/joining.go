package mesh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/desertwitch/junknas/internal/config"
	"github.com/desertwitch/junknas/internal/identity"
	"github.com/desertwitch/junknas/internal/jnkerr"
)

// JoinConfig is the opaque JSON document minted by a node-role host:
// a fresh keypair for the joining node plus the hub's coordinates.
type JoinConfig struct {
	PeerPrivateKey  string `json:"peer_private_key"`
	PeerPublicKey   string `json:"peer_public_key"`
	PeerWGIP        string `json:"peer_wg_ip"`
	ServerPublicKey string `json:"server_public_key"`
	ServerEndpoint  string `json:"server_endpoint"`
	ServerWGIP      string `json:"server_wg_ip"`
	ServerWebPort   int    `json:"server_web_port"`
}

// AlternateRequest is the peer-to-server payload of POST
// /mesh/alternate: change the public key of the peer stored under
// WGIP.
type AlternateRequest struct {
	WGIP      string `json:"wg_ip"`
	PublicKey string `json:"public_key"`
}

// Mint implements POST /mesh/bootstrap on a node-role host: generate a
// keypair for the joining peer, allocate it a free host address in the
// local /24, upsert a skeletal peer entry, and return both halves of
// the join document. A host in the "end" state must not mint.
func Mint(store *config.Store) (JoinConfig, error) {
	snap := store.Snapshot()

	if snap.NodeState != config.NodeStateNode {
		return JoinConfig{}, jnkerr.Wrap(jnkerr.KindForbidden, "mesh: node_state %q cannot mint join configs", snap.NodeState)
	}

	kp, err := identity.Generate()
	if err != nil {
		return JoinConfig{}, err
	}

	peerIP, err := AllocatePeerIP(snap.WireGuard.WGIP, snap.WGPeers)
	if err != nil {
		return JoinConfig{}, jnkerr.New(jnkerr.KindPeerFull, err)
	}

	result, err := store.UpsertPeer(config.Peer{
		PublicKey: identity.EncodeKey(kp.Public),
		WGIP:      peerIP,
	})
	if err != nil {
		return JoinConfig{}, err
	}
	if result == config.PeerFull {
		return JoinConfig{}, jnkerr.Wrap(jnkerr.KindPeerFull, "mesh: peer set full, cannot mint")
	}

	return JoinConfig{
		PeerPrivateKey:  identity.EncodeKey(kp.Private),
		PeerPublicKey:   identity.EncodeKey(kp.Public),
		PeerWGIP:        peerIP,
		ServerPublicKey: snap.WireGuard.PublicKey,
		ServerEndpoint:  snap.WireGuard.Endpoint,
		ServerWGIP:      snap.WireGuard.WGIP,
		ServerWebPort:   snap.WebPort,
	}, nil
}

// Join implements POST /mesh/join: adopt the minted keypair and
// overlay address as this node's identity and store the hub as a peer.
//
// With allowAlternate, a second keypair is generated immediately, the
// hub is informed via POST /mesh/alternate, and the node continues
// under the new identity — the minted private key, which the hub has
// seen in cleartext, never carries live traffic.
func (c *Coordinator) Join(ctx context.Context, doc JoinConfig, allowAlternate bool) error {
	if doc.PeerPrivateKey == "" || doc.PeerWGIP == "" {
		return jnkerr.Wrap(jnkerr.KindInvalidArgument, "mesh: join config missing peer identity")
	}
	if doc.ServerPublicKey == "" || doc.ServerWGIP == "" {
		return jnkerr.Wrap(jnkerr.KindInvalidArgument, "mesh: join config missing server identity")
	}

	if err := c.store.AdoptIdentity(doc.PeerPrivateKey, doc.PeerPublicKey, doc.PeerWGIP); err != nil {
		return err
	}

	if _, err := c.store.UpsertPeer(config.Peer{
		PublicKey: doc.ServerPublicKey,
		Endpoint:  doc.ServerEndpoint,
		WGIP:      doc.ServerWGIP,
		WebPort:   doc.ServerWebPort,
	}); err != nil {
		return err
	}

	if !allowAlternate {
		return nil
	}

	rotated, err := identity.Generate()
	if err != nil {
		return err
	}

	if err := c.sendAlternate(ctx, doc, AlternateRequest{
		WGIP:      doc.PeerWGIP,
		PublicKey: identity.EncodeKey(rotated.Public),
	}); err != nil {
		return err
	}

	return c.store.AdoptIdentity(identity.EncodeKey(rotated.Private), identity.EncodeKey(rotated.Public), doc.PeerWGIP)
}

// sendAlternate posts the key-rotation notice to the hub's web
// endpoint, preferring the overlay address when a web port is known.
func (c *Coordinator) sendAlternate(ctx context.Context, doc JoinConfig, alt AlternateRequest) error {
	target := doc.ServerEndpoint
	if doc.ServerWebPort != 0 {
		target = fmt.Sprintf("%s:%d", doc.ServerWGIP, doc.ServerWebPort)
	}
	if target == "" {
		return jnkerr.Wrap(jnkerr.KindInvalidArgument, "mesh: join config has no reachable server address")
	}

	raw, err := json.Marshal(alt)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/mesh/alternate", target)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return jnkerr.New(jnkerr.KindTransientPeer, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 { //nolint:mnd
		return jnkerr.Wrap(jnkerr.KindTransientPeer, "mesh: alternate rejected with status %d", resp.StatusCode)
	}

	return nil
}

// Alternate implements the server side of POST /mesh/alternate:
// rewrite the stored public key of the peer addressed by wg_ip.
func (c *Coordinator) Alternate(req AlternateRequest) error {
	found, err := c.store.ReplacePeerKey(req.WGIP, req.PublicKey)
	if err != nil {
		return err
	}
	if !found {
		return jnkerr.Wrap(jnkerr.KindNotFound, "mesh: no peer with wg_ip %q", req.WGIP)
	}

	c.logf("mesh: rotated key for peer %s\n", req.WGIP)

	return nil
}
