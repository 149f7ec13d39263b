// Package mesh implements junkNAS's mesh control plane: the peer merge
// rules, the periodic sync loop, reachability bookkeeping, and
// WireGuard device (re)programming. Reachability is advisory runtime
// state and is never persisted; it lives in a TTL cache and expires on
// its own.
package mesh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/desertwitch/junknas/internal/config"
	"github.com/desertwitch/junknas/internal/identity"
	"github.com/desertwitch/junknas/internal/logging"
)

// Status is a peer's advisory, non-persisted reachability.
type Status string

const (
	StatusConnected   Status = "connected"
	StatusUnreachable Status = "unreachable"
	StatusConnecting  Status = "connecting"
)

// Role is the derived connectivity label of GET /mesh/status.
type Role string

const (
	RoleStandalone Role = "standalone"
	RoleCentral    Role = "central"
	RoleDeadEnd    Role = "dead_end"
)

const (
	statusTTL      = 5 * time.Minute
	syncInterval   = 5 * time.Second
	publicIPPeriod = 60 * time.Second
	httpTimeout    = 1 * time.Second
)

// SelfInfo is this node's advertised identity, embedded in every
// mesh-state payload.
type SelfInfo struct {
	PublicKey string `json:"public_key"`
	Endpoint  string `json:"endpoint"`
	WGIP      string `json:"wg_ip"`
	WebPort   int    `json:"web_port"`
}

// State is the wire payload exchanged by POST /mesh/peers: self plus
// peers plus (for node-role hosts) the mount-point list.
type State struct {
	Self                 SelfInfo      `json:"self"`
	Peers                []config.Peer `json:"peers"`
	MountPoints          []string      `json:"mount_points,omitempty"`
	MountPointsUpdatedAt time.Time     `json:"mounts_updated_at,omitzero"`
	WGPeersUpdatedAt     time.Time     `json:"wg_peers_updated_at,omitzero"`
}

// DeviceProgrammer reprograms the overlay WireGuard device. The real
// implementation wraps golang.zx2c4.com/wireguard/wgctrl; tests supply
// a recording fake.
type DeviceProgrammer interface {
	Configure(iface string, privateKey string, listenPort int, peers []config.Peer) error
}

// Coordinator is the mesh background thread: one per process.
type Coordinator struct {
	store  *config.Store
	rbuf   *logging.RingBuffer
	device DeviceProgrammer
	client *http.Client

	statusCache *ttlcache.Cache[string, Status]

	mu            sync.Mutex
	lastAppliedWG time.Time
	lastPublicIP  time.Time
}

// New constructs a Coordinator. device may be nil to disable WireGuard
// programming (e.g. in tests or on a platform without the device).
func New(store *config.Store, device DeviceProgrammer, rbuf *logging.RingBuffer) *Coordinator {
	cache := ttlcache.New[string, Status](ttlcache.WithTTL[string, Status](statusTTL))
	go cache.Start()

	return &Coordinator{
		store:       store,
		rbuf:        rbuf,
		device:      device,
		client:      &http.Client{Timeout: httpTimeout},
		statusCache: cache,
	}
}

func (c *Coordinator) logf(format string, args ...any) {
	if c.rbuf != nil {
		c.rbuf.Printf(format, args...)
	}
}

func (c *Coordinator) debugf(format string, args ...any) {
	if c.rbuf != nil {
		c.rbuf.Debugf(format, args...)
	}
}

// Run blocks, driving the sync loop every syncInterval until ctx is
// canceled; cancellation interrupts the current wait rather than
// letting a full sleep run out.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logf("mesh: coordinator stopping\n")

			return
		case <-ticker.C:
			c.Cycle(ctx)
		}
	}
}

// Cycle runs one full mesh maintenance pass: public-IP refresh,
// outbound sync, and WireGuard reprogramming if the peer set changed.
func (c *Coordinator) Cycle(ctx context.Context) {
	c.maybeRefreshPublicIP(ctx)

	snap := c.store.Snapshot()

	endpoints := append([]string(nil), snap.BootstrapPeers...)
	for _, p := range snap.WGPeers {
		if p.Endpoint != "" {
			endpoints = append(endpoints, p.Endpoint)
		}
	}

	for _, ep := range endpoints {
		c.syncWith(ctx, ep, snap)
	}

	c.reprogramIfChanged(snap)
}

// SyncOnce runs one bidirectional sync round with each configured
// bootstrap and WG peer, returning how many responded 2xx. This is the
// POST /mesh/sync trigger.
func (c *Coordinator) SyncOnce(ctx context.Context) int {
	snap := c.store.Snapshot()

	endpoints := append([]string(nil), snap.BootstrapPeers...)
	for _, p := range snap.WGPeers {
		if p.Endpoint != "" {
			endpoints = append(endpoints, p.Endpoint)
		}
	}

	synced := 0
	for _, ep := range endpoints {
		if c.syncWith(ctx, ep, snap) {
			synced++
		}
	}

	return synced
}

func (c *Coordinator) syncWith(ctx context.Context, endpoint string, snap config.Data) bool {
	payload := c.buildState(snap)

	raw, err := json.Marshal(payload)
	if err != nil {
		c.logf("mesh: marshaling state for %s: %v\n", endpoint, err)

		return false
	}

	url := fmt.Sprintf("http://%s/mesh/peers", endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		c.logf("mesh: building request for %s: %v\n", endpoint, err)

		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.markStatus(endpoint, StatusUnreachable)
		c.logf("mesh: sync with %s failed: %v\n", endpoint, err)

		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 { //nolint:mnd
		c.markStatus(endpoint, StatusUnreachable)

		return false
	}

	var merged State
	if err := json.NewDecoder(resp.Body).Decode(&merged); err == nil {
		c.MergeIncoming(merged)
	}

	c.markStatus(endpoint, StatusConnected)
	c.debugf("mesh: synced with %s\n", endpoint)

	return true
}

func (c *Coordinator) markStatus(endpoint string, s Status) {
	c.statusCache.Set(endpoint, s, ttlcache.DefaultTTL)
}

// Status returns the advisory reachability of endpoint, defaulting to
// "connecting" for one never observed.
func (c *Coordinator) Status(endpoint string) Status {
	item := c.statusCache.Get(endpoint)
	if item == nil {
		return StatusConnecting
	}

	return item.Value()
}

// LocalState is the mesh-state document served by GET /mesh/peers and
// posted outward on every sync round.
func (c *Coordinator) LocalState() State {
	return c.buildState(c.store.Snapshot())
}

func (c *Coordinator) buildState(snap config.Data) State {
	self := SelfInfo{
		PublicKey: snap.WireGuard.PublicKey,
		Endpoint:  snap.WireGuard.Endpoint,
		WGIP:      snap.WireGuard.WGIP,
		WebPort:   snap.WebPort,
	}

	s := State{Self: self, Peers: snap.WGPeers, WGPeersUpdatedAt: snap.WGPeersUpdatedAt}

	if snap.NodeState == config.NodeStateNode {
		s.MountPoints = snap.DataMountPoints
		s.MountPointsUpdatedAt = snap.DataMountPointsUpdatedAt
	}

	return s
}

// MergeIncoming applies the merge rules for an incoming mesh-state
// payload: upsert every peer (skipping this node's own identity), then
// replace mount points iff the incoming clock is >= the local one,
// where a tie with an identical set is a no-op.
func (c *Coordinator) MergeIncoming(incoming State) State {
	self := c.store.Snapshot()

	// A sender we only knew as a bootstrap host:port promotes itself to
	// a full peer through the identity it embeds in the payload.
	if incoming.Self.PublicKey != "" && incoming.Self.WGIP != "" &&
		incoming.Self.PublicKey != self.WireGuard.PublicKey {
		sender := config.Peer{
			PublicKey: incoming.Self.PublicKey,
			Endpoint:  incoming.Self.Endpoint,
			WGIP:      incoming.Self.WGIP,
			WebPort:   incoming.Self.WebPort,
		}

		// Keep locally-configured tunnel options when the sender is
		// already a known peer; only its addressing is authoritative.
		for _, known := range self.WGPeers {
			if known.PublicKey == sender.PublicKey {
				sender.PersistentKeepalive = known.PersistentKeepalive
				sender.PresharedKey = known.PresharedKey

				break
			}
		}

		if _, err := c.store.UpsertPeer(sender); err != nil {
			c.logf("mesh: upserting sender %s: %v\n", sender.PublicKey, err)
		}
	}

	for _, p := range incoming.Peers {
		if p.PublicKey == self.WireGuard.PublicKey {
			continue
		}
		if _, err := c.store.UpsertPeer(p); err != nil {
			c.logf("mesh: upserting peer %s: %v\n", p.PublicKey, err)
		}
	}

	if incoming.MountPoints != nil {
		if _, err := c.store.ReplaceMountPoints(incoming.MountPoints, incoming.MountPointsUpdatedAt); err != nil {
			c.logf("mesh: replacing mount points: %v\n", err)
		}
	}

	merged := c.store.Snapshot()

	return c.buildState(merged)
}

func (c *Coordinator) reprogramIfChanged(snap config.Data) {
	c.mu.Lock()
	changed := snap.WGPeersUpdatedAt.After(c.lastAppliedWG)
	c.mu.Unlock()

	if !changed || c.device == nil {
		return
	}

	if err := c.device.Configure(snap.WireGuard.InterfaceName, snap.WireGuard.PrivateKey, snap.WireGuard.ListenPort, snap.WGPeers); err != nil {
		c.logf("mesh: reprogramming WireGuard device: %v\n", err)

		return
	}

	c.mu.Lock()
	c.lastAppliedWG = snap.WGPeersUpdatedAt
	c.mu.Unlock()
}

var errNoPublicIP = errors.New("mesh: public IP probe returned empty body")

// maybeRefreshPublicIP probes this host's public IP every 60s; if the
// configured endpoint host is a literal IPv4 and differs (or is
// unset), it rewrites and persists the endpoint. A DNS-name endpoint
// is never overwritten.
func (c *Coordinator) maybeRefreshPublicIP(ctx context.Context) {
	c.mu.Lock()
	due := time.Since(c.lastPublicIP) >= publicIPPeriod
	c.mu.Unlock()

	if !due {
		return
	}

	c.mu.Lock()
	c.lastPublicIP = time.Now()
	c.mu.Unlock()

	ip, err := c.probePublicIP(ctx)
	if err != nil {
		c.logf("mesh: public IP probe failed: %v\n", err)

		return
	}

	snap := c.store.Snapshot()

	host, _, splitErr := net.SplitHostPort(snap.WireGuard.Endpoint)
	isLiteralV4 := splitErr == nil && net.ParseIP(host) != nil && strings.Count(host, ":") == 0

	if snap.WireGuard.Endpoint != "" && !isLiteralV4 {
		return // DNS-name endpoint, never overwritten
	}

	if host == ip && snap.WireGuard.Endpoint != "" {
		return
	}

	newEndpoint := ip + ":" + strconv.Itoa(snap.WireGuard.ListenPort)
	_ = c.store.SetEndpoint(newEndpoint)
}

func (c *Coordinator) probePublicIP(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.ipify.org", nil)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64)) //nolint:mnd
	if err != nil {
		return "", err
	}

	ip := strings.TrimSpace(string(body))
	if ip == "" {
		return "", errNoPublicIP
	}

	return ip, nil
}

// DeriveStatus computes GET /mesh/status's role label: standalone if
// both bootstrap and peer lists are empty, central if any bootstrap or
// peer endpoint is currently reachable, dead_end otherwise.
func (c *Coordinator) DeriveStatus(snap config.Data) (Role, map[string]Status) {
	perPeer := make(map[string]Status, len(snap.WGPeers))

	standalone := len(snap.BootstrapPeers) == 0 && len(snap.WGPeers) == 0
	anyReachable := false

	for _, ep := range snap.BootstrapPeers {
		if c.Status(ep) == StatusConnected {
			anyReachable = true
		}
	}

	for _, p := range snap.WGPeers {
		s := c.Status(p.Endpoint)
		perPeer[p.PublicKey] = s
		if s == StatusConnected {
			anyReachable = true
		}
	}

	switch {
	case standalone:
		return RoleStandalone, perPeer
	case anyReachable:
		return RoleCentral, perPeer
	default:
		return RoleDeadEnd, perPeer
	}
}

// AllocatePeerIP derives a free host octet in the /24 of the local
// wg_ip: host octet 1 is reserved for the hub; the first free octet in
// [2,254] is returned.
func AllocatePeerIP(localWGIP string, peers []config.Peer) (string, error) {
	parts := strings.Split(localWGIP, ".")
	if len(parts) != 4 { //nolint:mnd
		return "", fmt.Errorf("mesh: invalid wg_ip %q", localWGIP)
	}
	base := strings.Join(parts[:3], ".")

	used := map[int]bool{1: true}

	if localOctet, err := strconv.Atoi(parts[3]); err == nil {
		used[localOctet] = true
	}

	for _, p := range peers {
		pp := strings.Split(p.WGIP, ".")
		if len(pp) != 4 { //nolint:mnd
			continue
		}
		if octet, err := strconv.Atoi(pp[3]); err == nil {
			used[octet] = true
		}
	}

	for octet := 2; octet <= 254; octet++ { //nolint:mnd
		if !used[octet] {
			return fmt.Sprintf("%s.%d", base, octet), nil
		}
	}

	return "", fmt.Errorf("mesh: no free host octet in %s.0/24", base)
}

// NewPeerIdentity generates a fresh keypair for a minted join config.
func NewPeerIdentity() (identity.KeyPair, error) {
	return identity.Generate()
}
