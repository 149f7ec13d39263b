package mesh

import (
	"fmt"
	"net"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/desertwitch/junknas/internal/config"
	"github.com/desertwitch/junknas/internal/identity"
)

// WGCtrlDevice programs the overlay's kernel WireGuard device through
// the wgctrl netlink client. It satisfies DeviceProgrammer; the mesh
// thread is its only caller, so no internal locking is needed.
type WGCtrlDevice struct{}

var _ DeviceProgrammer = (*WGCtrlDevice)(nil)

// Configure applies interface private key, listen port, and a
// replace-peers payload reflecting the stored peer list exactly:
// endpoint resolved, wg_ip/32 as allowed IP, keepalive if set.
func (WGCtrlDevice) Configure(iface string, privateKey string, listenPort int, peers []config.Peer) error {
	client, err := wgctrl.New()
	if err != nil {
		return fmt.Errorf("mesh: opening wgctrl: %w", err)
	}
	defer client.Close()

	key, err := parseWGKey(privateKey)
	if err != nil {
		return err
	}

	cfg := wgtypes.Config{
		PrivateKey:   &key,
		ListenPort:   &listenPort,
		ReplacePeers: true,
	}

	for _, p := range peers {
		pc, err := peerConfig(p)
		if err != nil {
			return err
		}
		cfg.Peers = append(cfg.Peers, pc)
	}

	if err := client.ConfigureDevice(iface, cfg); err != nil {
		return fmt.Errorf("mesh: configuring device %s: %w", iface, err)
	}

	return nil
}

func peerConfig(p config.Peer) (wgtypes.PeerConfig, error) {
	pub, err := parseWGKey(p.PublicKey)
	if err != nil {
		return wgtypes.PeerConfig{}, err
	}

	pc := wgtypes.PeerConfig{
		PublicKey:         pub,
		ReplaceAllowedIPs: true,
	}

	ip := net.ParseIP(p.WGIP)
	if ip == nil {
		return wgtypes.PeerConfig{}, fmt.Errorf("mesh: peer %s has invalid wg_ip %q", p.PublicKey, p.WGIP)
	}
	pc.AllowedIPs = []net.IPNet{{IP: ip, Mask: net.CIDRMask(32, 32)}} //nolint:mnd

	if p.Endpoint != "" {
		addr, err := net.ResolveUDPAddr("udp", p.Endpoint)
		if err != nil {
			return wgtypes.PeerConfig{}, fmt.Errorf("mesh: resolving endpoint %q: %w", p.Endpoint, err)
		}
		pc.Endpoint = addr
	}

	if p.PersistentKeepalive > 0 {
		ka := time.Duration(p.PersistentKeepalive) * time.Second
		pc.PersistentKeepaliveInterval = &ka
	}

	if p.PresharedKey != "" {
		psk, err := parseWGKey(p.PresharedKey)
		if err != nil {
			return wgtypes.PeerConfig{}, err
		}
		pc.PresharedKey = &psk
	}

	return pc, nil
}

func parseWGKey(b64 string) (wgtypes.Key, error) {
	raw, err := identity.DecodeKey(b64)
	if err != nil {
		return wgtypes.Key{}, err
	}

	return wgtypes.Key(raw), nil
}
