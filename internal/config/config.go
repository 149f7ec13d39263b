// Package config implements the node's single-process configuration
// store: a JSON-persisted document behind one mutex, with explicit
// validation and a monotonic updated-at clock per mutable sequence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/desertwitch/junknas/internal/atomicfile"
	"github.com/desertwitch/junknas/internal/identity"
	"github.com/desertwitch/junknas/internal/logging"
	"github.com/desertwitch/junknas/internal/sizeparse"
)

const (
	// MaxPeers is the maximum number of stored WireGuard peers.
	MaxPeers = 64
	// MaxBootstrapPeers is the maximum number of bootstrap host:port entries.
	MaxBootstrapPeers = 10
	// MaxBackingRoots is the maximum number of chunk-store backing roots.
	MaxBackingRoots = 8

	filePerm = 0o644
)

// NodeState describes whether this node hosts the overlay server.
type NodeState string

const (
	// NodeStateNode means this node hosts the overlay server and may mint joins.
	NodeStateNode NodeState = "node"
	// NodeStateEnd means this node does not host the overlay server.
	NodeStateEnd NodeState = "end"
)

// Peer is a single mesh peer entry, addressed by PublicKey.
type Peer struct {
	PublicKey           string `json:"public_key"`
	Endpoint            string `json:"endpoint"`
	WGIP                string `json:"wg_ip"`
	PersistentKeepalive int    `json:"persistent_keepalive"`
	WebPort             int    `json:"web_port"`
	PresharedKey        string `json:"preshared_key,omitempty"`
}

// Equal reports whether two peers have identical field values.
func (p Peer) Equal(o Peer) bool {
	return p == o
}

// WireGuard holds the overlay device configuration.
type WireGuard struct {
	InterfaceName string `json:"interface_name"`
	PrivateKey    string `json:"private_key"`
	PublicKey     string `json:"public_key"`
	WGIP          string `json:"wg_ip"`
	Endpoint      string `json:"endpoint"`
	ListenPort    int    `json:"listen_port"`
	MTU           int    `json:"mtu"`
}

// Data is the JSON-serializable configuration document.
type Data struct {
	StorageSize string   `json:"storage_size"`
	DataDir     string   `json:"data_dir"`
	DataDirs    []string `json:"data_dirs,omitempty"`
	MountPoint  string   `json:"mount_point"`
	WebPort     int      `json:"web_port"`
	NodeState   NodeState `json:"node_state"`

	WireGuard WireGuard `json:"wireguard"`

	BootstrapPeers           []string  `json:"bootstrap_peers"`
	BootstrapPeersUpdatedAt  time.Time `json:"bootstrap_peers_updated_at"`
	WGPeers                  []Peer    `json:"wg_peers"`
	WGPeersUpdatedAt         time.Time `json:"wg_peers_updated_at"`
	DataMountPoints          []string  `json:"data_mount_points"`
	DataMountPointsUpdatedAt time.Time `json:"data_mount_points_updated_at"`

	Verbose    bool `json:"verbose"`
	EnableFUSE bool `json:"enable_fuse"`
	DaemonMode bool `json:"daemon_mode"`
}

// UpsertResult describes the outcome of an UpsertPeer call.
type UpsertResult int

const (
	// PeerUnchanged means every field of the incoming peer already matched.
	PeerUnchanged UpsertResult = iota
	// PeerChanged means the peer was added or an existing entry was updated.
	PeerChanged
	// PeerFull means the peer set was already at MaxPeers and the peer is new.
	PeerFull
)

// ValidationError records one rejected field during validate().
type ValidationError struct {
	Field  string
	Reason string
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Reason)
}

// Store is the single process-wide configuration structure, protected
// by one mutex: every read-modify-write sequence holds the lock across
// both the mutation and the subsequent save.
type Store struct {
	mu   sync.Mutex
	data Data
	path string
	rbuf *logging.RingBuffer
}

// New returns an empty Store; call Init to populate it from defaults
// and an on-disk file.
func New(rbuf *logging.RingBuffer) *Store {
	return &Store{rbuf: rbuf}
}

func defaults() Data {
	return Data{
		StorageSize: "10G",
		DataDir:     "/var/lib/junknas/data",
		MountPoint:  "/mnt/junknas",
		WebPort:     7380, //nolint:mnd
		NodeState:   NodeStateEnd,
		WireGuard: WireGuard{
			InterfaceName: "jnk0",
			ListenPort:    51820, //nolint:mnd
			MTU:           1420,  //nolint:mnd
		},
	}
}

// Init loads defaults, overlays on-disk values (if present), ensures a
// WireGuard keypair exists, and validates the result.
func (s *Store) Init(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.path = path
	s.data = defaults()

	if err := s.loadLocked(path); err != nil {
		return err
	}

	if err := s.ensureWGKeysLocked(); err != nil {
		return err
	}

	for _, verr := range s.validateLocked() {
		if s.rbuf != nil {
			s.rbuf.Printf("config: rejected %s (keeping prior value)\n", verr.Error())
		}
	}

	return s.saveLocked()
}

// Load parses path over the current in-memory data; unknown JSON keys
// are tolerated by encoding/json itself, and the outer merge below
// keeps the prior value for anything missing from the document.
func (s *Store) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadLocked(path)
}

func (s *Store) loadLocked(path string) error {
	raw, err := readFileIfExists(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if raw == nil {
		return nil
	}

	var onDisk Data
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}

	mergeNonZero(&s.data, onDisk)

	return nil
}

// Save serializes the store to path via a temp-file-then-rename swap.
func (s *Store) Save(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.path = path

	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}

	if err := atomicfile.Write(s.path, raw, filePerm); err != nil {
		return fmt.Errorf("config: saving %s: %w", s.path, err)
	}

	return nil
}

// Snapshot returns a deep-enough copy of the current data for read-only use.
func (s *Store) Snapshot() Data {
	s.mu.Lock()
	defer s.mu.Unlock()

	return cloneData(s.data)
}

// PrimaryDataDir returns the first backing root, preferring DataDirs
// when set, falling back to DataDir.
func (s *Store) PrimaryDataDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.data.DataDirs) > 0 {
		return s.data.DataDirs[0]
	}

	return s.data.DataDir
}

// BackingRoots returns the ordered list of chunk-store backing roots.
func (s *Store) BackingRoots() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.data.DataDirs) > 0 {
		out := make([]string, len(s.data.DataDirs))
		copy(out, s.data.DataDirs)

		return out
	}

	return []string{s.data.DataDir}
}

func readFileIfExists(path string) ([]byte, error) {
	raw, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	return raw, nil
}

// cloneData makes a value copy safe to hand outside the lock.
func cloneData(d Data) Data {
	out := d
	out.DataDirs = append([]string(nil), d.DataDirs...)
	out.BootstrapPeers = append([]string(nil), d.BootstrapPeers...)
	out.WGPeers = append([]Peer(nil), d.WGPeers...)
	out.DataMountPoints = append([]string(nil), d.DataMountPoints...)

	return out
}

// mergeNonZero overlays non-zero fields of src onto dst, leaving dst's
// value for anything src leaves at its zero value — this is the
// "unknown fields ignored, missing values keep the prior setting"
// contract for Load().
func mergeNonZero(dst *Data, src Data) {
	if src.StorageSize != "" {
		dst.StorageSize = src.StorageSize
	}
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if len(src.DataDirs) > 0 {
		dst.DataDirs = src.DataDirs
	}
	if src.MountPoint != "" {
		dst.MountPoint = src.MountPoint
	}
	if src.WebPort != 0 {
		dst.WebPort = src.WebPort
	}
	if src.NodeState != "" {
		dst.NodeState = src.NodeState
	}
	if src.WireGuard.InterfaceName != "" {
		dst.WireGuard.InterfaceName = src.WireGuard.InterfaceName
	}
	if src.WireGuard.PrivateKey != "" {
		dst.WireGuard.PrivateKey = src.WireGuard.PrivateKey
	}
	if src.WireGuard.PublicKey != "" {
		dst.WireGuard.PublicKey = src.WireGuard.PublicKey
	}
	if src.WireGuard.WGIP != "" {
		dst.WireGuard.WGIP = src.WireGuard.WGIP
	}
	if src.WireGuard.Endpoint != "" {
		dst.WireGuard.Endpoint = src.WireGuard.Endpoint
	}
	if src.WireGuard.ListenPort != 0 {
		dst.WireGuard.ListenPort = src.WireGuard.ListenPort
	}
	if src.WireGuard.MTU != 0 {
		dst.WireGuard.MTU = src.WireGuard.MTU
	}
	if len(src.BootstrapPeers) > 0 {
		dst.BootstrapPeers = src.BootstrapPeers
	}
	if !src.BootstrapPeersUpdatedAt.IsZero() {
		dst.BootstrapPeersUpdatedAt = src.BootstrapPeersUpdatedAt
	}
	if len(src.WGPeers) > 0 {
		dst.WGPeers = src.WGPeers
	}
	if !src.WGPeersUpdatedAt.IsZero() {
		dst.WGPeersUpdatedAt = src.WGPeersUpdatedAt
	}
	if len(src.DataMountPoints) > 0 {
		dst.DataMountPoints = src.DataMountPoints
	}
	if !src.DataMountPointsUpdatedAt.IsZero() {
		dst.DataMountPointsUpdatedAt = src.DataMountPointsUpdatedAt
	}
	dst.Verbose = dst.Verbose || src.Verbose
	dst.EnableFUSE = dst.EnableFUSE || src.EnableFUSE
	dst.DaemonMode = dst.DaemonMode || src.DaemonMode
}

// ensureWGKeysLocked loads the private.key file if present; else it
// adopts the in-memory private key from config if that one is valid;
// else it generates a fresh keypair. The key file is written whenever
// the effective private key did not come from it. The public key is
// always recomputed from the effective private key, and both keys in
// the in-memory config are overwritten where they differ.
func (s *Store) ensureWGKeysLocked() error {
	keyPath := s.keyFilePathLocked()

	var private [identity.KeySize]byte

	if onDisk, err := identity.LoadKeyFile(keyPath); err == nil {
		private = onDisk
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	} else if decoded, derr := identity.DecodeKey(s.data.WireGuard.PrivateKey); derr == nil {
		private = decoded
		if err := identity.SaveKeyFile(keyPath, private); err != nil {
			return err
		}
	} else {
		kp, genErr := identity.Generate()
		if genErr != nil {
			return genErr
		}
		private = kp.Private
		if err := identity.SaveKeyFile(keyPath, private); err != nil {
			return err
		}
	}

	public, err := identity.DerivePublic(private)
	if err != nil {
		return err
	}

	privEnc := identity.EncodeKey(private)
	pubEnc := identity.EncodeKey(public)

	if s.data.WireGuard.PrivateKey != privEnc {
		s.data.WireGuard.PrivateKey = privEnc
	}
	if s.data.WireGuard.PublicKey != pubEnc {
		s.data.WireGuard.PublicKey = pubEnc
	}

	return nil
}

func (s *Store) keyFilePathLocked() string {
	dir := filepath.Dir(s.path)
	if dir == "" || dir == "." {
		if len(s.data.DataDirs) > 0 {
			dir = s.data.DataDirs[0]
		} else {
			dir = s.data.DataDir
		}
	}

	return filepath.Join(dir, identity.KeyFileName)
}

// validateLocked reports every invalid field, each left at the store's
// existing value; no field is ever zeroed by a failed validation.
func (s *Store) validateLocked() []ValidationError {
	var errs []ValidationError

	check := func(cond bool, field, reason string) {
		if cond {
			errs = append(errs, ValidationError{Field: field, Reason: reason})
		}
	}

	check(primaryDir(s.data) == "", "data_dir", "empty primary data dir")
	check(s.data.MountPoint == "", "mount_point", "empty mount point")
	check(s.data.WireGuard.InterfaceName == "", "wireguard.interface_name", "empty interface name")
	check(s.data.WireGuard.WGIP == "", "wireguard.wg_ip", "empty wg_ip")
	check(s.data.WireGuard.ListenPort == 0, "wireguard.listen_port", "zero port")
	check(s.data.WebPort == 0, "web_port", "zero port")
	check(!sizeparse.Valid(s.data.StorageSize), "storage_size", "unparseable storage size")
	check(len(s.data.DataDirs) > MaxBackingRoots, "data_dirs", "too many backing roots")
	check(len(s.data.BootstrapPeers) > MaxBootstrapPeers, "bootstrap_peers", "too many bootstrap peers")
	check(len(s.data.WGPeers) > MaxPeers, "wg_peers", "too many peers")

	for _, p := range s.data.WGPeers {
		check(p.PublicKey == "" || p.WGIP == "", "wg_peers", "empty peer identity")
	}

	return errs
}

func primaryDir(d Data) string {
	if len(d.DataDirs) > 0 {
		return d.DataDirs[0]
	}

	return d.DataDir
}
