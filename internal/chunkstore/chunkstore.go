// Package chunkstore implements junkNAS's content-addressed chunk
// store: a 256-way shard layout striped across one or more backing
// roots, a round-robin write pointer, and a soft quota. Chunks are
// immutable; a stored file's contents always hash to its name.
package chunkstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/desertwitch/junknas/internal/atomicfile"
	"github.com/desertwitch/junknas/internal/jnkerr"
)

// ChunkSize is the fixed chunk window junkNAS addresses content by.
const ChunkSize = 1 << 20 // 1 MiB

const shardDirPerm = 0o755

// HashSize is the length in bytes of a SHA-256 digest.
const HashSize = sha256.Size

var errEmptyRoots = errors.New("chunkstore: at least one backing root required")

// Store is a content-addressed chunk store striped across Roots.
type Store struct {
	roots []string

	mu     sync.Mutex
	rrNext int

	quota int64 // 0 means unlimited
	usage atomic.Int64
}

// New constructs a Store over roots (ordered; the first is primary).
// quota of 0 disables quota enforcement.
func New(roots []string, quota int64) (*Store, error) {
	if len(roots) == 0 {
		return nil, errEmptyRoots
	}

	s := &Store{roots: append([]string(nil), roots...), quota: quota}

	if quota > 0 {
		used, err := s.scanUsage()
		if err != nil {
			return nil, err
		}
		s.usage.Store(used)
	}

	return s, nil
}

// Usage returns the last-known total bytes of stored chunk payload.
func (s *Store) Usage() int64 {
	return s.usage.Load()
}

// Quota returns the configured quota, or 0 if unlimited.
func (s *Store) Quota() int64 {
	return s.quota
}

func shardPath(root, hash string) string {
	return filepath.Join(root, ".jnk", "chunks", "sha256", hash[:2], hash) //nolint:mnd
}

// Locate searches every backing root for hash, returning its path and
// true if found.
func (s *Store) Locate(hash string) (string, bool) {
	for _, root := range s.roots {
		p := shardPath(root, hash)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p, true
		}
	}

	return "", false
}

// PutIfAbsent writes data under hash iff no root already holds it.
// hash must be the lowercase hex SHA-256 of data. Returns nil whether
// the chunk was newly written or already present (idempotent put).
func (s *Store) PutIfAbsent(hash string, data []byte) error {
	if len(data) > ChunkSize {
		return jnkerr.Wrap(jnkerr.KindInvalidArgument, "chunkstore: chunk exceeds %d bytes", ChunkSize)
	}

	if _, ok := s.Locate(hash); ok {
		return nil
	}

	size := int64(len(data))

	s.mu.Lock()
	if s.quota > 0 && s.usage.Load()+size > s.quota {
		s.mu.Unlock()

		return jnkerr.New(jnkerr.KindOutOfSpace, fmt.Errorf("chunkstore: quota exceeded for %s", hash))
	}

	root := s.roots[s.rrNext%len(s.roots)]
	s.rrNext++
	s.mu.Unlock()

	target := shardPath(root, hash)
	if err := os.MkdirAll(filepath.Dir(target), shardDirPerm); err != nil {
		return jnkerr.Wrap(jnkerr.KindIOError, "chunkstore: creating shard dir: %w", err)
	}

	if err := atomicfile.Write(target, data, 0o444); err != nil { //nolint:mnd
		// Another writer may have raced us to the same hash; re-check
		// presence before failing.
		if _, ok := s.Locate(hash); ok {
			return nil
		}

		return jnkerr.Wrap(jnkerr.KindIOError, "chunkstore: writing chunk: %w", err)
	}

	s.usage.Add(size)

	return nil
}

// ReadAndVerify locates hash, reads its full contents (≤ ChunkSize),
// and confirms the SHA-256 of what was read equals hash.
func (s *Store) ReadAndVerify(hash string) ([]byte, error) {
	path, ok := s.Locate(hash)
	if !ok {
		return nil, jnkerr.New(jnkerr.KindNotFound, fmt.Errorf("chunkstore: chunk %s not found", hash))
	}

	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, jnkerr.Wrap(jnkerr.KindIOError, "chunkstore: reading chunk: %w", err)
	}

	if len(data) > ChunkSize {
		return nil, jnkerr.New(jnkerr.KindIntegrityFault, fmt.Errorf("chunkstore: chunk %s exceeds max size", hash))
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != hash {
		return nil, jnkerr.New(jnkerr.KindIntegrityFault, fmt.Errorf("chunkstore: chunk %s failed verification", hash))
	}

	return data, nil
}

// Delete removes hash from every backing root it is stored under.
// Absence on any given root is not an error.
func (s *Store) Delete(hash string) error {
	var firstErr error

	for _, root := range s.roots {
		p := shardPath(root, hash)
		size := chunkSizeOnDisk(p) // stat before the remove, or it reads 0

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = err
			}
		} else if err == nil {
			s.usage.Add(-size)
		}
	}

	if firstErr != nil {
		return jnkerr.Wrap(jnkerr.KindIOError, "chunkstore: deleting chunk: %w", firstErr)
	}

	return nil
}

func chunkSizeOnDisk(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}

	return info.Size()
}

// Hash returns the lowercase hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}

// scanUsage walks every shard directory in every root and sums regular
// file sizes; quota accounting revalidates on every start rather than
// trusting a persisted counter.
func (s *Store) scanUsage() (int64, error) {
	var total int64

	for _, root := range s.roots {
		base := filepath.Join(root, ".jnk", "chunks", "sha256")

		err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}

				return err
			}
			if d.Type().IsRegular() {
				info, ierr := d.Info()
				if ierr != nil {
					return ierr
				}
				total += info.Size()
			}

			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return 0, jnkerr.Wrap(jnkerr.KindIOError, "chunkstore: scanning usage under %s: %w", root, err)
		}
	}

	return total, nil
}

// ZeroBuffer returns a newly allocated zero-filled chunk-sized scratch
// buffer on every call, so concurrent readers never alias one another.
func ZeroBuffer() []byte {
	return make([]byte, ChunkSize)
}
