// Package refcount implements junkNAS's per-chunk reference-count
// index: one ASCII-integer file per live chunk, mutated under an
// exclusive advisory file lock, plus the multiset-diff protocol that
// turns a manifest rewrite into a minimal set of refcount deltas.
//
// The lock is a real flock, not an in-process mutex, so an external
// repair tool can take the same lock against a running node.
package refcount

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/desertwitch/junknas/internal/chunkstore"
	"github.com/desertwitch/junknas/internal/jnkerr"
)

const refFilePerm = 0o644

// Index manages refcount files rooted under a single primary directory.
type Index struct {
	primary string
	store   *chunkstore.Store
}

// New returns an Index keeping its refcount files under primary and
// deleting fully-dereferenced chunks from store.
func New(primary string, store *chunkstore.Store) *Index {
	return &Index{primary: primary, store: store}
}

func (idx *Index) refPath(hash string) string {
	return filepath.Join(idx.primary, ".jnk", "refs", hash[:2], hash+".ref") //nolint:mnd
}

// Adjust applies delta to hash's refcount: open-create, lock, read,
// special-case a negative delta against a freshly-created (previously
// absent) file as a no-op, then write back or delete at zero.
func (idx *Index) Adjust(hash string, delta int) error {
	path := idx.refPath(hash)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:mnd
		return jnkerr.Wrap(jnkerr.KindIOError, "refcount: creating ref dir: %w", err)
	}

	f, existed, err := openCreateTrackingExistence(path)
	if err != nil {
		return jnkerr.Wrap(jnkerr.KindIOError, "refcount: opening ref file: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return jnkerr.Wrap(jnkerr.KindIOError, "refcount: locking ref file: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN) //nolint:errcheck

	current, _ := readCount(f)

	if delta < 0 && !existed {
		// Absence is unknown, not zero: a decrement against a record
		// that did not already exist must not create and then delete
		// a phantom entry, nor touch the chunk.
		os.Remove(path)

		return nil
	}

	next := current + delta
	if next < 0 {
		next = 0
	}

	if next == 0 {
		os.Remove(path)

		if idx.store != nil {
			if err := idx.store.Delete(hash); err != nil {
				return err
			}
		}

		return nil
	}

	if err := writeCount(f, next); err != nil {
		return jnkerr.Wrap(jnkerr.KindIOError, "refcount: writing ref file: %w", err)
	}

	return nil
}

// Get reads the current refcount for hash, returning 0 if absent.
func (idx *Index) Get(hash string) (int, error) {
	raw, err := os.ReadFile(idx.refPath(hash)) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, jnkerr.Wrap(jnkerr.KindIOError, "refcount: reading ref file: %w", err)
	}

	n, _ := strconv.Atoi(strings.TrimSpace(string(raw)))

	return n, nil
}

func openCreateTrackingExistence(path string) (*os.File, bool, error) {
	_, statErr := os.Stat(path)
	existed := statErr == nil

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, refFilePerm)
	if err != nil {
		return nil, false, err
	}

	return f, existed, nil
}

func readCount(f *os.File) (int, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return 0, err
	}

	raw := make([]byte, 32) //nolint:mnd

	n, err := f.Read(raw)
	if err != nil && !errors.Is(err, os.ErrClosed) {
		// A short or empty read (including io.EOF on a just-created
		// file) reads as 0.
		return 0, nil //nolint:nilerr
	}

	val, convErr := strconv.Atoi(strings.TrimSpace(string(raw[:n])))
	if convErr != nil {
		return 0, nil
	}

	return val, nil
}

func writeCount(f *os.File, n int) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	if _, err := f.WriteString(strconv.Itoa(n)); err != nil {
		return err
	}

	return f.Sync()
}

// DiffMultisets computes, for every distinct hash present in either
// multiset, the combined delta count_new - count_old: sort both
// lexicographically, walk in parallel, one delta per distinct hash.
// The result map omits hashes whose delta is 0, so a close costs
// O(|old|+|new|) refcount operations and stays correct under index
// rearrangement and same-chunk deduplication.
func DiffMultisets(oldHashes, newHashes []string) map[string]int {
	oldSorted := append([]string(nil), oldHashes...)
	newSorted := append([]string(nil), newHashes...)
	sort.Strings(oldSorted)
	sort.Strings(newSorted)

	deltas := make(map[string]int)

	i, j := 0, 0
	for i < len(oldSorted) || j < len(newSorted) {
		switch {
		case j >= len(newSorted) || (i < len(oldSorted) && oldSorted[i] < newSorted[j]):
			deltas[oldSorted[i]]--
			i++
		case i >= len(oldSorted) || newSorted[j] < oldSorted[i]:
			deltas[newSorted[j]]++
			j++
		default:
			// Equal hashes at both cursors net to zero; still advance both.
			i++
			j++
		}
	}

	for h, d := range deltas {
		if d == 0 {
			delete(deltas, h)
		}
	}

	return deltas
}

// ApplyDiff applies every delta from DiffMultisets against idx,
// returning the first error encountered. Callers must only invoke
// this after the corresponding manifest rewrite has succeeded.
func (idx *Index) ApplyDiff(oldHashes, newHashes []string) error {
	deltas := DiffMultisets(oldHashes, newHashes)

	for hash, delta := range deltas {
		if err := idx.Adjust(hash, delta); err != nil {
			return fmt.Errorf("refcount: applying diff for %s: %w", hash, err)
		}
	}

	return nil
}
