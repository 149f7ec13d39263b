// Package manifest implements junkNAS's per-file manifest codec: a
// line-oriented text format ("size <n>" plus "chunk <idx> <hash>"
// lines) with atomic temp-then-rename persistence.
package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/desertwitch/junknas/internal/atomicfile"
	"github.com/desertwitch/junknas/internal/jnkerr"
)

const (
	manifestPerm = 0o644
	hashHexLen   = 64
)

// Manifest is the in-memory form of a file's chunk map.
type Manifest struct {
	Size   int64
	Hashes []string // Hashes[i] == "" denotes a sparse (absent) index.
}

// isHash64 is regex-free validation for a 64-char lowercase hex string.
func isHash64(s string) bool {
	if len(s) != hashHexLen {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}

	return true
}

// Parse decodes raw manifest text. Only lines matching exactly "size
// <decimal>" or "chunk <idx> <64-hex>" are honored; any other line is
// silently skipped. A missing or unparseable size line is a
// corrupt-manifest error.
func Parse(raw []byte) (Manifest, error) {
	var (
		m        Manifest
		sizeSeen bool
	)

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)

		switch {
		case len(fields) == 2 && fields[0] == "size": //nolint:mnd
			n, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil || n < 0 {
				continue
			}
			m.Size = n
			sizeSeen = true

		case len(fields) == 3 && fields[0] == "chunk": //nolint:mnd
			idx, err := strconv.Atoi(fields[1])
			if err != nil || idx < 0 || !isHash64(fields[2]) {
				continue
			}

			for len(m.Hashes) <= idx {
				m.Hashes = append(m.Hashes, "")
			}
			m.Hashes[idx] = fields[2]
		}
	}

	if !sizeSeen {
		return Manifest{}, jnkerr.New(jnkerr.KindCorruptManifest, fmt.Errorf("manifest: missing or unparseable size line"))
	}

	return m, nil
}

// Encode serializes m to the canonical text form.
func Encode(m Manifest) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "size %d\n", m.Size)
	for i, h := range m.Hashes {
		if h == "" {
			continue
		}
		fmt.Fprintf(&buf, "chunk %d %s\n", i, h)
	}

	return buf.Bytes()
}

// Load reads and parses the manifest at path.
func Load(path string) (Manifest, error) {
	raw, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, jnkerr.New(jnkerr.KindNotFound, err)
		}

		return Manifest{}, jnkerr.Wrap(jnkerr.KindIOError, "manifest: reading %s: %w", path, err)
	}

	return Parse(raw)
}

// Save atomically writes m to path.
func Save(path string, m Manifest) error {
	if err := atomicfile.Write(path, Encode(m), manifestPerm); err != nil {
		return jnkerr.Wrap(jnkerr.KindIOError, "manifest: saving %s: %w", path, err)
	}

	return nil
}

// NeededChunks returns ceil(size/chunkSize), the number of chunk
// indices a file of this size spans.
func NeededChunks(size int64, chunkSize int64) int64 {
	if size <= 0 {
		return 0
	}

	return (size + chunkSize - 1) / chunkSize
}

// NonSparseHashes returns the hashes present (non-empty) in m, in
// index order, duplicates included — the multiset refcount.DiffMultisets expects.
func NonSparseHashes(m Manifest) []string {
	out := make([]string, 0, len(m.Hashes))
	for _, h := range m.Hashes {
		if h != "" {
			out = append(out, h)
		}
	}

	return out
}
