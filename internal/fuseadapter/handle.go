package fuseadapter

import (
	"context"
	"sort"
	"sync"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/desertwitch/junknas/internal/chunkstore"
	"github.com/desertwitch/junknas/internal/manifest"
)

var (
	_ fs.Handle         = (*handle)(nil)
	_ fs.HandleReader   = (*handle)(nil)
	_ fs.HandleWriter   = (*handle)(nil)
	_ fs.HandleReleaser = (*handle)(nil)
)

func chunkSizeInt64() int64 { return chunkstore.ChunkSize }
func chunkSizeU32() uint32  { return chunkstore.ChunkSize }

// handle is the transient, single-owner state of one open file: the
// in-memory (size, hashes) working copy, staged dirty chunk buffers,
// and the immutable original snapshot captured at open, diffed
// against on Release.
type handle struct {
	fsys     *FS
	metaPath string

	mu sync.Mutex

	size   int64
	hashes []string

	dirty map[int64][]byte // chunk index -> full ChunkSize buffer

	origSize   int64
	origHashes []string
}

func (h *handle) chunkIndex(off int64) int64 { return off / chunkSizeInt64() }

// loadChunk returns the effective ChunkSize-length content of chunk
// idx: the dirty buffer if one is staged, else the committed chunk
// (integrity-verified and zero-padded), else all zero for a sparse index.
func (h *handle) loadChunk(idx int64) ([]byte, error) {
	if buf, ok := h.dirty[idx]; ok {
		return buf, nil
	}

	if idx >= int64(len(h.hashes)) || h.hashes[idx] == "" {
		return chunkstore.ZeroBuffer(), nil
	}

	data, err := h.fsys.Store.ReadAndVerify(h.hashes[idx])
	if err != nil {
		return nil, err
	}

	buf := chunkstore.ZeroBuffer()
	copy(buf, data)

	return buf, nil
}

// dirtyChunk returns the mutable staged buffer for idx, first-touch
// loading its effective current content (committed chunk or zero).
func (h *handle) dirtyChunk(idx int64) ([]byte, error) {
	if buf, ok := h.dirty[idx]; ok {
		return buf, nil
	}

	buf, err := h.loadChunk(idx)
	if err != nil {
		return nil, err
	}

	h.dirty[idx] = buf

	return buf, nil
}

// Read serves a window of the handle's current (possibly uncommitted)
// content, chunk by chunk.
func (h *handle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	off, size := req.Offset, int64(req.Size)
	if off >= h.size {
		resp.Data = nil

		return nil
	}
	if off+size > h.size {
		size = h.size - off
	}

	out := make([]byte, 0, size)
	remaining := size
	cur := off

	for remaining > 0 {
		idx := h.chunkIndex(cur)
		chunkOff := cur % chunkSizeInt64()

		buf, err := h.loadChunk(idx)
		if err != nil {
			return toFuseErr(err)
		}

		n := chunkSizeInt64() - chunkOff
		if n > remaining {
			n = remaining
		}

		out = append(out, buf[chunkOff:chunkOff+n]...)
		cur += n
		remaining -= n
	}

	resp.Data = out

	return nil
}

// Write stages user bytes into per-chunk dirty buffers without
// touching the chunk store; commitment happens at Release.
func (h *handle) Write(_ context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	off := req.Offset
	data := req.Data

	remaining := int64(len(data))
	cur := off
	consumed := int64(0)

	for remaining > 0 {
		idx := h.chunkIndex(cur)
		chunkOff := cur % chunkSizeInt64()

		buf, err := h.dirtyChunk(idx)
		if err != nil {
			return toFuseErr(err)
		}

		n := chunkSizeInt64() - chunkOff
		if n > remaining {
			n = remaining
		}

		copy(buf[chunkOff:chunkOff+n], data[consumed:consumed+n])

		cur += n
		remaining -= n
		consumed += n
	}

	if off+int64(len(data)) > h.size {
		h.size = off + int64(len(data))
	}

	resp.Size = len(data)

	return nil
}

// Release commits every staged dirty chunk, rewrites the manifest
// atomically, and only then applies the refcount multiset diff
// between the handle's original and final hash lists. A failed
// manifest rewrite aborts the close without touching refcounts.
func (h *handle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	needed := manifest.NeededChunks(h.size, chunkSizeInt64())
	for int64(len(h.hashes)) < needed {
		h.hashes = append(h.hashes, "")
	}
	if int64(len(h.hashes)) > needed {
		h.hashes = h.hashes[:needed]
	}

	indices := make([]int64, 0, len(h.dirty))
	for idx := range h.dirty {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	for _, idx := range indices {
		if idx >= needed {
			continue
		}

		buf := h.dirty[idx]
		hash := chunkstore.Hash(buf)

		if err := h.fsys.Store.PutIfAbsent(hash, buf); err != nil {
			return toFuseErr(err)
		}

		h.hashes[idx] = hash
	}

	m := manifest.Manifest{Size: h.size, Hashes: h.hashes}
	if err := manifest.Save(h.metaPath, m); err != nil {
		return toFuseErr(err)
	}

	if err := h.fsys.Refs.ApplyDiff(
		manifest.NonSparseHashes(manifest.Manifest{Hashes: h.origHashes}),
		manifest.NonSparseHashes(m),
	); err != nil {
		h.fsys.logf("fuseadapter: refcount diff on release %q: %v\n", h.metaPath, err)

		return toFuseErr(err)
	}

	return nil
}
