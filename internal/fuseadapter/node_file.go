package fuseadapter

import (
	"context"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/desertwitch/junknas/internal/manifest"
)

var (
	_ fs.Node          = (*fileNode)(nil)
	_ fs.NodeOpener    = (*fileNode)(nil)
	_ fs.NodeSetattrer = (*fileNode)(nil)
)

// fileNode is a manifest-backed regular file. No real backing file
// exists for its payload; its content lives in the chunk store,
// addressed through the manifest at metaPath.
type fileNode struct {
	fsys     *FS
	inode    uint64
	metaPath string
	mtime    time.Time
}

func (f *fileNode) Attr(_ context.Context, a *fuse.Attr) error {
	m, err := manifest.Load(f.metaPath)
	if err != nil {
		return toFuseErr(err)
	}

	a.Mode = fileBasePerm
	a.Inode = f.inode
	a.Size = uint64(m.Size) //nolint:gosec
	a.BlockSize = chunkSizeU32()
	a.Atime, a.Ctime, a.Mtime = f.mtime, f.mtime, f.mtime

	return nil
}

// Open loads the manifest into a fresh handle and captures the
// original hash snapshot the eventual Release diffs against.
func (f *fileNode) Open(_ context.Context, _ *fuse.OpenRequest, _ *fuse.OpenResponse) (fs.Handle, error) {
	m, err := manifest.Load(f.metaPath)
	if err != nil {
		return nil, toFuseErr(err)
	}

	h := &handle{
		fsys:       f.fsys,
		metaPath:   f.metaPath,
		size:       m.Size,
		hashes:     append([]string(nil), m.Hashes...),
		origSize:   m.Size,
		origHashes: append([]string(nil), m.Hashes...),
		dirty:      make(map[int64][]byte),
	}

	return h, nil
}

// Setattr only honors truncation (Size); mode/owner/time changes are
// accepted as no-ops since chmod/chown are deliberately unsupported.
// A shrink drops the hash entries past the new end and releases their
// references once the manifest rewrite has succeeded; a grow is a
// size-only sparse extension.
func (f *fileNode) Setattr(_ context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if !req.Valid.Size() {
		return f.Attr(context.Background(), &resp.Attr)
	}

	m, err := manifest.Load(f.metaPath)
	if err != nil {
		return toFuseErr(err)
	}

	origHashes := manifest.NonSparseHashes(m)

	truncateManifest(&m, int64(req.Size)) //nolint:gosec

	if err := manifest.Save(f.metaPath, m); err != nil {
		return toFuseErr(err)
	}

	if err := f.fsys.Refs.ApplyDiff(origHashes, manifest.NonSparseHashes(m)); err != nil {
		f.fsys.logf("fuseadapter: refcount diff on truncate %q: %v\n", f.metaPath, err)

		return toFuseErr(err)
	}

	resp.Attr.Size = req.Size
	resp.Attr.Mode = fileBasePerm
	resp.Attr.Inode = f.inode

	return nil
}

func truncateManifest(m *manifest.Manifest, newSize int64) {
	needed := manifest.NeededChunks(newSize, chunkSizeInt64())
	if int64(len(m.Hashes)) > needed {
		m.Hashes = m.Hashes[:needed]
	}
	m.Size = newSize
}
