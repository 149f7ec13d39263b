package fuseadapter

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/desertwitch/junknas/internal/manifest"
)

var (
	_ fs.Node               = (*dirNode)(nil)
	_ fs.HandleReadDirAller = (*dirNode)(nil)
	_ fs.NodeStringLookuper = (*dirNode)(nil)
	_ fs.NodeCreater        = (*dirNode)(nil)
	_ fs.NodeMkdirer        = (*dirNode)(nil)
	_ fs.NodeRemover        = (*dirNode)(nil)
	_ fs.NodeRenamer        = (*dirNode)(nil)
)

// dirNode mirrors a real directory under the primary backing root.
type dirNode struct {
	fsys  *FS
	inode uint64
	path  string
	mtime time.Time
}

func (d *dirNode) Attr(_ context.Context, a *fuse.Attr) error {
	a.Mode = os.ModeDir | dirBasePerm
	a.Inode = d.inode
	a.Atime, a.Ctime, a.Mtime = d.mtime, d.mtime, d.mtime

	return nil
}

// ReadDirAll lists subdirectories and manifest-backed files, hiding
// .jnk and presenting manifest entries under their logical name.
func (d *dirNode) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		d.fsys.logf("fuseadapter: readdir %q: %v\n", d.path, err)

		return nil, toFuseErr(err)
	}

	resp := make([]fuse.Dirent, 0, len(entries))

	for _, e := range entries {
		name := e.Name()
		if name == reservedDir {
			continue
		}

		switch {
		case e.IsDir():
			resp = append(resp, fuse.Dirent{
				Name:  name,
				Type:  fuse.DT_Dir,
				Inode: fs.GenerateDynamicInode(d.inode, name),
			})

		default:
			if logical, ok := displayName(name); ok {
				resp = append(resp, fuse.Dirent{
					Name:  logical,
					Type:  fuse.DT_File,
					Inode: fs.GenerateDynamicInode(d.inode, logical),
				})
			}
		}
	}

	slices.SortFunc(resp, func(a, b fuse.Dirent) int {
		return strings.Compare(a.Name, b.Name)
	})

	return resp, nil
}

func (d *dirNode) Lookup(_ context.Context, name string) (fs.Node, error) {
	if !validComponent(name) {
		return nil, fuse.Errno(syscall.EINVAL)
	}

	subdir := filepath.Join(d.path, name)
	if info, err := os.Stat(subdir); err == nil && info.IsDir() {
		return &dirNode{
			fsys:  d.fsys,
			path:  subdir,
			mtime: info.ModTime(),
			inode: fs.GenerateDynamicInode(d.inode, name),
		}, nil
	}

	metaPath := metaPathFor(d.path, name)
	if info, err := os.Stat(metaPath); err == nil && !info.IsDir() {
		return &fileNode{
			fsys:     d.fsys,
			metaPath: metaPath,
			mtime:    info.ModTime(),
			inode:    fs.GenerateDynamicInode(d.inode, name),
		}, nil
	}

	return nil, fuse.ToErrno(syscall.ENOENT)
}

func (d *dirNode) Mkdir(_ context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	if !validComponent(req.Name) {
		return nil, fuse.Errno(syscall.EINVAL)
	}

	path := filepath.Join(d.path, req.Name)
	if err := os.Mkdir(path, dirBasePerm); err != nil {
		return nil, toFuseErr(err)
	}

	return &dirNode{
		fsys:  d.fsys,
		path:  path,
		mtime: time.Now(),
		inode: fs.GenerateDynamicInode(d.inode, req.Name),
	}, nil
}

// Create refuses if a backing directory already occupies the name,
// then writes an empty manifest and hands back a fresh open handle
// with no original snapshot (a brand-new file has nothing to diff
// refcounts against on release).
func (d *dirNode) Create(_ context.Context, req *fuse.CreateRequest, _ *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	if !validComponent(req.Name) {
		return nil, nil, fuse.Errno(syscall.EINVAL)
	}

	path := filepath.Join(d.path, req.Name)
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return nil, nil, fuse.Errno(syscall.EISDIR)
	}

	metaPath := metaPathFor(d.path, req.Name)
	if err := manifest.Save(metaPath, manifest.Manifest{}); err != nil {
		return nil, nil, toFuseErr(err)
	}

	node := &fileNode{
		fsys:     d.fsys,
		metaPath: metaPath,
		mtime:    time.Now(),
		inode:    fs.GenerateDynamicInode(d.inode, req.Name),
	}

	h := &handle{
		fsys:     d.fsys,
		metaPath: metaPath,
		dirty:    make(map[int64][]byte),
	}

	return node, h, nil
}

// Remove deletes a manifest-backed file (applying the refcount
// multiset diff against an empty new set) or an empty backing
// subdirectory.
func (d *dirNode) Remove(_ context.Context, req *fuse.RemoveRequest) error {
	if !validComponent(req.Name) {
		return fuse.Errno(syscall.EINVAL)
	}

	path := filepath.Join(d.path, req.Name)

	if req.Dir {
		if err := os.Remove(path); err != nil {
			return toFuseErr(err)
		}

		return nil
	}

	metaPath := metaPathFor(d.path, req.Name)

	m, err := manifest.Load(metaPath)
	if err != nil {
		return toFuseErr(err)
	}

	if err := d.fsys.Refs.ApplyDiff(manifest.NonSparseHashes(m), nil); err != nil {
		d.fsys.logf("fuseadapter: refcount diff on unlink %q: %v\n", metaPath, err)

		return toFuseErr(err)
	}

	if err := os.Remove(metaPath); err != nil {
		return toFuseErr(err)
	}

	return nil
}

// Rename relocates the manifest for a file, or the whole subtree for
// a directory.
func (d *dirNode) Rename(_ context.Context, req *fuse.RenameRequest, newDirNode fs.Node) error {
	if !validComponent(req.OldName) || !validComponent(req.NewName) {
		return fuse.Errno(syscall.EINVAL)
	}

	newDir, ok := newDirNode.(*dirNode)
	if !ok {
		return fuse.Errno(syscall.EINVAL)
	}

	oldPath := filepath.Join(d.path, req.OldName)
	if info, err := os.Stat(oldPath); err == nil && info.IsDir() {
		newPath := filepath.Join(newDir.path, req.NewName)

		return toFuseErr(os.Rename(oldPath, newPath))
	}

	oldMeta := metaPathFor(d.path, req.OldName)
	newMeta := metaPathFor(newDir.path, req.NewName)

	return toFuseErr(os.Rename(oldMeta, newMeta))
}
