// Package fuseadapter implements junkNAS's FUSE adapter: the
// content-addressed chunk filesystem exposed as a POSIX subset
// (directories, regular files, statfs) over a primary backing root.
// Directories are mirrored from the backing filesystem; regular files
// are materialized from the chunk store through their manifests.
// Symlinks, xattrs, chmod/chown, special nodes, ioctls and hardlinks
// are deliberately unsupported.
package fuseadapter

import (
	"context"
	"errors"
	"os"
	"strings"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/desertwitch/junknas/internal/chunkstore"
	"github.com/desertwitch/junknas/internal/jnkerr"
	"github.com/desertwitch/junknas/internal/logging"
	"github.com/desertwitch/junknas/internal/refcount"
)

const (
	fileBasePerm = 0o644
	dirBasePerm  = 0o755

	// MetaSuffix marks a manifest file on the backing filesystem; any
	// user path ending in or containing it is rejected as invalid.
	MetaSuffix = ".__jnkmeta"
	// reservedDir is the name of the junkNAS bookkeeping directory,
	// hidden from directory listings and rejected as a path component.
	reservedDir = ".jnk"
)

var (
	_ fs.FS               = (*FS)(nil)
	_ fs.FSInodeGenerator = (*FS)(nil)
	_ fs.FSStatfser       = (*FS)(nil)

	errMissingArgument = errors.New("fuseadapter: missing required argument")
)

// FS is the root of the mounted chunk filesystem.
type FS struct {
	Primary string // backing directory holding directories, manifests, and .jnk/
	Store   *chunkstore.Store
	Refs    *refcount.Index
	Quota   int64 // 0 means unlimited; used only for statfs reporting

	rbuf *logging.RingBuffer
}

// New constructs an FS rooted at primary.
func New(primary string, store *chunkstore.Store, refs *refcount.Index, quota int64, rbuf *logging.RingBuffer) (*FS, error) {
	if primary == "" {
		return nil, jnkerr.New(jnkerr.KindInvalidArgument, errMissingArgument)
	}
	if store == nil || refs == nil {
		return nil, jnkerr.New(jnkerr.KindInvalidArgument, errMissingArgument)
	}
	if _, err := os.Stat(primary); err != nil {
		return nil, jnkerr.Wrap(jnkerr.KindIOError, "fuseadapter: stat primary root: %w", err)
	}

	return &FS{Primary: primary, Store: store, Refs: refs, Quota: quota, rbuf: rbuf}, nil
}

// Root returns the entry-point node of the filesystem.
func (fsys *FS) Root() (fs.Node, error) {
	info, err := os.Stat(fsys.Primary)
	if err != nil {
		return nil, toFuseErr(err)
	}

	return &dirNode{fsys: fsys, inode: 1, path: fsys.Primary, mtime: info.ModTime()}, nil
}

// GenerateInode panics: every node here assigns its own inode via
// fs.GenerateDynamicInode, so a zero inode reaching the library's
// fallback is a bug.
func (fsys *FS) GenerateInode(_ uint64, _ string) uint64 {
	panic("fuseadapter: unhandled zero inode triggered an illegal dynamic generation")
}

// Statfs reports filesystem-wide capacity, derived from the quota when
// one is configured, otherwise passed through from the backing filesystem.
func (fsys *FS) Statfs(_ context.Context, _ *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	const blockSize = 4096

	if fsys.Quota > 0 {
		total := uint64(fsys.Quota) / blockSize //nolint:mnd
		used := uint64(fsys.Store.Usage()) / blockSize //nolint:mnd
		free := uint64(0)
		if total > used {
			free = total - used
		}

		resp.Blocks = total
		resp.Bfree = free
		resp.Bavail = free
		resp.Bsize = blockSize

		return nil
	}

	var statfs syscall.Statfs_t
	if err := syscall.Statfs(fsys.Primary, &statfs); err != nil {
		return toFuseErr(err)
	}

	resp.Blocks = statfs.Blocks
	resp.Bfree = statfs.Bfree
	resp.Bavail = statfs.Bavail
	resp.Bsize = uint32(statfs.Bsize) //nolint:gosec

	return nil
}

// logf writes to the adapter's ring buffer if one was configured.
func (fsys *FS) logf(format string, args ...any) {
	if fsys.rbuf != nil {
		fsys.rbuf.Printf(format, args...)
	}
}

// validComponent enforces path hygiene: reject ".", "..", the
// reserved ".jnk" directory, and any component containing the
// reserved manifest suffix.
func validComponent(name string) bool {
	if name == "" || name == "." || name == ".." || name == reservedDir {
		return false
	}
	if strings.Contains(name, "/") {
		return false
	}
	if strings.Contains(name, MetaSuffix) {
		return false
	}

	return true
}

// displayName strips the manifest suffix from a backing-store entry
// name for presentation in a directory listing.
func displayName(backingName string) (string, bool) {
	if !strings.HasSuffix(backingName, MetaSuffix) {
		return "", false
	}

	return strings.TrimSuffix(backingName, MetaSuffix), true
}

func metaPathFor(dirPath, logicalName string) string {
	return dirPath + string(os.PathSeparator) + logicalName + MetaSuffix
}

func toFuseErr(err error) error {
	if err == nil {
		return nil
	}

	switch jnkerr.KindOf(err) {
	case jnkerr.KindInvalidArgument:
		return fuse.Errno(syscall.EINVAL)
	case jnkerr.KindNotFound:
		return fuse.ToErrno(syscall.ENOENT)
	case jnkerr.KindIsDirectory:
		return fuse.Errno(syscall.EISDIR)
	case jnkerr.KindNotDirectory:
		return fuse.Errno(syscall.ENOTDIR)
	case jnkerr.KindCorruptManifest, jnkerr.KindIntegrityFault, jnkerr.KindIOError:
		return fuse.Errno(syscall.EIO)
	case jnkerr.KindOutOfSpace:
		return fuse.Errno(syscall.ENOSPC)
	default:
		if os.IsNotExist(err) {
			return fuse.ToErrno(syscall.ENOENT)
		}
		if os.IsPermission(err) {
			return fuse.ToErrno(syscall.EACCES)
		}

		return fuse.ToErrno(syscall.EIO)
	}
}
