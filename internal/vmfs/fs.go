package vmfs

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/deploymenttheory/go-vmfs/internal/directory"
	"github.com/deploymenttheory/go-vmfs/internal/vmfserrors"
	"github.com/deploymenttheory/go-vmfs/internal/vmfsfd"
	"github.com/deploymenttheory/go-vmfs/internal/vmfsresource"
	"github.com/deploymenttheory/go-vmfs/internal/vmfsstream"
	"github.com/deploymenttheory/go-vmfs/internal/vmfstypes"
)

// FS is an opened VMFS filesystem: a parsed superblock, the resource
// arenas it bootstrapped, and the file descriptor cache everything else
// resolves through.
type FS struct {
	volume io.ReaderAt
	endian binary.ByteOrder
	sb     Superblock
	layout vmfsfd.Layout
	res    *vmfsresource.Manager
	root   *vmfsfd.FileDescriptor

	// fdCache memoizes parsed file descriptors by address. Unlike the
	// original's bounded LRU, this cache is unbounded for the lifetime of
	// one FS: callers open a filesystem for the duration of a single
	// extraction/inspection run, not as a long-lived mounted service, so
	// eviction pressure was judged not worth the complexity here.
	fdCache map[uint64]*vmfsfd.FileDescriptor
}

// Open parses a VMFS volume's superblock, bootstraps every resource arena,
// and resolves the root directory, in the fixed order real VMFS requires:
// FDC, PB2, PBC, FBB (LFB/SFB split on VMFS6), SBC, and (VMFS6 only) JBC.
func Open(volume io.ReaderAt, endian binary.ByteOrder) (*FS, error) {
	sbBuf := make([]byte, superblockSize)
	if _, err := volume.ReadAt(sbBuf, superblockOffset); err != nil {
		return nil, fmt.Errorf("vmfs: reading superblock: %w", err)
	}
	sb, err := parseSuperblock(sbBuf, endian)
	if err != nil {
		return nil, err
	}
	if err := sb.validate(); err != nil {
		return nil, err
	}

	layout := deriveLayout(sb)
	res, err := bootstrapResources(volume, sb, layout, endian)
	if err != nil {
		return nil, fmt.Errorf("vmfs: bootstrapping resource arenas: %w", err)
	}

	fs := &FS{
		volume:  volume,
		endian:  endian,
		sb:      sb,
		layout:  layout,
		res:     res,
		fdCache: make(map[uint64]*vmfsfd.FileDescriptor),
	}

	root, err := fs.fileDescriptor(vmfstypes.RootDirDescAddr)
	if err != nil {
		return nil, fmt.Errorf("vmfs: opening root directory: %w", err)
	}
	fs.root = root
	return fs, nil
}

// Superblock returns the parsed filesystem header.
func (fs *FS) Superblock() Superblock { return fs.sb }

// fileDescriptor returns the (cached) parsed file descriptor for address,
// reading it through the resource manager's FDC arena.
func (fs *FS) fileDescriptor(address uint64) (*vmfsfd.FileDescriptor, error) {
	if fd, ok := fs.fdCache[address]; ok {
		return fd, nil
	}
	raw, err := fs.res.Get(address)
	if err != nil {
		return nil, fmt.Errorf("vmfs: reading descriptor 0x%x: %w", address, err)
	}
	fd, err := vmfsfd.Parse(raw, address, fs.layout, fs.endian, fs.res)
	if err != nil {
		return nil, err
	}
	fs.fdCache[address] = fd
	return fd, nil
}

// directoryEntries decodes a directory file descriptor's content, branching
// on generation the way Directory5/Directory6 do.
func (fs *FS) directoryEntries(fd *vmfsfd.FileDescriptor) ([]directory.Entry, error) {
	stream := vmfsstream.New(fd, fs.res)
	if fs.sb.isVMFS5() {
		return directory.DecodeVMFS5(stream, stream.Size(), fs.endian)
	}
	dec, err := directory.OpenVMFS6(stream, int64(fs.sb.MDAlignment), fs.endian, fd.Address == vmfstypes.RootDirDescAddr)
	if err != nil {
		return nil, err
	}
	return dec.Iterdir(fd.Address)
}

// lookup resolves a single name within a directory file descriptor.
func (fs *FS) lookup(dirFD *vmfsfd.FileDescriptor, name string) (directory.Entry, bool, error) {
	stream := vmfsstream.New(dirFD, fs.res)
	if fs.sb.isVMFS5() {
		return directory.GetVMFS5(stream, stream.Size(), fs.endian, name)
	}
	dec, err := directory.OpenVMFS6(stream, int64(fs.sb.MDAlignment), fs.endian, dirFD.Address == vmfstypes.RootDirDescAddr)
	if err != nil {
		return directory.Entry{}, false, err
	}
	return dec.Get(name)
}

// Resolve walks path (forward-slash separated, relative to the filesystem
// root) down to the file descriptor it names.
func (fs *FS) Resolve(path string) (*vmfsfd.FileDescriptor, error) {
	fd := fs.root
	path = strings.Trim(path, "/")
	if path == "" {
		return fd, nil
	}
	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "." {
			continue
		}
		if !fd.IsDirectory() {
			return nil, vmfserrors.ErrNotADirectory
		}
		entry, ok, err := fs.lookup(fd, part)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", vmfserrors.ErrFileNotFound, part)
		}
		fd, err = fs.fileDescriptor(entry.Address)
		if err != nil {
			return nil, err
		}
	}
	return fd, nil
}

// Open returns a read seeker over a regular file's content.
func (fs *FS) Open(path string) (io.ReadSeeker, error) {
	fd, err := fs.Resolve(path)
	if err != nil {
		return nil, err
	}
	if fd.IsDirectory() {
		return nil, vmfserrors.ErrIsADirectory
	}
	return vmfsstream.New(fd, fs.res), nil
}

// ReadDir lists a directory's entries.
func (fs *FS) ReadDir(path string) ([]directory.Entry, error) {
	fd, err := fs.Resolve(path)
	if err != nil {
		return nil, err
	}
	if !fd.IsDirectory() {
		return nil, vmfserrors.ErrNotADirectory
	}
	return fs.directoryEntries(fd)
}

// Readlink returns a symlink's target path, which VMFS stores as the
// symlink file descriptor's resident/direct data.
func (fs *FS) Readlink(path string) (string, error) {
	fd, err := fs.Resolve(path)
	if err != nil {
		return "", err
	}
	if !fd.IsSymlink() {
		return "", vmfserrors.ErrNotASymlink
	}
	stream := vmfsstream.New(fd, fs.res)
	buf := make([]byte, fd.Size)
	if _, err := stream.ReadAt(buf, 0); err != nil && err != io.EOF {
		return "", fmt.Errorf("vmfs: reading symlink target: %w", err)
	}
	return cString(buf), nil
}
