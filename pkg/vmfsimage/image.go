// Package vmfsimage opens the raw device/extent files a VMFS volume is laid
// out across, the way the teacher's device package opens a DMG container,
// except here each file is presented to the LVM layer as a plain
// io.ReaderAt rather than unwrapped from a container format: VMFS devices
// are themselves either raw LUN images or VMDK-backed extents, both of
// which go-diskfs can open directly.
package vmfsimage

import (
	"fmt"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
)

// Image is one opened member device of an LVM span.
type Image struct {
	disk *disk.Disk
	path string
}

// Open opens a single device/extent file.
func Open(path string) (*Image, error) {
	d, err := diskfs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vmfsimage: opening %s: %w", path, err)
	}
	return &Image{disk: d, path: path}, nil
}

// OpenExtents opens every member device of a (possibly multi-extent) LVM
// span, closing any already-opened extent if a later one fails.
func OpenExtents(paths ...string) ([]*Image, error) {
	images := make([]*Image, 0, len(paths))
	for _, p := range paths {
		img, err := Open(p)
		if err != nil {
			for _, opened := range images {
				_ = opened.Close()
			}
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

// ReadAt implements io.ReaderAt directly against the underlying device
// file, the way LVM device metadata expects to be read.
func (i *Image) ReadAt(p []byte, off int64) (int, error) {
	return i.disk.File.ReadAt(p, off)
}

// Size returns the device's total byte size.
func (i *Image) Size() int64 { return i.disk.Size }

// Path returns the file path this image was opened from.
func (i *Image) Path() string { return i.path }

// Close releases the underlying file handle.
func (i *Image) Close() error {
	if i.disk == nil || i.disk.File == nil {
		return nil
	}
	return i.disk.File.Close()
}
