// Package vmfsopen is the top-level facade: given the file paths of a
// VMFS volume's member devices, it opens each as an image, assembles the
// LVM span, and bootstraps the VMFS filesystem on top, mirroring the
// teacher's pkg/services layer of thin orchestration wrappers around its
// lower-level parsers.
package vmfsopen

import (
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-vmfs/internal/lvm"
	"github.com/deploymenttheory/go-vmfs/internal/vmfs"
	"github.com/deploymenttheory/go-vmfs/pkg/vmfsimage"
)

// Filesystem bundles an opened VMFS filesystem together with the
// underlying images/volume it was opened from, so callers can Close
// everything through one handle.
type Filesystem struct {
	*vmfs.FS

	images []*vmfsimage.Image
	volume *lvm.Volume
	stream *lvm.VolumeStream
}

// Open opens every device path as an image, assembles them into an LVM
// span, and opens the VMFS filesystem carried by the named logical volume
// (or the span's only volume, when volumeLabel is empty and exactly one
// volume exists).
func Open(volumeLabel string, devicePaths ...string) (*Filesystem, error) {
	images, err := vmfsimage.OpenExtents(devicePaths...)
	if err != nil {
		return nil, err
	}

	devices := make([]*lvm.Device, 0, len(images))
	for _, img := range images {
		dev, err := lvm.OpenDevice(img, binary.LittleEndian)
		if err != nil {
			closeAll(images)
			return nil, fmt.Errorf("vmfsopen: opening lvm device %s: %w", img.Path(), err)
		}
		devices = append(devices, dev)
	}

	span, err := lvm.Open(devices...)
	if err != nil {
		closeAll(images)
		return nil, fmt.Errorf("vmfsopen: assembling lvm span: %w", err)
	}

	volume, err := selectVolume(span, volumeLabel)
	if err != nil {
		closeAll(images)
		return nil, err
	}

	stream, err := volume.Open()
	if err != nil {
		closeAll(images)
		return nil, fmt.Errorf("vmfsopen: opening volume stream: %w", err)
	}

	fs, err := vmfs.Open(stream, binary.LittleEndian)
	if err != nil {
		closeAll(images)
		return nil, fmt.Errorf("vmfsopen: opening filesystem: %w", err)
	}

	return &Filesystem{FS: fs, images: images, volume: volume, stream: stream}, nil
}

func selectVolume(span *lvm.LVM, label string) (*lvm.Volume, error) {
	volumes := span.Volumes()
	if label == "" {
		if len(volumes) != 1 {
			return nil, fmt.Errorf("vmfsopen: volume label required: span carries %d volumes", len(volumes))
		}
		return volumes[0], nil
	}
	for _, v := range volumes {
		if v.Label() == label {
			return v, nil
		}
	}
	return nil, fmt.Errorf("vmfsopen: no volume labeled %q", label)
}

func closeAll(images []*vmfsimage.Image) {
	for _, img := range images {
		_ = img.Close()
	}
}

// Close releases every underlying device image.
func (fs *Filesystem) Close() error {
	var first error
	for _, img := range fs.images {
		if err := img.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
