// Package vmfsresource implements VMFS resource files: the typed arenas
// (cluster groups of clusters of fixed-size resources) that back every
// file block, sub-block, pointer block, file descriptor, and journal
// block allocation in a VMFS volume.
package vmfsresource

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/deploymenttheory/go-vmfs/internal/vmfserrors"
	"github.com/deploymenttheory/go-vmfs/internal/vmfstypes"
)

// Metadata is the decoded Res3_Metadata header found at the start of every
// resource file's system file descriptor data.
type Metadata struct {
	ResourcesPerCluster         uint32
	ClustersPerClusterGroup     uint32
	FirstClusterGroupOffset     uint64
	ResourceSize                uint32
	ClusterGroupSize            uint64
	NumResourcesLo              uint32
	NumClusterGroups            uint32
	NumResourcesHi              uint32
	Signature                   uint32
	Version                     uint32
	Flags                       uint32
	ChildMetaOffset             uint64
	ParentResourcesPerCluster   uint32
	ParentClustersPerClusterGroup uint32
	ParentClusterGroupSize      uint64
}

// NumResources returns the combined 64-bit resource count.
func (m Metadata) NumResources() uint64 {
	return uint64(m.NumResourcesHi)<<32 | uint64(m.NumResourcesLo)
}

// IsChildArena reports whether this resource file shares its cluster
// arena with a parent resource file (VMFS6's large/small file block
// sharing, flag bit 0x2).
func (m Metadata) IsChildArena() bool {
	return m.Flags&0x2 != 0
}

func parseMetadata(data []byte, endian binary.ByteOrder) (Metadata, error) {
	if len(data) < 0x60 {
		return Metadata{}, fmt.Errorf("vmfsresource: metadata buffer too short: %d", len(data))
	}
	return Metadata{
		ResourcesPerCluster:           endian.Uint32(data[0x00:0x04]),
		ClustersPerClusterGroup:       endian.Uint32(data[0x04:0x08]),
		FirstClusterGroupOffset:       endian.Uint64(data[0x08:0x10]),
		ResourceSize:                  endian.Uint32(data[0x10:0x14]),
		ClusterGroupSize:              endian.Uint64(data[0x14:0x1C]),
		NumResourcesLo:                endian.Uint32(data[0x1C:0x20]),
		NumClusterGroups:              endian.Uint32(data[0x20:0x24]),
		NumResourcesHi:                endian.Uint32(data[0x24:0x28]),
		Signature:                     endian.Uint32(data[0x28:0x2C]),
		Version:                       endian.Uint32(data[0x2C:0x30]),
		Flags:                         endian.Uint32(data[0x30:0x34]),
		ChildMetaOffset:               endian.Uint64(data[0x34:0x3C]),
		ParentResourcesPerCluster:     endian.Uint32(data[0x3C:0x40]),
		ParentClustersPerClusterGroup: endian.Uint32(data[0x40:0x44]),
		ParentClusterGroupSize:        endian.Uint64(data[0x44:0x4C]),
	}, nil
}

// Source is whatever the resource file reads fixed-size slices from: the
// system file's own data stream (file-offset addressed). Bootstrap in
// internal/vmfs supplies a vmfsstream.BlockStream over the system file's
// FileDescriptor.
type Source interface {
	io.ReaderAt
}

// File is the generic resource file: it knows how to turn a (cluster,
// resource) pair, or an absolute resource index, into a byte offset within
// its own data stream, and how to read the raw bytes of one resource.
// Kind-specific files (FileBlock, SmallFileBlock, LargeFileBlock) embed
// File and add a Locate method that maps their address layout to a
// (cluster, resource) pair.
type File struct {
	Meta   Metadata
	Source Source
	endian binary.ByteOrder
	isVMFS6 bool

	clusterResourceOffset uint64
	clusterSize           uint64
}

// Open parses a resource file's metadata out of data (the first bytes of
// the owning system file's data stream) and binds it to src for resource
// reads.
func Open(data []byte, src Source, endian binary.ByteOrder, isVMFS6 bool) (*File, error) {
	meta, err := parseMetadata(data, endian)
	if err != nil {
		return nil, err
	}
	if isVMFS6 && meta.Signature != vmfstypes.ResourceMetaSignature && meta.Signature != vmfstypes.VMFS6ClusterMetaSignature {
		return nil, fmt.Errorf("%w: resource metadata signature 0x%x", vmfserrors.ErrInvalidHeader, meta.Signature)
	}

	f := &File{Meta: meta, Source: src, endian: endian, isVMFS6: isVMFS6}
	f.clusterSize = uint64(meta.ResourcesPerCluster) * uint64(meta.ResourceSize)
	if isVMFS6 {
		// Finalized once the caller knows the filesystem's mdAlignment;
		// see WithMDAlignment. Left at zero until then.
		f.clusterResourceOffset = 0
	} else {
		f.clusterResourceOffset = uint64(meta.ClustersPerClusterGroup) * 1024
	}
	return f, nil
}

// WithMDAlignment finalizes the VMFS6 cluster-resource-offset formula,
// which needs the filesystem's metadata alignment (clustersPerClusterGroup
// * (2*mdAlignment)). VMFS5 files ignore this call.
func (f *File) WithMDAlignment(mdAlignment uint64) {
	if f.isVMFS6 {
		f.clusterResourceOffset = uint64(f.Meta.ClustersPerClusterGroup) * (2 * mdAlignment)
	}
}

// clusterGroupOffset returns the byte offset of a cluster group's resource
// arena.
func (f *File) clusterGroupOffset(group uint64) uint64 {
	return f.Meta.FirstClusterGroupOffset + group*f.Meta.ClusterGroupSize
}

// ResourceOffset returns the byte offset, within this resource file's data
// stream, of resource number `resource` inside cluster `cluster`. A cluster
// group's own data begins with a fixed-size per-cluster header region
// (clusterResourceOffset, a constant for the whole group — not a per-cluster
// multiplier), followed by each cluster's resources packed at clusterSize
// stride.
func (f *File) ResourceOffset(cluster, resource uint64) uint64 {
	group, idx := cluster/uint64(f.Meta.ClustersPerClusterGroup), cluster%uint64(f.Meta.ClustersPerClusterGroup)
	return f.clusterGroupOffset(group) + f.clusterResourceOffset + idx*f.clusterSize + resource*uint64(f.Meta.ResourceSize)
}

// IterateResourceLocations yields (cluster, resource) pairs for every
// absolute resource index from 0 to NumResources-1, the way Res3_Metadata
// enumerates an arena for debugging/inspection.
func (f *File) IterateResourceLocations() []struct{ Cluster, Resource uint64 } {
	n := f.Meta.NumResources()
	out := make([]struct{ Cluster, Resource uint64 }, 0, n)
	perCluster := uint64(f.Meta.ResourcesPerCluster)
	if perCluster == 0 {
		return out
	}
	for abs := uint64(0); abs < n; abs++ {
		out = append(out, struct{ Cluster, Resource uint64 }{abs / perCluster, abs % perCluster})
	}
	return out
}

// Get reads one resource's raw bytes given its (cluster, resource) pair.
func (f *File) Get(cluster, resource uint64) ([]byte, error) {
	off := f.ResourceOffset(cluster, resource)
	buf := make([]byte, f.Meta.ResourceSize)
	if _, err := f.Source.ReadAt(buf, int64(off)); err != nil {
		return nil, fmt.Errorf("vmfsresource: reading resource at file offset 0x%x: %w", off, err)
	}
	return buf, nil
}

// ResourceSize returns the fixed per-resource byte size (e.g. 2048 for an
// FDC resource file, matching the filesystem's _fd_size).
func (f *File) ResourceSize() uint32 { return f.Meta.ResourceSize }
