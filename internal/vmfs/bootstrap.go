package vmfs

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/deploymenttheory/go-vmfs/internal/vmfsaddr"
	"github.com/deploymenttheory/go-vmfs/internal/vmfsfd"
	"github.com/deploymenttheory/go-vmfs/internal/vmfsresource"
	"github.com/deploymenttheory/go-vmfs/internal/vmfsstream"
	"github.com/deploymenttheory/go-vmfs/internal/vmfstypes"
)

// sfdOffset computes the byte offset, within the volume, of the raw file
// descriptor for one of the fixed system file addresses, without going
// through a resource Manager (which does not exist yet for the FDC at this
// point in bootstrap). This mirrors Res3_GetSFDOffset: every VMFS system
// file descriptor lives inside the FDC's own arena, but the FDC's first
// cluster group sits at an offset derived purely from superblock fields
// (fdcClusterGroupOffset/fdcClustersPerGroup/mdAlignment/fileBlockSize), so
// it can be computed before the FDC arena exists to serve it normally.
func sfdOffset(address uint64, sb Superblock) uint64 {
	fd := vmfsaddr.ParseFileDescriptor(address)
	resource := uint64(fd.Resource)

	if !sb.isVMFS5() {
		resourceSize := 2 * uint64(sb.MDAlignment)
		cgOffset := ((uint64(sb.MDAlignment)<<10 + 0x3FFFFF) &^ uint64(0xFFFFF)) + uint64(sb.FDCClusterGroupOffset)
		return cgOffset + uint64(sb.FDCClustersPerGroup)*resourceSize + resource*resourceSize
	}

	if !sb.denseSBPC() {
		if address == sb.PB2FDAddr {
			return sb.PB2VolAddr
		}
		if address == sb.SDDFDAddr {
			return sb.SDDVolAddr
		}
	}

	const resourceSize = 1024
	fbs := uint64(sb.FileBlockSize)
	cgOffset := fbs*((fbs+0x3FFFFF)/fbs) + uint64(sb.FDCClusterGroupOffset)
	return cgOffset + uint64(sb.FDCClustersPerGroup)*resourceSize + resource<<11
}

// readBootstrapDescriptor reads and parses a fixed system file's descriptor
// directly off the volume via the escape-hatch offset.
func readBootstrapDescriptor(volume io.ReaderAt, address uint64, sb Superblock, layout vmfsfd.Layout, endian binary.ByteOrder, res *vmfsresource.Manager) (*vmfsfd.FileDescriptor, error) {
	off := sfdOffset(address, sb)
	raw := make([]byte, layout.FDSize)
	if _, err := volume.ReadAt(raw, int64(off)); err != nil {
		return nil, fmt.Errorf("vmfs: reading bootstrap descriptor at 0x%x: %w", off, err)
	}
	return vmfsfd.Parse(raw, address, layout, endian, res)
}

// openArenaStream reads a system file's descriptor and wraps it in a block
// stream, without yet parsing any resource metadata out of it.
func openArenaStream(volume io.ReaderAt, address uint64, sb Superblock, layout vmfsfd.Layout, endian binary.ByteOrder, res *vmfsresource.Manager) (*vmfsstream.BlockStream, error) {
	fd, err := readBootstrapDescriptor(volume, address, sb, layout, endian, res)
	if err != nil {
		return nil, err
	}
	return vmfsstream.New(fd, res), nil
}

// openArenaAt parses one resource arena's metadata header at byte offset
// headerOffset within an already-open system file stream.
func openArenaAt(stream *vmfsstream.BlockStream, headerOffset int64, endian binary.ByteOrder, isVMFS6 bool) (*vmfsresource.File, error) {
	header := make([]byte, 0x60)
	if _, err := stream.ReadAt(header, headerOffset); err != nil {
		return nil, fmt.Errorf("vmfs: reading resource metadata at stream offset 0x%x: %w", headerOffset, err)
	}
	return vmfsresource.Open(header, stream, endian, isVMFS6)
}

// openArena reads a system file's descriptor, wraps it in a block stream,
// and opens it as a resource arena by reading its metadata header off the
// front of its own data.
func openArena(volume io.ReaderAt, address uint64, sb Superblock, layout vmfsfd.Layout, endian binary.ByteOrder, res *vmfsresource.Manager, isVMFS6 bool) (*vmfsresource.File, error) {
	stream, err := openArenaStream(volume, address, sb, layout, endian, res)
	if err != nil {
		return nil, err
	}
	return openArenaAt(stream, 0, endian, isVMFS6)
}

// bootstrapResources opens every system resource arena in the fixed order
// the filesystem requires: FDC first, then PB2 and PBC, then the
// file/small-file block arenas, then SBC and (VMFS6 only) the journal
// block arena.
func bootstrapResources(volume io.ReaderAt, sb Superblock, layout vmfsfd.Layout, endian binary.ByteOrder) (*vmfsresource.Manager, error) {
	isVMFS6 := !sb.isVMFS5()
	mdAlignment := uint64(sb.MDAlignment)
	res := vmfsresource.NewManager(!isVMFS6, sb.denseSBPC())

	open := func(address uint64) (*vmfsresource.File, error) {
		return openArena(volume, address, sb, layout, endian, res, isVMFS6)
	}

	var err error
	if res.FDC, err = open(vmfstypes.FDCDescAddr); err != nil {
		return nil, fmt.Errorf("vmfs: opening file-descriptor arena: %w", err)
	}
	res.FDC.WithMDAlignment(mdAlignment)

	if res.PB2, err = open(vmfstypes.PB2DescAddr); err != nil {
		return nil, fmt.Errorf("vmfs: opening pointer-block-2 arena: %w", err)
	}
	if res.PBC, err = open(vmfstypes.PBCDescAddr); err != nil {
		return nil, fmt.Errorf("vmfs: opening pointer-block arena: %w", err)
	}

	if isVMFS6 {
		// .fbb.sf carries two resource arenas back to back: the large-file-block
		// arena's metadata at offset 0 (the "parent"), and the small-file-block
		// arena's metadata at the parent's ChildMetaOffset (the "child"),
		// addressed via Metadata.IsChildArena/ChildMetaOffset.
		fbbStream, err2 := openArenaStream(volume, vmfstypes.FBBDescAddr, sb, layout, endian, res)
		if err2 != nil {
			return nil, fmt.Errorf("vmfs: opening .fbb.sf stream: %w", err2)
		}
		if res.LFB, err = openArenaAt(fbbStream, 0, endian, isVMFS6); err != nil {
			return nil, fmt.Errorf("vmfs: opening large-file-block arena: %w", err)
		}
		res.LFB.WithMDAlignment(mdAlignment)
		if res.FBB, err = openArenaAt(fbbStream, int64(res.LFB.Meta.ChildMetaOffset), endian, isVMFS6); err != nil {
			return nil, fmt.Errorf("vmfs: opening small-file-block (child) arena: %w", err)
		}
		res.FBB.WithMDAlignment(mdAlignment)
	} else {
		if res.FBB, err = open(vmfstypes.FBBDescAddr); err != nil {
			return nil, fmt.Errorf("vmfs: opening file-block arena: %w", err)
		}
		res.FBB.WithMDAlignment(mdAlignment)
	}

	if res.SBC, err = open(vmfstypes.SBCDescAddr); err != nil {
		return nil, fmt.Errorf("vmfs: opening sub-block arena: %w", err)
	}
	res.SBC.WithMDAlignment(mdAlignment)

	if isVMFS6 {
		if res.JBC, err = open(vmfstypes.JBDescAddr); err != nil {
			return nil, fmt.Errorf("vmfs: opening journal-block arena: %w", err)
		}
		res.JBC.WithMDAlignment(mdAlignment)
	}

	return res, nil
}
