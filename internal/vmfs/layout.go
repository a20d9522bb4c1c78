package vmfs

import "github.com/deploymenttheory/go-vmfs/internal/vmfsfd"

// deriveLayout computes every generation-dependent file-descriptor layout
// constant from the superblock, mirroring VMFS.__init__'s branch on
// is_vmfs5 vs is_vmfs6. VMFS5 uses fixed constants; VMFS6 scales everything
// off the volume's metadata alignment.
func deriveLayout(sb Superblock) vmfsfd.Layout {
	l := vmfsfd.Layout{
		IsVMFS5:             sb.isVMFS5(),
		BlockSize:           sb.FileBlockSize,
		BlockOffsetShift:    bsf(sb.FileBlockSize),
		SubBlockSize:        sb.SubBlockSize,
		SubBlockOffsetShift: bsf(sb.SubBlockSize),
	}

	if l.IsVMFS5 {
		l.FDSize = 2048
		l.FDMetaOffset = 512
		l.FDDataSize = 1024
		l.FDDataOffset = 1024
		l.FDMaxDataAddrs = 256
		l.FDDataAddrsOffset = l.FDSize - l.FDMaxDataAddrs*4
		l.PtrBlockNumPtrs = 1024
		l.PtrBlockNumShift = bsf(l.PtrBlockNumPtrs)
		return l
	}

	md := uint64(sb.MDAlignment)
	l.FDSize = uint32(2 * md)
	l.FDMetaOffset = uint32(md)
	l.FDDataSize = uint32(md - 512)
	l.FDDataOffset = l.FDSize - l.FDDataSize

	var dataAddrsSize uint32
	if md <= 0x1000 {
		l.FDMaxDataAddrs = 320
		dataAddrsSize = 2560
	} else {
		l.FDMaxDataAddrs = uint32(md >> 4)
		dataAddrsSize = uint32(md >> 1)
	}
	l.FDDataAddrsOffset = l.FDSize - dataAddrsSize

	if md < 0x10000 {
		l.PtrBlockNumPtrs = 8192
	} else {
		l.PtrBlockNumPtrs = uint32(md >> 3)
	}
	l.PtrBlockNumShift = bsf(l.PtrBlockNumPtrs)
	return l
}
