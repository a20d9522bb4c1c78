package vmfs

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-vmfs/internal/vmfsaddr"
	"github.com/deploymenttheory/go-vmfs/internal/vmfsfd"
	"github.com/deploymenttheory/go-vmfs/internal/vmfstypes"
)

func TestParseSuperblockAndValidate(t *testing.T) {
	endian := binary.LittleEndian
	buf := make([]byte, 0x9A)
	endian.PutUint32(buf[0x00:0x04], vmfstypes.VMFSMagicNumber)
	endian.PutUint32(buf[0x04:0x08], 0x0D) // VMFS5 major version
	endian.PutUint32(buf[0x08:0x0C], 0x01)
	endian.PutUint32(buf[0x0C:0x10], 0x1000)
	copy(buf[0x10:0x20], []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})
	copy(buf[0x20:0x60], []byte("datastore1"))
	endian.PutUint32(buf[0x60:0x64], 1024*1024)
	endian.PutUint32(buf[0x64:0x68], 8192)
	endian.PutUint32(buf[0x68:0x6C], denseSBPCFlag)
	endian.PutUint64(buf[0x6C:0x74], 0x1234)

	sb, err := parseSuperblock(buf, endian)
	require.NoError(t, err)
	require.NoError(t, sb.validate())
	require.True(t, sb.isVMFS5())
	require.False(t, sb.isLocal())
	require.True(t, sb.denseSBPC())
	require.Equal(t, "datastore1", sb.Label)
	require.EqualValues(t, 1024*1024, sb.FileBlockSize)
	require.EqualValues(t, 0x1234, sb.PB2VolAddr)
}

func TestParseSuperblockRejectsBadMagic(t *testing.T) {
	endian := binary.LittleEndian
	buf := make([]byte, 0x9A)
	endian.PutUint32(buf[0x00:0x04], 0xBADC0DE)
	sb, err := parseSuperblock(buf, endian)
	require.NoError(t, err)
	require.Error(t, sb.validate())
}

func TestDeriveLayoutVMFS5(t *testing.T) {
	sb := Superblock{MajorVersion: 0x0D, FileBlockSize: 1024 * 1024, SubBlockSize: 8192}
	l := deriveLayout(sb)
	require.True(t, l.IsVMFS5)
	require.EqualValues(t, 2048, l.FDSize)
	require.EqualValues(t, 512, l.FDMetaOffset)
	require.EqualValues(t, 1024, l.FDDataSize)
	require.EqualValues(t, 1024, l.FDDataOffset)
	require.EqualValues(t, 256, l.FDMaxDataAddrs)
	require.EqualValues(t, 1024, l.FDDataAddrsOffset)
	require.EqualValues(t, 1024, l.PtrBlockNumPtrs)
	require.EqualValues(t, 10, l.PtrBlockNumShift)
}

func TestDeriveLayoutVMFS6SmallAlignment(t *testing.T) {
	sb := Superblock{MajorVersion: 0x18, MDAlignment: 0x1000, FileBlockSize: 1024 * 1024, SubBlockSize: 65536}
	l := deriveLayout(sb)
	require.False(t, l.IsVMFS5)
	require.EqualValues(t, 0x2000, l.FDSize)
	require.EqualValues(t, 0x1000, l.FDMetaOffset)
	require.EqualValues(t, 0x1000-512, l.FDDataSize)
	require.EqualValues(t, 0x2000-(0x1000-512), l.FDDataOffset)
	require.EqualValues(t, 320, l.FDMaxDataAddrs)
	require.EqualValues(t, 0x2000-2560, l.FDDataAddrsOffset)
	require.EqualValues(t, 8192, l.PtrBlockNumPtrs)
	require.EqualValues(t, 13, l.PtrBlockNumShift)
}

func TestDeriveLayoutVMFS6LargeAlignment(t *testing.T) {
	const md = 0x10000
	sb := Superblock{MajorVersion: 0x18, MDAlignment: md, FileBlockSize: 1024 * 1024, SubBlockSize: 65536}
	l := deriveLayout(sb)
	require.EqualValues(t, 2*md, l.FDSize)
	require.EqualValues(t, md, l.FDMetaOffset)
	require.EqualValues(t, md-512, l.FDDataSize)
	require.EqualValues(t, md>>4, l.FDMaxDataAddrs)
	require.EqualValues(t, uint32(2*md)-uint32(md>>1), l.FDDataAddrsOffset)
	require.EqualValues(t, md>>3, l.PtrBlockNumPtrs)
}

func TestSfdOffsetVMFS5(t *testing.T) {
	sb := Superblock{
		MajorVersion:          0x0D,
		FileBlockSize:         0x100000,
		FDCClusterGroupOffset: 0x2000000,
		FDCClustersPerGroup:   256,
		PB2FDAddr:             0xDEAD, // deliberately distinct from the tested address
		SDDFDAddr:             0xBEEF,
	}
	addr := vmfsaddr.MakeFileDescriptor(300, 5)
	off := sfdOffset(addr, sb)

	fbs := uint64(sb.FileBlockSize)
	cgOffset := fbs*((fbs+0x3FFFFF)/fbs) + uint64(sb.FDCClusterGroupOffset)
	want := cgOffset + uint64(sb.FDCClustersPerGroup)*1024 + 5<<11
	require.Equal(t, want, off)
	require.EqualValues(t, 0x2442800, off)
}

func TestSfdOffsetVMFS5PB2EscapesToVolAddr(t *testing.T) {
	sb := Superblock{
		MajorVersion: 0x0D,
		PB2FDAddr:    vmfstypes.PB2DescAddr,
		PB2VolAddr:   0x99999,
	}
	off := sfdOffset(vmfstypes.PB2DescAddr, sb)
	require.EqualValues(t, sb.PB2VolAddr, off)
}

func TestSfdOffsetVMFS5DenseSBPCSkipsVolAddrEscape(t *testing.T) {
	sb := Superblock{
		MajorVersion:          0x0D,
		Config:                denseSBPCFlag,
		FileBlockSize:         0x100000,
		FDCClusterGroupOffset: 0x2000000,
		FDCClustersPerGroup:   256,
		PB2FDAddr:             vmfstypes.PB2DescAddr,
		PB2VolAddr:            0x99999,
	}
	off := sfdOffset(vmfstypes.PB2DescAddr, sb)
	require.NotEqual(t, sb.PB2VolAddr, off)
}

func TestSfdOffsetVMFS6(t *testing.T) {
	sb := Superblock{
		MajorVersion:          0x18,
		MDAlignment:           0x1000,
		FDCClusterGroupOffset: 0x2000000,
		FDCClustersPerGroup:   128,
	}
	addr := vmfsaddr.MakeFileDescriptor(9, 3)
	off := sfdOffset(addr, sb)

	md := uint64(sb.MDAlignment)
	resourceSize := 2 * md
	cgOffset := ((md<<10 + 0x3FFFFF) &^ uint64(0xFFFFF)) + uint64(sb.FDCClusterGroupOffset)
	want := cgOffset + uint64(sb.FDCClustersPerGroup)*resourceSize + 3*resourceSize
	require.Equal(t, want, off)
	require.EqualValues(t, 0x2806000, off)
}

// sparseVolume answers ReadAt only at exact offsets it was seeded with,
// the way the real volume is only ever touched at the handful of fixed
// bootstrap offsets this test cares about.
type sparseVolume struct {
	chunks map[int64][]byte
}

func (v *sparseVolume) ReadAt(p []byte, off int64) (int, error) {
	data, ok := v.chunks[off]
	if !ok {
		return 0, fmt.Errorf("sparseVolume: no data seeded at offset 0x%x", off)
	}
	return copy(p, data), nil
}

// buildArenaHeader encodes a Res3_Metadata-style header (the first 0x60
// bytes vmfsresource.Open reads from a system file's content stream).
func buildArenaHeader(endian binary.ByteOrder, resourcesPerCluster, clustersPerClusterGroup uint32, firstClusterGroupOffset uint64, resourceSize uint32, clusterGroupSize uint64) []byte {
	h := make([]byte, 0x60)
	endian.PutUint32(h[0x00:0x04], resourcesPerCluster)
	endian.PutUint32(h[0x04:0x08], clustersPerClusterGroup)
	endian.PutUint64(h[0x08:0x10], firstClusterGroupOffset)
	endian.PutUint32(h[0x10:0x14], resourceSize)
	endian.PutUint64(h[0x14:0x1C], clusterGroupSize)
	endian.PutUint32(h[0x1C:0x20], 1)
	endian.PutUint32(h[0x20:0x24], 1)
	return h
}

// buildResidentSystemFD builds one fixed system file's raw descriptor
// record: a Resident-ZLA file whose resident data holds an arena header
// plus whatever content follows it.
func buildResidentSystemFD(layout vmfsfd.Layout, endian binary.ByteOrder, content []byte) []byte {
	raw := make([]byte, layout.FDSize)
	endian.PutUint32(raw[0x00:0x04], uint32(vmfstypes.FileTypeSystem))
	endian.PutUint32(raw[0x04:0x08], uint32(vmfstypes.ZLAResident))
	endian.PutUint64(raw[0x08:0x10], uint64(len(content)))
	copy(raw[layout.FDDataOffset:], content)
	return raw
}

func TestBootstrapResourcesVMFS5(t *testing.T) {
	endian := binary.LittleEndian
	layout := vmfsfd.Layout{
		IsVMFS5:           true,
		BlockSize:         64,
		BlockOffsetShift:  6,
		FDSize:            256,
		FDMetaOffset:      0,
		FDDataOffset:      96,
		FDDataSize:        160,
		FDDataAddrsOffset: 96,
		FDMaxDataAddrs:    8,
		PtrBlockNumPtrs:   4,
		PtrBlockNumShift:  2,
	}
	sb := Superblock{
		MajorVersion:          0x0D,
		FileBlockSize:         0x100000,
		FDCClusterGroupOffset: 0x2000000,
		FDCClustersPerGroup:   1,
		PB2FDAddr:             0xDEAD,
		SDDFDAddr:             0xBEEF,
	}

	arenaFor := func(resourcesPerCluster uint32) []byte {
		header := buildArenaHeader(endian, resourcesPerCluster, 1, 96, 16, 16)
		return header
	}

	vol := &sparseVolume{chunks: map[int64][]byte{}}
	seed := func(address uint64, resourcesPerCluster uint32) {
		off := int64(sfdOffset(address, sb))
		vol.chunks[off] = buildResidentSystemFD(layout, endian, arenaFor(resourcesPerCluster))
	}
	seed(vmfstypes.PB2DescAddr, 11)
	seed(vmfstypes.PBCDescAddr, 12)
	seed(vmfstypes.FBBDescAddr, 13)
	seed(vmfstypes.FDCDescAddr, 14)
	seed(vmfstypes.SBCDescAddr, 15)

	res, err := bootstrapResources(vol, sb, layout, endian)
	require.NoError(t, err)
	require.NotNil(t, res.PB2)
	require.NotNil(t, res.PBC)
	require.NotNil(t, res.FBB)
	require.NotNil(t, res.FDC)
	require.NotNil(t, res.SBC)
	require.Nil(t, res.LFB)
	require.Nil(t, res.JBC)

	require.EqualValues(t, 11, res.PB2.Meta.ResourcesPerCluster)
	require.EqualValues(t, 12, res.PBC.Meta.ResourcesPerCluster)
	require.EqualValues(t, 13, res.FBB.Meta.ResourcesPerCluster)
	require.EqualValues(t, 14, res.FDC.Meta.ResourcesPerCluster)
	require.EqualValues(t, 15, res.SBC.Meta.ResourcesPerCluster)
}

func TestResolveEmptyPathReturnsRoot(t *testing.T) {
	layout := vmfsfd.Layout{
		IsVMFS5:           true,
		BlockSize:         64,
		FDSize:            128,
		FDMetaOffset:      16,
		FDDataOffset:      96,
		FDDataSize:        32,
		FDDataAddrsOffset: 96,
		FDMaxDataAddrs:    8,
		PtrBlockNumPtrs:   4,
		PtrBlockNumShift:  2,
	}
	endian := binary.LittleEndian
	raw := make([]byte, layout.FDSize)
	m := raw[layout.FDMetaOffset:]
	endian.PutUint32(m[0x00:0x04], uint32(vmfstypes.FileTypeDirectory))
	endian.PutUint32(m[0x04:0x08], uint32(vmfstypes.ZLAResident))
	endian.PutUint64(m[0x08:0x10], 0)

	root, err := vmfsfd.Parse(raw, vmfstypes.RootDirDescAddr, layout, endian, nil)
	require.NoError(t, err)

	fs := &FS{root: root, fdCache: map[uint64]*vmfsfd.FileDescriptor{}}

	got, err := fs.Resolve("")
	require.NoError(t, err)
	require.Same(t, root, got)

	got, err = fs.Resolve("///")
	require.NoError(t, err)
	require.Same(t, root, got)

	_, err = fs.Open("")
	require.Error(t, err)
}
