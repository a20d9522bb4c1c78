package vmfsfd

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-vmfs/internal/vmfsaddr"
	"github.com/deploymenttheory/go-vmfs/internal/vmfsresource"
	"github.com/deploymenttheory/go-vmfs/internal/vmfstypes"
)

func testLayout() Layout {
	return Layout{
		IsVMFS5:             true,
		BlockSize:           64,
		BlockOffsetShift:    6,
		SubBlockSize:        16,
		SubBlockOffsetShift: 4,
		FDSize:              128,
		FDMetaOffset:        16,
		FDDataOffset:        96,
		FDDataSize:          32,
		FDDataAddrsOffset:   96,
		FDMaxDataAddrs:      8,
		PtrBlockNumPtrs:     4,
		PtrBlockNumShift:    2,
	}
}

func TestResidentFileDescriptor(t *testing.T) {
	layout := testLayout()
	endian := binary.LittleEndian
	raw := make([]byte, layout.FDSize)

	m := raw[layout.FDMetaOffset:]
	endian.PutUint32(m[0x00:0x04], uint32(vmfstypes.FileTypeRegular))
	endian.PutUint32(m[0x04:0x08], uint32(vmfstypes.ZLAResident))
	endian.PutUint64(m[0x08:0x10], 20) // size

	payload := []byte("resident file data!!")
	require.Len(t, payload, 20)
	copy(raw[layout.FDDataOffset:], payload)

	fd, err := Parse(raw, vmfstypes.RootDirDescAddr, layout, endian, nil)
	require.NoError(t, err)
	require.True(t, fd.IsRegular())
	require.EqualValues(t, 20, fd.Size)

	loc, err := fd.ResolveOffset(0)
	require.NoError(t, err)
	require.True(t, loc.Resident)
	require.Equal(t, payload, loc.ResidentData[:len(payload)])
}

func TestDirectFileBlockFileDescriptor(t *testing.T) {
	layout := testLayout()
	endian := binary.LittleEndian

	// Build an FBB arena: 8 resources/cluster, 2 clusters/cluster-group,
	// 64-byte resources (matching the file block size). Each cluster group
	// opens with the VMFS5 1024-byte-per-cluster header region.
	const resourcesPerCluster = 8
	const clustersPerClusterGroup = 2
	const resourceSize = 64
	const firstClusterGroupOffset = 0x100
	clusterGroupSize := uint64(clustersPerClusterGroup)*1024 + uint64(clustersPerClusterGroup)*resourcesPerCluster*resourceSize
	arenaData := make([]byte, firstClusterGroupOffset+clusterGroupSize)
	endian.PutUint32(arenaData[0x00:0x04], resourcesPerCluster)
	endian.PutUint32(arenaData[0x04:0x08], clustersPerClusterGroup)
	endian.PutUint64(arenaData[0x08:0x10], firstClusterGroupOffset)
	endian.PutUint32(arenaData[0x10:0x14], resourceSize)
	endian.PutUint64(arenaData[0x14:0x1C], clusterGroupSize)
	endian.PutUint32(arenaData[0x1C:0x20], 16)

	src := &fakeReaderAt{data: arenaData}
	fbb, err := vmfsresource.Open(arenaData[:0x60], src, endian, false)
	require.NoError(t, err)

	res := vmfsresource.NewManager(true, false)
	res.FBB = fbb

	blockPayload := make([]byte, resourceSize)
	copy(blockPayload, "this block holds exactly sixty-four bytes of dat")
	// block number 2 -> cluster 0, resource 2 (2 / 8, 2 % 8).
	off := fbb.ResourceOffset(0, 2)
	copy(arenaData[off:int(off)+resourceSize], blockPayload)

	raw := make([]byte, layout.FDSize)
	m := raw[layout.FDMetaOffset:]
	endian.PutUint32(m[0x00:0x04], uint32(vmfstypes.FileTypeRegular))
	endian.PutUint32(m[0x04:0x08], uint32(vmfstypes.ZLAFileBlock))
	endian.PutUint64(m[0x08:0x10], uint64(resourceSize))

	addrs := raw[layout.FDDataAddrsOffset:]
	endian.PutUint32(addrs[0:4], uint32(vmfsaddr.MakeFileBlock(2, false, false)))

	fd, err := Parse(raw, vmfstypes.FBBDescAddr+0x8, layout, endian, res)
	require.NoError(t, err)

	loc, err := fd.ResolveOffset(0)
	require.NoError(t, err)
	require.False(t, loc.Resident)
	require.False(t, loc.TBZ)
	require.EqualValues(t, 0, loc.OffsetInBlock)

	block, err := res.Get(loc.Address)
	require.NoError(t, err)
	require.Equal(t, blockPayload, block)
}

type fakeReaderAt struct{ data []byte }

func (f *fakeReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, f.data[off:])
	return n, nil
}
