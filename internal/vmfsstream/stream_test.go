package vmfsstream

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-vmfs/internal/vmfsaddr"
	"github.com/deploymenttheory/go-vmfs/internal/vmfsfd"
	"github.com/deploymenttheory/go-vmfs/internal/vmfsresource"
	"github.com/deploymenttheory/go-vmfs/internal/vmfstypes"
)

type fakeReaderAt struct{ data []byte }

func (f *fakeReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, f.data[off:])
	return n, nil
}

func buildTwoBlockFile(t *testing.T) (*vmfsfd.FileDescriptor, *vmfsresource.Manager, [][]byte) {
	t.Helper()
	endian := binary.LittleEndian
	layout := vmfsfd.Layout{
		IsVMFS5:           true,
		BlockSize:         32,
		BlockOffsetShift:  5,
		FDSize:            128,
		FDMetaOffset:      16,
		FDDataOffset:      96,
		FDDataSize:        32,
		FDDataAddrsOffset: 96,
		FDMaxDataAddrs:    8,
		PtrBlockNumPtrs:   4,
		PtrBlockNumShift:  2,
	}

	const resourcesPerCluster = 4
	const clustersPerClusterGroup = 2
	const resourceSize = 32
	const firstClusterGroupOffset = 0x80
	clusterGroupSize := uint64(clustersPerClusterGroup)*1024 + uint64(clustersPerClusterGroup)*resourcesPerCluster*resourceSize
	arenaData := make([]byte, firstClusterGroupOffset+clusterGroupSize)
	endian.PutUint32(arenaData[0x00:0x04], resourcesPerCluster)
	endian.PutUint32(arenaData[0x04:0x08], clustersPerClusterGroup)
	endian.PutUint64(arenaData[0x08:0x10], firstClusterGroupOffset)
	endian.PutUint32(arenaData[0x10:0x14], resourceSize)
	endian.PutUint64(arenaData[0x14:0x1C], clusterGroupSize)
	endian.PutUint32(arenaData[0x1C:0x20], 8)

	src := &fakeReaderAt{data: arenaData}
	fbb, err := vmfsresource.Open(arenaData[:0x60], src, endian, false)
	require.NoError(t, err)

	res := vmfsresource.NewManager(true, false)
	res.FBB = fbb

	blocks := make([][]byte, 2)
	for i := range blocks {
		b := make([]byte, resourceSize)
		for j := range b {
			b[j] = byte('A' + i*10 + j%10)
		}
		blocks[i] = b
		off := fbb.ResourceOffset(0, uint64(i))
		copy(arenaData[off:int(off)+resourceSize], b)
	}

	raw := make([]byte, layout.FDSize)
	m := raw[layout.FDMetaOffset:]
	endian.PutUint32(m[0x00:0x04], uint32(vmfstypes.FileTypeRegular))
	endian.PutUint32(m[0x04:0x08], uint32(vmfstypes.ZLAFileBlock))
	endian.PutUint64(m[0x08:0x10], uint64(2*resourceSize))

	addrs := raw[layout.FDDataAddrsOffset:]
	endian.PutUint32(addrs[0:4], uint32(vmfsaddr.MakeFileBlock(0, false, false)))
	endian.PutUint32(addrs[4:8], uint32(vmfsaddr.MakeFileBlock(1, false, false)))

	fd, err := vmfsfd.Parse(raw, vmfstypes.FBBDescAddr+0x8, layout, endian, res)
	require.NoError(t, err)
	return fd, res, blocks
}

func TestBlockStreamReadsAcrossBlockBoundary(t *testing.T) {
	fd, res, blocks := buildTwoBlockFile(t)
	stream := New(fd, res)
	require.EqualValues(t, 64, stream.Size())

	full := make([]byte, 64)
	n, err := stream.ReadAt(full, 0)
	require.NoError(t, err)
	require.Equal(t, 64, n)
	require.Equal(t, append(append([]byte{}, blocks[0]...), blocks[1]...), full)

	// A read that spans the boundary asymmetrically.
	mid := make([]byte, 10)
	n, err = stream.ReadAt(mid, 27)
	require.NoError(t, err)
	require.Equal(t, 10, n)
	want := append(append([]byte{}, blocks[0][27:32]...), blocks[1][0:5]...)
	require.Equal(t, want, mid)
}

func TestBlockStreamSeekAndRead(t *testing.T) {
	fd, res, blocks := buildTwoBlockFile(t)
	stream := New(fd, res)

	pos, err := stream.Seek(32, io.SeekStart)
	require.NoError(t, err)
	require.EqualValues(t, 32, pos)

	buf := make([]byte, 32)
	n, err := stream.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 32, n)
	require.Equal(t, blocks[1], buf)
}

func TestBlockStreamEOFPastEnd(t *testing.T) {
	fd, res, _ := buildTwoBlockFile(t)
	stream := New(fd, res)
	buf := make([]byte, 4)
	_, err := stream.ReadAt(buf, 64)
	require.ErrorIs(t, err, io.EOF)
}
