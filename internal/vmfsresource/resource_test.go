package vmfsresource

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-vmfs/internal/vmfsaddr"
)

// fakeSource is an in-memory io.ReaderAt backing a resource file's data.
type fakeSource struct{ data []byte }

func (f *fakeSource) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, f.data[off:])
	return n, nil
}

// buildVMFS5Resource lays out a resource file with a real cluster-header
// region ahead of each cluster group's resources: firstClusterGroupOffset,
// then (for every group) clustersPerClusterGroup*1024 bytes of cluster
// headers, then clustersPerClusterGroup clusters of
// resourcesPerCluster*resourceSize resource bytes each.
func buildVMFS5Resource(t *testing.T, resourcesPerCluster, clustersPerClusterGroup, resourceSize uint32, numResources uint32) *fakeSource {
	t.Helper()
	clusterHeaderRegion := uint64(clustersPerClusterGroup) * 1024
	clusterSize := uint64(resourcesPerCluster) * uint64(resourceSize)
	clusterGroupSize := clusterHeaderRegion + uint64(clustersPerClusterGroup)*clusterSize
	const firstClusterGroupOffset = 0x1000
	totalSize := firstClusterGroupOffset + 2*clusterGroupSize
	data := make([]byte, totalSize)

	endian := binary.LittleEndian
	endian.PutUint32(data[0x00:0x04], resourcesPerCluster)
	endian.PutUint32(data[0x04:0x08], clustersPerClusterGroup)
	endian.PutUint64(data[0x08:0x10], firstClusterGroupOffset)
	endian.PutUint32(data[0x10:0x14], resourceSize)
	endian.PutUint64(data[0x14:0x1C], clusterGroupSize)
	endian.PutUint32(data[0x1C:0x20], numResources)
	endian.PutUint32(data[0x20:0x24], 1)

	return &fakeSource{data: data}
}

func TestFileVMFS5ResourceOffsetRoundTrip(t *testing.T) {
	resourcesPerCluster := uint32(8)
	clustersPerClusterGroup := uint32(4)
	resourceSize := uint32(64)
	src := buildVMFS5Resource(t, resourcesPerCluster, clustersPerClusterGroup, resourceSize, 32)

	f, err := Open(src.data[:0x60], src, binary.LittleEndian, false)
	require.NoError(t, err)

	payload := []byte("hello resource world, this is exactly 64 bytes of payload data!!")
	require.Len(t, payload, 64)
	off := f.ResourceOffset(0, 3)
	copy(src.data[off:int(off)+len(payload)], payload)

	got, err := f.Get(0, 3)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestFileVMFS5ResourceOffsetSkipsClusterHeaderRegion(t *testing.T) {
	resourcesPerCluster := uint32(8)
	clustersPerClusterGroup := uint32(4)
	resourceSize := uint32(64)
	src := buildVMFS5Resource(t, resourcesPerCluster, clustersPerClusterGroup, resourceSize, 32)

	f, err := Open(src.data[:0x60], src, binary.LittleEndian, false)
	require.NoError(t, err)

	clusterHeaderRegion := uint64(clustersPerClusterGroup) * 1024
	clusterSize := uint64(resourcesPerCluster) * uint64(resourceSize)

	// cluster 0, resource 0 must land after the cluster-header region, not at
	// firstClusterGroupOffset itself.
	require.EqualValues(t, 0x1000+clusterHeaderRegion, f.ResourceOffset(0, 0))

	// cluster 2 (within group 0, since clustersPerClusterGroup=4) must be
	// offset by its own stride past the header region, not by the header
	// region multiplied by the cluster index.
	want := uint64(0x1000) + clusterHeaderRegion + 2*clusterSize + 3*uint64(resourceSize)
	require.EqualValues(t, want, f.ResourceOffset(2, 3))

	// cluster 5 falls in group 1 (clustersPerClusterGroup=4): group offset
	// plus the same header-skip/stride math relative to that group.
	groupSize := clusterHeaderRegion + uint64(clustersPerClusterGroup)*clusterSize
	wantGroup1 := uint64(0x1000) + groupSize + clusterHeaderRegion + 1*clusterSize
	require.EqualValues(t, wantGroup1, f.ResourceOffset(5, 0))
}

func TestFileBlockResource5Locate(t *testing.T) {
	resourcesPerCluster := uint32(10)
	src := buildVMFS5Resource(t, resourcesPerCluster, 4, 64, 100)
	f, err := Open(src.data[:0x60], src, binary.LittleEndian, false)
	require.NoError(t, err)

	loc := FileBlockResource5{f}
	// Block 23 with 10 resources per cluster -> cluster 2, resource 3.
	cluster, resource := loc.Locate(vmfsaddr.FileBlock{Block: 23})
	require.Equal(t, uint64(2), cluster)
	require.Equal(t, uint64(3), resource)
}

func TestManagerRoutesByKind(t *testing.T) {
	src := buildVMFS5Resource(t, 8, 4, 2048, 16)
	fbb, err := Open(src.data[:0x60], src, binary.LittleEndian, false)
	require.NoError(t, err)

	m := NewManager(true, false)
	m.FBB = fbb

	payload := make([]byte, 2048)
	copy(payload, "file block contents")
	off := fbb.ResourceOffset(0, 1)
	copy(src.data[off:int(off)+len(payload)], payload)

	addr := vmfsaddr.MakeFileBlock(1, false, false)
	got, err := m.Get(addr)
	require.NoError(t, err)
	require.Equal(t, payload, got[:len(payload)])
}

func TestManagerErrorsOnUnopenedArena(t *testing.T) {
	m := NewManager(true, false)
	addr := vmfsaddr.MakeFileBlock(1, false, false)
	_, err := m.Get(addr)
	require.Error(t, err)
}
