package vmfsaddr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		v    uint64
		want Kind
	}{
		{"invalid", 0, KindInvalid},
		{"file block", MakeFileBlock(10, false, false), KindFileBlock},
		{"sub block", MakeSubBlock5(10, 1, false), KindSubBlock},
		{"pointer block", MakePointerBlock5(10, 1), KindPointerBlock},
		{"file descriptor", MakeFileDescriptor(1, 1), KindFileDescriptor},
		{"journal block", MakeJournalBlock(1, 1), KindJournalBlock},
		{"large file block", MakeLargeFileBlock(1, false, 0), KindLargeFileBlock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.v))
		})
	}
}

func TestFileBlockRoundTrip(t *testing.T) {
	v := MakeFileBlock(0x1234567, true, false)
	require.Equal(t, KindFileBlock, KindOf(v))
	fb := ParseFileBlock(v)
	assert.Equal(t, uint32(0x1234567), fb.Block)
	assert.True(t, fb.COW)
	assert.False(t, fb.TBZ)
}

func TestSmallFileBlockRoundTrip(t *testing.T) {
	v := MakeSmallFileBlock(0x1000, 0x1F, true, 0xFF)
	sfb := ParseSmallFileBlock(v)
	assert.Equal(t, uint32(0x1000), sfb.Cluster)
	assert.Equal(t, uint16(0x1F), sfb.Resource)
	assert.True(t, sfb.COW)
	assert.Equal(t, uint8(0xFF), sfb.TBZ)
}

func TestSubBlock5DenseFolding(t *testing.T) {
	v := MakeSubBlock5(5, 0x3, false)
	v |= 0b11000 // fold in the two dense bits at positions 3-4
	plain := ParseSubBlock5(v, false)
	dense := ParseSubBlock5(v, true)
	assert.Equal(t, uint16(0x3), plain.Resource)
	assert.NotEqual(t, plain.Resource, dense.Resource)
}

func TestSubBlock6RoundTrip(t *testing.T) {
	v := MakeSubBlock6(0xFFFFFFFFF, 0xFF, true)
	sb := ParseSubBlock6(v)
	assert.Equal(t, uint64(0xFFFFFFFFF), sb.Cluster)
	assert.Equal(t, uint16(0xFF), sb.Resource)
	assert.True(t, sb.COW)
}

func TestPointerBlockRoundTrip(t *testing.T) {
	v5 := MakePointerBlock5(0x3FFFFF, 0xF)
	pb5 := ParsePointerBlock5(v5)
	assert.Equal(t, uint64(0x3FFFFF), pb5.Cluster)
	assert.Equal(t, uint16(0xF), pb5.Resource)

	v6 := MakePointerBlock6(0xFFFFFFFFF, 0xFF)
	pb6 := ParsePointerBlock6(v6)
	assert.Equal(t, uint64(0xFFFFFFFFF), pb6.Cluster)
	assert.Equal(t, uint16(0xFF), pb6.Resource)
}

func TestPointerBlock2Tag(t *testing.T) {
	v := MakePointerBlock2_6(1, 2)
	assert.Equal(t, KindPointerBlock2, KindOf(v))
	pb := ParsePointerBlock2_6(v)
	assert.Equal(t, uint64(1), pb.Cluster)
	assert.Equal(t, uint16(2), pb.Resource)
}

func TestFileDescriptorRoundTrip(t *testing.T) {
	v := MakeFileDescriptor(0xFFFF, 0x3FF)
	fd := ParseFileDescriptor(v)
	assert.Equal(t, uint16(0xFFFF), fd.Cluster)
	assert.Equal(t, uint16(0x3FF), fd.Resource)
}

func TestJournalBlockRoundTrip(t *testing.T) {
	v := MakeJournalBlock(0x1FFF, 0x3F)
	jb := ParseJournalBlock(v)
	assert.Equal(t, uint16(0x1FFF), jb.Cluster)
	assert.Equal(t, uint8(0x3F), jb.Resource)
}

func TestLargeFileBlockRoundTrip(t *testing.T) {
	v := MakeLargeFileBlock(0x7FFFFFFF, true, 0xAA)
	lfb := ParseLargeFileBlock(v)
	assert.Equal(t, uint32(0x7FFFFFFF), lfb.Block)
	assert.True(t, lfb.COW)
	assert.Equal(t, uint8(0xAA), lfb.TBZ)
}

func TestAddressString(t *testing.T) {
	a := Address(MakeFileDescriptor(1, 2))
	assert.Contains(t, a.String(), "FileDescriptor")
}
