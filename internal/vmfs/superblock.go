// Package vmfs ties the lower layers together: it parses the filesystem
// superblock, derives every generation-dependent layout constant, performs
// the fixed bootstrap open sequence that breaks the resource-arena
// chicken-and-egg problem, and exposes path resolution from the root
// directory down.
package vmfs

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/deploymenttheory/go-vmfs/internal/vmfserrors"
	"github.com/deploymenttheory/go-vmfs/internal/vmfsid"
	"github.com/deploymenttheory/go-vmfs/internal/vmfstypes"
)

// superblockOffset is the fixed byte offset of FS3_Descriptor within every
// VMFS volume.
const superblockOffset = 0x1000000

// superblockSize is generous enough to cover every field this reader
// decodes; the real on-disk header reserves considerably more space for
// future growth that this reader does not need.
const superblockSize = 0x800

// denseSBPCFlag marks, in Superblock.Config, that the VMFS5 dense
// sub-block-per-cluster addressing mode is active.
const denseSBPCFlag = 0x4

// Superblock is the decoded FS3_Descriptor filesystem header.
type Superblock struct {
	Magic                  uint32
	MajorVersion           uint32
	MinorVersion           uint32
	MDAlignment            uint32
	FileBlockSize          uint32
	SubBlockSize           uint32
	UUID                   uuid.UUID
	Label                  string
	Config                 uint32
	PB2VolAddr             uint64
	PB2FDAddr              uint64
	SDDFDAddr              uint64
	SDDVolAddr             uint64
	FDCClusterGroupOffset  uint32
	FDCClustersPerGroup    uint32
	SfbToLfbShift          uint16
	TBZGranularity         uint32
}

func parseSuperblock(data []byte, endian binary.ByteOrder) (Superblock, error) {
	if len(data) < 0x9A {
		return Superblock{}, fmt.Errorf("vmfs: superblock buffer too short")
	}
	u, err := vmfsid.Parse(data[0x10:0x20], endian)
	if err != nil {
		return Superblock{}, err
	}
	label := cString(data[0x20:0x60])
	return Superblock{
		Magic:                 endian.Uint32(data[0x00:0x04]),
		MajorVersion:          endian.Uint32(data[0x04:0x08]),
		MinorVersion:          endian.Uint32(data[0x08:0x0C]),
		MDAlignment:           endian.Uint32(data[0x0C:0x10]),
		UUID:                  u,
		Label:                 label,
		FileBlockSize:         endian.Uint32(data[0x60:0x64]),
		SubBlockSize:          endian.Uint32(data[0x64:0x68]),
		Config:                endian.Uint32(data[0x68:0x6C]),
		PB2VolAddr:            endian.Uint64(data[0x6C:0x74]),
		PB2FDAddr:             endian.Uint64(data[0x74:0x7C]),
		SDDFDAddr:             endian.Uint64(data[0x7C:0x84]),
		SDDVolAddr:            endian.Uint64(data[0x84:0x8C]),
		FDCClusterGroupOffset: endian.Uint32(data[0x8C:0x90]),
		FDCClustersPerGroup:   endian.Uint32(data[0x90:0x94]),
		SfbToLfbShift:         endian.Uint16(data[0x94:0x96]),
		TBZGranularity:        endian.Uint32(data[0x96:0x9A]),
	}, nil
}

func (s Superblock) validate() error {
	if s.Magic != vmfstypes.VMFSMagicNumber && s.Magic != vmfstypes.VMFSLMagicNumber {
		return fmt.Errorf("%w: vmfs superblock magic 0x%x", vmfserrors.ErrInvalidHeader, s.Magic)
	}
	return nil
}

func (s Superblock) isVMFS5() bool {
	return s.MajorVersion < 0x18
}

func (s Superblock) isLocal() bool {
	return s.Magic == vmfstypes.VMFSLMagicNumber
}

func (s Superblock) denseSBPC() bool {
	return s.Config&denseSBPCFlag != 0
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func bsf(v uint32) uint8 {
	if v == 0 {
		return 0
	}
	var n uint8
	for v&1 == 0 {
		v >>= 1
		n++
	}
	return n
}
