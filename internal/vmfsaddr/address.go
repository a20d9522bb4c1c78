// Package vmfsaddr implements the VMFS address codec: every on-disk pointer
// in a VMFS filesystem (file block, sub-block, pointer block, file
// descriptor, journal block, large file block) is a single uint64 whose low
// three bits tag its kind and whose remaining bits are packed
// kind-specifically. This package parses and constructs those values; it
// never touches a device or a file.
package vmfsaddr

import "fmt"

// Kind identifies what an Address points at. The tag occupies bits 0-2 of
// every address.
type Kind uint8

const (
	KindInvalid         Kind = 0
	KindFileBlock       Kind = 1 // VMFS5: FileBlock, VMFS6: SmallFileBlock
	KindSubBlock        Kind = 2
	KindPointerBlock    Kind = 3
	KindFileDescriptor  Kind = 4
	KindPointerBlock2   Kind = 5
	KindJournalBlock    Kind = 6
	KindLargeFileBlock  Kind = 7
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "Invalid"
	case KindFileBlock:
		return "FileBlock"
	case KindSubBlock:
		return "SubBlock"
	case KindPointerBlock:
		return "PointerBlock"
	case KindFileDescriptor:
		return "FileDescriptor"
	case KindPointerBlock2:
		return "PointerBlock2"
	case KindJournalBlock:
		return "JournalBlock"
	case KindLargeFileBlock:
		return "LargeFileBlock"
	default:
		return "Unknown"
	}
}

// Address is a raw on-disk VMFS address. It is always a plain uint64 at the
// storage layer; callers use the Parse* functions below to interpret one
// once they know (from context, e.g. which resource file it came from)
// which kind it must be, or use KindOf to make that determination first.
type Address uint64

// KindOf returns the tag bits of a raw address.
func KindOf(v uint64) Kind {
	return Kind(v & 0b111)
}

func (a Address) Kind() Kind {
	return KindOf(uint64(a))
}

func (a Address) String() string {
	return fmt.Sprintf("Address(0x%x, kind=%s)", uint64(a), a.Kind())
}

// FileBlock is a VMFS5 file-block pointer: a direct pointer to one
// file-block-sized region of the volume, carrying copy-on-write and
// to-be-zeroed flags.
type FileBlock struct {
	Block uint32
	COW   bool
	TBZ   bool
}

// ParseFileBlock decodes a VMFS5 FileBlock address (kind FileBlock).
func ParseFileBlock(v uint64) FileBlock {
	return FileBlock{
		Block: uint32((v >> 6) & 0x3FFFFFF),
		TBZ:   (v>>5)&1 != 0,
		COW:   (v>>4)&1 != 0,
	}
}

// MakeFileBlock encodes a VMFS5 FileBlock address.
func MakeFileBlock(block uint32, cow, tbz bool) uint64 {
	v := uint64(block&0x3FFFFFF) << 6
	if tbz {
		v |= 1 << 5
	}
	if cow {
		v |= 1 << 4
	}
	return v | uint64(KindFileBlock)
}

// SmallFileBlock is a VMFS6 small-file-block pointer: an indirect pointer
// into the SFB resource arena, carrying an 8-bit TBZ bitmap spanning the
// whole block (any set bit zeroes the entire span, see BlockStream).
type SmallFileBlock struct {
	Cluster  uint32
	Resource uint16
	COW      bool
	TBZ      uint8
}

// ParseSmallFileBlock decodes a VMFS6 SmallFileBlock address (kind FileBlock).
func ParseSmallFileBlock(v uint64) SmallFileBlock {
	return SmallFileBlock{
		Resource: uint16((v >> 51) & 0x1FFF),
		Cluster:  uint32((v >> 15) & 0x7FFFFFFF),
		TBZ:      uint8((v >> 7) & 0xFF),
		COW:      (v>>5)&1 != 0,
	}
}

// MakeSmallFileBlock encodes a VMFS6 SmallFileBlock address.
func MakeSmallFileBlock(cluster uint32, resource uint16, cow bool, tbz uint8) uint64 {
	v := (uint64(resource) & 0x1FFF) << 51
	v |= (uint64(cluster) & 0x7FFFFFFF) << 15
	v |= uint64(tbz) << 7
	if cow {
		v |= 1 << 5
	}
	return v | uint64(KindFileBlock)
}

// SubBlock addresses small (sub-file-block) allocations. VMFS5 and VMFS6
// use different field widths; Dense indicates whether the VMFS5 dense
// sub-block-per-cluster mode is active, which folds two extra bits into
// Resource.
type SubBlock struct {
	Cluster  uint64
	Resource uint16
	COW      bool
}

// ParseSubBlock5 decodes a VMFS5 SubBlock address. When dense is true (the
// filesystem descriptor's config has the dense-SBPC flag set) two
// additional bits are folded into Resource.
func ParseSubBlock5(v uint64, dense bool) SubBlock {
	sb := SubBlock{
		Cluster:  (v >> 6) & 0x3FFFFF,
		Resource: uint16((v >> 28) & 0xF),
		COW:      (v>>5)&1 != 0,
	}
	if dense {
		sb.Resource |= uint16((v & 0b11000) << 1)
	}
	return sb
}

// MakeSubBlock5 encodes a VMFS5 SubBlock address (non-dense form).
func MakeSubBlock5(cluster uint64, resource uint16, cow bool) uint64 {
	v := (cluster & 0x3FFFFF) << 6
	v |= (uint64(resource) & 0xF) << 28
	if cow {
		v |= 1 << 5
	}
	return v | uint64(KindSubBlock)
}

// ParseSubBlock6 decodes a VMFS6 SubBlock address (36-bit cluster field,
// per the REDESIGN FLAG resolving the ambiguous width in favour of the
// narrower, address.py-confirmed interpretation).
func ParseSubBlock6(v uint64) SubBlock {
	return SubBlock{
		Cluster:  (v >> 6) & 0xFFFFFFFFF,
		Resource: uint16((v >> 56) & 0xFF),
		COW:      (v>>5)&1 != 0,
	}
}

// MakeSubBlock6 encodes a VMFS6 SubBlock address.
func MakeSubBlock6(cluster uint64, resource uint16, cow bool) uint64 {
	v := (cluster & 0xFFFFFFFFF) << 6
	v |= (uint64(resource) & 0xFF) << 56
	if cow {
		v |= 1 << 5
	}
	return v | uint64(KindSubBlock)
}

// PointerBlock addresses an indirection block used by FILE_BLOCK/
// POINTER_BLOCK-type ZLAs to fan out to further blocks.
type PointerBlock struct {
	Cluster  uint64
	Resource uint16
}

func ParsePointerBlock5(v uint64) PointerBlock {
	return PointerBlock{Cluster: (v >> 6) & 0x3FFFFF, Resource: uint16((v >> 28) & 0xF)}
}

func MakePointerBlock5(cluster uint64, resource uint16) uint64 {
	v := (cluster & 0x3FFFFF) << 6
	v |= (uint64(resource) & 0xF) << 28
	return v | uint64(KindPointerBlock)
}

func ParsePointerBlock6(v uint64) PointerBlock {
	return PointerBlock{Cluster: (v >> 6) & 0xFFFFFFFFF, Resource: uint16((v >> 56) & 0xFF)}
}

func MakePointerBlock6(cluster uint64, resource uint16) uint64 {
	v := (cluster & 0xFFFFFFFFF) << 6
	v |= (uint64(resource) & 0xFF) << 56
	return v | uint64(KindPointerBlock)
}

// ParsePointerBlock2_5/6 decode the secondary pointer-block-array address
// kind, which shares PointerBlock's bit layout under a different tag.
func ParsePointerBlock2_5(v uint64) PointerBlock { return ParsePointerBlock5(v) }
func ParsePointerBlock2_6(v uint64) PointerBlock { return ParsePointerBlock6(v) }

func MakePointerBlock2_5(cluster uint64, resource uint16) uint64 {
	return MakePointerBlock5(cluster, resource)&^0b111 | uint64(KindPointerBlock2)
}

func MakePointerBlock2_6(cluster uint64, resource uint16) uint64 {
	return MakePointerBlock6(cluster, resource)&^0b111 | uint64(KindPointerBlock2)
}

// FileDescriptor addresses a file descriptor resource: the inode-equivalent
// record. The layout is identical across VMFS5 and VMFS6.
type FileDescriptor struct {
	Cluster  uint16
	Resource uint16
}

func ParseFileDescriptor(v uint64) FileDescriptor {
	return FileDescriptor{
		Cluster:  uint16((v >> 6) & 0xFFFF),
		Resource: uint16((v >> 22) & 0x3FF),
	}
}

func MakeFileDescriptor(cluster, resource uint16) uint64 {
	v := uint64(cluster) << 6
	v |= (uint64(resource) & 0x3FF) << 22
	return v | uint64(KindFileDescriptor)
}

// JournalBlock addresses an entry in the VMFS6 journal-block resource file.
type JournalBlock struct {
	Cluster  uint16
	Resource uint8
}

func ParseJournalBlock(v uint64) JournalBlock {
	return JournalBlock{
		Cluster:  uint16((v >> 3) & 0x1FFF),
		Resource: uint8((v >> 26) & 0x3F),
	}
}

func MakeJournalBlock(cluster uint16, resource uint8) uint64 {
	v := (uint64(cluster) & 0x1FFF) << 3
	v |= (uint64(resource) & 0x3F) << 26
	return v | uint64(KindJournalBlock)
}

// LargeFileBlock addresses a VMFS6 large-file-block allocation: a block
// sized at a fraction of the 1GiB large-block region, with an 8-bit TBZ
// bitmap identical in shape to SmallFileBlock's.
type LargeFileBlock struct {
	Block uint32
	COW   bool
	TBZ   uint8
}

func ParseLargeFileBlock(v uint64) LargeFileBlock {
	return LargeFileBlock{
		Block: uint32((v >> 15) & 0x7FFFFFFF),
		TBZ:   uint8((v >> 7) & 0xFF),
		COW:   (v>>5)&1 != 0,
	}
}

func MakeLargeFileBlock(block uint32, cow bool, tbz uint8) uint64 {
	v := (uint64(block) & 0x7FFFFFFF) << 15
	v |= uint64(tbz) << 7
	if cow {
		v |= 1 << 5
	}
	return v | uint64(KindLargeFileBlock)
}
