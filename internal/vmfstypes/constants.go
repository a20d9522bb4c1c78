// Package vmfstypes holds the magic numbers, fixed system-file addresses,
// and other on-disk constants shared across the lvm, vmfsresource, vmfsfd,
// directory and vmfs packages. Struct field offsets live next to the code
// that decodes them (as the teacher's internal/parsers packages do), not
// here; this package is only for values referenced from more than one
// package.
package vmfstypes

// LVM on-disk constants (dissect.vmfs.c_lvm).
const (
	LVMMagicNumber           = 0xC001D00D
	LVMDevHeaderOffset       = 0x00100000
	LVMSizeofVolTableEntry   = 512
	LVMSizeofPEEntry         = 128
	LVMSizeofSDTableEntry    = 256
	LVMMaxVolumesPerDevLVM5  = 512
	LVMMaxVolumesPerDevLVM6  = 1
	LVMPEsPerBitmap          = 8192
	LVMPEBitmapSizeLVM5      = LVMPEsPerBitmap / 8
	FSPlistDefMaxPartitions  = 32
	DiskBlockSize512B        = 512
)

// VMFS superblock magic numbers.
const (
	VMFSMagicNumber  = 0x2fabf15e
	VMFSLMagicNumber = 0x2fabf15f
)

// Resource file metadata signatures.
const (
	ResourceMetaSignature       = 0x72666D64 // "rfmd"
	VMFS6ClusterMetaSignature   = 0x72636D64 // "rcmd"
)

// Address flag masks used outside the vmfsaddr package (e.g. by
// vmfsfd when deciding TBZ semantics for a resolved address).
const (
	AddressFlagCOW        = 0x10
	AddressFlagTBZ        = 0x20
	AddressFlagTBZVMFS6   = 0x7f80
)

// Fixed system file descriptor addresses. Every VMFS volume stores its own
// bootstrap metadata (root directory, resource arenas, volume header,
// pointer-block-2 arena, system-directory descriptor, journal-block arena)
// at these literal addresses, breaking the chicken-and-egg problem of
// needing the file-descriptor-cluster resource file open before any file
// descriptor -- including the FDC's own -- can be read normally.
const (
	RootDirDescAddr = 0x4
	FBBDescAddr     = 0x400004
	FDCDescAddr     = 0x800004
	PBCDescAddr     = 0xC00004
	SBCDescAddr     = 0x1000004
	VHDescAddr      = 0x1400004
	PB2DescAddr     = 0x1800004
	SDDDescAddr     = 0x1C00004
	JBDescAddr      = 0x2000004
)

// ResourceType mirrors vmfsaddr.Kind's numeric values, one resource type
// per address kind (PointerBlock and PointerBlock2 have distinct values).
type ResourceType uint8

const (
	ResourceTypeNone ResourceType = 0
	ResourceTypeFB   ResourceType = 1
	ResourceTypeSB   ResourceType = 2
	ResourceTypePB   ResourceType = 3
	ResourceTypeFD   ResourceType = 4
	ResourceTypePB2  ResourceType = 5
	ResourceTypeJB   ResourceType = 6
	ResourceTypeLFB  ResourceType = 7
)

// FileType is the on-disk type byte stored in a file descriptor and in
// directory entries.
type FileType uint8

const (
	FileTypeDirectory FileType = 0x2
	FileTypeRegular   FileType = 0x3
	FileTypeSymlink   FileType = 0x4
	FileTypeSystem    FileType = 0x5
	FileTypeRDM       FileType = 0x6
)

// ZeroLevelAddrType selects how a file descriptor's data address array is
// interpreted: as direct block pointers, or as one/two levels of pointer
// block indirection.
type ZeroLevelAddrType uint8

const (
	ZLAResident          ZeroLevelAddrType = 0
	ZLAFileBlock         ZeroLevelAddrType = 1
	ZLASubBlock          ZeroLevelAddrType = 2
	ZLAPointerBlock      ZeroLevelAddrType = 3
	ZLAPointerBlock2     ZeroLevelAddrType = 4
	ZLAPointerBlockDouble ZeroLevelAddrType = 5
)

// VMFS6 directory block types, stored 4 bits per entry in an allocation map
// block and used with the same numbering for hash-table/link locations
// (which only ever point at DIRENT or LINK blocks).
type DirBlockType uint8

const (
	DirBlockFree          DirBlockType = 0
	DirBlockDirent        DirBlockType = 1
	DirBlockLink          DirBlockType = 2
	DirBlockAllocationMap DirBlockType = 3
)

// VMFS6 directory header version markers.
const (
	DirHeaderVersion      = 0xF50001
	DirHeaderDebugVersion = 0xFDC001
)

// VMFS6 directory hash table sizing.
const (
	DirHashMaxEntries     = 16001
	DirHashMaxRootEntries = DirHashMaxEntries - 28
	DirHashSalt           = 0x739A75C28E61B017
)

// VMFS5 flat directory entry size (type + address + generation + name[128]).
const VMFS5DirEntrySize = 0x8c
