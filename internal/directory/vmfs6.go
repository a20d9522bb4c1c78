package directory

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/deploymenttheory/go-vmfs/internal/vmfstypes"
)

// VMFS6 directories are laid out as a fixed 0x10000-byte header region
// (FS6_DirHeader, its allocation-map-block list, the "." and ".." entries,
// and a root-level hash table), followed by mdAlignment-sized blocks
// starting at that offset. Each such block opens with a 64-byte
// FS6_DirBlockHeader{version, type, totalSlots, freeSlots, bitmap[56]}.
// An allocation-map block packs 4 bits per directory block (type, free,
// notWritten), and only by walking it can a reader tell which blocks hold
// directory entries (DIRENT), link-collision chains (LINK), or further
// allocation-map data.
const (
	dirHeaderBlockSize = 0x10000
	dirBlockHeaderSize = 64
	direntEntrySize    = 288

	// maxAllocationMapBlocks bounds the header's inline allocationMapBlocks
	// array; together with two direntEntrySize-sized entries and the
	// dirHashMaxEntries-slot hash table, it must fit within
	// dirHeaderBlockSize.
	maxAllocationMapBlocks = 200
	dirHeaderFixedSize     = 4 + 4 + 4 + maxAllocationMapBlocks*4 + 2*direntEntrySize

	linkGroupHeaderSize = 16 // hashIndex, totalLinks, freeLinks, nextFreeIdx
	maxLinksPerGroup    = 12
	linkEntrySize       = 8 // location, hash
	linkGroupSize       = linkGroupHeaderSize + maxLinksPerGroup*linkEntrySize + 4
	maxLinkChainHops    = 1024
)

func hashTableOffset() int64 { return dirHeaderFixedSize }

func blockOffset(blockSize int64, block uint32) int64 {
	return dirHeaderBlockSize + int64(block)*blockSize
}

// entriesPerAllocationBlock is the number of 4-bit directory-block-type
// entries packed into one allocation-map block's body.
func entriesPerAllocationBlock(blockSize int64) int64 {
	return 2 * (blockSize - dirBlockHeaderSize)
}

// header6 is the decoded FS6_DirHeader: entry/allocation-map bookkeeping
// plus the "." and ".." entries the header carries directly.
type header6 struct {
	Version                uint32
	NumEntries             uint32
	NumAllocationMapBlocks uint32
	AllocationMapBlocks    []uint32
	Self                   Entry
	Parent                 Entry
}

func parseDirentBuf(buf []byte, endian binary.ByteOrder) Entry {
	return Entry{
		Name:       cString(buf[20:]),
		Address:    endian.Uint64(buf[4:12]),
		Generation: endian.Uint32(buf[12:16]),
	}
}

func readHeader6(src io.ReaderAt, endian binary.ByteOrder) (header6, error) {
	buf := make([]byte, dirHeaderFixedSize)
	if _, err := src.ReadAt(buf, 0); err != nil {
		return header6{}, fmt.Errorf("directory: reading vmfs6 header: %w", err)
	}

	numAlloc := endian.Uint32(buf[0x08:0x0C])
	if numAlloc > maxAllocationMapBlocks {
		return header6{}, fmt.Errorf("directory: vmfs6 header has %d allocation map blocks, more than the %d supported", numAlloc, maxAllocationMapBlocks)
	}
	blocks := make([]uint32, numAlloc)
	for i := range blocks {
		off := 0x0C + i*4
		blocks[i] = endian.Uint32(buf[off : off+4])
	}

	selfOff := 0x0C + maxAllocationMapBlocks*4
	parentOff := selfOff + direntEntrySize

	return header6{
		Version:                endian.Uint32(buf[0x00:0x04]),
		NumEntries:             endian.Uint32(buf[0x04:0x08]),
		NumAllocationMapBlocks: numAlloc,
		AllocationMapBlocks:    blocks,
		Self:                   parseDirentBuf(buf[selfOff:selfOff+direntEntrySize], endian),
		Parent:                 parseDirentBuf(buf[parentOff:parentOff+direntEntrySize], endian),
	}, nil
}

// location is a decoded hash-table/link-group pointer: a tagged reference
// to either a dirent slot or another link group, both addressed by
// (block, slot) against the shared directory-block numbering.
type location struct {
	Type  vmfstypes.DirBlockType
	Block uint32
	Slot  uint32
}

func parseLocation(raw uint32) location {
	return location{
		Type:  vmfstypes.DirBlockType(raw & 0x3),
		Block: (raw >> 2) & 0x3FFFFF,
		Slot:  raw >> 24,
	}
}

func encodeLocation(loc location) uint32 {
	return uint32(loc.Type)&0x3 | (loc.Block&0x3FFFFF)<<2 | loc.Slot<<24
}

// blockHeader6 is the decoded FS6_DirBlockHeader prefixing every
// mdAlignment-sized directory block.
type blockHeader6 struct {
	Type       vmfstypes.DirBlockType
	TotalSlots uint16
	FreeSlots  uint16
	Bitmap     []byte
}

func readBlockHeader6(src io.ReaderAt, endian binary.ByteOrder, off int64) (blockHeader6, error) {
	buf := make([]byte, dirBlockHeaderSize)
	if _, err := src.ReadAt(buf, off); err != nil {
		return blockHeader6{}, fmt.Errorf("directory: reading vmfs6 block header at 0x%x: %w", off, err)
	}
	return blockHeader6{
		Type:       vmfstypes.DirBlockType(endian.Uint16(buf[2:4])),
		TotalSlots: endian.Uint16(buf[4:6]),
		FreeSlots:  endian.Uint16(buf[6:8]),
		Bitmap:     append([]byte(nil), buf[8:dirBlockHeaderSize]...),
	}, nil
}

type linkEntry struct {
	Location uint32
	Hash     uint32
}

type linkGroup struct {
	HashIndex   uint32
	TotalLinks  uint32
	FreeLinks   uint32
	NextFreeIdx uint32
	Links       []linkEntry
	NextGroup   uint32
}

// DecoderVMFS6 reads a single VMFS6 directory's content, given a byte
// stream over the directory file's data and its owning filesystem's
// mdAlignment (the directory block size).
type DecoderVMFS6 struct {
	src       io.ReaderAt
	endian    binary.ByteOrder
	blockSize int64
	header    header6
	isRoot    bool
}

func OpenVMFS6(src io.ReaderAt, blockSize int64, endian binary.ByteOrder, isRoot bool) (*DecoderVMFS6, error) {
	h, err := readHeader6(src, endian)
	if err != nil {
		return nil, err
	}
	if h.Version != vmfstypes.DirHeaderVersion && h.Version != vmfstypes.DirHeaderDebugVersion {
		return nil, fmt.Errorf("directory: unexpected vmfs6 header version 0x%x", h.Version)
	}
	return &DecoderVMFS6{src: src, endian: endian, blockSize: blockSize, header: h, isRoot: isRoot}, nil
}

func (d *DecoderVMFS6) readDirent(block, slot uint32) (Entry, error) {
	buf := make([]byte, direntEntrySize)
	off := blockOffset(d.blockSize, block) + dirBlockHeaderSize + int64(slot)*direntEntrySize
	if _, err := d.src.ReadAt(buf, off); err != nil {
		return Entry{}, fmt.Errorf("directory: reading vmfs6 dirent at 0x%x: %w", off, err)
	}
	return parseDirentBuf(buf, d.endian), nil
}

func (d *DecoderVMFS6) readLinkGroup(block, slot uint32) (linkGroup, error) {
	buf := make([]byte, linkGroupSize)
	off := blockOffset(d.blockSize, block) + dirBlockHeaderSize + int64(slot)*linkGroupSize
	if _, err := d.src.ReadAt(buf, off); err != nil {
		return linkGroup{}, fmt.Errorf("directory: reading vmfs6 link group at 0x%x: %w", off, err)
	}
	lg := linkGroup{
		HashIndex:   d.endian.Uint32(buf[0:4]),
		TotalLinks:  d.endian.Uint32(buf[4:8]),
		FreeLinks:   d.endian.Uint32(buf[8:12]),
		NextFreeIdx: d.endian.Uint32(buf[12:16]),
	}
	for i := 0; i < maxLinksPerGroup; i++ {
		off := linkGroupHeaderSize + i*linkEntrySize
		lg.Links = append(lg.Links, linkEntry{
			Location: d.endian.Uint32(buf[off : off+4]),
			Hash:     d.endian.Uint32(buf[off+4 : off+8]),
		})
	}
	lg.NextGroup = d.endian.Uint32(buf[linkGroupHeaderSize+maxLinksPerGroup*linkEntrySize:])
	return lg, nil
}

// readHashSlot reads the raw hash-table pointer stored at hashIdx.
func (d *DecoderVMFS6) readHashSlot(hashIdx uint32) (location, error) {
	buf := make([]byte, 4)
	off := hashTableOffset() + int64(hashIdx)*4
	if _, err := d.src.ReadAt(buf, off); err != nil {
		return location{}, fmt.Errorf("directory: reading hash slot %d: %w", hashIdx, err)
	}
	return parseLocation(d.endian.Uint32(buf)), nil
}

// dirBlocksOfType walks every allocation-map block named in the header, in
// order, decoding its 4-bit-per-entry nibbles to find every directory
// block of the requested type.
func (d *DecoderVMFS6) dirBlocksOfType(want vmfstypes.DirBlockType) ([]uint32, error) {
	entriesPer := entriesPerAllocationBlock(d.blockSize)
	var blocks []uint32
	buf := make([]byte, d.blockSize)
	for i, allocBlock := range d.header.AllocationMapBlocks {
		off := blockOffset(d.blockSize, allocBlock)
		if _, err := d.src.ReadAt(buf, off); err != nil {
			return nil, fmt.Errorf("directory: reading allocation map block %d: %w", allocBlock, err)
		}
		nibbles := buf[dirBlockHeaderSize:]
		for byteIdx, b := range nibbles {
			for half, nibble := range [2]byte{b >> 4, b & 0x0F} {
				typ := vmfstypes.DirBlockType(nibble & 0x3)
				if typ != want {
					continue
				}
				pos := int64(i)*entriesPer + int64(byteIdx)*2 + int64(half)
				blocks = append(blocks, uint32(pos))
			}
		}
	}
	return blocks, nil
}

// Get resolves a single name via the hash table, following the link chain
// on collision, bounded by maxLinkChainHops the way the original caps its
// collision walk.
func (d *DecoderVMFS6) Get(name string) (Entry, bool, error) {
	if name == "." && d.header.Self.Address != 0 {
		return d.header.Self, true, nil
	}
	if name == ".." && d.header.Parent.Address != 0 {
		return d.header.Parent, true, nil
	}

	linkHash, hashIdx := nameHash(name, d.isRoot)
	if d.isRoot {
		if fixed, ok := systemFileHashes[name]; ok {
			linkHash, hashIdx = uint32(fixed), uint32(fixed)
		}
	}

	loc, err := d.readHashSlot(hashIdx)
	if err != nil {
		return Entry{}, false, err
	}
	if loc.Type == vmfstypes.DirBlockFree {
		return Entry{}, false, nil
	}

	for hops := 0; loc.Type == vmfstypes.DirBlockLink; hops++ {
		if hops >= maxLinkChainHops {
			return Entry{}, false, fmt.Errorf("directory: link chain exceeded %d hops", maxLinkChainHops)
		}
		lg, err := d.readLinkGroup(loc.Block, loc.Slot)
		if err != nil {
			return Entry{}, false, err
		}
		if lg.HashIndex != hashIdx {
			return Entry{}, false, nil
		}

		found := false
		for i := uint32(0); i < lg.TotalLinks-lg.FreeLinks && int(i) < len(lg.Links); i++ {
			if lg.Links[i].Hash == linkHash {
				loc = parseLocation(lg.Links[i].Location)
				found = true
				break
			}
		}
		if !found {
			loc = parseLocation(lg.NextGroup)
		}
	}

	if loc.Type != vmfstypes.DirBlockDirent {
		return Entry{}, false, nil
	}
	e, err := d.readDirent(loc.Block, loc.Slot)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// Iterdir yields the synthetic "." and ".." entries carried directly in
// the header, then walks the allocation map to find every dirent block and
// every allocated slot within it.
func (d *DecoderVMFS6) Iterdir(selfAddress uint64) ([]Entry, error) {
	entries := []Entry{
		{Name: ".", Address: selfAddress},
		{Name: "..", Address: d.header.Parent.Address},
	}
	remaining := int64(d.header.NumEntries) - int64(len(entries))
	if remaining <= 0 {
		return entries, nil
	}

	direntBlocks, err := d.dirBlocksOfType(vmfstypes.DirBlockDirent)
	if err != nil {
		return nil, err
	}

	for _, block := range direntBlocks {
		hdr, err := readBlockHeader6(d.src, d.endian, blockOffset(d.blockSize, block))
		if err != nil {
			return nil, err
		}
		for slot := uint16(0); slot < hdr.TotalSlots; slot++ {
			byteIdx, bit := slot/8, slot%8
			if int(byteIdx) >= len(hdr.Bitmap) {
				break
			}
			allocated := hdr.Bitmap[byteIdx]>>bit&1 == 0 // inverted sense: 0 means allocated
			if !allocated {
				continue
			}
			e, err := d.readDirent(block, uint32(slot))
			if err != nil {
				return nil, err
			}
			entries = append(entries, e)
			remaining--
			if remaining == 0 {
				return entries, nil
			}
		}
	}
	return entries, nil
}
