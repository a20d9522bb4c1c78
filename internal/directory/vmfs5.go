// Package directory decodes VMFS directory contents: a flat fixed-size
// entry array on VMFS5, and a header/hash-table/link-chain structure on
// VMFS6.
package directory

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/deploymenttheory/go-vmfs/internal/vmfstypes"
)

// Entry is the decoded, generation-agnostic view of one directory member
// handed back to callers (internal/vmfs).
type Entry struct {
	Name       string
	Address    uint64
	Generation uint32
}

// DecodeVMFS5 reads a VMFS5 directory's flat array of FS3_DirEntry records
// (140 bytes each: type, address, generation, 128-byte name) out of src,
// which spans exactly size bytes.
func DecodeVMFS5(src io.ReaderAt, size int64, endian binary.ByteOrder) ([]Entry, error) {
	const entrySize = int64(vmfstypes.VMFS5DirEntrySize)
	count := size / entrySize
	entries := make([]Entry, 0, count)
	buf := make([]byte, entrySize)
	for i := int64(0); i < count; i++ {
		if _, err := src.ReadAt(buf, i*entrySize); err != nil {
			return nil, fmt.Errorf("directory: reading vmfs5 entry %d: %w", i, err)
		}
		typ := endian.Uint32(buf[0:4])
		if typ == 0 {
			continue // free slot
		}
		address := uint64(endian.Uint32(buf[4:8]))
		generation := endian.Uint32(buf[8:12])
		name := cString(buf[12:entrySize])
		entries = append(entries, Entry{Name: name, Address: address, Generation: generation})
	}
	return entries, nil
}

// GetVMFS5 looks up a single name in a VMFS5 flat directory by linear scan
// (VMFS5 directories are small enough that no hash table is used).
func GetVMFS5(src io.ReaderAt, size int64, endian binary.ByteOrder, name string) (Entry, bool, error) {
	entries, err := DecodeVMFS5(src, size, endian)
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

func cString(b []byte) string {
	if idx := bytes.IndexByte(b, 0); idx >= 0 {
		return string(b[:idx])
	}
	return string(b)
}
