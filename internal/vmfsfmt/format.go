// Package vmfsfmt formats VMFS sizes and identifiers for human consumption,
// the way the teacher formats APFS sizes, except backed by go-units rather
// than a hand-rolled table.
package vmfsfmt

import (
	"fmt"

	units "github.com/docker/go-units"
)

// Size renders a byte count the way `ls -lh`/`df -h` would (base-1024,
// binary-prefixed).
func Size(bytes uint64) string {
	return units.BytesSize(float64(bytes))
}

// BlockCount renders a block count alongside the block size it was
// multiplied from, e.g. "128 blocks (512KiB @ 4KiB)".
func BlockCount(count uint64, blockSize uint32) string {
	return fmt.Sprintf("%d blocks (%s @ %s)", count, Size(count*uint64(blockSize)), Size(uint64(blockSize)))
}
