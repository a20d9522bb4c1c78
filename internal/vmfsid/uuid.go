// Package vmfsid decodes the time/random/MAC-address UUID layout used by
// both the LVM and VMFS on-disk structures. VMFS UUIDs are not RFC 4122
// UUIDs, so this package hand-rolls the parse and formats into
// google/uuid's type only so the rest of the module can hand out a
// real, comparable, encoding.TextMarshaler value instead of a bare byte
// array.
package vmfsid

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Size is the on-disk byte width of a VMFS UUID structure: timeLo(4) +
// timeHi(4) + rand(2) + macAddr(6).
const Size = 16

// Parse decodes a 16-byte VMFS UUID structure (timeLo, timeHi, rand,
// macAddr) into a uuid.UUID, preserving the raw bytes. The UUID's own
// String and MarshalText print RFC 4122 text; Format prints the
// VMFS-native representation.
func Parse(buf []byte, endian binary.ByteOrder) (uuid.UUID, error) {
	if len(buf) < Size {
		return uuid.UUID{}, fmt.Errorf("vmfsid: buffer too short: %d bytes", len(buf))
	}
	var u uuid.UUID
	copy(u[:], buf[:Size])
	return u, nil
}

// Format renders a VMFS UUID structure as "timeLo-timeHi-rand-macAddr",
// matching dissect.vmfs's vmfs_uuid() layout, which is unrelated to RFC
// 4122 UUID string formatting.
func Format(u uuid.UUID, endian binary.ByteOrder) string {
	timeLo := endian.Uint32(u[0:4])
	timeHi := endian.Uint32(u[4:8])
	rand := endian.Uint16(u[8:10])
	mac := u[10:16]
	return fmt.Sprintf("%08x-%08x-%04x-%012x", timeLo, timeHi, rand, mac)
}
