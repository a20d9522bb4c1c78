package directory

import "encoding/binary"

// lookup8Mix is Bob Jenkins' 64-bit mixing function from the "lookup8"
// hash (the predecessor to lookup3), used unchanged by VMFS6 to hash
// directory entry names.
func lookup8Mix(a, b, c uint64) (uint64, uint64, uint64) {
	a -= b
	a -= c
	a ^= c >> 43
	b -= c
	b -= a
	b ^= a << 9
	c -= a
	c -= b
	c ^= b >> 8
	a -= b
	a -= c
	a ^= c >> 38
	b -= c
	b -= a
	b ^= a << 23
	c -= a
	c -= b
	c ^= b >> 5
	a -= b
	a -= c
	a ^= c >> 35
	b -= c
	b -= a
	b ^= a << 49
	c -= a
	c -= b
	c ^= b >> 11
	a -= b
	a -= c
	a ^= c >> 12
	b -= c
	b -= a
	b ^= a << 18
	c -= a
	c -= b
	c ^= b >> 22
	return a, b, c
}

// lookup8Quads hashes a sequence of pre-packed 64-bit words (rather than
// raw bytes) with Jenkins' lookup8 algorithm, the way dissect.util's
// hash.jenkins.lookup8_quads hashes a VMFS6 name buffer that has already
// been split into 8-byte little-endian quads. byteLength is the original
// byte length fed into the length-dependent finalization step.
func lookup8Quads(quads []uint64, seed uint64, byteLength int) uint64 {
	a := seed
	b := seed
	c := uint64(0x9e3779b97f4a7c13)

	i := 0
	for len(quads)-i >= 3 {
		a += quads[i]
		b += quads[i+1]
		c += quads[i+2]
		a, b, c = lookup8Mix(a, b, c)
		i += 3
	}

	rem := len(quads) - i
	c += uint64(byteLength)
	switch rem {
	case 2:
		b += quads[i+1]
		a += quads[i]
	case 1:
		a += quads[i]
	}
	a, b, c = lookup8Mix(a, b, c)
	return c
}

// packQuads splits buf (whose length must be a multiple of 8) into
// little-endian 64-bit words.
func packQuads(buf []byte) []uint64 {
	quads := make([]uint64, len(buf)/8)
	for i := range quads {
		quads[i] = binary.LittleEndian.Uint64(buf[i*8 : i*8+8])
	}
	return quads
}

// hashSalt is the little-endian encoding of the VMFS6 directory hash
// padding salt.
var hashSalt = func() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, dirHashSalt)
	return b
}()

const dirHashSalt = 0x739A75C28E61B017

// nameBufferSize is the width of the buffer fed to the hash, distinct from
// FS6_DirEntry's on-disk 256-byte name field: only the first 128 bytes
// participate in hashing, salt-padded past the name's rounded length.
const nameBufferSize = 128

// nameHash builds the salt-padded name buffer and returns (linkHash,
// hashIndex), where hashIndex is already reduced modulo the root or
// non-root hash table size.
func nameHash(name string, inRoot bool) (linkHash uint32, hashIndex uint32) {
	buf := make([]byte, nameBufferSize)
	nameBytes := []byte(name)
	copy(buf, nameBytes)

	roundedLen := (len(nameBytes) + 8) &^ 7
	for i := roundedLen; i+8 <= nameBufferSize; i += 8 {
		copy(buf[i:i+8], hashSalt)
	}

	quads := packQuads(buf)
	result := lookup8Quads(quads, 42, nameBufferSize)

	maxEntries := uint32(dirHashMaxEntries)
	if inRoot {
		maxEntries = dirHashMaxRootEntries
	}
	return uint32((result >> 16) & 0xFFFF), uint32(result % uint64(maxEntries))
}

const (
	dirHashMaxEntries     = 16001
	dirHashMaxRootEntries = dirHashMaxEntries - 28
)

// systemFileHashes hard-codes the hash indices for VMFS6's ten well-known
// system files, which are looked up before falling back to nameHash -
// these files are created before the hash table exists to decide their own
// placement and so are pinned at fixed slots.
var systemFileHashes = map[string]uint16{
	".fbb.sf":  0x3E66,
	".fdc.sf":  0x3E67,
	".sbc.sf":  0x3E68,
	".pbc.sf":  0x3E69,
	".pb2.sf":  0x3E6A,
	".sdd.sf":  0x3E6B,
	".jbc.sf":  0x3E6C,
	".vh.sf":   0x3E6D,
	".fdc.lck": 0x3E6E,
	".vh.sf.lockinfo": 0x3E6F,
}
