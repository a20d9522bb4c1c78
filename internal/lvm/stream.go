package lvm

import (
	"fmt"
	"io"
	"sort"
)

// VolumeStream presents an assembled Volume as a single io.ReaderAt over
// its logical address space, resolving each read against the volume's
// coalesced datarun table with a binary search over run start offsets
// (equivalent to Python's bisect_right over non-empty run starts).
type VolumeStream struct {
	volume *Volume
	runs   []Run
	lookup []uint64
	size   int64
	pos    int64
}

var _ io.ReaderAt = (*VolumeStream)(nil)
var _ io.ReadSeeker = (*VolumeStream)(nil)

// Size returns the logical size of the volume.
func (s *VolumeStream) Size() int64 { return s.size }

func (s *VolumeStream) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		s.pos = offset
	case io.SeekCurrent:
		s.pos += offset
	case io.SeekEnd:
		s.pos = s.size + offset
	default:
		return 0, fmt.Errorf("lvm: invalid whence %d", whence)
	}
	return s.pos, nil
}

func (s *VolumeStream) Read(p []byte) (int, error) {
	n, err := s.ReadAt(p, s.pos)
	s.pos += int64(n)
	return n, err
}

// ReadAt reads len(p) bytes starting at logical offset off, crossing run
// boundaries as needed and issuing one physical read per contiguous run.
func (s *VolumeStream) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= s.size {
		return 0, io.EOF
	}
	length := len(p)
	if int64(length) > s.size-off {
		length = int(s.size - off)
	}
	read := 0
	offset := uint64(off)
	for read < length {
		runIdx := sort.Search(len(s.lookup), func(i int) bool { return s.lookup[i] > offset }) - 1
		if runIdx < 0 {
			return read, fmt.Errorf("lvm: offset 0x%x precedes first datarun", offset)
		}
		run := s.runs[runIdx]
		withinRun := offset - run.LogicalOffset
		avail := run.Length - withinRun
		want := uint64(length - read)
		if want > avail {
			want = avail
		}
		n, err := run.Device.ReadAt(p[read:read+int(want)], int64(run.PhysicalOffset+withinRun))
		read += n
		if err != nil && err != io.EOF {
			return read, fmt.Errorf("lvm: reading run at physical offset 0x%x: %w", run.PhysicalOffset+withinRun, err)
		}
		if uint64(n) < want {
			return read, io.ErrUnexpectedEOF
		}
		offset += want
	}
	return read, nil
}
