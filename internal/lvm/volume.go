package lvm

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/deploymenttheory/go-vmfs/internal/vmfserrors"
)

// LVM groups a set of member Devices by the logical volume (UUID, snapshot
// generation) they belong to, and hands out assembled Volumes.
type LVM struct {
	devices    []*Device
	volumesMap map[[20]byte][]*deviceVolume
}

// deviceVolume pairs a device with the volume-table entry it carries for a
// particular logical volume.
type deviceVolume struct {
	device *Device
	desc   VolDescriptor
}

// Open assembles an LVM view from already-opened member devices.
func Open(devices ...*Device) (*LVM, error) {
	l := &LVM{devices: devices, volumesMap: make(map[[20]byte][]*deviceVolume)}
	for _, dev := range devices {
		for _, vd := range dev.Volumes() {
			key := vd.Meta.ID.Key()
			l.volumesMap[key] = append(l.volumesMap[key], &deviceVolume{device: dev, desc: vd})
		}
	}
	return l, nil
}

// Volumes returns every distinct logical volume the assembled devices
// contribute to, each possibly spanning more than one device.
func (l *LVM) Volumes() []*Volume {
	out := make([]*Volume, 0, len(l.volumesMap))
	for _, members := range l.volumesMap {
		out = append(out, newVolume(members))
	}
	return out
}

// VolumeByID returns the assembled Volume for a given VolID, if any member
// device carries it.
func (l *LVM) VolumeByID(id VolID) (*Volume, bool) {
	members, ok := l.volumesMap[id.Key()]
	if !ok {
		return nil, false
	}
	return newVolume(members), true
}

// Run is one contiguous logical-to-physical extent mapping, after
// coalescing adjacent physical-extent records.
type Run struct {
	LogicalOffset  uint64
	PhysicalOffset uint64
	Length         uint64
	Device         *Device
}

// Volume is an assembled logical volume: the ordered set of devices and
// datarun spans that together cover its logical address space.
type Volume struct {
	members []*deviceVolume
	runs    []Run
	runsErr error
	built   bool
}

func newVolume(members []*deviceVolume) *Volume {
	sort.Slice(members, func(i, j int) bool {
		return members[i].desc.FirstPE < members[j].desc.FirstPE
	})
	return &Volume{members: members}
}

// devZero is the member device whose volume-table entry carries FirstPE==0;
// its VolMetadata is authoritative for size/generation/state/label.
func (v *Volume) devZero() *deviceVolume {
	for _, m := range v.members {
		if m.desc.FirstPE == 0 {
			return m
		}
	}
	return nil
}

// IsValid reports whether every member device expected by the volume's
// extended metadata (NumDevs) is present and the PE ranges are contiguous
// across devices, i.e. whether Open() can succeed.
func (v *Volume) IsValid() bool {
	dz := v.devZero()
	if dz == nil {
		return false
	}
	if int(dz.desc.NumDevs) != len(v.members) {
		return false
	}
	var expected uint64
	for _, m := range v.members {
		if m.desc.FirstPE != expected {
			return false
		}
		expected += uint64(m.desc.NumPEs)
	}
	return true
}

func (v *Volume) Size() uint64 {
	if dz := v.devZero(); dz != nil {
		return dz.desc.Meta.LogicalSize
	}
	return 0
}

func (v *Volume) Generation() uint64 {
	if dz := v.devZero(); dz != nil {
		return dz.desc.Meta.Generation
	}
	return 0
}

func (v *Volume) Label() string {
	if dz := v.devZero(); dz != nil {
		return dz.desc.Meta.Name
	}
	return ""
}

func (v *Volume) CreationTime() uint64 {
	if dz := v.devZero(); dz != nil {
		return dz.desc.Meta.CreationTime
	}
	return 0
}

func (v *Volume) UUID() uuid.UUID {
	if dz := v.devZero(); dz != nil {
		return dz.desc.Meta.ID.UUID
	}
	return uuid.UUID{}
}

// dataruns builds (and memoizes) the coalesced logical->physical extent
// list across every member device, in logical-offset order. Consistent
// with the original implementation, a gap between runs is an error: VMFS
// volumes are expected to be fully covered by physical extents.
func (v *Volume) dataruns() ([]Run, error) {
	if v.built {
		return v.runs, v.runsErr
	}
	v.built = true

	type rawPE struct {
		lOffset, pOffset, length uint64
		device                   *Device
	}
	var raws []rawPE
	for _, m := range v.members {
		pes, err := m.device.IteratePEs()
		if err != nil {
			v.runsErr = err
			return nil, err
		}
		for _, pe := range pes {
			if pe.VolumeID != m.desc.VolumeID {
				continue
			}
			raws = append(raws, rawPE{
				lOffset: pe.LOffset,
				pOffset: pe.POffset,
				length:  pe.Length,
				device:  m.device,
			})
		}
	}
	sort.Slice(raws, func(i, j int) bool { return raws[i].lOffset < raws[j].lOffset })

	var runs []Run
	var expected uint64
	for _, r := range raws {
		if r.lOffset != expected {
			v.runsErr = fmt.Errorf("lvm: datarun gap at logical offset 0x%x (expected 0x%x)", r.lOffset, expected)
			return nil, v.runsErr
		}
		if n := len(runs); n > 0 {
			last := &runs[n-1]
			if last.Device == r.device && last.PhysicalOffset+last.Length == r.pOffset {
				last.Length += r.length
				expected += r.length
				continue
			}
		}
		runs = append(runs, Run{LogicalOffset: r.lOffset, PhysicalOffset: r.pOffset, Length: r.length, Device: r.device})
		expected += r.length
	}
	v.runs = runs
	return runs, nil
}

// Open validates the volume and returns a VolumeStream positioned at
// logical offset 0. It returns ErrVolumeNotAvailable if any member device
// required by the volume's metadata is missing.
func (v *Volume) Open() (*VolumeStream, error) {
	if !v.IsValid() {
		return nil, fmt.Errorf("%w: volume %s", vmfserrors.ErrVolumeNotAvailable, v.Label())
	}
	runs, err := v.dataruns()
	if err != nil {
		return nil, err
	}
	lookup := make([]uint64, 0, len(runs))
	for _, r := range runs {
		lookup = append(lookup, r.LogicalOffset)
	}
	return &VolumeStream{volume: v, runs: runs, lookup: lookup, size: int64(v.Size())}, nil
}

func (v *Volume) String() string {
	return fmt.Sprintf("Volume(label=%q, size=%d, members=%d)", v.Label(), v.Size(), len(v.members))
}
