package vmfsresource

import (
	"fmt"

	"github.com/deploymenttheory/go-vmfs/internal/vmfsaddr"
	"github.com/deploymenttheory/go-vmfs/internal/vmfserrors"
)

// Manager routes a raw address to the resource file that owns its kind,
// and exposes the bootstrap-order-named system resource files directly
// (FDC, PBC, SBC, FBB, LFB, PB2, JBC) the way the original ResourceManager
// exposes them as named properties.
type Manager struct {
	FDC *File
	PBC *File
	PB2 *File
	SBC *File
	FBB *File // VMFS5 file-block arena, or VMFS6 small-file-block child arena
	LFB *File // VMFS6 only
	JBC *File // VMFS6 only

	isVMFS5   bool
	denseSBPC bool
}

// NewManager constructs an empty Manager; callers populate the named
// fields as each arena is opened during filesystem bootstrap (see
// internal/vmfs's fixed open order). denseSBPC mirrors the superblock's
// DENSE_SBPC config flag (VMFS5 only) and controls whether VMFS5 sub-block
// addresses fold two extra high bits into their resource field.
func NewManager(isVMFS5 bool, denseSBPC bool) *Manager {
	return &Manager{isVMFS5: isVMFS5, denseSBPC: denseSBPC}
}

// fileForKind returns the resource file responsible for a given address
// kind, or nil if that arena has not been opened yet (this is expected
// during bootstrap, before FBB/FDC/etc. exist).
func (m *Manager) fileForKind(kind vmfsaddr.Kind) *File {
	switch kind {
	case vmfsaddr.KindFileBlock:
		return m.FBB
	case vmfsaddr.KindSubBlock:
		return m.SBC
	case vmfsaddr.KindPointerBlock:
		return m.PBC
	case vmfsaddr.KindFileDescriptor:
		return m.FDC
	case vmfsaddr.KindPointerBlock2:
		return m.PB2
	case vmfsaddr.KindJournalBlock:
		return m.JBC
	case vmfsaddr.KindLargeFileBlock:
		return m.LFB
	default:
		return nil
	}
}

// Get reads the raw resource bytes addressed by a packed address, routing
// by its kind tag.
func (m *Manager) Get(address uint64) ([]byte, error) {
	kind := vmfsaddr.KindOf(address)
	f := m.fileForKind(kind)
	if f == nil {
		return nil, fmt.Errorf("%w: no resource file open for kind %s", vmfserrors.ErrUnsupportedAddress, kind)
	}
	cluster, resource, err := m.locate(kind, address)
	if err != nil {
		return nil, err
	}
	return f.Get(cluster, resource)
}

// locate parses address according to its kind and the filesystem's
// generation (VMFS5 vs VMFS6), returning the (cluster, resource) pair the
// owning resource file should read.
func (m *Manager) locate(kind vmfsaddr.Kind, address uint64) (cluster, resource uint64, err error) {
	switch kind {
	case vmfsaddr.KindFileBlock:
		if m.isVMFS5 {
			fb := vmfsaddr.ParseFileBlock(address)
			loc := FileBlockResource5{m.FBB}
			c, r := loc.Locate(fb)
			return c, r, nil
		}
		sfb := vmfsaddr.ParseSmallFileBlock(address)
		loc := SmallFileBlockResource6{m.FBB}
		c, r := loc.Locate(sfb)
		return c, r, nil
	case vmfsaddr.KindLargeFileBlock:
		lfb := vmfsaddr.ParseLargeFileBlock(address)
		loc := LargeFileBlockResource{m.LFB}
		c, r := loc.Locate(lfb)
		return c, r, nil
	case vmfsaddr.KindSubBlock:
		if m.isVMFS5 {
			sb := vmfsaddr.ParseSubBlock5(address, m.denseSBPC)
			return sb.Cluster, uint64(sb.Resource), nil
		}
		sb := vmfsaddr.ParseSubBlock6(address)
		return sb.Cluster, uint64(sb.Resource), nil
	case vmfsaddr.KindPointerBlock, vmfsaddr.KindPointerBlock2:
		if m.isVMFS5 {
			pb := vmfsaddr.ParsePointerBlock5(address)
			return pb.Cluster, uint64(pb.Resource), nil
		}
		pb := vmfsaddr.ParsePointerBlock6(address)
		return pb.Cluster, uint64(pb.Resource), nil
	case vmfsaddr.KindFileDescriptor:
		fd := vmfsaddr.ParseFileDescriptor(address)
		return uint64(fd.Cluster), uint64(fd.Resource), nil
	case vmfsaddr.KindJournalBlock:
		jb := vmfsaddr.ParseJournalBlock(address)
		return uint64(jb.Cluster), uint64(jb.Resource), nil
	default:
		return 0, 0, fmt.Errorf("%w: kind %s", vmfserrors.ErrUnsupportedAddress, kind)
	}
}

// ResolveAddress computes the byte offset, within the owning resource
// file's own data stream, of the resource addressed by a packed address.
// Callers that need a *volume* offset must further resolve that file
// offset through the arena file's own FileDescriptor (see vmfsfd), since a
// resource file is itself a regular VMFS file.
func (m *Manager) ResolveAddress(address uint64) (*File, uint64, error) {
	kind := vmfsaddr.KindOf(address)
	f := m.fileForKind(kind)
	if f == nil {
		return nil, 0, fmt.Errorf("%w: no resource file open for kind %s", vmfserrors.ErrUnsupportedAddress, kind)
	}
	cluster, resource, err := m.locate(kind, address)
	if err != nil {
		return nil, 0, err
	}
	return f, f.ResourceOffset(cluster, resource), nil
}
