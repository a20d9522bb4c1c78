package vmfsresource

import "github.com/deploymenttheory/go-vmfs/internal/vmfsaddr"

// FileBlockResource5 overrides address parsing for the VMFS5 FileBlock
// arena: a raw block number is a direct resource index, not a (cluster,
// resource) pair computed via the generic formula.
type FileBlockResource5 struct{ *File }

// Locate returns the (cluster, resource) pair for a decoded FileBlock
// address, using plain divmod over ResourcesPerCluster.
func (r FileBlockResource5) Locate(fb vmfsaddr.FileBlock) (cluster, resource uint64) {
	perCluster := uint64(r.Meta.ResourcesPerCluster)
	return uint64(fb.Block) / perCluster, uint64(fb.Block) % perCluster
}

// SmallFileBlockResource6 overrides address parsing for the VMFS6
// SmallFileBlock arena: the address already carries an explicit
// (resource, cluster) split.
type SmallFileBlockResource6 struct{ *File }

func (r SmallFileBlockResource6) Locate(sfb vmfsaddr.SmallFileBlock) (cluster, resource uint64) {
	return uint64(sfb.Cluster), uint64(sfb.Resource)
}

// LargeFileBlockResource overrides address parsing for the VMFS6
// LargeFileBlock arena: like FileBlockResource5, a raw block number is a
// direct resource index via divmod.
type LargeFileBlockResource struct{ *File }

func (r LargeFileBlockResource) Locate(lfb vmfsaddr.LargeFileBlock) (cluster, resource uint64) {
	perCluster := uint64(r.Meta.ResourcesPerCluster)
	return uint64(lfb.Block) / perCluster, uint64(lfb.Block) % perCluster
}
