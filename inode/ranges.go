package inode

import (
	"github.com/luminoso/SOFS14/common"
)

// getRef returns the cluster referenced at logical index clustInd without
// re-validating the inode state; HandleFileClusters already did.
func (o *Ops) getRef(nInode, clustInd uint32) (uint32, error) {
	switch {
	case clustInd < common.N_DIRECT:
		return o.handleDirect(nInode, clustInd, common.GET)
	case clustInd < common.N_DIRECT+common.RPC:
		return o.handleSIndirect(nInode, clustInd, common.GET)
	default:
		return o.handleDIndirect(nInode, clustInd, common.GET)
	}
}

// HandleFileClusters applies FREE, FREE_CLEAN or CLEAN to every referenced
// data cluster at logical index >= startInd, working through the double
// indirect range, then the single indirect range, then the direct slots.
func (o *Ops) HandleFileClusters(nInode, startInd, op uint32) error {
	if op != common.FREE && op != common.FREE_CLEAN && op != common.CLEAN {
		return common.EINVAL
	}
	if err := o.sup.Load(); err != nil {
		return err
	}
	sb := o.sup.Get()
	if nInode >= sb.ITotal {
		return common.EINVAL
	}
	if startInd >= common.MAX_FILE_CLUSTERS {
		return common.EINVAL
	}
	state := uint32(common.IUIN)
	if op == common.CLEAN {
		state = common.FDIN
	}
	if _, err := o.loadInode(nInode, state); err != nil {
		return err
	}

	apply := func(lo, hi uint32) error {
		for ci := lo; ci < hi; ci++ {
			if ci < startInd {
				continue
			}
			nc, err := o.getRef(nInode, ci)
			if err != nil {
				return err
			}
			if nc == common.NULL_CLUSTER {
				continue
			}
			if _, err := o.HandleFileCluster(nInode, ci, op); err != nil {
				return err
			}
		}
		return nil
	}

	// Walk only the populated parts of each range; an absent index cluster
	// covers its whole span with null references.
	p, err := o.it.InodeP(nInode)
	if err != nil {
		return err
	}
	if p.I2 != common.NULL_CLUSTER {
		base := uint32(common.N_DIRECT + common.RPC)
		for k := uint32(0); k < common.RPC; k++ {
			if p, err = o.it.InodeP(nInode); err != nil {
				return err
			}
			if p.I2 == common.NULL_CLUSTER {
				break // the sweep emptied and released it
			}
			dc2, err := common.ReadDataClust(o.dev, o.sup.Get(), p.I2)
			if err != nil {
				return err
			}
			if dc2.Ref(int(k)) == common.NULL_CLUSTER {
				continue
			}
			if err := apply(base+k*common.RPC, base+(k+1)*common.RPC); err != nil {
				return err
			}
		}
	}
	if p, err = o.it.InodeP(nInode); err != nil {
		return err
	}
	if p.I1 != common.NULL_CLUSTER {
		if err := apply(common.N_DIRECT, common.N_DIRECT+common.RPC); err != nil {
			return err
		}
	}
	return apply(0, common.N_DIRECT)
}

// CleanDataCluster dissociates one cluster from the inode that still marks
// it: the reference slot is cleared and the stat word nulled. It is invoked
// by the allocation table when it pops a dirty cluster, so unlike CLEAN it
// must not push the cluster back into the repository.
func (o *Ops) CleanDataCluster(nInode, nLClust uint32) error {
	if err := o.sup.Load(); err != nil {
		return err
	}
	sb := o.sup.Get()
	if nInode >= sb.ITotal || nLClust >= sb.DZoneTotal {
		return common.EINVAL
	}
	p, err := o.it.InodeP(nInode)
	if err != nil {
		return err
	}
	if p.IsFree() {
		if err := common.QCheckFDInode(sb, p); err != nil {
			return err
		}
	} else if err := common.QCheckInodeIU(sb, p); err != nil {
		return err
	}

	// Direct slots.
	for i := 0; i < common.N_DIRECT; i++ {
		if p.D[i] == nLClust {
			if err := o.dissociate(nInode, nLClust); err != nil {
				return err
			}
			if p, err = o.it.InodeP(nInode); err != nil {
				return err
			}
			p.D[i] = common.NULL_CLUSTER
			p.CluCount--
			return o.it.StoreBlock()
		}
	}
	// Single indirect range.
	if p.I1 != common.NULL_CLUSTER {
		done, err := o.cleanInRefClust(nInode, p.I1, nLClust)
		if err != nil || done {
			return err
		}
	}
	// Double indirect range.
	if p.I2 != common.NULL_CLUSTER {
		dc2, err := common.ReadDataClust(o.dev, sb, p.I2)
		if err != nil {
			return err
		}
		for k := 0; k < common.RPC; k++ {
			sub := dc2.Ref(k)
			if sub == common.NULL_CLUSTER {
				continue
			}
			done, err := o.cleanInRefClust(nInode, sub, nLClust)
			if err != nil || done {
				return err
			}
		}
	}
	return common.EDCNOTIL
}

// cleanInRefClust searches one reference cluster for nLClust; when found
// the slot is nulled, the cluster dissociated and the inode's cluster
// count decremented.
func (o *Ops) cleanInRefClust(nInode, refClust, nLClust uint32) (bool, error) {
	sb := o.sup.Get()
	dc, err := common.ReadDataClust(o.dev, sb, refClust)
	if err != nil {
		return false, err
	}
	for i := 0; i < common.RPC; i++ {
		if dc.Ref(i) != nLClust {
			continue
		}
		if err := o.dissociate(nInode, nLClust); err != nil {
			return false, err
		}
		dc.SetRef(i, common.NULL_CLUSTER)
		if err := common.WriteDataClust(o.dev, sb, refClust, &dc); err != nil {
			return false, err
		}
		p, err := o.it.InodeP(nInode)
		if err != nil {
			return false, err
		}
		p.CluCount--
		return true, o.it.StoreBlock()
	}
	return false, nil
}
