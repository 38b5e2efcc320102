package inode

import (
	"github.com/luminoso/SOFS14/common"
)

// HandleFileCluster performs op on the data cluster at logical index
// clustInd of the file described by nInode.
//
//	GET        return the referenced cluster, NULL_CLUSTER when unset
//	ALLOC      allocate a cluster (and any missing index clusters), attach
//	           it to the sibling chain and return it
//	FREE       release the cluster to the repository, keeping the reference
//	FREE_CLEAN release and dissociate the cluster, clearing the reference
//	CLEAN      dissociate the cluster of a free-dirty inode, clearing the
//	           reference; a cluster never released is released on the way
//
// The inode must be in use for every operation but CLEAN, which requires it
// free in the dirty state.
func (o *Ops) HandleFileCluster(nInode, clustInd, op uint32) (uint32, error) {
	if err := o.sup.Load(); err != nil {
		return common.NULL_CLUSTER, err
	}
	sb := o.sup.Get()
	if nInode >= sb.ITotal {
		return common.NULL_CLUSTER, common.EINVAL
	}
	if clustInd >= common.MAX_FILE_CLUSTERS {
		return common.NULL_CLUSTER, common.EINVAL
	}
	state := uint32(common.IUIN)
	if op == common.CLEAN {
		state = common.FDIN
	} else if op > common.CLEAN {
		return common.NULL_CLUSTER, common.EINVAL
	}
	if _, err := o.loadInode(nInode, state); err != nil {
		return common.NULL_CLUSTER, err
	}
	switch {
	case clustInd < common.N_DIRECT:
		return o.handleDirect(nInode, clustInd, op)
	case clustInd < common.N_DIRECT+common.RPC:
		return o.handleSIndirect(nInode, clustInd, op)
	default:
		return o.handleDIndirect(nInode, clustInd, op)
	}
}

// tolerantFree releases a cluster, treating "already in the repository" as
// done: FREE may have run before FREE_CLEAN or CLEAN.
func (o *Ops) tolerantFree(nLClust uint32) error {
	if err := o.alloc.FreeDataCluster(nLClust); err != nil && err != common.EDCARDYIL {
		return err
	}
	return nil
}

// dissociate clears the stat mark of a cluster owned by nInode. Only the
// stat word is touched: when the cluster sits on the free list its prev and
// next words are list links.
func (o *Ops) dissociate(nInode, nLClust uint32) error {
	sb := o.sup.Get()
	dc, err := common.ReadDataClust(o.dev, sb, nLClust)
	if err != nil {
		return err
	}
	if dc.Stat != nInode {
		return common.EWGINODENB
	}
	dc.Stat = common.NULL_INODE
	return common.WriteDataClust(o.dev, sb, nLClust, &dc)
}

func refsAllNull(dc *common.DataClust) bool {
	for i := 0; i < common.RPC; i++ {
		if dc.Ref(i) != common.NULL_CLUSTER {
			return false
		}
	}
	return true
}

// allocIndexCluster allocates a cluster and formats its payload as RPC
// null references. The caller records it in the inode.
func (o *Ops) allocIndexCluster(nInode uint32) (uint32, error) {
	nc, err := o.alloc.AllocDataCluster(nInode)
	if err != nil {
		return common.NULL_CLUSTER, err
	}
	sb := o.sup.Get()
	dc, err := common.ReadDataClust(o.dev, sb, nc)
	if err != nil {
		return common.NULL_CLUSTER, err
	}
	dc.FillRefs(common.NULL_CLUSTER)
	if err := common.WriteDataClust(o.dev, sb, nc, &dc); err != nil {
		return common.NULL_CLUSTER, err
	}
	return nc, nil
}

// attach links a freshly allocated data cluster to its logical neighbours
// within the same file, forming the sibling chain.
func (o *Ops) attach(nInode, clustInd, nLClust uint32) error {
	sb := o.sup.Get()
	dc, err := common.ReadDataClust(o.dev, sb, nLClust)
	if err != nil {
		return err
	}
	if clustInd > 0 {
		prevC, err := o.HandleFileCluster(nInode, clustInd-1, common.GET)
		if err != nil {
			return err
		}
		if prevC != common.NULL_CLUSTER {
			sb = o.sup.Get()
			pdc, err := common.ReadDataClust(o.dev, sb, prevC)
			if err != nil {
				return err
			}
			pdc.Next = nLClust
			if err := common.WriteDataClust(o.dev, sb, prevC, &pdc); err != nil {
				return err
			}
			dc.Prev = prevC
		}
	}
	if clustInd+1 < common.MAX_FILE_CLUSTERS {
		nextC, err := o.HandleFileCluster(nInode, clustInd+1, common.GET)
		if err != nil {
			return err
		}
		if nextC != common.NULL_CLUSTER {
			sb = o.sup.Get()
			ndc, err := common.ReadDataClust(o.dev, sb, nextC)
			if err != nil {
				return err
			}
			ndc.Prev = nLClust
			if err := common.WriteDataClust(o.dev, sb, nextC, &ndc); err != nil {
				return err
			}
			dc.Next = nextC
		}
	}
	sb = o.sup.Get()
	return common.WriteDataClust(o.dev, sb, nLClust, &dc)
}

func (o *Ops) handleDirect(nInode, clustInd, op uint32) (uint32, error) {
	p, err := o.it.InodeP(nInode)
	if err != nil {
		return common.NULL_CLUSTER, err
	}
	nc := p.D[clustInd]
	switch op {
	case common.GET:
		return nc, nil

	case common.ALLOC:
		if nc != common.NULL_CLUSTER {
			return common.NULL_CLUSTER, common.EDCARDYIL
		}
		nc, err = o.alloc.AllocDataCluster(nInode)
		if err != nil {
			return common.NULL_CLUSTER, err
		}
		if p, err = o.it.InodeP(nInode); err != nil {
			return common.NULL_CLUSTER, err
		}
		p.D[clustInd] = nc
		p.CluCount++
		if err := o.it.StoreBlock(); err != nil {
			return common.NULL_CLUSTER, err
		}
		return nc, o.attach(nInode, clustInd, nc)

	case common.FREE:
		if nc == common.NULL_CLUSTER {
			return common.NULL_CLUSTER, common.EDCNOTIL
		}
		return common.NULL_CLUSTER, o.alloc.FreeDataCluster(nc)

	default: // FREE_CLEAN, CLEAN
		if nc == common.NULL_CLUSTER {
			return common.NULL_CLUSTER, common.EDCNOTIL
		}
		if err := o.tolerantFree(nc); err != nil {
			return common.NULL_CLUSTER, err
		}
		if err := o.dissociate(nInode, nc); err != nil {
			return common.NULL_CLUSTER, err
		}
		if p, err = o.it.InodeP(nInode); err != nil {
			return common.NULL_CLUSTER, err
		}
		p.D[clustInd] = common.NULL_CLUSTER
		p.CluCount--
		return common.NULL_CLUSTER, o.it.StoreBlock()
	}
}

func (o *Ops) handleSIndirect(nInode, clustInd, op uint32) (uint32, error) {
	ref := int(clustInd - common.N_DIRECT)
	p, err := o.it.InodeP(nInode)
	if err != nil {
		return common.NULL_CLUSTER, err
	}
	i1 := p.I1
	sb := o.sup.Get()

	switch op {
	case common.GET:
		if i1 == common.NULL_CLUSTER {
			return common.NULL_CLUSTER, nil
		}
		dc, err := common.ReadDataClust(o.dev, sb, i1)
		if err != nil {
			return common.NULL_CLUSTER, err
		}
		return dc.Ref(ref), nil

	case common.ALLOC:
		if i1 == common.NULL_CLUSTER {
			if i1, err = o.allocIndexCluster(nInode); err != nil {
				return common.NULL_CLUSTER, err
			}
			if p, err = o.it.InodeP(nInode); err != nil {
				return common.NULL_CLUSTER, err
			}
			p.I1 = i1
			p.CluCount++
			if err := o.it.StoreBlock(); err != nil {
				return common.NULL_CLUSTER, err
			}
			sb = o.sup.Get()
		}
		dc, err := common.ReadDataClust(o.dev, sb, i1)
		if err != nil {
			return common.NULL_CLUSTER, err
		}
		if dc.Ref(ref) != common.NULL_CLUSTER {
			return common.NULL_CLUSTER, common.EDCARDYIL
		}
		nc, err := o.alloc.AllocDataCluster(nInode)
		if err != nil {
			return common.NULL_CLUSTER, err
		}
		sb = o.sup.Get()
		if dc, err = common.ReadDataClust(o.dev, sb, i1); err != nil {
			return common.NULL_CLUSTER, err
		}
		dc.SetRef(ref, nc)
		if err := common.WriteDataClust(o.dev, sb, i1, &dc); err != nil {
			return common.NULL_CLUSTER, err
		}
		if p, err = o.it.InodeP(nInode); err != nil {
			return common.NULL_CLUSTER, err
		}
		p.CluCount++
		if err := o.it.StoreBlock(); err != nil {
			return common.NULL_CLUSTER, err
		}
		return nc, o.attach(nInode, clustInd, nc)

	case common.FREE:
		if i1 == common.NULL_CLUSTER {
			return common.NULL_CLUSTER, common.EDCNOTIL
		}
		dc, err := common.ReadDataClust(o.dev, sb, i1)
		if err != nil {
			return common.NULL_CLUSTER, err
		}
		nc := dc.Ref(ref)
		if nc == common.NULL_CLUSTER {
			return common.NULL_CLUSTER, common.EDCNOTIL
		}
		return common.NULL_CLUSTER, o.alloc.FreeDataCluster(nc)

	default: // FREE_CLEAN, CLEAN
		if i1 == common.NULL_CLUSTER {
			return common.NULL_CLUSTER, common.EDCNOTIL
		}
		dc, err := common.ReadDataClust(o.dev, sb, i1)
		if err != nil {
			return common.NULL_CLUSTER, err
		}
		nc := dc.Ref(ref)
		if nc == common.NULL_CLUSTER {
			return common.NULL_CLUSTER, common.EDCNOTIL
		}
		if err := o.releaseRef(nInode, nc); err != nil {
			return common.NULL_CLUSTER, err
		}
		sb = o.sup.Get()
		if dc, err = common.ReadDataClust(o.dev, sb, i1); err != nil {
			return common.NULL_CLUSTER, err
		}
		dc.SetRef(ref, common.NULL_CLUSTER)
		if err := common.WriteDataClust(o.dev, sb, i1, &dc); err != nil {
			return common.NULL_CLUSTER, err
		}
		empty := refsAllNull(&dc)
		if empty {
			if err := o.releaseRef(nInode, i1); err != nil {
				return common.NULL_CLUSTER, err
			}
		}
		if p, err = o.it.InodeP(nInode); err != nil {
			return common.NULL_CLUSTER, err
		}
		p.CluCount--
		if empty {
			p.I1 = common.NULL_CLUSTER
			p.CluCount--
		}
		return common.NULL_CLUSTER, o.it.StoreBlock()
	}
}

// releaseRef releases and dissociates one cluster during FREE_CLEAN and
// CLEAN processing.
func (o *Ops) releaseRef(nInode, nLClust uint32) error {
	if err := o.tolerantFree(nLClust); err != nil {
		return err
	}
	return o.dissociate(nInode, nLClust)
}

func (o *Ops) handleDIndirect(nInode, clustInd, op uint32) (uint32, error) {
	ref := int(clustInd - common.N_DIRECT - common.RPC)
	k := ref / common.RPC // slot in the double indirect cluster
	m := ref % common.RPC // slot in the single indirect cluster below it
	p, err := o.it.InodeP(nInode)
	if err != nil {
		return common.NULL_CLUSTER, err
	}
	i2 := p.I2
	sb := o.sup.Get()

	switch op {
	case common.GET:
		if i2 == common.NULL_CLUSTER {
			return common.NULL_CLUSTER, nil
		}
		dc2, err := common.ReadDataClust(o.dev, sb, i2)
		if err != nil {
			return common.NULL_CLUSTER, err
		}
		sub := dc2.Ref(k)
		if sub == common.NULL_CLUSTER {
			return common.NULL_CLUSTER, nil
		}
		dcs, err := common.ReadDataClust(o.dev, sb, sub)
		if err != nil {
			return common.NULL_CLUSTER, err
		}
		return dcs.Ref(m), nil

	case common.ALLOC:
		if i2 == common.NULL_CLUSTER {
			if i2, err = o.allocIndexCluster(nInode); err != nil {
				return common.NULL_CLUSTER, err
			}
			if p, err = o.it.InodeP(nInode); err != nil {
				return common.NULL_CLUSTER, err
			}
			p.I2 = i2
			p.CluCount++
			if err := o.it.StoreBlock(); err != nil {
				return common.NULL_CLUSTER, err
			}
			sb = o.sup.Get()
		}
		dc2, err := common.ReadDataClust(o.dev, sb, i2)
		if err != nil {
			return common.NULL_CLUSTER, err
		}
		sub := dc2.Ref(k)
		if sub == common.NULL_CLUSTER {
			if sub, err = o.allocIndexCluster(nInode); err != nil {
				return common.NULL_CLUSTER, err
			}
			sb = o.sup.Get()
			if dc2, err = common.ReadDataClust(o.dev, sb, i2); err != nil {
				return common.NULL_CLUSTER, err
			}
			dc2.SetRef(k, sub)
			if err := common.WriteDataClust(o.dev, sb, i2, &dc2); err != nil {
				return common.NULL_CLUSTER, err
			}
			if p, err = o.it.InodeP(nInode); err != nil {
				return common.NULL_CLUSTER, err
			}
			p.CluCount++
			if err := o.it.StoreBlock(); err != nil {
				return common.NULL_CLUSTER, err
			}
		}
		dcs, err := common.ReadDataClust(o.dev, sb, sub)
		if err != nil {
			return common.NULL_CLUSTER, err
		}
		if dcs.Ref(m) != common.NULL_CLUSTER {
			return common.NULL_CLUSTER, common.EDCARDYIL
		}
		nc, err := o.alloc.AllocDataCluster(nInode)
		if err != nil {
			return common.NULL_CLUSTER, err
		}
		sb = o.sup.Get()
		if dcs, err = common.ReadDataClust(o.dev, sb, sub); err != nil {
			return common.NULL_CLUSTER, err
		}
		dcs.SetRef(m, nc)
		if err := common.WriteDataClust(o.dev, sb, sub, &dcs); err != nil {
			return common.NULL_CLUSTER, err
		}
		if p, err = o.it.InodeP(nInode); err != nil {
			return common.NULL_CLUSTER, err
		}
		p.CluCount++
		if err := o.it.StoreBlock(); err != nil {
			return common.NULL_CLUSTER, err
		}
		return nc, o.attach(nInode, clustInd, nc)

	case common.FREE:
		if i2 == common.NULL_CLUSTER {
			return common.NULL_CLUSTER, common.EDCNOTIL
		}
		dc2, err := common.ReadDataClust(o.dev, sb, i2)
		if err != nil {
			return common.NULL_CLUSTER, err
		}
		sub := dc2.Ref(k)
		if sub == common.NULL_CLUSTER {
			return common.NULL_CLUSTER, common.EDCNOTIL
		}
		dcs, err := common.ReadDataClust(o.dev, sb, sub)
		if err != nil {
			return common.NULL_CLUSTER, err
		}
		nc := dcs.Ref(m)
		if nc == common.NULL_CLUSTER {
			return common.NULL_CLUSTER, common.EDCNOTIL
		}
		return common.NULL_CLUSTER, o.alloc.FreeDataCluster(nc)

	default: // FREE_CLEAN, CLEAN
		if i2 == common.NULL_CLUSTER {
			return common.NULL_CLUSTER, common.EDCNOTIL
		}
		dc2, err := common.ReadDataClust(o.dev, sb, i2)
		if err != nil {
			return common.NULL_CLUSTER, err
		}
		sub := dc2.Ref(k)
		if sub == common.NULL_CLUSTER {
			return common.NULL_CLUSTER, common.EDCNOTIL
		}
		dcs, err := common.ReadDataClust(o.dev, sb, sub)
		if err != nil {
			return common.NULL_CLUSTER, err
		}
		nc := dcs.Ref(m)
		if nc == common.NULL_CLUSTER {
			return common.NULL_CLUSTER, common.EDCNOTIL
		}
		if err := o.releaseRef(nInode, nc); err != nil {
			return common.NULL_CLUSTER, err
		}
		sb = o.sup.Get()
		if dcs, err = common.ReadDataClust(o.dev, sb, sub); err != nil {
			return common.NULL_CLUSTER, err
		}
		dcs.SetRef(m, common.NULL_CLUSTER)
		if err := common.WriteDataClust(o.dev, sb, sub, &dcs); err != nil {
			return common.NULL_CLUSTER, err
		}
		removed := uint32(1)
		subEmpty := refsAllNull(&dcs)
		i2Empty := false
		if subEmpty {
			if err := o.releaseRef(nInode, sub); err != nil {
				return common.NULL_CLUSTER, err
			}
			sb = o.sup.Get()
			if dc2, err = common.ReadDataClust(o.dev, sb, i2); err != nil {
				return common.NULL_CLUSTER, err
			}
			dc2.SetRef(k, common.NULL_CLUSTER)
			if err := common.WriteDataClust(o.dev, sb, i2, &dc2); err != nil {
				return common.NULL_CLUSTER, err
			}
			removed++
			i2Empty = refsAllNull(&dc2)
			if i2Empty {
				if err := o.releaseRef(nInode, i2); err != nil {
					return common.NULL_CLUSTER, err
				}
				removed++
			}
		}
		if p, err = o.it.InodeP(nInode); err != nil {
			return common.NULL_CLUSTER, err
		}
		p.CluCount -= removed
		if i2Empty {
			p.I2 = common.NULL_CLUSTER
		}
		return common.NULL_CLUSTER, o.it.StoreBlock()
	}
}
