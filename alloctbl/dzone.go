package alloctbl

import (
	"github.com/luminoso/SOFS14/common"
)

// Free data clusters live in three places at once: the retrieval cache
// (drained by AllocDataCluster), the insertion cache (filled by
// FreeDataCluster) and the on-disk double-linked list threaded through the
// prev/next header words of the free clusters, endpoints in the
// superblock. The occupancy of the three always sums to DZoneFree.

func (a *AllocTbl) readClust(sb *common.SuperBlock, nLClust uint32) (common.DataClust, error) {
	return common.ReadDataClust(a.dev, sb, nLClust)
}

func (a *AllocTbl) writeClust(sb *common.SuperBlock, nLClust uint32, dc *common.DataClust) error {
	return common.WriteDataClust(a.dev, sb, nLClust, dc)
}

// inRepository reports whether nLClust is already held by the repository,
// searching both caches and walking the on-disk list.
func (a *AllocTbl) inRepository(sb *common.SuperBlock, nLClust uint32) (bool, error) {
	for i := sb.DZoneRetriev.CacheIdx; i < common.DZONE_CACHE_SIZE; i++ {
		if sb.DZoneRetriev.Cache[i] == nLClust {
			return true, nil
		}
	}
	for i := uint32(0); i < sb.DZoneInsert.CacheIdx; i++ {
		if sb.DZoneInsert.Cache[i] == nLClust {
			return true, nil
		}
	}
	hops := uint32(0)
	for n := sb.DHead; n != common.NULL_CLUSTER; {
		if n == nLClust {
			return true, nil
		}
		if n >= sb.DZoneTotal || hops > sb.DZoneTotal {
			return false, common.ELIBBAD
		}
		dc, err := a.readClust(sb, n)
		if err != nil {
			return false, err
		}
		n = dc.Next
		hops++
	}
	return false, nil
}

// AllocDataCluster takes a cluster from the retrieval cache, replenishing
// it from the on-disk list when exhausted, and associates the cluster to
// the given inode. A cluster that is still associated to a previous inode
// (released without dissociation) is cleaned first.
func (a *AllocTbl) AllocDataCluster(nInode uint32) (uint32, error) {
	if err := a.sup.Load(); err != nil {
		return 0, err
	}
	sb := a.sup.Get()
	if nInode == 0 || nInode >= sb.ITotal {
		return 0, common.EINVAL
	}
	if sb.DZoneFree == 0 {
		return 0, common.ENOSPC
	}
	p, err := a.it.InodeP(nInode)
	if err != nil {
		return 0, err
	}
	if err := common.QCheckInodeIU(sb, p); err != nil {
		return 0, err
	}

	if sb.DZoneRetriev.CacheIdx == common.DZONE_CACHE_SIZE {
		if err := a.replenish(sb); err != nil {
			return 0, err
		}
	}
	idx := sb.DZoneRetriev.CacheIdx
	nClust := sb.DZoneRetriev.Cache[idx]
	sb.DZoneRetriev.Cache[idx] = common.NULL_CLUSTER
	sb.DZoneRetriev.CacheIdx++
	sb.DZoneFree--
	// Persist the pop before any cleaning detour; the cleaner reloads the
	// superblock through the same store.
	if err := a.sup.Store(); err != nil {
		return 0, err
	}

	dc, err := a.readClust(sb, nClust)
	if err != nil {
		return 0, err
	}
	if dc.Stat != common.NULL_INODE {
		if err := a.cleaner.CleanDataCluster(dc.Stat, nClust); err != nil {
			return 0, err
		}
		if err := a.sup.Load(); err != nil {
			return 0, err
		}
		sb = a.sup.Get()
		if dc, err = a.readClust(sb, nClust); err != nil {
			return 0, err
		}
	}
	dc.Prev = common.NULL_CLUSTER
	dc.Next = common.NULL_CLUSTER
	dc.Stat = nInode
	if err := a.writeClust(sb, nClust, &dc); err != nil {
		return 0, err
	}
	return nClust, nil
}

// FreeDataCluster releases an allocated cluster into the insertion cache,
// depleting the cache into the on-disk list when full. The stat header
// word is left untouched, so the cluster stays associated (dirty) until it
// is dissociated or recycled.
func (a *AllocTbl) FreeDataCluster(nLClust uint32) error {
	if err := a.sup.Load(); err != nil {
		return err
	}
	sb := a.sup.Get()
	if nLClust == 0 || nLClust >= sb.DZoneTotal {
		return common.EINVAL
	}
	dc, err := a.readClust(sb, nLClust)
	if err != nil {
		return err
	}
	if err := common.QCheckDCHeader(sb, &dc); err != nil {
		return err
	}
	if dc.Stat == common.NULL_INODE {
		return common.EDCINVAL // nothing owns it; it cannot be "released"
	}
	in, err := a.inRepository(sb, nLClust)
	if err != nil {
		return err
	}
	if in {
		return common.EDCARDYIL
	}

	dc.Prev = common.NULL_CLUSTER
	dc.Next = common.NULL_CLUSTER
	if err := a.writeClust(sb, nLClust, &dc); err != nil {
		return err
	}
	if sb.DZoneInsert.CacheIdx == common.DZONE_CACHE_SIZE {
		if err := a.deplete(sb); err != nil {
			return err
		}
	}
	sb.DZoneInsert.Cache[sb.DZoneInsert.CacheIdx] = nLClust
	sb.DZoneInsert.CacheIdx++
	sb.DZoneFree++
	return a.sup.Store()
}

// replenish drains the on-disk list into the retrieval cache. When the
// list runs out before the cache is satisfied, the insertion cache is
// depleted onto the list first and the walk resumes.
func (a *AllocTbl) replenish(sb *common.SuperBlock) error {
	nctt := sb.DZoneFree
	if nctt > common.DZONE_CACHE_SIZE {
		nctt = common.DZONE_CACHE_SIZE
	}
	n := common.DZONE_CACHE_SIZE - nctt
	nLClust := sb.DHead
	for ; n < common.DZONE_CACHE_SIZE; n++ {
		if nLClust == common.NULL_CLUSTER {
			break
		}
		dc, err := a.readClust(sb, nLClust)
		if err != nil {
			return err
		}
		sb.DZoneRetriev.Cache[n] = nLClust
		nLClust = dc.Next
		dc.Prev = common.NULL_CLUSTER
		dc.Next = common.NULL_CLUSTER
		if err := a.writeClust(sb, sb.DZoneRetriev.Cache[n], &dc); err != nil {
			return err
		}
	}
	if n != common.DZONE_CACHE_SIZE {
		// The on-disk list ran dry; the remainder is sitting in the
		// insertion cache.
		sb.DHead = common.NULL_CLUSTER
		sb.DTail = common.NULL_CLUSTER
		if err := a.deplete(sb); err != nil {
			return err
		}
		nLClust = sb.DHead
		for ; n < common.DZONE_CACHE_SIZE; n++ {
			if nLClust == common.NULL_CLUSTER {
				return common.ELIBBAD // free count says there should be more
			}
			dc, err := a.readClust(sb, nLClust)
			if err != nil {
				return err
			}
			sb.DZoneRetriev.Cache[n] = nLClust
			nLClust = dc.Next
			dc.Prev = common.NULL_CLUSTER
			dc.Next = common.NULL_CLUSTER
			if err := a.writeClust(sb, sb.DZoneRetriev.Cache[n], &dc); err != nil {
				return err
			}
		}
	}
	if nLClust != common.NULL_CLUSTER {
		dc, err := a.readClust(sb, nLClust)
		if err != nil {
			return err
		}
		dc.Prev = common.NULL_CLUSTER
		if err := a.writeClust(sb, nLClust, &dc); err != nil {
			return err
		}
	} else {
		sb.DTail = common.NULL_CLUSTER
	}
	sb.DHead = nLClust
	sb.DZoneRetriev.CacheIdx = common.DZONE_CACHE_SIZE - nctt
	return nil
}

// deplete appends the insertion cache, in order, to the on-disk list and
// empties it.
func (a *AllocTbl) deplete(sb *common.SuperBlock) error {
	last := sb.DZoneInsert.CacheIdx
	if last == 0 {
		return nil
	}
	oldTail := sb.DTail
	if oldTail != common.NULL_CLUSTER {
		dc, err := a.readClust(sb, oldTail)
		if err != nil {
			return err
		}
		dc.Next = sb.DZoneInsert.Cache[0]
		if err := a.writeClust(sb, oldTail, &dc); err != nil {
			return err
		}
	}
	for k := uint32(0); k < last; k++ {
		nLClust := sb.DZoneInsert.Cache[k]
		dc, err := a.readClust(sb, nLClust)
		if err != nil {
			return err
		}
		if k == 0 {
			dc.Prev = oldTail
		} else {
			dc.Prev = sb.DZoneInsert.Cache[k-1]
		}
		if k == last-1 {
			dc.Next = common.NULL_CLUSTER
		} else {
			dc.Next = sb.DZoneInsert.Cache[k+1]
		}
		if err := a.writeClust(sb, nLClust, &dc); err != nil {
			return err
		}
	}
	sb.DTail = sb.DZoneInsert.Cache[last-1]
	if sb.DHead == common.NULL_CLUSTER {
		sb.DHead = sb.DZoneInsert.Cache[0]
	}
	for k := uint32(0); k < common.DZONE_CACHE_SIZE; k++ {
		sb.DZoneInsert.Cache[k] = common.NULL_CLUSTER
	}
	sb.DZoneInsert.CacheIdx = 0
	return nil
}
