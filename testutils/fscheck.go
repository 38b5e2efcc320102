package testutils

import (
	"github.com/luminoso/SOFS14/common"
	"github.com/luminoso/SOFS14/itable"
	"github.com/luminoso/SOFS14/super"
)

// FreeClusterSum counts the free clusters reachable through the
// repository: retrieval cache occupancy, insertion cache occupancy and the
// length of the on-disk list. A consistent volume has this equal to the
// superblock's free cluster counter.
func FreeClusterSum(dev common.BlockDevice, sb *common.SuperBlock) (uint32, error) {
	total := uint32(0)
	for i := sb.DZoneRetriev.CacheIdx; i < common.DZONE_CACHE_SIZE; i++ {
		if sb.DZoneRetriev.Cache[i] != common.NULL_CLUSTER {
			total++
		}
	}
	for i := uint32(0); i < sb.DZoneInsert.CacheIdx; i++ {
		if sb.DZoneInsert.Cache[i] != common.NULL_CLUSTER {
			total++
		}
	}
	hops := uint32(0)
	for n := sb.DHead; n != common.NULL_CLUSTER; {
		if n >= sb.DZoneTotal || hops > sb.DZoneTotal {
			return 0, common.ELIBBAD
		}
		dc, err := common.ReadDataClust(dev, sb, n)
		if err != nil {
			return 0, err
		}
		total++
		hops++
		n = dc.Next
	}
	return total, nil
}

// FreeInodeChain walks the free inode list head to tail and returns the
// inode numbers in order. It fails with ELIBBAD when the backward walk
// does not mirror the forward one.
func FreeInodeChain(dev common.BlockDevice, sup *super.Store, sb *common.SuperBlock) ([]uint32, error) {
	it := itable.NewStore(dev, sup)
	var forward []uint32
	for n := sb.IHead; n != common.NULL_INODE; {
		if n >= sb.ITotal || uint32(len(forward)) > sb.ITotal {
			return nil, common.ELIBBAD
		}
		forward = append(forward, n)
		p, err := it.InodeP(n)
		if err != nil {
			return nil, err
		}
		n = p.Next()
	}
	var backward []uint32
	for n := sb.ITail; n != common.NULL_INODE; {
		if n >= sb.ITotal || uint32(len(backward)) > sb.ITotal {
			return nil, common.ELIBBAD
		}
		backward = append(backward, n)
		p, err := it.InodeP(n)
		if err != nil {
			return nil, err
		}
		n = p.Prev()
	}
	if len(forward) != len(backward) {
		return nil, common.ELIBBAD
	}
	for i := range forward {
		if forward[i] != backward[len(backward)-1-i] {
			return nil, common.ELIBBAD
		}
	}
	return forward, nil
}
