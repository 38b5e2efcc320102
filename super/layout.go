package super

import (
	"github.com/luminoso/SOFS14/common"
)

// Layout describes how a device of a given size is split between the
// superblock, the inode table and the data zone.
type Layout struct {
	NTotal     uint32 // device size in blocks
	ITableSize uint32 // blocks occupied by the inode table
	ITotal     uint32 // inodes in the table
	DZoneStart uint32 // physical block where the data zone begins
	DZoneTotal uint32 // clusters in the data zone
}

// ComputeLayout derives the partition of a device of sizeBytes into
// metadata and data. itotal is the requested number of inodes; zero selects
// the default of one inode per eight blocks. Full occupation of the device
// requires
//
//	ntotal = 1 + itableSize + dzoneTotal*BLOCKS_PER_CLUSTER
//
// to have an integer solution, so after sizing the data zone the inode
// table is re-derived to absorb the remainder blocks.
func ComputeLayout(sizeBytes int64, itotal uint32) (Layout, error) {
	if sizeBytes <= 0 || sizeBytes%common.BLOCK_SIZE != 0 {
		return Layout{}, common.EINVAL
	}
	ntotal := uint32(sizeBytes / common.BLOCK_SIZE)
	if itotal == 0 {
		itotal = ntotal / 8
	}
	iblktotal := itotal / common.IPB
	if itotal%common.IPB != 0 {
		iblktotal++
	}
	if ntotal < 1+iblktotal+common.BLOCKS_PER_CLUSTER {
		return Layout{}, common.EINVAL
	}
	dzoneTotal := (ntotal - 1 - iblktotal) / common.BLOCKS_PER_CLUSTER
	// Final adjustment: give the remainder blocks back to the inode table.
	iblktotal = ntotal - 1 - dzoneTotal*common.BLOCKS_PER_CLUSTER
	itotal = iblktotal * common.IPB

	if dzoneTotal < 2 || itotal < 2 {
		return Layout{}, common.EINVAL
	}
	return Layout{
		NTotal:     ntotal,
		ITableSize: iblktotal,
		ITotal:     itotal,
		DZoneStart: 1 + iblktotal,
		DZoneTotal: dzoneTotal,
	}, nil
}
