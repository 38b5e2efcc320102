package alloctbl_test

import (
	"testing"

	"github.com/luminoso/SOFS14/common"
	"github.com/luminoso/SOFS14/device"
	"github.com/luminoso/SOFS14/fs"
	"github.com/luminoso/SOFS14/testutils"
)

// openClusterVolume formats a device with 60 data clusters, enough to run
// the caches through replenish and deplete.
func openClusterVolume(test *testing.T) (*fs.FileSystem, *device.RamDevice) {
	dev := device.NewRamDevice(242)
	if err := fs.FormatDevice(dev, 242, fs.FormatOptions{Inodes: 8, Zero: true}); err != nil {
		testutils.FatalHere(test, "format failed: %s", err)
	}
	fsys, err := fs.MountDevice(dev)
	if err != nil {
		testutils.FatalHere(test, "mount failed: %s", err)
	}
	return fsys, dev
}

func checkRepository(test *testing.T, fsys *fs.FileSystem, dev *device.RamDevice) {
	if err := fsys.Super().Load(); err != nil {
		testutils.FatalHere(test, "superblock load failed: %s", err)
	}
	sb := fsys.Super().Get()
	sum, err := testutils.FreeClusterSum(dev, sb)
	if err != nil {
		testutils.FatalHere(test, "repository walk failed: %s", err)
	}
	if sum != sb.DZoneFree {
		testutils.ErrorHere(test, "repository sum %d, free counter %d", sum, sb.DZoneFree)
	}
}

func TestAllocDataClusterValidation(test *testing.T) {
	fsys, _ := openClusterVolume(test)
	alloc := fsys.Alloc()
	if _, err := alloc.AllocDataCluster(0); err != common.EINVAL {
		testutils.ErrorHere(test, "allocating for inode 0 returned %v", err)
	}
	if _, err := alloc.AllocDataCluster(999); err != common.EINVAL {
		testutils.ErrorHere(test, "allocating for an out of range inode returned %v", err)
	}
	// The owner must be in use.
	if _, err := alloc.AllocDataCluster(3); err != common.EIUININVAL {
		testutils.ErrorHere(test, "allocating for a free inode returned %v", err)
	}
}

func TestFreeDataClusterValidation(test *testing.T) {
	fsys, _ := openClusterVolume(test)
	alloc := fsys.Alloc()
	if err := alloc.FreeDataCluster(0); err != common.EINVAL {
		testutils.ErrorHere(test, "freeing cluster 0 returned %v", err)
	}
	if err := alloc.FreeDataCluster(60); err != common.EINVAL {
		testutils.ErrorHere(test, "freeing an out of range cluster returned %v", err)
	}
	// A cluster sitting in the repository cannot be freed again.
	if err := alloc.FreeDataCluster(7); err != common.EDCINVAL && err != common.EDCARDYIL {
		testutils.ErrorHere(test, "freeing a free cluster returned %v", err)
	}
}

// Drive the retrieval cache through replenish and the insertion cache
// through deplete, checking the three-place invariant along the way.
func TestClusterCachesCycle(test *testing.T) {
	fsys, dev := openClusterVolume(test)
	alloc := fsys.Alloc()

	n, err := alloc.AllocInode(common.INODE_FILE)
	if err != nil {
		testutils.FatalHere(test, "inode allocation failed: %s", err)
	}

	// More allocations than one cache load forces a second replenish.
	var clusters []uint32
	for i := 0; i < 30; i++ {
		nc, err := alloc.AllocDataCluster(n)
		if err != nil {
			testutils.FatalHere(test, "cluster allocation %d failed: %s", i, err)
		}
		clusters = append(clusters, nc)
		checkRepository(test, fsys, dev)
	}
	fsys.Super().Load()
	sb := fsys.Super().Get()
	if sb.DZoneFree != 59-30 {
		testutils.ErrorHere(test, "free counter %d after 30 allocations", sb.DZoneFree)
	}
	for _, nc := range clusters {
		dc, err := common.ReadDataClust(dev, sb, nc)
		if err != nil {
			testutils.FatalHere(test, "cluster %d unreadable: %s", nc, err)
		}
		if dc.Stat != n {
			testutils.ErrorHere(test, "cluster %d stat %d, expected %d", nc, dc.Stat, n)
		}
	}

	// More frees than the insertion cache holds forces a deplete.
	for i, nc := range clusters {
		if err := alloc.FreeDataCluster(nc); err != nil {
			testutils.FatalHere(test, "cluster free %d failed: %s", i, err)
		}
		checkRepository(test, fsys, dev)
	}
	fsys.Super().Load()
	sb = fsys.Super().Get()
	if sb.DZoneFree != 59 {
		testutils.ErrorHere(test, "free counter %d after refill", sb.DZoneFree)
	}
}

// Exhaust the data zone; the allocation past the last free cluster fails
// with no-space, and freeing everything restores the counter.
func TestClusterExhaustion(test *testing.T) {
	fsys, dev := openClusterVolume(test)
	alloc := fsys.Alloc()

	n, err := alloc.AllocInode(common.INODE_FILE)
	if err != nil {
		testutils.FatalHere(test, "inode allocation failed: %s", err)
	}
	var clusters []uint32
	for {
		nc, err := alloc.AllocDataCluster(n)
		if err == common.ENOSPC {
			break
		}
		if err != nil {
			testutils.FatalHere(test, "cluster allocation failed: %s", err)
		}
		clusters = append(clusters, nc)
	}
	if len(clusters) != 59 {
		testutils.ErrorHere(test, "allocated %d clusters, expected 59", len(clusters))
	}
	seen := map[uint32]bool{}
	for _, nc := range clusters {
		if seen[nc] {
			testutils.ErrorHere(test, "cluster %d allocated twice", nc)
		}
		seen[nc] = true
	}
	for _, nc := range clusters {
		if err := alloc.FreeDataCluster(nc); err != nil {
			testutils.FatalHere(test, "cluster free failed: %s", err)
		}
	}
	checkRepository(test, fsys, dev)
}
