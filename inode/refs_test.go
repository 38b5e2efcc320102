package inode_test

import (
	"testing"

	"github.com/luminoso/SOFS14/common"
	"github.com/luminoso/SOFS14/device"
	"github.com/luminoso/SOFS14/fs"
	"github.com/luminoso/SOFS14/itable"
	"github.com/luminoso/SOFS14/testutils"
)

// openVolume formats a 100 block device: 24 inodes, 24 clusters.
func openVolume(test *testing.T) (*fs.FileSystem, *device.RamDevice) {
	dev := device.NewRamDevice(100)
	if err := fs.FormatDevice(dev, 100, fs.FormatOptions{Inodes: 8, Zero: true}); err != nil {
		testutils.FatalHere(test, "format failed: %s", err)
	}
	fsys, err := fs.MountDevice(dev)
	if err != nil {
		testutils.FatalHere(test, "mount failed: %s", err)
	}
	return fsys, dev
}

func freeCount(test *testing.T, fsys *fs.FileSystem) uint32 {
	if err := fsys.Super().Load(); err != nil {
		testutils.FatalHere(test, "superblock load failed: %s", err)
	}
	return fsys.Super().Get().DZoneFree
}

// Attach thirteen clusters at logical indices 0..12, spanning the direct
// slots and the start of the single indirect range, release them in
// reverse, free the inode dirty and let CleanInode settle the rest.
func TestFileClusterLifecycle(test *testing.T) {
	fsys, dev := openVolume(test)
	ino := fsys.Inode()
	alloc := fsys.Alloc()

	initial := freeCount(test, fsys) // 23
	n, err := alloc.AllocInode(common.INODE_FILE)
	if err != nil {
		testutils.FatalHere(test, "inode allocation failed: %s", err)
	}

	var got []uint32
	for ci := uint32(0); ci < 13; ci++ {
		nc, err := ino.HandleFileCluster(n, ci, common.ALLOC)
		if err != nil {
			testutils.FatalHere(test, "attach at index %d failed: %s", ci, err)
		}
		got = append(got, nc)
	}
	// Thirteen data clusters plus the single indirect reference cluster.
	if c := freeCount(test, fsys); c != initial-14 {
		testutils.ErrorHere(test, "free count %d after attach, expected %d", c, initial-14)
	}
	ip, err := ino.ReadInode(n, common.IUIN)
	if err != nil {
		testutils.FatalHere(test, "inode unreadable: %s", err)
	}
	if ip.CluCount != 14 {
		testutils.ErrorHere(test, "cluster count %d, expected 14", ip.CluCount)
	}
	if ip.I1 == common.NULL_CLUSTER || ip.I2 != common.NULL_CLUSTER {
		testutils.ErrorHere(test, "index cluster shape wrong: i1 %d i2 %d", ip.I1, ip.I2)
	}

	// GET agrees with what ALLOC handed out, and the sibling chain links
	// adjacent logical indices.
	for ci := uint32(0); ci < 13; ci++ {
		nc, err := ino.HandleFileCluster(n, ci, common.GET)
		if err != nil {
			testutils.FatalHere(test, "get at index %d failed: %s", ci, err)
		}
		if nc != got[ci] {
			testutils.ErrorHere(test, "index %d resolves to %d, expected %d", ci, nc, got[ci])
		}
	}
	fsys.Super().Load()
	sb := fsys.Super().Get()
	for ci := 1; ci < 13; ci++ {
		dc, err := common.ReadDataClust(dev, sb, got[ci])
		if err != nil {
			testutils.FatalHere(test, "cluster read failed: %s", err)
		}
		if dc.Prev != got[ci-1] {
			testutils.ErrorHere(test, "sibling chain broken at index %d: prev %d", ci, dc.Prev)
		}
		if dc.Stat != n {
			testutils.ErrorHere(test, "cluster %d stat %d", got[ci], dc.Stat)
		}
	}

	// Double allocation of a populated slot is refused.
	if _, err := ino.HandleFileCluster(n, 4, common.ALLOC); err != common.EDCARDYIL {
		testutils.ErrorHere(test, "double allocation returned %v", err)
	}

	// Release in reverse order, references kept: the clusters turn dirty
	// in the repository, the index cluster stays out.
	for ci := 12; ci >= 0; ci-- {
		if _, err := ino.HandleFileCluster(n, uint32(ci), common.FREE); err != nil {
			testutils.FatalHere(test, "release at index %d failed: %s", ci, err)
		}
	}
	if c := freeCount(test, fsys); c != initial-1 {
		testutils.ErrorHere(test, "free count %d after release, expected %d", c, initial-1)
	}

	if err := alloc.FreeInode(n); err != nil {
		testutils.FatalHere(test, "inode free failed: %s", err)
	}
	if err := ino.CleanInode(n); err != nil {
		testutils.FatalHere(test, "clean failed: %s", err)
	}
	if c := freeCount(test, fsys); c != initial {
		testutils.ErrorHere(test, "free count %d after clean, expected %d", c, initial)
	}
	// Everything is dissociated and the repository adds up.
	fsys.Super().Load()
	sb = fsys.Super().Get()
	sum, err := testutils.FreeClusterSum(dev, sb)
	if err != nil {
		testutils.FatalHere(test, "repository walk failed: %s", err)
	}
	if sum != sb.DZoneFree {
		testutils.ErrorHere(test, "repository sum %d, counter %d", sum, sb.DZoneFree)
	}
	for _, nc := range got {
		dc, err := common.ReadDataClust(dev, sb, nc)
		if err != nil {
			testutils.FatalHere(test, "cluster read failed: %s", err)
		}
		if dc.Stat != common.NULL_INODE {
			testutils.ErrorHere(test, "cluster %d still associated", nc)
		}
	}
	// A free-clean inode is neither in use nor free-dirty, so it is read
	// straight from the inode table.
	cleaned, err := itable.NewStore(dev, fsys.Super()).InodeP(n)
	if err != nil {
		testutils.FatalHere(test, "cleaned inode unreadable: %s", err)
	}
	if cleaned.Mode != common.INODE_FREE || cleaned.CluCount != 0 {
		testutils.ErrorHere(test, "inode not free-clean: %+v", cleaned)
	}
}

// Sparse allocation straight into the double indirect range.
func TestDoubleIndirect(test *testing.T) {
	fsys, _ := openVolume(test)
	ino := fsys.Inode()
	alloc := fsys.Alloc()

	initial := freeCount(test, fsys)
	n, err := alloc.AllocInode(common.INODE_FILE)
	if err != nil {
		testutils.FatalHere(test, "inode allocation failed: %s", err)
	}

	base := uint32(common.N_DIRECT + common.RPC)
	first, err := ino.HandleFileCluster(n, base, common.ALLOC)
	if err != nil {
		testutils.FatalHere(test, "double indirect attach failed: %s", err)
	}
	// i2, its first sub-index and the data cluster.
	ip, _ := ino.ReadInode(n, common.IUIN)
	if ip.CluCount != 3 || ip.I2 == common.NULL_CLUSTER {
		testutils.ErrorHere(test, "shape after first attach: count %d i2 %d", ip.CluCount, ip.I2)
	}

	// A second index in the same sub-index cluster adds only the data
	// cluster; one in the next sub-index adds a sub-index as well.
	if _, err := ino.HandleFileCluster(n, base+1, common.ALLOC); err != nil {
		testutils.FatalHere(test, "second attach failed: %s", err)
	}
	if _, err := ino.HandleFileCluster(n, base+common.RPC, common.ALLOC); err != nil {
		testutils.FatalHere(test, "next sub-index attach failed: %s", err)
	}
	ip, _ = ino.ReadInode(n, common.IUIN)
	if ip.CluCount != 6 {
		testutils.ErrorHere(test, "cluster count %d, expected 6", ip.CluCount)
	}

	got, err := ino.HandleFileCluster(n, base, common.GET)
	if err != nil || got != first {
		testutils.ErrorHere(test, "get at double indirect base: %d %v", got, err)
	}

	// Free and dissociate everything; the emptied index clusters go too.
	for _, ci := range []uint32{base, base + 1, base + common.RPC} {
		if _, err := ino.HandleFileCluster(n, ci, common.FREE_CLEAN); err != nil {
			testutils.FatalHere(test, "free-clean at %d failed: %s", ci, err)
		}
	}
	ip, _ = ino.ReadInode(n, common.IUIN)
	if ip.CluCount != 0 || ip.I2 != common.NULL_CLUSTER {
		testutils.ErrorHere(test, "tree not empty: count %d i2 %d", ip.CluCount, ip.I2)
	}
	if c := freeCount(test, fsys); c != initial {
		testutils.ErrorHere(test, "free count %d, expected %d", c, initial)
	}
}

func TestHandleFileClusterValidation(test *testing.T) {
	fsys, _ := openVolume(test)
	ino := fsys.Inode()
	alloc := fsys.Alloc()

	n, err := alloc.AllocInode(common.INODE_FILE)
	if err != nil {
		testutils.FatalHere(test, "inode allocation failed: %s", err)
	}
	if _, err := ino.HandleFileCluster(n, common.MAX_FILE_CLUSTERS, common.GET); err != common.EINVAL {
		testutils.ErrorHere(test, "out of range index returned %v", err)
	}
	if _, err := ino.HandleFileCluster(999, 0, common.GET); err != common.EINVAL {
		testutils.ErrorHere(test, "out of range inode returned %v", err)
	}
	if _, err := ino.HandleFileCluster(n, 0, 99); err != common.EINVAL {
		testutils.ErrorHere(test, "bad operation returned %v", err)
	}
	if _, err := ino.HandleFileCluster(n, 0, common.FREE); err != common.EDCNOTIL {
		testutils.ErrorHere(test, "free of an empty slot returned %v", err)
	}
	// CLEAN needs a free-dirty inode.
	if _, err := ino.HandleFileCluster(n, 0, common.CLEAN); err != common.EFDININVAL {
		testutils.ErrorHere(test, "clean of a live inode returned %v", err)
	}
	if _, err := ino.HandleFileCluster(n, common.N_DIRECT, common.GET); err != nil {
		testutils.ErrorHere(test, "get through an absent index cluster returned %v", err)
	}
}

// HandleFileClusters sweeps a whole range in one call.
func TestHandleFileClustersSweep(test *testing.T) {
	fsys, _ := openVolume(test)
	ino := fsys.Inode()
	alloc := fsys.Alloc()

	initial := freeCount(test, fsys)
	n, err := alloc.AllocInode(common.INODE_FILE)
	if err != nil {
		testutils.FatalHere(test, "inode allocation failed: %s", err)
	}
	for ci := uint32(0); ci < 10; ci++ {
		if _, err := ino.HandleFileCluster(n, ci, common.ALLOC); err != nil {
			testutils.FatalHere(test, "attach at %d failed: %s", ci, err)
		}
	}
	// Truncate from index 5 upward; the direct slots below stay.
	if err := ino.HandleFileClusters(n, 5, common.FREE_CLEAN); err != nil {
		testutils.FatalHere(test, "sweep failed: %s", err)
	}
	ip, _ := ino.ReadInode(n, common.IUIN)
	if ip.CluCount != 5 || ip.I1 != common.NULL_CLUSTER {
		testutils.ErrorHere(test, "shape after truncation: count %d i1 %d", ip.CluCount, ip.I1)
	}
	for ci := uint32(0); ci < 5; ci++ {
		nc, err := ino.HandleFileCluster(n, ci, common.GET)
		if err != nil || nc == common.NULL_CLUSTER {
			testutils.ErrorHere(test, "index %d lost below the truncation point", ci)
		}
	}
	if err := ino.HandleFileClusters(n, 0, common.FREE_CLEAN); err != nil {
		testutils.FatalHere(test, "full sweep failed: %s", err)
	}
	if c := freeCount(test, fsys); c != initial {
		testutils.ErrorHere(test, "free count %d after full sweep, expected %d", c, initial)
	}
}
