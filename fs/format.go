package fs

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/luminoso/SOFS14/bcache"
	"github.com/luminoso/SOFS14/common"
	"github.com/luminoso/SOFS14/device"
	"github.com/luminoso/SOFS14/itable"
	"github.com/luminoso/SOFS14/super"
)

// FormatOptions configure the formatter.
type FormatOptions struct {
	Label  string // volume label, default "SOFS14"
	Inodes uint32 // requested inode count, 0 selects one per eight blocks
	Zero   bool   // zero-fill the payload of every free cluster
}

// Format initialises the regular file at path as an empty SOFS14 volume
// with a root directory.
func Format(path string, opts FormatOptions) error {
	raw, err := device.Open(path)
	if err != nil {
		return err
	}
	cache := bcache.NewCache(raw, 0)
	if err := FormatDevice(cache, raw.NBlocks(), opts); err != nil {
		cache.Close()
		return err
	}
	return cache.Close()
}

// FormatDevice formats an open device of nblocks blocks.
//
// The superblock is written first with the sentinel magic number; it is
// flipped to the real one only after the inode table, the root directory
// and the free cluster list are all in place and re-checked, so a failed
// format leaves an unmountable device.
func FormatDevice(dev common.BlockDevice, nblocks uint32, opts FormatOptions) error {
	label := opts.Label
	if label == "" {
		label = "SOFS14"
	}
	layout, err := super.ComputeLayout(int64(nblocks)*common.BLOCK_SIZE, opts.Inodes)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{
		"name":     label,
		"inodes":   layout.ITotal,
		"clusters": layout.DZoneTotal,
	})
	log.Debug("formatting volume")

	sb := &common.SuperBlock{
		Magic:       common.MAGIC_SENTINEL,
		Version:     common.VERSION_NUMBER,
		MStat:       common.PRU,
		NTotal:      layout.NTotal,
		ITableStart: 1,
		ITableSize:  layout.ITableSize,
		ITotal:      layout.ITotal,
		IFree:       layout.ITotal - 1, // inode 0 holds the root directory
		IHead:       1,
		ITail:       layout.ITotal - 1,
		DZoneStart:  layout.DZoneStart,
		DZoneTotal:  layout.DZoneTotal,
		DZoneFree:   layout.DZoneTotal - 1, // cluster 0 holds the root directory
		DHead:       1,
		DTail:       layout.DZoneTotal - 1,
	}
	sb.SetName(label)
	sb.DZoneRetriev.CacheIdx = common.DZONE_CACHE_SIZE
	for i := 0; i < common.DZONE_CACHE_SIZE; i++ {
		sb.DZoneRetriev.Cache[i] = common.NULL_CLUSTER
		sb.DZoneInsert.Cache[i] = common.NULL_CLUSTER
	}
	id := uuid.New()
	copy(sb.FSID[:], id[:])

	sup := super.NewStore(dev)
	sup.Reset(sb)
	if err := sup.Store(); err != nil {
		return err
	}
	if err := fillInodeTable(dev, sup, sb); err != nil {
		return err
	}
	if err := fillRootDir(dev, sb); err != nil {
		return err
	}
	if err := fillClusterRepository(dev, sb, opts.Zero); err != nil {
		return err
	}
	if err := checkFormat(dev, sup, sb); err != nil {
		return err
	}

	sb.Magic = common.MAGIC_NUMBER
	if err := sup.Store(); err != nil {
		return err
	}
	log.WithField("fsid", id.String()).Info("volume formatted")
	return nil
}

// fillInodeTable writes inode 0 as the root directory and threads every
// other inode into the free list as free-clean records.
func fillInodeTable(dev common.BlockDevice, sup *super.Store, sb *common.SuperBlock) error {
	it := itable.NewStore(dev, sup)
	t := now()
	for b := uint32(0); b < sb.ITableSize; b++ {
		if err := it.LoadBlock(b); err != nil {
			return err
		}
		blk := it.GetBlock()
		for off := uint32(0); off < common.IPB; off++ {
			n := b*common.IPB + off
			ip := common.Inode{}
			if n == 0 {
				ip.Mode = common.INODE_DIR | common.INODE_PERM_MASK
				ip.RefCount = 2 // "." plus its own ".."
				ip.Owner = uint32(osUid())
				ip.Group = uint32(osGid())
				ip.Size = common.BSLPC
				ip.CluCount = 1
				ip.D[0] = 0
				for i := 1; i < common.N_DIRECT; i++ {
					ip.D[i] = common.NULL_CLUSTER
				}
				ip.I1 = common.NULL_CLUSTER
				ip.I2 = common.NULL_CLUSTER
				ip.SetTimes(t, t)
			} else {
				ip.Mode = common.INODE_FREE
				for i := 0; i < common.N_DIRECT; i++ {
					ip.D[i] = common.NULL_CLUSTER
				}
				ip.I1 = common.NULL_CLUSTER
				ip.I2 = common.NULL_CLUSTER
				next := n + 1
				if next == sb.ITotal {
					ip.SetFreeLink(common.NULL_INODE, n-1)
				} else if n == 1 {
					ip.SetFreeLink(next, common.NULL_INODE)
				} else {
					ip.SetFreeLink(next, n-1)
				}
			}
			blk[off] = ip
		}
		if err := it.StoreBlock(); err != nil {
			return err
		}
	}
	return nil
}

// fillRootDir writes cluster 0 as the root directory's first cluster, with
// "." and ".." both referencing inode 0.
func fillRootDir(dev common.BlockDevice, sb *common.SuperBlock) error {
	var dc common.DataClust
	dc.Prev = common.NULL_CLUSTER
	dc.Next = common.NULL_CLUSTER
	dc.Stat = 0
	dc.FillDirEntries()
	var dot common.DirEntry
	dot.SetName(".")
	dot.NInode = 0
	dc.SetDirEntry(0, dot)
	var dotdot common.DirEntry
	dotdot.SetName("..")
	dotdot.NInode = 0
	dc.SetDirEntry(1, dotdot)
	return common.WriteDataClust(dev, sb, 0, &dc)
}

// fillClusterRepository threads every cluster past the root one into the
// on-disk free list. Without zero mode only the header-carrying block of
// each cluster is written.
func fillClusterRepository(dev common.BlockDevice, sb *common.SuperBlock, zero bool) error {
	var dc common.DataClust
	dc.Stat = common.NULL_INODE
	var buf [common.CLUSTER_SIZE]byte
	for n := uint32(1); n < sb.DZoneTotal; n++ {
		if n == 1 {
			dc.Prev = common.NULL_CLUSTER
		} else {
			dc.Prev = n - 1
		}
		if n == sb.DZoneTotal-1 {
			dc.Next = common.NULL_CLUSTER
		} else {
			dc.Next = n + 1
		}
		dc.Pack(buf[:])
		if zero {
			if err := common.WriteCluster(dev, sb.PhysClust(n), buf[:]); err != nil {
				return err
			}
		} else if err := dev.WriteBlock(sb.PhysClust(n), buf[:common.BLOCK_SIZE]); err != nil {
			return err
		}
	}
	return nil
}

// checkFormat re-validates the metadata before the magic number flip.
func checkFormat(dev common.BlockDevice, sup *super.Store, sb *common.SuperBlock) error {
	if err := common.QCheckSuperBlock(sb); err != nil {
		return err
	}
	it := itable.NewStore(dev, sup)
	root, err := it.InodeP(0)
	if err != nil {
		return err
	}
	if err := common.QCheckInodeIU(sb, root); err != nil {
		return err
	}
	if !root.IsDirectory() || root.D[0] != 0 {
		return common.ELIBBAD
	}
	dc, err := common.ReadDataClust(dev, sb, 0)
	if err != nil {
		return err
	}
	if dc.Stat != 0 {
		return common.EDCINVAL
	}
	d0 := dc.DirEntry(0)
	d1 := dc.DirEntry(1)
	if d0.NameString() != "." || d0.NInode != 0 || d1.NameString() != ".." || d1.NInode != 0 {
		return common.ELIBBAD
	}
	return nil
}
