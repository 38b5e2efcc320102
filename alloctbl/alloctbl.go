// Package alloctbl manages the allocation state of the file system: the
// double-linked list of free inodes threaded through the inode table, and
// the repository of free data clusters (the two in-superblock caches plus
// the on-disk double-linked list threaded through the clusters themselves).
package alloctbl

import (
	"os"
	"time"

	"github.com/luminoso/SOFS14/common"
	"github.com/luminoso/SOFS14/itable"
	"github.com/luminoso/SOFS14/super"
)

// AllocTbl allocates and frees inodes and data clusters. The free inode
// list is FIFO: allocation pops at the head, freeing pushes at the tail.
type AllocTbl struct {
	dev     common.BlockDevice
	sup     *super.Store
	it      *itable.Store
	cleaner common.Cleaner

	// Identity given to freshly allocated inodes.
	Uid uint32
	Gid uint32
}

// New creates an allocation table over the given stores. The cleaner used
// for dirty inodes and clusters is bound later, once the per-inode
// operation layer exists.
func New(dev common.BlockDevice, sup *super.Store, it *itable.Store) *AllocTbl {
	return &AllocTbl{
		dev: dev,
		sup: sup,
		it:  it,
		Uid: uint32(os.Getuid()),
		Gid: uint32(os.Getgid()),
	}
}

// Bind attaches the cleaner invoked when a dirty inode or data cluster is
// recycled.
func (a *AllocTbl) Bind(c common.Cleaner) { a.cleaner = c }

func now() uint32 { return uint32(time.Now().Unix()) }

// AllocInode pops the head of the free inode list, cleans it if it is
// dirty, and initializes it as an in-use inode of the given type with no
// data clusters. It returns the inode number.
func (a *AllocTbl) AllocInode(typ uint16) (uint32, error) {
	if typ != common.INODE_DIR && typ != common.INODE_FILE && typ != common.INODE_SYMLINK {
		return 0, common.EINVAL
	}
	if err := a.sup.Load(); err != nil {
		return 0, err
	}
	sb := a.sup.Get()
	if sb.IFree == 0 {
		return 0, common.ENOSPC
	}
	nInode := sb.IHead
	if nInode == 0 || nInode >= sb.ITotal {
		return 0, common.ELIBBAD
	}
	p, err := a.it.InodeP(nInode)
	if err != nil {
		return 0, err
	}
	if err := common.QCheckFInode(p); err != nil {
		return 0, err
	}
	if p.IsDirty() {
		// Release the dangling cluster references before reuse. The
		// cleaner goes through the stores, so every pointer held here is
		// stale afterwards and must be re-acquired.
		if err := a.cleaner.CleanInode(nInode); err != nil {
			return 0, err
		}
		if err := a.sup.Load(); err != nil {
			return 0, err
		}
		sb = a.sup.Get()
		if p, err = a.it.InodeP(nInode); err != nil {
			return 0, err
		}
	}
	next := p.Next()

	p.Mode = typ
	p.RefCount = 0
	p.Owner = a.Uid
	p.Group = a.Gid
	p.Size = 0
	p.CluCount = 0
	for i := 0; i < common.N_DIRECT; i++ {
		p.D[i] = common.NULL_CLUSTER
	}
	p.I1 = common.NULL_CLUSTER
	p.I2 = common.NULL_CLUSTER
	t := now()
	p.SetTimes(t, t)
	if err := a.it.StoreBlock(); err != nil {
		return 0, err
	}

	sb.IHead = next
	if next == common.NULL_INODE {
		sb.ITail = common.NULL_INODE
	} else {
		q, err := a.it.InodeP(next)
		if err != nil {
			return 0, err
		}
		q.SetPrev(common.NULL_INODE)
		if err := a.it.StoreBlock(); err != nil {
			return 0, err
		}
	}
	sb.IFree--
	if err := a.sup.Store(); err != nil {
		return 0, err
	}
	return nInode, nil
}

// FreeInode marks an in-use inode free in the dirty state and appends it to
// the tail of the free inode list. The inode's data clusters are not
// released here; callers free them through the reference tree first.
func (a *AllocTbl) FreeInode(nInode uint32) error {
	if err := a.sup.Load(); err != nil {
		return err
	}
	sb := a.sup.Get()
	if nInode == 0 || nInode >= sb.ITotal {
		return common.EINVAL
	}
	p, err := a.it.InodeP(nInode)
	if err != nil {
		return err
	}
	if err := common.QCheckInodeIU(sb, p); err != nil {
		return err
	}

	p.Mode |= common.INODE_FREE // type bits stay: recognisably dirty
	p.SetFreeLink(common.NULL_INODE, sb.ITail)
	if err := a.it.StoreBlock(); err != nil {
		return err
	}

	if sb.IFree == 0 {
		sb.IHead = nInode
		sb.ITail = nInode
	} else {
		t, err := a.it.InodeP(sb.ITail)
		if err != nil {
			return err
		}
		t.SetNext(nInode)
		if err := a.it.StoreBlock(); err != nil {
			return err
		}
		sb.ITail = nInode
	}
	sb.IFree++
	return a.sup.Store()
}
