// Package inode implements the operations on a whole inode record and the
// reference tree that maps a logical cluster index of a file to a data
// cluster: direct slots, a single indirect reference cluster and a double
// indirect reference cluster.
package inode

import (
	"os"
	"time"

	"github.com/luminoso/SOFS14/alloctbl"
	"github.com/luminoso/SOFS14/common"
	"github.com/luminoso/SOFS14/itable"
	"github.com/luminoso/SOFS14/super"
)

// Ops bundles the stores the per-inode operations work through. It
// implements common.Cleaner and is bound to the allocation table at file
// system wiring time.
type Ops struct {
	dev   common.BlockDevice
	sup   *super.Store
	it    *itable.Store
	alloc *alloctbl.AllocTbl

	// Identity of the requester, used by AccessGranted.
	Uid uint32
	Gid uint32
}

var _ common.Cleaner = (*Ops)(nil)

// New creates the per-inode operation layer.
func New(dev common.BlockDevice, sup *super.Store, it *itable.Store, alloc *alloctbl.AllocTbl) *Ops {
	return &Ops{
		dev:   dev,
		sup:   sup,
		it:    it,
		alloc: alloc,
		Uid:   uint32(os.Getuid()),
		Gid:   uint32(os.Getgid()),
	}
}

func now() uint32 { return uint32(time.Now().Unix()) }

// loadInode loads the table block holding nInode and validates the record
// against the expected state (IUIN or FDIN). The returned pointer is valid
// until the next table load.
func (o *Ops) loadInode(nInode uint32, state uint32) (*common.Inode, error) {
	sb := o.sup.Get()
	p, err := o.it.InodeP(nInode)
	if err != nil {
		return nil, err
	}
	switch state {
	case common.IUIN:
		if err := common.QCheckInodeIU(sb, p); err != nil {
			return nil, err
		}
	case common.FDIN:
		if err := common.QCheckFDInode(sb, p); err != nil {
			return nil, err
		}
	default:
		return nil, common.EINVAL
	}
	return p, nil
}

// ReadInode copies the inode record into the caller's storage. Reading an
// in-use inode refreshes its access time.
func (o *Ops) ReadInode(nInode uint32, state uint32) (common.Inode, error) {
	if err := o.sup.Load(); err != nil {
		return common.Inode{}, err
	}
	p, err := o.loadInode(nInode, state)
	if err != nil {
		return common.Inode{}, err
	}
	if state == common.IUIN {
		p.SetATime(now())
		if err := o.it.StoreBlock(); err != nil {
			return common.Inode{}, err
		}
	}
	return *p, nil
}

// WriteInode stores the caller's record into the table. Writing an in-use
// inode stamps both times.
func (o *Ops) WriteInode(nInode uint32, rec *common.Inode, state uint32) error {
	if err := o.sup.Load(); err != nil {
		return err
	}
	sb := o.sup.Get()
	nBlk, offset, err := o.it.Convert(nInode)
	if err != nil {
		return err
	}
	cp := *rec
	switch state {
	case common.IUIN:
		if err := common.QCheckInodeIU(sb, &cp); err != nil {
			return err
		}
		t := now()
		cp.SetTimes(t, t)
	case common.FDIN:
		if err := common.QCheckFDInode(sb, &cp); err != nil {
			return err
		}
	default:
		return common.EINVAL
	}
	if err := o.it.LoadBlock(nBlk); err != nil {
		return err
	}
	o.it.GetBlock()[offset] = cp
	return o.it.StoreBlock()
}

// CleanInode turns a free-dirty inode into a free-clean one, dissociating
// every data cluster it still references. Clusters that were never
// released to the repository are released on the way.
func (o *Ops) CleanInode(nInode uint32) error {
	if err := o.sup.Load(); err != nil {
		return err
	}
	if nInode == 0 {
		return common.EINVAL
	}
	if _, err := o.loadInode(nInode, common.FDIN); err != nil {
		return err
	}
	if err := o.HandleFileClusters(nInode, 0, common.CLEAN); err != nil {
		return err
	}
	// Re-acquire: the sweep went through the stores.
	p, err := o.it.InodeP(nInode)
	if err != nil {
		return err
	}
	if p.CluCount != 0 {
		return common.ELDCININVAL
	}
	p.Mode = common.INODE_FREE
	p.RefCount = 0
	p.Owner = 0
	p.Group = 0
	p.Size = 0
	return o.it.StoreBlock()
}

// AccessGranted checks the requested operations (a bitmask of R, W, X)
// against the inode's permission triplets for the requesting identity.
// Root always has read and write, and execute whenever anyone has it.
func (o *Ops) AccessGranted(nInode uint32, ops uint32) error {
	if ops == 0 || ops&^(common.R|common.W|common.X) != 0 {
		return common.EINVAL
	}
	if err := o.sup.Load(); err != nil {
		return err
	}
	p, err := o.loadInode(nInode, common.IUIN)
	if err != nil {
		return err
	}
	perm := uint32(p.Mode & common.INODE_PERM_MASK)

	var granted uint32
	switch {
	case o.Uid == 0:
		granted = common.R | common.W
		if perm&0o111 != 0 {
			granted |= common.X
		}
	case o.Uid == p.Owner:
		granted = perm >> 6 & 0o7
	case o.Gid == p.Group:
		granted = perm >> 3 & 0o7
	default:
		granted = perm & 0o7
	}
	if ops&^granted != 0 {
		return common.EACCES
	}
	return nil
}
