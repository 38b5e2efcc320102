package inode

import (
	"github.com/luminoso/SOFS14/common"
)

// ReadFileCluster copies the payload of the data cluster at logical index
// clustInd into buf, which must be BSLPC bytes. A hole reads as zeros.
func (o *Ops) ReadFileCluster(nInode, clustInd uint32, buf []byte) error {
	if len(buf) != common.BSLPC {
		return common.EINVAL
	}
	nc, err := o.HandleFileCluster(nInode, clustInd, common.GET)
	if err != nil {
		return err
	}
	if nc == common.NULL_CLUSTER {
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	sb := o.sup.Get()
	dc, err := common.ReadDataClust(o.dev, sb, nc)
	if err != nil {
		return err
	}
	copy(buf, dc.Info[:])
	return nil
}

// WriteFileCluster stores buf, which must be BSLPC bytes, as the payload of
// the data cluster at logical index clustInd, allocating the cluster when
// the slot is still a hole. The cluster header is preserved.
func (o *Ops) WriteFileCluster(nInode, clustInd uint32, buf []byte) error {
	if len(buf) != common.BSLPC {
		return common.EINVAL
	}
	nc, err := o.HandleFileCluster(nInode, clustInd, common.GET)
	if err != nil {
		return err
	}
	if nc == common.NULL_CLUSTER {
		if nc, err = o.HandleFileCluster(nInode, clustInd, common.ALLOC); err != nil {
			return err
		}
	}
	sb := o.sup.Get()
	dc, err := common.ReadDataClust(o.dev, sb, nc)
	if err != nil {
		return err
	}
	copy(dc.Info[:], buf)
	return common.WriteDataClust(o.dev, sb, nc, &dc)
}
