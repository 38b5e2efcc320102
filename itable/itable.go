// Package itable maintains the single loaded block of the inode table.
//
// The table occupies the blocks between the superblock and the data zone;
// inode n lives in block n/IPB at offset n%IPB. The store holds at most one
// block at a time: crossing a block boundary requires an explicit Store
// followed by a Load, and any routine that calls a helper which may touch
// the table must re-acquire its block pointer on return.
package itable

import (
	"github.com/luminoso/SOFS14/common"
	"github.com/luminoso/SOFS14/super"
)

// Store is the single-slot inode table block store.
type Store struct {
	dev    common.BlockDevice
	sup    *super.Store
	blk    [common.IPB]common.Inode
	nBlk   uint32
	loaded bool
}

// NewStore creates an inode table store over dev, using sup for the table
// geometry.
func NewStore(dev common.BlockDevice, sup *super.Store) *Store {
	return &Store{dev: dev, sup: sup}
}

// Convert maps an inode number to its (block, offset) coordinates within
// the table.
func (s *Store) Convert(n uint32) (nBlk, offset uint32, err error) {
	sb := s.sup.Get()
	if n >= sb.ITotal {
		return 0, 0, common.EINVAL
	}
	return n / common.IPB, n % common.IPB, nil
}

// LoadBlock reads table block nBlk into the store, replacing whatever was
// loaded. Pointers obtained from GetBlock before this call are stale.
func (s *Store) LoadBlock(nBlk uint32) error {
	sb := s.sup.Get()
	if nBlk >= sb.ITableSize {
		return common.EINVAL
	}
	var buf [common.BLOCK_SIZE]byte
	if err := s.dev.ReadBlock(sb.ITableStart+nBlk, buf[:]); err != nil {
		return err
	}
	for i := 0; i < common.IPB; i++ {
		s.blk[i] = common.UnpackInode(buf[i*common.INODE_SIZE:])
	}
	s.nBlk = nBlk
	s.loaded = true
	return nil
}

// GetBlock returns the loaded block as a slice of IPB inodes. It panics
// when no block is loaded.
func (s *Store) GetBlock() []common.Inode {
	if !s.loaded {
		panic("itable: GetBlock before LoadBlock")
	}
	return s.blk[:]
}

// BlockNum returns the table block number currently loaded.
func (s *Store) BlockNum() uint32 {
	if !s.loaded {
		panic("itable: BlockNum before LoadBlock")
	}
	return s.nBlk
}

// StoreBlock writes the loaded block back to the device.
func (s *Store) StoreBlock() error {
	if !s.loaded {
		panic("itable: StoreBlock before LoadBlock")
	}
	sb := s.sup.Get()
	var buf [common.BLOCK_SIZE]byte
	for i := 0; i < common.IPB; i++ {
		common.PackInode(&s.blk[i], buf[i*common.INODE_SIZE:])
	}
	return s.dev.WriteBlock(sb.ITableStart+s.nBlk, buf[:])
}

// InodeP converts n, loads its block and returns a pointer to the record
// within the store. The pointer is valid until the next LoadBlock.
func (s *Store) InodeP(n uint32) (*common.Inode, error) {
	nBlk, offset, err := s.Convert(n)
	if err != nil {
		return nil, err
	}
	if err := s.LoadBlock(nBlk); err != nil {
		return nil, err
	}
	return &s.blk[offset], nil
}
