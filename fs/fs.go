// Package fs wires the metadata engine together and exposes the mount
// lifecycle and the POSIX-like calls on top of the directory layer.
package fs

import (
	"encoding/hex"

	"github.com/sirupsen/logrus"

	"github.com/luminoso/SOFS14/alloctbl"
	"github.com/luminoso/SOFS14/bcache"
	"github.com/luminoso/SOFS14/common"
	"github.com/luminoso/SOFS14/device"
	"github.com/luminoso/SOFS14/dir"
	"github.com/luminoso/SOFS14/inode"
	"github.com/luminoso/SOFS14/itable"
	"github.com/luminoso/SOFS14/super"
)

// FileSystem is a mounted SOFS14 volume. It is single-threaded: one
// operation at a time, no internal locking.
type FileSystem struct {
	dev   common.BlockDevice
	sup   *super.Store
	it    *itable.Store
	alloc *alloctbl.AllocTbl
	ino   *inode.Ops
	dir   *dir.Ops
	log   *logrus.Entry
}

// wire builds the store stack over an open device.
func wire(dev common.BlockDevice) *FileSystem {
	sup := super.NewStore(dev)
	it := itable.NewStore(dev, sup)
	alloc := alloctbl.New(dev, sup, it)
	ino := inode.New(dev, sup, it, alloc)
	alloc.Bind(ino)
	return &FileSystem{
		dev:   dev,
		sup:   sup,
		it:    it,
		alloc: alloc,
		ino:   ino,
		dir:   dir.New(ino, alloc),
		log:   logrus.NewEntry(logrus.StandardLogger()),
	}
}

// Mount opens the regular file at path as a SOFS14 volume.
func Mount(path string) (*FileSystem, error) {
	raw, err := device.Open(path)
	if err != nil {
		return nil, err
	}
	fs, err := MountDevice(bcache.NewCache(raw, 0))
	if err != nil {
		raw.Close()
		return nil, err
	}
	return fs, nil
}

// MountDevice mounts an already open block device.
func MountDevice(dev common.BlockDevice) (*FileSystem, error) {
	fs := wire(dev)
	if err := fs.sup.Load(); err != nil {
		return nil, err
	}
	sb := fs.sup.Get()
	if sb.Magic != common.MAGIC_NUMBER || sb.Version != common.VERSION_NUMBER {
		return nil, common.EINVAL
	}
	if err := common.QCheckSuperBlock(sb); err != nil {
		return nil, err
	}
	if sb.MStat == common.MOUNTED {
		fs.log.WithField("name", sb.Name()).Warn("volume was not unmounted cleanly")
	}
	sb.MStat = common.MOUNTED
	if err := fs.sup.Store(); err != nil {
		return nil, err
	}
	fs.log = fs.log.WithFields(logrus.Fields{
		"name": sb.Name(),
		"fsid": hex.EncodeToString(sb.FSID[:]),
	})
	fs.log.WithFields(logrus.Fields{
		"blocks":   sb.NTotal,
		"inodes":   sb.ITotal,
		"clusters": sb.DZoneTotal,
	}).Info("volume mounted")
	return fs, nil
}

// Unmount marks the volume cleanly unmounted and closes the device.
func (fs *FileSystem) Unmount() error {
	if err := fs.sup.Load(); err != nil {
		return err
	}
	sb := fs.sup.Get()
	sb.MStat = common.UNMOUNTED
	if err := fs.sup.Store(); err != nil {
		return err
	}
	if err := fs.dev.Close(); err != nil {
		return err
	}
	fs.log.Info("volume unmounted")
	return nil
}

// SetIdentity overrides the requester identity used for permission checks
// and for the ownership of new inodes.
func (fs *FileSystem) SetIdentity(uid, gid uint32) {
	fs.alloc.Uid, fs.alloc.Gid = uid, gid
	fs.ino.Uid, fs.ino.Gid = uid, gid
}

// Inode exposes the per-inode operation layer.
func (fs *FileSystem) Inode() *inode.Ops { return fs.ino }

// Dir exposes the directory layer.
func (fs *FileSystem) Dir() *dir.Ops { return fs.dir }

// Alloc exposes the allocation table.
func (fs *FileSystem) Alloc() *alloctbl.AllocTbl { return fs.alloc }

// Super exposes the superblock store.
func (fs *FileSystem) Super() *super.Store { return fs.sup }
