// Package dir organises fixed-size directory entries into files and
// resolves names and paths to inodes.
package dir

import (
	"strings"

	"github.com/luminoso/SOFS14/alloctbl"
	"github.com/luminoso/SOFS14/common"
	"github.com/luminoso/SOFS14/inode"
)

// Entry manipulation selectors.
const (
	ADD uint32 = iota
	ATTACH
	REM
	DETACH
)

// Ops is the directory layer, working through the per-inode operations and
// the allocation table.
type Ops struct {
	ino   *inode.Ops
	alloc *alloctbl.AllocTbl
}

// New creates the directory layer.
func New(ino *inode.Ops, alloc *alloctbl.AllocTbl) *Ops {
	return &Ops{ino: ino, alloc: alloc}
}

// checkName validates a single path component.
func checkName(name string) error {
	if name == "" || strings.ContainsRune(name, '/') {
		return common.EINVAL
	}
	if len(name) > common.MAX_NAME {
		return common.ENAMETOOLONG
	}
	return nil
}

// dirClusters returns how many clusters a directory's entry array spans.
func dirClusters(ip *common.Inode) uint32 {
	return ip.Size / common.BSLPC
}

func payloadClust(buf []byte) common.DataClust {
	var dc common.DataClust
	copy(dc.Info[:], buf)
	return dc
}

// GetDirEntryByName searches the directory for an entry with the given
// name and returns the referenced inode together with the entry index.
// When the name is absent the error is ENOENT and the returned index is
// where an insertion should go: the first free-clean slot seen, or the
// next slot past the end.
func (d *Ops) GetDirEntryByName(nInodeDir uint32, name string) (uint32, uint32, error) {
	if err := checkName(name); err != nil {
		return common.NULL_INODE, 0, err
	}
	ip, err := d.ino.ReadInode(nInodeDir, common.IUIN)
	if err != nil {
		return common.NULL_INODE, 0, err
	}
	if !ip.IsDirectory() {
		return common.NULL_INODE, 0, common.ENOTDIR
	}
	if err := d.ino.AccessGranted(nInodeDir, common.X); err != nil {
		return common.NULL_INODE, 0, err
	}

	freeIdx := common.NULL_INODE
	nclusters := dirClusters(&ip)
	var buf [common.BSLPC]byte
	for c := uint32(0); c < nclusters; c++ {
		if err := d.ino.ReadFileCluster(nInodeDir, c, buf[:]); err != nil {
			return common.NULL_INODE, 0, err
		}
		dc := payloadClust(buf[:])
		for j := 0; j < common.DPC; j++ {
			de := dc.DirEntry(j)
			idx := c*common.DPC + uint32(j)
			if de.IsInUse() && de.NameString() == name {
				return de.NInode, idx, nil
			}
			if de.IsClean() && freeIdx == common.NULL_INODE {
				freeIdx = idx
			}
		}
	}
	if freeIdx == common.NULL_INODE {
		freeIdx = nclusters * common.DPC
	}
	return common.NULL_INODE, freeIdx, common.ENOENT
}

// AddAttDirEntry inserts an entry into the directory. ADD initialises a
// brand new inode under the name, giving a directory its "." and ".."
// entries; ATTACH rehomes an already formed subtree, rewriting its ".."
// back reference.
func (d *Ops) AddAttDirEntry(nInodeDir uint32, name string, nInodeEnt uint32, op uint32) error {
	if op != ADD && op != ATTACH {
		return common.EINVAL
	}
	if err := checkName(name); err != nil {
		return err
	}
	dirIp, err := d.ino.ReadInode(nInodeDir, common.IUIN)
	if err != nil {
		return err
	}
	if !dirIp.IsDirectory() {
		return common.ENOTDIR
	}
	if err := d.ino.AccessGranted(nInodeDir, common.W); err != nil {
		if err == common.EACCES {
			return common.EPERM
		}
		return err
	}
	_, idx, err := d.GetDirEntryByName(nInodeDir, name)
	if err == nil {
		return common.EEXIST
	}
	if err != common.ENOENT {
		return err
	}
	entIp, err := d.ino.ReadInode(nInodeEnt, common.IUIN)
	if err != nil {
		return err
	}
	if entIp.RefCount >= 0xFFFD {
		return common.EMLINK
	}

	// Make sure the slot's cluster exists, formatting a fresh one.
	cluster := idx / common.DPC
	slot := int(idx % common.DPC)
	if cluster >= dirClusters(&dirIp) {
		var dc common.DataClust
		dc.FillDirEntries()
		if err := d.ino.WriteFileCluster(nInodeDir, cluster, dc.Info[:]); err != nil {
			return err
		}
		if dirIp, err = d.ino.ReadInode(nInodeDir, common.IUIN); err != nil {
			return err
		}
		dirIp.Size += common.BSLPC
		if err := d.ino.WriteInode(nInodeDir, &dirIp, common.IUIN); err != nil {
			return err
		}
	}

	var buf [common.BSLPC]byte
	if err := d.ino.ReadFileCluster(nInodeDir, cluster, buf[:]); err != nil {
		return err
	}
	dc := payloadClust(buf[:])
	var de common.DirEntry
	de.SetName(name)
	de.NInode = nInodeEnt
	dc.SetDirEntry(slot, de)
	if err := d.ino.WriteFileCluster(nInodeDir, cluster, dc.Info[:]); err != nil {
		return err
	}

	isDir := entIp.IsDirectory()
	if isDir {
		switch op {
		case ADD:
			// Give the new directory its own first cluster with the two
			// standard entries.
			var first common.DataClust
			first.FillDirEntries()
			var dot common.DirEntry
			dot.SetName(".")
			dot.NInode = nInodeEnt
			first.SetDirEntry(0, dot)
			var dotdot common.DirEntry
			dotdot.SetName("..")
			dotdot.NInode = nInodeDir
			first.SetDirEntry(1, dotdot)
			if err := d.ino.WriteFileCluster(nInodeEnt, 0, first.Info[:]); err != nil {
				return err
			}
			if entIp, err = d.ino.ReadInode(nInodeEnt, common.IUIN); err != nil {
				return err
			}
			entIp.Size += common.BSLPC
		case ATTACH:
			// The subtree keeps its contents; only the back reference
			// moves.
			var first [common.BSLPC]byte
			if err := d.ino.ReadFileCluster(nInodeEnt, 0, first[:]); err != nil {
				return err
			}
			fdc := payloadClust(first[:])
			dotdot := fdc.DirEntry(1)
			dotdot.NInode = nInodeDir
			fdc.SetDirEntry(1, dotdot)
			if err := d.ino.WriteFileCluster(nInodeEnt, 0, fdc.Info[:]); err != nil {
				return err
			}
			if entIp, err = d.ino.ReadInode(nInodeEnt, common.IUIN); err != nil {
				return err
			}
		}
		entIp.RefCount += 2
		if err := d.ino.WriteInode(nInodeEnt, &entIp, common.IUIN); err != nil {
			return err
		}
		if dirIp, err = d.ino.ReadInode(nInodeDir, common.IUIN); err != nil {
			return err
		}
		dirIp.RefCount++
		return d.ino.WriteInode(nInodeDir, &dirIp, common.IUIN)
	}

	if entIp, err = d.ino.ReadInode(nInodeEnt, common.IUIN); err != nil {
		return err
	}
	entIp.RefCount++
	return d.ino.WriteInode(nInodeEnt, &entIp, common.IUIN)
}

// isEmptyDir reports whether the directory holds only its "." and ".."
// entries.
func (d *Ops) isEmptyDir(nInode uint32, ip *common.Inode) (bool, error) {
	nclusters := dirClusters(ip)
	var buf [common.BSLPC]byte
	for c := uint32(0); c < nclusters; c++ {
		if err := d.ino.ReadFileCluster(nInode, c, buf[:]); err != nil {
			return false, err
		}
		dc := payloadClust(buf[:])
		for j := 0; j < common.DPC; j++ {
			de := dc.DirEntry(j)
			if !de.IsInUse() {
				continue
			}
			if n := de.NameString(); n != "." && n != ".." {
				return false, nil
			}
		}
	}
	return true, nil
}

// RemDetachDirEntry removes an entry. REM leaves a tombstone (first and
// last name bytes swapped) and frees the referenced inode once no entry
// points to it any more; DETACH clears the slot completely and never frees,
// as the subtree is about to be attached elsewhere.
func (d *Ops) RemDetachDirEntry(nInodeDir uint32, name string, op uint32) error {
	if op != REM && op != DETACH {
		return common.EINVAL
	}
	if err := checkName(name); err != nil {
		return err
	}
	if name == "." || name == ".." {
		return common.EINVAL
	}
	dirIp, err := d.ino.ReadInode(nInodeDir, common.IUIN)
	if err != nil {
		return err
	}
	if !dirIp.IsDirectory() {
		return common.ENOTDIR
	}
	if err := d.ino.AccessGranted(nInodeDir, common.W); err != nil {
		if err == common.EACCES {
			return common.EPERM
		}
		return err
	}
	nInodeEnt, idx, err := d.GetDirEntryByName(nInodeDir, name)
	if err != nil {
		return err
	}
	entIp, err := d.ino.ReadInode(nInodeEnt, common.IUIN)
	if err != nil {
		return err
	}
	isDir := entIp.IsDirectory()
	if isDir && op == REM {
		empty, err := d.isEmptyDir(nInodeEnt, &entIp)
		if err != nil {
			return err
		}
		if !empty {
			return common.ENOTEMPTY
		}
	}

	cluster := idx / common.DPC
	slot := int(idx % common.DPC)
	var buf [common.BSLPC]byte
	if err := d.ino.ReadFileCluster(nInodeDir, cluster, buf[:]); err != nil {
		return err
	}
	dc := payloadClust(buf[:])
	de := dc.DirEntry(slot)
	switch op {
	case REM:
		de.Name[0], de.Name[common.MAX_NAME] = de.Name[common.MAX_NAME], de.Name[0]
	case DETACH:
		de = common.DirEntry{NInode: common.NULL_INODE}
	}
	dc.SetDirEntry(slot, de)
	if err := d.ino.WriteFileCluster(nInodeDir, cluster, dc.Info[:]); err != nil {
		return err
	}

	if entIp, err = d.ino.ReadInode(nInodeEnt, common.IUIN); err != nil {
		return err
	}
	if isDir {
		entIp.RefCount -= 2
	} else {
		entIp.RefCount--
	}
	left := entIp.RefCount
	if err := d.ino.WriteInode(nInodeEnt, &entIp, common.IUIN); err != nil {
		return err
	}
	if isDir {
		if dirIp, err = d.ino.ReadInode(nInodeDir, common.IUIN); err != nil {
			return err
		}
		dirIp.RefCount--
		if err := d.ino.WriteInode(nInodeDir, &dirIp, common.IUIN); err != nil {
			return err
		}
	}

	if op == REM && left == 0 {
		if err := d.ino.HandleFileClusters(nInodeEnt, 0, common.FREE); err != nil {
			return err
		}
		return d.alloc.FreeInode(nInodeEnt)
	}
	return nil
}

// RenameDirEntry gives an existing entry a new name in place.
func (d *Ops) RenameDirEntry(nInodeDir uint32, oldName, newName string) error {
	if err := checkName(oldName); err != nil {
		return err
	}
	if err := checkName(newName); err != nil {
		return err
	}
	if oldName == "." || oldName == ".." || newName == "." || newName == ".." {
		return common.EINVAL
	}
	dirIp, err := d.ino.ReadInode(nInodeDir, common.IUIN)
	if err != nil {
		return err
	}
	if !dirIp.IsDirectory() {
		return common.ENOTDIR
	}
	if err := d.ino.AccessGranted(nInodeDir, common.W); err != nil {
		if err == common.EACCES {
			return common.EPERM
		}
		return err
	}
	_, idx, err := d.GetDirEntryByName(nInodeDir, oldName)
	if err != nil {
		return err
	}
	_, _, err = d.GetDirEntryByName(nInodeDir, newName)
	if err == nil {
		return common.EEXIST
	}
	if err != common.ENOENT {
		return err
	}

	cluster := idx / common.DPC
	slot := int(idx % common.DPC)
	var buf [common.BSLPC]byte
	if err := d.ino.ReadFileCluster(nInodeDir, cluster, buf[:]); err != nil {
		return err
	}
	dc := payloadClust(buf[:])
	de := dc.DirEntry(slot)
	nInodeEnt := de.NInode
	de = common.DirEntry{NInode: nInodeEnt}
	de.SetName(newName)
	dc.SetDirEntry(slot, de)
	return d.ino.WriteFileCluster(nInodeDir, cluster, dc.Info[:])
}
