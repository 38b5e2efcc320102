package fs

import (
	"os"
	"strings"
	"time"

	"github.com/luminoso/SOFS14/common"
	"github.com/luminoso/SOFS14/dir"
)

func now() uint32 { return uint32(time.Now().Unix()) }
func osUid() int  { return os.Getuid() }
func osGid() int  { return os.Getgid() }

// splitParent breaks an absolute path into its parent directory path and
// final component.
func splitParent(path string) (string, string, error) {
	if path == "" || path[0] != '/' {
		return "", "", common.EINVAL
	}
	if len(path) > common.MAX_PATH {
		return "", "", common.ENAMETOOLONG
	}
	path = strings.TrimRight(path, "/")
	if path == "" {
		return "", "", common.EINVAL // the root itself has no parent entry
	}
	i := strings.LastIndexByte(path, '/')
	parent := path[:i]
	if parent == "" {
		parent = "/"
	}
	return parent, path[i+1:], nil
}

// resolveParent resolves the parent directory of path and returns its
// inode together with the final component name.
func (fs *FileSystem) resolveParent(path string) (uint32, string, error) {
	parentPath, name, err := splitParent(path)
	if err != nil {
		return common.NULL_INODE, "", err
	}
	_, parent, err := fs.dir.GetDirEntryByPath(parentPath)
	if err != nil {
		return common.NULL_INODE, "", err
	}
	return parent, name, nil
}

// create allocates an inode of the given type, applies the permissions and
// links it under path. The inode is freed again when the link step fails.
func (fs *FileSystem) create(path string, typ uint16, perm uint16) (uint32, error) {
	parent, name, err := fs.resolveParent(path)
	if err != nil {
		return common.NULL_INODE, err
	}
	nInode, err := fs.alloc.AllocInode(typ)
	if err != nil {
		return common.NULL_INODE, err
	}
	ip, err := fs.ino.ReadInode(nInode, common.IUIN)
	if err != nil {
		return common.NULL_INODE, err
	}
	ip.Mode |= perm & common.INODE_PERM_MASK
	if err := fs.ino.WriteInode(nInode, &ip, common.IUIN); err != nil {
		return common.NULL_INODE, err
	}
	if err := fs.dir.AddAttDirEntry(parent, name, nInode, dir.ADD); err != nil {
		fs.alloc.FreeInode(nInode)
		return common.NULL_INODE, err
	}
	return nInode, nil
}

// Creat makes an empty regular file.
func (fs *FileSystem) Creat(path string, perm uint16) error {
	_, err := fs.create(path, common.INODE_FILE, perm)
	return err
}

// Mkdir makes an empty directory.
func (fs *FileSystem) Mkdir(path string, perm uint16) error {
	_, err := fs.create(path, common.INODE_DIR, perm)
	return err
}

// Symlink makes a symbolic link at path holding target.
func (fs *FileSystem) Symlink(target, path string) error {
	if target == "" || len(target) > common.MAX_PATH {
		return common.EINVAL
	}
	nInode, err := fs.create(path, common.INODE_SYMLINK, common.INODE_PERM_MASK)
	if err != nil {
		return err
	}
	var buf [common.BSLPC]byte
	copy(buf[:], target)
	if err := fs.ino.WriteFileCluster(nInode, 0, buf[:]); err != nil {
		return err
	}
	ip, err := fs.ino.ReadInode(nInode, common.IUIN)
	if err != nil {
		return err
	}
	ip.Size = uint32(len(target))
	return fs.ino.WriteInode(nInode, &ip, common.IUIN)
}

// Unlink removes a non-directory entry.
func (fs *FileSystem) Unlink(path string) error {
	parent, name, err := fs.resolveParent(path)
	if err != nil {
		return err
	}
	nInodeEnt, _, err := fs.dir.GetDirEntryByName(parent, name)
	if err != nil {
		return err
	}
	ip, err := fs.ino.ReadInode(nInodeEnt, common.IUIN)
	if err != nil {
		return err
	}
	if ip.IsDirectory() {
		return common.EISDIR
	}
	return fs.dir.RemDetachDirEntry(parent, name, dir.REM)
}

// Rmdir removes an empty directory.
func (fs *FileSystem) Rmdir(path string) error {
	parent, name, err := fs.resolveParent(path)
	if err != nil {
		return err
	}
	nInodeEnt, _, err := fs.dir.GetDirEntryByName(parent, name)
	if err != nil {
		return err
	}
	ip, err := fs.ino.ReadInode(nInodeEnt, common.IUIN)
	if err != nil {
		return err
	}
	if !ip.IsDirectory() {
		return common.ENOTDIR
	}
	return fs.dir.RemDetachDirEntry(parent, name, dir.REM)
}

// Rename moves oldPath to newPath. Within one directory the entry is
// renamed in place; across directories the entry is attached to the new
// parent and detached from the old one, keeping the subtree intact.
func (fs *FileSystem) Rename(oldPath, newPath string) error {
	oldParent, oldName, err := fs.resolveParent(oldPath)
	if err != nil {
		return err
	}
	newParent, newName, err := fs.resolveParent(newPath)
	if err != nil {
		return err
	}
	if oldName == "." || oldName == ".." || newName == "." || newName == ".." {
		return common.EINVAL
	}
	if oldParent == newParent {
		return fs.dir.RenameDirEntry(oldParent, oldName, newName)
	}
	nInodeEnt, _, err := fs.dir.GetDirEntryByName(oldParent, oldName)
	if err != nil {
		return err
	}
	if err := fs.dir.AddAttDirEntry(newParent, newName, nInodeEnt, dir.ATTACH); err != nil {
		return err
	}
	return fs.dir.RemDetachDirEntry(oldParent, oldName, dir.DETACH)
}

// ReadLink returns the target of the symbolic link at path.
func (fs *FileSystem) ReadLink(path string) (string, error) {
	parent, name, err := fs.resolveParent(path)
	if err != nil {
		return "", err
	}
	nInodeEnt, _, err := fs.dir.GetDirEntryByName(parent, name)
	if err != nil {
		return "", err
	}
	return fs.dir.ReadLink(nInodeEnt)
}

// Stat returns the inode record behind path, symlinks not followed.
func (fs *FileSystem) Stat(path string) (common.Inode, error) {
	_, nInodeEnt, err := fs.dir.GetDirEntryByPath(path)
	if err != nil {
		return common.Inode{}, err
	}
	return fs.ino.ReadInode(nInodeEnt, common.IUIN)
}

// resolveFile resolves path to a regular file inode, following a final
// symbolic link once.
func (fs *FileSystem) resolveFile(path string) (uint32, common.Inode, error) {
	_, nInode, err := fs.dir.GetDirEntryByPath(path)
	if err != nil {
		return common.NULL_INODE, common.Inode{}, err
	}
	ip, err := fs.ino.ReadInode(nInode, common.IUIN)
	if err != nil {
		return common.NULL_INODE, common.Inode{}, err
	}
	if ip.IsSymlink() {
		target, err := fs.dir.ReadLink(nInode)
		if err != nil {
			return common.NULL_INODE, common.Inode{}, err
		}
		if !strings.HasPrefix(target, "/") {
			parentPath, _, err := splitParent(path)
			if err != nil {
				return common.NULL_INODE, common.Inode{}, err
			}
			target = strings.TrimRight(parentPath, "/") + "/" + target
		}
		if _, nInode, err = fs.dir.GetDirEntryByPath(target); err != nil {
			return common.NULL_INODE, common.Inode{}, err
		}
		if ip, err = fs.ino.ReadInode(nInode, common.IUIN); err != nil {
			return common.NULL_INODE, common.Inode{}, err
		}
	}
	if ip.IsDirectory() {
		return common.NULL_INODE, common.Inode{}, common.EISDIR
	}
	return nInode, ip, nil
}

// Read copies file bytes starting at pos into buf and returns how many
// were read. Reading at or past end of file returns zero.
func (fs *FileSystem) Read(path string, buf []byte, pos uint32) (int, error) {
	nInode, ip, err := fs.resolveFile(path)
	if err != nil {
		return 0, err
	}
	if err := fs.ino.AccessGranted(nInode, common.R); err != nil {
		return 0, err
	}
	if pos >= ip.Size {
		return 0, nil
	}
	if uint32(len(buf)) > ip.Size-pos {
		buf = buf[:ip.Size-pos]
	}
	var clust [common.BSLPC]byte
	read := 0
	for read < len(buf) {
		ci := (pos + uint32(read)) / common.BSLPC
		off := (pos + uint32(read)) % common.BSLPC
		if err := fs.ino.ReadFileCluster(nInode, ci, clust[:]); err != nil {
			return read, err
		}
		read += copy(buf[read:], clust[off:])
	}
	return read, nil
}

// Write stores buf into the file at pos, allocating clusters for holes and
// extending the size when the write ends past it.
func (fs *FileSystem) Write(path string, buf []byte, pos uint32) (int, error) {
	nInode, ip, err := fs.resolveFile(path)
	if err != nil {
		return 0, err
	}
	if err := fs.ino.AccessGranted(nInode, common.W); err != nil {
		return 0, err
	}
	if len(buf) == 0 {
		return 0, nil
	}
	end := uint64(pos) + uint64(len(buf))
	if end > common.MAX_FILE_SIZE {
		return 0, common.EFBIG
	}
	var clust [common.BSLPC]byte
	written := 0
	for written < len(buf) {
		ci := (pos + uint32(written)) / common.BSLPC
		off := (pos + uint32(written)) % common.BSLPC
		n := common.BSLPC - int(off)
		if n > len(buf)-written {
			n = len(buf) - written
		}
		if n < common.BSLPC {
			if err := fs.ino.ReadFileCluster(nInode, ci, clust[:]); err != nil {
				return written, err
			}
		}
		copy(clust[off:], buf[written:written+n])
		if err := fs.ino.WriteFileCluster(nInode, ci, clust[:]); err != nil {
			return written, err
		}
		written += n
	}
	if uint32(end) > ip.Size {
		if ip, err = fs.ino.ReadInode(nInode, common.IUIN); err != nil {
			return written, err
		}
		ip.Size = uint32(end)
		if err := fs.ino.WriteInode(nInode, &ip, common.IUIN); err != nil {
			return written, err
		}
	}
	fs.log.WithFields(map[string]interface{}{
		"path":  path,
		"bytes": written,
		"pos":   pos,
	}).Debug("write")
	return written, nil
}
