package dir_test

import (
	"testing"

	"github.com/luminoso/SOFS14/common"
	"github.com/luminoso/SOFS14/device"
	"github.com/luminoso/SOFS14/dir"
	"github.com/luminoso/SOFS14/fs"
	"github.com/luminoso/SOFS14/testutils"
)

func openVolume(test *testing.T) (*fs.FileSystem, *device.RamDevice) {
	dev := device.NewRamDevice(242)
	if err := fs.FormatDevice(dev, 242, fs.FormatOptions{Inodes: 16}); err != nil {
		testutils.FatalHere(test, "format failed: %s", err)
	}
	fsys, err := fs.MountDevice(dev)
	if err != nil {
		testutils.FatalHere(test, "mount failed: %s", err)
	}
	return fsys, dev
}

// mkInode allocates an inode of the given type with open permissions.
func mkInode(test *testing.T, fsys *fs.FileSystem, typ uint16) uint32 {
	n, err := fsys.Alloc().AllocInode(typ)
	if err != nil {
		testutils.FatalHere(test, "inode allocation failed: %s", err)
	}
	ip, err := fsys.Inode().ReadInode(n, common.IUIN)
	if err != nil {
		testutils.FatalHere(test, "inode read failed: %s", err)
	}
	ip.Mode |= 0o755
	if err := fsys.Inode().WriteInode(n, &ip, common.IUIN); err != nil {
		testutils.FatalHere(test, "inode write failed: %s", err)
	}
	return n
}

func refCount(test *testing.T, fsys *fs.FileSystem, n uint32) uint16 {
	ip, err := fsys.Inode().ReadInode(n, common.IUIN)
	if err != nil {
		testutils.FatalHere(test, "inode %d unreadable: %s", n, err)
	}
	return ip.RefCount
}

func TestLookupValidation(test *testing.T) {
	fsys, _ := openVolume(test)
	d := fsys.Dir()

	if _, _, err := d.GetDirEntryByName(0, ""); err != common.EINVAL {
		testutils.ErrorHere(test, "empty name returned %v", err)
	}
	if _, _, err := d.GetDirEntryByName(0, "a/b"); err != common.EINVAL {
		testutils.ErrorHere(test, "name with separator returned %v", err)
	}
	long := make([]byte, common.MAX_NAME+1)
	for i := range long {
		long[i] = 'x'
	}
	if _, _, err := d.GetDirEntryByName(0, string(long)); err != common.ENAMETOOLONG {
		testutils.ErrorHere(test, "oversized name returned %v", err)
	}
	if _, _, err := d.GetDirEntryByName(0, "missing"); err != common.ENOENT {
		testutils.ErrorHere(test, "missing name returned %v", err)
	}
	// The root knows itself.
	n, _, err := d.GetDirEntryByName(0, ".")
	if err != nil || n != 0 {
		testutils.ErrorHere(test, "root . lookup: %d %v", n, err)
	}
	n, _, err = d.GetDirEntryByName(0, "..")
	if err != nil || n != 0 {
		testutils.ErrorHere(test, "root .. lookup: %d %v", n, err)
	}
}

func TestAddRemoveEntry(test *testing.T) {
	fsys, _ := openVolume(test)
	d := fsys.Dir()

	file := mkInode(test, fsys, common.INODE_FILE)
	if err := d.AddAttDirEntry(0, "notes", file, dir.ADD); err != nil {
		testutils.FatalHere(test, "add failed: %s", err)
	}
	if err := d.AddAttDirEntry(0, "notes", file, dir.ADD); err != common.EEXIST {
		testutils.ErrorHere(test, "duplicate add returned %v", err)
	}
	got, _, err := d.GetDirEntryByName(0, "notes")
	if err != nil || got != file {
		testutils.ErrorHere(test, "lookup after add: %d %v", got, err)
	}
	if rc := refCount(test, fsys, file); rc != 1 {
		testutils.ErrorHere(test, "file refcount %d, expected 1", rc)
	}

	if err := d.RemDetachDirEntry(0, "notes", dir.REM); err != nil {
		testutils.FatalHere(test, "remove failed: %s", err)
	}
	if _, _, err := d.GetDirEntryByName(0, "notes"); err != common.ENOENT {
		testutils.ErrorHere(test, "lookup after remove returned %v", err)
	}
	// Refcount hit zero: the inode went back to the free list, dirty.
	if _, err := fsys.Inode().ReadInode(file, common.FDIN); err != nil {
		testutils.ErrorHere(test, "removed inode not free-dirty: %s", err)
	}
}

func TestMkdirRefCounts(test *testing.T) {
	fsys, _ := openVolume(test)
	d := fsys.Dir()

	sub := mkInode(test, fsys, common.INODE_DIR)
	if err := d.AddAttDirEntry(0, "sub", sub, dir.ADD); err != nil {
		testutils.FatalHere(test, "mkdir failed: %s", err)
	}
	// The new directory counts "." and the parent entry; the parent
	// gains the child's "..".
	if rc := refCount(test, fsys, sub); rc != 2 {
		testutils.ErrorHere(test, "child refcount %d, expected 2", rc)
	}
	if rc := refCount(test, fsys, 0); rc != 3 {
		testutils.ErrorHere(test, "root refcount %d, expected 3", rc)
	}
	dot, _, err := d.GetDirEntryByName(sub, ".")
	if err != nil || dot != sub {
		testutils.ErrorHere(test, ". entry: %d %v", dot, err)
	}
	dotdot, _, err := d.GetDirEntryByName(sub, "..")
	if err != nil || dotdot != 0 {
		testutils.ErrorHere(test, ".. entry: %d %v", dotdot, err)
	}

	// A populated directory cannot be removed.
	leaf := mkInode(test, fsys, common.INODE_FILE)
	if err := d.AddAttDirEntry(sub, "leaf", leaf, dir.ADD); err != nil {
		testutils.FatalHere(test, "add into child failed: %s", err)
	}
	if err := d.RemDetachDirEntry(0, "sub", dir.REM); err != common.ENOTEMPTY {
		testutils.ErrorHere(test, "removing a populated directory returned %v", err)
	}
	if err := d.RemDetachDirEntry(sub, "leaf", dir.REM); err != nil {
		testutils.FatalHere(test, "leaf removal failed: %s", err)
	}
	if err := d.RemDetachDirEntry(0, "sub", dir.REM); err != nil {
		testutils.FatalHere(test, "empty directory removal failed: %s", err)
	}
	if rc := refCount(test, fsys, 0); rc != 2 {
		testutils.ErrorHere(test, "root refcount %d after removal, expected 2", rc)
	}
}

func TestRenameInPlace(test *testing.T) {
	fsys, _ := openVolume(test)
	d := fsys.Dir()

	file := mkInode(test, fsys, common.INODE_FILE)
	if err := d.AddAttDirEntry(0, "before", file, dir.ADD); err != nil {
		testutils.FatalHere(test, "add failed: %s", err)
	}
	if err := d.RenameDirEntry(0, ".", "self"); err != common.EINVAL {
		testutils.ErrorHere(test, "renaming . returned %v", err)
	}
	if err := d.RenameDirEntry(0, "..", "up"); err != common.EINVAL {
		testutils.ErrorHere(test, "renaming .. returned %v", err)
	}
	if err := d.RenameDirEntry(0, "missing", "after"); err != common.ENOENT {
		testutils.ErrorHere(test, "renaming a missing entry returned %v", err)
	}
	if err := d.RenameDirEntry(0, "before", "before"); err != common.EEXIST {
		testutils.ErrorHere(test, "renaming onto itself returned %v", err)
	}
	if err := d.RenameDirEntry(0, "before", "after"); err != nil {
		testutils.FatalHere(test, "rename failed: %s", err)
	}
	if _, _, err := d.GetDirEntryByName(0, "before"); err != common.ENOENT {
		testutils.ErrorHere(test, "old name still resolves: %v", err)
	}
	got, _, err := d.GetDirEntryByName(0, "after")
	if err != nil || got != file {
		testutils.ErrorHere(test, "new name lookup: %d %v", got, err)
	}
	// A rename moves no references.
	if rc := refCount(test, fsys, file); rc != 1 {
		testutils.ErrorHere(test, "refcount changed across rename: %d", rc)
	}
}

// Rehome a subtree: attach to the new parent, detach from the old one. The
// subtree's ".." follows it and the contents survive.
func TestAttachDetach(test *testing.T) {
	fsys, _ := openVolume(test)
	d := fsys.Dir()

	a := mkInode(test, fsys, common.INODE_DIR)
	b := mkInode(test, fsys, common.INODE_DIR)
	if err := d.AddAttDirEntry(0, "a", a, dir.ADD); err != nil {
		testutils.FatalHere(test, "mkdir a failed: %s", err)
	}
	if err := d.AddAttDirEntry(0, "b", b, dir.ADD); err != nil {
		testutils.FatalHere(test, "mkdir b failed: %s", err)
	}
	sub := mkInode(test, fsys, common.INODE_DIR)
	if err := d.AddAttDirEntry(a, "sub", sub, dir.ADD); err != nil {
		testutils.FatalHere(test, "mkdir a/sub failed: %s", err)
	}
	leaf := mkInode(test, fsys, common.INODE_FILE)
	if err := d.AddAttDirEntry(sub, "leaf", leaf, dir.ADD); err != nil {
		testutils.FatalHere(test, "add leaf failed: %s", err)
	}

	if err := d.AddAttDirEntry(b, "moved", sub, dir.ATTACH); err != nil {
		testutils.FatalHere(test, "attach failed: %s", err)
	}
	if err := d.RemDetachDirEntry(a, "sub", dir.DETACH); err != nil {
		testutils.FatalHere(test, "detach failed: %s", err)
	}

	got, _, err := d.GetDirEntryByName(b, "moved")
	if err != nil || got != sub {
		testutils.ErrorHere(test, "moved lookup: %d %v", got, err)
	}
	dotdot, _, err := d.GetDirEntryByName(sub, "..")
	if err != nil || dotdot != b {
		testutils.ErrorHere(test, ".. after attach: %d %v", dotdot, err)
	}
	if _, _, err := d.GetDirEntryByName(a, "sub"); err != common.ENOENT {
		testutils.ErrorHere(test, "old entry still resolves: %v", err)
	}
	got, _, err = d.GetDirEntryByName(sub, "leaf")
	if err != nil || got != leaf {
		testutils.ErrorHere(test, "subtree contents lost: %d %v", got, err)
	}
	// a lost a child, b gained one.
	if rc := refCount(test, fsys, a); rc != 2 {
		testutils.ErrorHere(test, "a refcount %d, expected 2", rc)
	}
	if rc := refCount(test, fsys, b); rc != 3 {
		testutils.ErrorHere(test, "b refcount %d, expected 3", rc)
	}
	if rc := refCount(test, fsys, sub); rc != 2 {
		testutils.ErrorHere(test, "sub refcount %d, expected 2", rc)
	}
}
