package dir

import (
	"strings"

	"github.com/luminoso/SOFS14/common"
)

// maxSymlinkDepth bounds nested symbolic link expansion during path
// resolution; a second nested link fails with ELOOP.
const maxSymlinkDepth = 1

// GetDirEntryByPath resolves an absolute path and returns the inode of the
// directory holding the final component together with the inode of the
// component itself. Symbolic links in non-terminal components are followed;
// the final component is returned as is.
func (d *Ops) GetDirEntryByPath(path string) (uint32, uint32, error) {
	if path == "" || path[0] != '/' {
		return common.NULL_INODE, common.NULL_INODE, common.EINVAL
	}
	if len(path) > common.MAX_PATH {
		return common.NULL_INODE, common.NULL_INODE, common.ENAMETOOLONG
	}
	comps := splitPath(path)
	return d.traverseFrom(0, comps, 0)
}

func splitPath(path string) []string {
	var comps []string
	for _, c := range strings.Split(path, "/") {
		if c != "" {
			comps = append(comps, c)
		}
	}
	return comps
}

// traverseFrom walks comps starting at the directory inode start. depth
// counts symbolic link expansions already performed.
func (d *Ops) traverseFrom(start uint32, comps []string, depth int) (uint32, uint32, error) {
	if len(comps) == 0 {
		// The root is its own parent.
		return start, start, nil
	}
	cur := start
	parent := start
	for i, name := range comps {
		ent, _, err := d.GetDirEntryByName(cur, name)
		if err != nil {
			return common.NULL_INODE, common.NULL_INODE, err
		}
		last := i == len(comps)-1
		if !last {
			ip, err := d.ino.ReadInode(ent, common.IUIN)
			if err != nil {
				return common.NULL_INODE, common.NULL_INODE, err
			}
			if ip.IsSymlink() {
				if depth >= maxSymlinkDepth {
					return common.NULL_INODE, common.NULL_INODE, common.ELOOP
				}
				target, err := d.readLinkTarget(ent, &ip)
				if err != nil {
					return common.NULL_INODE, common.NULL_INODE, err
				}
				rest := comps[i+1:]
				if strings.HasPrefix(target, "/") {
					return d.traverseFrom(0, append(splitPath(target), rest...), depth+1)
				}
				return d.traverseFrom(cur, append(splitPath(target), rest...), depth+1)
			}
			parent = cur
			cur = ent
			continue
		}
		return cur, ent, nil
	}
	// Unreachable: the loop always returns on the last component.
	return parent, cur, common.ELIBBAD
}

// readLinkTarget reads a symbolic link's target path from its first data
// cluster.
func (d *Ops) readLinkTarget(nInode uint32, ip *common.Inode) (string, error) {
	var buf [common.BSLPC]byte
	if err := d.ino.ReadFileCluster(nInode, 0, buf[:]); err != nil {
		return "", err
	}
	n := int(ip.Size)
	if n > common.BSLPC {
		n = common.BSLPC
	}
	target := buf[:n]
	if i := strings.IndexByte(string(target), 0); i >= 0 {
		target = target[:i]
	}
	if len(target) == 0 {
		return "", common.ELIBBAD
	}
	return string(target), nil
}

// ReadLink returns the target stored in the symbolic link inode.
func (d *Ops) ReadLink(nInode uint32) (string, error) {
	ip, err := d.ino.ReadInode(nInode, common.IUIN)
	if err != nil {
		return "", err
	}
	if !ip.IsSymlink() {
		return "", common.EINVAL
	}
	return d.readLinkTarget(nInode, &ip)
}
