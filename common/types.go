package common

import (
	"bytes"
	"encoding/binary"
)

// On-disk records. All multi-byte integers are little-endian; the Pack and
// Unpack functions below define the bit-exact layouts the showblock tool
// understands.

// RefCache is one of the two in-superblock caches of free data cluster
// references. The retrieval cache is drained by allocations and its index
// points to the next unused slot (== DZONE_CACHE_SIZE when exhausted); the
// insertion cache is filled by frees and its index points to the next empty
// slot (== 0 when empty).
type RefCache struct {
	CacheIdx uint32
	Cache    [DZONE_CACHE_SIZE]uint32
}

// SuperBlock is the singleton metadata record stored in block 0.
type SuperBlock struct {
	Magic   uint32
	Version uint32
	name    [PARTITION_NAME_SIZE + 1]byte
	MStat   uint32
	NTotal  uint32 // device size in blocks

	// Inode table descriptor.
	ITableStart uint32 // always 1
	ITableSize  uint32 // blocks occupied by the inode table
	ITotal      uint32
	IFree       uint32
	IHead       uint32 // free inode list endpoints, NULL_INODE when empty
	ITail       uint32

	// Data zone descriptor.
	DZoneStart   uint32 // physical block where the data zone begins
	DZoneTotal   uint32 // clusters in the data zone
	DZoneFree    uint32
	DZoneRetriev RefCache
	DZoneInsert  RefCache
	DHead        uint32 // on-disk free cluster list endpoints
	DTail        uint32

	FSID [16]byte // random volume id written by the formatter
}

// Name returns the volume label.
func (sb *SuperBlock) Name() string {
	i := bytes.IndexByte(sb.name[:], 0)
	if i < 0 {
		i = len(sb.name)
	}
	return string(sb.name[:i])
}

// SetName stores the volume label, truncating it to PARTITION_NAME_SIZE.
func (sb *SuperBlock) SetName(s string) {
	sb.name = [PARTITION_NAME_SIZE + 1]byte{}
	copy(sb.name[:PARTITION_NAME_SIZE], s)
}

// PhysClust converts a logical cluster number into the physical index of
// its first block.
func (sb *SuperBlock) PhysClust(nLClust uint32) uint32 {
	return sb.DZoneStart + nLClust*BLOCKS_PER_CLUSTER
}

// Pack serializes the superblock into a block-sized buffer. Bytes past the
// fixed fields keep whatever the buffer already holds, so reserved padding
// written by the formatter survives load/store round trips.
func (sb *SuperBlock) Pack(b []byte) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], sb.Magic)
	le.PutUint32(b[4:], sb.Version)
	copy(b[8:32], sb.name[:])
	le.PutUint32(b[32:], sb.MStat)
	le.PutUint32(b[36:], sb.NTotal)
	le.PutUint32(b[40:], sb.ITableStart)
	le.PutUint32(b[44:], sb.ITableSize)
	le.PutUint32(b[48:], sb.ITotal)
	le.PutUint32(b[52:], sb.IFree)
	le.PutUint32(b[56:], sb.IHead)
	le.PutUint32(b[60:], sb.ITail)
	le.PutUint32(b[64:], sb.DZoneStart)
	le.PutUint32(b[68:], sb.DZoneTotal)
	le.PutUint32(b[72:], sb.DZoneFree)
	off := 76
	le.PutUint32(b[off:], sb.DZoneRetriev.CacheIdx)
	off += 4
	for i := 0; i < DZONE_CACHE_SIZE; i++ {
		le.PutUint32(b[off:], sb.DZoneRetriev.Cache[i])
		off += 4
	}
	le.PutUint32(b[off:], sb.DZoneInsert.CacheIdx)
	off += 4
	for i := 0; i < DZONE_CACHE_SIZE; i++ {
		le.PutUint32(b[off:], sb.DZoneInsert.Cache[i])
		off += 4
	}
	le.PutUint32(b[off:], sb.DHead)
	le.PutUint32(b[off+4:], sb.DTail)
	copy(b[off+8:off+24], sb.FSID[:])
}

// UnpackSuperBlock parses a superblock from a block-sized buffer.
func UnpackSuperBlock(b []byte) *SuperBlock {
	le := binary.LittleEndian
	sb := &SuperBlock{
		Magic:       le.Uint32(b[0:]),
		Version:     le.Uint32(b[4:]),
		MStat:       le.Uint32(b[32:]),
		NTotal:      le.Uint32(b[36:]),
		ITableStart: le.Uint32(b[40:]),
		ITableSize:  le.Uint32(b[44:]),
		ITotal:      le.Uint32(b[48:]),
		IFree:       le.Uint32(b[52:]),
		IHead:       le.Uint32(b[56:]),
		ITail:       le.Uint32(b[60:]),
		DZoneStart:  le.Uint32(b[64:]),
		DZoneTotal:  le.Uint32(b[68:]),
		DZoneFree:   le.Uint32(b[72:]),
	}
	copy(sb.name[:], b[8:32])
	off := 76
	sb.DZoneRetriev.CacheIdx = le.Uint32(b[off:])
	off += 4
	for i := 0; i < DZONE_CACHE_SIZE; i++ {
		sb.DZoneRetriev.Cache[i] = le.Uint32(b[off:])
		off += 4
	}
	sb.DZoneInsert.CacheIdx = le.Uint32(b[off:])
	off += 4
	for i := 0; i < DZONE_CACHE_SIZE; i++ {
		sb.DZoneInsert.Cache[i] = le.Uint32(b[off:])
		off += 4
	}
	sb.DHead = le.Uint32(b[off:])
	sb.DTail = le.Uint32(b[off+4:])
	copy(sb.FSID[:], b[off+8:off+24])
	return sb
}

// Inode is one fixed-size record of the inode table.
//
// The vD1/vD2 pair is overloaded on disk: while the inode is in use it
// holds the access and modification times; while the inode is free it holds
// the next and previous links of the free inode list. The pair is kept
// unexported and reached through state-checked accessors, so that reading a
// timestamp out of a free inode (or a link out of a live one) is a caught
// programming error rather than silent corruption.
type Inode struct {
	Mode     uint16
	RefCount uint16 // directory entries referencing this inode
	Owner    uint32
	Group    uint32
	Size     uint32 // bytes
	CluCount uint32 // data clusters still associated, index clusters included
	vD1      uint32
	vD2      uint32
	D        [N_DIRECT]uint32
	I1       uint32 // single indirect reference cluster
	I2       uint32 // double indirect reference cluster
}

func (ip *Inode) Type() uint16 { return ip.Mode & INODE_TYPE_MASK }

func (ip *Inode) IsDirectory() bool { return ip.Mode&INODE_FREE == 0 && ip.Type() == INODE_DIR }
func (ip *Inode) IsRegular() bool   { return ip.Mode&INODE_FREE == 0 && ip.Type() == INODE_FILE }
func (ip *Inode) IsSymlink() bool   { return ip.Mode&INODE_FREE == 0 && ip.Type() == INODE_SYMLINK }

// IsFree reports whether the free flag is set, clean or dirty.
func (ip *Inode) IsFree() bool { return ip.Mode&INODE_FREE != 0 }

// IsDirty reports whether the inode is free with its prior type bits still
// visible, meaning its cluster references may not have been dissociated.
func (ip *Inode) IsDirty() bool { return ip.IsFree() && ip.Type() != 0 }

func (ip *Inode) mustInUse(what string) {
	if ip.IsFree() {
		panic("inode: " + what + " on a free inode")
	}
}

func (ip *Inode) mustFree(what string) {
	if !ip.IsFree() {
		panic("inode: " + what + " on an inode in use")
	}
}

// ATime returns the time of last access, in seconds.
func (ip *Inode) ATime() uint32 { ip.mustInUse("ATime"); return ip.vD1 }

// MTime returns the time of last modification, in seconds.
func (ip *Inode) MTime() uint32 { ip.mustInUse("MTime"); return ip.vD2 }

func (ip *Inode) SetATime(t uint32) { ip.mustInUse("SetATime"); ip.vD1 = t }
func (ip *Inode) SetMTime(t uint32) { ip.mustInUse("SetMTime"); ip.vD2 = t }

// Next returns the successor in the free inode list.
func (ip *Inode) Next() uint32 { ip.mustFree("Next"); return ip.vD1 }

// Prev returns the predecessor in the free inode list.
func (ip *Inode) Prev() uint32 { ip.mustFree("Prev"); return ip.vD2 }

func (ip *Inode) SetNext(n uint32) { ip.mustFree("SetNext"); ip.vD1 = n }
func (ip *Inode) SetPrev(n uint32) { ip.mustFree("SetPrev"); ip.vD2 = n }

// SetFreeLink stores both free list links at once.
func (ip *Inode) SetFreeLink(next, prev uint32) {
	ip.mustFree("SetFreeLink")
	ip.vD1, ip.vD2 = next, prev
}

// SetTimes stores both timestamps at once.
func (ip *Inode) SetTimes(atime, mtime uint32) {
	ip.mustInUse("SetTimes")
	ip.vD1, ip.vD2 = atime, mtime
}

// PackInode serializes one inode record into an INODE_SIZE buffer.
func PackInode(ip *Inode, b []byte) {
	le := binary.LittleEndian
	le.PutUint16(b[0:], ip.Mode)
	le.PutUint16(b[2:], ip.RefCount)
	le.PutUint32(b[4:], ip.Owner)
	le.PutUint32(b[8:], ip.Group)
	le.PutUint32(b[12:], ip.Size)
	le.PutUint32(b[16:], ip.CluCount)
	le.PutUint32(b[20:], ip.vD1)
	le.PutUint32(b[24:], ip.vD2)
	for i := 0; i < N_DIRECT; i++ {
		le.PutUint32(b[28+4*i:], ip.D[i])
	}
	le.PutUint32(b[56:], ip.I1)
	le.PutUint32(b[60:], ip.I2)
}

// UnpackInode parses one inode record from an INODE_SIZE buffer.
func UnpackInode(b []byte) Inode {
	le := binary.LittleEndian
	ip := Inode{
		Mode:     le.Uint16(b[0:]),
		RefCount: le.Uint16(b[2:]),
		Owner:    le.Uint32(b[4:]),
		Group:    le.Uint32(b[8:]),
		Size:     le.Uint32(b[12:]),
		CluCount: le.Uint32(b[16:]),
		vD1:      le.Uint32(b[20:]),
		vD2:      le.Uint32(b[24:]),
		I1:       le.Uint32(b[56:]),
		I2:       le.Uint32(b[60:]),
	}
	for i := 0; i < N_DIRECT; i++ {
		ip.D[i] = le.Uint32(b[28+4*i:])
	}
	return ip
}

// DirEntry is one fixed-size directory entry: a zero-padded name and the
// inode it references. An entry is free-clean when the name is all zero and
// the reference is NULL_INODE; it is a deletion tombstone when the first
// name byte is zero but the last is not (the two were swapped on removal).
type DirEntry struct {
	Name   [MAX_NAME + 1]byte
	NInode uint32
}

func (de *DirEntry) NameString() string {
	i := bytes.IndexByte(de.Name[:], 0)
	if i < 0 {
		i = len(de.Name)
	}
	return string(de.Name[:i])
}

// SetName zero-fills the name field and copies s into it.
func (de *DirEntry) SetName(s string) {
	de.Name = [MAX_NAME + 1]byte{}
	copy(de.Name[:MAX_NAME], s)
}

func (de *DirEntry) IsInUse() bool   { return de.Name[0] != 0 }
func (de *DirEntry) IsDeleted() bool { return de.Name[0] == 0 && de.Name[MAX_NAME] != 0 }
func (de *DirEntry) IsClean() bool   { return de.Name[0] == 0 && de.Name[MAX_NAME] == 0 }

// DataClust is one data cluster: a three-word header followed by BSLPC
// payload bytes. The payload is interpreted on demand as raw file bytes, an
// array of directory entries, or an array of cluster references.
type DataClust struct {
	Prev uint32
	Next uint32
	Stat uint32 // owning inode number, or NULL_INODE when dissociated
	Info [BSLPC]byte
}

// Ref reads reference slot i of a reference cluster payload.
func (dc *DataClust) Ref(i int) uint32 {
	return binary.LittleEndian.Uint32(dc.Info[4*i:])
}

// SetRef writes reference slot i of a reference cluster payload.
func (dc *DataClust) SetRef(i int, v uint32) {
	binary.LittleEndian.PutUint32(dc.Info[4*i:], v)
}

// FillRefs sets every reference slot to v.
func (dc *DataClust) FillRefs(v uint32) {
	for i := 0; i < RPC; i++ {
		dc.SetRef(i, v)
	}
}

// DirEntry reads directory entry slot i of a directory cluster payload.
func (dc *DataClust) DirEntry(i int) DirEntry {
	var de DirEntry
	off := i * DIR_ENTRY_SIZE
	copy(de.Name[:], dc.Info[off:off+MAX_NAME+1])
	de.NInode = binary.LittleEndian.Uint32(dc.Info[off+MAX_NAME+1:])
	return de
}

// SetDirEntry writes directory entry slot i of a directory cluster payload.
func (dc *DataClust) SetDirEntry(i int, de DirEntry) {
	off := i * DIR_ENTRY_SIZE
	copy(dc.Info[off:off+MAX_NAME+1], de.Name[:])
	binary.LittleEndian.PutUint32(dc.Info[off+MAX_NAME+1:], de.NInode)
}

// FillDirEntries sets every directory entry slot to the free-clean state.
func (dc *DataClust) FillDirEntries() {
	clean := DirEntry{NInode: NULL_INODE}
	for i := 0; i < DPC; i++ {
		dc.SetDirEntry(i, clean)
	}
}

// Pack serializes the cluster into a CLUSTER_SIZE buffer.
func (dc *DataClust) Pack(b []byte) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], dc.Prev)
	le.PutUint32(b[4:], dc.Next)
	le.PutUint32(b[8:], dc.Stat)
	copy(b[CLUSTER_HEADER_SIZE:CLUSTER_SIZE], dc.Info[:])
}

// UnpackDataClust parses a cluster from a CLUSTER_SIZE buffer.
func UnpackDataClust(b []byte) DataClust {
	le := binary.LittleEndian
	dc := DataClust{
		Prev: le.Uint32(b[0:]),
		Next: le.Uint32(b[4:]),
		Stat: le.Uint32(b[8:]),
	}
	copy(dc.Info[:], b[CLUSTER_HEADER_SIZE:CLUSTER_SIZE])
	return dc
}

// ReadCluster reads the BLOCKS_PER_CLUSTER blocks starting at physical
// block nfClust into a CLUSTER_SIZE buffer.
func ReadCluster(dev BlockDevice, nfClust uint32, buf []byte) error {
	for i := uint32(0); i < BLOCKS_PER_CLUSTER; i++ {
		if err := dev.ReadBlock(nfClust+i, buf[i*BLOCK_SIZE:(i+1)*BLOCK_SIZE]); err != nil {
			return err
		}
	}
	return nil
}

// WriteCluster writes a CLUSTER_SIZE buffer to the BLOCKS_PER_CLUSTER
// blocks starting at physical block nfClust.
func WriteCluster(dev BlockDevice, nfClust uint32, buf []byte) error {
	for i := uint32(0); i < BLOCKS_PER_CLUSTER; i++ {
		if err := dev.WriteBlock(nfClust+i, buf[i*BLOCK_SIZE:(i+1)*BLOCK_SIZE]); err != nil {
			return err
		}
	}
	return nil
}
