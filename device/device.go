// Package device provides the raw block I/O primitive: a regular file
// addressed as an array of fixed-size blocks.
package device

import (
	"os"

	"github.com/luminoso/SOFS14/common"
)

// FileDevice is a file-backed block device. It performs synchronous,
// unbuffered I/O; callers wanting write-back buffering wrap it in a
// bcache.Cache.
type FileDevice struct {
	file    *os.File
	nblocks uint32
}

var _ common.BlockDevice = (*FileDevice)(nil)

// Open opens the file at path as a block device. The file size must be a
// multiple of the block size.
func Open(path string) (*FileDevice, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, common.EBADF
	}
	st, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, common.EIO
	}
	if st.Size()%common.BLOCK_SIZE != 0 {
		file.Close()
		return nil, common.EINVAL
	}
	return &FileDevice{file, uint32(st.Size() / common.BLOCK_SIZE)}, nil
}

// NBlocks returns the device size in blocks.
func (dev *FileDevice) NBlocks() uint32 { return dev.nblocks }

// ReadBlock reads block n into buf, which must be BLOCK_SIZE bytes.
func (dev *FileDevice) ReadBlock(n uint32, buf []byte) error {
	if dev.file == nil {
		return common.EBADF
	}
	if n >= dev.nblocks || len(buf) != common.BLOCK_SIZE {
		return common.EINVAL
	}
	if _, err := dev.file.ReadAt(buf, int64(n)*common.BLOCK_SIZE); err != nil {
		return common.EIO
	}
	return nil
}

// WriteBlock writes buf, which must be BLOCK_SIZE bytes, to block n.
func (dev *FileDevice) WriteBlock(n uint32, buf []byte) error {
	if dev.file == nil {
		return common.EBADF
	}
	if n >= dev.nblocks || len(buf) != common.BLOCK_SIZE {
		return common.EINVAL
	}
	if _, err := dev.file.WriteAt(buf, int64(n)*common.BLOCK_SIZE); err != nil {
		return common.EIO
	}
	return nil
}

// Flush is a no-op; writes are unbuffered.
func (dev *FileDevice) Flush() error {
	if dev.file == nil {
		return common.EBADF
	}
	return nil
}

// Close closes the underlying file. Further calls fail with EBADF.
func (dev *FileDevice) Close() error {
	if dev.file == nil {
		return common.EBADF
	}
	err := dev.file.Close()
	dev.file = nil
	if err != nil {
		return common.EIO
	}
	return nil
}
