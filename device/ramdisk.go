package device

import (
	"github.com/luminoso/SOFS14/common"
)

// RamDevice is a memory-backed block device, used by the test suites and
// by tooling that stages an image before writing it out.
type RamDevice struct {
	data   []byte
	closed bool
}

var _ common.BlockDevice = (*RamDevice)(nil)

// NewRamDevice creates a zero-filled memory device of nblocks blocks.
func NewRamDevice(nblocks uint32) *RamDevice {
	return &RamDevice{data: make([]byte, int(nblocks)*common.BLOCK_SIZE)}
}

// NBlocks returns the device size in blocks.
func (dev *RamDevice) NBlocks() uint32 {
	return uint32(len(dev.data) / common.BLOCK_SIZE)
}

func (dev *RamDevice) ReadBlock(n uint32, buf []byte) error {
	if dev.closed {
		return common.EBADF
	}
	if n >= dev.NBlocks() || len(buf) != common.BLOCK_SIZE {
		return common.EINVAL
	}
	copy(buf, dev.data[int(n)*common.BLOCK_SIZE:])
	return nil
}

func (dev *RamDevice) WriteBlock(n uint32, buf []byte) error {
	if dev.closed {
		return common.EBADF
	}
	if n >= dev.NBlocks() || len(buf) != common.BLOCK_SIZE {
		return common.EINVAL
	}
	copy(dev.data[int(n)*common.BLOCK_SIZE:], buf)
	return nil
}

func (dev *RamDevice) Flush() error {
	if dev.closed {
		return common.EBADF
	}
	return nil
}

func (dev *RamDevice) Close() error {
	if dev.closed {
		return common.EBADF
	}
	dev.closed = true
	return nil
}
