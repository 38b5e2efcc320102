// Package bcache implements a write-back block cache in front of a raw
// block device. The metadata engine issues many small reads and writes
// against the same few blocks (superblock, the loaded inode table block,
// free list heads); the cache absorbs them and writes dirty blocks back on
// eviction and on Flush.
package bcache

import (
	"github.com/luminoso/SOFS14/common"
)

// DEFAULT_NR_BUFS is the cache size used when NewCache is given zero.
const DEFAULT_NR_BUFS = 64

type lruBuf struct {
	bnum  uint32
	data  []byte
	dirty bool

	prev *lruBuf // towards the least recently used end
	next *lruBuf
}

// Cache is a single-client LRU write-back cache. It implements the same
// BlockDevice contract as the device it wraps, so the stores above it do
// not know whether their I/O is buffered.
type Cache struct {
	dev    common.BlockDevice
	bufs   map[uint32]*lruBuf
	nslots int
	front  *lruBuf // least recently used
	rear   *lruBuf // most recently used
	closed bool
}

var _ common.BlockDevice = (*Cache)(nil)

// NewCache wraps dev in a write-back cache of nslots blocks.
func NewCache(dev common.BlockDevice, nslots int) *Cache {
	if nslots <= 0 {
		nslots = DEFAULT_NR_BUFS
	}
	return &Cache{
		dev:    dev,
		bufs:   make(map[uint32]*lruBuf, nslots),
		nslots: nslots,
	}
}

// unlink removes bp from the LRU chain.
func (c *Cache) unlink(bp *lruBuf) {
	if bp.prev != nil {
		bp.prev.next = bp.next
	} else {
		c.front = bp.next
	}
	if bp.next != nil {
		bp.next.prev = bp.prev
	} else {
		c.rear = bp.prev
	}
	bp.prev, bp.next = nil, nil
}

// touch moves bp to the most recently used end of the chain.
func (c *Cache) touch(bp *lruBuf) {
	if c.rear == bp {
		return
	}
	if bp.prev != nil || bp.next != nil || c.front == bp {
		c.unlink(bp)
	}
	bp.prev = c.rear
	if c.rear != nil {
		c.rear.next = bp
	}
	c.rear = bp
	if c.front == nil {
		c.front = bp
	}
}

// get returns the buffer for block n, loading and possibly evicting.
func (c *Cache) get(n uint32, load bool) (*lruBuf, error) {
	if bp, ok := c.bufs[n]; ok {
		c.touch(bp)
		return bp, nil
	}
	if len(c.bufs) >= c.nslots {
		victim := c.front
		if victim.dirty {
			if err := c.dev.WriteBlock(victim.bnum, victim.data); err != nil {
				return nil, err
			}
		}
		c.unlink(victim)
		delete(c.bufs, victim.bnum)
	}
	bp := &lruBuf{bnum: n, data: make([]byte, common.BLOCK_SIZE)}
	if load {
		if err := c.dev.ReadBlock(n, bp.data); err != nil {
			return nil, err
		}
	}
	c.bufs[n] = bp
	c.touch(bp)
	return bp, nil
}

func (c *Cache) ReadBlock(n uint32, buf []byte) error {
	if c.closed {
		return common.EBADF
	}
	if len(buf) != common.BLOCK_SIZE {
		return common.EINVAL
	}
	bp, err := c.get(n, true)
	if err != nil {
		return err
	}
	copy(buf, bp.data)
	return nil
}

func (c *Cache) WriteBlock(n uint32, buf []byte) error {
	if c.closed {
		return common.EBADF
	}
	if len(buf) != common.BLOCK_SIZE {
		return common.EINVAL
	}
	bp, err := c.get(n, false)
	if err != nil {
		return err
	}
	copy(bp.data, buf)
	bp.dirty = true
	return nil
}

// Flush writes every dirty buffer back to the underlying device.
func (c *Cache) Flush() error {
	if c.closed {
		return common.EBADF
	}
	for bp := c.front; bp != nil; bp = bp.next {
		if bp.dirty {
			if err := c.dev.WriteBlock(bp.bnum, bp.data); err != nil {
				return err
			}
			bp.dirty = false
		}
	}
	return c.dev.Flush()
}

// Close flushes and closes the underlying device.
func (c *Cache) Close() error {
	if c.closed {
		return common.EBADF
	}
	if err := c.Flush(); err != nil {
		return err
	}
	c.closed = true
	return c.dev.Close()
}
