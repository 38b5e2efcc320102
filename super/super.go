// Package super maintains the in-memory copy of the superblock and the
// derivation of the device layout.
package super

import (
	"github.com/luminoso/SOFS14/common"
)

// Store caches the singleton superblock record. At most one superblock is
// loaded at a time; Get hands out a pointer into the store, so any routine
// that calls a helper which may reload the superblock must call Get again
// afterwards.
type Store struct {
	dev common.BlockDevice
	sb  *common.SuperBlock
	buf [common.BLOCK_SIZE]byte // raw block, keeps the reserved area intact
}

// NewStore creates a superblock store over dev. Nothing is read until the
// first Load.
func NewStore(dev common.BlockDevice) *Store {
	return &Store{dev: dev}
}

// Load reads block 0 and replaces the in-memory superblock with its
// contents. Any previously handed-out pointer is stale after this call.
func (s *Store) Load() error {
	if err := s.dev.ReadBlock(0, s.buf[:]); err != nil {
		return err
	}
	s.sb = common.UnpackSuperBlock(s.buf[:])
	return nil
}

// Get returns the loaded superblock. It panics when no Load has succeeded;
// asking for an unloaded superblock is a sequencing bug, not a runtime
// condition.
func (s *Store) Get() *common.SuperBlock {
	if s.sb == nil {
		panic("super: Get before Load")
	}
	return s.sb
}

// Loaded reports whether a superblock is currently in memory.
func (s *Store) Loaded() bool { return s.sb != nil }

// Store writes the in-memory superblock back to block 0. Every mutation of
// superblock fields must be paired with a Store before the mutating routine
// reports success.
func (s *Store) Store() error {
	if s.sb == nil {
		panic("super: Store before Load")
	}
	s.sb.Pack(s.buf[:])
	return s.dev.WriteBlock(0, s.buf[:])
}

// Reset primes the store with a superblock built in memory, as the
// formatter does before the device holds a valid one.
func (s *Store) Reset(sb *common.SuperBlock) {
	s.sb = sb
	for i := range s.buf {
		s.buf[i] = 0
	}
}
