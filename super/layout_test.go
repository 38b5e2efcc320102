package super

import (
	"testing"

	"github.com/luminoso/SOFS14/common"
)

func TestComputeLayoutSmallDevice(t *testing.T) {
	// 19 blocks, 16 inodes: two table blocks, four clusters, the device
	// fully accounted for.
	l, err := ComputeLayout(19*common.BLOCK_SIZE, 16)
	if err != nil {
		t.Fatalf("layout failed: %s", err)
	}
	if l.NTotal != 19 || l.ITableSize != 2 || l.ITotal != 16 || l.DZoneTotal != 4 || l.DZoneStart != 3 {
		t.Errorf("unexpected layout: %+v", l)
	}
	if 1+l.ITableSize+l.DZoneTotal*common.BLOCKS_PER_CLUSTER != l.NTotal {
		t.Errorf("layout does not cover the device: %+v", l)
	}
}

func TestComputeLayoutAbsorbsRemainder(t *testing.T) {
	// 100 blocks, 8 inodes: the data zone takes 24 clusters and the table
	// swallows the remainder, growing to 3 blocks and 24 inodes.
	l, err := ComputeLayout(100*common.BLOCK_SIZE, 8)
	if err != nil {
		t.Fatalf("layout failed: %s", err)
	}
	if l.ITableSize != 3 || l.ITotal != 24 || l.DZoneTotal != 24 {
		t.Errorf("unexpected layout: %+v", l)
	}
	if 1+l.ITableSize+l.DZoneTotal*common.BLOCKS_PER_CLUSTER != l.NTotal {
		t.Errorf("layout does not cover the device: %+v", l)
	}
}

func TestComputeLayoutDefaultInodes(t *testing.T) {
	l, err := ComputeLayout(1024*common.BLOCK_SIZE, 0)
	if err != nil {
		t.Fatalf("layout failed: %s", err)
	}
	if l.ITotal < 1024/8 {
		t.Errorf("default inode count too small: %d", l.ITotal)
	}
	if 1+l.ITableSize+l.DZoneTotal*common.BLOCKS_PER_CLUSTER != l.NTotal {
		t.Errorf("layout does not cover the device: %+v", l)
	}
}

func TestComputeLayoutRejects(t *testing.T) {
	if _, err := ComputeLayout(19*common.BLOCK_SIZE+1, 16); err != common.EINVAL {
		t.Errorf("expected EINVAL for a ragged size, got %v", err)
	}
	if _, err := ComputeLayout(0, 16); err != common.EINVAL {
		t.Errorf("expected EINVAL for an empty device, got %v", err)
	}
	if _, err := ComputeLayout(3*common.BLOCK_SIZE, 8); err != common.EINVAL {
		t.Errorf("expected EINVAL for a device with no room, got %v", err)
	}
}
