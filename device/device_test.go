package device

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/luminoso/SOFS14/common"
)

func tempImage(t *testing.T, nblocks int) string {
	path := filepath.Join(t.TempDir(), "disk.img")
	if err := os.WriteFile(path, make([]byte, nblocks*common.BLOCK_SIZE), 0o644); err != nil {
		t.Fatalf("image creation failed: %s", err)
	}
	return path
}

func TestFileDeviceRoundTrip(t *testing.T) {
	dev, err := Open(tempImage(t, 8))
	if err != nil {
		t.Fatalf("open failed: %s", err)
	}
	if dev.NBlocks() != 8 {
		t.Errorf("block count %d", dev.NBlocks())
	}

	out := make([]byte, common.BLOCK_SIZE)
	for i := range out {
		out[i] = byte(i)
	}
	if err := dev.WriteBlock(5, out); err != nil {
		t.Fatalf("write failed: %s", err)
	}
	in := make([]byte, common.BLOCK_SIZE)
	if err := dev.ReadBlock(5, in); err != nil {
		t.Fatalf("read failed: %s", err)
	}
	if !bytes.Equal(out, in) {
		t.Errorf("payload mismatch after round trip")
	}

	if err := dev.ReadBlock(8, in); err != common.EINVAL {
		t.Errorf("out of range read returned %v", err)
	}
	if err := dev.ReadBlock(0, in[:10]); err != common.EINVAL {
		t.Errorf("short buffer read returned %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("close failed: %s", err)
	}
	if err := dev.ReadBlock(0, in); err != common.EBADF {
		t.Errorf("read after close returned %v", err)
	}
	if err := dev.Close(); err != common.EBADF {
		t.Errorf("double close returned %v", err)
	}
}

func TestOpenRejectsRaggedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ragged.img")
	if err := os.WriteFile(path, make([]byte, common.BLOCK_SIZE+1), 0o644); err != nil {
		t.Fatalf("image creation failed: %s", err)
	}
	if _, err := Open(path); err != common.EINVAL {
		t.Errorf("ragged file open returned %v", err)
	}
}

func TestRamDeviceRoundTrip(t *testing.T) {
	dev := NewRamDevice(4)
	out := make([]byte, common.BLOCK_SIZE)
	out[0] = 0xA5
	if err := dev.WriteBlock(3, out); err != nil {
		t.Fatalf("write failed: %s", err)
	}
	in := make([]byte, common.BLOCK_SIZE)
	if err := dev.ReadBlock(3, in); err != nil {
		t.Fatalf("read failed: %s", err)
	}
	if !bytes.Equal(out, in) {
		t.Errorf("payload mismatch after round trip")
	}
	dev.Close()
	if err := dev.WriteBlock(0, out); err != common.EBADF {
		t.Errorf("write after close returned %v", err)
	}
}

func TestClusterIO(t *testing.T) {
	dev := NewRamDevice(8)
	out := make([]byte, common.CLUSTER_SIZE)
	for i := range out {
		out[i] = byte(i * 3)
	}
	if err := common.WriteCluster(dev, 4, out); err != nil {
		t.Fatalf("cluster write failed: %s", err)
	}
	in := make([]byte, common.CLUSTER_SIZE)
	if err := common.ReadCluster(dev, 4, in); err != nil {
		t.Fatalf("cluster read failed: %s", err)
	}
	if !bytes.Equal(out, in) {
		t.Errorf("payload mismatch after round trip")
	}
}
