package stat

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestForRegularFileWireLayout exercises the fstat wire format a RISC-V64
// Linux-ABI caller expects: mode, nlink, size, and blksize land at their
// struct-stat offsets, and nothing else is set.
func TestForRegularFileWireLayout(t *testing.T) {
	ks := ForRegularFile(4096)
	b := ks.Bytes()
	require.Len(t, b, 112)

	le := binary.LittleEndian
	require.Equal(t, uint32(S_IFREG), le.Uint32(b[16:]), "mode")
	require.Equal(t, uint32(1), le.Uint32(b[20:]), "nlink")
	require.Equal(t, uint64(4096), le.Uint64(b[48:]), "size")
	require.Equal(t, uint32(512), le.Uint32(b[56:]), "blksize")

	require.Zero(t, le.Uint64(b[0:]), "dev")
	require.Zero(t, le.Uint64(b[8:]), "ino")
	require.Zero(t, le.Uint64(b[72:]), "atime")
}

// TestForCharDeviceWireLayout exercises the console/stdio fstat path.
func TestForCharDeviceWireLayout(t *testing.T) {
	ks := ForCharDevice()
	b := ks.Bytes()

	le := binary.LittleEndian
	require.Equal(t, uint32(S_IFCHR), le.Uint32(b[16:]), "mode")
	require.Equal(t, uint32(1), le.Uint32(b[20:]), "nlink")
	require.Zero(t, le.Uint64(b[48:]), "a char device reports no size")
}

// TestBytesLength asserts the wire layout always serializes to exactly
// the 112-byte struct-stat size this core targets, regardless of which
// fields are populated.
func TestBytesLength(t *testing.T) {
	require.Len(t, Kstat{}.Bytes(), 112)
	require.Len(t, ForRegularFile(0).Bytes(), 112)
}
