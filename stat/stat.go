// Package stat defines the Kstat structure returned by the fstat
// syscall. Most fields are zero until a real filesystem backs a fd;
// this core only ever has enough information to fill size and mode.
package stat

import (
	"encoding/binary"
)

// Kstat mirrors the struct stat fields a RISC-V64 Linux-ABI fstat call
// returns. Field order matches the wire layout so Bytes can serialize it
// with a single pass instead of reshuffling per field.
type Kstat struct {
	Dev       uint64
	Ino       uint64
	Mode      uint32
	Nlink     uint32
	Uid       uint32
	Gid       uint32
	Rdev      uint64
	pad0      uint64
	Size      uint64
	Blksize   uint32
	pad1      uint32
	Blocks    uint64
	AtimeSec  int64
	AtimeNsec int64
	MtimeSec  int64
	MtimeNsec int64
	CtimeSec  int64
	CtimeNsec int64
}

const (
	S_IFREG = 0o100000
	S_IFCHR = 0o020000
)

// ForRegularFile returns a Kstat describing a plain file of the given
// size, with Nlink 1, Blksize 512, and every other field left zeroed.
func ForRegularFile(size int64) Kstat {
	return Kstat{Mode: S_IFREG, Nlink: 1, Size: uint64(size), Blksize: 512}
}

// ForCharDevice returns a Kstat describing a character device such as
// the console.
func ForCharDevice() Kstat {
	return Kstat{Mode: S_IFCHR, Nlink: 1}
}

// Bytes serializes the Kstat in little-endian wire order, ready to be
// copied into user memory by the fstat syscall handler. It emits 112
// bytes, through CtimeSec; CtimeNsec is not written.
func (k Kstat) Bytes() []byte {
	buf := make([]byte, 112)
	le := binary.LittleEndian
	le.PutUint64(buf[0:], k.Dev)
	le.PutUint64(buf[8:], k.Ino)
	le.PutUint32(buf[16:], k.Mode)
	le.PutUint32(buf[20:], k.Nlink)
	le.PutUint32(buf[24:], k.Uid)
	le.PutUint32(buf[28:], k.Gid)
	le.PutUint64(buf[32:], k.Rdev)
	le.PutUint64(buf[48:], k.Size)
	le.PutUint32(buf[56:], k.Blksize)
	le.PutUint64(buf[64:], k.Blocks)
	le.PutUint64(buf[72:], uint64(k.AtimeSec))
	le.PutUint64(buf[80:], uint64(k.AtimeNsec))
	le.PutUint64(buf[88:], uint64(k.MtimeSec))
	le.PutUint64(buf[96:], uint64(k.MtimeNsec))
	le.PutUint64(buf[104:], uint64(k.CtimeSec))
	return buf[:112]
}
