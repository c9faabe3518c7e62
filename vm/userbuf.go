package vm

import (
	"rvkernel/defs"
	"rvkernel/mem"
)

// IoVec mirrors the two-word struct iovec the writev syscall (ID 66, spec
// §4.7) reads out of user memory: a user pointer and a length. Grounded on
// the teacher's userbuf.go Useriovec_t and original_source's axsyscall
// IoVec.
type IoVec struct {
	Base mem.Va_t
	Len  uint64
}

const ioVecSize = 16 // two uint64 fields, native layout

// ReadIoVecs decodes count IoVec entries starting at va out of the
// MemorySet, the shape the writev handler needs before it can iterate
// each buffer.
func ReadIoVecs(ms *MemorySet, va mem.Va_t, count int) ([]IoVec, defs.Err_t) {
	out := make([]IoVec, count)
	for i := 0; i < count; i++ {
		raw := make([]byte, ioVecSize)
		if err := ms.ReadAt(va+mem.Va_t(i*ioVecSize), raw); err != 0 {
			return nil, err
		}
		out[i] = IoVec{
			Base: mem.Va_t(leUint64(raw[0:8])),
			Len:  leUint64(raw[8:16]),
		}
	}
	return out, 0
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// CopyIn reads len(buf) bytes from the user address space at va, faulting
// in lazy pages as needed. Thin, named wrapper over MemorySet.ReadAt kept
// so syscall handlers read like "copy in the argument" rather than poking
// at MemorySet internals directly.
func CopyIn(ms *MemorySet, va mem.Va_t, buf []byte) defs.Err_t { return ms.ReadAt(va, buf) }

// CopyOut writes buf to the user address space at va.
func CopyOut(ms *MemorySet, va mem.Va_t, buf []byte) defs.Err_t { return ms.WriteAt(va, buf) }

// CopyInString reads a NUL-terminated string, used by openat to resolve
// its path argument.
func CopyInString(ms *MemorySet, va mem.Va_t, max int) ([]byte, defs.Err_t) {
	return ms.ReadCString(va, max)
}
