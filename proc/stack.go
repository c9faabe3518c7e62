package proc

import (
	"encoding/binary"

	"rvkernel/mem"
	"rvkernel/vm"
)

// pushBytes decrements *sp by len(data), aligns the result down to align,
// writes data there, and returns the (possibly further-lowered-by-
// alignment) write address. Spec §4.5 push_slice.
func pushBytes(ms *vm.MemorySet, sp *mem.Va_t, data []byte, align mem.Va_t) mem.Va_t {
	*sp -= mem.Va_t(len(data))
	*sp = mem.Va_t(uint64(*sp) &^ (uint64(align) - 1))
	if err := vm.CopyOut(ms, *sp, data); err != 0 {
		panic("stack push: copy-out failed")
	}
	return *sp
}

// pushU64 pushes one 8-byte little-endian word.
func pushU64(ms *vm.MemorySet, sp *mem.Va_t, v uint64) mem.Va_t {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return pushBytes(ms, sp, b, 8)
}

// pushU64Pair pushes two consecutive 8-byte words (an auxv entry or a
// {type,value} style pair), as a single aligned block.
func pushU64Pair(ms *vm.MemorySet, sp *mem.Va_t, a, b uint64) mem.Va_t {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:], a)
	binary.LittleEndian.PutUint64(buf[8:], b)
	return pushBytes(ms, sp, buf, 8)
}

// pushU64Slice pushes vs as one contiguous little-endian array,
// preserving vs's index order (vs[0] ends up at the lowest address of the
// pushed block), spec §4.5 push_slice applied to a pointer array.
func pushU64Slice(ms *vm.MemorySet, sp *mem.Va_t, vs []uint64) mem.Va_t {
	buf := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	return pushBytes(ms, sp, buf, 8)
}

// pushStr pushes s's NUL terminator, then s's bytes, and returns the
// address of the first byte of s — the value an argv/envp pointer slot
// should hold. Spec §4.5 push_str.
func pushStr(ms *vm.MemorySet, sp *mem.Va_t, s string) mem.Va_t {
	pushBytes(ms, sp, []byte{0}, 1)
	return pushBytes(ms, sp, []byte(s), 1)
}
