package vm

import (
	"rvkernel/defs"
	"rvkernel/mem"
	"rvkernel/pagetable"
)

// slot is one page of a MapArea: either empty (lazy, not yet faulted in)
// or holding exclusive ownership of one physical frame.
type slot struct {
	pa     mem.Pa_t
	filled bool
}

// MapArea is one contiguous VA range backing state, spec §4.1. Slot i
// covers [vaddr+i*PGSIZE, vaddr+(i+1)*PGSIZE).
type MapArea struct {
	vaddr   mem.Va_t
	pages   []slot
	flags   uint64 // mem.PTE_U|R|W|X
	backend *MemBackend
}

// Vaddr, End, and Size describe the area's VA extent.
func (a *MapArea) Vaddr() mem.Va_t { return a.vaddr }
func (a *MapArea) Size() int       { return len(a.pages) * mem.PGSIZE }
func (a *MapArea) End() mem.Va_t   { return a.vaddr + mem.Va_t(a.Size()) }
func (a *MapArea) Flags() uint64   { return a.flags }

// NewLazyArea installs n fault-on-access page-table entries and leaves
// every slot empty, for demand paging.
func NewLazyArea(pt *pagetable.PageTable, vaddr mem.Va_t, n int, flags uint64, backend *MemBackend) *MapArea {
	pt.MapFaultRegion(vaddr, n*mem.PGSIZE)
	return &MapArea{vaddr: vaddr, pages: make([]slot, n), flags: flags, backend: backend}
}

// NewAllocArea allocates n physically contiguous frames, maps them with
// flags immediately, and fills every slot.
func NewAllocArea(pt *pagetable.PageTable, alloc mem.FrameAllocator, vaddr mem.Va_t, n int, flags uint64, backend *MemBackend) (*MapArea, bool) {
	base, ok := alloc.AllocContiguous(n)
	if !ok {
		return nil, false
	}
	pt.MapRegion(vaddr, base, n*mem.PGSIZE, flags)
	a := &MapArea{vaddr: vaddr, pages: make([]slot, n), flags: flags, backend: backend}
	for i := range a.pages {
		a.pages[i] = slot{pa: base + mem.Pa_t(i*mem.PGSIZE), filled: true}
	}
	return a, true
}

// HandlePageFault resolves a fault at addr, which must fall within this
// area. accessFlags must be a subset of the area's flags or the fault is
// fatal (permission violation); a fault on an already-filled slot is a
// kernel-invariant violation ("double-fault").
func (a *MapArea) HandlePageFault(pt *pagetable.PageTable, alloc mem.FrameAllocator, addr mem.Va_t, accessFlags uint64) defs.Err_t {
	if addr < a.vaddr || addr >= a.End() {
		panic("page fault address outside area")
	}
	if accessFlags&^a.flags != 0 {
		panic("page fault: permission violation")
	}
	i := int(addr-a.vaddr) / mem.PGSIZE
	if a.pages[i].filled {
		panic("page fault on already-resident slot (double-fault)")
	}
	pa, ok := alloc.Alloc()
	if !ok {
		return defs.ENOMEM
	}
	if a.backend != nil {
		buf := alloc.Bytes(pa)
		if _, err := a.backend.ReadFromSeek(int64(i*mem.PGSIZE), buf); err != 0 {
			for j := range buf {
				buf[j] = 0
			}
		}
	}
	base := mem.Pgrounddown(addr)
	pt.MapOverwrite(base, pa, a.flags)
	a.pages[i] = slot{pa: pa, filled: true}
	return 0
}

// SyncPageWithBackend writes slot i back to the backend, if both the slot
// is filled and a backend exists.
func (a *MapArea) SyncPageWithBackend(alloc mem.FrameAllocator, i int) {
	if !a.pages[i].filled || a.backend == nil {
		return
	}
	buf := alloc.Bytes(a.pages[i].pa)
	a.backend.WriteToSeek(int64(i*mem.PGSIZE), buf)
}

// Drop flushes every filled, backend-backed slot. Page-table teardown is
// the caller's (MemorySet's) responsibility, per spec §4.1.
func (a *MapArea) Drop(alloc mem.FrameAllocator) {
	for i, s := range a.pages {
		if s.filled {
			a.SyncPageWithBackend(alloc, i)
			alloc.Free(s.pa)
		}
	}
}

// OverlapWith reports whether this area intersects [s, e).
func (a *MapArea) OverlapWith(s, e mem.Va_t) bool {
	return a.vaddr < e && s < a.End()
}

// ContainedIn reports whether this area lies entirely inside [s, e).
func (a *MapArea) ContainedIn(s, e mem.Va_t) bool {
	return s <= a.vaddr && a.End() <= e
}

// Contains reports whether [s, e) lies entirely inside this area.
func (a *MapArea) Contains(s, e mem.Va_t) bool {
	return a.vaddr <= s && e <= a.End()
}

// Snapshot copies out the live bytes of every filled slot, faulting in
// nothing; empty slots read back as zero. Used by split_for_area to
// preserve bytes across a partial unmap.
func (a *MapArea) Snapshot(alloc mem.FrameAllocator) []byte {
	out := make([]byte, a.Size())
	for i, s := range a.pages {
		if s.filled {
			copy(out[i*mem.PGSIZE:(i+1)*mem.PGSIZE], alloc.Bytes(s.pa))
		}
	}
	return out
}
