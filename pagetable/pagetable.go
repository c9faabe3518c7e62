// Package pagetable implements the page-table primitive spec.md names
// only as an external contract: a software Sv39-shaped 3-level table
// (VPN2/VPN1/VPN0, 512 entries per level, 4KiB pages) mapping Va_t to
// Pa_t with Sv39 permission bits. It has no relation to a real hart's
// MMU — there is no hardware here — but gives MemorySet something
// concrete to drive map_elf/mmap/handle_page_fault/clone_mapped against.
//
// Grounded on the teacher's mem.Pmap_t (a [512]Pa_t level array) and
// pg2pmap-style level indexing, trimmed from 4 levels (PML4) to 3
// (Sv39) and with the COW-aware walk logic removed.
package pagetable

import (
	"rvkernel/mem"
)

const levels = 3

// entriesPerLevel matches Sv39: 9 bits of index per level.
const entriesPerLevel = 512

// PTE is one raw page-table entry: a physical frame number shifted left
// by PGSHIFT, ORed with mem.PTE_* permission bits.
type PTE uint64

func (p PTE) Valid() bool { return p&mem.PTE_V != 0 }
func (p PTE) Addr() mem.Pa_t {
	return mem.Pa_t(p) &^ mem.Pa_t(mem.PGOFFSET)
}
func (p PTE) Flags() uint64 { return uint64(p) & mem.PGOFFSET }

func mkpte(pa mem.Pa_t, flags uint64) PTE {
	return PTE(uint64(pa&^mem.Pa_t(mem.PGOFFSET)) | (flags & mem.PGOFFSET))
}

// level is one table of 512 PTEs, itself living in a FrameAllocator
// frame so it can be addressed the same way data pages are.
type level [entriesPerLevel]PTE

// PageTable is one task's (or the kernel's) address-space mapping.
type PageTable struct {
	alloc mem.FrameAllocator
	root  mem.Pa_t
}

func vpn(va mem.Va_t, lvl int) int {
	shift := mem.PGSHIFT + 9*lvl
	return int((va >> uint(shift)) & (entriesPerLevel - 1))
}

// New allocates a fresh, empty root table.
func New(alloc mem.FrameAllocator) (*PageTable, bool) {
	root, ok := alloc.Alloc()
	if !ok {
		return nil, false
	}
	return &PageTable{alloc: alloc, root: root}, true
}

func (pt *PageTable) levelAt(pa mem.Pa_t) *level {
	return (*level)(ptrOf(pt.alloc.Bytes(pa)))
}

// walk returns a pointer to the leaf PTE for va, allocating intermediate
// levels along the way when create is true.
func (pt *PageTable) walk(va mem.Va_t, create bool) *PTE {
	tbl := pt.levelAt(pt.root)
	for lvl := levels - 1; lvl > 0; lvl-- {
		idx := vpn(va, lvl)
		pte := &tbl[idx]
		if !pte.Valid() {
			if !create {
				return nil
			}
			npa, ok := pt.alloc.Alloc()
			if !ok {
				return nil
			}
			*pte = mkpte(npa, mem.PTE_V)
		}
		tbl = pt.levelAt(pte.Addr())
	}
	return &tbl[vpn(va, 0)]
}

// Map installs a single PGSIZE mapping va -> pa with the given
// permission flags (a subset of mem.PTE_R|W|X|U), creating intermediate
// levels as needed. It returns false if a frame for an intermediate
// level could not be allocated.
func (pt *PageTable) Map(va mem.Va_t, pa mem.Pa_t, flags uint64) bool {
	pte := pt.walk(va, true)
	if pte == nil {
		return false
	}
	*pte = mkpte(pa, flags|mem.PTE_V)
	return true
}

// MapRegion installs mappings for every page in [va, va+size), backed by
// physically contiguous frames starting at pa.
func (pt *PageTable) MapRegion(va mem.Va_t, pa mem.Pa_t, size int, flags uint64) bool {
	for off := 0; off < size; off += mem.PGSIZE {
		if !pt.Map(va+mem.Va_t(off), pa+mem.Pa_t(off), flags) {
			return false
		}
	}
	return true
}

// MapFaultRegion marks every page in [va, va+size) present-but-invalid:
// the leaf PTE is allocated and set to zero, so PTE_V and every
// permission bit are clear and Addr() is zero, and any access traps the same way an
// unmapped access would, letting handle_page_fault distinguish "lazily
// backed" from "never going to exist" by consulting the owning MapArea
// rather than the PTE itself.
func (pt *PageTable) MapFaultRegion(va mem.Va_t, size int) bool {
	for off := 0; off < size; off += mem.PGSIZE {
		pte := pt.walk(va+mem.Va_t(off), true)
		if pte == nil {
			return false
		}
		*pte = PTE(0)
	}
	return true
}

// MapOverwrite replaces whatever mapping exists at va (valid or a fault
// placeholder) with a concrete pa/flags mapping, allocating intermediate
// levels if this address was never walked before.
func (pt *PageTable) MapOverwrite(va mem.Va_t, pa mem.Pa_t, flags uint64) bool {
	return pt.Map(va, pa, flags)
}

// Unmap clears every PTE in [va, va+size), leaving intermediate levels
// in place (they're cheap and other mappings may still use them).
func (pt *PageTable) Unmap(va mem.Va_t, size int) {
	for off := 0; off < size; off += mem.PGSIZE {
		if pte := pt.walk(va+mem.Va_t(off), false); pte != nil {
			*pte = PTE(0)
		}
	}
}

// Translate returns the physical frame and flags backing va, or ok=false
// if unmapped or only fault-mapped.
func (pt *PageTable) Translate(va mem.Va_t) (mem.Pa_t, uint64, bool) {
	pte := pt.walk(va, false)
	if pte == nil || !pte.Valid() {
		return 0, 0, false
	}
	return pte.Addr(), pte.Flags(), true
}

// RootPaddr returns the physical frame holding the root level, the
// software analogue of the satp CSR value a hart would load on a real
// context switch.
func (pt *PageTable) RootPaddr() mem.Pa_t { return pt.root }

// FlushAll is a no-op here: there is no TLB to shoot down in a
// single-hart software simulation, but the call site in sched's context
// switch keeps the same shape a real implementation would need.
func (pt *PageTable) FlushAll() {}
