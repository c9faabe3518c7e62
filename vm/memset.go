package vm

import (
	"debug/elf"
	"encoding/binary"
	"sync"

	"rvkernel/defs"
	"rvkernel/elfimage"
	"rvkernel/limits"
	"rvkernel/mem"
	"rvkernel/pagetable"
	"rvkernel/platform"
)

// elfLoadBase is the base address an ELF with a zero-vaddr, zero-offset
// LOAD segment (a position-independent executable linked to load at 0) is
// relocated to, spec §4.3 step 2.
const elfLoadBase = 0x0400_0000

// MemorySet owns one task's page table and the collection of user-space
// MapAreas mapped through it. Grounded on the teacher's Vm_t single-mutex
// shape; algorithm grounded on original_source's axmem::MemorySet (the
// arceos ancestor of this spec).
type MemorySet struct {
	mu      sync.Mutex
	pt      *pagetable.PageTable
	alloc   mem.FrameAllocator
	owned   []*MapArea
	entry   mem.Va_t
	maxUser mem.Va_t
	limits  *limits.Syslimit_t
}

// NewWithKernelMapped allocates a fresh page table and maps every
// platform-reported region into it, spec §4.3.
func NewWithKernelMapped(alloc mem.FrameAllocator, regions []platform.MemoryRegion, lim *limits.Syslimit_t) (*MemorySet, bool) {
	pt, ok := pagetable.New(alloc)
	if !ok {
		return nil, false
	}
	for _, r := range regions {
		pt.MapRegion(mem.Va_t(r.Base), r.Base, r.Size, r.Flags)
	}
	return &MemorySet{pt: pt, alloc: alloc, limits: lim}, true
}

func (ms *MemorySet) PageTable() *pagetable.PageTable { return ms.pt }
func (ms *MemorySet) Entry() mem.Va_t                 { return ms.entry }

func (ms *MemorySet) maxVa() mem.Va_t {
	m := ms.maxUser
	for _, a := range ms.owned {
		if a.End() > m {
			m = a.End()
		}
	}
	return m
}

// MaxVa exposes maxVa for the non-fixed mmap placement policy and tests.
func (ms *MemorySet) MaxVa() mem.Va_t {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.maxVa()
}

func elfFlagsToPTE(f elf.ProgFlag) uint64 {
	flags := uint64(mem.PTE_U)
	if f&elf.PF_R != 0 {
		flags |= mem.PTE_R
	}
	if f&elf.PF_W != 0 {
		flags |= mem.PTE_W
	}
	if f&elf.PF_X != 0 {
		flags |= mem.PTE_X
	}
	return flags
}

// newRegion rounds size up to whole pages and pushes a new area onto
// owned_mem, backed by data (if present, via NewAllocArea+copy) or lazily
// (via NewLazyArea), spec §4.3 new_region.
func (ms *MemorySet) newRegion(vaddr mem.Va_t, size int, flags uint64, data []byte, backend *MemBackend) (*MapArea, defs.Err_t) {
	if ms.limits != nil && !ms.limits.MapAreas.Taken(1) {
		return nil, defs.ENOMEM
	}
	n := mem.Pgroundup(mem.Va_t(size)) / mem.PGSIZE
	var area *MapArea
	if data != nil {
		a, ok := NewAllocArea(ms.pt, ms.alloc, vaddr, int(n), flags, backend)
		if !ok {
			if ms.limits != nil {
				ms.limits.MapAreas.Give()
			}
			return nil, defs.ENOMEM
		}
		for i := range a.pages {
			buf := ms.alloc.Bytes(a.pages[i].pa)
			for j := range buf {
				buf[j] = 0
			}
		}
		// data starts at offset 0 of the area.
		for off := 0; off < len(data); {
			i := off / mem.PGSIZE
			if i >= len(a.pages) {
				break
			}
			pageOff := off % mem.PGSIZE
			n := mem.PGSIZE - pageOff
			if n > len(data)-off {
				n = len(data) - off
			}
			buf := ms.alloc.Bytes(a.pages[i].pa)
			copy(buf[pageOff:pageOff+n], data[off:off+n])
			off += n
		}
		area = a
	} else {
		area = NewLazyArea(ms.pt, vaddr, int(n), flags, backend)
	}
	ms.owned = append(ms.owned, area)
	return area, 0
}

// NewAnonRegion installs a lazily-backed anonymous region at a caller-
// chosen VA, the operation Task.FromELFData uses to reserve the user
// stack before the stack-push helpers start writing into it (those writes
// fault the pages in through the ordinary HandlePageFault path).
func (ms *MemorySet) NewAnonRegion(vaddr mem.Va_t, size int, flags uint64) defs.Err_t {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	_, err := ms.newRegion(vaddr, size, flags, nil, nil)
	return err
}

// MapELF loads a parsed ELF image into this (freshly constructed)
// MemorySet, spec §4.3 map_elf, steps 1-6.
func (ms *MemorySet) MapELF(img *elfimage.Image) (map[int]uint64, defs.Err_t) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	base := mem.Va_t(0)
	elfHeaderVaddr := mem.Va_t(0)
	for _, ph := range img.Headers {
		if ph.Type == elf.PT_LOAD && ph.Offset == 0 {
			if ph.Vaddr == 0 {
				base = elfLoadBase
			}
			elfHeaderVaddr = base + mem.Va_t(ph.Vaddr)
			break
		}
	}

	var phdrOff uint64
	var phentsize, phnum int
	for _, ph := range img.Headers {
		if ph.Type != elf.PT_LOAD {
			continue
		}
		flags := elfFlagsToPTE(ph.Flags)
		startVa := mem.Pgrounddown(base + mem.Va_t(ph.Vaddr))
		frontPad := (base + mem.Va_t(ph.Vaddr)) - startVa
		if frontPad != mem.Va_t(ph.Offset%mem.PGSIZE) {
			panic("elf: vaddr/offset page alignment mismatch")
		}
		size := int(frontPad) + int(ph.Memsz)
		data := make([]byte, int(frontPad)+len(ph.Data()))
		copy(data[frontPad:], ph.Data())
		if _, err := ms.newRegion(startVa, size, flags, data, nil); err != 0 {
			return nil, err
		}
	}

	write64 := func(va mem.Va_t, val uint64) {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, val)
		ms.writeLocked(va, buf)
	}

	resolveSym := func(idx uint32) uint64 {
		if int(idx) >= len(img.Dynsym) {
			panic("elf: relocation symbol index out of range")
		}
		sym := img.Dynsym[idx]
		if sym.Section == elf.SHN_UNDEF {
			panic("elf: relocation against undefined symbol")
		}
		return sym.Value
	}

	for _, r := range img.RelaDyn {
		switch r.Type {
		case elfimage.RGot, elfimage.RPlt, elfimage.RRiscv64:
			val := resolveSym(r.Sym) + uint64(r.Addend)
			write64(base+mem.Va_t(r.Offset), val)
		case elfimage.RRelative, elfimage.RRiscvRelative:
			write64(base+mem.Va_t(r.Offset), uint64(base)+uint64(r.Addend))
		default:
			panic("elf: unexpected relocation type")
		}
	}
	for _, r := range img.RelaPlt {
		if r.Type != elfimage.RPltJumpSlot {
			panic("elf: unexpected .rela.plt relocation type")
		}
		write64(base+mem.Va_t(r.Offset), uint64(base)+resolveSym(r.Sym))
	}

	ms.entry = base + mem.Va_t(img.Entry)

	for _, ph := range img.Headers {
		if ph.Type == elf.PT_PHDR {
			phdrOff = ph.Offset
		}
	}
	_ = phdrOff
	phentsize = 56 // sizeof(Elf64_Phdr)
	for range img.Headers {
		phnum++
	}

	auxv := map[int]uint64{
		defs.AT_PHDR:   uint64(elfHeaderVaddr) + phdrOff,
		defs.AT_PHENT:  uint64(phentsize),
		defs.AT_PHNUM:  uint64(phnum),
		defs.AT_RANDOM: 0,
		defs.AT_PAGESZ: mem.PGSIZE,
	}
	return auxv, 0
}

// writeLocked performs a native-endian byte-slice write into whatever
// area covers va, faulting the page in first if necessary. Caller must
// hold ms.mu.
func (ms *MemorySet) writeLocked(va mem.Va_t, data []byte) defs.Err_t {
	a := ms.findAreaLocked(va)
	if a == nil {
		panic("relocation write outside any mapped area")
	}
	i := int(va-a.Vaddr()) / mem.PGSIZE
	if !a.pages[i].filled {
		if err := a.HandlePageFault(ms.pt, ms.alloc, mem.Pgrounddown(va), a.flags&(mem.PTE_R|mem.PTE_W|mem.PTE_X|mem.PTE_U)); err != 0 {
			return err
		}
	}
	off := int(va) % mem.PGSIZE
	buf := ms.alloc.Bytes(a.pages[i].pa)
	copy(buf[off:], data)
	return 0
}

func (ms *MemorySet) findAreaLocked(va mem.Va_t) *MapArea {
	for _, a := range ms.owned {
		if va >= a.Vaddr() && va < a.End() {
			return a
		}
	}
	return nil
}

// HandlePageFault finds the area containing addr and delegates, spec
// §4.3. A fault with no covering area is fatal.
func (ms *MemorySet) HandlePageFault(addr mem.Va_t, accessFlags uint64) defs.Err_t {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	a := ms.findAreaLocked(addr)
	if a == nil {
		panic("page fault: no area covers address")
	}
	return a.HandlePageFault(ms.pt, ms.alloc, addr, accessFlags)
}

// Mmap implements spec §4.3 mmap. Returns the mapped VA and 0 on
// success, or 0 and a nonzero Err_t on failure.
func (ms *MemorySet) Mmap(start mem.Va_t, size int, flags uint64, fixed bool, backend *MemBackend) (mem.Va_t, defs.Err_t) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	size = int(mem.Pgroundup(mem.Va_t(size)))
	if fixed {
		if start == 0 {
			return 0, defs.EINVAL
		}
		ms.splitForAreaLocked(start, start+mem.Va_t(size))
		if _, err := ms.newRegion(start, size, flags, nil, backend); err != 0 {
			return 0, err
		}
		ms.pt.FlushAll()
		return start, 0
	}
	place := mem.Pgroundup(ms.maxVa() + 1)
	if _, err := ms.newRegion(place, size, flags, nil, backend); err != 0 {
		return 0, err
	}
	ms.maxUser = place + mem.Va_t(size)
	ms.pt.FlushAll()
	return place, 0
}

// Munmap implements spec §4.3 munmap.
func (ms *MemorySet) Munmap(start mem.Va_t, size int) defs.Err_t {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	size = int(mem.Pgroundup(mem.Va_t(size)))
	ms.splitForAreaLocked(start, start+mem.Va_t(size))
	ms.pt.FlushAll()
	return 0
}

// splitForAreaLocked removes every area overlapping [start, end),
// preserving the bytes of any surviving edge as a freshly allocated
// region, spec §4.3 split_for_area. Caller must hold ms.mu.
func (ms *MemorySet) splitForAreaLocked(start, end mem.Va_t) {
	var kept []*MapArea
	for _, a := range ms.owned {
		if !a.OverlapWith(start, end) {
			kept = append(kept, a)
			continue
		}
		snap := a.Snapshot(ms.alloc)
		ms.pt.Unmap(a.Vaddr(), a.Size())

		if a.Vaddr() < start {
			leftSize := int(start - a.Vaddr())
			var lb *MemBackend
			if a.backend != nil {
				lb = a.backend.Clone()
			}
			left, ok := NewAllocArea(ms.pt, ms.alloc, a.Vaddr(), leftSize/mem.PGSIZE, a.flags, lb)
			if ok {
				for i := range left.pages {
					buf := ms.alloc.Bytes(left.pages[i].pa)
					copy(buf, snap[i*mem.PGSIZE:(i+1)*mem.PGSIZE])
				}
				kept = append(kept, left)
			}
		}
		if a.End() > end {
			rightVaddr := end
			rightSize := int(a.End() - end)
			deltaIntoOriginal := int64(end - a.Vaddr())
			var rb *MemBackend
			if a.backend != nil {
				rb = a.backend.CloneWithDelta(deltaIntoOriginal)
			}
			right, ok := NewAllocArea(ms.pt, ms.alloc, rightVaddr, rightSize/mem.PGSIZE, a.flags, rb)
			if ok {
				tailOff := int(deltaIntoOriginal)
				for i := range right.pages {
					buf := ms.alloc.Bytes(right.pages[i].pa)
					copy(buf, snap[tailOff+i*mem.PGSIZE:tailOff+(i+1)*mem.PGSIZE])
				}
				kept = append(kept, right)
			}
		}
		// The removed area (and its middle slice, if any) is dropped:
		// sync whatever backend-backed bytes it still owns and free its
		// frames. The left/right survivors above already hold their own
		// copies, so this drop only releases what neither kept.
		a.Drop(ms.alloc)
	}
	ms.owned = kept
}

// Mprotect locates the single area covering [start, start+size) and
// mutates its flags, rewriting PTEs for already-resident pages. Spec §4.3
// and §9 note the contract is intentionally this narrow.
func (ms *MemorySet) Mprotect(start mem.Va_t, size int, flags uint64) defs.Err_t {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	size = int(mem.Pgroundup(mem.Va_t(size)))
	end := start + mem.Va_t(size)
	for _, a := range ms.owned {
		if a.Contains(start, end) {
			a.flags = flags
			for i, s := range a.pages {
				if s.filled {
					ms.pt.MapOverwrite(a.Vaddr()+mem.Va_t(i*mem.PGSIZE), s.pa, flags)
				}
			}
			ms.pt.FlushAll()
			return 0
		}
	}
	return defs.EINVAL
}

// CloneMapped produces an independent MemorySet on a fresh page table.
// Only the user areas are mapped into it: the platform regions that
// NewWithKernelMapped mapped into the parent are not kept by MemorySet
// and are not mapped into the child. User areas are deep-copied (lazy slots stay lazy; filled slots get fresh
// frames with copied bytes), independent backend cursors. Spec §4.3
// clone_mapped.
func (ms *MemorySet) CloneMapped() (*MemorySet, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	pt, ok := pagetable.New(ms.alloc)
	if !ok {
		return nil, false
	}
	child := &MemorySet{pt: pt, alloc: ms.alloc, entry: ms.entry, maxUser: ms.maxUser, limits: ms.limits}

	for _, a := range ms.owned {
		var cb *MemBackend
		if a.backend != nil {
			cb = a.backend.Clone()
		}
		if allFilled(a) {
			na, ok := NewAllocArea(pt, ms.alloc, a.Vaddr(), len(a.pages), a.flags, cb)
			if !ok {
				return nil, false
			}
			for i := range a.pages {
				copy(ms.alloc.Bytes(na.pages[i].pa), ms.alloc.Bytes(a.pages[i].pa))
			}
			child.owned = append(child.owned, na)
			continue
		}
		na := NewLazyArea(pt, a.Vaddr(), len(a.pages), a.flags, cb)
		for i, s := range a.pages {
			if s.filled {
				pa, ok := ms.alloc.Alloc()
				if !ok {
					return nil, false
				}
				copy(ms.alloc.Bytes(pa), ms.alloc.Bytes(s.pa))
				pt.MapOverwrite(a.Vaddr()+mem.Va_t(i*mem.PGSIZE), pa, a.flags)
				na.pages[i] = slot{pa: pa, filled: true}
			}
		}
		child.owned = append(child.owned, na)
	}
	return child, true
}

func allFilled(a *MapArea) bool {
	for _, s := range a.pages {
		if !s.filled {
			return false
		}
	}
	return true
}

// ReadAt copies len(buf) bytes starting at va out of the address space,
// faulting in any lazy page along the way. Grounded on the teacher's
// userbuf.go copy-loop idiom (vm/userbuf.go Uioread), generalized from
// "kernel reading a user VA" to "any reader of this MemorySet."
func (ms *MemorySet) ReadAt(va mem.Va_t, buf []byte) defs.Err_t {
	return ms.copyAt(va, buf, false)
}

// WriteAt copies buf into the address space starting at va, faulting in
// any lazy page along the way.
func (ms *MemorySet) WriteAt(va mem.Va_t, buf []byte) defs.Err_t {
	return ms.copyAt(va, buf, true)
}

func (ms *MemorySet) copyAt(va mem.Va_t, buf []byte, write bool) defs.Err_t {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	off := 0
	for off < len(buf) {
		cur := va + mem.Va_t(off)
		a := ms.findAreaLocked(cur)
		if a == nil {
			return defs.EFAULT
		}
		i := int(cur-a.Vaddr()) / mem.PGSIZE
		if !a.pages[i].filled {
			access := uint64(mem.PTE_U | mem.PTE_R)
			if write {
				access = mem.PTE_U | mem.PTE_W
			}
			if err := a.HandlePageFault(ms.pt, ms.alloc, mem.Pgrounddown(cur), access); err != 0 {
				return err
			}
		}
		pageOff := int(cur) % mem.PGSIZE
		n := mem.PGSIZE - pageOff
		if n > len(buf)-off {
			n = len(buf) - off
		}
		pbuf := ms.alloc.Bytes(a.pages[i].pa)
		if write {
			copy(pbuf[pageOff:pageOff+n], buf[off:off+n])
		} else {
			copy(buf[off:off+n], pbuf[pageOff:pageOff+n])
		}
		off += n
	}
	return 0
}

// ReadCString copies a NUL-terminated string starting at va, up to max
// bytes, used by openat to pull a path out of user memory.
func (ms *MemorySet) ReadCString(va mem.Va_t, max int) ([]byte, defs.Err_t) {
	var out []byte
	buf := make([]byte, 1)
	for len(out) < max {
		if err := ms.ReadAt(va+mem.Va_t(len(out)), buf); err != 0 {
			return nil, err
		}
		if buf[0] == 0 {
			return out, 0
		}
		out = append(out, buf[0])
	}
	return out, defs.ENAMETOOLONG
}

// Owned exposes the area list for tests asserting disjointness (spec §8
// property 1).
func (ms *MemorySet) Owned() []*MapArea {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]*MapArea, len(ms.owned))
	copy(out, ms.owned)
	return out
}
