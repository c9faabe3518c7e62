// Package vm implements the address-space manager: MapArea, MemBackend,
// and MemorySet, exactly as spec.md §4.1-4.3 describes them. Grounded in
// method-on-locked-struct shape on the teacher's vm/as.go (a single
// sync.Mutex guarding all address-space mutation) and in algorithm on
// original_source's axmem::{area,backend,lib} (the arceos ancestor this
// spec was distilled from).
package vm

import (
	"rvkernel/defs"
	"rvkernel/fdops"
)

// MemBackend is a seekable file-backed source/sink for a demand-paged
// MapArea. Two areas that split from one mmap share the same underlying
// file but keep independent cursors, so Clone/CloneWithDelta duplicate the
// fdops.File handle rather than sharing it.
type MemBackend struct {
	file  fdops.File
	delta int64 // bytes already consumed relative to the file's own start
}

// NewMemBackend wraps file with delta off: every access seeks to off plus
// the requested position, counted from the start of the file.
func NewMemBackend(file fdops.File, off int64) *MemBackend {
	return &MemBackend{file: file, delta: off}
}

// ReadFromSeek reads into buf starting at pos bytes past the backend's
// delta, equivalent to seek(delta+pos); read(buf).
func (b *MemBackend) ReadFromSeek(pos int64, buf []uint8) (int, defs.Err_t) {
	if _, err := b.file.Seek(b.delta+pos, fdops.SeekSet); err != 0 {
		return 0, err
	}
	return b.file.Read(buf)
}

// WriteToSeek writes buf starting at pos bytes past the backend's delta.
func (b *MemBackend) WriteToSeek(pos int64, buf []uint8) (int, defs.Err_t) {
	if _, err := b.file.Seek(b.delta+pos, fdops.SeekSet); err != 0 {
		return 0, err
	}
	return b.file.Write(buf)
}

// Clone duplicates the backend with an independent file handle but the
// same delta.
func (b *MemBackend) Clone() *MemBackend {
	nf, err := b.file.Clone()
	if err != 0 {
		panic("backend clone must succeed")
	}
	return &MemBackend{file: nf, delta: b.delta}
}

// CloneWithDelta duplicates the backend and advances the new cursor by d,
// the mechanism a split mmap region uses so the right-hand half reads
// starting partway into the original file (spec §4.3 split_for_area).
func (b *MemBackend) CloneWithDelta(d int64) *MemBackend {
	nb := b.Clone()
	nb.delta += d
	return nb
}
