// Package platform names the external collaborators spec.md §6 treats as
// given: the SBI console, the time source, and the memory-region iterator
// the boot firmware reports. The core never assumes these are backed by
// real hardware; cmd/rvkernel wires the default host-backed implementations
// below, and tests wire fakes.
package platform

import (
	"bufio"
	"io"
	"time"

	"rvkernel/mem"
)

// Console is the byte sink/source spec §6 calls "SBI console driver".
type Console interface {
	PutChar(c uint8)
	GetChar() (uint8, bool)
}

// Clock is the time source spec §6 names, backing the gettimeofday
// syscall.
type Clock interface {
	Ticks() uint64
	TicksToNanos(ticks uint64) uint64
}

// MemoryRegion is one descriptor from the platform's identity-map
// iterator, consumed by MemorySet.NewWithKernelMapped.
type MemoryRegion struct {
	Base  mem.Pa_t
	Size  int
	Flags uint64 // mem.PTE_R|W|X, ORed as appropriate for the region
}

// ioConsole is a Console backed by an io.Writer for output and a buffered
// io.Reader for input, the shape cmd/rvkernel uses for the real terminal
// and tests use for an in-memory buffer.
type ioConsole struct {
	w io.Writer
	r *bufio.Reader
}

// NewIOConsole builds a Console over an arbitrary writer/reader pair.
func NewIOConsole(w io.Writer, r io.Reader) Console {
	c := &ioConsole{w: w}
	if r != nil {
		c.r = bufio.NewReader(r)
	}
	return c
}

func (c *ioConsole) PutChar(ch uint8) {
	c.w.Write([]byte{ch})
}

func (c *ioConsole) GetChar() (uint8, bool) {
	if c.r == nil {
		return 0, false
	}
	b, err := c.r.ReadByte()
	if err != nil {
		return 0, false
	}
	return b, true
}

// wallClock is a Clock backed by the host's monotonic/wall clock, used
// when no cycle-accurate timer is available (this core never claims to be
// running on real RISC-V hardware).
type wallClock struct {
	start time.Time
}

// NewWallClock returns a Clock whose Ticks are nanoseconds since
// construction.
func NewWallClock() Clock {
	return &wallClock{start: time.Now()}
}

func (c *wallClock) Ticks() uint64 {
	return uint64(time.Since(c.start).Nanoseconds())
}

func (c *wallClock) TicksToNanos(ticks uint64) uint64 {
	return ticks
}

// FlatRegions returns the single large identity-mapped RAM region
// MemorySet.NewWithKernelMapped folds into every address space, sized to
// ramBytes and flagged readable/writable/executable (the kernel trusts
// itself).
func FlatRegions(ramBytes int) []MemoryRegion {
	return []MemoryRegion{
		{Base: 0, Size: ramBytes, Flags: mem.PTE_R | mem.PTE_W | mem.PTE_X},
	}
}
