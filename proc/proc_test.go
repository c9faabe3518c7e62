package proc

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"rvkernel/defs"
	"rvkernel/limits"
	"rvkernel/mem"
	"rvkernel/platform"
)

// buildMinimalELF assembles a bare RISC-V64 ET_EXEC: one PT_LOAD segment
// covering the whole file at vaddr 0, offset 0 (so MapELF relocates it to
// elfLoadBase), same shape as cmd/rvkernel's embedded app.elf.
func buildMinimalELF(code []byte) []byte {
	const ehsize, phentsize = 64, 56
	codeOff := ehsize + phentsize
	entry := uint64(codeOff)

	var ehdr bytes.Buffer
	ehdr.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	ehdr.Write(make([]byte, 8))
	le := binary.LittleEndian
	write := func(v any) {
		switch x := v.(type) {
		case uint16:
			b := make([]byte, 2)
			le.PutUint16(b, x)
			ehdr.Write(b)
		case uint32:
			b := make([]byte, 4)
			le.PutUint32(b, x)
			ehdr.Write(b)
		case uint64:
			b := make([]byte, 8)
			le.PutUint64(b, x)
			ehdr.Write(b)
		}
	}
	write(uint16(2))               // e_type ET_EXEC
	write(uint16(243))              // e_machine EM_RISCV
	write(uint32(1))                // e_version
	write(entry)                    // e_entry
	write(uint64(ehsize))           // e_phoff
	write(uint64(0))                // e_shoff
	write(uint32(0))                // e_flags
	write(uint16(ehsize))           // e_ehsize
	write(uint16(phentsize))        // e_phentsize
	write(uint16(1))                // e_phnum
	write(uint16(0))                // e_shentsize
	write(uint16(0))                // e_shnum
	write(uint16(0))                // e_shstrndx

	filesz := uint64(codeOff + len(code))
	phdr := make([]byte, phentsize)
	le.PutUint32(phdr[0:], 1)       // p_type PT_LOAD
	le.PutUint32(phdr[4:], 5)       // p_flags R|X
	le.PutUint64(phdr[8:], 0)       // p_offset
	le.PutUint64(phdr[16:], 0)      // p_vaddr
	le.PutUint64(phdr[24:], 0)      // p_paddr
	le.PutUint64(phdr[32:], filesz) // p_filesz
	le.PutUint64(phdr[40:], filesz) // p_memsz
	le.PutUint64(phdr[48:], 0x1000) // p_align

	out := append(ehdr.Bytes(), phdr...)
	out = append(out, code...)
	return out
}

func minimalExitELF() []byte {
	// addi a7,x0,93 ; addi a0,x0,0 ; ecall
	return buildMinimalELF([]byte{0x93, 0x08, 0xd0, 0x05, 0x13, 0x05, 0x00, 0x00, 0x73, 0x00, 0x00, 0x00})
}

func testPlatform() ([]platform.MemoryRegion, mem.FrameAllocator, *limits.Syslimit_t, platform.Console) {
	regions := platform.FlatRegions(4 * 1024 * 1024)
	alloc := mem.NewArena(4 * 1024 * 1024 / mem.PGSIZE)
	lim := limits.MkSysLimit()
	console := platform.NewIOConsole(&bytes.Buffer{}, nil)
	return regions, alloc, lim, console
}

func TestFromELFDataBuildsRunnableTask(t *testing.T) {
	regions, alloc, lim, console := testPlatform()
	task, err := FromELFData(minimalExitELF(), []string{"init"}, nil, nil, alloc, regions, lim, console)
	require.NoError(t, err)

	require.Equal(t, defs.Pid_t(1), task.Pid)
	require.Equal(t, Ready, task.GetState())
	require.NotZero(t, task.TrapFrame().Sp())
	require.NotZero(t, task.TrapFrame().Sepc)

	task.EnterAsInit()
	require.Equal(t, Running, task.GetState())
}

func TestEnterAsInitPanicsForNonInitPid(t *testing.T) {
	regions, alloc, lim, console := testPlatform()
	parent, err := FromELFData(minimalExitELF(), []string{"init"}, nil, nil, alloc, regions, lim, console)
	require.NoError(t, err)
	child, err := parent.Clone(0, 0)
	require.Zero(t, err)
	require.Panics(t, func() { child.EnterAsInit() })
}

func TestCloneWithoutCLONE_VMIsIndependentAddressSpace(t *testing.T) {
	regions, alloc, lim, console := testPlatform()
	parent, err := FromELFData(minimalExitELF(), []string{"init"}, nil, nil, alloc, regions, lim, console)
	require.NoError(t, err)

	child, cerr := parent.Clone(0, 0)
	require.Zero(t, cerr)
	require.NotSame(t, parent.MemorySet, child.MemorySet)
	require.Zero(t, child.TrapFrame().A0(), "child's a0 must read back 0 (the fork return value)")
}

func TestCloneWithCLONE_VMSharesAddressSpace(t *testing.T) {
	regions, alloc, lim, console := testPlatform()
	parent, err := FromELFData(minimalExitELF(), []string{"init"}, nil, nil, alloc, regions, lim, console)
	require.NoError(t, err)

	child, cerr := parent.Clone(defs.CLONE_VM, 0)
	require.Zero(t, cerr)
	require.Same(t, parent.MemorySet, child.MemorySet)
}
