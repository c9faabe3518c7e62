package syscalls

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"rvkernel/defs"
	"rvkernel/fdops"
	"rvkernel/limits"
	"rvkernel/mem"
	"rvkernel/platform"
	"rvkernel/proc"
	"rvkernel/sched"
	"rvkernel/stat"
)

// fakeFS resolves every path against an in-memory table of byte contents,
// the minimal stand-in for the filesystem capability spec §6 names as an
// external collaborator.
type fakeFS struct {
	files map[string][]byte
}

// Open honors the openat access-mode bits (defs.O_RDONLY/O_WRONLY/O_RDWR)
// the way a real filesystem's open_at would, spec §4.7 syscall 56.
func (f *fakeFS) Open(path string, flags uint64) (fdops.File, defs.Err_t) {
	data, ok := f.files[path]
	if !ok {
		return nil, defs.ENOENT
	}
	mode := flags & 0x3
	return &memFile{
		data:     data,
		readable: mode != defs.O_WRONLY,
		writable: mode == defs.O_WRONLY || mode == defs.O_RDWR,
	}, 0
}

// memFile is an in-memory fdops.File backing fakeFS opens, readable and/or
// writable according to the access mode it was opened with.
type memFile struct {
	data               []byte
	pos                int
	readable, writable bool
}

func (m *memFile) Read(buf []byte) (int, defs.Err_t) {
	if !m.readable {
		return 0, defs.EBADF
	}
	n := copy(buf, m.data[m.pos:])
	m.pos += n
	return n, 0
}
func (m *memFile) Write(buf []byte) (int, defs.Err_t) {
	if !m.writable {
		return 0, defs.EBADF
	}
	end := m.pos + len(buf)
	if end > len(m.data) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[m.pos:end], buf)
	m.pos = end
	return len(buf), 0
}
func (m *memFile) Seek(off int64, whence int) (int64, defs.Err_t) {
	m.pos = int(off)
	return off, 0
}
func (m *memFile) Readable() bool   { return m.readable }
func (m *memFile) Writable() bool   { return m.writable }
func (m *memFile) Executable() bool { return false }
func (m *memFile) Clone() (fdops.File, defs.Err_t) {
	return &memFile{data: m.data, pos: m.pos, readable: m.readable, writable: m.writable}, 0
}
func (m *memFile) Close() defs.Err_t { return 0 }
func (m *memFile) Size() int64       { return int64(len(m.data)) }

// buildMinimalELF assembles a bare RISC-V64 ET_EXEC, same shape as
// proc_test.go's and cmd/rvkernel's embedded app.elf: one PT_LOAD segment
// covering the whole file at vaddr 0, offset 0.
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
	write(uint16(2))        // e_type ET_EXEC
	write(uint16(243))      // e_machine EM_RISCV
	write(uint32(1))        // e_version
	write(entry)            // e_entry
	write(uint64(ehsize))   // e_phoff
	write(uint64(0))        // e_shoff
	write(uint32(0))        // e_flags
	write(uint16(ehsize))   // e_ehsize
	write(uint16(phentsize)) // e_phentsize
	write(uint16(1))        // e_phnum
	write(uint16(0))        // e_shentsize
	write(uint16(0))        // e_shnum
	write(uint16(0))        // e_shstrndx

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

func testEnv(t *testing.T, fs proc.FS) (*proc.Task, *Kernel, *bytes.Buffer) {
	t.Helper()
	regions := platform.FlatRegions(4 * 1024 * 1024)
	alloc := mem.NewArena(4 * 1024 * 1024 / mem.PGSIZE)
	lim := limits.MkSysLimit()
	var out bytes.Buffer
	console := platform.NewIOConsole(&out, nil)

	task, err := proc.FromELFData(minimalExitELF(), []string{"init"}, nil, fs, alloc, regions, lim, console)
	require.NoError(t, err)

	s := sched.New()
	halted := false
	s.Terminate = func() { halted = true }
	s.Start(task)
	require.False(t, halted)

	k := New(s, fs, lim, nil)
	return task, k, &out
}

// TestHelloWorldWriteThenExit exercises spec §8 scenario 1: a write to fd
// 1 followed by exit must reach the console and halt the machine.
func TestHelloWorldWriteThenExit(t *testing.T) {
	task, k, out := testEnv(t, nil)

	msg := []byte("hi\n")
	va := task.UstackTop - 4096
	require.Zero(t, task.MemorySet.WriteAt(va, msg))

	rc := k.Dispatch(SysWrite, [6]uint64{1, uint64(va), uint64(len(msg))})
	require.Equal(t, uint64(len(msg)), rc)
	require.Equal(t, "hi\n", out.String())

	halted := false
	k.Sched.Terminate = func() { halted = true }
	k.Dispatch(SysExit, [6]uint64{0})
	require.True(t, halted, "exiting the init task must halt the machine")
}

// TestOpenatReadCloseThenEBADF exercises spec §8 scenario 5.
func TestOpenatReadCloseThenEBADF(t *testing.T) {
	fs := &fakeFS{files: map[string][]byte{"/x": []byte("ABC")}}
	task, k, _ := testEnv(t, fs)

	pathVA := task.UstackTop - 4096
	require.Zero(t, task.MemorySet.WriteAt(pathVA, append([]byte("/x"), 0)))

	fdRC := k.Dispatch(SysOpenat, [6]uint64{0, uint64(pathVA), 0, 0})
	fd := defs.Err_t(int32(fdRC))
	require.True(t, fd >= 0, "openat must succeed")

	bufVA := task.UstackTop - 8192
	n := k.Dispatch(SysRead, [6]uint64{uint64(fd), uint64(bufVA), 3})
	require.Equal(t, uint64(3), n)

	got := make([]byte, 3)
	require.Zero(t, task.MemorySet.ReadAt(bufVA, got))
	require.Equal(t, "ABC", string(got))

	require.Zero(t, defs.Err_t(int32(k.Dispatch(SysClose, [6]uint64{uint64(fd)}))))

	rc2 := k.Dispatch(SysRead, [6]uint64{uint64(fd), uint64(bufVA), 3})
	require.Equal(t, defs.EBADF, defs.Err_t(int32(rc2)))
}

// TestOpenatHonorsAccessMode exercises spec §4.7 syscall 56: the flags
// argument (args[2]) selects the fd's access mode, not just its path.
func TestOpenatHonorsAccessMode(t *testing.T) {
	fs := &fakeFS{files: map[string][]byte{"/x": []byte("ABC")}}
	task, k, _ := testEnv(t, fs)

	pathVA := task.UstackTop - 4096
	require.Zero(t, task.MemorySet.WriteAt(pathVA, append([]byte("/x"), 0)))

	fdRC := k.Dispatch(SysOpenat, [6]uint64{0, uint64(pathVA), defs.O_WRONLY, 0})
	fd := defs.Err_t(int32(fdRC))
	require.True(t, fd >= 0, "openat must succeed")

	bufVA := task.UstackTop - 8192
	rc := k.Dispatch(SysRead, [6]uint64{uint64(fd), uint64(bufVA), 3})
	require.Equal(t, defs.EBADF, defs.Err_t(int32(rc)), "a fd opened O_WRONLY must reject reads")

	msg := []byte("xyz")
	require.Zero(t, task.MemorySet.WriteAt(bufVA, msg))
	wc := k.Dispatch(SysWrite, [6]uint64{uint64(fd), uint64(bufVA), uint64(len(msg))})
	require.Equal(t, uint64(len(msg)), wc, "a fd opened O_WRONLY must accept writes")
}

// TestFcntlDupfdAllocatesAtOrAboveHint exercises spec §4.7 syscall 25:
// F_DUPFD clones the fd and places the duplicate at the lowest free slot
// at or above the hint in args[2].
func TestFcntlDupfdAllocatesAtOrAboveHint(t *testing.T) {
	fs := &fakeFS{files: map[string][]byte{"/x": []byte("ABC")}}
	task, k, _ := testEnv(t, fs)

	pathVA := task.UstackTop - 4096
	require.Zero(t, task.MemorySet.WriteAt(pathVA, append([]byte("/x"), 0)))

	fdRC := k.Dispatch(SysOpenat, [6]uint64{0, uint64(pathVA), defs.O_RDONLY, 0})
	fd := defs.Err_t(int32(fdRC))
	require.True(t, fd >= 0)

	const hint = 10
	dupRC := k.Dispatch(SysFcntl, [6]uint64{uint64(fd), defs.F_DUPFD, hint})
	dup := defs.Err_t(int32(dupRC))
	require.GreaterOrEqual(t, dup, defs.Err_t(hint))
	require.NotEqual(t, fd, dup)

	bufVA := task.UstackTop - 8192
	n := k.Dispatch(SysRead, [6]uint64{uint64(dup), uint64(bufVA), 3})
	require.Equal(t, uint64(3), n, "the duplicate fd must be independently readable")

	got := make([]byte, 3)
	require.Zero(t, task.MemorySet.ReadAt(bufVA, got))
	require.Equal(t, "ABC", string(got))
}

// TestFstatReportsRegularFileSize exercises spec §4.7 syscall 80: fstat
// on a Sized file copies out a Kstat describing a regular file of that
// size.
func TestFstatReportsRegularFileSize(t *testing.T) {
	fs := &fakeFS{files: map[string][]byte{"/x": []byte("ABCDE")}}
	task, k, _ := testEnv(t, fs)

	pathVA := task.UstackTop - 4096
	require.Zero(t, task.MemorySet.WriteAt(pathVA, append([]byte("/x"), 0)))
	fdRC := k.Dispatch(SysOpenat, [6]uint64{0, uint64(pathVA), defs.O_RDONLY, 0})
	fd := defs.Err_t(int32(fdRC))
	require.True(t, fd >= 0)

	bufVA := task.UstackTop - 8192
	rc := k.Dispatch(SysFstat, [6]uint64{uint64(fd), uint64(bufVA)})
	require.Zero(t, defs.Err_t(int32(rc)))

	want := stat.ForRegularFile(5).Bytes()
	got := make([]byte, len(want))
	require.Zero(t, task.MemorySet.ReadAt(bufVA, got))
	require.Equal(t, want, got)
}

// TestUnknownSyscallIsFatal exercises spec §4.7/§7: an unrecognized
// syscall id panics rather than silently returning.
func TestUnknownSyscallIsFatal(t *testing.T) {
	_, k, _ := testEnv(t, nil)
	require.Panics(t, func() { k.Dispatch(999, [6]uint64{}) })
}

// TestMmapThenWriteFaultsInZeroedPage exercises spec §8 scenario 3.
func TestMmapThenWriteFaultsInZeroedPage(t *testing.T) {
	task, k, _ := testEnv(t, nil)
	before := task.MemorySet.MaxVa()

	rc := k.Dispatch(SysMmap, [6]uint64{0, 8192, defs.PROT_READ | defs.PROT_WRITE, defs.MAP_ANONYMOUS, ^uint64(0), 0})
	got := mem.Va_t(rc)
	require.GreaterOrEqual(t, got, mem.Pgroundup(before+1))

	require.Zero(t, task.MemorySet.WriteAt(got, []byte{0x7f}))
	buf := make([]byte, 1)
	require.Zero(t, task.MemorySet.ReadAt(got+4096, buf))
	require.Equal(t, byte(0), buf[0], "second page must read back zeroed")
}

// TestCloneReturnsChildTidToParentAndZeroToChild exercises spec §8
// scenario 6.
func TestCloneReturnsChildTidToParentAndZeroToChild(t *testing.T) {
	task, k, _ := testEnv(t, nil)

	rc := k.Dispatch(SysClone, [6]uint64{0, 0})
	require.Greater(t, int32(rc), int32(task.Tid), "the clone syscall return value (a0) is the new child's tid")
	require.Same(t, task, k.Sched.Current(), "clone enqueues the child; it does not switch current")

	k.Sched.YieldCurrent()
	child := k.Sched.Current()
	require.NotSame(t, task, child)
	require.Zero(t, child.TrapFrame().A0(), "the child's a0 is 0")
}

// TestSchedYieldLeavesSepcToTrapDispatch checks that the sched_yield
// handler leaves sepc alone: the +4 advance past the ecall is done by
// trap.Dispatch, not by the syscall handlers.
func TestSchedYieldLeavesSepcToTrapDispatch(t *testing.T) {
	task, k, _ := testEnv(t, nil)
	k.Sched.AddTask(task) // re-add so YieldCurrent has somewhere to go
	before := task.TrapFrame().Sepc

	k.Dispatch(SysSchedYield, [6]uint64{})
	require.Equal(t, before, task.TrapFrame().Sepc, "sched_yield itself does not touch sepc; trap.Dispatch advances it before calling Syscall")
}
