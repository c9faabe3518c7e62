package sched

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"rvkernel/defs"
	"rvkernel/limits"
	"rvkernel/mem"
	"rvkernel/platform"
	"rvkernel/proc"
)

// buildMinimalELF and newTask below duplicate the fixture shape used in
// proc/proc_test.go and elfimage/elfimage_test.go: a single PT_LOAD
// ET_EXEC covering the whole file, entry right after the headers.
func buildMinimalELF(code []byte) []byte {
	const ehsize, phentsize = 64, 56
	codeOff := ehsize + phentsize
	entry := uint64(codeOff)

	ehdr := make([]byte, 0, ehsize)
	ehdr = append(ehdr, 0x7f, 'E', 'L', 'F', 2, 1, 1, 0)
	ehdr = append(ehdr, make([]byte, 8)...)
	put16 := func(v uint16) { ehdr = binary.LittleEndian.AppendUint16(ehdr, v) }
	put32 := func(v uint32) { ehdr = binary.LittleEndian.AppendUint32(ehdr, v) }
	put64 := func(v uint64) { ehdr = binary.LittleEndian.AppendUint64(ehdr, v) }
	put16(2)
	put16(243)
	put32(1)
	put64(entry)
	put64(ehsize)
	put64(0)
	put32(0)
	put16(ehsize)
	put16(phentsize)
	put16(1)
	put16(0)
	put16(0)
	put16(0)

	filesz := uint64(codeOff + len(code))
	phdr := make([]byte, 0, phentsize)
	p32 := func(v uint32) { phdr = binary.LittleEndian.AppendUint32(phdr, v) }
	p64 := func(v uint64) { phdr = binary.LittleEndian.AppendUint64(phdr, v) }
	p32(1)
	p32(5)
	p64(0)
	p64(0)
	p64(0)
	p64(filesz)
	p64(filesz)
	p64(0x1000)

	out := append(ehdr, phdr...)
	out = append(out, code...)
	return out
}

func minimalExitELF() []byte {
	return buildMinimalELF([]byte{0x93, 0x08, 0xd0, 0x05, 0x13, 0x05, 0x00, 0x00, 0x73, 0x00, 0x00, 0x00})
}

func newTask(t *testing.T) *proc.Task {
	t.Helper()
	regions := platform.FlatRegions(4 * 1024 * 1024)
	alloc := mem.NewArena(4 * 1024 * 1024 / mem.PGSIZE)
	lim := limits.MkSysLimit()
	console := platform.NewIOConsole(&bytes.Buffer{}, nil)
	tsk, err := proc.FromELFData(minimalExitELF(), []string{"init"}, nil, nil, alloc, regions, lim, console)
	require.NoError(t, err)
	return tsk
}

func TestStartInstallsInitAsRunning(t *testing.T) {
	s := New()
	require.Nil(t, s.Current())

	init := newTask(t)
	s.Start(init)
	require.Same(t, init, s.Current())
	require.Equal(t, proc.Running, init.GetState())
}

func TestYieldCurrentRotatesReadyQueueFIFO(t *testing.T) {
	s := New()
	init := newTask(t)
	s.Start(init)

	b := newTask(t)
	c := newTask(t)
	s.AddTask(b)
	s.AddTask(c)

	s.YieldCurrent()
	require.Same(t, b, s.Current(), "first yield must hand off to the oldest ready task")

	s.YieldCurrent()
	require.Same(t, c, s.Current())

	s.YieldCurrent()
	require.Same(t, init, s.Current(), "yielding again must cycle back to init")
}

func TestExitCurrentOnInitCallsTerminate(t *testing.T) {
	s := New()
	terminated := false
	s.Terminate = func() { terminated = true }

	init := newTask(t)
	s.Start(init)
	s.ExitCurrent()
	require.True(t, terminated)
}

func TestExitCurrentOnChildReschedulesToInit(t *testing.T) {
	s := New()
	init := newTask(t)
	s.Start(init)

	child := newTask(t)
	s.AddTask(child)
	s.YieldCurrent()
	require.Same(t, child, s.Current())

	s.ExitCurrent()
	require.Equal(t, proc.Exited, child.GetState())
	require.Same(t, init, s.Current())
}

func TestCloneCurrentEnqueuesChild(t *testing.T) {
	s := New()
	init := newTask(t)
	s.Start(init)

	tid, err := s.CloneCurrent(0, 0)
	require.Zero(t, err)
	require.NotEqual(t, init.Tid, tid)

	snap := s.Snapshot()
	require.Len(t, snap.Ready, 1)
	require.Equal(t, tid, snap.Ready[0].Tid)
}

func TestSnapshotReflectsCurrentAndReady(t *testing.T) {
	s := New()
	require.Nil(t, s.Snapshot().Current)

	init := newTask(t)
	s.Start(init)
	snap := s.Snapshot()
	require.NotNil(t, snap.Current)
	require.Equal(t, init.Pid, snap.Current.Pid)
	require.Empty(t, snap.Ready)
}

func TestRescheduleWithEmptyQueuePanics(t *testing.T) {
	s := New()
	init := newTask(t)
	s.Start(init)
	// A still-Running current is re-queued before the emptiness check, so
	// mark it Blocked to leave nothing to switch to.
	init.SetState(proc.Blocked)
	require.Panics(t, func() { s.YieldCurrent() })
}

var _ = defs.ENOMEM // keep defs imported for parity with sibling test files
