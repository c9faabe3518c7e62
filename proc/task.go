package proc

import (
	"fmt"
	"sync/atomic"

	"rvkernel/accnt"
	"rvkernel/defs"
	"rvkernel/elfimage"
	"rvkernel/fd"
	"rvkernel/fdops"
	"rvkernel/limits"
	"rvkernel/mem"
	"rvkernel/platform"
	"rvkernel/stdio"
	"rvkernel/vm"
)

// ustackVA is the fixed high VA spec §4.5 names for the user stack
// ("e.g. 0x3FE5_0000"). original_source's axprocess::task::from_elf_data
// instead computes a dynamic placement above the ELF's high-water mark;
// this core follows the spec's literal fixed address, matching
// axprocess::loader::load (the function actually wired to init boot).
const ustackVA = mem.Va_t(0x3FE5_0000)

// TaskStackSize is the size of the user stack region allocated for every
// task, spec §4.5's "TASK_STACK_SIZE".
const TaskStackSize = 64 * 1024

// kstackSize is the size of a task's exclusively owned kernel stack. This
// core never executes real kernel-mode code on it (there is no hart to
// run it on); it exists as a byte arena so Task carries the ownership
// spec.md's data model names, and so its size is visible to tests.
const kstackSize = 16 * 1024

// State is one of {Ready, Running, Blocked, Exited}, spec §3.
type State int32

const (
	Ready State = iota
	Running
	Blocked
	Exited
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

var idCounter int64 // next allocated id is idCounter+1; first call yields 1

func nextID() int64 { return atomic.AddInt64(&idCounter, 1) }

// FS is the filesystem capability spec §4.5/§9/§6 names: an external
// collaborator resolving a path to a file, honoring the openat flags
// bits defs.O_RDONLY/O_WRONLY/O_RDWR/O_CREAT/... spec §4.7 syscall 56
// describes. It is optional: a static binary never consults it, and
// FromELFData panics (a load-time fatal, per spec §9) if an INTERP
// segment is present but no FS was supplied.
type FS interface {
	Open(path string, flags uint64) (fdops.File, defs.Err_t)
}

// Task is a process/thread: PID and TID coincide in this core (spec §3).
type Task struct {
	Pid defs.Pid_t
	Tid defs.Tid_t

	state int32 // atomic State

	Ctx TaskContext
	tf  *TrapFrame

	MemorySet *vm.MemorySet
	Kstack    []byte
	UstackTop mem.Va_t

	Fds *fd.List
	Acc *accnt.Accnt_t
}

func (t *Task) GetState() State        { return State(atomic.LoadInt32(&t.state)) }
func (t *Task) SetState(s State)       { atomic.StoreInt32(&t.state, int32(s)) }
func (t *Task) IsInit() bool           { return t.Pid == 1 }
func (t *Task) TrapFrame() *TrapFrame  { return t.tf }

// FromELFData builds a brand-new task from a raw ELF image: a fresh
// MemorySet with the ELF's LOAD segments and relocations applied, a
// kernel stack, a user stack at the fixed VA, and a trap frame with the
// full argv/auxv/envp layout pushed below it. Spec §4.5.
func FromELFData(data []byte, argv, env []string, fsys FS, alloc mem.FrameAllocator, regions []platform.MemoryRegion, lim *limits.Syslimit_t, console platform.Console) (*Task, error) {
	ms, ok := vm.NewWithKernelMapped(alloc, regions, lim)
	if !ok {
		return nil, fmt.Errorf("proc: out of memory building kernel mapping")
	}

	img, err := elfimage.Parse(data)
	if err != nil {
		return nil, err
	}

	if img.Interp != "" {
		if fsys == nil {
			panic("proc: ELF requires an interpreter but no filesystem capability is available")
		}
		f, ferr := fsys.Open(img.Interp, defs.O_RDONLY)
		if ferr != 0 {
			return nil, fmt.Errorf("proc: opening interpreter %q: %w", img.Interp, ferr)
		}
		interpBytes, rerr := readAll(f)
		if rerr != 0 {
			return nil, fmt.Errorf("proc: reading interpreter %q: %w", img.Interp, rerr)
		}
		return FromELFData(interpBytes, append([]string{img.Interp}, argv...), env, fsys, alloc, regions, lim, console)
	}

	auxv, everr := ms.MapELF(img)
	if everr != 0 {
		return nil, fmt.Errorf("proc: mapping ELF: %w", everr)
	}

	if everr := ms.NewAnonRegion(ustackVA, TaskStackSize, mem.PTE_U|mem.PTE_R|mem.PTE_W); everr != 0 {
		return nil, fmt.Errorf("proc: allocating user stack: %w", everr)
	}
	ustackTop := ustackVA + TaskStackSize

	tf := &TrapFrame{}
	tf.SetUserEntry(uint64(ustackTop), uint64(ms.Entry()), 0, 0)

	sp := ustackTop
	if len(argv) == 0 {
		argv = []string{""}
	}
	va0 := pushStr(ms, &sp, argv[0])

	random := [16]byte{0x52, 0x56, 0x4b, 0x36, 0x34, 0x5f, 0x72, 0x6e, 0x64, 0x73, 0x65, 0x65, 0x64, 0x21, 0x21, 0x00}
	randomPos := pushBytes(ms, &sp, random[:], 8)

	envVAs := make([]uint64, 0, len(env))
	for _, e := range env {
		envVAs = append(envVAs, uint64(pushStr(ms, &sp, e)))
	}
	argvVAs := make([]uint64, 0, len(argv))
	argvVAs = append(argvVAs, uint64(va0))
	for _, a := range argv[1:] {
		argvVAs = append(argvVAs, uint64(pushStr(ms, &sp, a)))
	}

	pushU64Pair(ms, &sp, defs.AT_NULL, 0)
	for k, v := range auxv {
		val := v
		if k == defs.AT_RANDOM {
			val = uint64(randomPos)
		}
		pushU64Pair(ms, &sp, uint64(k), val)
	}

	pushU64(ms, &sp, 0)
	pushU64Slice(ms, &sp, envVAs)
	pushU64(ms, &sp, 0)
	pushU64Slice(ms, &sp, argvVAs)
	pushU64(ms, &sp, uint64(len(argv)))

	tf.SetSp(uint64(sp))

	id := nextID()
	t := &Task{
		Pid:       defs.Pid_t(id),
		Tid:       defs.Tid_t(id),
		tf:        tf,
		MemorySet: ms,
		Kstack:    make([]byte, kstackSize),
		UstackTop: ustackTop,
		Fds:       fd.New(stdio.NewStdin(console), stdio.Stdout(console), stdio.Stderr(console)),
		Acc:       &accnt.Accnt_t{},
	}
	t.SetState(Ready)
	return t, nil
}

// readAll drains f via its Read capability into one buffer.
func readAll(f fdops.File) ([]byte, defs.Err_t) {
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != 0 {
			return nil, err
		}
		if n == 0 {
			return out, 0
		}
	}
}

// Clone forks t: if flags carries CLONE_VM the child shares t's
// MemorySet, otherwise it gets an independent deep copy (spec §4.5). The
// child's trap frame is a byte-for-byte copy of the parent's with a0
// zeroed and, if userStack is non-zero, sp overridden.
func (t *Task) Clone(flags uint64, userStack mem.Va_t) (*Task, defs.Err_t) {
	var childMS *vm.MemorySet
	if flags&defs.CLONE_VM != 0 {
		childMS = t.MemorySet
	} else {
		cm, ok := t.MemorySet.CloneMapped()
		if !ok {
			return nil, defs.ENOMEM
		}
		childMS = cm
	}

	childTf := t.tf.Clone()
	childTf.SetA0(0)
	if userStack != 0 {
		childTf.SetSp(uint64(userStack))
	}

	id := nextID()
	child := &Task{
		Pid:       defs.Pid_t(id),
		Tid:       defs.Tid_t(id),
		tf:        childTf,
		MemorySet: childMS,
		Kstack:    make([]byte, kstackSize),
		UstackTop: t.UstackTop,
		Fds:       t.Fds.Clone(),
		Acc:       &accnt.Accnt_t{},
	}
	child.SetState(Ready)
	return child, 0
}

// EnterAsInit transitions the init task (pid 1) to Running. There is no
// real sret in this host simulation — no user-mode instructions actually
// execute — so this call is the bookkeeping equivalent spec §4.5
// describes: "enter_user(kstack.top())" becomes "the scheduler now
// considers this task the one running."
func (t *Task) EnterAsInit() {
	if t.Pid != 1 {
		panic("EnterAsInit: only the init task (pid 1) may call this")
	}
	t.SetState(Running)
}
