// Package sched implements the single-hart, cooperative FIFO scheduler:
// the ready queue, the CurrentTask anchor, and the yield/exit/clone
// suspension points spec §4.6/§5 describe. Grounded on original_source's
// axprocess::scheduler (the arceos ancestor this spec was distilled from);
// the teacher's tinfo package, which tracked "current execution context"
// via custom forked-runtime hooks (runtime.Gptr/Setgptr) unavailable in
// stock Go, is replaced here by an ordinary mutex-guarded field — this
// core models exactly one hart, so there is no per-goroutine TLS need.
package sched

import (
	"sync"

	"rvkernel/defs"
	"rvkernel/mem"
	"rvkernel/proc"
)

// Scheduler owns the ready queue and the current-task anchor. Callers
// must not construct more than one live Scheduler against the same set
// of Tasks; this core has exactly one hart and exactly one ready queue.
type Scheduler struct {
	mu      sync.Mutex
	ready   []*proc.Task
	current *proc.Task

	// Terminate is invoked by ExitCurrent when the init task exits,
	// spec §4.6 "if current is init, terminate the machine." The
	// default implementation panics; cmd/rvkernel supplies os.Exit.
	Terminate func()
}

// New returns an unstarted Scheduler. Current returns nil until Start is
// called, matching spec §4.6's "lookups return None only before
// scheduler init."
func New() *Scheduler {
	return &Scheduler{Terminate: func() { panic("sched: machine halted (init task exited)") }}
}

// AddTask pushes t onto the back of the ready queue.
func (s *Scheduler) AddTask(t *proc.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = append(s.ready, t)
}

// Current returns the running task, or nil if the scheduler has not
// started yet.
func (s *Scheduler) Current() *proc.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Start installs init as current and transitions it to Running. A real
// hart's enter_user never returns; this host simulation has no
// instruction stream to jump into, so Start returns once init is the
// scheduler's current task, leaving syscall dispatch (trap/syscalls) to
// drive further task state changes.
func (s *Scheduler) Start(init *proc.Task) {
	s.mu.Lock()
	s.current = init
	s.mu.Unlock()
	init.EnterAsInit()
}

// YieldCurrent implements the sched_yield syscall: push current to the
// back of the ready queue and switch to the next one.
func (s *Scheduler) YieldCurrent() {
	s.reschedule()
}

// ExitCurrent implements the exit/exit_group syscalls. If current is the
// init task the whole machine halts (via Terminate); otherwise current is
// marked Exited and the next ready task takes over.
func (s *Scheduler) ExitCurrent() {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil {
		panic("sched: ExitCurrent with no current task")
	}
	if cur.IsInit() {
		s.Terminate()
		return
	}
	cur.SetState(proc.Exited)
	s.reschedule()
}

// CloneCurrent implements the clone syscall: fork current, enqueue the
// child, and return its tid to the caller (the parent's a0).
func (s *Scheduler) CloneCurrent(flags uint64, userStack mem.Va_t) (defs.Tid_t, defs.Err_t) {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil {
		panic("sched: CloneCurrent with no current task")
	}
	child, err := cur.Clone(flags, userStack)
	if err != 0 {
		return 0, err
	}
	s.AddTask(child)
	return child.Tid, 0
}

// reschedule re-queues the running task (if it's still marked Running —
// ExitCurrent already moved it to Exited before calling in) and installs
// the next ready task as current, spec §4.6. It panics if the ready queue
// is empty: an idle task is an acceptable future extension this core does
// not implement, per spec §4.6/§9.
func (s *Scheduler) reschedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.GetState() == proc.Running {
		s.current.SetState(proc.Ready)
		s.ready = append(s.ready, s.current)
	}

	if len(s.ready) == 0 {
		panic("sched: ready queue empty, no idle task")
	}
	next := s.ready[0]
	s.ready = s.ready[1:]
	next.SetState(proc.Running)
	s.current = next
	next.MemorySet.PageTable().FlushAll()
}

// TaskInfo is a read-only snapshot of one task, the shape cmd/rvtop polls
// to render the ready queue and current task.
type TaskInfo struct {
	Pid   defs.Pid_t
	Tid   defs.Tid_t
	State proc.State
}

// Snapshot is a consistent read of the scheduler's current and ready
// state, for debugging and the TUI.
type Snapshot struct {
	Current *TaskInfo
	Ready   []TaskInfo
}

// Snapshot takes a point-in-time read of the ready queue and current task.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var snap Snapshot
	if s.current != nil {
		snap.Current = &TaskInfo{Pid: s.current.Pid, Tid: s.current.Tid, State: s.current.GetState()}
	}
	for _, t := range s.ready {
		snap.Ready = append(snap.Ready, TaskInfo{Pid: t.Pid, Tid: t.Tid, State: t.GetState()})
	}
	return snap
}
