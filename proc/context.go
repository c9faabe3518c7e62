// Package proc implements the Task object: identity, register context,
// kernel/user stacks, owned address space, fd table, trap-frame
// construction, fork-style cloning, and ELF loading with argv/auxv/env
// stack setup. Grounded on original_source's axprocess::{task,loader}
// (the arceos ancestor this spec was distilled from supplies the exact
// algorithm) and on the teacher's accnt/caller idiom for the ambient
// per-task bookkeeping this core carries regardless of spec.md's scope.
package proc

// TaskContext is the callee-saved register snapshot sufficient to resume
// a kernel-mode routine at task_entry, spec §3/§4.6. Caller-saved
// registers and floating point state are never saved: every context
// switch happens at the single call site in sched.reschedule, so the Go
// compiler's own calling convention covers the rest — this struct exists
// to document the contract an assembly context_switch would honor, not
// because Go itself needs manual register spilling.
type TaskContext struct {
	Ra  uint64
	Sp  uint64
	S0  uint64
	S1  uint64
	S2  uint64
	S3  uint64
	S4  uint64
	S5  uint64
	S6  uint64
	S7  uint64
	S8  uint64
	S9  uint64
	S10 uint64
	S11 uint64
}
