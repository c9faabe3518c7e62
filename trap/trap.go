// Package trap implements the cause dispatch spec §4.7 describes: given a
// trap frame already saved by the (out-of-scope, assembly-level) entry
// sequence, decide whether this is a breakpoint, a U-mode ecall, a page
// fault to hand to the address-space manager, an interrupt, or something
// fatal. Grounded on original_source's axhal::arch::riscv::trap
// (riscv_trap_handler) and axhal::trap's TrapHandler contract.
package trap

import (
	"fmt"

	"rvkernel/caller"
	"rvkernel/mem"
	"rvkernel/proc"
	"rvkernel/vm"
)

// Cause enumerates the trap causes this core distinguishes. It deliberately
// does not reproduce the full scause encoding (interrupt bit + exception
// code); a real trap-entry assembly stub would decode scause and hand this
// package the already-classified Cause.
type Cause int

const (
	Breakpoint Cause = iota
	UserEcall
	InstrPageFaultUser
	LoadPageFaultUser
	StorePageFaultUser
	PageFaultSupervisor
	Interrupt
	Other
)

// Syscall is the function a live kernel wires in to service U-mode
// ecalls: a7 is the syscall id, a0..a5 the six argument registers, and
// the return value is placed in the frame's a0 by the caller.
type Syscall func(id uint64, args [6]uint64) uint64

// IRQ is the platform's interrupt router, spec §4.7 "dispatch to the
// platform's IRQ router."
type IRQ func()

// Dispatch handles one trap against tf, mutating it in place exactly as
// spec §4.7's table requires (sepc advance, a0 write). ms is the faulting
// task's address space, consulted only for page-fault causes. fromUser
// must be true for page faults to be resolved instead of treated as
// fatal, spec §4.7 "Any page fault from S-mode | fatal."
func Dispatch(tf *proc.TrapFrame, fromUser bool, cause Cause, stval uint64, ms *vm.MemorySet, sys Syscall, irq IRQ) {
	switch cause {
	case Breakpoint:
		tf.Sepc += 2

	case UserEcall:
		if !fromUser {
			Fatal(tf, fmt.Errorf("ecall cause without from_user"))
		}
		tf.Sepc += 4
		var args [6]uint64
		for i := range args {
			args[i] = tf.Arg(i)
		}
		tf.SetA0(sys(tf.SyscallID(), args))

	case InstrPageFaultUser, LoadPageFaultUser, StorePageFaultUser:
		if !fromUser {
			Fatal(tf, fmt.Errorf("page fault cause %v reported from S-mode", cause))
		}
		access := accessFlagsFor(cause)
		if err := ms.HandlePageFault(mem.Va_t(stval), access); err != 0 {
			Fatal(tf, fmt.Errorf("page fault at %#x: %v", stval, err))
		}

	case PageFaultSupervisor:
		Fatal(tf, fmt.Errorf("page fault from S-mode at %#x", stval))

	case Interrupt:
		if irq != nil {
			irq()
		}

	default:
		Fatal(tf, fmt.Errorf("unhandled trap cause %v", cause))
	}
}

func accessFlagsFor(cause Cause) uint64 {
	switch cause {
	case InstrPageFaultUser:
		return mem.PTE_U | mem.PTE_X
	case LoadPageFaultUser:
		return mem.PTE_U | mem.PTE_R
	case StorePageFaultUser:
		return mem.PTE_U | mem.PTE_W
	default:
		panic("accessFlagsFor: not a page fault cause")
	}
}

// Fatal panics with the diagnostic text spec §7 requires for an
// unrecoverable trap: decoded cause, faulting PC, and trap frame
// contents. Grounded on the teacher's caller.Dump stack-trace idiom.
func Fatal(tf *proc.TrapFrame, cause error) {
	panic(fmt.Sprintf("fatal trap: %v\n  sepc=%#x sstatus=%#x a0..a7=%v\n%s",
		cause, tf.Sepc, tf.Sstatus, tf.Regs[10:18], caller.Dump(2)))
}
