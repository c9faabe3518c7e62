// Package fdops defines the capability set a kernel object must satisfy to
// sit behind a file descriptor. The real filesystem, block device, and pipe
// implementations are out of this core's scope (spec §1); this interface is
// the contract they — and the in-kernel Stdio pseudo-files — are expected to
// meet.
package fdops

import "rvkernel/defs"

// File is the "FileExt capability" spec.md §6 names as an external
// collaborator. Stdio, and any filesystem this core is wired to, implement
// it. Grounded on the teacher's Fdops_i reference held by Fd_t.
type File interface {
	Read(buf []uint8) (int, defs.Err_t)
	Write(buf []uint8) (int, defs.Err_t)
	Seek(off int64, whence int) (int64, defs.Err_t)

	Readable() bool
	Writable() bool
	Executable() bool

	// Clone returns an independent reference to the same underlying
	// object, sharing any seek cursor state the object implements.
	Clone() (File, defs.Err_t)

	// Close releases the object. Stdio's Close is a no-op; a real
	// filesystem file would release its backing resources here.
	Close() defs.Err_t
}

// Seek whence values, matching the syscall ABI's lseek encoding.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)
