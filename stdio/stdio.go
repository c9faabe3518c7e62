// Package stdio implements the in-kernel pseudo-files that back fds 0, 1,
// and 2 before any real filesystem is consulted: a console-backed Stdin,
// Stdout, and Stderr. Grounded on original_source's axprocess stdio module,
// which gives each stream the same "one direction is fatal" shape this core
// reproduces.
package stdio

import (
	"rvkernel/defs"
	"rvkernel/fdops"
	"rvkernel/platform"
)

// Stdin reads bytes from the platform console one at a time; writing to it
// is a kernel bug, not a recoverable error, matching spec §4.4.
type Stdin struct {
	Console platform.Console
}

func (Stdin) Readable() bool    { return true }
func (Stdin) Writable() bool    { return false }
func (Stdin) Executable() bool  { return false }
func (s Stdin) Clone() (fdops.File, defs.Err_t) { return s, 0 }
func (Stdin) Close() defs.Err_t { return 0 }

func (s Stdin) Read(buf []uint8) (int, defs.Err_t) {
	n := 0
	for n < len(buf) {
		c, ok := s.Console.GetChar()
		if !ok {
			break
		}
		buf[n] = c
		n++
		if c == '\n' {
			break
		}
	}
	return n, 0
}

func (Stdin) Write([]uint8) (int, defs.Err_t) {
	panic("writing to stdin")
}

func (Stdin) Seek(int64, int) (int64, defs.Err_t) {
	panic("seeking stdin")
}

// stdout is the shared implementation behind Stdout and Stderr: both write
// to the platform console and neither supports reads.
type stdout struct {
	Console platform.Console
	name    string
}

func (stdout) Readable() bool   { return false }
func (stdout) Writable() bool   { return true }
func (stdout) Executable() bool { return false }
func (s stdout) Clone() (fdops.File, defs.Err_t) { return s, 0 }
func (stdout) Close() defs.Err_t { return 0 }

func (s stdout) Write(buf []uint8) (int, defs.Err_t) {
	for _, c := range buf {
		s.Console.PutChar(c)
	}
	return len(buf), 0
}

func (s stdout) Read([]uint8) (int, defs.Err_t) {
	panic("reading from " + s.name)
}

func (s stdout) Seek(int64, int) (int64, defs.Err_t) {
	panic("seeking " + s.name)
}

// Stdout wraps the platform console as fd 1.
func Stdout(c platform.Console) fdops.File { return stdout{Console: c, name: "stdout"} }

// Stderr wraps the platform console as fd 2.
func Stderr(c platform.Console) fdops.File { return stdout{Console: c, name: "stderr"} }

// NewStdin wraps the platform console as fd 0.
func NewStdin(c platform.Console) fdops.File { return Stdin{Console: c} }
