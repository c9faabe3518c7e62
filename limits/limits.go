// Package limits holds the system-wide resource budgets this core
// carries for tasks, open fds, and mapped regions. The Fds budget makes
// openat and fcntl(F_DUPFD) return EMFILE when spent, and the MapAreas
// budget makes new regions (mmap, ELF loading) fail with ENOMEM; the
// Tasks budget is not consulted, so clone is not limited by it.
package limits

import "sync/atomic"

// Sysatomic_t is a countdown counter that can be taken from and given
// back to atomically; it starts at a budget and Taken reports whether
// there was enough budget left.
type Sysatomic_t int64

func (s *Sysatomic_t) Taken(n uint) bool {
	g := atomic.AddInt64((*int64)(s), -int64(n))
	if g >= 0 {
		return true
	}
	atomic.AddInt64((*int64)(s), int64(n))
	return false
}

func (s *Sysatomic_t) Take() bool { return s.Taken(1) }

func (s *Sysatomic_t) Give() {
	atomic.AddInt64((*int64)(s), 1)
}

// Syslimit_t holds the running budgets this kernel enforces.
type Syslimit_t struct {
	Tasks    Sysatomic_t
	Fds      Sysatomic_t
	MapAreas Sysatomic_t
}

// Syslimit is a process-wide instance at the default budgets. The kernel
// packages do not read it: they use the *Syslimit_t their caller passes
// in.
var Syslimit = MkSysLimit()

// MkSysLimit returns a fresh set of limits at their default budgets.
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Tasks:    1024,
		Fds:      256,
		MapAreas: 4096,
	}
}
