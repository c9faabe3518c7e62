// Package accnt accumulates per-task CPU-time usage. Nothing in the
// syscall table exposes it directly yet; it exists so gettimeofday and
// scheduling decisions have a real time base to build on, and so tests
// can assert that time spent in a task is actually bookkept.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"
)

// Accnt_t accumulates the user and system nanoseconds a task has
// consumed. The embedded mutex lets callers take a consistent snapshot
// when merging a child's usage into its parent.
type Accnt_t struct {
	Userns int64
	Sysns  int64
	sync.Mutex
}

// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt_t) Utadd(delta int64) {
	atomic.AddInt64(&a.Userns, delta)
}

// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt_t) Systadd(delta int64) {
	atomic.AddInt64(&a.Sysns, delta)
}

// Now returns the current time in nanoseconds since the Unix epoch.
func (a *Accnt_t) Now() int64 {
	return time.Now().UnixNano()
}

// Finish adds the time elapsed since start to the system-time counter.
func (a *Accnt_t) Finish(start int64) {
	a.Systadd(a.Now() - start)
}

// Add merges another task's accounting into this one, e.g. when a child
// exits and a parent would collect its usage.
func (a *Accnt_t) Add(n *Accnt_t) {
	a.Lock()
	defer a.Unlock()
	n.Lock()
	a.Userns += n.Userns
	a.Sysns += n.Sysns
	n.Unlock()
}

// Snapshot returns a consistent (Userns, Sysns) pair.
func (a *Accnt_t) Snapshot() (int64, int64) {
	a.Lock()
	defer a.Unlock()
	return a.Userns, a.Sysns
}
