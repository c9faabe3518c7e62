// Package fd implements the dense, fd-indexed table of open files a Task
// owns. Grounded on the teacher's fd.go (Fd_t wrapper pattern, Copyfd) and
// original_source's axprocess::fd::FdList (lowest-numbered-free-slot
// allocation, element-wise-sharing Clone). Cwd_t and path canonicalization
// did not survive: this core treats the filesystem, if any, as an opaque
// capability handed to openat already resolved, so there is no in-kernel
// notion of a working directory to track.
package fd

import (
	"sync"

	"rvkernel/defs"
	"rvkernel/fdops"
)

// List is a mutex-guarded, dense sequence of open files. A nil slot is a
// closed fd; Alloc/AllocHint always prefer the lowest-numbered nil slot,
// matching spec §8 property 7.
type List struct {
	mu    sync.Mutex
	files []fdops.File
}

// New returns an FdList with fds 0/1/2 pre-populated from stdin, stdout,
// and stderr.
func New(stdin, stdout, stderr fdops.File) *List {
	return &List{files: []fdops.File{stdin, stdout, stderr}}
}

// Query returns the file at fd, or ok=false if fd is out of range or
// closed.
func (l *List) Query(fd int) (fdops.File, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if fd < 0 || fd >= len(l.files) || l.files[fd] == nil {
		return nil, false
	}
	return l.files[fd], true
}

// Alloc installs f at the lowest free fd and returns it.
func (l *List) Alloc(f fdops.File) int {
	return l.AllocHint(0, f)
}

// AllocHint installs f at the lowest free fd at or above hint, extending
// the table with nil slots if every existing slot from hint up is taken.
func (l *List) AllocHint(hint int, f fdops.File) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := hint; i < len(l.files); i++ {
		if l.files[i] == nil {
			l.files[i] = f
			return i
		}
	}
	for len(l.files) < hint {
		l.files = append(l.files, nil)
	}
	l.files = append(l.files, f)
	return len(l.files) - 1
}

// Remove closes and clears the slot at fd. It reports EBADF if fd was
// already closed or out of range.
func (l *List) Remove(fd int) defs.Err_t {
	l.mu.Lock()
	defer l.mu.Unlock()
	if fd < 0 || fd >= len(l.files) || l.files[fd] == nil {
		return defs.EBADF
	}
	f := l.files[fd]
	l.files[fd] = nil
	return f.Close()
}

// Clone returns a new List sharing every live file reference with l —
// the CLONE_VM-independent fd-sharing rule spec §4.5 describes ("Child
// inherits a clone of the parent FdList (shared file references)").
func (l *List) Clone() *List {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]fdops.File, len(l.files))
	copy(out, l.files)
	return &List{files: out}
}

// Len reports the current table size, including nil slots.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.files)
}
