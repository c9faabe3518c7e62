// Package caller formats Go call stacks for the diagnostic text that
// accompanies a fatal trap.
package caller

import (
	"fmt"
	"runtime"
)

// Dump renders the call stack starting at the given skip depth as a
// newline-joined, arrow-linked trace suitable for appending to a fatal
// trap report.
func Dump(skip int) string {
	i := skip
	s := ""
	for {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		i++
		if s == "" {
			s = fmt.Sprintf("%s:%d\n", f, l)
		} else {
			s += fmt.Sprintf("\t<-%s:%d\n", f, l)
		}
	}
	return s
}
