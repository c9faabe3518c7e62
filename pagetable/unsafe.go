package pagetable

import "unsafe"

// ptrOf reinterprets a PGSIZE-backed frame slice as a *level so page
// tables can live directly in FrameAllocator frames like any other page.
func ptrOf(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}
