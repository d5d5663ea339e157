package evloop

import "unsafe"

// rawPointer reinterprets a byte-slice element's address as an
// unsafe.Pointer, used solely to view a signalfd_siginfo record out of the
// flat read buffer without an extra copy.
func rawPointer(b *byte) unsafe.Pointer {
	return unsafe.Pointer(b)
}
