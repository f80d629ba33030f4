//go:build linux

package cpuid

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// current queries the Linux getcpu(2) syscall, mirroring the original
// allocator's sched_getcpu() branch. On failure it reports CPU 0,
// matching NvmConfig.h's "exception guard" behavior.
//
// golang.org/x/sys/unix has no SchedGetcpu wrapper, so the syscall is
// invoked directly via its raw number, following the standard getcpu(2)
// signature (cpu *uint, node *uint, unused *struct{}).
func current() int {
	var cpu uint32
	_, _, errno := unix.Syscall(unix.SYS_GETCPU, uintptr(unsafe.Pointer(&cpu)), 0, 0)
	if errno != 0 {
		return 0
	}
	return int(cpu)
}
