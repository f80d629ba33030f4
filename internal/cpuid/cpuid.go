// Package cpuid abstracts "which CPU is this thread running on" the
// way the original allocator's NVM_GET_CURRENT_CPU_ID() macro did:
// query the OS where possible, clamp into [0, maxCPUs) by modulo on
// overflow, and fall back to a fixed CPU on platforms that don't
// expose the notion.
package cpuid

// Current returns the calling goroutine's OS-thread CPU id, clamped
// into [0, maxCPUs). maxCPUs must be > 0.
//
// This is a hint, not a guarantee: the Go scheduler may migrate the
// goroutine to a different OS thread (and CPU) between the read here
// and any subsequent per-CPU-heap access. The allocator tolerates this
// per spec §5 — an occasional cross-CPU push is still safe, just
// suboptimal for cache locality.
func Current(maxCPUs int) int {
	cpu := current()
	if cpu < 0 {
		cpu = 0
	}
	if cpu >= maxCPUs {
		cpu %= maxCPUs
	}
	return cpu
}
