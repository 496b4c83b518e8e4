// Package smp implements the multi-processor startup sequencer: it parks
// application processors (APs) in a known state via the INIT-SIPI-SIPI
// protocol, observes liveness through a shared state word per CPU, and
// waits for every AP to signal readiness.
//
// The boot processor broadcasts INIT and one STARTUP, polls each AP's
// state word, and retries stragglers with a directed STARTUP. The APs
// locate their CPUEntry through a fixed page their real-mode stub reads
// before jumping to Go.
package smp

import (
	"sync/atomic"
	"unsafe"

	"github.com/hypatia-hypervisor/hypatia/kernel/boot"
	"github.com/hypatia-hypervisor/hypatia/kernel/config"
	"github.com/hypatia-hypervisor/hypatia/kernel/cpuhw"
)

// rawPointer and cpusPointer are the only two unsafe conversions this
// package needs: a virtual address to a pointer, and a CPUEntry slice's
// backing array to the raw address the SIPI stub reads it from.
func rawPointer(va uintptr) unsafe.Pointer { return unsafe.Pointer(va) }

func cpusPointer(cpus []CPUEntry) uint64 {
	if len(cpus) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&cpus[0])))
}

// stateRunningBit is the only bit CPUEntry.State ever carries.
const stateRunningBit = 1

// CPUEntry is the per-AP liveness record: 16 bytes so the real-mode-
// adjacent stub can index the array without Go-level reflection. State is
// read with sequentially-consistent ordering in the polling loop and
// written by the AP signaling readiness; both ends use sync/atomic's
// sequentially-consistent operations.
type CPUEntry struct {
	APICID   uint32
	State    uint32
	StackTop uint64
}

// sipiStub is the position-independent AP startup stub copied into the
// SIPI page. Its content, the real-mode-to-long-mode transition, LAPIC-ID
// self-identification, stack switch and jump into the high-level AP entry,
// is a precompiled binary blob the build links in; this package never
// inspects it.
var sipiStub []byte

// SetStub installs the AP startup stub bytes. cmd/theon wires this from
// the build's linked-in real-mode trampoline; tests substitute a short
// placeholder.
func SetStub(stub []byte) {
	sipiStub = stub
}

// directMapFn resolves a physical frame address to a virtual address at
// which it is already writable. Overridden by tests.
var directMapFn = config.DirectMap

// readTSCFn is the TSC-read seam; overridden by tests to make the busy
// waits deterministic.
var readTSCFn = cpuhw.ReadTSC

// haltFn is the seam tests substitute for cpuhw.Halt so IncrementRunning
// can be exercised without actually halting the test process.
var haltFn = cpuhw.Halt

// nominalTSCHz is the fallback TSC frequency used to approximate the
// busy-wait windows when no calibrated reference is available. The windows
// are minimums, so overestimating the frequency is harmless.
const nominalTSCHz = 2_000_000_000

const (
	initDelayNanos        = 10_000_000  // 10 ms
	pollWindowNanos       = 200_000     // 200 µs
	rendezvousWindowNanos = 500_000_000 // 500 ms
)

// busyWaitNanos spins for approximately ns nanoseconds, estimated against
// nominalTSCHz.
func busyWaitNanos(ns uint64) {
	cycles := ns * nominalTSCHz / 1_000_000_000
	start := readTSCFn()
	for readTSCFn()-start < cycles {
		cpuhw.Pause()
	}
}

// stageSIPIPage copies the AP startup stub into the SIPI page and writes
// {cpus_ptr, cpus_len} as two trailing machine words so the stub can
// locate the CPU table.
func stageSIPIPage(cpus []CPUEntry) {
	pageVA := directMapFn(config.SIPIFrameHPA)
	dst := (*[4096]byte)(rawPointer(pageVA))

	n := copy(dst[:], sipiStub)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}

	tail := (*[2]uint64)(rawPointer(pageVA + 4096 - 16))
	tail[0] = cpusPointer(cpus)
	tail[1] = uint64(len(cpus))
}

// isRunning reports whether c has signaled readiness.
func isRunning(c *CPUEntry) bool {
	return atomic.LoadUint32(&c.State)&stateRunningBit != 0
}

// pollAllRunning polls every entry in cpus for up to windowNanos,
// returning true as soon as all report RUNNING.
func pollAllRunning(cpus []CPUEntry, windowNanos uint64) bool {
	cycles := windowNanos * nominalTSCHz / 1_000_000_000
	start := readTSCFn()

	for {
		allRunning := true
		for i := range cpus {
			if !isRunning(&cpus[i]) {
				allRunning = false
				break
			}
		}
		if allRunning {
			return true
		}
		if readTSCFn()-start >= cycles {
			return false
		}
		cpuhw.Pause()
	}
}

// globalRunningCount is incremented by IncrementRunning as each AP's
// high-level entry begins running.
var globalRunningCount uint32

// IncrementRunning is called from the high-level AP entry once it has
// switched to its assigned stack: it records the AP as joined and then
// halts.
func IncrementRunning() {
	atomic.AddUint32(&globalRunningCount, 1)
	haltFn()
}

// waitForRendezvous blocks until globalRunningCount reaches total or
// rendezvousWindowNanos elapses, at which point it is fatal.
func waitForRendezvous(total int) {
	cycles := uint64(rendezvousWindowNanos) * nominalTSCHz / 1_000_000_000
	start := readTSCFn()

	for atomic.LoadUint32(&globalRunningCount) < uint32(total) {
		if readTSCFn()-start >= cycles {
			boot.Panic(&boot.Error{Module: "smp", Message: "ap_not_running: AP rendezvous timed out"})
		}
		cpuhw.Pause()
	}
}

// BringUp executes the boot processor's INIT-SIPI-SIPI sequence against
// every AP in cpus and waits for all of them to join. It is the loader's
// only multi-processor operation; the SIPI page and the CPU array are set
// up before any AP observes INIT and never mutated afterward.
func BringUp(cpus []CPUEntry) {
	if len(cpus) == 0 {
		return
	}

	stageSIPIPage(cpus)

	broadcastInit()
	busyWaitNanos(initDelayNanos)

	broadcastStartup()

	if !pollAllRunning(cpus, pollWindowNanos) {
		for i := range cpus {
			if !isRunning(&cpus[i]) {
				directedStartup(cpus[i].APICID)
			}
		}
	}

	waitForRendezvous(len(cpus))
}
