package smp

import (
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/hypatia-hypervisor/hypatia/kernel/addr"
	"github.com/hypatia-hypervisor/hypatia/kernel/config"
)

// fakeTSC lets tests advance simulated time deterministically instead of
// racing the real TSC.
type fakeTSC struct{ now uint64 }

func (f *fakeTSC) read() uint64 { return f.now }

func withFakeTSC(t *testing.T, f *fakeTSC) {
	t.Helper()
	prev := readTSCFn
	readTSCFn = f.read
	t.Cleanup(func() { readTSCFn = prev })
}

func TestPollAllRunningReturnsTrueWhenAllReady(t *testing.T) {
	tsc := &fakeTSC{}
	withFakeTSC(t, tsc)

	cpus := []CPUEntry{{State: stateRunningBit}, {State: stateRunningBit}}
	if !pollAllRunning(cpus, pollWindowNanos) {
		t.Fatal("expected pollAllRunning to return true immediately")
	}
}

func TestPollAllRunningTimesOutWhenNotAllReady(t *testing.T) {
	tsc := &fakeTSC{}
	withFakeTSC(t, tsc)

	cpus := []CPUEntry{{State: stateRunningBit}, {State: 0}}

	// Simulate time passing past the poll window on the next TSC read.
	calls := 0
	readTSCFn = func() uint64 {
		calls++
		if calls == 1 {
			return 0
		}
		return pollWindowNanos * nominalTSCHz / 1_000_000_000 * 2
	}

	if pollAllRunning(cpus, pollWindowNanos) {
		t.Fatal("expected pollAllRunning to time out and return false")
	}
}

func TestIncrementRunningUpdatesGlobalCount(t *testing.T) {
	origHalt := haltFn
	haltFn = func() {}
	defer func() { haltFn = origHalt }()

	atomic.StoreUint32(&globalRunningCount, 0)
	IncrementRunning()
	IncrementRunning()

	if atomic.LoadUint32(&globalRunningCount) != 2 {
		t.Fatalf("expected globalRunningCount == 2, got %d", globalRunningCount)
	}
}

func TestICRCommandEncodesBroadcastInit(t *testing.T) {
	cmd := icrCommand(destShorthandAllExcludingSelf, false, true, deliveryModeInit, 0)

	if shorthand := (cmd >> 18) & 0x3; shorthand != destShorthandAllExcludingSelf {
		t.Fatalf("expected dest shorthand %d, got %d", destShorthandAllExcludingSelf, shorthand)
	}
	if deliv := (cmd >> 8) & 0x7; deliv != deliveryModeInit {
		t.Fatalf("expected delivery mode %d, got %d", deliveryModeInit, deliv)
	}
	if cmd&bitLevelAssert == 0 {
		t.Fatal("expected level-assert bit set")
	}
	if cmd&bitTriggerLevel == 0 {
		t.Fatal("expected level-triggered bit set for INIT")
	}
}

func TestICRCommandEncodesDirectedStartupVector(t *testing.T) {
	cmd := icrCommand(destShorthandNone, true, false, deliveryModeStartup, sipiVector())

	if vec := cmd & 0xFF; vec != sipiVector() {
		t.Fatalf("expected vector %d, got %d", sipiVector(), vec)
	}
	if shorthand := (cmd >> 18) & 0x3; shorthand != destShorthandNone {
		t.Fatalf("expected no dest shorthand, got %d", shorthand)
	}
}

// fakeLAPIC records every ICR write and lets a test script what happens
// when the boot processor issues the broadcast or directed STARTUP IPIs,
// standing in for the APs' observable behavior.
type fakeLAPIC struct {
	icrWrites []uint64
	onStartup func(directed bool, dest uint32)
}

func (f *fakeLAPIC) writeMSR(msr uint32, value uint64) {
	if msr != msrICR {
		return
	}
	f.icrWrites = append(f.icrWrites, value)

	cmd := uint32(value)
	if (cmd>>8)&0x7 != deliveryModeStartup || f.onStartup == nil {
		return
	}
	directed := (cmd>>18)&0x3 == destShorthandNone
	f.onStartup(directed, uint32(value>>32))
}

func (f *fakeLAPIC) directedStartups() int {
	n := 0
	for _, w := range f.icrWrites {
		cmd := uint32(w)
		if (cmd>>8)&0x7 == deliveryModeStartup && (cmd>>18)&0x3 == destShorthandNone {
			n++
		}
	}
	return n
}

// installBringUpFakes wires every hardware seam BringUp touches to
// in-memory fakes: a SIPI page buffer, an auto-advancing TSC so every
// busy-wait window expires after a bounded number of polls, and the fake
// LAPIC.
func installBringUpFakes(t *testing.T, lapic *fakeLAPIC) {
	t.Helper()

	prevMSR, prevTSC, prevDirect := writeMSRFn, readTSCFn, directMapFn
	var sipiPage [8192]byte
	base := uintptr(unsafe.Pointer(&sipiPage[0]))

	writeMSRFn = lapic.writeMSR
	var now uint64
	readTSCFn = func() uint64 {
		now += nominalTSCHz / 1000 // 1 ms of simulated time per read
		return now
	}
	directMapFn = func(hpa addr.HPA) uintptr {
		return base + (hpa.Uintptr() - config.SIPIFrameHPA.Uintptr())
	}
	atomic.StoreUint32(&globalRunningCount, 0)

	t.Cleanup(func() {
		writeMSRFn, readTSCFn, directMapFn = prevMSR, prevTSC, prevDirect
		atomic.StoreUint32(&globalRunningCount, 0)
	})
}

func TestBringUpHappyPathSkipsDirectedStartup(t *testing.T) {
	cpus := []CPUEntry{{APICID: 1}, {APICID: 2}}

	lapic := &fakeLAPIC{}
	lapic.onStartup = func(directed bool, dest uint32) {
		// Both simulated APs come up inside the broadcast poll window.
		for i := range cpus {
			atomic.StoreUint32(&cpus[i].State, stateRunningBit)
			atomic.AddUint32(&globalRunningCount, 1)
		}
	}
	installBringUpFakes(t, lapic)
	SetStub([]byte{0x90, 0x90})

	BringUp(cpus)

	if n := lapic.directedStartups(); n != 0 {
		t.Fatalf("expected no directed STARTUP IPIs on the happy path, got %d", n)
	}
}

func TestBringUpRetriesStragglersWithDirectedStartup(t *testing.T) {
	cpus := []CPUEntry{{APICID: 1}, {APICID: 2}}

	lapic := &fakeLAPIC{}
	lapic.onStartup = func(directed bool, dest uint32) {
		if !directed {
			// Only the first AP observes the broadcast SIPI.
			atomic.StoreUint32(&cpus[0].State, stateRunningBit)
			atomic.AddUint32(&globalRunningCount, 1)
			return
		}
		for i := range cpus {
			if cpus[i].APICID == dest {
				atomic.StoreUint32(&cpus[i].State, stateRunningBit)
				atomic.AddUint32(&globalRunningCount, 1)
			}
		}
	}
	installBringUpFakes(t, lapic)
	SetStub([]byte{0x90, 0x90})

	BringUp(cpus)

	if n := lapic.directedStartups(); n != 1 {
		t.Fatalf("expected exactly one directed STARTUP for the straggler, got %d", n)
	}
}

func TestStageSIPIPageWritesCPUTableLocator(t *testing.T) {
	lapic := &fakeLAPIC{}
	installBringUpFakes(t, lapic)

	stub := []byte{0xFA, 0x31, 0xC0}
	SetStub(stub)

	cpus := []CPUEntry{{APICID: 1}, {APICID: 2}, {APICID: 3}}
	stageSIPIPage(cpus)

	pageVA := directMapFn(config.SIPIFrameHPA)
	page := (*[4096]byte)(rawPointer(pageVA))
	for i, b := range stub {
		if page[i] != b {
			t.Fatalf("stub byte %d = %#x, want %#x", i, page[i], b)
		}
	}

	tail := (*[2]uint64)(rawPointer(pageVA + 4096 - 16))
	if tail[0] != cpusPointer(cpus) {
		t.Fatalf("cpus pointer word = %#x, want %#x", tail[0], cpusPointer(cpus))
	}
	if tail[1] != uint64(len(cpus)) {
		t.Fatalf("cpus length word = %d, want %d", tail[1], len(cpus))
	}
}
