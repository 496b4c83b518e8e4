// Command theon is the cold-boot loader's entry point: it is the symbol
// the prior-stage loader transfers control to with the physical address of
// a multiboot1 info block as its only argument, after mapping the first
// 4 GiB of physical memory read/write at the fixed high base.
//
// The real argument arrives through a package-level variable the linked
// rt0 stub populates before calling into Go, since func main's signature
// carries no arguments.
package main

import (
	"github.com/hypatia-hypervisor/hypatia/kernel/addr"
	"github.com/hypatia-hypervisor/hypatia/kernel/boot"
	"github.com/hypatia-hypervisor/hypatia/kernel/config"
	"github.com/hypatia-hypervisor/hypatia/kernel/elfload"
	"github.com/hypatia-hypervisor/hypatia/kernel/kfmt"
	"github.com/hypatia-hypervisor/hypatia/kernel/multiboot1"
	"github.com/hypatia-hypervisor/hypatia/kernel/platform"
	"github.com/hypatia-hypervisor/hypatia/kernel/smp"
	"github.com/hypatia-hypervisor/hypatia/kernel/uart"
)

// multibootInfoPtr is set by the linked rt0 stub before main is called.
var multibootInfoPtr uintptr

// apStub is the position-independent AP-startup stub blob the build links
// in; a package-level variable so a test build can leave it nil without
// pulling in a real assembler stub.
var apStub []byte

var errMainReturned = &boot.Error{Module: "theon", Message: "main returned"}

// main never returns: the loader either transfers control into the
// supervisor's entry point at the end of Boot, or it is fatal.
func main() {
	Boot(multibootInfoPtr)
	boot.Panic(errMainReturned)
}

// Boot runs the full cold-boot sequence: platform scaffolding,
// multiboot1 parsing, the ELF loader driver over the required "bin.a"
// archive, AP bring-up, and finally transferring control into the
// supervisor's entry point a second time. Any failure along the way is
// fatal via boot.Panic, per the loader's contract.
//
// Boot itself performs the final transfer; main treats a return from it
// as fatal.
func Boot(infoAddr uintptr) {
	port := uart.New()
	port.Init()
	kfmt.SetSink(port)

	kfmt.Printf("theon: cold boot, multiboot1 info at %x\n", uint64(infoAddr))

	platform.Start()

	multiboot1.SetDerefFn(derefPhys)
	info := multiboot1.Parse(infoAddr)

	archiveMod, ok := info.Module(config.ArchiveModuleName)
	if !ok {
		boot.Panic(&boot.Error{Module: "theon", Message: "missing required module: " + config.ArchiveModuleName})
	}
	archiveBytes := readModule(archiveMod)

	results := elfload.Run(archiveBytes)

	smp.EnableX2APIC()
	smp.SetStub(apStub)
	smp.BringUp(secondaryCPUs())

	supervisor, ok := results[config.SupervisorName]
	if !ok {
		boot.Panic(&boot.Error{Module: "theon", Message: "missing required image: " + config.SupervisorName})
	}
	elfload.InvokeEntry(supervisor.Entry)
}

// derefPhys resolves a physical address to the virtual address at which
// the loader's fixed high-base direct map already makes it readable.
func derefPhys(phys uintptr) uintptr {
	return config.DirectMap(addr.NewHPA(uint64(phys)))
}

// readModule returns m's bytes through the direct map, without copying.
func readModule(m multiboot1.Module) []byte {
	length := m.End - m.Start
	va := derefPhys(uintptr(m.Start))
	return unsafeBytes(va, length)
}

// apStackSize is the size of each AP's initial stack.
const apStackSize = 16 * 1024

var apStacks [config.MaxSecondaryCPUs][apStackSize]byte

// secondaryCPUs builds the CPU table the AP bring-up sequencer parks APs
// with, assuming the fixed small topology documented at
// kernel/config.MaxSecondaryCPUs.
func secondaryCPUs() []smp.CPUEntry {
	cpus := make([]smp.CPUEntry, config.MaxSecondaryCPUs)
	for i := range cpus {
		cpus[i] = smp.CPUEntry{
			APICID:   uint32(i + 1),
			StackTop: stackTop(apStacks[i][:]),
		}
	}
	return cpus
}
