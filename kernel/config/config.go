// Package config holds the loader's source-level constant tables: the
// binary table, physical/virtual layout constants, and IST vector
// assignments. None of this is read from a file; there is nothing to read
// configuration from this early in boot, so the tables are plain Go
// constants.
package config

import "github.com/hypatia-hypervisor/hypatia/kernel/addr"

// HyperBase is the fixed virtual base at which the prior-stage loader maps
// the first 4 GiB of physical memory read/write before transferring
// control. Any physical address below 4 GiB is reachable at HyperBase+addr
// without any temporary mapping dance.
const HyperBase uintptr = 0xFFFF_8000_0000_0000

// DirectMap returns the virtual address at which hpa is already mapped
// through the loader's fixed high base. Valid only for hpa < 4 GiB.
func DirectMap(hpa addr.HPA) uintptr {
	return HyperBase + hpa.Uintptr()
}

// ImageKind distinguishes a privileged segment, whose entry runs
// immediately in the loader's address space, from an unprivileged task,
// whose pages are staged but whose entry is transferred to the supervisor
// for later execution.
type ImageKind int

const (
	Segment ImageKind = iota
	Task
)

func (k ImageKind) String() string {
	if k == Task {
		return "task"
	}
	return "segment"
}

// BinaryTableBase is the physical base from which every image's load
// address is computed: image i loads at BinaryTableBase + i*SlotStride.
const BinaryTableBase uint64 = 64 * 1024 * 1024

// SlotStride is the physical distance between successive images' load
// addresses. Each image owns only the lower ImageSize of its slot; the
// upper half is reserved for hot-update staging.
const SlotStride uint64 = 32 * 1024 * 1024

// ImageSize is the size of the region an image actually owns within its
// slot.
const ImageSize uint64 = 16 * 1024 * 1024

// BinaryEntry describes one image in the binary table: its archive member
// name, its physical load address, and whether it is a Segment or a Task.
type BinaryEntry struct {
	Name    string
	LoadHPA addr.HPA
	Kind    ImageKind
}

// loadHPA computes the physical load address for slot index i.
func loadHPA(i uint64) addr.HPA {
	return addr.NewHPA(BinaryTableBase + i*SlotStride)
}

// BinaryTable is the exact, ordered set of images the loader brings up on
// every boot. The order is significant: elfload.Run loads the images, and
// runs each segment's entry, in this order.
var BinaryTable = []BinaryEntry{
	{Name: "devices", LoadHPA: loadHPA(0), Kind: Segment},
	{Name: "global", LoadHPA: loadHPA(1), Kind: Segment},
	{Name: "memory", LoadHPA: loadHPA(2), Kind: Segment},
	{Name: "monitor", LoadHPA: loadHPA(3), Kind: Segment},
	{Name: "scheduler", LoadHPA: loadHPA(4), Kind: Segment},
	{Name: "supervisor", LoadHPA: loadHPA(5), Kind: Segment},
	{Name: "trace", LoadHPA: loadHPA(6), Kind: Segment},
	{Name: "system", LoadHPA: loadHPA(7), Kind: Task},
	{Name: "vcpu", LoadHPA: loadHPA(8), Kind: Task},
	{Name: "vm", LoadHPA: loadHPA(9), Kind: Task},
}

// SupervisorName is the image whose ELF entry the loader transfers control
// to on success.
const SupervisorName = "supervisor"

// ArchiveModuleName is the multiboot1 module the loader requires: an
// ar-format archive holding one ELF image per BinaryTable entry.
const ArchiveModuleName = "bin.a"

// SIPI page staging lands at a fixed low physical frame.
const (
	SIPIFrameNumber = 7
	SIPIFrameHPA    = addr.HPA(SIPIFrameNumber * 4096)
)

// MaxSecondaryCPUs bounds how many APs cmd/theon brings up. The spec
// treats "the CPU table" as a given input without specifying
// its discovery mechanism -- no ACPI MADT parser is in scope -- so this loader
// assumes the fixed small topology QEMU's default `-smp` produces: APIC
// ID 0 is the boot processor, IDs 1..MaxSecondaryCPUs are APs brought up
// in sequence. A real deployment would replace this with a MADT walk.
const MaxSecondaryCPUs = 3

// IST vector assignments: debug and NMI share IST1, double-fault gets its
// own stack (IST3). All three run on an IST stack because any of them can
// occur while the current stack is invalid.
const (
	VectorDebug        = 1
	VectorNMI          = 2
	VectorDoubleFault  = 8
	ISTDebug           = 1
	ISTNMI             = 1
	ISTDoubleFault     = 3
	// IST2 is reserved for a future re-entrant debug handler and not
	// wired to a vector yet; debug is the only vector with two candidate
	// stacks.
	ISTDebugReserved = 2
)
