// Package platform installs the boot processor's descriptor-table
// scaffolding: a 256-entry interrupt descriptor table, a GDT with
// null/code64/TSS descriptors, a task-state segment carrying the interrupt
// stacks for the vectors that cannot trust the current stack, and a trap
// dispatch entry that saves a canonical register frame and calls a
// policy-free default handler during boot.
//
// LoadGDT, LoadIDT and LoadTR are bodyless Go declarations backed by
// kernel/cpuhw's assembly, the same seam the rest of the loader uses for
// CR3 and MSR access.
package platform

import "unsafe"

// Selector values into the GDT.
const (
	selNull  = 0x00
	selCode64 = 0x08
	selTSS    = 0x10
)

// gdtEntry is a standard 8-byte segment descriptor.
type gdtEntry struct {
	limitLow   uint16
	baseLow    uint16
	baseMid    uint8
	access     uint8
	granLimit  uint8
	baseHigh   uint8
}

// tssDescriptor is the 16-byte system-segment descriptor amd64 uses for a
// TSS; it has an extra 4-byte base-high word a normal gdtEntry lacks.
type tssDescriptor struct {
	gdtEntry
	baseUpper uint32
	reserved  uint32
}

const (
	accPresent   = 1 << 7
	accCode      = 0x1A // present-independent bits: code, readable
	accTSSAvail  = 0x09 // 64-bit TSS (available)
	granLong     = 1 << 5
)

// gdt is the fixed three-descriptor table: null, kernel code64, TSS. It is
// a package-level array so LoadGDT can be pointed at a stable address.
var gdt struct {
	null  gdtEntry
	code  gdtEntry
	tss   tssDescriptor
}

type gdtPtr struct {
	limit uint16
	base  uint64
}

func buildCode64Descriptor() gdtEntry {
	return gdtEntry{
		access:    accPresent | accCode,
		granLimit: granLong,
	}
}

func buildTSSDescriptor(tssAddr uintptr) tssDescriptor {
	size := uint32(unsafe.Sizeof(TSS{})) - 1
	return tssDescriptor{
		gdtEntry: gdtEntry{
			limitLow:  uint16(size),
			baseLow:   uint16(tssAddr),
			baseMid:   uint8(tssAddr >> 16),
			access:    accPresent | accTSSAvail,
			granLimit: uint8(size>>16) & 0x0F,
			baseHigh:  uint8(tssAddr >> 24),
		},
		baseUpper: uint32(tssAddr >> 32),
	}
}

// installGDT wires the code64 and TSS descriptors and loads GDTR+TR.
func installGDT() {
	gdt.code = buildCode64Descriptor()
	gdt.tss = buildTSSDescriptor(uintptr(unsafe.Pointer(&tss)))

	ptr := gdtPtr{
		limit: uint16(unsafe.Sizeof(gdt) - 1),
		base:  uint64(uintptr(unsafe.Pointer(&gdt))),
	}
	loadGDTFn(uintptr(unsafe.Pointer(&ptr)))
	loadTRFn(selTSS)
}
