// Package multiboot1 parses the multiboot1-format info block the
// prior-stage loader leaves in physical memory before transferring
// control: memory regions and the module list, most importantly the
// required "bin.a" archive module.
//
// Unlike multiboot2's tagged, variable-length section format, the
// multiboot1 info block has no tags at all: a single flags word gates a
// set of fixed-offset fields, and the memory map and module list are each
// a flat array reachable through one address+count pair.
package multiboot1

import "unsafe"

// Flag bits in the info block's first field (Multiboot1 spec table 3-2).
const (
	flagMem uint32 = 1 << iota
	flagBootDevice
	flagCmdline
	flagMods
	flagSymsAOut
	flagSymsELF
	flagMmap
)

// info mirrors the fixed-offset prefix of the multiboot1 info block that
// this loader actually consumes. Fields the loader never reads (boot
// device, command line, symbol tables, and beyond) are only relevant in
// that their presence does not change any offset used here, since every
// field up to mmapAddr is fixed regardless of which flag bits are set.
type info struct {
	flags      uint32
	memLower   uint32
	memUpper   uint32
	bootDevice uint32
	cmdline    uint32
	modsCount  uint32
	modsAddr   uint32
	_syms      [4]uint32
	mmapLength uint32
	mmapAddr   uint32
}

// mmapEntry is one record of the memory map array. Each entry is preceded
// by its own size field so that entries can in principle vary in length;
// every entry this loader's bootloader produces uses the fixed 20-byte
// body below. The 64-bit base and length sit at 4-byte offsets in the
// record, so they are held as 32-bit halves to keep the Go layout free of
// padding.
type mmapEntry struct {
	size               uint32
	baseLo, baseHi     uint32
	lengthLo, lengthHi uint32
	kindWord           uint32
}

// modEntry is one record of the module array: the physical range the
// module's bytes occupy and a pointer to its NUL-terminated name string.
type modEntry struct {
	start, end uint32
	nameAddr   uint32
	_reserved  uint32
}

// Kind classifies a memory region.
type Kind int

const (
	Reserved Kind = iota
	RAM
	Loader
	ModuleRegion
	ACPI
	NonVolatile
	Defective
)

// multiboot1's native region type codes (Multiboot1 spec table 3-4).
const (
	mbTypeAvailable        = 1
	mbTypeACPIReclaimable  = 3
	mbTypeACPINVS          = 4
	mbTypeDefective        = 5
)

func kindOf(raw uint32) Kind {
	switch raw {
	case mbTypeAvailable:
		return RAM
	case mbTypeACPIReclaimable:
		return ACPI
	case mbTypeACPINVS:
		return NonVolatile
	case mbTypeDefective:
		return Defective
	default:
		return Reserved
	}
}

// Region describes one physical memory range.
type Region struct {
	Start, End uint64
	Kind       Kind
}

// Module describes one boot module: its physical byte range and the name
// the bootloader tagged it with.
type Module struct {
	Start, End uint64
	Name       string
}

// derefFn resolves a physical address to a virtual address the loader can
// dereference. Production code uses config.DirectMap; this package does
// not import kernel/config directly to avoid a dependency cycle risk as
// the config package grows, so callers of SetDerefFn wire it at
// cmd/theon's boot wiring step. Tests substitute a function that indexes
// into a plain byte slice.
var derefFn = func(phys uintptr) uintptr { return phys }

// SetDerefFn installs the physical-to-virtual translation used to read the
// info block and everything it points to. Must be called before Parse.
func SetDerefFn(f func(phys uintptr) uintptr) {
	derefFn = f
}

// Info is a parsed multiboot1 info block.
type Info struct {
	raw *info
}

// Parse reads the multiboot1 info block at physical address infoAddr.
func Parse(infoAddr uintptr) *Info {
	return &Info{raw: (*info)(unsafe.Pointer(derefFn(infoAddr)))}
}

// Regions returns every memory region the bootloader reported, in the
// order the memory map lists them.
func (i *Info) Regions() []Region {
	if i.raw.flags&flagMmap == 0 {
		return nil
	}

	var regions []Region
	cur := uintptr(derefFn(uintptr(i.raw.mmapAddr)))
	end := cur + uintptr(i.raw.mmapLength)

	for cur < end {
		e := (*mmapEntry)(unsafe.Pointer(cur))
		base := uint64(e.baseLo) | uint64(e.baseHi)<<32
		length := uint64(e.lengthLo) | uint64(e.lengthHi)<<32
		regions = append(regions, Region{
			Start: base,
			End:   base + length,
			Kind:  kindOf(e.kindWord),
		})
		// size does not include the size field itself (Multiboot1 spec).
		cur += uintptr(e.size) + 4
	}

	return regions
}

// Modules returns every boot module the bootloader reported.
func (i *Info) Modules() []Module {
	if i.raw.flags&flagMods == 0 {
		return nil
	}

	mods := make([]Module, 0, i.raw.modsCount)
	base := uintptr(derefFn(uintptr(i.raw.modsAddr)))

	for idx := uint32(0); idx < i.raw.modsCount; idx++ {
		e := (*modEntry)(unsafe.Pointer(base + uintptr(idx)*unsafe.Sizeof(modEntry{})))
		mods = append(mods, Module{
			Start: uint64(e.start),
			End:   uint64(e.end),
			Name:  cString(derefFn(uintptr(e.nameAddr))),
		})
	}

	return mods
}

// Module returns the module with the given name, if present.
func (i *Info) Module(name string) (Module, bool) {
	for _, m := range i.Modules() {
		if m.Name == name {
			return m, true
		}
	}
	return Module{}, false
}

// cString reads a NUL-terminated string starting at the given virtual
// address.
func cString(vaddr uintptr) string {
	const maxLen = 256
	buf := make([]byte, 0, 32)
	p := (*[maxLen]byte)(unsafe.Pointer(vaddr))
	for i := 0; i < maxLen; i++ {
		if p[i] == 0 {
			break
		}
		buf = append(buf, p[i])
	}
	return string(buf)
}
