// Package elfload implements the loader's per-binary ELF ingestion: parse
// program headers, build a private address space, copy segments into
// freshly allocated frames, install the mappings, and -- for a Segment --
// invoke the image's entry point.
//
// ELF parsing uses the standard library's debug/elf: the archive member is
// already an in-memory byte slice, and debug/elf needs only an io.ReaderAt,
// never the OS.
package elfload

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"
	"unsafe"

	"github.com/hypatia-hypervisor/hypatia/kernel/addr"
	"github.com/hypatia-hypervisor/hypatia/kernel/bump"
	"github.com/hypatia-hypervisor/hypatia/kernel/config"
	"github.com/hypatia-hypervisor/hypatia/kernel/pagemap"
)

// ErrUnaligned is returned when a loadable program header's virtual start
// is not 4 KiB aligned.
var ErrUnaligned = fmt.Errorf("elfload: loadable segment virtual address is not page-aligned")

// directMapFn resolves a physical frame address to a virtual address at
// which it is already writable through the loader's fixed high-base direct
// map. Overridden by tests.
var directMapFn = config.DirectMap

// Result is everything the driver needs after loading one image: the root
// of its private address space and (for a Segment) the entry point the
// driver already invoked once, kept around so cmd/theon can re-invoke the
// supervisor's entry a second time at true cold-boot exit.
type Result struct {
	Name  string
	Kind  config.ImageKind
	Root  addr.HPA
	Entry uintptr
}

// loadSegment is one PT_LOAD program header reduced to the fields the
// copy-in loop needs.
type loadSegment struct {
	prog    *elf.Prog
	vaStart uintptr
	vaEnd   uintptr
	perm    pagemap.Permission
}

// Load parses the ELF image in imageBytes, builds a private address space
// for it inside its reserved 16 MiB physical slot (entry.LoadHPA), copies
// every loadable segment in, and -- per entry.Kind -- either invokes the
// image's entry point (Segment) or trims the root down to the shared
// subtree only (Task).
//
// Any failure here is fatal in the loader's calling convention; Load
// returns the error and leaves fatal handling to the caller (the driver
// calls boot.Panic).
func Load(imageBytes []byte, entry config.BinaryEntry) (*Result, error) {
	f, err := elf.NewFile(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("elfload: parsing %q: %w", entry.Name, err)
	}
	defer f.Close()

	segs, ranges, err := loadableSegments(f)
	if err != nil {
		return nil, fmt.Errorf("elfload: %q: %w", entry.Name, err)
	}

	physEnd := addr.NewHPA(uint64(entry.LoadHPA) + config.ImageSize)
	ib := newImageBump(entry.LoadHPA, physEnd)

	rootFrame, err := ib.allocFrame()
	if err != nil {
		return nil, fmt.Errorf("elfload: %q: allocating root frame: %w", entry.Name, err)
	}
	rootHPA := pagemap.NewRoot(rootFrame)

	if err := pagemap.SideLoad(rootHPA); err != nil {
		return nil, fmt.Errorf("elfload: %q: %w", entry.Name, err)
	}
	defer pagemap.UnloadSide()

	if err := pagemap.MakeSharedRanges(ranges, ib.allocFn()); err != nil {
		return nil, fmt.Errorf("elfload: %q: building shared ranges: %w", entry.Name, err)
	}

	for _, s := range segs {
		if err := copySegment(s, ib); err != nil {
			return nil, fmt.Errorf("elfload: %q: %w", entry.Name, err)
		}
	}

	if entry.Kind == config.Task {
		pagemap.UnmapRootRanges(ranges)
	}

	res := &Result{Name: entry.Name, Kind: entry.Kind, Root: rootHPA, Entry: uintptr(f.Entry)}

	if entry.Kind == config.Segment {
		InvokeEntry(res.Entry)
	}

	return res, nil
}

// loadableSegments walks f's program headers, retaining only PT_LOAD
// entries, asserting each one's virtual start is page
// aligned, and reducing them to the ranges MakeSharedRanges needs.
func loadableSegments(f *elf.File) ([]loadSegment, []pagemap.Range, error) {
	var segs []loadSegment
	var ranges []pagemap.Range

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if prog.Vaddr&0xFFF != 0 {
			return nil, nil, ErrUnaligned
		}

		start := addr.MustNew[addr.K4](uintptr(prog.Vaddr))
		end := addr.RoundUp[addr.K4](uintptr(prog.Vaddr + prog.Memsz))

		segs = append(segs, loadSegment{
			prog:    prog,
			vaStart: start.Addr(),
			vaEnd:   end.Addr(),
			perm:    permOf(prog.Flags),
		})
		ranges = append(ranges, pagemap.Range{Start: start, End: end})
	}

	return segs, ranges, nil
}

// permOf converts an ELF program header's R/W/X flags into the R/W/X
// permission triple Map expects.
func permOf(flags elf.ProgFlag) pagemap.Permission {
	return pagemap.Permission{
		Read:  flags&elf.PF_R != 0,
		Write: flags&elf.PF_W != 0,
		Exec:  flags&elf.PF_X != 0,
	}
}

// copySegment copies one loadable segment's file-backed bytes into freshly
// allocated frames, zero-filling the tail when the memory range exceeds
// the file range, and installs each page via MapLeaf.
func copySegment(s loadSegment, ib *imageBump) error {
	fileData, err := io.ReadAll(s.prog.Open())
	if err != nil {
		return fmt.Errorf("reading segment data: %w", err)
	}

	const pageSize = uintptr(1) << 12

	for va := s.vaStart; va < s.vaEnd; va += pageSize {
		frame, err := ib.allocFrame()
		if err != nil {
			return fmt.Errorf("allocating page frame: %w", err)
		}

		dst := (*[pageSize]byte)(unsafe.Pointer(directMapFn(frame.HPA())))
		fileOff := va - s.vaStart
		n := 0
		if fileOff < uintptr(len(fileData)) {
			end := fileOff + pageSize
			if end > uintptr(len(fileData)) {
				end = uintptr(len(fileData))
			}
			n = copy(dst[:], fileData[fileOff:end])
		}
		for i := n; i < int(pageSize); i++ {
			dst[i] = 0
		}

		vAddr := addr.MustNew[addr.K4](va)
		if err := pagemap.MapLeaf(vAddr, frame, s.perm); err != nil {
			return fmt.Errorf("mapping page %#x: %w", va, err)
		}
	}

	return nil
}

// imageBump is a bump.Region scoped to one image's 16 MiB physical slot,
// handing out Frame[K4] values directly instead of raw virtual addresses.
type imageBump struct {
	region   *bump.Region
	physBase addr.HPA
	virtBase uintptr
}

func newImageBump(physStart, physEnd addr.HPA) *imageBump {
	virtBase := directMapFn(physStart)
	length := uintptr(uint64(physEnd) - uint64(physStart))
	return &imageBump{
		region:   bump.NewRegion(virtBase, length),
		physBase: physStart,
		virtBase: virtBase,
	}
}

func (b *imageBump) allocFrame() (addr.Frame[addr.K4], error) {
	va, err := b.region.Alloc(4096, 4096)
	if err != nil {
		return addr.Frame[addr.K4]{}, err
	}
	phys := addr.NewHPA(uint64(b.physBase) + uint64(va-b.virtBase))
	return addr.NewFrame[addr.K4](phys), nil
}

func (b *imageBump) allocFn() pagemap.AllocFunc {
	return b.allocFrame
}

// InvokeEntry transmutes a loaded image's ELF entry point into a nullary
// function pointer and calls it, the same kind of
// direct code-pointer transmutation kernel/platform's funcAddr performs in
// the opposite direction.
func InvokeEntry(entryVA uintptr) {
	var fn func()
	code := entryVA
	*(*unsafe.Pointer)(unsafe.Pointer(&fn)) = unsafe.Pointer(&code)
	fn()
}
