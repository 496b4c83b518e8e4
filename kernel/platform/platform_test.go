package platform

import "testing"

func TestBuildCode64Descriptor(t *testing.T) {
	d := buildCode64Descriptor()
	if d.access&accPresent == 0 {
		t.Fatal("expected present bit set")
	}
	if d.granLimit&granLong == 0 {
		t.Fatal("expected long-mode bit set")
	}
}

func TestBuildTSSDescriptorEncodesBase(t *testing.T) {
	const fakeAddr = uintptr(0x1234_5678_9000)
	d := buildTSSDescriptor(fakeAddr)

	got := uint64(d.baseLow) | uint64(d.baseMid)<<16 | uint64(d.baseHigh)<<24 | uint64(d.baseUpper)<<32
	if got != uint64(fakeAddr) {
		t.Fatalf("expected encoded base %#x, got %#x", fakeAddr, got)
	}
}

func TestStartInstallsGDTAndIDT(t *testing.T) {
	origGDT, origIDT, origTR := loadGDTFn, loadIDTFn, loadTRFn
	var gdtLoaded, idtLoaded, trLoaded bool
	loadGDTFn = func(uintptr) { gdtLoaded = true }
	loadIDTFn = func(uintptr) { idtLoaded = true }
	loadTRFn = func(uint16) { trLoaded = true }
	defer func() { loadGDTFn, loadIDTFn, loadTRFn = origGDT, origIDT, origTR }()

	started = false
	Start()

	if !started || !gdtLoaded || !idtLoaded || !trLoaded {
		t.Fatalf("expected Start to load GDT, IDT and TR exactly once: started=%v gdt=%v idt=%v tr=%v",
			started, gdtLoaded, idtLoaded, trLoaded)
	}
	if tss.IST1 == 0 || tss.IST3 == 0 {
		t.Fatal("expected Start to assign non-zero IST1/IST3 stack tops")
	}
}
