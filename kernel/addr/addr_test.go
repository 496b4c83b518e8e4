package addr

import "testing"

func TestNewRejectsMisaligned(t *testing.T) {
	if _, err := New[K4](0x1001); err != ErrMisaligned {
		t.Fatalf("expected ErrMisaligned; got %v", err)
	}
	if _, err := New[K4](0x1000); err != nil {
		t.Fatalf("expected aligned address to succeed; got %v", err)
	}
}

func TestRoundUpDown(t *testing.T) {
	if got := RoundUp[K4](0); got.Addr() != 0 {
		t.Fatalf("RoundUp(0) = %#x; want 0", got.Addr())
	}
	if got := RoundUp[K4](1); got.Addr() != uintptr(1<<12) {
		t.Fatalf("RoundUp(1) = %#x; want page size", got.Addr())
	}
	if got := RoundDown[K4](0x1FFF); got.Addr() != 0x1000 {
		t.Fatalf("RoundDown(0x1FFF) = %#x; want 0x1000", got.Addr())
	}
}

func TestStepRoundTrip(t *testing.T) {
	start := MustNew[K4](0x40_0000)
	forward := start.Step(5)
	back := forward.Step(-5)
	if back.Addr() != start.Addr() {
		t.Fatalf("stepping forward then back: got %#x; want %#x", back.Addr(), start.Addr())
	}
}

func TestIndexTables(t *testing.T) {
	cases := []struct {
		name  string
		va    uintptr
		level int
		want  uintptr
	}{
		{"L4(0)", 0, 0, 0},
		{"L4(0x0000_0080_0000_0000)", 0x0000_0080_0000_0000, 0, 1},
		{"L4(selfmap base)", 0xFFFF_FFFF_FFFF_F000, 0, 511},
		{"L3(0x4000_0000)", 0x0000_0000_4000_0000, 1, 1},
		{"L3(0x0000_0080_0000_0000)", 0x0000_0080_0000_0000, 1, 512},
		{"L2(0x20_0000)", 0x0000_0000_0020_0000, 2, 1},
		{"L2(0xFFFF_8000_4000_0000)", 0xFFFF_8000_4000_0000, 2, (1 << 26) + 512},
		{"L1(0x1000)", 0x0000_0000_0000_1000, 3, 1},
	}

	for _, c := range cases {
		v := MustNew[K4](c.va &^ 0xFFF)
		got := v.Index(c.level)
		if got != c.want {
			t.Errorf("%s: index(%d) = %d; want %d", c.name, c.level, got, c.want)
		}
	}
}

func TestFrameAlignmentPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected NewFrame to panic on misaligned HPA")
		}
	}()
	NewFrame[K4](NewHPA(0x1001))
}
