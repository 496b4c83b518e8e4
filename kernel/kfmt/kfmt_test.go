package kfmt

import "testing"

// bufSink is a test-only Writer that accumulates bytes in memory, standing
// in for the serial port.
type bufSink struct {
	buf []byte
}

func (s *bufSink) WriteByte(b byte) { s.buf = append(s.buf, b) }
func (s *bufSink) Write(p []byte)   { s.buf = append(s.buf, p...) }

func TestPrintf(t *testing.T) {
	origSink := Sink
	defer func() { Sink = origSink }()

	sink := &bufSink{}
	SetSink(sink)

	specs := []struct {
		fn        func()
		expOutput string
	}{
		{func() { Printf("no args") }, "no args"},
		{func() { Printf("%t", true) }, "true"},
		{func() { Printf("%41t", false) }, "false"},
		{func() { Printf("%s arg", "STRING") }, "STRING arg"},
		{func() { Printf("%s arg", []byte("BYTES")) }, "BYTES arg"},
		{func() { Printf("'%4s'", "ABC") }, "' ABC'"},
		{func() { Printf("'%4s'", "ABCDE") }, "'ABCDE'"},
		{func() { Printf("uint: %d", uint8(10)) }, "uint: 10"},
		{func() { Printf("uint: %o", uint16(0777)) }, "uint: 777"},
		{func() { Printf("uint: %x", uint32(0xabc)) }, "uint: 0xabc"},
		{func() { Printf("int: %d", int32(-42)) }, "int: -42"},
		{func() { Printf("padded: %5d", 7) }, "padded:     7"},
		{func() { Printf("hex: %08x", uint64(0xff)) }, "hex: 0x000000ff"},
		{func() { Printf("%d %s", 1) }, "1 (MISSING)"},
		{func() { Printf("%d", 1, 2) }, "1%!(EXTRA)"},
		{func() { Printf("%z") }, "%!(NOVERB)"},
		{func() { Printf("%d", "not an int") }, "%!(WRONGTYPE)"},
	}

	for specIndex, spec := range specs {
		sink.buf = sink.buf[:0]
		spec.fn()
		if got := string(sink.buf); got != spec.expOutput {
			t.Errorf("[spec %d] expected output %q; got %q", specIndex, spec.expOutput, got)
		}
	}
}

func TestPrintfNilSink(t *testing.T) {
	origSink := Sink
	defer func() { Sink = origSink }()

	Sink = nil
	Printf("this must not panic: %d", 1)
}
