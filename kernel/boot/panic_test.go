package boot

import (
	"strings"
	"testing"

	"github.com/hypatia-hypervisor/hypatia/kernel/kfmt"
)

type bufSink struct{ buf []byte }

func (s *bufSink) WriteByte(b byte) { s.buf = append(s.buf, b) }
func (s *bufSink) Write(p []byte)   { s.buf = append(s.buf, p...) }

func TestPanicFraming(t *testing.T) {
	sinkOut := func(cause interface{}) string {
		sink := &bufSink{}
		prevSink := kfmt.Sink
		kfmt.SetSink(sink)
		prevHalt := haltFn
		halted := false
		haltFn = func() { halted = true }
		defer func() {
			haltFn = prevHalt
			kfmt.Sink = prevSink
		}()
		Panic(cause)
		if !halted {
			t.Fatal("Panic returned without halting")
		}
		return string(sink.buf)
	}

	out := sinkOut(&Error{Module: "pagemap", Message: "already mapped"})
	if !strings.HasPrefix(out, "PANIC: ") {
		t.Fatalf("panic frame %q does not begin with PANIC: ", out)
	}
	if !strings.HasSuffix(out, "System halted.") {
		t.Fatalf("panic frame %q does not end with System halted.", out)
	}
	if !strings.Contains(out, "[pagemap] already mapped") {
		t.Fatalf("panic frame %q is missing the module/message body", out)
	}

	out = sinkOut("raw string cause")
	if !strings.Contains(out, "raw string cause") {
		t.Fatalf("panic frame %q is missing the string cause", out)
	}
}
