package archive

import (
	"bytes"
	"fmt"
	"testing"
)

// buildArchive assembles a minimal ar archive containing the named
// members, padding each body to an even length the way a real ar writer
// does.
func buildArchive(members map[string][]byte, order []string) []byte {
	var buf bytes.Buffer
	buf.WriteString(globalMagic)

	for _, name := range order {
		data := members[name]
		header := fmt.Sprintf("%-16s%-12s%-6s%-6s%-8s%-10d`\n", name+"/", "0", "0", "0", "100644", len(data))
		buf.WriteString(header)
		buf.Write(data)
		if len(data)%2 == 1 {
			buf.WriteByte('\n')
		}
	}

	return buf.Bytes()
}

func TestParseRoundTrip(t *testing.T) {
	order := []string{"devices.elf", "supervisor.elf"}
	members := map[string][]byte{
		"devices.elf":    []byte("dev-content"),
		"supervisor.elf": []byte("supervisor-content!"),
	}

	parsed, err := Parse(buildArchive(members, order))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("expected 2 members, got %d", len(parsed))
	}

	for _, name := range order {
		m, ok := Find(parsed, name)
		if !ok {
			t.Fatalf("expected to find member %q", name)
		}
		if string(m.Data) != string(members[name]) {
			t.Fatalf("member %q: expected %q, got %q", name, members[name], m.Data)
		}
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	if _, err := Parse([]byte("not an archive")); err != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestFindMissing(t *testing.T) {
	parsed, err := Parse(buildArchive(map[string][]byte{"a": {1, 2}}, []string{"a"}))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if _, ok := Find(parsed, "missing"); ok {
		t.Fatal("expected Find to report missing member as absent")
	}
}
