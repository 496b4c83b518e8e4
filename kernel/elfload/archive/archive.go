// Package archive reads the minimal Unix ar format multiboot1 module
// "bin.a" that packs one ELF image per kernel/config.BinaryTable entry.
//
// Member headers are fixed-width structs, decoded with encoding/binary
// rather than a hand-rolled byte-by-byte scanner.
package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strconv"
	"strings"
)

// ErrBadMagic is returned when the archive does not begin with the ar
// global header.
var ErrBadMagic = errors.New("archive: missing \"!<arch>\\n\" magic")

// ErrTruncated is returned when a member header or body runs past the end
// of the archive.
var ErrTruncated = errors.New("archive: truncated member header or body")

const (
	globalMagic  = "!<arch>\n"
	headerSize   = 60
	headerMagic  = "`\n"
)

// rawHeader is the fixed 60-byte ar member header, field widths per the
// common ("System V"/GNU) ar format.
type rawHeader struct {
	Name     [16]byte
	ModTime  [12]byte
	OwnerID  [6]byte
	GroupID  [6]byte
	Mode     [8]byte
	Size     [10]byte
	EndMagic [2]byte
}

// Member is one named file packed in the archive.
type Member struct {
	Name string
	Data []byte
}

// Parse decodes an ar-format archive into its member files, in the order
// they appear.
func Parse(data []byte) ([]Member, error) {
	if len(data) < len(globalMagic) || string(data[:len(globalMagic)]) != globalMagic {
		return nil, ErrBadMagic
	}

	var members []Member
	off := len(globalMagic)

	for off < len(data) {
		// Members are padded to even length; a single trailing newline
		// pad byte is skipped without its own header.
		if off+1 <= len(data) && data[off] == '\n' {
			off++
			continue
		}
		if off+headerSize > len(data) {
			return nil, ErrTruncated
		}

		var hdr rawHeader
		if err := binary.Read(bytes.NewReader(data[off:off+headerSize]), binary.LittleEndian, &hdr); err != nil {
			return nil, err
		}
		if string(hdr.EndMagic[:]) != headerMagic {
			return nil, ErrTruncated
		}

		size, err := strconv.Atoi(strings.TrimSpace(string(hdr.Size[:])))
		if err != nil || size < 0 {
			return nil, ErrTruncated
		}

		bodyStart := off + headerSize
		bodyEnd := bodyStart + size
		if bodyEnd > len(data) {
			return nil, ErrTruncated
		}

		members = append(members, Member{
			Name: strings.TrimRight(strings.TrimSpace(string(hdr.Name[:])), "/"),
			Data: data[bodyStart:bodyEnd],
		})

		off = bodyEnd
		if size%2 == 1 {
			off++ // skip the pad byte
		}
	}

	return members, nil
}

// Find returns the named member, if present.
func Find(members []Member, name string) (Member, bool) {
	for _, m := range members {
		if m.Name == name {
			return m, true
		}
	}
	return Member{}, false
}
