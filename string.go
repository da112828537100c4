package pe

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// StringTable is a COFF string table kept exactly as stored, including the
// leading 4 byte length. Offsets into it therefore count from the start of
// the length field.
type StringTable []byte

func readStringTable(r *reader) (StringTable, error) {
	// an image with symbols but no string table at all is tolerated
	if r.remaining() == 0 {
		return nil, nil
	}
	start := r.off
	l, err := r.uint32()
	if err != nil {
		return nil, errors.WithMessage(err, "fail to read string table length")
	}
	// string table length includes itself
	if l < 4 {
		l = 4
	}
	if err := r.seek(start); err != nil {
		return nil, err
	}
	buf, err := r.bytes(int(l))
	if err != nil {
		return nil, errors.WithMessage(err, "fail to read string table")
	}
	return buf, nil
}

// Len is the declared total length, the 4 length bytes included.
func (st StringTable) Len() uint32 {
	if len(st) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(st)
}

// String extracts string from COFF string table st at offset start.
func (st StringTable) String(start uint32) (string, error) {
	// start includes 4 bytes of string table length
	if start < 4 {
		return "", errors.Wrapf(ErrInvalidFormat, "offset %d is before the start of string table", start)
	}
	if int(start) > len(st) {
		return "", errors.Wrapf(ErrTruncatedData, "offset %d is beyond the end of string table", start)
	}
	return cString(st[start:]), nil
}

// Strings scans the NUL terminated strings that follow the length field and
// returns them keyed by their byte offset.
func (st StringTable) Strings() map[uint32]string {
	end := int(st.Len())
	if end > len(st) {
		end = len(st)
	}
	m := make(map[uint32]string)
	for off := 4; off < end; {
		s := cString(st[off:end])
		m[uint32(off)] = s
		off += len(s) + 1
	}
	return m
}
