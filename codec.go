package pe

import (
	"bytes"
	"encoding/binary"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

var strucOptions = &struc.Options{Order: binary.LittleEndian}

// reader is a byte cursor over an in-memory buffer. Every record decode is
// bounds checked up front so a short buffer never yields a half filled value.
type reader struct {
	buf []byte
	off int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) seek(off int) error {
	if off < 0 || off > len(r.buf) {
		return errors.Wrapf(ErrTruncatedData, "seek to %#x outside buffer of %#x bytes", off, len(r.buf))
	}
	r.off = off
	return nil
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) need(n int) error {
	if n < 0 || r.remaining() < n {
		return errors.Wrapf(ErrTruncatedData, "need %d bytes at %#x, have %d", n, r.off, r.remaining())
	}
	return nil
}

// unpack decodes one fixed-layout record into v.
func (r *reader) unpack(v interface{}) error {
	size, err := struc.Sizeof(v)
	if err != nil {
		return errors.WithMessage(err, "failure to size record")
	}
	if err := r.need(size); err != nil {
		return err
	}
	if err := struc.UnpackWithOptions(bytes.NewReader(r.buf[r.off:r.off+size]), v, strucOptions); err != nil {
		return errors.Wrap(ErrTruncatedData, err.Error())
	}
	r.off += size
	return nil
}

// bytes returns a copy of the next n bytes.
func (r *reader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, r.buf[r.off:])
	r.off += n
	return b, nil
}

func (r *reader) uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

// cString reads a NUL terminated string and consumes the terminator.
func (r *reader) cString() (string, error) {
	i := bytes.IndexByte(r.buf[r.off:], 0)
	if i < 0 {
		return "", errors.Wrapf(ErrTruncatedData, "unterminated string at %#x", r.off)
	}
	s := string(r.buf[r.off : r.off+i])
	r.off += i + 1
	return s, nil
}

// writer writes records into a buffer whose size is fixed up front. Writes
// may land in any order.
type writer struct {
	buf []byte
	off int
}

func newWriter(buf []byte) *writer {
	return &writer{buf: buf}
}

func (w *writer) seek(off int) error {
	if off < 0 || off > len(w.buf) {
		return errors.Wrapf(ErrTruncatedData, "seek to %#x outside buffer of %#x bytes", off, len(w.buf))
	}
	w.off = off
	return nil
}

func (w *writer) write(p []byte) error {
	if len(w.buf)-w.off < len(p) {
		return errors.Wrapf(ErrTruncatedData, "write of %d bytes at %#x exceeds buffer of %#x bytes", len(p), w.off, len(w.buf))
	}
	w.off += copy(w.buf[w.off:], p)
	return nil
}

// pack encodes one fixed-layout record at the cursor.
func (w *writer) pack(v interface{}) error {
	var b bytes.Buffer
	if err := struc.PackWithOptions(&b, v, strucOptions); err != nil {
		return errors.WithMessage(err, "failure to pack record")
	}
	return w.write(b.Bytes())
}

func (w *writer) uint16(v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return w.write(b[:])
}

func (w *writer) uint32(v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return w.write(b[:])
}

// cString converts ASCII byte sequence b to string.
// It stops once it finds 0 or reaches end of b.
func cString(b []byte) string {
	i := bytes.IndexByte(b, 0)
	if i == -1 {
		i = len(b)
	}
	return string(b[:i])
}
