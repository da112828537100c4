package pe

import (
	"github.com/pkg/errors"
)

type DOSHeader struct {
	Magic                    uint16     `struc:"uint16,little"`
	BytesOnLastPageOfFile    uint16     `struc:"uint16,little"`
	PagesInFile              uint16     `struc:"uint16,little"`
	Relocations              uint16     `struc:"uint16,little"`
	SizeOfHeader             uint16     `struc:"uint16,little"`
	MinExtraParagraphsNeeded uint16     `struc:"uint16,little"`
	MaxExtraParagraphsNeeded uint16     `struc:"uint16,little"`
	InitialSS                uint16     `struc:"uint16,little"`
	InitialSP                uint16     `struc:"uint16,little"`
	Checksum                 uint16     `struc:"uint16,little"`
	InitialIP                uint16     `struc:"uint16,little"`
	InitialCS                uint16     `struc:"uint16,little"`
	AddressOfRelocationTable uint16     `struc:"uint16,little"`
	OverlayNumber            uint16     `struc:"uint16,little"`
	ReservedWords1           [4]uint16  `struc:"[4]uint16,little"`
	OEMIdentifier            uint16     `struc:"uint16,little"`
	OEMInformation           uint16     `struc:"uint16,little"`
	ReservedWords2           [10]uint16 `struc:"[10]uint16,little"`
	AddressOfNewEXEHeader    uint32     `struc:"uint32,little"`
}

func (f *File) readDOSHeader(r *reader) error {
	if err := r.unpack(&f.DOSHeader); err != nil {
		return errors.WithMessage(err, "failure to read DOS header")
	}

	if f.DOSHeader.Magic != ImageDOSSignature && f.DOSHeader.Magic != ImageDOSZMSignature {
		return errors.Wrapf(ErrInvalidFormat, "invalid DOS magic %#x", f.DOSHeader.Magic)
	}

	stubSize := int64(f.DOSHeader.AddressOfNewEXEHeader) - DOSHeaderSize
	if stubSize < 0 {
		return errors.Wrapf(ErrInvalidFormat, "invalid e_lfanew value %#x. Probably not a PE file",
			f.DOSHeader.AddressOfNewEXEHeader)
	}

	stub, err := r.bytes(int(stubSize))
	if err != nil {
		return errors.WithMessage(err, "failure to read DOS stub")
	}
	f.DOSStub = stub
	return nil
}

// headerBytes returns the DOS header followed by the stub, which is the
// region the Rich header lives in.
func (f *File) headerBytes() ([]byte, error) {
	buf := make([]byte, DOSHeaderSize+len(f.DOSStub))
	w := newWriter(buf)
	if err := w.pack(&f.DOSHeader); err != nil {
		return nil, err
	}
	if err := w.write(f.DOSStub); err != nil {
		return nil, err
	}
	return buf, nil
}
