package pe

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// headersEnd is the offset just past the section table.
func (f *File) headersEnd(optionalSize int) uint32 {
	return f.DOSHeader.AddressOfNewEXEHeader + SignatureSize + FileHeaderSize +
		uint32(optionalSize) + dataDirectoriesTotalSize + SectionHeaderSize*uint32(len(f.Sections))
}

// fileSize is the end of the furthest region the headers point at.
func (f *File) fileSize(optionalSize int) uint32 {
	size := f.headersEnd(optionalSize)
	for _, s := range f.Sections {
		if s.ContributesToFileSize() {
			size = Max(size, s.PointerToRawData+s.SizeOfRawData)
		}
		if len(s.Relocations) > 0 {
			size = Max(size, s.PointerToRelocations+RelocationSize*uint32(len(s.Relocations)))
		}
	}
	if f.hasSymbolTable() {
		size = Max(size, f.FileHeader.PointerToSymbolTable+
			COFFSymbolSize*uint32(f.Symbols.Len())+uint32(len(f.StringTable)))
	}
	return size
}

func (f *File) hasSymbolTable() bool {
	return f.Symbols.Len() > 0 && f.FileHeader.PointerToSymbolTable != 0
}

// Bytes serializes the image as currently laid out. Call UpdateLayout first
// after changing sections; Bytes never moves anything.
func (f *File) Bytes() ([]byte, error) {
	if f.DOSHeader.AddressOfNewEXEHeader != uint32(DOSHeaderSize+len(f.DOSStub)) {
		return nil, errors.Wrapf(ErrInvalidFormat, "e_lfanew %#x does not follow a %d byte DOS stub",
			f.DOSHeader.AddressOfNewEXEHeader, len(f.DOSStub))
	}

	var optionalSize int
	switch f.OptionalHeader.(type) {
	case *OptionalHeader32:
		optionalSize = OptionalHeader32Size
	case *OptionalHeader64:
		optionalSize = OptionalHeader64Size
	default:
		return nil, errors.Wrap(ErrAmbiguousOptionalHeader, "no optional header")
	}
	f.syncSectionCount()

	headersEnd := f.headersEnd(optionalSize)
	buf := make([]byte, f.fileSize(optionalSize))
	w := newWriter(buf)

	if err := w.pack(&f.DOSHeader); err != nil {
		return nil, errors.WithMessage(err, "fail to write DOS header")
	}
	if err := w.write(f.DOSStub); err != nil {
		return nil, errors.WithMessage(err, "fail to write DOS stub")
	}
	if err := w.write([]byte("PE\x00\x00")); err != nil {
		return nil, err
	}
	if err := w.pack(&f.FileHeader); err != nil {
		return nil, errors.WithMessage(err, "fail to write file header")
	}
	if err := w.pack(f.OptionalHeader); err != nil {
		return nil, errors.WithMessage(err, "fail to write optional header")
	}
	for i := range f.DataDirectories {
		if err := w.pack(&f.DataDirectories[i]); err != nil {
			return nil, errors.WithMessagef(err, "fail to write data directory %d", i)
		}
	}
	for _, s := range f.Sections {
		if err := w.pack(&s.SectionHeader); err != nil {
			return nil, errors.WithMessagef(err, "fail to write %q section header", s.NameString())
		}
	}

	for _, s := range f.Sections {
		if !s.ContributesToFileSize() || s.SizeOfRawData == 0 {
			continue
		}
		if s.PointerToRawData < headersEnd {
			return nil, errors.Wrapf(ErrInvalidFormat, "section %q data at %#x overlaps the headers",
				s.NameString(), s.PointerToRawData)
		}
		data := s.Data
		if uint32(len(data)) > s.SizeOfRawData {
			data = data[:s.SizeOfRawData]
		}
		// the buffer is zeroed, so a short payload is already padded
		if err := w.seek(int(s.PointerToRawData)); err != nil {
			return nil, err
		}
		if err := w.write(data); err != nil {
			return nil, errors.WithMessagef(err, "fail to write %q section data", s.NameString())
		}
	}

	for _, s := range f.Sections {
		if len(s.Relocations) == 0 {
			continue
		}
		if err := w.seek(int(s.PointerToRelocations)); err != nil {
			return nil, err
		}
		for i := range s.Relocations {
			if err := w.pack(&s.Relocations[i]); err != nil {
				return nil, errors.WithMessagef(err, "fail to write %q section relocations", s.NameString())
			}
		}
	}

	if f.hasSymbolTable() {
		if err := w.seek(int(f.FileHeader.PointerToSymbolTable)); err != nil {
			return nil, err
		}
		for _, sym := range f.Symbols.Symbols {
			if err := w.pack(&sym.Record); err != nil {
				return nil, errors.WithMessagef(err, "fail to write symbol %d", sym.Index)
			}
		}
		if err := w.write(f.StringTable); err != nil {
			return nil, errors.WithMessage(err, "fail to write string table")
		}
	}
	return buf, nil
}

// WriteTo writes the serialized image to w.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	b, err := f.Bytes()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// WriteFile serializes the image to the named file.
func (f *File) WriteFile(name string) error {
	b, err := f.Bytes()
	if err != nil {
		return err
	}
	return os.WriteFile(name, b, 0o644)
}
