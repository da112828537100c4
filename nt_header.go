package pe

import (
	"github.com/pkg/errors"
)

type NtHeader struct {
	Signature      uint32
	FileHeader     FileHeader
	OptionalHeader any // of type *OptionalHeader32 or *OptionalHeader64
}

type FileHeader struct {
	Machine              uint16 `struc:"uint16,little"`
	NumberOfSections     uint16 `struc:"uint16,little"`
	TimeDateStamp        uint32 `struc:"uint32,little"`
	PointerToSymbolTable uint32 `struc:"uint32,little"`
	NumberOfSymbols      uint32 `struc:"uint32,little"`
	SizeOfOptionalHeader uint16 `struc:"uint16,little"`
	Characteristics      uint16 `struc:"uint16,little"`
}

type DataDirectory struct {
	VirtualAddress uint32 `struc:"uint32,little"`
	Size           uint32 `struc:"uint32,little"`
}

// OptionalHeader32 is the PE32 optional header up to, but not including,
// the data directory table.
type OptionalHeader32 struct {
	Magic                       uint16 `struc:"uint16,little"`
	MajorLinkerVersion          uint8  `struc:"uint8"`
	MinorLinkerVersion          uint8  `struc:"uint8"`
	SizeOfCode                  uint32 `struc:"uint32,little"`
	SizeOfInitializedData       uint32 `struc:"uint32,little"`
	SizeOfUninitializedData     uint32 `struc:"uint32,little"`
	AddressOfEntryPoint         uint32 `struc:"uint32,little"`
	BaseOfCode                  uint32 `struc:"uint32,little"`
	BaseOfData                  uint32 `struc:"uint32,little"`
	ImageBase                   uint32 `struc:"uint32,little"`
	SectionAlignment            uint32 `struc:"uint32,little"`
	FileAlignment               uint32 `struc:"uint32,little"`
	MajorOperatingSystemVersion uint16 `struc:"uint16,little"`
	MinorOperatingSystemVersion uint16 `struc:"uint16,little"`
	MajorImageVersion           uint16 `struc:"uint16,little"`
	MinorImageVersion           uint16 `struc:"uint16,little"`
	MajorSubsystemVersion       uint16 `struc:"uint16,little"`
	MinorSubsystemVersion       uint16 `struc:"uint16,little"`
	Win32VersionValue           uint32 `struc:"uint32,little"`
	SizeOfImage                 uint32 `struc:"uint32,little"`
	SizeOfHeaders               uint32 `struc:"uint32,little"`
	CheckSum                    uint32 `struc:"uint32,little"`
	Subsystem                   uint16 `struc:"uint16,little"`
	DllCharacteristics          uint16 `struc:"uint16,little"`
	SizeOfStackReserve          uint32 `struc:"uint32,little"`
	SizeOfStackCommit           uint32 `struc:"uint32,little"`
	SizeOfHeapReserve           uint32 `struc:"uint32,little"`
	SizeOfHeapCommit            uint32 `struc:"uint32,little"`
	LoaderFlags                 uint32 `struc:"uint32,little"`
	NumberOfRvaAndSizes         uint32 `struc:"uint32,little"`
}

// OptionalHeader64 is the PE32+ optional header up to, but not including,
// the data directory table. PE32+ has no BaseOfData.
type OptionalHeader64 struct {
	Magic                       uint16 `struc:"uint16,little"`
	MajorLinkerVersion          uint8  `struc:"uint8"`
	MinorLinkerVersion          uint8  `struc:"uint8"`
	SizeOfCode                  uint32 `struc:"uint32,little"`
	SizeOfInitializedData       uint32 `struc:"uint32,little"`
	SizeOfUninitializedData     uint32 `struc:"uint32,little"`
	AddressOfEntryPoint         uint32 `struc:"uint32,little"`
	BaseOfCode                  uint32 `struc:"uint32,little"`
	ImageBase                   uint64 `struc:"uint64,little"`
	SectionAlignment            uint32 `struc:"uint32,little"`
	FileAlignment               uint32 `struc:"uint32,little"`
	MajorOperatingSystemVersion uint16 `struc:"uint16,little"`
	MinorOperatingSystemVersion uint16 `struc:"uint16,little"`
	MajorImageVersion           uint16 `struc:"uint16,little"`
	MinorImageVersion           uint16 `struc:"uint16,little"`
	MajorSubsystemVersion       uint16 `struc:"uint16,little"`
	MinorSubsystemVersion       uint16 `struc:"uint16,little"`
	Win32VersionValue           uint32 `struc:"uint32,little"`
	SizeOfImage                 uint32 `struc:"uint32,little"`
	SizeOfHeaders               uint32 `struc:"uint32,little"`
	CheckSum                    uint32 `struc:"uint32,little"`
	Subsystem                   uint16 `struc:"uint16,little"`
	DllCharacteristics          uint16 `struc:"uint16,little"`
	SizeOfStackReserve          uint64 `struc:"uint64,little"`
	SizeOfStackCommit           uint64 `struc:"uint64,little"`
	SizeOfHeapReserve           uint64 `struc:"uint64,little"`
	SizeOfHeapCommit            uint64 `struc:"uint64,little"`
	LoaderFlags                 uint32 `struc:"uint32,little"`
	NumberOfRvaAndSizes         uint32 `struc:"uint32,little"`
}

func (f *File) readNTHeader(r *reader) (err error) {
	if err := r.seek(int(f.DOSHeader.AddressOfNewEXEHeader)); err != nil {
		return err
	}

	sig, err := r.bytes(SignatureSize)
	if err != nil {
		return errors.WithMessage(err, "failure to read PE signature")
	}
	if string(sig) != "PE\x00\x00" {
		return errors.Wrapf(ErrInvalidSignature, "magic %q not found", sig)
	}
	f.Signature = ImageNTHeaderSignature

	if err := r.unpack(&f.FileHeader); err != nil {
		return errors.WithMessage(err, "failure to read file header")
	}

	f.OptionalHeader, err = readOptionalHeader(r)
	if err != nil {
		return err
	}

	return f.readDataDirectories(r)
}

func readOptionalHeader(r *reader) (any, error) {
	start := r.off
	magic, err := r.uint16()
	if err != nil {
		return nil, errors.WithMessage(err, "failure to read optional header magic")
	}
	if err := r.seek(start); err != nil {
		return nil, err
	}

	switch magic {
	case OptionalHeaderMagicPE32:
		var oh32 OptionalHeader32
		if err := r.unpack(&oh32); err != nil {
			return nil, errors.WithMessage(err, "failure to read PE32 optional header")
		}
		if oh32.ImageBase%0x10000 != 0 {
			return nil, errors.Wrap(ErrInvalidFormat, "corrupt PE file. Image base not aligned to 64 K")
		}
		return &oh32, nil
	case OptionalHeaderMagicPE32Plus:
		var oh64 OptionalHeader64
		if err := r.unpack(&oh64); err != nil {
			return nil, errors.WithMessage(err, "failure to read PE32+ optional header")
		}
		if oh64.ImageBase%0x10000 != 0 {
			return nil, errors.Wrap(ErrInvalidFormat, "corrupt PE file. Image base not aligned to 64 K")
		}
		return &oh64, nil
	case OptionalHeaderMagicROM:
		return nil, errors.Wrap(ErrUnsupportedFormat, "ROM optional header")
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "optional header has unexpected Magic of 0x%x", magic)
	}
}

// readDataDirectories always decodes the full 16 slot table, whatever
// NumberOfRvaAndSizes claims.
func (f *File) readDataDirectories(r *reader) error {
	for i := range f.DataDirectories {
		if err := r.unpack(&f.DataDirectories[i]); err != nil {
			return errors.WithMessagef(err, "failure to read data directory %d", i)
		}
	}
	return nil
}

// optionalFields is a variant independent view of the optional header
// fields the layout engine reads and patches.
type optionalFields struct {
	size                  int
	fileAlignment         uint32
	sectionAlignment      uint32
	sizeOfHeaders         *uint32
	sizeOfImage           *uint32
	sizeOfInitializedData *uint32
	numberOfRvaAndSizes   *uint32
	baseOfCode            *uint32
	baseOfData            *uint32 // nil for PE32+
}

func checkMagic(magic, want uint16) error {
	switch {
	case magic == want:
		return nil
	case magic == OptionalHeaderMagicROM:
		return errors.Wrap(ErrUnsupportedFormat, "ROM optional header")
	default:
		return errors.Wrapf(ErrAmbiguousOptionalHeader, "optional header magic 0x%x", magic)
	}
}

func (f *File) optionalFields() (*optionalFields, error) {
	switch oh := f.OptionalHeader.(type) {
	case *OptionalHeader32:
		if err := checkMagic(oh.Magic, OptionalHeaderMagicPE32); err != nil {
			return nil, err
		}
		return &optionalFields{
			size:                  OptionalHeader32Size,
			fileAlignment:         oh.FileAlignment,
			sectionAlignment:      oh.SectionAlignment,
			sizeOfHeaders:         &oh.SizeOfHeaders,
			sizeOfImage:           &oh.SizeOfImage,
			sizeOfInitializedData: &oh.SizeOfInitializedData,
			numberOfRvaAndSizes:   &oh.NumberOfRvaAndSizes,
			baseOfCode:            &oh.BaseOfCode,
			baseOfData:            &oh.BaseOfData,
		}, nil
	case *OptionalHeader64:
		if err := checkMagic(oh.Magic, OptionalHeaderMagicPE32Plus); err != nil {
			return nil, err
		}
		return &optionalFields{
			size:                  OptionalHeader64Size,
			fileAlignment:         oh.FileAlignment,
			sectionAlignment:      oh.SectionAlignment,
			sizeOfHeaders:         &oh.SizeOfHeaders,
			sizeOfImage:           &oh.SizeOfImage,
			sizeOfInitializedData: &oh.SizeOfInitializedData,
			numberOfRvaAndSizes:   &oh.NumberOfRvaAndSizes,
			baseOfCode:            &oh.BaseOfCode,
		}, nil
	default:
		return nil, errors.Wrap(ErrAmbiguousOptionalHeader, "no optional header")
	}
}

// Is64 reports whether the image carries a PE32+ optional header.
func (f *File) Is64() bool {
	_, ok := f.OptionalHeader.(*OptionalHeader64)
	return ok
}

func (f *File) FileAlignment() (uint32, error) {
	of, err := f.optionalFields()
	if err != nil {
		return 0, err
	}
	return of.fileAlignment, nil
}

func (f *File) SectionAlignment() (uint32, error) {
	of, err := f.optionalFields()
	if err != nil {
		return 0, err
	}
	return of.sectionAlignment, nil
}

func (f *File) EntryPoint() uint32 {
	switch oh := f.OptionalHeader.(type) {
	case *OptionalHeader32:
		return oh.AddressOfEntryPoint
	case *OptionalHeader64:
		return oh.AddressOfEntryPoint
	}
	return 0
}

func (f *File) ImageBase() uint64 {
	switch oh := f.OptionalHeader.(type) {
	case *OptionalHeader32:
		return uint64(oh.ImageBase)
	case *OptionalHeader64:
		return oh.ImageBase
	}
	return 0
}
