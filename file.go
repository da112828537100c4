package pe

import (
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// File is a parsed or freshly constructed PE image. Sections own their
// payloads, so a File never aliases the buffer it was parsed from.
type File struct {
	DOSHeader
	DOSStub []byte
	NtHeader
	DataDirectories [NumberOfDataDirectories]DataDirectory
	Sections        []*Section

	// Symbols and StringTable are only present when the file header
	// declares a symbol table.
	Symbols     *SymbolTable
	StringTable StringTable

	logger hclog.Logger
}

type options struct {
	logger hclog.Logger
}

// Option configures parsing and construction.
type Option func(*options)

// WithLogger sets the logger used by the parser and the layout engine.
func WithLogger(logger hclog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{logger: hclog.NewNullLogger()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Parse decodes a linked image from data. On failure no partial File is
// returned.
func Parse(data []byte, opts ...Option) (*File, error) {
	o := newOptions(opts)
	file := &File{logger: o.logger}
	r := newReader(data)

	if err := file.readDOSHeader(r); err != nil {
		return nil, err
	}

	if err := file.readNTHeader(r); err != nil {
		return nil, err
	}

	sections, err := readSections(r, int(file.FileHeader.NumberOfSections), false)
	if err != nil {
		return nil, err
	}
	file.Sections = sections

	file.Symbols, file.StringTable, err = readCOFFSymbols(r, &file.FileHeader)
	if err != nil {
		return nil, err
	}

	file.logger.Debug("parsed image", "size", len(data), "sections", len(file.Sections),
		"pe32+", file.Is64(), "symbols", file.Symbols.Len())
	return file, nil
}

// NewFile maps the file at path read-only and parses it. The mapping is
// released before NewFile returns.
func NewFile(filename string, opts ...Option) (*File, error) {
	var file *File
	err := withMappedFile(filename, func(data []byte) (err error) {
		file, err = Parse(data, opts...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

func withMappedFile(filename string, fn func([]byte) error) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return err
	}
	// zero length files cannot be mapped
	if stat.Size() == 0 {
		return fn(nil)
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return errors.WithMessagef(err, "fail to map %s", filename)
	}
	defer m.Unmap()
	return fn(m)
}

// New returns an empty image for magic and machine with the usual linker
// defaults. Only PE32 and PE32+ can be constructed.
func New(magic, machine uint16, opts ...Option) (*File, error) {
	o := newOptions(opts)
	file := &File{
		DOSHeader: DOSHeader{
			Magic:                    ImageDOSSignature,
			BytesOnLastPageOfFile:    0x90,
			PagesInFile:              3,
			SizeOfHeader:             4,
			MaxExtraParagraphsNeeded: 0xffff,
			InitialSP:                0xb8,
			AddressOfRelocationTable: 0x40,
			AddressOfNewEXEHeader:    DOSHeaderSize + DOSHeaderSize,
		},
		DOSStub: make([]byte, DOSHeaderSize),
		NtHeader: NtHeader{
			Signature: ImageNTHeaderSignature,
			FileHeader: FileHeader{
				Machine:         machine,
				Characteristics: ImageFileExecutableImage,
			},
		},
		logger: o.logger,
	}

	headerEnd := uint32(file.DOSHeader.AddressOfNewEXEHeader) + SignatureSize + FileHeaderSize + dataDirectoriesTotalSize
	switch magic {
	case OptionalHeaderMagicPE32:
		file.FileHeader.Characteristics |= ImageFile32BitMachine
		file.FileHeader.SizeOfOptionalHeader = OptionalHeader32Size + dataDirectoriesTotalSize
		file.OptionalHeader = &OptionalHeader32{
			Magic:                       magic,
			ImageBase:                   0x400000,
			SectionAlignment:            StartingVirtualAddress,
			FileAlignment:               FileAlignmentHardcodedValue,
			MajorOperatingSystemVersion: 6,
			MajorSubsystemVersion:       6,
			SizeOfHeaders:               roundUp(headerEnd+OptionalHeader32Size, FileAlignmentHardcodedValue),
			SizeOfImage:                 StartingVirtualAddress,
			Subsystem:                   3,
			SizeOfStackReserve:          0x100000,
			SizeOfStackCommit:           0x1000,
			SizeOfHeapReserve:           0x100000,
			SizeOfHeapCommit:            0x1000,
			NumberOfRvaAndSizes:         NumberOfDataDirectories,
		}
	case OptionalHeaderMagicPE32Plus:
		file.FileHeader.Characteristics |= ImageFileLargeAddressAware
		file.FileHeader.SizeOfOptionalHeader = OptionalHeader64Size + dataDirectoriesTotalSize
		file.OptionalHeader = &OptionalHeader64{
			Magic:                       magic,
			ImageBase:                   0x140000000,
			SectionAlignment:            StartingVirtualAddress,
			FileAlignment:               FileAlignmentHardcodedValue,
			MajorOperatingSystemVersion: 6,
			MajorSubsystemVersion:       6,
			SizeOfHeaders:               roundUp(headerEnd+OptionalHeader64Size, FileAlignmentHardcodedValue),
			SizeOfImage:                 StartingVirtualAddress,
			Subsystem:                   3,
			SizeOfStackReserve:          0x100000,
			SizeOfStackCommit:           0x1000,
			SizeOfHeapReserve:           0x100000,
			SizeOfHeapCommit:            0x1000,
			NumberOfRvaAndSizes:         NumberOfDataDirectories,
		}
	case OptionalHeaderMagicROM:
		return nil, errors.Wrap(ErrUnsupportedFormat, "ROM optional header")
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "optional header magic 0x%x", magic)
	}
	return file, nil
}

// SetLogger replaces the logger used by later layout runs.
func (f *File) SetLogger(logger hclog.Logger) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	f.logger = logger
}

func (f *File) log() hclog.Logger {
	if f.logger == nil {
		f.logger = hclog.NewNullLogger()
	}
	return f.logger
}

func (f *File) syncSectionCount() {
	f.FileHeader.NumberOfSections = uint16(len(f.Sections))
}

// AddSection appends s to the section list.
func (f *File) AddSection(s *Section) {
	f.Sections = append(f.Sections, s)
	f.syncSectionCount()
}

// InsertSection places s at index i, shifting later sections down.
func (f *File) InsertSection(i int, s *Section) error {
	if i < 0 || i > len(f.Sections) {
		return errors.Errorf("section index %d out of range [0, %d]", i, len(f.Sections))
	}
	f.Sections = append(f.Sections, nil)
	copy(f.Sections[i+1:], f.Sections[i:])
	f.Sections[i] = s
	f.syncSectionCount()
	return nil
}

// RemoveSection drops the first section called name.
func (f *File) RemoveSection(name string) error {
	for i, s := range f.Sections {
		if s.NameString() == name {
			f.Sections = append(f.Sections[:i], f.Sections[i+1:]...)
			f.syncSectionCount()
			return nil
		}
	}
	return errors.Wrapf(ErrSectionNotFound, "section %q", name)
}

// Section returns the first section called name, or nil.
func (f *File) Section(name string) *Section {
	for _, s := range f.Sections {
		if s.NameString() == name {
			return s
		}
	}
	return nil
}

func (f *File) GetSection(name string) (*Section, error) {
	if s := f.Section(name); s != nil {
		return s, nil
	}
	return nil, errors.Wrapf(ErrSectionNotFound, "section %q", name)
}

func (f *File) HasSection(name string) bool {
	return f.Section(name) != nil
}

func (f *File) SectionData(name string) ([]byte, error) {
	s, err := f.GetSection(name)
	if err != nil {
		return nil, err
	}
	return s.Data, nil
}

// WriteSectionData replaces the payload of section name. Both sizes follow
// the new length until the next layout run reconciles them.
func (f *File) WriteSectionData(name string, data []byte) error {
	s, err := f.GetSection(name)
	if err != nil {
		return err
	}
	s.Data = data
	s.SizeOfRawData = uint32(len(data))
	s.VirtualSize = uint32(len(data))
	return nil
}

// ResourceTree decodes the .rsrc section payload.
func (f *File) ResourceTree() (*ResourceTree, error) {
	s, err := f.GetSection(SectionRsrc)
	if err != nil {
		return nil, err
	}
	return DecodeResourceTree(s.Data, s.VirtualAddress, 0)
}

// SetResourceTree encodes t into the .rsrc section payload.
func (f *File) SetResourceTree(t *ResourceTree) error {
	s, err := f.GetSection(SectionRsrc)
	if err != nil {
		return err
	}
	data, err := t.Encode()
	if err != nil {
		return err
	}
	s.Data = data
	return nil
}
