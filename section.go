package pe

import (
	"crypto/md5"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// SectionHeader is the on-disk IMAGE_SECTION_HEADER record.
type SectionHeader struct {
	Name                 [8]uint8 `struc:"[8]uint8"`
	VirtualSize          uint32   `struc:"uint32,little"`
	VirtualAddress       uint32   `struc:"uint32,little"`
	SizeOfRawData        uint32   `struc:"uint32,little"`
	PointerToRawData     uint32   `struc:"uint32,little"`
	PointerToRelocations uint32   `struc:"uint32,little"`
	PointerToLineNumbers uint32   `struc:"uint32,little"`
	NumberOfRelocations  uint16   `struc:"uint16,little"`
	NumberOfLineNumbers  uint16   `struc:"uint16,little"`
	Characteristics      uint32   `struc:"uint32,little"`
}

// NameString returns the section name with the NUL padding removed.
func (sh *SectionHeader) NameString() string {
	return cString(sh.Name[:])
}

// SetName stores name in the 8 byte name field, truncating longer names.
func (sh *SectionHeader) SetName(name string) {
	sh.Name = [8]uint8{}
	copy(sh.Name[:], name)
}

// FullName resolves "/<offset>" long names through the COFF string table.
func (sh *SectionHeader) FullName(st StringTable) (string, error) {
	if sh.Name[0] != '/' {
		return cString(sh.Name[:]), nil
	}
	i, err := strconv.Atoi(cString(sh.Name[1:]))
	if err != nil {
		return "", errors.Wrapf(ErrInvalidFormat, "long section name %q", cString(sh.Name[:]))
	}
	return st.String(uint32(i))
}

func (sh *SectionHeader) HasCode() bool {
	return sh.Characteristics&ImageScnCntCode != 0
}

func (sh *SectionHeader) HasInitializedData() bool {
	return sh.Characteristics&ImageScnCntInitializedData != 0
}

func (sh *SectionHeader) HasUninitializedData() bool {
	return sh.Characteristics&ImageScnCntUninitializedData != 0
}

// ContributesToFileSize reports whether the section occupies file space:
// initialized data, or code that is not also uninitialized data.
func (sh *SectionHeader) ContributesToFileSize() bool {
	return sh.HasInitializedData() || (sh.HasCode() && !sh.HasUninitializedData())
}

// Section is a section header plus the payload and relocations it owns.
type Section struct {
	SectionHeader
	Data        []byte
	Relocations []Relocation

	// Ordinal is the index of the object file the section came from. It is
	// only meaningful for merge ordering.
	Ordinal int

	// LongName is the string table name of an object section whose header
	// holds a "/<offset>" reference.
	LongName string
}

// ResolvedName is LongName when set, else the header name.
func (s *Section) ResolvedName() string {
	if s.LongName != "" {
		return s.LongName
	}
	return s.NameString()
}

// NewSection builds a section whose sizes match data. Addresses are left
// for the layout engine.
func NewSection(name string, characteristics uint32, data []byte) *Section {
	s := &Section{Data: data}
	s.SetName(name)
	s.Characteristics = characteristics
	s.VirtualSize = uint32(len(data))
	s.SizeOfRawData = uint32(len(data))
	return s
}

// Clone returns a deep copy, so the result owns its payload and relocations.
func (s *Section) Clone() *Section {
	c := *s
	c.Data = append([]byte(nil), s.Data...)
	c.Relocations = append([]Relocation(nil), s.Relocations...)
	return &c
}

func (s *Section) MD5() string {
	return fmt.Sprintf("%x", md5.Sum(s.Data))
}

func (s *Section) Entropy() float64 {
	var e EntropyCalculator
	_, _ = e.Write(s.Data)
	return e.Sum()
}

func (s *Section) Flags() (flags string) {
	if (ImageScnMemRead & s.Characteristics) == ImageScnMemRead {
		flags += "r"
	}
	if (ImageScnMemExecute & s.Characteristics) == ImageScnMemExecute {
		flags += "x"
	}
	if (ImageScnMemWrite & s.Characteristics) == ImageScnMemWrite {
		flags += "w"
	}
	return flags
}

// readSections decodes count section headers at the cursor and resolves
// their payloads. In an object file every payload lives in the file; in a
// linked image sections that do not contribute to file size get zeros.
func readSections(r *reader, count int, object bool) ([]*Section, error) {
	sections := make([]*Section, count)
	for i := range sections {
		s := new(Section)
		if err := r.unpack(&s.SectionHeader); err != nil {
			return nil, errors.WithMessagef(err, "failure to read section header %d", i)
		}
		sections[i] = s
	}

	for _, s := range sections {
		if object || s.ContributesToFileSize() {
			if err := r.seek(int(s.PointerToRawData)); err != nil {
				return nil, errors.WithMessagef(err, "fail to seek to %q section data", s.NameString())
			}
			data, err := r.bytes(int(s.SizeOfRawData))
			if err != nil {
				return nil, errors.WithMessagef(err, "fail to read %q section data", s.NameString())
			}
			s.Data = data
		} else {
			s.Data = make([]byte, s.SizeOfRawData)
		}

		relocs, err := readReLocs(&s.SectionHeader, r)
		if err != nil {
			return nil, err
		}
		s.Relocations = relocs
	}
	return sections, nil
}
