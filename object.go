package pe

import (
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// Object is a relocatable COFF object file. Its sections are tagged with
// Ordinal so merged output can fall back to input order.
type Object struct {
	FileHeader  FileHeader
	Sections    []*Section
	Symbols     *SymbolTable
	StringTable StringTable
	Ordinal     int

	logger hclog.Logger
}

// ParseObject decodes a COFF object file. The file header sits at offset 0
// and any optional header is skipped by its declared size.
func ParseObject(data []byte, ordinal int, opts ...Option) (*Object, error) {
	o := newOptions(opts)
	obj := &Object{Ordinal: ordinal, logger: o.logger}
	r := newReader(data)

	if err := r.unpack(&obj.FileHeader); err != nil {
		return nil, errors.WithMessage(err, "failure to read file header")
	}
	if err := r.seek(r.off + int(obj.FileHeader.SizeOfOptionalHeader)); err != nil {
		return nil, errors.WithMessage(err, "failure to skip optional header")
	}

	sections, err := readSections(r, int(obj.FileHeader.NumberOfSections), true)
	if err != nil {
		return nil, err
	}
	for _, s := range sections {
		s.Ordinal = ordinal
	}
	obj.Sections = sections

	obj.Symbols, obj.StringTable, err = readCOFFSymbols(r, &obj.FileHeader)
	if err != nil {
		return nil, err
	}
	for _, s := range sections {
		if s.Name[0] != '/' {
			continue
		}
		if name, err := s.FullName(obj.StringTable); err == nil {
			s.LongName = name
		} else {
			obj.logger.Debug("unresolved long section name", "name", s.NameString(), "error", err)
		}
	}

	obj.logger.Debug("parsed object", "ordinal", ordinal, "sections", len(obj.Sections),
		"symbols", obj.Symbols.Len())
	return obj, nil
}

// NewObjectFile maps the object file at path read-only and parses it.
func NewObjectFile(filename string, ordinal int, opts ...Option) (*Object, error) {
	var obj *Object
	err := withMappedFile(filename, func(data []byte) (err error) {
		obj, err = ParseObject(data, ordinal, opts...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// Section returns the first section whose resolved name is name.
func (o *Object) Section(name string) *Section {
	for _, s := range o.Sections {
		if n, err := s.FullName(o.StringTable); err == nil && n == name {
			return s
		}
	}
	return nil
}

// SectionName resolves the name of s, following long-name references.
func (o *Object) SectionName(s *Section) string {
	if s.LongName != "" {
		return s.LongName
	}
	if n, err := s.FullName(o.StringTable); err == nil {
		return n
	}
	return s.NameString()
}

// RelocationSymbol returns the symbol a relocation refers to.
func (o *Object) RelocationSymbol(r Relocation) (*Symbol, error) {
	if o.Symbols == nil || int(r.SymbolTableIndex) >= len(o.Symbols.Symbols) {
		return nil, errors.Wrapf(ErrInvalidFormat, "relocation symbol index %d out of range", r.SymbolTableIndex)
	}
	return o.Symbols.Symbols[r.SymbolTableIndex], nil
}
