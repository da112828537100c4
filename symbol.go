package pe

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// COFFSymbol represents single COFF symbol table record.
type COFFSymbol struct {
	Name               [8]uint8 `struc:"[8]uint8"`
	Value              uint32   `struc:"uint32,little"`
	SectionNumber      int16    `struc:"int16,little"`
	Type               uint16   `struc:"uint16,little"`
	StorageClass       uint8    `struc:"uint8"`
	NumberOfAuxSymbols uint8    `struc:"uint8"`
}

// symbolName interprets the 8 byte name union. A zero first word marks a
// string table reference held in the second word.
func symbolName(name [8]byte) (inline string, offset uint32, external bool) {
	if binary.LittleEndian.Uint32(name[:4]) == 0 {
		return "", binary.LittleEndian.Uint32(name[4:]), true
	}
	return cString(name[:]), 0, false
}

// FullName finds real name of symbol sym. Normally name is stored
// in sym.Name, but if it is longer then 8 characters, it is stored
// in COFF string table st instead.
func (sym *COFFSymbol) FullName(st StringTable) (string, error) {
	inline, offset, external := symbolName(sym.Name)
	if external {
		return st.String(offset)
	}
	return inline, nil
}

// Symbol is one record of the symbol table in file order. Auxiliary records
// are kept so the table can be written back unchanged; they are never named.
type Symbol struct {
	Record COFFSymbol
	Index  int
	Name   string

	// External is set when the name lives in the string table at NameOffset.
	External   bool
	NameOffset uint32
	Aux        bool
}

// SymbolTable is the fixed-length symbol array of an object file.
type SymbolTable struct {
	Symbols []*Symbol
}

func (t *SymbolTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Symbols)
}

// Primary returns the records that are not auxiliary records.
func (t *SymbolTable) Primary() []*Symbol {
	if t == nil {
		return nil
	}
	symbols := make([]*Symbol, 0, len(t.Symbols))
	for _, s := range t.Symbols {
		if !s.Aux {
			symbols = append(symbols, s)
		}
	}
	return symbols
}

// Lookup returns the first primary symbol called name.
func (t *SymbolTable) Lookup(name string) *Symbol {
	for _, s := range t.Primary() {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// readCOFFSymbols decodes count records at PointerToSymbolTable, then the
// string table that follows them, and back-fills external names.
func readCOFFSymbols(r *reader, fh *FileHeader) (*SymbolTable, StringTable, error) {
	if fh.PointerToSymbolTable == 0 || fh.NumberOfSymbols == 0 {
		return nil, nil, nil
	}
	if err := r.seek(int(fh.PointerToSymbolTable)); err != nil {
		return nil, nil, errors.WithMessage(err, "fail to seek to symbol table")
	}
	if err := r.need(int(fh.NumberOfSymbols) * COFFSymbolSize); err != nil {
		return nil, nil, errors.WithMessagef(err, "fail to read %d symbols", fh.NumberOfSymbols)
	}

	t := &SymbolTable{Symbols: make([]*Symbol, fh.NumberOfSymbols)}
	aux := uint8(0)
	for i := range t.Symbols {
		s := &Symbol{Index: i}
		if err := r.unpack(&s.Record); err != nil {
			return nil, nil, errors.WithMessagef(err, "fail to read symbol %d", i)
		}
		if aux > 0 {
			s.Aux = true
			aux--
		} else {
			s.Name, s.NameOffset, s.External = symbolName(s.Record.Name)
			aux = s.Record.NumberOfAuxSymbols
		}
		t.Symbols[i] = s
	}

	st, err := readStringTable(r)
	if err != nil {
		return nil, nil, err
	}

	strs := st.Strings()
	for _, s := range t.Symbols {
		if !s.External {
			continue
		}
		if name, ok := strs[s.NameOffset]; ok {
			s.Name = name
		}
	}
	return t, st, nil
}
