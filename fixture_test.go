package pe

import (
	"encoding/binary"
)

// Fixture images are assembled byte by byte so that parser tests do not
// depend on the serializer. The layout is fixed: a 64 byte stub puts the
// NT headers at 0x80 and the section table straight after the 16 data
// directories.

const (
	fixtureLfanew        = 0x80
	fixtureFileAlign     = 0x200
	fixtureSectionAlign  = 0x1000
	fixtureSizeOfHeaders = 0x400
)

type fixtureSection struct {
	name    string
	va      uint32
	vsize   uint32
	ptr     uint32
	rawSize uint32
	chars   uint32
	data    []byte

	relocPtr uint32
	relocs   []Relocation
}

type fixtureSymbol struct {
	name    [8]byte
	value   uint32
	section int16
	class   uint8
	aux     uint8
}

type fixtureImage struct {
	pe32plus    bool
	machine     uint16
	dirs        [NumberOfDataDirectories]DataDirectory
	sections    []fixtureSection
	symPtr      uint32
	symbols     []fixtureSymbol
	stringTable []byte
}

func (fx *fixtureImage) optionalSize() uint32 {
	if fx.pe32plus {
		return OptionalHeader64Size
	}
	return OptionalHeader32Size
}

func (fx *fixtureImage) sectionTableOffset() uint32 {
	return fixtureLfanew + SignatureSize + FileHeaderSize + fx.optionalSize() + dataDirectoriesTotalSize
}

func contributes(chars uint32) bool {
	return chars&ImageScnCntInitializedData != 0 ||
		(chars&ImageScnCntCode != 0 && chars&ImageScnCntUninitializedData == 0)
}

func growTo(size *uint32, end uint32) {
	if end > *size {
		*size = end
	}
}

func (fx *fixtureImage) bytes() []byte {
	le := binary.LittleEndian
	tableOff := fx.sectionTableOffset()

	size := tableOff + SectionHeaderSize*uint32(len(fx.sections))
	for _, s := range fx.sections {
		if contributes(s.chars) {
			growTo(&size, s.ptr+s.rawSize)
		}
		if len(s.relocs) > 0 {
			growTo(&size, s.relocPtr+RelocationSize*uint32(len(s.relocs)))
		}
	}
	if len(fx.symbols) > 0 {
		growTo(&size, fx.symPtr+COFFSymbolSize*uint32(len(fx.symbols))+uint32(len(fx.stringTable)))
	}
	b := make([]byte, size)

	// DOS header: only the magic and e_lfanew
	copy(b, "MZ")
	le.PutUint32(b[0x3c:], fixtureLfanew)

	copy(b[fixtureLfanew:], "PE\x00\x00")
	fh := b[fixtureLfanew+SignatureSize:]
	machine := fx.machine
	if machine == 0 {
		machine = ImageFileMachineI386
	}
	le.PutUint16(fh[0:], machine)
	le.PutUint16(fh[2:], uint16(len(fx.sections)))
	if len(fx.symbols) > 0 {
		le.PutUint32(fh[8:], fx.symPtr)
		le.PutUint32(fh[12:], uint32(len(fx.symbols)))
	}
	le.PutUint16(fh[16:], uint16(fx.optionalSize()+dataDirectoriesTotalSize))
	le.PutUint16(fh[18:], ImageFileExecutableImage)

	oh := b[fixtureLfanew+SignatureSize+FileHeaderSize:]
	if fx.pe32plus {
		le.PutUint16(oh[0:], OptionalHeaderMagicPE32Plus)
		le.PutUint64(oh[24:], 0x140000000)
	} else {
		le.PutUint16(oh[0:], OptionalHeaderMagicPE32)
		le.PutUint32(oh[28:], 0x400000)
	}
	le.PutUint32(oh[16:], 0x1000)
	le.PutUint32(oh[32:], fixtureSectionAlign)
	le.PutUint32(oh[36:], fixtureFileAlign)
	le.PutUint32(oh[56:], 0x10000)
	le.PutUint32(oh[60:], fixtureSizeOfHeaders)
	le.PutUint16(oh[68:], 3)
	le.PutUint32(oh[fx.optionalSize()-4:], NumberOfDataDirectories)

	dd := oh[fx.optionalSize():]
	for i, d := range fx.dirs {
		le.PutUint32(dd[i*DataDirectorySize:], d.VirtualAddress)
		le.PutUint32(dd[i*DataDirectorySize+4:], d.Size)
	}

	for i, s := range fx.sections {
		sh := b[tableOff+uint32(i)*SectionHeaderSize:]
		copy(sh[:8], s.name)
		le.PutUint32(sh[8:], s.vsize)
		le.PutUint32(sh[12:], s.va)
		le.PutUint32(sh[16:], s.rawSize)
		le.PutUint32(sh[20:], s.ptr)
		if len(s.relocs) > 0 {
			le.PutUint32(sh[24:], s.relocPtr)
			le.PutUint16(sh[32:], uint16(len(s.relocs)))
		}
		le.PutUint32(sh[36:], s.chars)

		if contributes(s.chars) {
			copy(b[s.ptr:s.ptr+s.rawSize], s.data)
		}
		for j, r := range s.relocs {
			rb := b[s.relocPtr+uint32(j)*RelocationSize:]
			le.PutUint32(rb[0:], r.VirtualAddress)
			le.PutUint32(rb[4:], r.SymbolTableIndex)
			le.PutUint16(rb[8:], r.Type)
		}
	}

	for i, sym := range fx.symbols {
		sb := b[fx.symPtr+uint32(i)*COFFSymbolSize:]
		copy(sb[:8], sym.name[:])
		le.PutUint32(sb[8:], sym.value)
		le.PutUint16(sb[12:], uint16(sym.section))
		sb[16] = sym.class
		sb[17] = sym.aux
	}
	if len(fx.symbols) > 0 {
		copy(b[fx.symPtr+COFFSymbolSize*uint32(len(fx.symbols)):], fx.stringTable)
	}
	return b
}

// fixtureObject assembles a COFF object: file header at 0, no optional
// header, section table at 20.
type fixtureObject struct {
	machine     uint16
	sections    []fixtureSection
	symPtr      uint32
	symbols     []fixtureSymbol
	stringTable []byte
}

func (fo *fixtureObject) bytes() []byte {
	le := binary.LittleEndian
	size := uint32(FileHeaderSize + SectionHeaderSize*len(fo.sections))
	for _, s := range fo.sections {
		growTo(&size, s.ptr+s.rawSize)
		if len(s.relocs) > 0 {
			growTo(&size, s.relocPtr+RelocationSize*uint32(len(s.relocs)))
		}
	}
	if len(fo.symbols) > 0 {
		growTo(&size, fo.symPtr+COFFSymbolSize*uint32(len(fo.symbols))+uint32(len(fo.stringTable)))
	}
	b := make([]byte, size)

	machine := fo.machine
	if machine == 0 {
		machine = ImageFileMachineAMD64
	}
	le.PutUint16(b[0:], machine)
	le.PutUint16(b[2:], uint16(len(fo.sections)))
	if len(fo.symbols) > 0 {
		le.PutUint32(b[8:], fo.symPtr)
		le.PutUint32(b[12:], uint32(len(fo.symbols)))
	}

	for i, s := range fo.sections {
		sh := b[FileHeaderSize+i*SectionHeaderSize:]
		copy(sh[:8], s.name)
		le.PutUint32(sh[16:], s.rawSize)
		le.PutUint32(sh[20:], s.ptr)
		if len(s.relocs) > 0 {
			le.PutUint32(sh[24:], s.relocPtr)
			le.PutUint16(sh[32:], uint16(len(s.relocs)))
		}
		le.PutUint32(sh[36:], s.chars)
		copy(b[s.ptr:s.ptr+s.rawSize], s.data)
		for j, r := range s.relocs {
			rb := b[s.relocPtr+uint32(j)*RelocationSize:]
			le.PutUint32(rb[0:], r.VirtualAddress)
			le.PutUint32(rb[4:], r.SymbolTableIndex)
			le.PutUint16(rb[8:], r.Type)
		}
	}

	for i, sym := range fo.symbols {
		sb := b[fo.symPtr+uint32(i)*COFFSymbolSize:]
		copy(sb[:8], sym.name[:])
		le.PutUint32(sb[8:], sym.value)
		le.PutUint16(sb[12:], uint16(sym.section))
		sb[16] = sym.class
		sb[17] = sym.aux
	}
	if len(fo.symbols) > 0 {
		copy(b[fo.symPtr+COFFSymbolSize*uint32(len(fo.symbols)):], fo.stringTable)
	}
	return b
}

func inlineName(s string) (n [8]byte) {
	copy(n[:], s)
	return n
}

func externalName(offset uint32) (n [8]byte) {
	binary.LittleEndian.PutUint32(n[4:], offset)
	return n
}

// stringTable builds a COFF string table from strs in order.
func stringTable(strs ...string) []byte {
	b := make([]byte, 4)
	for _, s := range strs {
		b = append(b, s...)
		b = append(b, 0)
	}
	binary.LittleEndian.PutUint32(b, uint32(len(b)))
	return b
}

func fill(n int, v byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = v + byte(i)
	}
	return b
}

const (
	textChars  = ImageScnCntCode | ImageScnCntInitializedData | ImageScnMemExecute | ImageScnMemRead
	dataChars  = ImageScnCntInitializedData | ImageScnMemRead | ImageScnMemWrite
	rdataChars = ImageScnCntInitializedData | ImageScnMemRead
	bssChars   = ImageScnCntUninitializedData | ImageScnMemRead | ImageScnMemWrite
)

// basicImage has .text, .data and .bss laid out the way a linker would.
func basicImage() *fixtureImage {
	return &fixtureImage{
		sections: []fixtureSection{
			{name: ".text", va: 0x1000, vsize: 0x180, ptr: 0x400, rawSize: 0x200, chars: textChars, data: fill(0x180, 0x90)},
			{name: ".data", va: 0x2000, vsize: 0x40, ptr: 0x600, rawSize: 0x200, chars: dataChars, data: fill(0x40, 0x10)},
			{name: ".bss", va: 0x3000, vsize: 0x800, ptr: 0, rawSize: 0x400, chars: bssChars},
		},
	}
}
