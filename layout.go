package pe

import (
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// layoutResult collects the header fields a layout run derives. They are
// written to the headers in one step once every pass has succeeded.
type layoutResult struct {
	addressOfNewEXEHeader uint32
	sizeOfOptionalHeader  uint16
	sizeOfHeaders         uint32
	sizeOfInitializedData uint32
	pointerToSymbolTable  uint32
	numberOfSymbols       uint32

	codeSeen   bool
	baseOfCode uint32
	dataSeen   bool
	baseOfData uint32

	sizeOfImage uint32
}

// sectionDirectories maps the section names the directory pass tracks to
// their data directory slots.
var sectionDirectories = []struct {
	name  string
	index int
}{
	{SectionEData, ImageDirectoryEntryExport},
	{SectionRsrc, ImageDirectoryEntryResource},
	{SectionPData, ImageDirectoryEntryException},
	{SectionReloc, ImageDirectoryEntryBaseReLoc},
	{SectionDebug, ImageDirectoryEntryDebug},
	{SectionTLS, ImageDirectoryEntryTls},
	{SectionCorMeta, ImageDirectoryEntryComDescriptor},
}

// UpdateLayout recomputes file and virtual placement of every section in
// list order, starting the virtual layout at 0x1000.
func (f *File) UpdateLayout() error {
	return f.UpdateVirtualLayoutFrom(StartingVirtualAddress)
}

// UpdateVirtualLayoutFrom is UpdateLayout with the first section placed at
// start, rounded up to the section alignment.
func (f *File) UpdateVirtualLayoutFrom(start uint32) error {
	of, err := f.optionalFields()
	if err != nil {
		return err
	}
	f.syncSectionCount()

	var res layoutResult
	f.headerGeometry(of, &res)
	f.physicalLayout(of, &res)
	if err := f.virtualLayout(of, start, &res); err != nil {
		return err
	}
	f.applyLayout(of, &res)
	f.updateDataDirectories()
	return nil
}

// headerGeometry places the NT headers right after the stub and makes room
// for the full section table in the header region.
func (f *File) headerGeometry(of *optionalFields, res *layoutResult) {
	res.addressOfNewEXEHeader = uint32(DOSHeaderSize + len(f.DOSStub))
	res.sizeOfOptionalHeader = uint16(of.size + dataDirectoriesTotalSize)

	headersEnd := res.addressOfNewEXEHeader + SignatureSize + FileHeaderSize +
		uint32(res.sizeOfOptionalHeader) + SectionHeaderSize*uint32(len(f.Sections))
	res.sizeOfHeaders = roundUp(Max(*of.sizeOfHeaders, headersEnd), of.fileAlignment)
	if res.sizeOfHeaders != *of.sizeOfHeaders {
		f.log().Debug("header region resized",
			"old", hclog.Fmt("%#x", *of.sizeOfHeaders), "new", hclog.Fmt("%#x", res.sizeOfHeaders))
	}
}

// physicalLayout assigns file offsets. Only sections that contribute to file
// size take space; relocation and symbol tables follow the section data.
func (f *File) physicalLayout(of *optionalFields, res *layoutResult) {
	cursor := res.sizeOfHeaders
	var initialized uint32
	for _, s := range f.Sections {
		if !s.ContributesToFileSize() {
			s.SizeOfRawData = 0
			continue
		}
		raw := roundUp(uint32(len(s.Data)), of.fileAlignment)
		if s.PointerToRawData != cursor || s.SizeOfRawData != raw {
			f.log().Debug("section placed", "name", s.NameString(),
				"old_offset", hclog.Fmt("%#x", s.PointerToRawData), "new_offset", hclog.Fmt("%#x", cursor),
				"old_raw_size", hclog.Fmt("%#x", s.SizeOfRawData), "new_raw_size", hclog.Fmt("%#x", raw))
		}
		s.PointerToRawData = cursor
		s.SizeOfRawData = raw
		cursor += raw
		initialized += raw
	}
	res.sizeOfInitializedData = initialized

	for _, s := range f.Sections {
		if len(s.Relocations) == 0 {
			s.PointerToRelocations = 0
			s.NumberOfRelocations = 0
			continue
		}
		s.PointerToRelocations = cursor
		s.NumberOfRelocations = uint16(len(s.Relocations))
		cursor += RelocationSize * uint32(len(s.Relocations))
	}

	if f.Symbols.Len() > 0 {
		res.pointerToSymbolTable = cursor
		res.numberOfSymbols = uint32(f.Symbols.Len())
	}
}

// virtualLayout assigns virtual addresses in list order. A moved .rsrc
// section has its resource tree re-based before its size is taken.
func (f *File) virtualLayout(of *optionalFields, start uint32, res *layoutResult) error {
	cursor := roundUp(start, of.sectionAlignment)
	for _, s := range f.Sections {
		switch s.NameString() {
		case SectionText:
			res.codeSeen = true
			res.baseOfCode = cursor
		case SectionRData, SectionData:
			if of.baseOfData != nil && !res.dataSeen {
				res.dataSeen = true
				res.baseOfData = cursor
			}
		}

		if s.VirtualAddress != cursor {
			if s.NameString() == SectionRsrc {
				if err := f.rebaseResources(s, cursor); err != nil {
					return err
				}
			}
			f.log().Debug("section moved", "name", s.NameString(),
				"old_va", hclog.Fmt("%#x", s.VirtualAddress), "new_va", hclog.Fmt("%#x", cursor))
			s.VirtualAddress = cursor
		}

		switch {
		case s.HasUninitializedData():
			// virtual size is all an uninitialized section has
		case s.HasInitializedData() && s.HasCode():
			if s.VirtualSize <= s.SizeOfRawData {
				s.VirtualSize = Max(s.VirtualSize, uint32(len(s.Data)))
			}
		}

		cursor += roundUp(s.VirtualSize, of.sectionAlignment)
	}
	res.sizeOfImage = cursor
	return nil
}

func (f *File) rebaseResources(s *Section, newRVA uint32) error {
	tree, err := DecodeResourceTree(s.Data, s.VirtualAddress, 0)
	if err != nil {
		return errors.WithMessage(err, "fail to decode resource tree for relocation")
	}
	tree.Rebase(newRVA)
	data, err := tree.Encode()
	if err != nil {
		return errors.WithMessage(err, "fail to encode relocated resource tree")
	}
	f.log().Debug("resource tree rebased", "delta", hclog.Fmt("%#x", newRVA-s.VirtualAddress),
		"leaves", len(tree.Leaves()))
	s.Data = data
	return nil
}

func (f *File) applyLayout(of *optionalFields, res *layoutResult) {
	f.DOSHeader.AddressOfNewEXEHeader = res.addressOfNewEXEHeader
	f.FileHeader.SizeOfOptionalHeader = res.sizeOfOptionalHeader
	f.FileHeader.PointerToSymbolTable = res.pointerToSymbolTable
	f.FileHeader.NumberOfSymbols = res.numberOfSymbols

	*of.numberOfRvaAndSizes = NumberOfDataDirectories
	*of.sizeOfHeaders = res.sizeOfHeaders
	*of.sizeOfInitializedData = res.sizeOfInitializedData
	if res.codeSeen {
		*of.baseOfCode = res.baseOfCode
	}
	if res.dataSeen {
		*of.baseOfData = res.baseOfData
	}
	*of.sizeOfImage = res.sizeOfImage
}

func (f *File) updateDataDirectories() {
	for _, d := range sectionDirectories {
		dir := DataDirectory{}
		if s := f.Section(d.name); s != nil {
			dir = DataDirectory{VirtualAddress: s.VirtualAddress, Size: s.VirtualSize}
		}
		if f.DataDirectories[d.index] != dir {
			f.log().Trace("data directory updated", "slot", d.index, "section", d.name,
				"va", hclog.Fmt("%#x", dir.VirtualAddress), "size", hclog.Fmt("%#x", dir.Size))
		}
		f.DataDirectories[d.index] = dir
	}
	f.DataDirectories[ImageDirectoryEntryArchitecture] = DataDirectory{}
	f.DataDirectories[ImageDirectoryEntryGlobalPtr].Size = 0
	f.DataDirectories[ImageDirectoryEntryReserved] = DataDirectory{}
}
