package pe

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func optionalHeaderOffset() int {
	return fixtureLfanew + SignatureSize + FileHeaderSize
}

func TestParse(t *testing.T) {
	f, err := Parse(basicImage().bytes())
	require.NoError(t, err)

	assert.Equal(t, uint16(ImageDOSSignature), f.DOSHeader.Magic)
	assert.Equal(t, uint32(fixtureLfanew), f.DOSHeader.AddressOfNewEXEHeader)
	assert.Len(t, f.DOSStub, fixtureLfanew-DOSHeaderSize)
	assert.Equal(t, uint32(ImageNTHeaderSignature), f.Signature)
	assert.Equal(t, uint16(ImageFileMachineI386), f.FileHeader.Machine)
	assert.Equal(t, uint16(3), f.FileHeader.NumberOfSections)
	assert.False(t, f.Is64())
	assert.Equal(t, uint64(0x400000), f.ImageBase())
	assert.Equal(t, uint32(0x1000), f.EntryPoint())

	fa, err := f.FileAlignment()
	require.NoError(t, err)
	assert.Equal(t, uint32(fixtureFileAlign), fa)
	sa, err := f.SectionAlignment()
	require.NoError(t, err)
	assert.Equal(t, uint32(fixtureSectionAlign), sa)

	require.Len(t, f.Sections, 3)
	text := f.Sections[0]
	assert.Equal(t, ".text", text.NameString())
	assert.Equal(t, uint32(0x1000), text.VirtualAddress)
	assert.Equal(t, uint32(0x180), text.VirtualSize)
	assert.Len(t, text.Data, 0x200)
	assert.Equal(t, fill(0x180, 0x90), text.Data[:0x180])
	assert.True(t, text.HasCode())
	assert.True(t, text.ContributesToFileSize())
	assert.Equal(t, "rx", text.Flags())

	data := f.Sections[1]
	assert.Equal(t, "rw", data.Flags())
	assert.Equal(t, fill(0x40, 0x10), data.Data[:0x40])

	bss := f.Sections[2]
	assert.False(t, bss.ContributesToFileSize())
	assert.Equal(t, make([]byte, 0x400), bss.Data, "uninitialized payload is zero filled to its raw size")

	assert.Nil(t, f.Symbols)
	assert.Nil(t, f.StringTable)
}

func TestParse_PE32Plus(t *testing.T) {
	fx := basicImage()
	fx.pe32plus = true
	fx.machine = ImageFileMachineAMD64
	f, err := Parse(fx.bytes())
	require.NoError(t, err)

	assert.True(t, f.Is64())
	oh, ok := f.OptionalHeader.(*OptionalHeader64)
	require.True(t, ok)
	assert.Equal(t, uint16(OptionalHeaderMagicPE32Plus), oh.Magic)
	assert.Equal(t, uint64(0x140000000), f.ImageBase())
	assert.Equal(t, uint32(NumberOfDataDirectories), oh.NumberOfRvaAndSizes)
	require.Len(t, f.Sections, 3)
	assert.Equal(t, ".data", f.Sections[1].NameString())
}

func TestParse_DataDirectories(t *testing.T) {
	fx := basicImage()
	fx.dirs[ImageDirectoryEntryImport] = DataDirectory{VirtualAddress: 0x2010, Size: 0x28}
	fx.dirs[ImageDirectoryEntryIat] = DataDirectory{VirtualAddress: 0x2000, Size: 0x10}
	f, err := Parse(fx.bytes())
	require.NoError(t, err)
	assert.Equal(t, DataDirectory{VirtualAddress: 0x2010, Size: 0x28}, f.DataDirectories[ImageDirectoryEntryImport])
	assert.Equal(t, DataDirectory{VirtualAddress: 0x2000, Size: 0x10}, f.DataDirectories[ImageDirectoryEntryIat])
	assert.Equal(t, DataDirectory{}, f.DataDirectories[ImageDirectoryEntryResource])
}

func TestParse_Errors(t *testing.T) {
	le := binary.LittleEndian
	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{
			name:   "bad DOS magic",
			mutate: func(b []byte) []byte { b[0] = 'X'; return b },
			want:   ErrInvalidFormat,
		},
		{
			name:   "e_lfanew inside DOS header",
			mutate: func(b []byte) []byte { le.PutUint32(b[0x3c:], 0x20); return b },
			want:   ErrInvalidFormat,
		},
		{
			name:   "bad PE signature",
			mutate: func(b []byte) []byte { copy(b[fixtureLfanew:], "PX\x00\x00"); return b },
			want:   ErrInvalidSignature,
		},
		{
			name: "ROM optional header",
			mutate: func(b []byte) []byte {
				le.PutUint16(b[optionalHeaderOffset():], OptionalHeaderMagicROM)
				return b
			},
			want: ErrUnsupportedFormat,
		},
		{
			name: "unknown optional header magic",
			mutate: func(b []byte) []byte {
				le.PutUint16(b[optionalHeaderOffset():], 0x999)
				return b
			},
			want: ErrUnsupportedFormat,
		},
		{
			name: "image base not 64K aligned",
			mutate: func(b []byte) []byte {
				le.PutUint32(b[optionalHeaderOffset()+28:], 0x401000)
				return b
			},
			want: ErrInvalidFormat,
		},
		{
			name:   "empty",
			mutate: func(b []byte) []byte { return nil },
			want:   ErrTruncatedData,
		},
		{
			name:   "truncated in section table",
			mutate: func(b []byte) []byte { return b[:0x1d0] },
			want:   ErrTruncatedData,
		},
		{
			name:   "truncated in section data",
			mutate: func(b []byte) []byte { return b[:0x700] },
			want:   ErrTruncatedData,
		},
		{
			name:   "e_lfanew past end",
			mutate: func(b []byte) []byte { le.PutUint32(b[0x3c:], 0x10000); return b },
			want:   ErrTruncatedData,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse(tt.mutate(basicImage().bytes()))
			require.Error(t, err)
			assert.Nil(t, f)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestNewFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "basic.exe")
	require.NoError(t, os.WriteFile(path, basicImage().bytes(), 0o644))

	f, err := NewFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sections, 3)
	assert.Equal(t, fill(0x40, 0x10), f.Sections[1].Data[:0x40])

	empty := filepath.Join(dir, "empty.exe")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = NewFile(empty)
	assert.True(t, errors.Is(err, ErrTruncatedData))

	_, err = NewFile(filepath.Join(dir, "missing.exe"))
	assert.True(t, os.IsNotExist(errors.Cause(err)))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name          string
		magic         uint16
		machine       uint16
		wantImageBase uint64
		wantChars     uint16
	}{
		{
			name:          "PE32",
			magic:         OptionalHeaderMagicPE32,
			machine:       ImageFileMachineI386,
			wantImageBase: 0x400000,
			wantChars:     ImageFileExecutableImage | ImageFile32BitMachine,
		},
		{
			name:          "PE32+",
			magic:         OptionalHeaderMagicPE32Plus,
			machine:       ImageFileMachineAMD64,
			wantImageBase: 0x140000000,
			wantChars:     ImageFileExecutableImage | ImageFileLargeAddressAware,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.magic, tt.machine)
			require.NoError(t, err)
			assert.Equal(t, tt.machine, f.FileHeader.Machine)
			assert.Equal(t, tt.wantChars, f.FileHeader.Characteristics)
			assert.Equal(t, tt.wantImageBase, f.ImageBase())
			assert.Equal(t, uint32(DOSHeaderSize+len(f.DOSStub)), f.DOSHeader.AddressOfNewEXEHeader)

			of, err := f.optionalFields()
			require.NoError(t, err)
			assert.Equal(t, uint32(0x200), *of.sizeOfHeaders)
			assert.Equal(t, uint32(NumberOfDataDirectories), *of.numberOfRvaAndSizes)
			assert.Equal(t, uint32(0x1000), of.sectionAlignment)
			assert.Equal(t, uint32(0x200), of.fileAlignment)

			b, err := f.Bytes()
			require.NoError(t, err)
			g, err := Parse(b)
			require.NoError(t, err)
			assert.Equal(t, tt.magic == OptionalHeaderMagicPE32Plus, g.Is64())
			assert.Empty(t, g.Sections)
		})
	}

	_, err := New(OptionalHeaderMagicROM, ImageFileMachineI386)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
	_, err = New(0x999, ImageFileMachineI386)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestFile_SectionMutations(t *testing.T) {
	f, err := Parse(basicImage().bytes())
	require.NoError(t, err)

	assert.True(t, f.HasSection(".data"))
	assert.False(t, f.HasSection(".rsrc"))
	_, err = f.GetSection(".rsrc")
	assert.True(t, errors.Is(err, ErrSectionNotFound))

	rdata := NewSection(".rdata", rdataChars, []byte("hello"))
	require.NoError(t, f.InsertSection(1, rdata))
	assert.Equal(t, uint16(4), f.FileHeader.NumberOfSections)
	assert.Equal(t, ".rdata", f.Sections[1].NameString())
	assert.Equal(t, ".data", f.Sections[2].NameString())
	assert.Error(t, f.InsertSection(9, rdata))
	assert.Error(t, f.InsertSection(-1, rdata))

	require.NoError(t, f.WriteSectionData(".rdata", []byte("hello, world")))
	got, err := f.SectionData(".rdata")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello, world"), got)
	assert.Equal(t, uint32(12), rdata.SizeOfRawData)
	assert.Equal(t, uint32(12), rdata.VirtualSize)

	require.NoError(t, f.RemoveSection(".data"))
	assert.Equal(t, uint16(3), f.FileHeader.NumberOfSections)
	assert.Nil(t, f.Section(".data"))
	assert.True(t, errors.Is(f.RemoveSection(".data"), ErrSectionNotFound))

	f.AddSection(NewSection(".tls", dataChars, make([]byte, 8)))
	assert.Equal(t, ".tls", f.Sections[len(f.Sections)-1].NameString())
	assert.Equal(t, uint16(4), f.FileHeader.NumberOfSections)
}

func TestSectionHeader_Name(t *testing.T) {
	var sh SectionHeader
	sh.SetName(".verylongname")
	assert.Equal(t, ".verylon", sh.NameString())
	sh.SetName(".a")
	assert.Equal(t, ".a", sh.NameString())
	assert.Equal(t, [8]uint8{'.', 'a'}, sh.Name)
}

func TestSection_Clone(t *testing.T) {
	s := NewSection(".text", textChars, []byte{1, 2, 3})
	s.Relocations = []Relocation{{VirtualAddress: 1}}
	c := s.Clone()
	c.Data[0] = 9
	c.Relocations[0].VirtualAddress = 7
	assert.Equal(t, byte(1), s.Data[0])
	assert.Equal(t, uint32(1), s.Relocations[0].VirtualAddress)
	assert.Equal(t, s.SectionHeader, c.SectionHeader)
}
