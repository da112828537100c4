package pe

import (
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

// resourcePayload lays out RT_RCDATA/"DATA"/0x409 with leaf as its payload:
//
//	0x00 root, one ID entry -> 0x18
//	0x18 type directory, one named entry -> 0x30
//	0x30 name directory, one ID entry -> data entry 0x48
//	0x60 the UTF-16 name, 0x70 the leaf bytes
func resourcePayload(sectionRVA uint32, leaf []byte) []byte {
	le := binary.LittleEndian
	b := make([]byte, 0x80+len(leaf))

	le.PutUint16(b[0x0e:], 1)
	le.PutUint32(b[0x10:], uint32(RTRCData))
	le.PutUint32(b[0x14:], 0x80000018)

	le.PutUint16(b[0x18+0x0c:], 1)
	le.PutUint32(b[0x28:], 0x80000060)
	le.PutUint32(b[0x2c:], 0x80000030)

	le.PutUint16(b[0x30+0x0e:], 1)
	le.PutUint32(b[0x40:], 0x409)
	le.PutUint32(b[0x44:], 0x48)

	le.PutUint32(b[0x48:], sectionRVA+0x70)
	le.PutUint32(b[0x4c:], uint32(len(leaf)))
	le.PutUint32(b[0x50:], 1252)

	le.PutUint16(b[0x60:], 4)
	for i, c := range "DATA" {
		le.PutUint16(b[0x62+2*i:], uint16(c))
	}
	// unreferenced bytes that must survive re-encoding
	copy(b[0x58:], "pad!")

	copy(b[0x70:], leaf)
	return b
}

// singleLeafPayload has one ID keyed leaf directly under the root.
func singleLeafPayload(sectionRVA uint32, leaf []byte) []byte {
	le := binary.LittleEndian
	b := make([]byte, 0x28+len(leaf))
	le.PutUint16(b[0x0e:], 1)
	le.PutUint32(b[0x10:], 1)
	le.PutUint32(b[0x14:], 0x18)
	le.PutUint32(b[0x18:], sectionRVA+0x28)
	le.PutUint32(b[0x1c:], uint32(len(leaf)))
	copy(b[0x28:], leaf)
	return b
}

func TestDecodeResourceTree(t *testing.T) {
	const rva = 0x4000
	leaf := []byte("resource payload")
	tree, err := DecodeResourceTree(resourcePayload(rva, leaf), rva, 0)
	require.NoError(t, err)
	require.NotNil(t, tree.Root)
	assert.Equal(t, uint32(rva), tree.SectionRVA)

	require.Len(t, tree.Root.IDEntries, 1)
	assert.Empty(t, tree.Root.NamedEntries)
	typ := tree.Root.IDEntries[0]
	assert.Equal(t, "#10", typ.Label())
	assert.Equal(t, "RC Data", GetResourceTypeName(typ))

	typeDir, ok := typ.Node.(*ResourceDirectory)
	require.True(t, ok)
	require.Len(t, typeDir.NamedEntries, 1)
	named := typeDir.NamedEntries[0]
	require.NotNil(t, named.Name)
	assert.Equal(t, "DATA", named.Name.String())
	assert.Equal(t, uint16(4), named.Name.Length)
	assert.Equal(t, "DATA", GetResourceTypeName(named))

	var paths [][]string
	err = tree.Walk(func(path []*ResourceDirectoryEntry, l *ResourceDataEntry) error {
		var labels []string
		for _, e := range path {
			labels = append(labels, e.Label())
		}
		paths = append(paths, labels)
		assert.Equal(t, leaf, l.Data)
		assert.Equal(t, uint32(rva+0x70), l.DataRVA())
		assert.Equal(t, uint32(1252), l.Struct.CodePage)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"#10", "DATA", "#1033"}}, paths)
	assert.Len(t, tree.Leaves(), 1)
}

func TestDecodeResourceTree_Base(t *testing.T) {
	const rva = 0x3000
	payload := append(make([]byte, 0x20), singleLeafPayload(rva, []byte("abcd"))...)
	tree, err := DecodeResourceTree(payload, rva, 0x20)
	require.NoError(t, err)
	leaves := tree.Leaves()
	require.Len(t, leaves, 1)
	assert.Equal(t, []byte("abcd"), leaves[0].Data)

	_, err = DecodeResourceTree(payload, rva, uint32(len(payload)+1))
	assert.True(t, errors.Is(err, ErrTruncatedData))
}

func TestResourceTree_EncodeRoundTrip(t *testing.T) {
	const rva = 0x4000
	payload := resourcePayload(rva, []byte("resource payload"))
	tree, err := DecodeResourceTree(payload, rva, 0)
	require.NoError(t, err)

	got, err := tree.Encode()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestResourceTree_Rebase(t *testing.T) {
	leaf := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	tree, err := DecodeResourceTree(singleLeafPayload(0x2000, leaf), 0x2000, 0)
	require.NoError(t, err)
	before := tree.Leaves()[0].DataRVA()

	tree.Rebase(0x5000)
	assert.Equal(t, uint32(0x5000), tree.SectionRVA)
	assert.Equal(t, before+0x3000, tree.Leaves()[0].DataRVA())

	encoded, err := tree.Encode()
	require.NoError(t, err)
	assert.Equal(t, singleLeafPayload(0x5000, leaf), encoded)

	again, err := DecodeResourceTree(encoded, 0x5000, 0)
	require.NoError(t, err)
	assert.Equal(t, leaf, again.Leaves()[0].Data)
	assert.Equal(t, uint32(0x5028), again.Leaves()[0].DataRVA())
}

func TestResourceTree_SetDataGrows(t *testing.T) {
	tree, err := DecodeResourceTree(singleLeafPayload(0x2000, []byte("ab")), 0x2000, 0)
	require.NoError(t, err)
	tree.Leaves()[0].SetData([]byte("abcdefgh"))

	encoded, err := tree.Encode()
	require.NoError(t, err)
	assert.Len(t, encoded, 0x28+8)
	assert.Equal(t, uint32(8), binary.LittleEndian.Uint32(encoded[0x1c:]))
	assert.Equal(t, []byte("abcdefgh"), encoded[0x28:])
}

func TestResourceTree_EncodeRejectsLowRVA(t *testing.T) {
	tree, err := DecodeResourceTree(singleLeafPayload(0x2000, []byte("ab")), 0x2000, 0)
	require.NoError(t, err)
	tree.Leaves()[0].Struct.OffsetToData = 0x1000
	_, err = tree.Encode()
	assert.True(t, errors.Is(err, ErrInvalidFormat))
}

func TestDecodeResourceTree_Errors(t *testing.T) {
	le := binary.LittleEndian
	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{
			name:   "directory loop",
			mutate: func(b []byte) []byte { le.PutUint32(b[0x44:], 0x80000018); return b },
			want:   ErrInvalidFormat,
		},
		{
			name:   "self loop",
			mutate: func(b []byte) []byte { le.PutUint32(b[0x14:], 0x80000000); return b },
			want:   ErrInvalidFormat,
		},
		{
			name:   "too many entries",
			mutate: func(b []byte) []byte { le.PutUint16(b[0x0e:], maxAllowedEntries+1); return b },
			want:   ErrInvalidFormat,
		},
		{
			name:   "leaf size past payload",
			mutate: func(b []byte) []byte { le.PutUint32(b[0x4c:], 0x1000); return b },
			want:   ErrTruncatedData,
		},
		{
			name:   "leaf RVA below section",
			mutate: func(b []byte) []byte { le.PutUint32(b[0x48:], 0x10); return b },
			want:   ErrTruncatedData,
		},
		{
			name:   "name past payload",
			mutate: func(b []byte) []byte { le.PutUint32(b[0x28:], 0x80000400); return b },
			want:   ErrTruncatedData,
		},
		{
			name:   "subdirectory past payload",
			mutate: func(b []byte) []byte { le.PutUint32(b[0x14:], 0x80000400); return b },
			want:   ErrTruncatedData,
		},
		{
			name:   "truncated root",
			mutate: func(b []byte) []byte { return b[:0x0c] },
			want:   ErrTruncatedData,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree, err := DecodeResourceTree(tt.mutate(resourcePayload(0x4000, []byte("x"))), 0x4000, 0)
			assert.Nil(t, tree)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestResourceTree_WalkStops(t *testing.T) {
	tree, err := DecodeResourceTree(resourcePayload(0x4000, []byte("x")), 0x4000, 0)
	require.NoError(t, err)
	stop := errors.New("stop")
	assert.Equal(t, stop, tree.Walk(func([]*ResourceDirectoryEntry, *ResourceDataEntry) error { return stop }))

	assert.NoError(t, (&ResourceTree{}).Walk(func([]*ResourceDirectoryEntry, *ResourceDataEntry) error { return stop }))
}

func TestResourceString(t *testing.T) {
	s, err := NewResourceString("MANIFEST")
	require.NoError(t, err)
	assert.Equal(t, uint16(8), s.Length)
	assert.Len(t, s.Raw, 16)
	assert.Equal(t, "MANIFEST", s.String())
	assert.Equal(t, uint32(18), s.size())
}

func TestResourceString_UnpairedSurrogate(t *testing.T) {
	payload := resourcePayload(0x4000, []byte("x"))
	// a lone high surrogate as the second code unit
	binary.LittleEndian.PutUint16(payload[0x64:], 0xd800)
	tree, err := DecodeResourceTree(payload, 0x4000, 0)
	require.NoError(t, err)

	encoded, err := tree.Encode()
	require.NoError(t, err)
	assert.Equal(t, payload, encoded, "raw code units are written back unchanged")
}

func TestResourceDataEntry_FileType(t *testing.T) {
	tree, err := DecodeResourceTree(resourcePayload(0x4000, pngMagic), 0x4000, 0)
	require.NoError(t, err)
	kind, err := tree.Leaves()[0].FileType()
	require.NoError(t, err)
	assert.Equal(t, "png", kind.Extension)
	assert.Equal(t, "image/png", kind.MIME.Value)
}

func TestFile_ResourceTree(t *testing.T) {
	const rva = 0x4000
	fx := basicImage()
	fx.sections = append(fx.sections, fixtureSection{
		name: ".rsrc", va: rva, vsize: 0x90, ptr: 0x800, rawSize: 0x200, chars: rdataChars,
		data: resourcePayload(rva, []byte("0123456789abcdef")),
	})
	f, err := Parse(fx.bytes())
	require.NoError(t, err)

	tree, err := f.ResourceTree()
	require.NoError(t, err)
	leaf := tree.Leaves()[0]
	assert.Equal(t, []byte("0123456789abcdef"), leaf.Data)

	leaf.SetData([]byte("FEDCBA9876543210"))
	require.NoError(t, f.SetResourceTree(tree))
	again, err := f.ResourceTree()
	require.NoError(t, err)
	assert.Equal(t, []byte("FEDCBA9876543210"), again.Leaves()[0].Data)

	g, err := Parse(basicImage().bytes())
	require.NoError(t, err)
	_, err = g.ResourceTree()
	assert.True(t, errors.Is(err, ErrSectionNotFound))
}
