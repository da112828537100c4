package pe

import (
	"fmt"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"
)

const (
	resourceHighBit = 0x80000000
	resourceLowBits = 0x7FFFFFFF
)

type (
	ImageResourceDirectory struct {
		Characteristics      uint32 `struc:"uint32,little"`
		TimeDateStamp        uint32 `struc:"uint32,little"`
		MajorVersion         uint16 `struc:"uint16,little"`
		MinorVersion         uint16 `struc:"uint16,little"`
		NumberOfNamedEntries uint16 `struc:"uint16,little"`
		NumberOfIDEntries    uint16 `struc:"uint16,little"`
	}

	ImageResourceDirectoryEntry struct {
		Name         uint32 `struc:"uint32,little"`
		OffsetToData uint32 `struc:"uint32,little"`
	}

	ImageResourceDataEntry struct {
		OffsetToData uint32 `struc:"uint32,little"`
		Size         uint32 `struc:"uint32,little"`
		CodePage     uint32 `struc:"uint32,little"`
		Reserved     uint32 `struc:"uint32,little"`
	}
)

// NameIsString reports whether Name is a tagged string offset rather than
// a numeric identifier.
func (e ImageResourceDirectoryEntry) NameIsString() bool {
	return e.Name&resourceHighBit != 0
}

// NameOffset is the string offset from the start of the resource section.
// Only meaningful when NameIsString.
func (e ImageResourceDirectoryEntry) NameOffset() uint32 {
	return e.Name & resourceLowBits
}

// ID is the numeric identifier. Only meaningful when !NameIsString.
func (e ImageResourceDirectoryEntry) ID() uint32 {
	return e.Name
}

func (e ImageResourceDirectoryEntry) DataIsDirectory() bool {
	return e.OffsetToData&resourceHighBit != 0
}

// OffsetToDirectory is the subdirectory or data entry offset with the tag
// bit cleared.
func (e ImageResourceDirectoryEntry) OffsetToDirectory() uint32 {
	return e.OffsetToData & resourceLowBits
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// ResourceString is a length prefixed UTF-16LE name. Raw keeps the code
// units as stored so unpaired surrogates survive re-encoding.
type ResourceString struct {
	Length uint16
	Raw    []byte
}

func NewResourceString(s string) (*ResourceString, error) {
	raw, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, errors.WithMessagef(err, "fail to encode resource name %q", s)
	}
	return &ResourceString{Length: uint16(len(raw) / 2), Raw: raw}, nil
}

func (s *ResourceString) String() string {
	b, err := utf16le.NewDecoder().Bytes(s.Raw)
	if err != nil {
		return ""
	}
	return string(b)
}

func (s *ResourceString) size() uint32 {
	return 2 + uint32(len(s.Raw))
}

// ResourceNode is either a *ResourceDirectory or a *ResourceDataEntry.
type ResourceNode interface {
	resourceNode()
}

type ResourceDirectory struct {
	Struct       ImageResourceDirectory
	NamedEntries []*ResourceDirectoryEntry
	IDEntries    []*ResourceDirectoryEntry
}

func (*ResourceDirectory) resourceNode() {}

// Entries returns named entries followed by ID entries, the on-disk order.
func (d *ResourceDirectory) Entries() []*ResourceDirectoryEntry {
	entries := make([]*ResourceDirectoryEntry, 0, len(d.NamedEntries)+len(d.IDEntries))
	entries = append(entries, d.NamedEntries...)
	return append(entries, d.IDEntries...)
}

type ResourceDirectoryEntry struct {
	Struct ImageResourceDirectoryEntry
	// Name is nil for ID keyed entries.
	Name *ResourceString
	Node ResourceNode
}

// Label is the entry name, or "#<id>" for ID keyed entries.
func (e *ResourceDirectoryEntry) Label() string {
	if e.Name != nil {
		return e.Name.String()
	}
	return fmt.Sprintf("#%d", e.Struct.ID())
}

// ResourceDataEntry is a leaf. OffsetToData in Struct is an image RVA.
type ResourceDataEntry struct {
	Struct ImageResourceDataEntry
	Data   []byte
}

func (*ResourceDataEntry) resourceNode() {}

func (d *ResourceDataEntry) DataRVA() uint32 {
	return d.Struct.OffsetToData
}

// SetData replaces the leaf payload and its recorded size. The payload is
// written back at the same RVA, so growing it may overwrite what follows.
func (d *ResourceDataEntry) SetData(data []byte) {
	d.Data = data
	d.Struct.Size = uint32(len(data))
}

// FileType sniffs the leaf payload.
func (d *ResourceDataEntry) FileType() (types.Type, error) {
	return filetype.Match(d.Data)
}

// ResourceTree is a resource directory decoded from one section payload.
type ResourceTree struct {
	Root       *ResourceDirectory
	SectionRVA uint32

	// raw is the section payload the tree was decoded from; bytes it never
	// referenced are carried through Encode.
	raw []byte
}

type resourceDecoder struct {
	r          *reader
	sectionRVA uint32
	base       uint32
}

// DecodeResourceTree decodes the directory at basePhysicalOffset in payload.
// Offsets in the tree are relative to basePhysicalOffset and leaf RVAs are
// translated through sectionRVA.
func DecodeResourceTree(payload []byte, sectionRVA, basePhysicalOffset uint32) (*ResourceTree, error) {
	if int(basePhysicalOffset) > len(payload) {
		return nil, errors.Wrapf(ErrTruncatedData, "resource base %#x outside payload of %#x bytes",
			basePhysicalOffset, len(payload))
	}
	d := &resourceDecoder{r: newReader(payload), sectionRVA: sectionRVA, base: basePhysicalOffset}
	root, err := d.directory(0, []uint32{0})
	if err != nil {
		return nil, err
	}
	return &ResourceTree{
		Root:       root,
		SectionRVA: sectionRVA,
		raw:        append([]byte(nil), payload[basePhysicalOffset:]...),
	}, nil
}

func (d *resourceDecoder) seek(off uint32) error {
	return d.r.seek(int(int64(d.base) + int64(off)))
}

// directory decodes the directory at off. path holds the offsets of the
// directories being decoded above it.
func (d *resourceDecoder) directory(off uint32, path []uint32) (*ResourceDirectory, error) {
	if err := d.seek(off); err != nil {
		return nil, err
	}
	dir := new(ResourceDirectory)
	if err := d.r.unpack(&dir.Struct); err != nil {
		return nil, errors.WithMessagef(err, "fail to read resource directory at %#x", off)
	}

	named := int(dir.Struct.NumberOfNamedEntries)
	total := named + int(dir.Struct.NumberOfIDEntries)
	if total > maxAllowedEntries {
		return nil, errors.Wrapf(ErrInvalidFormat, "resource directory at %#x has %d entries", off, total)
	}

	entries := make([]*ResourceDirectoryEntry, total)
	for i := range entries {
		e := new(ResourceDirectoryEntry)
		if err := d.r.unpack(&e.Struct); err != nil {
			return nil, errors.WithMessagef(err, "fail to read resource entry %d at %#x", i, off)
		}
		entries[i] = e
	}

	for _, e := range entries {
		if e.Struct.NameIsString() {
			name, err := d.name(e.Struct.NameOffset())
			if err != nil {
				return nil, err
			}
			e.Name = name
		}

		sub := e.Struct.OffsetToDirectory()
		if e.Struct.DataIsDirectory() {
			for _, p := range path {
				if p == sub {
					return nil, errors.Wrapf(ErrInvalidFormat, "resource directory loop at %#x", sub)
				}
			}
			child, err := d.directory(sub, append(path[:len(path):len(path)], sub))
			if err != nil {
				return nil, err
			}
			e.Node = child
		} else {
			leaf, err := d.leaf(sub)
			if err != nil {
				return nil, err
			}
			e.Node = leaf
		}
	}

	dir.NamedEntries = entries[:named]
	dir.IDEntries = entries[named:]
	return dir, nil
}

func (d *resourceDecoder) name(off uint32) (*ResourceString, error) {
	if err := d.seek(off); err != nil {
		return nil, err
	}
	n, err := d.r.uint16()
	if err != nil {
		return nil, errors.WithMessagef(err, "fail to read resource name length at %#x", off)
	}
	raw, err := d.r.bytes(2 * int(n))
	if err != nil {
		return nil, errors.WithMessagef(err, "fail to read resource name at %#x", off)
	}
	return &ResourceString{Length: n, Raw: raw}, nil
}

func (d *resourceDecoder) leaf(off uint32) (*ResourceDataEntry, error) {
	if err := d.seek(off); err != nil {
		return nil, err
	}
	leaf := new(ResourceDataEntry)
	if err := d.r.unpack(&leaf.Struct); err != nil {
		return nil, errors.WithMessagef(err, "fail to read resource data entry at %#x", off)
	}

	pos := int64(d.base) + int64(leaf.Struct.OffsetToData) - int64(d.sectionRVA)
	if pos < 0 || pos > int64(len(d.r.buf)) {
		return nil, errors.Wrapf(ErrTruncatedData, "resource data RVA %#x outside section at %#x",
			leaf.Struct.OffsetToData, d.sectionRVA)
	}
	if err := d.r.seek(int(pos)); err != nil {
		return nil, err
	}
	data, err := d.r.bytes(int(leaf.Struct.Size))
	if err != nil {
		return nil, errors.WithMessagef(err, "fail to read resource data at RVA %#x", leaf.Struct.OffsetToData)
	}
	leaf.Data = data
	return leaf, nil
}

// Rebase moves every leaf RVA by the distance between the recorded section
// RVA and newSectionRVA, then records newSectionRVA.
func (t *ResourceTree) Rebase(newSectionRVA uint32) {
	_ = t.Walk(func(_ []*ResourceDirectoryEntry, leaf *ResourceDataEntry) error {
		leaf.Struct.OffsetToData = leaf.Struct.OffsetToData - t.SectionRVA + newSectionRVA
		return nil
	})
	t.SectionRVA = newSectionRVA
}

// Walk visits every leaf depth first, in on-disk entry order, with the
// entries leading to it.
func (t *ResourceTree) Walk(fn func(path []*ResourceDirectoryEntry, leaf *ResourceDataEntry) error) error {
	if t.Root == nil {
		return nil
	}
	return walkResourceDirectory(t.Root, nil, fn)
}

func walkResourceDirectory(dir *ResourceDirectory, path []*ResourceDirectoryEntry,
	fn func([]*ResourceDirectoryEntry, *ResourceDataEntry) error) error {
	for _, e := range dir.Entries() {
		p := append(path[:len(path):len(path)], e)
		switch n := e.Node.(type) {
		case *ResourceDirectory:
			if err := walkResourceDirectory(n, p, fn); err != nil {
				return err
			}
		case *ResourceDataEntry:
			if err := fn(p, n); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *ResourceTree) Leaves() []*ResourceDataEntry {
	var leaves []*ResourceDataEntry
	_ = t.Walk(func(_ []*ResourceDirectoryEntry, leaf *ResourceDataEntry) error {
		leaves = append(leaves, leaf)
		return nil
	})
	return leaves
}

// Encode writes the tree back as a section payload. Every record goes to the
// offset its parent entry names, so writes land out of order in a buffer
// sized up front.
func (t *ResourceTree) Encode() ([]byte, error) {
	if t.Root == nil {
		return append([]byte(nil), t.raw...), nil
	}
	extent, err := t.extent(t.Root, 0)
	if err != nil {
		return nil, err
	}
	size := uint32(len(t.raw))
	if extent > size {
		size = extent
	}
	buf := make([]byte, size)
	copy(buf, t.raw)

	w := newWriter(buf)
	if err := t.encodeDirectory(w, t.Root, 0); err != nil {
		return nil, err
	}
	return buf, nil
}

func (t *ResourceTree) leafOffset(leaf *ResourceDataEntry) (uint32, error) {
	if leaf.Struct.OffsetToData < t.SectionRVA {
		return 0, errors.Wrapf(ErrInvalidFormat, "resource data RVA %#x below section RVA %#x",
			leaf.Struct.OffsetToData, t.SectionRVA)
	}
	return leaf.Struct.OffsetToData - t.SectionRVA, nil
}

// extent is the end of the furthest region the directory at off references.
func (t *ResourceTree) extent(dir *ResourceDirectory, off uint32) (uint32, error) {
	entries := dir.Entries()
	end := off + ResourceDirectorySize + ResourceEntrySize*uint32(len(entries))
	for _, e := range entries {
		if e.Name != nil {
			end = Max(end, e.Struct.NameOffset()+e.Name.size())
		}
		sub := e.Struct.OffsetToDirectory()
		switch n := e.Node.(type) {
		case *ResourceDirectory:
			x, err := t.extent(n, sub)
			if err != nil {
				return 0, err
			}
			end = Max(end, x)
		case *ResourceDataEntry:
			end = Max(end, sub+ResourceDataEntrySize)
			lo, err := t.leafOffset(n)
			if err != nil {
				return 0, err
			}
			end = Max(end, lo+uint32(len(n.Data)))
		}
	}
	return end, nil
}

func (t *ResourceTree) encodeDirectory(w *writer, dir *ResourceDirectory, off uint32) error {
	entries := dir.Entries()
	dir.Struct.NumberOfNamedEntries = uint16(len(dir.NamedEntries))
	dir.Struct.NumberOfIDEntries = uint16(len(dir.IDEntries))

	if err := w.seek(int(off)); err != nil {
		return err
	}
	if err := w.pack(&dir.Struct); err != nil {
		return err
	}
	for _, e := range entries {
		if err := w.pack(&e.Struct); err != nil {
			return err
		}
	}

	for _, e := range entries {
		if e.Name != nil {
			if err := w.seek(int(e.Struct.NameOffset())); err != nil {
				return err
			}
			if err := w.uint16(e.Name.Length); err != nil {
				return err
			}
			if err := w.write(e.Name.Raw); err != nil {
				return err
			}
		}

		sub := e.Struct.OffsetToDirectory()
		switch n := e.Node.(type) {
		case *ResourceDirectory:
			if err := t.encodeDirectory(w, n, sub); err != nil {
				return err
			}
		case *ResourceDataEntry:
			if err := w.seek(int(sub)); err != nil {
				return err
			}
			if err := w.pack(&n.Struct); err != nil {
				return err
			}
			lo, err := t.leafOffset(n)
			if err != nil {
				return err
			}
			if err := w.seek(int(lo)); err != nil {
				return err
			}
			if err := w.write(n.Data); err != nil {
				return err
			}
		default:
			return errors.Wrapf(ErrInvalidFormat, "resource entry %s has no node", e.Label())
		}
	}
	return nil
}

// ResourceType is the ID of a top level resource directory entry.
type ResourceType uint32

const (
	RTCursor       ResourceType = 1
	RTBitmap       ResourceType = 2
	RTIcon         ResourceType = 3
	RTMenu         ResourceType = 4
	RTDialog       ResourceType = 5
	RTString       ResourceType = 6
	RTFontDir      ResourceType = 7
	RTFont         ResourceType = 8
	RTAccelerator  ResourceType = 9
	RTRCData       ResourceType = 10
	RTMessageTable ResourceType = 11
	RTGroupCursor  ResourceType = 12
	RTGroupIcon    ResourceType = 14
	RTVersion      ResourceType = 16
	RTDlgInclude   ResourceType = 17
	RTPlugPlay     ResourceType = 19
	RTVxD          ResourceType = 20
	RTAniCursor    ResourceType = 21
	RTAniIcon      ResourceType = 22
	RTHtml         ResourceType = 23
	RTManifest     ResourceType = 24
)

var resourceTypeNames = map[ResourceType]string{
	RTCursor:       "Cursor",
	RTBitmap:       "Bitmap",
	RTIcon:         "Icon",
	RTMenu:         "Menu",
	RTDialog:       "Dialog box",
	RTString:       "String",
	RTFontDir:      "Font directory",
	RTFont:         "Font",
	RTAccelerator:  "Accelerator",
	RTRCData:       "RC Data",
	RTMessageTable: "Message Table",
	RTGroupCursor:  "Group Cursor",
	RTGroupIcon:    "Group Icon",
	RTVersion:      "Version",
	RTDlgInclude:   "Dialog Include",
	RTPlugPlay:     "Plug & Play",
	RTVxD:          "VxD",
	RTAniCursor:    "Animated Cursor",
	RTAniIcon:      "Animated Icon",
	RTHtml:         "HTML",
	RTManifest:     "Manifest",
}

func (rt ResourceType) String() string {
	if s, ok := resourceTypeNames[rt]; ok {
		return s
	}
	return "?"
}

// GetResourceTypeName names a top level entry by its string name or its
// well-known type ID.
func GetResourceTypeName(e *ResourceDirectoryEntry) string {
	if e.Name != nil {
		return e.Name.String()
	}
	return ResourceType(e.Struct.ID()).String()
}
