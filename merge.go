package pe

import (
	"sort"
	"strings"
)

// splitGroupedName splits "name$suffix" at the first '$'.
func splitGroupedName(name string) (prefix, suffix string, grouped bool) {
	i := strings.IndexByte(name, '$')
	if i < 0 {
		return name, "", false
	}
	return name[:i], name[i+1:], true
}

// SortSections orders sections the way a linker concatenates grouped
// sections. Ungrouped sections come first in input order. Grouped sections
// follow, ordered by prefix, then by suffix, then by the ordinal of the
// object they came from. Names are taken from ResolvedName.
func SortSections(sections []*Section) {
	sort.SliceStable(sections, func(i, j int) bool {
		xp, xs, xg := splitGroupedName(sections[i].ResolvedName())
		yp, ys, yg := splitGroupedName(sections[j].ResolvedName())
		if xg != yg {
			return !xg
		}
		if !xg {
			return false
		}
		if xp != yp {
			return xp < yp
		}
		if xs != ys {
			return xs < ys
		}
		return sections[i].Ordinal < sections[j].Ordinal
	})
}

// MergeSections collects copies of the sections of objs, in argument order,
// and sorts them with SortSections.
func MergeSections(objs ...*Object) []*Section {
	var sections []*Section
	for _, obj := range objs {
		for _, s := range obj.Sections {
			sections = append(sections, s.Clone())
		}
	}
	SortSections(sections)
	return sections
}

// AddObjectSections appends the merged sections of objs to f. Relocations
// are dropped since they index the symbol tables of the objects. Long names
// are stored in the header, cut to 8 bytes.
func (f *File) AddObjectSections(objs ...*Object) {
	for _, s := range MergeSections(objs...) {
		s.Relocations = nil
		if s.LongName != "" {
			if len(s.LongName) > len(s.Name) {
				f.log().Debug("section name truncated", "name", s.LongName)
			}
			s.SetName(s.LongName)
			s.LongName = ""
		}
		f.AddSection(s)
	}
}
