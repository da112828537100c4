package pe

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"sort"

	"github.com/pkg/errors"
)

func (f *File) AuthentihashSha512() []byte {
	return f.authentihash(sha512.New())
}
func (f *File) AuthentihashSha256() []byte {
	return f.authentihash(sha256.New())
}

func (f *File) AuthentihashSha1() []byte {
	return f.authentihash(sha1.New())
}

func (f *File) AuthentihashMd5() []byte {
	return f.authentihash(md5.New())
}

// Authentihash is the SHA-256 Authenticode digest of the serialized image.
func (f *File) Authentihash() []byte {
	return f.authentihash(sha256.New())
}

func (f *File) authentihash(hasher hash.Hash) []byte {
	if f.OptionalHeader == nil {
		return nil
	}

	data, err := f.Bytes()
	if err != nil {
		f.log().Warn("cannot serialize image for authentihash", "error", err)
		return nil
	}

	locationMap, err := f.parsePEHeaderLocations(uint32(len(data)))
	if err != nil {
		f.log().Warn("cannot locate authentihash ranges", "error", err)
		return nil
	}

	locationSlice := make([]RelRange, 0, len(locationMap))
	keys := []string{"checksum", "datadir_certtable", "certtable"}
	for k, v := range locationMap {
		if stringInSlice(k, keys) {
			locationSlice = append(locationSlice, *v)
		}
	}
	sort.Sort(byStart(locationSlice))

	ranges := make([]*Range, 0, len(locationSlice))
	start := uint32(0)
	for _, r := range locationSlice {
		ranges = append(ranges, &Range{Start: start, End: r.Start})
		start = r.Start + r.Length
	}
	ranges = append(ranges, &Range{Start: start, End: uint32(len(data))})

	for _, v := range ranges {
		if v.Start < v.End {
			hasher.Write(data[v.Start:v.End])
		}
	}
	return hasher.Sum(nil)
}

type Range struct {
	Start uint32
	End   uint32
}
type RelRange struct {
	Start  uint32
	Length uint32
}

type byStart []RelRange

func (s byStart) Len() int           { return len(s) }
func (s byStart) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s byStart) Less(i, j int) bool { return s[i].Start < s[j].Start }

// parsePEHeaderLocations finds the regions Authenticode leaves out of the
// digest in a serialized image of size bytes.
func (f *File) parsePEHeaderLocations(size uint32) (map[string]*RelRange, error) {
	location := make(map[string]*RelRange, 3)
	optionalHeaderOffset := f.DOSHeader.AddressOfNewEXEHeader + SignatureSize + FileHeaderSize

	var optionalHeaderSize, sizeOfHeaders, numberOfRvaAndSizes uint32
	switch oh := f.OptionalHeader.(type) {
	case *OptionalHeader32:
		optionalHeaderSize = OptionalHeader32Size + dataDirectoriesTotalSize
		sizeOfHeaders = oh.SizeOfHeaders
		numberOfRvaAndSizes = oh.NumberOfRvaAndSizes
	case *OptionalHeader64:
		optionalHeaderSize = OptionalHeader64Size + dataDirectoriesTotalSize
		sizeOfHeaders = oh.SizeOfHeaders
		numberOfRvaAndSizes = oh.NumberOfRvaAndSizes
	default:
		return nil, errors.Wrap(ErrAmbiguousOptionalHeader, "no optional header")
	}

	if optionalHeaderOffset+optionalHeaderSize > size {
		return nil, errors.Wrapf(ErrTruncatedData, "the optional header exceeds the file length (%d + %d > %d)",
			optionalHeaderSize, optionalHeaderOffset, size)
	}

	// The location of the checksum
	location["checksum"] = &RelRange{optionalHeaderOffset + 64, 4}

	if numberOfRvaAndSizes <= ImageDirectoryEntrySecurity {
		return location, nil
	}

	// The location of the entry of the Certificate Table in the Data Directory
	certBase := optionalHeaderOffset + optionalHeaderSize - dataDirectoriesTotalSize +
		DataDirectorySize*ImageDirectoryEntrySecurity
	location["datadir_certtable"] = &RelRange{certBase, DataDirectorySize}

	// The certificate table address is a file offset, not an RVA.
	address := f.DataDirectories[ImageDirectoryEntrySecurity].VirtualAddress
	length := f.DataDirectories[ImageDirectoryEntrySecurity].Size
	if length == 0 {
		return location, nil
	}

	if int64(address) < int64(sizeOfHeaders) || int64(address)+int64(length) > int64(size) {
		return location, nil
	}

	// The location of the Certificate Table
	location["certtable"] = &RelRange{address, length}
	return location, nil
}
