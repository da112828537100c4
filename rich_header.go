package pe

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"fmt"
)

type RichHeader struct {
	XorKey     uint32
	CompIDs    []CompID
	DansOffset int
	Raw        []byte
}

type CompID struct {
	MinorCV  uint16
	ProdID   uint16
	Count    uint32
	Unmasked uint32
}

// RichHeader decodes the linker Rich header hidden in the DOS stub. It
// returns nil when the stub carries none.
func (f *File) RichHeader() (*RichHeader, error) {
	richData, err := f.headerBytes()
	if err != nil {
		return nil, err
	}
	richSigOffset := bytes.Index(richData, []byte(RichSignature))
	if richSigOffset < 0 || richSigOffset+8 > len(richData) {
		return nil, nil
	}

	var rh RichHeader
	rh.XorKey = binary.LittleEndian.Uint32(richData[richSigOffset+4:])

	var decRichHeader []uint32
	dansSigOffset := -1
	estimatedBeginDans := richSigOffset - 4 - DOSHeaderSize
	for it := 0; it < estimatedBeginDans; it += 4 {
		buff := binary.LittleEndian.Uint32(richData[richSigOffset-4-it:])
		res := buff ^ rh.XorKey
		if res == DansSignature {
			dansSigOffset = richSigOffset - it - 4
			break
		}
		decRichHeader = append(decRichHeader, res)
	}

	if dansSigOffset == -1 {
		return nil, nil
	}

	rh.DansOffset = dansSigOffset
	rh.Raw = append([]byte(nil), richData[dansSigOffset:richSigOffset+8]...)

	for i, j := 0, len(decRichHeader)-1; i < j; i, j = i+1, j-1 {
		decRichHeader[i], decRichHeader[j] = decRichHeader[j], decRichHeader[i]
	}

	lenCompIDs := len(decRichHeader)
	if (len(decRichHeader)-3)%2 != 0 {
		lenCompIDs = len(decRichHeader) - 1
	}

	// the first three words after DanS are padding
	for i := 3; i < lenCompIDs; i += 2 {
		rh.CompIDs = append(rh.CompIDs, CompID{
			MinorCV:  uint16(decRichHeader[i]),
			ProdID:   uint16(decRichHeader[i] >> 16),
			Count:    decRichHeader[i+1],
			Unmasked: decRichHeader[i],
		})
	}
	return &rh, nil
}

func (f *File) RichHeaderChecksum() (uint32, error) {
	rh, err := f.RichHeader()
	if err != nil || rh == nil {
		return 0, err
	}
	data, err := f.headerBytes()
	if err != nil {
		return 0, err
	}

	checksum := uint32(rh.DansOffset)

	// First, calculate the sum of the DOS header bytes each rotated left the
	// number of times their position relative to the start of the DOS header e.g.
	// second byte is rotated left 2x using rol operation.
	for i := 0; i < rh.DansOffset; i++ {
		// skip over dos e_lfanew field at offset 0x3C
		if i >= 0x3C && i < 0x40 {
			continue
		}
		b := uint32(data[i])
		checksum += (b << (i % 32)) | (b>>(32-(i%32)))&0xff
	}

	// Next, take summation of each Rich header entry by combining its ProductId
	// and BuildNumber into a single 32 bits number and rotating by its count.
	for _, compID := range rh.CompIDs {
		checksum += compID.Unmasked<<(compID.Count%32) | compID.Unmasked>>(32-(compID.Count%32))
	}

	return checksum, nil
}

// RichHeaderHash is the MD5 of the unmasked Rich header, as used for
// toolchain clustering.
func (f *File) RichHeaderHash() (string, error) {
	rh, err := f.RichHeader()
	if err != nil || rh == nil {
		return "", err
	}
	richIndex := bytes.Index(rh.Raw, []byte(RichSignature))
	if richIndex == -1 {
		return "", nil
	}

	key := make([]byte, 4)
	binary.LittleEndian.PutUint32(key, rh.XorKey)

	rawData := rh.Raw[:richIndex]
	clearData := make([]byte, len(rawData))
	for idx, val := range rawData {
		clearData[idx] = val ^ key[idx%len(key)]
	}
	return fmt.Sprintf("%x", md5.Sum(clearData)), nil
}
