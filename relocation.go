package pe

import (
	"fmt"

	"github.com/pkg/errors"
)

// Relocation is one COFF relocation record. Type is interpreted against
// the machine of the containing file.
type Relocation struct {
	VirtualAddress   uint32 `struc:"uint32,little"`
	SymbolTableIndex uint32 `struc:"uint32,little"`
	Type             uint16 `struc:"uint16,little"`
}

func readReLocs(sh *SectionHeader, r *reader) ([]Relocation, error) {
	if sh.NumberOfRelocations == 0 {
		return nil, nil
	}
	if err := r.seek(int(sh.PointerToRelocations)); err != nil {
		return nil, errors.WithMessagef(err, "fail to seek to %q section relocations", sh.NameString())
	}
	reLocs := make([]Relocation, sh.NumberOfRelocations)
	for i := range reLocs {
		if err := r.unpack(&reLocs[i]); err != nil {
			return nil, errors.WithMessagef(err, "fail to read %q section relocation %d", sh.NameString(), i)
		}
	}
	return reLocs, nil
}

// TypeName names the relocation type for machine. Only x86 and x64 tables
// are modeled; other machines keep the raw code.
func (r Relocation) TypeName(machine uint16) (string, error) {
	switch machine {
	case ImageFileMachineAMD64:
		return RelocTypeAMD64(r.Type).String(), nil
	case ImageFileMachineI386:
		return RelocTypeI386(r.Type).String(), nil
	default:
		return "", errors.Wrapf(ErrUnsupportedFormat, "relocation types for machine %#x", machine)
	}
}

type RelocTypeAMD64 uint16

const (
	ImageRelAMD64Absolute RelocTypeAMD64 = 0x0000
	ImageRelAMD64Addr64   RelocTypeAMD64 = 0x0001
	ImageRelAMD64Addr32   RelocTypeAMD64 = 0x0002
	ImageRelAMD64Addr32NB RelocTypeAMD64 = 0x0003
	ImageRelAMD64Rel32    RelocTypeAMD64 = 0x0004
	ImageRelAMD64Rel32_1  RelocTypeAMD64 = 0x0005
	ImageRelAMD64Rel32_2  RelocTypeAMD64 = 0x0006
	ImageRelAMD64Rel32_3  RelocTypeAMD64 = 0x0007
	ImageRelAMD64Rel32_4  RelocTypeAMD64 = 0x0008
	ImageRelAMD64Rel32_5  RelocTypeAMD64 = 0x0009
	ImageRelAMD64Section  RelocTypeAMD64 = 0x000A
	ImageRelAMD64SecRel   RelocTypeAMD64 = 0x000B
	ImageRelAMD64SecRel7  RelocTypeAMD64 = 0x000C
	ImageRelAMD64Token    RelocTypeAMD64 = 0x000D
	ImageRelAMD64SRel32   RelocTypeAMD64 = 0x000E
	ImageRelAMD64Pair     RelocTypeAMD64 = 0x000F
	ImageRelAMD64SSpan32  RelocTypeAMD64 = 0x0010
)

var amd64RelocNames = map[RelocTypeAMD64]string{
	ImageRelAMD64Absolute: "IMAGE_REL_AMD64_ABSOLUTE",
	ImageRelAMD64Addr64:   "IMAGE_REL_AMD64_ADDR64",
	ImageRelAMD64Addr32:   "IMAGE_REL_AMD64_ADDR32",
	ImageRelAMD64Addr32NB: "IMAGE_REL_AMD64_ADDR32NB",
	ImageRelAMD64Rel32:    "IMAGE_REL_AMD64_REL32",
	ImageRelAMD64Rel32_1:  "IMAGE_REL_AMD64_REL32_1",
	ImageRelAMD64Rel32_2:  "IMAGE_REL_AMD64_REL32_2",
	ImageRelAMD64Rel32_3:  "IMAGE_REL_AMD64_REL32_3",
	ImageRelAMD64Rel32_4:  "IMAGE_REL_AMD64_REL32_4",
	ImageRelAMD64Rel32_5:  "IMAGE_REL_AMD64_REL32_5",
	ImageRelAMD64Section:  "IMAGE_REL_AMD64_SECTION",
	ImageRelAMD64SecRel:   "IMAGE_REL_AMD64_SECREL",
	ImageRelAMD64SecRel7:  "IMAGE_REL_AMD64_SECREL7",
	ImageRelAMD64Token:    "IMAGE_REL_AMD64_TOKEN",
	ImageRelAMD64SRel32:   "IMAGE_REL_AMD64_SREL32",
	ImageRelAMD64Pair:     "IMAGE_REL_AMD64_PAIR",
	ImageRelAMD64SSpan32:  "IMAGE_REL_AMD64_SSPAN32",
}

func (t RelocTypeAMD64) String() string {
	if s, ok := amd64RelocNames[t]; ok {
		return s
	}
	return fmt.Sprintf("IMAGE_REL_AMD64(%#x)", uint16(t))
}

type RelocTypeI386 uint16

const (
	ImageRelI386Absolute RelocTypeI386 = 0x0000
	ImageRelI386Dir16    RelocTypeI386 = 0x0001
	ImageRelI386Rel16    RelocTypeI386 = 0x0002
	ImageRelI386Dir32    RelocTypeI386 = 0x0006
	ImageRelI386Dir32NB  RelocTypeI386 = 0x0007
	ImageRelI386Seg12    RelocTypeI386 = 0x0009
	ImageRelI386Section  RelocTypeI386 = 0x000A
	ImageRelI386SecRel   RelocTypeI386 = 0x000B
	ImageRelI386Token    RelocTypeI386 = 0x000C
	ImageRelI386SecRel7  RelocTypeI386 = 0x000D
	ImageRelI386Rel32    RelocTypeI386 = 0x0014
)

var i386RelocNames = map[RelocTypeI386]string{
	ImageRelI386Absolute: "IMAGE_REL_I386_ABSOLUTE",
	ImageRelI386Dir16:    "IMAGE_REL_I386_DIR16",
	ImageRelI386Rel16:    "IMAGE_REL_I386_REL16",
	ImageRelI386Dir32:    "IMAGE_REL_I386_DIR32",
	ImageRelI386Dir32NB:  "IMAGE_REL_I386_DIR32NB",
	ImageRelI386Seg12:    "IMAGE_REL_I386_SEG12",
	ImageRelI386Section:  "IMAGE_REL_I386_SECTION",
	ImageRelI386SecRel:   "IMAGE_REL_I386_SECREL",
	ImageRelI386Token:    "IMAGE_REL_I386_TOKEN",
	ImageRelI386SecRel7:  "IMAGE_REL_I386_SECREL7",
	ImageRelI386Rel32:    "IMAGE_REL_I386_REL32",
}

func (t RelocTypeI386) String() string {
	if s, ok := i386RelocNames[t]; ok {
		return s
	}
	return fmt.Sprintf("IMAGE_REL_I386(%#x)", uint16(t))
}
