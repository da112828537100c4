package pe

const (
	ImageDOSSignature   = 0x5A4D // MZ
	ImageDOSZMSignature = 0x4D5A // ZM
)

const ImageNTHeaderSignature = 0x00004550

// Optional header magics.
const (
	OptionalHeaderMagicPE32     = 0x10b
	OptionalHeaderMagicROM      = 0x107
	OptionalHeaderMagicPE32Plus = 0x20b
)

// Record sizes as laid out on disk.
const (
	DOSHeaderSize            = 64
	SignatureSize            = 4
	FileHeaderSize           = 20
	OptionalHeader32Size     = 96
	OptionalHeader64Size     = 112
	DataDirectorySize        = 8
	NumberOfDataDirectories  = 16
	SectionHeaderSize        = 40
	RelocationSize           = 10
	COFFSymbolSize           = 18
	ResourceDirectorySize    = 16
	ResourceEntrySize        = 8
	ResourceDataEntrySize    = 16
	dataDirectoriesTotalSize = DataDirectorySize * NumberOfDataDirectories
)

// IMAGE_DIRECTORY_ENTRY constants
const (
	ImageDirectoryEntryExport        = 0
	ImageDirectoryEntryImport        = 1
	ImageDirectoryEntryResource      = 2
	ImageDirectoryEntryException     = 3
	ImageDirectoryEntrySecurity      = 4
	ImageDirectoryEntryBaseReLoc     = 5
	ImageDirectoryEntryDebug         = 6
	ImageDirectoryEntryArchitecture  = 7
	ImageDirectoryEntryGlobalPtr     = 8
	ImageDirectoryEntryTls           = 9
	ImageDirectoryEntryLoadConfig    = 10
	ImageDirectoryEntryBoundImport   = 11
	ImageDirectoryEntryIat           = 12
	ImageDirectoryEntryDelayImport   = 13
	ImageDirectoryEntryComDescriptor = 14
	ImageDirectoryEntryReserved      = 15
)

// Machine types.
const (
	ImageFileMachineUnknown = 0x0
	ImageFileMachineI386    = 0x14c
	ImageFileMachineAMD64   = 0x8664
	ImageFileMachineARM     = 0x1c0
	ImageFileMachineARM64   = 0xaa64
)

// File header characteristics.
const (
	ImageFileRelocsStripped    = 0x0001
	ImageFileExecutableImage   = 0x0002
	ImageFileLargeAddressAware = 0x0020
	ImageFile32BitMachine      = 0x0100
	ImageFileDLL               = 0x2000
)

// Section characteristics.
const (
	ImageScnCntCode              = 0x00000020
	ImageScnCntInitializedData   = 0x00000040
	ImageScnCntUninitializedData = 0x00000080
	ImageScnMemDiscardable       = 0x02000000
	ImageScnMemExecute           = 0x20000000
	ImageScnMemRead              = 0x40000000
	ImageScnMemWrite             = 0x80000000
)

// Well-known section names the layout engine reacts to.
const (
	SectionText    = ".text"
	SectionRData   = ".rdata"
	SectionData    = ".data"
	SectionEData   = ".edata"
	SectionRsrc    = ".rsrc"
	SectionPData   = ".pdata"
	SectionReloc   = ".reloc"
	SectionDebug   = ".debug"
	SectionTLS     = ".tls"
	SectionCorMeta = ".cormeta"
)

// StartingVirtualAddress is where the first section is placed by default.
const StartingVirtualAddress = 0x1000

const FileAlignmentHardcodedValue = 0x200
const maxAllowedEntries = 0x1000

const (
	DansSignature = 0x536E6144
	RichSignature = "Rich"
)
