// File model contains the structs which match the direct structures on the card.
// All of them are little endian and decoded with encoding/binary.

package sdfat

// SectorSize is the only sector size the engine supports.
const SectorSize = 512

// DirEntrySize is the stride of one directory slot.
const DirEntrySize = 32

const (
	bootSignature = 0xAA55

	fsInfoLeadSignature   = 0x41615252
	fsInfoStructSignature = 0x61417272
	fsInfoTrailSignature  = 0xAA550000

	// fsInfoUnknown marks an unset FSInfo counter.
	fsInfoUnknown = 0xFFFFFFFF
)

// Directory entry markers found in the first name byte.
const (
	entryEmpty   = 0x00
	entryDeleted = 0xE5
	// entryKanji is stored instead of a real leading 0xE5 byte.
	entryKanji = 0x05
)

// Attribute bits of a directory entry.
const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrVolumeID  = 0x08
	AttrDirectory = 0x10
	AttrArchive   = 0x20
	AttrLongName  = 0x0F
)

// MBR is the master boot record in sector 0.
type MBR struct {
	BootCode   [446]byte
	Partitions [4]PartitionRecord
	Signature  uint16
}

// PartitionRecord is one of the four 16 byte entries of the partition table.
type PartitionRecord struct {
	Status       byte
	HeadStart    byte
	CylSectStart uint16
	Type         byte
	HeadEnd      byte
	CylSectEnd   uint16
	FirstSector  uint32
	SectorsTotal uint32
}

// BootSector is the FAT32 boot sector including the BPB.
type BootSector struct {
	JumpBoot            [3]byte
	OEMName             [8]byte
	BytesPerSector      uint16
	SectorsPerCluster   byte
	ReservedSectorCount uint16
	NumFATs             byte
	RootEntryCount      uint16
	TotalSectors16      uint16
	Media               byte
	FATSize16           uint16
	SectorsPerTrack     uint16
	NumberOfHeads       uint16
	HiddenSectors       uint32
	TotalSectors32      uint32
	FATSize32           uint32
	ExtFlags            uint16
	FSVersion           uint16
	RootCluster         uint32
	FSInfo              uint16
	BkBootSector        uint16
	Reserved            [12]byte
	DriveNumber         byte
	Reserved1           byte
	BootSignature       byte
	VolumeID            uint32
	VolumeLabel         [11]byte
	FileSystemType      [8]byte
	BootCode            [420]byte
	EndSignature        uint16
}

// FSInfo is the FAT32 file system information sector.
type FSInfo struct {
	LeadSignature   uint32
	Reserved1       [480]byte
	StructSignature uint32
	FreeCount       uint32
	NextFree        uint32
	Reserved2       [12]byte
	TrailSignature  uint32
}

func (i *FSInfo) valid() bool {
	return i.LeadSignature == fsInfoLeadSignature &&
		i.StructSignature == fsInfoStructSignature &&
		i.TrailSignature == fsInfoTrailSignature
}

// EntryHeader is a short name directory entry.
type EntryHeader struct {
	Name            [11]byte
	Attribute       byte
	NTReserved      byte
	CreateTimeTenth byte
	CreateTime      uint16
	CreateDate      uint16
	LastAccessDate  uint16
	FirstClusterHI  uint16
	WriteTime       uint16
	WriteDate       uint16
	FirstClusterLO  uint16
	FileSize        uint32
}

// FirstCluster joins both halves of the first cluster number.
func (h *EntryHeader) FirstCluster() uint32 {
	return uint32(h.FirstClusterHI)<<16 | uint32(h.FirstClusterLO)
}

func (h *EntryHeader) setFirstCluster(cluster uint32) {
	h.FirstClusterHI = uint16(cluster >> 16)
	h.FirstClusterLO = uint16(cluster)
}
