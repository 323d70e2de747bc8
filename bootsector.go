package sdfat

import (
	"bytes"
	"encoding/binary"
	"math/bits"
	"strings"

	"github.com/sabt-braille/sdfat/checkpoint"
)

// maxClusters is the highest cluster count 28 bit FAT entries can address,
// leaving the reserved, bad and EOF values free.
const maxClusters = 0x0FFFFFF5

var fat32Type = [8]byte{'F', 'A', 'T', '3', '2', ' ', ' ', ' '}

// Partition is the first record of the MBR partition table.
type Partition struct {
	Status byte
	Type   byte
	Start  uint32
	Size   uint32
}

// Volume contains the geometry of the FAT32 volume. It is read only after mounting.
type Volume struct {
	BytesPerSector      uint16
	SectorsPerCluster   uint8
	ReservedSectorCount uint16
	NumFATs             uint8
	FATSize             uint32
	RootCluster         uint32
	TotalClusters       uint32
	FirstDataSector     uint32
	FSInfoSector        uint32
	Label               string

	partitionStart uint32
}

// ClusterSize is the size of one cluster in bytes.
func (v *Volume) ClusterSize() uint32 {
	return uint32(v.SectorsPerCluster) * uint32(v.BytesPerSector)
}

// FirstSector returns the absolute first sector of a data cluster.
func (v *Volume) FirstSector(cluster uint32) uint32 {
	return (cluster-2)*uint32(v.SectorsPerCluster) + v.FirstDataSector
}

// maxCluster is the highest valid data cluster number.
func (v *Volume) maxCluster() uint32 {
	return v.TotalClusters + 1
}

func (v *Volume) validCluster(cluster uint32) bool {
	return cluster >= 2 && cluster <= v.maxCluster()
}

// clustersFor returns how many clusters size bytes occupy.
func (v *Volume) clustersFor(size uint32) uint32 {
	cs := v.ClusterSize()
	return uint32((uint64(size) + uint64(cs) - 1) / uint64(cs))
}

// readVolume parses MBR, partition table and boot sector. It does not write anything.
func (fs *Fs) readVolume() error {
	if err := fs.fetch(0); err != nil {
		return err
	}

	mbr := MBR{}
	if err := binary.Read(bytes.NewReader(fs.sector.buffer), binary.LittleEndian, &mbr); err != nil {
		return checkpoint.From(err)
	}

	if mbr.Signature != bootSignature {
		return checkpoint.New(ErrInvalidSignature, "MBR signature 0x%04X", mbr.Signature)
	}

	if isBootSector(fs.sector.buffer) {
		// No partition table at all, the volume starts at sector 0.
		fs.partition = Partition{}
	} else {
		record := mbr.Partitions[0]
		if record.Type == 0 || record.FirstSector == 0 {
			return checkpoint.New(ErrUnsupportedVolume, "first partition record is empty")
		}
		fs.partition = Partition{
			Status: record.Status,
			Type:   record.Type,
			Start:  record.FirstSector,
			Size:   record.SectorsTotal,
		}
	}

	if err := fs.fetch(fs.partition.Start); err != nil {
		return err
	}

	bs := BootSector{}
	if err := binary.Read(bytes.NewReader(fs.sector.buffer), binary.LittleEndian, &bs); err != nil {
		return checkpoint.From(err)
	}

	volume, err := volumeFromBootSector(&bs, fs.partition.Start)
	if err != nil {
		return err
	}
	fs.volume = volume

	return nil
}

// isBootSector checks if a sector 0 is a FAT32 boot sector instead of an MBR.
func isBootSector(sector []byte) bool {
	if sector[0] != 0xEB && sector[0] != 0xE9 {
		return false
	}
	return bytes.Equal(sector[82:90], fat32Type[:])
}

func volumeFromBootSector(bs *BootSector, partitionStart uint32) (Volume, error) {
	if bs.EndSignature != bootSignature {
		return Volume{}, checkpoint.New(ErrInvalidSignature, "boot sector signature 0x%04X", bs.EndSignature)
	}

	if bs.BytesPerSector != SectorSize {
		return Volume{}, checkpoint.New(ErrUnsupportedVolume, "%d bytes per sector", bs.BytesPerSector)
	}

	// FAT12 and FAT16 keep the sector count in the 16 bit field.
	if bs.TotalSectors16 != 0 || bs.FATSize32 == 0 {
		return Volume{}, checkpoint.New(ErrUnsupportedVolume, "not a FAT32 volume")
	}

	if bs.SectorsPerCluster == 0 || bits.OnesCount8(bs.SectorsPerCluster) != 1 {
		return Volume{}, checkpoint.New(ErrUnsupportedVolume, "%d sectors per cluster", bs.SectorsPerCluster)
	}

	if bs.NumFATs == 0 || bs.ReservedSectorCount == 0 {
		return Volume{}, checkpoint.New(ErrUnsupportedVolume, "%d FATs, %d reserved sectors", bs.NumFATs, bs.ReservedSectorCount)
	}

	v := Volume{
		BytesPerSector:      bs.BytesPerSector,
		SectorsPerCluster:   bs.SectorsPerCluster,
		ReservedSectorCount: bs.ReservedSectorCount,
		NumFATs:             bs.NumFATs,
		FATSize:             bs.FATSize32,
		RootCluster:         bs.RootCluster,
		Label:               strings.TrimRight(string(bs.VolumeLabel[:]), " "),
		partitionStart:      partitionStart,
	}

	// Without a usable FSInfo sector the free counters always start untrusted.
	if bs.FSInfo != 0 && bs.FSInfo < bs.ReservedSectorCount {
		v.FSInfoSector = partitionStart + uint32(bs.FSInfo)
	}

	metaSectors := uint64(bs.ReservedSectorCount) + uint64(bs.NumFATs)*uint64(bs.FATSize32)
	if metaSectors >= uint64(bs.TotalSectors32) {
		return Volume{}, checkpoint.New(ErrUnsupportedVolume, "no data region")
	}
	v.FirstDataSector = partitionStart + uint32(metaSectors)
	v.TotalClusters = (bs.TotalSectors32 - uint32(metaSectors)) / uint32(bs.SectorsPerCluster)

	if v.TotalClusters == 0 || v.TotalClusters > maxClusters {
		return Volume{}, checkpoint.New(ErrUnsupportedVolume, "%d clusters", v.TotalClusters)
	}

	// The FAT must have room for an entry of every cluster.
	if uint64(v.TotalClusters+2)*4 > uint64(v.FATSize)*SectorSize {
		return Volume{}, checkpoint.New(ErrUnsupportedVolume, "FAT too small for %d clusters", v.TotalClusters)
	}

	if !v.validCluster(v.RootCluster) {
		return Volume{}, checkpoint.New(ErrUnsupportedVolume, "root cluster %d", v.RootCluster)
	}

	return v, nil
}
