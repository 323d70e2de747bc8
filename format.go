package sdfat

import (
	"bytes"
	"encoding/binary"

	"github.com/sabt-braille/sdfat/checkpoint"
)

// FormatOptions controls the layout Format writes. Zero values are replaced
// by the defaults noted at each field.
type FormatOptions struct {
	// PartitionStart is the first sector of the partition, default 2048.
	// A negative value writes a volume without partition table.
	PartitionStart int64
	// SectorsPerCluster must be a power of two, default 8.
	SectorsPerCluster uint8
	// ReservedSectors default to 32.
	ReservedSectors uint16
	// NumFATs defaults to 2.
	NumFATs uint8
	// Label is the volume label, default "NO NAME".
	Label string
}

const (
	defaultPartitionStart = 2048
	backupBootSector      = 6
	fsInfoSector          = 1
	// partitionTypeFAT32LBA is the MBR type of a FAT32 partition using LBA.
	partitionTypeFAT32LBA = 0x0C
	mediaFixed            = 0xF8
)

// Format writes an empty FAT32 volume with an MBR on dev, which must have
// totalSectors sectors. Only metadata, FATs and the root cluster are written.
func Format(dev BlockDevice, totalSectors uint32, opts FormatOptions) error {
	start := uint32(defaultPartitionStart)
	withMBR := true
	switch {
	case opts.PartitionStart < 0:
		start = 0
		withMBR = false
	case opts.PartitionStart > 0:
		start = uint32(opts.PartitionStart)
	}

	spc := opts.SectorsPerCluster
	if spc == 0 {
		spc = 8
	}
	reserved := opts.ReservedSectors
	if reserved == 0 {
		reserved = 32
	}
	fats := opts.NumFATs
	if fats == 0 {
		fats = 2
	}
	label := opts.Label
	if label == "" {
		label = "NO NAME"
	}

	if spc&(spc-1) != 0 {
		return checkpoint.New(ErrUnsupportedVolume, "%d sectors per cluster", spc)
	}
	if reserved <= backupBootSector {
		return checkpoint.New(ErrUnsupportedVolume, "%d reserved sectors", reserved)
	}
	if len(label) > 11 {
		return checkpoint.New(ErrInvalidName, "label %q longer than 11 bytes", label)
	}
	if totalSectors <= start {
		return checkpoint.New(ErrUnsupportedVolume, "partition start %d behind %d sectors", start, totalSectors)
	}

	size := totalSectors - start
	fatSize, clusters := fatGeometry(size, uint32(reserved), uint32(fats), uint32(spc))
	if clusters < 1 || clusters > maxClusters {
		return checkpoint.New(ErrUnsupportedVolume, "%d sectors give %d clusters", size, clusters)
	}

	w := formatWriter{dev: dev, buf: make([]byte, SectorSize)}

	if withMBR {
		mbr := MBR{Signature: bootSignature}
		mbr.Partitions[0] = PartitionRecord{
			Status:       0x00,
			Type:         partitionTypeFAT32LBA,
			FirstSector:  start,
			SectorsTotal: size,
			CylSectStart: 0xFFFF,
			CylSectEnd:   0xFFFF,
			HeadStart:    0xFE,
			HeadEnd:      0xFE,
		}
		w.put(0, &mbr)
	}

	bs := BootSector{
		JumpBoot:            [3]byte{0xEB, 0x58, 0x90},
		BytesPerSector:      SectorSize,
		SectorsPerCluster:   spc,
		ReservedSectorCount: reserved,
		NumFATs:             fats,
		Media:               mediaFixed,
		SectorsPerTrack:     63,
		NumberOfHeads:       255,
		HiddenSectors:       start,
		TotalSectors32:      size,
		FATSize32:           fatSize,
		RootCluster:         2,
		FSInfo:              fsInfoSector,
		BkBootSector:        backupBootSector,
		DriveNumber:         0x80,
		BootSignature:       0x29,
		VolumeID:            0x5AB7_0000 | size&0xFFFF,
		FileSystemType:      fat32Type,
		EndSignature:        bootSignature,
	}
	copy(bs.OEMName[:], "SABT    ")
	copy(bs.VolumeLabel[:], "           ")
	copy(bs.VolumeLabel[:], label)

	w.put(start, &bs)
	w.put(start+backupBootSector, &bs)

	info := FSInfo{
		LeadSignature:   fsInfoLeadSignature,
		StructSignature: fsInfoStructSignature,
		FreeCount:       clusters - 1,
		NextFree:        3,
		TrailSignature:  fsInfoTrailSignature,
	}
	w.put(start+fsInfoSector, &info)
	w.put(start+backupBootSector+fsInfoSector, &info)

	// Every FAT starts with the media descriptor, the EOF marker of
	// cluster 1 and the one cluster root directory.
	zero := make([]byte, SectorSize)
	first := make([]byte, SectorSize)
	binary.LittleEndian.PutUint32(first[0:], 0x0FFFFF00|mediaFixed)
	binary.LittleEndian.PutUint32(first[4:], FAT32EOF)
	binary.LittleEndian.PutUint32(first[8:], FAT32EOF)

	for i := uint32(0); i < uint32(fats); i++ {
		fat := start + uint32(reserved) + i*fatSize
		w.write(fat, first)
		for s := uint32(1); s < fatSize; s++ {
			w.write(fat+s, zero)
		}
	}

	dataStart := start + uint32(reserved) + uint32(fats)*fatSize
	for s := uint32(0); s < uint32(spc); s++ {
		w.write(dataStart+s, zero)
	}

	return w.err
}

// fatGeometry finds the smallest FAT which can address all clusters left
// behind it.
func fatGeometry(sectors, reserved, fats, spc uint32) (fatSize uint32, clusters uint32) {
	fatSize = 1
	for {
		meta := reserved + fats*fatSize
		if meta >= sectors {
			return fatSize, 0
		}
		clusters = (sectors - meta) / spc
		needed := uint32((uint64(clusters+2)*4 + SectorSize - 1) / SectorSize)
		if needed <= fatSize {
			return fatSize, clusters
		}
		fatSize = needed
	}
}

// formatWriter keeps the first error so Format reads straight through.
type formatWriter struct {
	dev BlockDevice
	buf []byte
	err error
}

func (w *formatWriter) put(lba uint32, data interface{}) {
	if w.err != nil {
		return
	}
	b := bytes.NewBuffer(w.buf[:0])
	if err := binary.Write(b, binary.LittleEndian, data); err != nil {
		w.err = checkpoint.From(err)
		return
	}
	w.write(lba, b.Bytes())
}

func (w *formatWriter) write(lba uint32, data []byte) {
	if w.err != nil {
		return
	}
	w.err = checkpoint.From(w.dev.WriteSector(lba, data))
}
