package sdfat

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sabt-braille/sdfat/device"
	"github.com/spf13/afero"
)

func Test_fatGeometry(t *testing.T) {
	tests := []struct {
		name         string
		sectors      uint32
		spc          uint32
		wantFATSize  uint32
		wantClusters uint32
	}{
		{name: "tiny", sectors: 32 + 2*1 + 10, spc: 1, wantFATSize: 1, wantClusters: 10},
		{name: "two FAT sectors", sectors: 32 + 2*2 + 200, spc: 1, wantFATSize: 2, wantClusters: 200},
		{name: "grows twice", sectors: 32 + 2*8 + 1000*4, spc: 4, wantFATSize: 8, wantClusters: 1000},
		{name: "left over sectors", sectors: 32 + 2*1 + 10*8 + 7, spc: 8, wantFATSize: 1, wantClusters: 10},
		{name: "no room", sectors: 30, spc: 1, wantFATSize: 1, wantClusters: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fatSize, clusters := fatGeometry(tt.sectors, 32, 2, tt.spc)
			if fatSize != tt.wantFATSize || clusters != tt.wantClusters {
				t.Errorf("fatGeometry() = %v, %v, want %v, %v", fatSize, clusters, tt.wantFATSize, tt.wantClusters)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name      string
		sectors   uint32
		opts      FormatOptions
		wantStart uint32
		wantSPC   uint8
		wantLabel string
	}{
		{
			name:      "defaults",
			sectors:   2048 + 32 + 2*1 + 8*20,
			opts:      FormatOptions{},
			wantStart: 2048,
			wantSPC:   8,
			wantLabel: "NO NAME",
		},
		{
			name:      "small partition",
			sectors:   testCardSectors(100, 2),
			opts:      FormatOptions{PartitionStart: testStart, SectorsPerCluster: 2, Label: "SABT"},
			wantStart: testStart,
			wantSPC:   2,
			wantLabel: "SABT",
		},
		{
			name:      "superfloppy",
			sectors:   32 + 2*1 + 50,
			opts:      FormatOptions{PartitionStart: -1, SectorsPerCluster: 1, Label: "FLOPPY"},
			wantStart: 0,
			wantSPC:   1,
			wantLabel: "FLOPPY",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := device.CreateImage(afero.NewMemMapFs(), "card.img", tt.sectors)
			if err != nil {
				t.Fatal(err)
			}
			if err := Format(img, tt.sectors, tt.opts); err != nil {
				t.Fatalf("Format() error = %v", err)
			}

			fs := mount(t, img, Config{RequireFSInfo: true})
			v := fs.Volume()
			if fs.Partition().Start != tt.wantStart {
				t.Errorf("partition start = %v, want %v", fs.Partition().Start, tt.wantStart)
			}
			if tt.wantStart != 0 && fs.Partition().Type != partitionTypeFAT32LBA {
				t.Errorf("partition type = 0x%02X, want 0x0C", fs.Partition().Type)
			}
			if v.SectorsPerCluster != tt.wantSPC {
				t.Errorf("SectorsPerCluster = %v, want %v", v.SectorsPerCluster, tt.wantSPC)
			}
			if v.Label != tt.wantLabel {
				t.Errorf("Label = %q, want %q", v.Label, tt.wantLabel)
			}
			if v.RootCluster != 2 {
				t.Errorf("RootCluster = %v, want 2", v.RootCluster)
			}

			free, err := fs.TotalFree()
			if err != nil {
				t.Fatal(err)
			}
			if free != v.TotalClusters-1 {
				t.Errorf("TotalFree() = %v, want %v", free, v.TotalClusters-1)
			}

			// The FSInfo count must match a real scan.
			fs.InvalidateFreeCount()
			if scanned, _ := fs.TotalFree(); scanned != free {
				t.Errorf("scanned free clusters = %v, FSInfo said %v", scanned, free)
			}

			primary := make([]byte, SectorSize)
			backup := make([]byte, SectorSize)
			if err := img.ReadSector(tt.wantStart, primary); err != nil {
				t.Fatal(err)
			}
			if err := img.ReadSector(tt.wantStart+backupBootSector, backup); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(primary, backup) {
				t.Error("backup boot sector differs")
			}

			if raw := rawFATEntry(t, fs, 2, 1); raw != FAT32EOF {
				t.Errorf("root cluster in the second FAT = 0x%X, want EOF", raw)
			}
		})
	}
}

func TestFormat_errors(t *testing.T) {
	tests := []struct {
		name    string
		sectors uint32
		opts    FormatOptions
		wantErr error
	}{
		{name: "cluster size", sectors: 1000, opts: FormatOptions{PartitionStart: 8, SectorsPerCluster: 3}, wantErr: ErrUnsupportedVolume},
		{name: "no room for backup", sectors: 1000, opts: FormatOptions{PartitionStart: 8, ReservedSectors: 4}, wantErr: ErrUnsupportedVolume},
		{name: "label", sectors: 1000, opts: FormatOptions{PartitionStart: 8, Label: "A VERY LONG LABEL"}, wantErr: ErrInvalidName},
		{name: "start behind the end", sectors: 100, opts: FormatOptions{}, wantErr: ErrUnsupportedVolume},
		{name: "no cluster left", sectors: 8 + 34, opts: FormatOptions{PartitionStart: 8, SectorsPerCluster: 1}, wantErr: ErrUnsupportedVolume},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := device.CreateImage(afero.NewMemMapFs(), "card.img", tt.sectors)
			if err != nil {
				t.Fatal(err)
			}

			if err := Format(img, tt.sectors, tt.opts); !errors.Is(err, tt.wantErr) {
				t.Errorf("Format() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFormat_writeError(t *testing.T) {
	sectors := testCardSectors(10, 1)
	img, err := device.CreateImage(afero.NewMemMapFs(), "card.img", sectors)
	if err != nil {
		t.Fatal(err)
	}

	dev := &faultyDevice{BlockDevice: img, failWrite: func(lba uint32) bool { return lba == testStart+backupBootSector }}
	err = Format(dev, sectors, FormatOptions{PartitionStart: testStart, SectorsPerCluster: 1})
	if !errors.Is(err, errFaulty) {
		t.Errorf("Format() error = %v, want %v", err, errFaulty)
	}
}
