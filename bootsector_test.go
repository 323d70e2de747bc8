package sdfat

import (
	"errors"
	"testing"
)

// validBootSector returns the boot sector of a 1000 cluster volume.
func validBootSector() BootSector {
	return BootSector{
		JumpBoot:            [3]byte{0xEB, 0x58, 0x90},
		BytesPerSector:      512,
		SectorsPerCluster:   4,
		ReservedSectorCount: 32,
		NumFATs:             2,
		TotalSectors32:      32 + 2*8 + 4000,
		FATSize32:           8,
		RootCluster:         2,
		FSInfo:              1,
		FileSystemType:      fat32Type,
		VolumeLabel:         [11]byte{'S', 'A', 'B', 'T', ' ', ' ', ' ', ' ', ' ', ' ', ' '},
		EndSignature:        bootSignature,
	}
}

func Test_volumeFromBootSector(t *testing.T) {
	tests := []struct {
		name    string
		change  func(bs *BootSector)
		want    Volume
		wantErr error
	}{
		{
			name:   "valid",
			change: func(bs *BootSector) {},
			want: Volume{
				BytesPerSector:      512,
				SectorsPerCluster:   4,
				ReservedSectorCount: 32,
				NumFATs:             2,
				FATSize:             8,
				RootCluster:         2,
				TotalClusters:       1000,
				FirstDataSector:     100 + 48,
				FSInfoSector:        101,
				Label:               "SABT",
				partitionStart:      100,
			},
		},
		{
			name:   "FSInfo outside of the reserved area",
			change: func(bs *BootSector) { bs.FSInfo = 0xFFFF },
			want: Volume{
				BytesPerSector:      512,
				SectorsPerCluster:   4,
				ReservedSectorCount: 32,
				NumFATs:             2,
				FATSize:             8,
				RootCluster:         2,
				TotalClusters:       1000,
				FirstDataSector:     100 + 48,
				Label:               "SABT",
				partitionStart:      100,
			},
		},
		{
			name:    "signature",
			change:  func(bs *BootSector) { bs.EndSignature = 0 },
			wantErr: ErrInvalidSignature,
		},
		{
			name:    "sector size",
			change:  func(bs *BootSector) { bs.BytesPerSector = 4096 },
			wantErr: ErrUnsupportedVolume,
		},
		{
			name:    "FAT16",
			change:  func(bs *BootSector) { bs.FATSize32 = 0 },
			wantErr: ErrUnsupportedVolume,
		},
		{
			name:    "cluster size not a power of two",
			change:  func(bs *BootSector) { bs.SectorsPerCluster = 3 },
			wantErr: ErrUnsupportedVolume,
		},
		{
			name:    "no FAT",
			change:  func(bs *BootSector) { bs.NumFATs = 0 },
			wantErr: ErrUnsupportedVolume,
		},
		{
			name:    "FAT too small",
			change:  func(bs *BootSector) { bs.FATSize32 = 1; bs.TotalSectors32 = 32 + 2 + 4000 },
			wantErr: ErrUnsupportedVolume,
		},
		{
			name:    "no data region",
			change:  func(bs *BootSector) { bs.TotalSectors32 = 40 },
			wantErr: ErrUnsupportedVolume,
		},
		{
			name:    "root cluster behind the end",
			change:  func(bs *BootSector) { bs.RootCluster = 1002 },
			wantErr: ErrUnsupportedVolume,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bs := validBootSector()
			tt.change(&bs)

			got, err := volumeFromBootSector(&bs, 100)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("volumeFromBootSector() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && got != tt.want {
				t.Errorf("volumeFromBootSector() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestVolume_geometry(t *testing.T) {
	v := Volume{BytesPerSector: 512, SectorsPerCluster: 4, FirstDataSector: 148, TotalClusters: 1000}

	if got := v.ClusterSize(); got != 2048 {
		t.Errorf("ClusterSize() = %v, want 2048", got)
	}

	tests := []struct {
		cluster uint32
		want    uint32
	}{
		{cluster: 2, want: 148},
		{cluster: 3, want: 152},
		{cluster: 1001, want: 148 + 999*4},
	}
	for _, tt := range tests {
		if got := v.FirstSector(tt.cluster); got != tt.want {
			t.Errorf("FirstSector(%d) = %v, want %v", tt.cluster, got, tt.want)
		}
	}

	sizes := []struct {
		size uint32
		want uint32
	}{
		{size: 0, want: 0},
		{size: 1, want: 1},
		{size: 2048, want: 1},
		{size: 2049, want: 2},
		{size: 0xFFFFFFFF, want: 0x200000},
	}
	for _, tt := range sizes {
		if got := v.clustersFor(tt.size); got != tt.want {
			t.Errorf("clustersFor(%d) = %v, want %v", tt.size, got, tt.want)
		}
	}

	for cluster, want := range map[uint32]bool{0: false, 1: false, 2: true, 1001: true, 1002: false} {
		if got := v.validCluster(cluster); got != want {
			t.Errorf("validCluster(%d) = %v, want %v", cluster, got, want)
		}
	}
}

func Test_isBootSector(t *testing.T) {
	sector := make([]byte, SectorSize)
	if isBootSector(sector) {
		t.Error("isBootSector() of zeros = true")
	}

	sector[0] = 0xEB
	copy(sector[82:], "FAT32   ")
	if !isBootSector(sector) {
		t.Error("isBootSector() of a FAT32 boot sector = false")
	}
}
