package sdfat

import (
	"bytes"
	"encoding/binary"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/sabt-braille/sdfat/device"
	"github.com/spf13/afero"
)

// testStart is the partition start of all test cards.
const testStart = 8

// testTime is the clock of every mounted test card.
var testTime = time.Date(2024, 5, 17, 10, 30, 20, 0, time.UTC)

func testClock() time.Time { return testTime }

// testCardSectors returns the size of a card with the given number of data
// clusters, formatted with the test defaults.
func testCardSectors(clusters uint32, spc uint8) uint32 {
	fatSize := ((clusters+2)*4 + SectorSize - 1) / SectorSize
	return testStart + 32 + 2*fatSize + clusters*uint32(spc)
}

// newTestCard formats an in-memory image with exactly clusters data clusters.
func newTestCard(t *testing.T, clusters uint32, spc uint8) *device.Image {
	t.Helper()

	sectors := testCardSectors(clusters, spc)
	img, err := device.CreateImage(afero.NewMemMapFs(), "card.img", sectors)
	if err != nil {
		t.Fatalf("CreateImage() error = %v", err)
	}

	opts := FormatOptions{PartitionStart: testStart, SectorsPerCluster: spc, Label: "TEST"}
	if err := Format(img, sectors, opts); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	return img
}

// mount mounts dev with the test clock.
func mount(t *testing.T, dev BlockDevice, config Config) *Fs {
	t.Helper()

	config.Clock = testClock
	fs, err := New(dev, config)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return fs
}

// newTestFs returns a mounted card with clusters data clusters of spc sectors.
// The root directory takes the first cluster.
func newTestFs(t *testing.T, clusters uint32, spc uint8) (*Fs, *device.Image) {
	t.Helper()

	img := newTestCard(t, clusters, spc)
	fs := mount(t, img, Config{})
	if fs.volume.TotalClusters != clusters {
		t.Fatalf("test card has %d clusters, want %d", fs.volume.TotalClusters, clusters)
	}
	return fs, img
}

// patchSector changes a sector directly on the device.
func patchSector(t *testing.T, dev BlockDevice, lba uint32, fn func(buf []byte)) {
	t.Helper()

	buf := make([]byte, SectorSize)
	if err := dev.ReadSector(lba, buf); err != nil {
		t.Fatalf("ReadSector(%d) error = %v", lba, err)
	}
	fn(buf)
	if err := dev.WriteSector(lba, buf); err != nil {
		t.Fatalf("WriteSector(%d) error = %v", lba, err)
	}
}

// rawFATEntry reads the complete 32 bit entry of cluster from a FAT copy.
func rawFATEntry(t *testing.T, fs *Fs, cluster uint32, fat uint8) uint32 {
	t.Helper()

	sector, offset := fs.fatLocation(cluster, fat)
	buf := make([]byte, SectorSize)
	if err := fs.dev.ReadSector(sector, buf); err != nil {
		t.Fatalf("ReadSector(%d) error = %v", sector, err)
	}
	return binary.LittleEndian.Uint32(buf[offset:])
}

// faultyDevice fails reads or writes of selected sectors.
type faultyDevice struct {
	BlockDevice
	failRead  func(lba uint32) bool
	failWrite func(lba uint32) bool
}

var errFaulty = errors.New("sector not reachable")

func (d *faultyDevice) ReadSector(lba uint32, dst []byte) error {
	if d.failRead != nil && d.failRead(lba) {
		return errFaulty
	}
	return d.BlockDevice.ReadSector(lba, dst)
}

func (d *faultyDevice) WriteSector(lba uint32, src []byte) error {
	if d.failWrite != nil && d.failWrite(lba) {
		return errFaulty
	}
	return d.BlockDevice.WriteSector(lba, src)
}

func TestNew(t *testing.T) {
	bootSector := uint32(testStart)
	fsInfo := uint32(testStart + 1)

	tests := []struct {
		name          string
		opts          FormatOptions
		patch         map[uint32]func(buf []byte)
		config        Config
		wantErr       error
		wantStart     uint32
		wantTrusted   bool
		wantFSInfoSec uint32
	}{
		{
			name:          "formatted card",
			opts:          FormatOptions{PartitionStart: testStart, SectorsPerCluster: 1},
			wantStart:     testStart,
			wantTrusted:   true,
			wantFSInfoSec: fsInfo,
		},
		{
			name:          "volume without partition table",
			opts:          FormatOptions{PartitionStart: -1, SectorsPerCluster: 1},
			wantStart:     0,
			wantTrusted:   true,
			wantFSInfoSec: 1,
		},
		{
			name: "broken MBR signature",
			opts: FormatOptions{PartitionStart: testStart, SectorsPerCluster: 1},
			patch: map[uint32]func([]byte){
				0: func(buf []byte) { buf[510] = 0 },
			},
			wantErr: ErrInvalidSignature,
		},
		{
			name: "empty partition table",
			opts: FormatOptions{PartitionStart: testStart, SectorsPerCluster: 1},
			patch: map[uint32]func([]byte){
				0: func(buf []byte) {
					for i := 446; i < 510; i++ {
						buf[i] = 0
					}
				},
			},
			wantErr: ErrUnsupportedVolume,
		},
		{
			name: "FAT16 sector count",
			opts: FormatOptions{PartitionStart: testStart, SectorsPerCluster: 1},
			patch: map[uint32]func([]byte){
				bootSector: func(buf []byte) { binary.LittleEndian.PutUint16(buf[19:], 1000) },
			},
			wantErr: ErrUnsupportedVolume,
		},
		{
			name: "1024 byte sectors",
			opts: FormatOptions{PartitionStart: testStart, SectorsPerCluster: 1},
			patch: map[uint32]func([]byte){
				bootSector: func(buf []byte) { binary.LittleEndian.PutUint16(buf[11:], 1024) },
			},
			wantErr: ErrUnsupportedVolume,
		},
		{
			name: "broken boot sector signature",
			opts: FormatOptions{PartitionStart: testStart, SectorsPerCluster: 1},
			patch: map[uint32]func([]byte){
				bootSector: func(buf []byte) { buf[511] = 0 },
			},
			wantErr: ErrInvalidSignature,
		},
		{
			name: "damaged FSInfo is tolerated",
			opts: FormatOptions{PartitionStart: testStart, SectorsPerCluster: 1},
			patch: map[uint32]func([]byte){
				fsInfo: func(buf []byte) { buf[0] = 0 },
			},
			wantStart:     testStart,
			wantTrusted:   false,
			wantFSInfoSec: fsInfo,
		},
		{
			name: "damaged FSInfo is required",
			opts: FormatOptions{PartitionStart: testStart, SectorsPerCluster: 1},
			patch: map[uint32]func([]byte){
				fsInfo: func(buf []byte) { binary.LittleEndian.PutUint32(buf[484:], 0) },
			},
			config:  Config{RequireFSInfo: true},
			wantErr: ErrInvalidSignature,
		},
		{
			name: "unknown free count",
			opts: FormatOptions{PartitionStart: testStart, SectorsPerCluster: 1},
			patch: map[uint32]func([]byte){
				fsInfo: func(buf []byte) { binary.LittleEndian.PutUint32(buf[488:], fsInfoUnknown) },
			},
			wantStart:     testStart,
			wantTrusted:   false,
			wantFSInfoSec: fsInfo,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := uint32(testStart)
			if tt.opts.PartitionStart < 0 {
				start = 0
			}
			sectors := start + 32 + 2 + 10

			img, err := device.CreateImage(afero.NewMemMapFs(), "card.img", sectors)
			if err != nil {
				t.Fatal(err)
			}
			if err := Format(img, sectors, tt.opts); err != nil {
				t.Fatalf("Format() error = %v", err)
			}
			for lba, fn := range tt.patch {
				patchSector(t, img, lba, fn)
			}

			got, err := New(img, tt.config)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}

			if got.Partition().Start != tt.wantStart {
				t.Errorf("Partition().Start = %v, want %v", got.Partition().Start, tt.wantStart)
			}
			if got.Volume().TotalClusters != 10 {
				t.Errorf("Volume().TotalClusters = %v, want 10", got.Volume().TotalClusters)
			}
			if got.Volume().FSInfoSector != tt.wantFSInfoSec {
				t.Errorf("Volume().FSInfoSector = %v, want %v", got.Volume().FSInfoSector, tt.wantFSInfoSec)
			}
			if got.free.trusted != tt.wantTrusted {
				t.Errorf("free.trusted = %v, want %v", got.free.trusted, tt.wantTrusted)
			}

			free, err := got.TotalFree()
			if err != nil {
				t.Fatalf("TotalFree() error = %v", err)
			}
			if free != 9 {
				t.Errorf("TotalFree() = %v, want 9", free)
			}
		})
	}
}

func TestNew_readError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	dev := NewMockBlockDevice(ctrl)
	dev.EXPECT().ReadSector(uint32(0), gomock.Any()).Return(errFaulty)

	if _, err := New(dev, Config{}); !errors.Is(err, errFaulty) {
		t.Errorf("New() error = %v, want %v", err, errFaulty)
	}
}

func TestNew_verbose(t *testing.T) {
	img := newTestCard(t, 10, 1)

	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&out, nil))
	mount(t, img, Config{Logger: logger, Verbose: true})

	for _, want := range []string{"msg=volume", "label=TEST", "totalClusters=10", "freeClusters=9"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("log output misses %q:\n%s", want, out.String())
		}
	}
}

func TestFs_Stats(t *testing.T) {
	fs, _ := newTestFs(t, 10, 2)

	got, err := fs.Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}

	want := Stats{TotalBytes: 10 * 1024, FreeBytes: 9 * 1024}
	if got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
}

func TestFs_Close(t *testing.T) {
	fs, img := newTestFs(t, 10, 1)

	if err := fs.WriteFile("A.TXT", []byte("abc")); err != nil {
		t.Fatal(err)
	}
	if err := fs.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if fs.append != nil || fs.dict != nil {
		t.Error("Close() kept the append target or the dictionary")
	}

	// A second mount sees the flushed counters.
	again := mount(t, img, Config{})
	if !again.free.trusted || again.free.count != 8 {
		t.Errorf("free after remount = %+v, want 8 trusted", again.free)
	}
}
