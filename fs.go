package sdfat

import (
	"io"
	"log/slog"
	"time"

	"github.com/sabt-braille/sdfat/checkpoint"
)

// MaxDictClusters is the default number of clusters a dictionary file may span.
const MaxDictClusters = 512

// Config changes how a card is mounted. The zero value is usable.
type Config struct {
	// Logger receives all log output. Nil discards it.
	Logger *slog.Logger
	// Verbose logs the volume geometry after mounting.
	Verbose bool
	// RequireFSInfo makes a missing or damaged FSInfo sector fatal instead of
	// only forcing a FAT scan.
	RequireFSInfo bool
	// DictionaryClusters bounds the cluster list of the dictionary file.
	// 0 means MaxDictClusters, a negative value lets the list grow without bound.
	DictionaryClusters int
	// Clock is used for the timestamps of written entries. Nil means time.Now.
	Clock func() time.Time
}

// Fs is the FAT32 engine. It owns the volume geometry, the free space
// counters and the single working buffer. It must not be used concurrently.
type Fs struct {
	dev    BlockDevice
	config Config
	log    *slog.Logger

	partition Partition
	volume    Volume
	sector    Sector
	free      freeSpace

	append *appendTarget
	dict   *Dictionary
}

// New mounts the FAT32 volume found on dev.
func New(dev BlockDevice, config Config) (*Fs, error) {
	fs := &Fs{
		dev:    dev,
		config: config,
		log:    config.Logger,
		sector: newSector(),
	}

	if fs.log == nil {
		fs.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if fs.config.Clock == nil {
		fs.config.Clock = time.Now
	}
	if fs.config.DictionaryClusters == 0 {
		fs.config.DictionaryClusters = MaxDictClusters
	}

	if err := fs.readVolume(); err != nil {
		return nil, err
	}

	if err := fs.loadFSInfo(); err != nil {
		return nil, err
	}

	if config.Verbose {
		fs.log.Info("partition",
			slog.Int("type", int(fs.partition.Type)),
			slog.Uint64("start", uint64(fs.partition.Start)),
			slog.Uint64("sectors", uint64(fs.partition.Size)),
		)
		fs.log.Info("volume",
			slog.String("label", fs.volume.Label),
			slog.Int("sectorsPerCluster", int(fs.volume.SectorsPerCluster)),
			slog.Int("reservedSectors", int(fs.volume.ReservedSectorCount)),
			slog.Int("fats", int(fs.volume.NumFATs)),
			slog.Uint64("fatSize", uint64(fs.volume.FATSize)),
			slog.Uint64("rootCluster", uint64(fs.volume.RootCluster)),
			slog.Uint64("totalClusters", uint64(fs.volume.TotalClusters)),
			slog.Uint64("firstDataSector", uint64(fs.volume.FirstDataSector)),
		)
		fs.log.Info("free space",
			slog.Bool("trusted", fs.free.trusted),
			slog.Uint64("freeClusters", uint64(fs.free.count)),
			slog.Uint64("nextFree", uint64(fs.NextFreeHint())),
		)
	}

	return fs, nil
}

// Volume returns the geometry of the mounted volume.
func (fs *Fs) Volume() Volume {
	return fs.volume
}

// Partition returns the partition the volume lives in.
func (fs *Fs) Partition() Partition {
	return fs.partition
}

// Stats is the memory statistic of the card in bytes.
type Stats struct {
	TotalBytes uint64
	FreeBytes  uint64
}

// Stats returns the size and free space of the volume.
func (fs *Fs) Stats() (Stats, error) {
	free, err := fs.TotalFree()
	if err != nil {
		return Stats{}, err
	}

	clusterSize := uint64(fs.volume.ClusterSize())
	return Stats{
		TotalBytes: uint64(fs.volume.TotalClusters) * clusterSize,
		FreeBytes:  uint64(free) * clusterSize,
	}, nil
}

// Sync writes the free space counters and any buffered sector.
func (fs *Fs) Sync() error {
	if err := fs.Flush(); err != nil {
		return err
	}
	return fs.store()
}

// Close syncs the card and forgets the append target and the dictionary.
func (fs *Fs) Close() error {
	err := fs.Sync()
	fs.append = nil
	fs.dict = nil
	fs.sector.current = noSector
	return checkpoint.From(err)
}

// stamp returns the current FAT date and time.
func (fs *Fs) stamp() (date uint16, clock uint16) {
	now := fs.config.Clock()
	return FormatDate(now), FormatTime(now)
}
