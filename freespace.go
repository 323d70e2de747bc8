package sdfat

import (
	"bytes"
	"encoding/binary"
	"log/slog"

	"github.com/sabt-braille/sdfat/checkpoint"
)

// freeSpace caches the FSInfo counters. The count is only used for capacity
// decisions while trusted is set, otherwise the FAT gets scanned first.
type freeSpace struct {
	count   uint32
	next    uint32
	trusted bool
	dirty   bool
}

// loadFSInfo reads the counters from the FSInfo sector.
func (fs *Fs) loadFSInfo() error {
	fs.free = freeSpace{next: 2}

	if fs.volume.FSInfoSector == 0 {
		if fs.config.RequireFSInfo {
			return checkpoint.New(ErrInvalidSignature, "volume has no FSInfo sector")
		}
		fs.log.Warn("volume has no FSInfo sector, free space needs a FAT scan")
		return nil
	}

	if err := fs.fetch(fs.volume.FSInfoSector); err != nil {
		return err
	}

	info := FSInfo{}
	if err := binary.Read(bytes.NewReader(fs.sector.buffer), binary.LittleEndian, &info); err != nil {
		return checkpoint.From(err)
	}

	if !info.valid() {
		if fs.config.RequireFSInfo {
			return checkpoint.New(ErrInvalidSignature, "FSInfo lead 0x%08X, struct 0x%08X, trail 0x%08X",
				info.LeadSignature, info.StructSignature, info.TrailSignature)
		}
		fs.log.Warn("invalid FSInfo signatures, free space needs a FAT scan")
		return nil
	}

	if info.FreeCount != fsInfoUnknown && info.FreeCount <= fs.volume.TotalClusters {
		fs.free.count = info.FreeCount
		fs.free.trusted = true
	}
	if fs.volume.validCluster(info.NextFree) {
		fs.free.next = info.NextFree
	}

	return nil
}

// TotalFree returns the number of free clusters. If the cached count is not
// trusted, the whole FAT is scanned once.
func (fs *Fs) TotalFree() (uint32, error) {
	if fs.free.trusted {
		return fs.free.count, nil
	}

	var count uint32
	for cluster := uint32(2); cluster <= fs.volume.maxCluster(); cluster++ {
		entry, err := fs.readFATEntry(cluster)
		if err != nil {
			return 0, err
		}
		if entry.IsFree() {
			count++
		}
	}

	fs.log.Debug("counted free clusters", slog.Uint64("free", uint64(count)))

	fs.free.count = count
	fs.free.trusted = true
	fs.free.dirty = true
	return count, nil
}

// NextFreeHint returns the cluster where the search for a free cluster starts.
func (fs *Fs) NextFreeHint() uint32 {
	if !fs.volume.validCluster(fs.free.next) {
		return 2
	}
	return fs.free.next
}

// InvalidateFreeCount drops the cached count, e.g. after an unclean shutdown.
// The next capacity query scans the FAT.
func (fs *Fs) InvalidateFreeCount() {
	fs.free.trusted = false
	fs.free.dirty = true
}

func (fs *Fs) markAllocated(cluster uint32) {
	if fs.free.trusted && fs.free.count > 0 {
		fs.free.count--
	}
	fs.free.next = cluster + 1
	fs.free.dirty = true
}

func (fs *Fs) markFreed(cluster uint32) {
	if fs.free.trusted {
		fs.free.count++
	}
	if cluster < fs.NextFreeHint() {
		fs.free.next = cluster
	}
	fs.free.dirty = true
}

// Flush writes both counters back to the FSInfo sector if they changed.
func (fs *Fs) Flush() error {
	if !fs.free.dirty || fs.volume.FSInfoSector == 0 {
		return nil
	}

	count := uint32(fsInfoUnknown)
	if fs.free.trusted {
		count = fs.free.count
	}
	next := fs.NextFreeHint()

	err := fs.modify(fs.volume.FSInfoSector, func(buf []byte) {
		// Rewriting the signatures repairs a damaged FSInfo sector.
		binary.LittleEndian.PutUint32(buf[0:], fsInfoLeadSignature)
		binary.LittleEndian.PutUint32(buf[484:], fsInfoStructSignature)
		binary.LittleEndian.PutUint32(buf[488:], count)
		binary.LittleEndian.PutUint32(buf[492:], next)
		binary.LittleEndian.PutUint32(buf[508:], fsInfoTrailSignature)
	})
	if err != nil {
		return err
	}

	fs.free.dirty = false
	return nil
}
