package sdfat

import (
	"encoding/binary"
	"errors"
	"log/slog"

	"github.com/sabt-braille/sdfat/checkpoint"
)

// fatLocation returns the sector and the byte offset of the entry of cluster
// inside the given FAT copy.
func (fs *Fs) fatLocation(cluster uint32, fat uint8) (uint32, int) {
	offset := cluster * 4
	sector := fs.volume.partitionStart +
		uint32(fs.volume.ReservedSectorCount) +
		uint32(fat)*fs.volume.FATSize +
		offset/SectorSize
	return sector, int(offset % SectorSize)
}

// readFATEntry reads the entry of cluster from the primary FAT.
func (fs *Fs) readFATEntry(cluster uint32) (fatEntry, error) {
	sector, offset := fs.fatLocation(cluster, 0)
	if err := fs.fetch(sector); err != nil {
		return 0, err
	}
	return fatEntry(binary.LittleEndian.Uint32(fs.sector.buffer[offset:])), nil
}

// writeFATEntry sets the entry of cluster in every FAT copy. A failing primary
// copy aborts with its error. A failing secondary copy is reported as
// *MirrorError after all other copies were written.
func (fs *Fs) writeFATEntry(cluster uint32, value uint32) error {
	var mirrorErr error
	for i := uint8(0); i < fs.volume.NumFATs; i++ {
		sector, offset := fs.fatLocation(cluster, i)
		err := fs.modify(sector, func(buf []byte) {
			old := fatEntry(binary.LittleEndian.Uint32(buf[offset:]))
			binary.LittleEndian.PutUint32(buf[offset:], uint32(old.encode(value)))
		})
		if err == nil {
			continue
		}
		if i == 0 {
			return err
		}
		if mirrorErr == nil {
			mirrorErr = &MirrorError{Copy: int(i), Cluster: cluster, Err: err}
		}
	}
	return mirrorErr
}

// NextCluster returns the raw 28 bit link stored for cluster.
// The result is FAT32EOF or above for the last cluster of a chain.
func (fs *Fs) NextCluster(cluster uint32) (uint32, error) {
	if !fs.volume.validCluster(cluster) {
		return 0, checkpoint.New(ErrCorruptChain, "cluster %d out of range", cluster)
	}

	entry, err := fs.readFATEntry(cluster)
	if err != nil {
		return 0, err
	}
	return entry.Value(), nil
}

// SetNextCluster links cluster to value in all FAT copies.
// If only a secondary copy could not be written the returned error matches
// ErrDegradedMirror and the link is in place.
func (fs *Fs) SetNextCluster(cluster uint32, value uint32) error {
	if !fs.volume.validCluster(cluster) {
		return checkpoint.New(ErrCorruptChain, "cluster %d out of range", cluster)
	}
	return checkpoint.From(fs.writeFATEntry(cluster, value))
}

// setNext is used inside the engine which accepts degraded redundancy.
func (fs *Fs) setNext(cluster uint32, value uint32) error {
	err := fs.SetNextCluster(cluster, value)
	if errors.Is(err, ErrDegradedMirror) {
		fs.log.Warn("FAT mirror out of sync", slog.Uint64("cluster", uint64(cluster)), slog.Any("err", err))
		return nil
	}
	return err
}

// follow returns the cluster after cluster, or eof at the end of the chain.
func (fs *Fs) follow(cluster uint32) (next uint32, eof bool, err error) {
	next, err = fs.NextCluster(cluster)
	if err != nil {
		return 0, false, err
	}

	entry := fatEntry(next)
	switch {
	case entry.IsEOF():
		return 0, true, nil
	case entry.IsNextCluster() && fs.volume.validCluster(next):
		return next, false, nil
	default:
		return 0, false, checkpoint.New(ErrCorruptChain, "cluster %d links to 0x%07X", cluster, next)
	}
}

// eachCluster calls fn for every cluster of the chain starting at first.
// Returning false from fn stops the walk early.
func (fs *Fs) eachCluster(first uint32, fn func(cluster uint32) (bool, error)) error {
	if !fs.volume.validCluster(first) {
		return checkpoint.New(ErrCorruptChain, "chain starts at cluster %d", first)
	}

	cluster := first
	for visited := uint32(1); ; visited++ {
		// A chain longer than the volume must revisit a cluster.
		if visited > fs.volume.TotalClusters {
			return checkpoint.New(ErrCorruptChain, "cycle in chain starting at %d", first)
		}

		more, err := fn(cluster)
		if err != nil || !more {
			return err
		}

		next, eof, err := fs.follow(cluster)
		if err != nil {
			return err
		}
		if eof {
			return nil
		}
		cluster = next
	}
}

// chain returns all clusters of the chain starting at first.
func (fs *Fs) chain(first uint32) ([]uint32, error) {
	var clusters []uint32
	err := fs.eachCluster(first, func(cluster uint32) (bool, error) {
		clusters = append(clusters, cluster)
		return true, nil
	})
	return clusters, err
}

// lastCluster returns the tail of a chain and its length.
func (fs *Fs) lastCluster(first uint32) (last uint32, count uint32, err error) {
	err = fs.eachCluster(first, func(cluster uint32) (bool, error) {
		last = cluster
		count++
		return true, nil
	})
	return last, count, err
}

// findFree scans the FAT for the lowest free cluster at or after the hint,
// wrapping around to cluster 2.
func (fs *Fs) findFree() (uint32, error) {
	hint := fs.NextFreeHint()
	last := fs.volume.maxCluster()

	scan := func(from, to uint32) (uint32, error) {
		for cluster := from; cluster <= to; cluster++ {
			entry, err := fs.readFATEntry(cluster)
			if err != nil {
				return 0, err
			}
			if entry.IsFree() {
				return cluster, nil
			}
		}
		return 0, nil
	}

	cluster, err := scan(hint, last)
	if err != nil || cluster != 0 {
		return cluster, err
	}

	if hint > 2 {
		cluster, err = scan(2, hint-1)
		if err != nil || cluster != 0 {
			return cluster, err
		}
	}

	if fs.free.trusted && fs.free.count > 0 {
		fs.log.Warn("free cluster count is wrong, rescanning", slog.Uint64("count", uint64(fs.free.count)))
		fs.InvalidateFreeCount()
	}
	return 0, checkpoint.New(ErrOutOfSpace, "all %d clusters in use", fs.volume.TotalClusters)
}

// AllocateAndLink takes a free cluster, terminates it with EOF and appends it
// to the chain ending in tail. A tail of 0 starts a new chain.
func (fs *Fs) AllocateAndLink(tail uint32) (uint32, error) {
	if tail != 0 && !fs.volume.validCluster(tail) {
		return 0, checkpoint.New(ErrCorruptChain, "tail cluster %d out of range", tail)
	}

	cluster, err := fs.findFree()
	if err != nil {
		return 0, err
	}

	if err := fs.setNext(cluster, FAT32EOF); err != nil {
		return 0, err
	}
	fs.markAllocated(cluster)

	if tail != 0 {
		if err := fs.setNext(tail, cluster); err != nil {
			return 0, err
		}
	}

	return cluster, nil
}

// allocateChain builds a new chain of count clusters. On failure all clusters
// taken so far are released again.
func (fs *Fs) allocateChain(count uint32) (first uint32, err error) {
	var last uint32
	for i := uint32(0); i < count; i++ {
		cluster, err := fs.AllocateAndLink(last)
		if err != nil {
			if first != 0 {
				fs.rollback(first)
			}
			return 0, err
		}
		if first == 0 {
			first = cluster
		}
		last = cluster
	}
	return first, nil
}

// releaseChain resets every cluster of the chain to free and counts it back.
func (fs *Fs) releaseChain(first uint32) error {
	if !fs.volume.validCluster(first) {
		return checkpoint.New(ErrCorruptChain, "chain starts at cluster %d", first)
	}

	cluster := first
	for released := uint32(0); ; released++ {
		if released >= fs.volume.TotalClusters {
			return checkpoint.New(ErrCorruptChain, "cycle in chain starting at %d", first)
		}

		next, eof, err := fs.follow(cluster)
		if err != nil {
			return err
		}

		if err := fs.setNext(cluster, 0); err != nil {
			return err
		}
		fs.markFreed(cluster)

		if eof {
			return nil
		}
		cluster = next
	}
}

// truncateAfter makes cluster the last one of its chain and releases the rest.
func (fs *Fs) truncateAfter(cluster uint32) error {
	next, eof, err := fs.follow(cluster)
	if err != nil {
		return err
	}
	if err := fs.setNext(cluster, FAT32EOF); err != nil {
		return err
	}
	if eof {
		return nil
	}
	return fs.releaseChain(next)
}

// rollback releases a chain after a failed operation. Its own errors are
// only logged, the caller returns the error of the operation.
func (fs *Fs) rollback(first uint32) {
	if err := fs.releaseChain(first); err != nil {
		fs.log.Error("could not release clusters after failure", slog.Uint64("cluster", uint64(first)), slog.Any("err", err))
	}
}

// restoreChain links clusters again in their order after releaseChain freed
// them. Its own errors are only logged.
func (fs *Fs) restoreChain(clusters []uint32) {
	for i, cluster := range clusters {
		value := uint32(FAT32EOF)
		if i+1 < len(clusters) {
			value = clusters[i+1]
		}
		if err := fs.setNext(cluster, value); err != nil {
			fs.log.Error("could not restore chain", slog.Uint64("cluster", uint64(cluster)), slog.Any("err", err))
			return
		}
		fs.markAllocated(cluster)
	}
}
