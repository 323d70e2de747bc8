package sdfat

import (
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/sabt-braille/sdfat/checkpoint"
)

// appendTarget remembers which file AppendFile extends.
type appendTarget struct {
	location     Location
	startCluster uint32
}

// ListFiles returns name, size and attributes of every entry in the root directory.
func (fs *Fs) ListFiles() ([]os.FileInfo, error) {
	var result []os.FileInfo

	it := fs.List(fs.volume.RootCluster)
	for it.Next() {
		entry := it.Entry()
		result = append(result, entry.FileInfo())
	}

	return result, it.Err()
}

// ReadFile returns the complete content of a file in the root directory.
func (fs *Fs) ReadFile(name string) ([]byte, error) {
	entry, err := fs.Find(fs.volume.RootCluster, name)
	if err != nil {
		return nil, err
	}
	if entry.IsDir() {
		return nil, checkpoint.New(ErrInvalidName, "%q is a directory", name)
	}

	size := int64(entry.FileSize)
	data, err := fs.readFileAt(entry.FirstCluster(), size, 0, size)
	if err == io.EOF {
		err = nil
	}
	return data, err
}

// ReadFileAt reads at most size bytes at offset of a file in the root directory.
// If the file ends before, the data is returned together with io.EOF.
func (fs *Fs) ReadFileAt(name string, offset int64, size int) ([]byte, error) {
	if offset < 0 || size < 0 {
		return nil, checkpoint.New(ErrReadFile, "offset %d, size %d", offset, size)
	}

	entry, err := fs.Find(fs.volume.RootCluster, name)
	if err != nil {
		return nil, err
	}
	if entry.IsDir() {
		return nil, checkpoint.New(ErrInvalidName, "%q is a directory", name)
	}

	return fs.readFileAt(entry.FirstCluster(), int64(entry.FileSize), offset, int64(size))
}

// readFileAt reads at most readSize bytes at offset of the file of fileSize
// bytes stored in the chain starting at first. Like io.ReaderAt it returns
// io.EOF together with the data if the end of the file cut the read short.
func (fs *Fs) readFileAt(first uint32, fileSize int64, offset int64, readSize int64) ([]byte, error) {
	if offset >= fileSize {
		return []byte{}, io.EOF
	}

	end := offset + readSize
	if end > fileSize {
		end = fileSize
	}

	if first == 0 {
		return nil, checkpoint.New(ErrCorruptChain, "file of %d bytes has no cluster", fileSize)
	}

	result := make([]byte, 0, end-offset)
	clusterSize := int64(fs.volume.ClusterSize())
	skip := offset / clusterSize
	pos := int64(0)

	err := fs.eachCluster(first, func(cluster uint32) (bool, error) {
		if skip > 0 {
			skip--
			pos += clusterSize
			return true, nil
		}

		sector := fs.volume.FirstSector(cluster)
		for i := uint32(0); i < uint32(fs.volume.SectorsPerCluster); i++ {
			start, stop := pos, pos+SectorSize
			pos = stop

			if stop <= offset {
				continue
			}
			if start >= end {
				return false, nil
			}

			if err := fs.fetch(sector + i); err != nil {
				return false, err
			}

			lo, hi := int64(0), int64(SectorSize)
			if offset > start {
				lo = offset - start
			}
			if end < stop {
				hi = end - start
			}
			result = append(result, fs.sector.buffer[lo:hi]...)
		}

		return pos < end, nil
	})
	if err != nil {
		return result, err
	}

	if int64(len(result)) < end-offset {
		return result, checkpoint.New(ErrCorruptChain, "chain at %d ends before byte %d", first, offset+int64(len(result)))
	}

	if offset+readSize > fileSize {
		return result, io.EOF
	}
	return result, nil
}

// WriteFile creates name in the root directory or replaces its whole content.
// Either the new chain and the entry are written completely or, if the card
// is too full, nothing is changed at all.
func (fs *Fs) WriteFile(name string, content []byte) error {
	return fs.writeFile(name, content, true)
}

// ReplaceContents replaces the content of an existing file.
func (fs *Fs) ReplaceContents(name string, content []byte) error {
	return fs.writeFile(name, content, false)
}

func (fs *Fs) writeFile(name string, content []byte, create bool) error {
	short, err := ShortName(name)
	if err != nil {
		return err
	}
	if uint64(len(content)) > math.MaxUint32 {
		return checkpoint.New(ErrOutOfSpace, "%d bytes exceed the FAT32 file size limit", len(content))
	}

	scan, err := fs.scanDir(fs.volume.RootCluster, short)
	if err != nil {
		return err
	}

	if scan.found == nil && !create {
		return checkpoint.New(ErrFileNotFound, "%q", name)
	}
	if scan.found != nil && scan.found.IsDir() {
		return checkpoint.New(ErrInvalidName, "%q is a directory", name)
	}

	clusters := fs.volume.clustersFor(uint32(len(content)))
	needed := clusters
	if scan.found == nil && scan.free == nil {
		needed++
	}

	available, err := fs.TotalFree()
	if err != nil {
		return err
	}

	var old uint32
	if scan.found != nil && scan.found.FirstCluster() != 0 {
		old = scan.found.FirstCluster()
		_, count, err := fs.lastCluster(old)
		if err != nil {
			return err
		}
		available += count
	}

	if needed > available {
		return checkpoint.New(ErrOutOfSpace, "%q needs %d clusters, %d available", name, needed, available)
	}

	if scan.found != nil {
		fs.forgetDictionary(scan.found.Location)
	}

	var oldChain []uint32
	if old != 0 {
		if oldChain, err = fs.chain(old); err != nil {
			return err
		}
		if err := fs.releaseChain(old); err != nil {
			fs.restoreChain(oldChain)
			fs.InvalidateFreeCount()
			return err
		}
	}

	var first uint32
	if clusters > 0 {
		first, err = fs.allocateChain(clusters)
		if err != nil {
			// Nothing was written yet, the old clusters still hold the old content.
			fs.restoreChain(oldChain)
			return err
		}
		if err := fs.writeChain(first, content); err != nil {
			fs.rollback(first)
			if old != 0 {
				fs.detach(scan.found.Location)
			}
			return err
		}
	}

	date, clock := fs.stamp()
	entry := EntryHeader{
		Name:           short,
		Attribute:      AttrArchive,
		CreateTime:     clock,
		CreateDate:     date,
		LastAccessDate: date,
		WriteTime:      clock,
		WriteDate:      date,
		FileSize:       uint32(len(content)),
	}
	entry.setFirstCluster(first)

	var loc Location
	if scan.found != nil {
		loc = scan.found.Location
		err = fs.writeEntry(loc, &entry)
	} else {
		loc, err = fs.insertAt(scan, entry)
	}
	if err != nil {
		if first != 0 {
			fs.rollback(first)
		}
		if old != 0 {
			fs.detach(loc)
		}
		return err
	}

	fs.append = &appendTarget{location: loc, startCluster: first}
	return fs.Flush()
}

// detach empties the entry at loc after its chain was released, so it never
// points to clusters another file may get.
func (fs *Fs) detach(loc Location) {
	if err := fs.patchEntry(loc, 0, 0); err != nil {
		fs.log.Error("entry still points to released clusters", slog.Uint64("sector", uint64(loc.Sector)), slog.Any("err", err))
	}
}

// writeEntry replaces the complete entry at loc.
func (fs *Fs) writeEntry(loc Location, entry *EntryHeader) error {
	data := encodeEntry(entry)
	return fs.modify(loc.Sector, func(buf []byte) {
		copy(buf[loc.Offset:], data)
	})
}

// writeChain stores content into the clusters of the chain starting at first.
func (fs *Fs) writeChain(first uint32, content []byte) error {
	pos := 0
	return fs.eachCluster(first, func(cluster uint32) (bool, error) {
		n, err := fs.writeCluster(cluster, content[pos:])
		pos += n
		return pos < len(content), err
	})
}

// writeCluster overwrites the sectors of cluster with as much of data as fits.
func (fs *Fs) writeCluster(cluster uint32, data []byte) (int, error) {
	sector := fs.volume.FirstSector(cluster)
	written := 0
	for i := uint32(0); i < uint32(fs.volume.SectorsPerCluster) && written < len(data); i++ {
		end := written + SectorSize
		if end > len(data) {
			end = len(data)
		}
		if err := fs.overwrite(sector+i, data[written:end]); err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}

// writeInto copies data into cluster starting at offset without touching the
// bytes around it.
func (fs *Fs) writeInto(cluster uint32, offset uint32, data []byte) error {
	sector := fs.volume.FirstSector(cluster) + offset/SectorSize
	within := int(offset % SectorSize)

	for len(data) > 0 {
		var n int
		err := fs.modify(sector, func(buf []byte) {
			n = copy(buf[within:], data)
		})
		if err != nil {
			return err
		}
		data = data[n:]
		within = 0
		sector++
	}
	return nil
}

// OpenAppend selects the file which AppendFile extends.
func (fs *Fs) OpenAppend(name string) error {
	entry, err := fs.Find(fs.volume.RootCluster, name)
	if err != nil {
		return err
	}
	if entry.IsDir() {
		return checkpoint.New(ErrInvalidName, "%q is a directory", name)
	}

	fs.append = &appendTarget{location: entry.Location, startCluster: entry.FirstCluster()}
	return nil
}

// AppendFile adds content to the end of the file last written or opened with
// OpenAppend. The last cluster is filled up first, then new clusters are linked.
// Only size, first cluster and write stamp of the entry are rewritten.
func (fs *Fs) AppendFile(content []byte) error {
	target := fs.append
	if target == nil {
		return checkpoint.From(ErrNoAppendTarget)
	}
	if len(content) == 0 {
		return nil
	}

	slot, err := fs.slot(target.location)
	if err != nil {
		return err
	}
	if slot[0] == entryEmpty || slot[0] == entryDeleted {
		fs.append = nil
		return checkpoint.New(ErrFileNotFound, "append target was deleted")
	}
	entry, err := decodeEntry(slot)
	if err != nil {
		return err
	}

	size := entry.FileSize
	if uint64(size)+uint64(len(content)) > math.MaxUint32 {
		return checkpoint.New(ErrOutOfSpace, "append exceeds the FAT32 file size limit")
	}

	clusterSize := uint64(fs.volume.ClusterSize())
	first := entry.FirstCluster()

	// Clusters behind the one holding the last byte are cut off first.
	var last, count, keep uint32
	if first != 0 {
		keep = fs.volume.clustersFor(size)
		if keep == 0 {
			keep = 1
		}
		err = fs.eachCluster(first, func(cluster uint32) (bool, error) {
			count++
			if count == keep {
				last = cluster
			}
			return true, nil
		})
		if err != nil {
			return err
		}
		if count < keep {
			return checkpoint.New(ErrCorruptChain, "%d clusters cannot hold %d bytes", count, size)
		}
	}

	slack := uint32(uint64(keep)*clusterSize - uint64(size))
	toSlack := uint32(len(content))
	if toSlack > slack {
		toSlack = slack
	}

	needed := fs.volume.clustersFor(uint32(len(content)) - toSlack)
	available, err := fs.TotalFree()
	if err != nil {
		return err
	}
	available += count - keep
	if needed > available {
		return checkpoint.New(ErrOutOfSpace, "append needs %d clusters, %d available", needed, available)
	}

	fs.forgetDictionary(target.location)

	if count > keep {
		fs.log.Warn("chain longer than the file, releasing the rest",
			slog.Uint64("clusters", uint64(count)), slog.Uint64("size", uint64(size)))
		if err := fs.truncateAfter(last); err != nil {
			return err
		}
	}

	if toSlack > 0 {
		offset := size - (keep-1)*uint32(clusterSize)
		if err := fs.writeInto(last, offset, content[:toSlack]); err != nil {
			return err
		}
	}

	written := int(toSlack)
	tail := last
	var added uint32
	for written < len(content) {
		cluster, err := fs.AllocateAndLink(tail)
		if err == nil {
			var n int
			n, err = fs.writeCluster(cluster, content[written:])
			written += n
		}
		if err != nil {
			fs.undoAppend(last, added)
			return err
		}

		if added == 0 {
			added = cluster
		}
		if first == 0 {
			first = cluster
		}
		tail = cluster
	}

	if err := fs.patchEntry(target.location, first, size+uint32(len(content))); err != nil {
		fs.undoAppend(last, added)
		return err
	}

	target.startCluster = first
	return fs.Flush()
}

// undoAppend releases the clusters linked by a failed append.
func (fs *Fs) undoAppend(last uint32, added uint32) {
	switch {
	case last != 0:
		if err := fs.truncateAfter(last); err != nil {
			fs.log.Error("could not truncate after failed append", "err", err)
		}
	case added != 0:
		fs.rollback(added)
	}
}

// DeleteFile removes a file from the root directory. The slot is marked as
// deleted and the clusters are freed, the data itself stays on the card.
func (fs *Fs) DeleteFile(name string) error {
	entry, err := fs.Find(fs.volume.RootCluster, name)
	if err != nil {
		return err
	}
	if entry.IsDir() {
		return checkpoint.New(ErrInvalidName, "%q is a directory", name)
	}

	if err := fs.MarkDeleted(entry.Location); err != nil {
		return err
	}

	if fs.append != nil && fs.append.location == entry.Location {
		fs.append = nil
	}
	fs.forgetDictionary(entry.Location)

	if first := entry.FirstCluster(); first != 0 {
		if err := fs.releaseChain(first); err != nil {
			return err
		}
	}

	return fs.Flush()
}
