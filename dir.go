package sdfat

import (
	"bytes"
	"encoding/binary"

	"github.com/sabt-braille/sdfat/checkpoint"
)

// Location identifies one directory slot on the card.
type Location struct {
	// Sector is the absolute sector holding the slot.
	Sector uint32
	// Offset is the byte offset of the slot inside the sector.
	Offset int
}

// DirEntry is a directory entry together with the slot it was read from.
type DirEntry struct {
	EntryHeader
	Location Location
}

// Name returns the entry name as "NAME.EXT".
func (e *DirEntry) Name() string {
	return displayName(e.EntryHeader.Name)
}

// IsDir reports whether the entry is a subdirectory.
func (e *DirEntry) IsDir() bool {
	return e.Attribute&AttrDirectory != 0
}

func decodeEntry(slot []byte) (EntryHeader, error) {
	h := EntryHeader{}
	err := binary.Read(bytes.NewReader(slot[:DirEntrySize]), binary.LittleEndian, &h)
	return h, checkpoint.From(err)
}

func encodeEntry(h *EntryHeader) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, DirEntrySize))
	// Writing a fixed size struct into a bytes.Buffer cannot fail.
	_ = binary.Write(buf, binary.LittleEndian, h)
	return buf.Bytes()
}

// isListed reports if a used slot is a normal short name entry.
func isListed(slot []byte) bool {
	attr := slot[11]
	if attr&0x3F == AttrLongName {
		return false
	}
	return attr&AttrVolumeID == 0
}

// slotCursor walks over all 32 byte slots of a directory chain.
type slotCursor struct {
	fs      *Fs
	first   uint32
	cluster uint32
	sector  uint32
	offset  int
	visited uint32
	started bool
}

// next moves to the following slot. It returns false after the last slot of
// the last cluster. The cursor's cluster then still names that last cluster.
func (c *slotCursor) next() (Location, bool, error) {
	v := &c.fs.volume

	if !c.started {
		if !v.validCluster(c.first) {
			return Location{}, false, checkpoint.New(ErrCorruptChain, "directory at cluster %d", c.first)
		}
		c.started = true
		c.cluster = c.first
		c.visited = 1
		c.sector = 0
		c.offset = 0
		return Location{Sector: v.FirstSector(c.cluster), Offset: 0}, true, nil
	}

	c.offset += DirEntrySize
	if c.offset >= SectorSize {
		c.offset = 0
		c.sector++
	}

	if c.sector >= uint32(v.SectorsPerCluster) {
		next, eof, err := c.fs.follow(c.cluster)
		if err != nil {
			return Location{}, false, err
		}
		if eof {
			return Location{}, false, nil
		}

		c.visited++
		if c.visited > v.TotalClusters {
			return Location{}, false, checkpoint.New(ErrCorruptChain, "cycle in directory at cluster %d", c.first)
		}
		c.cluster = next
		c.sector = 0
	}

	return Location{Sector: v.FirstSector(c.cluster) + c.sector, Offset: c.offset}, true, nil
}

// slot loads the sector of loc and returns the 32 bytes of the slot.
// The slice is only valid until the working buffer is used again.
func (fs *Fs) slot(loc Location) ([]byte, error) {
	if err := fs.fetch(loc.Sector); err != nil {
		return nil, err
	}
	return fs.sector.buffer[loc.Offset : loc.Offset+DirEntrySize], nil
}

// DirIterator lists a directory lazily, one slot at a time.
// Use it like bufio.Scanner:
//
//	it := fs.List(cluster)
//	for it.Next() {
//		entry := it.Entry()
//	}
//	err := it.Err()
type DirIterator struct {
	cursor slotCursor
	entry  DirEntry
	err    error
	done   bool
}

// List returns an iterator over all entries of the directory starting at
// dirCluster. Deleted, long name and volume label slots are skipped.
func (fs *Fs) List(dirCluster uint32) *DirIterator {
	return &DirIterator{cursor: slotCursor{fs: fs, first: dirCluster}}
}

// Next advances to the next entry.
func (it *DirIterator) Next() bool {
	if it.done {
		return false
	}

	for {
		loc, ok, err := it.cursor.next()
		if err != nil {
			it.err = err
		}
		if err != nil || !ok {
			it.done = true
			return false
		}

		slot, err := it.cursor.fs.slot(loc)
		if err != nil {
			it.err = err
			it.done = true
			return false
		}

		switch {
		case slot[0] == entryEmpty:
			// Nothing follows an empty slot.
			it.done = true
			return false
		case slot[0] == entryDeleted, !isListed(slot):
			continue
		}

		header, err := decodeEntry(slot)
		if err != nil {
			it.err = err
			it.done = true
			return false
		}

		it.entry = DirEntry{EntryHeader: header, Location: loc}
		return true
	}
}

// Entry returns the current entry.
func (it *DirIterator) Entry() DirEntry {
	return it.entry
}

// Err returns the first error which stopped the iteration.
func (it *DirIterator) Err() error {
	return it.err
}

// Reset restarts the listing at the first cluster of the directory.
func (it *DirIterator) Reset() {
	it.cursor = slotCursor{fs: it.cursor.fs, first: it.cursor.first}
	it.entry = DirEntry{}
	it.err = nil
	it.done = false
}

// dirScan is the result of one pass over a directory.
type dirScan struct {
	found *DirEntry
	// free is the first deleted or empty slot, nil if there is none.
	free *Location
	// last is the last cluster of the directory chain.
	last uint32
}

// scanDir searches a directory for name and notes the first reusable slot.
func (fs *Fs) scanDir(dirCluster uint32, name [11]byte) (dirScan, error) {
	result := dirScan{}
	cursor := slotCursor{fs: fs, first: dirCluster}

	for {
		loc, ok, err := cursor.next()
		if err != nil {
			return result, err
		}
		if !ok {
			break
		}

		slot, err := fs.slot(loc)
		if err != nil {
			return result, err
		}

		if slot[0] == entryEmpty || slot[0] == entryDeleted {
			if result.free == nil {
				free := loc
				result.free = &free
			}
			if slot[0] == entryEmpty {
				break
			}
			continue
		}

		if !isListed(slot) || result.found != nil {
			continue
		}

		var stored [11]byte
		copy(stored[:], slot[:11])
		if sameName(stored, name) {
			header, err := decodeEntry(slot)
			if err != nil {
				return result, err
			}
			result.found = &DirEntry{EntryHeader: header, Location: loc}
			if result.free != nil {
				break
			}
		}
	}

	result.last = cursor.cluster
	return result, nil
}

// Find looks up name in the directory starting at dirCluster.
func (fs *Fs) Find(dirCluster uint32, name string) (DirEntry, error) {
	short, err := ShortName(name)
	if err != nil {
		return DirEntry{}, err
	}

	scan, err := fs.scanDir(dirCluster, short)
	if err != nil {
		return DirEntry{}, err
	}
	if scan.found == nil {
		return DirEntry{}, checkpoint.New(ErrFileNotFound, "%q", name)
	}
	return *scan.found, nil
}

// Insert writes entry into the first deleted or empty slot of the directory.
// If there is none the directory grows by one zeroed cluster.
func (fs *Fs) Insert(dirCluster uint32, entry EntryHeader) (Location, error) {
	scan, err := fs.scanDir(dirCluster, entry.Name)
	if err != nil {
		return Location{}, err
	}
	return fs.insertAt(scan, entry)
}

func (fs *Fs) insertAt(scan dirScan, entry EntryHeader) (Location, error) {
	var loc Location
	if scan.free != nil {
		loc = *scan.free
	} else {
		cluster, err := fs.AllocateAndLink(scan.last)
		if err != nil {
			return Location{}, checkpoint.Wrap(err, ErrDirectoryFull)
		}

		first := fs.volume.FirstSector(cluster)
		for i := uint32(0); i < uint32(fs.volume.SectorsPerCluster); i++ {
			if err := fs.overwrite(first+i, nil); err != nil {
				return Location{}, err
			}
		}
		loc = Location{Sector: first}
	}

	data := encodeEntry(&entry)
	err := fs.modify(loc.Sector, func(buf []byte) {
		copy(buf[loc.Offset:], data)
	})
	if err != nil {
		return Location{}, err
	}
	return loc, nil
}

// MarkDeleted tags the slot at loc as deleted. The rest of the entry is kept.
func (fs *Fs) MarkDeleted(loc Location) error {
	return fs.modify(loc.Sector, func(buf []byte) {
		buf[loc.Offset] = entryDeleted
	})
}

// patchEntry rewrites only first cluster, size and write stamp of an entry in place.
func (fs *Fs) patchEntry(loc Location, firstCluster uint32, size uint32) error {
	date, clock := fs.stamp()
	return fs.modify(loc.Sector, func(buf []byte) {
		slot := buf[loc.Offset : loc.Offset+DirEntrySize]
		binary.LittleEndian.PutUint16(slot[20:], uint16(firstCluster>>16))
		binary.LittleEndian.PutUint16(slot[22:], clock)
		binary.LittleEndian.PutUint16(slot[24:], date)
		binary.LittleEndian.PutUint16(slot[26:], uint16(firstCluster))
		binary.LittleEndian.PutUint32(slot[28:], size)
	})
}
