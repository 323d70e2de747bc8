package sdfat

import (
	"bytes"
	"log/slog"

	"github.com/sabt-braille/sdfat/checkpoint"
)

// Dictionary is the loaded cluster list of a sorted word file.
// The file is searched in 512 byte blocks. Only one block is resident at a
// time, it lives in the working buffer of the engine.
type Dictionary struct {
	name     string
	location Location
	size     uint32
	clusters []uint32
	// preceding[i] is set if block i starts inside a word begun in block i-1.
	preceding []bool
}

// Name returns the file the dictionary was loaded from.
func (d *Dictionary) Name() string {
	return d.name
}

// Blocks returns the number of 512 byte blocks holding words.
func (d *Dictionary) Blocks() int {
	return len(d.preceding)
}

// InitDictionary loads the cluster list of the word file name from the root
// directory and notes for every block boundary whether it splits a word.
// The words must be sorted by their bytes after ASCII lower-casing.
func (fs *Fs) InitDictionary(name string) error {
	fs.dict = nil

	entry, err := fs.Find(fs.volume.RootCluster, name)
	if err != nil {
		return err
	}
	if entry.IsDir() {
		return checkpoint.New(ErrInvalidName, "%q is a directory", name)
	}

	d := &Dictionary{name: entry.Name(), location: entry.Location, size: entry.FileSize}

	limit := fs.config.DictionaryClusters
	if limit > 0 {
		d.clusters = make([]uint32, 0, limit)
	}

	if first := entry.FirstCluster(); first != 0 {
		err = fs.eachCluster(first, func(cluster uint32) (bool, error) {
			if limit > 0 && len(d.clusters) == limit {
				return false, checkpoint.New(ErrDictionaryTooLarge, "%q spans more than %d clusters", name, limit)
			}
			d.clusters = append(d.clusters, cluster)
			return true, nil
		})
		if err != nil {
			return err
		}
	}

	if uint64(len(d.clusters))*uint64(fs.volume.ClusterSize()) < uint64(d.size) {
		return checkpoint.New(ErrCorruptChain, "%d clusters cannot hold %d bytes", len(d.clusters), d.size)
	}

	blocks := (d.size + SectorSize - 1) / SectorSize
	d.preceding = make([]bool, blocks)

	var last byte = ' '
	for i := uint32(0); i < blocks; i++ {
		if err := fs.fetch(d.sectorOf(fs, i)); err != nil {
			return err
		}

		d.preceding[i] = i > 0 && isWordByte(last) && isWordByte(fs.sector.buffer[0])
		last = fs.sector.buffer[d.blockLen(i)-1]
	}

	fs.log.Debug("dictionary loaded",
		slog.String("name", d.name),
		slog.Int("clusters", len(d.clusters)),
		slog.Int("blocks", len(d.preceding)),
	)

	fs.dict = d
	return nil
}

// forgetDictionary drops the loaded dictionary if its file at loc changes.
// The cluster list would point to released or rewritten clusters.
func (fs *Fs) forgetDictionary(loc Location) {
	if fs.dict != nil && fs.dict.location == loc {
		fs.log.Debug("dictionary file changed, dictionary unloaded", slog.String("name", fs.dict.name))
		fs.dict = nil
	}
}

// sectorOf returns the card sector of a block.
func (d *Dictionary) sectorOf(fs *Fs, block uint32) uint32 {
	spc := uint32(fs.volume.SectorsPerCluster)
	return fs.volume.FirstSector(d.clusters[block/spc]) + block%spc
}

// blockLen is the number of file bytes inside a block.
func (d *Dictionary) blockLen(block uint32) uint32 {
	if rest := d.size - block*SectorSize; rest < SectorSize {
		return rest
	}
	return SectorSize
}

// LookupWord reports whether word is in the dictionary. A missing word is
// not an error.
func (fs *Fs) LookupWord(word string) (bool, error) {
	d := fs.dict
	if d == nil {
		return false, checkpoint.From(ErrDictionaryNotReady)
	}

	target := lowerASCII([]byte(word))
	if len(target) == 0 {
		return false, nil
	}
	for _, c := range target {
		if !isWordByte(c) {
			return false, nil
		}
	}

	r := dictReader{fs: fs, dict: d}

	// Find the last block whose first full word is not after the target.
	lo, hi := 0, d.Blocks()-1
	found := false
	var start uint32
	for lo <= hi {
		mid := lo + (hi-lo)/2

		first, ok, err := r.checkFirstFullWord(uint32(mid))
		if err != nil {
			return false, err
		}
		if !ok {
			// Nothing starts at or after this block.
			hi = mid - 1
			continue
		}

		key, _, err := r.readWord(first)
		if err != nil {
			return false, err
		}

		switch cmp := bytes.Compare(key, target); {
		case cmp == 0:
			return true, nil
		case cmp < 0:
			found = true
			start = first
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}

	if !found {
		return false, nil
	}
	return r.findWordInCluster(start, target)
}

// dictReader reads the dictionary byte wise through the working buffer.
type dictReader struct {
	fs   *Fs
	dict *Dictionary
}

func (r *dictReader) byteAt(pos uint32) (byte, error) {
	if err := r.fs.fetch(r.dict.sectorOf(r.fs, pos/SectorSize)); err != nil {
		return 0, err
	}
	return r.fs.sector.buffer[pos%SectorSize], nil
}

// checkFirstFullWord returns the offset of the first word which starts in
// block or, if none does, after it. A fragment continued from the previous
// block is skipped.
func (r *dictReader) checkFirstFullWord(block uint32) (uint32, bool, error) {
	pos := block * SectorSize

	if r.dict.preceding[block] {
		var err error
		pos, err = r.skip(pos, isWordByte)
		if err != nil {
			return 0, false, err
		}
	}

	pos, err := r.skip(pos, isDelimiter)
	if err != nil {
		return 0, false, err
	}
	return pos, pos < r.dict.size, nil
}

// findWordInCluster compares the words from start on with target until it
// finds the target or passes the place it would be sorted in. A word running
// over the end of the block is completed from the following one.
func (r *dictReader) findWordInCluster(start uint32, target []byte) (bool, error) {
	pos := start
	for pos < r.dict.size {
		word, end, err := r.readWord(pos)
		if err != nil {
			return false, err
		}

		switch cmp := bytes.Compare(word, target); {
		case cmp == 0:
			return true, nil
		case cmp > 0:
			return false, nil
		}

		pos, err = r.skip(end, isDelimiter)
		if err != nil {
			return false, err
		}
	}
	return false, nil
}

// readWord returns the lower-cased word starting at pos and the offset behind it.
func (r *dictReader) readWord(pos uint32) ([]byte, uint32, error) {
	var word []byte
	for ; pos < r.dict.size; pos++ {
		c, err := r.byteAt(pos)
		if err != nil {
			return nil, 0, err
		}
		if !isWordByte(c) {
			break
		}
		word = append(word, foldLower(c))
	}
	return word, pos, nil
}

// skip advances pos while the bytes match.
func (r *dictReader) skip(pos uint32, match func(byte) bool) (uint32, error) {
	for ; pos < r.dict.size; pos++ {
		c, err := r.byteAt(pos)
		if err != nil {
			return 0, err
		}
		if !match(c) {
			break
		}
	}
	return pos, nil
}

func isDelimiter(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\v', '\f', ',', ';':
		return true
	}
	return false
}

func isWordByte(c byte) bool {
	return !isDelimiter(c)
}

func foldLower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c - 'A' + 'a'
	}
	return c
}

func lowerASCII(b []byte) []byte {
	result := make([]byte, len(b))
	for i, c := range b {
		result[i] = foldLower(c)
	}
	return result
}
