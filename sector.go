package sdfat

import (
	"github.com/sabt-braille/sdfat/checkpoint"
)

// noSector marks the working buffer as holding no sector at all.
const noSector = 0xFFFFFFFF

type Flags struct {
	Dirty bool
}

// Sector is the single working buffer of the engine. Every component borrows
// it for the duration of one operation, so no caller may assume it still holds
// the same sector after calling into another component.
type Sector struct {
	current uint32
	flags   Flags
	buffer  []byte
}

func newSector() Sector {
	return Sector{
		current: noSector,
		buffer:  make([]byte, SectorSize),
	}
}

// fetch loads a specific single sector into the working buffer.
func (fs *Fs) fetch(lba uint32) error {
	// Only load it once.
	if lba == fs.sector.current {
		return nil
	}

	// If the buffered sector is dirty, write it first.
	if fs.sector.flags.Dirty {
		if err := fs.store(); err != nil {
			return err
		}
	}

	if err := fs.dev.ReadSector(lba, fs.sector.buffer); err != nil {
		fs.sector.current = noSector
		return checkpoint.From(err)
	}

	fs.sector.current = lba
	return nil
}

// store writes the buffered sector back if it was changed.
func (fs *Fs) store() error {
	if !fs.sector.flags.Dirty {
		return nil
	}

	fs.sector.flags.Dirty = false
	if err := fs.dev.WriteSector(fs.sector.current, fs.sector.buffer); err != nil {
		// The buffer no longer matches the card.
		fs.sector.current = noSector
		return checkpoint.From(err)
	}
	return nil
}

// modify runs fn on the content of the sector at lba and writes it through.
func (fs *Fs) modify(lba uint32, fn func(buf []byte)) error {
	if err := fs.fetch(lba); err != nil {
		return err
	}

	fn(fs.sector.buffer)
	fs.sector.flags.Dirty = true
	return fs.store()
}

// overwrite replaces the sector at lba without reading it first.
// Missing bytes at the end are written as zero.
func (fs *Fs) overwrite(lba uint32, data []byte) error {
	if fs.sector.current != lba {
		if err := fs.store(); err != nil {
			return err
		}
	}

	n := copy(fs.sector.buffer, data)
	for i := n; i < len(fs.sector.buffer); i++ {
		fs.sector.buffer[i] = 0
	}

	fs.sector.current = lba
	fs.sector.flags.Dirty = true
	return fs.store()
}
