// Package device contains block devices for the sdfat engine: disk images
// on any afero.Fs and, on linux, raw SD card block devices.
package device

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/sabt-braille/sdfat/checkpoint"
	"github.com/spf13/afero"
)

// SectorSize is the size of every transfer.
const SectorSize = 512

// These errors may occur while accessing a device.
var (
	ErrOutOfRange = errors.New("sector out of range")
	ErrBufferSize = errors.New("buffer is not one sector long")
	ErrTooLarge   = errors.New("device has more sectors than a 32 bit LBA can address")
)

// sectorCount converts a byte size into whole sectors.
func sectorCount(size uint64) (uint32, error) {
	sectors := size / SectorSize
	if sectors > math.MaxUint32 {
		return 0, checkpoint.New(ErrTooLarge, "%d bytes", size)
	}
	return uint32(sectors), nil
}

// Image is a disk image file used as block device.
type Image struct {
	file    afero.File
	sectors uint32
}

// OpenImage opens an existing image. Its size must be a multiple of SectorSize.
func OpenImage(fs afero.Fs, name string, writable bool) (*Image, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}

	file, err := fs.OpenFile(name, flag, 0)
	if err != nil {
		return nil, checkpoint.From(err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, checkpoint.From(err)
	}

	if info.Size()%SectorSize != 0 {
		file.Close()
		return nil, checkpoint.From(fmt.Errorf("image %q has %d bytes, not a multiple of %d", name, info.Size(), SectorSize))
	}

	sectors, err := sectorCount(uint64(info.Size()))
	if err != nil {
		file.Close()
		return nil, err
	}

	return &Image{file: file, sectors: sectors}, nil
}

// CreateImage creates or truncates an image of the given number of sectors.
func CreateImage(fs afero.Fs, name string, sectors uint32) (*Image, error) {
	file, err := fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, checkpoint.From(err)
	}

	if err := file.Truncate(int64(sectors) * SectorSize); err != nil {
		file.Close()
		return nil, checkpoint.From(err)
	}

	return &Image{file: file, sectors: sectors}, nil
}

// Sectors returns the size of the image in sectors.
func (i *Image) Sectors() uint32 {
	return i.sectors
}

func (i *Image) ReadSector(lba uint32, dst []byte) error {
	if err := i.check(lba, dst); err != nil {
		return err
	}

	_, err := i.file.ReadAt(dst[:SectorSize], int64(lba)*SectorSize)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return checkpoint.From(err)
}

func (i *Image) WriteSector(lba uint32, src []byte) error {
	if err := i.check(lba, src); err != nil {
		return err
	}

	_, err := i.file.WriteAt(src[:SectorSize], int64(lba)*SectorSize)
	return checkpoint.From(err)
}

// Sync commits the image to its storage.
func (i *Image) Sync() error {
	return checkpoint.From(i.file.Sync())
}

func (i *Image) Close() error {
	return checkpoint.From(i.file.Close())
}

func (i *Image) check(lba uint32, buf []byte) error {
	if len(buf) < SectorSize {
		return checkpoint.New(ErrBufferSize, "%d bytes", len(buf))
	}
	if lba >= i.sectors {
		return checkpoint.New(ErrOutOfRange, "sector %d of %d", lba, i.sectors)
	}
	return nil
}
