//go:build linux

package device

import (
	"github.com/sabt-braille/sdfat/checkpoint"
	"golang.org/x/sys/unix"
)

// Raw is a block device node like /dev/mmcblk0 accessed with pread and pwrite.
type Raw struct {
	fd      int
	sectors uint32
}

// OpenRaw opens the block device at path.
func OpenRaw(path string, writable bool) (*Raw, error) {
	flag := unix.O_RDONLY
	if writable {
		flag = unix.O_RDWR
	}

	fd, err := unix.Open(path, flag|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, checkpoint.From(err)
	}

	size, err := deviceSize(fd)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	sectors, err := sectorCount(size)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &Raw{fd: fd, sectors: sectors}, nil
}

// deviceSize asks the kernel for the byte size of a block device and falls
// back to the file size for regular files.
func deviceSize(fd int) (uint64, error) {
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return 0, checkpoint.From(err)
	}

	if stat.Mode&unix.S_IFMT != unix.S_IFBLK {
		return uint64(stat.Size), nil
	}

	size, err := unix.IoctlGetInt(fd, unix.BLKGETSIZE64)
	if err != nil {
		return 0, checkpoint.From(err)
	}
	return uint64(size), nil
}

// Sectors returns the size of the device in sectors.
func (r *Raw) Sectors() uint32 {
	return r.sectors
}

func (r *Raw) ReadSector(lba uint32, dst []byte) error {
	if err := r.check(lba, dst); err != nil {
		return err
	}

	n, err := unix.Pread(r.fd, dst[:SectorSize], int64(lba)*SectorSize)
	if err != nil {
		return checkpoint.From(err)
	}
	if n != SectorSize {
		return checkpoint.New(ErrOutOfRange, "short read of sector %d: %d bytes", lba, n)
	}
	return nil
}

func (r *Raw) WriteSector(lba uint32, src []byte) error {
	if err := r.check(lba, src); err != nil {
		return err
	}

	n, err := unix.Pwrite(r.fd, src[:SectorSize], int64(lba)*SectorSize)
	if err != nil {
		return checkpoint.From(err)
	}
	if n != SectorSize {
		return checkpoint.New(ErrOutOfRange, "short write of sector %d: %d bytes", lba, n)
	}
	return nil
}

// Sync flushes the kernel buffers of the device.
func (r *Raw) Sync() error {
	return checkpoint.From(unix.Fsync(r.fd))
}

func (r *Raw) Close() error {
	return checkpoint.From(unix.Close(r.fd))
}

func (r *Raw) check(lba uint32, buf []byte) error {
	if len(buf) < SectorSize {
		return checkpoint.New(ErrBufferSize, "%d bytes", len(buf))
	}
	if lba >= r.sectors {
		return checkpoint.New(ErrOutOfRange, "sector %d of %d", lba, r.sectors)
	}
	return nil
}
