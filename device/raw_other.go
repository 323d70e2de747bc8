//go:build !linux

package device

import (
	"errors"
	"runtime"

	"github.com/sabt-braille/sdfat/checkpoint"
)

// ErrRawUnsupported is returned by OpenRaw on systems without a raw device driver.
var ErrRawUnsupported = errors.New("raw block devices are not supported")

// Raw is only available on linux.
type Raw struct{}

func OpenRaw(path string, writable bool) (*Raw, error) {
	return nil, checkpoint.New(ErrRawUnsupported, "%s on %s", path, runtime.GOOS)
}

func (r *Raw) Sectors() uint32 { return 0 }

func (r *Raw) ReadSector(lba uint32, dst []byte) error {
	return checkpoint.From(ErrRawUnsupported)
}

func (r *Raw) WriteSector(lba uint32, src []byte) error {
	return checkpoint.From(ErrRawUnsupported)
}

func (r *Raw) Sync() error  { return nil }
func (r *Raw) Close() error { return nil }
