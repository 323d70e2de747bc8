package sdfat

import (
	"errors"
	"fmt"
)

// These errors may occur while mounting the card.
var (
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrUnsupportedVolume = errors.New("unsupported volume")
)

// These errors may occur while working with files.
var (
	ErrCorruptChain       = errors.New("corrupt cluster chain")
	ErrOutOfSpace         = errors.New("no free cluster left on the card")
	ErrFileNotFound       = errors.New("file not found")
	ErrDirectoryFull      = errors.New("directory is full")
	ErrInvalidName        = errors.New("invalid 8.3 file name")
	ErrNoAppendTarget     = errors.New("no file opened for appending")
	ErrDictionaryTooLarge = errors.New("dictionary has too many clusters")
	ErrDictionaryNotReady = errors.New("dictionary not loaded")
	ErrDegradedMirror     = errors.New("secondary FAT copy not updated")
)

// MirrorError reports that a FAT entry reached the primary FAT but not the
// given secondary copy. The primary copy stays authoritative.
type MirrorError struct {
	Copy    int
	Cluster uint32
	Err     error
}

func (e *MirrorError) Error() string {
	return fmt.Sprintf("FAT copy %d, cluster %d: %v", e.Copy, e.Cluster, e.Err)
}

func (e *MirrorError) Unwrap() error {
	return e.Err
}

func (e *MirrorError) Is(target error) bool {
	return target == ErrDegradedMirror
}
