package sdfat

import (
	"os"
	"time"
)

// FileInfo describes the entry as os.FileInfo.
func (e *DirEntry) FileInfo() os.FileInfo {
	return entryFileInfo{*e}
}

type entryFileInfo struct {
	entry DirEntry
}

func (e entryFileInfo) Name() string {
	return e.entry.Name()
}

func (e entryFileInfo) Size() int64 {
	return int64(e.entry.FileSize)
}

func (e entryFileInfo) Mode() os.FileMode {
	mode := os.FileMode(0o666)
	if e.entry.Attribute&AttrReadOnly != 0 {
		mode = 0o444
	}
	if e.IsDir() {
		return mode | os.ModeDir | 0o111
	}
	return mode
}

// ModTime is time.Time{} if the entry holds an invalid write date.
func (e entryFileInfo) ModTime() time.Time {
	return joinStamp(e.entry.WriteDate, e.entry.WriteTime)
}

func (e entryFileInfo) IsDir() bool {
	return e.entry.IsDir()
}

// Sys returns the DirEntry.
func (e entryFileInfo) Sys() interface{} {
	return e.entry
}
