package sdfat

import (
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"math"
	"os"
	"syscall"
	"time"

	"github.com/sabt-braille/sdfat/checkpoint"
)

// These errors may occur while working with a File.
var (
	ErrReadFile  = errors.New("could not read file completely")
	ErrWriteFile = errors.New("could not write the file")
	ErrSeekFile  = errors.New("could not seek inside of the file")
	ErrReadDir   = errors.New("could not read the directory")
)

// fileBackend provides all methods a File needs from the engine.
// It mainly exists to be able to mock the Fs in tests.
// Generated mock using mockgen:
//
//	mockgen -source=handle.go -destination=file_mock.go -package sdfat
type fileBackend interface {
	readFileAt(first uint32, fileSize int64, offset int64, readSize int64) ([]byte, error)
	readDir(cluster uint32) ([]DirEntry, error)
	writeFile(name string, content []byte, create bool) error
}

// readDir lists a directory without its "." and ".." entries.
func (fs *Fs) readDir(cluster uint32) ([]DirEntry, error) {
	var result []DirEntry

	it := fs.List(cluster)
	for it.Next() {
		entry := it.Entry()
		if name := entry.Name(); name == "." || name == ".." {
			continue
		}
		result = append(result, entry)
	}

	return result, it.Err()
}

// File is a handle on a file or directory of the card.
// A writable File buffers the whole content. It is stored on Sync and Close.
type File struct {
	fs   fileBackend
	path string

	isDirectory  bool
	firstCluster uint32
	stat         os.FileInfo
	offset       int64

	writable   bool
	appendOnly bool
	content    []byte
	dirty      bool
}

// Close stores pending writes and resets the File.
func (f *File) Close() error {
	err := f.Sync()

	f.fs = nil
	f.path = ""
	f.isDirectory = false
	f.firstCluster = 0
	f.stat = nil
	f.offset = 0
	f.writable = false
	f.appendOnly = false
	f.content = nil
	f.dirty = false

	return err
}

// size is the current length of the file including buffered writes.
func (f *File) size() int64 {
	if f.writable {
		return int64(len(f.content))
	}
	return f.stat.Size()
}

// readAt reads from the buffer of a writable File or from the card.
func (f *File) readAt(p []byte, off int64) ([]byte, error) {
	if !f.writable {
		return f.fs.readFileAt(f.firstCluster, f.stat.Size(), off, int64(len(p)))
	}

	data := f.content[off:]
	if len(data) < len(p) {
		return data, io.EOF
	}
	return data[:len(p)], nil
}

func (f *File) Read(p []byte) (int, error) {
	if f.fs == nil {
		return 0, os.ErrClosed
	}
	if f.isDirectory {
		return 0, checkpoint.Wrap(syscall.EISDIR, ErrReadFile)
	}
	if len(p) == 0 {
		return 0, nil
	}

	// Reading a file if the size has been already reached, makes no sense.
	if f.size() <= f.offset {
		return 0, io.EOF
	}

	data, err := f.readAt(p, f.offset)
	n := copy(p, data)
	f.offset += int64(n)

	if err == io.EOF && n > 0 {
		return n, nil
	}
	return n, checkpoint.Wrap(err, ErrReadFile)
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if f.fs == nil {
		return 0, os.ErrClosed
	}
	if f.isDirectory {
		return 0, checkpoint.Wrap(syscall.EISDIR, ErrReadFile)
	}
	if off < 0 {
		return 0, checkpoint.Wrap(syscall.EINVAL, ErrReadFile)
	}
	if len(p) == 0 {
		return 0, nil
	}

	// Reading over the end makes no sense.
	if f.size() <= off {
		return 0, io.EOF
	}

	data, err := f.readAt(p, off)
	n := copy(p, data)

	if err != nil && err != io.EOF {
		return n, checkpoint.Wrap(err, ErrReadFile)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Seek jumps to a specific offset in the file. This affects all Read operation except ReadAt.
// May return a syscall.EINVAL error if the whence value or the offset is invalid.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.fs == nil {
		return 0, os.ErrClosed
	}

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset = f.offset + offset
	case io.SeekEnd:
		offset = f.size() + offset
	default:
		return 0, checkpoint.Wrap(ErrSeekFile, fmt.Errorf("%w, offset: %v, whence: %v", syscall.EINVAL, offset, whence))
	}

	if offset < 0 {
		return 0, checkpoint.Wrap(ErrSeekFile, fmt.Errorf("%w, offset: %v, whence: %v", syscall.EINVAL, offset, whence))
	}

	f.offset = offset
	return offset, nil
}

func (f *File) Name() string {
	return f.stat.Name()
}

// Readdir reads the contents of a directory in the manner of os.File.
// A positive count returns at most count entries and io.EOF at the end,
// otherwise all remaining entries are returned at once.
// May return syscall.ENOTDIR if the current File is no directory.
func (f *File) Readdir(count int) ([]os.FileInfo, error) {
	if f.fs == nil {
		return nil, os.ErrClosed
	}
	if !f.isDirectory {
		return nil, checkpoint.Wrap(syscall.ENOTDIR, ErrReadDir)
	}

	content, err := f.fs.readDir(f.firstCluster)
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrReadDir)
	}

	if f.offset > int64(len(content)) {
		f.offset = int64(len(content))
	}
	content = content[f.offset:]

	if count > 0 {
		if len(content) == 0 {
			return nil, io.EOF
		}
		if len(content) > count {
			content = content[:count]
		}
	}
	f.offset += int64(len(content))

	result := make([]os.FileInfo, len(content))
	for i := range content {
		result[i] = content[i].FileInfo()
	}

	return result, nil
}

func (f *File) Readdirnames(count int) ([]string, error) {
	content, err := f.Readdir(count)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(content))
	for i, entry := range content {
		names[i] = entry.Name()
	}

	return names, nil
}

// ReadDir implements io/fs.ReadDirFile.
func (f *File) ReadDir(count int) ([]iofs.DirEntry, error) {
	content, err := f.Readdir(count)

	result := make([]iofs.DirEntry, len(content))
	for i, info := range content {
		result[i] = iofs.FileInfoToDirEntry(info)
	}

	return result, err
}

func (f *File) Stat() (os.FileInfo, error) {
	if f.fs == nil {
		return nil, os.ErrClosed
	}
	if f.writable {
		return bufferedInfo{FileInfo: f.stat, size: int64(len(f.content))}, nil
	}
	return f.stat, nil
}

// Write writes at the current offset, or at the end if the File was opened
// with os.O_APPEND.
func (f *File) Write(p []byte) (int, error) {
	if f.appendOnly {
		f.offset = f.size()
	}
	n, err := f.WriteAt(p, f.offset)
	f.offset += int64(n)
	return n, err
}

// WriteAt changes the buffered content. A gap behind the end is filled with
// zeros. Files opened read only return syscall.EBADF.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	if f.fs == nil {
		return 0, os.ErrClosed
	}
	if !f.writable {
		return 0, checkpoint.Wrap(syscall.EBADF, ErrWriteFile)
	}
	if off < 0 {
		return 0, checkpoint.Wrap(syscall.EINVAL, ErrWriteFile)
	}

	end := off + int64(len(p))
	if end > math.MaxUint32 {
		return 0, checkpoint.Wrap(syscall.EFBIG, ErrWriteFile)
	}
	if end > int64(len(f.content)) {
		f.content = append(f.content, make([]byte, end-int64(len(f.content)))...)
	}

	copy(f.content[off:], p)
	f.dirty = true
	return len(p), nil
}

func (f *File) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}

// Truncate changes the size of the buffered content.
func (f *File) Truncate(size int64) error {
	if f.fs == nil {
		return os.ErrClosed
	}
	if !f.writable {
		return checkpoint.Wrap(syscall.EBADF, ErrWriteFile)
	}
	if size < 0 {
		return checkpoint.Wrap(syscall.EINVAL, ErrWriteFile)
	}
	if size > math.MaxUint32 {
		return checkpoint.Wrap(syscall.EFBIG, ErrWriteFile)
	}

	if size > int64(len(f.content)) {
		f.content = append(f.content, make([]byte, size-int64(len(f.content)))...)
	}
	f.content = f.content[:size]
	f.dirty = true
	return nil
}

// Sync stores the buffered content of a writable File on the card.
func (f *File) Sync() error {
	if f.fs == nil || !f.dirty {
		return nil
	}

	if err := f.fs.writeFile(f.path, f.content, true); err != nil {
		return checkpoint.Wrap(err, ErrWriteFile)
	}
	f.dirty = false
	return nil
}

// bufferedInfo reports the size of the buffered content.
type bufferedInfo struct {
	os.FileInfo
	size int64
}

func (b bufferedInfo) Size() int64 { return b.size }

// rootInfo describes the root directory which has no entry of its own.
type rootInfo struct {
	label string
}

func (r rootInfo) Name() string       { return "." }
func (r rootInfo) Size() int64        { return 0 }
func (r rootInfo) Mode() os.FileMode  { return os.ModeDir | 0o777 }
func (r rootInfo) ModTime() time.Time { return time.Time{} }
func (r rootInfo) IsDir() bool        { return true }
func (r rootInfo) Sys() interface{}   { return r.label }
