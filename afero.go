package sdfat

import (
	"errors"
	iofs "io/fs"
	"os"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/sabt-braille/sdfat/checkpoint"
	"github.com/spf13/afero"
)

var _ afero.Fs = (*Fs)(nil)

// FS returns an io/fs view on the card.
// It must not be used while the engine is writing.
func (fs *Fs) FS() iofs.FS {
	return afero.NewIOFS(fs)
}

// Name implements afero.Fs.
func (fs *Fs) Name() string {
	return "sdfat"
}

// cleanPath turns name into a slash separated path below the root
// directory. The root itself is the empty string.
func cleanPath(name string) string {
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

// Open opens a file or directory for reading. Names are matched like the
// card does it, ignoring case.
func (fs *Fs) Open(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDONLY, 0)
}

// Create creates or truncates a file in the root directory.
func (fs *Fs) Create(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
}

// OpenFile opens name with the os.O_* flags. Only files in the root directory
// can be opened for writing. A writable File keeps the whole content in
// memory and stores it with WriteFile on Sync and Close.
// The permission bits are ignored.
func (fs *Fs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) == 0 {
		f, err := fs.open(name)
		if err != nil {
			return nil, err
		}
		return f, nil
	}

	p := cleanPath(name)
	if p == "" || strings.Contains(p, "/") {
		return nil, &os.PathError{Op: "open", Path: name, Err: checkpoint.New(ErrInvalidName, "only files in the root directory are writable")}
	}

	entry, err := fs.Find(fs.volume.RootCluster, p)
	exists := err == nil
	switch {
	case errors.Is(err, ErrFileNotFound):
		if flag&os.O_CREATE == 0 {
			return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
		}
	case err != nil:
		return nil, &os.PathError{Op: "open", Path: name, Err: err}
	case flag&(os.O_CREATE|os.O_EXCL) == os.O_CREATE|os.O_EXCL:
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrExist}
	case entry.IsDir():
		return nil, &os.PathError{Op: "open", Path: name, Err: checkpoint.Wrap(syscall.EISDIR, ErrWriteFile)}
	}

	var content []byte
	if exists && flag&os.O_TRUNC == 0 {
		if content, err = fs.ReadFile(p); err != nil {
			return nil, &os.PathError{Op: "open", Path: name, Err: err}
		}
	} else {
		// A created or truncated file is on the card before the first write.
		if err := fs.writeFile(p, nil, true); err != nil {
			return nil, &os.PathError{Op: "open", Path: name, Err: err}
		}
		if entry, err = fs.Find(fs.volume.RootCluster, p); err != nil {
			return nil, &os.PathError{Op: "open", Path: name, Err: err}
		}
	}

	f := &File{
		fs:         fs,
		path:       entry.Name(),
		stat:       entry.FileInfo(),
		writable:   true,
		appendOnly: flag&os.O_APPEND != 0,
		content:    content,
	}
	return f, nil
}

// open walks name from the root directory and returns a read only File.
func (fs *Fs) open(name string) (*File, error) {
	root := fs.volume.RootCluster
	p := cleanPath(name)
	if p == "" {
		return &File{
			fs:           fs,
			isDirectory:  true,
			firstCluster: root,
			stat:         rootInfo{label: fs.volume.Label},
		}, nil
	}

	cluster := root
	parts := strings.Split(p, "/")
	var entry DirEntry
	for i, part := range parts {
		var err error
		entry, err = fs.Find(cluster, part)
		if errors.Is(err, ErrFileNotFound) || errors.Is(err, ErrInvalidName) {
			return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
		}
		if err != nil {
			return nil, &os.PathError{Op: "open", Path: name, Err: err}
		}

		if i < len(parts)-1 && !entry.IsDir() {
			return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
		}

		cluster = entry.FirstCluster()
		// ".." of a first level directory points to cluster 0.
		if cluster == 0 && entry.IsDir() {
			cluster = root
		}
	}

	return &File{
		fs:           fs,
		path:         p,
		isDirectory:  entry.IsDir(),
		firstCluster: cluster,
		stat:         entry.FileInfo(),
	}, nil
}

// Stat returns the FileInfo of a file or directory.
func (fs *Fs) Stat(name string) (os.FileInfo, error) {
	f, err := fs.open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return f.Stat()
}

// Remove deletes a file in the root directory.
func (fs *Fs) Remove(name string) error {
	p := cleanPath(name)
	if p == "" || strings.Contains(p, "/") {
		return &os.PathError{Op: "remove", Path: name, Err: checkpoint.New(ErrInvalidName, "only files in the root directory can be removed")}
	}

	err := fs.DeleteFile(p)
	if errors.Is(err, ErrFileNotFound) {
		err = os.ErrNotExist
	}
	if err != nil {
		return &os.PathError{Op: "remove", Path: name, Err: err}
	}
	return nil
}

// RemoveAll removes a single file. Directories cannot be removed.
func (fs *Fs) RemoveAll(name string) error {
	if err := fs.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (fs *Fs) Mkdir(name string, perm os.FileMode) error {
	return &os.PathError{Op: "mkdir", Path: name, Err: errors.ErrUnsupported}
}

func (fs *Fs) MkdirAll(name string, perm os.FileMode) error {
	return &os.PathError{Op: "mkdir", Path: name, Err: errors.ErrUnsupported}
}

func (fs *Fs) Rename(oldname, newname string) error {
	return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: errors.ErrUnsupported}
}

func (fs *Fs) Chmod(name string, mode os.FileMode) error {
	return &os.PathError{Op: "chmod", Path: name, Err: errors.ErrUnsupported}
}

func (fs *Fs) Chown(name string, uid, gid int) error {
	return &os.PathError{Op: "chown", Path: name, Err: errors.ErrUnsupported}
}

func (fs *Fs) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return &os.PathError{Op: "chtimes", Path: name, Err: errors.ErrUnsupported}
}
