// Package checkpoint decorates errors with the file and line they passed through,
// which gives a short trail through the engine when something fails on the card.
// Every error attached to a checkpoint stays reachable through errors.Is and errors.As.
package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
)

// From wraps err into a checkpoint carrying the caller's position.
// It returns nil if err is nil.
func From(err error) error {
	if err == nil {
		return nil
	}

	// io.EOF must stay comparable with ==.
	// https://github.com/golang/go/issues/39155
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return err
	}

	return newCheckpoint(err, nil)
}

// Wrap attaches err to a checkpoint whose cause is prev.
// Both can be matched by errors.Is afterwards:
//
//	var ErrLoad = errors.New("could not load")
//
//	func load() error {
//		return checkpoint.Wrap(readSector(), ErrLoad)
//	}
//
//	errors.Is(load(), ErrLoad)     // true
//	errors.Is(load(), sectorError) // also true
//
// Wrap returns nil if prev is nil, so it can be applied directly to a call result.
func Wrap(prev, err error) error {
	if prev == nil {
		return nil
	}

	if prev == io.EOF {
		return io.EOF
	}

	return newCheckpoint(err, prev)
}

// New creates a checkpoint for a sentinel error without a cause, adding a
// formatted detail message.
func New(err error, format string, args ...interface{}) error {
	return newCheckpoint(err, errors.New(fmt.Sprintf(format, args...)))
}

type checkpoint struct {
	err  error
	prev error

	file string
	line int
}

func newCheckpoint(err, prev error) *checkpoint {
	// Skip newCheckpoint and the exported constructor.
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		file = "unknown"
	}

	return &checkpoint{
		err:  err,
		prev: prev,
		file: filepath.Base(file),
		line: line,
	}
}

func (c *checkpoint) position() string {
	if c.line == 0 {
		return c.file
	}
	return fmt.Sprintf("%s:%d", c.file, c.line)
}

func (c *checkpoint) Error() string {
	switch {
	case c.err == nil:
		return fmt.Sprintf("[%s] %v", c.position(), c.prev)
	case c.prev == nil:
		return fmt.Sprintf("[%s] %v", c.position(), c.err)
	default:
		return fmt.Sprintf("[%s] %v: %v", c.position(), c.err, c.prev)
	}
}

// Unwrap returns the cause. A checkpoint created by From has its error as cause.
func (c *checkpoint) Unwrap() error {
	if c.prev == nil {
		return c.err
	}
	return c.prev
}

func (c *checkpoint) Is(target error) bool {
	return c.err != nil && errors.Is(c.err, target)
}

func (c *checkpoint) As(target interface{}) bool {
	return c.err != nil && errors.As(c.err, target)
}
