// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package shm implements the shared-memory substrate shmipc's storage,
// transport, service, and port packages are built on: named POSIX shared
// memory segments, a bump allocator for the fixed control-block region of a
// service's dynamic config, and a pool allocator for the fixed-size sample
// buckets of a publisher's data segment.
//
// Every exported type in this package is relocation-safe: it never stores
// an absolute pointer into the segment, only a base unsafe.Pointer captured
// at the moment the segment is mapped and byte offsets relative to it. Two
// processes mapping the same segment at different virtual addresses each
// build their own header pointing at identical bytes.
package shm

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// DefaultDirectory is where named segments are created, mirroring the
// well-known /dev/shm POSIX shared-memory mount point on Linux.
const DefaultDirectory = "/dev/shm"

// Segment is a named, memory-mapped region of shared memory. It wraps the
// shm_open/mmap/ftruncate POSIX shim spec's design notes call out as an
// external collaborator this middleware does not attempt to specify itself
// (spec §1): this is a concrete implementation of that shim over
// golang.org/x/sys/unix.
type Segment struct {
	name string
	path string
	fd   int
	size int
	data []byte
}

// Open attempts to open an existing segment named name without creating it.
// Returns an *os.PathError wrapping unix.ENOENT if it does not exist.
func Open(directory, name string, size int) (*Segment, error) {
	return open(directory, name, size, 0)
}

// Create creates a new segment named name exclusively: if one already
// exists, Create fails with an error wrapping unix.EEXIST, mirroring
// shm_open's O_CREAT|O_EXCL semantics so two racing processes cannot both
// believe they created the segment (spec §4.3's create/open protocol).
func Create(directory, name string, size int) (*Segment, error) {
	return open(directory, name, size, unix.O_CREAT|unix.O_EXCL)
}

// OpenOrCreate opens name if present, otherwise creates it.
func OpenOrCreate(directory, name string, size int) (*Segment, error) {
	s, err := Open(directory, name, size)
	if err == nil {
		return s, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	return Create(directory, name, size)
}

func open(directory, name string, size int, extraFlags int) (*Segment, error) {
	if directory == "" {
		directory = DefaultDirectory
	}
	path := filepath.Join(directory, name)

	fd, err := unix.Open(path, unix.O_RDWR|extraFlags, 0600)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}

	if extraFlags&unix.O_CREAT != 0 {
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			_ = unix.Close(fd)
			_ = unix.Unlink(path)
			return nil, fmt.Errorf("shm: ftruncate %s: %w", path, err)
		}
	} else {
		st, err := statSize(fd)
		if err != nil {
			_ = unix.Close(fd)
			return nil, err
		}
		size = st
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}

	return &Segment{name: name, path: path, fd: fd, size: size, data: data}, nil
}

func statSize(fd int) (int, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return 0, fmt.Errorf("shm: fstat: %w", err)
	}
	return int(st.Size), nil
}

// Name returns the segment's base name (without directory).
func (s *Segment) Name() string { return s.name }

// Size returns the mapped region's length in bytes.
func (s *Segment) Size() int { return s.size }

// Bytes returns the mapped region. Callers use unsafe.Pointer(&Bytes()[0])
// as the base address for placing relocatable structures.
func (s *Segment) Bytes() []byte { return s.data }

// Close unmaps the segment and closes its file descriptor. It does not
// remove the underlying file: use Unlink for that, once a reference count
// (storage.DynamicConfig) confirms no process still needs it.
func (s *Segment) Close() error {
	if s.data != nil {
		if err := unix.Munmap(s.data); err != nil {
			return fmt.Errorf("shm: munmap %s: %w", s.path, err)
		}
		s.data = nil
	}
	return unix.Close(s.fd)
}

// Unlink removes the named segment's backing file. Call only after the last
// reference has been confirmed dropped (spec §4.3 Drop semantics).
func Unlink(directory, name string) error {
	if directory == "" {
		directory = DefaultDirectory
	}
	err := unix.Unlink(filepath.Join(directory, name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
