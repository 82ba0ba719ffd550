// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	ownerWriteOnly os.FileMode = 0o200 // "locked": being written
	ownerReadOnly  os.FileMode = 0o400 // "unlocked": commit point
)

// DefaultSuffix is appended to a service id to form its static-config file
// name, matching the original's ".service" convention for static storage.
const DefaultSuffix = ".shmipc_service"

// Directories is the pair of overridable paths spec §6's "path_hint" /
// "suffix" global options configure.
type Directories struct {
	PathHint string
	Suffix   string
}

// DefaultDirectories returns the OS temp directory and DefaultSuffix, the
// same default spec §6 names ("default: OS temp").
func DefaultDirectories() Directories {
	return Directories{PathHint: os.TempDir(), Suffix: DefaultSuffix}
}

func (d Directories) fileName(id string) string {
	suffix := d.Suffix
	if suffix == "" {
		suffix = DefaultSuffix
	}
	return id + suffix
}

func (d Directories) path(id string) string {
	dir := d.PathHint
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, d.fileName(id))
}

// ErrAlreadyExists is returned by CreateLocked when a static config file
// for id already exists, spec §4.3 Create step 1.
var ErrAlreadyExists = errors.New("storage: static config already exists")

// ErrDoesNotExist is returned by Open when no static config file for id
// exists.
var ErrDoesNotExist = errors.New("storage: static config does not exist")

// ErrIsLocked is returned by Open when a static config file exists but is
// still in its owner-write-only "locked" state, meaning its creator has not
// finished writing it yet (spec §4.3 Open step 1, §7 "bounded retry with
// backoff, then surface").
var ErrIsLocked = errors.New("storage: static config is locked")

// Locked is a static config file that has been exclusively created but not
// yet committed. Unlock writes its content and performs the
// owner-write-only -> owner-read-only permission transition that spec §4.3
// defines as the commit point; until Unlock succeeds, concurrent openers
// observe ErrIsLocked.
type Locked struct {
	path string
	file *os.File
}

// CreateLocked exclusively creates the static config file for id, owned
// write-only. Returns ErrAlreadyExists if one is already present, matching
// shm_open/open's O_CREAT|O_EXCL semantics applied to a plain file (spec
// §4.3 Create step 1).
func CreateLocked(dirs Directories, id string) (*Locked, error) {
	path := dirs.path(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("storage: create service root directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, ownerWriteOnly)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("storage: create %s: %w", path, err)
	}
	return &Locked{path: path, file: f}, nil
}

// Unlock writes content to the file and commits it by changing its
// permissions to owner-read-only (spec §4.3 Create step 3). After Unlock
// returns successfully, concurrent Open calls observe a fully-written file
// and never a partial write (spec §8 testable property 4).
func (l *Locked) Unlock(content []byte) error {
	n, err := l.file.Write(content)
	if err != nil {
		_ = l.file.Close()
		return fmt.Errorf("storage: write %s: %w", l.path, err)
	}
	if n != len(content) {
		_ = l.file.Close()
		return fmt.Errorf("storage: short write to %s: wrote %d of %d bytes", l.path, n, len(content))
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("storage: close %s: %w", l.path, err)
	}
	if err := os.Chmod(l.path, ownerReadOnly); err != nil {
		return fmt.Errorf("storage: commit %s: %w", l.path, err)
	}
	return nil
}

// Abort removes the partially-written file, for use when Create's later
// steps (dynamic config segment creation) fail (spec §4.3 Create step 4:
// "on any failure, remove both artifacts").
func (l *Locked) Abort() error {
	_ = l.file.Close()
	return os.Remove(l.path)
}

// Open reads the static config file for id. Returns ErrDoesNotExist if
// absent, ErrIsLocked if present but not yet committed (spec §4.3 Open
// step 1).
func Open(dirs Directories, id string) ([]byte, error) {
	path := dirs.path(id)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrDoesNotExist
		}
		return nil, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	if info.Mode().Perm() != ownerReadOnly {
		return nil, ErrIsLocked
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// Exists reports whether a committed (unlocked) static config exists for
// id, without reading its content.
func Exists(dirs Directories, id string) (bool, error) {
	info, err := os.Stat(dirs.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("storage: stat: %w", err)
	}
	return info.Mode().Perm() == ownerReadOnly, nil
}

// Remove deletes the static config file for id. Used by Drop (spec §4.3)
// once a dynamic config's reference count reaches zero, and by
// CollectGarbage for stale entries.
func Remove(dirs Directories, id string) error {
	err := os.Remove(dirs.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: remove: %w", err)
	}
	return nil
}

// List returns the ids of every committed (unlocked) static config found
// under dirs, for service.List / service discovery (spec §3 "list").
func List(dirs Directories) ([]string, error) {
	dir := dirs.PathHint
	if dir == "" {
		dir = os.TempDir()
	}
	suffix := dirs.Suffix
	if suffix == "" {
		suffix = DefaultSuffix
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: read directory %s: %w", dir, err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Mode().Perm() != ownerReadOnly {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), suffix))
	}
	return ids, nil
}
