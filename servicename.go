// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shmipc

import (
	"encoding/hex"
	"errors"
	"regexp"

	"github.com/cespare/xxhash/v2"
)

// ErrInvalidServiceName is returned by NewServiceName when the candidate
// name is empty, longer than 255 bytes, or contains a byte outside the
// set [A-Za-z0-9_/.:-].
var ErrInvalidServiceName = errors.New("shmipc: invalid service name")

const maxServiceNameLen = 255

var serviceNamePattern = regexp.MustCompile(`^[A-Za-z0-9_/.:-]+$`)

// ServiceName is a validated service identifier. The zero value is not a
// valid ServiceName; construct one with NewServiceName.
type ServiceName struct {
	value string
}

// NewServiceName validates name against spec §3 (printable ASCII, 1..=255
// bytes, matching ^[A-Za-z0-9_/.:-]+$) and returns a ServiceName wrapping it.
func NewServiceName(name string) (ServiceName, error) {
	if len(name) == 0 || len(name) > maxServiceNameLen {
		return ServiceName{}, ErrInvalidServiceName
	}
	if !serviceNamePattern.MatchString(name) {
		return ServiceName{}, ErrInvalidServiceName
	}
	return ServiceName{value: name}, nil
}

// String returns the validated name.
func (n ServiceName) String() string { return n.value }

// IsZero reports whether n is the unconstructed zero value.
func (n ServiceName) IsZero() bool { return n.value == "" }

// ServiceID is the content-derived identity of a ServiceName, used to build
// short, fixed-length filesystem and shared-memory object names instead of
// embedding the (possibly long) service name directly.
type ServiceID struct {
	value string // 16 lowercase hex digits
}

// DeriveServiceID hashes name's XXH64 (64-bit) digest and hex-encodes it,
// matching the original implementation's hash-the-name-for-object-naming
// convention (spec §3, §9 "Unique port ids").
func DeriveServiceID(name ServiceName) ServiceID {
	sum := xxhash.Sum64String(name.value)
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(sum >> (56 - 8*i))
	}
	return ServiceID{value: hex.EncodeToString(buf[:])}
}

// String returns the 16-hex-digit service id.
func (id ServiceID) String() string { return id.value }

// IsZero reports whether id is the unconstructed zero value.
func (id ServiceID) IsZero() bool { return id.value == "" }
