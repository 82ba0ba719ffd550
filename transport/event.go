// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package transport implements the two wire-level carriers a connected port
// pair rests on: a named event channel for notifier/listener signals (spec
// §4.4.3, C5) and a zero-copy connection for publisher/subscriber sample
// offsets (spec §4.6, C6).
//
// Both are named OS objects under a configurable directory, created by one
// side and dialed or mapped by the other, mirroring the create/open split
// spec §4.3 describes for the service concept one level up.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"
)

// EventChannel is a named AF_UNIX SOCK_DGRAM socket carrying small unsigned
// integer ids from a notifier to its listener. Spec §4.4.3 requires only the
// externally observable behavior — lossy, multi-writer/single-reader, FIFO
// per writer — and names "a datagram socket in the reference implementation"
// as the concrete carrier; net.ListenUnixgram/net.DialUnixgram is that
// carrier's idiomatic Go realization, the POSIX socket shim spec §1 scopes
// out of this specification.
//
// The wire id is encoded as a fixed 8-byte little-endian value: datagram
// sockets preserve message boundaries, so no framing beyond the constant
// width is needed.
type EventChannel struct {
	path string
	conn *net.UnixConn
}

const eventIDWireSize = 8

// ListenEventChannel creates the named datagram socket a listener owns. The
// socket file is created exclusively: if one already exists at path this
// returns an error wrapping os.ErrExist, the same "AlreadyExists" shape
// spec §4.3 uses for static config creation races.
func ListenEventChannel(directory, name string) (*EventChannel, error) {
	path := filepath.Join(directory, name)
	if _, err := os.Lstat(path); err == nil {
		return nil, fmt.Errorf("transport: event channel %s: %w", name, os.ErrExist)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	addr, err := net.ResolveUnixAddr("unixgram", path)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve event channel %s: %w", name, err)
	}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen event channel %s: %w", name, err)
	}
	return &EventChannel{path: path, conn: conn}, nil
}

// DialEventChannel opens a notifier-side handle to a listener's existing
// channel.
func DialEventChannel(directory, name string) (*EventChannel, error) {
	path := filepath.Join(directory, name)
	addr, err := net.ResolveUnixAddr("unixgram", path)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve event channel %s: %w", name, err)
	}
	conn, err := net.DialUnix("unixgram", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial event channel %s: %w", name, err)
	}
	return &EventChannel{path: path, conn: conn}, nil
}

// Notify writes id as a single datagram. A full kernel socket buffer on the
// listener side makes this a lossy channel by design (spec §4.4.3); such a
// failure is reported to the caller as an ordinary error rather than
// retried, matching §4.6's "any connection error on send is non-fatal per
// subscriber" policy applied to notifiers.
func (c *EventChannel) Notify(id uint64) error {
	var buf [eventIDWireSize]byte
	binary.LittleEndian.PutUint64(buf[:], id)
	_, err := c.conn.Write(buf[:])
	return err
}

// TryWait performs a single non-blocking receive, returning ok=false if no
// datagram is currently queued.
func (c *EventChannel) TryWait() (id uint64, ok bool, err error) {
	if err := c.conn.SetReadDeadline(time.Now()); err != nil {
		return 0, false, err
	}
	return c.read()
}

// TimedWait waits up to d for one datagram.
func (c *EventChannel) TimedWait(d time.Duration) (id uint64, ok bool, err error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		return 0, false, err
	}
	return c.read()
}

// BlockingWait waits indefinitely for one datagram.
func (c *EventChannel) BlockingWait() (uint64, error) {
	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return 0, err
	}
	id, _, err := c.read()
	return id, err
}

func (c *EventChannel) read() (id uint64, ok bool, err error) {
	var buf [eventIDWireSize]byte
	n, err := c.conn.Read(buf[:])
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, false, nil
		}
		return 0, false, err
	}
	if n != eventIDWireSize {
		return 0, false, fmt.Errorf("transport: event channel short read: %d bytes", n)
	}
	return binary.LittleEndian.Uint64(buf[:]), true, nil
}

// Close closes the underlying socket. On a listener's channel this does not
// remove the socket file; call Unlink once the listener drops (spec §4.3
// Drop applied to C5's artifact table in spec §6).
func (c *EventChannel) Close() error {
	return c.conn.Close()
}

// UnlinkEventChannel removes a listener's socket file. Tolerant of the file
// already being gone.
func UnlinkEventChannel(directory, name string) error {
	err := os.Remove(filepath.Join(directory, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
