// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shmipc

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

// startupNanos is captured once at process start so every PortID minted by
// this process shares the same high word, per spec Design Notes: "Compose
// from (high-resolution startup time, process id, monotonic counter)".
var startupNanos = time.Now().UnixNano()

// portIDCounter is the monotonically increasing low-word counter.
var portIDCounter atomic.Uint64

// PortID is the 128-bit identity of a publisher, subscriber, notifier, or
// listener. It is unique within a single host across a reboot window, which
// is all spec requires: connection and event-channel shared-memory object
// names are derived from it, and stale names left behind by a crashed
// process are swept by a GC pass rather than prevented by global uniqueness.
type PortID struct {
	High uint64 // startup time in UnixNano
	Low  uint64 // (pid << 32) | monotonic counter, truncated to 32 bits each
}

// NewPortID mints a fresh, process-unique PortID.
func NewPortID() PortID {
	counter := portIDCounter.Add(1)
	pid := uint64(os.Getpid())
	return PortID{
		High: uint64(startupNanos),
		Low:  (pid&0xffffffff)<<32 | (counter & 0xffffffff),
	}
}

// String renders the PortID as 32 lowercase hex digits, the form used in
// connection object names ("pubid_subid") and event channel names.
func (id PortID) String() string {
	return fmt.Sprintf("%016x%016x", id.High, id.Low)
}

// Pid returns the process id embedded in the low word, used by garbage
// collection to decide whether a stale connection's owning process is still
// alive.
func (id PortID) Pid() int {
	return int(id.Low >> 32)
}

// IsZero reports whether id is the zero value (never returned by
// NewPortID, since startupNanos is always nonzero on any reasonable clock).
func (id PortID) IsZero() bool {
	return id.High == 0 && id.Low == 0
}
