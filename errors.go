// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package shmipc

import (
	"errors"

	"code.hybscloud.com/iox"
)

// ErrWouldBlock indicates a non-blocking operation cannot proceed right now
// (a queue is full or empty, a registry has no free slot). It is a control
// flow signal, not a failure: callers retry with backoff rather than
// propagating it.
//
// This is an alias for [iox.ErrWouldBlock] for ecosystem consistency with
// code.hybscloud.com/lfq.
var ErrWouldBlock = iox.ErrWouldBlock

// IsWouldBlock reports whether err indicates the operation would block.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// Sentinel errors for single-producer/single-consumer token ownership and
// relocatable-container initialization. None of them carries extra payload.
var (
	// ErrAlreadyAcquired is returned when a single-producer or
	// single-consumer token has already been taken.
	ErrAlreadyAcquired = errors.New("shmipc: producer or consumer token already acquired")

	// ErrNotInitialized is returned by a relocatable container's accessors
	// when Init has not yet run.
	ErrNotInitialized = errors.New("shmipc: relocatable container not initialized")

	// ErrDoubleInit is the invariant violation raised when Init is called
	// twice on the same relocatable container. Per spec §7 this is a bug,
	// not a recoverable condition: callers see it as a panic, this sentinel
	// exists only so tests can assert on the panic value.
	ErrDoubleInit = errors.New("shmipc: double-initialization of relocatable container")
)

// Abort panics with err, mirroring the "abort loudly" policy for invariant
// violations in spec §7 (double-init, retrieve-queue overflow). Exported so
// internal/shm and other sub-packages raise the same class of diagnostic
// rather than an ad hoc panic string.
func Abort(err error) {
	panic(err)
}
