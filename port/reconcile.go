// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package port

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"code.hybscloud.com/shmipc"
)

// reconciler runs the algorithm of spec §4.5 against a peer registry,
// shared by Publisher and Subscriber: walk the registry's ContainerState
// snapshot, open a per-peer connection for every newly present slot, close
// it for every slot that went away. T is the per-peer connection handle
// each port keeps (e.g. a *transport.Connection wrapper).
type reconciler[T any] struct {
	state *shmipc.ContainerState
	peers map[int]T

	open  func(slot int, id shmipc.PortID) (T, error)
	close func(slot int, conn T)
}

func newReconciler[T any](state *shmipc.ContainerState, open func(slot int, id shmipc.PortID) (T, error), closeFn func(slot int, conn T)) *reconciler[T] {
	return &reconciler[T]{state: state, peers: make(map[int]T), open: open, close: closeFn}
}

// update runs one reconciliation pass if the registry changed since the
// last call, per spec §4.5. onFailure is invoked for each slot whose open
// failed; its return value decides whether the failure is swallowed
// (Ignore), logged (Warn), or escalated (Fail, makes update return
// ErrReconciliationFailed once the pass completes).
func (r *reconciler[T]) update(label string, onFailure func(slot int, id shmipc.PortID, err error) DegradationAction) error {
	if !r.state.Update() {
		return nil
	}

	present := make(map[int]shmipc.PortID)
	r.state.Snapshot(func(slot int, id shmipc.PortID) {
		present[slot] = id
	})

	failed := false

	for slot, id := range present {
		if _, ok := r.peers[slot]; ok {
			continue
		}
		conn, err := r.open(slot, id)
		if err != nil {
			action := Ignore
			if onFailure != nil {
				action = onFailure(slot, id, err)
			}
			switch action {
			case Warn:
				logrus.WithFields(logrus.Fields{
					"port": label, "slot": slot, "peer": id.String(),
				}).Warnf("port: failed to open connection: %v", err)
			case Fail:
				logrus.WithFields(logrus.Fields{
					"port": label, "slot": slot, "peer": id.String(),
				}).Warnf("port: failed to open connection, escalating: %v", err)
				failed = true
			}
			continue
		}
		r.peers[slot] = conn
	}

	for slot, conn := range r.peers {
		if _, ok := present[slot]; ok {
			continue
		}
		r.close(slot, conn)
		delete(r.peers, slot)
	}

	if failed {
		return fmt.Errorf("%s: %w", label, ErrReconciliationFailed)
	}
	return nil
}

// connections returns the currently open peer connections, keyed by
// registry slot. The map's iteration order is unspecified; callers that need
// a fixed visiting order sort the slot keys themselves.
func (r *reconciler[T]) connections() map[int]T {
	return r.peers
}
