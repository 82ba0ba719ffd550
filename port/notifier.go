// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package port

import (
	"fmt"

	"code.hybscloud.com/shmipc"
	"code.hybscloud.com/shmipc/service"
	"code.hybscloud.com/shmipc/storage"
	"code.hybscloud.com/shmipc/transport"
)

// Notifier is C8's notifier port: one outgoing transport.EventChannel per
// reconciled listener, opened on demand and dialed to that listener's
// socket (spec §4.4.3).
type Notifier struct {
	id        shmipc.PortID
	svc       *service.EventService
	dirs      storage.Directories
	defaultID uint64

	listeners *shmipc.ContainerState
	rec       *reconciler[*transport.EventChannel]

	guard  *shmipc.RegistryGuard
	closed bool
}

// NotifierOptions configures a Notifier at construction.
type NotifierOptions struct {
	// DefaultEventID is the id Notify (with no argument) sends; override
	// per call with NotifyWithEventID.
	DefaultEventID uint64
}

// NewNotifier constructs a notifier for svc.
func NewNotifier(svc *service.EventService, opts NotifierOptions) (*Notifier, error) {
	id := shmipc.NewPortID()
	n := &Notifier{
		id:        id,
		svc:       svc,
		dirs:      svc.Directories(),
		defaultID: opts.DefaultEventID,
	}
	n.listeners = svc.DynamicConfig().Event.Listeners.State()
	n.rec = newReconciler(n.listeners, n.openChannel, n.closeChannel)

	if err := n.UpdateConnections(); err != nil {
		return nil, err
	}

	guard, err := svc.DynamicConfig().Event.Notifiers.Insert(id)
	if err != nil {
		_ = n.Close()
		return nil, fmt.Errorf("port: register notifier %s: %w", id, err)
	}
	n.guard = guard

	return n, nil
}

// ID returns this notifier's port id.
func (n *Notifier) ID() shmipc.PortID { return n.id }

func (n *Notifier) openChannel(_ int, listenerID shmipc.PortID) (*transport.EventChannel, error) {
	return transport.DialEventChannel(n.dirs.PathHint, listenerID.String())
}

func (n *Notifier) closeChannel(_ int, ch *transport.EventChannel) {
	_ = ch.Close()
}

// UpdateConnections runs reconciliation against the current listener set.
func (n *Notifier) UpdateConnections() error {
	return n.rec.update(fmt.Sprintf("notifier:%s", n.id), func(slot int, id shmipc.PortID, err error) DegradationAction {
		return Warn
	})
}

// Notify sends the notifier's default event id to every reconciled
// listener, returning the count that accepted it. Returns
// ErrNoListenersReached if none did, which callers using
// at-least-one-listener delivery semantics may treat as failure; callers
// doing best-effort broadcast can ignore it.
func (n *Notifier) Notify() (int, error) {
	return n.notify(n.defaultID)
}

// NotifyWithEventID overrides the default event id for one send (spec
// §4.4.3 "notify_with_custom_id").
func (n *Notifier) NotifyWithEventID(id uint64) (int, error) {
	return n.notify(id)
}

func (n *Notifier) notify(id uint64) (int, error) {
	if err := n.UpdateConnections(); err != nil {
		return 0, err
	}
	sent := 0
	for _, ch := range n.rec.connections() {
		if err := ch.Notify(id); err == nil {
			sent++
		}
	}
	if sent == 0 {
		return 0, ErrNoListenersReached
	}
	return sent, nil
}

// Close tears the notifier down: removes it from the notifier registry
// and closes every open channel.
func (n *Notifier) Close() error {
	if n.closed {
		return nil
	}
	n.closed = true
	if n.guard != nil {
		n.guard.Release()
	}
	for slot, ch := range n.rec.connections() {
		n.closeChannel(slot, ch)
	}
	return nil
}
