// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package port

import (
	"fmt"
	"time"

	"code.hybscloud.com/shmipc"
	"code.hybscloud.com/shmipc/service"
	"code.hybscloud.com/shmipc/storage"
	"code.hybscloud.com/shmipc/transport"
)

// Listener is C8's listener port: owns one inbound transport.EventChannel
// that any reconciled notifier dials into. Unlike Publisher/Subscriber and
// Notifier, a listener tracks no peer set of its own — notifiers find it,
// not the reverse — so it carries no reconciler (spec §4.4.3).
type Listener struct {
	id      shmipc.PortID
	svc     *service.EventService
	dirs    storage.Directories
	channel *transport.EventChannel

	guard  *shmipc.RegistryGuard
	closed bool
}

// NewListener constructs a listener for svc: opens its channel, then
// registers last so a notifier never reconciles against a listener id
// whose channel isn't ready to accept datagrams yet.
func NewListener(svc *service.EventService) (*Listener, error) {
	id := shmipc.NewPortID()
	dirs := svc.Directories()

	ch, err := transport.ListenEventChannel(dirs.PathHint, id.String())
	if err != nil {
		return nil, fmt.Errorf("port: create event channel for listener %s: %w", id, err)
	}

	l := &Listener{id: id, svc: svc, dirs: dirs, channel: ch}

	guard, err := svc.DynamicConfig().Event.Listeners.Insert(id)
	if err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("port: register listener %s: %w", id, err)
	}
	l.guard = guard

	return l, nil
}

// ID returns this listener's port id.
func (l *Listener) ID() shmipc.PortID { return l.id }

// TryWait performs a single non-blocking receive.
func (l *Listener) TryWait() (id uint64, ok bool, err error) {
	return l.channel.TryWait()
}

// TimedWait waits up to d for one notification.
func (l *Listener) TimedWait(d time.Duration) (id uint64, ok bool, err error) {
	return l.channel.TimedWait(d)
}

// BlockingWait waits indefinitely for one notification.
func (l *Listener) BlockingWait() (uint64, error) {
	return l.channel.BlockingWait()
}

// Close tears the listener down: removes it from the listener registry,
// closes its channel, and unlinks the channel's socket file.
func (l *Listener) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	if l.guard != nil {
		l.guard.Release()
	}
	if err := l.channel.Close(); err != nil {
		return err
	}
	return transport.UnlinkEventChannel(l.dirs.PathHint, l.id.String())
}
