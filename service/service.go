// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package service

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/shmipc"
	"code.hybscloud.com/shmipc/storage"
)

const defaultRetryAttempts = 6

// PubSubService is an open handle to a publish-subscribe service: its
// identity, the QoS it was created or confirmed-compatible with, and the
// dynamic config every publisher/subscriber port registers itself in.
type PubSubService struct {
	name  shmipc.ServiceName
	id    shmipc.ServiceID
	qos   storage.QoS
	dirs  storage.Directories
	dyn   *storage.DynamicConfig
	owned bool // true once this handle has successfully opened/created and not yet dropped
}

// Name returns the service's validated name.
func (s *PubSubService) Name() shmipc.ServiceName { return s.name }

// ID returns the service's content-hash id.
func (s *PubSubService) ID() shmipc.ServiceID { return s.id }

// QoS returns the service's committed QoS.
func (s *PubSubService) QoS() storage.QoS { return s.qos }

// Directories returns the directory configuration this handle resolved
// names against.
func (s *PubSubService) Directories() storage.Directories { return s.dirs }

// DynamicConfig returns the shared-memory control block ports register
// into. Used by the port package (C8) to insert/reconcile against the
// publisher/subscriber registries.
func (s *PubSubService) DynamicConfig() *storage.DynamicConfig { return s.dyn }

// Drop decrements the service's reference count; if this was the last
// reference, it removes the static config file and dynamic config segment
// (spec §4.3 Drop). Safe to call at most once per successfully
// opened/created handle.
func (s *PubSubService) Drop() error {
	if !s.owned {
		return nil
	}
	s.owned = false
	shouldDestroy := s.dyn.DecrementReferenceCounter()
	if err := s.dyn.Close(); err != nil {
		return err
	}
	if !shouldDestroy {
		return nil
	}
	if err := storage.Remove(s.dirs, s.id.String()); err != nil {
		return err
	}
	return storage.RemoveDynamicConfig(s.dirs.PathHint, s.id.String())
}

// EventService is an open handle to an event service.
type EventService struct {
	name  shmipc.ServiceName
	id    shmipc.ServiceID
	qos   storage.QoS
	dirs  storage.Directories
	dyn   *storage.DynamicConfig
	owned bool
}

// Name returns the service's validated name.
func (s *EventService) Name() shmipc.ServiceName { return s.name }

// ID returns the service's content-hash id.
func (s *EventService) ID() shmipc.ServiceID { return s.id }

// QoS returns the service's committed QoS.
func (s *EventService) QoS() storage.QoS { return s.qos }

// Directories returns the directory configuration this handle resolved
// names against.
func (s *EventService) Directories() storage.Directories { return s.dirs }

// DynamicConfig returns the shared-memory control block notifier/listener
// ports register into.
func (s *EventService) DynamicConfig() *storage.DynamicConfig { return s.dyn }

// Drop is EventService's counterpart to PubSubService.Drop.
func (s *EventService) Drop() error {
	if !s.owned {
		return nil
	}
	s.owned = false
	shouldDestroy := s.dyn.DecrementReferenceCounter()
	if err := s.dyn.Close(); err != nil {
		return err
	}
	if !shouldDestroy {
		return nil
	}
	if err := storage.Remove(s.dirs, s.id.String()); err != nil {
		return err
	}
	return storage.RemoveDynamicConfig(s.dirs.PathHint, s.id.String())
}

// Builder is the entry point for binding a service name to a messaging
// pattern, mirroring iceoryx2-go's Service.PublishSubscribe()/Event() split
// (service_builder.go) adapted to pure Go without the cgo handle-ownership
// dance.
type Builder struct {
	name shmipc.ServiceName
	dirs storage.Directories
}

// New starts building against name, using storage.DefaultDirectories
// unless overridden with Directories.
func New(name shmipc.ServiceName) *Builder {
	return &Builder{name: name, dirs: storage.DefaultDirectories()}
}

// Directories overrides the path_hint/suffix pair this builder resolves
// the service's static config, dynamic config, and connections under
// (spec §6 "Global" scope options).
func (b *Builder) Directories(dirs storage.Directories) *Builder {
	b.dirs = dirs
	return b
}

// PublishSubscribe returns a builder for the publish-subscribe pattern.
func (b *Builder) PublishSubscribe() *PubSubBuilder {
	return &PubSubBuilder{
		name: b.name,
		dirs: b.dirs,
		qos: storage.QoS{
			Pattern:        storage.PubSub,
			MaxPublishers:  1,
			MaxSubscribers: 1,
		},
		retryAttempts: defaultRetryAttempts,
	}
}

// Event returns a builder for the event pattern.
func (b *Builder) Event() *EventBuilder {
	return &EventBuilder{
		name: b.name,
		dirs: b.dirs,
		qos: storage.QoS{
			Pattern:         storage.Event,
			MaxNotifiers:    1,
			MaxListeners:    1,
			EventIDMaxValue: ^uint64(0),
		},
		retryAttempts: defaultRetryAttempts,
	}
}

// PubSubBuilder configures and create/opens a publish-subscribe service
// (spec §3 "Static config" PubSub fields).
type PubSubBuilder struct {
	name          shmipc.ServiceName
	dirs          storage.Directories
	qos           storage.QoS
	retryAttempts int
}

// PayloadType sets the payload type identity checked on Open (spec §4.3
// Open step 2 "type identity mismatch for PubSub").
func (b *PubSubBuilder) PayloadType(typeName string, size, alignment uint64) *PubSubBuilder {
	b.qos.TypeName = typeName
	b.qos.TypeSize = size
	b.qos.TypeAlignment = alignment
	return b
}

// MaxPublishers sets the publisher registry capacity.
func (b *PubSubBuilder) MaxPublishers(n int) *PubSubBuilder { b.qos.MaxPublishers = n; return b }

// MaxSubscribers sets the subscriber registry capacity.
func (b *PubSubBuilder) MaxSubscribers(n int) *PubSubBuilder { b.qos.MaxSubscribers = n; return b }

// HistorySize sets the replay depth for late-joining subscribers.
func (b *PubSubBuilder) HistorySize(n int) *PubSubBuilder { b.qos.HistorySize = n; return b }

// SubscriberBufferSize sets the submission queue capacity.
func (b *PubSubBuilder) SubscriberBufferSize(n int) *PubSubBuilder {
	b.qos.SubscriberBufferSize = n
	return b
}

// SubscriberMaxBorrowedSamples sets the per-subscriber concurrent-borrow
// ceiling.
func (b *PubSubBuilder) SubscriberMaxBorrowedSamples(n int) *PubSubBuilder {
	b.qos.SubscriberMaxBorrowedSamples = n
	return b
}

// EnableSafeOverflow chooses the connection overflow mode (spec §4.6).
func (b *PubSubBuilder) EnableSafeOverflow(enable bool) *PubSubBuilder {
	b.qos.EnableSafeOverflow = enable
	return b
}

// RetryAttempts overrides the bounded retry count for Open/OpenOrCreate
// backoff loops (default 6, spec §9 Open Question 1).
func (b *PubSubBuilder) RetryAttempts(n int) *PubSubBuilder { b.retryAttempts = n; return b }

// Create creates a new publish-subscribe service, failing with
// ErrAlreadyExists if one is already present (spec §4.3 Create).
func (b *PubSubBuilder) Create() (*PubSubService, error) {
	id := shmipc.DeriveServiceID(b.name)

	locked, err := storage.CreateLocked(b.dirs, id.String())
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, ErrAlreadyExists
		}
		return nil, err
	}

	dyn, err := storage.CreatePubSubDynamicConfig(b.dirs.PathHint, storage.DynamicConfigName(id.String()), b.qos.MaxPublishers, b.qos.MaxSubscribers)
	if err != nil {
		_ = locked.Abort()
		return nil, fmt.Errorf("service: create dynamic config for %s: %w", b.name, err)
	}

	data, err := b.qos.Marshal()
	if err != nil {
		_ = dyn.Close()
		_ = locked.Abort()
		return nil, fmt.Errorf("service: marshal qos for %s: %w", b.name, err)
	}
	if err := locked.Unlock(data); err != nil {
		_ = dyn.Close()
		return nil, fmt.Errorf("service: commit static config for %s: %w", b.name, err)
	}

	return &PubSubService{name: b.name, id: id, qos: b.qos, dirs: b.dirs, dyn: dyn, owned: true}, nil
}

// Open opens an existing publish-subscribe service whose committed QoS
// satisfies this builder's requested minima (spec §4.3 Open).
func (b *PubSubBuilder) Open() (*PubSubService, error) {
	id := shmipc.DeriveServiceID(b.name)

	data, err := storage.Open(b.dirs, id.String())
	if err != nil {
		return nil, translateStaticConfigError(err)
	}
	existing, err := storage.UnmarshalQoS(data)
	if err != nil {
		return nil, fmt.Errorf("service: parse static config for %s: %w", b.name, err)
	}
	if existing.Pattern != storage.PubSub {
		return nil, ErrWrongPattern
	}
	if err := existing.Satisfies(b.qos); err != nil {
		return nil, translateQoSError(err)
	}

	dyn, err := storage.RetryOpen(b.retryAttempts, func() (*storage.DynamicConfig, error) {
		return storage.OpenPubSubDynamicConfig(b.dirs.PathHint, storage.DynamicConfigName(id.String()), existing.MaxPublishers, existing.MaxSubscribers)
	})
	if err != nil {
		if errors.Is(err, storage.ErrUnderlyingResourcesCorrupted) {
			logrus.WithField("service", b.name.String()).Warn("service: dynamic config open exhausted retries")
		}
		return nil, err
	}

	return &PubSubService{name: b.name, id: id, qos: existing, dirs: b.dirs, dyn: dyn, owned: true}, nil
}

// OpenOrCreate tries Open; on ErrDoesNotExist it tries Create; if Create
// loses a race to a concurrent creator it loops back to Open (spec §4.3
// Open-or-create), bounded by RetryAttempts.
func (b *PubSubBuilder) OpenOrCreate() (*PubSubService, error) {
	var backoff iox.Backoff
	for attempt := 0; attempt < b.retryAttempts; attempt++ {
		svc, err := b.Open()
		if err == nil {
			return svc, nil
		}
		if !errors.Is(err, ErrDoesNotExist) {
			return nil, err
		}
		svc, err = b.Create()
		if err == nil {
			return svc, nil
		}
		if !errors.Is(err, ErrAlreadyExists) {
			return nil, err
		}
		backoff.Wait()
	}
	return nil, ErrOpenOrCreateExhausted
}

// EventBuilder configures and create/opens an event service (spec §3
// "Static config" Event fields).
type EventBuilder struct {
	name          shmipc.ServiceName
	dirs          storage.Directories
	qos           storage.QoS
	retryAttempts int
}

// MaxNotifiers sets the notifier registry capacity.
func (b *EventBuilder) MaxNotifiers(n int) *EventBuilder { b.qos.MaxNotifiers = n; return b }

// MaxListeners sets the listener registry capacity.
func (b *EventBuilder) MaxListeners(n int) *EventBuilder { b.qos.MaxListeners = n; return b }

// EventIDMaxValue sets the upper bound on transmitted id values.
func (b *EventBuilder) EventIDMaxValue(n uint64) *EventBuilder {
	b.qos.EventIDMaxValue = n
	return b
}

// RetryAttempts overrides the bounded retry count for Open/OpenOrCreate.
func (b *EventBuilder) RetryAttempts(n int) *EventBuilder { b.retryAttempts = n; return b }

// Create creates a new event service.
func (b *EventBuilder) Create() (*EventService, error) {
	id := shmipc.DeriveServiceID(b.name)

	locked, err := storage.CreateLocked(b.dirs, id.String())
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, ErrAlreadyExists
		}
		return nil, err
	}

	dyn, err := storage.CreateEventDynamicConfig(b.dirs.PathHint, storage.DynamicConfigName(id.String()), b.qos.MaxNotifiers, b.qos.MaxListeners)
	if err != nil {
		_ = locked.Abort()
		return nil, fmt.Errorf("service: create dynamic config for %s: %w", b.name, err)
	}

	data, err := b.qos.Marshal()
	if err != nil {
		_ = dyn.Close()
		_ = locked.Abort()
		return nil, fmt.Errorf("service: marshal qos for %s: %w", b.name, err)
	}
	if err := locked.Unlock(data); err != nil {
		_ = dyn.Close()
		return nil, fmt.Errorf("service: commit static config for %s: %w", b.name, err)
	}

	return &EventService{name: b.name, id: id, qos: b.qos, dirs: b.dirs, dyn: dyn, owned: true}, nil
}

// Open opens an existing event service.
func (b *EventBuilder) Open() (*EventService, error) {
	id := shmipc.DeriveServiceID(b.name)

	data, err := storage.Open(b.dirs, id.String())
	if err != nil {
		return nil, translateStaticConfigError(err)
	}
	existing, err := storage.UnmarshalQoS(data)
	if err != nil {
		return nil, fmt.Errorf("service: parse static config for %s: %w", b.name, err)
	}
	if existing.Pattern != storage.Event {
		return nil, ErrWrongPattern
	}
	if err := existing.Satisfies(b.qos); err != nil {
		return nil, translateQoSError(err)
	}

	dyn, err := storage.RetryOpen(b.retryAttempts, func() (*storage.DynamicConfig, error) {
		return storage.OpenEventDynamicConfig(b.dirs.PathHint, storage.DynamicConfigName(id.String()), existing.MaxNotifiers, existing.MaxListeners)
	})
	if err != nil {
		if errors.Is(err, storage.ErrUnderlyingResourcesCorrupted) {
			logrus.WithField("service", b.name.String()).Warn("service: dynamic config open exhausted retries")
		}
		return nil, err
	}

	return &EventService{name: b.name, id: id, qos: existing, dirs: b.dirs, dyn: dyn, owned: true}, nil
}

// OpenOrCreate is EventBuilder's counterpart to PubSubBuilder.OpenOrCreate.
func (b *EventBuilder) OpenOrCreate() (*EventService, error) {
	var backoff iox.Backoff
	for attempt := 0; attempt < b.retryAttempts; attempt++ {
		svc, err := b.Open()
		if err == nil {
			return svc, nil
		}
		if !errors.Is(err, ErrDoesNotExist) {
			return nil, err
		}
		svc, err = b.Create()
		if err == nil {
			return svc, nil
		}
		if !errors.Is(err, ErrAlreadyExists) {
			return nil, err
		}
		backoff.Wait()
	}
	return nil, ErrOpenOrCreateExhausted
}

func translateStaticConfigError(err error) error {
	switch {
	case errors.Is(err, storage.ErrDoesNotExist):
		return ErrDoesNotExist
	case errors.Is(err, storage.ErrIsLocked):
		return ErrIsLocked
	default:
		return err
	}
}

func translateQoSError(err error) error {
	switch {
	case errors.Is(err, storage.ErrQoSTypeMismatch):
		return ErrPayloadTypeMismatch
	case errors.Is(err, storage.ErrQoSInsufficientCapacity):
		return ErrInsufficientCapacity
	default:
		return err
	}
}
