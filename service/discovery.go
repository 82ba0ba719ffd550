// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package service

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"code.hybscloud.com/shmipc"
	"code.hybscloud.com/shmipc/storage"
)

// List returns the ids of every committed service under dirs, the
// short-hash identities storage.List surfaces (spec §3's "list"). Service
// names are one-way hashed into ids, so List cannot recover the original
// name; callers that minted the name can derive the same id with
// shmipc.DeriveServiceID to check membership.
func List(dirs storage.Directories) ([]string, error) {
	return storage.List(dirs)
}

// Exists reports whether name currently has a committed service (spec §3
// "exists").
func Exists(dirs storage.Directories, name shmipc.ServiceName) (bool, error) {
	id := shmipc.DeriveServiceID(name)
	return storage.Exists(dirs, id.String())
}

// pidAlive reports whether pid still names a running process, using
// signal 0 the way a process-liveness check is conventionally done on
// POSIX systems: no signal is delivered, only error reporting occurs.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return !errors.Is(err, unix.ESRCH)
}

// CollectGarbage sweeps every committed service under dirs for registry
// entries (publisher, subscriber, notifier, listener) whose owning process
// no longer exists, and force-releases them. If sweeping a service leaves
// its reference count at zero, the service is torn down exactly as Drop
// would (spec §4.3 Drop), cleaning up a process that crashed without
// calling Drop rather than leaking its static config and dynamic config
// segment across a reboot window indefinitely.
//
// Grounded on original_source/examples/discovery/src/list_services.rs's
// service-enumeration entry point, extended from "print what exists" to
// "reclaim what a crashed process left behind" per spec.md §9's open
// question on stale port ids.
func CollectGarbage(dirs storage.Directories) error {
	ids, err := storage.List(dirs)
	if err != nil {
		return fmt.Errorf("service: list for garbage collection: %w", err)
	}
	for _, id := range ids {
		if err := collectOne(dirs, id); err != nil {
			return fmt.Errorf("service: garbage collect %s: %w", id, err)
		}
	}
	return nil
}

func collectOne(dirs storage.Directories, id string) error {
	data, err := storage.Open(dirs, id)
	if err != nil {
		// Racing with another process's Create/Drop for this id is
		// expected; skip rather than fail the whole sweep.
		if errors.Is(err, storage.ErrDoesNotExist) || errors.Is(err, storage.ErrIsLocked) {
			return nil
		}
		return err
	}
	qos, err := storage.UnmarshalQoS(data)
	if err != nil {
		return err
	}

	switch qos.Pattern {
	case storage.PubSub:
		return collectPubSub(dirs, id, qos)
	case storage.Event:
		return collectEvent(dirs, id, qos)
	default:
		return nil
	}
}

func collectPubSub(dirs storage.Directories, id string, qos storage.QoS) error {
	dyn, err := storage.OpenPubSubDynamicConfig(dirs.PathHint, storage.DynamicConfigName(id), qos.MaxPublishers, qos.MaxSubscribers)
	if err != nil {
		if errors.Is(err, storage.ErrMarkedForDestruction) {
			return nil
		}
		return err
	}
	sweepRegistry(dyn.PubSub.Publishers)
	sweepRegistry(dyn.PubSub.Subscribers)
	return finishSweep(dirs, id, dyn)
}

func collectEvent(dirs storage.Directories, id string, qos storage.QoS) error {
	dyn, err := storage.OpenEventDynamicConfig(dirs.PathHint, storage.DynamicConfigName(id), qos.MaxNotifiers, qos.MaxListeners)
	if err != nil {
		if errors.Is(err, storage.ErrMarkedForDestruction) {
			return nil
		}
		return err
	}
	sweepRegistry(dyn.Event.Notifiers)
	sweepRegistry(dyn.Event.Listeners)
	return finishSweep(dirs, id, dyn)
}

// sweepRegistry force-releases every slot in r whose encoded pid no longer
// runs.
func sweepRegistry(r *shmipc.Registry) {
	var stale []int
	r.State().Snapshot(func(slot int, portID shmipc.PortID) {
		if !pidAlive(portID.Pid()) {
			stale = append(stale, slot)
		}
	})
	for _, slot := range stale {
		r.ForceRelease(slot)
	}
}

// finishSweep drops the transient reference CollectGarbage's open acquired,
// tearing the service down if that was the last reference.
func finishSweep(dirs storage.Directories, id string, dyn *storage.DynamicConfig) error {
	shouldDestroy := dyn.DecrementReferenceCounter()
	if err := dyn.Close(); err != nil {
		return err
	}
	if !shouldDestroy {
		return nil
	}
	if err := storage.Remove(dirs, id); err != nil {
		return err
	}
	return storage.RemoveDynamicConfig(dirs.PathHint, id)
}
