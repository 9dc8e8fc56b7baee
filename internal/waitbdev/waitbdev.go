/*
Copyright 2026 The LVS Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package waitbdev implements the wait bdev (C7b): a zero-capacity
// placeholder bdev keyed by a target UUID, used by consumers that want to
// be told when a specific not-yet-registered bdev shows up, without
// polling. See SPEC_FULL.md §4.7 ("Wait bdev").
package waitbdev

import (
	"context"
	"sync"

	"github.com/esnaplv/lvs/internal/bdev"
)

// AvailableFunc is invoked once, on whatever goroutine the bdev registry's
// examine hook runs on, when a bdev matching the wait target is registered.
type AvailableFunc func(ctx context.Context, matched bdev.Info)

// WaitBdev is a registered placeholder for exactly one not-yet-present
// bdev, identified by UUID. It supports no I/O; its only job is to carry
// available_cb to the registry's shared examine-hook dispatch.
type WaitBdev struct {
	name       string
	targetUUID string
	cb         AvailableFunc

	mu        sync.Mutex
	delivered bool
}

// Registry is the set of outstanding wait bdevs for one bdev.Registry,
// dispatched from a single shared examine hook registered once with
// Register's first call.
type Registry struct {
	bdevs bdev.Registry

	mu     sync.Mutex
	byID   map[string]*WaitBdev
	hooked bool
}

// NewRegistry creates a wait-bdev registry over the given bdev registry.
func NewRegistry(bdevs bdev.Registry) *Registry {
	return &Registry{bdevs: bdevs, byID: make(map[string]*WaitBdev)}
}

// Register creates and registers a wait bdev named name for targetUUID.
// The first call on a given Registry installs the shared examine hook;
// every bdev already registered, and every bdev registered from then on,
// is compared against every outstanding wait target.
func (r *Registry) Register(name, targetUUID string, cb AvailableFunc) *WaitBdev {
	w := &WaitBdev{name: name, targetUUID: targetUUID, cb: cb}

	r.mu.Lock()
	r.byID[name] = w
	needHook := !r.hooked
	r.hooked = true
	r.mu.Unlock()

	if needHook {
		r.bdevs.RegisterExamineHook(r.examine)
	} else {
		// The shared hook is already registered and fires for every
		// future bdev; a bdev that matches this target may already be
		// registered, so check it immediately.
		r.checkAll()
	}
	return w
}

// Unregister removes a wait bdev, e.g. once its caller gives up waiting.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, name)
}

// Name returns the wait bdev's own name.
func (w *WaitBdev) Name() string { return w.name }

// TargetUUID returns the UUID this wait bdev is waiting for.
func (w *WaitBdev) TargetUUID() string { return w.targetUUID }

// examine is the single hook installed with the underlying bdev registry;
// it compares the newly examined bdev's UUID against every outstanding
// wait target and fires available_cb on any match.
func (r *Registry) examine(ctx context.Context, info bdev.Info) {
	if info.UUID == "" {
		return
	}
	r.mu.Lock()
	var matches []*WaitBdev
	for _, w := range r.byID {
		if w.targetUUID == info.UUID {
			matches = append(matches, w)
		}
	}
	r.mu.Unlock()

	for _, w := range matches {
		w.fire(ctx, info)
	}
}

// checkAll re-scans every already-registered bdev against every
// outstanding wait target, used when a new wait bdev is registered after
// the shared examine hook has already seen earlier bdevs (the fake
// registry replays history to every newly installed hook, but a second
// Register call on this package's own Registry must re-check by hand since
// it does not reinstall the underlying hook).
func (r *Registry) checkAll() {
	r.mu.Lock()
	waiters := make([]*WaitBdev, 0, len(r.byID))
	for _, w := range r.byID {
		waiters = append(waiters, w)
	}
	r.mu.Unlock()

	for _, w := range waiters {
		if info, ok := r.bdevs.Lookup(w.targetUUID); ok {
			w.fire(context.Background(), info)
		}
	}
}

// fire invokes available_cb exactly once per wait bdev, even if multiple
// examine passes match it (e.g. the registry replaying history plus a
// live registration racing it).
func (w *WaitBdev) fire(ctx context.Context, info bdev.Info) {
	w.mu.Lock()
	if w.delivered {
		w.mu.Unlock()
		return
	}
	w.delivered = true
	cb := w.cb
	w.mu.Unlock()

	if cb != nil {
		cb(ctx, info)
	}
}
