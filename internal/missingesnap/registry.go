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

// Package missingesnap implements the per-lvs missing-esnap registry (C3):
// bookkeeping for lvols that are degraded because their esnap device is not
// currently present, and the add/examine race this creates between the
// thread that registers a new bdev and the lvs thread that owns the
// degraded lvols waiting for it. See SPEC_FULL.md §4.3.
package missingesnap

import (
	"context"
	"sync"

	"github.com/esnaplv/lvs/internal/thread"
)

// Waiter is anything that can hold a missing-esnap record, and be told when
// it gains or loses one. internal/lvol.Lvol implements this; the interface
// lives here instead of a concrete *lvol.Lvol field to avoid a dependency
// cycle (lvol needs a *Record field, missingesnap must not import lvol).
type Waiter interface {
	Missing() *Record
	SetMissing(r *Record)
}

// Record tracks every waiter blocked on one device identifier (a UUID
// string or bdev name) within a single lvs.
type Record struct {
	ID      string
	Waiters []Waiter

	// Holds keeps the record alive across the notify_bdev_added / resolve
	// handoff: notify_bdev_added runs on an arbitrary thread and increments
	// Holds before posting to the owning thread; Remove must not free a
	// record with Holds > 0 even if its waiter list is empty.
	Holds int
}

// Resolver is invoked, on the registry's owning thread, once for each
// record matched by a notify. It is supplied by the esnap binder (C4),
// which knows how to turn "device now present" into an actual back-device
// swap; missingesnap itself only tracks bookkeeping.
type Resolver func(ctx context.Context, rec *Record)

// Registry is one lvs's missing-esnap table, guarded by its own mutex per
// SPEC_FULL.md §5's "per-lvs missing-esnap mutex" rule.
type Registry struct {
	owner    *thread.Thread
	resolve  Resolver
	mu       sync.Mutex
	records  map[string]*Record
}

// New creates a registry for one lvs and adds it to the global set
// consulted by NotifyBdevAdded. Callers must Close it when the lvs
// unloads. resolve may be nil if it is not yet known (the esnap binder
// that supplies it typically needs the registry itself to construct);
// set it with SetResolver before the first NotifyBdevAdded call that can
// reach this registry.
func New(owner *thread.Thread, resolve Resolver) *Registry {
	r := &Registry{owner: owner, resolve: resolve, records: make(map[string]*Record)}
	globalAdd(r)
	return r
}

// SetResolver assigns the registry's resolver after construction, for the
// common case where the resolver (the esnap binder) itself needs a
// reference to this registry to be built.
func (r *Registry) SetResolver(resolve Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolve = resolve
}

// Close removes the registry from the global set. It does not touch any
// outstanding records; callers must have already driven refs/holds to zero
// via the normal lvol/lvs teardown path.
func (r *Registry) Close() {
	globalRemove(r)
}

// Add records that w is waiting on device id, creating the record if this
// is the first waiter for it. Must run on the registry's owning thread.
func (r *Registry) Add(caller *thread.Thread, w Waiter, id string) {
	thread.AssertCurrent(r.owner, caller)

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		rec = &Record{ID: id}
		r.records[id] = rec
	}
	rec.Waiters = append(rec.Waiters, w)
	w.SetMissing(rec)
}

// Remove drops w from its record. If the record's waiter list becomes
// empty and Holds is zero, the record is freed. Must run on the registry's
// owning thread.
func (r *Registry) Remove(caller *thread.Thread, w Waiter) {
	thread.AssertCurrent(r.owner, caller)

	rec := w.Missing()
	if rec == nil {
		return
	}
	w.SetMissing(nil)

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, other := range rec.Waiters {
		if other == w {
			rec.Waiters = append(rec.Waiters[:i], rec.Waiters[i+1:]...)
			break
		}
	}
	if len(rec.Waiters) == 0 && rec.Holds == 0 && r.records[rec.ID] == rec {
		delete(r.records, rec.ID)
	}
}

// Swap exchanges the missing-esnap record pointers of two waiters, used
// when a snapshot/clone operation shifts which lvol should own the wait.
// Must run on the registry's owning thread.
func (r *Registry) Swap(caller *thread.Thread, w1, w2 Waiter) {
	thread.AssertCurrent(r.owner, caller)

	r.mu.Lock()
	defer r.mu.Unlock()

	rec1, rec2 := w1.Missing(), w2.Missing()
	replace := func(rec *Record, oldW, newW Waiter) {
		if rec == nil {
			return
		}
		for i, w := range rec.Waiters {
			if w == oldW {
				rec.Waiters[i] = newW
				return
			}
		}
	}
	replace(rec1, w1, w2)
	replace(rec2, w2, w1)
	w1.SetMissing(rec2)
	w2.SetMissing(rec1)
}

// NotifyBdevAdded is globally callable from any thread: it scans every
// registered lvs's table for records matching one of names, increments
// each match's Holds (to keep it alive across the thread hop), and posts
// the registry's resolver to run on the owning lvs thread for each match.
// It returns true if any match was found anywhere, so the caller (the bdev
// examine-hook dispatcher) can veto other consumers of the same bdev name.
func NotifyBdevAdded(ctx context.Context, names []string) bool {
	matched := false
	for _, r := range globalSnapshot() {
		var toResolve []*Record

		r.mu.Lock()
		for _, name := range names {
			if rec, ok := r.records[name]; ok {
				rec.Holds++
				toResolve = append(toResolve, rec)
			}
		}
		r.mu.Unlock()

		if len(toResolve) == 0 {
			continue
		}
		matched = true

		r := r
		r.mu.Lock()
		resolve := r.resolve
		r.mu.Unlock()
		for _, rec := range toResolve {
			rec := rec
			r.owner.Post(func() {
				resolve(ctx, rec)
				r.releaseHold(rec)
			})
		}
	}
	return matched
}

// RemoveRecord drops rec from the tree without touching its waiter list or
// Holds, implementing step 1 of the hotplug resolver ("remove the record
// from the tree under the mutex; it is still kept alive by holds"). Must
// run on the registry's owning thread. A no-op if rec has already been
// removed (e.g. by a concurrent Remove of its last waiter).
func (r *Registry) RemoveRecord(caller *thread.Thread, rec *Record) {
	thread.AssertCurrent(r.owner, caller)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.records[rec.ID] == rec {
		delete(r.records, rec.ID)
	}
}

// releaseHold decrements rec.Holds after a resolver finishes; if the
// waiter list is also empty by then, the record is freed.
func (r *Registry) releaseHold(rec *Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.Holds--
	if rec.Holds == 0 && len(rec.Waiters) == 0 && r.records[rec.ID] == rec {
		delete(r.records, rec.ID)
	}
}

var (
	globalMu  sync.Mutex
	globalAll = map[*Registry]struct{}{}
)

func globalAdd(r *Registry) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalAll[r] = struct{}{}
}

func globalRemove(r *Registry) {
	globalMu.Lock()
	defer globalMu.Unlock()
	delete(globalAll, r)
}

func globalSnapshot() []*Registry {
	globalMu.Lock()
	defer globalMu.Unlock()
	out := make([]*Registry, 0, len(globalAll))
	for r := range globalAll {
		out = append(out, r)
	}
	return out
}
