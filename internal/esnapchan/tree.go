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

// Package esnapchan implements the esnap channel tree (C2): a back-device
// scoped mapping from thread identity to an open channel on the underlying
// bdev descriptor. The hot path (Get) is lock-free; growth (Rebind) is rare
// and serialized on the tree's owning thread. See SPEC_FULL.md §4.2.
package esnapchan

import (
	"context"
	"sync/atomic"

	"github.com/esnaplv/lvs/internal/bdev"
	"github.com/esnaplv/lvs/internal/errs"
	"github.com/esnaplv/lvs/internal/thread"
)

// slots is the published array of per-thread channel pointers. It is
// replaced wholesale (never mutated element-by-element by a grower that
// isn't also the current publisher) whenever the tree must grow to
// accommodate a new thread.
type slots struct {
	threads []*thread.Thread     // index -> thread identity, for Fanout
	chans   []atomic.Pointer[bdev.Channel]
}

// Tree is one back-device's channel tree.
type Tree struct {
	owner *thread.Thread
	desc  bdev.Descriptor

	// current is published with Store and read with Load: this is the
	// acquire/release pair SPEC_FULL.md §4.2 requires without mandating a
	// specific primitive (a plain atomic.Pointer store/load is
	// acquire/release on every architecture Go supports).
	current atomic.Pointer[slots]

	// rebinding guards against two concurrent Rebind calls; a second
	// caller observes Busy rather than blocking, per the spec's "at most
	// one rebind may be in flight per tree".
	rebinding  int32
	stashedOld *slots
}

// ThreadIndex is the caller-supplied mapping from thread identity to a dense
// slot index. It lives outside Tree because the tree has no opinion on how
// thread identities are enumerated; the owning lvs/lvol layer supplies it.
type ThreadIndex func(t *thread.Thread) int

// NewTree creates an empty channel tree over desc, owned by owner.
func NewTree(owner *thread.Thread, desc bdev.Descriptor) *Tree {
	t := &Tree{owner: owner, desc: desc}
	t.current.Store(&slots{})
	return t
}

// Get returns the channel for thread idx if one has already been bound,
// without blocking or taking any lock. If none exists yet (idx is out of
// range, or the slot is empty), Get returns (nil, ErrNoMemory) per the
// spec's "fail this read with an out-of-memory code (the upper layer
// retries)" and the caller is expected to trigger Rebind.
func (t *Tree) Get(idx int) (bdev.Channel, error) {
	s := t.current.Load()
	if idx < 0 || idx >= len(s.chans) {
		return nil, errs.NoMemory("esnap channel tree: thread not yet bound")
	}
	ch := s.chans[idx].Load()
	if ch == nil {
		return nil, errs.NoMemory("esnap channel tree: thread not yet bound")
	}
	return *ch, nil
}

// Rebind grows the tree to cover every thread in threads (using idx to
// place each one) and opens a channel on any thread that does not already
// have one. It must run on t's owning thread. A concurrent Rebind call
// observes Busy and returns immediately; the first caller's Rebind will
// still complete the work.
func (t *Tree) Rebind(ctx context.Context, threads []*thread.Thread, idx ThreadIndex) error {
	if !atomic.CompareAndSwapInt32(&t.rebinding, 0, 1) {
		return errs.Busy("esnap channel tree rebind")
	}
	defer atomic.StoreInt32(&t.rebinding, 0)

	old := t.current.Load()

	maxIdx := len(old.chans) - 1
	for _, th := range threads {
		if i := idx(th); i > maxIdx {
			maxIdx = i
		}
	}
	newCount := maxIdx + 1

	var next *slots
	if newCount > len(old.chans) {
		next = &slots{
			threads: make([]*thread.Thread, newCount),
			chans:   make([]atomic.Pointer[bdev.Channel], newCount),
		}
		copy(next.threads, old.threads)
		for i := range old.chans {
			if ch := old.chans[i].Load(); ch != nil {
				next.chans[i].Store(ch)
			}
		}
		for _, th := range threads {
			next.threads[idx(th)] = th
		}
		t.current.Store(next)
		t.stashedOld = old
	} else {
		next = old
	}

	open := func(th *thread.Thread) error {
		i := idx(th)
		if next.chans[i].Load() != nil {
			return nil
		}
		ch, err := t.desc.GetChannel(ctx)
		if err != nil {
			return err
		}
		next.chans[i].Store(&ch)
		return nil
	}

	// Rebind runs as a task on the owning thread, so the owner's own slot
	// is filled here directly: posting it to the owner's queue and waiting
	// for it would block that queue forever.
	var err error
	others := make([]*thread.Thread, 0, len(threads))
	for _, th := range threads {
		if th == t.owner {
			err = open(th)
		} else {
			others = append(others, th)
		}
	}
	if fanErr := thread.Fanout(others, open); err == nil {
		err = fanErr
	}

	if next != old {
		// Every fan-out task has returned, so no reader can still be
		// dereferencing old: readers only ever Load the currently
		// published pointer, and it was swapped above before the
		// fan-out began. It is now safe to drop the stashed reference.
		t.stashedOld = nil
	}

	return err
}

// Destroy closes every channel this tree has opened, then closes the
// underlying descriptor. Each non-owner thread's channel is closed on that
// thread; the owning thread's channel is closed directly by the caller, so
// a Destroy issued from a task on the owning thread does not wait on its
// own queue. A channel exists on a thread iff that thread has ever read
// from the back-device and a rebind has reached it, so threads with no
// bound channel are skipped.
func (t *Tree) Destroy(ctx context.Context) {
	s := t.current.Load()
	threads := make([]*thread.Thread, 0, len(s.threads))
	for _, th := range s.threads {
		if th != nil && th != t.owner {
			threads = append(threads, th)
		}
	}

	indexOf := make(map[*thread.Thread]int, len(s.threads))
	for i, th := range s.threads {
		if th != nil {
			indexOf[th] = i
		}
	}

	closeSlot := func(th *thread.Thread) error {
		i := indexOf[th]
		if ch := s.chans[i].Load(); ch != nil {
			(*ch).Close()
		}
		return nil
	}
	if _, ok := indexOf[t.owner]; ok {
		_ = closeSlot(t.owner)
	}
	_ = thread.Fanout(threads, closeSlot)

	t.desc.Close(ctx)
}
