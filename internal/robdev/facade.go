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

// Package robdev implements the read-only bdev facade (C7): claim-counted
// read-only views of a base bdev. Any number of read-only views may coexist
// over the same base bdev; as long as at least one exists, an exclusive
// read-write claim on that bdev fails. See SPEC_FULL.md §4.7.
package robdev

import (
	"context"
	"sync"

	"github.com/esnaplv/lvs/internal/bdev"
	"github.com/esnaplv/lvs/internal/thread"
)

// claim is the single shared claim object for one base bdev, referenced by
// every read-only View over it.
type claim struct {
	name    string
	desc    bdev.Descriptor
	owner   *thread.Thread
	refs    int
	views   map[*View]struct{}
}

// ClaimTree is the process-wide (or test-scoped) registry of outstanding
// read-only claims, keyed by base bdev name. See SPEC_FULL.md §4.7's note
// that Go has no stable pointer identity to key by safely across
// goroutines, so naming stands in for the source's "keyed by the base-bdev
// pointer".
type ClaimTree struct {
	registry bdev.Registry
	mu       sync.Mutex
	claims   map[string]*claim
}

// NewClaimTree creates an empty claim tree over the given bdev registry.
func NewClaimTree(registry bdev.Registry) *ClaimTree {
	return &ClaimTree{registry: registry, claims: make(map[string]*claim)}
}

// View is one read-only reference on a base bdev.
type View struct {
	tree *ClaimTree
	name string
}

// NewView creates (or joins) a read-only view of the named base bdev,
// owned by owner. The first view over a given bdev opens a descriptor and
// registers an exclusive read-only claim with the bdev registry; later
// views on the same bdev just increment the shared claim's reference
// count.
func (t *ClaimTree) NewView(ctx context.Context, name string, owner *thread.Thread) (*View, error) {
	t.mu.Lock()
	c, ok := t.claims[name]
	if ok {
		c.refs++
		v := &View{tree: t, name: name}
		c.views[v] = struct{}{}
		t.mu.Unlock()
		return v, nil
	}
	t.mu.Unlock()

	desc, err := t.registry.OpenReadOnly(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := t.registry.Claim(ctx, name, "robdev:"+name); err != nil {
		desc.Close(ctx)
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Another caller may have raced us between the unlock above and here;
	// in that case fold into the winner's claim. Both callers claimed under
	// the same owner string, so the registry holds one claim, which stays
	// in place; only our redundant descriptor is closed.
	if existing, ok := t.claims[name]; ok {
		existing.refs++
		v := &View{tree: t, name: name}
		existing.views[v] = struct{}{}
		desc.Close(ctx)
		return v, nil
	}

	c = &claim{name: name, desc: desc, owner: owner, refs: 1, views: make(map[*View]struct{})}
	v := &View{tree: t, name: name}
	c.views[v] = struct{}{}
	t.claims[name] = c
	return v, nil
}

// Descriptor returns the view's underlying read-only descriptor.
func (v *View) Descriptor() bdev.Descriptor {
	v.tree.mu.Lock()
	defer v.tree.mu.Unlock()
	if c, ok := v.tree.claims[v.name]; ok {
		return c.desc
	}
	return nil
}

// Close releases the view. When the last view over a base bdev closes, the
// claim is removed from the tree and the underlying descriptor is closed
// and the registry claim released, on the claim's owning thread — if the
// caller is not that thread, the teardown is posted there.
func (v *View) Close(ctx context.Context) {
	v.closeOn(ctx, nil)
}

// CloseOn behaves like Close, but must only be called by code already
// running on caller's thread (e.g. a task posted to it). When caller is the
// claim's owning thread, teardown runs inline instead of being posted back
// onto it — posting would have the thread wait on its own queue, which it
// can never drain until the wait returns.
func (v *View) CloseOn(ctx context.Context, caller *thread.Thread) {
	v.closeOn(ctx, caller)
}

func (v *View) closeOn(ctx context.Context, caller *thread.Thread) {
	v.tree.mu.Lock()
	c, ok := v.tree.claims[v.name]
	if !ok {
		v.tree.mu.Unlock()
		return
	}
	delete(c.views, v)
	c.refs--
	last := c.refs == 0
	if last {
		delete(v.tree.claims, v.name)
	}
	v.tree.mu.Unlock()

	if !last {
		return
	}

	release := func() {
		c.desc.Close(ctx)
		v.tree.registry.Release(ctx, v.name, "robdev:"+v.name)
	}
	if c.owner == nil || c.owner == caller {
		release()
		return
	}
	c.owner.PostAndWait(release)
}

// HandleRemove walks every view over name and force-closes it, matching the
// spec's "a remove event on the base bdev walks the claim's list of
// read-only views and unregisters each". It is idempotent if name has no
// outstanding claim.
func (t *ClaimTree) HandleRemove(ctx context.Context, name string) {
	t.mu.Lock()
	c, ok := t.claims[name]
	if !ok {
		t.mu.Unlock()
		return
	}
	views := make([]*View, 0, len(c.views))
	for v := range c.views {
		views = append(views, v)
	}
	t.mu.Unlock()

	for _, v := range views {
		v.Close(ctx)
	}
}
