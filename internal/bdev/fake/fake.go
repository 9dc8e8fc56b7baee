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

// Package fake provides an in-memory implementation of internal/bdev's
// Registry, Descriptor, and Channel, so C1 (back-device variants), C4
// (esnap binder), C7 (read-only facade, wait-bdev) can be exercised without
// a real block-device framework.
package fake

import (
	"context"
	"sync"

	"github.com/esnaplv/lvs/internal/bdev"
	"github.com/esnaplv/lvs/internal/errs"
)

// device is the in-memory content and metadata of one registered bdev.
type device struct {
	info bdev.Info
	data []byte // nil means "all zeros" (used for the hotplug scenario)
	// claimedBy is the exclusive claim owner, if any.
	claimedBy string
}

// Registry is an in-memory bdev.Registry.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*device // keyed by name
	byUUID  map[string]string  // uuid -> name
	hooks   []bdev.ExamineHook
}

// New creates an empty in-memory bdev registry.
func New() *Registry {
	return &Registry{
		devices: make(map[string]*device),
		byUUID:  make(map[string]string),
	}
}

// Register adds a bdev to the registry and immediately runs every
// registered examine hook for it, matching the real framework's behavior of
// examining bdevs as they are added.
func (r *Registry) Register(ctx context.Context, info bdev.Info, data []byte) {
	r.mu.Lock()
	r.devices[info.Name] = &device{info: info, data: data}
	if info.UUID != "" {
		r.byUUID[info.UUID] = info.Name
	}
	hooks := append([]bdev.ExamineHook(nil), r.hooks...)
	r.mu.Unlock()

	for _, h := range hooks {
		h(ctx, info)
	}
}

// Unregister removes a bdev and fires the claim owner's remove handling by
// returning the former claim owner, if any, so callers (internal/robdev)
// can react.
func (r *Registry) Unregister(name string) (claimedBy string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, found := r.devices[name]
	if !found {
		return "", false
	}
	delete(r.devices, name)
	delete(r.byUUID, d.info.UUID)
	return d.claimedBy, true
}

// OpenReadOnly implements bdev.Registry.
func (r *Registry) OpenReadOnly(_ context.Context, nameOrUUID string) (bdev.Descriptor, error) {
	r.mu.Lock()
	d := r.lookupLocked(nameOrUUID)
	r.mu.Unlock()
	if d == nil {
		return nil, bdevNotFound(nameOrUUID)
	}
	return &descriptor{registry: r, name: d.info.Name}, nil
}

// Lookup implements bdev.Registry.
func (r *Registry) Lookup(nameOrUUID string) (bdev.Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.lookupLocked(nameOrUUID)
	if d == nil {
		return bdev.Info{}, false
	}
	return d.info, true
}

func (r *Registry) lookupLocked(nameOrUUID string) *device {
	if d, ok := r.devices[nameOrUUID]; ok {
		return d
	}
	if name, ok := r.byUUID[nameOrUUID]; ok {
		return r.devices[name]
	}
	return nil
}

// Claim implements bdev.Registry.
func (r *Registry) Claim(_ context.Context, name string, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[name]
	if !ok {
		return bdevNotFound(name)
	}
	if d.claimedBy != "" && d.claimedBy != owner {
		return bdev.ErrClaimed
	}
	d.claimedBy = owner
	return nil
}

// Release implements bdev.Registry.
func (r *Registry) Release(_ context.Context, name string, owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[name]; ok && d.claimedBy == owner {
		d.claimedBy = ""
	}
}

// RegisterExamineHook implements bdev.Registry.
func (r *Registry) RegisterExamineHook(hook bdev.ExamineHook) {
	r.mu.Lock()
	existing := make([]bdev.Info, 0, len(r.devices))
	for _, d := range r.devices {
		existing = append(existing, d.info)
	}
	r.hooks = append(r.hooks, hook)
	r.mu.Unlock()

	for _, info := range existing {
		hook(context.Background(), info)
	}
}

type descriptor struct {
	registry *Registry
	name     string
}

func (d *descriptor) Info() bdev.Info {
	d.registry.mu.Lock()
	defer d.registry.mu.Unlock()
	if dev, ok := d.registry.devices[d.name]; ok {
		return dev.info
	}
	return bdev.Info{}
}

func (d *descriptor) GetChannel(context.Context) (bdev.Channel, error) {
	return &channel{registry: d.registry, name: d.name}, nil
}

func (d *descriptor) Close(context.Context) {}

type channel struct {
	registry *Registry
	name     string
}

func (c *channel) Read(_ context.Context, buf []byte, lba, count uint64) error {
	c.registry.mu.Lock()
	dev, ok := c.registry.devices[c.name]
	c.registry.mu.Unlock()
	if !ok {
		return bdevNotFound(c.name)
	}

	blockSize := uint64(dev.info.BlockSize)
	need := count * blockSize
	if uint64(len(buf)) < need {
		need = uint64(len(buf))
	}
	if dev.data == nil {
		for i := range buf[:need] {
			buf[i] = 0
		}
		return nil
	}
	start := lba * blockSize
	end := start + need
	if end > uint64(len(dev.data)) {
		end = uint64(len(dev.data))
	}
	if start > end {
		start = end
	}
	n := copy(buf, dev.data[start:end])
	for i := n; i < int(need); i++ {
		buf[i] = 0
	}
	return nil
}

func (c *channel) ReadV(ctx context.Context, iovecs [][]byte, lba, count uint64) error {
	for _, iov := range iovecs {
		if err := c.Read(ctx, iov, lba, count); err != nil {
			return err
		}
	}
	return nil
}

func (c *channel) Close() {}

func bdevNotFound(name string) error { return errs.NotFound("bdev " + name) }
