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

package backdev

import (
	"context"

	"github.com/esnaplv/lvs/internal/bdev"
	"github.com/esnaplv/lvs/internal/esnapchan"
	"github.com/esnaplv/lvs/internal/robdev"
	"github.com/esnaplv/lvs/internal/thread"
)

// Esnap is the back-device variant backing an external-snapshot clone: a
// read-only view of an underlying bdev (claimed via internal/robdev, same
// as Bdev) plus the per-thread channel tree of internal/esnapchan instead
// of one channel per CreateChannel call. See SPEC_FULL.md §3, §4.1, §4.2.
type Esnap struct {
	roRejects

	view    *robdev.View
	info    bdev.Info
	tree    *esnapchan.Tree
	owner   *thread.Thread
	indexer *ThreadIndexer
	threads func() []*thread.Thread
}

// NewEsnap creates an Esnap back-device. owner is the thread the channel
// tree's rebinds are serialized on (the owning lvs's thread). threads
// returns the current active thread set at the moment it is called, used
// both for sizing a rebind and as the fan-out target.
func NewEsnap(view *robdev.View, owner *thread.Thread, indexer *ThreadIndexer, threads func() []*thread.Thread) *Esnap {
	desc := view.Descriptor()
	return &Esnap{
		view:    view,
		info:    desc.Info(),
		tree:    esnapchan.NewTree(owner, desc),
		owner:   owner,
		indexer: indexer,
		threads: threads,
	}
}

func (e *Esnap) Read(ctx context.Context, ch Channel, buf []byte, lba, count uint64, cb Completion) {
	e.ReadV(ctx, ch, [][]byte{buf}, lba, count, cb)
}

func (e *Esnap) ReadV(ctx context.Context, ch Channel, iovecs [][]byte, lba, count uint64, cb Completion) {
	e.ReadVExt(ctx, ch, iovecs, lba, count, IOOpts{}, cb)
}

// ReadVExt implements the hot path described in SPEC_FULL.md §4.2: look up
// the calling thread's channel in the tree; on a hit, issue the read; on a
// miss, kick off an asynchronous rebind and fail this attempt with
// NoMemory so the caller can retry.
func (e *Esnap) ReadVExt(ctx context.Context, ch Channel, iovecs [][]byte, lba, count uint64, opts IOOpts, cb Completion) {
	if opts.MemoryDomain != nil {
		cb(ch, unsupportedMemoryDomain())
		return
	}

	ect, ok := ch.(*esnapChannelHandle)
	if !ok || ect == nil {
		cb(ch, errNilChannel())
		return
	}

	bc, err := e.tree.Get(ect.idx)
	if err != nil {
		e.owner.Post(func() {
			_ = e.tree.Rebind(ctx, e.threads(), e.indexer.IndexOf)
		})
		cb(ch, err)
		return
	}

	cb(ch, bc.ReadV(ctx, iovecs, lba, count))
}

func (e *Esnap) IsZeroes(_, _ uint64) bool { return false }

func (e *Esnap) BlockSize() uint32 { return e.info.BlockSize }
func (e *Esnap) NumBlocks() uint64 { return e.info.NumBlocks }

// esnapChannelHandle is the Channel handle returned by CreateChannel; it
// just carries the calling thread's dense index into the channel tree.
type esnapChannelHandle struct {
	idx int
}

// CreateChannel implements BackDev. The returned handle carries slot index
// 0 until BindThread assigns the calling thread's dense index; CreateChannel
// does not itself open a bdev channel — that happens lazily via Rebind the
// first time a read misses.
func (e *Esnap) CreateChannel(_ context.Context) (Channel, error) {
	return &esnapChannelHandle{}, nil
}

// BindThread associates the returned channel handle with t's dense index,
// used by callers that know which thread they are creating the channel on
// (CreateChannel alone cannot discover this in Go).
func (e *Esnap) BindThread(ch Channel, t *thread.Thread) {
	if ect, ok := ch.(*esnapChannelHandle); ok {
		ect.idx = e.indexer.IndexOf(t)
	}
}

// DestroyChannel implements BackDev. Channel teardown for the underlying
// bdev channels happens in Destroy, not per-handle, since the tree owns
// the actual per-thread bdev channels.
func (e *Esnap) DestroyChannel(context.Context, Channel) {}

// Destroy implements BackDev: tears down the channel tree (closing every
// non-owner thread's channel on that thread, and the owning thread's
// channel directly) and then releases this facade's read-only view of the
// underlying bdev.
func (e *Esnap) Destroy(ctx context.Context) {
	e.tree.Destroy(ctx)
	e.view.Close(ctx)
}

// DestroyOn implements BackDev, for callers that already know they are
// running on caller's thread: it skips the owning-thread hand-off Destroy
// falls back to, which would otherwise deadlock a caller that is itself the
// view's owning thread.
func (e *Esnap) DestroyOn(ctx context.Context, caller *thread.Thread) {
	e.tree.Destroy(ctx)
	e.view.CloseOn(ctx, caller)
}

// EnsureRebound synchronously rebinds the tree to cover threads, for
// callers (tests, and the esnap binder's hotplug resolver) that need a
// channel to exist before the next read rather than relying on the
// miss-then-retry protocol.
func (e *Esnap) EnsureRebound(ctx context.Context, threads []*thread.Thread) error {
	return e.tree.Rebind(ctx, threads, e.indexer.IndexOf)
}
