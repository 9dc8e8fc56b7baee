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
	"sync"

	"github.com/esnaplv/lvs/internal/bdev"
	"github.com/esnaplv/lvs/internal/robdev"
	"github.com/esnaplv/lvs/internal/thread"
)

// bdevChannel wraps a bdev.Channel so it can travel through BackDev's
// opaque Channel type.
type bdevChannel struct {
	ch bdev.Channel
}

// Bdev is the back-device variant that forwards reads to an underlying
// block device via a read-only descriptor (claimed once per underlying
// bdev, shared across every Bdev/Esnap facade over it, via internal/robdev)
// and a per-thread channel. Each CreateChannel call opens an independent
// bdev channel; unlike Esnap, there is no channel tree — callers that need
// one channel per logical thread must create one per thread themselves.
// See SPEC_FULL.md §3, §4.1.
type Bdev struct {
	roRejects

	view *robdev.View
	info bdev.Info

	mu       sync.Mutex
	channels map[*bdevChannel]struct{}
}

// NewBdev creates a Bdev back-device over an already-established read-only
// view of the underlying bdev.
func NewBdev(view *robdev.View) *Bdev {
	return &Bdev{
		view:     view,
		info:     view.Descriptor().Info(),
		channels: make(map[*bdevChannel]struct{}),
	}
}

func (b *Bdev) Read(ctx context.Context, ch Channel, buf []byte, lba, count uint64, cb Completion) {
	bc, ok := ch.(*bdevChannel)
	if !ok || bc == nil {
		cb(ch, errNilChannel())
		return
	}
	cb(ch, bc.ch.Read(ctx, buf, lba, count))
}

func (b *Bdev) ReadV(ctx context.Context, ch Channel, iovecs [][]byte, lba, count uint64, cb Completion) {
	bc, ok := ch.(*bdevChannel)
	if !ok || bc == nil {
		cb(ch, errNilChannel())
		return
	}
	cb(ch, bc.ch.ReadV(ctx, iovecs, lba, count))
}

func (b *Bdev) ReadVExt(ctx context.Context, ch Channel, iovecs [][]byte, lba, count uint64, opts IOOpts, cb Completion) {
	if opts.MemoryDomain != nil {
		cb(ch, unsupportedMemoryDomain())
		return
	}
	b.ReadV(ctx, ch, iovecs, lba, count, cb)
}

func (b *Bdev) IsZeroes(_, _ uint64) bool { return false }

func (b *Bdev) BlockSize() uint32 { return b.info.BlockSize }
func (b *Bdev) NumBlocks() uint64 { return b.info.NumBlocks }

// CreateChannel implements BackDev.
func (b *Bdev) CreateChannel(ctx context.Context) (Channel, error) {
	ch, err := b.view.Descriptor().GetChannel(ctx)
	if err != nil {
		return nil, err
	}
	bc := &bdevChannel{ch: ch}
	b.mu.Lock()
	b.channels[bc] = struct{}{}
	b.mu.Unlock()
	return bc, nil
}

// DestroyChannel implements BackDev.
func (b *Bdev) DestroyChannel(_ context.Context, ch Channel) {
	bc, ok := ch.(*bdevChannel)
	if !ok || bc == nil {
		return
	}
	b.mu.Lock()
	delete(b.channels, bc)
	b.mu.Unlock()
	bc.ch.Close()
}

// Destroy implements BackDev: it releases this facade's read-only view,
// dropping the shared claim's reference count.
func (b *Bdev) Destroy(ctx context.Context) {
	b.view.Close(ctx)
}

// DestroyOn implements BackDev, for callers that already know they are
// running on caller's thread.
func (b *Bdev) DestroyOn(ctx context.Context, caller *thread.Thread) {
	b.view.CloseOn(ctx, caller)
}

// ThreadIndexer is a small helper shared by Bdev-family variants that need
// a dense per-thread index; production callers typically hand out indices
// from a registration-order counter kept alongside a thread.Pool.
type ThreadIndexer struct {
	mu   sync.Mutex
	next int
	idx  map[*thread.Thread]int
}

// NewThreadIndexer creates an empty indexer.
func NewThreadIndexer() *ThreadIndexer {
	return &ThreadIndexer{idx: make(map[*thread.Thread]int)}
}

// IndexOf returns a stable dense index for t, assigning a new one the first
// time t is seen.
func (ti *ThreadIndexer) IndexOf(t *thread.Thread) int {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	if i, ok := ti.idx[t]; ok {
		return i
	}
	i := ti.next
	ti.next++
	ti.idx[t] = i
	return i
}
