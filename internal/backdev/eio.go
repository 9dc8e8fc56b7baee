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

	"github.com/esnaplv/lvs/internal/errs"
	"github.com/esnaplv/lvs/internal/thread"
)

// eioChannel is the Channel handle CreateChannel hands back; it carries no
// state of its own beyond identifying which EIO device it belongs to, which
// is implicit since each EIO device creates its own channels.
type eioChannel struct{}

// EIO is the back-device variant that fails every read with an I/O error
// without touching the buffer, and rejects every write with
// PermissionDenied. It is installed as the placeholder for a blob whose
// esnap is missing (degraded mode) and doubles as the stand-in used for
// crash-safety testing. See SPEC_FULL.md §3, §4.1.
//
// Reference counting: EIO starts with one "creation" reference. Each
// CreateChannel adds a reference; each DestroyChannel removes one. Destroy
// removes the creation reference and, once called, makes all further
// CreateChannel calls fail — but the device object itself is not actually
// freed (onFree is not invoked) until the reference count reaches zero,
// i.e. until every outstanding channel has also been destroyed. This
// mirrors the spec's "reference count tracks open channels plus one
// creation ref; freeing is deferred until the last channel is destroyed".
type EIO struct {
	roRejects

	// Ctx is caller-supplied context surfaced for debugging/logging, e.g.
	// the blob or lvol this placeholder was installed for.
	Ctx interface{}

	mu        sync.Mutex
	refs      int
	destroyed bool
	onFree    func()
}

// NewEIO creates an EIO back-device with one creation reference held. If
// onFree is non-nil, it is invoked exactly once, when the reference count
// reaches zero after Destroy has been called.
func NewEIO(ctx interface{}, onFree func()) *EIO {
	return &EIO{Ctx: ctx, refs: 1, onFree: onFree}
}

func (e *EIO) Read(_ context.Context, ch Channel, _ []byte, _, _ uint64, cb Completion) {
	cb(ch, errs.IoError("eio back-device"))
}

func (e *EIO) ReadV(_ context.Context, ch Channel, _ [][]byte, _, _ uint64, cb Completion) {
	cb(ch, errs.IoError("eio back-device"))
}

func (e *EIO) ReadVExt(_ context.Context, ch Channel, _ [][]byte, _, _ uint64, _ IOOpts, cb Completion) {
	cb(ch, errs.IoError("eio back-device"))
}

func (e *EIO) IsZeroes(_, _ uint64) bool { return false }

func (e *EIO) BlockSize() uint32 { return zeroesBlockSize }
func (e *EIO) NumBlocks() uint64 { return zeroesNumBlocks }

// CreateChannel implements BackDev. It fails once Destroy has been called,
// even if references are still outstanding.
func (e *EIO) CreateChannel(context.Context) (Channel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return nil, errs.NoDevice("eio back-device has been destroyed")
	}
	e.refs++
	return &eioChannel{}, nil
}

// DestroyChannel implements BackDev.
func (e *EIO) DestroyChannel(_ context.Context, _ Channel) {
	e.mu.Lock()
	e.refs--
	free := e.refs == 0
	onFree := e.onFree
	e.mu.Unlock()

	if free && onFree != nil {
		onFree()
	}
}

// Destroy implements BackDev: it drops the creation reference and, if that
// was the last reference, frees immediately; otherwise freeing happens when
// the last outstanding channel is destroyed.
func (e *EIO) Destroy(context.Context) {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	e.refs--
	free := e.refs == 0
	onFree := e.onFree
	e.mu.Unlock()

	if free && onFree != nil {
		onFree()
	}
}

// DestroyOn implements BackDev. EIO holds no thread-affine resources, so it
// is identical to Destroy regardless of caller.
func (e *EIO) DestroyOn(ctx context.Context, _ *thread.Thread) { e.Destroy(ctx) }

// Refs returns the current reference count, for tests.
func (e *EIO) Refs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refs
}
