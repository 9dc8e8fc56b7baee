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

// Package backdev implements the back-device trait (C1): the uniform
// read/write/unmap/is-zeroes contract the blobstore consumes as a blob's
// external parent, and its four concrete variants (Zeroes, EIO, Bdev,
// Esnap). See SPEC_FULL.md §3 "Back-device" and §4.1.
package backdev

import (
	"context"

	"github.com/esnaplv/lvs/internal/errs"
	"github.com/esnaplv/lvs/internal/thread"
)

// Channel is an opaque per-thread handle a BackDev hands back from
// CreateChannel and expects back in DestroyChannel and in every I/O
// completion. Concrete variants define their own channel types; callers
// outside this package only ever pass a Channel through, never inspect it.
type Channel interface{}

// Completion is invoked exactly once for every asynchronous BackDev
// operation, carrying the channel the operation ran on and the result. No
// BackDev implementation invokes Completion more than once for a given
// call. Every variant in this package invokes it on the caller's stack
// before the method returns, for reads as well as for the read-only
// write rejections; an Esnap read that misses its channel completes with
// NoMemory there and leaves the rebind to a task posted to the owning
// thread.
type Completion func(ch Channel, err error)

// IOOpts carries the extended per-I/O options ReadVExt/WriteVExt accept. A
// non-nil MemoryDomain requests the read land directly in caller-managed
// device memory; only the cluster-backed Zeroes variant
// (NewClusterBackedZeroes) can honor that, per SPEC_FULL.md §4.1; Esnap and
// Bdev complete such a read with Unsupported.
type IOOpts struct {
	MemoryDomain interface{}
}

// BackDev is the trait every back-device variant implements.
type BackDev interface {
	Read(ctx context.Context, ch Channel, buf []byte, lba, count uint64, cb Completion)
	ReadV(ctx context.Context, ch Channel, iovecs [][]byte, lba, count uint64, cb Completion)
	ReadVExt(ctx context.Context, ch Channel, iovecs [][]byte, lba, count uint64, opts IOOpts, cb Completion)

	Write(ctx context.Context, ch Channel, buf []byte, lba, count uint64, cb Completion)
	WriteV(ctx context.Context, ch Channel, iovecs [][]byte, lba, count uint64, cb Completion)
	WriteVExt(ctx context.Context, ch Channel, iovecs [][]byte, lba, count uint64, opts IOOpts, cb Completion)
	WriteZeroes(ctx context.Context, ch Channel, lba, count uint64, cb Completion)
	Unmap(ctx context.Context, ch Channel, lba, count uint64, cb Completion)

	// IsZeroes reports whether every byte in [lba, lba+count) is known to
	// be zero, without reading. It may only ever answer true when certain.
	IsZeroes(lba, count uint64) bool

	// BlockSize and NumBlocks describe the device's geometry. NumBlocks
	// may grow over time (e.g. an Esnap's underlying bdev growing) but
	// must never shrink while installed.
	BlockSize() uint32
	NumBlocks() uint64

	CreateChannel(ctx context.Context) (Channel, error)
	DestroyChannel(ctx context.Context, ch Channel)

	// Destroy guarantees the device object is eventually freed, even with
	// channels outstanding on other threads.
	Destroy(ctx context.Context)

	// DestroyOn behaves like Destroy, but must only be called by code
	// already running on caller's thread. Variants backed by a robdev.View
	// use this to skip the owning-thread hand-off Destroy falls back to
	// when it cannot tell whether the caller is already there, which would
	// otherwise deadlock a caller that is itself the owning thread.
	DestroyOn(ctx context.Context, caller *thread.Thread)
}

// roRejects implements the write-family methods shared by every read-only
// back-device variant (Zeroes, EIO, Bdev, Esnap): each completes synchronously
// with ErrPermissionDenied and leaves the payload untouched, per
// SPEC_FULL.md §8's testable property. The source's "an internal assertion
// fires" note is a debug-build abort in the original C; we do not panic
// here, since the same paragraph requires the call to still complete via
// the callback rather than crash the process, and the latter is what is
// actually exercised as a testable property.
type roRejects struct{}

func (roRejects) Write(_ context.Context, ch Channel, _ []byte, _, _ uint64, cb Completion) {
	cb(ch, errs.PermissionDenied("write"))
}

func (roRejects) WriteV(_ context.Context, ch Channel, _ [][]byte, _, _ uint64, cb Completion) {
	cb(ch, errs.PermissionDenied("writev"))
}

func (roRejects) WriteVExt(_ context.Context, ch Channel, _ [][]byte, _, _ uint64, _ IOOpts, cb Completion) {
	cb(ch, errs.PermissionDenied("writev_ext"))
}

func (roRejects) WriteZeroes(_ context.Context, ch Channel, _, _ uint64, cb Completion) {
	cb(ch, errs.PermissionDenied("write_zeroes"))
}

func (roRejects) Unmap(_ context.Context, ch Channel, _, _ uint64, cb Completion) {
	cb(ch, errs.PermissionDenied("unmap"))
}
