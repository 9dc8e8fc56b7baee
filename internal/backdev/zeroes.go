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

	"github.com/esnaplv/lvs/internal/thread"
)

// zeroesBlockSize is the fixed logical block size of the Zeroes variant.
const zeroesBlockSize = 512

// zeroesNumBlocks is reported as an effectively unbounded block count: the
// Zeroes device never rejects a read for being out of range, since it has
// no real backing extent.
const zeroesNumBlocks = ^uint64(0)

// Zeroes is the back-device variant that serves every read as a zero-filled
// buffer. It backs newly-thin-provisioned clusters that have not yet been
// given a more specific parent. See SPEC_FULL.md §3, §4.1.
type Zeroes struct {
	roRejects

	// clusterRead, when non-nil, lets a cluster-backed Zeroes device
	// delegate ReadVExt (when a memory-domain hint is supplied) to the
	// blobstore's own zero-cluster read instead of memset-ing the buffer
	// itself. A nil clusterRead means "default" sub-mode.
	clusterRead func(ctx context.Context, iovecs [][]byte, lba, count uint64) error
}

// NewZeroes creates a default-mode Zeroes back-device.
func NewZeroes() *Zeroes {
	return &Zeroes{}
}

// NewClusterBackedZeroes creates a Zeroes back-device whose ReadVExt
// delegates to clusterRead when invoked with a non-nil memory-domain hint.
func NewClusterBackedZeroes(clusterRead func(ctx context.Context, iovecs [][]byte, lba, count uint64) error) *Zeroes {
	return &Zeroes{clusterRead: clusterRead}
}

func zeroFill(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}

func zeroFillV(iovecs [][]byte) {
	for _, iov := range iovecs {
		zeroFill(iov)
	}
}

func (z *Zeroes) Read(_ context.Context, ch Channel, buf []byte, _, _ uint64, cb Completion) {
	zeroFill(buf)
	cb(ch, nil)
}

func (z *Zeroes) ReadV(_ context.Context, ch Channel, iovecs [][]byte, _, _ uint64, cb Completion) {
	zeroFillV(iovecs)
	cb(ch, nil)
}

func (z *Zeroes) ReadVExt(ctx context.Context, ch Channel, iovecs [][]byte, lba, count uint64, opts IOOpts, cb Completion) {
	if opts.MemoryDomain != nil {
		if z.clusterRead == nil {
			cb(ch, unsupportedMemoryDomain())
			return
		}
		cb(ch, z.clusterRead(ctx, iovecs, lba, count))
		return
	}
	zeroFillV(iovecs)
	cb(ch, nil)
}

func (z *Zeroes) IsZeroes(_, _ uint64) bool { return true }

func (z *Zeroes) BlockSize() uint32 { return zeroesBlockSize }
func (z *Zeroes) NumBlocks() uint64 { return zeroesNumBlocks }

// CreateChannel implements BackDev. Zeroes is stateless, so no channel is
// needed; callers may still call through with a nil channel.
func (z *Zeroes) CreateChannel(context.Context) (Channel, error) { return nil, nil }

// DestroyChannel implements BackDev.
func (z *Zeroes) DestroyChannel(context.Context, Channel) {}

// Destroy implements BackDev. Zeroes holds no resources.
func (z *Zeroes) Destroy(context.Context) {}

// DestroyOn implements BackDev. Zeroes holds no thread-affine resources, so
// it is identical to Destroy regardless of caller.
func (z *Zeroes) DestroyOn(ctx context.Context, _ *thread.Thread) { z.Destroy(ctx) }
