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

// Package bdev declares the contract this module consumes from the
// block-device framework: opening bdevs read-only by name or UUID, claiming
// them, getting I/O channels, submitting reads, and the examine-hook
// registration used by the wait-bdev (internal/waitbdev) and read-only
// facade (internal/robdev) to react to newly-registered bdevs. See
// SPEC_FULL.md §6.2.
package bdev

import (
	"context"
	"errors"
)

// ErrClaimed is returned by Claim when the bdev already has an exclusive
// claim held by a different owner.
var ErrClaimed = errors.New("bdev: already claimed")

// Info is the static identity and geometry of a registered bdev.
type Info struct {
	Name       string
	UUID       string
	BlockSize  uint32
	NumBlocks  uint64
}

// Channel is a per-thread I/O channel obtained from a Descriptor. Reads
// submitted on a Channel must complete on the thread that obtained it.
type Channel interface {
	// Read performs a contiguous logical-block-addressed read of count
	// blocks starting at lba into buf.
	Read(ctx context.Context, buf []byte, lba, count uint64) error
	// ReadV is the scatter-gather form of Read.
	ReadV(ctx context.Context, iovecs [][]byte, lba, count uint64) error
	Close()
}

// Descriptor is an open handle on a bdev, obtained read-only.
type Descriptor interface {
	Info() Info
	GetChannel(ctx context.Context) (Channel, error)
	Close(ctx context.Context)
}

// Registry is the set of bdevs currently known to the block-device
// framework.
type Registry interface {
	// OpenReadOnly opens the named or UUID-identified bdev read-only. The
	// block-device framework does not distinguish name vs. UUID lookups
	// at this layer; callers pass whichever identifier they have.
	OpenReadOnly(ctx context.Context, nameOrUUID string) (Descriptor, error)
	// Lookup returns the Info for a registered bdev without opening it,
	// used by the wait-bdev examine hook to compare UUIDs.
	Lookup(nameOrUUID string) (Info, bool)

	// Claim registers an exclusive, module-level claim on the named bdev
	// on behalf of owner. It fails with ErrClaimed if another owner
	// already holds a claim.
	Claim(ctx context.Context, name string, owner string) error
	// Release drops owner's claim on the named bdev.
	Release(ctx context.Context, name string, owner string)

	// RegisterExamineHook arranges for hook to be called once for every
	// bdev already registered, and again for every bdev registered in the
	// future.
	RegisterExamineHook(hook ExamineHook)
}

// ExamineHook is invoked once per newly (or already) registered bdev. It is
// the mechanism internal/waitbdev and internal/robdev use to learn about
// bdevs without polling.
type ExamineHook func(ctx context.Context, info Info)
