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

// Package blobstore declares the contract this module consumes from the
// blobstore layer it sits on top of. The blobstore itself (blob allocation,
// metadata, cluster map, on-disk format) is out of scope for this module —
// see SPEC_FULL.md §1 and §6.1 — this package only names the operations the
// lvol store and lvol catalog call.
package blobstore

import "context"

// ClearMethod controls how a newly-allocated cluster is cleared before it
// is handed to a thin volume, mirroring the blobstore's own enum.
type ClearMethod int

const (
	ClearMethodNone ClearMethod = iota
	ClearMethodUnmap
	ClearMethodWriteZeroes
)

// BlobID identifies a blob within a Store.
type BlobID uint64

// ExternalBsDevCreateFunc is the callback the blobstore invokes, on the
// lvs's owning thread, whenever it needs a back-device for a blob's
// external (esnap) parent. This is exactly SPEC_FULL.md §4.4 / §6.1's
// "external_bs_dev_create(bs_ctx, blob_ctx, blob, cb)".
type ExternalBsDevCreateFunc func(ctx context.Context, blob Blob, cb func(BackDev, error))

// BackDev is the minimal view of a back-device the blobstore needs in order
// to install it as a blob's external parent. The full back-device contract
// (read/write/channel lifecycle) lives in internal/backdev; this interface
// exists so internal/blobstore has no import-cycle dependency on it.
type BackDev interface {
	Destroy(ctx context.Context)
}

// Store is the set of blobstore operations consumed by the lvol store (C6)
// and lvol catalog (C5). Every method that can fail asynchronously in the
// original C API is synchronous here: the blobstore's own request/completion
// queuing is assumed to already have happened underneath this interface by
// the time it returns, since this module's concern is lvol semantics, not
// blobstore I/O scheduling.
type Store interface {
	// CreateBlob allocates a new blob with the given clear method and
	// thin-provisioning flag, sized in clusters.
	CreateBlob(ctx context.Context, numClusters uint64, thin bool, clear ClearMethod) (BlobID, error)
	// OpenBlob opens an existing blob for I/O.
	OpenBlob(ctx context.Context, id BlobID, clear ClearMethod) (Blob, error)
	// DeleteBlob removes a blob. The blob must not be open.
	DeleteBlob(ctx context.Context, id BlobID) error
	// IterBlobs calls fn once per non-super blob currently in the store.
	// Iteration stops early if fn returns an error.
	IterBlobs(ctx context.Context, fn func(BlobID) error) error

	// ClusterSize returns the blobstore's cluster size in bytes.
	ClusterSize() uint64
	// IOUnitSize returns the blobstore's I/O unit size in bytes.
	IOUnitSize() uint64

	// SuperBlobID returns the store's distinguished super-blob, if any.
	SuperBlobID(ctx context.Context) (BlobID, bool, error)
	// SetSuperBlobID designates id as the store's super-blob.
	SetSuperBlobID(ctx context.Context, id BlobID) error

	// Unload flushes and closes the blobstore without destroying it.
	Unload(ctx context.Context) error
	// Destroy unloads and discards all persisted state.
	Destroy(ctx context.Context) error
	// Grow informs the blobstore that its back-device has more clusters
	// available than it was originally initialized with.
	Grow(ctx context.Context) error
}

// Blob is a single blobstore object: a named, growable, cluster-addressed
// region with xattrs, optionally cloned from a parent.
type Blob interface {
	ID() BlobID

	// GetXattr/SetXattr manage the small set of string xattrs this module
	// relies on: "name", "uuid", and the opaque "esnap_id".
	GetXattr(ctx context.Context, key string) (string, bool, error)
	SetXattr(ctx context.Context, key, value string) error

	// IsThin reports whether the blob is thin-provisioned.
	IsThin() bool
	// NumClusters reports the blob's current size in clusters.
	NumClusters() uint64
	// Clones returns the blob IDs of this blob's direct clones.
	Clones(ctx context.Context) ([]BlobID, error)
	// IsEsnapClone reports whether this blob's parent is an external
	// (esnap) device rather than another blob.
	IsEsnapClone() bool

	// Sync flushes pending metadata changes (xattr writes, resize) to the
	// blobstore. The spec requires in-memory state to be updated only
	// after Sync succeeds.
	Sync(ctx context.Context) error

	// Snapshot creates a read-only snapshot of this blob and returns its
	// ID; this blob becomes a clone of the new snapshot.
	Snapshot(ctx context.Context) (BlobID, error)
	// Clone creates a new writable thin clone of this blob.
	Clone(ctx context.Context) (BlobID, error)

	// Inflate copies all data from ancestors into this blob, removing its
	// dependency on any parent.
	Inflate(ctx context.Context) error
	// DecoupleParent removes only the immediate parent dependency,
	// keeping any data already local to this blob.
	DecoupleParent(ctx context.Context) error
	// Resize changes the blob's size in clusters.
	Resize(ctx context.Context, numClusters uint64) error
	// SetReadOnly marks the blob read-only.
	SetReadOnly(ctx context.Context) error

	// SetEsnapBackDev installs (or replaces) the back-device this blob
	// reads unallocated clusters from. Used both at open time (initial
	// install, possibly a degraded placeholder) and by the hotplug
	// resolver (upgrade from placeholder to real esnap).
	SetEsnapBackDev(ctx context.Context, dev BackDev) error

	// Close closes the blob handle. It does not delete the blob.
	Close(ctx context.Context) error
}

// InitOpts configures the creation of a brand new blobstore.
type InitOpts struct {
	ClusterSize uint64
}
