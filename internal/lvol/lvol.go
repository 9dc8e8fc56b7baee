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

// Package lvol implements the lvol catalog (C5): the in-memory set of
// logical volumes belonging to one lvol store, keyed by both UUID and
// name, and their create/open/close/destroy/resize/rename/snapshot/clone
// lifecycle. See SPEC_FULL.md §3, §4.5.
package lvol

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/esnaplv/lvs/internal/backdev"
	"github.com/esnaplv/lvs/internal/blobstore"
	"github.com/esnaplv/lvs/internal/missingesnap"
)

// Lvol is one logical volume: a name and UUID bound to a blob in the
// owning lvs's blobstore, plus the bookkeeping needed for the open/close/
// destroy/degraded lifecycle.
type Lvol struct {
	UUID    uuid.UUID
	Name    string
	LvsUUID uuid.UUID

	BlobID blobstore.BlobID
	Clear  blobstore.ClearMethod

	// EsnapBackingName is non-empty for a clone created by
	// CreateBdevClone: the backing bdev's name, stored verbatim as the
	// blob's esnap identifier xattr.
	EsnapBackingName string

	mu               sync.Mutex
	blob             blobstore.Blob
	backDev          backdev.BackDev
	refs             int
	actionInProgress bool
	readOnly         bool
	missing          *missingesnap.Record
}

// UniqueID renders the lvol's unique_id: its own UUID if non-zero, else
// "<lvs-uuid>_<blob-id>" for the (practically unreachable in this module,
// since Create always assigns a fresh UUID) zero-UUID case the original
// format also handles.
func (l *Lvol) UniqueID() string {
	if l.UUID != uuid.Nil {
		return l.UUID.String()
	}
	return fmt.Sprintf("%s_%d", l.LvsUUID, l.BlobID)
}

// Refs returns the current open-reference count.
func (l *Lvol) Refs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refs
}

// ActionInProgress reports whether a destructive operation currently
// excludes concurrent ones.
func (l *Lvol) ActionInProgress() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.actionInProgress
}

// ReadOnly reports whether set_read_only has been applied.
func (l *Lvol) ReadOnly() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readOnly
}

// IsEsnapClone reports whether this lvol was created as a bdev clone
// (CreateBdevClone) or currently holds a live Esnap/EIO back-device.
func (l *Lvol) IsEsnapClone() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.EsnapBackingName != "" || l.backDev != nil
}

// Degraded reports whether the lvol currently has an outstanding
// missing-esnap record (its back-device is an EIO placeholder).
func (l *Lvol) Degraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.missing != nil
}

// Missing implements missingesnap.Waiter.
func (l *Lvol) Missing() *missingesnap.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.missing
}

// SetMissing implements missingesnap.Waiter.
func (l *Lvol) SetMissing(r *missingesnap.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.missing = r
}

// InstallBackDev implements esnapbind.Target: it replaces the lvol's
// tracked back-device reference, called once the hotplug resolver (or the
// initial open path) has installed a new back-device on the blob.
func (l *Lvol) InstallBackDev(_ context.Context, bd backdev.BackDev) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backDev = bd
	return nil
}
