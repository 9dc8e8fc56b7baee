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

// Package fake provides an in-memory implementation of internal/blobstore's
// Store and Blob interfaces, used by every other package's tests in place of
// a real blobstore. It is grounded on the same idea as the teacher's
// internal/util/reftracker/radoswrapper fake-RADOS pair: a tiny in-memory
// stand-in for the one real backend the production code talks to.
package fake

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/esnaplv/lvs/internal/blobstore"
)

// Store is an in-memory blobstore.Store.
type Store struct {
	mu          sync.Mutex
	clusterSize uint64
	ioUnitSize  uint64
	nextID      blobstore.BlobID
	blobs       map[blobstore.BlobID]*Blob
	superBlob   blobstore.BlobID
	hasSuper    bool
	destroyed   bool
}

// New creates an empty in-memory blobstore with the given geometry.
func New(clusterSize, ioUnitSize uint64) *Store {
	return &Store{
		clusterSize: clusterSize,
		ioUnitSize:  ioUnitSize,
		nextID:      1,
		blobs:       make(map[blobstore.BlobID]*Blob),
	}
}

func (s *Store) ClusterSize() uint64 { return s.clusterSize }
func (s *Store) IOUnitSize() uint64  { return s.ioUnitSize }

// CreateBlob implements blobstore.Store.
func (s *Store) CreateBlob(_ context.Context, numClusters uint64, thin bool, clear blobstore.ClearMethod) (blobstore.BlobID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	b := &Blob{
		id:          id,
		store:       s,
		numClusters: numClusters,
		thin:        thin,
		clear:       clear,
		xattrs:      make(map[string]string),
		open:        true,
	}
	s.blobs[id] = b
	return id, nil
}

// OpenBlob implements blobstore.Store.
func (s *Store) OpenBlob(_ context.Context, id blobstore.BlobID, clear blobstore.ClearMethod) (blobstore.Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blobs[id]
	if !ok {
		return nil, fmt.Errorf("fake blobstore: blob %d not found", id)
	}
	b.open = true
	b.clear = clear
	return b, nil
}

// DeleteBlob implements blobstore.Store.
func (s *Store) DeleteBlob(_ context.Context, id blobstore.BlobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blobs[id]
	if !ok {
		return fmt.Errorf("fake blobstore: blob %d not found", id)
	}
	if b.open {
		return fmt.Errorf("fake blobstore: blob %d is open", id)
	}
	if parent, ok := s.blobs[b.parent]; ok {
		delete(parent.clones, id)
	}
	delete(s.blobs, id)
	return nil
}

// IterBlobs implements blobstore.Store.
func (s *Store) IterBlobs(_ context.Context, fn func(blobstore.BlobID) error) error {
	s.mu.Lock()
	ids := make([]blobstore.BlobID, 0, len(s.blobs))
	for id := range s.blobs {
		if s.hasSuper && id == s.superBlob {
			continue
		}
		ids = append(ids, id)
	}
	s.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}

// SuperBlobID implements blobstore.Store.
func (s *Store) SuperBlobID(context.Context) (blobstore.BlobID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.superBlob, s.hasSuper, nil
}

// SetSuperBlobID implements blobstore.Store.
func (s *Store) SetSuperBlobID(_ context.Context, id blobstore.BlobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[id]; !ok {
		return fmt.Errorf("fake blobstore: blob %d not found", id)
	}
	s.superBlob = id
	s.hasSuper = true
	return nil
}

// Unload implements blobstore.Store.
func (s *Store) Unload(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = false
	return nil
}

// Destroy implements blobstore.Store.
func (s *Store) Destroy(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs = make(map[blobstore.BlobID]*Blob)
	s.destroyed = true
	return nil
}

// Grow implements blobstore.Store.
func (s *Store) Grow(context.Context) error { return nil }

// Blob is an in-memory blobstore.Blob.
type Blob struct {
	id          blobstore.BlobID
	store       *Store
	numClusters uint64
	thin        bool
	clear       blobstore.ClearMethod
	xattrs      map[string]string
	parent      blobstore.BlobID
	hasParent   bool
	esnapClone  bool
	clones      map[blobstore.BlobID]struct{}
	open        bool
	readOnly    bool
	backDev     blobstore.BackDev
	syncErr     error

	mu sync.Mutex
}

func (b *Blob) ID() blobstore.BlobID { return b.id }

// GetXattr implements blobstore.Blob.
func (b *Blob) GetXattr(_ context.Context, key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.xattrs[key]
	return v, ok, nil
}

// SetXattr implements blobstore.Blob.
func (b *Blob) SetXattr(_ context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.xattrs == nil {
		b.xattrs = make(map[string]string)
	}
	b.xattrs[key] = value
	return nil
}

func (b *Blob) IsThin() bool          { return b.thin }
func (b *Blob) NumClusters() uint64   { return b.numClusters }
func (b *Blob) IsEsnapClone() bool    { return b.esnapClone }

// Clones implements blobstore.Blob.
func (b *Blob) Clones(context.Context) ([]blobstore.BlobID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]blobstore.BlobID, 0, len(b.clones))
	for id := range b.clones {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Sync implements blobstore.Blob. The fake has no separate persisted copy,
// so Sync succeeds unless SetSyncError below has armed a failure, which
// lets tests exercise the "sync fails" path the spec's rename/resize
// invariants depend on.
func (b *Blob) Sync(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.syncErr != nil {
		return b.syncErr
	}
	return nil
}

// SetSyncError arranges for every later Sync call on b to fail with err,
// until SetSyncError is called again with nil. Used
// by tests of crash-safe rename (SPEC_FULL.md §4.6, §8 boundary behaviors).
func (b *Blob) SetSyncError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.syncErr = err
}

// Snapshot implements blobstore.Blob.
func (b *Blob) Snapshot(_ context.Context) (blobstore.BlobID, error) {
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()

	snapID := s.nextID
	s.nextID++
	snap := &Blob{
		id:          snapID,
		store:       s,
		numClusters: b.numClusters,
		thin:        false,
		xattrs:      make(map[string]string),
		clones:      map[blobstore.BlobID]struct{}{b.id: {}},
		parent:      b.parent,
		hasParent:   b.hasParent,
		esnapClone:  b.esnapClone,
		backDev:     b.backDev,
	}
	s.blobs[snapID] = snap

	b.mu.Lock()
	b.parent = snapID
	b.hasParent = true
	b.esnapClone = false
	b.mu.Unlock()

	return snapID, nil
}

// Clone implements blobstore.Blob.
func (b *Blob) Clone(_ context.Context) (blobstore.BlobID, error) {
	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()

	cloneID := s.nextID
	s.nextID++
	clone := &Blob{
		id:          cloneID,
		store:       s,
		numClusters: b.numClusters,
		thin:        true,
		xattrs:      make(map[string]string),
		parent:      b.id,
		hasParent:   true,
	}
	s.blobs[cloneID] = clone

	b.mu.Lock()
	if b.clones == nil {
		b.clones = make(map[blobstore.BlobID]struct{})
	}
	b.clones[cloneID] = struct{}{}
	b.mu.Unlock()

	return cloneID, nil
}

// Inflate implements blobstore.Blob.
func (b *Blob) Inflate(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hasParent = false
	b.esnapClone = false
	return nil
}

// DecoupleParent implements blobstore.Blob.
func (b *Blob) DecoupleParent(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hasParent = false
	b.esnapClone = false
	return nil
}

// Resize implements blobstore.Blob.
func (b *Blob) Resize(_ context.Context, numClusters uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.numClusters = numClusters
	return nil
}

// SetReadOnly implements blobstore.Blob.
func (b *Blob) SetReadOnly(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readOnly = true
	return nil
}

// SetEsnapBackDev implements blobstore.Blob.
func (b *Blob) SetEsnapBackDev(_ context.Context, dev blobstore.BackDev) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.backDev = dev
	return nil
}

// BackDev returns the back-device currently installed on b, for tests that
// need to inspect it directly.
func (b *Blob) BackDev() blobstore.BackDev {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.backDev
}

// Close implements blobstore.Blob.
func (b *Blob) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	return nil
}

// MarkEsnapClone flags b as having an external (esnap) parent, for tests
// that construct a blob directly rather than via Clone.
func (b *Blob) MarkEsnapClone(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.esnapClone = v
}
