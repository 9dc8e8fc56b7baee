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

package lvol

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/esnaplv/lvs/internal/bdev"
	"github.com/esnaplv/lvs/internal/blobstore"
	"github.com/esnaplv/lvs/internal/errs"
	"github.com/esnaplv/lvs/internal/esnapbind"
	"github.com/esnaplv/lvs/internal/log"
	"github.com/esnaplv/lvs/internal/missingesnap"
	"github.com/esnaplv/lvs/internal/thread"
)

// NameXattr and UUIDXattr are the blob xattr keys the catalog reads and
// writes for every lvol's identity.
const (
	NameXattr = "name"
	UUIDXattr = "uuid"
)

// Catalog is the in-memory set of lvols belonging to one lvol store,
// dual-indexed by UUID and by name (the name-uniqueness check also covers
// lvols still `pending`, held in a separate set, per SPEC_FULL.md's "unique
// across lvols ∪ pending" precondition), following the same dual-index idiom as the teacher's
// name⇄UUID volume-journal reservation table.
type Catalog struct {
	store   blobstore.Store
	binder  *esnapbind.Binder
	missing *missingesnap.Registry
	owner   *thread.Thread
	lvsUUID uuid.UUID

	mu      sync.Mutex
	byUUID  map[uuid.UUID]*Lvol
	byName  map[string]*Lvol
	pending map[string]struct{}
}

// NewCatalog creates an empty catalog backed by store. binder and missing
// may be nil for lvs instances that never create esnap-backed clones
// (tests commonly do this to keep the blobstore-only path free of
// bdev/robdev wiring); owner is the lvs's owning thread, required whenever
// missing is non-nil since every missing-esnap registry operation asserts
// it runs there.
func NewCatalog(lvsUUID uuid.UUID, owner *thread.Thread, store blobstore.Store, binder *esnapbind.Binder, missing *missingesnap.Registry) *Catalog {
	return &Catalog{
		store:   store,
		binder:  binder,
		missing: missing,
		owner:   owner,
		lvsUUID: lvsUUID,
		byUUID:  make(map[uuid.UUID]*Lvol),
		byName:  make(map[string]*Lvol),
		pending: make(map[string]struct{}),
	}
}

// AdoptLoaded registers an already-constructed *Lvol (built by the lvs
// load path, internal/lvs.loadOneBlob, from an existing blob's xattrs)
// into the catalog's indexes. Unlike Create, it does not allocate a blob;
// the lvol starts with refs=0, matching "building the catalog without
// resolving esnaps" during the initial load pass.
func (c *Catalog) AdoptLoaded(lv *Lvol) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byUUID[lv.UUID] = lv
	c.byName[lv.Name] = lv
}

// Get returns the lvol named name, if loaded.
func (c *Catalog) Get(name string) (*Lvol, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.byName[name]
	return l, ok
}

// GetByUUID returns the lvol with the given UUID, if loaded.
func (c *Catalog) GetByUUID(id uuid.UUID) (*Lvol, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.byUUID[id]
	return l, ok
}

// All returns every fully-loaded lvol (not including ones still pending).
func (c *Catalog) All() []*Lvol {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Lvol, 0, len(c.byUUID))
	for _, l := range c.byUUID {
		out = append(out, l)
	}
	return out
}

func validateName(name string) error {
	if name == "" {
		return errs.InvalidArgument("lvol name must be non-empty")
	}
	if len(name) > 63 {
		return errs.InvalidArgument("lvol name exceeds 63 bytes")
	}
	return nil
}

func (c *Catalog) reserveName(name string) error {
	if _, ok := c.byName[name]; ok {
		return errs.AlreadyExists("lvol name " + name)
	}
	if _, ok := c.pending[name]; ok {
		return errs.AlreadyExists("lvol name " + name)
	}
	c.pending[name] = struct{}{}
	return nil
}

// Create implements SPEC_FULL.md §4.5's create: allocates a fresh UUID,
// reserves the name in `pending`, creates a blob sized in clusters from
// sizeBytes, and on successful open moves the lvol into the catalog with
// refs=1. On any failure the name reservation is released.
func (c *Catalog) Create(ctx context.Context, name string, sizeBytes uint64, thin bool, clear blobstore.ClearMethod) (*Lvol, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if err := c.reserveName(name); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		delete(c.pending, name)
		c.mu.Unlock()
	}

	clusterSize := c.store.ClusterSize()
	numClusters := (sizeBytes + clusterSize - 1) / clusterSize

	id := uuid.New()
	blobID, err := c.store.CreateBlob(ctx, numClusters, thin, clear)
	if err != nil {
		release()
		return nil, err
	}

	blb, err := c.store.OpenBlob(ctx, blobID, clear)
	if err != nil {
		release()
		return nil, err
	}
	if err := blb.SetXattr(ctx, NameXattr, name); err != nil {
		blb.Close(ctx)
		release()
		return nil, err
	}
	if err := blb.SetXattr(ctx, UUIDXattr, id.String()); err != nil {
		blb.Close(ctx)
		release()
		return nil, err
	}
	if err := blb.Sync(ctx); err != nil {
		blb.Close(ctx)
		release()
		return nil, err
	}

	lv := &Lvol{
		UUID:    id,
		Name:    name,
		LvsUUID: c.lvsUUID,
		BlobID:  blobID,
		Clear:   clear,
		blob:    blb,
		refs:    1,
	}

	c.mu.Lock()
	delete(c.pending, name)
	c.byUUID[id] = lv
	c.byName[name] = lv
	c.mu.Unlock()

	return lv, nil
}

// CreateBdevClone implements the bdev-clone variant of create: a thin
// clone whose esnap identifier is the backing bdev's name, sized from the
// backing bdev's geometry.
func (c *Catalog) CreateBdevClone(ctx context.Context, registry bdev.Registry, backingName, cloneName string, clear blobstore.ClearMethod) (*Lvol, error) {
	info, ok := registry.Lookup(backingName)
	if !ok {
		return nil, errs.NotFound("backing bdev " + backingName)
	}
	size := uint64(info.BlockSize) * info.NumBlocks

	lv, err := c.Create(ctx, cloneName, size, true, clear)
	if err != nil {
		return nil, err
	}

	lv.mu.Lock()
	lv.EsnapBackingName = backingName
	blb := lv.blob
	lv.mu.Unlock()

	if err := blb.SetXattr(ctx, esnapbind.EsnapXattrName, backingName); err != nil {
		return nil, err
	}
	if err := blb.Sync(ctx); err != nil {
		return nil, err
	}
	if err := c.bindEsnap(ctx, lv); err != nil {
		return nil, err
	}
	return lv, nil
}

// bindEsnap resolves and installs the back-device for a bdev-clone lvol
// via the esnap binder (C4), degrading lv into the missing-esnap registry
// when the underlying bdev is not present. A no-op when the catalog was
// not configured with a binder, or lv is not a bdev clone.
func (c *Catalog) bindEsnap(ctx context.Context, lv *Lvol) error {
	if c.binder == nil || lv.EsnapBackingName == "" {
		return nil
	}
	lv.mu.Lock()
	blb := lv.blob
	lv.mu.Unlock()
	if blb == nil {
		return nil
	}

	bd, err := c.binder.CreateEsnapBackDev(ctx, lv, blb)
	if err != nil {
		return err
	}
	if bd == nil {
		return nil
	}
	if err := blb.SetEsnapBackDev(ctx, bd); err != nil {
		bd.Destroy(ctx)
		return err
	}
	return lv.InstallBackDev(ctx, bd)
}

// CreateSnapshot implements SPEC_FULL.md §4.5's create_snapshot: snapshots
// the lvol's blob and, if the original lvol was degraded, swaps
// missing-esnap ownership (C3) to the new snapshot.
func (c *Catalog) CreateSnapshot(ctx context.Context, lv *Lvol, snapName string) (*Lvol, error) {
	if err := validateName(snapName); err != nil {
		return nil, err
	}

	c.mu.Lock()
	err := c.reserveName(snapName)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	release := func() {
		c.mu.Lock()
		delete(c.pending, snapName)
		c.mu.Unlock()
	}

	lv.mu.Lock()
	blb := lv.blob
	backing := lv.EsnapBackingName
	lv.mu.Unlock()

	snapBlobID, err := blb.Snapshot(ctx)
	if err != nil {
		release()
		return nil, err
	}
	snapBlb, err := c.store.OpenBlob(ctx, snapBlobID, blobstore.ClearMethodNone)
	if err != nil {
		release()
		return nil, err
	}
	if err := snapBlb.SetXattr(ctx, NameXattr, snapName); err != nil {
		snapBlb.Close(ctx)
		release()
		return nil, err
	}
	snapID := uuid.New()
	if err := snapBlb.SetXattr(ctx, UUIDXattr, snapID.String()); err != nil {
		snapBlb.Close(ctx)
		release()
		return nil, err
	}
	if err := snapBlb.Sync(ctx); err != nil {
		snapBlb.Close(ctx)
		release()
		return nil, err
	}

	snap := &Lvol{
		UUID:             snapID,
		Name:             snapName,
		LvsUUID:          c.lvsUUID,
		BlobID:           snapBlobID,
		blob:             snapBlb,
		refs:             1,
		EsnapBackingName: backing,
	}

	c.mu.Lock()
	delete(c.pending, snapName)
	c.byUUID[snapID] = snap
	c.byName[snapName] = snap
	c.mu.Unlock()

	if c.missing != nil {
		if rec := lv.Missing(); rec != nil {
			c.missing.Swap(c.owner, lv, snap)
		}
	}

	return snap, nil
}

// CreateClone implements create_clone: a blobstore clone of lv. A clone of
// an esnap clone is not itself an external clone, so EsnapBackingName is
// never propagated to the new lvol.
func (c *Catalog) CreateClone(ctx context.Context, lv *Lvol, cloneName string) (*Lvol, error) {
	if err := validateName(cloneName); err != nil {
		return nil, err
	}

	c.mu.Lock()
	err := c.reserveName(cloneName)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	release := func() {
		c.mu.Lock()
		delete(c.pending, cloneName)
		c.mu.Unlock()
	}

	lv.mu.Lock()
	blb := lv.blob
	lv.mu.Unlock()

	cloneBlobID, err := blb.Clone(ctx)
	if err != nil {
		release()
		return nil, err
	}
	cloneBlb, err := c.store.OpenBlob(ctx, cloneBlobID, blobstore.ClearMethodNone)
	if err != nil {
		release()
		return nil, err
	}
	if err := cloneBlb.SetXattr(ctx, NameXattr, cloneName); err != nil {
		cloneBlb.Close(ctx)
		release()
		return nil, err
	}
	cloneID := uuid.New()
	if err := cloneBlb.SetXattr(ctx, UUIDXattr, cloneID.String()); err != nil {
		cloneBlb.Close(ctx)
		release()
		return nil, err
	}
	if err := cloneBlb.Sync(ctx); err != nil {
		cloneBlb.Close(ctx)
		release()
		return nil, err
	}

	clone := &Lvol{
		UUID:    cloneID,
		Name:    cloneName,
		LvsUUID: c.lvsUUID,
		BlobID:  cloneBlobID,
		blob:    cloneBlb,
		refs:    1,
	}

	c.mu.Lock()
	delete(c.pending, cloneName)
	c.byUUID[cloneID] = clone
	c.byName[cloneName] = clone
	c.mu.Unlock()

	return clone, nil
}

// Open implements open: idempotent increment-or-open.
func (c *Catalog) Open(ctx context.Context, lv *Lvol) error {
	lv.mu.Lock()
	if lv.actionInProgress {
		lv.mu.Unlock()
		return errs.Busy("lvol " + lv.Name)
	}
	if lv.refs > 0 {
		lv.refs++
		lv.mu.Unlock()
		return nil
	}
	lv.mu.Unlock()

	blb, err := c.store.OpenBlob(ctx, lv.BlobID, lv.Clear)
	if err != nil {
		return err
	}
	lv.mu.Lock()
	lv.blob = blb
	lv.refs = 1
	lv.mu.Unlock()

	return c.bindEsnap(ctx, lv)
}

// Close implements close: decrements refs, closing the blob on the last
// reference. Rejects a close when refs is already zero.
func (c *Catalog) Close(ctx context.Context, lv *Lvol) error {
	lv.mu.Lock()
	defer lv.mu.Unlock()

	if lv.refs == 0 {
		return errs.InvalidArgument("lvol " + lv.Name + " is not open")
	}
	lv.refs--
	if lv.refs == 0 && lv.blob != nil {
		err := lv.blob.Close(ctx)
		lv.blob = nil
		return err
	}
	return nil
}

// Destroy implements destroy: rejects a destroy with outstanding refs;
// if lv is an esnap clone with exactly one sibling sharing the esnap, it
// swaps missing-esnap ownership to that sibling before deleting the blob.
func (c *Catalog) Destroy(ctx context.Context, lv *Lvol) error {
	lv.mu.Lock()
	if lv.refs != 0 {
		lv.mu.Unlock()
		return errs.Busy("lvol " + lv.Name)
	}
	if lv.actionInProgress {
		lv.mu.Unlock()
		return errs.Busy("lvol " + lv.Name)
	}
	lv.actionInProgress = true
	blobID := lv.BlobID
	backing := lv.EsnapBackingName
	lv.mu.Unlock()

	defer func() {
		lv.mu.Lock()
		lv.actionInProgress = false
		lv.mu.Unlock()
	}()

	if backing != "" && c.missing != nil {
		if sibling := c.soleSibling(lv, backing); sibling != nil {
			if rec := lv.Missing(); rec != nil {
				c.missing.Swap(c.owner, lv, sibling)
			}
		}
	}

	if err := c.store.DeleteBlob(ctx, blobID); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.byUUID, lv.UUID)
	delete(c.byName, lv.Name)
	c.mu.Unlock()

	return nil
}

// soleSibling returns the one other loaded lvol sharing backing's esnap
// identifier, or nil if there is not exactly one.
func (c *Catalog) soleSibling(lv *Lvol, backing string) *Lvol {
	c.mu.Lock()
	defer c.mu.Unlock()

	var found *Lvol
	for _, other := range c.byUUID {
		if other == lv || other.EsnapBackingName != backing {
			continue
		}
		if found != nil {
			return nil
		}
		found = other
	}
	return found
}

// Resize implements resize: blobstore resize plus metadata sync.
func (c *Catalog) Resize(ctx context.Context, lv *Lvol, sizeBytes uint64) error {
	lv.mu.Lock()
	blb := lv.blob
	lv.mu.Unlock()
	if blb == nil {
		return errs.InvalidArgument("lvol " + lv.Name + " is not open")
	}

	numClusters := (sizeBytes + c.store.ClusterSize() - 1) / c.store.ClusterSize()
	if err := blb.Resize(ctx, numClusters); err != nil {
		return err
	}
	return blb.Sync(ctx)
}

// SetReadOnly implements set_read_only.
func (c *Catalog) SetReadOnly(ctx context.Context, lv *Lvol) error {
	lv.mu.Lock()
	blb := lv.blob
	lv.mu.Unlock()
	if blb == nil {
		return errs.InvalidArgument("lvol " + lv.Name + " is not open")
	}
	if err := blb.SetReadOnly(ctx); err != nil {
		return err
	}
	if err := blb.Sync(ctx); err != nil {
		return err
	}
	lv.mu.Lock()
	lv.readOnly = true
	lv.mu.Unlock()
	return nil
}

// Rename implements rename: a no-op when names match, otherwise a
// unique-within-catalog check, blob xattr write, metadata sync, and only
// on sync success the in-memory name index update.
func (c *Catalog) Rename(ctx context.Context, lv *Lvol, newName string) error {
	lv.mu.Lock()
	current := lv.Name
	blb := lv.blob
	lv.mu.Unlock()

	if current == newName {
		return nil
	}
	if err := validateName(newName); err != nil {
		return err
	}

	c.mu.Lock()
	if _, ok := c.byName[newName]; ok {
		c.mu.Unlock()
		return errs.AlreadyExists("lvol name " + newName)
	}
	if _, ok := c.pending[newName]; ok {
		c.mu.Unlock()
		return errs.AlreadyExists("lvol name " + newName)
	}
	c.mu.Unlock()

	if blb == nil {
		return errs.InvalidArgument("lvol " + current + " is not open")
	}
	if err := blb.SetXattr(ctx, NameXattr, newName); err != nil {
		return err
	}
	if err := blb.Sync(ctx); err != nil {
		log.WarningLog(ctx, "rename of lvol %s to %s failed to sync: %v", current, newName, err)
		return err
	}

	c.mu.Lock()
	delete(c.byName, current)
	c.byName[newName] = lv
	c.mu.Unlock()

	lv.mu.Lock()
	lv.Name = newName
	lv.mu.Unlock()

	return nil
}

// Inflate implements inflate: pass-through to the blobstore.
func (c *Catalog) Inflate(ctx context.Context, lv *Lvol) error {
	lv.mu.Lock()
	blb := lv.blob
	lv.mu.Unlock()
	if blb == nil {
		return errs.InvalidArgument("lvol " + lv.Name + " is not open")
	}
	return blb.Inflate(ctx)
}

// DecoupleParent implements decouple_parent: pass-through to the
// blobstore.
func (c *Catalog) DecoupleParent(ctx context.Context, lv *Lvol) error {
	lv.mu.Lock()
	blb := lv.blob
	lv.mu.Unlock()
	if blb == nil {
		return errs.InvalidArgument("lvol " + lv.Name + " is not open")
	}
	return blb.DecoupleParent(ctx)
}

// Deletable implements deletable: true iff the lvol has zero clones.
func (c *Catalog) Deletable(ctx context.Context, lv *Lvol) (bool, error) {
	lv.mu.Lock()
	blb := lv.blob
	lv.mu.Unlock()
	if blb == nil {
		return false, errs.InvalidArgument("lvol " + lv.Name + " is not open")
	}
	clones, err := blb.Clones(ctx)
	if err != nil {
		return false, err
	}
	return len(clones) == 0, nil
}
