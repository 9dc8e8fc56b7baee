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

// Package lvs implements the lvol store lifecycle (C6): load/init/unload/
// destroy/grow/rename of one lvol store, the super-blob that carries its
// identity, and the process-wide name-uniqueness catalog every lvs
// registers with. See SPEC_FULL.md §3, §4.6.
package lvs

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/esnaplv/lvs/internal/bdev"
	"github.com/esnaplv/lvs/internal/blobstore"
	"github.com/esnaplv/lvs/internal/errs"
	"github.com/esnaplv/lvs/internal/esnapbind"
	"github.com/esnaplv/lvs/internal/log"
	"github.com/esnaplv/lvs/internal/lvol"
	"github.com/esnaplv/lvs/internal/missingesnap"
	"github.com/esnaplv/lvs/internal/robdev"
	"github.com/esnaplv/lvs/internal/thread"
)

const (
	nameXattr = "name"
	uuidXattr = "uuid"
)

// Lvs is one lvol store: a loaded blobstore, its super-blob identity, and
// the in-memory lvol catalog built from it.
type Lvs struct {
	UUID    uuid.UUID
	Name    string
	newName string // scratch slot for crash-safe rename

	owner   *thread.Thread
	store   blobstore.Store
	super   blobstore.BlobID
	missing *missingesnap.Registry
	binder  *esnapbind.Binder
	Catalog *lvol.Catalog

	loadEsnaps bool

	mu sync.Mutex
}

// InitOpts configures the creation of a brand new lvol store.
type InitOpts struct {
	Name        string
	ClusterSize uint64
}

// LoadOpts configures loading an existing lvol store from its back-device.
type LoadOpts struct{}

// newLvs wires together the blobstore's external-bs-dev-create callback,
// the missing-esnap registry, and the esnap binder for one lvs instance.
// The wiring happens once, here, rather than being threaded through every
// call site — this is the Go module's rendering of the blobstore's
// `external_bs_dev_create` hook being bound at init/load time.
func newLvs(owner *thread.Thread, id uuid.UUID, name string, store blobstore.Store, bdevs bdev.Registry, claims *robdev.ClaimTree, threads func() []*thread.Thread) *Lvs {
	l := &Lvs{UUID: id, Name: name, owner: owner, store: store}

	l.missing = missingesnap.New(owner, nil)
	l.binder = esnapbind.NewBinder(owner, claims, l.missing, l.isLoadDone, threads)
	l.missing.SetResolver(l.binder.Resolver(l.blobFor))
	l.Catalog = lvol.NewCatalog(id, owner, store, l.binder, l.missing)

	bdevs.RegisterExamineHook(func(ctx context.Context, info bdev.Info) {
		missingesnap.NotifyBdevAdded(ctx, []string{info.Name, info.UUID})
	})

	return l
}

func (l *Lvs) isLoadDone() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadEsnaps
}

// blobFor resolves a missingesnap.Waiter (always a *lvol.Lvol in this
// module) back to its open blobstore.Blob handle, the mapping the esnap
// binder's hotplug resolver needs and the lvol catalog is the only
// component that can provide.
func (l *Lvs) blobFor(w missingesnap.Waiter) (esnapbind.Blob, bool) {
	lv, ok := w.(*lvol.Lvol)
	if !ok {
		return nil, false
	}
	found, ok := l.Catalog.GetByUUID(lv.UUID)
	if !ok || found != lv {
		return nil, false
	}
	return l.openBlobOf(lv)
}

// openBlobOf re-opens lv's blob for the duration of a hotplug resolve. The
// catalog does not expose its internal blob handle directly, so this opens
// a fresh one scoped to the blobstore; the lvol's own refcounted handle is
// untouched.
func (l *Lvs) openBlobOf(lv *lvol.Lvol) (esnapbind.Blob, bool) {
	blb, err := l.store.OpenBlob(context.Background(), lv.BlobID, lv.Clear)
	if err != nil {
		return nil, false
	}
	return blb, true
}

// Init implements init on store, a fresh blobstore the caller has already
// created: registers the lvs by name against the global catalog, creates
// the super-blob carrying the lvs's name/uuid xattrs, and completes.
func Init(ctx context.Context, owner *thread.Thread, store blobstore.Store, bdevs bdev.Registry, claims *robdev.ClaimTree, threads func() []*thread.Thread, opts InitOpts) (*Lvs, error) {
	if err := validateLvsName(opts.Name); err != nil {
		return nil, err
	}
	if err := GlobalCatalog.Reserve(opts.Name); err != nil {
		return nil, err
	}

	id := uuid.New()
	l := newLvs(owner, id, opts.Name, store, bdevs, claims, threads)

	superID, err := store.CreateBlob(ctx, 0, false, blobstore.ClearMethodNone)
	if err != nil {
		GlobalCatalog.Release(opts.Name)
		return nil, err
	}
	super, err := store.OpenBlob(ctx, superID, blobstore.ClearMethodNone)
	if err != nil {
		GlobalCatalog.Release(opts.Name)
		return nil, err
	}
	defer super.Close(ctx)
	if err := super.SetXattr(ctx, nameXattr, opts.Name); err != nil {
		GlobalCatalog.Release(opts.Name)
		return nil, err
	}
	if err := super.SetXattr(ctx, uuidXattr, id.String()); err != nil {
		GlobalCatalog.Release(opts.Name)
		return nil, err
	}
	if err := super.Sync(ctx); err != nil {
		GlobalCatalog.Release(opts.Name)
		return nil, err
	}
	if err := store.SetSuperBlobID(ctx, superID); err != nil {
		GlobalCatalog.Release(opts.Name)
		return nil, err
	}

	l.super = superID
	l.mu.Lock()
	l.loadEsnaps = true
	l.mu.Unlock()

	GlobalCatalog.Register(l)
	return l, nil
}

// Load implements load: loads the blobstore, opens and validates the
// super-blob, registers the lvs, then iterates every non-super blob to
// build the catalog without resolving esnaps (load_esnaps stays false
// during this pass), and finally sets load_esnaps true. Any validation
// failure unloads the blobstore and returns the first error encountered.
func Load(ctx context.Context, owner *thread.Thread, store blobstore.Store, bdevs bdev.Registry, claims *robdev.ClaimTree, threads func() []*thread.Thread, _ LoadOpts) (*Lvs, error) {
	superID, ok, err := store.SuperBlobID(ctx)
	if err != nil {
		store.Unload(ctx)
		return nil, err
	}
	if !ok {
		store.Unload(ctx)
		return nil, errs.NotFound("lvs super-blob")
	}
	super, err := store.OpenBlob(ctx, superID, blobstore.ClearMethodNone)
	if err != nil {
		store.Unload(ctx)
		return nil, err
	}
	defer super.Close(ctx)

	name, ok, err := super.GetXattr(ctx, nameXattr)
	if err != nil || !ok || name == "" {
		store.Unload(ctx)
		return nil, errs.InvalidArgument("lvs super-blob missing name xattr")
	}
	uuidStr, ok, err := super.GetXattr(ctx, uuidXattr)
	if err != nil || !ok {
		store.Unload(ctx)
		return nil, errs.InvalidArgument("lvs super-blob missing uuid xattr")
	}
	id, err := uuid.Parse(uuidStr)
	if err != nil {
		store.Unload(ctx)
		return nil, errs.InvalidArgument("lvs super-blob uuid xattr does not parse")
	}

	if err := GlobalCatalog.Reserve(name); err != nil {
		store.Unload(ctx)
		return nil, err
	}

	l := newLvs(owner, id, name, store, bdevs, claims, threads)
	l.super = superID

	iterErr := store.IterBlobs(ctx, func(id blobstore.BlobID) error {
		return l.loadOneBlob(ctx, id)
	})
	if iterErr != nil {
		GlobalCatalog.Release(name)
		store.Unload(ctx)
		return nil, iterErr
	}

	l.mu.Lock()
	l.loadEsnaps = true
	l.mu.Unlock()

	GlobalCatalog.Register(l)
	return l, nil
}

// loadOneBlob opens one non-super blob during Load, reads its identity and
// esnap xattrs, and adopts it into the catalog directly (bypassing
// lvol.Catalog.Create, which allocates a fresh blob rather than reconstructing
// an lvol around an existing one). The blob is closed again afterward: per
// SPEC_FULL.md §4.6 the load pass only "builds the catalog", it does not
// leave every lvol open; refs stay at zero until a later explicit open.
func (l *Lvs) loadOneBlob(ctx context.Context, id blobstore.BlobID) error {
	blb, err := l.store.OpenBlob(ctx, id, blobstore.ClearMethodNone)
	if err != nil {
		return err
	}
	name, ok, err := blb.GetXattr(ctx, nameXattr)
	if err != nil || !ok {
		blb.Close(ctx)
		return errs.InvalidArgument("blob missing name xattr during load")
	}
	uuidStr, ok, err := blb.GetXattr(ctx, uuidXattr)
	if err != nil || !ok {
		blb.Close(ctx)
		return errs.InvalidArgument("blob missing uuid xattr during load")
	}
	lvolID, err := uuid.Parse(uuidStr)
	if err != nil {
		blb.Close(ctx)
		return errs.InvalidArgument("blob uuid xattr does not parse during load")
	}

	lv := &lvol.Lvol{
		UUID:    lvolID,
		Name:    name,
		LvsUUID: l.UUID,
		BlobID:  id,
		Clear:   blobstore.ClearMethodNone,
	}
	if esnapID, ok, err := blb.GetXattr(ctx, esnapbind.EsnapXattrName); err == nil && ok && esnapID != "" {
		lv.EsnapBackingName = esnapID
	}

	if err := blb.Close(ctx); err != nil {
		return err
	}
	l.Catalog.AdoptLoaded(lv)
	return nil
}

// validateLvsName enforces the ≤63-byte human-name constraint shared with
// lvol names.
func validateLvsName(name string) error {
	if name == "" {
		return errs.InvalidArgument("lvs name must be non-empty")
	}
	if len(name) > 63 {
		return errs.InvalidArgument("lvs name exceeds 63 bytes")
	}
	return nil
}

// Unload implements unload: fails if any lvol has an action in progress or
// outstanding references; otherwise removes every lvol from the
// missing-esnap registry, frees them, and asks the blobstore to unload.
func (l *Lvs) Unload(ctx context.Context) error {
	if err := l.checkQuiescent(); err != nil {
		return err
	}

	for _, lv := range l.Catalog.All() {
		if rec := lv.Missing(); rec != nil {
			l.missing.Remove(l.owner, lv)
		}
	}
	l.missing.Close()

	GlobalCatalog.Release(l.Name)
	return l.store.Unload(ctx)
}

// Destroy implements destroy: same preconditions as Unload, then deletes
// the super-blob and destroys the blobstore.
func (l *Lvs) Destroy(ctx context.Context) error {
	if err := l.checkQuiescent(); err != nil {
		return err
	}

	for _, lv := range l.Catalog.All() {
		if rec := lv.Missing(); rec != nil {
			l.missing.Remove(l.owner, lv)
		}
	}
	l.missing.Close()

	if err := l.store.DeleteBlob(ctx, l.super); err != nil {
		return err
	}
	GlobalCatalog.Release(l.Name)
	return l.store.Destroy(ctx)
}

func (l *Lvs) checkQuiescent() error {
	for _, lv := range l.Catalog.All() {
		if lv.ActionInProgress() {
			return errs.Busy("lvol " + lv.Name + " has an action in progress")
		}
		if lv.Refs() != 0 {
			return errs.Busy("lvol " + lv.Name + " has outstanding references")
		}
	}
	return nil
}

// Rename implements rename: crash-safe two-phase update of the lvs's name.
// newName is stashed in a scratch field; only once the super-blob's xattr
// write and sync succeed is the scratch field copied into Name. On
// failure, the scratch field is reset so a retry with a different name is
// possible.
func (l *Lvs) Rename(ctx context.Context, newName string) error {
	if err := validateLvsName(newName); err != nil {
		return err
	}

	l.mu.Lock()
	if l.Name == newName {
		l.mu.Unlock()
		return nil
	}
	l.newName = newName
	l.mu.Unlock()

	if err := GlobalCatalog.Reserve(newName); err != nil {
		l.resetScratch()
		return err
	}

	super, err := l.store.OpenBlob(ctx, l.super, blobstore.ClearMethodNone)
	if err != nil {
		GlobalCatalog.Release(newName)
		l.resetScratch()
		return err
	}
	defer super.Close(ctx)
	if err := super.SetXattr(ctx, nameXattr, newName); err != nil {
		GlobalCatalog.Release(newName)
		l.resetScratch()
		return err
	}
	if err := super.Sync(ctx); err != nil {
		log.WarningLog(ctx, "lvs rename to %s failed to sync: %v", newName, err)
		GlobalCatalog.Release(newName)
		l.resetScratch()
		return err
	}

	l.mu.Lock()
	old := l.Name
	l.Name = newName
	l.newName = ""
	l.mu.Unlock()

	GlobalCatalog.Release(old)
	GlobalCatalog.Register(l)
	return nil
}

func (l *Lvs) resetScratch() {
	l.mu.Lock()
	l.newName = l.Name
	l.mu.Unlock()
}

// Grow implements grow: a load variant that informs the blobstore its
// back-device has expanded.
func (l *Lvs) Grow(ctx context.Context) error {
	return l.store.Grow(ctx)
}
