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

// Package esnapbind implements the esnap binder (C4): given a blob's
// stored esnap identifier, it produces the right back-device — a real
// Esnap back-device when the underlying bdev is present, or a degraded EIO
// placeholder plus a missing-esnap registration when it is not — and later
// resolves that placeholder to a real back-device when the device appears.
// See SPEC_FULL.md §4.4.
package esnapbind

import (
	"context"

	"github.com/google/uuid"

	"github.com/esnaplv/lvs/internal/backdev"
	"github.com/esnaplv/lvs/internal/blobstore"
	"github.com/esnaplv/lvs/internal/errs"
	"github.com/esnaplv/lvs/internal/log"
	"github.com/esnaplv/lvs/internal/missingesnap"
	"github.com/esnaplv/lvs/internal/robdev"
	"github.com/esnaplv/lvs/internal/thread"
)

// Blob is the blobstore.Blob surface this package needs; kept as a local
// alias rather than a subset interface since every method it uses is
// already exactly blobstore.Blob's signature.
type Blob = blobstore.Blob

// EsnapXattrName is the xattr key the blobstore stores the esnap
// identifier under.
const EsnapXattrName = "esnap_id"

// esnapIDLen is the length of the stored esnap identifier: a canonically
// formatted UUID string (e.g. "e8a39b9e-3b3e-4f2e-9b0a-1f7e2b9c9f0a") plus
// its NUL terminator byte, matching SPDK_UUID_STRING_LEN.
const esnapIDLen = 37

// TerminateEsnapID appends the NUL terminator the stored esnap identifier
// convention requires, for callers writing id into a blob's xattr.
func TerminateEsnapID(id string) string {
	return id + "\x00"
}

// Target is anything that can be degraded: it can be added to and removed
// from the missing-esnap registry and told about a newly resolved
// back-device. internal/lvol.Lvol implements both this and
// missingesnap.Waiter.
type Target interface {
	missingesnap.Waiter
	InstallBackDev(ctx context.Context, bd backdev.BackDev) error
}

// Binder ties together the bdev registry, the read-only facade, the
// per-lvs missing-esnap registry, and the thread the lvs owning these
// lvols runs on.
type Binder struct {
	owner    *thread.Thread
	claims   *robdev.ClaimTree
	missing  *missingesnap.Registry
	loadDone func() bool
	threads  func() []*thread.Thread
	indexer  *backdev.ThreadIndexer
}

// NewBinder creates a Binder. loadDone reports whether the owning lvs has
// finished its initial blob-iteration pass (the lvs's `load_esnaps` flag);
// threads returns the current active thread set, used to size a freshly
// created Esnap back-device's channel tree.
func NewBinder(owner *thread.Thread, claims *robdev.ClaimTree, missing *missingesnap.Registry, loadDone func() bool, threads func() []*thread.Thread) *Binder {
	return &Binder{
		owner:    owner,
		claims:   claims,
		missing:  missing,
		loadDone: loadDone,
		threads:  threads,
		indexer:  backdev.NewThreadIndexer(),
	}
}

// CreateEsnapBackDev implements the algorithm of SPEC_FULL.md §4.4: during
// initial load it returns (nil, nil) — a null back-device, per step 1 — and
// once loading has completed it validates the blob's esnap identifier,
// opens the underlying bdev read-only, and either returns a real Esnap
// back-device or degrades target into an EIO placeholder and registers it
// with the missing-esnap registry.
func (b *Binder) CreateEsnapBackDev(ctx context.Context, target Target, blb Blob) (backdev.BackDev, error) {
	if !b.loadDone() {
		return nil, nil
	}

	id, ok, err := blb.GetXattr(ctx, EsnapXattrName)
	if err != nil {
		return nil, err
	}
	if !ok || id == "" {
		return nil, errs.InvalidArgument("blob has no esnap identifier xattr")
	}
	if err := validateEsnapID(id); err != nil {
		return nil, err
	}
	key := id[:esnapIDLen-1]

	if bd, err := b.openEsnap(ctx, key); err == nil {
		return bd, nil
	} else if !errs.IsNotFound(err) {
		return nil, err
	}

	log.DefaultLog(ctx, "esnap device %s not present, opening degraded", key)
	b.missing.Add(b.owner, target, key)

	// Close the window between the lookup above and the registry insert
	// above: re-query the device directory once more now that the waiter
	// is registered, and resolve inline if the device showed up in between
	// (a concurrent hotplug registration racing the two steps above would
	// otherwise find no waiter yet and never resolve this lvol).
	if bd, err := b.openEsnap(ctx, key); err == nil {
		b.missing.Remove(b.owner, target)
		return bd, nil
	}

	return backdev.NewEIO(ctx, nil), nil
}

// openEsnap opens key read-only through the claim tree and wraps it in a
// real Esnap back-device, or returns the claim tree's NotFound when the
// device is not present.
func (b *Binder) openEsnap(ctx context.Context, key string) (backdev.BackDev, error) {
	view, err := b.claims.NewView(ctx, key, b.owner)
	if err != nil {
		return nil, err
	}
	bd := backdev.NewEsnap(view, b.owner, b.indexer, b.threads)
	if err := bd.EnsureRebound(ctx, b.threads()); err != nil {
		bd.DestroyOn(ctx, b.owner)
		return nil, err
	}
	return bd, nil
}

// validateEsnapID implements step 3 of SPEC_FULL.md §4.4: the identifier
// must be non-empty, exactly as long as a canonical, NUL-terminated UUID
// string, parseable, and its canonical re-rendering must match the input
// exactly (rejecting non-canonical forms such as upper-case or
// brace-wrapped UUIDs, and a bare UUID string missing its terminator).
func validateEsnapID(id string) error {
	if len(id) != esnapIDLen || id[esnapIDLen-1] != 0 {
		return errs.InvalidArgument("esnap identifier is not a canonical UUID string")
	}
	uuidPart := id[:esnapIDLen-1]
	parsed, err := uuid.Parse(uuidPart)
	if err != nil {
		return errs.InvalidArgument("esnap identifier does not parse as a UUID")
	}
	if parsed.String() != uuidPart {
		return errs.InvalidArgument("esnap identifier is not in canonical form")
	}
	return nil
}

// BlobLookup resolves a missingesnap.Waiter back to the Blob it belongs to,
// supplied by the lvol catalog (C5), which is the only component that
// knows the waiter-to-blob mapping.
type BlobLookup func(missingesnap.Waiter) (Blob, bool)

// Resolver returns a missingesnap.Resolver bound to this binder: invoked
// on the owning lvs thread for one matched record, per the hotplug
// protocol of SPEC_FULL.md §4.4 ("Hotplug resolver"). rec.Holds is already
// incremented by the caller (missingesnap.NotifyBdevAdded), and the record
// is kept alive only by Holds while this runs; the resolver's first step
// removes it from the registry's tree (RemoveRecord).
func (b *Binder) Resolver(lookup BlobLookup) missingesnap.Resolver {
	return func(ctx context.Context, rec *missingesnap.Record) {
		b.missing.RemoveRecord(b.owner, rec)

		waiters := append([]missingesnap.Waiter(nil), rec.Waiters...)
		for _, w := range waiters {
			target, ok := w.(Target)
			if !ok {
				continue
			}
			blb, ok := lookup(w)
			if !ok {
				continue
			}
			bd, err := b.CreateEsnapBackDev(ctx, target, blb)
			if err != nil || bd == nil {
				log.WarningLog(ctx, "hotplug resolve failed for %s: %v", rec.ID, err)
				continue
			}
			if err := blb.SetEsnapBackDev(ctx, bd); err != nil {
				log.WarningLog(ctx, "installing resolved esnap back-device failed for %s: %v", rec.ID, err)
				bd.DestroyOn(ctx, b.owner)
				continue
			}
			if err := target.InstallBackDev(ctx, bd); err != nil {
				log.WarningLog(ctx, "lvol-side install of resolved esnap back-device failed for %s: %v", rec.ID, err)
				continue
			}
			b.missing.Remove(b.owner, w)
		}
	}
}
