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

package lvs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fakebdev "github.com/esnaplv/lvs/internal/bdev/fake"
	"github.com/esnaplv/lvs/internal/blobstore"
	fakeblob "github.com/esnaplv/lvs/internal/blobstore/fake"
	"github.com/esnaplv/lvs/internal/errs"
	"github.com/esnaplv/lvs/internal/robdev"
	"github.com/esnaplv/lvs/internal/thread"
)

func newTestRig(t *testing.T) (*thread.Thread, *fakebdev.Registry, *robdev.ClaimTree, func() []*thread.Thread, func()) {
	t.Helper()
	owner := thread.New("lvs-owner")
	registry := fakebdev.New()
	claims := robdev.NewClaimTree(registry)
	threads := func() []*thread.Thread { return []*thread.Thread{owner} }
	return owner, registry, claims, threads, func() { owner.Stop() }
}

func TestInitCreatesSuperBlobAndRegistersGlobally(t *testing.T) {
	ResetGlobalCatalogForTest()
	defer ResetGlobalCatalogForTest()

	owner, registry, claims, threads, cleanup := newTestRig(t)
	defer cleanup()
	store := fakeblob.New(4<<20, 512)

	l, err := Init(context.Background(), owner, store, registry, claims, threads, InitOpts{Name: "pool-a"})
	require.NoError(t, err)
	assert.Equal(t, "pool-a", l.Name)

	found, ok := GlobalCatalog.Lookup("pool-a")
	require.True(t, ok)
	assert.Same(t, l, found)

	superID, ok, err := store.SuperBlobID(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, l.super, superID)
}

func TestInitRejectsDuplicateName(t *testing.T) {
	ResetGlobalCatalogForTest()
	defer ResetGlobalCatalogForTest()

	owner, registry, claims, threads, cleanup := newTestRig(t)
	defer cleanup()
	store := fakeblob.New(4<<20, 512)
	_, err := Init(context.Background(), owner, store, registry, claims, threads, InitOpts{Name: "dup-pool"})
	require.NoError(t, err)

	store2 := fakeblob.New(4<<20, 512)
	_, err = Init(context.Background(), owner, store2, registry, claims, threads, InitOpts{Name: "dup-pool"})
	assert.True(t, errs.IsAlreadyExists(err))
}

func TestInitRejectsInvalidName(t *testing.T) {
	ResetGlobalCatalogForTest()
	defer ResetGlobalCatalogForTest()

	owner, registry, claims, threads, cleanup := newTestRig(t)
	defer cleanup()
	store := fakeblob.New(4<<20, 512)
	_, err := Init(context.Background(), owner, store, registry, claims, threads, InitOpts{Name: ""})
	assert.True(t, errs.IsInvalidArgument(err))
}

func TestLoadRebuildsCatalogFromExistingBlobs(t *testing.T) {
	ResetGlobalCatalogForTest()
	defer ResetGlobalCatalogForTest()

	owner, registry, claims, threads, cleanup := newTestRig(t)
	defer cleanup()
	store := fakeblob.New(4<<20, 512)

	created, err := Init(context.Background(), owner, store, registry, claims, threads, InitOpts{Name: "pool-b"})
	require.NoError(t, err)
	vol, err := created.Catalog.Create(context.Background(), "vol-a", 1<<20, false, blobstore.ClearMethodNone)
	require.NoError(t, err)
	require.NoError(t, created.Catalog.Close(context.Background(), vol))
	require.NoError(t, created.Unload(context.Background()))
	ResetGlobalCatalogForTest()

	owner2, registry2, claims2, threads2, cleanup2 := newTestRig(t)
	defer cleanup2()
	loaded, err := Load(context.Background(), owner2, store, registry2, claims2, threads2, LoadOpts{})
	require.NoError(t, err)
	assert.Equal(t, "pool-b", loaded.Name)
	assert.Equal(t, created.UUID, loaded.UUID)

	lv, ok := loaded.Catalog.Get("vol-a")
	require.True(t, ok)
	assert.Equal(t, 0, lv.Refs(), "load builds the catalog without opening lvols")
}

func TestLoadFailsWithoutSuperBlob(t *testing.T) {
	ResetGlobalCatalogForTest()
	defer ResetGlobalCatalogForTest()

	owner, registry, claims, threads, cleanup := newTestRig(t)
	defer cleanup()
	store := fakeblob.New(4<<20, 512)

	_, err := Load(context.Background(), owner, store, registry, claims, threads, LoadOpts{})
	assert.True(t, errs.IsNotFound(err))
}

func TestUnloadRejectsWithOutstandingRefs(t *testing.T) {
	ResetGlobalCatalogForTest()
	defer ResetGlobalCatalogForTest()

	owner, registry, claims, threads, cleanup := newTestRig(t)
	defer cleanup()
	store := fakeblob.New(4<<20, 512)
	l, err := Init(context.Background(), owner, store, registry, claims, threads, InitOpts{Name: "pool-c"})
	require.NoError(t, err)
	_, err = l.Catalog.Create(context.Background(), "vol-b", 1<<20, false, blobstore.ClearMethodNone)
	require.NoError(t, err)

	assert.True(t, errs.IsBusy(l.Unload(context.Background())))
}

func TestDestroyRemovesSuperBlobAndReleasesName(t *testing.T) {
	ResetGlobalCatalogForTest()
	defer ResetGlobalCatalogForTest()

	owner, registry, claims, threads, cleanup := newTestRig(t)
	defer cleanup()
	store := fakeblob.New(4<<20, 512)
	l, err := Init(context.Background(), owner, store, registry, claims, threads, InitOpts{Name: "pool-d"})
	require.NoError(t, err)

	require.NoError(t, l.Destroy(context.Background()))
	_, ok := GlobalCatalog.Lookup("pool-d")
	assert.False(t, ok)
	assert.NoError(t, GlobalCatalog.Reserve("pool-d"))
}

func TestRenameUpdatesNameAndGlobalCatalog(t *testing.T) {
	ResetGlobalCatalogForTest()
	defer ResetGlobalCatalogForTest()

	owner, registry, claims, threads, cleanup := newTestRig(t)
	defer cleanup()
	store := fakeblob.New(4<<20, 512)
	l, err := Init(context.Background(), owner, store, registry, claims, threads, InitOpts{Name: "pool-e"})
	require.NoError(t, err)

	require.NoError(t, l.Rename(context.Background(), "pool-e-renamed"))
	assert.Equal(t, "pool-e-renamed", l.Name)

	_, ok := GlobalCatalog.Lookup("pool-e")
	assert.False(t, ok)
	found, ok := GlobalCatalog.Lookup("pool-e-renamed")
	require.True(t, ok)
	assert.Same(t, l, found)
}

func TestRenameRejectsNameHeldByAnotherLvs(t *testing.T) {
	ResetGlobalCatalogForTest()
	defer ResetGlobalCatalogForTest()

	owner, registry, claims, threads, cleanup := newTestRig(t)
	defer cleanup()
	store1 := fakeblob.New(4<<20, 512)
	_, err := Init(context.Background(), owner, store1, registry, claims, threads, InitOpts{Name: "pool-f"})
	require.NoError(t, err)

	store2 := fakeblob.New(4<<20, 512)
	l2, err := Init(context.Background(), owner, store2, registry, claims, threads, InitOpts{Name: "pool-g"})
	require.NoError(t, err)

	err = l2.Rename(context.Background(), "pool-f")
	assert.True(t, errs.IsAlreadyExists(err))
	assert.Equal(t, "pool-g", l2.Name, "failed rename must not change the in-memory name")
}
