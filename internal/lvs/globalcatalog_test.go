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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveRejectsDuplicateName(t *testing.T) {
	ResetGlobalCatalogForTest()
	defer ResetGlobalCatalogForTest()

	require.NoError(t, GlobalCatalog.Reserve("lvs-a"))
	assert.Error(t, GlobalCatalog.Reserve("lvs-a"))
}

func TestReleaseFreesNameForReReservation(t *testing.T) {
	ResetGlobalCatalogForTest()
	defer ResetGlobalCatalogForTest()

	require.NoError(t, GlobalCatalog.Reserve("lvs-b"))
	GlobalCatalog.Release("lvs-b")
	assert.NoError(t, GlobalCatalog.Reserve("lvs-b"))
}

func TestRegisterThenLookup(t *testing.T) {
	ResetGlobalCatalogForTest()
	defer ResetGlobalCatalogForTest()

	require.NoError(t, GlobalCatalog.Reserve("lvs-c"))
	l := &Lvs{Name: "lvs-c"}
	GlobalCatalog.Register(l)

	found, ok := GlobalCatalog.Lookup("lvs-c")
	require.True(t, ok)
	assert.Same(t, l, found)
}

func TestLookupMissReturnsFalse(t *testing.T) {
	ResetGlobalCatalogForTest()
	defer ResetGlobalCatalogForTest()

	_, ok := GlobalCatalog.Lookup("never-registered")
	assert.False(t, ok)
}

func TestResetClearsAllReservationsAndRegistrations(t *testing.T) {
	ResetGlobalCatalogForTest()
	require.NoError(t, GlobalCatalog.Reserve("lvs-d"))
	GlobalCatalog.Register(&Lvs{Name: "lvs-d"})

	ResetGlobalCatalogForTest()
	_, ok := GlobalCatalog.Lookup("lvs-d")
	assert.False(t, ok)
	assert.NoError(t, GlobalCatalog.Reserve("lvs-d"))
	ResetGlobalCatalogForTest()
}
