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
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/esnaplv/lvs/internal/backdev"
	"github.com/esnaplv/lvs/internal/missingesnap"
)

func TestUniqueIDPrefersUUID(t *testing.T) {
	lv := &Lvol{UUID: uuid.New(), LvsUUID: uuid.New(), BlobID: 7}
	assert.Equal(t, lv.UUID.String(), lv.UniqueID())
}

func TestUniqueIDFallsBackToLvsAndBlobWhenUUIDIsNil(t *testing.T) {
	lvsID := uuid.New()
	lv := &Lvol{LvsUUID: lvsID, BlobID: 42}
	assert.Equal(t, lvsID.String()+"_42", lv.UniqueID())
}

func TestRefsStartAtZero(t *testing.T) {
	lv := &Lvol{}
	assert.Equal(t, 0, lv.Refs())
}

func TestDegradedReflectsMissingRecord(t *testing.T) {
	lv := &Lvol{}
	assert.False(t, lv.Degraded())

	rec := &missingesnap.Record{ID: "dev-a"}
	lv.SetMissing(rec)
	assert.True(t, lv.Degraded())
	assert.Same(t, rec, lv.Missing())
}

func TestIsEsnapCloneTrueForBackingNameOrLiveBackDev(t *testing.T) {
	lv := &Lvol{}
	assert.False(t, lv.IsEsnapClone())

	lv.EsnapBackingName = "disk0"
	assert.True(t, lv.IsEsnapClone())

	live := &Lvol{}
	assert.NoError(t, live.InstallBackDev(context.Background(), backdev.NewZeroes()))
	assert.True(t, live.IsEsnapClone())
}

func TestInstallBackDevSetsBackDevAndIsEsnapCloneWithoutBackingName(t *testing.T) {
	lv := &Lvol{}
	assert.NoError(t, lv.InstallBackDev(context.Background(), nil))
	assert.False(t, lv.IsEsnapClone(), "installing a nil back-device is still no back-device")

	assert.NoError(t, lv.InstallBackDev(context.Background(), backdev.NewZeroes()))
	assert.True(t, lv.IsEsnapClone(), "a live back-device makes an esnap clone without a backing name")
}

func TestReadOnlyDefaultsFalse(t *testing.T) {
	lv := &Lvol{}
	assert.False(t, lv.ReadOnly())
}

func TestActionInProgressDefaultsFalse(t *testing.T) {
	lv := &Lvol{}
	assert.False(t, lv.ActionInProgress())
}
