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

package backdev

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/esnaplv/lvs/internal/errs"
)

// roRejectsProbe exposes the shared write-rejection mixin directly, since
// every concrete variant embeds it identically.
type roRejectsProbe struct{ roRejects }

func TestRoRejectsCompletesSynchronouslyWithPermissionDenied(t *testing.T) {
	var r roRejectsProbe
	ctx := context.Background()

	cases := []func(cb Completion){
		func(cb Completion) { r.Write(ctx, nil, nil, 0, 0, cb) },
		func(cb Completion) { r.WriteV(ctx, nil, nil, 0, 0, cb) },
		func(cb Completion) { r.WriteVExt(ctx, nil, nil, 0, 0, IOOpts{}, cb) },
		func(cb Completion) { r.WriteZeroes(ctx, nil, 0, 0, cb) },
		func(cb Completion) { r.Unmap(ctx, nil, 0, 0, cb) },
	}
	for _, call := range cases {
		called := false
		call(func(_ Channel, err error) {
			called = true
			var pd errs.ErrPermissionDenied
			assert.ErrorAs(t, err, &pd)
		})
		assert.True(t, called, "completion must be invoked synchronously")
	}
}

func TestZeroesReadsAllZero(t *testing.T) {
	z := NewZeroes()
	buf := []byte{1, 2, 3, 4}
	var gotErr error
	z.Read(context.Background(), nil, buf, 0, 1, func(_ Channel, err error) { gotErr = err })
	assert.NoError(t, gotErr)
	assert.Equal(t, []byte{0, 0, 0, 0}, buf)
	assert.True(t, z.IsZeroes(0, 1000))
}

func TestZeroesReadVExtWithoutClusterReadIsUnsupportedForMemoryDomain(t *testing.T) {
	z := NewZeroes()
	var gotErr error
	z.ReadVExt(context.Background(), nil, [][]byte{{1}}, 0, 1, IOOpts{MemoryDomain: "fake-domain"}, func(_ Channel, err error) {
		gotErr = err
	})
	var unsupported errs.ErrUnsupported
	assert.ErrorAs(t, gotErr, &unsupported)
}

func TestClusterBackedZeroesDelegatesOnMemoryDomain(t *testing.T) {
	called := false
	z := NewClusterBackedZeroes(func(_ context.Context, iovecs [][]byte, lba, count uint64) error {
		called = true
		return nil
	})
	var gotErr error
	z.ReadVExt(context.Background(), nil, [][]byte{{1}}, 0, 1, IOOpts{MemoryDomain: "fake-domain"}, func(_ Channel, err error) {
		gotErr = err
	})
	assert.NoError(t, gotErr)
	assert.True(t, called)
}

func TestEIOFailsReadsAndRejectsWrites(t *testing.T) {
	e := NewEIO(nil, nil)
	var gotErr error
	e.Read(context.Background(), nil, make([]byte, 4), 0, 1, func(_ Channel, err error) { gotErr = err })
	var ioErr errs.ErrIoError
	assert.ErrorAs(t, gotErr, &ioErr)
	assert.False(t, e.IsZeroes(0, 1))
}

func TestEIORefCountingDefersFreeUntilLastChannelCloses(t *testing.T) {
	freed := false
	e := NewEIO(nil, func() { freed = true })
	ctx := context.Background()

	ch1, err := e.CreateChannel(ctx)
	assert.NoError(t, err)
	ch2, err := e.CreateChannel(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 3, e.Refs()) // 1 creation ref + 2 channels

	e.Destroy(ctx)
	assert.False(t, freed, "must not free while channels remain open")

	e.DestroyChannel(ctx, ch1)
	assert.False(t, freed)

	e.DestroyChannel(ctx, ch2)
	assert.True(t, freed, "must free once the last channel closes after Destroy")
}

func TestEIOCreateChannelFailsAfterDestroy(t *testing.T) {
	e := NewEIO(nil, nil)
	ctx := context.Background()
	e.Destroy(ctx)

	_, err := e.CreateChannel(ctx)
	assert.Error(t, err)
}
