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
	"github.com/stretchr/testify/require"

	"github.com/esnaplv/lvs/internal/bdev"
	fakebdev "github.com/esnaplv/lvs/internal/bdev/fake"
	"github.com/esnaplv/lvs/internal/robdev"
	"github.com/esnaplv/lvs/internal/thread"
)

func newTestView(t *testing.T, registry *fakebdev.Registry, name string, data []byte) *robdev.View {
	t.Helper()
	registry.Register(context.Background(), bdev.Info{Name: name, UUID: name + "-uuid", BlockSize: 512, NumBlocks: 16}, data)
	claims := robdev.NewClaimTree(registry)
	view, err := claims.NewView(context.Background(), name, nil)
	require.NoError(t, err)
	return view
}

func TestBdevReadForwardsToUnderlyingChannel(t *testing.T) {
	registry := fakebdev.New()
	data := make([]byte, 512*16)
	data[0] = 0xAB
	view := newTestView(t, registry, "disk0", data)

	b := NewBdev(view)
	ctx := context.Background()
	ch, err := b.CreateChannel(ctx)
	require.NoError(t, err)

	buf := make([]byte, 512)
	var gotErr error
	b.Read(ctx, ch, buf, 0, 1, func(_ Channel, err error) { gotErr = err })
	assert.NoError(t, gotErr)
	assert.Equal(t, byte(0xAB), buf[0])

	assert.False(t, b.IsZeroes(0, 1))
	assert.Equal(t, uint32(512), b.BlockSize())
	assert.Equal(t, uint64(16), b.NumBlocks())
}

func TestBdevDestroyChannelThenDestroy(t *testing.T) {
	registry := fakebdev.New()
	view := newTestView(t, registry, "disk1", nil)
	b := NewBdev(view)
	ctx := context.Background()

	ch, err := b.CreateChannel(ctx)
	require.NoError(t, err)
	b.DestroyChannel(ctx, ch)
	b.Destroy(ctx)
}

func TestThreadIndexerAssignsStableDenseIndices(t *testing.T) {
	idx := NewThreadIndexer()
	t1 := thread.New("t1")
	t2 := thread.New("t2")
	defer t1.Stop()
	defer t2.Stop()

	i1 := idx.IndexOf(t1)
	i2 := idx.IndexOf(t2)
	assert.NotEqual(t, i1, i2)
	assert.Equal(t, i1, idx.IndexOf(t1))
}
