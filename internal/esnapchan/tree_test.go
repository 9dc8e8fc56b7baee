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

package esnapchan

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esnaplv/lvs/internal/bdev"
	"github.com/esnaplv/lvs/internal/thread"
)

// fakeDescriptor is a minimal bdev.Descriptor that counts opened/closed
// channels, enough to exercise Rebind/Destroy without a real bdev registry.
type fakeDescriptor struct {
	mu      sync.Mutex
	opened  int
	closed  []int
	nextVal int
}

type fakeChannel struct {
	id int
	d  *fakeDescriptor
}

func (c *fakeChannel) Read(context.Context, []byte, uint64, uint64) error  { return nil }
func (c *fakeChannel) ReadV(context.Context, [][]byte, uint64, uint64) error { return nil }
func (c *fakeChannel) Close() {
	c.d.mu.Lock()
	c.d.closed = append(c.d.closed, c.id)
	c.d.mu.Unlock()
}

func (d *fakeDescriptor) Info() bdev.Info { return bdev.Info{} }
func (d *fakeDescriptor) GetChannel(context.Context) (bdev.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened++
	d.nextVal++
	return &fakeChannel{id: d.nextVal, d: d}, nil
}
func (d *fakeDescriptor) Close(context.Context) {}

func TestGetOnEmptyTreeIsNoMemory(t *testing.T) {
	desc := &fakeDescriptor{}
	owner := thread.New("owner")
	defer owner.Stop()
	tree := NewTree(owner, desc)

	_, err := tree.Get(0)
	assert.Error(t, err)
}

func TestRebindThenGetSucceeds(t *testing.T) {
	desc := &fakeDescriptor{}
	owner := thread.New("owner")
	defer owner.Stop()
	tree := NewTree(owner, desc)

	idx := func(th *thread.Thread) int {
		if th == owner {
			return 0
		}
		return 1
	}

	owner.PostAndWait(func() {
		require.NoError(t, tree.Rebind(context.Background(), []*thread.Thread{owner}, idx))
	})

	ch, err := tree.Get(0)
	require.NoError(t, err)
	assert.NotNil(t, ch)
}

func TestRebindGrowsTreeForNewThreads(t *testing.T) {
	desc := &fakeDescriptor{}
	owner := thread.New("owner")
	other := thread.New("other")
	defer owner.Stop()
	defer other.Stop()
	tree := NewTree(owner, desc)

	idx := func(th *thread.Thread) int {
		if th == owner {
			return 0
		}
		return 1
	}

	owner.PostAndWait(func() {
		require.NoError(t, tree.Rebind(context.Background(), []*thread.Thread{owner}, idx))
	})
	_, err := tree.Get(1)
	assert.Error(t, err, "thread 1 not bound yet")

	owner.PostAndWait(func() {
		require.NoError(t, tree.Rebind(context.Background(), []*thread.Thread{owner, other}, idx))
	})
	_, err = tree.Get(1)
	assert.NoError(t, err, "rebind must grow to cover the new thread")

	// Existing slot 0 must not have been reopened by the second rebind.
	desc.mu.Lock()
	opened := desc.opened
	desc.mu.Unlock()
	assert.Equal(t, 2, opened)
}

func TestDestroyClosesEveryBoundChannel(t *testing.T) {
	desc := &fakeDescriptor{}
	owner := thread.New("owner")
	defer owner.Stop()
	tree := NewTree(owner, desc)
	idx := func(*thread.Thread) int { return 0 }

	owner.PostAndWait(func() {
		require.NoError(t, tree.Rebind(context.Background(), []*thread.Thread{owner}, idx))
	})
	tree.Destroy(context.Background())

	desc.mu.Lock()
	defer desc.mu.Unlock()
	assert.Len(t, desc.closed, 1)
}
