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

package thread

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPostRunsInOrder(t *testing.T) {
	th := New("t1")
	defer th.Stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		i := i
		th.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestPostAndWaitBlocksUntilDone(t *testing.T) {
	th := New("t2")
	defer th.Stop()

	var done int32
	th.PostAndWait(func() {
		atomic.StoreInt32(&done, 1)
	})
	assert.Equal(t, int32(1), atomic.LoadInt32(&done))
}

func TestAssertCurrentPanicsOnMismatch(t *testing.T) {
	a := New("a")
	b := New("b")
	defer a.Stop()
	defer b.Stop()

	assert.Panics(t, func() {
		AssertCurrent(a, b)
	})
	assert.NotPanics(t, func() {
		AssertCurrent(a, a)
	})
}

func TestPoolGetOrCreateReusesThread(t *testing.T) {
	p := NewPool()
	defer p.StopAll()

	t1 := p.GetOrCreate("reactor-0")
	t2 := p.GetOrCreate("reactor-0")
	assert.Same(t, t1, t2)

	t3 := p.GetOrCreate("reactor-1")
	assert.NotSame(t, t1, t3)
	assert.Len(t, p.All(), 2)
}

func TestFanoutRunsOnEveryThreadAndJoins(t *testing.T) {
	p := NewPool()
	defer p.StopAll()

	threads := []*Thread{p.GetOrCreate("r0"), p.GetOrCreate("r1"), p.GetOrCreate("r2")}

	var mu sync.Mutex
	seen := map[string]bool{}
	err := Fanout(threads, func(th *Thread) error {
		mu.Lock()
		seen[th.Name()] = true
		mu.Unlock()
		return nil
	})
	assert.NoError(t, err)
	assert.Len(t, seen, 3)
}

func TestFanoutPropagatesError(t *testing.T) {
	p := NewPool()
	defer p.StopAll()

	threads := []*Thread{p.GetOrCreate("r0"), p.GetOrCreate("r1")}
	boom := assert.AnError
	err := Fanout(threads, func(th *Thread) error {
		if th.Name() == "r1" {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}
