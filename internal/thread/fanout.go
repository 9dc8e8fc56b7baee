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

import "golang.org/x/sync/errgroup"

// Fanout posts fn to every thread in threads and waits for all of them to
// finish before returning, joining any errors. It is the "iterate across
// every thread" primitive the specification calls for during channel-tree
// rebind/teardown (internal/esnapchan). fn genuinely runs with that thread's affinity (it is
// posted to the thread's own queue, not run on an arbitrary goroutine), so
// per-thread state it touches (e.g. opening a channel) is safe to mutate
// without additional locking.
func Fanout(threads []*Thread, fn func(t *Thread) error) error {
	var g errgroup.Group
	for _, th := range threads {
		th := th
		resultCh := make(chan error, 1)
		g.Go(func() error {
			return <-resultCh
		})
		th.Post(func() {
			resultCh <- fn(th)
		})
	}
	return g.Wait()
}
