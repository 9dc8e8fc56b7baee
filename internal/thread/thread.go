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

// Package thread provides the cooperative, run-to-completion execution
// model the rest of this module is built on: a fixed set of named threads,
// each a single goroutine draining a FIFO queue of posted work, plus a
// fan-out helper for "do this on every thread and wait" operations such as
// the esnap channel-tree rebind and teardown (internal/esnapchan).
//
// Every rule in the specification of the form "operation X must run on the
// owning thread" is implemented by posting X to that thread's queue rather
// than by any locking.
package thread

import (
	"fmt"
	"sync"
)

// Thread is a single cooperatively-scheduled execution context. Work posted
// to a Thread runs to completion, in submission order, before the next
// posted function starts.
type Thread struct {
	name  string
	tasks chan func()
	done  chan struct{}
}

// New starts a new named thread and its draining goroutine.
func New(name string) *Thread {
	t := &Thread{
		name:  name,
		tasks: make(chan func(), 128),
		done:  make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *Thread) run() {
	defer close(t.done)
	for fn := range t.tasks {
		fn()
	}
}

// Name returns the thread's name.
func (t *Thread) Name() string { return t.name }

// Post enqueues fn to run on t. It never blocks the calling thread on fn's
// completion; fn runs asynchronously.
func (t *Thread) Post(fn func()) {
	t.tasks <- fn
}

// PostAndWait enqueues fn on t and blocks the caller until fn has run. This
// is used only by test harnesses and by synchronous public entry points
// that must hand work to a different thread before returning a result; it
// must never be called from inside another thread's task, or two threads
// can deadlock waiting on each other.
func (t *Thread) PostAndWait(fn func()) {
	done := make(chan struct{})
	t.Post(func() {
		fn()
		close(done)
	})
	<-done
}

// Stop drains and stops the thread. Callers must ensure no further Post
// calls are made after Stop returns.
func (t *Thread) Stop() {
	close(t.tasks)
	<-t.done
}

// Pool is the fixed set of named threads a process runs. It exists so
// components can be constructed with an explicit owning thread rather than
// discovering "the current thread" implicitly, which Go has no cheap way to
// do safely.
type Pool struct {
	mu      sync.Mutex
	threads map[string]*Thread
}

// NewPool creates an empty thread pool.
func NewPool() *Pool {
	return &Pool{threads: make(map[string]*Thread)}
}

// GetOrCreate returns the named thread, creating it if this is the first
// reference.
func (p *Pool) GetOrCreate(name string) *Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	if th, ok := p.threads[name]; ok {
		return th
	}
	th := New(name)
	p.threads[name] = th
	return th
}

// All returns a snapshot of every thread currently in the pool.
func (p *Pool) All() []*Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Thread, 0, len(p.threads))
	for _, th := range p.threads {
		out = append(out, th)
	}
	return out
}

// StopAll stops every thread in the pool. Used by test teardown.
func (p *Pool) StopAll() {
	for _, th := range p.All() {
		th.Stop()
	}
}

// AssertCurrent panics if the calling code is not running inside a task
// posted to want. This is the Go rendering of the source's
// assert(spdk_get_thread() == owner) checks: a hard, non-recoverable
// assertion rather than a returned error, per the "contract violations
// become hard assertions" design note. Callers that cannot prove they are
// on the right thread (there is no portable way to ask Go "which goroutine
// am I") pass the thread they believe they are on; this is intended for use
// at the top of functions that received that thread as an explicit
// parameter, to document and check the precondition.
func AssertCurrent(owner, got *Thread) {
	if owner != got {
		panic(fmt.Sprintf("thread: operation requires owning thread %q, got %q", owner.name, got.name))
	}
}
