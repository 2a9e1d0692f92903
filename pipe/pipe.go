// Copyright 2024 The microdb Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pipe implements the bounded, typed, shut-downable FIFO that
// connects operator workers. A raw Go channel doesn't give a producer a
// way to signal "no more data, but drain what's queued" without a second
// close-detection channel, so the pipe is a small mutex+condvar queue
// instead.
package pipe

import (
	"sync"

	"github.com/neerajrao/microdb/record"
)

// DefaultCapacity is the pipe capacity used when an operator does not
// request a different one.
const DefaultCapacity = 100

// Pipe is a bounded FIFO of *record.Record with capacity Cap. Exactly one
// goroutine is expected to call Remove at a time; multiple producers may
// call Insert concurrently without corrupting internal state.
type Pipe struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	queue    []*record.Record
	cap      int
	closed   bool
}

// New creates a Pipe with the given capacity.
func New(capacity int) *Pipe {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	p := &Pipe{cap: capacity}
	p.notEmpty = sync.NewCond(&p.mu)
	p.notFull = sync.NewCond(&p.mu)
	return p
}

// Insert enqueues rec, blocking while the pipe is full. The caller
// surrenders ownership of rec: it must not be read or mutated again after
// this call returns. Inserting into an already shut-down pipe panics — it
// is a programmer error in an operator, not a runtime condition a caller
// should need to handle.
func (p *Pipe) Insert(rec *record.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) >= p.cap && !p.closed {
		p.notFull.Wait()
	}
	if p.closed {
		panic("pipe: insert after shutdown")
	}

	p.queue = append(p.queue, rec)
	p.notEmpty.Signal()
}

// Remove blocks until a record is available or the pipe has been shut
// down and drained, in which case it returns (nil, false).
func (p *Pipe) Remove() (*record.Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) == 0 && !p.closed {
		p.notEmpty.Wait()
	}
	if len(p.queue) == 0 {
		return nil, false
	}

	rec := p.queue[0]
	p.queue = p.queue[1:]
	p.notFull.Signal()
	return rec, true
}

// ShutDown marks the pipe closed. Idempotent. Wakes every blocked Remove
// (which then drains whatever remains) and every blocked Insert (which
// will panic, since no more inserts are valid).
func (p *Pipe) ShutDown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.notEmpty.Broadcast()
	p.notFull.Broadcast()
}

// Len returns the number of records currently queued, for diagnostics and
// tests; it is not synchronized with concurrent producers beyond the
// instant it is read.
func (p *Pipe) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
