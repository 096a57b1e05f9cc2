/*
Copyright 2021 The Dapr Authors
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

// Package keyed provides a per-key bulkhead: at most one caller runs under
// a given key at a time, FIFO within the process, without retaining one
// primitive per key ever seen.
package keyed

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
)

// entry is a capacity-1 channel semaphore rather than a sync.Mutex so that
// acquisition can select on ctx.Done() instead of blocking uninterruptibly.
// waiters counts goroutines that still reference this entry, so the map
// entry is only ever evicted once nobody does — an evicted entry is, by
// construction, never held.
type entry struct {
	token   chan struct{}
	waiters int
}

func newEntry() *entry {
	e := &entry{token: make(chan struct{}, 1), waiters: 1}
	e.token <- struct{}{}
	return e
}

// Serializer ensures at most one in-process caller executes under a given
// key at a time. Modelled on the teacher's TopicsLockManager
// (pubsub/aws/snssqs/topics_locker.go, an xsync.MapOf[string, *sync.Mutex]
// with LoadOrCompute/Compute-based lock and conditional-delete unlock),
// generalised here from "lock a topic for the component's lifetime" to
// "run fn under key's turnstile, honouring ctx cancellation while waiting."
type Serializer struct {
	locks *xsync.MapOf[string, *entry]
}

// New creates an empty Serializer.
func New() *Serializer {
	return &Serializer{locks: xsync.NewMapOf[string, *entry]()}
}

// Run executes fn with exclusive access to key. Contenders for the same
// key are admitted in the order they reach the front of the channel's
// internal queue (Go channels serve blocked receivers FIFO). If ctx is
// cancelled before fn's turn comes up, Run returns ctx.Err() without ever
// invoking fn and without having taken the turnstile.
func (s *Serializer) Run(ctx context.Context, key string, fn func(context.Context) error) error {
	e := s.enter(key)
	defer s.exit(key, e)

	select {
	case <-e.token:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { e.token <- struct{}{} }()

	return fn(ctx)
}

func (s *Serializer) enter(key string) *entry {
	e, _ := s.locks.Compute(key, func(oldValue *entry, loaded bool) (*entry, bool) {
		if loaded {
			oldValue.waiters++
			return oldValue, false
		}
		return newEntry(), false
	})
	return e
}

func (s *Serializer) exit(key string, e *entry) {
	s.locks.Compute(key, func(oldValue *entry, loaded bool) (*entry, bool) {
		if !loaded || oldValue != e {
			return oldValue, false
		}
		oldValue.waiters--
		return oldValue, oldValue.waiters == 0
	})
}
