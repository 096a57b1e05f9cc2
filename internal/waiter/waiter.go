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

// Package waiter is the waiter queue and ticker (component F): it holds
// local contenders for resources that were unavailable on first try and
// periodically re-drives acquisition for the head of each queue, in
// addition to an immediate out-of-band kick on Release.
package waiter

import (
	"context"
	"sync"
	"time"

	"github.com/dapr/kit/logger"

	"github.com/osavoskin/globallock/internal/identity"
	"github.com/osavoskin/globallock/internal/keyed"
)

// Result is what an acquisition attempt on behalf of a queued waiter
// produced.
type Result struct {
	Acquired  bool
	RecordID  identity.RecordID
	ExpiresAt time.Time
	Err       error
}

// Attempt runs the full §4.E acquisition protocol for the resource a queued
// waiter is enqueued under. The caller (the lock package's Lease.Wait)
// supplies one per request, closing over whatever resource/scope/ttl it
// needs — Queue itself knows nothing about journals or blob leases, only
// about resourceUID as an opaque FIFO-queue and serialiser key.
type Attempt func(ctx context.Context) Result

type request struct {
	ctx     context.Context
	attempt Attempt
	done    chan Result
}

// Queue is the per-process waiter system described in SPEC_FULL.md §4.F.
// It must be started with Run in its own goroutine.
type Queue struct {
	serializer *keyed.Serializer
	interval   time.Duration
	log        logger.Logger

	mu      sync.Mutex
	pending map[string][]*request

	kick chan string
}

// New builds a Queue. interval is the periodic tick period (SPEC_FULL.md §5
// default: 5s); serializer is shared with the Coordinator so a tick-driven
// promotion and a caller's own TryAcquire on the same key never run
// concurrently.
func New(serializer *keyed.Serializer, interval time.Duration, log logger.Logger) *Queue {
	return &Queue{
		serializer: serializer,
		interval:   interval,
		log:        log,
		pending:    map[string][]*request{},
		kick:       make(chan string, 64),
	}
}

// Enqueue appends a waiter for resourceUID and returns a channel that
// receives exactly one Result: on success, on ctx cancellation, or never (if
// Run is not being driven). Enqueue also schedules an immediate promotion
// attempt for resourceUID.
func (q *Queue) Enqueue(ctx context.Context, resourceUID string, attempt Attempt) <-chan Result {
	req := &request{ctx: ctx, attempt: attempt, done: make(chan Result, 1)}

	q.mu.Lock()
	q.pending[resourceUID] = append(q.pending[resourceUID], req)
	q.mu.Unlock()

	q.Kick(resourceUID)
	return req.done
}

// Kick schedules an out-of-band promotion attempt for resourceUID, beyond
// the periodic tick — used by Lease.Release. The send is non-blocking: when
// the kick buffer (64 entries, shared by all keys) is full the kick is
// dropped, and the key is picked up by the next periodic tick instead.
func (q *Queue) Kick(resourceUID string) {
	select {
	case q.kick <- resourceUID:
	default:
	}
}

// Run drives the ticker and kick channel until ctx is done. It must run in
// its own goroutine for the lifetime of the Coordinator.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, key := range q.keys() {
				go q.promote(ctx, key)
			}
		case key := <-q.kick:
			go q.promote(ctx, key)
		}
	}
}

func (q *Queue) keys() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	keys := make([]string, 0, len(q.pending))
	for k := range q.pending {
		keys = append(keys, k)
	}
	return keys
}

// promote runs TryAcquirePending for key under the shared per-key
// serialiser, so it can never race a caller's own in-flight TryAcquire on
// the same resourceUID.
func (q *Queue) promote(ctx context.Context, key string) {
	err := q.serializer.Run(ctx, key, func(ctx context.Context) error {
		q.tryAcquirePending(ctx, key)
		return nil
	})
	if err != nil {
		q.log.Debugf("waiter: promotion attempt for %q skipped: %v", key, err)
	}
}

// tryAcquirePending implements SPEC_FULL.md §4.F's TryAcquirePending.
func (q *Queue) tryAcquirePending(ctx context.Context, key string) {
	head, ok := q.peek(key)
	if !ok {
		return
	}

	if head.ctx.Err() != nil {
		q.pop(key)
		head.done <- Result{Err: head.ctx.Err()}
		return
	}

	result := head.attempt(head.ctx)
	if result.Acquired {
		q.pop(key)
		head.done <- result
		return
	}
	if result.Err != nil {
		// A transient failure on behalf of the head waiter: leave it
		// queued, it gets another shot on the next tick or kick.
		q.log.Debugf("waiter: attempt for %q failed, will retry: %v", key, result.Err)
	}
}

func (q *Queue) peek(key string) (*request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := q.pending[key]
	if len(queue) == 0 {
		delete(q.pending, key)
		return nil, false
	}
	return queue[0], true
}

func (q *Queue) pop(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := q.pending[key]
	if len(queue) == 0 {
		return
	}
	queue = queue[1:]
	if len(queue) == 0 {
		delete(q.pending, key)
		return
	}
	q.pending[key] = queue
}
