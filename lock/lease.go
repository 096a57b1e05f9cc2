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

package lock

import (
	"context"
	"sync"
	"time"

	"github.com/osavoskin/globallock/internal/identity"
	"github.com/osavoskin/globallock/internal/waiter"
)

// Lease is component G, the user-facing handle returned by TryAcquire. Its
// state machine is New → Acquired → Released, with New → Cancelled and
// Acquired → Expired (observable through IsAcquired flipping to false once
// now ≥ expiresAt).
type Lease struct {
	coordinator *Coordinator
	resource    string
	scope       string
	resourceUID string
	ttl         time.Duration

	mu        sync.Mutex
	acquired  bool
	released  bool
	leaseID   string
	expiresAt time.Time
}

// LeaseID returns the opaque lease id, or "" if the lease was never
// acquired.
func (l *Lease) LeaseID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.leaseID
}

// IsAcquired reports whether the lease is currently held: acquired, not
// released, and not past its expiresAt.
func (l *Lease) IsAcquired() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.acquired || l.released {
		return false
	}
	return time.Now().UTC().Before(l.expiresAt)
}

// Wait blocks until the lease is acquired or ctx is done. If already
// acquired it returns immediately. Repeated calls are allowed: a lease
// already satisfied by a prior Wait or the original TryAcquire returns
// immediately every time.
func (l *Lease) Wait(ctx context.Context) error {
	if l.IsAcquired() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return ErrCancelled
	}

	attempt := func(runCtx context.Context) waiter.Result {
		return l.coordinator.attempt(runCtx, l.resource, l.scope, l.resourceUID, l.ttl)
	}

	result := <-l.coordinator.waiters.Enqueue(ctx, l.resourceUID, attempt)
	if result.Err != nil {
		return mapCancellation(result.Err)
	}

	l.mu.Lock()
	l.acquired = true
	l.leaseID = identity.EncodeLeaseID(result.RecordID)
	l.expiresAt = result.ExpiresAt
	l.mu.Unlock()
	return nil
}

// Release gives up the lease. It is idempotent and a no-op if the lease was
// never acquired.
func (l *Lease) Release(ctx context.Context) error {
	l.mu.Lock()
	if !l.acquired || l.released {
		l.mu.Unlock()
		return nil
	}
	leaseID := l.leaseID
	l.released = true
	l.mu.Unlock()

	if err := l.coordinator.Release(ctx, leaseID); err != nil {
		return err
	}

	// Out-of-band promotion for whoever is queued behind this resource,
	// rather than re-entering the acquisition path on this goroutine.
	l.coordinator.waiters.Kick(l.resourceUID)
	return nil
}

// Close is the Go idiom for the source system's dispose pattern: a
// best-effort Release using a background context, returning its error.
func (l *Lease) Close() error {
	return l.Release(context.Background())
}
