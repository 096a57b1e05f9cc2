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

// Package bloblease is the blob-lease gate (component D): it acquires and
// releases a short server-side blob lease that serialises writers across
// processes around the journal's check-then-insert critical section.
package bloblease

import (
	"context"
	"errors"
	"time"

	"github.com/dapr/kit/logger"
)

// BackendTTL is the lease duration requested from the storage backend.
// Azure Blob Storage only accepts fixed durations between 15 and 60
// seconds (or -1 for infinite), so 30s is the shortest value comfortably
// inside that window that also leaves room for LocalTTL below it.
const BackendTTL = 30 * time.Second

// LocalTTL is how long this process considers a Gate live before it fires
// its own Expired signal, kept one second under BackendTTL so the local
// timer always wins the race against clock skew with the storage backend.
const LocalTTL = 29 * time.Second

// ErrAlreadyLeased is returned by Acquire when another process currently
// holds the lease on the blob.
var ErrAlreadyLeased = errors.New("bloblease: blob already leased")

// backend is the narrow storage contract a concrete blob-lease client
// (azblob's lease.BlobClient) or a fake must satisfy.
type backend interface {
	// EnsureContainer creates the backing container if it doesn't already
	// exist.
	EnsureContainer(ctx context.Context) error
	// Acquire takes out a lease on blobName for the given duration and
	// returns its native lease id. It returns ErrAlreadyLeased if the
	// blob is already leased by someone else.
	Acquire(ctx context.Context, blobName string, duration time.Duration) (leaseID string, err error)
	// Release gives up leaseID on blobName. Releasing an id that the
	// backend no longer recognises (already expired) is not an error.
	Release(ctx context.Context, blobName, leaseID string) error
}

// Gateway acquires and releases leases against a single blob container.
type Gateway struct {
	backend  backend
	log      logger.Logger
	localTTL time.Duration
}

func newGateway(b backend, log logger.Logger) *Gateway {
	return &Gateway{backend: b, log: log, localTTL: LocalTTL}
}

// EnsureContainer creates the backing blob container if it doesn't already
// exist.
func (g *Gateway) EnsureContainer(ctx context.Context) error {
	return g.backend.EnsureContainer(ctx)
}

// TryAcquire attempts to take the gate on blobName. On success it returns a
// Gate with IsAcquired true; if the blob is already leased it returns a Gate
// with IsAcquired false and a nil error — "lease already present" is a
// normal outcome, not a failure (SPEC_FULL.md §4.D).
func (g *Gateway) TryAcquire(ctx context.Context, blobName string) (*Gate, error) {
	leaseID, err := g.backend.Acquire(ctx, blobName, BackendTTL)
	if errors.Is(err, ErrAlreadyLeased) {
		return &Gate{acquired: false}, nil
	}
	if err != nil {
		return nil, err
	}

	gate := &Gate{
		acquired: true,
		leaseID:  leaseID,
		blobName: blobName,
		backend:  g.backend,
		expired:  make(chan struct{}),
	}
	gate.timer = time.AfterFunc(g.localTTL, func() { close(gate.expired) })
	return gate, nil
}

// Gate is a held (or not-held) lease on a single blob, returned by
// TryAcquire.
type Gate struct {
	acquired bool
	leaseID  string
	blobName string
	backend  backend
	expired  chan struct{}
	timer    *time.Timer
}

// IsAcquired reports whether the gate is actually held.
func (g *Gate) IsAcquired() bool {
	return g.acquired
}

// LeaseID returns the backend's native lease id. Only meaningful when
// IsAcquired is true.
func (g *Gate) LeaseID() string {
	return g.leaseID
}

// Expired is closed once this process's local TTL for the gate elapses.
// Callers combine it into a cancellation context around the guarded
// critical section (SPEC_FULL.md §4.E step 2). Calling Expired on an
// unacquired gate returns a nil channel, which blocks forever in a select
// — harmless, since an unacquired gate guards nothing.
func (g *Gate) Expired() <-chan struct{} {
	return g.expired
}

// Release gives up the gate. It is idempotent: releasing an unacquired or
// already-released gate is a no-op.
func (g *Gate) Release(ctx context.Context) error {
	if !g.acquired {
		return nil
	}
	g.timer.Stop()
	g.acquired = false
	return g.backend.Release(ctx, g.blobName, g.leaseID)
}
