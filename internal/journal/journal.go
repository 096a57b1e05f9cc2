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

// Package journal is the operation-log repository (component C): it reads
// and writes the table that holds one row per lease, active and
// historical, and resolves optimistic-concurrency conflicts with a
// bounded retry-from-read loop.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/dapr/kit/logger"

	"github.com/osavoskin/globallock/internal/identity"
)

// SentinelEpoch marks a row as "not yet completed", exactly as the source
// system uses the fixed moment 1601-01-01T00:00:00Z for the same purpose.
var SentinelEpoch = time.Date(1601, 1, 1, 0, 0, 0, 0, time.UTC)

// maxMergeRetries bounds the retry-from-read loop on a 412 conflict. Each
// retry re-reads state first, so termination doesn't depend on this bound;
// it exists only to fail fast if a row is persistently conflicting for a
// reason other than a live race. See SPEC_FULL.md §9.
const maxMergeRetries = 8

// ErrConflict is returned by a backend's Merge when the supplied ETag no
// longer matches the stored row (HTTP 412 Precondition Failed).
var ErrConflict = errors.New("journal: etag conflict")

// ErrNotFound is returned by a backend's Get when no row matches the keys.
var ErrNotFound = errors.New("journal: record not found")

// Record is one row of the operation log.
type Record struct {
	PartitionKey string
	RowKey       string
	Resource     string
	Scope        string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	CompletedAt  time.Time
	ETag         string
}

// ID returns the identity.RecordID this row is addressed by.
func (r Record) ID() identity.RecordID {
	return identity.RecordID{RowKey: r.RowKey, PartitionKey: r.PartitionKey}
}

// Active reports whether r is a currently-held lease as of now.
func (r Record) Active(now time.Time) bool {
	return r.CompletedAt.Equal(SentinelEpoch) && r.ExpiresAt.After(now)
}

// backend is the narrow storage contract a concrete table implementation
// (aztables) or a fake must satisfy. It deliberately speaks only plain Go
// types, never SDK-specific pager/response types, so a fake can stand in
// for tests without depending on the Azure SDK at all.
type backend interface {
	EnsureTable(ctx context.Context) error
	// Query returns at most limit active rows for (resource, partitionKey).
	Query(ctx context.Context, resource, partitionKey string, now time.Time, limit int) ([]Record, error)
	Insert(ctx context.Context, rec Record) error
	// Get returns ErrNotFound if no row matches the keys.
	Get(ctx context.Context, partitionKey, rowKey string) (Record, error)
	// Merge writes rec conditioned on rec.ETag matching the stored row's
	// current ETag. Returns ErrConflict on a mismatch.
	Merge(ctx context.Context, rec Record) error
}

// Repository is the component C operation-log repository.
type Repository struct {
	backend backend
	log     logger.Logger
}

func newRepository(b backend, log logger.Logger) *Repository {
	return &Repository{backend: b, log: log}
}

// EnsureTable creates the backing table if it doesn't already exist.
func (r *Repository) EnsureTable(ctx context.Context) error {
	return r.backend.EnsureTable(ctx)
}

// IsAvailable reports whether (resource, scope) currently has zero active
// rows. A page size of 2 is used: if two active rows are found the
// invariant has already been violated elsewhere, so this conservatively
// reports unavailable without choosing between them (SPEC_FULL.md §9).
func (r *Repository) IsAvailable(ctx context.Context, resource, scope string) (bool, error) {
	rows, err := r.backend.Query(ctx, resource, identity.PartitionKey(scope), time.Now().UTC(), 2)
	if err != nil {
		return false, fmt.Errorf("journal: query availability: %w", err)
	}

	if len(rows) > 1 {
		r.log.Warnf("journal: resource %q scope %q has %d active rows, expected at most 1", resource, scope, len(rows))
	}

	return len(rows) == 0, nil
}

// Insert writes a fresh active row for (resource, scope) with a newly
// minted row key, and returns it.
func (r *Repository) Insert(ctx context.Context, resource, scope string, ttl time.Duration) (Record, error) {
	now := time.Now().UTC()
	rec := Record{
		PartitionKey: identity.PartitionKey(scope),
		RowKey:       uuid.New().String(),
		Resource:     resource,
		Scope:        scope,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		CompletedAt:  SentinelEpoch,
	}

	if err := r.backend.Insert(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("journal: insert: %w", err)
	}

	return rec, nil
}

// Get returns the row addressed by id, or ErrNotFound if it doesn't exist.
func (r *Repository) Get(ctx context.Context, id identity.RecordID) (Record, error) {
	rec, err := r.backend.Get(ctx, id.PartitionKey, id.RowKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("journal: get: %w", err)
	}
	return rec, nil
}

// Prolong advances id's expiresAt by period. It returns false if the row
// doesn't exist or is no longer active (completed or expired); a 412
// conflict is resolved by re-reading the row and retrying, bounded by
// maxMergeRetries.
func (r *Repository) Prolong(ctx context.Context, id identity.RecordID, period time.Duration) (bool, error) {
	found, err := r.mergeWithRetry(ctx, id, func(rec Record) Record {
		rec.ExpiresAt = rec.ExpiresAt.Add(period)
		return rec
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// End marks id completed. It is idempotent: if the row is already gone or
// no longer active, End returns nil without error and leaves it unchanged.
func (r *Repository) End(ctx context.Context, id identity.RecordID) error {
	now := time.Now().UTC()
	_, err := r.mergeWithRetry(ctx, id, func(rec Record) Record {
		rec.CompletedAt = now
		return rec
	})
	return err
}

// mergeWithRetry reads the row addressed by id, applies mutate, and writes
// it back conditioned on the observed ETag, retrying from the read on a
// 412 conflict. It returns found=false (no error) if the row doesn't exist
// or is no longer active, matching Prolong/End's idempotent-miss semantics.
func (r *Repository) mergeWithRetry(ctx context.Context, id identity.RecordID, mutate func(Record) Record) (bool, error) {
	attempt := 0
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxMergeRetries), ctx)

	var found bool
	err := backoff.Retry(func() error {
		attempt++

		rec, err := r.backend.Get(ctx, id.PartitionKey, id.RowKey)
		if errors.Is(err, ErrNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return backoff.Permanent(fmt.Errorf("journal: read before merge: %w", err))
		}
		if !rec.Active(time.Now().UTC()) {
			found = false
			return nil
		}

		mutated := mutate(rec)
		if mergeErr := r.backend.Merge(ctx, mutated); mergeErr != nil {
			if errors.Is(mergeErr, ErrConflict) {
				// Retry from the read: another writer raced us.
				return mergeErr
			}
			return backoff.Permanent(fmt.Errorf("journal: merge: %w", mergeErr))
		}

		found = true
		return nil
	}, policy)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, err
	}

	return found, nil
}
