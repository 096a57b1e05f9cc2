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

package journal

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dapr/kit/logger"

	"github.com/osavoskin/globallock/internal/identity"
)

// NewMemoryRepository builds a Repository backed by an in-process fake,
// used throughout this module's test suite in place of a live Azure Table
// Storage account — the same substitution the teacher performs with
// miniredis standing in for a real Redis server in lock/redis.
func NewMemoryRepository(log logger.Logger) *Repository {
	return newRepository(newMemoryBackend(), log)
}

// NewDelayedMemoryRepository builds a memory-backed Repository whose Insert
// takes insertDelay to complete, honouring ctx cancellation — the
// "injectable clock/TTL" SPEC_FULL.md §8 calls for to simulate S5 (an
// insert outlasting the blob-lease's local TTL) deterministically.
func NewDelayedMemoryRepository(log logger.Logger, insertDelay time.Duration) *Repository {
	return newRepository(&delayedBackend{memoryBackend: newMemoryBackend(), insertDelay: insertDelay}, log)
}

// AllRecords returns every row for (resource, scope) regardless of
// completion or expiry state, unlike IsAvailable's Query path, which only
// ever sees currently-active rows. It only works against a memory-backed
// Repository (NewMemoryRepository/NewDelayedMemoryRepository); it exists
// for tests that must assert on the full history of a resource, such as
// checking every contender's record ended up completed.
func (r *Repository) AllRecords(ctx context.Context, resource, scope string) ([]Record, error) {
	mb, ok := asMemoryBackend(r.backend)
	if !ok {
		return nil, fmt.Errorf("journal: AllRecords requires a memory-backed Repository")
	}

	partitionKey := identity.PartitionKey(scope)

	mb.mu.Lock()
	defer mb.mu.Unlock()

	var out []Record
	for _, rec := range mb.rows {
		if rec.Resource == resource && rec.PartitionKey == partitionKey {
			out = append(out, rec)
		}
	}
	return out, nil
}

func asMemoryBackend(b backend) (*memoryBackend, bool) {
	switch impl := b.(type) {
	case *memoryBackend:
		return impl, true
	case *delayedBackend:
		return impl.memoryBackend, true
	default:
		return nil, false
	}
}

type delayedBackend struct {
	*memoryBackend
	insertDelay time.Duration
}

func (b *delayedBackend) Insert(ctx context.Context, rec Record) error {
	select {
	case <-time.After(b.insertDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.memoryBackend.Insert(ctx, rec)
}

type memoryBackend struct {
	mu      sync.Mutex
	rows    map[string]Record // keyed by partitionKey + "/" + rowKey
	etagSeq int
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{rows: map[string]Record{}}
}

func memKey(partitionKey, rowKey string) string {
	return partitionKey + "/" + rowKey
}

func (b *memoryBackend) EnsureTable(ctx context.Context) error {
	return nil
}

func (b *memoryBackend) nextETag() string {
	b.etagSeq++
	return strconv.Itoa(b.etagSeq)
}

func (b *memoryBackend) Query(ctx context.Context, resource, partitionKey string, now time.Time, limit int) ([]Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Record
	for _, rec := range b.rows {
		if rec.Resource != resource || rec.PartitionKey != partitionKey {
			continue
		}
		if !rec.Active(now) {
			continue
		}
		out = append(out, rec)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (b *memoryBackend) Insert(ctx context.Context, rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec.ETag = b.nextETag()
	b.rows[memKey(rec.PartitionKey, rec.RowKey)] = rec
	return nil
}

func (b *memoryBackend) Get(ctx context.Context, partitionKey, rowKey string) (Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.rows[memKey(partitionKey, rowKey)]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (b *memoryBackend) Merge(ctx context.Context, rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := memKey(rec.PartitionKey, rec.RowKey)
	existing, ok := b.rows[key]
	if !ok {
		return ErrNotFound
	}
	if existing.ETag != rec.ETag {
		return ErrConflict
	}

	rec.ETag = b.nextETag()
	b.rows[key] = rec
	return nil
}
