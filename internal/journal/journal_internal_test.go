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
	"testing"
	"time"

	"github.com/dapr/kit/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyOnceBackend wraps a memoryBackend and forces its first Merge call to
// report ErrConflict, regardless of the supplied ETag, to exercise the
// retry-from-read path without racing real goroutines against each other.
type flakyOnceBackend struct {
	*memoryBackend
	conflictsLeft int
}

func (b *flakyOnceBackend) Merge(ctx context.Context, rec Record) error {
	if b.conflictsLeft > 0 {
		b.conflictsLeft--
		return ErrConflict
	}
	return b.memoryBackend.Merge(ctx, rec)
}

func TestMergeWithRetry_RecoversFromSingleConflict(t *testing.T) {
	backend := &flakyOnceBackend{memoryBackend: newMemoryBackend(), conflictsLeft: 1}
	repo := newRepository(backend, logger.NewLogger("test"))

	rec, err := repo.Insert(t.Context(), "res", "scope", time.Hour)
	require.NoError(t, err)

	ok, err := repo.Prolong(t.Context(), rec.ID(), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, backend.conflictsLeft, "the forced conflict should have been consumed by a retry")

	after, err := repo.Get(t.Context(), rec.ID())
	require.NoError(t, err)
	assert.Equal(t, rec.ExpiresAt.Add(time.Minute), after.ExpiresAt)
}

func TestMergeWithRetry_MissingRecordReportsNotFound(t *testing.T) {
	repo := newRepository(newMemoryBackend(), logger.NewLogger("test"))

	missingID := Record{PartitionKey: "p", RowKey: "does-not-exist"}.ID()

	found, err := repo.Prolong(t.Context(), missingID, time.Minute)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMergeWithRetry_CancelledContextStopsRetrying(t *testing.T) {
	backend := &flakyOnceBackend{memoryBackend: newMemoryBackend(), conflictsLeft: 1000}
	repo := newRepository(backend, logger.NewLogger("test"))

	rec, err := repo.Insert(t.Context(), "res", "scope", time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err = repo.Prolong(ctx, rec.ID(), time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
