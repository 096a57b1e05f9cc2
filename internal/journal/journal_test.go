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

package journal_test

import (
	"testing"
	"time"

	"github.com/dapr/kit/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osavoskin/globallock/internal/journal"
)

func testRepo() *journal.Repository {
	return journal.NewMemoryRepository(logger.NewLogger("test"))
}

func TestRepository_IsAvailable_EmptyJournal(t *testing.T) {
	repo := testRepo()

	available, err := repo.IsAvailable(t.Context(), "tenant-1", "E2E")
	require.NoError(t, err)
	assert.True(t, available)
}

func TestRepository_InsertMakesResourceUnavailable(t *testing.T) {
	repo := testRepo()

	rec, err := repo.Insert(t.Context(), "tenant-1", "E2E", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, journal.SentinelEpoch, rec.CompletedAt)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), rec.ExpiresAt, time.Minute)

	available, err := repo.IsAvailable(t.Context(), "tenant-1", "E2E")
	require.NoError(t, err)
	assert.False(t, available)
}

func TestRepository_ExtensionConservation(t *testing.T) {
	repo := testRepo()

	rec, err := repo.Insert(t.Context(), "tenant-1", "E2E", time.Hour)
	require.NoError(t, err)

	before := rec.ExpiresAt
	ok, err := repo.Prolong(t.Context(), rec.ID(), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	after, err := repo.Get(t.Context(), rec.ID())
	require.NoError(t, err)
	assert.Equal(t, before.Add(time.Minute), after.ExpiresAt)
}

func TestRepository_ExtendAfterReleaseFails(t *testing.T) {
	repo := testRepo()

	rec, err := repo.Insert(t.Context(), "tenant-1", "E2E", time.Hour)
	require.NoError(t, err)

	require.NoError(t, repo.End(t.Context(), rec.ID()))

	ok, err := repo.Prolong(t.Context(), rec.ID(), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "prolonging a released record must report not-found, not succeed")
}

func TestRepository_EndIsIdempotent(t *testing.T) {
	repo := testRepo()

	rec, err := repo.Insert(t.Context(), "tenant-1", "E2E", time.Hour)
	require.NoError(t, err)

	require.NoError(t, repo.End(t.Context(), rec.ID()))
	completedOnce, err := repo.Get(t.Context(), rec.ID())
	require.NoError(t, err)
	assert.True(t, completedOnce.CompletedAt.After(journal.SentinelEpoch))

	// Calling End again must be a silent no-op, not re-stamp completedAt.
	require.NoError(t, repo.End(t.Context(), rec.ID()))
	completedTwice, err := repo.Get(t.Context(), rec.ID())
	require.NoError(t, err)
	assert.Equal(t, completedOnce.CompletedAt, completedTwice.CompletedAt)
}

func TestRepository_EndOfMissingRecordIsSilent(t *testing.T) {
	repo := testRepo()
	missing, _ := journal.NewMemoryRepository(logger.NewLogger("test")).Insert(t.Context(), "r", "s", time.Hour)
	require.NoError(t, repo.End(t.Context(), missing.ID()))
}
