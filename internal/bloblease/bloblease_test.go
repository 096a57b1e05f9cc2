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

package bloblease_test

import (
	"testing"

	"github.com/dapr/kit/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osavoskin/globallock/internal/bloblease"
)

func testGateway() *bloblease.Gateway {
	return bloblease.NewMemoryGateway(logger.NewLogger("test"))
}

func TestGateway_AcquireThenReleaseAllowsReacquire(t *testing.T) {
	gw := testGateway()

	gate, err := gw.TryAcquire(t.Context(), "blob-1")
	require.NoError(t, err)
	require.True(t, gate.IsAcquired())
	assert.NotEmpty(t, gate.LeaseID())

	require.NoError(t, gate.Release(t.Context()))

	second, err := gw.TryAcquire(t.Context(), "blob-1")
	require.NoError(t, err)
	assert.True(t, second.IsAcquired())
}

func TestGateway_SecondAcquireFailsWhileHeld(t *testing.T) {
	gw := testGateway()

	first, err := gw.TryAcquire(t.Context(), "blob-1")
	require.NoError(t, err)
	require.True(t, first.IsAcquired())

	second, err := gw.TryAcquire(t.Context(), "blob-1")
	require.NoError(t, err)
	assert.False(t, second.IsAcquired(), "a concurrently-leased blob must report unacquired, not error")
}

func TestGateway_DistinctBlobsDoNotContend(t *testing.T) {
	gw := testGateway()

	a, err := gw.TryAcquire(t.Context(), "blob-a")
	require.NoError(t, err)
	require.True(t, a.IsAcquired())

	b, err := gw.TryAcquire(t.Context(), "blob-b")
	require.NoError(t, err)
	assert.True(t, b.IsAcquired())
}

func TestGate_ReleaseIsIdempotent(t *testing.T) {
	gw := testGateway()

	gate, err := gw.TryAcquire(t.Context(), "blob-1")
	require.NoError(t, err)

	require.NoError(t, gate.Release(t.Context()))
	require.NoError(t, gate.Release(t.Context()))
	assert.False(t, gate.IsAcquired())
}

func TestGate_UnacquiredGateReleaseIsNoop(t *testing.T) {
	gw := testGateway()

	first, err := gw.TryAcquire(t.Context(), "blob-1")
	require.NoError(t, err)
	require.True(t, first.IsAcquired())

	unacquired, err := gw.TryAcquire(t.Context(), "blob-1")
	require.NoError(t, err)
	require.False(t, unacquired.IsAcquired())

	assert.NoError(t, unacquired.Release(t.Context()))
}
