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

package identity_test

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osavoskin/globallock/internal/identity"
)

func TestResourceUID_StableAndCaseInsensitive(t *testing.T) {
	a := identity.ResourceUID("Tenant-1", "E2E")
	b := identity.ResourceUID(" tenant-1 ", "e2e")
	assert.Equal(t, a, b)

	c := identity.ResourceUID("tenant-2", "E2E")
	assert.NotEqual(t, a, c)
}

func TestPartitionKey_DependsOnlyOnScope(t *testing.T) {
	assert.Equal(t, identity.PartitionKey("E2E"), identity.PartitionKey("e2e "))
	assert.NotEqual(t, identity.PartitionKey("E2E"), identity.PartitionKey("other"))
}

func TestLeaseID_RoundTrip(t *testing.T) {
	cases := []identity.RecordID{
		{RowKey: "abc", PartitionKey: "def"},
		{RowKey: "0123456789abcdef", PartitionKey: "deadbeef"},
		{RowKey: "a", PartitionKey: "b"},
	}

	for _, want := range cases {
		encoded := identity.EncodeLeaseID(want)
		got, ok := identity.DecodeLeaseID(encoded)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestLeaseID_DecodeRejectsGarbage(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, ok := identity.DecodeLeaseID("")
		assert.False(t, ok)
	})

	t.Run("not base64", func(t *testing.T) {
		_, ok := identity.DecodeLeaseID("!!!not-base64!!!")
		assert.False(t, ok)
	})

	t.Run("no pipe", func(t *testing.T) {
		_, ok := identity.DecodeLeaseID(base64.StdEncoding.EncodeToString([]byte("onlyrowkey")))
		assert.False(t, ok)
	})

	t.Run("empty half", func(t *testing.T) {
		_, ok := identity.DecodeLeaseID(identity.EncodeLeaseID(identity.RecordID{RowKey: "", PartitionKey: "pk"}))
		assert.False(t, ok)
	})
}
