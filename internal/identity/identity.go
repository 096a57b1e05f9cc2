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

// Package identity maps (resource, scope) pairs to the opaque names the
// coordinator uses on the wire: a resourceUID for the blob name and the
// in-process serialiser key, and a base64 lease-id for the journal row.
package identity

import (
	"crypto/md5" //nolint:gosec // used as a name compressor, not for security
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// DefaultScope is used whenever a caller does not supply one.
const DefaultScope = "default"

// Normalize trims and lower-cases a resource or scope name the way every
// identity function expects its inputs.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ResourceUID derives the stable per-(resource,scope) name used as the blob
// name and the per-key serialiser key.
func ResourceUID(resource, scope string) string {
	sum := md5.Sum([]byte(Normalize(resource) + Normalize(scope))) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// PartitionKey derives the journal partition key for a scope.
func PartitionKey(scope string) string {
	sum := md5.Sum([]byte(Normalize(scope))) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// RecordID identifies one journal row.
type RecordID struct {
	RowKey       string
	PartitionKey string
}

// EncodeLeaseID packs a RecordID into the opaque string callers carry
// around as a lease id: base64(rowKey + "|" + partitionKey).
func EncodeLeaseID(id RecordID) string {
	return base64.StdEncoding.EncodeToString([]byte(id.RowKey + "|" + id.PartitionKey))
}

// DecodeLeaseID unpacks a lease id produced by EncodeLeaseID. It returns
// ok == false for anything that isn't valid base64 encoding exactly one
// '|'-separated pair of non-empty strings — malformed input is never
// silently accepted.
func DecodeLeaseID(leaseID string) (id RecordID, ok bool) {
	if leaseID == "" {
		return RecordID{}, false
	}

	raw, err := base64.StdEncoding.DecodeString(leaseID)
	if err != nil {
		return RecordID{}, false
	}

	parts := strings.Split(string(raw), "|")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return RecordID{}, false
	}

	return RecordID{RowKey: parts[0], PartitionKey: parts[1]}, true
}
