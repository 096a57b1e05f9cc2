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

import "errors"

// ErrInvalidArgument is returned for an empty/whitespace resource or lease
// id, or a lease id that doesn't decode to a well-formed record id. An
// empty scope is not an error: it selects the default scope.
var ErrInvalidArgument = errors.New("lock: invalid argument")

// ErrOutOfRange is returned for a negative TTL or extension period. A zero
// value is not an error: it selects the configured default.
var ErrOutOfRange = errors.New("lock: value out of range")

// ErrCancelled wraps every cancellation observed at a suspension point:
// the caller's context, a linked blob-lease-expiry context, or a backend
// call whose own error carries a context.Canceled/DeadlineExceeded cause.
var ErrCancelled = errors.New("lock: operation cancelled")
