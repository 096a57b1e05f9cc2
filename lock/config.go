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
	"fmt"
	"strings"
	"time"
)

const (
	defaultTableName     = "locks"
	defaultContainerName = "locks"
	defaultLeaseSeconds  = 86400
	defaultTickSeconds   = 5
)

// Config carries the tunables described in SPEC_FULL.md §6, mirroring the
// field-by-field required-ness checks of the teacher's
// state/azure/tablestorage.tablesMetadata / metadata.parseMetadata idiom,
// but without a file/env parsing layer — loading Config from an external
// source remains the caller's job.
type Config struct {
	// StorageConnectionString authenticates against both the table and the
	// blob service. Required.
	StorageConnectionString string
	// TableName holds the journal. Defaults to "locks".
	TableName string
	// ContainerName holds the per-resource lease blobs. Defaults to "locks".
	ContainerName string
	// LeaseDefaultExpirationSeconds is the default journal-record TTL used
	// when TryAcquire/TryExtend are called without an explicit duration.
	// Defaults to 86400 (24h).
	LeaseDefaultExpirationSeconds int
	// LeaseAcquirementIntervalSeconds is the waiter-queue ticker period.
	// Defaults to 5.
	LeaseAcquirementIntervalSeconds int
}

// WithDefaults returns a copy of c with zero-valued optional fields filled
// in.
func (c Config) WithDefaults() Config {
	if c.TableName == "" {
		c.TableName = defaultTableName
	}
	if c.ContainerName == "" {
		c.ContainerName = defaultContainerName
	}
	if c.LeaseDefaultExpirationSeconds == 0 {
		c.LeaseDefaultExpirationSeconds = defaultLeaseSeconds
	}
	if c.LeaseAcquirementIntervalSeconds == 0 {
		c.LeaseAcquirementIntervalSeconds = defaultTickSeconds
	}
	return c
}

// Validate checks every field, returning ErrInvalidArgument or
// ErrOutOfRange wrapped with the offending field's name.
func (c Config) Validate() error {
	if strings.TrimSpace(c.StorageConnectionString) == "" {
		return fmt.Errorf("%w: storageConnectionString is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(c.TableName) == "" {
		return fmt.Errorf("%w: tableName must not be empty", ErrInvalidArgument)
	}
	if strings.TrimSpace(c.ContainerName) == "" {
		return fmt.Errorf("%w: containerName must not be empty", ErrInvalidArgument)
	}
	if c.LeaseDefaultExpirationSeconds <= 0 {
		return fmt.Errorf("%w: leaseDefaultExpirationSeconds must be positive", ErrOutOfRange)
	}
	if c.LeaseAcquirementIntervalSeconds <= 0 {
		return fmt.Errorf("%w: leaseAcquirementIntervalSeconds must be positive", ErrOutOfRange)
	}
	return nil
}

func (c Config) defaultTTL() time.Duration {
	return time.Duration(c.LeaseDefaultExpirationSeconds) * time.Second
}

func (c Config) tickInterval() time.Duration {
	return time.Duration(c.LeaseAcquirementIntervalSeconds) * time.Second
}
