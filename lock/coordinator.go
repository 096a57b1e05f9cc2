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

// Package lock is the distributed mutual-exclusion service's public API:
// a Coordinator composing a blob-lease gate and a journal table into
// TryAcquire/TryExtend/Release, and the Lease handle returned to callers.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/dapr/kit/logger"

	"github.com/osavoskin/globallock/internal/bloblease"
	"github.com/osavoskin/globallock/internal/identity"
	"github.com/osavoskin/globallock/internal/journal"
	"github.com/osavoskin/globallock/internal/keyed"
	"github.com/osavoskin/globallock/internal/waiter"
)

// Coordinator is components E (acquisition protocol) and F (waiter queue)
// wired together behind the journal and blob-lease gate.
type Coordinator struct {
	cfg  Config
	log  logger.Logger
	jrnl *journal.Repository
	gate *bloblease.Gateway

	serializer *keyed.Serializer
	waiters    *waiter.Queue

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// New builds a Coordinator from an already-constructed journal repository
// and blob-lease gateway — the real Azure-backed ones from NewAzure, or the
// in-memory fakes used throughout this module's test suite.
func New(cfg Config, log logger.Logger, jrnl *journal.Repository, gate *bloblease.Gateway) (*Coordinator, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())

	c := &Coordinator{
		cfg:            cfg,
		log:            log,
		jrnl:           jrnl,
		gate:           gate,
		serializer:     keyed.New(),
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
	}
	c.waiters = waiter.New(c.serializer, cfg.tickInterval(), log)
	go c.waiters.Run(shutdownCtx)

	return c, nil
}

// NewAzure builds a Coordinator backed by Azure Table Storage and Azure
// Blob Storage, constructing both clients from cfg.StorageConnectionString.
// Grounded on the teacher's CreateContainerStorageClient/getTablesMetadata
// client-construction idiom.
func NewAzure(ctx context.Context, cfg Config, log logger.Logger) (*Coordinator, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tableServiceClient, err := aztables.NewServiceClientFromConnectionString(cfg.StorageConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("lock: build table client: %w", err)
	}
	tableClient := tableServiceClient.NewClient(cfg.TableName)

	blobServiceClient, err := azblob.NewClientFromConnectionString(cfg.StorageConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("lock: build blob service client: %w", err)
	}
	containerClient := blobServiceClient.ServiceClient().NewContainerClient(cfg.ContainerName)

	jrnl := journal.NewAzureRepository(tableClient, log)
	gate := bloblease.NewAzureGateway(containerClient, log)

	if err := jrnl.EnsureTable(ctx); err != nil {
		return nil, fmt.Errorf("lock: ensure table: %w", err)
	}
	if err := gate.EnsureContainer(ctx); err != nil {
		return nil, fmt.Errorf("lock: ensure container: %w", err)
	}

	return New(cfg, log, jrnl, gate)
}

// Close stops the waiter-queue ticker. Any in-flight TryAcquire that has
// already acquired the blob-lease gate still releases it before returning,
// since gate release uses the caller's own context, not the shutdown one.
func (c *Coordinator) Close() error {
	c.shutdownCancel()
	return nil
}

// TryAcquire runs the full acquisition protocol (SPEC_FULL.md §4.E) for
// (resource, scope) under the per-resourceUID serialiser. ttl of zero uses
// the configured default; a negative ttl is ErrOutOfRange.
func (c *Coordinator) TryAcquire(ctx context.Context, resource, scope string, ttl time.Duration) (*Lease, error) {
	resource = identity.Normalize(resource)
	if resource == "" {
		return nil, fmt.Errorf("%w: resource must not be empty", ErrInvalidArgument)
	}

	if strings.TrimSpace(scope) == "" {
		scope = identity.DefaultScope
	}
	scope = identity.Normalize(scope)

	switch {
	case ttl < 0:
		return nil, fmt.Errorf("%w: ttl must be positive", ErrOutOfRange)
	case ttl == 0:
		ttl = c.cfg.defaultTTL()
	}

	// Checked before the serialiser is ever entered: a cancelled context
	// must never reach a backend call (testable property 6), and the
	// serialiser's select over an already-ready turnstile channel and an
	// already-closed ctx.Done() would otherwise pick either nondeterministically.
	if err := ctx.Err(); err != nil {
		return nil, ErrCancelled
	}

	resourceUID := identity.ResourceUID(resource, scope)

	var result waiter.Result
	err := c.serializer.Run(ctx, resourceUID, func(runCtx context.Context) error {
		result = c.attempt(runCtx, resource, scope, resourceUID, ttl)
		return result.Err
	})
	if err != nil {
		return nil, mapCancellation(err)
	}

	lease := &Lease{
		coordinator: c,
		resource:    resource,
		scope:       scope,
		resourceUID: resourceUID,
		ttl:         ttl,
	}
	if result.Acquired {
		lease.acquired = true
		lease.leaseID = identity.EncodeLeaseID(result.RecordID)
		lease.expiresAt = result.ExpiresAt
	}
	return lease, nil
}

// TryExtend prolongs the record addressed by leaseID by period. A period of
// zero uses the configured default; a negative period is ErrOutOfRange. It
// returns false, nil if the record is gone or no longer active (already
// released or expired).
func (c *Coordinator) TryExtend(ctx context.Context, leaseID string, period time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, ErrCancelled
	}
	if strings.TrimSpace(leaseID) == "" {
		return false, fmt.Errorf("%w: leaseId must not be empty", ErrInvalidArgument)
	}
	id, ok := identity.DecodeLeaseID(leaseID)
	if !ok {
		return false, fmt.Errorf("%w: leaseId is malformed", ErrInvalidArgument)
	}
	switch {
	case period < 0:
		return false, fmt.Errorf("%w: period must be positive", ErrOutOfRange)
	case period == 0:
		period = c.cfg.defaultTTL()
	}

	extended, err := c.jrnl.Prolong(ctx, id, period)
	if err != nil {
		return false, c.mapStorageErr(ctx, err)
	}
	return extended, nil
}

// Release marks the record addressed by leaseID completed. It is
// idempotent.
func (c *Coordinator) Release(ctx context.Context, leaseID string) error {
	if strings.TrimSpace(leaseID) == "" {
		return fmt.Errorf("%w: leaseId must not be empty", ErrInvalidArgument)
	}
	id, ok := identity.DecodeLeaseID(leaseID)
	if !ok {
		return fmt.Errorf("%w: leaseId is malformed", ErrInvalidArgument)
	}

	if err := c.jrnl.End(ctx, id); err != nil {
		return c.mapStorageErr(ctx, err)
	}
	return nil
}

// attempt implements SPEC_FULL.md §4.E, both for a direct TryAcquire call
// and for a queued waiter's promotion (see Lease.Wait).
func (c *Coordinator) attempt(ctx context.Context, resource, scope, resourceUID string, ttl time.Duration) waiter.Result {
	if err := ctx.Err(); err != nil {
		return waiter.Result{Err: ErrCancelled}
	}

	available, err := c.jrnl.IsAvailable(ctx, resource, scope)
	if err != nil {
		return waiter.Result{Err: c.mapStorageErr(ctx, err)}
	}
	if !available {
		return waiter.Result{}
	}

	gate, err := c.gate.TryAcquire(ctx, resourceUID)
	if err != nil {
		return waiter.Result{Err: c.mapStorageErr(ctx, err)}
	}
	if !gate.IsAcquired() {
		return waiter.Result{}
	}

	rec, acquired, insertErr := c.insertUnderExpiringGate(ctx, gate, resource, scope, ttl)

	// Release uses the caller's own ctx, not the combined one that may
	// have just been cancelled by the gate's local expiry — a release
	// must survive the cancellation that aborted the insert under it.
	if relErr := gate.Release(ctx); relErr != nil {
		c.log.Debugf("lock: release blob lease for %q failed: %v", resourceUID, relErr)
	}

	if insertErr != nil {
		return waiter.Result{Err: c.mapStorageErr(ctx, insertErr)}
	}
	if !acquired {
		return waiter.Result{}
	}

	c.log.Debugf("lock: acquired resource %q scope %q", resource, scope)
	return waiter.Result{Acquired: true, RecordID: rec.ID(), ExpiresAt: rec.ExpiresAt}
}

// insertUnderExpiringGate combines the caller's ctx, the process-shutdown
// context, and the gate's Expired signal into one cancellation context for
// the re-check-then-insert critical section (SPEC_FULL.md §4.E step 2).
func (c *Coordinator) insertUnderExpiringGate(ctx context.Context, gate *bloblease.Gate, resource, scope string, ttl time.Duration) (journal.Record, bool, error) {
	innerCtx, innerCancel := context.WithCancel(ctx)

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		select {
		case <-c.shutdownCtx.Done():
			innerCancel()
		case <-gate.Expired():
			innerCancel()
		case <-innerCtx.Done():
		}
	}()
	// Cancel first: the watcher only returns once innerCtx is done.
	defer func() {
		innerCancel()
		<-watchDone
	}()

	available, err := c.jrnl.IsAvailable(innerCtx, resource, scope)
	if err != nil {
		return journal.Record{}, false, err
	}
	if !available {
		return journal.Record{}, false, nil
	}

	rec, err := c.jrnl.Insert(innerCtx, resource, scope, ttl)
	if err != nil {
		return journal.Record{}, false, err
	}
	return rec, true, nil
}

func (c *Coordinator) mapStorageErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrCancelled
	}
	return fmt.Errorf("lock: %w", err)
}

func mapCancellation(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrCancelled
	}
	return err
}
