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

package bloblease

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/lease"

	"github.com/dapr/kit/logger"
)

// NewAzureGateway builds a Gateway backed by Azure Blob Storage. Grounded on
// internal/component/azure/blobstorage/client.go for container-client
// construction and enriched from opentofu's
// internal/backend/remote-state/azure/client.go, the only repo in the pack
// that actually drives azblob's lease.BlobClient (AcquireLease/
// ReleaseLease), since no teacher component performs a blob-lease
// acquisition.
func NewAzureGateway(containerClient *container.Client, log logger.Logger) *Gateway {
	return newGateway(&azureBackend{container: containerClient}, log)
}

type azureBackend struct {
	container *container.Client
}

func (b *azureBackend) EnsureContainer(ctx context.Context) error {
	_, err := b.container.Create(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusConflict {
			return nil
		}
		return fmt.Errorf("bloblease: create container: %w", err)
	}
	return nil
}

func (b *azureBackend) Acquire(ctx context.Context, blobName string, duration time.Duration) (string, error) {
	blobClient := b.container.NewBlockBlobClient(blobName)

	if _, err := blobClient.UploadBuffer(ctx, []byte{}, nil); err != nil {
		var respErr *azcore.ResponseError
		if !errors.As(err, &respErr) || respErr.StatusCode != http.StatusConflict {
			return "", fmt.Errorf("bloblease: ensure blob exists: %w", err)
		}
	}

	leaseClient, err := lease.NewBlobClient(blobClient, nil)
	if err != nil {
		return "", fmt.Errorf("bloblease: build lease client: %w", err)
	}

	seconds := int32(duration.Seconds())
	resp, err := leaseClient.AcquireLease(ctx, seconds, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusConflict {
			return "", ErrAlreadyLeased
		}
		return "", fmt.Errorf("bloblease: acquire lease: %w", err)
	}

	return string(*resp.LeaseID), nil
}

func (b *azureBackend) Release(ctx context.Context, blobName, leaseID string) error {
	blobClient := b.container.NewBlockBlobClient(blobName)

	id := leaseID
	leaseClient, err := lease.NewBlobClient(blobClient, &lease.BlobClientOptions{LeaseID: &id})
	if err != nil {
		return fmt.Errorf("bloblease: build lease client: %w", err)
	}

	if _, err := leaseClient.ReleaseLease(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && (respErr.StatusCode == http.StatusConflict || respErr.StatusCode == http.StatusNotFound) {
			// The lease already expired or the blob is gone: nothing to
			// release.
			return nil
		}
		return fmt.Errorf("bloblease: release lease: %w", err)
	}
	return nil
}
