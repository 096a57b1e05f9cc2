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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"github.com/dapr/kit/logger"
)

// timeLayout is the wire format used for CreatedAt/ExpiresAt/CompletedAt.
// Table Storage's native Edm.DateTime loses sub-second precision in some
// client/server combinations, so, like the teacher's tablestorage.go
// stores its payload as an opaque string column, timestamps here are
// stored as RFC3339Nano strings and parsed back on read.
const timeLayout = time.RFC3339Nano

// NewAzureRepository builds a Repository backed by Azure Table Storage.
// Grounded on state/azure/tablestorage/tablestorage.go for the
// table-client lifecycle and partition/row-key addressing, and on
// state/azure/blobstorage/blobstorage.go's IfMatch/isETagConflictError
// idiom for the conditional-merge path (here mapped onto aztables'
// precondition-failed response instead of the blob service's
// ServiceCodeConditionNotMet).
func NewAzureRepository(client *aztables.Client, log logger.Logger) *Repository {
	return newRepository(&aztablesBackend{client: client}, log)
}

type aztablesBackend struct {
	client *aztables.Client
}

type tableRow struct {
	Resource    string `json:"resource"`
	Scope       string `json:"scope"`
	CreatedAt   string `json:"createdAt"`
	ExpiresAt   string `json:"expiresAt"`
	CompletedAt string `json:"completedAt"`
}

func (b *aztablesBackend) EnsureTable(ctx context.Context) error {
	_, err := b.client.CreateTable(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusConflict {
			// TableAlreadyExists: fine, the table is already there.
			return nil
		}
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

func (b *aztablesBackend) Query(ctx context.Context, resource, partitionKey string, now time.Time, limit int) ([]Record, error) {
	filter := fmt.Sprintf(
		"Resource eq '%s' and PartitionKey eq '%s' and CompletedAt eq '%s' and ExpiresAt gt '%s'",
		escapeODataLiteral(resource), partitionKey, SentinelEpoch.Format(timeLayout), now.Format(timeLayout),
	)
	top := int32(limit)

	pager := b.client.NewListEntitiesPager(&aztables.ListEntitiesOptions{
		Filter: &filter,
		Top:    &top,
	})

	var out []Record
	for pager.More() && len(out) < limit {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list entities: %w", err)
		}
		for _, raw := range page.Entities {
			rec, err := decodeEntity(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (b *aztablesBackend) Insert(ctx context.Context, rec Record) error {
	entity, err := encodeEntity(rec)
	if err != nil {
		return err
	}
	_, err = b.client.AddEntity(ctx, entity, nil)
	if err != nil {
		return fmt.Errorf("add entity: %w", err)
	}
	return nil
}

func (b *aztablesBackend) Get(ctx context.Context, partitionKey, rowKey string) (Record, error) {
	resp, err := b.client.GetEntity(ctx, partitionKey, rowKey, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get entity: %w", err)
	}

	rec, err := decodeEntity(resp.Value)
	if err != nil {
		return Record{}, err
	}
	rec.ETag = string(resp.ETag)
	return rec, nil
}

func (b *aztablesBackend) Merge(ctx context.Context, rec Record) error {
	entity, err := encodeEntity(rec)
	if err != nil {
		return err
	}

	_, err = b.client.UpdateEntity(ctx, entity, &aztables.UpdateEntityOptions{
		UpdateMode: aztables.UpdateModeMerge,
		IfMatch:    toETagPtr(rec.ETag),
	})
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusPreconditionFailed {
			return ErrConflict
		}
		return fmt.Errorf("merge entity: %w", err)
	}
	return nil
}

func toETagPtr(etag string) *azcore.ETag {
	e := azcore.ETag(etag)
	return &e
}

func encodeEntity(rec Record) ([]byte, error) {
	row := tableRow{
		Resource:    rec.Resource,
		Scope:       rec.Scope,
		CreatedAt:   rec.CreatedAt.Format(timeLayout),
		ExpiresAt:   rec.ExpiresAt.Format(timeLayout),
		CompletedAt: rec.CompletedAt.Format(timeLayout),
	}

	entity := aztables.EDMEntity{
		Entity: aztables.Entity{
			PartitionKey: rec.PartitionKey,
			RowKey:       rec.RowKey,
		},
		Properties: map[string]any{
			"Resource":    row.Resource,
			"Scope":       row.Scope,
			"CreatedAt":   row.CreatedAt,
			"ExpiresAt":   row.ExpiresAt,
			"CompletedAt": row.CompletedAt,
		},
	}

	return json.Marshal(entity)
}

func decodeEntity(raw []byte) (Record, error) {
	var entity aztables.EDMEntity
	if err := json.Unmarshal(raw, &entity); err != nil {
		return Record{}, fmt.Errorf("decode entity: %w", err)
	}

	rec := Record{
		PartitionKey: entity.PartitionKey,
		RowKey:       entity.RowKey,
	}

	if v, ok := entity.Properties["Resource"].(string); ok {
		rec.Resource = v
	}
	if v, ok := entity.Properties["Scope"].(string); ok {
		rec.Scope = v
	}

	var err error
	if rec.CreatedAt, err = parseTimeProperty(entity.Properties["CreatedAt"]); err != nil {
		return Record{}, fmt.Errorf("decode createdAt: %w", err)
	}
	if rec.ExpiresAt, err = parseTimeProperty(entity.Properties["ExpiresAt"]); err != nil {
		return Record{}, fmt.Errorf("decode expiresAt: %w", err)
	}
	if rec.CompletedAt, err = parseTimeProperty(entity.Properties["CompletedAt"]); err != nil {
		return Record{}, fmt.Errorf("decode completedAt: %w", err)
	}

	return rec, nil
}

func parseTimeProperty(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("expected string timestamp, got %T", v)
	}
	return time.Parse(timeLayout, s)
}

// escapeODataLiteral escapes single quotes in an OData string literal the
// way every aztables/tablestorage filter expression must.
func escapeODataLiteral(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
