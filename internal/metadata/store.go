// Package metadata implements the two read-only point lookups the
// resolver depends on: fetching a QueryDefinition by ID and a
// ConnectorConfig by ID. Two implementations exist behind the Store
// interface: a Supabase-backed one (the default, using
// supabase_url/supabase_key config keys) and a direct Postgres one for
// local development, selected by config.MetadataBackend.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by Query/Connector when no row matches id.
var ErrNotFound = errors.New("metadata: not found")

// QueryDefinition is the persisted query record.
type QueryDefinition struct {
	ID          string    `json:"id"`
	ConnectorID string    `json:"connector_id"`
	Name        string    `json:"name"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ConnectorConfig is the persisted connector record. The Config field
// is opaque and interpreted only by the matching driver factory
// (internal/driver.New).
type ConnectorConfig struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Name   string          `json:"name"`
	Config json.RawMessage `json:"config"`
}

// Store is the metadata store's read-only contract. Both
// implementations are safe for concurrent use; the resolver calls them
// concurrently across tasks.
type Store interface {
	Query(ctx context.Context, id string) (*QueryDefinition, error)
	Connector(ctx context.Context, id string) (*ConnectorConfig, error)
}
