package metadata

import (
	"context"
	"encoding/json"
	"fmt"

	supa "github.com/supabase-community/supabase-go"
)

// SupabaseStore reads QueryDefinition/ConnectorConfig rows from a
// Supabase project's `queries` and `connectors` tables via PostgREST.
type SupabaseStore struct {
	client *supa.Client
}

// NewSupabaseStore builds a client against the given project URL and
// service-role key.
func NewSupabaseStore(url, key string) (*SupabaseStore, error) {
	client, err := supa.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("initialize supabase client: %w", err)
	}
	return &SupabaseStore{client: client}, nil
}

func (s *SupabaseStore) Query(ctx context.Context, id string) (*QueryDefinition, error) {
	var rows []QueryDefinition
	resp, _, err := s.client.From("queries").Select("*", "exact", false).Eq("id", id).Execute()
	if err != nil {
		return nil, fmt.Errorf("fetch query: %w", err)
	}
	if err := json.Unmarshal(resp, &rows); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

func (s *SupabaseStore) Connector(ctx context.Context, id string) (*ConnectorConfig, error) {
	var rows []ConnectorConfig
	resp, _, err := s.client.From("connectors").Select("*", "exact", false).Eq("id", id).Execute()
	if err != nil {
		return nil, fmt.Errorf("fetch connector: %w", err)
	}
	if err := json.Unmarshal(resp, &rows); err != nil {
		return nil, fmt.Errorf("decode connector response: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}
