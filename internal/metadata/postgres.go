package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore reads QueryDefinition/ConnectorConfig rows directly
// from a Postgres database, for local development and integration
// tests where standing up a Supabase project isn't practical. Schema
// is managed with golang-migrate over a pgxpool connection pool, the
// same pattern bunbase's other services use for their own Postgres
// stores.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, running migrations from
// migrationsPath first if given.
func NewPostgresStore(ctx context.Context, dsn, migrationsPath string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if migrationsPath != "" {
		m, err := migrate.New("file://"+migrationsPath, dsn)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("create migration instance: %w", err)
		}
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			pool.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Query(ctx context.Context, id string) (*QueryDefinition, error) {
	var q QueryDefinition
	row := s.pool.QueryRow(ctx,
		`SELECT id, connector_id, name, content, created_at, updated_at FROM queries WHERE id = $1`, id)
	if err := row.Scan(&q.ID, &q.ConnectorID, &q.Name, &q.Content, &q.CreatedAt, &q.UpdatedAt); err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query lookup: %w", err)
	}
	return &q, nil
}

func (s *PostgresStore) Connector(ctx context.Context, id string) (*ConnectorConfig, error) {
	var c ConnectorConfig
	row := s.pool.QueryRow(ctx,
		`SELECT id, type, name, config FROM connectors WHERE id = $1`, id)
	if err := row.Scan(&c.ID, &c.Type, &c.Name, &c.Config); err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("connector lookup: %w", err)
	}
	return &c, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
