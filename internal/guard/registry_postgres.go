package guard

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresSchemaStore persists tool schemas in Postgres so registrations
// survive restarts and are shared across replicas. It reuses the vault's
// connection pool.
type PostgresSchemaStore struct {
	db *sql.DB
}

// NewPostgresSchemaStore creates a store over an existing connection pool.
func NewPostgresSchemaStore(db *sql.DB) *PostgresSchemaStore {
	return &PostgresSchemaStore{db: db}
}

// EnsureSchema creates the tool schema table if absent.
func (s *PostgresSchemaStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS cloak_tool_schemas (
    tool_name  TEXT PRIMARY KEY,
    arg_keys   JSONB NOT NULL DEFAULT '[]',
    endpoint   TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("tool schema table: %w", err)
	}
	return nil
}

func (s *PostgresSchemaStore) LookupTool(ctx context.Context, name string) (*ToolSchema, error) {
	var argKeys []byte
	schema := ToolSchema{Name: name}
	err := s.db.QueryRowContext(ctx,
		`SELECT arg_keys, endpoint FROM cloak_tool_schemas WHERE tool_name = $1`,
		name,
	).Scan(&argKeys, &schema.Endpoint)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup tool %s: %w", name, err)
	}
	if err := json.Unmarshal(argKeys, &schema.ArgKeys); err != nil {
		return nil, fmt.Errorf("lookup tool %s: arg_keys: %w", name, err)
	}
	return &schema, nil
}

func (s *PostgresSchemaStore) SaveTool(ctx context.Context, schema ToolSchema) error {
	argKeys, err := json.Marshal(schema.ArgKeys)
	if err != nil {
		return fmt.Errorf("save tool %s: %w", schema.Name, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO cloak_tool_schemas (tool_name, arg_keys, endpoint, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (tool_name) DO UPDATE
		    SET arg_keys = EXCLUDED.arg_keys,
		        endpoint = EXCLUDED.endpoint,
		        updated_at = now()`,
		schema.Name, argKeys, schema.Endpoint,
	); err != nil {
		return fmt.Errorf("save tool %s: %w", schema.Name, err)
	}
	return nil
}

func (s *PostgresSchemaStore) ListTools(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool_name FROM cloak_tool_schemas ORDER BY tool_name`,
	)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	return names, nil
}

var _ SchemaStore = (*PostgresSchemaStore)(nil)
