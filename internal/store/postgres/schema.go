package postgres

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS containers (
    id UUID PRIMARY KEY,
    owner_type TEXT NOT NULL,
    owner_id TEXT NOT NULL,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    status TEXT NOT NULL,
    current_value NUMERIC(20, 8) NOT NULL,
    available_value NUMERIC(20, 8) NOT NULL,
    capacity_limit NUMERIC(20, 8),
    unit TEXT NOT NULL DEFAULT '',
    over_limit BOOLEAN NOT NULL DEFAULT FALSE,
    over_limit_amount NUMERIC(20, 8) NOT NULL DEFAULT 0,
    last_activity_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    details JSONB
);

CREATE INDEX IF NOT EXISTS idx_containers_owner ON containers(owner_type, owner_id, type, status);

CREATE TABLE IF NOT EXISTS transactions (
    id UUID PRIMARY KEY,
    owner_type TEXT NOT NULL,
    owner_id TEXT NOT NULL,
    type TEXT NOT NULL,
    amount NUMERIC(20, 8) NOT NULL,
    quantity NUMERIC(20, 8),
    unit TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL,
    subcategory TEXT NOT NULL DEFAULT '',
    merchant TEXT NOT NULL DEFAULT '',
    tags JSONB,
    occurred_at TIMESTAMPTZ NOT NULL,
    raw_text TEXT NOT NULL DEFAULT '',
    source_container_id UUID REFERENCES containers(id),
    target_container_id UUID REFERENCES containers(id),
    completeness TEXT NOT NULL,
    financially_applied BOOLEAN NOT NULL DEFAULT FALSE,
    needs_enrichment BOOLEAN NOT NULL DEFAULT FALSE,
    details JSONB,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS adjustments (
    id UUID PRIMARY KEY,
    transaction_id UUID NOT NULL REFERENCES transactions(id),
    container_id UUID NOT NULL REFERENCES containers(id),
    kind TEXT NOT NULL,
    amount NUMERIC(20, 8) NOT NULL,
    reason TEXT NOT NULL,
    occurred_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_adjustments_txn ON adjustments(transaction_id);
CREATE INDEX IF NOT EXISTS idx_adjustments_container ON adjustments(container_id);
`

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
