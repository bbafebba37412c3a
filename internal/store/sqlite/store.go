// Package sqlite persists the tracker in a local sqlite database. The chat
// binary uses it so a personal ledger works offline with no services.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/example/fintrack/internal/container"
	"github.com/example/fintrack/internal/fact"
	"github.com/example/fintrack/internal/mutation"
)

const schema = `
CREATE TABLE IF NOT EXISTS containers (
    id TEXT PRIMARY KEY,
    owner_type TEXT NOT NULL,
    owner_id TEXT NOT NULL,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    status TEXT NOT NULL,
    current_value TEXT NOT NULL,
    available_value TEXT NOT NULL,
    capacity_limit TEXT,
    unit TEXT NOT NULL DEFAULT '',
    over_limit INTEGER NOT NULL DEFAULT 0,
    over_limit_amount TEXT NOT NULL DEFAULT '0',
    last_activity_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    details TEXT
);

CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    owner_type TEXT NOT NULL,
    owner_id TEXT NOT NULL,
    type TEXT NOT NULL,
    amount TEXT NOT NULL,
    quantity TEXT,
    unit TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL,
    subcategory TEXT NOT NULL DEFAULT '',
    merchant TEXT NOT NULL DEFAULT '',
    tags TEXT,
    occurred_at TIMESTAMP NOT NULL,
    raw_text TEXT NOT NULL DEFAULT '',
    source_container_id TEXT,
    target_container_id TEXT,
    completeness TEXT NOT NULL,
    financially_applied INTEGER NOT NULL DEFAULT 0,
    needs_enrichment INTEGER NOT NULL DEFAULT 0,
    details TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS adjustments (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    container_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    amount TEXT NOT NULL,
    reason TEXT NOT NULL,
    occurred_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_adjustments_txn ON adjustments(transaction_id);
CREATE INDEX IF NOT EXISTS idx_adjustments_container ON adjustments(container_id);
`

// Store wraps a sqlite database and exposes the three repositories plus the
// transactional runner. Sqlite is single-writer, which is exactly the
// serialization the mutation path needs.
type Store struct {
	db *sql.DB
}

// Open opens (and initializes) a sqlite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Containers returns the container repository.
func (s *Store) Containers() container.Repository { return &containerRepo{s} }

// Transactions returns the transaction repository.
func (s *Store) Transactions() fact.Repository { return &transactionRepo{s} }

// Adjustments returns the audit repository.
func (s *Store) Adjustments() mutation.AuditRepository { return &adjustmentRepo{s} }

type txKey struct{}

// InTx runs fn inside one database transaction. Repositories called with
// the derived context write through that transaction, so the audit entry,
// the balance change and the container row commit together or not at all.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// executor is satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) exec(ctx context.Context) executor {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

type containerRepo struct{ s *Store }

const containerColumns = `id, owner_type, owner_id, name, type, status, current_value, available_value,
	capacity_limit, unit, over_limit, over_limit_amount, last_activity_at, created_at, details`

func (r *containerRepo) FindByID(ctx context.Context, id string) (*container.Container, error) {
	row := r.s.exec(ctx).QueryRowContext(ctx,
		`SELECT `+containerColumns+` FROM containers WHERE id = ?`, id)
	c, err := scanContainer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &container.NotFoundError{ID: id}
	}
	return c, err
}

func (r *containerRepo) FindActiveByOwner(ctx context.Context, owner container.Owner) ([]*container.Container, error) {
	rows, err := r.s.exec(ctx).QueryContext(ctx,
		`SELECT `+containerColumns+` FROM containers WHERE owner_type = ? AND owner_id = ? AND status = ?`,
		owner.Type, owner.ID, container.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query containers: %w", err)
	}
	defer rows.Close()
	return collectContainers(rows)
}

func (r *containerRepo) FindActiveByOwnerAndType(ctx context.Context, owner container.Owner, typ container.Type) ([]*container.Container, error) {
	rows, err := r.s.exec(ctx).QueryContext(ctx,
		`SELECT `+containerColumns+` FROM containers WHERE owner_type = ? AND owner_id = ? AND type = ? AND status = ?`,
		owner.Type, owner.ID, typ, container.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query containers: %w", err)
	}
	defer rows.Close()
	return collectContainers(rows)
}

func (r *containerRepo) FindAssetByName(ctx context.Context, owner container.Owner, name string) (*container.Container, error) {
	row := r.s.exec(ctx).QueryRowContext(ctx,
		`SELECT `+containerColumns+` FROM containers
		 WHERE owner_type = ? AND owner_id = ? AND type = ? AND name = ? COLLATE NOCASE`,
		owner.Type, owner.ID, container.TypeAsset, name)
	c, err := scanContainer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (r *containerRepo) Save(ctx context.Context, c *container.Container) error {
	details, err := encodeJSON(c.Details)
	if err != nil {
		return err
	}
	var limit any
	if c.CapacityLimit != nil {
		limit = c.CapacityLimit.String()
	}
	_, err = r.s.exec(ctx).ExecContext(ctx, `
		INSERT INTO containers (`+containerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			current_value = excluded.current_value,
			available_value = excluded.available_value,
			capacity_limit = excluded.capacity_limit,
			unit = excluded.unit,
			over_limit = excluded.over_limit,
			over_limit_amount = excluded.over_limit_amount,
			last_activity_at = excluded.last_activity_at,
			details = excluded.details
	`, c.ID, c.Owner.Type, c.Owner.ID, c.Name, c.Type, c.Status,
		c.CurrentValue.String(), c.AvailableValue.String(), limit, c.Unit,
		c.OverLimit, c.OverLimitAmt.String(), c.LastActivityAt, c.CreatedAt, details)
	if err != nil {
		return fmt.Errorf("failed to save container: %w", err)
	}
	return nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanContainer(row rowScanner) (*container.Container, error) {
	var c container.Container
	var current, available, overLimitAmt string
	var limit, details sql.NullString
	err := row.Scan(&c.ID, &c.Owner.Type, &c.Owner.ID, &c.Name, &c.Type, &c.Status,
		&current, &available, &limit, &c.Unit, &c.OverLimit, &overLimitAmt,
		&c.LastActivityAt, &c.CreatedAt, &details)
	if err != nil {
		return nil, err
	}
	if c.CurrentValue, err = decimal.NewFromString(current); err != nil {
		return nil, fmt.Errorf("bad current_value: %w", err)
	}
	if c.AvailableValue, err = decimal.NewFromString(available); err != nil {
		return nil, fmt.Errorf("bad available_value: %w", err)
	}
	if c.OverLimitAmt, err = decimal.NewFromString(overLimitAmt); err != nil {
		return nil, fmt.Errorf("bad over_limit_amount: %w", err)
	}
	if limit.Valid {
		parsed, err := decimal.NewFromString(limit.String)
		if err != nil {
			return nil, fmt.Errorf("bad capacity_limit: %w", err)
		}
		c.CapacityLimit = &parsed
	}
	if err := decodeJSON(details, &c.Details); err != nil {
		return nil, err
	}
	return &c, nil
}

func collectContainers(rows *sql.Rows) ([]*container.Container, error) {
	var out []*container.Container
	for rows.Next() {
		c, err := scanContainer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type transactionRepo struct{ s *Store }

const transactionColumns = `id, owner_type, owner_id, type, amount, quantity, unit, category, subcategory,
	merchant, tags, occurred_at, raw_text, source_container_id, target_container_id,
	completeness, financially_applied, needs_enrichment, details, created_at, updated_at`

func (r *transactionRepo) FindByID(ctx context.Context, id string) (*fact.Transaction, error) {
	row := r.s.exec(ctx).QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (r *transactionRepo) Save(ctx context.Context, t *fact.Transaction) error {
	tags, err := encodeJSON(t.Tags)
	if err != nil {
		return err
	}
	details, err := encodeJSON(t.Details)
	if err != nil {
		return err
	}
	var quantity any
	if t.Quantity != nil {
		quantity = t.Quantity.String()
	}
	_, err = r.s.exec(ctx).ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			amount = excluded.amount,
			quantity = excluded.quantity,
			unit = excluded.unit,
			category = excluded.category,
			subcategory = excluded.subcategory,
			merchant = excluded.merchant,
			tags = excluded.tags,
			occurred_at = excluded.occurred_at,
			source_container_id = excluded.source_container_id,
			target_container_id = excluded.target_container_id,
			completeness = excluded.completeness,
			financially_applied = excluded.financially_applied,
			needs_enrichment = excluded.needs_enrichment,
			details = excluded.details,
			updated_at = excluded.updated_at
	`, t.ID, t.Owner.Type, t.Owner.ID, t.Type, t.Amount.String(), quantity, t.Unit,
		t.Category, t.Subcategory, t.Merchant, tags, t.OccurredAt, t.RawText,
		t.SourceContainerID, t.TargetContainerID, t.Completeness,
		t.FinanciallyApplied, t.NeedsEnrichment, details, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

func scanTransaction(row rowScanner) (*fact.Transaction, error) {
	var t fact.Transaction
	var amount string
	var quantity, tags, details, sourceID, targetID sql.NullString
	err := row.Scan(&t.ID, &t.Owner.Type, &t.Owner.ID, &t.Type, &amount, &quantity, &t.Unit,
		&t.Category, &t.Subcategory, &t.Merchant, &tags, &t.OccurredAt, &t.RawText,
		&sourceID, &targetID, &t.Completeness, &t.FinanciallyApplied, &t.NeedsEnrichment,
		&details, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("bad amount: %w", err)
	}
	if quantity.Valid {
		parsed, err := decimal.NewFromString(quantity.String)
		if err != nil {
			return nil, fmt.Errorf("bad quantity: %w", err)
		}
		t.Quantity = &parsed
	}
	if sourceID.Valid {
		t.SourceContainerID = &sourceID.String
	}
	if targetID.Valid {
		t.TargetContainerID = &targetID.String
	}
	if err := decodeJSON(tags, &t.Tags); err != nil {
		return nil, err
	}
	if err := decodeJSON(details, &t.Details); err != nil {
		return nil, err
	}
	return &t, nil
}

type adjustmentRepo struct{ s *Store }

func (r *adjustmentRepo) Save(ctx context.Context, a *mutation.Adjustment) error {
	_, err := r.s.exec(ctx).ExecContext(ctx, `
		INSERT INTO adjustments (id, transaction_id, container_id, kind, amount, reason, occurred_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.TransactionID, a.ContainerID, a.Kind, a.Amount.String(), a.Reason, a.OccurredAt, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save adjustment: %w", err)
	}
	return nil
}

func (r *adjustmentRepo) FindByTransaction(ctx context.Context, transactionID string) ([]*mutation.Adjustment, error) {
	return r.find(ctx, `transaction_id = ?`, transactionID)
}

func (r *adjustmentRepo) FindByContainer(ctx context.Context, containerID string) ([]*mutation.Adjustment, error) {
	return r.find(ctx, `container_id = ?`, containerID)
}

func (r *adjustmentRepo) find(ctx context.Context, where string, arg any) ([]*mutation.Adjustment, error) {
	rows, err := r.s.exec(ctx).QueryContext(ctx, `
		SELECT id, transaction_id, container_id, kind, amount, reason, occurred_at, created_at
		FROM adjustments WHERE `+where+` ORDER BY created_at, id`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query adjustments: %w", err)
	}
	defer rows.Close()

	var out []*mutation.Adjustment
	for rows.Next() {
		var a mutation.Adjustment
		var amount string
		if err := rows.Scan(&a.ID, &a.TransactionID, &a.ContainerID, &a.Kind, &amount, &a.Reason, &a.OccurredAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		if a.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("bad amount: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func encodeJSON(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json column: %w", err)
	}
	return string(raw), nil
}

func decodeJSON(col sql.NullString, dst any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), dst); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}
	return nil
}
