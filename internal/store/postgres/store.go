// Package postgres persists the tracker in PostgreSQL via pgx. The
// mutation unit of work runs under SERIALIZABLE isolation with a retry on
// serialization failure, so interleaved read-modify-write on a container's
// balance cannot lose an update.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/example/fintrack/internal/container"
	"github.com/example/fintrack/internal/fact"
	"github.com/example/fintrack/internal/mutation"
)

// Store wraps a pgx pool and exposes the repositories plus the
// transactional runner.
type Store struct {
	Pool *pgxpool.Pool
}

// NewStore creates a store over an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// Containers returns the container repository.
func (s *Store) Containers() container.Repository { return &containerRepo{s} }

// Transactions returns the transaction repository.
func (s *Store) Transactions() fact.Repository { return &transactionRepo{s} }

// Adjustments returns the audit repository.
func (s *Store) Adjustments() mutation.AuditRepository { return &adjustmentRepo{s} }

type txKey struct{}

// InTx runs fn inside one SERIALIZABLE transaction, retrying up to three
// times on serialization failure (SQLSTATE 40001).
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	const maxRetries = 3

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "40001" {
			time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
			continue
		}
		return err
	}
	return fmt.Errorf("unit of work failed after %d retries due to serialization failure: %w", maxRetries, err)
}

func (s *Store) runOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	conn, err := s.Pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// querier is satisfied by both the pool and a pgx transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.Pool
}

type containerRepo struct{ s *Store }

const containerColumns = `id, owner_type, owner_id, name, type, status, current_value, available_value,
	capacity_limit, unit, over_limit, over_limit_amount, last_activity_at, created_at, details`

func (r *containerRepo) FindByID(ctx context.Context, id string) (*container.Container, error) {
	row := r.s.q(ctx).QueryRow(ctx,
		`SELECT `+containerColumns+` FROM containers WHERE id = $1`, id)
	c, err := scanContainer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &container.NotFoundError{ID: id}
	}
	return c, err
}

func (r *containerRepo) FindActiveByOwner(ctx context.Context, owner container.Owner) ([]*container.Container, error) {
	rows, err := r.s.q(ctx).Query(ctx,
		`SELECT `+containerColumns+` FROM containers WHERE owner_type = $1 AND owner_id = $2 AND status = $3`,
		owner.Type, owner.ID, container.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query containers: %w", err)
	}
	defer rows.Close()
	return collectContainers(rows)
}

func (r *containerRepo) FindActiveByOwnerAndType(ctx context.Context, owner container.Owner, typ container.Type) ([]*container.Container, error) {
	rows, err := r.s.q(ctx).Query(ctx,
		`SELECT `+containerColumns+` FROM containers
		 WHERE owner_type = $1 AND owner_id = $2 AND type = $3 AND status = $4`,
		owner.Type, owner.ID, typ, container.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query containers: %w", err)
	}
	defer rows.Close()
	return collectContainers(rows)
}

func (r *containerRepo) FindAssetByName(ctx context.Context, owner container.Owner, name string) (*container.Container, error) {
	row := r.s.q(ctx).QueryRow(ctx,
		`SELECT `+containerColumns+` FROM containers
		 WHERE owner_type = $1 AND owner_id = $2 AND type = $3 AND lower(name) = lower($4)`,
		owner.Type, owner.ID, container.TypeAsset, name)
	c, err := scanContainer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (r *containerRepo) Save(ctx context.Context, c *container.Container) error {
	details, err := encodeJSON(c.Details)
	if err != nil {
		return err
	}
	var limit *string
	if c.CapacityLimit != nil {
		s := c.CapacityLimit.String()
		limit = &s
	}
	_, err = r.s.q(ctx).Exec(ctx, `
		INSERT INTO containers (`+containerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			current_value = EXCLUDED.current_value,
			available_value = EXCLUDED.available_value,
			capacity_limit = EXCLUDED.capacity_limit,
			unit = EXCLUDED.unit,
			over_limit = EXCLUDED.over_limit,
			over_limit_amount = EXCLUDED.over_limit_amount,
			last_activity_at = EXCLUDED.last_activity_at,
			details = EXCLUDED.details
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
	var limit, details *string
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
	if limit != nil {
		parsed, err := decimal.NewFromString(*limit)
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

func collectContainers(rows pgx.Rows) ([]*container.Container, error) {
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
	row := r.s.q(ctx).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
	var quantity *string
	if t.Quantity != nil {
		s := t.Quantity.String()
		quantity = &s
	}
	_, err = r.s.q(ctx).Exec(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			amount = EXCLUDED.amount,
			quantity = EXCLUDED.quantity,
			unit = EXCLUDED.unit,
			category = EXCLUDED.category,
			subcategory = EXCLUDED.subcategory,
			merchant = EXCLUDED.merchant,
			tags = EXCLUDED.tags,
			occurred_at = EXCLUDED.occurred_at,
			source_container_id = EXCLUDED.source_container_id,
			target_container_id = EXCLUDED.target_container_id,
			completeness = EXCLUDED.completeness,
			financially_applied = EXCLUDED.financially_applied,
			needs_enrichment = EXCLUDED.needs_enrichment,
			details = EXCLUDED.details,
			updated_at = EXCLUDED.updated_at
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
	var quantity, tags, details *string
	err := row.Scan(&t.ID, &t.Owner.Type, &t.Owner.ID, &t.Type, &amount, &quantity, &t.Unit,
		&t.Category, &t.Subcategory, &t.Merchant, &tags, &t.OccurredAt, &t.RawText,
		&t.SourceContainerID, &t.TargetContainerID, &t.Completeness,
		&t.FinanciallyApplied, &t.NeedsEnrichment, &details, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("bad amount: %w", err)
	}
	if quantity != nil {
		parsed, err := decimal.NewFromString(*quantity)
		if err != nil {
			return nil, fmt.Errorf("bad quantity: %w", err)
		}
		t.Quantity = &parsed
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
	_, err := r.s.q(ctx).Exec(ctx, `
		INSERT INTO adjustments (id, transaction_id, container_id, kind, amount, reason, occurred_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.TransactionID, a.ContainerID, a.Kind, a.Amount.String(), a.Reason, a.OccurredAt, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save adjustment: %w", err)
	}
	return nil
}

func (r *adjustmentRepo) FindByTransaction(ctx context.Context, transactionID string) ([]*mutation.Adjustment, error) {
	return r.find(ctx, `transaction_id = $1`, transactionID)
}

func (r *adjustmentRepo) FindByContainer(ctx context.Context, containerID string) ([]*mutation.Adjustment, error) {
	return r.find(ctx, `container_id = $1`, containerID)
}

func (r *adjustmentRepo) find(ctx context.Context, where string, arg any) ([]*mutation.Adjustment, error) {
	rows, err := r.s.q(ctx).Query(ctx, `
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

func encodeJSON(v any) (*string, error) {
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
	s := string(raw)
	return &s, nil
}

func decodeJSON(col *string, dst any) error {
	if col == nil || *col == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(*col), dst); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}
	return nil
}
