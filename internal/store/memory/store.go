// Package memory provides in-process implementations of the persistence
// interfaces. The chat binary uses it when no database is configured, and
// the test suites use it as the reference store.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/example/fintrack/internal/container"
	"github.com/example/fintrack/internal/fact"
	"github.com/example/fintrack/internal/mutation"
)

// Store holds all three repositories behind one mutex so a unit of work can
// snapshot and restore the whole state on failure.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	containers   map[string]*container.Container
	transactions map[string]*fact.Transaction
	adjustments  []*mutation.Adjustment
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		containers:   make(map[string]*container.Container),
		transactions: make(map[string]*fact.Transaction),
	}
}

// Containers returns the container repository view of the store.
func (s *Store) Containers() container.Repository { return &containerRepo{s} }

// Transactions returns the transaction repository view of the store.
func (s *Store) Transactions() fact.Repository { return &transactionRepo{s} }

// Adjustments returns the audit repository view of the store.
func (s *Store) Adjustments() mutation.AuditRepository { return &adjustmentRepo{s} }

// InTx serializes units of work and rolls the whole store back when fn
// fails, so a failed mutation never leaves an orphaned adjustment behind.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapContainers := make(map[string]*container.Container, len(s.containers))
	for k, v := range s.containers {
		snapContainers[k] = v
	}
	snapTransactions := make(map[string]*fact.Transaction, len(s.transactions))
	for k, v := range s.transactions {
		snapTransactions[k] = v
	}
	snapAdjustments := append([]*mutation.Adjustment(nil), s.adjustments...)
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.containers = snapContainers
		s.transactions = snapTransactions
		s.adjustments = snapAdjustments
		s.mu.Unlock()
		return err
	}
	return nil
}

type containerRepo struct{ s *Store }

func (r *containerRepo) FindByID(ctx context.Context, id string) (*container.Container, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.containers[id]
	if !ok {
		return nil, &container.NotFoundError{ID: id}
	}
	return cloneContainer(c), nil
}

func (r *containerRepo) FindActiveByOwner(ctx context.Context, owner container.Owner) ([]*container.Container, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*container.Container
	for _, c := range r.s.containers {
		if c.Owner == owner && c.Status == container.StatusActive {
			out = append(out, cloneContainer(c))
		}
	}
	return out, nil
}

func (r *containerRepo) FindActiveByOwnerAndType(ctx context.Context, owner container.Owner, typ container.Type) ([]*container.Container, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*container.Container
	for _, c := range r.s.containers {
		if c.Owner == owner && c.Type == typ && c.Status == container.StatusActive {
			out = append(out, cloneContainer(c))
		}
	}
	return out, nil
}

func (r *containerRepo) FindAssetByName(ctx context.Context, owner container.Owner, name string) (*container.Container, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.containers {
		if c.Owner == owner && c.Type == container.TypeAsset && strings.EqualFold(c.Name, name) {
			return cloneContainer(c), nil
		}
	}
	return nil, nil
}

func (r *containerRepo) Save(ctx context.Context, c *container.Container) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.containers[c.ID] = cloneContainer(c)
	return nil
}

type transactionRepo struct{ s *Store }

func (r *transactionRepo) FindByID(ctx context.Context, id string) (*fact.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.transactions[id]
	if !ok {
		return nil, nil
	}
	return cloneTransaction(t), nil
}

func (r *transactionRepo) Save(ctx context.Context, t *fact.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.transactions[t.ID] = cloneTransaction(t)
	return nil
}

type adjustmentRepo struct{ s *Store }

func (r *adjustmentRepo) Save(ctx context.Context, a *mutation.Adjustment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	clone := *a
	r.s.adjustments = append(r.s.adjustments, &clone)
	return nil
}

func (r *adjustmentRepo) FindByTransaction(ctx context.Context, transactionID string) ([]*mutation.Adjustment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*mutation.Adjustment
	for _, a := range r.s.adjustments {
		if a.TransactionID == transactionID {
			clone := *a
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *adjustmentRepo) FindByContainer(ctx context.Context, containerID string) ([]*mutation.Adjustment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*mutation.Adjustment
	for _, a := range r.s.adjustments {
		if a.ContainerID == containerID {
			clone := *a
			out = append(out, &clone)
		}
	}
	return out, nil
}

func cloneContainer(c *container.Container) *container.Container {
	clone := *c
	if c.CapacityLimit != nil {
		limit := *c.CapacityLimit
		clone.CapacityLimit = &limit
	}
	if c.Details != nil {
		clone.Details = make(map[string]any, len(c.Details))
		for k, v := range c.Details {
			clone.Details[k] = v
		}
	}
	return &clone
}

func cloneTransaction(t *fact.Transaction) *fact.Transaction {
	clone := *t
	if t.Quantity != nil {
		q := *t.Quantity
		clone.Quantity = &q
	}
	if t.SourceContainerID != nil {
		id := *t.SourceContainerID
		clone.SourceContainerID = &id
	}
	if t.TargetContainerID != nil {
		id := *t.TargetContainerID
		clone.TargetContainerID = &id
	}
	clone.Tags = append([]string(nil), t.Tags...)
	if t.Details != nil {
		clone.Details = make(map[string]any, len(t.Details))
		for k, v := range t.Details {
			clone.Details[k] = v
		}
	}
	return &clone
}
