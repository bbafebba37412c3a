package mutation

import (
	"context"
	"fmt"
	"time"

	"github.com/example/fintrack/internal/container"
)

// TxRunner scopes a function to one transactional unit of work. Store
// implementations place their transaction handle in the context and their
// repositories pick it up from there, so the audit write, the balance
// change and the container save commit or roll back together.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service applies a mutation command to a container as one unit of work
// covering the audit entry, the strategy dispatch and the container persist.
// It performs no idempotency check of its own; calling Apply twice applies
// twice. At-most-once application is the completion handler's
// FinanciallyApplied guard.
type Service struct {
	registry   *Registry
	containers container.Repository
	audits     AuditRepository
	tx         TxRunner
}

// NewService wires a mutation service.
func NewService(registry *Registry, containers container.Repository, audits AuditRepository, tx TxRunner) *Service {
	return &Service{
		registry:   registry,
		containers: containers,
		audits:     audits,
		tx:         tx,
	}
}

// Apply records an adjustment capturing cmd verbatim, applies the matching
// strategy to c and persists the container with a fresh last-activity time.
// On any failure the container is left untouched in memory and nothing is
// committed.
func (s *Service) Apply(ctx context.Context, c *container.Container, cmd Command) (*Adjustment, error) {
	strategy, err := s.registry.Resolve(c)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, c, cmd, cmd.Kind, func() error {
		return strategy.Apply(c, cmd)
	})
}

// ApplySettlement is the payment path for liability containers. The
// container's strategy must expose the settlement entry point; anything
// else is a wiring defect.
func (s *Service) ApplySettlement(ctx context.Context, c *container.Container, cmd Command) (*Adjustment, error) {
	strategy, err := s.registry.Resolve(c)
	if err != nil {
		return nil, err
	}
	settler, ok := strategy.(Settler)
	if !ok {
		return nil, &ConfigurationError{ContainerType: c.Type, Claims: 0}
	}
	return s.run(ctx, c, cmd, KindPayment, func() error {
		return settler.ApplyPayment(c, cmd)
	})
}

// Reverse undoes a previously applied command. The recorded audit entry
// carries the inverted kind so the signed sums of the original and the
// reversal cancel; the balance change is the strategy's algebraic inverse
// of the original command, never inferred from the current value.
func (s *Service) Reverse(ctx context.Context, c *container.Container, cmd Command) (*Adjustment, error) {
	strategy, err := s.registry.Resolve(c)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, c, cmd, invertKind(cmd.Kind), func() error {
		return strategy.Reverse(c, cmd)
	})
}

func (s *Service) run(ctx context.Context, c *container.Container, cmd Command, auditKind Kind, mutate func() error) (*Adjustment, error) {
	snapshot := *c
	auditCmd := cmd
	auditCmd.Kind = auditKind
	adj := NewAdjustment(c.ID, auditCmd)

	err := s.tx.InTx(ctx, func(txCtx context.Context) error {
		if err := s.audits.Save(txCtx, adj); err != nil {
			return fmt.Errorf("failed to write adjustment: %w", err)
		}
		if err := mutate(); err != nil {
			return err
		}
		c.LastActivityAt = time.Now().UTC()
		if err := s.containers.Save(txCtx, c); err != nil {
			return fmt.Errorf("failed to persist container: %w", err)
		}
		return nil
	})
	if err != nil {
		*c = snapshot
		return nil, err
	}
	return adj, nil
}

// ReversalReason maps an original reason to its reversal counterpart.
func ReversalReason(r Reason) Reason {
	switch r {
	case ReasonExpense:
		return ReasonExpenseReversal
	case ReasonIncome:
		return ReasonIncomeReversal
	default:
		return ReasonReversal
	}
}
