package mutation

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fintrack/internal/container"
)

type recordingContainerRepo struct {
	saved   []*container.Container
	saveErr error
}

func (r *recordingContainerRepo) FindByID(ctx context.Context, id string) (*container.Container, error) {
	return nil, &container.NotFoundError{ID: id}
}

func (r *recordingContainerRepo) FindActiveByOwner(ctx context.Context, owner container.Owner) ([]*container.Container, error) {
	return nil, nil
}

func (r *recordingContainerRepo) FindActiveByOwnerAndType(ctx context.Context, owner container.Owner, typ container.Type) ([]*container.Container, error) {
	return nil, nil
}

func (r *recordingContainerRepo) FindAssetByName(ctx context.Context, owner container.Owner, name string) (*container.Container, error) {
	return nil, nil
}

func (r *recordingContainerRepo) Save(ctx context.Context, c *container.Container) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saved = append(r.saved, c)
	return nil
}

type recordingAuditRepo struct {
	entries []*Adjustment
	saveErr error
}

func (r *recordingAuditRepo) Save(ctx context.Context, a *Adjustment) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.entries = append(r.entries, a)
	return nil
}

func (r *recordingAuditRepo) FindByTransaction(ctx context.Context, transactionID string) ([]*Adjustment, error) {
	var out []*Adjustment
	for _, a := range r.entries {
		if a.TransactionID == transactionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *recordingAuditRepo) FindByContainer(ctx context.Context, containerID string) ([]*Adjustment, error) {
	var out []*Adjustment
	for _, a := range r.entries {
		if a.ContainerID == containerID {
			out = append(out, a)
		}
	}
	return out, nil
}

// passthroughTx runs the unit of work without real transaction semantics.
type passthroughTx struct{ calls int }

func (tx *passthroughTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx.calls++
	return fn(ctx)
}

func newTestService() (*Service, *recordingContainerRepo, *recordingAuditRepo, *passthroughTx) {
	containers := &recordingContainerRepo{}
	audits := &recordingAuditRepo{}
	tx := &passthroughTx{}
	return NewService(DefaultRegistry(), containers, audits, tx), containers, audits, tx
}

func TestApplyWritesAuditAndPersists(t *testing.T) {
	svc, containers, audits, tx := newTestService()
	owner := container.Owner{Type: "USER", ID: "u1"}
	c := container.New(owner, "Cash", container.TypeCash, "")
	c.CurrentValue = decimal.NewFromInt(100)

	adj, err := svc.Apply(context.Background(), c, cmd(KindDebit, "40"))
	require.NoError(t, err)

	assert.Equal(t, "60", c.CurrentValue.String())
	assert.Equal(t, 1, tx.calls)
	require.Len(t, audits.entries, 1)
	assert.Equal(t, adj.ID, audits.entries[0].ID)
	assert.Equal(t, KindDebit, adj.Kind)
	assert.Equal(t, c.ID, adj.ContainerID)
	require.Len(t, containers.saved, 1)
	assert.False(t, c.LastActivityAt.IsZero())
}

func TestApplyHasNoIdempotencyGuard(t *testing.T) {
	svc, _, audits, _ := newTestService()
	c := container.New(container.Owner{ID: "u1"}, "Cash", container.TypeCash, "")
	c.CurrentValue = decimal.NewFromInt(100)

	command := cmd(KindDebit, "40")
	_, err := svc.Apply(context.Background(), c, command)
	require.NoError(t, err)
	_, err = svc.Apply(context.Background(), c, command)
	require.NoError(t, err)

	assert.Equal(t, "20", c.CurrentValue.String(), "the service applies every call it is given")
	assert.Len(t, audits.entries, 2)
}

func TestApplyRestoresContainerOnPersistFailure(t *testing.T) {
	containers := &recordingContainerRepo{saveErr: errors.New("disk full")}
	svc := NewService(DefaultRegistry(), containers, &recordingAuditRepo{}, &passthroughTx{})
	c := container.New(container.Owner{ID: "u1"}, "Cash", container.TypeCash, "")
	c.CurrentValue = decimal.NewFromInt(100)

	_, err := svc.Apply(context.Background(), c, cmd(KindDebit, "40"))
	require.Error(t, err)
	assert.Equal(t, "100", c.CurrentValue.String(), "in-memory state rolls back with the unit of work")
}

func TestApplyRestoresContainerOnAuditFailure(t *testing.T) {
	audits := &recordingAuditRepo{saveErr: errors.New("append failed")}
	containers := &recordingContainerRepo{}
	svc := NewService(DefaultRegistry(), containers, audits, &passthroughTx{})
	c := container.New(container.Owner{ID: "u1"}, "Cash", container.TypeCash, "")
	c.CurrentValue = decimal.NewFromInt(100)

	_, err := svc.Apply(context.Background(), c, cmd(KindDebit, "40"))
	require.Error(t, err)
	assert.Equal(t, "100", c.CurrentValue.String())
	assert.Empty(t, containers.saved)
}

func TestApplySettlementRequiresSettler(t *testing.T) {
	svc, _, _, _ := newTestService()
	cash := container.New(container.Owner{ID: "u1"}, "Cash", container.TypeCash, "")

	_, err := svc.ApplySettlement(context.Background(), cash, cmd(KindPayment, "100"))
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestApplySettlementReducesLiability(t *testing.T) {
	svc, _, audits, _ := newTestService()
	loan := container.New(container.Owner{ID: "u1"}, "Car loan", container.TypeLoan, "")
	loan.CurrentValue = decimal.NewFromInt(5000)

	adj, err := svc.ApplySettlement(context.Background(), loan, cmd(KindCredit, "1200"))
	require.NoError(t, err)

	assert.Equal(t, "3800", loan.CurrentValue.String())
	assert.Equal(t, KindPayment, adj.Kind, "settlements are audited as PAYMENT regardless of the command kind")
	require.Len(t, audits.entries, 1)
}

func TestReverseInvertsAuditKindAndBalance(t *testing.T) {
	svc, _, audits, _ := newTestService()
	c := container.New(container.Owner{ID: "u1"}, "Cash", container.TypeCash, "")
	c.CurrentValue = decimal.NewFromInt(100)

	original := cmd(KindDebit, "40")
	_, err := svc.Apply(context.Background(), c, original)
	require.NoError(t, err)

	reversalCmd := original
	reversalCmd.Reason = ReversalReason(original.Reason)
	adj, err := svc.Reverse(context.Background(), c, reversalCmd)
	require.NoError(t, err)

	assert.Equal(t, "100", c.CurrentValue.String())
	assert.Equal(t, KindCredit, adj.Kind)
	assert.Equal(t, ReasonExpenseReversal, adj.Reason)

	var net decimal.Decimal
	for _, a := range audits.entries {
		net = net.Add(a.SignedAmount())
	}
	assert.True(t, net.IsZero(), "original and reversal entries cancel")
}

func TestReversalReasonMapping(t *testing.T) {
	assert.Equal(t, ReasonExpenseReversal, ReversalReason(ReasonExpense))
	assert.Equal(t, ReasonIncomeReversal, ReversalReason(ReasonIncome))
	assert.Equal(t, ReasonReversal, ReversalReason(ReasonTransferDebit))
	assert.Equal(t, ReasonReversal, ReversalReason(ReasonAssetBuy))
}
