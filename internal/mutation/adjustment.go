package mutation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind is the direction of a balance adjustment.
type Kind string

const (
	KindDebit   Kind = "DEBIT"
	KindCredit  Kind = "CREDIT"
	KindPayment Kind = "PAYMENT"
)

// Reason codes recorded on adjustments.
type Reason string

const (
	ReasonExpense          Reason = "EXPENSE"
	ReasonExpenseReversal  Reason = "EXPENSE_REVERSAL"
	ReasonIncome           Reason = "INCOME"
	ReasonIncomeReversal   Reason = "INCOME_REVERSAL"
	ReasonAssetBuy         Reason = "ASSET_BUY"
	ReasonAssetSell        Reason = "ASSET_SELL"
	ReasonTransferDebit    Reason = "TRANSFER_DEBIT"
	ReasonTransferCredit   Reason = "TRANSFER_CREDIT"
	ReasonLiabilityPayment Reason = "LIABILITY_PAYMENT"
	ReasonReversal         Reason = "REVERSAL"
)

// Command describes one signed balance change to apply to a container.
type Command struct {
	Amount        decimal.Decimal `json:"amount"`
	Kind          Kind            `json:"kind"`
	Reason        Reason          `json:"reason"`
	TransactionID string          `json:"transaction_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Adjustment is the immutable audit record of one applied command. Entries
// are never updated or deleted; corrections are new, opposite-signed
// entries.
type Adjustment struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transaction_id"`
	ContainerID   string          `json:"container_id"`
	Kind          Kind            `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        Reason          `json:"reason"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewAdjustment captures a command verbatim as an audit entry for the given
// container.
func NewAdjustment(containerID string, cmd Command) *Adjustment {
	return &Adjustment{
		ID:            uuid.NewString(),
		TransactionID: cmd.TransactionID,
		ContainerID:   containerID,
		Kind:          cmd.Kind,
		Amount:        cmd.Amount,
		Reason:        cmd.Reason,
		OccurredAt:    cmd.OccurredAt,
		CreatedAt:     time.Now().UTC(),
	}
}

// SignedAmount returns the entry's contribution to a transaction's net
// effect: credits and payments count positive, debits negative.
func (a *Adjustment) SignedAmount() decimal.Decimal {
	if a.Kind == KindDebit {
		return a.Amount.Neg()
	}
	return a.Amount
}

// AuditRepository is the append-only persistence boundary for adjustments.
type AuditRepository interface {
	Save(ctx context.Context, a *Adjustment) error
	FindByTransaction(ctx context.Context, transactionID string) ([]*Adjustment, error)
	FindByContainer(ctx context.Context, containerID string) ([]*Adjustment, error)
}
