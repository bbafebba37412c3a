package fact

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/fintrack/internal/container"
)

// TxnType classifies a user-described financial event.
type TxnType string

const (
	TxnExpense          TxnType = "EXPENSE"
	TxnIncome           TxnType = "INCOME"
	TxnAssetBuy         TxnType = "ASSET_BUY"
	TxnAssetSell        TxnType = "ASSET_SELL"
	TxnTransfer         TxnType = "TRANSFER"
	TxnLiabilityPayment TxnType = "LIABILITY_PAYMENT"
)

// Transaction is one persisted fact record. It is created at MINIMAL or
// higher completeness and refined in place across conversational turns.
// FinanciallyApplied transitions false to true exactly once and is the sole
// guard against double-application of the monetary effect.
type Transaction struct {
	ID                 string           `json:"id"`
	Owner              container.Owner  `json:"owner"`
	Type               TxnType          `json:"type"`
	Amount             decimal.Decimal  `json:"amount"`
	Quantity           *decimal.Decimal `json:"quantity,omitempty"`
	Unit               string           `json:"unit,omitempty"`
	Category           string           `json:"category"`
	Subcategory        string           `json:"subcategory,omitempty"`
	Merchant           string           `json:"merchant,omitempty"`
	Tags               []string         `json:"tags,omitempty"`
	OccurredAt         time.Time        `json:"occurred_at"`
	RawText            string           `json:"raw_text,omitempty"`
	SourceContainerID  *string          `json:"source_container_id,omitempty"`
	TargetContainerID  *string          `json:"target_container_id,omitempty"`
	Completeness       Completeness     `json:"completeness"`
	FinanciallyApplied bool             `json:"financially_applied"`
	NeedsEnrichment    bool             `json:"needs_enrichment"`
	Details            map[string]any   `json:"details,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// NewTransaction materializes a transaction from a partial fact that has at
// least MINIMAL completeness.
func NewTransaction(owner container.Owner, f *PartialFact, level Completeness) *Transaction {
	now := time.Now().UTC()
	t := &Transaction{
		ID:           uuid.NewString(),
		Owner:        owner,
		Type:         f.Type,
		Amount:       *f.Amount,
		Category:     *f.Category,
		OccurredAt:   *f.OccurredAt,
		RawText:      f.RawText,
		Completeness: level,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	t.ApplyPartial(f)
	return t
}

// ApplyPartial copies the optional enrichment fields of f onto t. Required
// fields (amount, category, date) are only overwritten when present in f.
func (t *Transaction) ApplyPartial(f *PartialFact) {
	if f.Amount != nil {
		t.Amount = *f.Amount
	}
	if f.Category != nil {
		t.Category = *f.Category
	}
	if f.OccurredAt != nil {
		t.OccurredAt = *f.OccurredAt
	}
	if f.Quantity != nil {
		q := *f.Quantity
		t.Quantity = &q
	}
	if f.Unit != nil {
		t.Unit = *f.Unit
	}
	if f.Subcategory != nil {
		t.Subcategory = *f.Subcategory
	}
	if f.Merchant != nil {
		t.Merchant = *f.Merchant
	}
	if len(f.Tags) > 0 {
		t.Tags = append([]string(nil), f.Tags...)
	}
	for k, v := range f.Details {
		if t.Details == nil {
			t.Details = make(map[string]any)
		}
		t.Details[k] = v
	}
	t.UpdatedAt = time.Now().UTC()
}

// Repository is the persistence boundary for transactions.
type Repository interface {
	FindByID(ctx context.Context, id string) (*Transaction, error)
	Save(ctx context.Context, t *Transaction) error
}
