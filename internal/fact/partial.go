package fact

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/fintrack/internal/container"
)

// PartialFact is the structured output of the extraction step: a financial
// event in whatever degree of completeness the user's words allowed. Nil
// fields are unknown, not zero.
type PartialFact struct {
	Type                TxnType          `json:"type"`
	Amount              *decimal.Decimal `json:"amount,omitempty"`
	Quantity            *decimal.Decimal `json:"quantity,omitempty"`
	Unit                *string          `json:"unit,omitempty"`
	Category            *string          `json:"category,omitempty"`
	Subcategory         *string          `json:"subcategory,omitempty"`
	Merchant            *string          `json:"merchant,omitempty"`
	Tags                []string         `json:"tags,omitempty"`
	OccurredAt          *time.Time       `json:"occurred_at,omitempty"`
	ContainerType       *container.Type  `json:"container_type,omitempty"`
	ContainerName       *string          `json:"container_name,omitempty"`
	TargetContainerType *container.Type  `json:"target_container_type,omitempty"`
	AssetName           *string          `json:"asset_name,omitempty"`
	RawText             string           `json:"raw_text,omitempty"`
	Details             map[string]any   `json:"details,omitempty"`
}

// Merge combines a follow-up refinement into a base fact. Only non-nil
// fields of the refinement overwrite the base; tags are replaced wholesale
// when non-empty; detail maps are merged key by key. Neither input is
// modified.
func Merge(base, refinement *PartialFact) *PartialFact {
	if base == nil {
		base = &PartialFact{}
	}
	out := *base
	if refinement == nil {
		return &out
	}

	if refinement.Type != "" {
		out.Type = refinement.Type
	}
	if refinement.Amount != nil {
		out.Amount = refinement.Amount
	}
	if refinement.Quantity != nil {
		out.Quantity = refinement.Quantity
	}
	if refinement.Unit != nil {
		out.Unit = refinement.Unit
	}
	if refinement.Category != nil {
		out.Category = refinement.Category
	}
	if refinement.Subcategory != nil {
		out.Subcategory = refinement.Subcategory
	}
	if refinement.Merchant != nil {
		out.Merchant = refinement.Merchant
	}
	if len(refinement.Tags) > 0 {
		out.Tags = append([]string(nil), refinement.Tags...)
	}
	if refinement.OccurredAt != nil {
		out.OccurredAt = refinement.OccurredAt
	}
	if refinement.ContainerType != nil {
		out.ContainerType = refinement.ContainerType
	}
	if refinement.ContainerName != nil {
		out.ContainerName = refinement.ContainerName
	}
	if refinement.TargetContainerType != nil {
		out.TargetContainerType = refinement.TargetContainerType
	}
	if refinement.AssetName != nil {
		out.AssetName = refinement.AssetName
	}
	if refinement.RawText != "" {
		out.RawText = refinement.RawText
	}
	if len(refinement.Details) > 0 {
		merged := make(map[string]any, len(base.Details)+len(refinement.Details))
		for k, v := range base.Details {
			merged[k] = v
		}
		for k, v := range refinement.Details {
			merged[k] = v
		}
		out.Details = merged
	}
	return &out
}

// Dec is a convenience for building decimal pointers in literals and tests.
func Dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// Str returns a pointer to s.
func Str(s string) *string { return &s }
