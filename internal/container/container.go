package container

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type classifies what kind of value a container holds.
type Type string

const (
	TypeCash       Type = "CASH"
	TypeBank       Type = "BANK_ACCOUNT"
	TypeCreditCard Type = "CREDIT_CARD"
	TypeWallet     Type = "WALLET"
	TypeLoan       Type = "LOAN"
	TypeReceivable Type = "RECEIVABLE"
	TypeInventory  Type = "INVENTORY"
	TypeAsset      Type = "ASSET"
)

// ParseType maps a case-insensitive type name to a container Type.
func ParseType(s string) (Type, bool) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case TypeCash, TypeBank, TypeCreditCard, TypeWallet, TypeLoan, TypeReceivable, TypeInventory, TypeAsset:
		return t, true
	}
	return "", false
}

// Status represents the lifecycle state of a container.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusClosed    Status = "CLOSED"
	StatusSuspended Status = "SUSPENDED"
)

// Owner identifies the principal a container belongs to.
type Owner struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Container is a named, typed store of value: a bank account, cash in hand,
// a credit card, a loan, or an asset holding. CurrentValue is the
// authoritative balance. For liability types it is outstanding owed; for
// asset types it is owned quantity, not money.
type Container struct {
	ID             string           `json:"id"`
	Owner          Owner            `json:"owner"`
	Name           string           `json:"name"`
	Type           Type             `json:"type"`
	Status         Status           `json:"status"`
	CurrentValue   decimal.Decimal  `json:"current_value"`
	AvailableValue decimal.Decimal  `json:"available_value"`
	CapacityLimit  *decimal.Decimal `json:"capacity_limit,omitempty"`
	Unit           string           `json:"unit"`
	OverLimit      bool             `json:"over_limit"`
	OverLimitAmt   decimal.Decimal  `json:"over_limit_amount"`
	LastActivityAt time.Time        `json:"last_activity_at"`
	CreatedAt      time.Time        `json:"created_at"`
	Details        map[string]any   `json:"details,omitempty"`
}

// New creates an active container with a zero balance.
func New(owner Owner, name string, typ Type, unit string) *Container {
	now := time.Now().UTC()
	return &Container{
		ID:             uuid.NewString(),
		Owner:          owner,
		Name:           name,
		Type:           typ,
		Status:         StatusActive,
		CurrentValue:   decimal.Zero,
		AvailableValue: decimal.Zero,
		Unit:           unit,
		OverLimitAmt:   decimal.Zero,
		LastActivityAt: now,
		CreatedAt:      now,
	}
}

// IsLiability reports whether CurrentValue denotes outstanding owed.
func (c *Container) IsLiability() bool {
	return c.Type == TypeCreditCard || c.Type == TypeLoan
}

// IsQuantityBased reports whether CurrentValue denotes a quantity rather
// than money.
func (c *Container) IsQuantityBased() bool {
	return c.Type == TypeAsset || c.Type == TypeInventory
}

// RecomputeOverLimit refreshes the derived over-limit fields from
// CurrentValue and CapacityLimit. The flag is derived, never authoritative.
func (c *Container) RecomputeOverLimit() {
	if c.CapacityLimit == nil {
		c.OverLimit = false
		c.OverLimitAmt = decimal.Zero
		return
	}
	excess := c.CurrentValue.Sub(*c.CapacityLimit)
	if excess.IsPositive() {
		c.OverLimit = true
		c.OverLimitAmt = excess
	} else {
		c.OverLimit = false
		c.OverLimitAmt = decimal.Zero
	}
}

// Close transitions the container to CLOSED. Containers are never deleted.
func (c *Container) Close() {
	c.Status = StatusClosed
}
