package mutation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/example/fintrack/internal/container"
)

// Strategy encapsulates the balance semantics of one family of container
// types. Apply and Reverse mutate the container in memory; persistence is
// the Service's job. Reverse is the exact algebraic inverse of Apply for
// the same command and never inspects the container's history.
type Strategy interface {
	Supports(c *container.Container) bool
	Apply(c *container.Container, cmd Command) error
	Reverse(c *container.Container, cmd Command) error
}

// Settler is implemented by liability strategies that expose the dedicated
// settlement path. Production payment flows against credit cards and loans
// must go through ApplyPayment, never a generic CREDIT.
type Settler interface {
	ApplyPayment(c *container.Container, cmd Command) error
}

// ConfigurationError means the strategy registry cannot resolve exactly one
// strategy for a container type. This is a programming or wiring defect and
// must be treated as fatal, never shown to a user as a normal failure.
type ConfigurationError struct {
	ContainerType container.Type
	Claims        int
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("strategy resolution for container type %s yielded %d claims, want exactly 1", e.ContainerType, e.Claims)
}

// Registry resolves the single strategy claiming a container, keyed at
// construction time.
type Registry struct {
	strategies []Strategy
}

// NewRegistry builds a registry over the given strategies.
func NewRegistry(strategies ...Strategy) *Registry {
	return &Registry{strategies: strategies}
}

// DefaultRegistry wires the four production strategies.
func DefaultRegistry() *Registry {
	return NewRegistry(
		&CashStrategy{},
		&CreditCardStrategy{},
		&LoanStrategy{},
		&AssetStrategy{},
	)
}

// Resolve returns the one strategy that supports c. Zero or multiple claims
// yield a ConfigurationError.
func (r *Registry) Resolve(c *container.Container) (Strategy, error) {
	var match Strategy
	claims := 0
	for _, s := range r.strategies {
		if s.Supports(c) {
			match = s
			claims++
		}
	}
	if claims != 1 {
		return nil, &ConfigurationError{ContainerType: c.Type, Claims: claims}
	}
	return match, nil
}

// CashStrategy covers simple money containers: cash, bank accounts,
// wallets and receivables. Debits subtract, credits add, and available
// always mirrors current.
type CashStrategy struct{}

func (s *CashStrategy) Supports(c *container.Container) bool {
	switch c.Type {
	case container.TypeCash, container.TypeBank, container.TypeWallet, container.TypeReceivable:
		return true
	}
	return false
}

func (s *CashStrategy) Apply(c *container.Container, cmd Command) error {
	switch cmd.Kind {
	case KindDebit:
		c.CurrentValue = c.CurrentValue.Sub(cmd.Amount)
	case KindCredit, KindPayment:
		c.CurrentValue = c.CurrentValue.Add(cmd.Amount)
	default:
		return fmt.Errorf("unsupported adjustment kind %s for %s container", cmd.Kind, c.Type)
	}
	c.AvailableValue = c.CurrentValue
	return nil
}

func (s *CashStrategy) Reverse(c *container.Container, cmd Command) error {
	inverse := cmd
	inverse.Kind = invertKind(cmd.Kind)
	return s.Apply(c, inverse)
}

// CreditCardStrategy treats CurrentValue as outstanding owed. A purchase
// (DEBIT) grows the outstanding; a credit or payment shrinks it, floored at
// zero. Over-limit fields are recomputed after every mutation.
type CreditCardStrategy struct{}

func (s *CreditCardStrategy) Supports(c *container.Container) bool {
	return c.Type == container.TypeCreditCard
}

func (s *CreditCardStrategy) Apply(c *container.Container, cmd Command) error {
	switch cmd.Kind {
	case KindDebit:
		c.CurrentValue = c.CurrentValue.Add(cmd.Amount)
	case KindCredit, KindPayment:
		c.CurrentValue = floorZero(c.CurrentValue.Sub(cmd.Amount))
	default:
		return fmt.Errorf("unsupported adjustment kind %s for credit card", cmd.Kind)
	}
	s.refresh(c)
	return nil
}

// ApplyPayment is the settlement path for card payments.
func (s *CreditCardStrategy) ApplyPayment(c *container.Container, cmd Command) error {
	settle := cmd
	settle.Kind = KindPayment
	return s.Apply(c, settle)
}

func (s *CreditCardStrategy) Reverse(c *container.Container, cmd Command) error {
	inverse := cmd
	inverse.Kind = invertKind(cmd.Kind)
	return s.Apply(c, inverse)
}

func (s *CreditCardStrategy) refresh(c *container.Container) {
	if c.CapacityLimit != nil {
		c.AvailableValue = floorZero(c.CapacityLimit.Sub(c.CurrentValue))
	} else {
		c.AvailableValue = decimal.Zero
	}
	c.RecomputeOverLimit()
}

// LoanStrategy shares the outstanding-reduction semantics of a credit card
// but has no capacity-driven over-limit computation. The dedicated
// ApplyPayment settlement entry point exists because loan payments must
// never be posted as a generic CREDIT in production flows; the generic
// path stays supported for symmetry.
type LoanStrategy struct{}

func (s *LoanStrategy) Supports(c *container.Container) bool {
	return c.Type == container.TypeLoan
}

func (s *LoanStrategy) Apply(c *container.Container, cmd Command) error {
	switch cmd.Kind {
	case KindDebit:
		c.CurrentValue = c.CurrentValue.Add(cmd.Amount)
	case KindCredit, KindPayment:
		c.CurrentValue = floorZero(c.CurrentValue.Sub(cmd.Amount))
	default:
		return fmt.Errorf("unsupported adjustment kind %s for loan", cmd.Kind)
	}
	c.AvailableValue = c.CurrentValue
	return nil
}

// ApplyPayment is the settlement path for loan repayments and EMIs.
func (s *LoanStrategy) ApplyPayment(c *container.Container, cmd Command) error {
	settle := cmd
	settle.Kind = KindPayment
	return s.Apply(c, settle)
}

func (s *LoanStrategy) Reverse(c *container.Container, cmd Command) error {
	inverse := cmd
	inverse.Kind = invertKind(cmd.Kind)
	return s.Apply(c, inverse)
}

// AssetStrategy interprets CurrentValue as an owned quantity. A CREDIT is a
// buy, a DEBIT is a sell. The strategy does not guard against negative
// quantities; the completion handler pre-checks sufficient quantity before
// a sell ever reaches here.
type AssetStrategy struct{}

func (s *AssetStrategy) Supports(c *container.Container) bool {
	return c.Type == container.TypeAsset || c.Type == container.TypeInventory
}

func (s *AssetStrategy) Apply(c *container.Container, cmd Command) error {
	switch cmd.Kind {
	case KindCredit:
		c.CurrentValue = c.CurrentValue.Add(cmd.Amount)
	case KindDebit:
		c.CurrentValue = c.CurrentValue.Sub(cmd.Amount)
	default:
		return fmt.Errorf("unsupported adjustment kind %s for asset holding", cmd.Kind)
	}
	c.AvailableValue = c.CurrentValue
	return nil
}

func (s *AssetStrategy) Reverse(c *container.Container, cmd Command) error {
	inverse := cmd
	inverse.Kind = invertKind(cmd.Kind)
	return s.Apply(c, inverse)
}

func invertKind(k Kind) Kind {
	switch k {
	case KindDebit:
		return KindCredit
	case KindCredit, KindPayment:
		return KindDebit
	}
	return k
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
