package fact

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fintrack/internal/container"
)

type stubContainerRepo struct {
	byType map[container.Type][]*container.Container
}

func (r *stubContainerRepo) FindByID(ctx context.Context, id string) (*container.Container, error) {
	return nil, &container.NotFoundError{ID: id}
}

func (r *stubContainerRepo) FindActiveByOwner(ctx context.Context, owner container.Owner) ([]*container.Container, error) {
	return nil, nil
}

func (r *stubContainerRepo) FindActiveByOwnerAndType(ctx context.Context, owner container.Owner, typ container.Type) ([]*container.Container, error) {
	return r.byType[typ], nil
}

func (r *stubContainerRepo) FindAssetByName(ctx context.Context, owner container.Owner, name string) (*container.Container, error) {
	return nil, nil
}

func (r *stubContainerRepo) Save(ctx context.Context, c *container.Container) error { return nil }

func newTestEvaluator(byType map[container.Type][]*container.Container) *Evaluator {
	return NewEvaluator(container.NewResolver(&stubContainerRepo{byType: byType}))
}

func minimalFact() *PartialFact {
	when := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	return &PartialFact{
		Type:       TxnExpense,
		Amount:     Dec("250"),
		Category:   Str("groceries"),
		OccurredAt: &when,
	}
}

func TestEvaluateBelowMinimal(t *testing.T) {
	e := newTestEvaluator(nil)
	owner := container.Owner{Type: "USER", ID: "u1"}

	f := minimalFact()
	f.Amount = nil
	f.Category = nil

	_, _, err := e.Evaluate(context.Background(), owner, f)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, []string{"amount", "category"}, vErr.Missing)
}

func TestEvaluateNilFact(t *testing.T) {
	e := newTestEvaluator(nil)

	_, _, err := e.Evaluate(context.Background(), container.Owner{ID: "u1"}, nil)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestEvaluateMinimal(t *testing.T) {
	e := newTestEvaluator(nil)
	owner := container.Owner{Type: "USER", ID: "u1"}

	level, resolved, err := e.Evaluate(context.Background(), owner, minimalFact())
	require.NoError(t, err)
	assert.Equal(t, CompletenessMinimal, level)
	assert.Nil(t, resolved)
}

func TestEvaluateOperationalWhenUnresolvable(t *testing.T) {
	owner := container.Owner{Type: "USER", ID: "u1"}
	two := []*container.Container{
		container.New(owner, "Savings", container.TypeBank, ""),
		container.New(owner, "Salary", container.TypeBank, ""),
	}
	e := newTestEvaluator(map[container.Type][]*container.Container{container.TypeBank: two})

	f := minimalFact()
	typ := container.TypeBank
	f.ContainerType = &typ

	level, resolved, err := e.Evaluate(context.Background(), owner, f)
	require.NoError(t, err, "ambiguous resolution is not an evaluation error")
	assert.Equal(t, CompletenessOperational, level)
	assert.Nil(t, resolved)
}

func TestEvaluateFinancial(t *testing.T) {
	owner := container.Owner{Type: "USER", ID: "u1"}
	bank := container.New(owner, "Savings", container.TypeBank, "")
	e := newTestEvaluator(map[container.Type][]*container.Container{container.TypeBank: {bank}})

	f := minimalFact()
	typ := container.TypeBank
	f.ContainerType = &typ

	level, resolved, err := e.Evaluate(context.Background(), owner, f)
	require.NoError(t, err)
	assert.Equal(t, CompletenessFinancial, level)
	require.NotNil(t, resolved)
	assert.Equal(t, bank.ID, resolved.ID)
}

func TestEvaluateIsIdempotent(t *testing.T) {
	owner := container.Owner{Type: "USER", ID: "u1"}
	bank := container.New(owner, "Savings", container.TypeBank, "")
	e := newTestEvaluator(map[container.Type][]*container.Container{container.TypeBank: {bank}})

	f := minimalFact()
	typ := container.TypeBank
	f.ContainerType = &typ

	first, _, err := e.Evaluate(context.Background(), owner, f)
	require.NoError(t, err)
	second, _, err := e.Evaluate(context.Background(), owner, f)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCompletenessOrdering(t *testing.T) {
	assert.True(t, CompletenessFinancial.AtLeast(CompletenessMinimal))
	assert.True(t, CompletenessFinancial.AtLeast(CompletenessOperational))
	assert.True(t, CompletenessOperational.AtLeast(CompletenessMinimal))
	assert.False(t, CompletenessMinimal.AtLeast(CompletenessOperational))
	assert.True(t, CompletenessMinimal.AtLeast(CompletenessMinimal))
}
