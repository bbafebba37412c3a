package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fintrack/internal/container"
	"github.com/example/fintrack/internal/fact"
	"github.com/example/fintrack/internal/mutation"
)

func TestContainerRepoRoundTrip(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	owner := container.Owner{Type: "USER", ID: "u1"}

	c := container.New(owner, "Cash", container.TypeCash, "")
	c.CurrentValue = decimal.NewFromInt(100)
	require.NoError(t, s.Containers().Save(ctx, c))

	got, err := s.Containers().FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "100", got.CurrentValue.String())

	_, err = s.Containers().FindByID(ctx, "missing")
	var notFound *container.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestContainerRepoReturnsClones(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	owner := container.Owner{Type: "USER", ID: "u1"}

	c := container.New(owner, "Cash", container.TypeCash, "")
	require.NoError(t, s.Containers().Save(ctx, c))

	got, err := s.Containers().FindByID(ctx, c.ID)
	require.NoError(t, err)
	got.CurrentValue = decimal.NewFromInt(9999)

	again, err := s.Containers().FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, again.CurrentValue.IsZero(), "mutating a returned container must not touch stored state")
}

func TestFindActiveByOwnerFiltersClosed(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	owner := container.Owner{Type: "USER", ID: "u1"}
	other := container.Owner{Type: "USER", ID: "u2"}

	open := container.New(owner, "Cash", container.TypeCash, "")
	closed := container.New(owner, "Old", container.TypeBank, "")
	closed.Close()
	foreign := container.New(other, "Cash", container.TypeCash, "")
	for _, c := range []*container.Container{open, closed, foreign} {
		require.NoError(t, s.Containers().Save(ctx, c))
	}

	got, err := s.Containers().FindActiveByOwner(ctx, owner)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, open.ID, got[0].ID)
}

func TestFindAssetByNameIsCaseInsensitive(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	owner := container.Owner{Type: "USER", ID: "u1"}

	gold := container.New(owner, "Gold", container.TypeAsset, "gram")
	require.NoError(t, s.Containers().Save(ctx, gold))

	got, err := s.Containers().FindAssetByName(ctx, owner, "gold")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, gold.ID, got.ID)

	none, err := s.Containers().FindAssetByName(ctx, owner, "silver")
	require.NoError(t, err)
	assert.Nil(t, none, "a missing holding is nil, not an error")
}

func TestTransactionRepoMissingIsNil(t *testing.T) {
	s := NewStore()

	got, err := s.Transactions().FindByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInTxRollsBackAllRepositories(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	owner := container.Owner{Type: "USER", ID: "u1"}

	c := container.New(owner, "Cash", container.TypeCash, "")
	c.CurrentValue = decimal.NewFromInt(100)
	require.NoError(t, s.Containers().Save(ctx, c))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(txCtx context.Context) error {
		adj := mutation.NewAdjustment(c.ID, mutation.Command{
			Amount:        decimal.NewFromInt(40),
			Kind:          mutation.KindDebit,
			Reason:        mutation.ReasonExpense,
			TransactionID: "t1",
			OccurredAt:    time.Now().UTC(),
		})
		if err := s.Adjustments().Save(txCtx, adj); err != nil {
			return err
		}
		c.CurrentValue = decimal.NewFromInt(60)
		if err := s.Containers().Save(txCtx, c); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Containers().FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "100", got.CurrentValue.String(), "failed unit of work leaves no balance change")

	adjustments, err := s.Adjustments().FindByTransaction(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, adjustments, "failed unit of work leaves no orphaned audit entry")
}

func TestInTxCommitKeepsWrites(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	txn := &fact.Transaction{ID: "t1", Amount: decimal.NewFromInt(40), Category: "food"}
	err := s.InTx(ctx, func(txCtx context.Context) error {
		return s.Transactions().Save(txCtx, txn)
	})
	require.NoError(t, err)

	got, err := s.Transactions().FindByID(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "food", got.Category)
}
