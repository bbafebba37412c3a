package completion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/fintrack/internal/container"
	"github.com/example/fintrack/internal/fact"
	"github.com/example/fintrack/internal/mutation"
)

// Handler is the transaction-completion state machine. A flow moves through
// NEW -> AWAITING_FIELD -> COMPLETE; the same persisted transaction is
// refined across turns and its monetary effect is applied exactly once.
type Handler struct {
	evaluator    *fact.Evaluator
	resolver     *container.Resolver
	mutations    *mutation.Service
	containers   container.Repository
	transactions fact.Repository
	audits       mutation.AuditRepository
	sessions     SessionStore

	// Serializes follow-up answers per session so two in-flight answers
	// cannot race on the partial-fact merge.
	locks sync.Map
}

// NewHandler wires a completion handler.
func NewHandler(
	evaluator *fact.Evaluator,
	resolver *container.Resolver,
	mutations *mutation.Service,
	containers container.Repository,
	transactions fact.Repository,
	audits mutation.AuditRepository,
	sessions SessionStore,
) *Handler {
	return &Handler{
		evaluator:    evaluator,
		resolver:     resolver,
		mutations:    mutations,
		containers:   containers,
		transactions: transactions,
		audits:       audits,
		sessions:     sessions,
	}
}

// Handle processes a freshly extracted fact for a session. Any previous
// unfinished flow in the session is abandoned.
func (h *Handler) Handle(ctx context.Context, owner container.Owner, sessionID string, f *fact.PartialFact) (Result, error) {
	unlock := h.lockSession(sessionID)
	defer unlock()

	sess := &Context{SessionID: sessionID}
	return h.process(ctx, owner, sess, f)
}

// Resume merges a follow-up answer into the session's partial fact and
// re-enters the completion logic against the already persisted transaction.
// It never creates a second transaction for the same flow.
func (h *Handler) Resume(ctx context.Context, owner container.Owner, sessionID string, refinement *fact.PartialFact) (Result, error) {
	unlock := h.lockSession(sessionID)
	defer unlock()

	sess, err := h.sessions.Get(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load session: %w", err)
	}
	if !sess.Awaiting() {
		return Info("There is nothing I am waiting on. Tell me about a new transaction."), nil
	}

	merged := fact.Merge(sess.Partial, refinement)
	sess.Partial = merged
	return h.process(ctx, owner, sess, merged)
}

// SessionState returns the conversation context for a session.
func (h *Handler) SessionState(ctx context.Context, sessionID string) (*Context, error) {
	return h.sessions.Get(ctx, sessionID)
}

// Abandon drops any in-progress flow for the session. The persisted
// transaction, if any, stays at the completeness it reached.
func (h *Handler) Abandon(ctx context.Context, sessionID string) error {
	return h.sessions.Clear(ctx, sessionID)
}

func (h *Handler) lockSession(sessionID string) func() {
	v, _ := h.locks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// process runs the NEW-state transition logic for a fact, whether it came
// from a first utterance or a follow-up merge.
func (h *Handler) process(ctx context.Context, owner container.Owner, sess *Context, f *fact.PartialFact) (Result, error) {
	level, resolved, err := h.evaluator.Evaluate(ctx, owner, f)
	if err != nil {
		var vErr *fact.ValidationError
		if errors.As(err, &vErr) {
			if sess.TransactionID == "" {
				_ = h.sessions.Clear(ctx, sess.SessionID)
			}
			return Invalid(vErr.Error()), nil
		}
		return Result{}, err
	}

	txn, err := h.loadOrCreate(ctx, owner, sess, f, level)
	if err != nil {
		return Result{}, err
	}
	txn.Completeness = level

	switch level {
	case fact.CompletenessMinimal:
		// History-safe but not yet attributable to a container.
		txn.SourceContainerID = nil
		txn.NeedsEnrichment = true
		if err := h.transactions.Save(ctx, txn); err != nil {
			return Result{}, fmt.Errorf("failed to save transaction: %w", err)
		}
		if field, question, missing := NextMissingField(f); missing {
			sess.AwaitingField = field
			sess.Partial = f
			sess.TransactionID = txn.ID
			if err := h.sessions.Put(ctx, sess); err != nil {
				return Result{}, fmt.Errorf("failed to save session: %w", err)
			}
			return Followup(question, field, f), nil
		}
		if err := h.sessions.Clear(ctx, sess.SessionID); err != nil {
			return Result{}, err
		}
		return SavedTransaction(txn), nil

	case fact.CompletenessOperational:
		// The named type did not resolve to a single container. Financial
		// application is deferred, not blocking.
		txn.NeedsEnrichment = true
		if err := h.transactions.Save(ctx, txn); err != nil {
			return Result{}, fmt.Errorf("failed to save transaction: %w", err)
		}
		if err := h.sessions.Clear(ctx, sess.SessionID); err != nil {
			return Result{}, err
		}
		return SavedTransaction(txn), nil

	default: // FINANCIAL
		txn.SourceContainerID = &resolved.ID
		if err := h.transactions.Save(ctx, txn); err != nil {
			return Result{}, fmt.Errorf("failed to save transaction: %w", err)
		}
		if !txn.FinanciallyApplied {
			applied, userErr, err := h.applyFinancialEffect(ctx, owner, txn, f, resolved)
			if err != nil {
				txn.NeedsEnrichment = true
				_ = h.transactions.Save(ctx, txn)
				return Result{}, err
			}
			if userErr != nil {
				txn.NeedsEnrichment = true
				_ = h.transactions.Save(ctx, txn)
				_ = h.sessions.Clear(ctx, sess.SessionID)
				return Invalid(userErr.Error()), nil
			}
			if applied {
				txn.FinanciallyApplied = true
				txn.NeedsEnrichment = false
			} else {
				txn.NeedsEnrichment = true
			}
			if err := h.transactions.Save(ctx, txn); err != nil {
				return Result{}, fmt.Errorf("failed to save transaction: %w", err)
			}
		}
		if err := h.sessions.Clear(ctx, sess.SessionID); err != nil {
			return Result{}, err
		}
		return SavedTransaction(txn), nil
	}
}

func (h *Handler) loadOrCreate(ctx context.Context, owner container.Owner, sess *Context, f *fact.PartialFact, level fact.Completeness) (*fact.Transaction, error) {
	if sess.TransactionID == "" {
		return fact.NewTransaction(owner, f, level), nil
	}
	txn, err := h.transactions.FindByID(ctx, sess.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction %s: %w", sess.TransactionID, err)
	}
	if txn == nil {
		return nil, fmt.Errorf("session references missing transaction %s", sess.TransactionID)
	}
	txn.ApplyPartial(f)
	return txn, nil
}

// applyFinancialEffect posts the transaction's monetary effect. The three
// return values separate a successful application, a user-facing refusal
// (insufficient quantity, unknown holding) and a system error. A transfer
// is two sequential, individually idempotent adjustments, not one atomic
// double-entry posting.
func (h *Handler) applyFinancialEffect(ctx context.Context, owner container.Owner, txn *fact.Transaction, f *fact.PartialFact, source *container.Container) (applied bool, userErr error, err error) {
	base := mutation.Command{
		Amount:        txn.Amount,
		TransactionID: txn.ID,
		OccurredAt:    txn.OccurredAt,
	}

	switch txn.Type {
	case fact.TxnIncome:
		cmd := base
		cmd.Kind = mutation.KindCredit
		cmd.Reason = mutation.ReasonIncome
		_, err = h.mutations.Apply(ctx, source, cmd)
		return err == nil, nil, err

	case fact.TxnAssetBuy:
		return h.applyAssetBuy(ctx, owner, txn, f, source, base)

	case fact.TxnAssetSell:
		return h.applyAssetSell(ctx, owner, txn, f, source, base)

	case fact.TxnTransfer, fact.TxnLiabilityPayment:
		return h.applyTransfer(ctx, owner, txn, f, source, base)

	default: // EXPENSE
		cmd := base
		cmd.Kind = mutation.KindDebit
		cmd.Reason = mutation.ReasonExpense
		_, err = h.mutations.Apply(ctx, source, cmd)
		return err == nil, nil, err
	}
}

func (h *Handler) applyAssetBuy(ctx context.Context, owner container.Owner, txn *fact.Transaction, f *fact.PartialFact, source *container.Container, base mutation.Command) (bool, error, error) {
	if f.AssetName == nil || txn.Quantity == nil {
		// Not enough to post quantities yet; keep the money record and defer.
		return false, nil, nil
	}
	unit := txn.Unit
	if unit == "" {
		unit = "units"
	}
	asset, err := h.resolver.ResolveAsset(ctx, owner, *f.AssetName, unit)
	if err != nil {
		return false, nil, err
	}
	txn.TargetContainerID = &asset.ID

	debit := base
	debit.Kind = mutation.KindDebit
	debit.Reason = mutation.ReasonAssetBuy
	if _, err := h.mutations.Apply(ctx, source, debit); err != nil {
		return false, nil, err
	}

	credit := base
	credit.Kind = mutation.KindCredit
	credit.Reason = mutation.ReasonAssetBuy
	credit.Amount = *txn.Quantity
	if _, err := h.mutations.Apply(ctx, asset, credit); err != nil {
		return false, nil, err
	}
	return true, nil, nil
}

func (h *Handler) applyAssetSell(ctx context.Context, owner container.Owner, txn *fact.Transaction, f *fact.PartialFact, source *container.Container, base mutation.Command) (bool, error, error) {
	if f.AssetName == nil || txn.Quantity == nil {
		return false, nil, nil
	}
	asset, err := h.containers.FindAssetByName(ctx, owner, *f.AssetName)
	if err != nil {
		return false, nil, err
	}
	if asset == nil {
		return false, &container.ResolutionError{
			Owner: owner, Type: container.TypeAsset, Name: *f.AssetName,
			Reason: "no such holding",
		}, nil
	}
	// The asset strategy does not self-protect; quantities must never go
	// negative, so the sell is pre-checked here.
	if asset.CurrentValue.LessThan(*txn.Quantity) {
		return false, &container.ResolutionError{
			Owner: owner, Type: container.TypeAsset, Name: *f.AssetName,
			Reason: fmt.Sprintf("insufficient quantity: have %s, want to sell %s", asset.CurrentValue, txn.Quantity),
		}, nil
	}
	txn.TargetContainerID = &asset.ID

	debit := base
	debit.Kind = mutation.KindDebit
	debit.Reason = mutation.ReasonAssetSell
	debit.Amount = *txn.Quantity
	if _, err := h.mutations.Apply(ctx, asset, debit); err != nil {
		return false, nil, err
	}

	credit := base
	credit.Kind = mutation.KindCredit
	credit.Reason = mutation.ReasonAssetSell
	if _, err := h.mutations.Apply(ctx, source, credit); err != nil {
		return false, nil, err
	}
	return true, nil, nil
}

func (h *Handler) applyTransfer(ctx context.Context, owner container.Owner, txn *fact.Transaction, f *fact.PartialFact, source *container.Container, base mutation.Command) (bool, error, error) {
	if f.TargetContainerType == nil {
		return false, nil, nil
	}
	target, err := h.resolver.ResolveType(ctx, owner, *f.TargetContainerType)
	if err != nil {
		var resErr *container.ResolutionError
		if errors.As(err, &resErr) {
			// Target not set up yet; the debit side must not be posted alone.
			return false, nil, nil
		}
		return false, nil, err
	}
	txn.TargetContainerID = &target.ID

	debit := base
	debit.Kind = mutation.KindDebit
	debit.Reason = mutation.ReasonTransferDebit
	if _, err := h.mutations.Apply(ctx, source, debit); err != nil {
		return false, nil, err
	}

	credit := base
	if target.IsLiability() {
		// Liability targets settle through the payment path, never a
		// generic credit.
		credit.Reason = mutation.ReasonLiabilityPayment
		if _, err := h.mutations.ApplySettlement(ctx, target, credit); err != nil {
			return false, nil, err
		}
	} else {
		credit.Kind = mutation.KindCredit
		credit.Reason = mutation.ReasonTransferCredit
		if _, err := h.mutations.Apply(ctx, target, credit); err != nil {
			return false, nil, err
		}
	}
	return true, nil, nil
}

// CreateContainer is the explicit setup flow for a new value container.
func (h *Handler) CreateContainer(ctx context.Context, owner container.Owner, name string, typ container.Type, unit string, capacityLimit *decimal.Decimal, opening decimal.Decimal) (Result, error) {
	c := container.New(owner, name, typ, unit)
	if capacityLimit != nil {
		limit := *capacityLimit
		c.CapacityLimit = &limit
	}
	c.CurrentValue = opening
	c.AvailableValue = opening
	if typ == container.TypeCreditCard && capacityLimit != nil {
		c.AvailableValue = capacityLimit.Sub(opening)
	}
	c.RecomputeOverLimit()
	if err := h.containers.Save(ctx, c); err != nil {
		return Result{}, fmt.Errorf("failed to save container: %w", err)
	}
	return SavedContainer(c), nil
}

// ReverseTransaction undoes an applied transaction's monetary effect by
// posting opposite-signed adjustments under a new reversal transaction.
// Applied transactions are never edited in place.
func (h *Handler) ReverseTransaction(ctx context.Context, owner container.Owner, transactionID string) (Result, error) {
	txn, err := h.transactions.FindByID(ctx, transactionID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load transaction: %w", err)
	}
	if txn == nil {
		return Invalid(fmt.Sprintf("transaction %s not found", transactionID)), nil
	}
	if !txn.FinanciallyApplied {
		return Invalid("transaction has no applied financial effect to reverse"), nil
	}
	if txn.Details != nil {
		if _, done := txn.Details["reversed_by"]; done {
			return Invalid("transaction is already reversed"), nil
		}
	}

	adjustments, err := h.audits.FindByTransaction(ctx, transactionID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load adjustments: %w", err)
	}

	now := time.Now().UTC()
	reversal := &fact.Transaction{
		ID:                 uuid.NewString(),
		Owner:              owner,
		Type:               txn.Type,
		Amount:             txn.Amount,
		Category:           txn.Category,
		OccurredAt:         now,
		SourceContainerID:  txn.SourceContainerID,
		TargetContainerID:  txn.TargetContainerID,
		Completeness:       fact.CompletenessFinancial,
		FinanciallyApplied: false,
		Details:            map[string]any{"reverses": txn.ID},
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	// Undo in reverse order of application, from the recorded commands.
	for i := len(adjustments) - 1; i >= 0; i-- {
		adj := adjustments[i]
		c, err := h.containers.FindByID(ctx, adj.ContainerID)
		if err != nil {
			return Result{}, fmt.Errorf("failed to load container %s: %w", adj.ContainerID, err)
		}
		cmd := mutation.Command{
			Amount:        adj.Amount,
			Kind:          adj.Kind,
			Reason:        mutation.ReversalReason(adj.Reason),
			TransactionID: reversal.ID,
			OccurredAt:    now,
		}
		if _, err := h.mutations.Reverse(ctx, c, cmd); err != nil {
			return Result{}, fmt.Errorf("failed to reverse adjustment %s: %w", adj.ID, err)
		}
	}

	reversal.FinanciallyApplied = true
	if err := h.transactions.Save(ctx, reversal); err != nil {
		return Result{}, fmt.Errorf("failed to save reversal transaction: %w", err)
	}
	if txn.Details == nil {
		txn.Details = make(map[string]any)
	}
	txn.Details["reversed_by"] = reversal.ID
	if err := h.transactions.Save(ctx, txn); err != nil {
		return Result{}, fmt.Errorf("failed to mark transaction reversed: %w", err)
	}
	return SavedTransaction(reversal), nil
}
