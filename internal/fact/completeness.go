package fact

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/example/fintrack/internal/container"
)

// Completeness is the ordered tier of how much of a transaction's required
// data is known. MINIMAL is history-safe; OPERATIONAL names a container
// type; FINANCIAL resolves it to one concrete instance.
type Completeness string

const (
	CompletenessMinimal     Completeness = "MINIMAL"
	CompletenessOperational Completeness = "OPERATIONAL"
	CompletenessFinancial   Completeness = "FINANCIAL"
)

var completenessRank = map[Completeness]int{
	CompletenessMinimal:     1,
	CompletenessOperational: 2,
	CompletenessFinancial:   3,
}

// AtLeast reports whether c is at or above the given tier.
func (c Completeness) AtLeast(other Completeness) bool {
	return completenessRank[c] >= completenessRank[other]
}

// ValidationError means a fact fails even the MINIMAL tier. The user must
// restate the whole event; there is no single field worth following up on.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("fact is below minimal completeness, missing: %s", strings.Join(e.Missing, ", "))
}

// Evaluator classifies a partial fact into a completeness tier. The same
// fact always yields the same tier; re-evaluation after a follow-up merge
// is idempotent.
type Evaluator struct {
	resolver *container.Resolver
}

// NewEvaluator creates an evaluator using the given resolver for the
// FINANCIAL tier check.
func NewEvaluator(resolver *container.Resolver) *Evaluator {
	return &Evaluator{resolver: resolver}
}

// Evaluate returns the completeness tier of f for the owner, along with the
// resolved source container when the FINANCIAL tier is reached. A fact
// below MINIMAL yields a ValidationError. Failure to resolve a named type
// is not an error here: the fact simply stays OPERATIONAL.
func (e *Evaluator) Evaluate(ctx context.Context, owner container.Owner, f *PartialFact) (Completeness, *container.Container, error) {
	if f == nil {
		return "", nil, &ValidationError{Missing: []string{"amount", "category", "date"}}
	}

	var missing []string
	if f.Amount == nil {
		missing = append(missing, "amount")
	}
	if f.Category == nil || *f.Category == "" {
		missing = append(missing, "category")
	}
	if f.OccurredAt == nil {
		missing = append(missing, "date")
	}
	if len(missing) > 0 {
		return "", nil, &ValidationError{Missing: missing}
	}

	if f.ContainerType == nil || *f.ContainerType == "" {
		return CompletenessMinimal, nil, nil
	}

	resolved, err := e.resolver.ResolveType(ctx, owner, *f.ContainerType)
	if err != nil {
		var resErr *container.ResolutionError
		if errors.As(err, &resErr) {
			return CompletenessOperational, nil, nil
		}
		return "", nil, err
	}
	return CompletenessFinancial, resolved, nil
}
