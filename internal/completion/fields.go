package completion

import "github.com/example/fintrack/internal/fact"

// Field names a fact attribute the handler can ask a follow-up about.
type Field string

const (
	FieldAmount        Field = "amount"
	FieldCategory      Field = "category"
	FieldContainerType Field = "container_type"
	FieldDate          Field = "date"
)

// followupRule pairs a field with its presence check and question. The
// order of the table is the priority order: the handler always asks for the
// first missing field, never a random one. Keeping this as data rather than
// code order makes the priority testable.
type followupRule struct {
	field    Field
	missing  func(f *fact.PartialFact) bool
	question string
}

var followupRules = []followupRule{
	{
		field:    FieldAmount,
		missing:  func(f *fact.PartialFact) bool { return f.Amount == nil },
		question: "How much was it?",
	},
	{
		field:    FieldCategory,
		missing:  func(f *fact.PartialFact) bool { return f.Category == nil || *f.Category == "" },
		question: "What category does this fall under?",
	},
	{
		field:    FieldContainerType,
		missing:  func(f *fact.PartialFact) bool { return f.ContainerType == nil || *f.ContainerType == "" },
		question: "How did you pay? Cash, bank account, card, or wallet?",
	},
	{
		field:    FieldDate,
		missing:  func(f *fact.PartialFact) bool { return f.OccurredAt == nil },
		question: "When did this happen?",
	},
}

// NextMissingField returns the highest-priority missing field of f, if any.
func NextMissingField(f *fact.PartialFact) (Field, string, bool) {
	for _, rule := range followupRules {
		if rule.missing(f) {
			return rule.field, rule.question, true
		}
	}
	return "", "", false
}
