package extraction

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/fintrack/internal/container"
	"github.com/example/fintrack/internal/fact"
)

// RuleExtractor is a deterministic keyword extractor used when no API key
// is configured and throughout the tests. It understands a narrow set of
// phrasings and deliberately leaves everything it cannot parse unset.
type RuleExtractor struct {
	Now func() time.Time
}

// NewRuleExtractor creates an extractor with a real clock.
func NewRuleExtractor() *RuleExtractor {
	return &RuleExtractor{Now: time.Now}
}

var amountPattern = regexp.MustCompile(`(?:^|\s)(\d+(?:\.\d+)?)(?:\s|$)`)
var categoryPattern = regexp.MustCompile(`\bon\s+([a-zA-Z]+)`)

var containerKeywords = []struct {
	word string
	typ  container.Type
}{
	{"cash", container.TypeCash},
	{"bank", container.TypeBank},
	{"card", container.TypeCreditCard},
	{"credit", container.TypeCreditCard},
	{"wallet", container.TypeWallet},
	{"loan", container.TypeLoan},
}

// matchContainerType picks the keyword that appears earliest in the text,
// so "from bank to my wallet" reads the bank as the source.
func matchContainerType(lower string) *container.Type {
	best := -1
	var typ container.Type
	for _, kw := range containerKeywords {
		if idx := strings.Index(lower, kw.word); idx >= 0 && (best < 0 || idx < best) {
			best = idx
			typ = kw.typ
		}
	}
	if best < 0 {
		return nil
	}
	return &typ
}

func (e *RuleExtractor) Extract(ctx context.Context, text string) (*fact.PartialFact, error) {
	lower := strings.ToLower(text)
	pf := &fact.PartialFact{Type: fact.TxnExpense, RawText: text}

	switch {
	case strings.Contains(lower, "received") || strings.Contains(lower, "salary") || strings.Contains(lower, "earned"):
		pf.Type = fact.TxnIncome
	case strings.Contains(lower, "bought") || strings.Contains(lower, "buy"):
		pf.Type = fact.TxnAssetBuy
	case strings.Contains(lower, "sold") || strings.Contains(lower, "sell"):
		pf.Type = fact.TxnAssetSell
	case strings.Contains(lower, "transfer") || strings.Contains(lower, "moved"):
		pf.Type = fact.TxnTransfer
	case strings.Contains(lower, "paid off") || strings.Contains(lower, "emi"):
		pf.Type = fact.TxnLiabilityPayment
	}

	if m := amountPattern.FindStringSubmatch(lower); m != nil {
		amount := decimal.RequireFromString(m[1])
		pf.Amount = &amount
	}
	if m := categoryPattern.FindStringSubmatch(lower); m != nil {
		category := m[1]
		pf.Category = &category
	}
	pf.ContainerType = matchContainerType(lower)
	if strings.Contains(lower, "today") {
		now := e.Now().UTC()
		pf.OccurredAt = &now
	} else if strings.Contains(lower, "yesterday") {
		yesterday := e.Now().UTC().AddDate(0, 0, -1)
		pf.OccurredAt = &yesterday
	}
	return pf, nil
}

// Refine interprets the answer only for the field that was asked.
func (e *RuleExtractor) Refine(ctx context.Context, partial *fact.PartialFact, missingField, answer string) (*fact.PartialFact, error) {
	lower := strings.ToLower(strings.TrimSpace(answer))
	pf := &fact.PartialFact{}

	switch missingField {
	case "amount":
		if m := amountPattern.FindStringSubmatch(" " + lower + " "); m != nil {
			amount := decimal.RequireFromString(m[1])
			pf.Amount = &amount
		}
	case "category":
		if lower != "" {
			pf.Category = &lower
		}
	case "container_type":
		pf.ContainerType = matchContainerType(lower)
	case "date":
		if lower == "today" {
			now := e.Now().UTC()
			pf.OccurredAt = &now
		} else if lower == "yesterday" {
			yesterday := e.Now().UTC().AddDate(0, 0, -1)
			pf.OccurredAt = &yesterday
		} else if parsed, err := time.Parse("2006-01-02", lower); err == nil {
			pf.OccurredAt = &parsed
		}
	}
	return pf, nil
}
